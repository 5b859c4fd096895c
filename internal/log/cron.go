package log

import "github.com/robfig/cron/v3"

type cronLogger struct{}

// CronLogger adapts the package logger to cron.Logger. Routine scheduler
// chatter goes to DEBUG.
func CronLogger() cron.Logger {
	return cronLogger{}
}

func (cronLogger) Info(msg string, kv ...any) {
	current().Debugw("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	current().Errorw("cron: "+msg, append([]any{"err", err}, kv...)...)
}
