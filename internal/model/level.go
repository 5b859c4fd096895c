package model

import "fmt"

// Level is the discrete severity classification of a price slot.
type Level string

const (
	LevelVeryCheap     Level = "VERY_CHEAP"
	LevelCheap         Level = "CHEAP"
	LevelNormal        Level = "NORMAL"
	LevelExpensive     Level = "EXPENSIVE"
	LevelVeryExpensive Level = "VERY_EXPENSIVE"
)

// NonNeutralLevels lists the levels that produce periods, in severity order.
var NonNeutralLevels = []Level{
	LevelVeryCheap,
	LevelCheap,
	LevelExpensive,
	LevelVeryExpensive,
}

// ParseLevel converts a feed level tag into a Level.
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if !l.Valid() {
		return "", &ValidationError{Field: "level", Value: s, Reason: "not a recognized price level"}
	}
	return l, nil
}

// Valid reports whether l is one of the five known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelVeryCheap, LevelCheap, LevelNormal, LevelExpensive, LevelVeryExpensive:
		return true
	}
	return false
}

// Neutral reports whether l is the background level that never opens a period.
func (l Level) Neutral() bool {
	return l == LevelNormal
}

// Cheap reports whether l is one of the two cheap severities.
func (l Level) Cheap() bool {
	return l == LevelCheap || l == LevelVeryCheap
}

func (l Level) String() string {
	return string(l)
}

// ValidationError reports a sample or period that violates the data model.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}
