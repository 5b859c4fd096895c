// Package segment turns an ascending sequence of labeled price samples into
// level-exclusive price periods.
package segment

import (
	"sort"
	"time"

	"tibbercal/internal/model"
)

// Result maps every non-neutral level to its periods in ascending order.
type Result map[model.Level][]model.Period

// All flattens r into one slice ordered by level (severity order) and then by
// start time.
func (r Result) All() []model.Period {
	out := make([]model.Period, 0)
	for _, l := range model.NonNeutralLevels {
		out = append(out, r[l]...)
	}
	return out
}

// Chronological returns all periods ordered by start time only.
func (r Result) Chronological() []model.Period {
	out := r.All()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// Count returns the total number of periods across levels.
func (r Result) Count() int {
	n := 0
	for _, ps := range r {
		n += len(ps)
	}
	return n
}

// Reducer is the segmentation state machine. At most one level is open at any
// time; a zero Reducer is ready to use.
type Reducer struct {
	open      model.Level
	openStart time.Time

	last    time.Time
	started bool

	result Result
}

// Step advances the reducer by one sample.
func (r *Reducer) Step(s model.PriceSample) error {
	if !s.Level.Valid() {
		return &model.ValidationError{Field: "level", Value: string(s.Level), Reason: "not a recognized price level"}
	}
	if r.started && !s.Timestamp.After(r.last) {
		return &model.ValidationError{
			Field:  "timestamp",
			Value:  s.Timestamp.Format(time.RFC3339),
			Reason: "samples must be strictly ascending",
		}
	}
	if r.result == nil {
		r.result = emptyResult()
	}
	r.started = true
	r.last = s.Timestamp

	t := s.Timestamp
	if s.Level.Neutral() {
		r.close(t)
		return nil
	}

	if r.open != "" && r.open != s.Level {
		r.close(t)
	}
	if r.open == "" {
		r.open = s.Level
		r.openStart = t
	}
	return nil
}

// Finish closes any open period one slot past the last sample and returns
// the accumulated result. The reducer must not be reused afterwards.
func (r *Reducer) Finish() Result {
	if r.result == nil {
		r.result = emptyResult()
	}
	if r.started {
		r.close(r.last.Add(model.Slot))
	}
	return r.result
}

func (r *Reducer) close(at time.Time) {
	if r.open == "" {
		return
	}
	r.result[r.open] = append(r.result[r.open], model.Period{
		Level: r.open,
		Start: r.openStart,
		End:   at,
	})
	r.open = ""
	r.openStart = time.Time{}
}

// Segment runs a fresh Reducer over samples.
func Segment(samples []model.PriceSample) (Result, error) {
	var r Reducer
	for _, s := range samples {
		if err := r.Step(s); err != nil {
			return nil, err
		}
	}
	return r.Finish(), nil
}

func emptyResult() Result {
	res := make(Result, len(model.NonNeutralLevels))
	for _, l := range model.NonNeutralLevels {
		res[l] = []model.Period{}
	}
	return res
}
