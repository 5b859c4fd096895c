// Package summary renders the calendar payload for a price period.
package summary

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tibbercal/internal/model"
)

// Format controls how prices and titles are rendered.
type Format struct {
	Icon         string
	CheapTitle   string
	Title        string
	UnknownLabel string
	NoDataLine   string
	Marker       string

	// Scale multiplies feed prices before display (100 turns EUR into ct).
	Scale    decimal.Decimal
	Decimals int32
	Unit     string

	// Location is the zone used for description times. Nil means UTC.
	Location *time.Location
}

// DefaultFormat mirrors the feed's native EUR/kWh prices shown in cents.
func DefaultFormat() Format {
	return Format{
		Icon:         "⚡",
		CheapTitle:   "Low electricity price",
		Title:        "Electricity price",
		UnknownLabel: "unknown",
		NoDataLine:   "No price data available",
		Marker:       "#Tibber",
		Scale:        decimal.NewFromInt(100),
		Decimals:     1,
		Unit:         "ct",
		Location:     time.UTC,
	}
}

// Summary is the display payload of one period.
type Summary struct {
	Period      model.Period
	TitlePrefix string
	PriceRange  string
	Title       string
	Description string
	// Matched is the number of samples inside the period.
	Matched int
}

// Event converts s into an insertion payload.
func (s Summary) Event(timeZone string) model.NewEvent {
	return model.NewEvent{
		Summary:     s.Title,
		Description: s.Description,
		Start:       s.Period.Start,
		End:         s.Period.End,
		TimeZone:    timeZone,
	}
}

// Summarizer builds summaries with a fixed Format.
type Summarizer struct {
	f Format
}

// New returns a Summarizer. Zero-valued text fields and Scale fall back to
// DefaultFormat; Unit and Decimals are used as given.
func New(f Format) *Summarizer {
	def := DefaultFormat()
	if f.Icon == "" {
		f.Icon = def.Icon
	}
	if f.CheapTitle == "" {
		f.CheapTitle = def.CheapTitle
	}
	if f.Title == "" {
		f.Title = def.Title
	}
	if f.UnknownLabel == "" {
		f.UnknownLabel = def.UnknownLabel
	}
	if f.NoDataLine == "" {
		f.NoDataLine = def.NoDataLine
	}
	if f.Marker == "" {
		f.Marker = def.Marker
	}
	if f.Scale.IsZero() {
		f.Scale = def.Scale
	}
	if f.Decimals < 0 {
		f.Decimals = 0
	}
	if f.Location == nil {
		f.Location = def.Location
	}
	return &Summarizer{f: f}
}

// Summarize renders p using the samples of the fetched sequence that fall
// inside [p.Start, p.End).
func (z *Summarizer) Summarize(p model.Period, samples []model.PriceSample) Summary {
	out := Summary{Period: p}

	var (
		lines  []string
		lo, hi decimal.Decimal
	)
	for _, s := range samples {
		if !p.Contains(s.Timestamp) {
			continue
		}
		price := z.scale(s.Price)
		if out.Matched == 0 || price.LessThan(lo) {
			lo = price
		}
		if out.Matched == 0 || price.GreaterThan(hi) {
			hi = price
		}
		out.Matched++
		lines = append(lines, s.Timestamp.In(z.f.Location).Format("15:04")+": "+z.format(price))
	}

	if out.Matched == 0 {
		out.PriceRange = z.f.UnknownLabel
		out.TitlePrefix = z.f.Title
		out.Description = z.f.NoDataLine
	} else {
		if lo.Equal(hi) {
			out.PriceRange = z.format(lo)
		} else {
			out.PriceRange = z.format(lo) + " - " + z.format(hi)
		}
		out.TitlePrefix = z.f.Title
		if p.Level.Cheap() {
			out.TitlePrefix = z.f.CheapTitle
		}
		out.Description = strings.Join(lines, "\n")
	}

	out.Title = fmt.Sprintf("%s %s: %s [%s] %s", z.f.Icon, out.TitlePrefix, out.PriceRange, p.Level, z.f.Marker)
	return out
}

func (z *Summarizer) scale(d decimal.Decimal) decimal.Decimal {
	return d.Mul(z.f.Scale).Round(z.f.Decimals)
}

func (z *Summarizer) format(d decimal.Decimal) string {
	return d.StringFixed(z.f.Decimals) + z.f.Unit
}

// Marker returns the ownership tag appended to every title.
func (z *Summarizer) Marker() string {
	return z.f.Marker
}

// Location returns the zone used for description times.
func (z *Summarizer) Location() *time.Location {
	return z.f.Location
}
