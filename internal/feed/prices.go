package feed

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	appLog "tibbercal/internal/log"
	"tibbercal/internal/model"
)

const priceInfoQuery = `{
  viewer {
    homes {
      id
      currentSubscription {
        priceInfo {
          today { total startsAt level }
          tomorrow { total startsAt level }
        }
      }
    }
  }
}`

// PriceInfo is one raw price record as returned by the API.
type PriceInfo struct {
	Total    decimal.Decimal `json:"total"`
	StartsAt string          `json:"startsAt"`
	Level    string          `json:"level"`
}

// PriceInfoResponse is the "data" payload of the priceInfo query.
type PriceInfoResponse struct {
	Viewer struct {
		Homes []Home `json:"homes"`
	} `json:"viewer"`
}

// Home is a single metered home of the account.
type Home struct {
	ID                  string `json:"id"`
	CurrentSubscription *struct {
		PriceInfo struct {
			Today    []PriceInfo `json:"today"`
			Tomorrow []PriceInfo `json:"tomorrow"`
		} `json:"priceInfo"`
	} `json:"currentSubscription"`
}

// Fetch implements Fetcher. Every failure is wrapped in *FetchError.
func (c *Client) Fetch(ctx context.Context) ([]model.PriceSample, error) {
	appLog.Info("requesting prices", "endpoint", c.endpoint)
	start := time.Now()

	var resp PriceInfoResponse
	if err := c.query(ctx, priceInfoQuery, &resp); err != nil {
		return nil, &FetchError{Op: "query", Err: err}
	}

	home, err := c.selectHome(resp.Viewer.Homes)
	if err != nil {
		return nil, &FetchError{Op: "select home", Err: err}
	}

	info := home.CurrentSubscription.PriceInfo
	raw := make([]PriceInfo, 0, len(info.Today)+len(info.Tomorrow))
	raw = append(raw, info.Today...)
	raw = append(raw, info.Tomorrow...)

	samples, err := ToSamples(raw)
	if err != nil {
		return nil, &FetchError{Op: "convert", Err: err}
	}

	appLog.Info("prices received",
		"home_id", home.ID,
		"today", len(info.Today),
		"tomorrow", len(info.Tomorrow),
		"duration", time.Since(start),
	)
	for _, s := range samples {
		appLog.Info("price sample",
			"starts_at", s.Timestamp.Format("02.01.2006 15:04"),
			"total", s.Price.StringFixed(4),
			"level", s.Level,
		)
	}
	return samples, nil
}

func (c *Client) selectHome(homes []Home) (Home, error) {
	if len(homes) == 0 {
		return Home{}, fmt.Errorf("account has no homes")
	}
	if c.homeID == "" {
		if homes[0].CurrentSubscription == nil {
			return Home{}, fmt.Errorf("home %s has no active subscription", homes[0].ID)
		}
		return homes[0], nil
	}
	for _, h := range homes {
		if h.ID != c.homeID {
			continue
		}
		if h.CurrentSubscription == nil {
			return Home{}, fmt.Errorf("home %s has no active subscription", h.ID)
		}
		return h, nil
	}
	return Home{}, fmt.Errorf("home %s not found among %d homes", c.homeID, len(homes))
}

// ToSamples converts raw records into validated samples sorted by timestamp.
// Unknown levels are rejected with *model.ValidationError.
func ToSamples(raw []PriceInfo) ([]model.PriceSample, error) {
	out := make([]model.PriceSample, 0, len(raw))
	for _, r := range raw {
		ts, err := time.Parse(time.RFC3339, r.StartsAt)
		if err != nil {
			return nil, fmt.Errorf("parse startsAt %q: %w", r.StartsAt, err)
		}
		level, err := model.ParseLevel(r.Level)
		if err != nil {
			return nil, err
		}
		out = append(out, model.PriceSample{
			Timestamp: ts,
			Price:     r.Total,
			Level:     level,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// StaticFetcher serves a fixed sample set.
type StaticFetcher struct {
	Samples []model.PriceSample
	Err     error
}

func (f *StaticFetcher) Fetch(_ context.Context) ([]model.PriceSample, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]model.PriceSample, len(f.Samples))
	copy(out, f.Samples)
	return out, nil
}
