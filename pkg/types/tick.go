package types

import (
	"encoding/json"
	"fmt"
	"math"
)

// Tick is one observation from the grid feed: prices, immediate demand and
// solar intensity for a single discrete time step. Ticks are immutable once
// ingested and ordered by ID.
type Tick struct {
	ID        int     `json:"tick"`
	Demand    float64 `json:"demand"`
	BuyPrice  float64 `json:"buy_price"`
	SellPrice float64 `json:"sell_price"`
	Sun       int     `json:"sun"`
}

// Validate checks that the tick is well-formed. A malformed tick is a feed
// problem and is rejected at ingestion, never deep inside the decision path.
func (t Tick) Validate() error {
	if t.ID < 0 {
		return fmt.Errorf("tick id must be >= 0, got %d", t.ID)
	}
	for name, v := range map[string]float64{
		"demand":     t.Demand,
		"buy_price":  t.BuyPrice,
		"sell_price": t.SellPrice,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("tick %d: %s is not a finite number", t.ID, name)
		}
		if v < 0 {
			return fmt.Errorf("tick %d: %s must be >= 0, got %f", t.ID, name, v)
		}
	}
	if t.Sun < 0 || t.Sun > 100 {
		return fmt.Errorf("tick %d: sun must be in [0,100], got %d", t.ID, t.Sun)
	}
	return nil
}

// DeferrableTask is an energy demand that may be satisfied at any tick within
// its [Start, End] window (inclusive) instead of immediately.
type DeferrableTask struct {
	Start  int     `json:"start"`
	End    int     `json:"end"`
	Demand float64 `json:"demand"`
}

// Validate checks the window ordering and the demand amount.
func (d DeferrableTask) Validate() error {
	if d.Start > d.End {
		return fmt.Errorf("deferrable window inverted: start %d > end %d", d.Start, d.End)
	}
	if math.IsNaN(d.Demand) || math.IsInf(d.Demand, 0) || d.Demand < 0 {
		return fmt.Errorf("deferrable demand must be a finite number >= 0, got %f", d.Demand)
	}
	return nil
}

// UnmarshalJSON normalizes the alternate field names some feed variants use
// for the demand amount ("energy", "amount", "value") so the rest of the
// system only ever sees Demand.
func (d *DeferrableTask) UnmarshalJSON(data []byte) error {
	var raw struct {
		Start  int      `json:"start"`
		End    int      `json:"end"`
		Demand *float64 `json:"demand"`
		Energy *float64 `json:"energy"`
		Amount *float64 `json:"amount"`
		Value  *float64 `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Start = raw.Start
	d.End = raw.End
	switch {
	case raw.Demand != nil:
		d.Demand = *raw.Demand
	case raw.Energy != nil:
		d.Demand = *raw.Energy
	case raw.Amount != nil:
		d.Demand = *raw.Amount
	case raw.Value != nil:
		d.Demand = *raw.Value
	default:
		return fmt.Errorf("deferrable task missing demand field (tried demand/energy/amount/value)")
	}
	return nil
}
