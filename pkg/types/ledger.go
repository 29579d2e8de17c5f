package types

import (
	"fmt"
	"time"
)

// Action is the kind of energy movement a ledger entry records. Every verb is
// distinguishable so a reader of the ledger can reconstruct exactly what the
// controller did each tick.
type Action string

const (
	ActionSolarCharge       Action = "solar_charge"
	ActionBoughtForStorage  Action = "bought_for_storage"
	ActionSoldFromStorage   Action = "sold_from_storage"
	ActionDischargedDemand  Action = "discharged_to_meet_demand"
	ActionBoughtFromGrid    Action = "bought_from_grid"
	ActionDeferredScheduled Action = "deferable_scheduled"
)

// LedgerEntry records one energy movement within a tick. Amount is in joules;
// Cost is positive for money spent, negative for revenue. Priced movements
// carry the unit price they cleared at.
type LedgerEntry struct {
	Tick   int     `json:"tick"`
	Action Action  `json:"action"`
	Amount float64 `json:"amount"`
	Price  float64 `json:"price,omitempty"`
	Cost   float64 `json:"cost"`
	Note   string  `json:"note,omitempty"`

	Time time.Time `json:"time"`
}

// String renders the entry in the "<verb>: <amount>J @ <price>" form, or
// without the price for unpriced movements like solar charging.
func (e LedgerEntry) String() string {
	if e.Price != 0 {
		return fmt.Sprintf("%s: %.2fJ @ %.2f", e.Action, e.Amount, e.Price)
	}
	return fmt.Sprintf("%s: %.2fJ", e.Action, e.Amount)
}

// StorageState describes what happened to the store over a tick.
type StorageState string

const (
	StorageCharged    StorageState = "charged"
	StorageDischarged StorageState = "discharged"
	StorageNoChange   StorageState = "no_change"
)

// TickRecord is the per-tick audit row: one is appended for every processed
// tick, even when nothing transacts. Profit is the running total (earned
// minus spent) as of this tick.
type TickRecord struct {
	Tick         int          `json:"tick"`
	StorageLevel float64      `json:"storage_level"`
	Target       float64      `json:"target"`
	Profit       float64      `json:"profit"`
	StorageState StorageState `json:"storage_state"`
	Actions      []string     `json:"actions,omitempty"`

	Time time.Time `json:"time"`
}

// TickResult is everything the controller decided and did for one tick.
type TickResult struct {
	Tick         Tick            `json:"tick"`
	Entries      []LedgerEntry   `json:"entries"`
	StorageLevel float64         `json:"storage_level"`
	StorageState StorageState    `json:"storage_state"`
	Target       float64         `json:"target"`
	Record       TickRecord      `json:"record"`
	NewSlots     []ScheduledSlot `json:"new_slots,omitempty"`
}

// Summary aggregates the run so far for reporting.
type Summary struct {
	Ticks         int     `json:"ticks"`
	TotalSpent    float64 `json:"total_spent"`
	TotalEarned   float64 `json:"total_earned"`
	NetCost       float64 `json:"net_cost"`
	EnergyBought  float64 `json:"energy_bought"`
	EnergySold    float64 `json:"energy_sold"`
	SolarCaptured float64 `json:"solar_captured"`
	DemandServed  float64 `json:"demand_served"`
	DeferredLoad  float64 `json:"deferred_load"`
	StorageLevel  float64 `json:"storage_level"`
	PeakStorage   float64 `json:"peak_storage"`

	Updated time.Time `json:"updated"`
}

// Add folds a tick's entries into the summary.
func (s *Summary) Add(res TickResult) {
	s.Ticks++
	s.StorageLevel = res.StorageLevel
	if res.StorageLevel > s.PeakStorage {
		s.PeakStorage = res.StorageLevel
	}
	for _, e := range res.Entries {
		if e.Cost > 0 {
			s.TotalSpent += e.Cost
		} else {
			s.TotalEarned += -e.Cost
		}
		switch e.Action {
		case ActionBoughtForStorage, ActionBoughtFromGrid:
			s.EnergyBought += e.Amount
		case ActionDeferredScheduled:
			s.DeferredLoad += e.Amount
		case ActionSoldFromStorage:
			s.EnergySold += e.Amount
		case ActionSolarCharge:
			s.SolarCaptured += e.Amount
		case ActionDischargedDemand:
			s.DemandServed += e.Amount
		}
	}
	s.NetCost = s.TotalSpent - s.TotalEarned
	s.Updated = time.Now()
}
