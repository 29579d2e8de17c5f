package types

import "fmt"

// ScheduledSlot is one planned fulfillment of (part of) a deferrable task at
// a specific future tick. A task split across multiple ticks produces one
// slot per tick.
type ScheduledSlot struct {
	Tick      int     `json:"tick"`
	Energy    float64 `json:"energy"`
	TaskID    string  `json:"task_id"`
	Weight    float64 `json:"weight"`
	SplitPart int     `json:"split_part"`
	SplitOf   int     `json:"split_of"`
	Reason    string  `json:"reason"`
}

// TaskKey identifies a deferrable task for idempotent scheduling. Two fetches
// of the same task from the feed yield the same key.
func TaskKey(d DeferrableTask) string {
	return fmt.Sprintf("%d-%d-%.4f", d.Start, d.End, d.Demand)
}
