package delaytransfer

import (
	"math/big"

	"agchain/core/types"
)

// Entry is one receiver leg of a delayed transfer. The slice form leaves
// room for multi-receiver schedules; validation currently pins it to one.
// The memo travels with the leg so future multi-entry records keep one per
// delivery.
type Entry struct {
	Receiver     types.Address
	AssetID      types.AssetID
	Amount       *big.Int
	ReleaseTime  uint64
	Memo         string
	Executed     bool
	ExecutedTime uint64
}

// DelayTransfer is a scheduled transfer whose funds sit in the module vault
// until each entry's release time passes.
type DelayTransfer struct {
	ID           uint64
	From         types.Address
	ScheduleTime uint64
	Entries      []Entry
	Finished     bool
}

// Pending reports how many entries have not executed yet.
func (t *DelayTransfer) Pending() int {
	n := 0
	for _, e := range t.Entries {
		if !e.Executed {
			n++
		}
	}
	return n
}
