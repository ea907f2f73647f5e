package delaytransfer

import "fmt"

// PerBlockBudget bounds how many transfers one block visit may touch.
const PerBlockBudget = 30

// Cursor is the resumable sweep position, 1-based.
type Cursor struct {
	Next uint64
}

// SweepReport summarizes one per-block maturation pass.
type SweepReport struct {
	Visited  int
	Executed int
	Finished int
}

// RunSweep walks at most budget transfers from the cursor and releases every
// entry whose time has come. Visits count against the budget whether or not
// anything releases, and the cursor never wraps within one call.
//
// Any failure here means the vault or the pending-balance ledger is out of
// step with the transfer records, so errors propagate and fail the block.
func (e *Engine) RunSweep(cur *Cursor, budget int, now uint64) (SweepReport, error) {
	var report SweepReport
	if e == nil || e.state == nil {
		return report, ErrInvalidState
	}
	count, err := e.state.DelayTransferCount()
	if err != nil {
		return report, err
	}
	if count == 0 {
		cur.Next = 1
		return report, nil
	}
	if cur.Next == 0 || cur.Next > count {
		cur.Next = 1
	}
	remaining := count - cur.Next + 1
	steps := uint64(budget)
	if remaining < steps {
		steps = remaining
	}

	for i := uint64(0); i < steps; i++ {
		id := cur.Next
		cur.Next++
		if cur.Next > count {
			cur.Next = 1
		}
		report.Visited++

		t, ok, err := e.state.DelayTransferGet(id)
		if err != nil {
			return report, err
		}
		if !ok || t.Finished {
			continue
		}

		changed := false
		for j := range t.Entries {
			entry := &t.Entries[j]
			if entry.Executed || now < entry.ReleaseTime {
				continue
			}
			if err := e.transfer(VaultAddress, entry.Receiver, entry.AssetID, entry.Amount); err != nil {
				return report, fmt.Errorf("delaytransfer: release of transfer %d: %w", id, err)
			}
			if err := e.state.UnexecutedSub(entry.Receiver, entry.AssetID, entry.Amount); err != nil {
				return report, fmt.Errorf("%w: transfer %d receiver %s", ErrUnexecutedUnderflow, id, entry.Receiver)
			}
			entry.Executed = true
			entry.ExecutedTime = now
			changed = true
			report.Executed++
			e.emit(&ExecutedEvent{ID: id, Receiver: entry.Receiver, AssetID: entry.AssetID, Amount: entry.Amount})
		}
		if !changed {
			continue
		}
		if t.Pending() == 0 {
			t.Finished = true
			report.Finished++
			e.emit(&FinishedEvent{ID: id})
		}
		if err := e.state.DelayTransferPut(t); err != nil {
			return report, err
		}
	}
	return report, nil
}
