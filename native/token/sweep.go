package token

import (
	"math/big"

	"agchain/core/types"
)

// PerBlockBudget is how many campaigns one block visit may touch. A visit
// counts against the budget whether or not anything fires, so a long tail of
// closed campaigns still bounds block work.
const PerBlockBudget = 30

// Cursor is the resumable sweep position, 1-based. It is persisted by the
// block processor so restarts resume where the previous block stopped.
type Cursor struct {
	Next uint64
}

// SweepReport summarizes one per-block pass for metrics and logs.
type SweepReport struct {
	Visited       int
	Fired         int
	StagedReturns int
	Aborted       bool
	AbortedID     uint64
}

// RunSweep walks at most budget campaigns starting at the cursor, fires due
// lifecycle events and pays due staged-return installments. The cursor never
// wraps within a single call; reaching the end of the collection resets it
// to 1 for the next block. The cursor is advanced before each item is
// applied, so an aborted pass resumes at the failed item's successor.
//
// A failed lifecycle event is rolled back, logged and ends the pass without
// failing the block. A failed staged return is a ledger fault and is
// returned as an error.
func (e *Engine) RunSweep(cur *Cursor, budget int, now uint64, blockNumber uint64) (SweepReport, error) {
	var report SweepReport
	if e == nil || e.state == nil {
		return report, ErrInvalidState
	}
	count, err := e.state.CampaignCount()
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

		c, ok, err := e.state.CampaignGet(id)
		if err != nil {
			return report, err
		}
		if !ok || c.Status.Terminal() {
			continue
		}
		stats, ok, err := e.state.StatisticsGet(id)
		if err != nil {
			return report, err
		}
		if !ok {
			continue
		}

		if c.Status == StatusSettle {
			paid, err := e.payStagedReturns(c, stats, now)
			if err != nil {
				return report, err
			}
			report.StagedReturns += paid
		}

		event := selectSweepEvent(c, stats, now)
		if event == "" {
			continue
		}
		snap := e.state.Snapshot()
		op := &EventOp{Operator: SystemAddress, CampaignID: id, Event: event}
		rec, err := e.ApplyEvent(op, now, blockNumber)
		if err != nil {
			e.state.RevertToSnapshot(snap)
			e.log.Warn("token: sweep event failed, pass ended",
				"campaign", id, "event", string(event), "err", err)
			report.Aborted = true
			report.AbortedID = id
			return report, nil
		}
		if rec.Handled {
			report.Fired++
		}
	}
	return report, nil
}

// selectSweepEvent picks the lifecycle event a campaign is due for at block
// time now, or "" when nothing is due.
func selectSweepEvent(c *Campaign, stats *Statistics, now uint64) EventName {
	switch c.Status {
	case StatusCreate:
		if now >= c.Times.Phase1Begin {
			return EventPhase1Begin
		}
	case StatusPhase1Begin:
		if c.Succeed {
			return EventSettle
		}
		if now >= c.Times.Phase1End {
			return EventPhase1End
		}
	case StatusPhase1End:
		if c.Succeed {
			return EventSettle
		}
		if now >= c.Times.Phase2Begin {
			return EventPhase2Begin
		}
	case StatusPhase2Begin:
		if c.Succeed {
			return EventSettle
		}
		if now >= c.Times.Phase2End {
			return EventPhase2End
		}
	case StatusPhase2End:
		if c.Succeed {
			return EventSettle
		}
		return EventRestore
	case StatusSettle:
		if guardReturnsComplete(&fsmContext{c: c, stats: stats, now: now}) {
			return EventReturnAssetEnd
		}
	}
	return ""
}

// payStagedReturns pays at most one due installment per series on a settled
// campaign and persists the updated record. Returns are direct ledger
// mutations, not lifecycle events, so they are never rolled back by an
// aborted pass.
func (e *Engine) payStagedReturns(c *Campaign, stats *Statistics, now uint64) (int, error) {
	paid := 0

	guaranty := bigOrZero(c.Params.GuarantyAmount)
	if guaranty.Sign() > 0 && stats.ReturnedGuaranty.Cmp(guaranty) < 0 && now >= c.Times.NextGuarantyReturn {
		last := c.Times.NextGuarantyReturn+types.SecondsPerMonth > c.Times.GuarantyReturnEnd
		amount := cloneBig(c.EachPeriodGuaranty)
		if last {
			amount = new(big.Int).Sub(guaranty, stats.ReturnedGuaranty)
		}
		if err := e.transfer(VaultAddress, c.Issuer, types.CoreAsset, amount); err != nil {
			return paid, err
		}
		stats.ReturnedGuaranty = new(big.Int).Add(stats.ReturnedGuaranty, amount)
		stats.GuarantyReturns = append(stats.GuarantyReturns, ReturnRecord{
			Time:    now,
			Amount:  amount,
			AssetID: types.CoreAsset,
		})
		c.Times.NextGuarantyReturn += types.SecondsPerMonth
		if last {
			c.GuarantyCredit = new(big.Int)
		}
		paid++
		e.emit(&StagedReturnPaidEvent{CampaignID: c.ID, AssetID: types.CoreAsset, Amount: amount, Last: last})
	}

	if c.ReservedTotal.Sign() > 0 && stats.ReturnedReserved.Cmp(c.ReservedTotal) < 0 && now >= c.Times.NextReservedReturn {
		last := c.Times.NextReservedReturn+types.SecondsPerMonth > c.Times.ReservedReturnEnd
		amount := cloneBig(c.EachPeriodReserved)
		if last {
			amount = new(big.Int).Sub(c.ReservedTotal, stats.ReturnedReserved)
		}
		if err := e.transfer(VaultAddress, c.Issuer, c.AssetID, amount); err != nil {
			return paid, err
		}
		stats.ReturnedReserved = new(big.Int).Add(stats.ReturnedReserved, amount)
		stats.ReservedReturns = append(stats.ReservedReturns, ReturnRecord{
			Time:    now,
			Amount:  amount,
			AssetID: c.AssetID,
		})
		c.Times.NextReservedReturn += types.SecondsPerMonth
		paid++
		e.emit(&StagedReturnPaidEvent{CampaignID: c.ID, AssetID: c.AssetID, Amount: amount, Last: last})
	}

	if paid > 0 {
		if err := e.state.CampaignPut(c); err != nil {
			return paid, err
		}
		if err := e.state.StatisticsPut(stats); err != nil {
			return paid, err
		}
	}
	return paid, nil
}
