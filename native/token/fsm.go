package token

// statusAny matches every source status in the transition table.
const statusAny = Status(0xff)

type fsmContext struct {
	e     *Engine
	c     *Campaign
	stats *Statistics
	rec   *EventRecord
	now   uint64
	block uint64
}

type transition struct {
	from     Status
	event    EventName
	to       Status
	guard    func(*fsmContext) bool
	effect   func(*fsmContext) error
	fallback func(*fsmContext)
}

// transitions is scanned in declaration order; the first row whose source
// status and event match and whose guard holds fires. Row order is load
// bearing: at phase2_end the settle row shadows the restore row, whose guard
// is unconditionally true so a failed raise always resolves.
var transitions = []transition{
	{
		from: StatusNone, event: EventCreate, to: StatusCreate,
		guard: func(x *fsmContext) bool { return x.now >= x.c.Times.CreateTime },
	},
	// No-raise campaigns close directly; Publish synthesizes this pair.
	{
		from: StatusCreate, event: EventClose, to: StatusClose,
		guard: func(x *fsmContext) bool { return !x.c.Params.NeedRaising },
	},
	{
		from: StatusCreate, event: EventPhase1Begin, to: StatusPhase1Begin,
		guard: func(x *fsmContext) bool { return x.now >= x.c.Times.Phase1Begin },
	},
	{
		from: StatusPhase1Begin, event: EventPhase1End, to: StatusPhase1End,
		guard: func(x *fsmContext) bool { return x.now >= x.c.Times.Phase1End },
	},
	{
		from: StatusPhase1End, event: EventPhase2Begin, to: StatusPhase2Begin,
		guard: func(x *fsmContext) bool { return x.now >= x.c.Times.Phase2Begin },
	},
	{
		from: StatusPhase2Begin, event: EventPhase2End, to: StatusPhase2End,
		guard:  func(x *fsmContext) bool { return x.now >= x.c.Times.Phase2End },
		effect: effectPhase2End,
	},
	{
		from: StatusPhase1Begin, event: EventSettle, to: StatusSettle,
		guard:  func(x *fsmContext) bool { return x.c.Succeed },
		effect: effectSettle,
	},
	{
		from: StatusPhase1End, event: EventSettle, to: StatusSettle,
		guard:  func(x *fsmContext) bool { return x.c.Succeed },
		effect: effectSettle,
	},
	{
		from: StatusPhase2Begin, event: EventSettle, to: StatusSettle,
		guard:  func(x *fsmContext) bool { return x.c.Succeed },
		effect: effectSettle,
	},
	{
		from: StatusPhase2End, event: EventSettle, to: StatusSettle,
		guard:    func(x *fsmContext) bool { return x.c.Succeed },
		effect:   effectSettle,
		fallback: fallbackBelowThreshold,
	},
	{
		from: StatusPhase2End, event: EventRestore, to: StatusRestore,
		guard:  func(x *fsmContext) bool { return true },
		effect: effectRestore,
	},
	// Operator-driven early abort while a raise is still open.
	{
		from: StatusPhase1Begin, event: EventRestore, to: StatusRestore,
		guard:  func(x *fsmContext) bool { return true },
		effect: effectRestore,
	},
	{
		from: StatusPhase1End, event: EventRestore, to: StatusRestore,
		guard:  func(x *fsmContext) bool { return true },
		effect: effectRestore,
	},
	{
		from: StatusPhase2Begin, event: EventRestore, to: StatusRestore,
		guard:  func(x *fsmContext) bool { return true },
		effect: effectRestore,
	},
	{
		from: StatusSettle, event: EventReturnAssetEnd, to: StatusReturnAssetEnd,
		guard:  guardReturnsComplete,
		effect: effectReturnAssetEnd,
	},
	{
		from: StatusReturnAssetEnd, event: EventClose, to: StatusClose,
		guard: func(x *fsmContext) bool { return true },
	},
	{
		from: statusAny, event: EventSetControl, to: statusAny,
		guard:  func(x *fsmContext) bool { return parseControl(x.rec.Option("control")) != nil },
		effect: effectSetControl,
	},
}

// effectPhase2End fixes the raise outcome. The comparison is on raw share
// amounts; ActualBuyPercent is a truncated display figure and never decides
// success.
func effectPhase2End(x *fsmContext) error {
	x.c.Succeed = x.stats.ActualBuyTotal.Cmp(bigOrZero(x.c.BuySucceedMin)) >= 0
	return nil
}

func effectSettle(x *fsmContext) error {
	if x.c.Times.SettleTime == 0 {
		x.c.Times.SettleTime = x.now
		scheduleStagedReturns(x.c, x.now)
	}
	return x.e.settleCampaign(x.c, x.stats)
}

func effectRestore(x *fsmContext) error {
	x.c.Succeed = false
	return x.e.restoreCampaign(x.c, x.stats, x.now)
}

func guardReturnsComplete(x *fsmContext) bool {
	guarantyDone := bigOrZero(x.c.Params.GuarantyAmount).Sign() == 0 ||
		x.stats.ReturnedGuaranty.Cmp(x.c.Params.GuarantyAmount) >= 0
	reservedDone := x.c.ReservedTotal.Sign() == 0 ||
		x.stats.ReturnedReserved.Cmp(x.c.ReservedTotal) >= 0
	return guarantyDone && reservedDone
}

func effectReturnAssetEnd(x *fsmContext) error {
	x.c.Times.ReturnAssetEnd = x.now
	return nil
}

func fallbackBelowThreshold(x *fsmContext) {
	x.rec.Message = "raise below success threshold"
}

func parseControl(v string) *Control {
	var c Control
	switch v {
	case "available", "0":
		c = ControlAvailable
	case "description_forbidden", "1":
		c = ControlDescriptionForbidden
	case "unavailable", "2":
		c = ControlUnavailable
	default:
		return nil
	}
	return &c
}

func effectSetControl(x *fsmContext) error {
	c := parseControl(x.rec.Option("control"))
	if c == nil {
		return rejectf(CodeControlInvalid, "unknown control value %q", x.rec.Option("control"))
	}
	x.c.Control = *c
	x.e.emit(&ControlChangedEvent{CampaignID: x.c.ID, Control: *c})
	return nil
}

var knownEvents = map[EventName]bool{
	EventCreate:         true,
	EventPhase1Begin:    true,
	EventPhase1End:      true,
	EventPhase2Begin:    true,
	EventPhase2End:      true,
	EventSettle:         true,
	EventReturnAssetEnd: true,
	EventClose:          true,
	EventRestore:        true,
	EventSetControl:     true,
}

// ApplyEvent records op in the audit trail and drives it through the
// transition table. The record is persisted whether or not a transition
// fires: a rejected guard or unmatched event is a no-op reported only on the
// record, with Handled left false. Errors are reserved for effect and
// storage failures; there a failed effect sets the record message before
// the error is returned, so callers that roll back discard both together.
// An op carrying the option test=true is a dry run: the returned record
// holds the outcome but every mutation, the audit record included, is
// reverted.
func (e *Engine) ApplyEvent(op *EventOp, now uint64, blockNumber uint64) (*EventRecord, error) {
	if e == nil || e.state == nil {
		return nil, ErrInvalidState
	}
	if op == nil {
		return nil, ErrNilOperation
	}
	if !knownEvents[op.Event] {
		return nil, rejectf(CodeEventUnknown, "unknown event %q", op.Event)
	}
	c, ok, err := e.state.CampaignGet(op.CampaignID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, rejectf(CodeCampaignNotFound, "campaign %d not found", op.CampaignID)
	}
	if op.Operator != SystemAddress {
		if op.Event == EventSetControl {
			return nil, rejectf(CodeEventUnauthorized, "set_control is operator only")
		}
		if op.Operator != c.Issuer {
			return nil, rejectf(CodeEventUnauthorized, "operator %s may not drive campaign %d", op.Operator, op.CampaignID)
		}
	}
	stats, ok, err := e.state.StatisticsGet(op.CampaignID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, rejectf(CodeCampaignNotFound, "statistics missing for campaign %d", op.CampaignID)
	}

	dryRun := attrValue(op.Options, "test") == "true"
	snap := 0
	if dryRun {
		snap = e.state.Snapshot()
	}

	rec := &EventRecord{
		Operator:    op.Operator,
		CampaignID:  op.CampaignID,
		Event:       op.Event,
		Options:     op.Options,
		BlockNumber: blockNumber,
		Time:        now,
	}
	recID, err := e.state.EventCreate(rec)
	if err != nil {
		return nil, err
	}
	rec.ID = recID

	x := &fsmContext{e: e, c: c, stats: stats, rec: rec, now: now, block: blockNumber}
	runErr := e.runTransition(x)

	if dryRun {
		e.state.RevertToSnapshot(snap)
		return rec, runErr
	}
	if err := e.state.EventPut(rec); err != nil {
		return nil, err
	}
	return rec, runErr
}

func (e *Engine) runTransition(x *fsmContext) error {
	var firstMatch *transition
	for i := range transitions {
		t := &transitions[i]
		if t.event != x.rec.Event {
			continue
		}
		if t.from != statusAny && t.from != x.c.Status {
			continue
		}
		if firstMatch == nil {
			firstMatch = t
		}
		if !t.guard(x) {
			continue
		}
		from := x.c.Status
		if t.to != statusAny {
			x.c.Status = t.to
			switch t.to {
			case StatusPhase1Begin:
				if x.c.Times.Phase1Begin == 0 {
					x.c.Times.Phase1Begin = x.now
				}
			case StatusPhase1End:
				if x.c.Times.Phase1End == 0 {
					x.c.Times.Phase1End = x.now
				}
			case StatusPhase2Begin:
				if x.c.Times.Phase2Begin == 0 {
					x.c.Times.Phase2Begin = x.now
				}
			case StatusPhase2End:
				if x.c.Times.Phase2End == 0 {
					x.c.Times.Phase2End = x.now
				}
			}
		}
		if t.effect != nil {
			if err := t.effect(x); err != nil {
				x.rec.Message = err.Error()
				return err
			}
		}
		if err := e.state.CampaignPut(x.c); err != nil {
			return err
		}
		if err := e.state.StatisticsPut(x.stats); err != nil {
			return err
		}
		x.rec.Handled = true
		if t.to != statusAny && t.to != from {
			e.emit(&StatusChangedEvent{CampaignID: x.c.ID, Event: x.rec.Event, From: from, To: t.to})
		}
		return nil
	}
	if firstMatch != nil {
		if firstMatch.fallback != nil {
			firstMatch.fallback(x)
		}
		if x.rec.Message == "" {
			x.rec.Message = "transition guard rejected"
		}
		return nil
	}
	x.rec.Message = "no transition for event"
	return nil
}
