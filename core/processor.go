package core

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"agchain/core/events"
	"agchain/core/types"
	"agchain/native/delaytransfer"
	"agchain/native/token"
	"agchain/observability/metrics"
	"agchain/state"
)

const (
	tokenCursorName = "token"
	delayCursorName = "delaytransfer"

	metaHeight    = "height"
	metaBlockTime = "block-time"
)

// Processor is the single writer over ledger state. It applies submitted
// operations, drives the per-block sweeps and finalizes each block. All
// mutating entry points serialize on one mutex; reads go straight to the
// state manager, which has its own reader lock.
type Processor struct {
	mu        sync.Mutex
	st        *state.Manager
	tokenEng  *token.Engine
	delayEng  *delaytransfer.Engine
	collector *events.Collector
	metrics   *metrics.LedgerMetrics
	log       *slog.Logger

	tokenCursor token.Cursor
	delayCursor delaytransfer.Cursor
	height      uint64
	blockTime   uint64
	nowFn       func() uint64
	lastEvents  []types.Event
}

// NewProcessor wires both engines over the state manager and restores the
// persisted sweep cursors and chain position.
func NewProcessor(st *state.Manager, profile *token.Profile, logger *slog.Logger) (*Processor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	collector := events.NewCollector()

	tokenEng := token.NewEngine()
	tokenEng.SetState(st)
	tokenEng.SetProfile(profile)
	tokenEng.SetEmitter(collector)
	tokenEng.SetLogger(logger)

	delayEng := delaytransfer.NewEngine()
	delayEng.SetState(st)
	delayEng.SetEmitter(collector)
	delayEng.SetLogger(logger)

	p := &Processor{
		st:        st,
		tokenEng:  tokenEng,
		delayEng:  delayEng,
		collector: collector,
		metrics:   metrics.Ledger(),
		log:       logger,
		nowFn:     func() uint64 { return uint64(time.Now().Unix()) },
	}

	var err error
	if p.tokenCursor.Next, err = st.CursorLoad(tokenCursorName); err != nil {
		return nil, err
	}
	if p.delayCursor.Next, err = st.CursorLoad(delayCursorName); err != nil {
		return nil, err
	}
	if p.height, err = st.MetaLoad(metaHeight); err != nil {
		return nil, err
	}
	if p.blockTime, err = st.MetaLoad(metaBlockTime); err != nil {
		return nil, err
	}
	return p, nil
}

// SetNowFunc overrides the wall clock, primarily for tests.
func (p *Processor) SetNowFunc(fn func() uint64) {
	if fn == nil {
		p.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	p.nowFn = fn
}

// State exposes the underlying manager for read paths.
func (p *Processor) State() *state.Manager { return p.st }

// Height returns the last applied block height.
func (p *Processor) Height() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.height
}

// GenesisAccount is one initial balance applied before the first block.
type GenesisAccount struct {
	Address types.Address
	Balance *big.Int
}

// ApplyGenesis seeds initial core balances. It refuses to run once any
// block has been applied.
func (p *Processor) ApplyGenesis(alloc []GenesisAccount) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.height != 0 {
		return fmt.Errorf("core: genesis after height %d", p.height)
	}
	for _, a := range alloc {
		if a.Balance == nil || a.Balance.Sign() <= 0 {
			continue
		}
		if err := p.st.AdjustBalance(a.Address, types.CoreAsset, a.Balance); err != nil {
			return err
		}
	}
	p.st.DiscardJournal()
	return nil
}

// submit wraps one mutating operation in a snapshot so a failure leaves no
// trace in state.
func (p *Processor) submit(kind string, fn func(now, height uint64) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.nowFn()
	snap := p.st.Snapshot()
	if err := fn(now, p.height+1); err != nil {
		p.st.RevertToSnapshot(snap)
		p.metrics.ObserveOpRejected(kind)
		return err
	}
	return nil
}

// SubmitPublish applies a campaign publish operation.
func (p *Processor) SubmitPublish(op *token.PublishOp) (uint64, error) {
	var id uint64
	err := p.submit("token.publish", func(now, height uint64) error {
		var err error
		id, err = p.tokenEng.Publish(op, now, height)
		return err
	})
	if err == nil {
		p.metrics.ObserveCampaignPublished()
	}
	return id, err
}

// SubmitBuy applies a subscription operation.
func (p *Processor) SubmitBuy(op *token.BuyOp) (uint64, error) {
	var id uint64
	err := p.submit("token.buy", func(now, height uint64) error {
		var err error
		id, err = p.tokenEng.Buy(op, now, height)
		return err
	})
	if err == nil {
		p.metrics.ObserveBuyRecorded()
	}
	return id, err
}

// SubmitTokenEvent applies a manually submitted lifecycle event. The audit
// record comes back even when no transition fired; only effect or storage
// failures error out and roll back.
func (p *Processor) SubmitTokenEvent(op *token.EventOp) (*token.EventRecord, error) {
	var rec *token.EventRecord
	err := p.submit("token.event", func(now, height uint64) error {
		var err error
		rec, err = p.tokenEng.ApplyEvent(op, now, height)
		return err
	})
	if err == nil && rec.Handled {
		p.metrics.ObserveLifecycleEvent(string(op.Event))
	}
	return rec, err
}

// SubmitUpdate applies a campaign update operation.
func (p *Processor) SubmitUpdate(op *token.UpdateOp) error {
	return p.submit("token.update", func(now, height uint64) error {
		return p.tokenEng.Update(op, now)
	})
}

// SubmitDelayTransfer applies a delayed-transfer schedule operation.
func (p *Processor) SubmitDelayTransfer(op *delaytransfer.ScheduleOp) (uint64, error) {
	var id uint64
	err := p.submit("delaytransfer.schedule", func(now, height uint64) error {
		var err error
		id, err = p.delayEng.Schedule(op, now)
		return err
	})
	if err == nil {
		p.metrics.ObserveTransferScheduled()
	}
	return id, err
}

// ProcessBlockLifecycle advances the chain by one block: it runs the
// campaign sweep and the delayed-transfer maturation sweep under their
// per-block budgets, persists the cursors and the chain position, and
// finalizes the block. The returned events are everything emitted since the
// previous block, operations included.
func (p *Processor) ProcessBlockLifecycle(height uint64, now uint64) ([]events.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if height != p.height+1 {
		return nil, fmt.Errorf("core: block %d applied at height %d", height, p.height)
	}

	tokenReport, err := p.tokenEng.RunSweep(&p.tokenCursor, token.PerBlockBudget, now, height)
	if err != nil {
		return nil, fmt.Errorf("core: campaign sweep at block %d: %w", height, err)
	}
	p.metrics.ObserveSweep("token", tokenReport.Visited, tokenReport.Aborted)
	p.metrics.ObserveStagedReturns(tokenReport.StagedReturns)

	delayReport, err := p.delayEng.RunSweep(&p.delayCursor, delaytransfer.PerBlockBudget, now)
	if err != nil {
		return nil, fmt.Errorf("core: delayed-transfer sweep at block %d: %w", height, err)
	}
	p.metrics.ObserveSweep("delaytransfer", delayReport.Visited, false)
	p.metrics.ObserveTransfersExecuted(delayReport.Executed)

	if err := p.st.CursorStore(tokenCursorName, p.tokenCursor.Next); err != nil {
		return nil, err
	}
	if err := p.st.CursorStore(delayCursorName, p.delayCursor.Next); err != nil {
		return nil, err
	}
	if err := p.st.MetaStore(metaHeight, height); err != nil {
		return nil, err
	}
	if err := p.st.MetaStore(metaBlockTime, now); err != nil {
		return nil, err
	}
	p.height = height
	p.blockTime = now
	p.st.DiscardJournal()
	p.metrics.ObserveBlockApplied()

	evs := p.collector.Drain()
	p.lastEvents = flattenEvents(evs)
	if tokenReport.Fired > 0 || delayReport.Executed > 0 || tokenReport.Aborted {
		p.log.Info("block lifecycle",
			"height", height,
			"campaigns_visited", tokenReport.Visited,
			"events_fired", tokenReport.Fired,
			"staged_returns", tokenReport.StagedReturns,
			"sweep_aborted", tokenReport.Aborted,
			"transfers_executed", delayReport.Executed,
		)
	}
	return evs, nil
}

// LastEvents returns the flattened events of the most recently applied
// block, newest block only.
func (p *Processor) LastEvents() []types.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Event, len(p.lastEvents))
	copy(out, p.lastEvents)
	return out
}

// flattenEvents converts typed module events into the generic envelope the
// RPC layer serves.
func flattenEvents(evs []events.Event) []types.Event {
	out := make([]types.Event, 0, len(evs))
	for _, ev := range evs {
		flat := types.Event{Type: ev.EventType(), Attributes: map[string]string{}}
		if raw, err := json.Marshal(ev); err == nil {
			var m map[string]any
			if json.Unmarshal(raw, &m) == nil {
				for k, v := range m {
					flat.Attributes[k] = fmt.Sprint(v)
				}
			}
		}
		out = append(out, flat)
	}
	return out
}
