package delaytransfer

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"agchain/core/events"
	"agchain/core/types"
)

// Validation bounds. The schedule time may lag block time by the slack to
// absorb signing-to-inclusion latency; the release horizon is five years.
const (
	MaxMemoBytes      = 150
	ScheduleSlack     = 600
	MaxReleaseHorizon = 157_680_000
)

// Numbered rejection codes for delayed-transfer validation failures.
const (
	CodeSelfTransfer      = 10303001
	CodeMemoTooLong       = 10303002
	CodeBadScheduleTime   = 10303003
	CodeBadReleaseTime    = 10303004
	CodeAssetUnknown      = 10303005
	CodeAssetRestricted   = 10303006
	CodeInsufficientFunds = 10303007
	CodeFeeTooLow         = 10303008
	CodeAmountNotPositive = 10303009
	CodeBadEntryCount     = 10303010
)

var (
	// ErrInvalidState is returned when the engine is used before wiring.
	ErrInvalidState = errors.New("delaytransfer: engine state not configured")
	// ErrNilOperation is returned for nil operation payloads.
	ErrNilOperation = errors.New("delaytransfer: nil operation")
	// ErrUnexecutedUnderflow indicates the pending-balance ledger went
	// negative, which is a fault the block must not survive.
	ErrUnexecutedUnderflow = errors.New("delaytransfer: unexecuted balance underflow")
)

type rejectError struct {
	code int
	msg  string
}

func (e *rejectError) Error() string { return fmt.Sprintf("errno=%d, %s", e.code, e.msg) }

func rejectf(code int, format string, args ...any) error {
	return &rejectError{code: code, msg: fmt.Sprintf(format, args...)}
}

// RejectCode extracts the numbered code from err, or 0.
func RejectCode(err error) int {
	var re *rejectError
	if errors.As(err, &re) {
		return re.code
	}
	return 0
}

// VaultAddress holds the funds of every scheduled transfer until release.
var VaultAddress = moduleAddress("delaytransfer/vault")

// FeePoolAddress accumulates delayed-transfer fees.
var FeePoolAddress = moduleAddress("delaytransfer/fee-pool")

func moduleAddress(label string) types.Address {
	hash := ethcrypto.Keccak256([]byte(label))
	var addr types.Address
	copy(addr[:], hash[12:])
	return addr
}

// engineState is the ledger surface the delayed-transfer engine needs.
type engineState interface {
	DelayTransferCreate(t *DelayTransfer) (uint64, error)
	DelayTransferGet(id uint64) (*DelayTransfer, bool, error)
	DelayTransferPut(t *DelayTransfer) error
	DelayTransferCount() (uint64, error)
	UnexecutedAdd(receiver types.Address, asset types.AssetID, amount *big.Int) error
	UnexecutedSub(receiver types.Address, asset types.AssetID, amount *big.Int) error
	AssetExists(id types.AssetID) (bool, error)
	AssetTransferAllowed(id types.AssetID, from, to types.Address) (bool, error)
	AccountExists(addr types.Address) (bool, error)
	GetBalance(addr types.Address, asset types.AssetID) (*big.Int, error)
	AdjustBalance(addr types.Address, asset types.AssetID, delta *big.Int) error
}

// Engine schedules delayed transfers and matures them on the block sweep.
type Engine struct {
	state   engineState
	emitter events.Emitter
	log     *slog.Logger
}

func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}, log: slog.Default()}
}

func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetLogger(l *slog.Logger) {
	if l == nil {
		e.log = slog.Default()
		return
	}
	e.log = l
}

func (e *Engine) emit(ev events.Event) {
	if e == nil || e.emitter == nil || ev == nil {
		return
	}
	e.emitter.Emit(ev)
}

func (e *Engine) transfer(from, to types.Address, asset types.AssetID, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := e.state.AdjustBalance(from, asset, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	return e.state.AdjustBalance(to, asset, amount)
}

// ScheduleOp asks the chain to hold funds and release them later.
type ScheduleOp struct {
	From         types.Address
	Receiver     types.Address
	AssetID      types.AssetID
	Amount       *big.Int
	ScheduleTime uint64
	ReleaseTime  uint64
	Memo         string
	Fee          *big.Int
}

// Schedule validates op and moves the amount into the module vault. The fee
// covers the whole hold duration up front and is not refunded.
func (e *Engine) Schedule(op *ScheduleOp, now uint64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, ErrInvalidState
	}
	if op == nil {
		return 0, ErrNilOperation
	}
	if err := e.validate(op, now); err != nil {
		return 0, err
	}

	amount := new(big.Int).Set(op.Amount)
	if err := e.transfer(op.From, VaultAddress, op.AssetID, amount); err != nil {
		return 0, err
	}
	if fee := op.Fee; fee != nil && fee.Sign() > 0 {
		if err := e.transfer(op.From, FeePoolAddress, types.CoreAsset, fee); err != nil {
			return 0, err
		}
	}

	t := &DelayTransfer{
		From:         op.From,
		ScheduleTime: op.ScheduleTime,
		Entries: []Entry{{
			Receiver:    op.Receiver,
			AssetID:     op.AssetID,
			Amount:      amount,
			ReleaseTime: op.ReleaseTime,
			Memo:        op.Memo,
		}},
	}
	id, err := e.state.DelayTransferCreate(t)
	if err != nil {
		return 0, err
	}
	if err := e.state.UnexecutedAdd(op.Receiver, op.AssetID, amount); err != nil {
		return 0, err
	}

	e.emit(&ScheduledEvent{
		ID:          id,
		From:        op.From,
		Receiver:    op.Receiver,
		AssetID:     op.AssetID,
		Amount:      amount,
		ReleaseTime: op.ReleaseTime,
		Fee:         op.Fee,
	})
	return id, nil
}

func (e *Engine) validate(op *ScheduleOp, now uint64) error {
	if op.Receiver == op.From {
		return rejectf(CodeSelfTransfer, "receiver equals sender")
	}
	if op.Receiver.IsZero() {
		return rejectf(CodeSelfTransfer, "receiver is the zero address")
	}
	if op.Amount == nil || op.Amount.Sign() <= 0 {
		return rejectf(CodeAmountNotPositive, "amount must be positive")
	}
	if len(op.Memo) > MaxMemoBytes {
		return rejectf(CodeMemoTooLong, "memo is %d bytes, max %d", len(op.Memo), MaxMemoBytes)
	}
	if op.ScheduleTime > now || op.ScheduleTime+ScheduleSlack < now {
		return rejectf(CodeBadScheduleTime, "schedule time %d outside [%d, %d]", op.ScheduleTime, now-ScheduleSlack, now)
	}
	if op.ReleaseTime <= op.ScheduleTime {
		return rejectf(CodeBadReleaseTime, "release time must follow schedule time")
	}
	if op.ReleaseTime > now+MaxReleaseHorizon {
		return rejectf(CodeBadReleaseTime, "release time %d beyond horizon %d", op.ReleaseTime, now+MaxReleaseHorizon)
	}
	if ok, err := e.state.AssetExists(op.AssetID); err != nil {
		return err
	} else if !ok {
		return rejectf(CodeAssetUnknown, "asset %d not registered", op.AssetID)
	}
	if allowed, err := e.state.AssetTransferAllowed(op.AssetID, op.From, op.Receiver); err != nil {
		return err
	} else if !allowed {
		return rejectf(CodeAssetRestricted, "asset %d restricts transfers between these accounts", op.AssetID)
	}

	minFee := Fee(op.ScheduleTime, op.ReleaseTime)
	fee := op.Fee
	if fee == nil || fee.Cmp(minFee) < 0 {
		return rejectf(CodeFeeTooLow, "fee below required %s", minFee)
	}

	// Fee is always core; the held amount may be any asset.
	if op.AssetID == types.CoreAsset {
		need := new(big.Int).Add(op.Amount, fee)
		bal, err := e.state.GetBalance(op.From, types.CoreAsset)
		if err != nil {
			return err
		}
		if bal.Cmp(need) < 0 {
			return rejectf(CodeInsufficientFunds, "balance %s below amount plus fee %s", bal, need)
		}
		return nil
	}
	bal, err := e.state.GetBalance(op.From, op.AssetID)
	if err != nil {
		return err
	}
	if bal.Cmp(op.Amount) < 0 {
		return rejectf(CodeInsufficientFunds, "asset balance %s below amount %s", bal, op.Amount)
	}
	coreBal, err := e.state.GetBalance(op.From, types.CoreAsset)
	if err != nil {
		return err
	}
	if coreBal.Cmp(fee) < 0 {
		return rejectf(CodeInsufficientFunds, "core balance %s below fee %s", coreBal, fee)
	}
	return nil
}
