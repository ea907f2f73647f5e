package delaytransfer

import (
	"math/big"

	"agchain/core/types"
)

const (
	EventTypeScheduled = "delaytransfer.scheduled"
	EventTypeExecuted  = "delaytransfer.executed"
	EventTypeFinished  = "delaytransfer.finished"
)

type ScheduledEvent struct {
	ID          uint64
	From        types.Address
	Receiver    types.Address
	AssetID     types.AssetID
	Amount      *big.Int
	ReleaseTime uint64
	Fee         *big.Int
}

func (e *ScheduledEvent) EventType() string { return EventTypeScheduled }

type ExecutedEvent struct {
	ID       uint64
	Receiver types.Address
	AssetID  types.AssetID
	Amount   *big.Int
}

func (e *ExecutedEvent) EventType() string { return EventTypeExecuted }

type FinishedEvent struct {
	ID uint64
}

func (e *FinishedEvent) EventType() string { return EventTypeFinished }
