package token

import (
	"math/big"

	"agchain/core/types"
)

const (
	EventTypeCampaignPublished = "token.campaign.published"
	EventTypeBuyRecorded       = "token.buy.recorded"
	EventTypeStatusChanged     = "token.campaign.status_changed"
	EventTypeControlChanged    = "token.campaign.control_changed"
	EventTypeSettled           = "token.campaign.settled"
	EventTypeRestored          = "token.campaign.restored"
	EventTypeStagedReturnPaid  = "token.campaign.staged_return"
	EventTypeUpdated           = "token.campaign.updated"
)

type CampaignPublishedEvent struct {
	ID      uint64
	Issuer  types.Address
	AssetID types.AssetID
	Name    string
	Symbol  string
	Status  Status
}

func (e *CampaignPublishedEvent) EventType() string { return EventTypeCampaignPublished }

type BuyRecordedEvent struct {
	BuyID      uint64
	CampaignID uint64
	Buyer      types.Address
	Phase      Phase
	Quantity   uint64
	PayAmount  *big.Int
	BuyAmount  *big.Int
}

func (e *BuyRecordedEvent) EventType() string { return EventTypeBuyRecorded }

type StatusChangedEvent struct {
	CampaignID uint64
	Event      EventName
	From       Status
	To         Status
}

func (e *StatusChangedEvent) EventType() string { return EventTypeStatusChanged }

type ControlChangedEvent struct {
	CampaignID uint64
	Control    Control
}

func (e *ControlChangedEvent) EventType() string { return EventTypeControlChanged }

type SettledEvent struct {
	CampaignID  uint64
	Succeed     bool
	BuyerCount  uint64
	BoughtTotal *big.Int
	Burned      *big.Int
}

func (e *SettledEvent) EventType() string { return EventTypeSettled }

type RestoredEvent struct {
	CampaignID     uint64
	RefundedBuyers int
}

func (e *RestoredEvent) EventType() string { return EventTypeRestored }

type StagedReturnPaidEvent struct {
	CampaignID uint64
	AssetID    types.AssetID
	Amount     *big.Int
	Last       bool
}

func (e *StagedReturnPaidEvent) EventType() string { return EventTypeStagedReturnPaid }

type UpdatedEvent struct {
	CampaignID uint64
}

func (e *UpdatedEvent) EventType() string { return EventTypeUpdated }
