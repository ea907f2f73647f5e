package token

import (
	"math/big"

	"agchain/core/types"
)

// Status is the lifecycle state of a campaign. Transitions only move forward
// through the table in fsm.go.
type Status uint8

const (
	StatusNone Status = iota
	StatusCreate
	StatusPhase1Begin
	StatusPhase1End
	StatusPhase2Begin
	StatusPhase2End
	StatusSettle
	StatusReturnAssetEnd
	StatusClose
	StatusRestore
)

var statusNames = map[Status]string{
	StatusNone:           "none",
	StatusCreate:         "create",
	StatusPhase1Begin:    "phase1_begin",
	StatusPhase1End:      "phase1_end",
	StatusPhase2Begin:    "phase2_begin",
	StatusPhase2End:      "phase2_end",
	StatusSettle:         "settle",
	StatusReturnAssetEnd: "return_asset_end",
	StatusClose:          "close",
	StatusRestore:        "restore",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool { return s <= StatusRestore }

// Terminal reports whether the sweep should skip the campaign entirely.
func (s Status) Terminal() bool {
	switch s {
	case StatusReturnAssetEnd, StatusClose, StatusRestore:
		return true
	default:
		return false
	}
}

// Control is the operator-set availability flag on a campaign.
type Control uint8

const (
	ControlAvailable Control = iota
	ControlDescriptionForbidden
	ControlUnavailable
)

// Valid reports whether the control value is a legal flag.
func (c Control) Valid() bool { return c <= ControlUnavailable }

// EventName identifies a campaign lifecycle event.
type EventName string

const (
	EventCreate         EventName = "create"
	EventPhase1Begin    EventName = "phase1_begin"
	EventPhase1End      EventName = "phase1_end"
	EventPhase2Begin    EventName = "phase2_begin"
	EventPhase2End      EventName = "phase2_end"
	EventSettle         EventName = "settle"
	EventReturnAssetEnd EventName = "return_asset_end"
	EventClose          EventName = "close"
	EventRestore        EventName = "restore"
	EventSetControl     EventName = "set_control"
)

// Phase selects which subscription window a buy belongs to.
type Phase uint8

const (
	Phase1 Phase = 1
	Phase2 Phase = 2
)

// Disposition is the policy for user assets left unsold at settlement.
type Disposition uint8

const (
	// DispositionDispatch distributes the remainder to buyers pro rata.
	DispositionDispatch Disposition = iota
	// DispositionBurn credits the remainder to the burn address.
	DispositionBurn
)

// ExchangeRatio fixes how many base (core) units buy how many quote (user
// asset) units in one subscription unit.
type ExchangeRatio struct {
	Base  *big.Int
	Quote *big.Int
}

// BuyPhase is one timed subscription window with its own exchange ratio.
type BuyPhase struct {
	BeginTime uint64
	EndTime   uint64
	Ratio     ExchangeRatio
}

// Attribute is an ordered key/value pair. Campaign metadata uses ordered
// slices instead of maps so the canonical state encoding stays stable.
type Attribute struct {
	Key   string
	Value string
}

func attrValue(attrs []Attribute, key string) string {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

// Params is the issuer-supplied campaign template.
type Params struct {
	AssetName            string
	AssetSymbol          string
	LogoURL              string
	Brief                string
	Description          string
	Type                 string
	Subtype              string
	MaxSupply            *big.Int
	PlanBuyTotal         *big.Int
	NeedRaising          bool
	Phase1               BuyPhase
	Phase2               BuyPhase
	SucceedMinPercent    uint16
	GuarantyAmount       *big.Int
	GuarantyMonths       uint32
	ReservedFrozenMonths uint32
	Disposition          Disposition
	Whitelist            []types.Address
	CustomAttributes     []Attribute
}

// Schedule bundles every timestamp the lifecycle machine compares against
// block time. All values are unix seconds.
type Schedule struct {
	CreateTime         uint64
	Phase1Begin        uint64
	Phase1End          uint64
	Phase2Begin        uint64
	Phase2End          uint64
	SettleTime         uint64
	NextGuarantyReturn uint64
	GuarantyReturnEnd  uint64
	NextReservedReturn uint64
	ReservedReturnEnd  uint64
	ReturnAssetEnd     uint64
}

// Campaign is one fundraising project. It is created by Publish and never
// deleted; close, return_asset_end and restore are terminal.
type Campaign struct {
	ID                 uint64
	Issuer             types.Address
	AssetID            types.AssetID
	UpperName          string
	Status             Status
	Control            Control
	Params             Params
	Times              Schedule
	BuySucceedMin      *big.Int
	ReservedTotal      *big.Int
	EachPeriodGuaranty *big.Int
	EachPeriodReserved *big.Int
	GuarantyCredit     *big.Int
	DeferredFee        *big.Int
	Succeed            bool
	Exts               []Attribute
}

func (c *Campaign) phase(p Phase) *BuyPhase {
	if p == Phase2 {
		return &c.Params.Phase2
	}
	return &c.Params.Phase1
}

// ReturnRecord is one staged-return installment paid back to the issuer.
type ReturnRecord struct {
	Time    uint64
	Amount  *big.Int
	AssetID types.AssetID
}

// Statistics is the high-churn counterpart record of a campaign, 1:1 by id.
type Statistics struct {
	CampaignID        uint64
	Buyers            []types.Address
	BuyerCount        uint64
	ActualCoreTotal   *big.Int
	ActualBuyTotal    *big.Int
	ActualBuyPercent  uint64
	ActualNotBuyTotal *big.Int
	ReturnedGuaranty  *big.Int
	ReturnedReserved  *big.Int
	GuarantyReturns   []ReturnRecord
	ReservedReturns   []ReturnRecord
}

// HasBuyer reports whether addr is already in the distinct-buyer set.
func (s *Statistics) HasBuyer(addr types.Address) bool {
	for _, b := range s.Buyers {
		if b == addr {
			return true
		}
	}
	return false
}

// AddBuyer inserts addr into the distinct-buyer set, keeping it sorted so
// the persisted encoding is canonical.
func (s *Statistics) AddBuyer(addr types.Address) {
	if s.HasBuyer(addr) {
		return
	}
	pos := len(s.Buyers)
	for i, b := range s.Buyers {
		if lessAddress(addr, b) {
			pos = i
			break
		}
	}
	s.Buyers = append(s.Buyers, types.Address{})
	copy(s.Buyers[pos+1:], s.Buyers[pos:])
	s.Buyers[pos] = addr
	s.BuyerCount = uint64(len(s.Buyers))
}

func lessAddress(a, b types.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Buy is one recorded purchase against a campaign.
type Buy struct {
	ID                uint64
	Buyer             types.Address
	CampaignID        uint64
	Phase             Phase
	Quantity          uint64
	BuyTime           uint64
	PayBaseAmount     *big.Int
	BuyQuoteAmount    *big.Int
	RewardQuoteAmount *big.Int
	DeferredFee       *big.Int
}

// EventRecord is the audit trail entry for every lifecycle event, whether
// synthesized by the sweep, injected by a buy, or submitted by an operator.
type EventRecord struct {
	ID          uint64
	Operator    types.Address
	CampaignID  uint64
	Event       EventName
	Options     []Attribute
	BlockNumber uint64
	Time        uint64
	Handled     bool
	Message     string
}

// Option returns the value for key from the event options, or "".
func (r *EventRecord) Option(key string) string { return attrValue(r.Options, key) }
