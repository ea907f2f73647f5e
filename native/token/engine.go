package token

import (
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"agchain/core/events"
	"agchain/core/types"
)

// engineState is the narrow view of ledger state the token engine needs.
// The state manager satisfies it; tests use an in-memory mock.
type engineState interface {
	CampaignCreate(c *Campaign) (uint64, error)
	CampaignGet(id uint64) (*Campaign, bool, error)
	CampaignPut(c *Campaign) error
	CampaignCount() (uint64, error)
	CampaignIDByName(upperName string) (uint64, bool, error)
	StatisticsGet(id uint64) (*Statistics, bool, error)
	StatisticsPut(s *Statistics) error
	BuyCreate(b *Buy) (uint64, error)
	BuyPut(b *Buy) error
	BuysByCampaign(campaignID uint64) ([]*Buy, error)
	EventCreate(r *EventRecord) (uint64, error)
	EventPut(r *EventRecord) error
	AssetCreate(symbol string, maxSupply *big.Int, issuer types.Address) (types.AssetID, error)
	AssetSymbolExists(symbol string) (bool, error)
	AccountExists(addr types.Address) (bool, error)
	GetBalance(addr types.Address, asset types.AssetID) (*big.Int, error)
	AdjustBalance(addr types.Address, asset types.AssetID, delta *big.Int) error
	FeeCashbackAdd(addr types.Address, amount *big.Int) error
	Snapshot() int
	RevertToSnapshot(rev int)
}

func moduleAddress(label string) types.Address {
	hash := ethcrypto.Keccak256([]byte(label))
	var addr types.Address
	copy(addr[:], hash[12:])
	return addr
}

var (
	// VaultAddress holds every balance a campaign has in flight: raised
	// core, escrowed supply, collateral and reserved tranches.
	VaultAddress = moduleAddress("token/raise-vault")
	// BurnAddress receives unsold remainders under the burn disposition.
	// Nothing ever spends from it.
	BurnAddress = moduleAddress("token/burn")
	// FeePoolAddress accumulates operation fees. Deferred portions flow
	// back out of it on restore.
	FeePoolAddress = moduleAddress("token/fee-pool")
	// SystemAddress is the operator identity on sweep-synthesized events.
	SystemAddress = moduleAddress("token/system")
)

// Engine implements campaign publishing, subscription and the lifecycle
// machine over an abstract state backend.
type Engine struct {
	state   engineState
	emitter events.Emitter
	profile *Profile
	log     *slog.Logger
}

// NewEngine creates a token engine with the default profile and a no-op
// emitter. Callers wire state, emitter and logger before use.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		profile: DefaultProfile(),
		log:     slog.Default(),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetProfile overrides the publish and buy limits. Passing nil restores the
// defaults.
func (e *Engine) SetProfile(p *Profile) {
	if p == nil {
		e.profile = DefaultProfile()
		return
	}
	e.profile = p
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger overrides the engine logger. Passing nil restores the default.
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

// transfer moves amount of asset between two accounts. Debits are checked by
// the state backend; a failed debit leaves both sides untouched.
func (e *Engine) transfer(from, to types.Address, asset types.AssetID, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("token: negative transfer amount %s", amount)
	}
	if err := e.state.AdjustBalance(from, asset, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	return e.state.AdjustBalance(to, asset, amount)
}

// PublishOp asks the chain to create a user asset and its campaign.
type PublishOp struct {
	Issuer      types.Address
	Fee         *big.Int
	DeferredFee *big.Int
	Params      Params
	Exts        []Attribute
}

// BuyOp subscribes quantity units in one phase of a campaign.
type BuyOp struct {
	Buyer       types.Address
	CampaignID  uint64
	Phase       Phase
	Quantity    uint64
	Fee         *big.Int
	DeferredFee *big.Int
}

// EventOp drives one lifecycle event through the campaign state machine.
type EventOp struct {
	Operator   types.Address
	CampaignID uint64
	Event      EventName
	Options    []Attribute
}

// UpdateOp changes the mutable presentation fields of a campaign.
type UpdateOp struct {
	Operator         types.Address
	CampaignID       uint64
	Brief            *string
	Description      *string
	LogoURL          *string
	CustomAttributes []Attribute
}

var (
	nameRe  = regexp.MustCompile(`^[a-z][a-z0-9.\-]*$`)
	symRe   = regexp.MustCompile(`^[A-Z][A-Z0-9]{2,9}$`)
	httpsRe = regexp.MustCompile(`^https://[^\s]+$`)
)

// Publish validates op against the loaded profile and, when it passes,
// creates the asset, the campaign and its statistics record. The returned id
// identifies both the campaign and its statistics.
func (e *Engine) Publish(op *PublishOp, now uint64, blockNumber uint64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, ErrInvalidState
	}
	if op == nil {
		return 0, ErrNilOperation
	}
	if err := e.validatePublish(op, now); err != nil {
		return 0, err
	}
	return e.applyPublish(op, now, blockNumber)
}

func (e *Engine) validatePublish(op *PublishOp, now uint64) error {
	p := &op.Params
	prof := e.profile

	name := strings.TrimSpace(p.AssetName)
	if len(name) < prof.NameMinLen {
		return rejectf(CodeNameTooShort, "asset name %q shorter than %d", name, prof.NameMinLen)
	}
	if len(name) > prof.NameMaxLen {
		return rejectf(CodeNameTooLong, "asset name %q longer than %d", name, prof.NameMaxLen)
	}
	if !nameRe.MatchString(name) {
		return rejectf(CodeNameBadChars, "asset name %q has illegal characters", name)
	}
	for _, reserved := range prof.ReservedNames {
		if strings.EqualFold(name, reserved) {
			return rejectf(CodeNameReserved, "asset name %q is reserved", name)
		}
	}
	upper := strings.ToUpper(name)
	if _, found, err := e.state.CampaignIDByName(upper); err != nil {
		return err
	} else if found {
		return rejectf(CodeNameTaken, "asset name %q already published", name)
	}

	if !symRe.MatchString(p.AssetSymbol) {
		return rejectf(CodeSymbolReserved, "asset symbol %q is malformed", p.AssetSymbol)
	}
	for _, reserved := range prof.ReservedSymbols {
		if p.AssetSymbol == reserved {
			return rejectf(CodeSymbolReserved, "asset symbol %q is reserved", p.AssetSymbol)
		}
	}
	if exists, err := e.state.AssetSymbolExists(p.AssetSymbol); err != nil {
		return err
	} else if exists {
		return rejectf(CodeSymbolTaken, "asset symbol %q already registered", p.AssetSymbol)
	}

	if p.LogoURL != "" && !httpsRe.MatchString(p.LogoURL) {
		return rejectf(CodeLogoNotHTTPS, "logo url must use https")
	}
	if attrValue(op.Exts, "poster_url") == "" {
		return rejectf(CodePosterMissing, "exts must carry poster_url")
	}
	if poster := attrValue(op.Exts, "poster_url"); !httpsRe.MatchString(poster) {
		return rejectf(CodeLogoNotHTTPS, "poster url must use https")
	}

	maxSupply := bigOrZero(p.MaxSupply)
	if maxSupply.Cmp(MinMaxSupply) < 0 {
		return rejectf(CodeMaxSupplyTooSmall, "max supply %s below %s", maxSupply, MinMaxSupply)
	}
	if maxSupply.Cmp(MaxMaxSupply) > 0 {
		return rejectf(CodeMaxSupplyTooLarge, "max supply %s above %s", maxSupply, MaxMaxSupply)
	}

	plan := bigOrZero(p.PlanBuyTotal)
	if plan.Sign() < 0 || plan.Cmp(maxSupply) > 0 {
		return rejectf(CodePlanOutOfRange, "plan buy total %s outside [0, %s]", plan, maxSupply)
	}
	reserved := new(big.Int).Sub(maxSupply, plan)
	if reserved.Sign() == 0 && p.ReservedFrozenMonths != 0 {
		return rejectf(CodeFrozenMonthsNonZero, "no reserved tranche, frozen months must be 0")
	}
	if reserved.Sign() > 0 && plan.Sign() > 0 {
		if p.ReservedFrozenMonths == 0 || p.ReservedFrozenMonths > prof.FrozenMonthsMax {
			return rejectf(CodeFrozenMonthsRange, "reserved frozen months %d outside [1, %d]", p.ReservedFrozenMonths, prof.FrozenMonthsMax)
		}
	}

	typeOK, subOK := prof.validCategory(p.Type, p.Subtype)
	if !typeOK {
		return rejectf(CodeBadType, "unknown campaign type %q", p.Type)
	}
	if !subOK {
		return rejectf(CodeBadSubtype, "unknown subtype %q for type %q", p.Subtype, p.Type)
	}

	if p.NeedRaising {
		if err := e.validateRaising(p, now); err != nil {
			return err
		}
	}

	guaranty := bigOrZero(p.GuarantyAmount)
	if guaranty.Sign() < 0 || guaranty.Cmp(GuarantyCap) > 0 {
		return rejectf(CodeGuarantyTooLarge, "guaranty %s above cap %s", guaranty, GuarantyCap)
	}
	if guaranty.Sign() > 0 {
		if p.GuarantyMonths == 0 || p.GuarantyMonths > prof.GuarantyMonthsMax {
			return rejectf(CodeGuarantyMonthsRange, "guaranty months %d outside [1, %d]", p.GuarantyMonths, prof.GuarantyMonthsMax)
		}
	} else if p.GuarantyMonths != 0 {
		return rejectf(CodeGuarantyMonthsRange, "guaranty months set without guaranty amount")
	}

	if len(p.Whitelist) > prof.MaxWhitelist {
		return rejectf(CodeWhitelistTooLarge, "whitelist has %d entries, max %d", len(p.Whitelist), prof.MaxWhitelist)
	}
	for _, addr := range p.Whitelist {
		if addr.IsZero() {
			return rejectf(CodeWhitelistBadEntry, "whitelist entry is the zero address")
		}
		if ok, err := e.state.AccountExists(addr); err != nil {
			return err
		} else if !ok {
			return rejectf(CodeWhitelistBadEntry, "whitelist entry %s has no account", addr)
		}
	}

	if len(p.Brief) > prof.BriefMaxLen {
		return rejectf(CodeBriefTooLong, "brief longer than %d", prof.BriefMaxLen)
	}
	if len(p.Description) > prof.DescriptionMaxLen {
		return rejectf(CodeDescriptionTooLong, "description longer than %d", prof.DescriptionMaxLen)
	}
	if strings.Contains(p.Description, "http://") {
		return rejectf(CodeDescriptionBadLink, "description links must use https")
	}

	if len(p.CustomAttributes) > prof.MaxCustomAttributes {
		return rejectf(CodeTooManyAttributes, "%d custom attributes, max %d", len(p.CustomAttributes), prof.MaxCustomAttributes)
	}
	for _, a := range p.CustomAttributes {
		if len(a.Key) == 0 || len(a.Key) > prof.AttrKeyMaxLen || len(a.Value) > prof.AttrValueMaxLen {
			return rejectf(CodeAttributeTooLong, "custom attribute %q out of bounds", a.Key)
		}
	}

	need := new(big.Int).Add(bigOrZero(op.Fee), guaranty)
	bal, err := e.state.GetBalance(op.Issuer, types.CoreAsset)
	if err != nil {
		return err
	}
	if bal.Cmp(need) < 0 {
		return rejectf(CodeInsufficientFunds, "issuer balance %s below fee plus guaranty %s", bal, need)
	}
	return nil
}

func (e *Engine) validateRaising(p *Params, now uint64) error {
	prof := e.profile
	if p.Phase1.BeginTime == 0 || p.Phase1.EndTime == 0 || p.Phase2.BeginTime == 0 || p.Phase2.EndTime == 0 {
		return rejectf(CodePhaseMissing, "raising campaigns need both phase windows")
	}
	plan := bigOrZero(p.PlanBuyTotal)
	if plan.Sign() <= 0 {
		return rejectf(CodePlanTooSmall, "raising campaigns need a positive plan buy total")
	}
	for i, ph := range []BuyPhase{p.Phase1, p.Phase2} {
		if bigOrZero(ph.Ratio.Base).Sign() <= 0 || bigOrZero(ph.Ratio.Quote).Sign() <= 0 {
			return rejectf(CodeRatioNotPositive, "phase %d exchange ratio must be positive", i+1)
		}
		if plan.Cmp(ph.Ratio.Quote) < 0 {
			return rejectf(CodePlanTooSmall, "plan buy total below one phase %d subscription unit", i+1)
		}
	}
	if p.Phase1.BeginTime < now {
		return rejectf(CodePhase1TooEarly, "phase 1 begins in the past")
	}
	maxDelay := uint64(prof.MaxStartDelayDays) * 24 * 3600
	if p.Phase1.BeginTime > now+maxDelay {
		return rejectf(CodePhase1TooFar, "phase 1 begins more than %d days out", prof.MaxStartDelayDays)
	}
	if p.Phase1.EndTime <= p.Phase1.BeginTime || p.Phase2.BeginTime < p.Phase1.EndTime || p.Phase2.EndTime <= p.Phase2.BeginTime {
		return rejectf(CodePhaseOrder, "phase windows must be ordered phase1 < phase2")
	}
	for i, ph := range []BuyPhase{p.Phase1, p.Phase2} {
		dur := ph.EndTime - ph.BeginTime
		if dur < prof.PhaseMinSeconds || dur > prof.PhaseMaxSeconds {
			return rejectf(CodePhaseDuration, "phase %d duration %ds outside [%d, %d]", i+1, dur, prof.PhaseMinSeconds, prof.PhaseMaxSeconds)
		}
	}
	// Cross-multiplied so phase 1 is never priced above phase 2.
	left := new(big.Int).Mul(p.Phase1.Ratio.Base, p.Phase2.Ratio.Quote)
	right := new(big.Int).Mul(p.Phase2.Ratio.Base, p.Phase1.Ratio.Quote)
	if left.Cmp(right) > 0 {
		return rejectf(CodeRatioOrder, "phase 1 price must not exceed phase 2 price")
	}
	if p.SucceedMinPercent == 0 || p.SucceedMinPercent > 100 {
		return rejectf(CodePercentRange, "success percent %d outside [1, 100]", p.SucceedMinPercent)
	}
	return nil
}

func (e *Engine) applyPublish(op *PublishOp, now uint64, blockNumber uint64) (uint64, error) {
	p := &op.Params
	maxSupply := cloneBig(p.MaxSupply)
	plan := cloneBig(p.PlanBuyTotal)
	guaranty := cloneBig(p.GuarantyAmount)
	reserved := new(big.Int).Sub(maxSupply, plan)

	assetID, err := e.state.AssetCreate(p.AssetSymbol, maxSupply, op.Issuer)
	if err != nil {
		return 0, err
	}
	// The full supply is minted to the issuer, then escrowed per branch.
	if err := e.state.AdjustBalance(op.Issuer, assetID, maxSupply); err != nil {
		return 0, err
	}
	if fee := bigOrZero(op.Fee); fee.Sign() > 0 {
		if err := e.transfer(op.Issuer, FeePoolAddress, types.CoreAsset, fee); err != nil {
			return 0, err
		}
	}

	c := &Campaign{
		Issuer:        op.Issuer,
		AssetID:       assetID,
		UpperName:     strings.ToUpper(strings.TrimSpace(p.AssetName)),
		Control:       ControlAvailable,
		Params:        *p,
		Times:         Schedule{CreateTime: now},
		BuySucceedMin: new(big.Int),
		ReservedTotal: new(big.Int),
		GuarantyCredit: new(big.Int).Mul(
			new(big.Int).Quo(guaranty, precisionBig),
			new(big.Int).SetUint64(uint64(p.GuarantyMonths)),
		),
		EachPeriodGuaranty: new(big.Int),
		EachPeriodReserved: new(big.Int),
		DeferredFee:        cloneBig(op.DeferredFee),
	}

	switch {
	case p.NeedRaising:
		c.Status = StatusCreate
		c.Times.Phase1Begin = p.Phase1.BeginTime
		c.Times.Phase1End = p.Phase1.EndTime
		c.Times.Phase2Begin = p.Phase2.BeginTime
		c.Times.Phase2End = p.Phase2.EndTime
		c.BuySucceedMin = new(big.Int).Quo(
			new(big.Int).Mul(plan, new(big.Int).SetUint64(uint64(p.SucceedMinPercent))),
			big.NewInt(100),
		)
		c.ReservedTotal = reserved
		c.EachPeriodGuaranty = eachPeriodAmount(guaranty, p.GuarantyMonths)
		c.EachPeriodReserved = eachPeriodAmount(reserved, p.ReservedFrozenMonths)
		// Supply and collateral move into the vault until settlement.
		if err := e.transfer(op.Issuer, VaultAddress, assetID, maxSupply); err != nil {
			return 0, err
		}
		if err := e.transfer(op.Issuer, VaultAddress, types.CoreAsset, guaranty); err != nil {
			return 0, err
		}
	case plan.Sign() == 0 || plan.Cmp(maxSupply) == 0:
		// Nothing to raise and nothing frozen; the campaign is born closed
		// and the issuer keeps the whole supply.
		c.Status = StatusClose
	default:
		// No raise, but the reserved tranche still vests in installments.
		c.Status = StatusSettle
		c.Succeed = true
		c.ReservedTotal = reserved
		c.EachPeriodReserved = eachPeriodAmount(reserved, p.ReservedFrozenMonths)
		c.Times.SettleTime = now
		c.Times.NextReservedReturn = now + types.SecondsPerMonth
		c.Times.ReservedReturnEnd = now + uint64(p.ReservedFrozenMonths)*types.SecondsPerMonth
		if err := e.transfer(op.Issuer, VaultAddress, assetID, reserved); err != nil {
			return 0, err
		}
	}

	id, err := e.state.CampaignCreate(c)
	if err != nil {
		return 0, err
	}
	stats := &Statistics{
		CampaignID:        id,
		ActualCoreTotal:   new(big.Int),
		ActualBuyTotal:    new(big.Int),
		ActualNotBuyTotal: cloneBig(plan),
		ReturnedGuaranty:  new(big.Int),
		ReturnedReserved:  new(big.Int),
	}
	if err := e.state.StatisticsPut(stats); err != nil {
		return 0, err
	}

	rec := &EventRecord{
		Operator:    op.Issuer,
		CampaignID:  id,
		Event:       EventCreate,
		BlockNumber: blockNumber,
		Time:        now,
		Handled:     true,
	}
	if _, err := e.state.EventCreate(rec); err != nil {
		return 0, err
	}

	e.emit(&CampaignPublishedEvent{
		ID:      id,
		Issuer:  op.Issuer,
		AssetID: assetID,
		Name:    p.AssetName,
		Symbol:  p.AssetSymbol,
		Status:  c.Status,
	})
	return id, nil
}

// Buy validates and applies one subscription. When the purchase fills the
// plan, or the remainder can no longer fit one unit at the current ratio,
// settlement is attempted immediately; a settlement failure is rolled back
// and logged without failing the buy.
func (e *Engine) Buy(op *BuyOp, now uint64, blockNumber uint64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, ErrInvalidState
	}
	if op == nil {
		return 0, ErrNilOperation
	}
	c, ok, err := e.state.CampaignGet(op.CampaignID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, rejectf(CodeCampaignNotFound, "campaign %d not found", op.CampaignID)
	}
	stats, ok, err := e.state.StatisticsGet(op.CampaignID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("token: statistics missing for campaign %d", op.CampaignID)
	}
	if err := e.validateBuy(op, c, now); err != nil {
		return 0, err
	}
	return e.applyBuy(op, c, stats, now, blockNumber)
}

func (e *Engine) validateBuy(op *BuyOp, c *Campaign, now uint64) error {
	if c.Control == ControlUnavailable {
		return rejectf(CodeCampaignUnavailable, "campaign %d is unavailable", c.ID)
	}
	var want Status
	switch op.Phase {
	case Phase1:
		want = StatusPhase1Begin
	case Phase2:
		want = StatusPhase2Begin
	default:
		return rejectf(CodePhaseNotOpen, "unknown phase %d", op.Phase)
	}
	if c.Status != want {
		return rejectf(CodeCampaignNotBuyable, "campaign %d status %s does not accept phase %d buys", c.ID, c.Status, op.Phase)
	}
	ph := c.phase(op.Phase)
	// The window is closed-closed; a buy landing exactly on the end time
	// still counts.
	if now < ph.BeginTime || now > ph.EndTime {
		return rejectf(CodePhaseNotOpen, "phase %d window closed at %d", op.Phase, now)
	}
	if op.Quantity == 0 {
		return rejectf(CodeQuantityZero, "quantity must be positive")
	}
	if op.Buyer == c.Issuer {
		return rejectf(CodeBuyerIsIssuer, "issuer may not subscribe to its own campaign")
	}
	if len(c.Params.Whitelist) > 0 {
		listed := false
		for _, addr := range c.Params.Whitelist {
			if addr == op.Buyer {
				listed = true
				break
			}
		}
		if !listed {
			return rejectf(CodeBuyerNotWhitelisted, "buyer %s is not whitelisted", op.Buyer)
		}
	}
	buys, err := e.state.BuysByCampaign(c.ID)
	if err != nil {
		return err
	}
	times := 0
	for _, b := range buys {
		if b.Buyer == op.Buyer {
			times++
		}
	}
	if times >= e.profile.BuyMaxTimes {
		return rejectf(CodeBuyTooManyTimes, "buyer already subscribed %d times, max %d", times, e.profile.BuyMaxTimes)
	}
	return nil
}

func (e *Engine) applyBuy(op *BuyOp, c *Campaign, stats *Statistics, now uint64, blockNumber uint64) (uint64, error) {
	ph := c.phase(op.Phase)
	pay, buy := payAmounts(ph.Ratio, op.Quantity)

	if stats.ActualNotBuyTotal.Cmp(buy) < 0 {
		return 0, rejectf(CodeBuyOverPlan, "subscription %s exceeds remaining %s", buy, stats.ActualNotBuyTotal)
	}
	need := new(big.Int).Add(pay, bigOrZero(op.Fee))
	bal, err := e.state.GetBalance(op.Buyer, types.CoreAsset)
	if err != nil {
		return 0, err
	}
	if bal.Cmp(need) < 0 {
		return 0, rejectf(CodeInsufficientFunds, "buyer balance %s below pay plus fee %s", bal, need)
	}

	if err := e.transfer(op.Buyer, VaultAddress, types.CoreAsset, pay); err != nil {
		return 0, err
	}
	if fee := bigOrZero(op.Fee); fee.Sign() > 0 {
		if err := e.transfer(op.Buyer, FeePoolAddress, types.CoreAsset, fee); err != nil {
			return 0, err
		}
	}

	rec := &Buy{
		Buyer:             op.Buyer,
		CampaignID:        c.ID,
		Phase:             op.Phase,
		Quantity:          op.Quantity,
		BuyTime:           now,
		PayBaseAmount:     pay,
		BuyQuoteAmount:    buy,
		RewardQuoteAmount: new(big.Int),
		DeferredFee:       cloneBig(op.DeferredFee),
	}
	buyID, err := e.state.BuyCreate(rec)
	if err != nil {
		return 0, err
	}

	stats.AddBuyer(op.Buyer)
	stats.ActualCoreTotal = new(big.Int).Add(stats.ActualCoreTotal, pay)
	stats.ActualBuyTotal = new(big.Int).Add(stats.ActualBuyTotal, buy)
	stats.ActualNotBuyTotal = new(big.Int).Sub(stats.ActualNotBuyTotal, buy)
	stats.ActualBuyPercent = buyPercent(stats.ActualBuyTotal, c.BuySucceedMin)
	if err := e.state.StatisticsPut(stats); err != nil {
		return 0, err
	}

	filled := stats.ActualNotBuyTotal.Sign() == 0 || stats.ActualNotBuyTotal.Cmp(ph.Ratio.Quote) < 0
	if filled {
		c.Succeed = true
		c.Times.SettleTime = now
		scheduleStagedReturns(c, now)
		if err := e.state.CampaignPut(c); err != nil {
			return 0, err
		}
		// Settle inline; a failure rolls back only the settlement and the
		// sweep will retry via the regular phase2_end path.
		snap := e.state.Snapshot()
		evt := &EventOp{Operator: SystemAddress, CampaignID: c.ID, Event: EventSettle}
		if _, err := e.ApplyEvent(evt, now, blockNumber); err != nil {
			e.state.RevertToSnapshot(snap)
			e.log.Warn("token: inline settle failed, deferred to sweep",
				"campaign", c.ID, "err", err)
		}
	} else if err := e.state.CampaignPut(c); err != nil {
		return 0, err
	}

	e.emit(&BuyRecordedEvent{
		BuyID:      buyID,
		CampaignID: c.ID,
		Buyer:      op.Buyer,
		Phase:      op.Phase,
		Quantity:   op.Quantity,
		PayAmount:  pay,
		BuyAmount:  buy,
	})
	return buyID, nil
}

// scheduleStagedReturns derives the installment timetable from the moment
// the campaign succeeded.
func scheduleStagedReturns(c *Campaign, settleTime uint64) {
	if bigOrZero(c.Params.GuarantyAmount).Sign() > 0 {
		c.Times.NextGuarantyReturn = settleTime + types.SecondsPerMonth
		c.Times.GuarantyReturnEnd = settleTime + uint64(c.Params.GuarantyMonths)*types.SecondsPerMonth
	}
	if c.ReservedTotal.Sign() > 0 {
		c.Times.NextReservedReturn = settleTime + types.SecondsPerMonth
		c.Times.ReservedReturnEnd = settleTime + uint64(c.Params.ReservedFrozenMonths)*types.SecondsPerMonth
	}
}

// Update changes brief, description, logo or custom attributes on a live
// campaign. Updates are an operator action, not an issuer one, and only
// land while the campaign is not in a terminal state.
func (e *Engine) Update(op *UpdateOp, now uint64) error {
	if e == nil || e.state == nil {
		return ErrInvalidState
	}
	if op == nil {
		return ErrNilOperation
	}
	c, ok, err := e.state.CampaignGet(op.CampaignID)
	if err != nil {
		return err
	}
	if !ok {
		return rejectf(CodeCampaignNotFound, "campaign %d not found", op.CampaignID)
	}
	if op.Operator != SystemAddress {
		return rejectf(CodeUpdateUnauthorized, "campaign updates require operator authority")
	}
	if c.Status == StatusClose || c.Status == StatusRestore {
		return rejectf(CodeUpdateClosed, "campaign %d no longer accepts updates", op.CampaignID)
	}
	prof := e.profile
	if op.Brief != nil {
		if len(*op.Brief) > prof.BriefMaxLen {
			return rejectf(CodeBriefTooLong, "brief longer than %d", prof.BriefMaxLen)
		}
		c.Params.Brief = *op.Brief
	}
	if op.Description != nil {
		if c.Control == ControlDescriptionForbidden {
			return rejectf(CodeUpdateForbiddenField, "description updates are disabled for campaign %d", op.CampaignID)
		}
		if len(*op.Description) > prof.DescriptionMaxLen {
			return rejectf(CodeDescriptionTooLong, "description longer than %d", prof.DescriptionMaxLen)
		}
		if strings.Contains(*op.Description, "http://") {
			return rejectf(CodeDescriptionBadLink, "description links must use https")
		}
		c.Params.Description = *op.Description
	}
	if op.LogoURL != nil {
		if *op.LogoURL != "" && !httpsRe.MatchString(*op.LogoURL) {
			return rejectf(CodeLogoNotHTTPS, "logo url must use https")
		}
		c.Params.LogoURL = *op.LogoURL
	}
	if op.CustomAttributes != nil {
		if len(op.CustomAttributes) > prof.MaxCustomAttributes {
			return rejectf(CodeTooManyAttributes, "%d custom attributes, max %d", len(op.CustomAttributes), prof.MaxCustomAttributes)
		}
		for _, a := range op.CustomAttributes {
			if len(a.Key) == 0 || len(a.Key) > prof.AttrKeyMaxLen || len(a.Value) > prof.AttrValueMaxLen {
				return rejectf(CodeAttributeTooLong, "custom attribute %q out of bounds", a.Key)
			}
		}
		c.Params.CustomAttributes = op.CustomAttributes
	}
	if err := e.state.CampaignPut(c); err != nil {
		return err
	}
	e.emit(&UpdatedEvent{CampaignID: c.ID})
	return nil
}
