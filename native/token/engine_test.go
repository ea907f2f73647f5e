package token

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"agchain/core/types"
)

const baseTime uint64 = 1_700_000_000

func addr(b byte) types.Address {
	var a types.Address
	a[19] = b
	return a
}

type mockState struct {
	campaigns      map[uint64]*Campaign
	stats          map[uint64]*Statistics
	buys           map[uint64]*Buy
	buysByCampaign map[uint64][]uint64
	events         map[uint64]*EventRecord
	balances       map[string]*big.Int
	accounts       map[types.Address]bool
	assets         map[types.AssetID]bool
	assetSymbols   map[string]types.AssetID
	cashback       map[types.Address]*big.Int
	names          map[string]uint64
	campaignCount  uint64
	buyCount       uint64
	eventCount     uint64
	assetCount     uint64
	snapshots      []*mockState
}

func newMockState() *mockState {
	return &mockState{
		campaigns:      make(map[uint64]*Campaign),
		stats:          make(map[uint64]*Statistics),
		buys:           make(map[uint64]*Buy),
		buysByCampaign: make(map[uint64][]uint64),
		events:         make(map[uint64]*EventRecord),
		balances:       make(map[string]*big.Int),
		accounts:       make(map[types.Address]bool),
		assets:         make(map[types.AssetID]bool),
		assetSymbols:   make(map[string]types.AssetID),
		cashback:       make(map[types.Address]*big.Int),
		names:          make(map[string]uint64),
	}
}

func balKey(a types.Address, asset types.AssetID) string {
	return fmt.Sprintf("%s/%d", a, asset)
}

func cloneCampaign(c *Campaign) *Campaign {
	clone := *c
	clone.BuySucceedMin = cloneBig(c.BuySucceedMin)
	clone.ReservedTotal = cloneBig(c.ReservedTotal)
	clone.EachPeriodGuaranty = cloneBig(c.EachPeriodGuaranty)
	clone.EachPeriodReserved = cloneBig(c.EachPeriodReserved)
	clone.GuarantyCredit = cloneBig(c.GuarantyCredit)
	clone.DeferredFee = cloneBig(c.DeferredFee)
	return &clone
}

func cloneStats(s *Statistics) *Statistics {
	clone := *s
	clone.Buyers = append([]types.Address(nil), s.Buyers...)
	clone.ActualCoreTotal = cloneBig(s.ActualCoreTotal)
	clone.ActualBuyTotal = cloneBig(s.ActualBuyTotal)
	clone.ActualNotBuyTotal = cloneBig(s.ActualNotBuyTotal)
	clone.ReturnedGuaranty = cloneBig(s.ReturnedGuaranty)
	clone.ReturnedReserved = cloneBig(s.ReturnedReserved)
	clone.GuarantyReturns = append([]ReturnRecord(nil), s.GuarantyReturns...)
	clone.ReservedReturns = append([]ReturnRecord(nil), s.ReservedReturns...)
	return &clone
}

func cloneBuy(b *Buy) *Buy {
	clone := *b
	clone.PayBaseAmount = cloneBig(b.PayBaseAmount)
	clone.BuyQuoteAmount = cloneBig(b.BuyQuoteAmount)
	clone.RewardQuoteAmount = cloneBig(b.RewardQuoteAmount)
	clone.DeferredFee = cloneBig(b.DeferredFee)
	return &clone
}

func (m *mockState) clone() *mockState {
	c := newMockState()
	for k, v := range m.campaigns {
		c.campaigns[k] = cloneCampaign(v)
	}
	for k, v := range m.stats {
		c.stats[k] = cloneStats(v)
	}
	for k, v := range m.buys {
		c.buys[k] = cloneBuy(v)
	}
	for k, v := range m.buysByCampaign {
		c.buysByCampaign[k] = append([]uint64(nil), v...)
	}
	for k, v := range m.events {
		rec := *v
		c.events[k] = &rec
	}
	for k, v := range m.balances {
		c.balances[k] = cloneBig(v)
	}
	for k, v := range m.accounts {
		c.accounts[k] = v
	}
	for k, v := range m.assets {
		c.assets[k] = v
	}
	for k, v := range m.assetSymbols {
		c.assetSymbols[k] = v
	}
	for k, v := range m.cashback {
		c.cashback[k] = cloneBig(v)
	}
	for k, v := range m.names {
		c.names[k] = v
	}
	c.campaignCount = m.campaignCount
	c.buyCount = m.buyCount
	c.eventCount = m.eventCount
	c.assetCount = m.assetCount
	return c
}

func (m *mockState) restore(s *mockState) {
	m.campaigns = s.campaigns
	m.stats = s.stats
	m.buys = s.buys
	m.buysByCampaign = s.buysByCampaign
	m.events = s.events
	m.balances = s.balances
	m.accounts = s.accounts
	m.assets = s.assets
	m.assetSymbols = s.assetSymbols
	m.cashback = s.cashback
	m.names = s.names
	m.campaignCount = s.campaignCount
	m.buyCount = s.buyCount
	m.eventCount = s.eventCount
	m.assetCount = s.assetCount
}

func (m *mockState) Snapshot() int {
	m.snapshots = append(m.snapshots, m.clone())
	return len(m.snapshots) - 1
}

func (m *mockState) RevertToSnapshot(rev int) {
	m.restore(m.snapshots[rev])
	m.snapshots = m.snapshots[:rev]
}

func (m *mockState) CampaignCreate(c *Campaign) (uint64, error) {
	m.campaignCount++
	c.ID = m.campaignCount
	m.campaigns[c.ID] = cloneCampaign(c)
	m.names[c.UpperName] = c.ID
	return c.ID, nil
}

func (m *mockState) CampaignGet(id uint64) (*Campaign, bool, error) {
	c, ok := m.campaigns[id]
	if !ok {
		return nil, false, nil
	}
	return cloneCampaign(c), true, nil
}

func (m *mockState) CampaignPut(c *Campaign) error {
	m.campaigns[c.ID] = cloneCampaign(c)
	return nil
}

func (m *mockState) CampaignCount() (uint64, error) { return m.campaignCount, nil }

func (m *mockState) CampaignIDByName(upperName string) (uint64, bool, error) {
	id, ok := m.names[upperName]
	return id, ok, nil
}

func (m *mockState) StatisticsGet(id uint64) (*Statistics, bool, error) {
	s, ok := m.stats[id]
	if !ok {
		return nil, false, nil
	}
	return cloneStats(s), true, nil
}

func (m *mockState) StatisticsPut(s *Statistics) error {
	m.stats[s.CampaignID] = cloneStats(s)
	return nil
}

func (m *mockState) BuyCreate(b *Buy) (uint64, error) {
	m.buyCount++
	b.ID = m.buyCount
	m.buys[b.ID] = cloneBuy(b)
	m.buysByCampaign[b.CampaignID] = append(m.buysByCampaign[b.CampaignID], b.ID)
	return b.ID, nil
}

func (m *mockState) BuyPut(b *Buy) error {
	m.buys[b.ID] = cloneBuy(b)
	return nil
}

func (m *mockState) BuysByCampaign(campaignID uint64) ([]*Buy, error) {
	out := make([]*Buy, 0, len(m.buysByCampaign[campaignID]))
	for _, id := range m.buysByCampaign[campaignID] {
		out = append(out, cloneBuy(m.buys[id]))
	}
	return out, nil
}

func (m *mockState) EventCreate(r *EventRecord) (uint64, error) {
	m.eventCount++
	r.ID = m.eventCount
	rec := *r
	m.events[r.ID] = &rec
	return r.ID, nil
}

func (m *mockState) EventPut(r *EventRecord) error {
	rec := *r
	m.events[r.ID] = &rec
	return nil
}

func (m *mockState) AssetCreate(symbol string, maxSupply *big.Int, issuer types.Address) (types.AssetID, error) {
	if _, ok := m.assetSymbols[symbol]; ok {
		return 0, fmt.Errorf("symbol %s taken", symbol)
	}
	m.assetCount++
	id := types.AssetID(m.assetCount)
	m.assets[id] = true
	m.assetSymbols[symbol] = id
	return id, nil
}

func (m *mockState) AssetSymbolExists(symbol string) (bool, error) {
	_, ok := m.assetSymbols[symbol]
	return ok, nil
}

func (m *mockState) AccountExists(a types.Address) (bool, error) {
	return m.accounts[a], nil
}

func (m *mockState) GetBalance(a types.Address, asset types.AssetID) (*big.Int, error) {
	return cloneBig(m.balances[balKey(a, asset)]), nil
}

func (m *mockState) AdjustBalance(a types.Address, asset types.AssetID, delta *big.Int) error {
	bal := cloneBig(m.balances[balKey(a, asset)])
	bal.Add(bal, delta)
	if bal.Sign() < 0 {
		return fmt.Errorf("insufficient balance for %s asset %d", a, asset)
	}
	m.accounts[a] = true
	m.balances[balKey(a, asset)] = bal
	return nil
}

func (m *mockState) FeeCashbackAdd(a types.Address, amount *big.Int) error {
	cur := cloneBig(m.cashback[a])
	cur.Add(cur, amount)
	m.cashback[a] = cur
	return nil
}

func (m *mockState) fund(a types.Address, asset types.AssetID, amount int64) {
	m.accounts[a] = true
	m.balances[balKey(a, asset)] = big.NewInt(amount)
}

func (m *mockState) balance(a types.Address, asset types.AssetID) *big.Int {
	return cloneBig(m.balances[balKey(a, asset)])
}

func newTestEngine() (*Engine, *mockState) {
	st := newMockState()
	e := NewEngine()
	e.SetState(st)
	return e, st
}

func unit(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(types.BlockchainPrecision))
}

var (
	issuer = addr(1)
	alice  = addr(2)
	bob    = addr(3)
)

// raisingPublishOp builds a valid two-phase raising campaign: 1000 units of
// supply, 500 planned for sale, 50% success threshold, 10 AGC collateral
// over 2 months, 500 reserved units vesting over 5 months.
func raisingPublishOp() *PublishOp {
	return &PublishOp{
		Issuer:      issuer,
		Fee:         unit(1),
		DeferredFee: unit(1),
		Exts:        []Attribute{{Key: "poster_url", Value: "https://cdn.example.org/p.png"}},
		Params: Params{
			AssetName:    "starlight",
			AssetSymbol:  "STL",
			LogoURL:      "https://cdn.example.org/logo.png",
			Brief:        "a short brief",
			Description:  "a longer description with https://example.org only",
			Type:         "art",
			Subtype:      "music",
			MaxSupply:    unit(1000),
			PlanBuyTotal: unit(500),
			NeedRaising:  true,
			Phase1: BuyPhase{
				BeginTime: baseTime + 100,
				EndTime:   baseTime + 100 + 7200,
				Ratio:     ExchangeRatio{Base: unit(1), Quote: unit(10)},
			},
			Phase2: BuyPhase{
				BeginTime: baseTime + 100 + 7200,
				EndTime:   baseTime + 100 + 14400,
				Ratio:     ExchangeRatio{Base: unit(2), Quote: unit(10)},
			},
			SucceedMinPercent:    50,
			GuarantyAmount:       unit(10),
			GuarantyMonths:       2,
			ReservedFrozenMonths: 5,
		},
	}
}

func publishRaising(t *testing.T, e *Engine, st *mockState) uint64 {
	t.Helper()
	st.fund(issuer, types.CoreAsset, unit(100).Int64())
	id, err := e.Publish(raisingPublishOp(), baseTime, 1)
	require.NoError(t, err)
	return id
}

func TestPublishRaisingCampaign(t *testing.T) {
	e, st := newTestEngine()
	id := publishRaising(t, e, st)
	require.Equal(t, uint64(1), id)

	c, ok, err := st.CampaignGet(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusCreate, c.Status)
	require.Equal(t, "STARLIGHT", c.UpperName)
	require.Equal(t, unit(250), c.BuySucceedMin)
	require.Equal(t, unit(500), c.ReservedTotal)
	require.Equal(t, unit(5), c.EachPeriodGuaranty)
	require.Equal(t, unit(100), c.EachPeriodReserved)
	// 10 whole AGC over 2 months of cover.
	require.Equal(t, big.NewInt(20), c.GuarantyCredit)

	// The whole supply and the collateral sit in the vault; the issuer paid
	// fee plus collateral out of its 100 AGC.
	require.Equal(t, unit(1000), st.balance(VaultAddress, c.AssetID))
	require.Equal(t, unit(10), st.balance(VaultAddress, types.CoreAsset))
	require.Equal(t, unit(89), st.balance(issuer, types.CoreAsset))
	require.Equal(t, unit(1), st.balance(FeePoolAddress, types.CoreAsset))

	stats, ok, err := st.StatisticsGet(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, unit(500), stats.ActualNotBuyTotal)
	require.Zero(t, stats.BuyerCount)
}

func TestPublishNonRaisingFullSupplyClosesImmediately(t *testing.T) {
	e, st := newTestEngine()
	st.fund(issuer, types.CoreAsset, unit(100).Int64())
	op := raisingPublishOp()
	op.Params.NeedRaising = false
	op.Params.PlanBuyTotal = new(big.Int)
	op.Params.GuarantyAmount = nil
	op.Params.GuarantyMonths = 0
	op.Params.ReservedFrozenMonths = 0

	id, err := e.Publish(op, baseTime, 1)
	require.NoError(t, err)

	c, _, _ := st.CampaignGet(id)
	require.Equal(t, StatusClose, c.Status)
	// The issuer keeps the full supply.
	require.Equal(t, unit(1000), st.balance(issuer, c.AssetID))
	require.True(t, st.balance(VaultAddress, c.AssetID).Sign() == 0)
}

func TestPublishNonRaisingPartialPlanVestsReserved(t *testing.T) {
	e, st := newTestEngine()
	st.fund(issuer, types.CoreAsset, unit(100).Int64())
	op := raisingPublishOp()
	op.Params.NeedRaising = false
	op.Params.GuarantyAmount = nil
	op.Params.GuarantyMonths = 0

	id, err := e.Publish(op, baseTime, 1)
	require.NoError(t, err)

	c, _, _ := st.CampaignGet(id)
	require.Equal(t, StatusSettle, c.Status)
	require.True(t, c.Succeed)
	require.Equal(t, baseTime, c.Times.SettleTime)
	require.Equal(t, baseTime+types.SecondsPerMonth, c.Times.NextReservedReturn)
	require.Equal(t, baseTime+5*types.SecondsPerMonth, c.Times.ReservedReturnEnd)
	// Plan stays liquid with the issuer, the reserved half is escrowed.
	require.Equal(t, unit(500), st.balance(issuer, c.AssetID))
	require.Equal(t, unit(500), st.balance(VaultAddress, c.AssetID))
}

func TestPublishValidationErrnos(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*PublishOp)
		errno  int
	}{
		{"short name", func(op *PublishOp) { op.Params.AssetName = "ab" }, CodeNameTooShort},
		{"bad chars", func(op *PublishOp) { op.Params.AssetName = "Bad_Name" }, CodeNameBadChars},
		{"reserved name", func(op *PublishOp) { op.Params.AssetName = "agc" }, CodeNameReserved},
		{"reserved symbol", func(op *PublishOp) { op.Params.AssetSymbol = "AGC" }, CodeSymbolReserved},
		{"plain logo", func(op *PublishOp) { op.Params.LogoURL = "http://x.example.org/l.png" }, CodeLogoNotHTTPS},
		{"missing poster", func(op *PublishOp) { op.Exts = nil }, CodePosterMissing},
		{"supply too small", func(op *PublishOp) { op.Params.MaxSupply = big.NewInt(1) }, CodeMaxSupplyTooSmall},
		{"plan above supply", func(op *PublishOp) { op.Params.PlanBuyTotal = unit(2000) }, CodePlanOutOfRange},
		{"bad type", func(op *PublishOp) { op.Params.Type = "nope" }, CodeBadType},
		{"bad subtype", func(op *PublishOp) { op.Params.Subtype = "nope" }, CodeBadSubtype},
		{"phase1 in past", func(op *PublishOp) { op.Params.Phase1.BeginTime = baseTime - 1 }, CodePhase1TooEarly},
		{"phase order", func(op *PublishOp) { op.Params.Phase2.BeginTime = op.Params.Phase1.EndTime - 1 }, CodePhaseOrder},
		{"phase too short", func(op *PublishOp) { op.Params.Phase1.EndTime = op.Params.Phase1.BeginTime + 60 }, CodePhaseDuration},
		{"zero ratio", func(op *PublishOp) { op.Params.Phase1.Ratio.Base = new(big.Int) }, CodeRatioNotPositive},
		{"phase1 pricier", func(op *PublishOp) { op.Params.Phase1.Ratio.Base = unit(3) }, CodeRatioOrder},
		{"percent zero", func(op *PublishOp) { op.Params.SucceedMinPercent = 0 }, CodePercentRange},
		{"percent high", func(op *PublishOp) { op.Params.SucceedMinPercent = 101 }, CodePercentRange},
		{"guaranty over cap", func(op *PublishOp) {
			op.Params.GuarantyAmount = new(big.Int).Add(GuarantyCap, big.NewInt(1))
		}, CodeGuarantyTooLarge},
		{"guaranty without months", func(op *PublishOp) { op.Params.GuarantyMonths = 0 }, CodeGuarantyMonthsRange},
		{"zero whitelist entry", func(op *PublishOp) { op.Params.Whitelist = []types.Address{{}} }, CodeWhitelistBadEntry},
		{"description http link", func(op *PublishOp) {
			op.Params.Description = "see http://example.org"
		}, CodeDescriptionBadLink},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, st := newTestEngine()
			st.fund(issuer, types.CoreAsset, unit(100).Int64())
			op := raisingPublishOp()
			tc.mutate(op)
			_, err := e.Publish(op, baseTime, 1)
			require.Error(t, err)
			require.Equal(t, tc.errno, RejectCode(err), "got %v", err)
		})
	}
}

func TestPublishDuplicateNameRejected(t *testing.T) {
	e, st := newTestEngine()
	publishRaising(t, e, st)
	op := raisingPublishOp()
	op.Params.AssetSymbol = "STL2"
	_, err := e.Publish(op, baseTime, 2)
	require.Equal(t, CodeNameTaken, RejectCode(err))
}

func TestPublishInsufficientFunds(t *testing.T) {
	e, st := newTestEngine()
	st.fund(issuer, types.CoreAsset, unit(5).Int64())
	_, err := e.Publish(raisingPublishOp(), baseTime, 1)
	require.Equal(t, CodeInsufficientFunds, RejectCode(err))
}

// openPhase1 publishes and moves the campaign into its first window.
func openPhase1(t *testing.T, e *Engine, st *mockState) uint64 {
	t.Helper()
	id := publishRaising(t, e, st)
	_, err := e.ApplyEvent(&EventOp{Operator: SystemAddress, CampaignID: id, Event: EventPhase1Begin}, baseTime+100, 2)
	require.NoError(t, err)
	return id
}

func TestBuyRecordsAndStats(t *testing.T) {
	e, st := newTestEngine()
	id := openPhase1(t, e, st)
	st.fund(alice, types.CoreAsset, unit(50).Int64())

	// 3 units at 1 AGC per 10 quote units: pay 3 AGC, receive 30.
	buyID, err := e.Buy(&BuyOp{Buyer: alice, CampaignID: id, Phase: Phase1, Quantity: 3, Fee: unit(1)}, baseTime+200, 3)
	require.NoError(t, err)
	require.Equal(t, uint64(1), buyID)

	b := st.buys[buyID]
	require.Equal(t, unit(3), b.PayBaseAmount)
	require.Equal(t, unit(30), b.BuyQuoteAmount)

	stats, _, _ := st.StatisticsGet(id)
	require.Equal(t, uint64(1), stats.BuyerCount)
	require.Equal(t, unit(3), stats.ActualCoreTotal)
	require.Equal(t, unit(30), stats.ActualBuyTotal)
	require.Equal(t, unit(470), stats.ActualNotBuyTotal)
	// 30 of 250 threshold units is 12.00%.
	require.Equal(t, uint64(1200), stats.ActualBuyPercent)

	require.Equal(t, unit(46), st.balance(alice, types.CoreAsset))
}

func TestBuyRejections(t *testing.T) {
	e, st := newTestEngine()
	id := openPhase1(t, e, st)
	st.fund(alice, types.CoreAsset, unit(1000).Int64())

	_, err := e.Buy(&BuyOp{Buyer: alice, CampaignID: 99, Phase: Phase1, Quantity: 1}, baseTime+200, 3)
	require.Equal(t, CodeCampaignNotFound, RejectCode(err))

	_, err = e.Buy(&BuyOp{Buyer: alice, CampaignID: id, Phase: Phase2, Quantity: 1}, baseTime+200, 3)
	require.Equal(t, CodeCampaignNotBuyable, RejectCode(err))

	_, err = e.Buy(&BuyOp{Buyer: alice, CampaignID: id, Phase: Phase1, Quantity: 0}, baseTime+200, 3)
	require.Equal(t, CodeQuantityZero, RejectCode(err))

	_, err = e.Buy(&BuyOp{Buyer: issuer, CampaignID: id, Phase: Phase1, Quantity: 1}, baseTime+200, 3)
	require.Equal(t, CodeBuyerIsIssuer, RejectCode(err))

	// Whole plan is 50 phase-1 units; 51 overshoots.
	_, err = e.Buy(&BuyOp{Buyer: alice, CampaignID: id, Phase: Phase1, Quantity: 51}, baseTime+200, 3)
	require.Equal(t, CodeBuyOverPlan, RejectCode(err))
}

func TestBuyAtExactPhaseEndAccepted(t *testing.T) {
	e, st := newTestEngine()
	id := openPhase1(t, e, st)
	st.fund(alice, types.CoreAsset, unit(50).Int64())

	p := raisingPublishOp().Params
	_, err := e.Buy(&BuyOp{Buyer: alice, CampaignID: id, Phase: Phase1, Quantity: 1}, p.Phase1.EndTime, 3)
	require.NoError(t, err)

	_, err = e.Buy(&BuyOp{Buyer: alice, CampaignID: id, Phase: Phase1, Quantity: 1}, p.Phase1.EndTime+1, 3)
	require.Equal(t, CodePhaseNotOpen, RejectCode(err))
}

func TestBuyMaxTimesEnforced(t *testing.T) {
	e, st := newTestEngine()
	id := openPhase1(t, e, st)
	st.fund(alice, types.CoreAsset, unit(1000).Int64())

	for i := 0; i < DefaultProfile().BuyMaxTimes; i++ {
		_, err := e.Buy(&BuyOp{Buyer: alice, CampaignID: id, Phase: Phase1, Quantity: 1}, baseTime+200, 3)
		require.NoError(t, err)
	}
	_, err := e.Buy(&BuyOp{Buyer: alice, CampaignID: id, Phase: Phase1, Quantity: 1}, baseTime+200, 3)
	require.Equal(t, CodeBuyTooManyTimes, RejectCode(err))
}

func TestBuyWhitelistEnforced(t *testing.T) {
	e, st := newTestEngine()
	st.fund(issuer, types.CoreAsset, unit(100).Int64())
	st.accounts[alice] = true
	op := raisingPublishOp()
	op.Params.Whitelist = []types.Address{alice}
	id, err := e.Publish(op, baseTime, 1)
	require.NoError(t, err)
	_, err = e.ApplyEvent(&EventOp{Operator: SystemAddress, CampaignID: id, Event: EventPhase1Begin}, baseTime+100, 2)
	require.NoError(t, err)

	st.fund(alice, types.CoreAsset, unit(50).Int64())
	st.fund(bob, types.CoreAsset, unit(50).Int64())

	_, err = e.Buy(&BuyOp{Buyer: bob, CampaignID: id, Phase: Phase1, Quantity: 1}, baseTime+200, 3)
	require.Equal(t, CodeBuyerNotWhitelisted, RejectCode(err))

	_, err = e.Buy(&BuyOp{Buyer: alice, CampaignID: id, Phase: Phase1, Quantity: 1}, baseTime+200, 3)
	require.NoError(t, err)
}

func TestBuyFillingPlanSettlesInline(t *testing.T) {
	e, st := newTestEngine()
	id := openPhase1(t, e, st)
	st.fund(alice, types.CoreAsset, unit(1000).Int64())

	// 50 units of 10 quote each fills the 500-unit plan outright.
	_, err := e.Buy(&BuyOp{Buyer: alice, CampaignID: id, Phase: Phase1, Quantity: 50}, baseTime+200, 3)
	require.NoError(t, err)

	c, _, _ := st.CampaignGet(id)
	require.Equal(t, StatusSettle, c.Status)
	require.True(t, c.Succeed)
	require.Equal(t, baseTime+200, c.Times.SettleTime)
	require.Equal(t, baseTime+200+types.SecondsPerMonth, c.Times.NextGuarantyReturn)

	// Buyer got the full 500 bought units; nothing was unsold.
	require.Equal(t, unit(500), st.balance(alice, c.AssetID))
	// Issuer received the 50 AGC raise.
	require.Equal(t, unit(139), st.balance(issuer, types.CoreAsset))
	// Deferred publish fee became a cashback credit.
	require.Equal(t, unit(1), st.cashback[issuer])
}

func TestUpdateOperatorGatedAndRespectsControl(t *testing.T) {
	e, st := newTestEngine()
	id := publishRaising(t, e, st)

	// Not even the issuer may touch its own campaign presentation.
	brief := "new brief"
	err := e.Update(&UpdateOp{Operator: issuer, CampaignID: id, Brief: &brief}, baseTime)
	require.Equal(t, CodeUpdateUnauthorized, RejectCode(err))

	require.NoError(t, e.Update(&UpdateOp{Operator: SystemAddress, CampaignID: id, Brief: &brief}, baseTime))
	c, _, _ := st.CampaignGet(id)
	require.Equal(t, "new brief", c.Params.Brief)

	_, err = e.ApplyEvent(&EventOp{
		Operator:   SystemAddress,
		CampaignID: id,
		Event:      EventSetControl,
		Options:    []Attribute{{Key: "control", Value: "description_forbidden"}},
	}, baseTime, 2)
	require.NoError(t, err)

	desc := "changed"
	err = e.Update(&UpdateOp{Operator: SystemAddress, CampaignID: id, Description: &desc}, baseTime)
	require.Equal(t, CodeUpdateForbiddenField, RejectCode(err))
}
