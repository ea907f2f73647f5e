package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"agchain/core/types"
	"agchain/native/delaytransfer"
	"agchain/native/token"
	"agchain/storage"
)

func addr(b byte) types.Address {
	var a types.Address
	a[19] = b
	return a
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(storage.NewMemDB())
	require.NoError(t, err)
	return m
}

func TestNewManagerSeedsCoreAsset(t *testing.T) {
	db := storage.NewMemDB()
	m, err := NewManager(db)
	require.NoError(t, err)

	ok, err := m.AssetExists(types.CoreAsset)
	require.NoError(t, err)
	require.True(t, ok)

	a, ok, err := m.AssetGet(types.CoreAsset)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "AGC", a.Symbol)

	taken, err := m.AssetSymbolExists("AGC")
	require.NoError(t, err)
	require.True(t, taken)

	// The seed write must not linger in the journal.
	require.Zero(t, m.Snapshot())

	// Reopening an existing database does not reseed.
	m2, err := NewManager(db)
	require.NoError(t, err)
	ok, err = m2.AssetExists(types.CoreAsset)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAdjustBalance(t *testing.T) {
	m := newTestManager(t)
	alice := addr(1)

	require.NoError(t, m.AdjustBalance(alice, types.CoreAsset, big.NewInt(500)))

	// A first credit registers the account.
	ok, err := m.AccountExists(alice)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.AdjustBalance(alice, types.CoreAsset, big.NewInt(-200)))
	bal, err := m.GetBalance(alice, types.CoreAsset)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(300), bal)

	// Overdrafts fail and leave the balance alone.
	err = m.AdjustBalance(alice, types.CoreAsset, big.NewInt(-301))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	bal, _ = m.GetBalance(alice, types.CoreAsset)
	require.Equal(t, big.NewInt(300), bal)

	// The returned balance is a copy.
	bal.SetInt64(0)
	again, _ := m.GetBalance(alice, types.CoreAsset)
	require.Equal(t, big.NewInt(300), again)
}

func TestSnapshotRevert(t *testing.T) {
	m := newTestManager(t)
	alice := addr(1)
	require.NoError(t, m.AdjustBalance(alice, types.CoreAsset, big.NewInt(100)))
	m.DiscardJournal()

	rev := m.Snapshot()
	require.NoError(t, m.AdjustBalance(alice, types.CoreAsset, big.NewInt(50)))
	_, err := m.AssetCreate("NEW", big.NewInt(1000), alice)
	require.NoError(t, err)

	inner := m.Snapshot()
	require.NoError(t, m.AdjustBalance(alice, types.CoreAsset, big.NewInt(-150)))
	m.RevertToSnapshot(inner)

	bal, _ := m.GetBalance(alice, types.CoreAsset)
	require.Equal(t, big.NewInt(150), bal)

	m.RevertToSnapshot(rev)
	bal, _ = m.GetBalance(alice, types.CoreAsset)
	require.Equal(t, big.NewInt(100), bal)

	// Keys created inside the reverted span are gone, not zeroed.
	ok, err := m.AssetSymbolExists("NEW")
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = m.AssetExists(types.AssetID(1))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAssetCreateAndRestrictions(t *testing.T) {
	m := newTestManager(t)
	issuer := addr(1)
	member := addr(2)
	outsider := addr(3)

	id, err := m.AssetCreate("GOLD", big.NewInt(1_000_000), issuer)
	require.NoError(t, err)
	require.Equal(t, types.AssetID(1), id)

	id2, err := m.AssetCreate("SILVER", big.NewInt(1_000_000), issuer)
	require.NoError(t, err)
	require.Equal(t, types.AssetID(2), id2)

	_, err = m.AssetCreate("GOLD", big.NewInt(5), issuer)
	require.ErrorIs(t, err, ErrAssetExists)

	// Unrestricted assets move freely.
	ok, err := m.AssetTransferAllowed(id, outsider, member)
	require.NoError(t, err)
	require.True(t, ok)

	a, _, err := m.AssetGet(id)
	require.NoError(t, err)
	a.TransferRestricted = true
	a.Whitelist = []types.Address{member}
	require.NoError(t, m.AssetPut(a))

	ok, _ = m.AssetTransferAllowed(id, issuer, member)
	require.True(t, ok)
	ok, _ = m.AssetTransferAllowed(id, issuer, outsider)
	require.False(t, ok)
	ok, _ = m.AssetTransferAllowed(id, outsider, member)
	require.False(t, ok)

	// Unknown assets never move.
	ok, _ = m.AssetTransferAllowed(types.AssetID(99), issuer, member)
	require.False(t, ok)
}

func TestCursorAndMeta(t *testing.T) {
	m := newTestManager(t)

	n, err := m.CursorLoad("token")
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, m.CursorStore("token", 17))
	n, err = m.CursorLoad("token")
	require.NoError(t, err)
	require.Equal(t, uint64(17), n)

	require.NoError(t, m.MetaStore("height", 42))
	h, err := m.MetaLoad("height")
	require.NoError(t, err)
	require.Equal(t, uint64(42), h)
}

// testCampaign fills every amount field so the encoded record roundtrips
// exactly.
func testCampaign(issuer types.Address) *token.Campaign {
	ratio := func(b, q int64) token.ExchangeRatio {
		return token.ExchangeRatio{Base: big.NewInt(b), Quote: big.NewInt(q)}
	}
	return &token.Campaign{
		Issuer:    issuer,
		AssetID:   1,
		UpperName: "STARLIGHT",
		Status:    token.StatusCreate,
		Params: token.Params{
			AssetName:            "starlight",
			AssetSymbol:          "STL",
			LogoURL:              "https://example.org/logo.png",
			Brief:                "b",
			Description:          "d",
			Type:                 "art",
			Subtype:              "music",
			MaxSupply:            big.NewInt(1_000_000),
			PlanBuyTotal:         big.NewInt(500_000),
			NeedRaising:          true,
			Phase1:               token.BuyPhase{BeginTime: 10, EndTime: 20, Ratio: ratio(1, 10)},
			Phase2:               token.BuyPhase{BeginTime: 20, EndTime: 30, Ratio: ratio(2, 10)},
			SucceedMinPercent:    50,
			GuarantyAmount:       big.NewInt(77),
			GuarantyMonths:       2,
			ReservedFrozenMonths: 5,
			Whitelist:            []types.Address{addr(9)},
			CustomAttributes:     []token.Attribute{{Key: "k", Value: "v"}},
		},
		Times:              token.Schedule{CreateTime: 5, Phase1Begin: 10, Phase1End: 20, Phase2Begin: 20, Phase2End: 30},
		BuySucceedMin:      big.NewInt(250_000),
		ReservedTotal:      big.NewInt(500_000),
		EachPeriodGuaranty: big.NewInt(38),
		EachPeriodReserved: big.NewInt(100_000),
		GuarantyCredit:     big.NewInt(154),
		DeferredFee:        big.NewInt(3),
		Exts:               []token.Attribute{{Key: "poster_url", Value: "https://example.org/p.png"}},
	}
}

func TestCampaignStoreRoundtrip(t *testing.T) {
	m := newTestManager(t)
	c := testCampaign(addr(1))

	id, err := m.CampaignCreate(c)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	got, ok, err := m.CampaignGet(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, c, got)

	byName, ok, err := m.CampaignIDByName("STARLIGHT")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, byName)

	got.Status = token.StatusPhase1Begin
	require.NoError(t, m.CampaignPut(got))
	again, _, _ := m.CampaignGet(id)
	require.Equal(t, token.StatusPhase1Begin, again.Status)

	count, err := m.CampaignCount()
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)

	_, ok, err = m.CampaignGet(99)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBuysByCampaignKeepsOrder(t *testing.T) {
	m := newTestManager(t)
	mk := func(campaign uint64, buyer types.Address, qty uint64) *token.Buy {
		return &token.Buy{
			Buyer:             buyer,
			CampaignID:        campaign,
			Phase:             token.Phase1,
			Quantity:          qty,
			BuyTime:           100,
			PayBaseAmount:     big.NewInt(int64(qty)),
			BuyQuoteAmount:    big.NewInt(int64(qty * 10)),
			RewardQuoteAmount: big.NewInt(1),
			DeferredFee:       big.NewInt(1),
		}
	}
	for _, b := range []*token.Buy{mk(1, addr(2), 5), mk(2, addr(3), 7), mk(1, addr(3), 9)} {
		_, err := m.BuyCreate(b)
		require.NoError(t, err)
	}

	buys, err := m.BuysByCampaign(1)
	require.NoError(t, err)
	require.Len(t, buys, 2)
	require.Equal(t, uint64(5), buys[0].Quantity)
	require.Equal(t, uint64(9), buys[1].Quantity)

	buys[0].RewardQuoteAmount = big.NewInt(42)
	require.NoError(t, m.BuyPut(buys[0]))
	got, ok, err := m.BuyGet(buys[0].ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, big.NewInt(42), got.RewardQuoteAmount)

	empty, err := m.BuysByCampaign(77)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestEventStore(t *testing.T) {
	m := newTestManager(t)
	rec := &token.EventRecord{
		Operator:    addr(1),
		CampaignID:  1,
		Event:       token.EventPhase1Begin,
		Options:     []token.Attribute{{Key: "test", Value: "true"}},
		BlockNumber: 7,
		Time:        100,
	}
	id, err := m.EventCreate(rec)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	rec.Handled = true
	require.NoError(t, m.EventPut(rec))

	got, ok, err := m.EventGet(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Handled)
	require.Equal(t, "true", got.Option("test"))

	count, err := m.EventCount()
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)
}

func TestFeeCashbackAccrues(t *testing.T) {
	m := newTestManager(t)
	alice := addr(1)

	require.NoError(t, m.FeeCashbackAdd(alice, big.NewInt(30)))
	require.NoError(t, m.FeeCashbackAdd(alice, big.NewInt(12)))
	got, err := m.FeeCashback(alice)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(42), got)

	other, err := m.FeeCashback(addr(2))
	require.NoError(t, err)
	require.Zero(t, other.Sign())
}

func TestDelayTransferStoreIndexes(t *testing.T) {
	m := newTestManager(t)
	from := addr(1)
	to := addr(2)

	mk := func(amount int64, release uint64) *delaytransfer.DelayTransfer {
		return &delaytransfer.DelayTransfer{
			From:         from,
			ScheduleTime: 100,
			Entries: []delaytransfer.Entry{{
				Receiver:    to,
				AssetID:     types.CoreAsset,
				Amount:      big.NewInt(amount),
				ReleaseTime: release,
				Memo:        "m",
			}},
		}
	}
	id1, err := m.DelayTransferCreate(mk(10, 200))
	require.NoError(t, err)
	id2, err := m.DelayTransferCreate(mk(20, 300))
	require.NoError(t, err)
	require.Equal(t, uint64(1), id1)
	require.Equal(t, uint64(2), id2)

	byFrom, err := m.DelayTransfersByFrom(from)
	require.NoError(t, err)
	require.Len(t, byFrom, 2)
	require.Equal(t, big.NewInt(10), byFrom[0].Entries[0].Amount)

	byTo, err := m.DelayTransfersByTo(to)
	require.NoError(t, err)
	require.Len(t, byTo, 2)

	got := byTo[1]
	got.Entries[0].Executed = true
	got.Entries[0].ExecutedTime = 300
	got.Finished = true
	require.NoError(t, m.DelayTransferPut(got))
	again, ok, err := m.DelayTransferGet(id2)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, again.Finished)
	require.Zero(t, again.Pending())

	count, err := m.DelayTransferCount()
	require.NoError(t, err)
	require.Equal(t, uint64(2), count)
}

func TestUnexecutedLedger(t *testing.T) {
	m := newTestManager(t)
	to := addr(2)

	require.NoError(t, m.UnexecutedAdd(to, 3, big.NewInt(7)))
	require.NoError(t, m.UnexecutedAdd(to, types.CoreAsset, big.NewInt(100)))
	require.NoError(t, m.UnexecutedAdd(to, types.CoreAsset, big.NewInt(50)))

	list, err := m.UnexecutedBalances(to)
	require.NoError(t, err)
	require.Equal(t, []AssetAmount{
		{AssetID: types.CoreAsset, Amount: big.NewInt(150)},
		{AssetID: 3, Amount: big.NewInt(7)},
	}, list)

	require.NoError(t, m.UnexecutedSub(to, 3, big.NewInt(7)))
	err = m.UnexecutedSub(to, 3, big.NewInt(1))
	require.Error(t, err)

	// Drained assets drop out of the listing.
	list, err = m.UnexecutedBalances(to)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, types.CoreAsset, list[0].AssetID)
}
