package delaytransfer

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

var (
	sender   = addr(1)
	receiver = addr(2)
)

type restrictedAsset struct {
	issuer    types.Address
	whitelist []types.Address
}

type mockState struct {
	transfers  map[uint64]*DelayTransfer
	count      uint64
	balances   map[string]*big.Int
	unexecuted map[string]*big.Int
	assets     map[types.AssetID]bool
	restricted map[types.AssetID]restrictedAsset
	accounts   map[types.Address]bool
}

func newMockState() *mockState {
	return &mockState{
		transfers:  make(map[uint64]*DelayTransfer),
		balances:   make(map[string]*big.Int),
		unexecuted: make(map[string]*big.Int),
		assets:     map[types.AssetID]bool{types.CoreAsset: true},
		restricted: make(map[types.AssetID]restrictedAsset),
		accounts:   make(map[types.Address]bool),
	}
}

func balKey(a types.Address, asset types.AssetID) string {
	return fmt.Sprintf("%s/%d", a, asset)
}

func cloneTransfer(t *DelayTransfer) *DelayTransfer {
	clone := *t
	clone.Entries = make([]Entry, len(t.Entries))
	for i, e := range t.Entries {
		ce := e
		if e.Amount != nil {
			ce.Amount = new(big.Int).Set(e.Amount)
		}
		clone.Entries[i] = ce
	}
	return &clone
}

func (m *mockState) DelayTransferCreate(t *DelayTransfer) (uint64, error) {
	m.count++
	t.ID = m.count
	m.transfers[t.ID] = cloneTransfer(t)
	return t.ID, nil
}

func (m *mockState) DelayTransferGet(id uint64) (*DelayTransfer, bool, error) {
	t, ok := m.transfers[id]
	if !ok {
		return nil, false, nil
	}
	return cloneTransfer(t), true, nil
}

func (m *mockState) DelayTransferPut(t *DelayTransfer) error {
	m.transfers[t.ID] = cloneTransfer(t)
	return nil
}

func (m *mockState) DelayTransferCount() (uint64, error) { return m.count, nil }

func (m *mockState) UnexecutedAdd(r types.Address, asset types.AssetID, amount *big.Int) error {
	cur := m.unexecutedBal(r, asset)
	cur.Add(cur, amount)
	m.unexecuted[balKey(r, asset)] = cur
	return nil
}

func (m *mockState) UnexecutedSub(r types.Address, asset types.AssetID, amount *big.Int) error {
	cur := m.unexecutedBal(r, asset)
	cur.Sub(cur, amount)
	if cur.Sign() < 0 {
		return fmt.Errorf("unexecuted balance negative")
	}
	m.unexecuted[balKey(r, asset)] = cur
	return nil
}

func (m *mockState) unexecutedBal(r types.Address, asset types.AssetID) *big.Int {
	if v, ok := m.unexecuted[balKey(r, asset)]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (m *mockState) AssetExists(id types.AssetID) (bool, error) { return m.assets[id], nil }

func (m *mockState) AssetTransferAllowed(id types.AssetID, from, to types.Address) (bool, error) {
	r, ok := m.restricted[id]
	if !ok {
		return true, nil
	}
	allowed := func(a types.Address) bool {
		if a == r.issuer {
			return true
		}
		for _, w := range r.whitelist {
			if w == a {
				return true
			}
		}
		return false
	}
	return allowed(from) && allowed(to), nil
}

func (m *mockState) AccountExists(a types.Address) (bool, error) { return m.accounts[a], nil }

func (m *mockState) GetBalance(a types.Address, asset types.AssetID) (*big.Int, error) {
	if v, ok := m.balances[balKey(a, asset)]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (m *mockState) AdjustBalance(a types.Address, asset types.AssetID, delta *big.Int) error {
	bal, _ := m.GetBalance(a, asset)
	bal.Add(bal, delta)
	if bal.Sign() < 0 {
		return fmt.Errorf("insufficient balance")
	}
	m.balances[balKey(a, asset)] = bal
	return nil
}

func (m *mockState) fund(a types.Address, asset types.AssetID, amount *big.Int) {
	m.accounts[a] = true
	m.balances[balKey(a, asset)] = new(big.Int).Set(amount)
}

func unit(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(types.BlockchainPrecision))
}

func newTestEngine() (*Engine, *mockState) {
	st := newMockState()
	e := NewEngine()
	e.SetState(st)
	return e, st
}

func TestFeeRoundsHoursUp(t *testing.T) {
	// Exactly two days: 48 hours at 0.01 plus the 0.1 base.
	require.Equal(t, big.NewInt(58_000_000), Fee(baseTime, baseTime+48*3600))
	// One second into the next hour still bills the full hour.
	require.Equal(t, big.NewInt(59_000_000), Fee(baseTime, baseTime+48*3600+1))
	// Degenerate schedule collapses to the base fee.
	require.Equal(t, big.NewInt(BasicFee), Fee(baseTime, baseTime))
}

// scheduleOp builds a valid 100 AGC transfer releasing in two days.
func scheduleOp() *ScheduleOp {
	return &ScheduleOp{
		From:         sender,
		Receiver:     receiver,
		AssetID:      types.CoreAsset,
		Amount:       unit(100),
		ScheduleTime: baseTime,
		ReleaseTime:  baseTime + 2*24*3600,
		Memo:         "rent",
		Fee:          Fee(baseTime, baseTime+2*24*3600),
	}
}

func TestScheduleHoldsFundsAndTracksUnexecuted(t *testing.T) {
	e, st := newTestEngine()
	st.fund(sender, types.CoreAsset, unit(200))

	id, err := e.Schedule(scheduleOp(), baseTime)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	// 200 - 100 held - 0.58 fee.
	wantSender := new(big.Int).Sub(unit(100), big.NewInt(58_000_000))
	got, _ := st.GetBalance(sender, types.CoreAsset)
	require.Equal(t, wantSender, got)

	held, _ := st.GetBalance(VaultAddress, types.CoreAsset)
	require.Equal(t, unit(100), held)
	require.Equal(t, unit(100), st.unexecutedBal(receiver, types.CoreAsset))

	tr, ok, _ := st.DelayTransferGet(id)
	require.True(t, ok)
	require.False(t, tr.Finished)
	require.Len(t, tr.Entries, 1)
	require.False(t, tr.Entries[0].Executed)
	// The memo rides on the delivery leg, not the record.
	require.Equal(t, "rent", tr.Entries[0].Memo)
}

func TestScheduleValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ScheduleOp)
		errno  int
	}{
		{"self transfer", func(op *ScheduleOp) { op.Receiver = sender }, CodeSelfTransfer},
		{"zero amount", func(op *ScheduleOp) { op.Amount = new(big.Int) }, CodeAmountNotPositive},
		{"long memo", func(op *ScheduleOp) { op.Memo = string(make([]byte, 151)) }, CodeMemoTooLong},
		{"future schedule", func(op *ScheduleOp) { op.ScheduleTime = baseTime + 1 }, CodeBadScheduleTime},
		{"stale schedule", func(op *ScheduleOp) { op.ScheduleTime = baseTime - ScheduleSlack - 1 }, CodeBadScheduleTime},
		{"release before schedule", func(op *ScheduleOp) { op.ReleaseTime = op.ScheduleTime }, CodeBadReleaseTime},
		{"release past horizon", func(op *ScheduleOp) { op.ReleaseTime = baseTime + MaxReleaseHorizon + 1 }, CodeBadReleaseTime},
		{"unknown asset", func(op *ScheduleOp) { op.AssetID = 42 }, CodeAssetUnknown},
		{"fee short", func(op *ScheduleOp) { op.Fee = big.NewInt(BasicFee) }, CodeFeeTooLow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, st := newTestEngine()
			st.fund(sender, types.CoreAsset, unit(200))
			op := scheduleOp()
			tc.mutate(op)
			_, err := e.Schedule(op, baseTime)
			require.Error(t, err)
			require.Equal(t, tc.errno, RejectCode(err), "got %v", err)
		})
	}
}

func TestScheduleInsufficientFunds(t *testing.T) {
	e, st := newTestEngine()
	st.fund(sender, types.CoreAsset, unit(100))
	_, err := e.Schedule(scheduleOp(), baseTime)
	require.Equal(t, CodeInsufficientFunds, RejectCode(err))
}

func TestScheduleRestrictedAsset(t *testing.T) {
	e, st := newTestEngine()
	st.assets[1] = true
	st.restricted[1] = restrictedAsset{issuer: addr(9), whitelist: []types.Address{sender}}
	st.fund(sender, types.CoreAsset, unit(10))
	st.fund(sender, 1, unit(200))

	op := scheduleOp()
	op.AssetID = 1
	_, err := e.Schedule(op, baseTime)
	require.Equal(t, CodeAssetRestricted, RejectCode(err))

	st.restricted[1] = restrictedAsset{issuer: addr(9), whitelist: []types.Address{sender, receiver}}
	_, err = e.Schedule(op, baseTime)
	require.NoError(t, err)
}

func TestSweepReleasesMaturedTransfer(t *testing.T) {
	e, st := newTestEngine()
	st.fund(sender, types.CoreAsset, unit(200))
	op := scheduleOp()
	id, err := e.Schedule(op, baseTime)
	require.NoError(t, err)

	var cur Cursor
	// One day in: nothing matures.
	report, err := e.RunSweep(&cur, PerBlockBudget, baseTime+24*3600)
	require.NoError(t, err)
	require.Equal(t, 1, report.Visited)
	require.Zero(t, report.Executed)

	// Two days in: the transfer releases.
	cur = Cursor{}
	report, err = e.RunSweep(&cur, PerBlockBudget, op.ReleaseTime)
	require.NoError(t, err)
	require.Equal(t, 1, report.Executed)
	require.Equal(t, 1, report.Finished)

	got, _ := st.GetBalance(receiver, types.CoreAsset)
	require.Equal(t, unit(100), got)
	require.True(t, st.unexecutedBal(receiver, types.CoreAsset).Sign() == 0)

	tr, _, _ := st.DelayTransferGet(id)
	require.True(t, tr.Finished)
	require.True(t, tr.Entries[0].Executed)
	require.Equal(t, op.ReleaseTime, tr.Entries[0].ExecutedTime)

	held, _ := st.GetBalance(VaultAddress, types.CoreAsset)
	require.True(t, held.Sign() == 0)

	// A later pass skips the finished transfer without touching anything.
	cur = Cursor{}
	report, err = e.RunSweep(&cur, PerBlockBudget, op.ReleaseTime+3600)
	require.NoError(t, err)
	require.Equal(t, 1, report.Visited)
	require.Zero(t, report.Executed)
}

func TestSweepUnexecutedUnderflowFailsBlock(t *testing.T) {
	e, st := newTestEngine()
	st.fund(sender, types.CoreAsset, unit(200))
	op := scheduleOp()
	_, err := e.Schedule(op, baseTime)
	require.NoError(t, err)

	// Corrupt the pending ledger so the release has nothing to decrement.
	require.NoError(t, st.UnexecutedSub(receiver, types.CoreAsset, unit(100)))

	var cur Cursor
	_, err = e.RunSweep(&cur, PerBlockBudget, op.ReleaseTime)
	require.ErrorIs(t, err, ErrUnexecutedUnderflow)
}

func TestSweepBudgetAndCursor(t *testing.T) {
	e, st := newTestEngine()
	st.fund(sender, types.CoreAsset, unit(100_000))
	for i := 0; i < 35; i++ {
		_, err := e.Schedule(scheduleOp(), baseTime)
		require.NoError(t, err)
	}

	var cur Cursor
	report, err := e.RunSweep(&cur, PerBlockBudget, baseTime)
	require.NoError(t, err)
	require.Equal(t, 30, report.Visited)
	require.Equal(t, uint64(31), cur.Next)

	report, err = e.RunSweep(&cur, PerBlockBudget, baseTime)
	require.NoError(t, err)
	require.Equal(t, 5, report.Visited)
	require.Equal(t, uint64(1), cur.Next)
}
