package state

import (
	"fmt"
	"math/big"

	"agchain/core/types"
	"agchain/native/delaytransfer"
)

// DelayTransferCreate assigns the next dense transfer id, persists the
// record and indexes it by sender and by each receiver.
func (m *Manager) DelayTransferCreate(t *delaytransfer.DelayTransfer) (uint64, error) {
	id, err := m.bumpCounter(delayCountKey())
	if err != nil {
		return 0, err
	}
	t.ID = id
	if err := m.putRLP(delayTransferKey(id), t); err != nil {
		return 0, err
	}
	if err := m.appendIDList(delayByFromKey(t.From), id); err != nil {
		return 0, err
	}
	seen := make(map[types.Address]bool, len(t.Entries))
	for _, e := range t.Entries {
		if seen[e.Receiver] {
			continue
		}
		seen[e.Receiver] = true
		if err := m.appendIDList(delayByToKey(e.Receiver), id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (m *Manager) DelayTransferGet(id uint64) (*delaytransfer.DelayTransfer, bool, error) {
	var t delaytransfer.DelayTransfer
	ok, err := m.getRLP(delayTransferKey(id), &t)
	if err != nil || !ok {
		return nil, false, err
	}
	return &t, true, nil
}

func (m *Manager) DelayTransferPut(t *delaytransfer.DelayTransfer) error {
	if t.ID == 0 {
		return fmt.Errorf("state: delay transfer put without id")
	}
	return m.putRLP(delayTransferKey(t.ID), t)
}

func (m *Manager) DelayTransferCount() (uint64, error) {
	return m.counter(delayCountKey())
}

// DelayTransfersByFrom loads every transfer scheduled by addr.
func (m *Manager) DelayTransfersByFrom(addr types.Address) ([]*delaytransfer.DelayTransfer, error) {
	return m.delayTransfersByIndex(delayByFromKey(addr))
}

// DelayTransfersByTo loads every transfer addressed to addr.
func (m *Manager) DelayTransfersByTo(addr types.Address) ([]*delaytransfer.DelayTransfer, error) {
	return m.delayTransfersByIndex(delayByToKey(addr))
}

func (m *Manager) delayTransfersByIndex(key []byte) ([]*delaytransfer.DelayTransfer, error) {
	ids, err := m.loadIDList(key)
	if err != nil {
		return nil, err
	}
	out := make([]*delaytransfer.DelayTransfer, 0, len(ids))
	for _, id := range ids {
		t, ok, err := m.DelayTransferGet(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("state: delay transfer %d indexed but missing", id)
		}
		out = append(out, t)
	}
	return out, nil
}

// UnexecutedAdd raises a receiver's pending incoming balance for asset and
// maintains the receiver's per-asset index.
func (m *Manager) UnexecutedAdd(receiver types.Address, asset types.AssetID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	cur, err := m.unexecutedBalance(receiver, asset)
	if err != nil {
		return err
	}
	if cur.Sign() == 0 {
		ids, err := m.loadIDList(unexecutedAssetsKey(receiver))
		if err != nil {
			return err
		}
		found := false
		for _, id := range ids {
			if id == uint64(asset) {
				found = true
				break
			}
		}
		if !found {
			if err := m.appendIDList(unexecutedAssetsKey(receiver), uint64(asset)); err != nil {
				return err
			}
		}
	}
	cur.Add(cur, amount)
	return m.setRaw(unexecutedKey(receiver, asset), cur.Bytes())
}

// UnexecutedSub lowers a receiver's pending incoming balance. Going negative
// means the transfer records and the pending ledger disagree, so it fails
// rather than clamping.
func (m *Manager) UnexecutedSub(receiver types.Address, asset types.AssetID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	cur, err := m.unexecutedBalance(receiver, asset)
	if err != nil {
		return err
	}
	cur.Sub(cur, amount)
	if cur.Sign() < 0 {
		return fmt.Errorf("state: unexecuted balance of %s asset %d would go negative", receiver, asset)
	}
	return m.setRaw(unexecutedKey(receiver, asset), cur.Bytes())
}

func (m *Manager) unexecutedBalance(receiver types.Address, asset types.AssetID) (*big.Int, error) {
	raw, ok, err := m.getRaw(unexecutedKey(receiver, asset))
	if err != nil || !ok {
		return new(big.Int), err
	}
	return new(big.Int).SetBytes(raw), nil
}

// UnexecutedBalances lists every pending incoming amount of receiver, sorted
// by asset id.
func (m *Manager) UnexecutedBalances(receiver types.Address) ([]AssetAmount, error) {
	ids, err := m.loadIDList(unexecutedAssetsKey(receiver))
	if err != nil {
		return nil, err
	}
	out := make([]AssetAmount, 0, len(ids))
	for _, id := range ids {
		amt, err := m.unexecutedBalance(receiver, types.AssetID(id))
		if err != nil {
			return nil, err
		}
		if amt.Sign() == 0 {
			continue
		}
		out = append(out, AssetAmount{AssetID: types.AssetID(id), Amount: amt})
	}
	sortAssetAmounts(out)
	return out, nil
}
