package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"agchain/core/types"
	"agchain/storage"
)

var (
	// ErrInsufficientBalance is returned when a debit would take a balance
	// below zero.
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	// ErrAssetExists is returned when a symbol is already registered.
	ErrAssetExists = errors.New("state: asset symbol already registered")
)

// Asset is one registered asset. The core asset AGC is id 0 and is seeded at
// genesis; user assets get dense ids starting at 1.
type Asset struct {
	ID                 types.AssetID
	Symbol             string
	Issuer             types.Address
	MaxSupply          *big.Int
	TransferRestricted bool
	Whitelist          []types.Address
}

// AssetAmount pairs an asset with an amount for read APIs.
type AssetAmount struct {
	AssetID types.AssetID
	Amount  *big.Int
}

// Manager is the ledger state store. Every record lives under a keccak key
// in a flat key/value database; values are canonical RLP. Writes pass
// through an undo journal so failed operations can be reverted, and a
// read/write mutex lets RPC readers run concurrently with the single block
// writer.
type Manager struct {
	mu      sync.RWMutex
	db      storage.Database
	journal []journalEntry
}

// NewManager wraps db and seeds the core asset registry entry if it is
// missing.
func NewManager(db storage.Database) (*Manager, error) {
	m := &Manager{db: db}
	ok, err := db.Has(assetKey(types.CoreAsset))
	if err != nil {
		return nil, err
	}
	if !ok {
		core := &Asset{ID: types.CoreAsset, Symbol: "AGC", MaxSupply: new(big.Int)}
		if err := m.putRLP(assetKey(types.CoreAsset), core); err != nil {
			return nil, err
		}
		if err := m.setRaw(assetSymbolKey("AGC"), u64Bytes(0)); err != nil {
			return nil, err
		}
		m.journal = m.journal[:0]
	}
	return m, nil
}

// setRaw writes value under key, journaling the previous contents first.
// Callers hold no lock; the raw helpers lock internally.
func (m *Manager) setRaw(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setRawLocked(key, value)
}

func (m *Manager) setRawLocked(key, value []byte) error {
	prev, err := m.db.Get(key)
	existed := true
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		existed = false
		prev = nil
	}
	m.journal = append(m.journal, journalEntry{key: key, prev: prev, existed: existed})
	return m.db.Put(key, value)
}

func (m *Manager) getRaw(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return val, true, nil
}

func (m *Manager) putRLP(key []byte, v any) error {
	enc, err := rlp.EncodeToBytes(v)
	if err != nil {
		return fmt.Errorf("state: encode %T: %w", v, err)
	}
	return m.setRaw(key, enc)
}

func (m *Manager) getRLP(key []byte, out any) (bool, error) {
	raw, ok, err := m.getRaw(key)
	if err != nil || !ok {
		return ok, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %T: %w", out, err)
	}
	return true, nil
}

func (m *Manager) counter(key []byte) (uint64, error) {
	raw, ok, err := m.getRaw(key)
	if err != nil || !ok {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("state: malformed counter value")
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (m *Manager) bumpCounter(key []byte) (uint64, error) {
	n, err := m.counter(key)
	if err != nil {
		return 0, err
	}
	n++
	return n, m.setRaw(key, u64Bytes(n))
}

// --- accounts and balances ---

// CreateAccount registers addr so existence checks pass. Idempotent.
func (m *Manager) CreateAccount(addr types.Address) error {
	return m.setRaw(accountKey(addr), []byte{1})
}

// AccountExists reports whether addr has been registered or has ever held a
// balance.
func (m *Manager) AccountExists(addr types.Address) (bool, error) {
	_, ok, err := m.getRaw(accountKey(addr))
	return ok, err
}

// GetBalance returns addr's balance of asset, zero if absent. The returned
// value is the caller's copy.
func (m *Manager) GetBalance(addr types.Address, asset types.AssetID) (*big.Int, error) {
	raw, ok, err := m.getRaw(balanceKey(addr, asset))
	if err != nil || !ok {
		return new(big.Int), err
	}
	return new(big.Int).SetBytes(raw), nil
}

// AdjustBalance applies delta to addr's balance of asset. Debits below zero
// fail with ErrInsufficientBalance and leave the balance untouched. A first
// credit implicitly registers the account.
func (m *Manager) AdjustBalance(addr types.Address, asset types.AssetID, delta *big.Int) error {
	if delta == nil || delta.Sign() == 0 {
		return nil
	}
	bal, err := m.GetBalance(addr, asset)
	if err != nil {
		return err
	}
	bal.Add(bal, delta)
	if bal.Sign() < 0 {
		return fmt.Errorf("%w: account %s asset %d short %s", ErrInsufficientBalance, addr, asset, new(big.Int).Neg(bal))
	}
	if ok, err := m.AccountExists(addr); err != nil {
		return err
	} else if !ok {
		if err := m.CreateAccount(addr); err != nil {
			return err
		}
	}
	return m.setRaw(balanceKey(addr, asset), bal.Bytes())
}

// --- asset registry ---

// AssetCreate registers a new user asset and returns its id. Symbols are
// unique across the chain.
func (m *Manager) AssetCreate(symbol string, maxSupply *big.Int, issuer types.Address) (types.AssetID, error) {
	if _, ok, err := m.getRaw(assetSymbolKey(symbol)); err != nil {
		return 0, err
	} else if ok {
		return 0, fmt.Errorf("%w: %s", ErrAssetExists, symbol)
	}
	n, err := m.bumpCounter(assetCountKey())
	if err != nil {
		return 0, err
	}
	id := types.AssetID(n)
	a := &Asset{ID: id, Symbol: symbol, Issuer: issuer, MaxSupply: new(big.Int).Set(maxSupply)}
	if err := m.putRLP(assetKey(id), a); err != nil {
		return 0, err
	}
	if err := m.setRaw(assetSymbolKey(symbol), u64Bytes(n)); err != nil {
		return 0, err
	}
	return id, nil
}

// AssetGet returns the registry record for id.
func (m *Manager) AssetGet(id types.AssetID) (*Asset, bool, error) {
	var a Asset
	ok, err := m.getRLP(assetKey(id), &a)
	if err != nil || !ok {
		return nil, false, err
	}
	return &a, true, nil
}

// AssetExists reports whether id is registered.
func (m *Manager) AssetExists(id types.AssetID) (bool, error) {
	_, ok, err := m.getRaw(assetKey(id))
	return ok, err
}

// AssetSymbolExists reports whether symbol is registered.
func (m *Manager) AssetSymbolExists(symbol string) (bool, error) {
	_, ok, err := m.getRaw(assetSymbolKey(symbol))
	return ok, err
}

// AssetPut overwrites an asset record, used to flip transfer restrictions.
func (m *Manager) AssetPut(a *Asset) error {
	return m.putRLP(assetKey(a.ID), a)
}

// AssetTransferAllowed applies the asset's transfer restriction, if any:
// restricted assets move only between the issuer and whitelisted accounts.
func (m *Manager) AssetTransferAllowed(id types.AssetID, from, to types.Address) (bool, error) {
	a, ok, err := m.AssetGet(id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if !a.TransferRestricted {
		return true, nil
	}
	allowed := func(addr types.Address) bool {
		if addr == a.Issuer {
			return true
		}
		for _, w := range a.Whitelist {
			if w == addr {
				return true
			}
		}
		return false
	}
	return allowed(from) && allowed(to), nil
}

// --- sweep cursors and chain metadata ---

// CursorLoad returns the persisted 1-based sweep cursor under name, or 0.
func (m *Manager) CursorLoad(name string) (uint64, error) {
	return m.counter(sweepCursorKey(name))
}

// CursorStore persists a sweep cursor.
func (m *Manager) CursorStore(name string, next uint64) error {
	return m.setRaw(sweepCursorKey(name), u64Bytes(next))
}

// MetaLoad returns a chain metadata counter such as the last applied block
// height.
func (m *Manager) MetaLoad(name string) (uint64, error) {
	return m.counter(chainMetaKey(name))
}

// MetaStore persists a chain metadata counter.
func (m *Manager) MetaStore(name string, v uint64) error {
	return m.setRaw(chainMetaKey(name), u64Bytes(v))
}

// idList is the RLP shape of the per-owner record indexes.
func (m *Manager) appendIDList(key []byte, id uint64) error {
	var ids []uint64
	if _, err := m.getRLP(key, &ids); err != nil {
		return err
	}
	ids = append(ids, id)
	return m.putRLP(key, ids)
}

func (m *Manager) loadIDList(key []byte) ([]uint64, error) {
	var ids []uint64
	if _, err := m.getRLP(key, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func sortAssetAmounts(list []AssetAmount) {
	sort.Slice(list, func(i, j int) bool { return list[i].AssetID < list[j].AssetID })
}
