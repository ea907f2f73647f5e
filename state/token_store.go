package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"agchain/core/types"
	"agchain/native/token"
)

// CampaignCreate assigns the next dense campaign id, persists the record and
// indexes its upper-cased name. Campaigns are never deleted, so the sweep
// can walk ids 1..count.
func (m *Manager) CampaignCreate(c *token.Campaign) (uint64, error) {
	id, err := m.bumpCounter(campaignCountKey())
	if err != nil {
		return 0, err
	}
	c.ID = id
	if err := m.putRLP(campaignKey(id), c); err != nil {
		return 0, err
	}
	if err := m.setRaw(campaignNameKey(c.UpperName), u64Bytes(id)); err != nil {
		return 0, err
	}
	return id, nil
}

func (m *Manager) CampaignGet(id uint64) (*token.Campaign, bool, error) {
	var c token.Campaign
	ok, err := m.getRLP(campaignKey(id), &c)
	if err != nil || !ok {
		return nil, false, err
	}
	return &c, true, nil
}

func (m *Manager) CampaignPut(c *token.Campaign) error {
	if c.ID == 0 {
		return fmt.Errorf("state: campaign put without id")
	}
	return m.putRLP(campaignKey(c.ID), c)
}

func (m *Manager) CampaignCount() (uint64, error) {
	return m.counter(campaignCountKey())
}

// CampaignIDByName resolves an upper-cased asset name to its campaign id.
func (m *Manager) CampaignIDByName(upperName string) (uint64, bool, error) {
	raw, ok, err := m.getRaw(campaignNameKey(upperName))
	if err != nil || !ok {
		return 0, false, err
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("state: malformed campaign name index")
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

func (m *Manager) StatisticsGet(id uint64) (*token.Statistics, bool, error) {
	var s token.Statistics
	ok, err := m.getRLP(statisticsKey(id), &s)
	if err != nil || !ok {
		return nil, false, err
	}
	return &s, true, nil
}

func (m *Manager) StatisticsPut(s *token.Statistics) error {
	if s.CampaignID == 0 {
		return fmt.Errorf("state: statistics put without campaign id")
	}
	return m.putRLP(statisticsKey(s.CampaignID), s)
}

// BuyCreate assigns the next dense buy id, persists the record and appends
// it to the campaign's buy index.
func (m *Manager) BuyCreate(b *token.Buy) (uint64, error) {
	id, err := m.bumpCounter(buyCountKey())
	if err != nil {
		return 0, err
	}
	b.ID = id
	if err := m.putRLP(buyKey(id), b); err != nil {
		return 0, err
	}
	if err := m.appendIDList(campaignBuysKey(b.CampaignID), id); err != nil {
		return 0, err
	}
	return id, nil
}

func (m *Manager) BuyGet(id uint64) (*token.Buy, bool, error) {
	var b token.Buy
	ok, err := m.getRLP(buyKey(id), &b)
	if err != nil || !ok {
		return nil, false, err
	}
	return &b, true, nil
}

func (m *Manager) BuyPut(b *token.Buy) error {
	if b.ID == 0 {
		return fmt.Errorf("state: buy put without id")
	}
	return m.putRLP(buyKey(b.ID), b)
}

// BuysByCampaign loads every buy of a campaign in purchase order.
func (m *Manager) BuysByCampaign(campaignID uint64) ([]*token.Buy, error) {
	ids, err := m.loadIDList(campaignBuysKey(campaignID))
	if err != nil {
		return nil, err
	}
	buys := make([]*token.Buy, 0, len(ids))
	for _, id := range ids {
		b, ok, err := m.BuyGet(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("state: buy %d indexed but missing", id)
		}
		buys = append(buys, b)
	}
	return buys, nil
}

// EventCreate assigns the next audit record id and persists it.
func (m *Manager) EventCreate(r *token.EventRecord) (uint64, error) {
	id, err := m.bumpCounter(tokenEventCountKey())
	if err != nil {
		return 0, err
	}
	r.ID = id
	if err := m.putRLP(tokenEventKey(id), r); err != nil {
		return 0, err
	}
	return id, nil
}

func (m *Manager) EventGet(id uint64) (*token.EventRecord, bool, error) {
	var r token.EventRecord
	ok, err := m.getRLP(tokenEventKey(id), &r)
	if err != nil || !ok {
		return nil, false, err
	}
	return &r, true, nil
}

func (m *Manager) EventPut(r *token.EventRecord) error {
	if r.ID == 0 {
		return fmt.Errorf("state: event put without id")
	}
	return m.putRLP(tokenEventKey(r.ID), r)
}

func (m *Manager) EventCount() (uint64, error) {
	return m.counter(tokenEventCountKey())
}

// FeeCashbackAdd accrues a refundable fee credit for addr. Credits are
// bookkeeping only; paying them out is a treasury concern outside the
// ledger core.
func (m *Manager) FeeCashbackAdd(addr types.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	cur, err := m.FeeCashback(addr)
	if err != nil {
		return err
	}
	cur.Add(cur, amount)
	return m.setRaw(feeCashbackKey(addr), cur.Bytes())
}

// FeeCashback returns addr's accrued fee credit.
func (m *Manager) FeeCashback(addr types.Address) (*big.Int, error) {
	raw, ok, err := m.getRaw(feeCashbackKey(addr))
	if err != nil || !ok {
		return new(big.Int), err
	}
	return new(big.Int).SetBytes(raw), nil
}
