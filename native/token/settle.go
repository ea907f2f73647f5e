package token

import (
	"fmt"
	"math/big"

	"agchain/core/types"
)

// settleCampaign pays every buyer its bought quote amount plus, under the
// dispatch disposition, a pro-rata share of the unsold remainder. Under the
// burn disposition the remainder is credited to the burn address instead.
// The issuer receives the raised core and its deferred publish fee as a
// cashback record. Callers run it inside a snapshot; any error leaves state
// for the caller to revert.
func (e *Engine) settleCampaign(c *Campaign, stats *Statistics) error {
	buys, err := e.state.BuysByCampaign(c.ID)
	if err != nil {
		return err
	}
	if len(buys) == 0 {
		return fmt.Errorf("token: settle of campaign %d with no buys", c.ID)
	}

	notBought := cloneBig(stats.ActualNotBuyTotal)
	boughtTotal := cloneBig(stats.ActualBuyTotal)
	dispatch := c.Params.Disposition == DispositionDispatch

	for _, b := range buys {
		payout := cloneBig(b.BuyQuoteAmount)
		if dispatch {
			// Per-buyer shares truncate, so a few quote units of dust can
			// stay behind in the vault.
			reward := rewardAmount(notBought, b.BuyQuoteAmount, boughtTotal)
			if reward.Sign() > 0 {
				b.RewardQuoteAmount = reward
				if err := e.state.BuyPut(b); err != nil {
					return err
				}
				payout.Add(payout, reward)
			}
		}
		if err := e.transfer(VaultAddress, b.Buyer, c.AssetID, payout); err != nil {
			return err
		}
		if fee := bigOrZero(b.DeferredFee); fee.Sign() > 0 {
			if err := e.state.FeeCashbackAdd(b.Buyer, fee); err != nil {
				return err
			}
		}
	}

	burned := new(big.Int)
	if !dispatch && notBought.Sign() > 0 {
		if err := e.transfer(VaultAddress, BurnAddress, c.AssetID, notBought); err != nil {
			return err
		}
		burned = notBought
	}

	// Raised core goes to the issuer.
	if stats.ActualCoreTotal.Sign() > 0 {
		if err := e.transfer(VaultAddress, c.Issuer, types.CoreAsset, stats.ActualCoreTotal); err != nil {
			return err
		}
	}
	if fee := bigOrZero(c.DeferredFee); fee.Sign() > 0 {
		if err := e.state.FeeCashbackAdd(c.Issuer, fee); err != nil {
			return err
		}
	}

	e.emit(&SettledEvent{
		CampaignID:  c.ID,
		Succeed:     true,
		BuyerCount:  stats.BuyerCount,
		BoughtTotal: boughtTotal,
		Burned:      burned,
	})
	return nil
}

// restoreCampaign unwinds a failed raise: the issuer gets the escrowed
// supply and collateral back, every buyer is refunded its payment and
// deferred fee, and the campaign ends in the restore status. The collateral
// refund is recorded in the statistics history so explorers see one
// consistent return trail for both outcomes.
func (e *Engine) restoreCampaign(c *Campaign, stats *Statistics, now uint64) error {
	buys, err := e.state.BuysByCampaign(c.ID)
	if err != nil {
		return err
	}

	maxSupply := cloneBig(c.Params.MaxSupply)
	if err := e.transfer(VaultAddress, c.Issuer, c.AssetID, maxSupply); err != nil {
		return err
	}
	guaranty := bigOrZero(c.Params.GuarantyAmount)
	if guaranty.Sign() > 0 {
		if err := e.transfer(VaultAddress, c.Issuer, types.CoreAsset, guaranty); err != nil {
			return err
		}
		stats.ReturnedGuaranty = new(big.Int).Add(stats.ReturnedGuaranty, guaranty)
		stats.GuarantyReturns = append(stats.GuarantyReturns, ReturnRecord{
			Time:    now,
			Amount:  cloneBig(guaranty),
			AssetID: types.CoreAsset,
		})
		c.GuarantyCredit = new(big.Int)
	}

	for _, b := range buys {
		if err := e.transfer(VaultAddress, b.Buyer, types.CoreAsset, b.PayBaseAmount); err != nil {
			return err
		}
		if fee := bigOrZero(b.DeferredFee); fee.Sign() > 0 {
			if err := e.transfer(FeePoolAddress, b.Buyer, types.CoreAsset, fee); err != nil {
				return err
			}
		}
	}
	if fee := bigOrZero(c.DeferredFee); fee.Sign() > 0 {
		if err := e.transfer(FeePoolAddress, c.Issuer, types.CoreAsset, fee); err != nil {
			return err
		}
	}

	e.emit(&RestoredEvent{CampaignID: c.ID, RefundedBuyers: len(buys)})
	return nil
}
