package token

import (
	"math/big"

	"github.com/holiman/uint256"

	"agchain/core/types"
)

var precisionBig = big.NewInt(types.BlockchainPrecision)

// payAmounts converts a subscription quantity into the base amount the buyer
// pays and the quote amount of user asset bought.
func payAmounts(ratio ExchangeRatio, quantity uint64) (pay, buy *big.Int) {
	q := new(big.Int).SetUint64(quantity)
	pay = new(big.Int).Mul(q, ratio.Base)
	buy = new(big.Int).Mul(q, ratio.Quote)
	return pay, buy
}

// buyPercent computes the raise progress with two implied decimals: 10000
// means the success threshold is exactly met. Both operands are scaled down
// to whole units first, truncating, so sub-unit dust never moves the figure.
func buyPercent(actualBuyTotal, succeedMin *big.Int) uint64 {
	if succeedMin == nil || succeedMin.Sign() <= 0 || actualBuyTotal == nil || actualBuyTotal.Sign() <= 0 {
		return 0
	}
	units := new(big.Int).Quo(actualBuyTotal, precisionBig)
	minUnits := new(big.Int).Quo(succeedMin, precisionBig)
	if minUnits.Sign() <= 0 {
		return 0
	}
	units.Mul(units, big.NewInt(types.PercentScale))
	units.Quo(units, minUnits)
	if !units.IsUint64() {
		return ^uint64(0)
	}
	return units.Uint64()
}

// rewardAmount is a buyer's pro-rata share of the unsold remainder:
// notBought * myBuy / boughtTotal, truncating. The intermediate product can
// exceed 64 bits, so it runs through a 256-bit accumulator. Any zero operand
// yields zero.
func rewardAmount(notBought, myBuy, boughtTotal *big.Int) *big.Int {
	if notBought == nil || myBuy == nil || boughtTotal == nil {
		return new(big.Int)
	}
	if notBought.Sign() <= 0 || myBuy.Sign() <= 0 || boughtTotal.Sign() <= 0 {
		return new(big.Int)
	}
	n, overflow := uint256.FromBig(notBought)
	if overflow {
		return new(big.Int)
	}
	m, overflow := uint256.FromBig(myBuy)
	if overflow {
		return new(big.Int)
	}
	d, overflow := uint256.FromBig(boughtTotal)
	if overflow {
		return new(big.Int)
	}
	n.Mul(n, m)
	n.Div(n, d)
	return n.ToBig()
}

// eachPeriodAmount splits a staged-return total across months, truncating.
// The sweep flushes the remainder with the last installment.
func eachPeriodAmount(total *big.Int, months uint32) *big.Int {
	if total == nil || total.Sign() <= 0 || months == 0 {
		return new(big.Int)
	}
	return new(big.Int).Quo(total, new(big.Int).SetUint64(uint64(months)))
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
