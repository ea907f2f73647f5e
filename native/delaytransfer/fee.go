package delaytransfer

import "math/big"

// Fee schedule in core asset base units (8 implied decimals): a flat 0.1
// plus 0.01 per started hour the funds stay scheduled.
const (
	BasicFee     = 10_000_000
	PricePerHour = 1_000_000
)

// Fee returns the operation fee for a transfer scheduled at scheduleTime
// whose latest entry releases at releaseTime. Partial hours round up.
func Fee(scheduleTime, releaseTime uint64) *big.Int {
	fee := big.NewInt(BasicFee)
	if releaseTime <= scheduleTime {
		return fee
	}
	hours := (releaseTime - scheduleTime + 3599) / 3600
	per := new(big.Int).Mul(big.NewInt(PricePerHour), new(big.Int).SetUint64(hours))
	return fee.Add(fee, per)
}
