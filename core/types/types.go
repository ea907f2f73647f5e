package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address identifies an account on the ledger.
type Address [20]byte

// Hex returns the 0x-prefixed lowercase hex form of the address.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) String() string { return a.Hex() }

// IsZero reports whether the address is the all-zero address.
func (a Address) IsZero() bool { return a == Address{} }

// ParseAddress decodes a 0x-prefixed or bare 40-character hex address.
func ParseAddress(s string) (Address, error) {
	var addr Address
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("invalid address length %d", len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

// MarshalText implements encoding.TextMarshaler so addresses serialize as
// hex in JSON and map keys.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// AssetID identifies a registered asset. The core asset (AGC) is always 0.
type AssetID uint64

// CoreAsset is the id of the chain's native asset.
const CoreAsset AssetID = 0

// BlockchainPrecision is the fixed-point scale shared by all asset amounts:
// one whole unit equals 1e8 base units.
const BlockchainPrecision = 100_000_000

// PercentScale expresses percentages with two implied decimals, so 10000
// means 100.00%.
const PercentScale = 10_000

// SecondsPerMonth is the staged-return installment interval. A month is
// counted as 30 days.
const SecondsPerMonth = 2_592_000
