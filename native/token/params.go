package token

import (
	"fmt"
	"math/big"
)

// Profile holds the operator-tunable publish and buy limits. Nodes load it
// from the token profile file; every limit has a conservative default so a
// missing file still yields a working node.
type Profile struct {
	NameMinLen          int                 `yaml:"nameMinLen"`
	NameMaxLen          int                 `yaml:"nameMaxLen"`
	BriefMaxLen         int                 `yaml:"briefMaxLen"`
	DescriptionMaxLen   int                 `yaml:"descriptionMaxLen"`
	ReservedNames       []string            `yaml:"reservedNames"`
	ReservedSymbols     []string            `yaml:"reservedSymbols"`
	Categories          map[string][]string `yaml:"categories"`
	MaxStartDelayDays   uint32              `yaml:"maxStartDelayDays"`
	PhaseMinSeconds     uint64              `yaml:"phaseMinSeconds"`
	PhaseMaxSeconds     uint64              `yaml:"phaseMaxSeconds"`
	MaxWhitelist        int                 `yaml:"maxWhitelist"`
	MaxCustomAttributes int                 `yaml:"maxCustomAttributes"`
	AttrKeyMaxLen       int                 `yaml:"attrKeyMaxLen"`
	AttrValueMaxLen     int                 `yaml:"attrValueMaxLen"`
	BuyMaxTimes         int                 `yaml:"buyMaxTimes"`
	GuarantyMonthsMax   uint32              `yaml:"guarantyMonthsMax"`
	FrozenMonthsMax     uint32              `yaml:"frozenMonthsMax"`
}

// DefaultProfile returns the built-in limits.
func DefaultProfile() *Profile {
	return &Profile{
		NameMinLen:        3,
		NameMaxLen:        63,
		BriefMaxLen:       256,
		DescriptionMaxLen: 10240,
		ReservedNames:     []string{"agc", "core", "system"},
		ReservedSymbols:   []string{"AGC", "BTC", "ETH", "USDT"},
		Categories: map[string][]string{
			"art":     {"music", "painting", "film", "other"},
			"game":    {"rpg", "card", "other"},
			"charity": {"education", "health", "other"},
			"tech":    {"hardware", "software", "chain", "other"},
			"other":   {"other"},
		},
		MaxStartDelayDays:   90,
		PhaseMinSeconds:     3600,
		PhaseMaxSeconds:     90 * 24 * 3600,
		MaxWhitelist:        1000,
		MaxCustomAttributes: 10,
		AttrKeyMaxLen:       32,
		AttrValueMaxLen:     256,
		BuyMaxTimes:         10,
		GuarantyMonthsMax:   120,
		FrozenMonthsMax:     120,
	}
}

// Validate rejects profiles that would make every publish fail.
func (p *Profile) Validate() error {
	if p.NameMinLen <= 0 || p.NameMaxLen < p.NameMinLen {
		return fmt.Errorf("token profile: bad name length bounds [%d, %d]", p.NameMinLen, p.NameMaxLen)
	}
	if p.PhaseMinSeconds == 0 || p.PhaseMaxSeconds < p.PhaseMinSeconds {
		return fmt.Errorf("token profile: bad phase duration bounds [%d, %d]", p.PhaseMinSeconds, p.PhaseMaxSeconds)
	}
	if p.BuyMaxTimes <= 0 {
		return fmt.Errorf("token profile: buyMaxTimes must be positive")
	}
	if len(p.Categories) == 0 {
		return fmt.Errorf("token profile: no categories configured")
	}
	return nil
}

func (p *Profile) validCategory(typ, subtype string) (bool, bool) {
	subs, ok := p.Categories[typ]
	if !ok {
		return false, false
	}
	for _, s := range subs {
		if s == subtype {
			return true, true
		}
	}
	return true, false
}

// Hard chain-wide bounds, independent of the loaded profile.
var (
	// MinMaxSupply is one whole unit at chain precision.
	MinMaxSupply = big.NewInt(100_000_000)
	// MaxMaxSupply bounds supply so downstream math never overflows int64
	// at the wire layer.
	MaxMaxSupply = big.NewInt(9_000_000_000_000_000_000)
	// GuarantyCap is 100 million AGC at chain precision.
	GuarantyCap = new(big.Int).Mul(big.NewInt(100_000_000), big.NewInt(100_000_000))
)
