package combat

import (
	"math"
	"math/big"
)

// Growth holds per-level stat multipliers in basis points (11000 = +10%/level).
type Growth struct {
	CombatBP  uint32
	DefenseBP uint32
	LuckBP    uint32
	HealthBP  uint32
}

type EnemyStats struct {
	Combat  uint16 `json:"combat"`
	Defense uint16 `json:"defense"`
	Luck    uint16 `json:"luck"`
	Health  uint32 `json:"health"`
}

// ScaleEnemyForLevel multiplies each stat by its growth factor raised to
// (level-1) and floors once at the end, saturating to the field width.
func ScaleEnemyForLevel(base EnemyStats, level uint8, g Growth) EnemyStats {
	if level <= 1 {
		return base
	}
	n := int64(level - 1)
	return EnemyStats{
		Combat:  uint16(scalePow(uint64(base.Combat), g.CombatBP, n, math.MaxUint16)),
		Defense: uint16(scalePow(uint64(base.Defense), g.DefenseBP, n, math.MaxUint16)),
		Luck:    uint16(scalePow(uint64(base.Luck), g.LuckBP, n, math.MaxUint16)),
		Health:  uint32(scalePow(uint64(base.Health), g.HealthBP, n, math.MaxUint32)),
	}
}

var bpsBig = big.NewInt(10000)

func scalePow(v uint64, factorBP uint32, n int64, limit uint64) uint64 {
	if v == 0 {
		return 0
	}
	num := new(big.Int).Exp(big.NewInt(int64(factorBP)), big.NewInt(n), nil)
	num.Mul(num, new(big.Int).SetUint64(v))
	den := new(big.Int).Exp(bpsBig, big.NewInt(n), nil)
	num.Quo(num, den)
	if !num.IsUint64() || num.Uint64() > limit {
		return limit
	}
	return num.Uint64()
}
