// Package rewards scales equipment drops by the size of the equipment pool.
package rewards

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"arenaledger.gg/internal/sim/amount"
	"arenaledger.gg/internal/sim/rng"
)

// Tier applies while the pool balance is below Below. The last tier has a
// nil Below and covers everything above.
type Tier struct {
	Below        sdkmath.Int
	MultiplierBP uint32
	Cap          sdkmath.Int
}

// DefaultTiers is the whole-token tier table. Boundaries and caps are in
// tokens (10^18 base units).
func DefaultTiers() []Tier {
	return []Tier{
		{Below: amount.Tokens(10), MultiplierBP: 5000, Cap: amount.MustTokens("0.1")},
		{Below: amount.Tokens(100), MultiplierBP: 10000, Cap: amount.Tokens(1)},
		{Below: amount.Tokens(1000), MultiplierBP: 15000, Cap: amount.Tokens(5)},
		{MultiplierBP: 20000, Cap: amount.Tokens(20)},
	}
}

type Scaler struct {
	tiers         []Tier
	maxDropRateBP uint32
	rareBonusBP   uint32
}

// NewScaler validates tiers (ascending, last one unbounded) and the drop
// bounds.
func NewScaler(tiers []Tier, maxDropRateBP, rareBonusBP uint32) (*Scaler, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("equipment tiers: empty")
	}
	for i, t := range tiers {
		last := i == len(tiers)-1
		if last != t.Below.IsNil() {
			return nil, fmt.Errorf("equipment tiers: only the last tier may be unbounded (tier %d)", i)
		}
		if t.Cap.IsNil() || t.Cap.IsNegative() {
			return nil, fmt.Errorf("equipment tiers: tier %d cap must be non-negative", i)
		}
		if i > 0 && !last && !t.Below.GT(tiers[i-1].Below) {
			return nil, fmt.Errorf("equipment tiers: tier %d bound must ascend", i)
		}
	}
	if maxDropRateBP == 0 || maxDropRateBP > amount.BPS {
		return nil, fmt.Errorf("max drop rate %d out of range", maxDropRateBP)
	}
	return &Scaler{tiers: tiers, maxDropRateBP: maxDropRateBP, rareBonusBP: rareBonusBP}, nil
}

func (s *Scaler) tier(pool sdkmath.Int) Tier {
	pool = amount.OrZero(pool)
	for _, t := range s.tiers[:len(s.tiers)-1] {
		if pool.LT(t.Below) {
			return t
		}
	}
	return s.tiers[len(s.tiers)-1]
}

func (s *Scaler) RewardMultiplier(pool sdkmath.Int) uint32 { return s.tier(pool).MultiplierBP }

func (s *Scaler) MaxRewardCap(pool sdkmath.Int) sdkmath.Int { return s.tier(pool).Cap }

// DropRateBP scales an enemy's drop rate by the fight difficulty, capped at
// the absolute maximum.
func (s *Scaler) DropRateBP(enemyDropBP, difficultyBP uint32) uint32 {
	r := uint64(enemyDropBP) * uint64(difficultyBP) / amount.BPS
	if r > uint64(s.maxDropRateBP) {
		return s.maxDropRateBP
	}
	return uint32(r)
}

type Drop struct {
	ChanceBP uint32      `json:"chance_bp"`
	Roll     uint32      `json:"roll"`
	Granted  bool        `json:"granted"`
	Rare     bool        `json:"rare,omitempty"`
	Value    sdkmath.Int `json:"value"`
}

// Roll decides a drop and its value. The value never exceeds the tier cap or
// the pool itself; the caller debits it from the equipment pool.
func (s *Scaler) Roll(src rng.Source, enemyDropBP, rareDropBP, difficultyBP uint32, baseReward, pool sdkmath.Int) Drop {
	d := Drop{ChanceBP: s.DropRateBP(enemyDropBP, difficultyBP), Value: sdkmath.ZeroInt()}
	d.Roll = src.RollBP()
	if d.Roll >= d.ChanceBP {
		return d
	}
	base := amount.OrZero(baseReward)
	if src.RollBP() < rareDropBP {
		d.Rare = true
		base = amount.MulBP(base, s.rareBonusBP)
	}
	pool = amount.OrZero(pool)
	v := amount.MulBP(base, s.RewardMultiplier(pool))
	v = sdkmath.MinInt(v, s.MaxRewardCap(pool))
	v = sdkmath.MinInt(v, pool)
	d.Value = v
	d.Granted = v.IsPositive()
	return d
}
