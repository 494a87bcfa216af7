// Package tuning holds the economic and combat parameters loaded from
// configs/tuning.yaml.
package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	sdkmath "cosmossdk.io/math"
	"gopkg.in/yaml.v3"

	"arenaledger.gg/internal/sim/amount"
	"arenaledger.gg/internal/sim/combat"
	"arenaledger.gg/internal/sim/economy/rewards"
	"arenaledger.gg/internal/sim/economy/treasury"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	Fees     Fees            `yaml:"fees"`
	FeeSplit treasury.Ratios `yaml:"fee_split"`

	Combat      Combat      `yaml:"combat"`
	Progression Progression `yaml:"progression"`

	HealCooldownSeconds int64 `yaml:"heal_cooldown_seconds"`

	Epoch       Epoch       `yaml:"epoch"`
	Leaderboard Leaderboard `yaml:"leaderboard"`
	Equipment   Equipment   `yaml:"equipment"`
}

// Fees are decimal token strings ("0.01").
type Fees struct {
	Create    string `yaml:"create"`
	Heal      string `yaml:"heal"`
	Resurrect string `yaml:"resurrect"`
}

type Combat struct {
	RoundsPerCall    int    `yaml:"rounds_per_call"`
	MaxEnemyLevel    uint8  `yaml:"max_enemy_level"`
	CritPerLuckBP    uint32 `yaml:"crit_per_luck_bp"`
	CritCapBP        uint32 `yaml:"crit_cap_bp"`
	CritMultiplierBP uint32 `yaml:"crit_multiplier_bp"`
	FleeBaseBP       uint32 `yaml:"flee_base_bp"`
	FleeLuckBP       uint32 `yaml:"flee_luck_bp"`
	FleeMinBP        uint32 `yaml:"flee_min_bp"`
	FleeMaxBP        uint32 `yaml:"flee_max_bp"`
	Growth           Growth `yaml:"enemy_growth"`
}

type Growth struct {
	CombatBP  uint32 `yaml:"combat_bp"`
	DefenseBP uint32 `yaml:"defense_bp"`
	LuckBP    uint32 `yaml:"luck_bp"`
	HealthBP  uint32 `yaml:"health_bp"`
}

type Progression struct {
	XPBase   uint64 `yaml:"xp_base"`
	MaxLevel uint8  `yaml:"max_level"`
}

type Epoch struct {
	GenesisUnix     int64 `yaml:"genesis_unix"`
	DurationSeconds int64 `yaml:"duration_seconds"`
}

type Leaderboard struct {
	DisputeWindowSeconds int64    `yaml:"dispute_window_seconds"`
	PrizeSplitBP         []uint32 `yaml:"prize_split_bp"`
}

type Equipment struct {
	MaxDropRateBP uint32 `yaml:"max_drop_rate_bp"`
	RareBonusBP   uint32 `yaml:"rare_bonus_bp"`
	Tiers         []Tier `yaml:"tiers"`
}

// Tier bounds are token strings; an empty Below marks the open top tier.
type Tier struct {
	Below        string `yaml:"below,omitempty"`
	MultiplierBP uint32 `yaml:"multiplier_bp"`
	Cap          string `yaml:"cap"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		Fees:            Fees{Create: "0.01", Heal: "0.005", Resurrect: "0.02"},
		FeeSplit:        treasury.DefaultRatios(),
		Combat: Combat{
			RoundsPerCall:    5,
			MaxEnemyLevel:    50,
			CritPerLuckBP:    50,
			CritCapBP:        5000,
			CritMultiplierBP: 20000,
			FleeBaseBP:       5000,
			FleeLuckBP:       100,
			FleeMinBP:        1000,
			FleeMaxBP:        9000,
			Growth:           Growth{CombatBP: 11000, DefenseBP: 11000, LuckBP: 10500, HealthBP: 11500},
		},
		Progression:         Progression{XPBase: 100, MaxLevel: 100},
		HealCooldownSeconds: 300,
		Epoch:               Epoch{GenesisUnix: 1767225600, DurationSeconds: 7 * 24 * 3600},
		Leaderboard: Leaderboard{
			DisputeWindowSeconds: 24 * 3600,
			PrizeSplitBP:         []uint32{3000, 2000, 1500, 1000, 800, 600, 400, 300, 250, 150},
		},
		Equipment: Equipment{
			MaxDropRateBP: 5000,
			RareBonusBP:   30000,
			Tiers: []Tier{
				{Below: "10", MultiplierBP: 5000, Cap: "0.1"},
				{Below: "100", MultiplierBP: 10000, Cap: "1"},
				{Below: "1000", MultiplierBP: 15000, Cap: "5"},
				{MultiplierBP: 20000, Cap: "20"},
			},
		},
	}
}

// Load overlays the YAML file at path onto Defaults and validates the result.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if err := t.FeeSplit.Validate(); err != nil {
		return fmt.Errorf("fee_split: %w", err)
	}
	for name, s := range map[string]string{"create": t.Fees.Create, "heal": t.Fees.Heal, "resurrect": t.Fees.Resurrect} {
		v, err := amount.ParseTokens(s)
		if err != nil {
			return fmt.Errorf("fees.%s: %w", name, err)
		}
		if !v.IsPositive() {
			return fmt.Errorf("fees.%s must be positive", name)
		}
	}
	c := t.Combat
	if c.RoundsPerCall <= 0 {
		return fmt.Errorf("combat.rounds_per_call must be > 0")
	}
	if c.MaxEnemyLevel == 0 {
		return fmt.Errorf("combat.max_enemy_level must be > 0")
	}
	if c.FleeMinBP > c.FleeMaxBP || c.FleeMaxBP > amount.BPS {
		return fmt.Errorf("combat flee bounds [%d,%d] invalid", c.FleeMinBP, c.FleeMaxBP)
	}
	if c.CritCapBP > amount.BPS {
		return fmt.Errorf("combat.crit_cap_bp %d exceeds 10000", c.CritCapBP)
	}
	if c.CritMultiplierBP < amount.BPS {
		return fmt.Errorf("combat.crit_multiplier_bp %d below 10000", c.CritMultiplierBP)
	}
	if t.Progression.XPBase == 0 || t.Progression.MaxLevel == 0 {
		return fmt.Errorf("progression: xp_base and max_level must be > 0")
	}
	if t.HealCooldownSeconds < 0 {
		return fmt.Errorf("heal_cooldown_seconds must be >= 0")
	}
	if t.Epoch.DurationSeconds <= 0 {
		return fmt.Errorf("epoch.duration_seconds must be > 0")
	}
	if t.Leaderboard.DisputeWindowSeconds < 0 {
		return fmt.Errorf("leaderboard.dispute_window_seconds must be >= 0")
	}
	var split uint64
	for _, bp := range t.Leaderboard.PrizeSplitBP {
		split += uint64(bp)
	}
	if len(t.Leaderboard.PrizeSplitBP) == 0 || split > amount.BPS {
		return fmt.Errorf("leaderboard.prize_split_bp must be non-empty and sum to <= 10000 (got %d)", split)
	}
	if _, err := t.RewardScaler(); err != nil {
		return fmt.Errorf("equipment: %w", err)
	}
	return nil
}

func (t Tuning) CreateFee() sdkmath.Int    { return mustFee(t.Fees.Create) }
func (t Tuning) HealFee() sdkmath.Int      { return mustFee(t.Fees.Heal) }
func (t Tuning) ResurrectFee() sdkmath.Int { return mustFee(t.Fees.Resurrect) }

// mustFee is only reached after Validate.
func mustFee(s string) sdkmath.Int {
	v, err := amount.ParseTokens(s)
	if err != nil {
		return amount.Zero()
	}
	return v
}

func (t Tuning) Rules() combat.Rules {
	c := t.Combat
	return combat.Rules{
		CritPerLuckBP:    c.CritPerLuckBP,
		CritCapBP:        c.CritCapBP,
		CritMultiplierBP: c.CritMultiplierBP,
		FleeBaseBP:       c.FleeBaseBP,
		FleeLuckBP:       c.FleeLuckBP,
		FleeMinBP:        c.FleeMinBP,
		FleeMaxBP:        c.FleeMaxBP,
	}
}

func (t Tuning) EnemyGrowth() combat.Growth {
	g := t.Combat.Growth
	return combat.Growth{CombatBP: g.CombatBP, DefenseBP: g.DefenseBP, LuckBP: g.LuckBP, HealthBP: g.HealthBP}
}

func (t Tuning) ProgressionRules() combat.Progression {
	return combat.Progression{XPBase: t.Progression.XPBase, MaxLevel: t.Progression.MaxLevel}
}

func (t Tuning) HealCooldown() time.Duration {
	return time.Duration(t.HealCooldownSeconds) * time.Second
}

func (t Tuning) DisputeWindow() time.Duration {
	return time.Duration(t.Leaderboard.DisputeWindowSeconds) * time.Second
}

// Digest identifies the parameter set a server runs with.
func (t Tuning) Digest() string {
	b, _ := json.Marshal(t)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (t Tuning) Genesis() time.Time { return time.Unix(t.Epoch.GenesisUnix, 0).UTC() }

func (t Tuning) EpochDuration() time.Duration {
	return time.Duration(t.Epoch.DurationSeconds) * time.Second
}

func (t Tuning) RewardScaler() (*rewards.Scaler, error) {
	tiers := make([]rewards.Tier, 0, len(t.Equipment.Tiers))
	for i, in := range t.Equipment.Tiers {
		out := rewards.Tier{MultiplierBP: in.MultiplierBP}
		if in.Below != "" {
			v, err := amount.ParseTokens(in.Below)
			if err != nil {
				return nil, fmt.Errorf("tier %d below: %w", i, err)
			}
			out.Below = v
		}
		c, err := amount.ParseTokens(in.Cap)
		if err != nil {
			return nil, fmt.Errorf("tier %d cap: %w", i, err)
		}
		out.Cap = c
		tiers = append(tiers, out)
	}
	return rewards.NewScaler(tiers, t.Equipment.MaxDropRateBP, t.Equipment.RareBonusBP)
}
