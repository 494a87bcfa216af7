// Package combat resolves single fight rounds and the derived difficulty
// numbers. Everything here is pure: randomness arrives through rng.Source.
package combat

import "arenaledger.gg/internal/sim/rng"

// Rules are the tunable round parameters. All ratios are basis points.
type Rules struct {
	CritPerLuckBP    uint32
	CritCapBP        uint32
	CritMultiplierBP uint32

	FleeBaseBP uint32
	FleeLuckBP uint32
	FleeMinBP  uint32
	FleeMaxBP  uint32
}

func DefaultRules() Rules {
	return Rules{
		CritPerLuckBP:    50,
		CritCapBP:        5000,
		CritMultiplierBP: 20000,
		FleeBaseBP:       5000,
		FleeLuckBP:       100,
		FleeMinBP:        1000,
		FleeMaxBP:        9000,
	}
}

// Round is the input of one exchange of blows.
type Round struct {
	PlayerCombat  uint16
	PlayerDefense uint16
	PlayerLuck    uint16
	EnemyCombat   uint16
	EnemyDefense  uint16
	EnemyLuck     uint16
	PlayerHP      uint32
	EnemyHP       uint32
}

type RoundResult struct {
	PlayerHP uint32 `json:"player_hp"`
	EnemyHP  uint32 `json:"enemy_hp"`
	// PlayerDamage is dealt by the player, EnemyDamage by the enemy.
	PlayerDamage uint32 `json:"player_damage"`
	EnemyDamage  uint32 `json:"enemy_damage"`
	PlayerDied   bool   `json:"player_died"`
	EnemyDied    bool   `json:"enemy_died"`
	PlayerCrit   bool   `json:"player_crit"`
	EnemyCrit    bool   `json:"enemy_crit"`
}

// Damage is attacker combat reduced by defender defense, never below 1.
func Damage(atk, def uint16) uint32 {
	d := uint32(atk) * 100 / (100 + uint32(def))
	if d < 1 {
		d = 1
	}
	return d
}

func (r Rules) CritChanceBP(luck uint16) uint32 {
	c := uint32(luck) * r.CritPerLuckBP
	if c > r.CritCapBP {
		c = r.CritCapBP
	}
	return c
}

func (r Rules) strike(atk, def, luck uint16, src rng.Source) (dmg uint32, crit bool) {
	dmg = Damage(atk, def)
	if src.RollBP() < r.CritChanceBP(luck) {
		crit = true
		dmg = uint32(uint64(dmg) * uint64(r.CritMultiplierBP) / 10000)
		if dmg < 1 {
			dmg = 1
		}
	}
	return dmg, crit
}

func subFloor(hp, dmg uint32) uint32 {
	if dmg >= hp {
		return 0
	}
	return hp - dmg
}

// PerformRound resolves one round. The player strikes first; an enemy brought
// to 0 HP does not strike back, so the player's HP is exactly what it was
// before the round.
func (r Rules) PerformRound(in Round, src rng.Source) RoundResult {
	out := RoundResult{PlayerHP: in.PlayerHP, EnemyHP: in.EnemyHP}

	dmg, crit := r.strike(in.PlayerCombat, in.EnemyDefense, in.PlayerLuck, src)
	out.PlayerDamage = dmg
	out.PlayerCrit = crit
	out.EnemyHP = subFloor(in.EnemyHP, dmg)
	if out.EnemyHP == 0 {
		out.EnemyDied = true
		return out
	}

	out.PlayerHP, out.EnemyDamage, out.EnemyCrit = r.EnemyStrike(in, src)
	out.PlayerDied = out.PlayerHP == 0
	return out
}

// EnemyStrike is a lone enemy attack, used for rounds where the player does
// not swing (a failed flee).
func (r Rules) EnemyStrike(in Round, src rng.Source) (playerHP, dmg uint32, crit bool) {
	dmg, crit = r.strike(in.EnemyCombat, in.PlayerDefense, in.EnemyLuck, src)
	return subFloor(in.PlayerHP, dmg), dmg, crit
}

// FleeChanceBP grows with the luck difference and is clamped to [FleeMinBP, FleeMaxBP].
func (r Rules) FleeChanceBP(playerLuck, enemyLuck uint16) uint32 {
	c := int64(r.FleeBaseBP) + (int64(playerLuck)-int64(enemyLuck))*int64(r.FleeLuckBP)
	if c < int64(r.FleeMinBP) {
		c = int64(r.FleeMinBP)
	}
	if c > int64(r.FleeMaxBP) {
		c = int64(r.FleeMaxBP)
	}
	return uint32(c)
}
