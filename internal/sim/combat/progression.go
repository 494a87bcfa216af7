package combat

import (
	"math"
	"math/bits"

	"arenaledger.gg/internal/sim/encoding"
)

// Progression controls the experience curve.
type Progression struct {
	XPBase   uint64
	MaxLevel uint8
}

// ClassGrowth is the flat stat gain per level for a class.
type ClassGrowth struct {
	Endurance uint16 `json:"endurance"`
	Combat    uint16 `json:"combat"`
	Defense   uint16 `json:"defense"`
	Luck      uint16 `json:"luck"`
}

// LevelThreshold is the cumulative experience needed to leave level.
func (p Progression) LevelThreshold(level uint8) uint64 {
	l := uint64(level)
	hi, lo := bits.Mul64(p.XPBase, l*l)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}

func satAdd64(a, b uint64) uint64 {
	s, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return s
}

// GainExperience credits xp and applies every level-up it unlocks. Each
// level raises max endurance first and then heals by the amount gained, so
// current endurance never exceeds the new maximum.
func (p Progression) GainExperience(s *encoding.CharacterState, xp uint64, g ClassGrowth) (levels int) {
	s.Experience = satAdd64(s.Experience, xp)
	for s.Level < p.MaxLevel && s.Experience >= p.LevelThreshold(s.Level) {
		levelUp(s, g)
		levels++
	}
	return levels
}

func levelUp(s *encoding.CharacterState, g ClassGrowth) {
	s.Level++
	oldMax := s.MaxEndurance
	s.MaxEndurance = encoding.Sat16(uint64(s.MaxEndurance) + uint64(g.Endurance))
	gained := s.MaxEndurance - oldMax
	s.CurrentEndurance = encoding.Sat16(uint64(s.CurrentEndurance) + uint64(gained))
	if s.CurrentEndurance > s.MaxEndurance {
		s.CurrentEndurance = s.MaxEndurance
	}
	s.Combat = encoding.Sat16(uint64(s.Combat) + uint64(g.Combat))
	s.Defense = encoding.Sat16(uint64(s.Defense) + uint64(g.Defense))
	s.Luck = encoding.Sat16(uint64(s.Luck) + uint64(g.Luck))
}
