package combat

import (
	"testing"

	"github.com/stretchr/testify/require"

	"arenaledger.gg/internal/sim/encoding"
)

func TestGainExperienceMultipleLevels(t *testing.T) {
	p := Progression{XPBase: 100, MaxLevel: 10}
	s := encoding.CharacterState{Level: 1, IsAlive: true, CurrentEndurance: 40, MaxEndurance: 50, Combat: 10, Defense: 10, Luck: 5}
	g := ClassGrowth{Endurance: 10, Combat: 2, Defense: 1, Luck: 1}

	// Thresholds: L1->2 at 100, L2->3 at 400, L3->4 at 900.
	levels := p.GainExperience(&s, 450, g)
	require.Equal(t, 2, levels)
	require.Equal(t, uint8(3), s.Level)
	require.Equal(t, uint16(70), s.MaxEndurance)
	require.Equal(t, uint16(60), s.CurrentEndurance)
	require.Equal(t, uint16(14), s.Combat)
	require.LessOrEqual(t, s.CurrentEndurance, s.MaxEndurance)
}

func TestGainExperienceRespectsCapOnSaturation(t *testing.T) {
	p := Progression{XPBase: 1, MaxLevel: 255}
	s := encoding.CharacterState{Level: 1, IsAlive: true, CurrentEndurance: 65000, MaxEndurance: 65000}
	levels := p.GainExperience(&s, 1<<40, ClassGrowth{Endurance: 400})
	require.Equal(t, 254, levels)
	require.Equal(t, uint8(255), s.Level)
	require.Equal(t, uint16(65535), s.MaxEndurance)
	require.LessOrEqual(t, s.CurrentEndurance, s.MaxEndurance)
}

func TestGainExperienceStopsAtMaxLevel(t *testing.T) {
	p := Progression{XPBase: 100, MaxLevel: 2}
	s := encoding.CharacterState{Level: 2, IsAlive: true}
	require.Zero(t, p.GainExperience(&s, 1_000_000, ClassGrowth{Endurance: 5}))
	require.Equal(t, uint64(1_000_000), s.Experience)
}
