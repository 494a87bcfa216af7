package combat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDifficultyMultiplierAnchors(t *testing.T) {
	cases := map[int64]uint32{
		15:  1250,
		10:  2000,
		0:   8000,
		-5:  20000,
		-10: 35000,
		-15: 50000,
		-25: 100000,
	}
	for idx, want := range cases {
		require.Equal(t, want, DifficultyMultiplier(idx), "index %d", idx)
	}
}

func TestDifficultyMultiplierClamps(t *testing.T) {
	require.Equal(t, uint32(MinDifficultyBP), DifficultyMultiplier(20))
	require.Equal(t, uint32(MinDifficultyBP), DifficultyMultiplier(100))
	require.Equal(t, uint32(MaxDifficultyBP), DifficultyMultiplier(-26))
	require.Equal(t, uint32(MaxDifficultyBP), DifficultyMultiplier(-100))
}

func TestDifficultyMultiplierMonotonicAndBounded(t *testing.T) {
	prev := DifficultyMultiplier(-200)
	for x := int64(-199); x <= 200; x++ {
		cur := DifficultyMultiplier(x)
		require.LessOrEqual(t, cur, prev, "index %d", x)
		require.GreaterOrEqual(t, cur, uint32(MinDifficultyBP))
		require.LessOrEqual(t, cur, uint32(MaxDifficultyBP))
		prev = cur
	}
}

func TestCombatIndexSignAndSymmetry(t *testing.T) {
	require.Zero(t, CombatIndex(10, 10, 10, 10, 10, 10))
	require.Zero(t, CombatIndex(0, 0, 0, 0, 0, 0))

	easy := CombatIndex(30, 20, 10, 10, 5, 2)
	require.Positive(t, easy)
	require.Equal(t, -easy, CombatIndex(10, 5, 2, 30, 20, 10))

	for pc := uint16(0); pc < 60; pc += 7 {
		for ec := uint16(0); ec < 60; ec += 5 {
			a := CombatIndex(pc, 11, 3, ec, 9, 4)
			b := CombatIndex(ec, 9, 4, pc, 11, 3)
			require.Equal(t, a, -b)
		}
	}
}
