package combat

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScaleEnemyForLevel(t *testing.T) {
	base := EnemyStats{Combat: 10, Defense: 8, Luck: 5, Health: 50}
	g := Growth{CombatBP: 11000, DefenseBP: 10800, LuckBP: 10500, HealthBP: 11200}

	require.Equal(t, base, ScaleEnemyForLevel(base, 1, g))
	require.Equal(t, base, ScaleEnemyForLevel(base, 0, g))

	// 10*1.1^2 = 12.1, 8*1.08^2 = 9.3312, 5*1.05^2 = 5.5125, 50*1.12^2 = 62.72
	require.Equal(t, EnemyStats{Combat: 12, Defense: 9, Luck: 5, Health: 62}, ScaleEnemyForLevel(base, 3, g))
}

func TestScaleEnemyForLevelFloorsOnce(t *testing.T) {
	// Stepwise flooring would give 1 -> 1 -> 1; exact is 1*1.5^4 = 5.06.
	got := ScaleEnemyForLevel(EnemyStats{Combat: 1}, 5, Growth{CombatBP: 15000})
	require.Equal(t, uint16(5), got.Combat)
}

func TestScaleEnemyForLevelSaturates(t *testing.T) {
	got := ScaleEnemyForLevel(EnemyStats{Combat: 60000, Health: math.MaxUint32 - 1}, 50, Growth{CombatBP: 20000, HealthBP: 20000})
	require.Equal(t, uint16(math.MaxUint16), got.Combat)
	require.Equal(t, uint32(math.MaxUint32), got.Health)
}
