package combat

const (
	// MinDifficultyBP is the grinding floor for far easier fights.
	MinDifficultyBP = 500
	// MaxDifficultyBP is the challenge ceiling for far harder fights.
	MaxDifficultyBP = 100000
)

type anchor struct {
	index int64
	bp    int64
}

// Ascending by index. The last segment continues the (10,15) slope down to the floor.
var difficultyAnchors = []anchor{
	{-25, 100000},
	{-15, 50000},
	{-10, 35000},
	{-5, 20000},
	{0, 8000},
	{10, 2000},
	{15, 1250},
	{20, MinDifficultyBP},
}

func sidePower(combat, defense, luck uint16) int64 {
	return int64(combat) + int64(defense) + int64(luck)/2
}

// CombatIndex is the relative strength of the player over the enemy in
// percent of their combined power. Positive means the player is stronger.
// Swapping the sides negates the result exactly.
func CombatIndex(playerCombat, playerDefense, playerLuck, enemyCombat, enemyDefense, enemyLuck uint16) int64 {
	p := sidePower(playerCombat, playerDefense, playerLuck)
	e := sidePower(enemyCombat, enemyDefense, enemyLuck)
	if p+e == 0 {
		return 0
	}
	return (p - e) * 100 / (p + e)
}

// DifficultyMultiplier maps a combat index to a reward multiplier in basis
// points. It is non-increasing in the index and bounded by
// [MinDifficultyBP, MaxDifficultyBP].
func DifficultyMultiplier(combatIndex int64) uint32 {
	first, last := difficultyAnchors[0], difficultyAnchors[len(difficultyAnchors)-1]
	if combatIndex <= first.index {
		return uint32(first.bp)
	}
	if combatIndex >= last.index {
		return uint32(last.bp)
	}
	for i := 1; i < len(difficultyAnchors); i++ {
		b := difficultyAnchors[i]
		if combatIndex > b.index {
			continue
		}
		a := difficultyAnchors[i-1]
		v := a.bp + (b.bp-a.bp)*(combatIndex-a.index)/(b.index-a.index)
		return clampBP(v)
	}
	return uint32(last.bp)
}

func clampBP(v int64) uint32 {
	if v < MinDifficultyBP {
		return MinDifficultyBP
	}
	if v > MaxDifficultyBP {
		return MaxDifficultyBP
	}
	return uint32(v)
}
