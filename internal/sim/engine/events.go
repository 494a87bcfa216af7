package engine

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"arenaledger.gg/internal/sim/economy/rewards"
	"arenaledger.gg/internal/sim/ids"
	"arenaledger.gg/internal/sim/leaderboard"
)

type Outcome string

const (
	OutcomeKill  Outcome = "KILL"
	OutcomeDeath Outcome = "DEATH"
	OutcomeFled  Outcome = "FLED"
)

// FightResolved is emitted once per fight, whichever call ended it.
type FightResolved struct {
	Epoch        uint64        `json:"epoch"`
	Player       ids.Address   `json:"player"`
	EnemyID      uint16        `json:"enemy_id"`
	EnemyLevel   uint8         `json:"enemy_level"`
	Outcome      Outcome       `json:"outcome"`
	IsKill       bool          `json:"is_kill"`
	EnemyXP      uint64        `json:"enemy_xp"`
	CombatIndex  int64         `json:"combat_index"`
	DifficultyBP uint32        `json:"difficulty_bp"`
	FightScore   uint64        `json:"fight_score"`
	Rounds       int           `json:"rounds"`
	LevelsGained int           `json:"levels_gained,omitempty"`
	Drop         *rewards.Drop `json:"drop,omitempty"`
	At           time.Time     `json:"at"`
}

type PrizeClaimed struct {
	Epoch   uint64      `json:"epoch"`
	Index   uint64      `json:"index"`
	Account ids.Address `json:"account"`
	Amount  sdkmath.Int `json:"amount"`
	At      time.Time   `json:"at"`
}

type RootPublished struct {
	Epoch            uint64           `json:"epoch"`
	Root             leaderboard.Hash `json:"root"`
	TotalFunded      sdkmath.Int      `json:"total_funded"`
	DisputeWindowEnd time.Time        `json:"dispute_window_end"`
	At               time.Time        `json:"at"`
}

// EventSink observes resolved fights, published roots and paid claims.
// Implementations must not call back into the engine.
type EventSink interface {
	FightResolved(FightResolved)
	RootPublished(RootPublished)
	PrizeClaimed(PrizeClaimed)
}

func (e *Engine) emitFight(ev *FightResolved) {
	if ev == nil {
		return
	}
	for _, s := range e.sinks {
		s.FightResolved(*ev)
	}
}

func (e *Engine) emitRoot(ev RootPublished) {
	for _, s := range e.sinks {
		s.RootPublished(ev)
	}
}

func (e *Engine) emitClaim(ev PrizeClaimed) {
	for _, s := range e.sinks {
		s.PrizeClaimed(ev)
	}
}
