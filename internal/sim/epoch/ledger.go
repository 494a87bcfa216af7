// Package epoch accumulates per-player combat scores per epoch.
package epoch

import (
	"math"
	"math/bits"
	"sort"
	"sync"
	"time"

	"arenaledger.gg/internal/sim/ids"
)

// Schedule maps wall time onto epoch numbers. Epoch 0 starts at Genesis.
type Schedule struct {
	Genesis  time.Time
	Duration time.Duration
}

// At returns the epoch containing t. Times before Genesis are epoch 0.
func (s Schedule) At(t time.Time) uint64 {
	if s.Duration <= 0 || t.Before(s.Genesis) {
		return 0
	}
	return uint64(t.Sub(s.Genesis) / s.Duration)
}

// Start is the first instant of epoch.
func (s Schedule) Start(epoch uint64) time.Time {
	return s.Genesis.Add(time.Duration(epoch) * s.Duration)
}

// FightScore is enemyXP scaled by the difficulty multiplier, saturating.
func FightScore(enemyXP uint64, difficultyBP uint32) uint64 {
	hi, lo := bits.Mul64(enemyXP, uint64(difficultyBP))
	if hi >= 10000 {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, 10000)
	return q
}

type Record struct {
	Epoch  uint64      `json:"epoch"`
	Player ids.Address `json:"player"`
	IsKill bool        `json:"is_kill"`
	Score  uint64      `json:"score"`
}

type PlayerScore struct {
	Player ids.Address `json:"player"`
	Score  uint64      `json:"score"`
}

// Ledger holds scores keyed by (epoch, player). Scores only grow.
type Ledger struct {
	mu     sync.Mutex
	scores map[uint64]map[ids.Address]uint64
}

func NewLedger() *Ledger {
	return &Ledger{scores: map[uint64]map[ids.Address]uint64{}}
}

// RecordFight adds one resolved fight's score. Callers invoke it once per fight.
func (l *Ledger) RecordFight(epoch uint64, player ids.Address, enemyXP uint64, difficultyBP uint32, isKill bool) Record {
	score := FightScore(enemyXP, difficultyBP)
	l.add(epoch, player, score)
	return Record{Epoch: epoch, Player: player, IsKill: isKill, Score: score}
}

func (l *Ledger) add(epoch uint64, player ids.Address, score uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := l.scores[epoch]
	if m == nil {
		m = map[ids.Address]uint64{}
		l.scores[epoch] = m
	}
	sum, carry := bits.Add64(m[player], score, 0)
	if carry != 0 {
		sum = math.MaxUint64
	}
	m[player] = sum
}

func (l *Ledger) Score(player ids.Address, epoch uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scores[epoch][player]
}

// Totals ranks an epoch's players by score descending, ties by address.
func (l *Ledger) Totals(epoch uint64) []PlayerScore {
	l.mu.Lock()
	out := make([]PlayerScore, 0, len(l.scores[epoch]))
	for p, s := range l.scores[epoch] {
		out = append(out, PlayerScore{Player: p, Score: s})
	}
	l.mu.Unlock()
	Rank(out)
	return out
}

func Rank(scores []PlayerScore) {
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Player.Less(scores[j].Player)
	})
}

// Epochs lists epochs with any score, ascending.
func (l *Ledger) Epochs() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]uint64, 0, len(l.scores))
	for e := range l.scores {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Reset drops every score.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.scores = map[uint64]map[ids.Address]uint64{}
	l.mu.Unlock()
}

// Restore seeds a score, for snapshot import.
func (l *Ledger) Restore(epoch uint64, player ids.Address, score uint64) {
	l.add(epoch, player, score)
}
