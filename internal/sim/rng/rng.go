// Package rng provides the deterministic roll sources the engine draws from.
// Nothing here reads wall-clock time or OS entropy.
package rng

import (
	"fmt"
	"math/rand/v2"
)

// Source yields basis-point rolls in [0, 10000).
type Source interface {
	RollBP() uint32
}

// PCG is a seeded, serializable Source.
type PCG struct {
	pcg *rand.PCG
	r   *rand.Rand
}

func New(seed1, seed2 uint64) *PCG {
	p := rand.NewPCG(seed1, seed2)
	return &PCG{pcg: p, r: rand.New(p)}
}

func (s *PCG) RollBP() uint32 { return uint32(s.r.IntN(10000)) }

// MarshalBinary captures the generator position for snapshots.
func (s *PCG) MarshalBinary() ([]byte, error) { return s.pcg.MarshalBinary() }

func (s *PCG) UnmarshalBinary(b []byte) error {
	if err := s.pcg.UnmarshalBinary(b); err != nil {
		return fmt.Errorf("rng state: %w", err)
	}
	return nil
}

// Script replays a fixed list of rolls, cycling when exhausted. Tests use it
// to force crits, drops and flee outcomes.
type Script struct {
	Rolls []uint32
	next  int
}

func NewScript(rolls ...uint32) *Script { return &Script{Rolls: rolls} }

func (s *Script) RollBP() uint32 {
	if len(s.Rolls) == 0 {
		return 0
	}
	v := s.Rolls[s.next%len(s.Rolls)]
	s.next++
	return v % 10000
}

// Used reports how many rolls have been drawn.
func (s *Script) Used() int { return s.next }
