package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"arenaledger.gg/internal/protocol"
	"arenaledger.gg/internal/sim/amount"
	"arenaledger.gg/internal/sim/ids"
	"arenaledger.gg/internal/sim/rng"
)

type memLog struct {
	mu      sync.Mutex
	entries []ActionLogEntry
}

func (m *memLog) WriteAction(e ActionLogEntry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

func TestApplyDispatch(t *testing.T) {
	h := newHarness(t, noRolls(), nil)
	ctx := context.Background()
	p := ids.DeriveAddress("alice")

	res := h.e.Apply(ctx, Action{Op: "DANCE"})
	require.False(t, res.OK)
	require.Equal(t, protocol.ErrBadRequest, res.Code)

	res = h.e.Apply(ctx, Action{Op: OpCreateCharacter, Player: p, Class: classWarrior, Fee: amount.MustTokens("0.01")})
	require.True(t, res.OK, res.Reason)
	c, ok := res.Data.(Character)
	require.True(t, ok)
	require.Equal(t, p, c.Player)

	res = h.e.Apply(ctx, Action{Op: OpContinueFight, Player: p})
	require.False(t, res.OK)
	require.Equal(t, protocol.ErrNotInCombat, res.Code)
	require.NotEmpty(t, res.Reason)

	res = h.e.Apply(ctx, Action{Op: OpFightEnemy, Player: p, EnemyID: enemyRat, EnemyLevel: 1})
	require.True(t, res.OK)
	rep, ok := res.Data.(FightReport)
	require.True(t, ok)
	require.NotNil(t, rep.Resolved)

	require.True(t, IsAdminOp(OpWithdraw))
	require.True(t, IsAdminOp(OpPublishRoot))
	require.False(t, IsAdminOp(OpClaim))
}

func recordSession(t *testing.T, h *harness, log *memLog) {
	t.Helper()
	ctx := context.Background()
	alice := ids.DeriveAddress("alice")
	bob := ids.DeriveAddress("bob")
	apply := func(a Action) Result {
		res := h.e.Apply(ctx, a)
		h.clock.Advance(time.Minute)
		return res
	}
	apply(Action{Op: OpCreateCharacter, Player: alice, Class: 0, Fee: amount.MustTokens("2")})
	apply(Action{Op: OpCreateCharacter, Player: bob, Class: 1, Fee: amount.MustTokens("0.5")})
	apply(Action{Op: OpCreateCharacter, Player: bob, Class: 1, Fee: amount.MustTokens("0.5")})
	apply(Action{Op: OpFightEnemy, Player: alice, EnemyID: enemyBandit, EnemyLevel: 2})
	apply(Action{Op: OpContinueFight, Player: alice})
	apply(Action{Op: OpFightEnemy, Player: bob, EnemyID: enemyGoblin, EnemyLevel: 1})
	apply(Action{Op: OpFleeRound, Player: bob})
	apply(Action{Op: OpHeal, Player: alice, Fee: amount.MustTokens("0.005")})
	h.xfer.failNext = true
	apply(Action{Op: OpWithdraw})
	apply(Action{Op: OpWithdraw})
	apply(Action{Op: OpRolloverEpoch})
	require.Len(t, log.entries, 11)
}

func TestActionLogReplaysToSameDigests(t *testing.T) {
	log := &memLog{}
	h := newHarness(t, rng.New(7, 11), nil)
	h.cfg.ActionLog = log
	e, err := New(h.cfg)
	require.NoError(t, err)
	h.e = e
	recordSession(t, h, log)

	codes := map[string]int{}
	for _, en := range log.entries {
		codes[en.Code]++
		require.Len(t, en.Digest, 64)
	}
	require.Equal(t, 1, codes[protocol.ErrCharacterExists])
	require.Equal(t, 1, codes[protocol.ErrTransferFailed])

	cfg := h.cfg
	cfg.RNG = rng.New(7, 11)
	r, err := NewReplayer(cfg, genesis.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background(), log.entries))
	require.Equal(t, h.e.Digest(), r.Engine.Digest())
}

func TestReplayDetectsDivergence(t *testing.T) {
	log := &memLog{}
	h := newHarness(t, rng.New(7, 11), nil)
	h.cfg.ActionLog = log
	e, err := New(h.cfg)
	require.NoError(t, err)
	h.e = e
	recordSession(t, h, log)

	entries := append([]ActionLogEntry(nil), log.entries...)
	entries[4].Digest = "00"

	cfg := h.cfg
	cfg.RNG = rng.New(7, 11)
	r, err := NewReplayer(cfg, genesis.Add(time.Hour))
	require.NoError(t, err)
	err = r.Run(context.Background(), entries)
	var mm *MismatchError
	require.True(t, errors.As(err, &mm))
	require.Equal(t, 4, mm.Index)
	require.Equal(t, "digest", mm.Field)

	// A different seed diverges on the fight itself.
	cfg.RNG = rng.New(8, 11)
	r, err = NewReplayer(cfg, genesis.Add(time.Hour))
	require.NoError(t, err)
	require.Error(t, r.Run(context.Background(), log.entries))
}

func TestReplayResumesFromSnapshot(t *testing.T) {
	log := &memLog{}
	h := newHarness(t, rng.New(7, 11), nil)
	h.cfg.ActionLog = log
	e, err := New(h.cfg)
	require.NoError(t, err)
	h.e = e

	ctx := context.Background()
	alice := ids.DeriveAddress("alice")
	bob := ids.DeriveAddress("bob")
	h.e.Apply(ctx, Action{Op: OpCreateCharacter, Player: alice, Class: 0, Fee: amount.MustTokens("1")})
	h.e.Apply(ctx, Action{Op: OpCreateCharacter, Player: bob, Class: 1, Fee: amount.MustTokens("1")})
	h.clock.Advance(time.Minute)

	snap, err := h.e.ExportSnapshot(1)
	require.NoError(t, err)
	require.Equal(t, uint64(2), snap.Applied)

	h.e.Apply(ctx, Action{Op: OpFightEnemy, Player: alice, EnemyID: enemyBandit, EnemyLevel: 2})
	h.clock.Advance(time.Minute)
	h.e.Apply(ctx, Action{Op: OpFightEnemy, Player: bob, EnemyID: enemyRat, EnemyLevel: 1})
	require.Len(t, log.entries, 4)
	for i, en := range log.entries {
		require.Equal(t, uint64(i+1), en.Seq)
	}

	cfg := h.cfg
	cfg.RNG = rng.New(1, 1)
	r, err := NewReplayer(cfg, genesis)
	require.NoError(t, err)
	require.NoError(t, r.Resume(snap))
	require.True(t, snap.Header.TakenAt.Equal(r.Clock.Now()))

	pending := r.Pending(log.entries)
	require.Len(t, pending, 2)
	require.Equal(t, uint64(3), pending[0].Seq)
	require.NoError(t, r.Run(ctx, pending))
	require.Equal(t, h.e.Digest(), r.Engine.Digest())
}
