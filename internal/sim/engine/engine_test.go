package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"arenaledger.gg/internal/protocol"
	"arenaledger.gg/internal/sim/amount"
	"arenaledger.gg/internal/sim/ids"
	"arenaledger.gg/internal/sim/rng"
	"arenaledger.gg/internal/sim/tuning"
)

const (
	classWarrior = 0

	enemyRat     = 1
	enemyGoblin  = 2
	enemyBandit  = 3
	enemyWyrmling = 5
)

var genesis = time.Unix(1767225600, 0).UTC()

type recorder struct {
	mu     sync.Mutex
	fights []FightResolved
	roots  []RootPublished
	claims []PrizeClaimed
}

func (r *recorder) FightResolved(ev FightResolved) {
	r.mu.Lock()
	r.fights = append(r.fights, ev)
	r.mu.Unlock()
}

func (r *recorder) RootPublished(ev RootPublished) {
	r.mu.Lock()
	r.roots = append(r.roots, ev)
	r.mu.Unlock()
}

func (r *recorder) PrizeClaimed(ev PrizeClaimed) {
	r.mu.Lock()
	r.claims = append(r.claims, ev)
	r.mu.Unlock()
}

type payment struct {
	to  ids.Address
	amt sdkmath.Int
}

type fakeTransfer struct {
	mu       sync.Mutex
	failNext bool
	paid     []payment
}

func (f *fakeTransfer) Transfer(_ context.Context, to ids.Address, amt sdkmath.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("rpc unavailable")
	}
	f.paid = append(f.paid, payment{to: to, amt: amt})
	return nil
}

type harness struct {
	e     *Engine
	clock *clockwork.FakeClock
	rec   *recorder
	xfer  *fakeTransfer
	cfg   Config
}

func newHarness(t *testing.T, src rng.Source, mutate func(*tuning.Tuning)) *harness {
	t.Helper()
	tu := tuning.Defaults()
	if mutate != nil {
		mutate(&tu)
	}
	h := &harness{
		clock: clockwork.NewFakeClockAt(genesis.Add(time.Hour)),
		rec:   &recorder{},
		xfer:  &fakeTransfer{},
	}
	h.cfg = Config{
		Tuning:          tu,
		Clock:           h.clock,
		RNG:             src,
		Sinks:           []EventSink{h.rec},
		Transfer:        h.xfer,
		TreasuryAddress: ids.DeriveAddress("treasury"),
	}
	e, err := New(h.cfg)
	require.NoError(t, err)
	h.e = e
	return h
}

// noRolls never crits, never drops and never flees.
func noRolls() rng.Source { return rng.NewScript(9999) }

func requireCode(t *testing.T, code string, err error) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, protocol.CodeOf(err), err.Error())
}

func (h *harness) create(t *testing.T, label string, fee string) ids.Address {
	t.Helper()
	p := ids.DeriveAddress(label)
	_, err := h.e.CreateCharacter(p, classWarrior, amount.MustTokens(fee))
	require.NoError(t, err)
	return p
}

func TestCreateCharacter(t *testing.T) {
	h := newHarness(t, noRolls(), nil)
	p := ids.DeriveAddress("alice")

	_, err := h.e.CreateCharacter(p, 9, amount.MustTokens("0.01"))
	requireCode(t, protocol.ErrBadClass, err)
	_, err = h.e.CreateCharacter(p, classWarrior, amount.Zero())
	requireCode(t, protocol.ErrBadAmount, err)
	_, err = h.e.CreateCharacter(p, classWarrior, amount.MustTokens("0.005"))
	requireCode(t, protocol.ErrInsufficientFee, err)
	_, err = h.e.GetCharacter(p)
	requireCode(t, protocol.ErrNoCharacter, err)

	c, err := h.e.CreateCharacter(p, classWarrior, amount.MustTokens("0.01"))
	require.NoError(t, err)
	require.Equal(t, uint8(1), c.State.Level)
	require.True(t, c.State.IsAlive)
	require.Equal(t, uint16(120), c.State.CurrentEndurance)
	require.Equal(t, uint16(120), c.State.MaxEndurance)
	require.Equal(t, uint16(16), c.State.Combat)
	require.Nil(t, c.Fight)

	_, err = h.e.CreateCharacter(p, classWarrior, amount.MustTokens("0.01"))
	requireCode(t, protocol.ErrCharacterExists, err)

	// Overpayment is allocated in full.
	h.create(t, "bob", "1")
	pools := h.e.GetAllPoolData()
	require.True(t, pools.Total().Equal(amount.MustTokens("1.01")))
	require.True(t, pools.Developer.Equal(amount.MustTokens("0.202")))
}

func TestMultiCallFightScoresOnce(t *testing.T) {
	h := newHarness(t, noRolls(), nil)
	p := h.create(t, "alice", "0.01")

	rep, err := h.e.FightEnemy(p, enemyBandit, 1)
	require.NoError(t, err)
	require.Nil(t, rep.Resolved)
	require.Len(t, rep.Rounds, 5)
	require.Equal(t, uint16(25), rep.Character.State.CurrentEndurance)
	require.NotNil(t, rep.Character.Fight)
	require.Equal(t, uint32(10), rep.Character.Fight.EnemyHP)
	require.Equal(t, uint64(0), h.e.GetEpochScore(p, 0))
	require.Empty(t, h.rec.fights)

	_, err = h.e.FightEnemy(p, enemyBandit, 1)
	requireCode(t, protocol.ErrInCombat, err)

	rep, err = h.e.ContinueFight(p)
	require.NoError(t, err)
	require.Len(t, rep.Rounds, 1)
	require.True(t, rep.Rounds[0].EnemyDied)
	require.NotNil(t, rep.Resolved)

	ev := rep.Resolved
	require.Equal(t, OutcomeKill, ev.Outcome)
	require.Equal(t, 6, ev.Rounds)
	require.Equal(t, uint64(60), ev.EnemyXP)
	require.Equal(t, int64(-11), ev.CombatIndex)
	require.Greater(t, ev.FightScore, uint64(0))
	require.Equal(t, ev.FightScore, uint64(60)*uint64(ev.DifficultyBP)/10000)

	// No heal on the killing round.
	require.Equal(t, uint32(25), rep.Rounds[0].PlayerHP)
	require.Equal(t, uint16(25), rep.Character.State.CurrentEndurance)
	require.Equal(t, uint32(1), rep.Character.State.Kills)
	require.Equal(t, uint64(60), rep.Character.State.Experience)
	require.Nil(t, rep.Character.Fight)

	require.Equal(t, ev.FightScore, h.e.GetEpochScore(p, 0))
	require.Len(t, h.rec.fights, 1)

	_, err = h.e.ContinueFight(p)
	requireCode(t, protocol.ErrNotInCombat, err)
	require.Equal(t, ev.FightScore, h.e.GetEpochScore(p, 0))
}

func TestFightValidation(t *testing.T) {
	h := newHarness(t, noRolls(), nil)
	p := h.create(t, "alice", "0.01")

	_, err := h.e.FightEnemy(p, 99, 1)
	requireCode(t, protocol.ErrBadEnemy, err)
	_, err = h.e.FightEnemy(p, enemyRat, 0)
	requireCode(t, protocol.ErrBadLevel, err)
	_, err = h.e.FightEnemy(p, enemyRat, 51)
	requireCode(t, protocol.ErrBadLevel, err)
	_, err = h.e.FightEnemy(ids.DeriveAddress("nobody"), enemyRat, 1)
	requireCode(t, protocol.ErrNoCharacter, err)
	_, err = h.e.FleeRound(p)
	requireCode(t, protocol.ErrNotInCombat, err)
}

func TestDeathAndResurrect(t *testing.T) {
	h := newHarness(t, noRolls(), nil)
	p := h.create(t, "alice", "0.01")

	rep, err := h.e.FightEnemy(p, enemyWyrmling, 1)
	require.NoError(t, err)
	require.Len(t, rep.Rounds, 3)
	require.NotNil(t, rep.Resolved)
	require.Equal(t, OutcomeDeath, rep.Resolved.Outcome)
	require.Equal(t, uint64(0), rep.Resolved.FightScore)

	st := rep.Character.State
	require.False(t, st.IsAlive)
	require.Equal(t, uint16(0), st.CurrentEndurance)
	require.Equal(t, uint32(1), st.Deaths)

	_, err = h.e.FightEnemy(p, enemyRat, 1)
	requireCode(t, protocol.ErrNotAlive, err)
	_, err = h.e.HealCharacter(p, amount.MustTokens("0.005"))
	requireCode(t, protocol.ErrNotAlive, err)
	ok, reason := h.e.CanHeal(p)
	require.False(t, ok)
	require.Contains(t, reason, protocol.ErrNotAlive)

	ok, _ = h.e.CanResurrect(p)
	require.True(t, ok)
	_, err = h.e.ResurrectCharacter(p, amount.MustTokens("0.01"))
	requireCode(t, protocol.ErrInsufficientFee, err)

	c, err := h.e.ResurrectCharacter(p, amount.MustTokens("0.02"))
	require.NoError(t, err)
	require.True(t, c.State.IsAlive)
	require.Equal(t, uint16(60), c.State.CurrentEndurance)

	_, err = h.e.ResurrectCharacter(p, amount.MustTokens("0.02"))
	requireCode(t, protocol.ErrAlive, err)
	ok, reason = h.e.CanResurrect(p)
	require.False(t, ok)
	require.Contains(t, reason, protocol.ErrAlive)
}

func TestFleeOutcomes(t *testing.T) {
	oneRound := func(tu *tuning.Tuning) { tu.Combat.RoundsPerCall = 1 }

	t.Run("escape", func(t *testing.T) {
		h := newHarness(t, rng.NewScript(9999, 9999, 0), oneRound)
		p := h.create(t, "alice", "0.01")
		_, err := h.e.FightEnemy(p, enemyBandit, 1)
		require.NoError(t, err)

		rep, err := h.e.FleeRound(p)
		require.NoError(t, err)
		require.True(t, rep.Flee.Escaped)
		require.Equal(t, uint32(4600), rep.Flee.ChanceBP)
		require.NotNil(t, rep.Resolved)
		require.Equal(t, OutcomeFled, rep.Resolved.Outcome)
		require.Equal(t, uint64(0), rep.Resolved.EnemyXP)
		require.Nil(t, rep.Character.Fight)
		require.Equal(t, uint16(101), rep.Character.State.CurrentEndurance)
		require.Len(t, h.rec.fights, 1)
	})

	t.Run("caught", func(t *testing.T) {
		h := newHarness(t, noRolls(), oneRound)
		p := h.create(t, "alice", "0.01")
		_, err := h.e.FightEnemy(p, enemyBandit, 1)
		require.NoError(t, err)

		rep, err := h.e.FleeRound(p)
		require.NoError(t, err)
		require.False(t, rep.Flee.Escaped)
		require.Nil(t, rep.Resolved)
		require.Len(t, rep.Rounds, 1)
		require.Equal(t, uint32(19), rep.Rounds[0].EnemyDamage)
		require.Equal(t, uint32(0), rep.Rounds[0].PlayerDamage)
		require.Equal(t, uint16(82), rep.Character.State.CurrentEndurance)
		require.NotNil(t, rep.Character.Fight)
		require.Equal(t, 2, rep.Character.Fight.Rounds)
		require.Empty(t, h.rec.fights)
	})
}

func TestEquipmentDrop(t *testing.T) {
	rolls := make([]uint32, 0, 13)
	for i := 0; i < 11; i++ {
		rolls = append(rolls, 9999)
	}
	rolls = append(rolls, 0, 9999) // drop succeeds, not rare
	h := newHarness(t, rng.NewScript(rolls...), func(tu *tuning.Tuning) { tu.Combat.RoundsPerCall = 10 })
	p := h.create(t, "alice", "10")
	require.True(t, h.e.GetAllPoolData().Equipment.Equal(amount.MustTokens("0.8")))

	rep, err := h.e.FightEnemy(p, enemyBandit, 1)
	require.NoError(t, err)
	require.NotNil(t, rep.Resolved)
	drop := rep.Resolved.Drop
	require.NotNil(t, drop)
	require.True(t, drop.Granted)
	require.False(t, drop.Rare)
	require.True(t, drop.Value.Equal(amount.MustTokens("0.075")), drop.Value.String())
	require.True(t, rep.Character.EquipmentValue.Equal(amount.MustTokens("0.075")))
	require.True(t, h.e.GetAllPoolData().Equipment.Equal(amount.MustTokens("0.725")))
}

func TestLevelUpKeepsEnduranceWithinMax(t *testing.T) {
	h := newHarness(t, noRolls(), func(tu *tuning.Tuning) { tu.Progression.XPBase = 1 })
	p := h.create(t, "alice", "0.01")

	_, err := h.e.FightEnemy(p, enemyBandit, 1)
	require.NoError(t, err)
	rep, err := h.e.ContinueFight(p)
	require.NoError(t, err)
	require.Equal(t, 7, rep.Resolved.LevelsGained)

	// The killing round itself neither damages nor heals; the gain below
	// comes from the level-ups applied after the fight resolved.
	last := rep.Rounds[len(rep.Rounds)-1]
	require.True(t, last.EnemyDied)
	require.Zero(t, last.EnemyDamage)
	require.Equal(t, uint32(25), last.PlayerHP)

	st := rep.Character.State
	require.Equal(t, uint8(8), st.Level)
	require.Equal(t, uint16(120+7*12), st.MaxEndurance)
	require.Equal(t, uint16(25+7*12), st.CurrentEndurance)
	require.LessOrEqual(t, st.CurrentEndurance, st.MaxEndurance)
	require.Equal(t, uint16(16+7*3), st.Combat)
}

func TestHealCooldown(t *testing.T) {
	h := newHarness(t, rng.NewScript(9999, 9999, 0), func(tu *tuning.Tuning) { tu.Combat.RoundsPerCall = 1 })
	p := h.create(t, "alice", "0.01")

	_, err := h.e.FightEnemy(p, enemyBandit, 1)
	require.NoError(t, err)
	_, err = h.e.HealCharacter(p, amount.MustTokens("0.005"))
	requireCode(t, protocol.ErrInCombat, err)
	rep, err := h.e.FleeRound(p)
	require.NoError(t, err)
	require.True(t, rep.Flee.Escaped)

	_, err = h.e.HealCharacter(p, amount.Zero())
	requireCode(t, protocol.ErrBadAmount, err)
	_, err = h.e.HealCharacter(p, amount.MustTokens("0.001"))
	requireCode(t, protocol.ErrInsufficientFee, err)

	ok, _ := h.e.CanHeal(p)
	require.True(t, ok)
	c, err := h.e.HealCharacter(p, amount.MustTokens("0.005"))
	require.NoError(t, err)
	require.Equal(t, uint16(120), c.State.CurrentEndurance)
	require.Equal(t, uint64(h.clock.Now().Unix()), c.State.LastHealAt)

	_, err = h.e.HealCharacter(p, amount.MustTokens("0.005"))
	requireCode(t, protocol.ErrFullHealth, err)

	_, err = h.e.FightEnemy(p, enemyBandit, 1)
	require.NoError(t, err)
	_, err = h.e.FleeRound(p)
	require.NoError(t, err)

	_, err = h.e.HealCharacter(p, amount.MustTokens("0.005"))
	requireCode(t, protocol.ErrCooldown, err)
	ok, reason := h.e.CanHeal(p)
	require.False(t, ok)
	require.Contains(t, reason, protocol.ErrCooldown)

	h.clock.Advance(5 * time.Minute)
	_, err = h.e.HealCharacter(p, amount.MustTokens("0.005"))
	require.NoError(t, err)
}

func TestWithdrawAndRollover(t *testing.T) {
	h := newHarness(t, noRolls(), nil)
	h.create(t, "alice", "15")
	before := h.e.GetAllPoolData()
	require.True(t, before.Developer.Equal(amount.Tokens(3)))
	require.True(t, before.Emergency.Equal(amount.MustTokens("0.6")))

	h.xfer.failNext = true
	_, err := h.e.Withdraw(context.Background())
	requireCode(t, protocol.ErrTransferFailed, err)
	require.True(t, h.e.GetAllPoolData().Developer.Equal(amount.Tokens(3)))

	w, err := h.e.Withdraw(context.Background())
	require.NoError(t, err)
	require.True(t, w.Total.Equal(amount.MustTokens("3.6")))
	require.Len(t, h.xfer.paid, 1)
	require.Equal(t, ids.DeriveAddress("treasury"), h.xfer.paid[0].to)

	after := h.e.GetAllPoolData()
	require.True(t, after.Developer.IsZero())
	require.True(t, after.Emergency.IsZero())
	require.True(t, after.Prize.Equal(before.Prize))

	_, err = h.e.Withdraw(context.Background())
	requireCode(t, protocol.ErrInsufficientPool, err)

	moved, err := h.e.RolloverEpoch()
	require.NoError(t, err)
	require.True(t, moved.Equal(amount.MustTokens("1.2")))
	after = h.e.GetAllPoolData()
	require.True(t, after.NextEpoch.IsZero())
	require.True(t, after.Prize.Equal(amount.MustTokens("8.4")))
}

func TestWithdrawNeedsTreasuryAddress(t *testing.T) {
	e, err := New(Config{Tuning: tuning.Defaults(), RNG: noRolls(), Clock: clockwork.NewFakeClockAt(genesis)})
	require.NoError(t, err)
	_, err = e.Withdraw(context.Background())
	requireCode(t, protocol.ErrBadRequest, err)
}

func TestConcurrentFeesSumExactly(t *testing.T) {
	h := newHarness(t, rng.New(1, 2), nil)
	const players = 32
	var wg sync.WaitGroup
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := ids.DeriveAddress("p" + string(rune('A'+i)))
			if _, err := h.e.CreateCharacter(p, uint8(i%4), amount.MustTokens("0.013")); err != nil {
				t.Error(err)
				return
			}
			if _, err := h.e.FightEnemy(p, enemyRat, 1); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	require.True(t, h.e.GetAllPoolData().Total().Add(sumEquipment(h.e)).Equal(amount.MustTokens("0.013").MulRaw(players)))
}

func sumEquipment(e *Engine) sdkmath.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := amount.Zero()
	for _, c := range e.chars {
		total = total.Add(amount.OrZero(c.equipment))
	}
	return total
}
