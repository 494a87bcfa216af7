package engine

import (
	"time"

	"arenaledger.gg/internal/metrics"
	"arenaledger.gg/internal/protocol"
	"arenaledger.gg/internal/sim/amount"
	"arenaledger.gg/internal/sim/combat"
	"arenaledger.gg/internal/sim/economy/treasury"
	"arenaledger.gg/internal/sim/encoding"
	"arenaledger.gg/internal/sim/ids"
)

// FightReport describes what one fight call did.
type FightReport struct {
	Rounds    []combat.RoundResult `json:"rounds"`
	Flee      *FleeAttempt         `json:"flee,omitempty"`
	Resolved  *FightResolved       `json:"resolved,omitempty"`
	Character Character            `json:"character"`
}

type FleeAttempt struct {
	ChanceBP uint32 `json:"chance_bp"`
	Roll     uint32 `json:"roll"`
	Escaped  bool   `json:"escaped"`
}

// FightEnemy starts a fight against enemyID scaled to level and runs up to
// RoundsPerCall rounds.
func (e *Engine) FightEnemy(player ids.Address, enemyID uint16, level uint8) (FightReport, error) {
	def, ok := e.cats.Enemy(enemyID)
	if !ok {
		return FightReport{}, protocol.Errorf(protocol.ErrBadEnemy, "unknown enemy %d", enemyID)
	}
	if level == 0 || level > e.tuning.Combat.MaxEnemyLevel {
		return FightReport{}, protocol.Errorf(protocol.ErrBadLevel, "enemy level %d outside [1,%d]", level, e.tuning.Combat.MaxEnemyLevel)
	}
	now := e.clock.Now()

	e.mu.Lock()
	c, st, err := e.loadLocked(player)
	if err != nil {
		e.mu.Unlock()
		return FightReport{}, err
	}
	if !st.IsAlive {
		e.mu.Unlock()
		return FightReport{}, protocol.Errorf(protocol.ErrNotAlive, "character is dead")
	}
	if c.fight != nil {
		e.mu.Unlock()
		return FightReport{}, protocol.Errorf(protocol.ErrInCombat, "already fighting enemy %d", c.fight.EnemyID)
	}

	stats := combat.ScaleEnemyForLevel(def.Stats(), level, e.growth)
	idx := combat.CombatIndex(st.Combat, st.Defense, st.Luck, stats.Combat, stats.Defense, stats.Luck)
	c.fight = &ActiveFight{
		EnemyID:      enemyID,
		EnemyLevel:   level,
		Enemy:        stats,
		EnemyHP:      stats.Health,
		CombatIndex:  idx,
		DifficultyBP: combat.DifficultyMultiplier(idx),
		StartedAt:    now,
	}
	rep := e.runRoundsLocked(player, c, st, now)
	e.mu.Unlock()

	e.emitFight(rep.Resolved)
	return rep, nil
}

// ContinueFight runs further rounds of the active fight.
func (e *Engine) ContinueFight(player ids.Address) (FightReport, error) {
	now := e.clock.Now()

	e.mu.Lock()
	c, st, err := e.loadLocked(player)
	if err != nil {
		e.mu.Unlock()
		return FightReport{}, err
	}
	if c.fight == nil {
		e.mu.Unlock()
		return FightReport{}, protocol.Errorf(protocol.ErrNotInCombat, "no active fight")
	}
	rep := e.runRoundsLocked(player, c, st, now)
	e.mu.Unlock()

	e.emitFight(rep.Resolved)
	return rep, nil
}

// FleeRound tries to escape. A failed attempt gives the enemy a free strike.
func (e *Engine) FleeRound(player ids.Address) (FightReport, error) {
	now := e.clock.Now()

	e.mu.Lock()
	c, st, err := e.loadLocked(player)
	if err != nil {
		e.mu.Unlock()
		return FightReport{}, err
	}
	f := c.fight
	if f == nil {
		e.mu.Unlock()
		return FightReport{}, protocol.Errorf(protocol.ErrNotInCombat, "no active fight")
	}

	var rep FightReport
	flee := FleeAttempt{ChanceBP: e.rules.FleeChanceBP(st.Luck, f.Enemy.Luck)}
	flee.Roll = e.src.RollBP()
	flee.Escaped = flee.Roll < flee.ChanceBP
	rep.Flee = &flee

	if flee.Escaped {
		rep.Resolved = e.resolveLocked(player, c, &st, OutcomeFled, now)
	} else {
		hp, dmg, crit := e.rules.EnemyStrike(e.roundInput(st, f), e.src)
		st.CurrentEndurance = uint16(hp)
		f.Rounds++
		rep.Rounds = append(rep.Rounds, combat.RoundResult{
			PlayerHP:    hp,
			EnemyHP:     f.EnemyHP,
			EnemyDamage: dmg,
			EnemyCrit:   crit,
			PlayerDied:  hp == 0,
		})
		if hp == 0 {
			rep.Resolved = e.resolveLocked(player, c, &st, OutcomeDeath, now)
		}
	}
	c.store(st)
	rep.Character = c.view(player)
	e.mu.Unlock()

	e.emitFight(rep.Resolved)
	return rep, nil
}

func (e *Engine) roundInput(st encoding.CharacterState, f *ActiveFight) combat.Round {
	return combat.Round{
		PlayerCombat:  st.Combat,
		PlayerDefense: st.Defense,
		PlayerLuck:    st.Luck,
		EnemyCombat:   f.Enemy.Combat,
		EnemyDefense:  f.Enemy.Defense,
		EnemyLuck:     f.Enemy.Luck,
		PlayerHP:      uint32(st.CurrentEndurance),
		EnemyHP:       f.EnemyHP,
	}
}

func (e *Engine) runRoundsLocked(player ids.Address, c *character, st encoding.CharacterState, now time.Time) FightReport {
	var rep FightReport
	for i := 0; i < e.tuning.Combat.RoundsPerCall && c.fight != nil; i++ {
		f := c.fight
		res := e.rules.PerformRound(e.roundInput(st, f), e.src)
		st.CurrentEndurance = uint16(res.PlayerHP)
		f.EnemyHP = res.EnemyHP
		f.Rounds++
		rep.Rounds = append(rep.Rounds, res)
		switch {
		case res.EnemyDied:
			rep.Resolved = e.resolveLocked(player, c, &st, OutcomeKill, now)
		case res.PlayerDied:
			rep.Resolved = e.resolveLocked(player, c, &st, OutcomeDeath, now)
		}
	}
	c.store(st)
	rep.Character = c.view(player)
	return rep
}

// resolveLocked ends the active fight: applies the outcome, rolls the drop on
// a kill and records the epoch score exactly once. The fight's difficulty is
// read before the fight is cleared.
func (e *Engine) resolveLocked(player ids.Address, c *character, st *encoding.CharacterState, outcome Outcome, now time.Time) *FightResolved {
	f := c.fight
	ev := &FightResolved{
		Epoch:        e.schedule.At(now),
		Player:       player,
		EnemyID:      f.EnemyID,
		EnemyLevel:   f.EnemyLevel,
		Outcome:      outcome,
		IsKill:       outcome == OutcomeKill,
		CombatIndex:  f.CombatIndex,
		DifficultyBP: f.DifficultyBP,
		Rounds:       f.Rounds,
		At:           now,
	}

	switch outcome {
	case OutcomeKill:
		def, _ := e.cats.Enemy(f.EnemyID)
		ev.EnemyXP = def.XPReward
		var growth combat.ClassGrowth
		if cls, ok := e.cats.Class(st.CharacterClass); ok {
			growth = cls.Growth
		}
		ev.LevelsGained = e.prog.GainExperience(st, def.XPReward, growth)
		st.Kills = encoding.Sat32(uint64(st.Kills) + 1)

		drop := e.scaler.Roll(e.src, def.EquipmentDropBP, def.RareDropBP, f.DifficultyBP, def.Reward(), e.treasury.Balance(treasury.PoolEquipment))
		if drop.Granted {
			if err := e.treasury.Debit(treasury.PoolEquipment, drop.Value); err != nil {
				e.log.Warn("equipment debit failed", "player", player.String(), "error", err)
				drop.Granted = false
				drop.Value = amount.Zero()
			} else {
				c.equipment = amount.OrZero(c.equipment).Add(drop.Value)
				e.publishPoolGauges()
			}
		}
		if drop.Granted {
			metrics.EquipmentDropsTotal.WithLabelValues("granted").Inc()
		} else {
			metrics.EquipmentDropsTotal.WithLabelValues("none").Inc()
		}
		ev.Drop = &drop
	case OutcomeDeath:
		st.IsAlive = false
		st.CurrentEndurance = 0
		st.Deaths = encoding.Sat32(uint64(st.Deaths) + 1)
	}

	rec := e.ledger.RecordFight(ev.Epoch, player, ev.EnemyXP, f.DifficultyBP, ev.IsKill)
	ev.FightScore = rec.Score
	c.fight = nil

	metrics.FightsResolvedTotal.WithLabelValues(string(outcome)).Inc()
	metrics.FightRounds.Observe(float64(f.Rounds))
	e.log.Debug("fight resolved",
		"player", player.String(),
		"enemy", f.EnemyID,
		"level", f.EnemyLevel,
		"outcome", string(outcome),
		"difficulty_bp", f.DifficultyBP,
		"score", ev.FightScore,
		"epoch", ev.Epoch,
	)
	return ev
}
