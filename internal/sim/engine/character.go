package engine

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"arenaledger.gg/internal/metrics"
	"arenaledger.gg/internal/protocol"
	"arenaledger.gg/internal/sim/amount"
	"arenaledger.gg/internal/sim/combat"
	"arenaledger.gg/internal/sim/economy/treasury"
	"arenaledger.gg/internal/sim/encoding"
	"arenaledger.gg/internal/sim/ids"
)

// character is the stored record. State lives only in packed form.
type character struct {
	core      encoding.Word
	prog      encoding.Word
	equipment sdkmath.Int
	fight     *ActiveFight
}

// ActiveFight is an unresolved encounter. DifficultyBP is captured when the
// fight starts and is what scoring and drops use at resolution.
type ActiveFight struct {
	EnemyID      uint16            `json:"enemy_id"`
	EnemyLevel   uint8             `json:"enemy_level"`
	Enemy        combat.EnemyStats `json:"enemy"`
	EnemyHP      uint32            `json:"enemy_hp"`
	CombatIndex  int64             `json:"combat_index"`
	DifficultyBP uint32            `json:"difficulty_bp"`
	Rounds       int               `json:"rounds"`
	StartedAt    time.Time         `json:"started_at"`
}

// Character is the query view of a player's record.
type Character struct {
	Player         ids.Address             `json:"player"`
	State          encoding.CharacterState `json:"state"`
	EquipmentValue sdkmath.Int             `json:"equipment_value"`
	Fight          *ActiveFight            `json:"fight,omitempty"`
}

func (c *character) state() encoding.CharacterState {
	st, err := encoding.Decode(c.core, c.prog)
	if err != nil {
		// Words are only ever produced by Encode.
		panic(err)
	}
	return st
}

func (c *character) store(st encoding.CharacterState) {
	c.core, c.prog = encoding.Encode(st)
}

func (c *character) view(player ids.Address) Character {
	v := Character{Player: player, State: c.state(), EquipmentValue: amount.OrZero(c.equipment)}
	if c.fight != nil {
		f := *c.fight
		v.Fight = &f
	}
	return v
}

func (e *Engine) loadLocked(player ids.Address) (*character, encoding.CharacterState, error) {
	c := e.chars[player]
	if c == nil {
		return nil, encoding.CharacterState{}, protocol.Errorf(protocol.ErrNoCharacter, "no character for %s", player)
	}
	return c, c.state(), nil
}

// checkFee rejects non-positive fees and fees below min.
func checkFee(fee, min sdkmath.Int) error {
	fee = amount.OrZero(fee)
	if !fee.IsPositive() {
		return protocol.Errorf(protocol.ErrBadAmount, "fee must be positive")
	}
	if fee.LT(min) {
		return protocol.Errorf(protocol.ErrInsufficientFee, "fee %s below required %s", fee, min)
	}
	return nil
}

func (e *Engine) allocateLocked(fee sdkmath.Int) error {
	if _, err := e.treasury.Allocate(fee); err != nil {
		return protocol.Wrap(protocol.ErrBadAmount, err, "fee allocation")
	}
	e.publishPoolGauges()
	return nil
}

func (e *Engine) publishPoolGauges() {
	b := e.treasury.Balances()
	for _, p := range treasury.AllPools() {
		f, _ := b.Get(p).ToLegacyDec().QuoInt(amount.OneToken()).Float64()
		metrics.PoolBalance.WithLabelValues(p.String()).Set(f)
	}
}

// CreateCharacter mints a level 1 character with the class base stats. The
// whole fee is split into the pools. fee is taken as paid; callers verify the
// deposit before submitting.
func (e *Engine) CreateCharacter(player ids.Address, class uint8, fee sdkmath.Int) (Character, error) {
	def, ok := e.cats.Class(class)
	if !ok {
		return Character{}, protocol.Errorf(protocol.ErrBadClass, "unknown class %d", class)
	}
	if player.IsZero() {
		return Character{}, protocol.Errorf(protocol.ErrBadRequest, "empty player address")
	}
	if err := checkFee(fee, e.tuning.CreateFee()); err != nil {
		return Character{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.chars[player] != nil {
		return Character{}, protocol.Errorf(protocol.ErrCharacterExists, "character exists for %s", player)
	}
	if err := e.allocateLocked(fee); err != nil {
		return Character{}, err
	}
	c := &character{equipment: amount.Zero()}
	c.store(encoding.CharacterState{
		Level:            1,
		IsAlive:          true,
		CurrentEndurance: def.Endurance,
		MaxEndurance:     def.Endurance,
		Combat:           def.Combat,
		Defense:          def.Defense,
		Luck:             def.Luck,
		CharacterClass:   def.ID,
	})
	e.chars[player] = c
	e.log.Info("character created", "player", player.String(), "class", def.Name)
	return c.view(player), nil
}

func (e *Engine) GetCharacter(player ids.Address) (Character, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, _, err := e.loadLocked(player)
	if err != nil {
		return Character{}, err
	}
	return c.view(player), nil
}

func (e *Engine) healBlockedLocked(c *character, st encoding.CharacterState, now time.Time) error {
	switch {
	case !st.IsAlive:
		return protocol.Errorf(protocol.ErrNotAlive, "character is dead")
	case c.fight != nil:
		return protocol.Errorf(protocol.ErrInCombat, "character is in combat")
	case st.CurrentEndurance >= st.MaxEndurance:
		return protocol.Errorf(protocol.ErrFullHealth, "endurance already full")
	}
	if st.LastHealAt != 0 {
		ready := time.Unix(int64(st.LastHealAt), 0).Add(e.tuning.HealCooldown())
		if now.Before(ready) {
			return protocol.Errorf(protocol.ErrCooldown, "heal ready at %s", ready.UTC().Format(time.RFC3339))
		}
	}
	return nil
}

// HealCharacter restores endurance to max and starts the heal cooldown.
func (e *Engine) HealCharacter(player ids.Address, fee sdkmath.Int) (Character, error) {
	fee = amount.OrZero(fee)
	if !fee.IsPositive() {
		return Character{}, protocol.Errorf(protocol.ErrBadAmount, "fee must be positive")
	}
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	c, st, err := e.loadLocked(player)
	if err != nil {
		return Character{}, err
	}
	if err := e.healBlockedLocked(c, st, now); err != nil {
		return Character{}, err
	}
	if err := checkFee(fee, e.tuning.HealFee()); err != nil {
		return Character{}, err
	}
	if err := e.allocateLocked(fee); err != nil {
		return Character{}, err
	}
	st.CurrentEndurance = st.MaxEndurance
	st.LastHealAt = uint64(now.Unix())
	c.store(st)
	return c.view(player), nil
}

// ResurrectCharacter revives a dead character at half endurance (at least 1).
func (e *Engine) ResurrectCharacter(player ids.Address, fee sdkmath.Int) (Character, error) {
	fee = amount.OrZero(fee)
	if !fee.IsPositive() {
		return Character{}, protocol.Errorf(protocol.ErrBadAmount, "fee must be positive")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	c, st, err := e.loadLocked(player)
	if err != nil {
		return Character{}, err
	}
	if st.IsAlive {
		return Character{}, protocol.Errorf(protocol.ErrAlive, "character is alive")
	}
	if err := checkFee(fee, e.tuning.ResurrectFee()); err != nil {
		return Character{}, err
	}
	if err := e.allocateLocked(fee); err != nil {
		return Character{}, err
	}
	st.IsAlive = true
	st.CurrentEndurance = max(1, st.MaxEndurance/2)
	c.store(st)
	e.log.Info("character resurrected", "player", player.String())
	return c.view(player), nil
}

// CanHeal reports whether a heal would be accepted, ignoring the fee.
func (e *Engine) CanHeal(player ids.Address) (bool, string) {
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	c, st, err := e.loadLocked(player)
	if err == nil {
		err = e.healBlockedLocked(c, st, now)
	}
	if err != nil {
		return false, err.Error()
	}
	return true, ""
}

func (e *Engine) CanResurrect(player ids.Address) (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, st, err := e.loadLocked(player)
	if err != nil {
		return false, err.Error()
	}
	if st.IsAlive {
		return false, protocol.Errorf(protocol.ErrAlive, "character is alive").Error()
	}
	return true, ""
}
