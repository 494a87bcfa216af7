package engine

import (
	"crypto/sha256"
	"encoding"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"

	sdkmath "cosmossdk.io/math"

	"arenaledger.gg/internal/persistence/snapshot"
	"arenaledger.gg/internal/sim/amount"
	simenc "arenaledger.gg/internal/sim/encoding"
	"arenaledger.gg/internal/sim/economy/treasury"
	"arenaledger.gg/internal/sim/ids"
)

func (e *Engine) sortedPlayersLocked() []ids.Address {
	out := make([]ids.Address, 0, len(e.chars))
	for p := range e.chars {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func digestWriteU64(h hash.Hash, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteAmount(h hash.Hash, v sdkmath.Int) {
	w, err := amount.Word(amount.OrZero(v))
	if err != nil {
		h.Write([]byte(v.String()))
		return
	}
	h.Write(w[:])
}

// Digest hashes every piece of state that replay must reproduce.
func (e *Engine) Digest() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := sha256.New()
	var tmp [8]byte
	h.Write([]byte("arena/state/v1"))

	players := e.sortedPlayersLocked()
	digestWriteU64(h, &tmp, uint64(len(players)))
	for _, p := range players {
		c := e.chars[p]
		h.Write(p[:])
		core, prog := c.core.Bytes(), c.prog.Bytes()
		h.Write(core[:])
		h.Write(prog[:])
		digestWriteAmount(h, c.equipment)
		if f := c.fight; f != nil {
			h.Write([]byte{1})
			digestWriteU64(h, &tmp, uint64(f.EnemyID))
			digestWriteU64(h, &tmp, uint64(f.EnemyLevel))
			digestWriteU64(h, &tmp, uint64(f.Enemy.Health))
			digestWriteU64(h, &tmp, uint64(f.EnemyHP))
			digestWriteU64(h, &tmp, uint64(f.DifficultyBP))
			digestWriteU64(h, &tmp, uint64(f.Rounds))
		} else {
			h.Write([]byte{0})
		}
	}

	bal := e.treasury.Balances()
	for _, p := range treasury.AllPools() {
		digestWriteAmount(h, bal.Get(p))
	}

	for _, ep := range e.ledger.Epochs() {
		digestWriteU64(h, &tmp, ep)
		for _, ps := range e.ledger.Totals(ep) {
			h.Write(ps.Player[:])
			digestWriteU64(h, &tmp, ps.Score)
		}
	}

	for _, r := range e.board.Roots() {
		digestWriteU64(h, &tmp, r.Epoch)
		h.Write(r.Root[:])
		digestWriteAmount(h, r.TotalFunded)
		digestWriteAmount(h, r.Reserve)
		digestWriteU64(h, &tmp, uint64(r.DisputeWindowEnd.Unix()))
		digestWriteU64(h, &tmp, uint64(len(r.Claimed)))
		for _, idx := range r.Claimed {
			digestWriteU64(h, &tmp, idx)
		}
	}

	if m, ok := e.src.(encoding.BinaryMarshaler); ok {
		if b, err := m.MarshalBinary(); err == nil {
			h.Write(b)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (e *Engine) ExportSnapshot(seq uint64) (snapshot.SnapshotV1, error) {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	s := snapshot.SnapshotV1{
		Header:        snapshot.Header{Version: snapshot.Version, Seq: seq, TakenAt: e.clock.Now().UTC()},
		CatalogDigest: e.cats.Digest(),
		TuningVersion: e.tuning.ProtocolVersion,
		Seed:          e.seed,
		Applied:       e.applied,
		Pools:         map[string]sdkmath.Int{},
	}
	if m, ok := e.src.(encoding.BinaryMarshaler); ok {
		b, err := m.MarshalBinary()
		if err != nil {
			return s, fmt.Errorf("rng state: %w", err)
		}
		s.RNG = b
	}

	for _, p := range e.sortedPlayersLocked() {
		c := e.chars[p]
		cv := snapshot.CharacterV1{Player: p, Core: c.core, Progression: c.prog, Equipment: amount.OrZero(c.equipment)}
		if f := c.fight; f != nil {
			cv.Fight = &snapshot.FightV1{
				EnemyID:      f.EnemyID,
				EnemyLevel:   f.EnemyLevel,
				Combat:       f.Enemy.Combat,
				Defense:      f.Enemy.Defense,
				Luck:         f.Enemy.Luck,
				Health:       f.Enemy.Health,
				EnemyHP:      f.EnemyHP,
				CombatIndex:  f.CombatIndex,
				DifficultyBP: f.DifficultyBP,
				Rounds:       f.Rounds,
				StartedAt:    f.StartedAt,
			}
		}
		s.Characters = append(s.Characters, cv)
	}

	bal := e.treasury.Balances()
	for _, p := range treasury.AllPools() {
		s.Pools[p.String()] = bal.Get(p)
	}
	for _, ep := range e.ledger.Epochs() {
		for _, ps := range e.ledger.Totals(ep) {
			s.Scores = append(s.Scores, snapshot.ScoreV1{Epoch: ep, Player: ps.Player, Score: ps.Score})
		}
	}
	s.Roots = e.board.Roots()
	return s, nil
}

// ImportSnapshot replaces all engine state with s.
func (e *Engine) ImportSnapshot(s snapshot.SnapshotV1) error {
	if s.Header.Version != snapshot.Version {
		return fmt.Errorf("snapshot version %d not supported", s.Header.Version)
	}
	if s.CatalogDigest != "" && s.CatalogDigest != e.cats.Digest() {
		return fmt.Errorf("snapshot catalogs %s do not match loaded catalogs %s", s.CatalogDigest, e.cats.Digest())
	}

	chars := make(map[ids.Address]*character, len(s.Characters))
	for _, cv := range s.Characters {
		if _, err := simenc.Decode(cv.Core, cv.Progression); err != nil {
			return fmt.Errorf("character %s: %w", cv.Player, err)
		}
		c := &character{core: cv.Core, prog: cv.Progression, equipment: amount.OrZero(cv.Equipment)}
		if f := cv.Fight; f != nil {
			c.fight = &ActiveFight{
				EnemyID:      f.EnemyID,
				EnemyLevel:   f.EnemyLevel,
				EnemyHP:      f.EnemyHP,
				CombatIndex:  f.CombatIndex,
				DifficultyBP: f.DifficultyBP,
				Rounds:       f.Rounds,
				StartedAt:    f.StartedAt,
			}
			c.fight.Enemy.Combat, c.fight.Enemy.Defense, c.fight.Enemy.Luck, c.fight.Enemy.Health = f.Combat, f.Defense, f.Luck, f.Health
		}
		chars[cv.Player] = c
	}

	bal := treasury.ZeroBalances()
	for name, v := range s.Pools {
		p, ok := treasury.ParsePool(name)
		if !ok {
			return fmt.Errorf("unknown pool %q", name)
		}
		if v.IsNil() || v.IsNegative() {
			return fmt.Errorf("pool %s: negative balance", name)
		}
		bal.Set(p, v)
	}

	e.applyMu.Lock()
	defer e.applyMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(s.RNG) > 0 {
		u, ok := e.src.(encoding.BinaryUnmarshaler)
		if !ok {
			return fmt.Errorf("rng source cannot restore snapshot state")
		}
		if err := u.UnmarshalBinary(s.RNG); err != nil {
			return err
		}
	}
	e.seed = s.Seed
	e.applied = s.Applied
	e.chars = chars
	e.treasury.Restore(bal)
	e.ledger.Reset()
	for _, sc := range s.Scores {
		e.ledger.Restore(sc.Epoch, sc.Player, sc.Score)
	}
	e.board.Restore(s.Roots)
	e.log.Info("snapshot imported", "seq", s.Header.Seq, "characters", len(chars))
	return nil
}
