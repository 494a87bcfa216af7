package main

import (
	"encoding/json"

	"arenaledger.gg/internal/protocol"
	"arenaledger.gg/internal/sim/engine"
)

// fightOutcome is the part of a FightReport the bot looks at.
type fightOutcome struct {
	Resolved *struct {
		Outcome engine.Outcome `json:"outcome"`
	} `json:"resolved"`
}

// nextOp picks the op to send after res. It keeps a character fighting,
// healing between fights and resurrecting after a death.
func nextOp(res protocol.ResultMsg) string {
	if !res.OK {
		switch res.Code {
		case protocol.ErrCharacterExists, protocol.ErrNotInCombat, protocol.ErrFullHealth, protocol.ErrCooldown:
			return engine.OpFightEnemy
		case protocol.ErrInCombat:
			return engine.OpContinueFight
		case protocol.ErrNotAlive:
			return engine.OpResurrect
		case protocol.ErrNoCharacter:
			return engine.OpCreateCharacter
		default:
			// Retry the same op after a rate limit or an unexpected failure.
			if res.Op == "" {
				return engine.OpFightEnemy
			}
			return res.Op
		}
	}

	switch res.Op {
	case engine.OpFightEnemy, engine.OpContinueFight, engine.OpFleeRound:
		var rep fightOutcome
		raw, err := json.Marshal(res.Data)
		if err != nil || json.Unmarshal(raw, &rep) != nil {
			return engine.OpContinueFight
		}
		switch {
		case rep.Resolved == nil:
			return engine.OpContinueFight
		case rep.Resolved.Outcome == engine.OutcomeDeath:
			return engine.OpResurrect
		default:
			return engine.OpHeal
		}
	default:
		return engine.OpFightEnemy
	}
}
