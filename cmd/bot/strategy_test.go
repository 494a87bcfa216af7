package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"arenaledger.gg/internal/protocol"
	"arenaledger.gg/internal/sim/engine"
)

func TestNextOp(t *testing.T) {
	cases := []struct {
		name string
		res  protocol.ResultMsg
		want string
	}{
		{"created", protocol.ResultMsg{Op: engine.OpCreateCharacter, OK: true}, engine.OpFightEnemy},
		{"exists", protocol.ResultMsg{Op: engine.OpCreateCharacter, Code: protocol.ErrCharacterExists}, engine.OpFightEnemy},
		{"ongoing", protocol.ResultMsg{Op: engine.OpFightEnemy, OK: true, Data: map[string]any{"rounds": []any{}}}, engine.OpContinueFight},
		{"killed", protocol.ResultMsg{Op: engine.OpContinueFight, OK: true, Data: map[string]any{"resolved": map[string]any{"outcome": "KILL"}}}, engine.OpHeal},
		{"died", protocol.ResultMsg{Op: engine.OpFightEnemy, OK: true, Data: map[string]any{"resolved": map[string]any{"outcome": "DEATH"}}}, engine.OpResurrect},
		{"healed", protocol.ResultMsg{Op: engine.OpHeal, OK: true}, engine.OpFightEnemy},
		{"full health", protocol.ResultMsg{Op: engine.OpHeal, Code: protocol.ErrFullHealth}, engine.OpFightEnemy},
		{"in combat", protocol.ResultMsg{Op: engine.OpFightEnemy, Code: protocol.ErrInCombat}, engine.OpContinueFight},
		{"dead", protocol.ResultMsg{Op: engine.OpFightEnemy, Code: protocol.ErrNotAlive}, engine.OpResurrect},
		{"no character", protocol.ResultMsg{Op: engine.OpFightEnemy, Code: protocol.ErrNoCharacter}, engine.OpCreateCharacter},
		{"rate limited", protocol.ResultMsg{Op: engine.OpHeal, Code: protocol.ErrRateLimit}, engine.OpHeal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, nextOp(tc.res))
		})
	}
}
