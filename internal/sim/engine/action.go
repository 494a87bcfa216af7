package engine

import (
	"context"
	"time"

	sdkmath "cosmossdk.io/math"

	"arenaledger.gg/internal/metrics"
	"arenaledger.gg/internal/protocol"
	"arenaledger.gg/internal/sim/ids"
	"arenaledger.gg/internal/sim/leaderboard"
)

const (
	OpCreateCharacter = "CREATE_CHARACTER"
	OpFightEnemy      = "FIGHT_ENEMY"
	OpContinueFight   = "CONTINUE_FIGHT"
	OpFleeRound       = "FLEE_ROUND"
	OpHeal            = "HEAL"
	OpResurrect       = "RESURRECT"
	OpClaim           = "CLAIM"
	OpPublishRoot     = "PUBLISH_ROOT"
	OpWithdraw        = "WITHDRAW"
	OpRolloverEpoch   = "ROLLOVER_EPOCH"
)

var adminOps = map[string]bool{
	OpPublishRoot:   true,
	OpWithdraw:      true,
	OpRolloverEpoch: true,
}

// IsAdminOp reports ops that only the operator may submit.
func IsAdminOp(op string) bool { return adminOps[op] }

// Action is one inbound call in serializable form. Only the fields the op
// uses are read. Amounts are base units.
type Action struct {
	Op         string             `json:"op"`
	Player     ids.Address        `json:"player"`
	Class      uint8              `json:"class,omitempty"`
	EnemyID    uint16             `json:"enemy_id,omitempty"`
	EnemyLevel uint8              `json:"enemy_level,omitempty"`
	Fee        sdkmath.Int        `json:"fee"`
	Epoch      uint64             `json:"epoch,omitempty"`
	Index      uint64             `json:"index,omitempty"`
	Account    ids.Address        `json:"account"`
	Amount     sdkmath.Int        `json:"amount"`
	Proof      []leaderboard.Hash `json:"proof,omitempty"`
	Root       leaderboard.Hash   `json:"root"`
}

type Result struct {
	Op     string `json:"op"`
	OK     bool   `json:"ok"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// ActionLogEntry is what the action log stores; replay feeds it back.
type ActionLogEntry struct {
	Seq    uint64    `json:"seq"`
	At     time.Time `json:"at"`
	Action Action    `json:"action"`
	Code   string    `json:"code,omitempty"`
	Digest string    `json:"digest"`
}

type actionHandler func(e *Engine, ctx context.Context, a Action) (any, error)

var actionDispatch = map[string]actionHandler{
	OpCreateCharacter: func(e *Engine, _ context.Context, a Action) (any, error) {
		return e.CreateCharacter(a.Player, a.Class, a.Fee)
	},
	OpFightEnemy: func(e *Engine, _ context.Context, a Action) (any, error) {
		return e.FightEnemy(a.Player, a.EnemyID, a.EnemyLevel)
	},
	OpContinueFight: func(e *Engine, _ context.Context, a Action) (any, error) {
		return e.ContinueFight(a.Player)
	},
	OpFleeRound: func(e *Engine, _ context.Context, a Action) (any, error) {
		return e.FleeRound(a.Player)
	},
	OpHeal: func(e *Engine, _ context.Context, a Action) (any, error) {
		return e.HealCharacter(a.Player, a.Fee)
	},
	OpResurrect: func(e *Engine, _ context.Context, a Action) (any, error) {
		return e.ResurrectCharacter(a.Player, a.Fee)
	},
	OpClaim: func(e *Engine, ctx context.Context, a Action) (any, error) {
		req := ClaimRequest{Epoch: a.Epoch, Index: a.Index, Account: a.Account, Amount: a.Amount, Proof: a.Proof}
		if err := e.Claim(ctx, req); err != nil {
			return nil, err
		}
		return req, nil
	},
	OpPublishRoot: func(e *Engine, _ context.Context, a Action) (any, error) {
		return e.PublishRoot(a.Epoch, a.Root, a.Amount)
	},
	OpWithdraw: func(e *Engine, ctx context.Context, _ Action) (any, error) {
		return e.Withdraw(ctx)
	},
	OpRolloverEpoch: func(e *Engine, _ context.Context, _ Action) (any, error) {
		return e.RolloverEpoch()
	},
}

// Apply dispatches a by op, records metrics and writes the action log.
// Applies are serialized so the logged order and digests replay exactly.
func (e *Engine) Apply(ctx context.Context, a Action) Result {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	start := time.Now()
	at := e.clock.Now()
	res := Result{Op: a.Op}

	h := actionDispatch[a.Op]
	var (
		data any
		err  error
	)
	if h == nil {
		err = protocol.Errorf(protocol.ErrBadRequest, "unknown op %q", a.Op)
	} else {
		data, err = h(e, ctx, a)
	}
	if err != nil {
		res.Code = protocol.CodeOf(err)
		res.Reason = protocol.ReasonOf(err)
		if !protocol.IsKnownCode(res.Code) {
			res.Code = protocol.ErrInternal
		}
	} else {
		res.OK = true
		res.Data = data
	}

	metrics.ActionsTotal.WithLabelValues(a.Op, res.Code).Inc()
	metrics.ActionDuration.WithLabelValues(a.Op).Observe(time.Since(start).Seconds())

	if h == nil {
		return res
	}
	e.applied++
	if e.actionLog != nil {
		entry := ActionLogEntry{Seq: e.applied, At: at, Action: a, Code: res.Code, Digest: e.Digest()}
		if werr := e.actionLog.WriteAction(entry); werr != nil {
			e.log.Error("action log write failed", "op", a.Op, "error", werr)
		}
	}
	return res
}
