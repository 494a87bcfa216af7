package ws

import (
	sdkmath "cosmossdk.io/math"

	"arenaledger.gg/internal/protocol"
	"arenaledger.gg/internal/sim/amount"
	"arenaledger.gg/internal/sim/engine"
	"arenaledger.gg/internal/sim/ids"
	"arenaledger.gg/internal/sim/leaderboard"
)

func parseAmount(field, s string) (sdkmath.Int, error) {
	if s == "" {
		return amount.Zero(), nil
	}
	v, err := amount.Parse(s)
	if err != nil {
		return amount.Zero(), protocol.Wrap(protocol.ErrBadAmount, err, field)
	}
	return v, nil
}

func parseAccount(field, s string) (ids.Address, error) {
	if s == "" {
		return ids.Address{}, nil
	}
	a, err := ids.ParseAddress(s)
	if err != nil {
		return ids.Address{}, protocol.Wrap(protocol.ErrBadRequest, err, field)
	}
	return a, nil
}

// toAction maps a wire ACT onto an engine action for player.
func toAction(act protocol.ActMsg, player ids.Address) (engine.Action, error) {
	a := engine.Action{
		Op:         act.Op,
		Player:     player,
		Class:      act.Class,
		EnemyID:    act.EnemyID,
		EnemyLevel: act.EnemyLevel,
		Epoch:      act.Epoch,
		Index:      act.Index,
	}
	var err error
	if a.Fee, err = parseAmount("fee", act.Fee); err != nil {
		return a, err
	}
	if a.Amount, err = parseAmount("amount", act.Amount); err != nil {
		return a, err
	}
	if a.Account, err = parseAccount("account", act.Account); err != nil {
		return a, err
	}
	if act.Root != "" {
		if a.Root, err = leaderboard.ParseHash(act.Root); err != nil {
			return a, protocol.Wrap(protocol.ErrBadRequest, err, "root")
		}
	}
	for _, p := range act.Proof {
		h, err := leaderboard.ParseHash(p)
		if err != nil {
			return a, protocol.Wrap(protocol.ErrBadRequest, err, "proof")
		}
		a.Proof = append(a.Proof, h)
	}
	return a, nil
}

type scoreView struct {
	Epoch  uint64      `json:"epoch"`
	Player ids.Address `json:"player"`
	Score  uint64      `json:"score"`
}

type eligibility struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

type epochView struct {
	Current uint64 `json:"current_epoch"`
	Start   int64  `json:"start_unix"`
	End     int64  `json:"end_unix"`
}

func (s *Server) handleQuery(sess Session, q protocol.QueryMsg) protocol.ResultMsg {
	player := sess.Player
	if q.Player != "" {
		p, err := parseAccount("player", q.Player)
		if err != nil {
			return reject(q.ReqID, q.Query, err)
		}
		player = p
	}

	e := s.engine
	switch q.Query {
	case protocol.QueryCharacter:
		c, err := e.GetCharacter(player)
		if err != nil {
			return reject(q.ReqID, q.Query, err)
		}
		return accept(q.ReqID, q.Query, c)
	case protocol.QueryPools:
		return accept(q.ReqID, q.Query, e.GetAllPoolData())
	case protocol.QueryEpochScore:
		return accept(q.ReqID, q.Query, scoreView{Epoch: q.Epoch, Player: player, Score: e.GetEpochScore(player, q.Epoch)})
	case protocol.QueryCanHeal:
		can, why := e.CanHeal(player)
		return accept(q.ReqID, q.Query, eligibility{OK: can, Reason: why})
	case protocol.QueryCanResurrect:
		can, why := e.CanResurrect(player)
		return accept(q.ReqID, q.Query, eligibility{OK: can, Reason: why})
	case protocol.QueryIsClaimed:
		return accept(q.ReqID, q.Query, map[string]bool{"claimed": e.IsClaimed(q.Epoch, q.Index)})
	case protocol.QueryEpoch:
		cur := e.CurrentEpoch()
		sched := e.Schedule()
		return accept(q.ReqID, q.Query, epochView{
			Current: cur,
			Start:   sched.Start(cur).Unix(),
			End:     sched.Start(cur + 1).Unix(),
		})
	case protocol.QueryRoot:
		r, found := e.Root(q.Epoch)
		if !found {
			return reject(q.ReqID, q.Query, protocol.Errorf(protocol.ErrNoRoot, "no root for epoch %d", q.Epoch))
		}
		return accept(q.ReqID, q.Query, r)
	default:
		return reject(q.ReqID, q.Query, protocol.Errorf(protocol.ErrBadRequest, "unknown query %q", q.Query))
	}
}
