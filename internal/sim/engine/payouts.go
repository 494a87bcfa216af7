package engine

import (
	"context"

	sdkmath "cosmossdk.io/math"

	"arenaledger.gg/internal/metrics"
	"arenaledger.gg/internal/protocol"
	"arenaledger.gg/internal/sim/amount"
	"arenaledger.gg/internal/sim/economy/treasury"
	"arenaledger.gg/internal/sim/epoch"
	"arenaledger.gg/internal/sim/ids"
	"arenaledger.gg/internal/sim/leaderboard"
)

type ClaimRequest struct {
	Epoch   uint64             `json:"epoch"`
	Index   uint64             `json:"index"`
	Account ids.Address        `json:"account"`
	Amount  sdkmath.Int        `json:"amount"`
	Proof   []leaderboard.Hash `json:"proof"`
}

// PublishRoot sets the prize root for a closed epoch and moves totalFunded
// from the prize pool into the epoch reserve. Republishing is accepted only
// while the dispute window is open and nothing was claimed; the previous
// funding returns to the prize pool first.
func (e *Engine) PublishRoot(ep uint64, root leaderboard.Hash, totalFunded sdkmath.Int) (leaderboard.EpochRoot, error) {
	now := e.clock.Now()
	if cur := e.schedule.At(now); ep >= cur {
		return leaderboard.EpochRoot{}, protocol.Errorf(protocol.ErrBadRequest, "epoch %d is not closed (current %d)", ep, cur)
	}
	r, err := e.board.Publish(ep, root, totalFunded, now, func(refund, charge sdkmath.Int) error {
		return e.treasury.Exchange(treasury.PoolPrize, refund, charge)
	})
	if err != nil {
		return leaderboard.EpochRoot{}, err
	}
	e.publishPoolGauges()
	e.log.Info("root published",
		"epoch", ep,
		"root", root.String(),
		"total", amount.FormatTokens(r.TotalFunded),
		"claimable_at", r.DisputeWindowEnd,
	)
	e.emitRoot(RootPublished{
		Epoch:            ep,
		Root:             root,
		TotalFunded:      r.TotalFunded,
		DisputeWindowEnd: r.DisputeWindowEnd,
		At:               now,
	})
	return r, nil
}

// Claim pays one leaderboard entry. The engine lock is not held; the board
// serializes each (epoch, index) on its own.
func (e *Engine) Claim(ctx context.Context, req ClaimRequest) error {
	now := e.clock.Now()
	entry := leaderboard.Entry{Epoch: req.Epoch, Index: req.Index, Account: req.Account, Amount: amount.OrZero(req.Amount)}
	err := e.board.Claim(ctx, entry, req.Proof, now, e.transfer)
	metrics.ClaimsTotal.WithLabelValues(protocol.CodeOf(err)).Inc()
	if err != nil {
		if protocol.CodeOf(err) == protocol.ErrTransferFailed {
			e.log.Warn("claim transfer failed", "epoch", req.Epoch, "index", req.Index, "account", req.Account.String(), "error", err)
		}
		return err
	}
	e.log.Info("prize claimed", "epoch", req.Epoch, "index", req.Index, "account", req.Account.String(), "amount", amount.FormatTokens(entry.Amount))
	e.emitClaim(PrizeClaimed{Epoch: req.Epoch, Index: req.Index, Account: req.Account, Amount: entry.Amount, At: now})
	return nil
}

// Withdraw drains the developer and emergency pools to the treasury address.
func (e *Engine) Withdraw(ctx context.Context) (treasury.Withdrawal, error) {
	if e.treasAddr.IsZero() {
		return treasury.Withdrawal{}, protocol.Errorf(protocol.ErrBadRequest, "treasury address not configured")
	}
	w, err := e.treasury.Withdraw(func(total sdkmath.Int) error {
		return e.transfer(ctx, e.treasAddr, total)
	})
	if err != nil {
		if protocol.CodeOf(err) == protocol.ErrTransferFailed {
			e.log.Warn("withdrawal transfer failed", "error", err)
		}
		return treasury.Withdrawal{}, err
	}
	e.publishPoolGauges()
	e.log.Info("treasury withdrawn", "to", e.treasAddr.String(), "total", amount.FormatTokens(w.Total))
	return w, nil
}

// RolloverEpoch moves the next-epoch reserve into the prize pool.
func (e *Engine) RolloverEpoch() (sdkmath.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := e.treasury.Balance(treasury.PoolNextEpoch)
	if err := e.treasury.Move(treasury.PoolNextEpoch, treasury.PoolPrize, v); err != nil {
		return amount.Zero(), err
	}
	e.publishPoolGauges()
	e.log.Info("epoch reserve rolled over", "amount", amount.FormatTokens(v))
	return v, nil
}

func (e *Engine) GetAllPoolData() treasury.Balances { return e.treasury.Balances() }

func (e *Engine) GetEpochScore(player ids.Address, ep uint64) uint64 {
	return e.ledger.Score(player, ep)
}

// EpochTotals ranks every player with a score in ep.
func (e *Engine) EpochTotals(ep uint64) []epoch.PlayerScore { return e.ledger.Totals(ep) }

func (e *Engine) IsClaimed(ep, index uint64) bool { return e.board.IsClaimed(ep, index) }

func (e *Engine) Root(ep uint64) (leaderboard.EpochRoot, bool) { return e.board.Root(ep) }

func (e *Engine) Roots() []leaderboard.EpochRoot { return e.board.Roots() }
