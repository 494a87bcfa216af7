package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/jonboulle/clockwork"

	persistlog "arenaledger.gg/internal/persistence/log"
	"arenaledger.gg/internal/sim/amount"
	"arenaledger.gg/internal/sim/ids"
)

// payoutOutbox settles transfers by appending them to <data>/payouts. An
// external settlement process drains the outbox; a transfer counts as done
// once its line is synced to disk. A failed append is a failed transfer.
type payoutOutbox struct {
	w     *persistlog.JSONLZstdWriter
	clock clockwork.Clock
	log   *slog.Logger
}

type payoutRecord struct {
	At     time.Time   `json:"at"`
	To     ids.Address `json:"to"`
	Amount string      `json:"amount"`
}

func newPayoutOutbox(dataDir string, clock clockwork.Clock, log *slog.Logger) *payoutOutbox {
	return &payoutOutbox{
		w:     persistlog.NewJSONLZstdWriter(filepath.Join(dataDir, "payouts"), "payouts", clock),
		clock: clock,
		log:   log,
	}
}

func (p *payoutOutbox) Transfer(ctx context.Context, to ids.Address, amt sdkmath.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := payoutRecord{At: p.clock.Now().UTC(), To: to, Amount: amount.OrZero(amt).String()}
	if err := p.w.WriteSync(rec); err != nil {
		p.log.Error("payout outbox write failed", "to", to.String(), "amount", rec.Amount, "error", err)
		return err
	}
	p.log.Info("payout queued", "to", to.String(), "amount", amount.FormatTokens(amt))
	return nil
}

func (p *payoutOutbox) Close() error { return p.w.Close() }
