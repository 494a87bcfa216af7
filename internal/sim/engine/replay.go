package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/jonboulle/clockwork"

	"arenaledger.gg/internal/persistence/snapshot"
	"arenaledger.gg/internal/protocol"
	"arenaledger.gg/internal/sim/ids"
)

var errScriptedTransfer = errors.New("transfer failed in recorded run")

// scriptedTransfer fails exactly when the recorded action failed its transfer.
type scriptedTransfer struct {
	fail bool
}

func (s *scriptedTransfer) Transfer(context.Context, ids.Address, sdkmath.Int) error {
	if s.fail {
		return errScriptedTransfer
	}
	return nil
}

// Replayer re-applies a recorded action log against a fake clock.
type Replayer struct {
	Engine *Engine
	Clock  *clockwork.FakeClock
	xfer   *scriptedTransfer
}

// NewReplayer builds an engine from cfg whose clock starts at start and whose
// transfers follow the recorded outcomes. cfg.ActionLog and cfg.Transfer are
// replaced.
func NewReplayer(cfg Config, start time.Time) (*Replayer, error) {
	r := &Replayer{Clock: clockwork.NewFakeClockAt(start), xfer: &scriptedTransfer{}}
	cfg.Clock = r.Clock
	cfg.Transfer = r.xfer
	cfg.ActionLog = nil
	e, err := New(cfg)
	if err != nil {
		return nil, err
	}
	r.Engine = e
	return r, nil
}

type MismatchError struct {
	Index    int
	Op       string
	Field    string
	Recorded string
	Replayed string
}

func (m *MismatchError) Error() string {
	return fmt.Sprintf("entry %d (%s): %s mismatch: recorded %q, replayed %q", m.Index, m.Op, m.Field, m.Recorded, m.Replayed)
}

// Resume loads snap and moves the clock to the moment it was taken. Entries
// with Seq <= snap.Applied are already part of the state.
func (r *Replayer) Resume(snap snapshot.SnapshotV1) error {
	if err := r.Engine.ImportSnapshot(snap); err != nil {
		return err
	}
	if d := snap.Header.TakenAt.Sub(r.Clock.Now()); d > 0 {
		r.Clock.Advance(d)
	}
	return nil
}

// Pending drops the entries a resumed snapshot already covers.
func (r *Replayer) Pending(entries []ActionLogEntry) []ActionLogEntry {
	r.Engine.applyMu.Lock()
	applied := r.Engine.applied
	r.Engine.applyMu.Unlock()
	i := 0
	for i < len(entries) && entries[i].Seq != 0 && entries[i].Seq <= applied {
		i++
	}
	return entries[i:]
}

// Step applies entry i. The clock only moves forward.
func (r *Replayer) Step(ctx context.Context, i int, entry ActionLogEntry) error {
	if d := entry.At.Sub(r.Clock.Now()); d > 0 {
		r.Clock.Advance(d)
	}
	r.xfer.fail = entry.Code == protocol.ErrTransferFailed
	res := r.Engine.Apply(ctx, entry.Action)
	if entry.Seq != 0 && r.Engine.applied != entry.Seq {
		return &MismatchError{Index: i, Op: entry.Action.Op, Field: "seq", Recorded: fmt.Sprint(entry.Seq), Replayed: fmt.Sprint(r.Engine.applied)}
	}
	if res.Code != entry.Code {
		return &MismatchError{Index: i, Op: entry.Action.Op, Field: "code", Recorded: entry.Code, Replayed: res.Code}
	}
	if entry.Digest != "" {
		if got := r.Engine.Digest(); got != entry.Digest {
			return &MismatchError{Index: i, Op: entry.Action.Op, Field: "digest", Recorded: entry.Digest, Replayed: got}
		}
	}
	return nil
}

// Run applies every entry in order and stops at the first mismatch.
func (r *Replayer) Run(ctx context.Context, entries []ActionLogEntry) error {
	for i, e := range entries {
		if err := r.Step(ctx, i, e); err != nil {
			return err
		}
	}
	return nil
}
