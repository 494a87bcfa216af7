package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"arenaledger.gg/internal/persistence/archive"
	"arenaledger.gg/internal/persistence/indexdb"
	"arenaledger.gg/internal/persistence/snapshot"
	"arenaledger.gg/internal/sim/engine"
)

type snapshotter struct {
	engine  *engine.Engine
	dataDir string
	dir     string
	index   *indexdb.SQLiteIndex // nil when the index is disabled
	log     *slog.Logger

	mu  sync.Mutex
	seq uint64
}

func (s *snapshotter) loop(ctx context.Context, clock clockwork.Clock, every time.Duration) {
	t := clock.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			if err := s.take(); err != nil {
				s.log.Error("snapshot failed", "error", err)
			}
		}
	}
}

// take writes the next snapshot, records it in the index and archives it when
// it is the first one after an epoch closed.
func (s *snapshotter) take() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.engine.ExportSnapshot(s.seq)
	if err != nil {
		return err
	}
	path := snapshot.PathFor(s.dir, s.seq)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return err
	}
	s.seq++
	if s.index != nil {
		s.index.RecordSnapshot(path, snap)
	}
	s.log.Debug("snapshot written", "seq", snap.Header.Seq, "applied", snap.Applied, "path", path)

	closed, archived, ok, err := archive.ArchiveEpochSnapshot(s.dataDir, path, snap, s.engine.Schedule())
	if err != nil {
		s.log.Warn("archive epoch snapshot failed", "error", err)
		return nil
	}
	if ok {
		s.log.Info("epoch archived", "epoch", closed, "path", archived)
	}
	return nil
}
