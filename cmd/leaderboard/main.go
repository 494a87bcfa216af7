package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	flag "github.com/spf13/pflag"

	"arenaledger.gg/internal/logger"
	"arenaledger.gg/internal/persistence/archive"
	"arenaledger.gg/internal/persistence/indexdb"
	"arenaledger.gg/internal/persistence/snapshot"
	"arenaledger.gg/internal/sim/amount"
	"arenaledger.gg/internal/sim/economy/treasury"
	"arenaledger.gg/internal/sim/epoch"
	"arenaledger.gg/internal/sim/leaderboard"
	"arenaledger.gg/internal/sim/tuning"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	dataDirFlag := flag.String("data", "./data", "runtime data directory (or set ARENA_DATA env var)")
	tuningFlag := flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
	epochFlag := flag.Int64("epoch", -1, "epoch to settle (-1 = the last closed epoch)")
	sourceFlag := flag.String("source", "archive", "score source: archive (closing snapshot) or index (SQLite read model)")
	potFlag := flag.String("pot", "", "prize pot in tokens, e.g. 12.5 (default: prize pool of the closing snapshot)")
	outFlag := flag.String("out", "", "output path (default: <data>/archives/epoch_NNNNNN/distribution.json)")
	flag.Parse()

	if v := os.Getenv("ARENA_DATA"); v != "" {
		*dataDirFlag = v
	}
	log := logger.New(*verboseFlag)

	tune, err := tuning.Load(*tuningFlag)
	if errors.Is(err, fs.ErrNotExist) {
		tune, err = tuning.Defaults(), nil
	}
	if err != nil {
		return fmt.Errorf("load tuning: %w", err)
	}

	ep := uint64(*epochFlag)
	if *epochFlag < 0 {
		sched := epoch.Schedule{Genesis: tune.Genesis(), Duration: tune.EpochDuration()}
		cur := sched.At(time.Now())
		if cur == 0 {
			return fmt.Errorf("no epoch has closed yet")
		}
		ep = cur - 1
	}

	var pot sdkmath.Int
	if s := strings.TrimSpace(*potFlag); s != "" {
		if pot, err = amount.ParseTokens(s); err != nil {
			return fmt.Errorf("--pot: %w", err)
		}
	}

	ctx := context.Background()
	d, err := settle(ctx, settleInput{
		DataDir: *dataDirFlag,
		Epoch:   ep,
		Source:  *sourceFlag,
		Pot:     pot,
		SplitBP: tune.Leaderboard.PrizeSplitBP,
	})
	if err != nil {
		return err
	}

	out := *outFlag
	if out == "" {
		out = filepath.Join(archive.EpochDir(*dataDirFlag, ep), "distribution.json")
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	if err := leaderboard.WriteDistribution(out, d); err != nil {
		return fmt.Errorf("write distribution: %w", err)
	}
	log.Info("distribution written", "epoch", ep, "claims", len(d.Claims), "total", amount.FormatTokens(d.Total), "path", out)
	fmt.Printf("epoch=%d root=%s total=%s claims=%d\n", ep, d.Root, d.Total, len(d.Claims))
	return nil
}

type settleInput struct {
	DataDir string
	Epoch   uint64
	Source  string
	// Pot is the prize pot; nil means the closing snapshot's prize pool.
	Pot     sdkmath.Int
	SplitBP []uint32
}

func settle(ctx context.Context, in settleInput) (leaderboard.Distribution, error) {
	var (
		scores []epoch.PlayerScore
		snap   *snapshot.SnapshotV1
	)
	loadSnapshot := func() error {
		if snap != nil {
			return nil
		}
		meta, err := archive.ReadMeta(in.DataDir, in.Epoch)
		if err != nil {
			return fmt.Errorf("epoch %d is not archived: %w", in.Epoch, err)
		}
		s, err := snapshot.ReadSnapshot(filepath.Join(archive.EpochDir(in.DataDir, in.Epoch), meta.Snapshot))
		if err != nil {
			return fmt.Errorf("read closing snapshot: %w", err)
		}
		snap = &s
		return nil
	}

	switch in.Source {
	case "archive":
		if err := loadSnapshot(); err != nil {
			return leaderboard.Distribution{}, err
		}
		for _, s := range snap.Scores {
			if s.Epoch == in.Epoch && s.Score > 0 {
				scores = append(scores, epoch.PlayerScore{Player: s.Player, Score: s.Score})
			}
		}
	case "index":
		idx, err := indexdb.OpenSQLite(filepath.Join(in.DataDir, "index", "arena.sqlite"))
		if err != nil {
			return leaderboard.Distribution{}, fmt.Errorf("open index: %w", err)
		}
		defer idx.Close()
		if scores, err = idx.EpochTotals(ctx, in.Epoch); err != nil {
			return leaderboard.Distribution{}, fmt.Errorf("epoch totals: %w", err)
		}
	default:
		return leaderboard.Distribution{}, fmt.Errorf("unknown --source %q", in.Source)
	}

	pot := in.Pot
	if pot.IsNil() {
		if err := loadSnapshot(); err != nil {
			return leaderboard.Distribution{}, err
		}
		pot = amount.OrZero(snap.Pools[treasury.PoolPrize.String()])
	}

	b := leaderboard.Builder{SplitBP: in.SplitBP}
	return b.Build(ctx, in.Epoch, scores, pot)
}
