package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"

	"arenaledger.gg/internal/logger"
	persistlog "arenaledger.gg/internal/persistence/log"
	"arenaledger.gg/internal/persistence/snapshot"
	"arenaledger.gg/internal/sim/catalogs"
	"arenaledger.gg/internal/sim/engine"
	"arenaledger.gg/internal/sim/ids"
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
	dataDirFlag := flag.String("data", "./data", "runtime data directory holding actions/ (or set ARENA_DATA env var)")
	configDirFlag := flag.String("configs", "./configs", "config directory (or set ARENA_CONFIGS env var)")
	tuningFlag := flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
	snapPathFlag := flag.String("snapshot", "", "snapshot to start from (default: replay from genesis)")
	seedFlag := flag.Uint64("seed", 1337, "rng seed used by the recorded run when replaying from genesis")
	treasuryFlag := flag.String("treasury", "", "treasury address of the recorded run (or set ARENA_TREASURY env var)")
	toSeqFlag := flag.Uint64("to-seq", 0, "stop after this action sequence number (0 = end of log)")
	flag.Parse()

	for key, dst := range map[string]*string{"ARENA_DATA": dataDirFlag, "ARENA_CONFIGS": configDirFlag, "ARENA_TREASURY": treasuryFlag} {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	log := logger.New(*verboseFlag)

	cats, err := catalogs.Load(*configDirFlag)
	if errors.Is(err, fs.ErrNotExist) {
		cats, err = catalogs.Default(), nil
	}
	if err != nil {
		return fmt.Errorf("load catalogs: %w", err)
	}
	tp := strings.TrimSpace(*tuningFlag)
	if tp == "" {
		tp = filepath.Join(*configDirFlag, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if errors.Is(err, fs.ErrNotExist) {
		tune, err = tuning.Defaults(), nil
	}
	if err != nil {
		return fmt.Errorf("load tuning: %w", err)
	}
	treasury := ids.DeriveAddress("treasury")
	if s := strings.TrimSpace(*treasuryFlag); s != "" {
		if treasury, err = ids.ParseAddress(s); err != nil {
			return fmt.Errorf("--treasury: %w", err)
		}
	}

	cfg := engine.Config{
		Tuning:          tune,
		Catalogs:        cats,
		Seed:            *seedFlag,
		Logger:          log,
		TreasuryAddress: treasury,
	}
	var snap *snapshot.SnapshotV1
	if *snapPathFlag != "" {
		s, err := snapshot.ReadSnapshot(*snapPathFlag)
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		snap = &s
		cfg.Seed = s.Seed
	}

	r, err := engine.NewReplayer(cfg, tune.Genesis())
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if snap != nil {
		if err := r.Resume(*snap); err != nil {
			return fmt.Errorf("resume snapshot: %w", err)
		}
		log.Info("resumed", "seq", snap.Header.Seq, "applied", snap.Applied, "taken_at", snap.Header.TakenAt)
	}

	var entries []engine.ActionLogEntry
	err = persistlog.ReadActions(*dataDirFlag, func(e engine.ActionLogEntry) error {
		if *toSeqFlag != 0 && e.Seq > *toSeqFlag {
			return nil
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return fmt.Errorf("read actions: %w", err)
	}
	entries = r.Pending(entries)
	if len(entries) == 0 {
		fmt.Printf("replay ok: nothing to apply, digest=%s\n", r.Engine.Digest())
		return nil
	}

	if err := r.Run(context.Background(), entries); err != nil {
		var mm *engine.MismatchError
		if errors.As(err, &mm) {
			return fmt.Errorf("diverged at seq %d: %w", entries[mm.Index].Seq, err)
		}
		return err
	}
	fmt.Printf("replay ok: applied=%d first_seq=%d last_seq=%d digest=%s\n",
		len(entries), entries[0].Seq, entries[len(entries)-1].Seq, r.Engine.Digest())
	return nil
}
