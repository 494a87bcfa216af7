package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"arenaledger.gg/internal/logger"
	"arenaledger.gg/internal/metrics"
	persistlog "arenaledger.gg/internal/persistence/log"
	"arenaledger.gg/internal/persistence/indexdb"
	"arenaledger.gg/internal/persistence/snapshot"
	"arenaledger.gg/internal/sim/catalogs"
	"arenaledger.gg/internal/sim/engine"
	"arenaledger.gg/internal/sim/ids"
	"arenaledger.gg/internal/sim/tuning"
	"arenaledger.gg/internal/transport/observer"
	"arenaledger.gg/internal/transport/ws"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	addrFlag := flag.String("addr", ":8080", "http listen address (or set ARENA_ADDR env var)")
	configDirFlag := flag.String("configs", "./configs", "directory holding enemies.json, classes.json and tuning.yaml (or set ARENA_CONFIGS env var)")
	dataDirFlag := flag.String("data", "./data", "runtime data directory (or set ARENA_DATA env var)")
	tuningFlag := flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
	seedFlag := flag.Uint64("seed", 1337, "rng seed for a fresh engine")
	treasuryFlag := flag.String("treasury", "", "base58 treasury address that receives withdrawals (or set ARENA_TREASURY env var)")
	adminTokenFlag := flag.String("admin-token", "", "token that unlocks admin ops on /v1/ws (or set ARENA_ADMIN_TOKEN env var)")
	rateFlag := flag.Float64("ws-rate", 20, "per-connection message rate (msgs/sec)")
	burstFlag := flag.Int("ws-burst", 40, "per-connection message burst")
	snapEveryFlag := flag.Duration("snapshot-every", 5*time.Minute, "snapshot interval (0 disables periodic snapshots)")
	snapPathFlag := flag.String("snapshot", "", "snapshot to resume from (default: latest under <data>/snapshots)")
	freshFlag := flag.Bool("fresh", false, "ignore existing snapshots and start from genesis")
	disableDBFlag := flag.Bool("disable-db", false, "disable the SQLite read-model index")
	pprofFlag := flag.Bool("pprof", false, "serve /debug/pprof (loopback clients only)")
	flag.Parse()

	overrideFromEnv(addrFlag, "ARENA_ADDR")
	overrideFromEnv(configDirFlag, "ARENA_CONFIGS")
	overrideFromEnv(dataDirFlag, "ARENA_DATA")
	overrideFromEnv(treasuryFlag, "ARENA_TREASURY")
	overrideFromEnv(adminTokenFlag, "ARENA_ADMIN_TOKEN")
	if v := os.Getenv("ARENA_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("ARENA_SEED: %w", err)
		}
		*seedFlag = seed
	}

	log := logger.New(*verboseFlag)
	metrics.BuildInfo.WithLabelValues(version, commit).Set(1)

	cats, err := catalogs.Load(*configDirFlag)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn("catalogs not found, using built-in defaults", "dir", *configDirFlag)
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
		log.Warn("tuning not found, using defaults", "path", tp)
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

	if err := os.MkdirAll(*dataDirFlag, 0o755); err != nil {
		return err
	}
	clock := clockwork.NewRealClock()

	// Sinks observe the engine; none of them affect its state.
	feed := observer.NewFeed()
	events := persistlog.NewEventLogger(*dataDirFlag, clock, log)
	defer events.Close()
	sinks := []engine.EventSink{feed, events}

	var idx *indexdb.SQLiteIndex
	if !*disableDBFlag {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDirFlag, "index", "arena.sqlite"))
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer idx.Close()
		if err := idx.UpsertCatalogs(cats, tune); err != nil {
			log.Warn("index: upsert catalogs failed", "error", err)
		}
		sinks = append(sinks, idx)
	}

	actions := persistlog.NewActionLogger(*dataDirFlag, clock)
	defer actions.Close()
	payouts := newPayoutOutbox(*dataDirFlag, clock, log)
	defer payouts.Close()

	snapDir := filepath.Join(*dataDirFlag, "snapshots")
	var resume *snapshot.SnapshotV1
	if !*freshFlag {
		path := strings.TrimSpace(*snapPathFlag)
		if path == "" {
			if path, err = snapshot.Latest(snapDir); err != nil {
				return fmt.Errorf("find latest snapshot: %w", err)
			}
		}
		if path != "" {
			snap, err := snapshot.ReadSnapshot(path)
			if err != nil {
				return fmt.Errorf("read snapshot: %w", err)
			}
			resume = &snap
		}
	}

	seed := *seedFlag
	if resume != nil {
		seed = resume.Seed
	}
	eng, err := engine.New(engine.Config{
		Tuning:          tune,
		Catalogs:        cats,
		Clock:           clock,
		Seed:            seed,
		Logger:          log,
		Sinks:           sinks,
		ActionLog:       actions,
		Transfer:        payouts,
		TreasuryAddress: treasury,
	})
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	var nextSeq uint64 = 1
	if resume != nil {
		if err := eng.ImportSnapshot(*resume); err != nil {
			return fmt.Errorf("import snapshot: %w", err)
		}
		nextSeq = resume.Header.Seq + 1
		log.Info("resumed from snapshot", "seq", resume.Header.Seq, "applied", resume.Applied, "epoch", eng.CurrentEpoch())
	} else {
		log.Info("starting fresh engine", "seed", seed, "epoch", eng.CurrentEpoch())
	}

	snaps := &snapshotter{
		engine:  eng,
		dataDir: *dataDirFlag,
		dir:     snapDir,
		index:   idx,
		log:     log,
		seq:     nextSeq,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	obs := observer.NewServer(eng, feed, log)
	mux.HandleFunc("/v1/observer/bootstrap", obs.BootstrapHandler())
	mux.HandleFunc("/v1/observer/ws", obs.WSHandler())
	mux.HandleFunc("/v1/ws", ws.NewServer(eng, feed, ws.Config{
		AdminToken: *adminTokenFlag,
		RatePerSec: *rateFlag,
		Burst:      *burstFlag,
	}, log).Handler())
	if *pprofFlag {
		mux.HandleFunc("/debug/pprof/", loopbackOnly(pprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", loopbackOnly(pprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", loopbackOnly(pprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", loopbackOnly(pprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", loopbackOnly(pprof.Trace))
	}
	if *adminTokenFlag == "" {
		log.Warn("no admin token configured; PUBLISH_ROOT, WITHDRAW and ROLLOVER_EPOCH are unavailable over /v1/ws")
	}

	srv := &http.Server{
		Addr:              *addrFlag,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", "addr", *addrFlag, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if *snapEveryFlag > 0 {
		g.Go(func() error {
			snaps.loop(gctx, clock, *snapEveryFlag)
			return nil
		})
	}

	err = g.Wait()
	// Final snapshot so a restart resumes from the latest state.
	if serr := snaps.take(); serr != nil {
		log.Error("final snapshot failed", "error", serr)
	}
	if idx != nil {
		fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if ferr := idx.Flush(fctx); ferr != nil {
			log.Warn("index flush failed", "error", ferr)
		}
		cancel()
	}
	log.Info("stopped", "digest", eng.Digest(), "event_write_errors", events.WriteErrors())
	return err
}

func overrideFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !observer.IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

