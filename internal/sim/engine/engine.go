// Package engine is the settlement engine: characters, fights, fees, epoch
// scores and prize claims behind one serialized state machine.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/jonboulle/clockwork"

	"arenaledger.gg/internal/logger"
	"arenaledger.gg/internal/sim/catalogs"
	"arenaledger.gg/internal/sim/combat"
	"arenaledger.gg/internal/sim/economy/rewards"
	"arenaledger.gg/internal/sim/economy/treasury"
	"arenaledger.gg/internal/sim/epoch"
	"arenaledger.gg/internal/sim/ids"
	"arenaledger.gg/internal/sim/leaderboard"
	"arenaledger.gg/internal/sim/rng"
	"arenaledger.gg/internal/sim/tuning"
)

// Transferer moves tokens out of the engine's custody.
type Transferer interface {
	Transfer(ctx context.Context, to ids.Address, amt sdkmath.Int) error
}

type TransferFunc func(ctx context.Context, to ids.Address, amt sdkmath.Int) error

func (f TransferFunc) Transfer(ctx context.Context, to ids.Address, amt sdkmath.Int) error {
	return f(ctx, to, amt)
}

// ActionLogger receives every applied action with its outcome.
type ActionLogger interface {
	WriteAction(ActionLogEntry) error
}

type Config struct {
	Tuning   tuning.Tuning
	Catalogs *catalogs.Catalogs

	// Clock defaults to the real clock.
	Clock clockwork.Clock
	Seed  uint64
	// RNG overrides the seeded generator.
	RNG rng.Source

	Logger    *slog.Logger
	Sinks     []EventSink
	ActionLog ActionLogger

	Transfer        Transferer
	TreasuryAddress ids.Address
}

type Engine struct {
	tuning   tuning.Tuning
	cats     *catalogs.Catalogs
	clock    clockwork.Clock
	log      *slog.Logger
	seed     uint64
	rules    combat.Rules
	growth   combat.Growth
	prog     combat.Progression
	scaler   *rewards.Scaler
	schedule epoch.Schedule

	sinks     []EventSink
	actionLog ActionLogger
	xfer      Transferer
	treasAddr ids.Address

	applyMu sync.Mutex
	// applied counts logged actions; guarded by applyMu.
	applied uint64
	// mu serializes every character, pool and score transition.
	mu    sync.Mutex
	chars map[ids.Address]*character
	src   rng.Source

	treasury *treasury.Treasury
	ledger   *epoch.Ledger
	board    *leaderboard.Board
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, fmt.Errorf("tuning: %w", err)
	}
	if cfg.Catalogs == nil {
		cfg.Catalogs = catalogs.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.RNG == nil {
		cfg.RNG = rng.New(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)
	}
	scaler, err := cfg.Tuning.RewardScaler()
	if err != nil {
		return nil, fmt.Errorf("equipment tiers: %w", err)
	}
	tr, err := treasury.New(cfg.Tuning.FeeSplit)
	if err != nil {
		return nil, fmt.Errorf("fee split: %w", err)
	}
	return &Engine{
		tuning:    cfg.Tuning,
		cats:      cfg.Catalogs,
		clock:     cfg.Clock,
		log:       cfg.Logger,
		seed:      cfg.Seed,
		rules:     cfg.Tuning.Rules(),
		growth:    cfg.Tuning.EnemyGrowth(),
		prog:      cfg.Tuning.ProgressionRules(),
		scaler:    scaler,
		schedule:  epoch.Schedule{Genesis: cfg.Tuning.Genesis(), Duration: cfg.Tuning.EpochDuration()},
		sinks:     cfg.Sinks,
		actionLog: cfg.ActionLog,
		xfer:      cfg.Transfer,
		treasAddr: cfg.TreasuryAddress,
		chars:     map[ids.Address]*character{},
		src:       cfg.RNG,
		treasury:  tr,
		ledger:    epoch.NewLedger(),
		board:     leaderboard.NewBoard(cfg.Tuning.DisputeWindow()),
	}, nil
}

func (e *Engine) Tuning() tuning.Tuning { return e.tuning }

func (e *Engine) Catalogs() *catalogs.Catalogs { return e.cats }

func (e *Engine) Clock() clockwork.Clock { return e.clock }

func (e *Engine) CurrentEpoch() uint64 { return e.schedule.At(e.clock.Now()) }

func (e *Engine) Schedule() epoch.Schedule { return e.schedule }

func (e *Engine) transfer(ctx context.Context, to ids.Address, amt sdkmath.Int) error {
	if e.xfer == nil {
		return fmt.Errorf("no transferer configured")
	}
	return e.xfer.Transfer(ctx, to, amt)
}
