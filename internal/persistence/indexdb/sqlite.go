package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"arenaledger.gg/internal/metrics"
	"arenaledger.gg/internal/persistence/snapshot"
	"arenaledger.gg/internal/sim/amount"
	"arenaledger.gg/internal/sim/catalogs"
	"arenaledger.gg/internal/sim/engine"
	"arenaledger.gg/internal/sim/epoch"
	"arenaledger.gg/internal/sim/ids"
	"arenaledger.gg/internal/sim/tuning"
)

// SQLiteIndex is a queryable read model fed from engine events. Writes are
// queued and applied by one goroutine; when the queue is full records are
// dropped and counted, the JSONL logs stay the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropFight    atomic.Uint64
	dropRoot     atomic.Uint64
	dropClaim    atomic.Uint64
	dropSnapshot atomic.Uint64
	writeErrors  atomic.Uint64
}

type reqKind int

const (
	reqFight reqKind = iota + 1
	reqRoot
	reqClaim
	reqSnapshot
	reqFlush
)

type req struct {
	kind reqKind

	fight    engine.FightResolved
	root     engine.RootPublished
	claim    engine.PrizeClaimed
	snapshot snapshotRow
	done     chan struct{}
}

type snapshotRow struct {
	Seq        uint64
	Path       string
	TakenAt    time.Time
	Characters int
	Roots      int
	Catalog    string
}

// Stats reports queue pressure for /metrics and tests.
type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropFightTotal    uint64
	DropRootTotal     uint64
	DropClaimTotal    uint64
	DropSnapshotTotal uint64
	WriteErrorTotal   uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS fights (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			epoch INTEGER NOT NULL,
			player TEXT NOT NULL,
			enemy_id INTEGER NOT NULL,
			enemy_level INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			enemy_xp INTEGER NOT NULL,
			combat_index INTEGER NOT NULL,
			difficulty_bp INTEGER NOT NULL,
			score INTEGER NOT NULL,
			rounds INTEGER NOT NULL,
			drop_value TEXT NOT NULL,
			at TEXT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fights_player_epoch ON fights(player, epoch);`,
		`CREATE TABLE IF NOT EXISTS epoch_scores (
			epoch INTEGER NOT NULL,
			player TEXT NOT NULL,
			score INTEGER NOT NULL,
			fights INTEGER NOT NULL,
			kills INTEGER NOT NULL,
			PRIMARY KEY (epoch, player)
		);`,
		`CREATE TABLE IF NOT EXISTS roots (
			epoch INTEGER PRIMARY KEY,
			root TEXT NOT NULL,
			total_funded TEXT NOT NULL,
			dispute_window_end TEXT NOT NULL,
			published_at TEXT NOT NULL,
			revisions INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS claims (
			epoch INTEGER NOT NULL,
			idx INTEGER NOT NULL,
			account TEXT NOT NULL,
			amount TEXT NOT NULL,
			at TEXT NOT NULL,
			PRIMARY KEY (epoch, idx)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_claims_account ON claims(account);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			seq INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			taken_at TEXT NOT NULL,
			characters INTEGER NOT NULL,
			roots INTEGER NOT NULL,
			catalog_digest TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
		metrics.IndexQueueDropped.Inc()
	}
}

func (s *SQLiteIndex) FightResolved(ev engine.FightResolved) {
	s.enqueue(req{kind: reqFight, fight: ev}, &s.dropFight)
}

func (s *SQLiteIndex) RootPublished(ev engine.RootPublished) {
	s.enqueue(req{kind: reqRoot, root: ev}, &s.dropRoot)
}

func (s *SQLiteIndex) PrizeClaimed(ev engine.PrizeClaimed) {
	s.enqueue(req{kind: reqClaim, claim: ev}, &s.dropClaim)
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	r := snapshotRow{
		Seq:        snap.Header.Seq,
		Path:       path,
		TakenAt:    snap.Header.TakenAt,
		Characters: len(snap.Characters),
		Roots:      len(snap.Roots),
		Catalog:    snap.CatalogDigest,
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: r}, &s.dropSnapshot)
}

// Flush blocks until everything queued before it is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropFightTotal:    s.dropFight.Load(),
		DropRootTotal:     s.dropRoot.Load(),
		DropClaimTotal:    s.dropClaim.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		WriteErrorTotal:   s.writeErrors.Load(),
	}
}

// UpsertCatalogs stores the catalogs and tuning the server runs with.
func (s *SQLiteIndex) UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	enemies := make([]catalogs.EnemyDef, 0, len(cats.Enemies.IDs))
	for _, id := range cats.Enemies.IDs {
		enemies = append(enemies, cats.Enemies.ByID[id])
	}
	if b, _ := json.Marshal(enemies); len(b) > 0 {
		rows = append(rows, kv{name: "enemies", digest: cats.Enemies.Digest, json: b})
	}
	classes := make([]catalogs.ClassDef, 0, len(cats.Classes.IDs))
	for _, id := range cats.Classes.IDs {
		classes = append(classes, cats.Classes.ByID[id])
	}
	if b, _ := json.Marshal(classes); len(b) > 0 {
		rows = append(rows, kv{name: "classes", digest: cats.Classes.Digest, json: b})
	}
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('catalog_digest',?)`, cats.Digest()); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrors.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		s.writeErrors.Add(1)
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		var err error
		switch r.kind {
		case reqFight:
			err = writeFight(tx, r.fight)
		case reqRoot:
			err = writeRoot(tx, r.root)
		case reqClaim:
			c := r.claim
			_, err = tx.Exec(`INSERT OR REPLACE INTO claims(epoch,idx,account,amount,at) VALUES(?,?,?,?,?)`,
				clampInt64(c.Epoch), clampInt64(c.Index), c.Account.String(), amount.OrZero(c.Amount).String(), ts(c.At))
		case reqSnapshot:
			sn := r.snapshot
			_, err = tx.Exec(`INSERT OR REPLACE INTO snapshots(seq,path,taken_at,characters,roots,catalog_digest) VALUES(?,?,?,?,?,?)`,
				clampInt64(sn.Seq), sn.Path, ts(sn.TakenAt), sn.Characters, sn.Roots, sn.Catalog)
		}
		if err != nil {
			rollback()
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}

func writeFight(tx *sql.Tx, ev engine.FightResolved) error {
	raw, _ := json.Marshal(ev)
	drop := amount.Zero()
	if ev.Drop != nil && ev.Drop.Granted {
		drop = amount.OrZero(ev.Drop.Value)
	}
	player := ev.Player.String()
	if _, err := tx.Exec(`INSERT INTO fights(epoch,player,enemy_id,enemy_level,outcome,enemy_xp,combat_index,difficulty_bp,score,rounds,drop_value,at,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		clampInt64(ev.Epoch), player, ev.EnemyID, ev.EnemyLevel, string(ev.Outcome), clampInt64(ev.EnemyXP),
		ev.CombatIndex, ev.DifficultyBP, clampInt64(ev.FightScore), ev.Rounds, drop.String(), ts(ev.At), string(raw),
	); err != nil {
		return err
	}

	var prev int64
	err := tx.QueryRow(`SELECT score FROM epoch_scores WHERE epoch=? AND player=?`, clampInt64(ev.Epoch), player).Scan(&prev)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	score := uint64(prev) + ev.FightScore
	if score < uint64(prev) {
		score = math.MaxUint64
	}
	kill := 0
	if ev.IsKill {
		kill = 1
	}
	_, err = tx.Exec(`INSERT INTO epoch_scores(epoch,player,score,fights,kills) VALUES(?,?,?,1,?)
		ON CONFLICT(epoch,player) DO UPDATE SET score=excluded.score, fights=fights+1, kills=kills+excluded.kills`,
		clampInt64(ev.Epoch), player, clampInt64(score), kill)
	return err
}

func writeRoot(tx *sql.Tx, ev engine.RootPublished) error {
	_, err := tx.Exec(`INSERT INTO roots(epoch,root,total_funded,dispute_window_end,published_at,revisions) VALUES(?,?,?,?,?,1)
		ON CONFLICT(epoch) DO UPDATE SET root=excluded.root, total_funded=excluded.total_funded,
			dispute_window_end=excluded.dispute_window_end, published_at=excluded.published_at, revisions=revisions+1`,
		clampInt64(ev.Epoch), ev.Root.String(), amount.OrZero(ev.TotalFunded).String(), ts(ev.DisputeWindowEnd), ts(ev.At))
	return err
}

// EpochTotals returns the indexed per-player scores of ep, ranked.
func (s *SQLiteIndex) EpochTotals(ctx context.Context, ep uint64) ([]epoch.PlayerScore, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT player, score FROM epoch_scores WHERE epoch=? AND score > 0`, clampInt64(ep))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []epoch.PlayerScore
	for rows.Next() {
		var (
			player string
			score  int64
		)
		if err := rows.Scan(&player, &score); err != nil {
			return nil, err
		}
		addr, err := ids.ParseAddress(player)
		if err != nil {
			return nil, fmt.Errorf("epoch_scores: %w", err)
		}
		out = append(out, epoch.PlayerScore{Player: addr, Score: uint64(score)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	epoch.Rank(out)
	return out, nil
}

// ClaimedIndexes lists the indexed claims of ep.
func (s *SQLiteIndex) ClaimedIndexes(ctx context.Context, ep uint64) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT idx FROM claims WHERE epoch=? ORDER BY idx`, clampInt64(ep))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uint64
	for rows.Next() {
		var idx int64
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		out = append(out, uint64(idx))
	}
	return out, rows.Err()
}
