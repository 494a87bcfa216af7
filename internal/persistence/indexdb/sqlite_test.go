package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"arenaledger.gg/internal/persistence/snapshot"
	"arenaledger.gg/internal/sim/amount"
	"arenaledger.gg/internal/sim/catalogs"
	"arenaledger.gg/internal/sim/economy/rewards"
	"arenaledger.gg/internal/sim/engine"
	"arenaledger.gg/internal/sim/ids"
	"arenaledger.gg/internal/sim/leaderboard"
	"arenaledger.gg/internal/sim/tuning"
)

var at = time.Date(2026, 1, 3, 12, 0, 0, 0, time.UTC)

func TestSQLiteIndex_EventsAndTotals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	require.NoError(t, err)
	var _ engine.EventSink = idx

	require.NoError(t, idx.UpsertCatalogs(catalogs.Default(), tuning.Defaults()))

	alice := ids.DeriveAddress("alice")
	bob := ids.DeriveAddress("bob")
	idx.FightResolved(engine.FightResolved{Epoch: 0, Player: alice, EnemyID: 2, Outcome: engine.OutcomeKill, IsKill: true, EnemyXP: 25, FightScore: 20, At: at,
		Drop: &rewards.Drop{Granted: true, Value: amount.MustTokens("0.05")}})
	idx.FightResolved(engine.FightResolved{Epoch: 0, Player: alice, EnemyID: 3, Outcome: engine.OutcomeDeath, At: at})
	idx.FightResolved(engine.FightResolved{Epoch: 0, Player: bob, EnemyID: 3, Outcome: engine.OutcomeKill, IsKill: true, EnemyXP: 60, FightScore: 66, At: at})
	idx.FightResolved(engine.FightResolved{Epoch: 1, Player: bob, EnemyID: 1, Outcome: engine.OutcomeKill, IsKill: true, EnemyXP: 10, FightScore: 5, At: at})

	idx.RootPublished(engine.RootPublished{Epoch: 0, Root: leaderboard.Hash{1}, TotalFunded: amount.Tokens(1), DisputeWindowEnd: at.Add(time.Hour), At: at})
	idx.RootPublished(engine.RootPublished{Epoch: 0, Root: leaderboard.Hash{2}, TotalFunded: amount.Tokens(2), DisputeWindowEnd: at.Add(2 * time.Hour), At: at.Add(time.Hour)})
	idx.PrizeClaimed(engine.PrizeClaimed{Epoch: 0, Index: 1, Account: alice, Amount: amount.MustTokens("0.8"), At: at.Add(3 * time.Hour)})
	idx.RecordSnapshot("/data/snapshots/1.snap.zst", snapshot.SnapshotV1{Header: snapshot.Header{Version: snapshot.Version, Seq: 1, TakenAt: at}, CatalogDigest: "abc"})

	ctx := context.Background()
	require.NoError(t, idx.Flush(ctx))

	totals, err := idx.EpochTotals(ctx, 0)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	require.Equal(t, bob, totals[0].Player)
	require.Equal(t, uint64(66), totals[0].Score)
	require.Equal(t, alice, totals[1].Player)
	require.Equal(t, uint64(20), totals[1].Score)

	claimed, err := idx.ClaimedIndexes(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, claimed)
	require.Zero(t, idx.Stats().WriteErrorTotal)
	require.NoError(t, idx.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var fights, kills int
	require.NoError(t, db.QueryRow(`SELECT fights, kills FROM epoch_scores WHERE epoch=0 AND player=?`, alice.String()).Scan(&fights, &kills))
	require.Equal(t, 2, fights)
	require.Equal(t, 1, kills)

	var drop string
	require.NoError(t, db.QueryRow(`SELECT drop_value FROM fights WHERE player=? AND outcome='KILL'`, alice.String()).Scan(&drop))
	require.Equal(t, amount.MustTokens("0.05").String(), drop)

	var (
		root      string
		total     string
		revisions int
	)
	require.NoError(t, db.QueryRow(`SELECT root, total_funded, revisions FROM roots WHERE epoch=0`).Scan(&root, &total, &revisions))
	require.Equal(t, leaderboard.Hash{2}.String(), root)
	require.Equal(t, amount.Tokens(2).String(), total)
	require.Equal(t, 2, revisions)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM catalogs`).Scan(&n))
	require.Equal(t, 3, n)
	var digest string
	require.NoError(t, db.QueryRow(`SELECT value FROM meta WHERE key='catalog_digest'`).Scan(&digest))
	require.Equal(t, catalogs.Default().Digest(), digest)
	require.NoError(t, db.QueryRow(`SELECT seq FROM snapshots WHERE catalog_digest='abc'`).Scan(&n))
	require.Equal(t, 1, n)
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqFlush}

	p := ids.DeriveAddress("p")
	s.FightResolved(engine.FightResolved{Player: p})
	s.RootPublished(engine.RootPublished{Epoch: 1})
	s.PrizeClaimed(engine.PrizeClaimed{Account: p})
	s.RecordSnapshot("/tmp/1.snap.zst", snapshot.SnapshotV1{})

	st := s.Stats()
	require.Equal(t, uint64(1), st.DropFightTotal)
	require.Equal(t, uint64(1), st.DropRootTotal)
	require.Equal(t, uint64(1), st.DropClaimTotal)
	require.Equal(t, uint64(1), st.DropSnapshotTotal)
	require.Equal(t, 1, st.QueueDepth)
	require.Equal(t, 1, st.QueueCapacity)
}

func TestSQLiteIndex_ClosedIgnoresWrites(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	require.NoError(t, idx.Close())
	idx.FightResolved(engine.FightResolved{})
	require.NoError(t, idx.Flush(context.Background()))
	require.NoError(t, idx.Close())
	require.Zero(t, idx.Stats().DropFightTotal)
}
