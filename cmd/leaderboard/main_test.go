package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"arenaledger.gg/internal/persistence/archive"
	"arenaledger.gg/internal/persistence/snapshot"
	"arenaledger.gg/internal/sim/amount"
	"arenaledger.gg/internal/sim/epoch"
	"arenaledger.gg/internal/sim/ids"
	"arenaledger.gg/internal/sim/leaderboard"
)

func archivedEpoch(t *testing.T, dir string) {
	t.Helper()
	genesis := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sched := epoch.Schedule{Genesis: genesis, Duration: 24 * time.Hour}
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{Version: snapshot.Version, Seq: 9, TakenAt: genesis.Add(25 * time.Hour)},
		Pools:  map[string]sdkmath.Int{"prize": amount.Tokens(10)},
		Scores: []snapshot.ScoreV1{
			{Epoch: 0, Player: ids.DeriveAddress("carol"), Score: 40},
			{Epoch: 0, Player: ids.DeriveAddress("alice"), Score: 90},
			{Epoch: 0, Player: ids.DeriveAddress("bob"), Score: 0},
			{Epoch: 1, Player: ids.DeriveAddress("dave"), Score: 500},
		},
	}
	path := snapshot.PathFor(filepath.Join(dir, "snapshots"), 9)
	require.NoError(t, snapshot.WriteSnapshot(path, snap))
	_, _, ok, err := archive.ArchiveEpochSnapshot(dir, path, snap, sched)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSettleFromArchive(t *testing.T) {
	dir := t.TempDir()
	archivedEpoch(t, dir)

	d, err := settle(context.Background(), settleInput{
		DataDir: dir,
		Epoch:   0,
		Source:  "archive",
		SplitBP: []uint32{6000, 3000, 1000},
	})
	require.NoError(t, err)
	require.Len(t, d.Claims, 2)
	require.Equal(t, ids.DeriveAddress("alice"), d.Claims[0].Account)
	require.True(t, d.Claims[0].Amount.Equal(amount.Tokens(6)))
	require.True(t, d.Claims[1].Amount.Equal(amount.Tokens(3)))
	require.True(t, d.Total.Equal(amount.Tokens(9)))

	for _, c := range d.Claims {
		require.True(t, leaderboard.Verify(c.Proof, d.Root, c.Leaf))
	}
}

func TestSettleWithExplicitPot(t *testing.T) {
	dir := t.TempDir()
	archivedEpoch(t, dir)

	d, err := settle(context.Background(), settleInput{
		DataDir: dir,
		Epoch:   0,
		Source:  "archive",
		Pot:     amount.Tokens(100),
		SplitBP: []uint32{10000},
	})
	require.NoError(t, err)
	require.Len(t, d.Claims, 1)
	require.True(t, d.Total.Equal(amount.Tokens(100)))
}

func TestSettleErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := settle(context.Background(), settleInput{DataDir: dir, Epoch: 0, Source: "archive", SplitBP: []uint32{10000}})
	require.ErrorContains(t, err, "not archived")

	_, err = settle(context.Background(), settleInput{DataDir: dir, Epoch: 0, Source: "chain", SplitBP: []uint32{10000}})
	require.ErrorContains(t, err, "unknown --source")

	// The index has no scores for epoch 0.
	_, err = settle(context.Background(), settleInput{DataDir: dir, Epoch: 0, Source: "index", Pot: amount.Tokens(1), SplitBP: []uint32{10000}})
	require.ErrorContains(t, err, "no eligible players")
}
