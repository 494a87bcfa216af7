package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"arenaledger.gg/internal/persistence/snapshot"
	"arenaledger.gg/internal/sim/epoch"
)

const metaFile = "meta.json"

type EpochArchiveMeta struct {
	Epoch      uint64    `json:"epoch"`
	ClosedAt   time.Time `json:"closed_at"`
	Snapshot   string    `json:"snapshot"`
	SnapshotAt time.Time `json:"snapshot_at"`
	Players    int       `json:"players"`
	CreatedAt  string    `json:"created_at"`
}

// EpochDir is where the closing snapshot and distribution of ep live.
func EpochDir(dataDir string, ep uint64) string {
	return filepath.Join(dataDir, "archives", fmt.Sprintf("epoch_%06d", ep))
}

// ArchiveEpochSnapshot copies the first snapshot taken after an epoch closed
// into EpochDir(dataDir, closed). Later snapshots of the same epoch are
// ignored, so the archive holds the final scores of the closed epoch.
func ArchiveEpochSnapshot(dataDir, snapshotPath string, snap snapshot.SnapshotV1, sched epoch.Schedule) (closed uint64, archivedPath string, archived bool, err error) {
	cur := sched.At(snap.Header.TakenAt)
	if cur == 0 {
		return 0, "", false, nil
	}
	closed = cur - 1
	dir := EpochDir(dataDir, closed)
	if _, err := os.Stat(filepath.Join(dir, metaFile)); err == nil {
		return closed, "", false, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, "", false, err
	}

	dst := filepath.Join(dir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return 0, "", false, err
	}

	players := 0
	for _, s := range snap.Scores {
		if s.Epoch == closed {
			players++
		}
	}
	meta := EpochArchiveMeta{
		Epoch:      closed,
		ClosedAt:   sched.Start(cur),
		Snapshot:   filepath.Base(dst),
		SnapshotAt: snap.Header.TakenAt,
		Players:    players,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return 0, "", false, err
	}
	if err := os.WriteFile(filepath.Join(dir, metaFile), b, 0o644); err != nil {
		return 0, "", false, err
	}
	return closed, dst, true, nil
}

// ReadMeta loads the archive metadata of ep.
func ReadMeta(dataDir string, ep uint64) (EpochArchiveMeta, error) {
	var m EpochArchiveMeta
	b, err := os.ReadFile(filepath.Join(EpochDir(dataDir, ep), metaFile))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
