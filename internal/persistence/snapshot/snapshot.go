package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/klauspost/compress/zstd"

	"arenaledger.gg/internal/sim/encoding"
	"arenaledger.gg/internal/sim/ids"
	"arenaledger.gg/internal/sim/leaderboard"
)

const Version = 1

type Header struct {
	Version int       `json:"version"`
	Seq     uint64    `json:"seq"`
	TakenAt time.Time `json:"taken_at"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	CatalogDigest string `json:"catalog_digest"`
	TuningVersion string `json:"tuning_version"`
	Seed          uint64 `json:"seed"`
	// Applied is the sequence number of the last action folded into this state.
	Applied uint64 `json:"applied"`
	// RNG is the marshaled generator position; empty for sources that
	// cannot be captured.
	RNG []byte `json:"rng,omitempty"`

	Characters []CharacterV1           `json:"characters"`
	Pools      map[string]sdkmath.Int  `json:"pools"`
	Scores     []ScoreV1               `json:"scores"`
	Roots      []leaderboard.EpochRoot `json:"roots"`
}

type CharacterV1 struct {
	Player      ids.Address   `json:"player"`
	Core        encoding.Word `json:"core"`
	Progression encoding.Word `json:"progression"`
	Equipment   sdkmath.Int   `json:"equipment"`
	Fight       *FightV1      `json:"fight,omitempty"`
}

type FightV1 struct {
	EnemyID      uint16    `json:"enemy_id"`
	EnemyLevel   uint8     `json:"enemy_level"`
	Combat       uint16    `json:"combat"`
	Defense      uint16    `json:"defense"`
	Luck         uint16    `json:"luck"`
	Health       uint32    `json:"health"`
	EnemyHP      uint32    `json:"enemy_hp"`
	CombatIndex  int64     `json:"combat_index"`
	DifficultyBP uint32    `json:"difficulty_bp"`
	Rounds       int       `json:"rounds"`
	StartedAt    time.Time `json:"started_at"`
}

type ScoreV1 struct {
	Epoch  uint64      `json:"epoch"`
	Player ids.Address `json:"player"`
	Score  uint64      `json:"score"`
}

// PathFor names snapshot seq inside dir; names sort by seq.
func PathFor(dir string, seq uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.snap.zst", seq))
}

// Latest returns the newest snapshot path in dir, or "" if there is none.
func Latest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		if _, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64); err != nil {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1]), nil
}

// WriteSnapshot writes a JSON header line followed by the JSON body, zstd
// compressed. The file is renamed into place once complete.
func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := writeTo(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeTo(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := json.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("json encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The header is repeated in the body; the line exists for cheap peeking.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("snapshot header: %w", err)
	}
	if err := json.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("json decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("snapshot version %d not supported", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader reads only the first line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("snapshot header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("snapshot header: %w", err)
	}
	return h, nil
}
