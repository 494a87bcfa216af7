package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/zstd"

	applog "arenaledger.gg/internal/logger"
	"arenaledger.gg/internal/protocol"
	"arenaledger.gg/internal/sim/engine"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	clock   clockwork.Clock

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string, clock clockwork.Clock) *JSONLZstdWriter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		clock:   clock,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(b)
}

// WriteSync appends v, ends the current zstd frame and fsyncs the file, so the
// line can be read back from disk when it returns nil. On any error the open
// file is dropped and the next write starts a fresh frame.
func (w *JSONLZstdWriter) WriteSync(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.appendLocked(b); err != nil {
		w.abortLocked()
		return err
	}
	if err := w.enc.Close(); err != nil {
		w.abortLocked()
		return fmt.Errorf("end zstd frame: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		w.abortLocked()
		return fmt.Errorf("sync %s: %w", filepath.Base(w.f.Name()), err)
	}
	w.enc.Reset(w.f)
	return nil
}

func (w *JSONLZstdWriter) appendLocked(b []byte) error {
	hour := w.clock.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

// abortLocked drops the open file without flushing what is buffered.
func (w *JSONLZstdWriter) abortLocked() {
	if w.enc != nil {
		w.enc.Reset(io.Discard)
		_ = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// ListFiles returns the <prefix>-*.jsonl.zst files in dir in write order.
func ListFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// ScanFile calls fn with every line of a zstd JSONL file. A file may hold
// several concatenated zstd frames when a writer reopened it within the hour.
func ScanFile(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if err := fn(sc.Bytes()); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return sc.Err()
}

const (
	actionsPrefix = "actions"
	eventsPrefix  = "events"
)

// ActionLogger writes one entry per applied action.
type ActionLogger struct{ w *JSONLZstdWriter }

func NewActionLogger(dataDir string, clock clockwork.Clock) *ActionLogger {
	return &ActionLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, actionsPrefix), actionsPrefix, clock)}
}

// WriteAction returns once the entry is on disk, so replay never misses an
// action the engine reported as applied.
func (l *ActionLogger) WriteAction(v engine.ActionLogEntry) error { return l.w.WriteSync(v) }

func (l *ActionLogger) Close() error { return l.w.Close() }

// ReadActions streams the action log under dataDir in order.
func ReadActions(dataDir string, fn func(engine.ActionLogEntry) error) error {
	files, err := ListFiles(filepath.Join(dataDir, actionsPrefix), actionsPrefix)
	if err != nil {
		return err
	}
	for _, path := range files {
		err := ScanFile(path, func(line []byte) error {
			var entry engine.ActionLogEntry
			if err := json.Unmarshal(line, &entry); err != nil {
				return fmt.Errorf("unmarshal: %w", err)
			}
			return fn(entry)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

const (
	KindFightResolved = protocol.EventFightResolved
	KindRootPublished = protocol.EventRootPublished
	KindPrizeClaimed  = protocol.EventPrizeClaimed
)

// EventRecord is one line of the event log; exactly one payload is set.
type EventRecord struct {
	Kind  string                `json:"kind"`
	At    time.Time             `json:"at"`
	Fight *engine.FightResolved `json:"fight,omitempty"`
	Root  *engine.RootPublished `json:"root,omitempty"`
	Claim *engine.PrizeClaimed  `json:"claim,omitempty"`
}

// EventLogger is an engine.EventSink that appends to the event log. Sinks
// cannot fail the engine, so write errors are logged and counted.
type EventLogger struct {
	w   *JSONLZstdWriter
	log *slog.Logger

	mu     sync.Mutex
	errors uint64
}

func NewEventLogger(dataDir string, clock clockwork.Clock, logger *slog.Logger) *EventLogger {
	if logger == nil {
		logger = applog.Discard()
	}
	return &EventLogger{
		w:   NewJSONLZstdWriter(filepath.Join(dataDir, eventsPrefix), eventsPrefix, clock),
		log: logger,
	}
}

func (l *EventLogger) write(rec EventRecord) {
	if err := l.w.Write(rec); err != nil {
		l.mu.Lock()
		l.errors++
		l.mu.Unlock()
		l.log.Error("event log write failed", "kind", rec.Kind, "error", err)
	}
}

func (l *EventLogger) FightResolved(ev engine.FightResolved) {
	l.write(EventRecord{Kind: KindFightResolved, At: ev.At, Fight: &ev})
}

func (l *EventLogger) RootPublished(ev engine.RootPublished) {
	l.write(EventRecord{Kind: KindRootPublished, At: ev.At, Root: &ev})
}

func (l *EventLogger) PrizeClaimed(ev engine.PrizeClaimed) {
	l.write(EventRecord{Kind: KindPrizeClaimed, At: ev.At, Claim: &ev})
}

// WriteErrors reports how many events could not be written.
func (l *EventLogger) WriteErrors() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errors
}

func (l *EventLogger) Close() error { return l.w.Close() }

// ReadEvents streams the event log under dataDir in order.
func ReadEvents(dataDir string, fn func(EventRecord) error) error {
	files, err := ListFiles(filepath.Join(dataDir, eventsPrefix), eventsPrefix)
	if err != nil {
		return err
	}
	for _, path := range files {
		err := ScanFile(path, func(line []byte) error {
			var rec EventRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				return fmt.Errorf("unmarshal: %w", err)
			}
			return fn(rec)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
