// Package trace implements the append-only trace log and the offline
// replay comparison of two runs.
package trace

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.trai.ch/zerr"

	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/core/ports"
)

// Log appends trace events as JSON lines. Redaction is applied on write, so
// redacted material never reaches disk.
type Log struct {
	path      string
	redaction domain.RedactionMode
	mu        sync.Mutex
}

var _ ports.TraceSink = (*Log)(nil)

// NewLog creates a trace log writer for path.
func NewLog(path string, redaction domain.RedactionMode) *Log {
	return &Log{path: filepath.Clean(path), redaction: redaction}
}

// Append writes one event to the log.
func (l *Log) Append(ev domain.TraceEvent) error {
	if l.redaction == domain.RedactHashes {
		ev.Prompt = ""
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return zerr.Wrap(err, "failed to marshal trace event")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return domain.Annotate(domain.ErrTraceWriteFailed, "path", l.path)
		}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec
	if err != nil {
		return domain.Annotate(domain.ErrTraceWriteFailed, "path", l.path)
	}
	defer f.Close() //nolint:errcheck // Flushed by the write below

	if _, err := f.Write(append(line, '\n')); err != nil {
		return domain.Annotate(domain.ErrTraceWriteFailed, "path", l.path)
	}
	return nil
}

// Read loads every event of a trace log in append order.
func Read(path string) ([]domain.TraceEvent, error) {
	f, err := os.Open(path) //nolint:gosec // Path comes from persisted executor state
	if err != nil {
		return nil, domain.Annotate(domain.ErrTraceReadFailed, "path", path)
	}
	defer f.Close() //nolint:errcheck // Read-only close in defer

	var events []domain.TraceEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var ev domain.TraceEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, zerr.Wrap(err, "failed to decode trace event")
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, zerr.Wrap(err, "failed to scan trace log")
	}
	return events, nil
}
