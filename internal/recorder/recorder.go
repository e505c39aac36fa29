// Package recorder writes engine events to rotating per-session JSONL trace
// files so a run can be replayed after the fact.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"groundwork-mcp-server/internal/events"
)

const (
	MaxRotatedFiles = 3
	TraceDir        = "data/traces"
)

type trace struct {
	file    *os.File
	encoder *json.Encoder
}

// Recorder keeps one open trace per session and the newest MaxRotatedFiles
// traces on disk.
type Recorder struct {
	mu       sync.Mutex
	basePath string
	maxFiles int
	traces   map[string]*trace
}

// NewRecorder creates a recorder rooted at basePath, creating the directory.
func NewRecorder(basePath string, maxFiles int) (*Recorder, error) {
	if basePath == "" {
		basePath = TraceDir
	}
	if maxFiles <= 0 {
		maxFiles = MaxRotatedFiles
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{
		basePath: basePath,
		maxFiles: maxFiles,
		traces:   make(map[string]*trace),
	}, nil
}

// Start opens a fresh trace for sessionID, closing any previous one.
func (r *Recorder) Start(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.traces[sessionID]; ok {
		_ = t.file.Close()
		delete(r.traces, sessionID)
	}

	if err := r.rotate(); err != nil {
		return fmt.Errorf("rotate traces: %w", err)
	}

	name := fmt.Sprintf("trace_%s_%d.jsonl", sanitize(sessionID), time.Now().UnixMilli())
	f, err := os.Create(filepath.Join(r.basePath, name))
	if err != nil {
		return err
	}
	r.traces[sessionID] = &trace{file: f, encoder: json.NewEncoder(f)}
	return nil
}

// Emit appends evt to its session's trace. Events for sessions without an
// open trace are dropped.
func (r *Recorder) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.traces[evt.SessionID]
	if !ok {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	_ = t.encoder.Encode(evt)
}

// Path returns the open trace file for a session.
func (r *Recorder) Path(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.traces[sessionID]
	if !ok {
		return "", false
	}
	return t.file.Name(), true
}

// Stop closes the trace of one session.
func (r *Recorder) Stop(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.traces[sessionID]
	if !ok {
		return nil
	}
	delete(r.traces, sessionID)
	return t.file.Close()
}

// rotate deletes the oldest closed traces so that, with the one about to be
// created, at most maxFiles remain.
func (r *Recorder) rotate() error {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return err
	}

	open := make(map[string]bool, len(r.traces))
	for _, t := range r.traces {
		open[filepath.Base(t.file.Name())] = true
	}

	type entry struct {
		name string
		mod  time.Time
	}
	var traces []entry
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" || open[e.Name()] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		traces = append(traces, entry{e.Name(), info.ModTime()})
	}

	sort.Slice(traces, func(i, j int) bool {
		if traces[i].mod.Equal(traces[j].mod) {
			return traces[i].name > traces[j].name
		}
		return traces[i].mod.After(traces[j].mod)
	})

	keep := r.maxFiles - 1 - len(open)
	if keep < 0 {
		keep = 0
	}
	for i := keep; i < len(traces); i++ {
		_ = os.Remove(filepath.Join(r.basePath, traces[i].name))
	}
	return nil
}

// Close finishes every open trace.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for id, t := range r.traces {
		if err := t.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.traces, id)
	}
	return firstErr
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}
