// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package checkpoint persists pipeline state to runs/<run_id>/checkpoint.json.
//
// The file is a single JSON object: the caller's state fields plus "phase"
// and "checkpoint_time". Writes go to a temp file in the same directory and
// are renamed over the checkpoint, so readers never observe a partial file.
// The Checkpointer is the only writer of the file.
package checkpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pdiddy/academic-agent/internal/failure"
)

// FileName is the checkpoint file inside a run directory.
const FileName = "checkpoint.json"

// DefaultInterval is the minimum time between interval checkpoints.
const DefaultInterval = 5 * time.Minute

// ErrPhaseRegression is returned when a save would move the phase backwards.
var ErrPhaseRegression = errors.New("checkpoint phase must not decrease")

// Meta is the bookkeeping part of a checkpoint.
type Meta struct {
	Phase          int       `json:"phase"`
	CheckpointTime time.Time `json:"checkpoint_time"`
}

// Checkpointer saves and restores the checkpoint of one run directory.
type Checkpointer struct {
	path     string
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	lastSave  time.Time
	lastPhase int
}

// New returns a Checkpointer for runDir. A non-positive interval selects
// DefaultInterval. The last saved phase is read from disk so monotonicity
// holds across process restarts.
func New(runDir string, interval time.Duration) *Checkpointer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	c := &Checkpointer{
		path:      filepath.Join(runDir, FileName),
		interval:  interval,
		now:       time.Now,
		lastPhase: -1,
	}
	if m, err := c.readMeta(); err == nil && m != nil {
		c.lastPhase = m.Phase
		c.lastSave = m.CheckpointTime
	}
	return c
}

// Path returns the checkpoint file path.
func (c *Checkpointer) Path() string { return c.path }

// ShouldCheckpoint reports whether at least the interval has elapsed since
// the last save (always true before the first save).
func (c *Checkpointer) ShouldCheckpoint() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSave.IsZero() || c.now().Sub(c.lastSave) >= c.interval
}

// Save writes state at phase. state must marshal to a JSON object (a
// struct or map); its "phase" and "checkpoint_time" keys are overwritten.
// A phase lower than the last saved one fails with ErrPhaseRegression.
func (c *Checkpointer) Save(phase int, state any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if phase < c.lastPhase {
		return failure.New(failure.KindInvariantViolation, "checkpoint.Save",
			fmt.Errorf("%w: %d after %d", ErrPhaseRegression, phase, c.lastPhase))
	}

	fields := map[string]json.RawMessage{}
	if state != nil {
		raw, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("marshaling checkpoint state: %w", err)
		}
		if !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			if err := json.Unmarshal(raw, &fields); err != nil {
				return fmt.Errorf("checkpoint state must be a JSON object: %w", err)
			}
		}
	}

	now := c.now().UTC()
	fields["phase"], _ = json.Marshal(phase)
	fields["checkpoint_time"], _ = json.Marshal(now)

	data, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}
	if err := writeAtomic(c.path, data); err != nil {
		return err
	}
	c.lastSave = now
	c.lastPhase = phase
	return nil
}

// Load decodes the checkpoint into state (which may be nil) and returns its
// Meta. It returns nil, nil when no checkpoint exists.
func (c *Checkpointer) Load(state any) (*Meta, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing checkpoint: %w", err)
	}
	if state != nil {
		if err := json.Unmarshal(data, state); err != nil {
			return nil, fmt.Errorf("parsing checkpoint state: %w", err)
		}
	}
	return &m, nil
}

// Exists reports whether a checkpoint file is present.
func (c *Checkpointer) Exists() bool {
	_, err := os.Stat(c.path)
	return err == nil
}

// Delete removes the checkpoint. A missing file is not an error.
func (c *Checkpointer) Delete() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting checkpoint: %w", err)
	}
	c.lastSave = time.Time{}
	c.lastPhase = -1
	return nil
}

func (c *Checkpointer) readMeta() (*Meta, error) {
	return c.Load(nil)
}

// writeAtomic writes data to a temp file next to path and renames it over path.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, writeErr := tmp.Write(data)
	syncErr := tmp.Sync()
	closeErr := tmp.Close()
	for _, e := range []error{writeErr, syncErr, closeErr} {
		if e != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("writing checkpoint: %w", e)
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming checkpoint: %w", err)
	}
	return nil
}
