// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package eventlog writes the run's structured event streams and builds the
// process logger.
//
// Each agent gets its own JSON-lines file under runs/<run_id>/logs/. Every
// line carries timestamp (UTC, RFC 3339), event, level, agent and run_id plus
// the redacted payload. All agents are also tee'd into the human-readable
// session_log.txt.
package eventlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	logsDir        = "logs"
	sessionLogFile = "session_log.txt"
)

// Payload is the free-form key/value part of an event.
type Payload map[string]any

// NewLogger builds the process logger: a console encoder writing to w at the
// given level ("debug", "info", "warn", "error").
func NewLogger(level string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", level, err)
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), lvl)
	return zap.New(core), nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Sink fans events out to per-agent JSONL files and the session log.
type Sink struct {
	runID   string
	dir     string
	session zapcore.Core

	mu     sync.Mutex
	agents map[string]*zap.Logger
	files  []*os.File
	closed bool
}

// Open creates runDir/logs and runDir/session_log.txt (appending to existing
// files so a resumed run keeps its history).
func Open(runDir, runID string) (*Sink, error) {
	dir := filepath.Join(runDir, logsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating logs directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(runDir, sessionLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening session log: %w", err)
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = rfc3339UTC
	encCfg.CallerKey = ""
	encCfg.StacktraceKey = ""
	session := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(f), zapcore.DebugLevel)

	return &Sink{
		runID:   runID,
		dir:     dir,
		session: session,
		agents:  make(map[string]*zap.Logger),
		files:   []*os.File{f},
	}, nil
}

// RunID returns the run the sink writes for.
func (s *Sink) RunID() string { return s.runID }

func rfc3339UTC(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format(time.RFC3339))
}

func jsonEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "agent",
		MessageKey:     "event",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     rfc3339UTC,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
}

var agentNamePattern = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Agent returns the logger for agent, creating its JSONL file on first use.
// Fields logged through it are not redacted; use Emit for payloads that may
// carry user data.
func (s *Sink) Agent(agent string) *zap.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return zap.NewNop()
	}
	if l, ok := s.agents[agent]; ok {
		return l
	}

	name := agentNamePattern.ReplaceAllString(agent, "_")
	f, err := os.OpenFile(filepath.Join(s.dir, name+".jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		// Fall back to the session log only.
		l := zap.New(s.session).Named(agent).With(zap.String("run_id", s.runID))
		s.agents[agent] = l
		return l
	}
	s.files = append(s.files, f)

	core := zapcore.NewCore(zapcore.NewJSONEncoder(jsonEncoderConfig()), zapcore.Lock(f), zapcore.DebugLevel)
	l := zap.New(zapcore.NewTee(core, s.session)).Named(agent).With(zap.String("run_id", s.runID))
	s.agents[agent] = l
	return l
}

// Emit writes one info-level event for agent.
func (s *Sink) Emit(agent, event string, payload Payload) {
	s.log(agent, zapcore.InfoLevel, event, payload)
}

// Warn writes one warning-level event for agent.
func (s *Sink) Warn(agent, event string, payload Payload) {
	s.log(agent, zapcore.WarnLevel, event, payload)
}

// Error writes one error-level event for agent.
func (s *Sink) Error(agent, event string, payload Payload) {
	s.log(agent, zapcore.ErrorLevel, event, payload)
}

func (s *Sink) log(agent string, lvl zapcore.Level, event string, payload Payload) {
	if s == nil {
		return
	}
	l := s.Agent(agent)
	if ce := l.Check(lvl, event); ce != nil {
		ce.Write(fields(payload)...)
	}
}

// fields converts a payload to redacted zap fields in key order.
func fields(payload Payload) []zap.Field {
	if len(payload) == 0 {
		return nil
	}
	red := Redact(map[string]any(payload)).(map[string]any)
	keys := make([]string, 0, len(red))
	for k := range red {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		switch v := red[k].(type) {
		case error:
			out = append(out, zap.String(k, RedactString(v.Error())))
		case time.Duration:
			out = append(out, zap.Duration(k, v))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}

// Close flushes and closes all files. Events emitted afterwards are dropped.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	for _, l := range s.agents {
		_ = l.Sync()
	}
	for _, f := range s.files {
		err = multierr.Append(err, f.Close())
	}
	return err
}
