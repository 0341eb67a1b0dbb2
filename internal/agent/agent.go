// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package agent spawns LLM sub-agents. Every spawn names a preferred model
// and a fallback model; a failed attempt on the preferred model is retried
// exactly once on the fallback, and the caller receives one combined
// response annotated with the model that produced it.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pdiddy/academic-agent/internal/eventlog"
	"github.com/pdiddy/academic-agent/internal/failure"
	"github.com/pdiddy/academic-agent/pkg/types"
)

// Default models and deadline used when a request or config leaves them empty.
const (
	DefaultPreferredModel = "claude-haiku-4-5"
	DefaultFallbackModel  = "claude-sonnet-4-5"
	DefaultTimeout        = 5 * time.Minute
)

// ModelClient runs a single prompt against a named model and returns the
// text of the reply.
type ModelClient interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// Validator checks a model reply. A non-nil error marks the output invalid
// and triggers the fallback.
type Validator func(output string) error

// Request is the spawn request in its wire form.
type Request struct {
	AgentType      string `json:"agent_type"`
	Prompt         string `json:"prompt"`
	Description    string `json:"description"`
	PreferredModel string `json:"preferred_model"`
	FallbackModel  string `json:"fallback_model"`
}

// Status is the lifecycle state reported in a Response.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// FailureKind classifies a failed attempt.
type FailureKind string

const (
	KindModelError    FailureKind = "model_error"
	KindTimeout       FailureKind = "timeout"
	KindInvalidOutput FailureKind = "invalid_output"
)

// Attempt records one model invocation.
type Attempt struct {
	Model    string        `json:"model"`
	Kind     FailureKind   `json:"failure_kind,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Response is the spawn result in its wire form.
type Response struct {
	ID           string      `json:"id"`
	Status       Status      `json:"status"`
	AgentType    string      `json:"agent_type"`
	Model        string      `json:"model,omitempty"`
	UsedFallback bool        `json:"used_fallback"`
	Output       string      `json:"output,omitempty"`
	FailureKind  FailureKind `json:"failure_kind,omitempty"`
	Error        string      `json:"error,omitempty"`
	Attempts     []Attempt   `json:"attempts"`
}

// Failure is the error of a spawn that failed on both models. It unwraps
// to the last attempt's error.
type Failure struct {
	AgentType string
	Kind      FailureKind
	Preferred error
	Fallback  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("agent %s failed (%s): preferred: %v; fallback: %v", f.AgentType, f.Kind, f.Preferred, f.Fallback)
}

func (f *Failure) Unwrap() error { return f.Fallback }

// AsFailure extracts the spawn failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	ok := errors.As(err, &f)
	return f, ok
}

// Spawner runs sub-agents through a ModelClient.
type Spawner struct {
	client    ModelClient
	preferred string
	fallback  string
	timeout   time.Duration
	sink      *eventlog.Sink
	log       *zap.Logger
}

// Option configures a Spawner.
type Option func(*Spawner)

// WithSink records spawn events in the run's event log.
func WithSink(s *eventlog.Sink) Option { return func(sp *Spawner) { sp.sink = s } }

// WithLogger sets the process logger.
func WithLogger(l *zap.Logger) Option { return func(sp *Spawner) { sp.log = eventlog.OrNop(l) } }

// New returns a Spawner. Empty config fields take the package defaults.
func New(client ModelClient, cfg types.AgentConfig, opts ...Option) *Spawner {
	s := &Spawner{
		client:    client,
		preferred: cfg.PreferredModel,
		fallback:  cfg.FallbackModel,
		timeout:   cfg.Timeout,
		log:       zap.NewNop(),
	}
	if s.preferred == "" {
		s.preferred = DefaultPreferredModel
	}
	if s.fallback == "" {
		s.fallback = DefaultFallbackModel
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Request builds a request for agentType with the spawner's models.
func (s *Spawner) Request(agentType, description, prompt string) Request {
	return Request{
		AgentType:      agentType,
		Prompt:         prompt,
		Description:    description,
		PreferredModel: s.preferred,
		FallbackModel:  s.fallback,
	}
}

// Spawn runs req on the preferred model and, if that attempt fails, once
// more on the fallback model. When both fail the returned error is a
// failure.Error of kind AgentFailure wrapping a *Failure. Cancellation of
// ctx is returned as is, without a fallback attempt.
func (s *Spawner) Spawn(ctx context.Context, req Request, validate Validator) (Response, error) {
	if req.PreferredModel == "" {
		req.PreferredModel = s.preferred
	}
	if req.FallbackModel == "" {
		req.FallbackModel = s.fallback
	}
	if req.Description == "" {
		req.Description = "Run " + req.AgentType + " agent"
	}
	resp := Response{ID: uuid.NewString(), Status: StatusPending, AgentType: req.AgentType}
	s.sink.Emit(req.AgentType, "agent-spawned", eventlog.Payload{
		"spawn_id":    resp.ID,
		"description": req.Description,
		"model":       req.PreferredModel,
	})

	out, prefErr := s.attempt(ctx, &resp, req.PreferredModel, req.Prompt, validate)
	if prefErr == nil {
		return s.succeed(resp, req.PreferredModel, out, false), nil
	}
	if ctx.Err() != nil {
		return s.fail(resp, req, prefErr, nil, ctx.Err())
	}

	s.log.Warn("agent failed on preferred model, retrying with fallback",
		zap.String("agent", req.AgentType),
		zap.String("preferred", req.PreferredModel),
		zap.String("fallback", req.FallbackModel),
		zap.Error(prefErr))
	s.sink.Warn(req.AgentType, "agent-fallback", eventlog.Payload{
		"spawn_id":     resp.ID,
		"from":         req.PreferredModel,
		"to":           req.FallbackModel,
		"failure_kind": string(resp.Attempts[0].Kind),
		"error":        prefErr,
	})

	out, fbErr := s.attempt(ctx, &resp, req.FallbackModel, req.Prompt, validate)
	if fbErr == nil {
		return s.succeed(resp, req.FallbackModel, out, true), nil
	}
	return s.fail(resp, req, prefErr, fbErr, ctx.Err())
}

func (s *Spawner) attempt(ctx context.Context, resp *Response, model, prompt string, validate Validator) (string, error) {
	actx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	out, err := s.client.Complete(actx, model, prompt)
	a := Attempt{Model: model}
	switch {
	case err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded):
		a.Kind = KindTimeout
		err = fmt.Errorf("model %s: no reply within %s: %w", model, s.timeout, err)
	case err != nil:
		a.Kind = KindModelError
		err = fmt.Errorf("model %s: %w", model, err)
	case validate != nil:
		if verr := validate(out); verr != nil {
			a.Kind = KindInvalidOutput
			err = fmt.Errorf("model %s: invalid output: %w", model, verr)
		}
	}
	a.Duration = time.Since(start)
	if err != nil {
		a.Error = err.Error()
	}
	resp.Attempts = append(resp.Attempts, a)
	return out, err
}

func (s *Spawner) succeed(resp Response, model, out string, fallback bool) Response {
	resp.Status = StatusSuccess
	resp.Model = model
	resp.Output = out
	resp.UsedFallback = fallback
	s.log.Debug("agent completed", zap.String("agent", resp.AgentType), zap.String("model", model), zap.Bool("fallback", fallback))
	s.sink.Emit(resp.AgentType, "agent-completed", eventlog.Payload{
		"spawn_id":      resp.ID,
		"model":         model,
		"used_fallback": fallback,
		"attempts":      len(resp.Attempts),
	})
	return resp
}

func (s *Spawner) fail(resp Response, req Request, prefErr, fbErr, ctxErr error) (Response, error) {
	last := resp.Attempts[len(resp.Attempts)-1]
	resp.Status = StatusError
	resp.FailureKind = last.Kind
	resp.Error = last.Error
	resp.UsedFallback = fbErr != nil
	s.sink.Error(req.AgentType, "agent-failed", eventlog.Payload{
		"spawn_id":     resp.ID,
		"failure_kind": string(last.Kind),
		"error":        last.Error,
	})
	if ctxErr != nil {
		return resp, ctxErr
	}
	f := &Failure{AgentType: req.AgentType, Kind: last.Kind, Preferred: prefErr, Fallback: fbErr}
	return resp, failure.New(failure.KindAgentFailure, "agent.Spawn", f)
}

// JSON renders the response in its wire form.
func (r Response) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
