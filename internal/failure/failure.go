// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package failure defines the pipeline's error taxonomy. Every error that
// reaches the user carries a Kind, the operation that failed, and a one-line
// recommended action.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the pipeline recovers from it.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransientNetwork
	KindBackendUnavailable
	KindAuthentication
	KindPDFUnavailable
	KindInvariantViolation
	KindAgentFailure
	KindFatalConfig
)

func (k Kind) String() string {
	switch k {
	case KindTransientNetwork:
		return "TransientNetworkError"
	case KindBackendUnavailable:
		return "BackendUnavailable"
	case KindAuthentication:
		return "AuthenticationError"
	case KindPDFUnavailable:
		return "PDFUnavailable"
	case KindInvariantViolation:
		return "InvariantViolation"
	case KindAgentFailure:
		return "AgentFailure"
	case KindFatalConfig:
		return "FatalConfigError"
	default:
		return "UnknownError"
	}
}

// defaultActions holds the recommended action shown when the error site
// does not supply one.
var defaultActions = map[Kind]string{
	KindTransientNetwork:   "check network connectivity and retry",
	KindBackendUnavailable: "continue with remaining back-ends; retry this one later",
	KindAuthentication:     "verify TIB_USERNAME and TIB_PASSWORD and complete any 2FA prompt",
	KindPDFUnavailable:     "obtain the PDF manually or drop the source",
	KindInvariantViolation: "reset the navigation session and start from the DBIS portal",
	KindAgentFailure:       "check the model API key and quota, then resume the run",
	KindFatalConfig:        "fix the research config and start the run again",
	KindUnknown:            "inspect the run logs",
}

// Error is a classified pipeline error.
type Error struct {
	Kind   Kind
	Op     string
	Action string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and operation.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithAction returns a copy of e with a specific recommended action.
func (e *Error) WithAction(action string) *Error {
	c := *e
	c.Action = action
	return &c
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err's chain contains a failure of kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Describe renders the user-visible line for err:
// "<kind> in <op>: <message> (action: <recommended action>)".
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if !errors.As(err, &fe) {
		return fmt.Sprintf("%s: %v (action: %s)", KindUnknown, err, defaultActions[KindUnknown])
	}
	action := fe.Action
	if action == "" {
		action = defaultActions[fe.Kind]
	}
	msg := "failed"
	if fe.Err != nil {
		msg = fe.Err.Error()
	}
	return fmt.Sprintf("%s in %s: %s (action: %s)", fe.Kind, fe.Op, msg, action)
}
