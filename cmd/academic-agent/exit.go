// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pdiddy/academic-agent/internal/failure"
	"github.com/pdiddy/academic-agent/internal/orchestrator"
)

// Exit codes.
const (
	exitOK       = 0
	exitFailure  = 1
	exitCritical = 2
	exitUsage    = 64
	exitCanceled = 130
)

// exitError ends the process with code. A nil err exits without a message.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// exitCode prints err to w and maps it to an exit code: 2 for a critical
// halt, 130 for cancellation, 1 for everything else.
func exitCode(err error, w io.Writer) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(w, describe(ee.err))
		}
		return ee.code
	}
	fmt.Fprintln(w, describe(err))

	var halt *orchestrator.HaltError
	switch {
	case errors.As(err, &halt):
		return exitCritical
	case errors.Is(err, context.Canceled):
		return exitCanceled
	default:
		return exitFailure
	}
}

func describe(err error) string {
	var halt *orchestrator.HaltError
	if errors.As(err, &halt) {
		return halt.Error()
	}
	if errors.Is(err, context.Canceled) {
		return "run cancelled; the checkpoint is kept for resume"
	}
	if failure.KindOf(err) == failure.KindUnknown {
		return "Error: " + err.Error()
	}
	return failure.Describe(err)
}
