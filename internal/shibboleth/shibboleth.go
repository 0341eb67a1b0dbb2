// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package shibboleth performs institutional single sign-on inside a
// browser session so publisher pages grant full-text access.
package shibboleth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/academic-agent/internal/browser"
	"github.com/pdiddy/academic-agent/internal/failure"
)

// Form selectors of the institutional identity provider.
const (
	UsernameSelector = `input[name="username"]`
	PasswordSelector = `input[type="password"]`
	SubmitSelector   = `button[type="submit"]`
)

// IdleTimeout bounds the wait for network idle after submitting the form.
const IdleTimeout = 10 * time.Second

// loginIndicators mark a URL as belonging to the SSO flow.
var loginIndicators = []string{"shibboleth", "wayf.php", "idp.php"}

// secondFactorSelectors mark a page that asks for a second factor.
var secondFactorSelectors = []string{
	`input[autocomplete="one-time-code"]`,
	`input[name="otp"]`,
	`input[name="totp"]`,
	`input[name="j_tokenNumber"]`,
}

// ErrNoCredentials is returned when username or password is missing.
var ErrNoCredentials = errors.New("no credentials")

// AuthResult is the outcome of one login attempt.
type AuthResult struct {
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	Requires2FA bool   `json:"requires_2fa"`
}

// Credentials for the identity provider.
type Credentials struct {
	Username string
	Password string
}

// Authenticator logs a browser session in.
type Authenticator struct {
	creds Credentials
	idle  time.Duration
	log   *zap.Logger
}

// New returns an Authenticator. A nil logger discards output.
func New(creds Credentials, log *zap.Logger) *Authenticator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Authenticator{creds: creds, idle: IdleTimeout, log: log}
}

// IsLoginPage reports whether rawURL is part of the SSO flow.
func IsLoginPage(rawURL string) bool {
	u := strings.ToLower(rawURL)
	for _, ind := range loginIndicators {
		if strings.Contains(u, ind) {
			return true
		}
	}
	return false
}

// Authenticate fills and submits the login form on the session's current
// page. A failed login is reported in the result; the error is non-nil
// only when credentials are missing or the context ends.
func (a *Authenticator) Authenticate(ctx context.Context, s browser.Session) (AuthResult, error) {
	if a.creds.Username == "" || a.creds.Password == "" {
		return AuthResult{Error: ErrNoCredentials.Error()},
			failure.New(failure.KindAuthentication, "shibboleth.Authenticate", ErrNoCredentials)
	}

	steps := []func() error{
		func() error { return s.Fill(ctx, UsernameSelector, a.creds.Username) },
		func() error { return s.Fill(ctx, PasswordSelector, a.creds.Password) },
		func() error { return s.Click(ctx, SubmitSelector) },
		func() error { return s.WaitIdle(ctx, a.idle) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			if ctx.Err() != nil {
				return AuthResult{Error: ctx.Err().Error()}, ctx.Err()
			}
			a.log.Warn("login step failed", zap.Error(err))
			return AuthResult{Error: err.Error()}, nil
		}
	}

	for _, sel := range secondFactorSelectors {
		if ok, err := s.Exists(ctx, sel); err == nil && ok {
			a.log.Info("identity provider requests a second factor")
			return AuthResult{Error: "second factor required", Requires2FA: true}, nil
		}
	}

	cur, err := s.URL(ctx)
	if err != nil {
		return AuthResult{Error: err.Error()}, nil
	}
	if IsLoginPage(cur) {
		if ok, _ := s.Exists(ctx, PasswordSelector); ok {
			return AuthResult{Error: fmt.Sprintf("still on login page %s", cur)}, nil
		}
	}
	a.log.Debug("login completed", zap.String("url", cur))
	return AuthResult{Success: true}, nil
}
