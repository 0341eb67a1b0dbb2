// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package browser defines the browser-automation capability the pipeline
// depends on and a go-rod implementation of it.
//
// Selectors are CSS, extended with the text form `tag:has-text("Text")`
// which matches the first tag element whose text contains Text
// (case-insensitive).
package browser

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// Response is the result of fetching a URL inside the browser context, so
// the request carries the session's cookies.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
	URL         string
}

// Session is a single browser page driven by the pipeline. Implementations
// are not required to be safe for concurrent use; the pipeline accesses the
// session serially.
type Session interface {
	// Navigate loads rawURL and waits for the load event.
	Navigate(ctx context.Context, rawURL string) error

	// URL returns the current page URL.
	URL(ctx context.Context) (string, error)

	// HTML returns the serialized DOM of the current page.
	HTML(ctx context.Context) (string, error)

	// Exists reports whether selector matches an element.
	Exists(ctx context.Context, selector string) (bool, error)

	// Attribute returns the named attribute of the first element matching
	// selector. ok is false when there is no such element or attribute.
	Attribute(ctx context.Context, selector, name string) (value string, ok bool, err error)

	// Fill types value into the first element matching selector.
	Fill(ctx context.Context, selector, value string) error

	// Click clicks the first element matching selector.
	Click(ctx context.Context, selector string) error

	// WaitIdle waits until the page's network activity settles or timeout.
	WaitIdle(ctx context.Context, timeout time.Duration) error

	// Fetch issues a GET for rawURL from within the page.
	Fetch(ctx context.Context, rawURL string) (*Response, error)

	Close() error
}

// NavigateHook is called before every navigation; a non-nil error aborts
// the navigation and is returned to the caller.
type NavigateHook func(ctx context.Context, rawURL string) error

// ChainHooks returns a hook running hooks in order until one fails. Nil
// hooks are skipped.
func ChainHooks(hooks ...NavigateHook) NavigateHook {
	var live []NavigateHook
	for _, h := range hooks {
		if h != nil {
			live = append(live, h)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	}
	return func(ctx context.Context, rawURL string) error {
		for _, h := range live {
			if err := h(ctx, rawURL); err != nil {
				return err
			}
		}
		return nil
	}
}

// hooked decorates a Session with a navigation hook.
type hooked struct {
	Session
	hook NavigateHook
}

// WithNavigateHook returns s with hook run before each Navigate.
func WithNavigateHook(s Session, hook NavigateHook) Session {
	if hook == nil {
		return s
	}
	return &hooked{Session: s, hook: hook}
}

func (h *hooked) Navigate(ctx context.Context, rawURL string) error {
	if err := h.hook(ctx, rawURL); err != nil {
		return err
	}
	return h.Session.Navigate(ctx, rawURL)
}

// hasTextPattern parses `tag:has-text("Text")`.
var hasTextPattern = regexp.MustCompile(`^\s*([a-zA-Z][a-zA-Z0-9]*)\s*:has-text\(\s*["'](.+)["']\s*\)\s*$`)

// TextSelector splits a text selector into its tag and text. ok is false for
// plain CSS selectors.
func TextSelector(selector string) (tag, text string, ok bool) {
	m := hasTextPattern.FindStringSubmatch(selector)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// ErrNoElement is returned by Fill and Click when nothing matches.
type ErrNoElement struct {
	Selector string
}

func (e *ErrNoElement) Error() string {
	return fmt.Sprintf("no element matches %q", e.Selector)
}
