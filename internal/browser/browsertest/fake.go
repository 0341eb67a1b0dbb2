// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package browsertest provides a scripted in-memory browser.Session for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pdiddy/academic-agent/internal/browser"
)

// Element is a scripted DOM element.
type Element struct {
	Attrs map[string]string
}

// Page is a scripted page. Elements is keyed by the exact selector string
// callers will use.
type Page struct {
	HTML     string
	Elements map[string]Element

	// OnClick maps a selector to the URL the page moves to when clicked.
	OnClick map[string]string
}

// Fake is a browser.Session whose pages and fetch responses are scripted.
type Fake struct {
	mu sync.Mutex

	Pages     map[string]*Page
	Responses map[string]*browser.Response

	// NavigateErr, when set, fails navigations to the keyed URL.
	NavigateErr map[string]error

	// Redirects maps a navigated URL to the URL the page ends up at.
	Redirects map[string]string

	current string

	Navigations []string
	Filled      map[string]string
	Clicked     []string
	Fetched     []string
	Closed      bool
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		Pages:       map[string]*Page{},
		Responses:   map[string]*browser.Response{},
		NavigateErr: map[string]error{},
		Redirects:   map[string]string{},
		Filled:      map[string]string{},
	}
}

var _ browser.Session = (*Fake)(nil)

func (f *Fake) page() *Page {
	if p, ok := f.Pages[f.current]; ok {
		return p
	}
	return &Page{}
}

func (f *Fake) Navigate(_ context.Context, rawURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.NavigateErr[rawURL]; err != nil {
		return err
	}
	f.Navigations = append(f.Navigations, rawURL)
	f.current = rawURL
	if to, ok := f.Redirects[rawURL]; ok {
		f.current = to
	}
	return nil
}

func (f *Fake) URL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *Fake) HTML(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.page().HTML, nil
}

func (f *Fake) Exists(_ context.Context, selector string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.page().Elements[selector]
	return ok, nil
}

func (f *Fake) Attribute(_ context.Context, selector, name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	el, ok := f.page().Elements[selector]
	if !ok {
		return "", false, nil
	}
	v, ok := el.Attrs[name]
	return v, ok, nil
}

func (f *Fake) Fill(_ context.Context, selector, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.page().Elements[selector]; !ok {
		return &browser.ErrNoElement{Selector: selector}
	}
	f.Filled[selector] = value
	return nil
}

func (f *Fake) Click(_ context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.page()
	if _, ok := p.Elements[selector]; !ok {
		return &browser.ErrNoElement{Selector: selector}
	}
	f.Clicked = append(f.Clicked, selector)
	if next, ok := p.OnClick[selector]; ok {
		f.current = next
	}
	return nil
}

func (f *Fake) WaitIdle(context.Context, time.Duration) error { return nil }

func (f *Fake) Fetch(_ context.Context, rawURL string) (*browser.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Fetched = append(f.Fetched, rawURL)
	r, ok := f.Responses[rawURL]
	if !ok {
		return &browser.Response{Status: 404, URL: rawURL}, nil
	}
	if r.URL == "" {
		c := *r
		c.URL = rawURL
		return &c, nil
	}
	return r, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// SetPage registers p under rawURL and returns f for chaining.
func (f *Fake) SetPage(rawURL string, p *Page) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pages[rawURL] = p
	return f
}

// String describes the fake's state for test failure messages.
func (f *Fake) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf("fake browser at %q after %v", f.current, f.Navigations)
}
