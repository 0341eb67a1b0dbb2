// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// LaunchConfig configures the local Chromium launch.
type LaunchConfig struct {
	Headless          bool
	Bin               string
	NavigationTimeout time.Duration
}

// RodSession implements Session over a single go-rod page.
type RodSession struct {
	cfg     LaunchConfig
	log     *zap.Logger
	browser *rod.Browser
	page    *rod.Page

	closeOnce sync.Once
}

// Launch starts a browser and opens a blank page.
func Launch(ctx context.Context, cfg LaunchConfig, log *zap.Logger) (*RodSession, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 60 * time.Second
	}

	l := launcher.New().Headless(cfg.Headless)
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}
	controlURL, err := l.Context(ctx).Launch()
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}
	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("opening page: %w", err)
	}
	log.Debug("browser launched", zap.Bool("headless", cfg.Headless))
	return &RodSession{cfg: cfg, log: log, browser: b, page: page}, nil
}

func (s *RodSession) p(ctx context.Context) *rod.Page {
	return s.page.Context(ctx)
}

// Navigate loads rawURL bounded by the navigation timeout.
func (s *RodSession) Navigate(ctx context.Context, rawURL string) error {
	page := s.p(ctx).Timeout(s.cfg.NavigationTimeout)
	if err := page.Navigate(rawURL); err != nil {
		return fmt.Errorf("navigating to %s: %w", rawURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("waiting for %s to load: %w", rawURL, err)
	}
	s.log.Debug("navigated", zap.String("url", rawURL))
	return nil
}

// URL returns the page's current URL.
func (s *RodSession) URL(ctx context.Context) (string, error) {
	info, err := s.p(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("reading page info: %w", err)
	}
	return info.URL, nil
}

// HTML returns the page's outer HTML.
func (s *RodSession) HTML(ctx context.Context) (string, error) {
	html, err := s.p(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("reading page HTML: %w", err)
	}
	return html, nil
}

// find returns the first element matching selector without waiting.
func (s *RodSession) find(ctx context.Context, selector string) (*rod.Element, bool, error) {
	page := s.p(ctx)
	if tag, text, ok := TextSelector(selector); ok {
		has, el, err := page.HasR(tag, "/"+regexp.QuoteMeta(text)+"/i")
		if err != nil {
			return nil, false, fmt.Errorf("querying %q: %w", selector, err)
		}
		return el, has, nil
	}
	has, el, err := page.Has(selector)
	if err != nil {
		return nil, false, fmt.Errorf("querying %q: %w", selector, err)
	}
	return el, has, nil
}

// Exists reports whether selector matches.
func (s *RodSession) Exists(ctx context.Context, selector string) (bool, error) {
	_, ok, err := s.find(ctx, selector)
	return ok, err
}

// Attribute returns an attribute of the first match. For "href" the
// resolved absolute URL is returned.
func (s *RodSession) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	el, ok, err := s.find(ctx, selector)
	if err != nil || !ok {
		return "", false, err
	}
	if name == "href" {
		prop, err := el.Property("href")
		if err == nil && prop.Str() != "" {
			return prop.Str(), true, nil
		}
	}
	v, err := el.Attribute(name)
	if err != nil {
		return "", false, fmt.Errorf("reading %s of %q: %w", name, selector, err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

// Fill selects the existing text of the first match and types value.
func (s *RodSession) Fill(ctx context.Context, selector, value string) error {
	el, ok, err := s.find(ctx, selector)
	if err != nil {
		return err
	}
	if !ok {
		return &ErrNoElement{Selector: selector}
	}
	if err := el.SelectAllText(); err != nil {
		s.log.Debug("select text failed", zap.String("selector", selector), zap.Error(err))
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("filling %q: %w", selector, err)
	}
	return nil
}

// Click clicks the first match with the left mouse button.
func (s *RodSession) Click(ctx context.Context, selector string) error {
	el, ok, err := s.find(ctx, selector)
	if err != nil {
		return err
	}
	if !ok {
		return &ErrNoElement{Selector: selector}
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("clicking %q: %w", selector, err)
	}
	return nil
}

// WaitIdle waits for network requests to settle for 500ms, bounded by timeout.
func (s *RodSession) WaitIdle(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	wait := s.p(ctx).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		wait()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		<-done
		return fmt.Errorf("waiting for network idle: %w", ctx.Err())
	}
}

// fetchJS downloads a URL with the page's credentials and returns the body
// base64-encoded.
const fetchJS = `async (u) => {
  const r = await fetch(u, {credentials: 'include', redirect: 'follow'});
  const buf = new Uint8Array(await r.arrayBuffer());
  let bin = '';
  const chunk = 0x8000;
  for (let i = 0; i < buf.length; i += chunk) {
    bin += String.fromCharCode.apply(null, buf.subarray(i, i + chunk));
  }
  return {status: r.status, type: r.headers.get('content-type') || '', url: r.url, data: btoa(bin)};
}`

// Fetch downloads rawURL inside the page so session cookies apply.
func (s *RodSession) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	res, err := s.p(ctx).Timeout(s.cfg.NavigationTimeout).Evaluate(rod.Eval(fetchJS, rawURL).ByPromise())
	if err != nil {
		return nil, fmt.Errorf("fetching %s in browser: %w", rawURL, err)
	}
	body, err := base64.StdEncoding.DecodeString(res.Value.Get("data").Str())
	if err != nil {
		return nil, fmt.Errorf("decoding browser fetch body: %w", err)
	}
	return &Response{
		Status:      res.Value.Get("status").Int(),
		ContentType: res.Value.Get("type").Str(),
		URL:         res.Value.Get("url").Str(),
		Body:        body,
	}, nil
}

// Close shuts the browser down.
func (s *RodSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.browser.Close()
	})
	return err
}
