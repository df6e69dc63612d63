package source

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// loginTimeout bounds the full WIPO login flow.
const loginTimeout = 60 * time.Second

// renderTimeout bounds a single page render.
const renderTimeout = 45 * time.Second

// browserSession holds a logged-in headless Chrome context. The WIPO
// portal keeps authentication state in browser cookies, so the session
// must stay open for the lifetime of the task run.
type browserSession struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// newBrowserSession starts a headless browser and walks the WIPO login
// flow with the configured credentials. Requires Chrome/Chromium on the
// host.
func newBrowserSession(ctx context.Context, opts Options) (*browserSession, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)...,
	)

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	session := &browserSession{
		ctx: browserCtx,
		cancel: func() {
			cancelBrowser()
			cancelAlloc()
		},
	}

	loginCtx, cancel := context.WithTimeout(browserCtx, loginTimeout)
	defer cancel()

	loginURL := opts.BaseURL + "/search/en/search.jsf"
	err := chromedp.Run(loginCtx,
		chromedp.Navigate(loginURL),
		chromedp.WaitReady("body"),
		// The login link sits in the portal header; its target hosts the
		// credential form.
		chromedp.Click(`a[href*="login"], a[href*="ipportal"]`, chromedp.NodeVisible),
		chromedp.WaitVisible(`input[type="password"]`),
		chromedp.SendKeys(`input[name="username"], input[id*="username"], input[type="email"]`, opts.Username),
		chromedp.SendKeys(`input[type="password"]`, opts.Password),
		chromedp.Click(`button[type="submit"], input[type="submit"]`, chromedp.NodeVisible),
		// Give the portal time to round-trip the session cookie.
		chromedp.Sleep(3*time.Second),
	)
	if err != nil {
		session.close()
		return nil, fmt.Errorf("login flow failed: %w", err)
	}
	return session, nil
}

// render navigates to a URL in the authenticated session and returns the
// rendered HTML after scripts have run.
func (s *browserSession) render(ctx context.Context, url string) (string, error) {
	renderCtx, cancel := context.WithTimeout(s.ctx, renderTimeout)
	defer cancel()

	// Stop early if the task context is done; the browser context does
	// not inherit from it.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()

	var html string
	err := chromedp.Run(renderCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(2*time.Second),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("page render failed: %w", err)
	}
	return html, nil
}

func (s *browserSession) close() {
	s.cancel()
}
