package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const enableSessionDebugLogs = false

// sessionState tracks the controller lifecycle. Every exit path lands in
// stateClosed via close(); stateError is terminal for everything else.
type sessionState int

const (
	stateUninitialized sessionState = iota
	stateConnecting
	stateAuthenticating
	stateReady
	stateClosed
	stateError
)

const (
	readyPollAttempts = 10
	readyPollDelay    = time.Second
	loginAttempts     = 2
)

// maskWebdriverScript hides the most common automation marker before any
// page script runs. Best-effort evasion only; the target is free to detect
// us anyway.
const maskWebdriverScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

// scrollScript advances the donation table's scrollable container to its
// maximum extent, falling back through candidate containers and finally the
// whole page.
const scrollScript = `(() => {
	const candidates = [
		"div[data-sentry-component='GuildDonationsList']",
		"div[data-sentry-component='VirtualizedDataTable']",
		".table-container",
		"div[class*='virtual']",
	];
	for (const sel of candidates) {
		const el = document.querySelector(sel);
		if (el) {
			el.scrollTop = el.scrollHeight;
			return sel;
		}
	}
	window.scrollTo(0, document.body.scrollHeight);
	return "window";
})()`

// sessionCookie mirrors the browser-export JSON format the cookie payload
// uses (same shape the original cookies.json side-channel file carries).
type sessionCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expiry   float64 `json:"expiry"`
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"httpOnly"`
}

// browserSession owns one headless-browser connection. At most one is alive
// per process; the pipeline serializes runs behind scrapeMutex.
type browserSession struct {
	cfg   Config
	state sessionState

	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
	ctx           context.Context
}

// openSession establishes a browser session: a remote connection when
// BROWSER_WS_ENDPOINT is configured, a local headless Chrome otherwise.
// The returned session must be closed by the caller on every path.
func openSession(parent context.Context, cfg Config) (*browserSession, error) {
	s := &browserSession{cfg: cfg, state: stateConnecting}

	var allocCtx context.Context
	if cfg.BrowserWSEndpoint != "" {
		wsURL, err := remoteDebuggerURL(cfg.BrowserWSEndpoint, cfg.BrowserToken)
		if err != nil {
			s.state = stateError
			return nil, fmt.Errorf("invalid browser endpoint: %w", err)
		}
		log.Printf("[I] [Session] Connecting to remote browser at %s", cfg.BrowserWSEndpoint)
		allocCtx, s.allocCancel = chromedp.NewRemoteAllocator(parent, wsURL)
	} else {
		log.Println("[I] [Session] Launching local headless browser...")
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-extensions", true),
			chromedp.Flag("ignore-certificate-errors", true),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.WindowSize(1920, 1080),
		)
		if cfg.ProxyURL != "" {
			opts = append(opts, chromedp.ProxyServer(cfg.ProxyURL))
		}
		allocCtx, s.allocCancel = chromedp.NewExecAllocator(parent, opts...)
	}

	s.ctx, s.browserCancel = chromedp.NewContext(allocCtx)

	// First Run starts (or attaches to) the browser; mask the automation
	// marker before any target page script can look for it.
	startCtx, cancel := context.WithTimeout(s.ctx, cfg.PageLoadTimeout)
	defer cancel()
	err := chromedp.Run(startCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(maskWebdriverScript).Do(ctx)
			return err
		}),
	)
	if err != nil {
		s.state = stateError
		s.close()
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	return s, nil
}

// remoteDebuggerURL builds the websocket URL for a remote browser endpoint,
// appending the access token as a query parameter.
func remoteDebuggerURL(endpoint, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// authenticate applies the configured strategy: cookie injection when a
// cookie payload exists, scripted login when credentials exist, otherwise
// nothing. Returns false on failure; the pipeline proceeds unauthenticated
// and treats an empty or login-redirected result as "no data this run".
func (s *browserSession) authenticate(targetURL string) bool {
	s.state = stateAuthenticating
	defer func() {
		if s.state == stateAuthenticating {
			s.state = stateReady
		}
	}()

	if cookies := s.loadCookiePayload(); cookies != nil {
		return s.injectCookies(targetURL, cookies)
	}
	if s.cfg.SiteUsername != "" && s.cfg.SitePassword != "" {
		return s.scriptedLogin(targetURL)
	}
	log.Println("[W] [Session] No cookies or credentials configured; scraping unauthenticated.")
	return false
}

// loadCookiePayload reads the cookie set from the inline env payload first,
// then the side-channel file.
func (s *browserSession) loadCookiePayload() []sessionCookie {
	var data []byte
	switch {
	case s.cfg.CookiesJSON != "":
		data = []byte(s.cfg.CookiesJSON)
	case s.cfg.CookiesFile != "":
		fileData, err := os.ReadFile(s.cfg.CookiesFile)
		if err != nil {
			if !os.IsNotExist(err) {
				log.Printf("[W] [Session] Could not read cookies file %s: %v", s.cfg.CookiesFile, err)
			}
			return nil
		}
		data = fileData
	default:
		return nil
	}

	var cookies []sessionCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		log.Printf("[W] [Session] Cookie payload is not valid JSON: %v", err)
		return nil
	}
	return cookies
}

// injectCookies visits the target origin, clears whatever cookies the
// browser holds, and sets the payload cookies whose domain matches the
// target host. Mismatched-domain cookies are skipped, not fatal.
func (s *browserSession) injectCookies(targetURL string, cookies []sessionCookie) bool {
	origin, host, err := originOf(targetURL)
	if err != nil {
		log.Printf("[W] [Session] Cannot derive origin from %s: %v", targetURL, err)
		return false
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.PageLoadTimeout)
	defer cancel()

	added := 0
	err = chromedp.Run(ctx,
		chromedp.Navigate(origin),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := network.ClearBrowserCookies().Do(ctx); err != nil {
				return err
			}
			for _, c := range cookies {
				domain := strings.TrimPrefix(c.Domain, ".")
				if domain == "" {
					domain = host
				}
				if !strings.Contains(host, domain) && !strings.Contains(domain, host) {
					continue
				}
				setter := network.SetCookie(c.Name, c.Value).
					WithDomain(domain).
					WithPath(pathOr(c.Path)).
					WithSecure(c.Secure).
					WithHTTPOnly(c.HTTPOnly)
				if c.Expiry > 0 {
					expiry := cdp.TimeSinceEpoch(time.Unix(int64(c.Expiry), 0))
					setter = setter.WithExpires(&expiry)
				}
				if err := setter.Do(ctx); err != nil {
					log.Printf("[W] [Session] Failed to set cookie %s: %v", c.Name, err)
					continue
				}
				added++
			}
			return nil
		}),
	)
	if err != nil {
		log.Printf("[W] [Session] Cookie injection failed: %v", err)
		return false
	}

	log.Printf("[I] [Session] Injected %d session cookies.", added)
	return added > 0
}

// loginEntrySelectors and the form selectors below are fallback chains; the
// target markup is not contractually stable.
var loginEntrySelectors = []string{
	"button[data-sentry-component='SignInButton']",
	"a[href*='signin']",
	"a[href*='login']",
	"button[aria-label='signin']",
}

var loginFieldSelectors = [][2]string{
	{"input[name='login']", "input[name='password']"},
	{"input[type='email']", "input[type='password']"},
	{"input[name='username']", "input[name='password']"},
}

// scriptedLogin drives the interactive login form with the configured
// credentials. Success is verified via the post-submit URL; every branch
// terminates (success or soft failure), nothing retries forever.
func (s *browserSession) scriptedLogin(targetURL string) bool {
	origin, _, err := originOf(targetURL)
	if err != nil {
		log.Printf("[W] [Session] Cannot derive origin from %s: %v", targetURL, err)
		return false
	}

	for attempt := 1; attempt <= loginAttempts; attempt++ {
		if s.tryLoginOnce(origin) {
			log.Println("[I] [Session] Scripted login succeeded.")
			return true
		}
		log.Printf("[W] [Session] Login attempt %d/%d failed.", attempt, loginAttempts)
	}
	return false
}

func (s *browserSession) tryLoginOnce(origin string) bool {
	ctx, cancel := context.WithTimeout(s.ctx, 2*s.cfg.PageLoadTimeout)
	defer cancel()

	if err := chromedp.Run(ctx, chromedp.Navigate(origin)); err != nil {
		log.Printf("[W] [Session] Could not open %s for login: %v", origin, err)
		return false
	}

	if !s.clickFirstVisible(ctx, loginEntrySelectors) {
		log.Println("[W] [Session] No login entry control matched any candidate selector.")
		return false
	}

	for _, fields := range loginFieldSelectors {
		userSel, passSel := fields[0], fields[1]
		stepCtx, stepCancel := context.WithTimeout(ctx, 10*time.Second)
		err := chromedp.Run(stepCtx,
			chromedp.WaitVisible(userSel, chromedp.ByQuery),
			chromedp.SendKeys(userSel, s.cfg.SiteUsername, chromedp.ByQuery),
			chromedp.SendKeys(passSel, s.cfg.SitePassword, chromedp.ByQuery),
			chromedp.Click("button[type='submit']", chromedp.ByQuery),
		)
		stepCancel()
		if err != nil {
			if enableSessionDebugLogs {
				log.Printf("[D] [Session] Login form candidate %s did not work: %v", userSel, err)
			}
			continue
		}

		// Give the redirect a moment, then check where we landed.
		time.Sleep(2 * time.Second)
		var current string
		if err := chromedp.Run(ctx, chromedp.Location(&current)); err != nil {
			return false
		}
		if isLoginURL(current) {
			return false
		}
		return true
	}
	return false
}

// clickFirstVisible walks a selector fallback chain and clicks the first
// control that exists and is visible within a short budget.
func (s *browserSession) clickFirstVisible(ctx context.Context, selectors []string) bool {
	for _, sel := range selectors {
		stepCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := chromedp.Run(stepCtx,
			chromedp.WaitVisible(sel, chromedp.ByQuery),
			chromedp.Click(sel, chromedp.ByQuery),
		)
		cancel()
		if err == nil {
			if enableSessionDebugLogs {
				log.Printf("[D] [Session] Clicked control: %s", sel)
			}
			return true
		}
	}
	return false
}

// navigateAndWaitReady opens the donation page and polls for a table-root
// marker. A timeout returns false rather than an error so the caller can
// still attempt a best-effort extraction pass.
func (s *browserSession) navigateAndWaitReady(targetURL string) bool {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.PageLoadTimeout)
	err := chromedp.Run(ctx, chromedp.Navigate(targetURL))
	cancel()
	if err != nil {
		log.Printf("[W] [Session] Navigation to %s failed: %v", targetURL, err)
		return false
	}

	var current string
	if err := chromedp.Run(s.ctx, chromedp.Location(&current)); err == nil && isLoginURL(current) {
		log.Printf("[W] [Session] Redirected to login page (%s); session cookies are likely stale.", current)
		return false
	}

	for attempt := 0; attempt < readyPollAttempts; attempt++ {
		for _, sel := range tableSelectors {
			var present bool
			expr := fmt.Sprintf("document.querySelector(%q) !== null", sel)
			pollCtx, pollCancel := context.WithTimeout(s.ctx, 5*time.Second)
			err := chromedp.Run(pollCtx, chromedp.Evaluate(expr, &present))
			pollCancel()
			if err == nil && present {
				s.state = stateReady
				if enableSessionDebugLogs {
					log.Printf("[D] [Session] Table root present (selector: %s).", sel)
				}
				return true
			}
		}
		time.Sleep(readyPollDelay)
	}

	log.Println("[W] [Session] Table root never appeared; proceeding best-effort.")
	return false
}

// CaptureHTML snapshots the full rendered markup. It runs on the session's
// own chromedp context (which carries the browser target), so the caller's
// context is unused here.
func (s *browserSession) CaptureHTML(_ context.Context) (string, error) {
	runCtx, cancel := context.WithTimeout(s.ctx, s.cfg.PageLoadTimeout)
	defer cancel()

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to capture page markup: %w", err)
	}
	return html, nil
}

// ScrollToBottom advances the virtualized table so further rows render.
func (s *browserSession) ScrollToBottom(_ context.Context) error {
	runCtx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	var scrolled string
	if err := chromedp.Run(runCtx, chromedp.Evaluate(scrollScript, &scrolled)); err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}
	if enableSessionDebugLogs {
		log.Printf("[D] [Session] Scrolled container: %s", scrolled)
	}
	return nil
}

// close releases the browser process/connection. Safe to call repeatedly
// and on partially-opened sessions.
func (s *browserSession) close() {
	if s.state == stateClosed {
		return
	}
	if s.browserCancel != nil {
		s.browserCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	s.state = stateClosed
}

func pathOr(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

func isLoginURL(u string) bool {
	return strings.Contains(u, "login") || strings.Contains(u, "signin")
}

func originOf(rawURL string) (origin, host string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("url %q has no scheme or host", rawURL)
	}
	return u.Scheme + "://" + u.Host, u.Hostname(), nil
}
