package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/sirupsen/logrus"

	"github.com/inboxhunter/signup-agent/internal/config"
	"github.com/inboxhunter/signup-agent/internal/models"
)

// BrowserService owns the Chrome allocator shared by all sessions
type BrowserService struct {
	cfg      config.BrowserConfig
	headless bool
	logger   *logrus.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu       sync.Mutex
	sessions int
	closed   bool
}

// NewBrowserService creates a new browser service
func NewBrowserService(cfg config.BrowserConfig, headless bool, logger *logrus.Logger) BrowserServiceInterface {
	return &BrowserService{
		cfg:      cfg,
		headless: headless,
		logger:   logger,
	}
}

// Start builds the exec allocator used to launch Chrome
func (s *BrowserService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.allocCtx != nil {
		return nil
	}

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-ipc-flooding-protection", true),
		chromedp.WindowSize(s.cfg.WindowWidth, s.cfg.WindowHeight),
		chromedp.UserAgent(s.cfg.UserAgent),
	}
	if s.headless {
		opts = append(opts, chromedp.Headless)
	}

	s.allocCtx, s.allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	s.logger.WithField("headless", s.headless).Info("Browser service started")
	return nil
}

// NewSession launches a fresh Chrome instance so cookies and storage never
// leak between URLs.
func (s *BrowserService) NewSession(ctx context.Context) (PageSession, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("browser service is closed")
	}
	if s.allocCtx == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("browser service not started")
	}
	s.sessions++
	id := fmt.Sprintf("session-%d", s.sessions)
	s.mu.Unlock()

	tabCtx, cancel := chromedp.NewContext(s.allocCtx)

	sess := &chromeSession{
		id:         id,
		ctx:        tabCtx,
		cancel:     cancel,
		navTimeout: s.cfg.NavigationTimeout,
		logger:     s.logger,
		inflight:   make(map[network.RequestID]string),
	}
	chromedp.ListenTarget(tabCtx, sess.onNetworkEvent)

	// Starting the process, enabling network events and installing the
	// stealth script has to happen before the first navigation.
	initCtx, initCancel := context.WithTimeout(tabCtx, 30*time.Second)
	defer initCancel()

	err := chromedp.Run(initCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
		chromedp.Navigate("about:blank"),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("browser health check failed: %w", err)
	}

	s.logger.WithField("session_id", id).Debug("Browser session created")
	return sess, nil
}

// Health returns browser service health status
func (s *BrowserService) Health() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := "healthy"
	if s.closed || s.allocCtx == nil {
		status = "stopped"
	}
	return map[string]interface{}{
		"status":          status,
		"sessions_opened": s.sessions,
		"headless":        s.headless,
		"window_width":    s.cfg.WindowWidth,
		"window_height":   s.cfg.WindowHeight,
	}
}

// Close shuts down the allocator and every Chrome it spawned
func (s *BrowserService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.allocCancel != nil {
		s.allocCancel()
	}
	s.logger.Info("Browser service closed")
	return nil
}

// chromeSession implements PageSession over one Chrome instance
type chromeSession struct {
	id         string
	ctx        context.Context
	cancel     context.CancelFunc
	navTimeout time.Duration
	logger     *logrus.Logger

	netMu     sync.Mutex
	inflight  map[network.RequestID]string
	pending   int
	responses []models.NetworkEvent
}

// onNetworkEvent tracks in-flight requests and records write responses
func (c *chromeSession) onNetworkEvent(ev interface{}) {
	switch ev := ev.(type) {
	case *network.EventRequestWillBeSent:
		if ev.Type == network.ResourceTypeWebSocket || ev.Type == network.ResourceTypeEventSource {
			return
		}
		c.netMu.Lock()
		if _, seen := c.inflight[ev.RequestID]; !seen {
			c.pending++
		}
		c.inflight[ev.RequestID] = ev.Request.Method
		c.netMu.Unlock()

	case *network.EventResponseReceived:
		c.netMu.Lock()
		method, ok := c.inflight[ev.RequestID]
		if ok && (method == "POST" || method == "PUT") {
			c.responses = append(c.responses, models.NetworkEvent{
				Method: method,
				URL:    ev.Response.URL,
				Status: ev.Response.Status,
			})
		}
		c.netMu.Unlock()

	case *network.EventLoadingFinished:
		c.finishRequest(ev.RequestID)

	case *network.EventLoadingFailed:
		c.finishRequest(ev.RequestID)
	}
}

func (c *chromeSession) finishRequest(id network.RequestID) {
	c.netMu.Lock()
	if _, ok := c.inflight[id]; ok {
		delete(c.inflight, id)
		if c.pending > 0 {
			c.pending--
		}
	}
	c.netMu.Unlock()
}

// Navigate loads a URL, mapping Chrome net errors to failure reasons
func (c *chromeSession) Navigate(ctx context.Context, url string) (*models.NavigationResult, error) {
	bound, unbind := c.bind(ctx)
	defer unbind()
	navCtx, cancel := context.WithTimeout(bound, c.navTimeout)
	defer cancel()

	err := chromedp.Run(navCtx, chromedp.Navigate(url))
	if err == nil {
		return &models.NavigationResult{OK: true}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	reason := categorizeNavError(err)
	c.logger.WithFields(logrus.Fields{
		"url":    url,
		"reason": reason,
	}).WithError(err).Warn("Navigation failed")
	return &models.NavigationResult{OK: false, FailureReason: reason}, nil
}

func categorizeNavError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ERR_NAME_NOT_RESOLVED"), strings.Contains(msg, "ERR_NAME_RESOLUTION_FAILED"):
		return "dns"
	case strings.Contains(msg, "ERR_CERT_"), strings.Contains(msg, "ERR_SSL_"):
		return "ssl"
	case strings.Contains(msg, "ERR_CONNECTION_REFUSED"):
		return "refused"
	case strings.Contains(msg, "ERR_CONNECTION_RESET"), strings.Contains(msg, "ERR_CONNECTION_CLOSED"):
		return "reset"
	case strings.Contains(msg, "ERR_CONNECTION_TIMED_OUT"), strings.Contains(msg, "ERR_TIMED_OUT"),
		strings.Contains(msg, "context deadline exceeded"):
		return "timeout"
	case strings.Contains(msg, "ERR_TOO_MANY_REDIRECTS"):
		return "too_many_redirects"
	case strings.Contains(msg, "ERR_EMPTY_RESPONSE"):
		return "empty_response"
	case strings.Contains(msg, "ERR_ABORTED"):
		return "aborted"
	default:
		return "unknown"
	}
}

// bind ties a caller context to the session's chromedp context so both
// cancellation paths are honoured.
func (c *chromeSession) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(c.ctx)
	stop := context.AfterFunc(ctx, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

// CurrentURL returns the page's current location
func (c *chromeSession) CurrentURL(ctx context.Context) (string, error) {
	bound, cancel := c.bind(ctx)
	defer cancel()

	var url string
	err := chromedp.Run(bound, chromedp.Location(&url))
	return url, err
}

// Title returns the document title
func (c *chromeSession) Title(ctx context.Context) (string, error) {
	bound, cancel := c.bind(ctx)
	defer cancel()

	var title string
	err := chromedp.Run(bound, chromedp.Title(&title))
	return title, err
}

// HTML returns the full serialised DOM
func (c *chromeSession) HTML(ctx context.Context) (string, error) {
	bound, cancel := c.bind(ctx)
	defer cancel()

	var html string
	err := chromedp.Run(bound, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

// Evaluate runs JavaScript in the page. A nil out discards the result.
func (c *chromeSession) Evaluate(ctx context.Context, script string, out interface{}) error {
	bound, cancel := c.bind(ctx)
	defer cancel()
	return chromedp.Run(bound, chromedp.Evaluate(script, out))
}

// Click clicks an element by CSS selector
func (c *chromeSession) Click(ctx context.Context, selector string) error {
	bound, cancel := c.bind(ctx)
	defer cancel()
	return chromedp.Run(bound, chromedp.Click(selector, chromedp.ByQuery))
}

// ClickByText clicks the first clickable element containing the text
func (c *chromeSession) ClickByText(ctx context.Context, text string) error {
	bound, cancel := c.bind(ctx)
	defer cancel()

	xpath := fmt.Sprintf(
		"//*[self::button or self::a or @role='button' or @type='submit'][contains(normalize-space(.), %s)]",
		xpathQuote(text))
	return chromedp.Run(bound, chromedp.Click(xpath, chromedp.BySearch))
}

// JSClick clicks via JavaScript, reaching elements chromedp considers covered
func (c *chromeSession) JSClick(ctx context.Context, selector string) error {
	script := fmt.Sprintf(
		"(function(){var el=document.querySelector(%s); if(!el){return false;} el.click(); return true;})()",
		jsString(selector))
	var clicked bool
	if err := c.Evaluate(ctx, script, &clicked); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("element not found: %s", selector)
	}
	return nil
}

// MouseClickXY dispatches a raw click at viewport coordinates
func (c *chromeSession) MouseClickXY(ctx context.Context, x, y float64) error {
	bound, cancel := c.bind(ctx)
	defer cancel()
	return chromedp.Run(bound, chromedp.MouseClickXY(x, y))
}

// SendKeys focuses a field, clears it and types the value key by key
func (c *chromeSession) SendKeys(ctx context.Context, selector, value string) error {
	bound, cancel := c.bind(ctx)
	defer cancel()
	return chromedp.Run(bound,
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

// SetValueJS sets a field value via JavaScript and fires the events
// frameworks listen for.
func (c *chromeSession) SetValueJS(ctx context.Context, selector, value string) error {
	script := fmt.Sprintf(`(function(){
		var el = document.querySelector(%s);
		if (!el) { return false; }
		var setter = Object.getOwnPropertyDescriptor(window.HTMLInputElement.prototype, 'value');
		if (setter && setter.set && el instanceof HTMLInputElement) {
			setter.set.call(el, %s);
		} else {
			el.value = %s;
		}
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})()`, jsString(selector), jsString(value), jsString(value))

	var ok bool
	if err := c.Evaluate(ctx, script, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("element not found: %s", selector)
	}
	return nil
}

// FieldValue reads a field's current value
func (c *chromeSession) FieldValue(ctx context.Context, selector string) (string, error) {
	bound, cancel := c.bind(ctx)
	defer cancel()

	var value string
	err := chromedp.Run(bound, chromedp.Value(selector, &value, chromedp.ByQuery))
	return value, err
}

// PressEscape sends the Escape key to the page
func (c *chromeSession) PressEscape(ctx context.Context) error {
	bound, cancel := c.bind(ctx)
	defer cancel()
	return chromedp.Run(bound, chromedp.KeyEvent(kb.Escape))
}

// ScrollBy scrolls the viewport vertically
func (c *chromeSession) ScrollBy(ctx context.Context, pixels float64) error {
	return c.Evaluate(ctx, fmt.Sprintf("window.scrollBy(0, %f); true", pixels), nil)
}

// Screenshot captures the full page as JPEG
func (c *chromeSession) Screenshot(ctx context.Context) ([]byte, error) {
	bound, cancel := c.bind(ctx)
	defer cancel()

	var buf []byte
	err := chromedp.Run(bound, chromedp.FullScreenshot(&buf, 80))
	return buf, err
}

// WaitVisible waits for a selector to become visible
func (c *chromeSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	bound, unbind := c.bind(ctx)
	defer unbind()
	waitCtx, cancel := context.WithTimeout(bound, timeout)
	defer cancel()
	return chromedp.Run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// WaitNetworkIdle waits until no tracked requests are in flight for quiet,
// giving up after max.
func (c *chromeSession) WaitNetworkIdle(ctx context.Context, quiet, max time.Duration) error {
	deadline := time.Now().Add(max)
	idleSince := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return c.ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}

		c.netMu.Lock()
		pending := c.pending
		c.netMu.Unlock()

		if pending == 0 {
			if idleSince.IsZero() {
				idleSince = time.Now()
			}
			if time.Since(idleSince) >= quiet {
				return nil
			}
		} else {
			idleSince = time.Time{}
		}

		if time.Now().After(deadline) {
			return nil
		}
	}
}

// NetworkLog returns write responses observed since the last clear
func (c *chromeSession) NetworkLog() []models.NetworkEvent {
	c.netMu.Lock()
	defer c.netMu.Unlock()

	out := make([]models.NetworkEvent, len(c.responses))
	copy(out, c.responses)
	return out
}

// ClearNetworkLog resets the response log
func (c *chromeSession) ClearNetworkLog() {
	c.netMu.Lock()
	c.responses = nil
	c.netMu.Unlock()
}

// Close releases the tab and its Chrome instance
func (c *chromeSession) Close() error {
	c.cancel()
	return nil
}

// jsString encodes a Go string as a JavaScript string literal
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// xpathQuote builds an XPath string literal, concat-splitting when the text
// mixes quote characters.
func xpathQuote(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if p != "" {
			quoted = append(quoted, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

// stealthScript hides the most common headless automation tells before any
// page script runs.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: function() { return undefined; } });
Object.defineProperty(navigator, 'languages', { get: function() { return ['en-US', 'en']; } });
Object.defineProperty(navigator, 'plugins', { get: function() { return [1, 2, 3, 4, 5]; } });
window.chrome = window.chrome || { runtime: {} };
`
