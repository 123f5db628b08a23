package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/batchpilot/internal/config"
)

const quitTimeout = 15 * time.Second

// Driver is the browser capability a batch session exposes to step code.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Text(ctx context.Context, selector string) (string, error)
	Title(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	ClearState(ctx context.Context) error
	State(ctx context.Context) (StorageState, error)
	Quit(ctx context.Context) error
}

// StorageState is a snapshot of the client-side state of the browser.
type StorageState struct {
	Cookies        []*network.Cookie `json:"cookies"`
	LocalStorage   map[string]string `json:"local_storage"`
	SessionStorage map[string]string `json:"session_storage"`
}

// Empty reports whether no cookies or storage entries remain.
func (s StorageState) Empty() bool {
	return len(s.Cookies) == 0 && len(s.LocalStorage) == 0 && len(s.SessionStorage) == 0
}

const clearStorageJS = `(function() {
	try { if (window.localStorage) { localStorage.clear(); } } catch (e) {}
	try { if (window.sessionStorage) { sessionStorage.clear(); } } catch (e) {}
	return true;
})()`

const readStorageJS = `(function() {
	const result = { localStorage: {}, sessionStorage: {} };
	try { if (window.localStorage) { Object.assign(result.localStorage, localStorage); } } catch (e) {}
	try { if (window.sessionStorage) { Object.assign(result.sessionStorage, sessionStorage); } } catch (e) {}
	return result;
})()`

// ChromeDriver drives one Chrome instance through the DevTools protocol.
type ChromeDriver struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewChromeDriver launches a browser. The browser outlives ctx's cancellation and is
// released only by Quit.
func NewChromeDriver(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*ChromeDriver, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(valueOnlyContext{ctx}, DefaultAllocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Sugar().Debugf),
		chromedp.WithErrorf(logger.Sugar().Errorf),
	)

	d := &ChromeDriver{
		cfg:           cfg,
		logger:        logger.Named("chrome"),
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}

	// The first Run starts the browser process; it must not carry a deadline.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	if ctx.Err() != nil {
		_ = d.Quit(context.Background())
		return nil, fmt.Errorf("context cancelled while starting browser: %w", ctx.Err())
	}

	d.logger.Info("Browser started", zap.Bool("headless", cfg.Headless))
	return d, nil
}

// run executes actions on the tab with a per-call timeout, also honoring ctx.
func (d *ChromeDriver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("browser has been closed")
	}
	d.mu.Unlock()

	runCtx, cancel := context.WithTimeout(d.browserCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	d.logger.Debug("Navigating to URL.", zap.String("url", url))
	tasks := chromedp.Tasks{
		chromedp.ActionFunc(func(c context.Context) error {
			if d.cfg.DisableCache {
				if err := network.SetCacheDisabled(true).Do(c); err != nil {
					d.logger.Warn("Failed to disable browser cache", zap.Error(err))
				}
			}
			return nil
		}),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if err := d.run(ctx, d.cfg.PageLoadTimeout, tasks); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (d *ChromeDriver) Click(ctx context.Context, selector string) error {
	err := d.run(ctx, d.cfg.ElementWaitTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("click on %q failed: %w", selector, err)
	}
	return nil
}

func (d *ChromeDriver) Type(ctx context.Context, selector, text string) error {
	err := d.run(ctx, d.cfg.ElementWaitTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("typing into %q failed: %w", selector, err)
	}
	return nil
}

func (d *ChromeDriver) Text(ctx context.Context, selector string) (string, error) {
	var text string
	if err := d.run(ctx, d.cfg.ElementWaitTimeout, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("reading text of %q failed: %w", selector, err)
	}
	return strings.TrimSpace(text), nil
}

func (d *ChromeDriver) Title(ctx context.Context) (string, error) {
	var title string
	if err := d.run(ctx, d.cfg.ElementWaitTimeout, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("reading page title failed: %w", err)
	}
	return title, nil
}

func (d *ChromeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, d.cfg.ElementWaitTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

// ClearState deletes every cookie and empties local and session storage of the current page.
func (d *ChromeDriver) ClearState(ctx context.Context) error {
	var ok bool
	err := d.run(ctx, d.cfg.ElementWaitTimeout,
		network.ClearBrowserCookies(),
		chromedp.Evaluate(clearStorageJS, &ok),
	)
	if err != nil {
		return fmt.Errorf("clearing browser state failed: %w", err)
	}
	return nil
}

func (d *ChromeDriver) State(ctx context.Context) (StorageState, error) {
	state := StorageState{
		LocalStorage:   make(map[string]string),
		SessionStorage: make(map[string]string),
	}
	var jsStorage struct {
		LocalStorage   map[string]string `json:"localStorage"`
		SessionStorage map[string]string `json:"sessionStorage"`
	}
	err := d.run(ctx, d.cfg.ElementWaitTimeout,
		chromedp.ActionFunc(func(c context.Context) (err error) {
			state.Cookies, err = storage.GetCookies().Do(c)
			return err
		}),
		chromedp.Evaluate(readStorageJS, &jsStorage),
	)
	if err != nil {
		return state, fmt.Errorf("reading browser state failed: %w", err)
	}
	if jsStorage.LocalStorage != nil {
		state.LocalStorage = jsStorage.LocalStorage
	}
	if jsStorage.SessionStorage != nil {
		state.SessionStorage = jsStorage.SessionStorage
	}
	return state, nil
}

// Quit closes the browser gracefully, then releases the allocator. It is safe to call twice.
func (d *ChromeDriver) Quit(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	defer d.allocCancel()
	defer d.browserCancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(d.browserCtx) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to close browser: %w", err)
		}
		d.logger.Debug("Browser closed.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while closing browser: %w", ctx.Err())
	case <-time.After(quitTimeout):
		return fmt.Errorf("timeout waiting for browser to close")
	}
}
