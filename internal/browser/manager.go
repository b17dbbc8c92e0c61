// File: internal/browser/manager.go

// Package browser owns the single long-lived Chrome session the agent works
// against and executes the browser action kinds of the action grammar.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/miraiminds/rouh/internal/config"
)

// The logical coordinate space the model sees. Screenshots are downsampled
// to this size and incoming coordinates are rescaled from it to the real
// viewport.
const (
	logicalWidth  = 1200
	logicalHeight = 800
)

// cursorJS keeps a synthetic cursor div on the page so the model can see
// where it is pointing between screenshots.
const cursorJS = `(() => {
	let cursor = document.querySelector('.rouh-cursor');
	if (!cursor) {
		cursor = document.createElement('div');
		cursor.className = 'rouh-cursor';
		cursor.style.cssText = 'width:20px;height:20px;background:rgba(255,0,0,0.5);' +
			'border:2px solid red;border-radius:50%;position:fixed;pointer-events:none;' +
			'z-index:99999;transition:all 0.3s ease;transform:translate(-50%,-50%);';
		document.body.appendChild(cursor);
	}
	return true;
})()`

// Manager handles the browser process lifecycle: one exec allocator, one
// tab, shared by the interactive and scheduled paths. Initialization is
// deferred until the first launch action.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	viewportWidth  int
	viewportHeight int

	mu          sync.Mutex
	initialized bool
}

// NewManager creates a manager; the browser itself starts on first use.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger.Named("browser_manager"),
	}
}

// DefaultAllocatorOptions builds the exec allocator options for the
// configured session.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if hasValue {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}
	return opts
}

// Initialize launches Chrome and measures the real viewport. Safe to call
// repeatedly: a live session is reused, and a session closed by the close
// action can be relaunched.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}

	m.logger.Info("Launching browser...",
		zap.Bool("headless", m.cfg.Headless),
		zap.Int("viewport_width", m.cfg.ViewportWidth),
		zap.Int("viewport_height", m.cfg.ViewportHeight))

	m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(ctx, DefaultAllocatorOptions(m.cfg)...)
	m.tabCtx, m.tabCancel = chromedp.NewContext(m.allocCtx)

	var width, height int
	err := chromedp.Run(m.tabCtx,
		chromedp.EmulateViewport(int64(m.cfg.ViewportWidth), int64(m.cfg.ViewportHeight)),
		chromedp.Navigate("about:blank"),
		chromedp.Evaluate(`window.innerWidth`, &width),
		chromedp.Evaluate(`window.innerHeight`, &height),
	)
	if err != nil {
		m.tabCancel()
		m.allocCancel()
		m.tabCtx, m.allocCtx = nil, nil
		return fmt.Errorf("launching browser: %w", err)
	}

	m.viewportWidth = width
	m.viewportHeight = height
	m.initialized = true
	m.logger.Info("Browser ready",
		zap.Int("measured_width", width),
		zap.Int("measured_height", height))
	return nil
}

// IsInitialized reports whether the browser session is up.
func (m *Manager) IsInitialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// Navigate loads a URL in the session tab under the navigation timeout.
func (m *Manager) Navigate(url string) error {
	navCtx, cancel := context.WithTimeout(m.tabCtx, m.cfg.NavigationTimeout)
	defer cancel()
	return chromedp.Run(navCtx, chromedp.Navigate(url))
}

// Run executes chromedp actions against the session tab under the action
// timeout.
func (m *Manager) Run(actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(m.tabCtx, m.cfg.ActionTimeout)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// EnsureCursor creates the synthetic cursor div if the page lost it.
func (m *Manager) EnsureCursor() error {
	var ok bool
	return m.Run(chromedp.Evaluate(cursorJS, &ok))
}

// MoveCursor repositions the cursor div to a real-viewport coordinate.
func (m *Manager) MoveCursor(x, y int) error {
	js := fmt.Sprintf(`(() => {
		const cursor = document.querySelector('.rouh-cursor');
		if (cursor) { cursor.style.left = '%dpx'; cursor.style.top = '%dpx'; }
		return true;
	})()`, x, y)
	var ok bool
	return m.Run(chromedp.Evaluate(js, &ok))
}

// ConvertCoordinates rescales a point from the logical screenshot space to
// the real viewport.
func (m *Manager) ConvertCoordinates(x, y int) (int, int) {
	return convertCoordinates(x, y, m.viewportWidth, m.viewportHeight)
}

func convertCoordinates(x, y, viewportWidth, viewportHeight int) (int, int) {
	scaleX := float64(viewportWidth) / float64(logicalWidth)
	scaleY := float64(viewportHeight) / float64(logicalHeight)
	return int(float64(x) * scaleX), int(float64(y) * scaleY)
}

// CaptureScreenshot grabs a JPEG of the viewport, downsampled to the
// logical space via a scaled CDP clip so no image library is needed.
func (m *Manager) CaptureScreenshot() ([]byte, error) {
	if m.viewportWidth == 0 {
		return nil, fmt.Errorf("browser session not initialized")
	}

	scale := float64(logicalWidth) / float64(m.viewportWidth)
	var buf []byte
	err := m.Run(chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatJpeg).
			WithQuality(int64(m.cfg.ScreenshotQuality)).
			WithClip(&page.Viewport{
				X:      0,
				Y:      0,
				Width:  float64(m.viewportWidth),
				Height: float64(m.viewportHeight),
				Scale:  scale,
			}).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}
	return buf, nil
}

// Sleep pauses against the session tab so cancellation still applies.
func (m *Manager) Sleep(d time.Duration) {
	select {
	case <-m.tabCtx.Done():
	case <-time.After(d):
	}
}

// Close tears the session down. Safe on an uninitialized manager; a later
// Initialize starts a fresh session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tabCancel != nil {
		m.tabCancel()
	}
	if m.allocCancel != nil {
		m.allocCancel()
	}
	m.tabCtx, m.allocCtx = nil, nil
	m.initialized = false
	m.logger.Info("Browser session closed")
}
