// File: internal/browser/executor.go
package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/miraiminds/rouh/internal/dispatch"
	"github.com/miraiminds/rouh/internal/parser"
)

// scrollStep is the wheel delta of one scroll action, in CSS pixels.
const scrollStep = 600

// Broadcaster mirrors screenshots to connected UI clients. Broadcast is
// best-effort; the executor never waits on it.
type Broadcaster interface {
	BroadcastScreenshot(b64 string)
}

// Executor maps parsed browser actions onto the live session. After every
// action except close it captures a downsampled screenshot: the only channel
// through which the model sees the page.
type Executor struct {
	mgr         *Manager
	logger      *zap.Logger
	broadcaster Broadcaster
}

// NewExecutor builds an executor over the shared session. broadcaster may
// be nil.
func NewExecutor(mgr *Manager, broadcaster Broadcaster, logger *zap.Logger) *Executor {
	return &Executor{
		mgr:         mgr,
		logger:      logger.Named("browser_executor"),
		broadcaster: broadcaster,
	}
}

// Execute performs one browser action and returns its observation. Action
// failures are reported in the result; the error return is reserved for a
// session that cannot serve actions at all.
func (e *Executor) Execute(ctx context.Context, action *parser.BrowserAction) (*dispatch.ActionResult, error) {
	e.logger.Info("Executing browser action", zap.String("kind", action.Kind))

	if action.Kind == "launch" {
		if err := e.mgr.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("browser session unavailable: %w", err)
		}
	} else if !e.mgr.IsInitialized() {
		return &dispatch.ActionResult{
			Success: false,
			Message: "No page is open. Use the launch action first.",
		}, nil
	}

	result := &dispatch.ActionResult{Success: true}

	switch action.Kind {
	case "launch":
		if err := e.mgr.Navigate(action.URL); err != nil {
			e.logger.Warn("Navigation failed", zap.String("url", action.URL), zap.Error(err))
			result.Success = false
			result.Message = "Failed to navigate to the URL"
			return result, nil
		}
		result.Message = fmt.Sprintf("Launched browser at: %s", action.URL)
		e.mgr.Sleep(2 * time.Second)

	case "click":
		if action.Coordinate == nil {
			return &dispatch.ActionResult{Success: false, Message: "click requires a <coordinate>"}, nil
		}
		x, y := e.mgr.ConvertCoordinates(action.Coordinate.X, action.Coordinate.Y)
		e.placeCursor(x, y)
		if err := e.mgr.Run(chromedp.MouseClickXY(float64(x), float64(y))); err != nil {
			result.Success = false
			result.Message = fmt.Sprintf("Click failed: %s", err)
			break
		}
		// A click may start a navigation; give the page a bounded chance to
		// settle, and treat a timeout as "no navigation occurred".
		e.waitForQuiet(5 * time.Second)
		result.Message = fmt.Sprintf("Clicked at coordinates: (%d, %d)", action.Coordinate.X, action.Coordinate.Y)

	case "move":
		if action.Coordinate == nil {
			return &dispatch.ActionResult{Success: false, Message: "move requires a <coordinate>"}, nil
		}
		x, y := e.mgr.ConvertCoordinates(action.Coordinate.X, action.Coordinate.Y)
		e.placeCursor(x, y)
		if err := e.mgr.Run(chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseMoved, float64(x), float64(y)).Do(ctx)
		})); err != nil {
			result.Success = false
			result.Message = fmt.Sprintf("Move failed: %s", err)
			break
		}
		result.Message = fmt.Sprintf("Moved cursor to coordinates: (%d, %d)", action.Coordinate.X, action.Coordinate.Y)

	case "type":
		if err := e.mgr.Run(chromedp.ActionFunc(func(ctx context.Context) error {
			return input.InsertText(action.Text).Do(ctx)
		})); err != nil {
			result.Success = false
			result.Message = fmt.Sprintf("Typing failed: %s", err)
			break
		}
		result.Message = fmt.Sprintf("Typed text: %s", action.Text)

	case "scroll_down":
		result.Message = e.scroll(scrollStep, "Scrolled down", "Reached bottom of page")

	case "scroll_up":
		result.Message = e.scroll(-scrollStep, "Scrolled up", "Reached top of page")

	case "wait":
		e.mgr.Sleep(2 * time.Second)
		result.Message = "Waited for page to load"

	case "close":
		// The observation carries no screenshot; there is nothing left to see.
		e.mgr.Close()
		result.Message = "Browser closed"
		return result, nil

	default:
		return &dispatch.ActionResult{
			Success: false,
			Message: fmt.Sprintf("Unknown browser action: %s", action.Kind),
		}, nil
	}

	e.attachScreenshot(result)
	return result, nil
}

// scroll moves the page by delta if there is room and reports which message
// applies.
func (e *Executor) scroll(delta int, movedMsg, limitMsg string) string {
	var info struct {
		ScrollTop      int `json:"scrollTop"`
		ScrollHeight   int `json:"scrollHeight"`
		ViewportHeight int `json:"viewportHeight"`
	}
	err := e.mgr.Run(chromedp.Evaluate(`({
		scrollTop: window.pageYOffset || document.documentElement.scrollTop,
		scrollHeight: Math.max(document.body.scrollHeight, document.documentElement.scrollHeight),
		viewportHeight: window.innerHeight,
	})`, &info))
	if err != nil {
		return limitMsg
	}

	if delta > 0 && info.ScrollTop+info.ViewportHeight >= info.ScrollHeight {
		return limitMsg
	}
	if delta < 0 && info.ScrollTop <= 0 {
		return limitMsg
	}

	var ok bool
	if err := e.mgr.Run(chromedp.Evaluate(fmt.Sprintf(`(window.scrollBy(0, %d), true)`, delta), &ok)); err != nil {
		e.logger.Warn("Scroll failed", zap.Error(err))
		return limitMsg
	}
	return movedMsg
}

// placeCursor ensures the synthetic cursor exists and moves it. Cursor
// bookkeeping must never fail an action.
func (e *Executor) placeCursor(x, y int) {
	if err := e.mgr.EnsureCursor(); err != nil {
		e.logger.Debug("Could not ensure cursor", zap.Error(err))
		return
	}
	if err := e.mgr.MoveCursor(x, y); err != nil {
		e.logger.Debug("Could not move cursor", zap.Error(err))
	}
}

// waitForQuiet waits up to d for the document to report complete; a timeout
// is not an error.
func (e *Executor) waitForQuiet(d time.Duration) {
	waitCtx, cancel := context.WithTimeout(e.mgr.tabCtx, d)
	defer cancel()
	_ = chromedp.Run(waitCtx, chromedp.Poll(`document.readyState === "complete"`, nil))
}

// attachScreenshot captures the post-action frame, attaches it to the
// result, and mirrors it to the broadcast hub. A capture failure downgrades
// the observation to text-only rather than failing the action.
func (e *Executor) attachScreenshot(result *dispatch.ActionResult) {
	shot, err := e.mgr.CaptureScreenshot()
	if err != nil {
		e.logger.Warn("Screenshot capture failed", zap.Error(err))
		return
	}
	result.Screenshot = shot
	if e.broadcaster != nil {
		e.broadcaster.BroadcastScreenshot(base64.StdEncoding.EncodeToString(shot))
	}
}
