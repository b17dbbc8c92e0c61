// File: internal/dispatch/dispatcher.go

// Package dispatch routes one assistant message to the executor its tagged
// content names and reports whether the turn ends the agent loop.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/miraiminds/rouh/internal/parser"
	"go.uber.org/zap"
)

// ActionResult is the observation produced by one dispatched action. It is
// consumed immediately to build the next conversation turn and never stored.
type ActionResult struct {
	Success    bool
	Message    string
	Screenshot []byte
}

// Outcome is the dispatcher's per-turn decision. Result carries the
// extracted result text when Terminal is true; Action carries the
// observation of whatever executed, nil when nothing did.
type Outcome struct {
	Terminal bool
	Result   string
	Action   *ActionResult
}

// BrowserExecutor performs one browser action against the live session.
type BrowserExecutor interface {
	Execute(ctx context.Context, action *parser.BrowserAction) (*ActionResult, error)
}

// ToolInvoker forwards a tool call to a named remote server and returns the
// textual payload of the tool's response.
type ToolInvoker interface {
	CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (string, error)
}

// JobRegistry persists a new scheduled job.
type JobRegistry interface {
	AddJob(jobID string, intervalSeconds int, query string, startTime string) error
}

// Dispatcher composes the parser with the three execution paths.
type Dispatcher struct {
	browser BrowserExecutor
	tools   ToolInvoker
	jobs    JobRegistry
	logger  *zap.Logger

	// now is a seam for tests; job ids are synthesized from it.
	now func() time.Time
}

// NewDispatcher wires the three executors together. Any executor may be nil,
// in which case its action path reports a failed observation instead of
// executing.
func NewDispatcher(browser BrowserExecutor, tools ToolInvoker, jobs JobRegistry, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		browser: browser,
		tools:   tools,
		jobs:    jobs,
		logger:  logger.Named("dispatcher"),
		now:     time.Now,
	}
}

// Dispatch inspects one complete assistant message and performs at most one
// action. Termination is decided first: a turn carrying a completion marker
// or a result block ends the loop and never executes an action, even when an
// action tag is present in the same text.
//
// Failures inside an executor, panics included, become a failed ActionResult
// rather than an error; the loop always gets an observation it can feed back
// to the model.
func (d *Dispatcher) Dispatch(ctx context.Context, text string) Outcome {
	result, _ := parser.ExtractResult(text)

	if parser.IsTerminal(text) {
		d.logger.Info("Turn is terminal", zap.Int("result_len", len(result)))
		return Outcome{Terminal: true, Result: result}
	}

	if block, ok := parser.FirstBlock(text, parser.TagBrowserAction); ok {
		return Outcome{Action: d.dispatchBrowser(ctx, block)}
	}

	// An MCP block inside a <cronjob> wrapper is the job's payload, not an
	// instruction to run now.
	if block, ok := parser.FirstBlock(text, parser.TagMCPTool); ok && !containsCronWrapper(text) {
		return Outcome{Action: d.dispatchMCPTool(ctx, block)}
	}

	if block, ok := parser.FirstBlock(text, parser.TagCronJob); ok {
		if res := d.dispatchCronJob(block); res != nil {
			return Outcome{Action: res}
		}
	}

	return Outcome{}
}

func containsCronWrapper(text string) bool {
	_, ok := parser.FirstBlock(text, parser.TagCronJob)
	return ok
}

func (d *Dispatcher) dispatchBrowser(ctx context.Context, block string) (res *ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Browser executor panicked", zap.Any("panic", r))
			res = &ActionResult{Success: false, Message: fmt.Sprintf("browser action panicked: %v", r)}
		}
	}()

	action := parser.ParseBrowserAction(block)
	if action == nil {
		return &ActionResult{Success: false, Message: "No recognizable <action> inside the browser_action block"}
	}
	if d.browser == nil {
		return &ActionResult{Success: false, Message: "No browser session is available"}
	}

	d.logger.Info("Dispatching browser action", zap.String("kind", action.Kind))
	result, err := d.browser.Execute(ctx, action)
	if err != nil {
		d.logger.Warn("Browser action failed", zap.String("kind", action.Kind), zap.Error(err))
		return &ActionResult{Success: false, Message: err.Error()}
	}
	return result
}

func (d *Dispatcher) dispatchMCPTool(ctx context.Context, block string) (res *ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Tool invoker panicked", zap.Any("panic", r))
			res = &ActionResult{Success: false, Message: fmt.Sprintf("MCP tool call panicked: %v", r)}
		}
	}()

	req, err := parser.ParseMCPToolRequest(block)
	if err != nil {
		return &ActionResult{Success: false, Message: fmt.Sprintf("Error executing MCP tool: %s", err)}
	}
	if d.tools == nil {
		return &ActionResult{Success: false, Message: "No MCP connections are available"}
	}

	d.logger.Info("Dispatching MCP tool call",
		zap.String("server", req.ServerName),
		zap.String("tool", req.ToolName))

	payload, err := d.tools.CallTool(ctx, req.ServerName, req.ToolName, req.Arguments)
	if err != nil {
		d.logger.Warn("MCP tool call failed",
			zap.String("server", req.ServerName),
			zap.String("tool", req.ToolName),
			zap.Error(err))
		return &ActionResult{Success: false, Message: fmt.Sprintf("Error executing MCP tool: %s", err)}
	}
	return &ActionResult{
		Success: true,
		Message: fmt.Sprintf("MCP tool %s executed: %s", req.ToolName, payload),
	}
}

func (d *Dispatcher) dispatchCronJob(block string) *ActionResult {
	req := parser.ParseCronJob(block)
	if req == nil {
		// Missing interval or payload: the block is ignored entirely.
		return nil
	}
	if d.jobs == nil {
		return &ActionResult{Success: false, Message: "No job store is available"}
	}

	jobID := fmt.Sprintf("job_%d", d.now().Unix())
	d.logger.Info("Registering cron job",
		zap.String("job_id", jobID),
		zap.Int("interval_seconds", req.IntervalSeconds),
		zap.String("start_time", req.StartTime))

	if err := d.jobs.AddJob(jobID, req.IntervalSeconds, req.Query, req.StartTime); err != nil {
		return &ActionResult{Success: false, Message: fmt.Sprintf("Failed to create cron job: %s", err)}
	}
	return &ActionResult{
		Success: true,
		Message: fmt.Sprintf("Cron job %s created with interval %ds. The job will be executed by the cron manager process.", jobID, req.IntervalSeconds),
	}
}
