// File: internal/agent/agent.go

// Package agent owns the conversation histories and the per-task control
// loop: ask the model, dispatch its output, append the observation, repeat
// until a terminal turn.
package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/miraiminds/rouh/api/schemas"
	"github.com/miraiminds/rouh/internal/dispatch"
)

// nudgeText is appended as the next user turn when a model response carried
// no recognizable tag at all.
const nudgeText = "You responded with only text but haven't called attempt_completion. Please continue with the task..."

// Streamer obtains one complete model response for a prompt plus history.
type Streamer interface {
	StreamText(ctx context.Context, systemPrompt string, history []schemas.Turn) (string, error)
}

// Dispatcher decides and executes one assistant message.
type Dispatcher interface {
	Dispatch(ctx context.Context, text string) dispatch.Outcome
}

// Agent drives the loop. The run lock serializes whole loop executions: the
// interactive path and the cron path share one browser session, so only one
// run may be in flight at a time.
type Agent struct {
	llm        Streamer
	dispatcher Dispatcher
	catalog    CatalogProvider
	logger     *zap.Logger

	runMu sync.Mutex
	// The interactive history lives across turns of one task; the cron
	// history is wiped before every scheduled execution, so scheduled runs
	// carry no cross-run memory.
	history     []schemas.Turn
	cronHistory []schemas.Turn

	now func() time.Time
}

// New builds an agent. catalog may be nil when no MCP servers are
// configured.
func New(llm Streamer, dispatcher Dispatcher, catalog CatalogProvider, logger *zap.Logger) *Agent {
	return &Agent{
		llm:        llm,
		dispatcher: dispatcher,
		catalog:    catalog,
		logger:     logger.Named("agent"),
		now:        time.Now,
	}
}

// RunTask executes one interactive task to completion and returns the
// extracted result text. Action-level failures stay inside the conversation;
// only a model transport failure aborts with an error.
func (a *Agent) RunTask(ctx context.Context, message string) (string, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	a.logger.Info("Starting task", zap.Int("message_len", len(message)))
	a.history = nil

	task := fmt.Sprintf("<task>\n%s\n</task>", message)
	result, err := a.loop(ctx, &a.history, task)
	if err != nil {
		a.logger.Error("Task aborted", zap.Error(err))
		return "", err
	}
	a.logger.Info("Task complete", zap.Int("result_len", len(result)))
	return result, nil
}

// RunCronTask replays one stored job query through the loop on a fresh
// history.
func (a *Agent) RunCronTask(ctx context.Context, query string) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	a.logger.Info("Starting scheduled task", zap.Int("query_len", len(query)))
	a.cronHistory = nil

	task := fmt.Sprintf("<cron_task>\n%s\n</cron_task>", query)
	if _, err := a.loop(ctx, &a.cronHistory, task); err != nil {
		a.logger.Error("Scheduled task aborted", zap.Error(err))
		return err
	}
	return nil
}

// loop runs the turn cycle until the dispatcher reports a terminal turn.
// Within one run turns are strictly sequential: no turn begins before the
// previous turn's observation is appended.
func (a *Agent) loop(ctx context.Context, history *[]schemas.Turn, firstContent string) (string, error) {
	next := schemas.TextTurn(schemas.RoleUser, firstContent)

	for turn := 1; ; turn++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		*history = append(*history, next)

		response, err := a.llm.StreamText(ctx, buildSystemPrompt(a.now(), a.catalog), *history)
		if err != nil {
			return "", fmt.Errorf("obtaining model response: %w", err)
		}

		outcome := a.dispatcher.Dispatch(ctx, response)
		if outcome.Terminal {
			return outcome.Result, nil
		}

		*history = append(*history, schemas.TextTurn(schemas.RoleAssistant, response))
		next = observationTurn(outcome)

		a.logger.Debug("Turn complete",
			zap.Int("turn", turn),
			zap.Bool("action_executed", outcome.Action != nil))
	}
}

// observationTurn converts a dispatch outcome into the user turn that
// answers the assistant. A screenshot becomes a note plus an inline image;
// a plain success becomes its message; a failure is prefixed so the model
// can tell it went wrong; no action at all becomes the fixed nudge.
func observationTurn(outcome dispatch.Outcome) schemas.Turn {
	action := outcome.Action
	if action == nil {
		return schemas.TextTurn(schemas.RoleUser, nudgeText)
	}

	if !action.Success {
		return schemas.TextTurn(schemas.RoleUser, "Browser action failed: "+action.Message)
	}

	if len(action.Screenshot) > 0 {
		return schemas.Turn{
			Role: schemas.RoleUser,
			Parts: []schemas.ContentPart{
				schemas.TextPart("Here is screenshot of last action"),
				schemas.ImagePart(base64.StdEncoding.EncodeToString(action.Screenshot), "image/jpeg"),
			},
		}
	}

	return schemas.TextTurn(schemas.RoleUser, action.Message)
}
