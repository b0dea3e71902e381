// Package loop drives the ask/decide/act cycle for one conversation.
// Each iteration sends a prompt to the backend, interprets the raw reply
// into a Decision, and either finishes, invokes the requested operation,
// or nudges the backend to continue. The loop is strictly sequential per
// session; distinct sessions run independently.
package loop

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"taskforge/internal/decision"
	"taskforge/internal/logging"
	"taskforge/internal/operation"
	"taskforge/internal/resilience"
	"taskforge/internal/sandbox"
)

// DefaultIterationCap bounds how many backend round-trips a single
// conversation may take before it is aborted with a partial answer.
const DefaultIterationCap = 25

// Backend sends a prompt and returns the raw model text. The concrete
// transport keeps its own conversation history keyed by session.
type Backend interface {
	Send(ctx context.Context, sessionID, prompt string) (string, error)
}

// State names the loop's position in its lifecycle.
type State string

const (
	StateStarted           State = "started"
	StateAwaitingDecision  State = "awaiting_decision"
	StateInvokingOperation State = "invoking_operation"
	StateCompleted         State = "completed"
	StateAborted           State = "aborted"
)

// Outcome is the terminal result of one conversation.
type Outcome struct {
	// Response is the final answer, or the last partial answer when the
	// loop was aborted at the iteration cap.
	Response string

	// Completed reports whether the backend confirmed completion.
	// False means Response is a partial answer.
	Completed bool

	// Iterations counts backend round-trips consumed.
	Iterations int

	// FinalState is StateCompleted or StateAborted.
	FinalState State

	// LastDecision is the final interpreted decision, for diagnostics.
	LastDecision *decision.Decision
}

// Loop orchestrates one conversation against a backend and an operation
// catalog, confined to a session sandbox.
type Loop struct {
	backend    Backend
	registry   *operation.Registry
	invoker    *resilience.Invoker
	normalizer *decision.Normalizer
	scope      *sandbox.SessionScope
	audit      *logging.AuditTrail
	logger     *zap.Logger

	iterationCap int
	state        State
}

// Config carries the loop's collaborators. Audit is optional.
type Config struct {
	Backend      Backend
	Registry     *operation.Registry
	Invoker      *resilience.Invoker
	Normalizer   *decision.Normalizer
	Scope        *sandbox.SessionScope
	Audit        *logging.AuditTrail
	Logger       *zap.Logger
	IterationCap int
}

// New builds a conversation loop. A zero IterationCap uses the default.
func New(cfg Config) *Loop {
	if cfg.IterationCap <= 0 {
		cfg.IterationCap = DefaultIterationCap
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Loop{
		backend:      cfg.Backend,
		registry:     cfg.Registry,
		invoker:      cfg.Invoker,
		normalizer:   cfg.Normalizer,
		scope:        cfg.Scope,
		audit:        cfg.Audit,
		logger:       cfg.Logger,
		iterationCap: cfg.IterationCap,
		state:        StateStarted,
	}
}

// State returns the loop's current lifecycle state.
func (l *Loop) State() State { return l.state }

// Run executes the conversation for the given user request until the
// backend reports completion or the iteration cap is reached. A non-nil
// error means the backend transport failed or the context was cancelled;
// malformed replies and operation failures are absorbed into the
// conversation instead.
func (l *Loop) Run(ctx context.Context, request string) (*Outcome, error) {
	l.record(logging.AuditSessionStart, map[string]any{"request": request})

	sharedState := make(map[string]any)
	prompt := l.initialPrompt(request)

	var lastDecision *decision.Decision
	for iteration := 1; iteration <= l.iterationCap; iteration++ {
		l.state = StateAwaitingDecision
		if l.audit != nil {
			l.audit.NextStep()
		}
		l.record(logging.AuditStepPrompt, map[string]any{"prompt": truncate(prompt, 2000)})

		raw, err := l.backend.Send(ctx, l.scope.ID(), prompt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("backend send failed: %w", err)
		}

		d, err := l.normalizer.Interpret(raw)
		if err != nil {
			l.logger.Warn("malformed backend response",
				zap.String("session_id", l.scope.ID()),
				zap.Int("iteration", iteration),
				zap.Error(err))
			l.record(logging.AuditMalformedResponse, map[string]any{"raw": truncate(raw, 500)})
			d = decision.Synthetic("backend response could not be interpreted")
		}
		lastDecision = d
		l.record(logging.AuditStepDecision, map[string]any{
			"task_completed": d.TaskCompleted,
			"has_next_step":  d.NextStep != nil,
		})

		if d.TaskCompleted {
			l.state = StateCompleted
			l.record(logging.AuditSessionEnd, map[string]any{"completed": true, "iterations": iteration})
			return &Outcome{
				Response:     d.Response,
				Completed:    true,
				Iterations:   iteration,
				FinalState:   StateCompleted,
				LastDecision: d,
			}, nil
		}

		if d.NextStep != nil && d.NextStep.RequiresOperation {
			next, err := l.invokeStep(ctx, d, sharedState)
			if err != nil {
				return nil, err
			}
			prompt = next
			continue
		}

		prompt = continuePrompt
	}

	l.state = StateAborted
	l.record(logging.AuditIterationCap, map[string]any{"cap": l.iterationCap})
	l.record(logging.AuditSessionEnd, map[string]any{"completed": false, "iterations": l.iterationCap})
	l.logger.Warn("iteration cap reached",
		zap.String("session_id", l.scope.ID()),
		zap.Int("cap", l.iterationCap))

	outcome := &Outcome{
		Iterations:   l.iterationCap,
		FinalState:   StateAborted,
		LastDecision: lastDecision,
	}
	if lastDecision != nil {
		outcome.Response = lastDecision.Response
	}
	return outcome, nil
}

// invokeStep resolves and runs the operation the decision requested and
// returns the follow-up prompt narrating the result. Unknown operation
// names and failed invocations both produce prompts, not errors; only
// cancellation aborts.
func (l *Loop) invokeStep(ctx context.Context, d *decision.Decision, sharedState map[string]any) (string, error) {
	l.state = StateInvokingOperation
	name := d.NextStep.OperationName

	op, err := l.registry.Get(name)
	if err != nil {
		l.record(logging.AuditOperationError, map[string]any{"operation": name, "error": err.Error()})
		return unknownOperationPrompt(name, l.registry.Names()), nil
	}

	opCtx := operation.NewContext(d.NextStep.Parameters)
	opCtx.State = sharedState
	opCtx.SessionID = l.scope.ID()
	opCtx.Scope = l.scope

	l.record(logging.AuditOperationInvoke, map[string]any{
		"operation":  name,
		"parameters": d.NextStep.Parameters,
	})

	result, err := l.invoker.Invoke(ctx, op, opCtx)
	if errors.Is(err, sandbox.ErrBoundaryViolation) {
		// Rejected outright, no retries. Tell the backend so it stops
		// asking for paths outside the workspace.
		l.record(logging.AuditOperationError, map[string]any{"operation": name, "error": err.Error()})
		return boundaryViolationPrompt(name, result.ErrorMessage), nil
	}
	if err != nil {
		// Any other Invoke error is cancellation.
		return "", err
	}

	if result.Success {
		l.record(logging.AuditOperationComplete, map[string]any{
			"operation": name,
			"attempts":  result.TotalAttempts,
			"method":    result.MethodUsed,
		})
	} else {
		l.record(logging.AuditOperationError, map[string]any{
			"operation": name,
			"error":     result.ErrorMessage,
		})
	}

	return operationResultPrompt(name, result), nil
}

func (l *Loop) record(eventType logging.AuditEventType, detail map[string]any) {
	if l.audit == nil {
		return
	}
	if err := l.audit.Record(eventType, detail); err != nil {
		l.logger.Warn("audit write failed", zap.Error(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
