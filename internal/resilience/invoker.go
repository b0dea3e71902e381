// Package resilience wraps a single operation invocation with bounded
// retries, exponential backoff, and ordered fallback across the operation's
// alternative methods, recording an attempt history along the way.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"taskforge/internal/operation"
	"taskforge/internal/sandbox"
)

// MethodPrimary tags results produced by the operation's primary method.
const MethodPrimary = "primary"

// MethodExhausted tags the failure result returned when the primary method
// and every alternative have failed.
const MethodExhausted = "alternatives_exhausted"

// backoffFactor is the exponential growth applied between retries.
const backoffFactor = 1.5

// ErrAlternativesExhausted wraps the combined failure after every method
// has been tried.
var ErrAlternativesExhausted = errors.New("all execution methods failed")

// Invoker applies a uniform retry and fallback policy to any conforming
// operation.
type Invoker struct {
	// MaxRetries is the number of retries after the first attempt, so the
	// primary method runs at most MaxRetries+1 times.
	MaxRetries int

	// BaseDelay is the backoff before the first retry; subsequent delays
	// grow by backoffFactor per attempt.
	BaseDelay time.Duration

	logger *zap.Logger
}

// NewInvoker builds an invoker with the given retry budget.
func NewInvoker(maxRetries int, baseDelay time.Duration, logger *zap.Logger) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invoker{MaxRetries: maxRetries, BaseDelay: baseDelay, logger: logger}
}

// Invoke runs op's primary method with retries and backoff, then walks the
// alternative methods in order. The returned error is non-nil for
// cancellation, which aborts between attempts and never mid-attempt, and
// for boundary violations, which are rejected on the first attempt with no
// retries and no fallback; ordinary failures come back as a failed Result
// so the caller can narrate them to the backend.
func (iv *Invoker) Invoke(ctx context.Context, op operation.Operation, opCtx *operation.Context) (*operation.Result, error) {
	attempts := 0
	var lastResult *operation.Result

	for attempt := 0; attempt <= iv.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		opCtx.RetryAttempt = attempt
		result, runErr := iv.runMethod(ctx, op, opCtx, MethodPrimary, attempts+1)
		attempts++
		lastResult = result

		if errors.Is(runErr, sandbox.ErrBoundaryViolation) {
			return iv.reject(op, result, MethodPrimary, attempts), runErr
		}

		if result.Success {
			result.MethodUsed = MethodPrimary
			result.TotalAttempts = attempts
			result.HasMoreAlternatives = len(op.AlternativeMethods()) > 0
			return result, nil
		}

		iv.logger.Debug("primary attempt failed",
			zap.String("operation", op.Name()),
			zap.Int("attempt", attempt),
			zap.String("error", result.ErrorMessage))

		if attempt < iv.MaxRetries {
			if err := iv.sleep(ctx, iv.delayFor(attempt)); err != nil {
				return nil, err
			}
		}
	}

	alternatives := op.AlternativeMethods()
	if len(alternatives) == 0 {
		lastResult.MethodUsed = MethodPrimary
		lastResult.TotalAttempts = attempts
		lastResult.HasMoreAlternatives = false
		return lastResult, nil
	}

	failures := []string{fmt.Sprintf("primary: %s", lastResult.ErrorMessage)}

	for i, method := range alternatives {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		opCtx.PreviousFailureReason = lastResult.ErrorMessage
		result, runErr := iv.runMethod(ctx, op, opCtx, method, attempts+1)
		attempts++
		lastResult = result

		if errors.Is(runErr, sandbox.ErrBoundaryViolation) {
			return iv.reject(op, result, method, attempts), runErr
		}

		if result.Success {
			result.MethodUsed = method
			result.TotalAttempts = attempts
			result.HasMoreAlternatives = i < len(alternatives)-1
			iv.logger.Info("alternative method succeeded",
				zap.String("operation", op.Name()),
				zap.String("method", method))
			return result, nil
		}

		failures = append(failures, fmt.Sprintf("%s: %s", method, result.ErrorMessage))
	}

	return &operation.Result{
		Success:       false,
		ErrorMessage:  fmt.Sprintf("%s: %s", ErrAlternativesExhausted, strings.Join(failures, "; ")),
		TotalAttempts: attempts,
		MethodUsed:    MethodExhausted,
	}, nil
}

// reject finalizes the result for a boundary violation. The rejection is
// never retried and never handed to an alternative method.
func (iv *Invoker) reject(op operation.Operation, result *operation.Result, method string, attempts int) *operation.Result {
	iv.logger.Warn("boundary violation rejected",
		zap.String("operation", op.Name()),
		zap.String("method", method),
		zap.String("error", result.ErrorMessage))
	result.MethodUsed = method
	result.TotalAttempts = attempts
	result.HasMoreAlternatives = false
	return result
}

// runMethod executes one attempt of the named method, folding a returned
// error into a failed result, and appends the attempt record. The raw
// error comes back alongside the result so the caller can classify it.
func (iv *Invoker) runMethod(ctx context.Context, op operation.Operation, opCtx *operation.Context, method string, attemptNumber int) (*operation.Result, error) {
	start := time.Now()

	var result *operation.Result
	var err error
	if method == MethodPrimary {
		result, err = op.Run(ctx, opCtx)
	} else {
		result, err = op.RunAlternative(ctx, opCtx, method)
	}
	elapsed := time.Since(start)

	if err != nil {
		result = operation.Fail(err.Error())
	} else if result == nil {
		result = operation.Fail("operation returned no result")
	}
	result.ExecutionTime = elapsed

	opCtx.ExecutionHistory = append(opCtx.ExecutionHistory, operation.AttemptRecord{
		Method:        method,
		Success:       result.Success,
		ErrorMessage:  result.ErrorMessage,
		Duration:      elapsed,
		AttemptNumber: attemptNumber,
	})
	return result, err
}

// delayFor computes the backoff before the retry following attempt.
func (iv *Invoker) delayFor(attempt int) time.Duration {
	d := float64(iv.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= backoffFactor
	}
	return time.Duration(d)
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
func (iv *Invoker) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
