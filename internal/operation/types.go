// Package operation defines the capability contract for units of work the
// backend can request, the data model that flows through every invocation,
// and the read-mostly registry mapping operation names to implementations.
//
// Operations are composed with the resilience.Invoker rather than carrying
// their own retry logic, so the retry policy stays uniform and testable on
// its own.
package operation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"taskforge/internal/sandbox"
)

// Context carries the inputs, shared state, and attempt bookkeeping for one
// logical invocation. Parameters are caller-supplied and treated as
// immutable during a single attempt; State passes intermediate results
// between chained operations within one resolution.
type Context struct {
	// Parameters is the caller-supplied argument map.
	Parameters map[string]any

	// State passes intermediate results between chained operations,
	// e.g. file statistics produced by one operation consumed by the next.
	State map[string]any

	// SessionID identifies the owning conversation.
	SessionID string

	// Scope is the session sandbox; set for filesystem-touching
	// operations, nil otherwise.
	Scope *sandbox.SessionScope

	// WorkingDirectory optionally overrides the scope's working directory.
	WorkingDirectory string

	// RetryAttempt is the current attempt ordinal, set by the invoker.
	// Read-only to the operation.
	RetryAttempt int

	// ExecutionHistory is the append-only attempt log, shared across
	// retries and fallbacks for one logical invocation.
	ExecutionHistory []AttemptRecord

	// PreviousFailureReason carries the last failure's message so
	// alternative methods can adapt.
	PreviousFailureReason string
}

// NewContext builds a Context with initialized maps.
func NewContext(params map[string]any) *Context {
	if params == nil {
		params = make(map[string]any)
	}
	return &Context{
		Parameters: params,
		State:      make(map[string]any),
	}
}

// Result is the outcome of one invocation as reported to the caller.
type Result struct {
	Success       bool          `json:"success"`
	Output        any           `json:"output,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`

	// TotalAttempts counts every retry and fallback for this invocation.
	TotalAttempts int `json:"total_attempts"`

	// MethodUsed tags which method produced this result: "primary", an
	// alternative's name, or "alternatives_exhausted".
	MethodUsed string `json:"method_used"`

	// HasMoreAlternatives reports whether untried fallback methods
	// remain. Informational; the caller decides what to do with it.
	HasMoreAlternatives bool `json:"has_more_alternatives"`
}

// Ok builds a successful result.
func Ok(output any) *Result {
	return &Result{Success: true, Output: output}
}

// Fail builds a failed result.
func Fail(message string) *Result {
	return &Result{Success: false, ErrorMessage: message}
}

// AttemptRecord is one append-only log entry in the execution history.
// Never mutated after creation.
type AttemptRecord struct {
	Method        string        `json:"method"`
	Success       bool          `json:"success"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	Duration      time.Duration `json:"duration"`
	AttemptNumber int           `json:"attempt_number"`
}

// Operation is the capability contract every unit of work satisfies. The
// engine depends only on this interface, never on a concrete operation's
// internals.
type Operation interface {
	// Name is the unique identifier the backend uses to request the
	// operation.
	Name() string

	// Capabilities tags what the operation can do, for catalog listings.
	Capabilities() []string

	// RequiresNetwork reports whether the operation reaches the network.
	RequiresNetwork() bool

	// RequiresFileSystem reports whether the operation touches the
	// session sandbox.
	RequiresFileSystem() bool

	// Run executes the primary method. A returned error is equivalent to
	// a failed Result; the invoker folds it into the attempt history.
	Run(ctx context.Context, opCtx *Context) (*Result, error)

	// AlternativeMethods lists named fallback strategies in the order
	// they should be tried after the primary retry budget is exhausted.
	AlternativeMethods() []string

	// RunAlternative executes the named fallback method.
	RunAlternative(ctx context.Context, opCtx *Context, method string) (*Result, error)

	// EstimateCost returns an abstract cost estimate for the invocation.
	EstimateCost(opCtx *Context) decimal.Decimal

	// DryRun reports whether the invocation would be accepted without
	// performing side effects.
	DryRun(opCtx *Context) bool
}

// Base provides no-op defaults for the optional parts of the contract.
// Concrete operations embed it and override what they need.
type Base struct{}

// AlternativeMethods returns no fallback strategies.
func (Base) AlternativeMethods() []string { return nil }

// RunAlternative rejects any method name; operations with alternatives
// override it.
func (Base) RunAlternative(ctx context.Context, opCtx *Context, method string) (*Result, error) {
	return nil, ErrUnknownMethod
}

// EstimateCost returns zero cost.
func (Base) EstimateCost(opCtx *Context) decimal.Decimal { return decimal.Zero }

// DryRun accepts the invocation.
func (Base) DryRun(opCtx *Context) bool { return true }
