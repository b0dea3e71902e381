// Package server exposes the task engine over HTTP. The surface mirrors
// a chat service: init a session, process prompts inside it, tear it
// down when done.
package server

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"taskforge/internal/config"
	"taskforge/internal/decision"
	"taskforge/internal/logging"
	"taskforge/internal/loop"
	"taskforge/internal/operation"
	"taskforge/internal/resilience"
	"taskforge/internal/sandbox"
)

// ChatBackend is the subset of the Ollama client the engine needs.
type ChatBackend interface {
	InitChat(chatID, model, systemPrompt string)
	ChatMessage(ctx context.Context, chatID, message string, params map[string]any) (string, error)
	SingleQuery(ctx context.Context, model, instruction string, params map[string]any) (string, error)
	CleanupChat(chatID string)
	HasChat(chatID string) bool
}

// Engine wires sessions, the backend, and the operation catalog into
// runnable conversations.
type Engine struct {
	// cfg is read on request goroutines and swapped by hot reload, so
	// access goes through Config/UpdateConfig.
	cfg atomic.Pointer[config.Config]

	backend  ChatBackend
	store    *sandbox.Store
	registry *operation.Registry
	logger   *zap.Logger
}

// NewEngine builds an engine. The registry must be fully populated
// before the first conversation starts.
func NewEngine(cfg *config.Config, backend ChatBackend, registry *operation.Registry, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		backend:  backend,
		store:    sandbox.NewStore(cfg.Sandbox.CacheRoot, logger),
		registry: registry,
		logger:   logger,
	}
	e.cfg.Store(cfg)
	return e
}

// Config returns the current configuration snapshot.
func (e *Engine) Config() *config.Config {
	return e.cfg.Load()
}

// UpdateConfig atomically publishes a reloaded configuration. Settings
// read per request (retry policy, iteration cap, gates) take effect on
// the next conversation; the cache root and listen address are fixed at
// startup.
func (e *Engine) UpdateConfig(next *config.Config) {
	e.cfg.Store(next)
}

// InitSession creates the sandbox and chat history for a new session.
func (e *Engine) InitSession(chatID, model, systemPrompt string) error {
	if _, err := e.store.Get(chatID); err != nil {
		return fmt.Errorf("failed to create session sandbox: %w", err)
	}
	e.backend.InitChat(chatID, model, systemPrompt)
	return nil
}

// HasSession reports whether a chat session exists.
func (e *Engine) HasSession(chatID string) bool {
	return e.backend.HasChat(chatID)
}

// Process runs one conversation for the given session and request.
// Generation parameters, if any, pass through to every backend call the
// loop makes.
func (e *Engine) Process(ctx context.Context, chatID, request string, params map[string]any) (*loop.Outcome, error) {
	cfg := e.Config()

	scope, err := e.store.Get(chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to open session sandbox: %w", err)
	}

	var trail *logging.AuditTrail
	if cfg.Sandbox.AuditDir != "" {
		trail, err = logging.NewAuditTrail(cfg.Sandbox.AuditDir, chatID)
		if err != nil {
			e.logger.Warn("audit trail unavailable",
				zap.String("chat_id", chatID),
				zap.Error(err))
		} else {
			defer trail.Close()
		}
	}

	l := loop.New(loop.Config{
		Backend:      backendAdapter{backend: e.backend, params: params},
		Registry:     e.registry,
		Invoker:      resilience.NewInvoker(cfg.Engine.MaxRetries, cfg.RetryBaseDelay(), e.logger),
		Normalizer:   decision.NewNormalizer(e.registry.Names(), cfg.Engine.MinConfidence, cfg.Engine.MinReasoningLength, e.logger),
		Scope:        scope,
		Audit:        trail,
		Logger:       e.logger,
		IterationCap: cfg.Engine.IterationCap,
	})

	return l.Run(ctx, request)
}

// OneShot sends a single stateless query, no session, no sandbox, no
// operation loop.
func (e *Engine) OneShot(ctx context.Context, model, prompt string, params map[string]any) (string, error) {
	return e.backend.SingleQuery(ctx, model, prompt, params)
}

// Teardown removes a session's chat history and sandbox.
func (e *Engine) Teardown(chatID string) error {
	e.backend.CleanupChat(chatID)
	return e.store.Remove(chatID)
}

// Operations returns the registered operation names, sorted.
func (e *Engine) Operations() []string {
	return e.registry.Names()
}

// backendAdapter lets the chat backend satisfy the loop's one-method
// interface, carrying the request's generation parameters.
type backendAdapter struct {
	backend ChatBackend
	params  map[string]any
}

func (a backendAdapter) Send(ctx context.Context, sessionID, prompt string) (string, error) {
	return a.backend.ChatMessage(ctx, sessionID, prompt, a.params)
}
