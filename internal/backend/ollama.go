// Package backend talks to the text-generation service. The core engine
// only sees the Backend interface defined by its consumers; this package
// provides the Ollama implementation with per-chat message history, using
// the native /api/generate and /api/chat endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is the standard local Ollama endpoint.
const DefaultBaseURL = "http://localhost:11434"

// maxTransportRetries bounds retries on transport errors and 429s.
const maxTransportRetries = 3

// ErrChatNotFound is returned when a chat id has no session.
var ErrChatNotFound = fmt.Errorf("chat session not found")

// Message is one turn in a chat history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatSession holds one conversation's model binding and message history.
type chatSession struct {
	model    string
	messages []Message
}

// OllamaClient is an HTTP client for the Ollama API with chat session
// bookkeeping.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *zap.Logger

	mu       sync.Mutex
	sessions map[string]*chatSession
}

// Option configures an OllamaClient.
type Option func(*OllamaClient)

// WithBaseURL overrides the Ollama endpoint.
func WithBaseURL(url string) Option {
	return func(c *OllamaClient) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *OllamaClient) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client entirely, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *OllamaClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewOllamaClient builds a client for the given default model.
func NewOllamaClient(model string, logger *zap.Logger, opts ...Option) *OllamaClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &OllamaClient{
		baseURL:    DefaultBaseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
		sessions:   make(map[string]*chatSession),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InitChat creates a chat session, seeding the history with an optional
// system prompt. An existing session with the same id is replaced.
func (c *OllamaClient) InitChat(chatID, model, systemPrompt string) {
	if model == "" {
		model = c.model
	}
	var messages []Message
	if systemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: systemPrompt})
	}

	c.mu.Lock()
	c.sessions[chatID] = &chatSession{model: model, messages: messages}
	c.mu.Unlock()

	c.logger.Debug("chat session initialized",
		zap.String("chat_id", chatID),
		zap.String("model", model))
}

// CleanupChat discards a chat session. Unknown ids are a no-op.
func (c *OllamaClient) CleanupChat(chatID string) {
	c.mu.Lock()
	delete(c.sessions, chatID)
	c.mu.Unlock()
}

// HasChat reports whether a chat session exists.
func (c *OllamaClient) HasChat(chatID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[chatID]
	return ok
}

// History returns a copy of a chat session's message history.
func (c *OllamaClient) History(chatID string) ([]Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session, ok := c.sessions[chatID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	out := make([]Message, len(session.messages))
	copy(out, session.messages)
	return out, nil
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message Message `json:"message"`
	Error   string  `json:"error,omitempty"`
}

// ChatMessage sends a user message within an existing chat session and
// appends both the user turn and the assistant's reply to the history.
func (c *OllamaClient) ChatMessage(ctx context.Context, chatID, message string, params map[string]any) (string, error) {
	c.mu.Lock()
	session, ok := c.sessions[chatID]
	if !ok {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	session.messages = append(session.messages, Message{Role: "user", Content: message})
	payload := chatRequest{
		Model:    session.model,
		Messages: append([]Message(nil), session.messages...),
		Stream:   false,
		Options:  params,
	}
	c.mu.Unlock()

	body, err := c.post(ctx, "/api/chat", payload)
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse chat response: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("ollama error: %s", resp.Error)
	}

	reply := resp.Message.Content

	c.mu.Lock()
	// The session may have been cleaned up while the request ran; the
	// reply is still returned but no longer recorded.
	if session, ok := c.sessions[chatID]; ok {
		session.messages = append(session.messages, Message{Role: "assistant", Content: reply})
	}
	c.mu.Unlock()

	return reply, nil
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// SingleQuery sends a one-shot prompt without any chat context.
func (c *OllamaClient) SingleQuery(ctx context.Context, model, instruction string, params map[string]any) (string, error) {
	if model == "" {
		model = c.model
	}
	payload := generateRequest{
		Model:   model,
		Prompt:  instruction,
		Stream:  false,
		Options: params,
	}

	body, err := c.post(ctx, "/api/generate", payload)
	if err != nil {
		return "", err
	}

	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse generate response: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("ollama error: %s", resp.Error)
	}
	return resp.Response, nil
}

// post sends a JSON request and returns the response body, retrying
// transport errors and 429s with exponential backoff.
func (c *OllamaClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for i := 0; i <= maxTransportRetries; i++ {
		if i > 0 {
			// Backoff: 1s, 2s, 4s.
			delay := time.Duration(1<<uint(i-1)) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			c.logger.Debug("ollama request failed", zap.Error(err), zap.Int("attempt", i))
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("ollama request failed with status %d: %s",
				resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return body, nil
	}

	return nil, fmt.Errorf("retries exhausted: %w", lastErr)
}
