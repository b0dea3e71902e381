package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskforge/internal/config"
	"taskforge/internal/operation"
	"taskforge/internal/operation/fileops"
)

// stubBackend completes every conversation on the first round-trip and
// records what the one-shot path sends.
type stubBackend struct {
	mu         sync.Mutex
	chats      map[string]bool
	reply      string
	queries    int
	lastModel  string
	lastParams map[string]any
}

func newStubBackend(reply string) *stubBackend {
	return &stubBackend{chats: make(map[string]bool), reply: reply}
}

func (b *stubBackend) InitChat(chatID, model, systemPrompt string) {
	b.mu.Lock()
	b.chats[chatID] = true
	b.mu.Unlock()
}

func (b *stubBackend) ChatMessage(_ context.Context, chatID, _ string, params map[string]any) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.chats[chatID] {
		return "", fmt.Errorf("chat session not found: %s", chatID)
	}
	b.lastParams = params
	return b.reply, nil
}

func (b *stubBackend) SingleQuery(_ context.Context, model, _ string, params map[string]any) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries++
	b.lastModel = model
	b.lastParams = params
	return b.reply, nil
}

func (b *stubBackend) CleanupChat(chatID string) {
	b.mu.Lock()
	delete(b.chats, chatID)
	b.mu.Unlock()
}

func (b *stubBackend) HasChat(chatID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chats[chatID]
}

const completionReply = `{"taskCompleted": true, "reasoning": "nothing left to do here", "response": "all done"}`

func newTestServer(t *testing.T, backend ChatBackend) (*httptest.Server, *config.Config) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Sandbox.CacheRoot = t.TempDir()
	cfg.Sandbox.AuditDir = ""
	cfg.Engine.IterationCap = 5

	registry := operation.NewRegistry()
	require.NoError(t, fileops.RegisterAll(registry))

	engine := NewEngine(cfg, backend, registry, zap.NewNop())
	srv := httptest.NewServer(NewHandlers(engine, zap.NewNop()).Router())
	t.Cleanup(srv.Close)
	return srv, cfg
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, newStubBackend(completionReply))

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOperationsList(t *testing.T) {
	srv, _ := newTestServer(t, newStubBackend(completionReply))

	resp, err := http.Get(srv.URL + "/operations")
	require.NoError(t, err)
	out := decodeBody[OperationsResponse](t, resp)
	assert.Contains(t, out.Operations, "DirectoryCreate")
	assert.Contains(t, out.Operations, "FileWrite")
}

func TestInitChatCreatesSession(t *testing.T) {
	backend := newStubBackend(completionReply)
	srv, cfg := newTestServer(t, backend)

	resp := postJSON(t, srv.URL+"/chat/init", InitChatRequest{SystemPrompt: "be brief"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[InitChatResponse](t, resp)
	require.NotEmpty(t, out.ChatID)

	assert.True(t, backend.HasChat(out.ChatID))
	assert.DirExists(t, filepath.Join(cfg.Sandbox.CacheRoot, out.ChatID))
}

func TestInitChatEmptyBody(t *testing.T) {
	srv, _ := newTestServer(t, newStubBackend(completionReply))

	resp, err := http.Post(srv.URL+"/chat/init", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProcessInSession(t *testing.T) {
	backend := newStubBackend(completionReply)
	srv, _ := newTestServer(t, backend)

	init := decodeBody[InitChatResponse](t, postJSON(t, srv.URL+"/chat/init", InitChatRequest{}))

	resp := postJSON(t, srv.URL+"/process", ProcessRequest{Prompt: "do it", ChatID: init.ChatID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[ProcessResponse](t, resp)

	assert.Equal(t, init.ChatID, out.ChatID)
	assert.True(t, out.Completed)
	assert.Equal(t, "all done", out.Response)
	assert.Equal(t, 1, out.Iterations)

	// The session survives for further prompts.
	assert.True(t, backend.HasChat(init.ChatID))
}

func TestProcessWithoutChatIDIsOneShot(t *testing.T) {
	backend := newStubBackend("just an answer")
	srv, cfg := newTestServer(t, backend)

	resp := postJSON(t, srv.URL+"/process", ProcessRequest{
		Prompt:     "what is six times seven",
		Model:      "override-model",
		Parameters: map[string]any{"temperature": 0.1},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[ProcessResponse](t, resp)

	// A bare answer: no chat session, no operation loop.
	assert.Empty(t, out.ChatID)
	assert.Equal(t, "just an answer", out.Response)
	assert.True(t, out.Completed)
	assert.Equal(t, 1, out.Iterations)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, 1, backend.queries)
	assert.Equal(t, "override-model", backend.lastModel)
	assert.Equal(t, map[string]any{"temperature": 0.1}, backend.lastParams)

	// No sandbox was fabricated for the one-shot.
	entries, err := os.ReadDir(cfg.Sandbox.CacheRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcessUnknownChat(t *testing.T) {
	srv, _ := newTestServer(t, newStubBackend(completionReply))

	resp := postJSON(t, srv.URL+"/process", ProcessRequest{Prompt: "do it", ChatID: "nope"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	out := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, "CHAT_NOT_FOUND", out.Code)
}

func TestProcessMissingPrompt(t *testing.T) {
	srv, _ := newTestServer(t, newStubBackend(completionReply))

	resp := postJSON(t, srv.URL+"/process", map[string]any{"chat_id": "x"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProcessRunsOperations(t *testing.T) {
	// First reply requests a directory create, second completes.
	backend := newStubBackend("")
	replies := []string{
		`{"taskCompleted": false, "reasoning": "need the output directory first", "nextStep": {"requiresOperation": true, "operationName": "DirectoryCreate", "parameters": {"path": "out"}, "confidence": 0.9}}`,
		completionReply,
	}
	i := 0
	backendFn := &scriptedServerBackend{stub: backend, next: func() string {
		r := replies[i]
		if i < len(replies)-1 {
			i++
		}
		return r
	}}
	srv, cfg := newTestServer(t, backendFn)

	init := decodeBody[InitChatResponse](t, postJSON(t, srv.URL+"/chat/init", InitChatRequest{}))
	resp := postJSON(t, srv.URL+"/process", ProcessRequest{Prompt: "make out dir", ChatID: init.ChatID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[ProcessResponse](t, resp)

	assert.True(t, out.Completed)
	assert.Equal(t, 2, out.Iterations)
	assert.DirExists(t, filepath.Join(cfg.Sandbox.CacheRoot, init.ChatID, "out"))
}

// scriptedServerBackend wraps stubBackend with per-call replies.
type scriptedServerBackend struct {
	stub *stubBackend
	next func() string
}

func (b *scriptedServerBackend) InitChat(chatID, model, systemPrompt string) {
	b.stub.InitChat(chatID, model, systemPrompt)
}

func (b *scriptedServerBackend) ChatMessage(ctx context.Context, chatID, msg string, params map[string]any) (string, error) {
	if _, err := b.stub.ChatMessage(ctx, chatID, msg, params); err != nil {
		return "", err
	}
	return b.next(), nil
}

func (b *scriptedServerBackend) SingleQuery(ctx context.Context, model, instruction string, params map[string]any) (string, error) {
	return b.stub.SingleQuery(ctx, model, instruction, params)
}

func (b *scriptedServerBackend) CleanupChat(chatID string)  { b.stub.CleanupChat(chatID) }
func (b *scriptedServerBackend) HasChat(chatID string) bool { return b.stub.HasChat(chatID) }

func TestDeleteChat(t *testing.T) {
	backend := newStubBackend(completionReply)
	srv, cfg := newTestServer(t, backend)

	init := decodeBody[InitChatResponse](t, postJSON(t, srv.URL+"/chat/init", InitChatRequest{}))
	sessionDir := filepath.Join(cfg.Sandbox.CacheRoot, init.ChatID)
	require.DirExists(t, sessionDir)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/chat/"+init.ChatID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, backend.HasChat(init.ChatID))
	_, statErr := os.Stat(sessionDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDeleteUnknownChat(t *testing.T) {
	srv, _ := newTestServer(t, newStubBackend(completionReply))

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/chat/nope", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
