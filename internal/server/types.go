package server

// InitChatRequest starts a persistent chat session.
type InitChatRequest struct {
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt"`
}

// InitChatResponse returns the new session's identifier.
type InitChatResponse struct {
	ChatID string `json:"chat_id"`
}

// ProcessRequest submits a task. With a ChatID the full operation loop
// runs inside that session; without one the prompt is sent as a single
// stateless query. Model applies to the one-shot path only (sessions
// bind their model at init); Parameters pass through to generation
// either way.
type ProcessRequest struct {
	Prompt     string         `json:"prompt" binding:"required"`
	ChatID     string         `json:"chat_id"`
	Model      string         `json:"model"`
	Parameters map[string]any `json:"parameters"`
}

// ProcessResponse reports the conversation's outcome.
type ProcessResponse struct {
	ChatID     string `json:"chat_id"`
	Response   string `json:"response"`
	Completed  bool   `json:"completed"`
	Iterations int    `json:"iterations"`
}

// OperationsResponse lists the registered operation names.
type OperationsResponse struct {
	Operations []string `json:"operations"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
