package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType tags one audit record.
type AuditEventType string

const (
	// Conversation lifecycle
	AuditSessionStart AuditEventType = "session_start"
	AuditSessionEnd   AuditEventType = "session_end"
	AuditStepPrompt   AuditEventType = "step_prompt"
	AuditStepDecision AuditEventType = "step_decision"

	// Operation invocations
	AuditOperationInvoke   AuditEventType = "operation_invoke"
	AuditOperationComplete AuditEventType = "operation_complete"
	AuditOperationError    AuditEventType = "operation_error"

	// Degradations
	AuditMalformedResponse AuditEventType = "malformed_response"
	AuditIterationCap      AuditEventType = "iteration_cap"
)

// AuditRecord is one line-delimited JSON entry in a session's audit file.
type AuditRecord struct {
	Timestamp int64          `json:"ts"`
	SessionID string         `json:"session_id"`
	Step      int            `json:"step"`
	Type      AuditEventType `json:"type"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// AuditTrail appends structured records to one session's audit file.
// Records are keyed by timestamp and a monotonically increasing step index.
type AuditTrail struct {
	mu        sync.Mutex
	file      *os.File
	sessionID string
	step      int
}

// NewAuditTrail opens (appending) the audit file for sessionID under dir.
func NewAuditTrail(dir, sessionID string) (*AuditTrail, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	path := filepath.Join(dir, sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	return &AuditTrail{file: f, sessionID: sessionID}, nil
}

// NextStep advances and returns the step index. Called once per
// conversation round-trip.
func (a *AuditTrail) NextStep() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.step++
	return a.step
}

// Record appends one event at the current step index.
func (a *AuditTrail) Record(eventType AuditEventType, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec := AuditRecord{
		Timestamp: time.Now().UnixMilli(),
		SessionID: a.sessionID,
		Step:      a.step,
		Type:      eventType,
		Detail:    detail,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	if _, err := a.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (a *AuditTrail) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}
