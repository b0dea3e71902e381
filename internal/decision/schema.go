// Package decision turns raw backend text into a validated Decision. The
// backend's output is nominally JSON but frequently malformed, wrapped in
// prose or markdown fences, and inconsistent in field naming; this package
// isolates the JSON, maps synonym field names onto the canonical schema,
// and applies pessimistic acceptance gates before the engine acts on it.
package decision

import "errors"

// ErrMalformedResponse is returned when no usable decision can be produced
// from the backend's output. Callers degrade to a synthetic not-complete
// decision rather than crashing the conversation.
var ErrMalformedResponse = errors.New("no usable decision in backend response")

// Decision is the canonical, validated interpretation of one backend
// response.
type Decision struct {
	TaskCompleted bool      `json:"task_completed"`
	Reasoning     string    `json:"reasoning"`
	NextStep      *NextStep `json:"next_step,omitempty"`
	Response      string    `json:"response"`
}

// NextStep describes the work the backend wants performed before the task
// can complete.
type NextStep struct {
	RequiresOperation bool           `json:"requires_operation"`
	OperationName     string         `json:"operation_name,omitempty"`
	Parameters        map[string]any `json:"parameters,omitempty"`
	Confidence        float64        `json:"confidence"`
	Assumptions       []string       `json:"assumptions,omitempty"`
	Risks             []string       `json:"risks,omitempty"`
}

// Synthetic builds the degraded not-complete decision used when the
// backend's output cannot be interpreted or fails a validation gate.
func Synthetic(reason string) *Decision {
	return &Decision{
		TaskCompleted: false,
		Reasoning:     reason,
		NextStep:      nil,
		Response:      "",
	}
}
