package loop

import (
	"encoding/json"
	"fmt"
	"strings"

	"taskforge/internal/operation"
)

// decisionSchema instructs the backend on the reply format. Kept as a
// literal example rather than a formal schema; models follow examples
// more reliably.
const decisionSchema = `{
  "taskCompleted": false,
  "reasoning": "why this step is needed",
  "response": "progress summary for the user",
  "nextStep": {
    "requiresOperation": true,
    "operationName": "DirectoryCreate",
    "parameters": {"path": "example"},
    "confidence": 0.9
  }
}`

const continuePrompt = `Continue working on the task. Respond with a JSON object in the same format as before. Set "taskCompleted": true with "nextStep": null only when the task is fully done.`

func (l *Loop) initialPrompt(request string) string {
	var b strings.Builder
	b.WriteString("You are an autonomous task agent. Work on the following request step by step.\n\n")
	b.WriteString("Request: ")
	b.WriteString(request)
	b.WriteString("\n\nAvailable operations:\n")
	for _, name := range l.registry.Names() {
		b.WriteString("  - ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	b.WriteString("\nRespond with exactly one JSON object of this shape:\n")
	b.WriteString(decisionSchema)
	b.WriteString("\n\nOne operation per response. Set \"taskCompleted\": true with \"nextStep\": null only when the task is fully done.")
	return b.String()
}

// operationResultPrompt narrates an operation's outcome back to the
// backend, including failures, so it can reconsider its plan.
func operationResultPrompt(name string, result *operation.Result) string {
	var b strings.Builder
	if result.Success {
		fmt.Fprintf(&b, "Operation %q succeeded", name)
		if result.MethodUsed != "" {
			fmt.Fprintf(&b, " (method: %s, attempts: %d)", result.MethodUsed, result.TotalAttempts)
		}
		b.WriteString(".\n")
		if result.Output != nil {
			if out, err := json.Marshal(result.Output); err == nil {
				fmt.Fprintf(&b, "Output: %s\n", truncate(string(out), 4000))
			}
		}
	} else {
		fmt.Fprintf(&b, "Operation %q failed: %s\n", name, result.ErrorMessage)
		b.WriteString("Consider a different approach or different parameters.\n")
	}
	b.WriteString("\nContinue with the next step. Respond with a JSON object in the same format as before.")
	return b.String()
}

func boundaryViolationPrompt(name, reason string) string {
	return fmt.Sprintf("Operation %q was rejected: %s.\n\nPaths outside the session workspace are never accessible and asking again will be rejected again. Use a path relative to the workspace root and respond with a JSON object in the same format as before.",
		name, reason)
}

func unknownOperationPrompt(name string, known []string) string {
	return fmt.Sprintf("There is no operation named %q. Available operations: %s.\n\nChoose one of these and respond with a JSON object in the same format as before.",
		name, strings.Join(known, ", "))
}
