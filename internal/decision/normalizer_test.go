package decision

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const longEnough = "This reasoning is comfortably longer than the minimum threshold."

func newTestNormalizer() *Normalizer {
	return NewNormalizer(
		[]string{"DirectoryCreate", "FileWrite", "CommandRun", "RepoDownload"},
		0.8, 10, nil)
}

func TestInterpretCanonicalFields(t *testing.T) {
	n := newTestNormalizer()

	d, err := n.Interpret(`{
		"taskCompleted": false,
		"reasoning": "` + longEnough + `",
		"response": "working on it",
		"nextStep": {
			"requiresOperation": true,
			"operationName": "FileWrite",
			"parameters": {"path": "a.txt", "content": "hi"},
			"confidence": 0.9,
			"assumptions": ["sandbox exists"],
			"risks": ["overwrite"]
		}
	}`)
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}

	want := &Decision{
		TaskCompleted: false,
		Reasoning:     longEnough,
		Response:      "working on it",
		NextStep: &NextStep{
			RequiresOperation: true,
			OperationName:     "FileWrite",
			Parameters:        map[string]any{"path": "a.txt", "content": "hi"},
			Confidence:        0.9,
			Assumptions:       []string{"sandbox exists"},
			Risks:             []string{"overwrite"},
		},
	}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Errorf("decision mismatch (-want +got):\n%s", diff)
	}
}

func TestInterpretSynonyms(t *testing.T) {
	n := newTestNormalizer()

	tests := []struct {
		name string
		raw  string
		chk  func(t *testing.T, d *Decision)
	}{
		{
			name: "done_and_answer",
			raw:  `{"done": true, "answer": "42", "rationale": "` + longEnough + `"}`,
			chk: func(t *testing.T, d *Decision) {
				if !d.TaskCompleted || d.Response != "42" {
					t.Errorf("got %+v", d)
				}
			},
		},
		{
			name: "finished_and_result_snake_case",
			raw:  `{"task_complete": true, "result": "ok", "thoughts": "` + longEnough + `"}`,
			chk: func(t *testing.T, d *Decision) {
				if !d.TaskCompleted || d.Response != "ok" {
					t.Errorf("got %+v", d)
				}
			},
		},
		{
			name: "tool_synonyms_nested",
			raw: `{"done": false, "explanation": "` + longEnough + `",
				"next": {"use_tool": true, "tool": "CommandRun", "args": {"command": "ls"}}}`,
			chk: func(t *testing.T, d *Decision) {
				if d.NextStep == nil || !d.NextStep.RequiresOperation {
					t.Fatalf("next step missing: %+v", d)
				}
				if d.NextStep.OperationName != "CommandRun" {
					t.Errorf("operation = %q", d.NextStep.OperationName)
				}
				if d.NextStep.Parameters["command"] != "ls" {
					t.Errorf("parameters = %v", d.NextStep.Parameters)
				}
			},
		},
		{
			name: "flattened_step_fields",
			raw: `{"completed": false, "reasoning": "` + longEnough + `",
				"requires_tool": true, "tool_name": "FileWrite", "params": {"path": "x"}}`,
			chk: func(t *testing.T, d *Decision) {
				if d.NextStep == nil || d.NextStep.OperationName != "FileWrite" {
					t.Fatalf("flattened step not collected: %+v", d.NextStep)
				}
			},
		},
		{
			name: "unknown_fields_ignored",
			raw: `{"done": true, "answer": "x", "reasoning": "` + longEnough + `",
				"model_version": "v3", "usage": {"tokens": 900}}`,
			chk: func(t *testing.T, d *Decision) {
				if !d.TaskCompleted {
					t.Errorf("unknown fields perturbed the decision: %+v", d)
				}
			},
		},
		{
			name: "string_bool_tolerated",
			raw:  `{"finished": "true", "response": "y", "reasoning": "` + longEnough + `"}`,
			chk: func(t *testing.T, d *Decision) {
				if !d.TaskCompleted {
					t.Errorf("string true not accepted")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := n.Interpret(tt.raw)
			if err != nil {
				t.Fatalf("Interpret failed: %v", err)
			}
			tt.chk(t, d)
		})
	}
}

// The completion conflict rule is load-bearing: completed=true with any
// non-null next step means more work is implied.
func TestCompletionConflictRule(t *testing.T) {
	n := newTestNormalizer()

	d, err := n.Interpret(`{"taskCompleted": true, "reasoning": "` + longEnough + `",
		"nextStep": {"requiresOperation": true, "operationName": "FileWrite", "confidence": 0.95}}`)
	if err != nil {
		t.Fatal(err)
	}
	if d.TaskCompleted {
		t.Error("completion flag survived a non-null next step")
	}
	if d.NextStep == nil {
		t.Error("next step was dropped")
	}
}

func TestConfidenceGate(t *testing.T) {
	n := newTestNormalizer()

	d, err := n.Interpret(`{"taskCompleted": true, "reasoning": "` + longEnough + `",
		"nextStep": {"confidence": 0.5}}`)
	if err != nil {
		t.Fatal(err)
	}
	if d.TaskCompleted {
		t.Error("low-confidence completion was accepted")
	}

	// Flattened confidence with a null next step also gates.
	d, err = n.Interpret(`{"taskCompleted": true, "reasoning": "` + longEnough + `",
		"confidence": 0.3, "nextStep": null, "response": "done"}`)
	if err != nil {
		t.Fatal(err)
	}
	if d.TaskCompleted {
		t.Error("low flattened confidence was accepted")
	}
	if d.NextStep != nil {
		t.Error("stray confidence fabricated a next step")
	}

	// Confident completion passes.
	d, err = n.Interpret(`{"taskCompleted": true, "reasoning": "` + longEnough + `",
		"confidence": 0.95, "response": "done"}`)
	if err != nil {
		t.Fatal(err)
	}
	if !d.TaskCompleted {
		t.Error("confident completion was downgraded")
	}
}

func TestReasoningGate(t *testing.T) {
	n := newTestNormalizer()

	d, err := n.Interpret(`{"taskCompleted": true, "reasoning": "ok", "response": "done"}`)
	if err != nil {
		t.Fatal(err)
	}
	if d.TaskCompleted {
		t.Error("insufficiently justified completion was accepted")
	}
	if d.NextStep != nil {
		t.Error("synthetic decision should carry no next step")
	}
	if d.Reasoning == "ok" {
		t.Error("synthetic decision kept the rejected reasoning")
	}
}

func TestOperationInference(t *testing.T) {
	n := newTestNormalizer()

	d, err := n.Interpret(`{"done": false,
		"reasoning": "I will use the directory create tool to make the output folder first."}`)
	if err != nil {
		t.Fatal(err)
	}
	if d.NextStep == nil {
		t.Fatal("no next step inferred")
	}
	if !d.NextStep.RequiresOperation {
		t.Error("requiresOperation not inferred")
	}
	if d.NextStep.OperationName != "DirectoryCreate" {
		t.Errorf("inferred operation = %q, want DirectoryCreate", d.NextStep.OperationName)
	}
}

func TestOperationInferenceRespectsExplicitFlag(t *testing.T) {
	n := newTestNormalizer()

	// requiresOperation explicitly false wins over narrating reasoning.
	d, err := n.Interpret(`{"done": false,
		"reasoning": "Earlier I chose to use the file write tool, but nothing is needed now.",
		"nextStep": {"requiresOperation": false}}`)
	if err != nil {
		t.Fatal(err)
	}
	if d.NextStep != nil && d.NextStep.RequiresOperation {
		t.Error("explicit requiresOperation=false was overridden")
	}
}

func TestInterpretMalformed(t *testing.T) {
	n := newTestNormalizer()

	for _, raw := range []string{
		"",
		"no json here at all",
		"{ broken json",
		`{"a": }`,
	} {
		if _, err := n.Interpret(raw); !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("Interpret(%q) error = %v, want ErrMalformedResponse", raw, err)
		}
	}
}

func TestInterpretSkipsUnparseableCandidates(t *testing.T) {
	n := newTestNormalizer()

	// The first balanced region is not valid JSON; the second is.
	raw := `{oops: unquoted} {"done": true, "response": "fine", "reasoning": "` + longEnough + `"}`
	d, err := n.Interpret(raw)
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	if !d.TaskCompleted || d.Response != "fine" {
		t.Errorf("got %+v", d)
	}
}

func TestCanonicalKey(t *testing.T) {
	tests := map[string]string{
		"taskCompleted":  "taskcompleted",
		"task_completed": "taskcompleted",
		"Task-Completed": "taskcompleted",
		"TASK COMPLETED": "taskcompleted",
		"next.step":      "nextstep",
	}
	for in, want := range tests {
		if got := canonicalKey(in); got != want {
			t.Errorf("canonicalKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSplitCamel(t *testing.T) {
	got := splitCamel("RepoDownload")
	want := []string{"Repo", "Download"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("splitCamel mismatch (-want +got):\n%s", diff)
	}
}
