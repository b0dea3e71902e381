package decision

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// Canonical field names used by the synonym table.
const (
	fieldTaskCompleted     = "taskCompleted"
	fieldResponse          = "response"
	fieldReasoning         = "reasoning"
	fieldNextStep          = "nextStep"
	fieldRequiresOperation = "requiresOperation"
	fieldOperationName     = "operationName"
	fieldParameters        = "parameters"
	fieldConfidence        = "confidence"
	fieldAssumptions       = "assumptions"
	fieldRisks             = "risks"
)

// synonyms maps case-folded, separator-stripped property names onto
// canonical Decision fields. Backends drift between runs (`taskComplete`,
// `done`, `finished`, ...); unknown properties are ignored, not errors.
var synonyms = map[string]string{
	"taskcompleted": fieldTaskCompleted,
	"taskcomplete":  fieldTaskCompleted,
	"done":          fieldTaskCompleted,
	"finished":      fieldTaskCompleted,
	"complete":      fieldTaskCompleted,
	"completed":     fieldTaskCompleted,
	"iscomplete":    fieldTaskCompleted,

	"response":    fieldResponse,
	"answer":      fieldResponse,
	"result":      fieldResponse,
	"output":      fieldResponse,
	"finalanswer": fieldResponse,
	"message":     fieldResponse,

	"reasoning":   fieldReasoning,
	"rationale":   fieldReasoning,
	"thought":     fieldReasoning,
	"thoughts":    fieldReasoning,
	"thinking":    fieldReasoning,
	"explanation": fieldReasoning,

	"nextstep":   fieldNextStep,
	"next":       fieldNextStep,
	"step":       fieldNextStep,
	"action":     fieldNextStep,
	"nextaction": fieldNextStep,

	"requiresoperation": fieldRequiresOperation,
	"requirestool":      fieldRequiresOperation,
	"usetool":           fieldRequiresOperation,
	"useoperation":      fieldRequiresOperation,
	"needstool":         fieldRequiresOperation,
	"toolrequired":      fieldRequiresOperation,

	"operationname": fieldOperationName,
	"operation":     fieldOperationName,
	"toolname":      fieldOperationName,
	"tool":          fieldOperationName,
	"name":          fieldOperationName,

	"parameters": fieldParameters,
	"params":     fieldParameters,
	"arguments":  fieldParameters,
	"args":       fieldParameters,
	"input":      fieldParameters,
	"inputs":     fieldParameters,

	"confidence": fieldConfidence,
	"certainty":  fieldConfidence,
	"score":      fieldConfidence,

	"assumptions": fieldAssumptions,
	"assumption":  fieldAssumptions,

	"risks":    fieldRisks,
	"risk":     fieldRisks,
	"concerns": fieldRisks,
	"warnings": fieldRisks,
}

// invocationPhrases signal that the reasoning narrates operation usage even
// when the structured flag was never set.
var invocationPhrases = []string{
	"use the", "using the", "invoke", "call the", "run the",
	"need to use", "will use", "should use", "execute the",
	"use a tool", "use the tool", "use the operation",
}

// defaultConfidence is assumed for a next step that carries none.
const defaultConfidence = 0.5

// Normalizer maps extracted backend objects onto the canonical Decision
// schema and applies the pessimistic acceptance gates.
type Normalizer struct {
	// KnownOperations is the catalog, used to infer an operation name
	// from reasoning text when the backend forgets to flag one.
	KnownOperations []string

	// MinCompletionConfidence downgrades completions reported below it.
	MinCompletionConfidence float64

	// MinReasoningLength rejects responses with shorter reasoning.
	MinReasoningLength int

	logger *zap.Logger

	// Parse statistics for monitoring.
	stats Stats
}

// Stats tracks normalization outcomes.
type Stats struct {
	Processed      int
	Malformed      int
	ConflictsFixed int
	GateDowngrades int
	GateRejections int
	InferredOps    int
}

// NewNormalizer builds a normalizer with the given acceptance thresholds.
func NewNormalizer(knownOps []string, minConfidence float64, minReasoning int, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		KnownOperations:         knownOps,
		MinCompletionConfidence: minConfidence,
		MinReasoningLength:      minReasoning,
		logger:                  logger,
	}
}

// Stats returns a copy of the accumulated parse statistics.
func (n *Normalizer) Stats() Stats { return n.stats }

// Interpret runs the full pipeline on raw backend text: extract JSON
// candidates, parse the first one that unmarshals, normalize field names,
// and apply the validation gate. Returns ErrMalformedResponse when nothing
// usable can be produced.
func (n *Normalizer) Interpret(raw string) (*Decision, error) {
	n.stats.Processed++

	for _, candidate := range Candidates(raw) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
			continue
		}
		d, confidence, confidenceSet := n.normalize(obj)
		return n.gate(d, confidence, confidenceSet), nil
	}

	n.stats.Malformed++
	return nil, ErrMalformedResponse
}

// Normalize maps an already-parsed object onto a Decision and applies the
// validation gate.
func (n *Normalizer) Normalize(obj map[string]any) *Decision {
	n.stats.Processed++
	d, confidence, confidenceSet := n.normalize(obj)
	return n.gate(d, confidence, confidenceSet)
}

// stepFields accumulates next-step fields seen either nested or flattened
// at the top level.
type stepFields struct {
	requiresOperation    bool
	requiresOperationSet bool
	operationName        string
	parameters           map[string]any
	confidence           float64
	confidenceSet        bool
	assumptions          []string
	risks                []string
	present              bool
}

func (n *Normalizer) normalize(obj map[string]any) (*Decision, float64, bool) {
	d := &Decision{}

	var nested stepFields
	var flat stepFields
	nextStepExplicitNull := false

	for key, value := range obj {
		switch synonyms[canonicalKey(key)] {
		case fieldTaskCompleted:
			d.TaskCompleted = asBool(value)
		case fieldResponse:
			if s, ok := value.(string); ok {
				d.Response = s
			}
		case fieldReasoning:
			if s, ok := value.(string); ok {
				d.Reasoning = s
			}
		case fieldNextStep:
			if value == nil {
				nextStepExplicitNull = true
				continue
			}
			if m, ok := value.(map[string]any); ok {
				nested = n.collectStep(m)
				nested.present = true
			}
		default:
			// The bare "name" synonym is only trusted inside a
			// nested next-step object; at the top level it is too
			// often an unrelated field.
			if canonicalKey(key) == "name" {
				continue
			}
			n.collectFlat(&flat, key, value)
		}
	}

	step := nested
	if !nested.present {
		// Some runs flatten the decision fields at the top level. A
		// flattened step only counts when it names an operation or
		// sets the requires flag; a stray top-level confidence alone
		// must not fabricate more work.
		if flat.requiresOperationSet || flat.operationName != "" {
			step = flat
			step.present = true
		}
	}

	confidence := step.confidence
	confidenceSet := step.confidenceSet
	if !confidenceSet && flat.confidenceSet {
		confidence = flat.confidence
		confidenceSet = true
	}

	// Heuristic safety net: backends sometimes narrate operation usage in
	// the reasoning without setting the structured flag.
	if !step.requiresOperationSet && !nextStepExplicitNull && reasoningImpliesOperation(d.Reasoning) {
		if name := n.inferOperationName(d.Reasoning); name != "" {
			step.requiresOperation = true
			step.requiresOperationSet = true
			if step.operationName == "" {
				step.operationName = name
			}
			step.present = true
			n.stats.InferredOps++
			n.logger.Debug("inferred operation from reasoning",
				zap.String("operation", name))
		}
	}

	if step.present {
		if !step.confidenceSet {
			step.confidence = defaultConfidence
		}
		if step.parameters == nil {
			step.parameters = make(map[string]any)
		}
		d.NextStep = &NextStep{
			RequiresOperation: step.requiresOperation,
			OperationName:     step.operationName,
			Parameters:        step.parameters,
			Confidence:        step.confidence,
			Assumptions:       step.assumptions,
			Risks:             step.risks,
		}
	}

	// Completion conflict rule: a true completion flag accompanied by a
	// non-null next step means more work is implied, so the completion is
	// overridden. Unreliable backends emit this combination routinely;
	// the override is load-bearing and deliberately not "fixed".
	if d.TaskCompleted && d.NextStep != nil {
		d.TaskCompleted = false
		n.stats.ConflictsFixed++
		n.logger.Debug("completion flag overridden by non-null next step")
	}

	return d, confidence, confidenceSet
}

// collectStep maps a nested next-step object through the same synonym
// table.
func (n *Normalizer) collectStep(m map[string]any) stepFields {
	var sf stepFields
	for key, value := range m {
		n.collectFlat(&sf, key, value)
	}
	return sf
}

// collectFlat records one next-step field, nested or flattened.
func (n *Normalizer) collectFlat(sf *stepFields, key string, value any) {
	switch synonyms[canonicalKey(key)] {
	case fieldRequiresOperation:
		sf.requiresOperation = asBool(value)
		sf.requiresOperationSet = true
	case fieldOperationName:
		if s, ok := value.(string); ok {
			sf.operationName = s
		}
	case fieldParameters:
		if m, ok := value.(map[string]any); ok {
			sf.parameters = m
		}
	case fieldConfidence:
		if f, ok := asFloat(value); ok {
			sf.confidence = clamp01(f)
			sf.confidenceSet = true
		}
	case fieldAssumptions:
		sf.assumptions = asStringSlice(value)
	case fieldRisks:
		sf.risks = asStringSlice(value)
	}
}

// gate applies the pessimistic acceptance criteria: prefer continuing the
// loop over prematurely declaring success.
func (n *Normalizer) gate(d *Decision, confidence float64, confidenceSet bool) *Decision {
	if len(strings.TrimSpace(d.Reasoning)) < n.MinReasoningLength {
		n.stats.GateRejections++
		n.logger.Warn("decision rejected: insufficient reasoning",
			zap.Int("length", len(d.Reasoning)),
			zap.Int("minimum", n.MinReasoningLength))
		return Synthetic(fmt.Sprintf(
			"backend response rejected: reasoning too short (%d chars, minimum %d)",
			len(strings.TrimSpace(d.Reasoning)), n.MinReasoningLength))
	}

	if d.TaskCompleted {
		conf := confidence
		if !confidenceSet {
			// A completion with no reported confidence is taken at
			// face value; the gate only acts on explicit low scores.
			conf = 1.0
		}
		if conf < n.MinCompletionConfidence {
			d.TaskCompleted = false
			n.stats.GateDowngrades++
			n.logger.Warn("completion downgraded: low confidence",
				zap.Float64("confidence", conf),
				zap.Float64("minimum", n.MinCompletionConfidence))
		}
	}

	return d
}

// reasoningImpliesOperation reports whether the reasoning text narrates
// operation usage.
func reasoningImpliesOperation(reasoning string) bool {
	lower := strings.ToLower(reasoning)
	for _, phrase := range invocationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// inferOperationName matches known operation names against the reasoning
// text. An operation matches when every word of its camel-case name occurs
// in the reasoning.
func (n *Normalizer) inferOperationName(reasoning string) string {
	lower := strings.ToLower(reasoning)
	for _, name := range n.KnownOperations {
		words := splitCamel(name)
		if len(words) == 0 {
			continue
		}
		all := true
		for _, w := range words {
			if !strings.Contains(lower, strings.ToLower(w)) {
				all = false
				break
			}
		}
		if all {
			return name
		}
	}
	return ""
}

// canonicalKey case-folds a property name and strips separators so
// "task_completed", "Task-Completed" and "taskCompleted" all collapse to
// the same lookup key.
func canonicalKey(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '_', '-', ' ', '.':
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// splitCamel splits "DirectoryCreate" into ["Directory", "Create"].
func splitCamel(s string) []string {
	var words []string
	start := 0
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			words = append(words, s[start:i])
			start = i
		}
	}
	if start < len(s) {
		words = append(words, s[start:])
	}
	return words
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "1":
			return true
		}
	case float64:
		return t != 0
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(t), "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

func asStringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	}
	return nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
