// Package decision implements the function-calling loop that turns cleaned
// conversation content into mutations of the shared customer profile.
//
// The [Engine] assembles a decision prompt from the current profile, the full
// function-call history, the rendered catalog, and the recent cleaned turns.
// It makes one model call per turn, tolerant-parses the structured payload,
// validates every requested call against the catalog, and executes valid
// calls against the single shared [profile.Profile] — capturing before/after
// snapshots and a field-level diff in an append-only [catalog.CallRecord].
//
// Unlike the cleaning stage, failure here is not degradable: an unparseable
// decision payload or a failing function call raises a critical error that
// the orchestrator uses to halt the rest of the run. A wrongly mutated
// profile poisons every later turn, so the engine prefers stopping over
// continuing inconsistently.
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/clarivox/internal/catalog"
	"github.com/MrWong99/clarivox/internal/observe"
	"github.com/MrWong99/clarivox/internal/profile"
	"github.com/MrWong99/clarivox/internal/transcript"
	"github.com/MrWong99/clarivox/pkg/provider/llm"
)

const (
	// DefaultTimeout bounds one decision model call.
	DefaultTimeout = 3 * time.Second

	defaultTemperature = 0.0
)

// systemPrompt instructs the decision model. The per-turn material is
// assembled by buildContext.
const systemPrompt = `You are a CRM assistant analysing a live business conversation.

After each customer or sales-rep turn you decide whether anything said warrants updating the customer profile, using ONLY the functions listed in the catalog below. Most turns need no action.

Rules:
- Call a function only when the turn contains concrete new information.
- Never repeat a call already present in the call history with the same parameters.
- Prefer add_insight for soft observations; reserve profile field updates for stated facts.
- Use exactly the parameter names and allowed values from the catalog.

Respond with ONLY a JSON object (no markdown, no prose):
{
  "rationale": "<one or two sentences on your reasoning>",
  "calls": [
    {"function": "<name>", "params": {"<key>": "<value>"}}
  ]
}

Return an empty calls array when no action is needed.`

// ParseError reports an empty or structurally unusable decision payload.
// It is a critical failure: the orchestrator halts the run.
type ParseError struct {
	// Response is the literal model output that failed to parse.
	Response string

	// Err is the underlying cause, nil when the response was empty.
	Err error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return "decision: empty model response"
	}
	return fmt.Sprintf("decision: unusable model response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ExecutionError reports a requested call that failed validation or whose
// handler returned an error. Critical: the orchestrator halts the run. The
// failure is still recorded in the call history before this error is raised.
type ExecutionError struct {
	// Function is the requested function name.
	Function string

	// Stage is "validate" or "execute".
	Stage string

	// Err is the underlying cause.
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("decision: %s %s: %v", e.Stage, e.Function, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// call is one entry of the model's requested calls.
type call struct {
	Function string         `json:"function"`
	Params   map[string]any `json:"params"`
}

// payload is the expected decision response structure.
type payload struct {
	Rationale string `json:"rationale"`
	Calls     []call `json:"calls"`
}

// Outcome is the result of one decision pass over a turn.
type Outcome struct {
	// Rationale is the model's free-text reasoning.
	Rationale string

	// Records holds one entry per executed call, in request order, including
	// failed calls. Appended by the caller to the session history. Non-nil.
	Records []catalog.CallRecord

	// Exchange captures the literal model request and response.
	Exchange transcript.ModelExchange

	// Duration is the wall-clock time spent in Decide.
	Duration time.Duration
}

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithTimeout sets the hard bound on one decision model call. Default: 3s.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithTemperature sets the model sampling temperature. Default: 0.
func WithTemperature(temp float64) Option {
	return func(e *Engine) {
		e.temperature = temp
	}
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// Engine is the function-calling decision engine. Stateless apart from
// configuration; the per-session state (profile, history) is passed in on
// every call. Safe for concurrent use across sessions.
type Engine struct {
	provider    llm.Provider
	catalog     *catalog.Catalog
	timeout     time.Duration
	temperature float64
	metrics     *observe.Metrics
}

// New returns an [Engine] deciding against the given catalog.
func New(provider llm.Provider, cat *catalog.Catalog, opts ...Option) *Engine {
	e := &Engine{
		provider:    provider,
		catalog:     cat,
		timeout:     DefaultTimeout,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// Input carries one cleaned turn and its session context through Decide.
type Input struct {
	// Turn is the cleaned turn under consideration. Must have non-empty text.
	Turn *transcript.CleanedTurn

	// Profile is the single shared customer profile. Mutated in place by
	// executed calls.
	Profile *profile.Profile

	// History is the full function-call history for the session, oldest
	// first.
	History []catalog.CallRecord

	// Window is the recent cleaned-turn window, oldest first, formatted as
	// "[speaker]: text" lines.
	Window []string
}

// Decide runs one decision pass. On success the returned Outcome carries the
// records for every executed call (the caller appends them to the history).
// A *ParseError or *ExecutionError is critical and must halt the run; the
// Outcome is still returned alongside it so records produced before the
// failure are preserved.
func (e *Engine) Decide(ctx context.Context, in Input) (*Outcome, error) {
	start := time.Now()

	prompt := e.buildContext(in)

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.provider.Complete(callCtx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Temperature:  e.temperature,
		Messages: []llm.Message{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		e.metrics.RecordModelRequest(ctx, e.provider.Name(), "decide", "error")
		out := newOutcome(prompt, "", start)
		return out, &ParseError{Err: fmt.Errorf("model call: %w", err)}
	}

	raw := ""
	if resp != nil {
		raw = resp.Content
	}
	out := newOutcome(prompt, raw, start)

	if strings.TrimSpace(raw) == "" {
		e.metrics.RecordModelRequest(ctx, e.provider.Name(), "decide", "empty")
		return out, &ParseError{Response: raw}
	}

	var p payload
	if err := json.Unmarshal([]byte(stripFences(raw)), &p); err != nil {
		e.metrics.RecordModelRequest(ctx, e.provider.Name(), "decide", "parse_error")
		return out, &ParseError{Response: raw, Err: err}
	}
	e.metrics.RecordModelRequest(ctx, e.provider.Name(), "decide", "ok")
	out.Rationale = p.Rationale

	for _, c := range p.Calls {
		record, err := e.executeCall(ctx, c, in)
		out.Records = append(out.Records, record)
		if err != nil {
			out.Duration = time.Since(start)
			return out, err
		}
	}

	e.metrics.DecideDuration.Record(ctx, time.Since(start).Seconds())
	out.Duration = time.Since(start)
	return out, nil
}

// executeCall validates and runs one requested call. The returned record is
// always appended by the caller, success or failure.
func (e *Engine) executeCall(ctx context.Context, c call, in Input) (catalog.CallRecord, error) {
	record := catalog.CallRecord{
		Function: c.Function,
		Params:   c.Params,
		TurnSeq:  in.Turn.Raw.Seq,
		CalledAt: time.Now(),
		Before:   in.Profile.Clone(),
	}

	if err := e.catalog.ValidateCall(c.Function, c.Params); err != nil {
		record.Error = err.Error()
		record.After = in.Profile.Clone()
		e.metrics.RecordFunctionCall(ctx, c.Function, "invalid")
		return record, &ExecutionError{Function: c.Function, Stage: "validate", Err: err}
	}

	fn, _ := e.catalog.Lookup(c.Function)
	result, err := fn.Handler(ctx, c.Params, in.Profile)
	record.After = in.Profile.Clone()
	record.Changes = profile.Diff(record.Before, record.After)
	if err != nil {
		record.Error = err.Error()
		e.metrics.RecordFunctionCall(ctx, c.Function, "failed")
		return record, &ExecutionError{Function: c.Function, Stage: "execute", Err: err}
	}

	record.Result = result
	record.Success = true
	e.metrics.RecordFunctionCall(ctx, c.Function, "ok")
	return record, nil
}

// buildContext assembles the decision prompt: profile summary, call history,
// catalog, and the recent cleaned-turn window.
func (e *Engine) buildContext(in Input) string {
	window := strings.Join(in.Window, "\n")
	if window == "" {
		window = "(conversation start)"
	}

	var sb strings.Builder
	sb.WriteString("Current customer profile:\n")
	sb.WriteString(in.Profile.Summary())
	sb.WriteString("\n\nFunction call history:\n")
	sb.WriteString(catalog.HistoryBlock(in.History))
	sb.WriteString("\n\nAvailable functions:\n")
	sb.WriteString(e.catalog.RenderPromptBlock())
	sb.WriteString("\n\nRecent conversation:\n")
	sb.WriteString(window)
	fmt.Fprintf(&sb, "\n\nLatest turn:\n[%s]: %s\n", in.Turn.Raw.Speaker, in.Turn.Text)
	return sb.String()
}

func newOutcome(prompt, response string, start time.Time) *Outcome {
	return &Outcome{
		Records: []catalog.CallRecord{},
		Exchange: transcript.ModelExchange{
			Prompt:   prompt,
			Response: response,
		},
		Duration: time.Since(start),
	}
}

// stripFences removes optional markdown code fences around JSON output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
