// Package cleaning implements the language-model-based cleansing stage that
// repairs speech-to-text errors in a single conversation turn.
//
// The [Cleaner] sends the raw turn text to an [llm.Provider] together with
// the rolling window of previously cleaned turns. The model is instructed
// (via a conservative system prompt) to fix transcription errors only and to
// return a structured JSON response containing the cleaned text and an
// itemised list of substitutions.
//
// Model failures never propagate as errors: a timeout, transport failure, or
// empty response produces a fallback result carrying the raw text unchanged,
// confidence low, and a tagged reason. A degraded cleaning result is always
// acceptable; the pipeline must continue. The literal request and response
// are captured on every result for audit, regardless of outcome.
package cleaning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/clarivox/internal/classify"
	"github.com/MrWong99/clarivox/internal/observe"
	"github.com/MrWong99/clarivox/internal/prompt"
	"github.com/MrWong99/clarivox/internal/transcript"
	"github.com/MrWong99/clarivox/pkg/provider/llm"
)

const (
	// DefaultTimeout is the hard bound on one cleaning model call.
	DefaultTimeout = 3 * time.Second

	// defaultTemperature keeps cleaning near-deterministic.
	defaultTemperature = 0.1
)

// Fallback reason tags attached to degraded results.
const (
	ReasonTimeout   = "timeout"
	ReasonTransport = "transport"
	ReasonEmpty     = "empty_response"
	ReasonBadPrompt = "bad_prompt"
)

// systemPrompt is the fixed instruction for the cleaning model. The
// per-turn material (context window, raw text, level directive) is carried
// in the user message built from the rendered template.
const systemPrompt = `You are a transcript cleansing assistant for business conversations.

Your task: fix speech-to-text transcription errors in the provided turn.

Rules:
- ONLY fix words or phrases that appear to be mistranscriptions (misheard words, wrong homophones, garbled names or titles).
- At level "light", do not change grammar, punctuation, or sentence structure.
- At level "full", you may additionally repair grammar broken by the transcription.
- Be conservative: if you are not confident a span is a transcription error, leave it unchanged.
- Use the previous cleaned turns only as context to resolve ambiguity; never copy them into the output.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "cleaned_text": "<full cleaned turn>",
  "confidence": "<high|medium|low>",
  "corrections": [
    {"original": "<original span>", "corrected": "<corrected span>", "confidence": <0.0-1.0>}
  ]
}

If no corrections are needed, return an empty corrections array and cleaned_text equal to the input.`

// userTemplate is the default user-message template when the session does not
// supply its own. It references only the fixed prompt vocabulary.
const userTemplate = `Cleaning level: {{cleaning_level}}

Previous cleaned turns:
{{cleaned_context}}

Business context: {{business_context}}

Turn to clean:
{{raw_text}}`

// modelResponse is the expected JSON structure returned by the model.
type modelResponse struct {
	CleanedText string `json:"cleaned_text"`
	Confidence  string `json:"confidence"`
	Corrections []struct {
		Original   string  `json:"original"`
		Corrected  string  `json:"corrected"`
		Confidence float64 `json:"confidence"`
	} `json:"corrections"`
}

// Result is the outcome of cleaning one turn.
type Result struct {
	// Text is the cleaned text. Empty for transcription-error turns.
	Text string

	// Confidence grades the result.
	Confidence transcript.Confidence

	// Applied is the cleaning level that produced Text.
	Applied transcript.Level

	// Corrections lists substitutions the model made, each tagged with the
	// phonetic verification verdict. Non-nil.
	Corrections []transcript.Correction

	// FallbackReason tags why the fallback path was taken. Empty on the
	// happy path and on synthetic short-circuit results.
	FallbackReason string

	// Exchange captures the literal model request and response.
	Exchange transcript.ModelExchange

	// Duration is the wall-clock time spent in Clean.
	Duration time.Duration
}

// Request carries one turn through Clean.
type Request struct {
	// Turn is the raw turn being cleaned.
	Turn transcript.RawTurn

	// Classification is the classifier's verdict for the turn.
	Classification classify.Classification

	// Window is the rolling cleaned-context window, oldest first, already
	// formatted as "[speaker]: text" lines. Must never contain raw text of
	// previously processed turns.
	Window []string

	// Level is the requested cleaning level (light or full).
	Level transcript.Level

	// Template optionally overrides the default user-message template.
	Template string

	// BusinessContext is the optional business-context string for the
	// template.
	BusinessContext string
}

// Option is a functional option for configuring a [Cleaner].
type Option func(*Cleaner)

// WithTimeout sets the hard bound on one model call. Default: 3s.
func WithTimeout(d time.Duration) Option {
	return func(c *Cleaner) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTemperature sets the model sampling temperature. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(c *Cleaner) {
		c.temperature = temp
	}
}

// WithVerifier sets the phonetic verifier applied to model-reported
// corrections. Default: a [Verifier] with standard thresholds.
func WithVerifier(v *Verifier) Option {
	return func(c *Cleaner) {
		c.verifier = v
	}
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Cleaner) {
		c.metrics = m
	}
}

// Cleaner cleans turns using an [llm.Provider]. It is stateless apart from
// configuration and safe for concurrent use.
type Cleaner struct {
	provider    llm.Provider
	timeout     time.Duration
	temperature float64
	verifier    *Verifier
	metrics     *observe.Metrics
}

// New returns a new [Cleaner] backed by the given provider.
func New(provider llm.Provider, opts ...Option) *Cleaner {
	c := &Cleaner{
		provider:    provider,
		timeout:     DefaultTimeout,
		temperature: defaultTemperature,
		verifier:    NewVerifier(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Clean produces exactly one Result for req. Bypass and transcription-error
// turns short-circuit with a zero-cost synthetic result and no model call.
// Otherwise one bounded model call is made; on timeout, transport failure, or
// an unusable response a fallback result is returned. Clean never returns an
// error for model failures — only for an invalid template, which is a
// configuration problem the caller must fix.
func (c *Cleaner) Clean(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	switch req.Classification.Kind {
	case classify.Bypass:
		return finish(&Result{
			Text:        req.Turn.Text,
			Confidence:  transcript.ConfidenceHigh,
			Applied:     transcript.LevelNone,
			Corrections: []transcript.Correction{},
		}, start), nil

	case classify.TranscriptionError:
		return finish(&Result{
			Text:        "",
			Confidence:  transcript.ConfidenceLow,
			Applied:     transcript.LevelSkip,
			Corrections: []transcript.Correction{},
		}, start), nil
	}

	rendered, err := c.renderUserMessage(req)
	if err != nil {
		// A broken template is rejected before any model call.
		return nil, fmt.Errorf("cleaning: render prompt: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.provider.Complete(callCtx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Temperature:  c.temperature,
		Messages: []llm.Message{
			{Role: "user", Content: rendered},
		},
	})
	if err != nil {
		reason := ReasonTransport
		if errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonTimeout
		}
		c.metrics.RecordModelRequest(ctx, c.provider.Name(), "clean", reason)
		return finish(c.fallback(req, rendered, "", reason), start), nil
	}

	raw := ""
	if resp != nil {
		raw = resp.Content
	}
	if strings.TrimSpace(raw) == "" {
		c.metrics.RecordModelRequest(ctx, c.provider.Name(), "clean", ReasonEmpty)
		return finish(c.fallback(req, rendered, raw, ReasonEmpty), start), nil
	}

	parsed, parseErr := parseResponse(raw)
	if parseErr != nil || strings.TrimSpace(parsed.CleanedText) == "" {
		// Unusable payload: degrade to the raw text rather than failing.
		c.metrics.RecordModelRequest(ctx, c.provider.Name(), "clean", ReasonEmpty)
		return finish(c.fallback(req, rendered, raw, ReasonEmpty), start), nil
	}

	c.metrics.RecordModelRequest(ctx, c.provider.Name(), "clean", "ok")

	result := &Result{
		Text:       parsed.CleanedText,
		Confidence: normaliseConfidence(parsed.Confidence),
		Applied:    req.Level,
		Exchange: transcript.ModelExchange{
			Prompt:   rendered,
			Response: raw,
		},
	}

	result.Corrections = make([]transcript.Correction, 0, len(parsed.Corrections))
	unverified := 0
	for _, corr := range parsed.Corrections {
		if corr.Original == "" || corr.Original == corr.Corrected {
			continue
		}
		ok := c.verifier.Plausible(corr.Original, corr.Corrected)
		if !ok {
			unverified++
		}
		result.Corrections = append(result.Corrections, transcript.Correction{
			Original:   corr.Original,
			Corrected:  corr.Corrected,
			Confidence: corr.Confidence,
			Verified:   ok,
		})
	}

	// Implausible substitutions demote the overall grade one step.
	if unverified > 0 {
		result.Confidence = demote(result.Confidence)
	}

	c.metrics.CleanDuration.Record(ctx, time.Since(start).Seconds())
	return finish(result, start), nil
}

// renderUserMessage renders the session template (or the default) with the
// turn's variables.
func (c *Cleaner) renderUserMessage(req Request) (string, error) {
	tmpl := req.Template
	if tmpl == "" {
		tmpl = userTemplate
	}

	window := strings.Join(req.Window, "\n")
	if window == "" {
		window = "(conversation start)"
	}

	level := req.Level
	if level != transcript.LevelLight && level != transcript.LevelFull {
		level = transcript.LevelFull
	}

	vars := map[string]string{
		prompt.VarRawText:        req.Turn.Text,
		prompt.VarCleanedContext: window,
		prompt.VarCleaningLevel:  string(level),
	}
	if req.BusinessContext != "" {
		vars[prompt.VarBusinessContext] = req.BusinessContext
	}

	rendered, err := prompt.Render(tmpl, vars)
	if err != nil {
		return "", err
	}
	return rendered.Text, nil
}

// fallback builds the degraded result: raw text kept, confidence low,
// tagged reason. The exchange is captured even though the call failed.
func (c *Cleaner) fallback(req Request, renderedPrompt, response, reason string) *Result {
	return &Result{
		Text:           req.Turn.Text,
		Confidence:     transcript.ConfidenceLow,
		Applied:        transcript.LevelFallback,
		Corrections:    []transcript.Correction{},
		FallbackReason: reason,
		Exchange: transcript.ModelExchange{
			Prompt:   renderedPrompt,
			Response: response,
		},
	}
}

// finish backfills the result duration.
func finish(r *Result, start time.Time) *Result {
	r.Duration = time.Since(start)
	return r
}

// parseResponse attempts to unmarshal the model output into a
// [modelResponse]. It strips markdown code fences before parsing.
func parseResponse(content string) (*modelResponse, error) {
	cleaned := stripFences(content)

	var r modelResponse
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return nil, fmt.Errorf("cleaning: parse response: %w", err)
	}
	return &r, nil
}

// stripFences removes optional markdown code fences (```json ... ```) that
// some models wrap around JSON output.
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

// normaliseConfidence maps the model's reported grade onto our enum,
// defaulting to medium for anything unrecognised.
func normaliseConfidence(s string) transcript.Confidence {
	c := transcript.Confidence(strings.ToLower(strings.TrimSpace(s)))
	if c.IsValid() {
		return c
	}
	return transcript.ConfidenceMedium
}

// demote lowers a confidence grade one step.
func demote(c transcript.Confidence) transcript.Confidence {
	switch c {
	case transcript.ConfidenceHigh:
		return transcript.ConfidenceMedium
	default:
		return transcript.ConfidenceLow
	}
}
