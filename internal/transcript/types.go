// Package transcript defines the core turn data model shared across the
// Clarivox cleansing pipeline.
//
// These types form the lingua franca between the classifier, the cleaning
// client, the decision engine, the session state, and the persistence layer.
// Each package defines its own domain types, but cross-cutting turn data
// structures live here to avoid circular imports.
package transcript

import "time"

// Speaker identifies who produced a turn. Beyond the well-known constants,
// arbitrary human speaker labels (e.g. participant names) are permitted and
// are treated as human turns.
type Speaker string

const (
	// SpeakerAIAgent is the system's own conversational agent. Its turns are
	// assumed already clean and bypass the model entirely.
	SpeakerAIAgent Speaker = "ai_agent"

	// SpeakerCustomer is the business contact on the call.
	SpeakerCustomer Speaker = "customer"

	// SpeakerSalesRep is the human representative on the call.
	SpeakerSalesRep Speaker = "sales_rep"
)

// IsMachine reports whether s originates from the system's own agent rather
// than a human. Machine turns carry no end-to-end latency pressure and are
// queued at a lower priority.
func (s Speaker) IsMachine() bool {
	return s == SpeakerAIAgent
}

// Confidence is the coarse confidence grade attached to a cleaned turn.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// IsValid reports whether c is a recognised confidence grade.
func (c Confidence) IsValid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// Level describes which cleaning treatment was applied to a turn.
type Level string

const (
	// LevelNone means the turn was passed through untouched (bypass).
	LevelNone Level = "none"

	// LevelLight requests conservative, word-level fixes only.
	LevelLight Level = "light"

	// LevelFull requests full cleaning including grammar restructuring.
	LevelFull Level = "full"

	// LevelSkip marks a turn excluded from cleaning as a transcription error.
	LevelSkip Level = "skip"

	// LevelFallback marks a turn whose model call failed; the raw text was
	// kept as the cleaned text.
	LevelFallback Level = "fallback"
)

// IsValid reports whether l is a recognised cleaning level.
func (l Level) IsValid() bool {
	switch l {
	case LevelNone, LevelLight, LevelFull, LevelSkip, LevelFallback:
		return true
	}
	return false
}

// RawTurn is a single segmented utterance as received from the speech-to-text
// front end. Immutable once created.
type RawTurn struct {
	// Speaker identifies who produced the turn.
	Speaker Speaker

	// Seq is the ordinal position of the turn within its conversation,
	// starting at 0. Sequence numbers are assigned at ingestion and never
	// reused within a session.
	Seq int

	// Text is the original transcribed text, errors and all.
	Text string
}

// Correction captures a single substitution reported by the cleaning model.
type Correction struct {
	// Original is the text span as it appeared in the raw turn.
	Original string `json:"original"`

	// Corrected is the replacement text.
	Corrected string `json:"corrected"`

	// Confidence is the model's reported confidence for this substitution
	// (0.0–1.0). Zero when the model did not report one.
	Confidence float64 `json:"confidence"`

	// Verified reports whether the substitution passed the phonetic
	// plausibility check.
	Verified bool `json:"verified"`
}

// Timing is the per-stage latency breakdown for one processed turn.
//
// Total is deliberately the sum of the stage timings rather than a wall-clock
// measurement of the whole turn. Downstream consumers depend on this
// definition; do not switch it to measured elapsed time.
type Timing struct {
	Classify time.Duration `json:"classify"`
	Clean    time.Duration `json:"clean"`
	Decide   time.Duration `json:"decide"`
	Total    time.Duration `json:"total"`
}

// Sum recomputes Total from the stage timings.
func (t *Timing) Sum() {
	t.Total = t.Classify + t.Clean + t.Decide
}

// ModelExchange preserves the literal request and response of one model call
// for audit purposes. Captured regardless of call outcome.
type ModelExchange struct {
	// Prompt is the full rendered prompt sent to the model. Empty when the
	// turn short-circuited without a call.
	Prompt string `json:"prompt"`

	// Response is the literal model output before any parsing. Empty on
	// transport failure or when no call was made.
	Response string `json:"response"`
}

// CleanedTurn is the output of the cleaning stage for one RawTurn. Created
// exactly once per (session, RawTurn); never mutated afterwards except to
// backfill the timing breakdown.
type CleanedTurn struct {
	// Raw is the originating turn.
	Raw RawTurn

	// Text is the cleaned text. Empty for transcription-error turns, which
	// occupy a sequence slot but contribute no content to later context.
	Text string

	// Confidence grades how trustworthy the cleaned text is.
	Confidence Confidence

	// Applied records which cleaning treatment produced Text.
	Applied Level

	// Corrections lists the substitutions the model made. Empty (non-nil)
	// when no corrections were needed.
	Corrections []Correction

	// FallbackReason tags why the fallback path was taken ("timeout",
	// "transport", "empty_response"). Empty on the happy path.
	FallbackReason string

	// Exchange is the captured model request/response pair.
	Exchange ModelExchange

	// Timing is the stage latency breakdown, backfilled after creation.
	Timing Timing
}

// ContributesContext reports whether this turn's text may appear in later
// context windows. Transcription-error turns never contribute content.
func (c *CleanedTurn) ContributesContext() bool {
	return c.Applied != LevelSkip && c.Text != ""
}
