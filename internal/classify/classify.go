// Package classify decides how a single transcript turn should be handled
// before any model call is made.
//
// Classification is a pure function of (speaker, raw text): turns from the
// system's own conversational agent bypass cleaning entirely, garbage turns
// (too short, wrong script, filler-only, degenerate repetition) are marked as
// transcription errors and excluded from downstream context, and everything
// else proceeds to the cleaning model.
package classify

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind is the classification outcome for a turn.
type Kind int

const (
	// NeedsCleaning routes the turn through the cleaning model.
	NeedsCleaning Kind = iota

	// Bypass skips the model: the speaker's output is assumed already clean.
	Bypass

	// TranscriptionError marks the turn as unusable garbage. It keeps its
	// sequence slot but contributes no content downstream.
	TranscriptionError
)

// String returns the human-readable name of the classification.
func (k Kind) String() string {
	switch k {
	case NeedsCleaning:
		return "needs_cleaning"
	case Bypass:
		return "bypass"
	case TranscriptionError:
		return "transcription_error"
	default:
		return "unknown"
	}
}

// Classification pairs the outcome with the rule that produced it.
type Classification struct {
	Kind Kind

	// Reason names the rule that fired ("ai_agent", "too_short",
	// "non_latin_ratio", "single_script", "dominant_token", "filler_only").
	// Empty for NeedsCleaning.
	Reason string
}

const (
	// maxGarbageLen is the rune count at or below which a turn is treated as
	// a transcription artifact rather than speech.
	maxGarbageLen = 2

	// nonLatinRatio is the fraction of non-Latin script characters above
	// which a turn is considered a mistranscription.
	nonLatinRatio = 0.30

	// dominantTokenRatio flags degenerate repetition: one token accounting
	// for more than this share of all tokens.
	dominantTokenRatio = 0.50

	// dominantTokenMin is the minimum token count before the dominant-token
	// rule applies; short utterances legitimately repeat words.
	dominantTokenMin = 4
)

// bypassSpeakers is the fixed set of speaker roles whose output is assumed
// already clean.
var bypassSpeakers = map[string]struct{}{
	"ai_agent":  {},
	"assistant": {},
	"bot":       {},
}

// singleScriptPattern matches text consisting entirely of characters from a
// single non-Latin script block (plus whitespace and basic punctuation) —
// a common STT failure mode where a language model hallucinates another
// alphabet.
var singleScriptPattern = regexp.MustCompile(`^[\p{Han}\p{Hiragana}\p{Katakana}\p{Hangul}\p{Cyrillic}\p{Arabic}\s.,!?]+$`)

// fillerPatterns match canonical filler-only utterances.
var fillerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(um+|uh+|hmm+|mhm+|mm+|er+|ah+|oh+)[\s.,!]*$`),
	regexp.MustCompile(`(?i)^((um|uh|hmm|er|ah)[\s.,]+)+(um|uh|hmm|er|ah)[\s.,!]*$`),
}

// Classify determines how the turn (speaker, rawText) should be handled.
// It is pure and side-effect-free: identical inputs always yield identical
// classifications.
func Classify(speaker, rawText string) Classification {
	if _, ok := bypassSpeakers[strings.ToLower(strings.TrimSpace(speaker))]; ok {
		return Classification{Kind: Bypass, Reason: "ai_agent"}
	}

	text := strings.TrimSpace(rawText)

	if utf8.RuneCountInString(text) <= maxGarbageLen {
		return Classification{Kind: TranscriptionError, Reason: "too_short"}
	}

	if ratio := nonLatinShare(text); ratio > nonLatinRatio {
		return Classification{Kind: TranscriptionError, Reason: "non_latin_ratio"}
	}

	if singleScriptPattern.MatchString(text) {
		return Classification{Kind: TranscriptionError, Reason: "single_script"}
	}

	for _, p := range fillerPatterns {
		if p.MatchString(text) {
			return Classification{Kind: TranscriptionError, Reason: "filler_only"}
		}
	}

	if hasDominantToken(text) {
		return Classification{Kind: TranscriptionError, Reason: "dominant_token"}
	}

	return Classification{Kind: NeedsCleaning}
}

// nonLatinShare returns the fraction of letters in text that belong to a
// script other than Latin. Digits, punctuation, and whitespace are ignored.
func nonLatinShare(text string) float64 {
	var letters, nonLatin int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if !unicode.Is(unicode.Latin, r) {
			nonLatin++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(nonLatin) / float64(letters)
}

// hasDominantToken reports whether a single token accounts for more than
// dominantTokenRatio of all tokens. Catches STT loops like "the the the the".
func hasDominantToken(text string) bool {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) < dominantTokenMin {
		return false
	}

	counts := make(map[string]int, len(tokens))
	max := 0
	for _, tok := range tokens {
		tok = strings.Trim(tok, ".,!?;:")
		if tok == "" {
			continue
		}
		counts[tok]++
		if counts[tok] > max {
			max = counts[tok]
		}
	}
	return float64(max) > dominantTokenRatio*float64(len(tokens))
}
