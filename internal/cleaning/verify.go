package cleaning

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.55
	defaultFuzzyThreshold    = 0.80
)

// VerifierOption is a functional option for configuring a [Verifier].
type VerifierOption func(*Verifier)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-overlapping substitution to be accepted. Default: 0.55.
func WithPhoneticThreshold(threshold float64) VerifierOption {
	return func(v *Verifier) {
		v.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when the
// substitution has no phonetic overlap. Default: 0.80.
func WithFuzzyThreshold(threshold float64) VerifierOption {
	return func(v *Verifier) {
		v.fuzzyThreshold = threshold
	}
}

// Verifier checks that a model-reported correction is a plausible fix for a
// mishearing rather than an invented rewrite. A substitution is plausible
// when the original and corrected spans either share a Double Metaphone code
// (they sound alike) and are reasonably similar as strings, or are very close
// as strings outright. Read-only after construction; safe for concurrent use.
type Verifier struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewVerifier returns a [Verifier] with the default thresholds.
func NewVerifier(opts ...VerifierOption) *Verifier {
	v := &Verifier{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Plausible reports whether corrected is a phonetically credible replacement
// for original. Multi-word spans are compared both as full strings and as
// their best-aligned word pairs, so "vector of" vs "Director of" is judged on
// "vector"/"director" rather than penalised for the shared "of".
func (v *Verifier) Plausible(original, corrected string) bool {
	origLower := strings.ToLower(strings.TrimSpace(original))
	corrLower := strings.ToLower(strings.TrimSpace(corrected))
	if origLower == "" || corrLower == "" {
		return false
	}
	if origLower == corrLower {
		return true
	}

	origTokens := strings.Fields(origLower)
	corrTokens := strings.Fields(corrLower)

	// Drop word pairs that are identical in both spans; only the changed
	// material should drive the verdict.
	origTokens, corrTokens = stripCommonTokens(origTokens, corrTokens)
	if len(origTokens) == 0 || len(corrTokens) == 0 {
		// The change was purely additive or subtractive (inserted or dropped
		// words). Treat it as plausible only when the spans are close overall.
		return matchr.JaroWinkler(origLower, corrLower, false) >= v.fuzzyThreshold
	}

	phonetic := codesOverlap(codesForTokens(origTokens), codesForTokens(corrTokens))
	score := bestJWScore(origTokens, corrTokens)

	if phonetic {
		return score >= v.phoneticThreshold
	}
	return score >= v.fuzzyThreshold
}

// stripCommonTokens removes tokens that appear in both slices, pairing each
// occurrence at most once.
func stripCommonTokens(a, b []string) ([]string, []string) {
	counts := make(map[string]int, len(b))
	for _, t := range b {
		counts[t]++
	}
	var outA []string
	for _, t := range a {
		if counts[t] > 0 {
			counts[t]--
			continue
		}
		outA = append(outA, t)
	}
	// After the pass above, counts holds the occurrences of each token in b
	// that were not matched by a.
	var outB []string
	for _, t := range b {
		if counts[t] > 0 {
			counts[t]--
			outB = append(outB, t)
		}
	}
	return outA, outB
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the two
// token sets: full concatenated strings, space-stripped strings, and the best
// pairwise token score.
func bestJWScore(aTokens, bTokens []string) float64 {
	aFull := strings.Join(aTokens, " ")
	bFull := strings.Join(bTokens, " ")

	score := matchr.JaroWinkler(aFull, bFull, false)

	if len(aTokens) > 1 || len(bTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(aTokens, ""), strings.Join(bTokens, ""), false); s > score {
			score = s
		}
	}

	for _, at := range aTokens {
		for _, bt := range bTokens {
			if s := matchr.JaroWinkler(at, bt, false); s > score {
				score = s
			}
		}
	}

	return score
}
