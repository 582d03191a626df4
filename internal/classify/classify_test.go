package classify

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		speaker    string
		text       string
		wantKind   Kind
		wantReason string
	}{
		{
			name:       "ai agent bypasses",
			speaker:    "ai_agent",
			text:       "Thanks for your time today, I'll send the summary over.",
			wantKind:   Bypass,
			wantReason: "ai_agent",
		},
		{
			name:       "assistant alias bypasses",
			speaker:    "Assistant",
			text:       "Sure, let me check that.",
			wantKind:   Bypass,
			wantReason: "ai_agent",
		},
		{
			name:     "customer turn needs cleaning",
			speaker:  "customer",
			text:     "I'm the vector of Marketing at Acme",
			wantKind: NeedsCleaning,
		},
		{
			name:     "unknown human speaker needs cleaning",
			speaker:  "participant_2",
			text:     "We should circle back on pricing next week.",
			wantKind: NeedsCleaning,
		},
		{
			name:       "empty text is an error",
			speaker:    "customer",
			text:       "",
			wantKind:   TranscriptionError,
			wantReason: "too_short",
		},
		{
			name:       "two characters is an error",
			speaker:    "customer",
			text:       "ok",
			wantKind:   TranscriptionError,
			wantReason: "too_short",
		},
		{
			name:     "three characters passes the length gate",
			speaker:  "customer",
			text:     "yes",
			wantKind: NeedsCleaning,
		},
		{
			name:       "mostly CJK text is an error",
			speaker:    "customer",
			text:       "我们 我们 meeting 今天 下午",
			wantKind:   TranscriptionError,
			wantReason: "non_latin_ratio",
		},
		{
			name:       "pure cyrillic text is an error",
			speaker:    "customer",
			text:       "привет как дела сегодня",
			wantKind:   TranscriptionError,
			wantReason: "non_latin_ratio",
		},
		{
			name:       "single filler is an error",
			speaker:    "customer",
			text:       "Ummm...",
			wantKind:   TranscriptionError,
			wantReason: "filler_only",
		},
		{
			name:       "chained fillers are an error",
			speaker:    "sales_rep",
			text:       "uh, um, uh",
			wantKind:   TranscriptionError,
			wantReason: "filler_only",
		},
		{
			name:       "degenerate repetition is an error",
			speaker:    "customer",
			text:       "the the the the the budget",
			wantKind:   TranscriptionError,
			wantReason: "dominant_token",
		},
		{
			name:     "short repetition is allowed",
			speaker:  "customer",
			text:     "no no really",
			wantKind: NeedsCleaning,
		},
		{
			name:     "accented latin text passes",
			speaker:  "customer",
			text:     "José from the Zürich office will join",
			wantKind: NeedsCleaning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.speaker, tt.text)
			if got.Kind != tt.wantKind {
				t.Errorf("Classify(%q, %q).Kind = %v, want %v", tt.speaker, tt.text, got.Kind, tt.wantKind)
			}
			if tt.wantReason != "" && got.Reason != tt.wantReason {
				t.Errorf("Classify(%q, %q).Reason = %q, want %q", tt.speaker, tt.text, got.Reason, tt.wantReason)
			}
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	inputs := []struct{ speaker, text string }{
		{"customer", "I'm the vector of Marketing"},
		{"ai_agent", "Hello!"},
		{"customer", "um"},
	}
	for _, in := range inputs {
		first := Classify(in.speaker, in.text)
		for i := 0; i < 10; i++ {
			if got := Classify(in.speaker, in.text); got != first {
				t.Fatalf("Classify(%q, %q) not deterministic: %+v vs %+v", in.speaker, in.text, got, first)
			}
		}
	}
}
