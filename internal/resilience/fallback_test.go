package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/clarivox/pkg/provider/llm"
	"github.com/MrWong99/clarivox/pkg/provider/llm/mock"
)

func TestFallbackGroupPrimarySuccess(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		Breaker: BreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("secondary", "secondary")

	var called string
	err := fg.Execute(func(v string) error {
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "primary" {
		t.Fatalf("called = %q, want primary", called)
	}
}

func TestFallbackGroupFailover(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		Breaker: BreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("secondary", "secondary")

	var called string
	err := fg.Execute(func(v string) error {
		if v == "primary" {
			return errTest
		}
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "secondary" {
		t.Fatalf("called = %q, want secondary", called)
	}
}

func TestFallbackGroupAllFail(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		Breaker: BreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("secondary", "secondary")

	err := fg.Execute(func(v string) error {
		return errTest
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroupSkipsOpenBreaker(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		Breaker: BreakerConfig{
			MaxFailures: 2,
			CoolOff:     time.Hour,
		},
	})
	fg.AddFallback("secondary", "secondary")

	// Trip the primary's breaker.
	for i := 0; i < 2; i++ {
		_ = fg.Execute(func(v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}

	var called string
	err := fg.Execute(func(v string) error {
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "secondary" {
		t.Fatalf("called = %q, want secondary behind an open primary", called)
	}
}

func TestExecuteWithResultFailover(t *testing.T) {
	fg := NewFallbackGroup(10, "ten", FallbackConfig{
		Breaker: BreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("twenty", 20)

	result, err := ExecuteWithResult(fg, func(v int) (string, error) {
		if v == 10 {
			return "", errTest
		}
		return "from-twenty", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "from-twenty" {
		t.Fatalf("result = %q, want from-twenty", result)
	}
}

func TestExecuteWithResultAllFail(t *testing.T) {
	fg := NewFallbackGroup(10, "ten", FallbackConfig{
		Breaker: BreakerConfig{MaxFailures: 3},
	})

	_, err := ExecuteWithResult(fg, func(v int) (string, error) {
		return "", errTest
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestModelFallbackServesFromHealthyBackend(t *testing.T) {
	primary := &mock.Provider{Err: errors.New("primary down"), ProviderName: "primary"}
	secondary := &mock.Provider{
		Response:     &llm.CompletionResponse{Content: "from secondary"},
		ProviderName: "secondary",
	}

	f := NewModelFallback(primary, FallbackConfig{
		Breaker: BreakerConfig{MaxFailures: 3},
	})
	f.AddFallback(secondary)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "from secondary" {
		t.Errorf("content = %q", resp.Content)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.CallCount(), secondary.CallCount())
	}
	if f.Name() != "fallback(primary,secondary)" {
		t.Errorf("name = %q", f.Name())
	}
}
