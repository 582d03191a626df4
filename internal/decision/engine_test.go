package decision

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/clarivox/internal/catalog"
	"github.com/MrWong99/clarivox/internal/profile"
	"github.com/MrWong99/clarivox/internal/transcript"
	"github.com/MrWong99/clarivox/pkg/provider/llm"
	"github.com/MrWong99/clarivox/pkg/provider/llm/mock"
)

func cleanedTurn(seq int, text string) *transcript.CleanedTurn {
	return &transcript.CleanedTurn{
		Raw:  transcript.RawTurn{Speaker: transcript.SpeakerCustomer, Seq: seq, Text: text},
		Text: text,
	}
}

func TestDecideNoAction(t *testing.T) {
	provider := &mock.Provider{
		Response: &llm.CompletionResponse{
			Content: `{"rationale": "Small talk, nothing actionable.", "calls": []}`,
		},
	}
	e := New(provider, catalog.NewBuiltin())

	prof := profile.New()
	out, err := e.Decide(context.Background(), Input{
		Turn:    cleanedTurn(0, "Nice weather today."),
		Profile: prof,
	})
	if err != nil {
		t.Fatalf("Decide returned error: %v", err)
	}
	if out.Rationale != "Small talk, nothing actionable." {
		t.Errorf("rationale = %q", out.Rationale)
	}
	if len(out.Records) != 0 {
		t.Errorf("records = %v, want none", out.Records)
	}
	if out.Exchange.Prompt == "" || out.Exchange.Response == "" {
		t.Errorf("exchange not captured: %+v", out.Exchange)
	}
}

func TestDecideExecutesCalls(t *testing.T) {
	provider := &mock.Provider{
		Response: &llm.CompletionResponse{
			Content: "```json\n" + `{
				"rationale": "Customer stated their company name and role.",
				"calls": [
					{"function": "update_profile_field", "params": {"field_to_update": "company_name", "new_value": "Northwind"}},
					{"function": "update_profile_field", "params": {"field_to_update": "contact_title", "new_value": "Director of Marketing"}}
				]
			}` + "\n```",
		},
	}
	e := New(provider, catalog.NewBuiltin())

	prof := profile.New()
	out, err := e.Decide(context.Background(), Input{
		Turn:    cleanedTurn(4, "I'm the Director of Marketing at Northwind."),
		Profile: prof,
		Window:  []string{"[sales_rep]: And what's your role there?"},
	})
	if err != nil {
		t.Fatalf("Decide returned error: %v", err)
	}

	if len(out.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(out.Records))
	}
	for i, r := range out.Records {
		if !r.Success {
			t.Errorf("record %d failed: %s", i, r.Error)
		}
		if r.TurnSeq != 4 {
			t.Errorf("record %d turn seq = %d, want 4", i, r.TurnSeq)
		}
		if len(r.Changes) != 1 {
			t.Errorf("record %d changes = %v, want exactly one", i, r.Changes)
		}
	}

	if prof.CompanyName != "Northwind" {
		t.Errorf("company name = %q, want %q", prof.CompanyName, "Northwind")
	}
	if prof.ContactTitle != "Director of Marketing" {
		t.Errorf("contact title = %q", prof.ContactTitle)
	}

	// Before/after snapshots bracket each call individually.
	first := out.Records[0]
	if first.Before.CompanyName != "" || first.After.CompanyName != "Northwind" {
		t.Errorf("first record snapshots wrong: before=%q after=%q",
			first.Before.CompanyName, first.After.CompanyName)
	}
	second := out.Records[1]
	if second.Before.CompanyName != "Northwind" {
		t.Errorf("second record should see the first call's mutation, got before=%q",
			second.Before.CompanyName)
	}
}

func TestDecidePromptContainsContext(t *testing.T) {
	provider := &mock.Provider{
		Response: &llm.CompletionResponse{Content: `{"rationale": "nothing", "calls": []}`},
	}
	e := New(provider, catalog.NewBuiltin())

	prof := profile.New()
	prof.CompanyName = "Acme"
	history := []catalog.CallRecord{
		{Function: "add_insight", Params: map[string]any{"topic": "budget", "insight": "Q3 constrained"}, Success: true, TurnSeq: 1},
	}

	_, err := e.Decide(context.Background(), Input{
		Turn:    cleanedTurn(2, "We could revisit in October."),
		Profile: prof,
		History: history,
		Window:  []string{"[customer]: Our budget is tight this quarter."},
	})
	if err != nil {
		t.Fatalf("Decide returned error: %v", err)
	}

	prompt := provider.LastCall().Req.Messages[0].Content
	for _, want := range []string{
		"Acme",
		"add_insight",
		"topic=budget",
		"update_profile_field",
		"[customer]: Our budget is tight this quarter.",
		"We could revisit in October.",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestDecideEmptyResponseIsCritical(t *testing.T) {
	provider := &mock.Provider{Response: &llm.CompletionResponse{Content: "  "}}
	e := New(provider, catalog.NewBuiltin())

	out, err := e.Decide(context.Background(), Input{
		Turn:    cleanedTurn(0, "hello"),
		Profile: profile.New(),
	})
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
	if out == nil || len(out.Records) != 0 {
		t.Errorf("outcome = %+v, want empty records alongside error", out)
	}
}

func TestDecideUnparseableResponseIsCritical(t *testing.T) {
	provider := &mock.Provider{
		Response: &llm.CompletionResponse{Content: "I think we should update the profile."},
	}
	e := New(provider, catalog.NewBuiltin())

	_, err := e.Decide(context.Background(), Input{
		Turn:    cleanedTurn(0, "hello"),
		Profile: profile.New(),
	})
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
	if perr.Response == "" {
		t.Error("ParseError should carry the literal response")
	}
}

func TestDecideValidationFailureIsCriticalAndRecorded(t *testing.T) {
	provider := &mock.Provider{
		Response: &llm.CompletionResponse{
			Content: `{"rationale": "r", "calls": [{"function": "delete_everything", "params": {}}]}`,
		},
	}
	e := New(provider, catalog.NewBuiltin())

	out, err := e.Decide(context.Background(), Input{
		Turn:    cleanedTurn(7, "hello"),
		Profile: profile.New(),
	})
	var xerr *ExecutionError
	if !errors.As(err, &xerr) {
		t.Fatalf("err = %v, want *ExecutionError", err)
	}
	if xerr.Stage != "validate" || xerr.Function != "delete_everything" {
		t.Errorf("execution error = %+v", xerr)
	}

	// The failed call is still recorded.
	if len(out.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(out.Records))
	}
	r := out.Records[0]
	if r.Success || r.Error == "" {
		t.Errorf("failed call record = %+v", r)
	}
}

func TestDecideHandlerFailureKeepsEarlierRecords(t *testing.T) {
	failing := catalog.Function{
		Name:        "explode",
		Description: "always fails",
		Handler: func(ctx context.Context, params map[string]any, prof *profile.Profile) (string, error) {
			return "", errors.New("boom")
		},
	}
	cat, err := catalog.New("test", failing, catalog.Function{
		Name:        "noop",
		Description: "does nothing",
		Handler: func(ctx context.Context, params map[string]any, prof *profile.Profile) (string, error) {
			return "ok", nil
		},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	provider := &mock.Provider{
		Response: &llm.CompletionResponse{
			Content: `{"rationale": "r", "calls": [
				{"function": "noop", "params": {}},
				{"function": "explode", "params": {}},
				{"function": "noop", "params": {}}
			]}`,
		},
	}
	e := New(provider, cat)

	out, derr := e.Decide(context.Background(), Input{
		Turn:    cleanedTurn(0, "hello"),
		Profile: profile.New(),
	})
	var xerr *ExecutionError
	if !errors.As(derr, &xerr) {
		t.Fatalf("err = %v, want *ExecutionError", derr)
	}
	if xerr.Stage != "execute" {
		t.Errorf("stage = %q, want execute", xerr.Stage)
	}

	// Execution stops at the failure; the successful first call and the
	// failed second are recorded, the third never runs.
	if len(out.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(out.Records))
	}
	if !out.Records[0].Success || out.Records[1].Success {
		t.Errorf("record success flags = %v/%v, want true/false",
			out.Records[0].Success, out.Records[1].Success)
	}
}

func TestDecideTransportFailureIsCritical(t *testing.T) {
	provider := &mock.Provider{Err: errors.New("connection reset")}
	e := New(provider, catalog.NewBuiltin())

	_, err := e.Decide(context.Background(), Input{
		Turn:    cleanedTurn(0, "hello"),
		Profile: profile.New(),
	})
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
}
