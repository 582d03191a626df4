package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/clarivox/internal/catalog"
	"github.com/MrWong99/clarivox/internal/cleaning"
	"github.com/MrWong99/clarivox/internal/decision"
	"github.com/MrWong99/clarivox/internal/observe"
	"github.com/MrWong99/clarivox/internal/store"
	"github.com/MrWong99/clarivox/internal/transcript"
	"github.com/MrWong99/clarivox/pkg/provider/llm"
	"github.com/MrWong99/clarivox/pkg/provider/llm/mock"
)

// cleanEcho responds to cleaning calls with the raw text passed through and
// no corrections. The raw text is not visible to the mock, so tests that
// need exact text use explicit responses instead.
const cleanEcho = `{"cleaned_text": "cleaned text", "confidence": "high", "corrections": []}`

const decideNothing = `{"rationale": "nothing to do", "calls": []}`

func newOrchestrator(t *testing.T, cleanProv, decideProv *mock.Provider) (*Orchestrator, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	o, err := New(Config{
		Store:   st,
		Cleaner: cleaning.New(cleanProv),
		Engine:  decision.New(decideProv, catalog.NewBuiltin()),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o, st
}

func humanTurn(seq int, text string) transcript.RawTurn {
	return transcript.RawTurn{Speaker: transcript.SpeakerCustomer, Seq: seq, Text: text}
}

func TestProcessTurnFullPipeline(t *testing.T) {
	cleanProv := &mock.Provider{
		Response: &llm.CompletionResponse{
			Content: `{"cleaned_text": "I'm the Director of Marketing.", "confidence": "high",
				"corrections": [{"original": "vector of", "corrected": "Director of", "confidence": 0.9}]}`,
		},
	}
	decideProv := &mock.Provider{
		Response: &llm.CompletionResponse{
			Content: `{"rationale": "role stated", "calls": [
				{"function": "update_profile_field", "params": {"field_to_update": "contact_title", "new_value": "Director of Marketing"}}]}`,
		},
	}
	o, st := newOrchestrator(t, cleanProv, decideProv)

	res, err := o.ProcessTurn(context.Background(), "s1", humanTurn(0, "I'm the vector of Marketing."))
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	if res.Turn.Text != "I'm the Director of Marketing." {
		t.Errorf("cleaned text = %q", res.Turn.Text)
	}
	if res.Decision == nil || len(res.Decision.Records) != 1 {
		t.Fatalf("decision = %+v", res.Decision)
	}

	sess, err := o.Session("s1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Profile().ContactTitle != "Director of Marketing" {
		t.Errorf("profile not mutated: %+v", sess.Profile())
	}
	if got := sess.Counters(); got.TurnsProcessed != 1 || got.FunctionCalls != 1 {
		t.Errorf("counters = %+v", got)
	}

	// Timing total is the sum of the stages.
	tm := res.Turn.Timing
	if tm.Total != tm.Classify+tm.Clean+tm.Decide {
		t.Errorf("timing total %v != sum of stages", tm.Total)
	}

	// Async audit writes land in the store.
	o.Flush()
	persisted, err := st.LoadSession(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(persisted.CleanedTurns) != 1 || len(persisted.CallRecords) != 1 {
		t.Errorf("persisted = %d turns / %d records, want 1/1",
			len(persisted.CleanedTurns), len(persisted.CallRecords))
	}
	if persisted.Profile.ContactTitle != "Director of Marketing" {
		t.Errorf("persisted profile = %+v", persisted.Profile)
	}
}

func TestProcessTurnBypassSkipsDecision(t *testing.T) {
	cleanProv := &mock.Provider{Response: &llm.CompletionResponse{Content: cleanEcho}}
	decideProv := &mock.Provider{Response: &llm.CompletionResponse{Content: decideNothing}}
	o, _ := newOrchestrator(t, cleanProv, decideProv)

	res, err := o.ProcessTurn(context.Background(), "s1", transcript.RawTurn{
		Speaker: transcript.SpeakerAIAgent, Seq: 0, Text: "Welcome to the demo call.",
	})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if res.Decision != nil {
		t.Error("bypass turn ran the decision stage")
	}
	if cleanProv.CallCount() != 0 || decideProv.CallCount() != 0 {
		t.Errorf("model calls = %d/%d, want 0/0", cleanProv.CallCount(), decideProv.CallCount())
	}
	if res.Turn.Applied != transcript.LevelNone {
		t.Errorf("applied = %q", res.Turn.Applied)
	}
}

func TestProcessTurnDuplicateRejected(t *testing.T) {
	cleanProv := &mock.Provider{Response: &llm.CompletionResponse{Content: cleanEcho}}
	decideProv := &mock.Provider{Response: &llm.CompletionResponse{Content: decideNothing}}
	o, _ := newOrchestrator(t, cleanProv, decideProv)

	ctx := context.Background()
	if _, err := o.ProcessTurn(ctx, "s1", humanTurn(0, "hello there")); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	_, err := o.ProcessTurn(ctx, "s1", humanTurn(0, "hello again"))
	if err == nil {
		t.Fatal("duplicate seq accepted")
	}
	var crit *CriticalError
	if errors.As(err, &crit) {
		t.Error("duplicate turn should not be critical")
	}
}

func TestProcessBatchFailFast(t *testing.T) {
	cleanProv := &mock.Provider{Response: &llm.CompletionResponse{Content: cleanEcho}}
	// First decision succeeds, second is unparseable, third would succeed.
	decideProv := &mock.Provider{
		Responses: []*llm.CompletionResponse{
			{Content: decideNothing},
			{Content: "I refuse to answer in JSON."},
			{Content: decideNothing},
		},
	}
	o, _ := newOrchestrator(t, cleanProv, decideProv)

	turns := []transcript.RawTurn{
		humanTurn(0, "first turn text"),
		humanTurn(1, "second turn text"),
		humanTurn(2, "third turn text"),
	}
	summary, err := o.ProcessBatch(context.Background(), "s1", turns)

	var crit *CriticalError
	if !errors.As(err, &crit) {
		t.Fatalf("err = %v, want *CriticalError", err)
	}
	if crit.TurnSeq != 1 {
		t.Errorf("critical turn = %d, want 1", crit.TurnSeq)
	}
	if summary.Succeeded != 1 || summary.Failed != 1 || summary.Skipped != 1 {
		t.Errorf("summary = %+v, want 1 succeeded, 1 failed, 1 skipped", summary)
	}

	// The first turn's record remains valid.
	sess, _ := o.Session("s1")
	if len(sess.Turns()) != 2 {
		// The failing turn still produced its CleanedTurn before the
		// decision stage halted the run.
		t.Errorf("turns = %d, want 2", len(sess.Turns()))
	}
}

func TestProcessBatchStopFlag(t *testing.T) {
	cleanProv := &mock.Provider{Response: &llm.CompletionResponse{Content: cleanEcho}}
	decideProv := &mock.Provider{Response: &llm.CompletionResponse{Content: decideNothing}}
	o, _ := newOrchestrator(t, cleanProv, decideProv)

	// Pre-create and stop the session.
	if _, err := o.Session("s1"); err != nil {
		t.Fatal(err)
	}
	o.StopSession("s1")

	summary, err := o.ProcessBatch(context.Background(), "s1", []transcript.RawTurn{
		humanTurn(0, "never processed"),
		humanTurn(1, "never processed"),
	})
	if err != nil {
		t.Fatalf("stopped batch should not error: %v", err)
	}
	if !summary.WasStopped || summary.Skipped != 2 || summary.Succeeded != 0 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestStopSessionUnknownIsNoop(t *testing.T) {
	cleanProv := &mock.Provider{Response: &llm.CompletionResponse{Content: cleanEcho}}
	decideProv := &mock.Provider{Response: &llm.CompletionResponse{Content: decideNothing}}
	o, _ := newOrchestrator(t, cleanProv, decideProv)
	o.StopSession("nope")
	o.StopSession("nope")
}

func TestCleaningFallbackIsNotCritical(t *testing.T) {
	cleanProv := &mock.Provider{Err: errors.New("model down")}
	decideProv := &mock.Provider{Response: &llm.CompletionResponse{Content: decideNothing}}
	o, _ := newOrchestrator(t, cleanProv, decideProv)

	res, err := o.ProcessTurn(context.Background(), "s1", humanTurn(0, "still processed"))
	if err != nil {
		t.Fatalf("fallback turn errored: %v", err)
	}
	if res.Turn.Applied != transcript.LevelFallback {
		t.Errorf("applied = %q, want fallback", res.Turn.Applied)
	}
	if res.Turn.Text != "still processed" {
		t.Errorf("fallback text = %q", res.Turn.Text)
	}
	// Fallback turns still carry content, so the decision stage runs.
	if res.Decision == nil {
		t.Error("decision stage skipped for fallback turn")
	}
}

func TestPersistedStateSurvivesRestart(t *testing.T) {
	cleanProv := &mock.Provider{Response: &llm.CompletionResponse{Content: cleanEcho}}
	decideProv := &mock.Provider{Response: &llm.CompletionResponse{Content: decideNothing}}
	st := store.NewMemoryStore()

	o1, err := New(Config{
		Store:   st,
		Cleaner: cleaning.New(cleanProv),
		Engine:  decision.New(decideProv, catalog.NewBuiltin()),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o1.ProcessTurn(context.Background(), "s1", humanTurn(0, "before restart")); err != nil {
		t.Fatal(err)
	}
	o1.Flush()

	// A new orchestrator over the same store hydrates the history.
	o2, err := New(Config{
		Store:   st,
		Cleaner: cleaning.New(cleanProv),
		Engine:  decision.New(decideProv, catalog.NewBuiltin()),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o2.ProcessTurn(context.Background(), "s1", humanTurn(0, "duplicate after restart")); err == nil {
		t.Error("hydrated session accepted a duplicate seq")
	}
	if _, err := o2.ProcessTurn(context.Background(), "s1", humanTurn(1, "new turn")); err != nil {
		t.Errorf("new turn after restart: %v", err)
	}
}

func TestConcurrentTurnsSameSessionSerialized(t *testing.T) {
	// A slow model widens the race window: without per-session
	// serialisation, both turns would be mid-clean at once and the later
	// turn's context window would miss the earlier turn's cleaned text.
	cleanProv := &mock.Provider{
		Delay: 50 * time.Millisecond,
		Responses: []*llm.CompletionResponse{
			{Content: `{"cleaned_text": "alpha cleaned", "confidence": "high", "corrections": []}`},
			{Content: `{"cleaned_text": "beta cleaned", "confidence": "high", "corrections": []}`},
		},
	}
	decideProv := &mock.Provider{Response: &llm.CompletionResponse{Content: decideNothing}}
	o, _ := newOrchestrator(t, cleanProv, decideProv)

	turns := []transcript.RawTurn{
		humanTurn(0, "first raw text"),
		humanTurn(1, "second raw text"),
	}
	var wg sync.WaitGroup
	for _, raw := range turns {
		wg.Add(1)
		go func(raw transcript.RawTurn) {
			defer wg.Done()
			if _, err := o.ProcessTurn(context.Background(), "s1", raw); err != nil {
				t.Errorf("turn %d: %v", raw.Seq, err)
			}
		}(raw)
	}
	wg.Wait()

	if n := cleanProv.CallCount(); n != 2 {
		t.Fatalf("cleaning calls = %d, want 2", n)
	}

	// Whichever turn ran second must see the first turn's cleaned text in
	// its context window, never an empty window.
	second := cleanProv.LastCall().Req.Messages[0].Content
	if strings.Contains(second, "(conversation start)") {
		t.Error("second cleaning prompt saw an empty context window")
	}
	if !strings.Contains(second, "alpha cleaned") {
		t.Errorf("second cleaning prompt missing the first turn's cleaned text:\n%s", second)
	}

	sess, err := o.Session("s1")
	if err != nil {
		t.Fatal(err)
	}
	if got := sess.Counters(); got.TurnsProcessed != 2 {
		t.Errorf("counters = %+v, want 2 processed", got)
	}
	if len(sess.Turns()) != 2 {
		t.Errorf("turns = %d, want 2", len(sess.Turns()))
	}
}

// activeSessions reads the clarivox.active_sessions gauge from a manual
// reader.
func activeSessions(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "clarivox.active_sessions" {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				return 0
			}
			return sum.DataPoints[0].Value
		}
	}
	return 0
}

func TestReleaseSessionRetiresState(t *testing.T) {
	cleanProv := &mock.Provider{Response: &llm.CompletionResponse{Content: cleanEcho}}
	decideProv := &mock.Provider{Response: &llm.CompletionResponse{Content: decideNothing}}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	st := store.NewMemoryStore()
	o, err := New(Config{
		Store:   st,
		Cleaner: cleaning.New(cleanProv),
		Engine:  decision.New(decideProv, catalog.NewBuiltin()),
		Metrics: metrics,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if _, err := o.ProcessTurn(ctx, "s1", humanTurn(0, "before release")); err != nil {
		t.Fatal(err)
	}
	o.Flush()

	before, err := o.Session("s1")
	if err != nil {
		t.Fatal(err)
	}
	if got := activeSessions(t, reader); got != 1 {
		t.Fatalf("active sessions = %d, want 1", got)
	}

	o.ReleaseSession("s1")
	o.ReleaseSession("s1") // idempotent, no double decrement
	if got := activeSessions(t, reader); got != 0 {
		t.Errorf("active sessions after release = %d, want 0", got)
	}

	after, err := o.Session("s1")
	if err != nil {
		t.Fatal(err)
	}
	if before == after {
		t.Error("released session still in the registry")
	}

	// The rebuilt session hydrates from the store, so duplicate sequence
	// numbers are still rejected and new turns proceed.
	if _, err := o.ProcessTurn(ctx, "s1", humanTurn(0, "duplicate after release")); err == nil {
		t.Error("rebuilt session accepted a duplicate seq")
	}
	if _, err := o.ProcessTurn(ctx, "s1", humanTurn(1, "new turn after release")); err != nil {
		t.Errorf("new turn after release: %v", err)
	}
}
