// Package orchestrator drives one turn at a time through the full pipeline:
// classify, clean, decide, persist. It owns the session registry and
// guarantees that turns of a given session are processed strictly
// sequentially while many sessions run concurrently.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/clarivox/internal/classify"
	"github.com/MrWong99/clarivox/internal/cleaning"
	"github.com/MrWong99/clarivox/internal/decision"
	"github.com/MrWong99/clarivox/internal/observe"
	"github.com/MrWong99/clarivox/internal/session"
	"github.com/MrWong99/clarivox/internal/store"
	"github.com/MrWong99/clarivox/internal/transcript"
)

// CriticalError marks a session-level failure that halts all further turn
// processing for the run. Cleaning degradation never produces one; decision
// failures always do.
type CriticalError struct {
	// SessionID is the affected session.
	SessionID string

	// TurnSeq is the turn whose processing raised the error.
	TurnSeq int

	// Err is the underlying cause.
	Err error
}

func (e *CriticalError) Error() string {
	return fmt.Sprintf("orchestrator: session %s turn %d: %v", e.SessionID, e.TurnSeq, e.Err)
}

func (e *CriticalError) Unwrap() error { return e.Err }

// BatchSummary reports the outcome of a batch run.
type BatchSummary struct {
	// Succeeded is the number of turns fully processed.
	Succeeded int

	// Failed is the number of turns that raised an error (at most one in a
	// fail-fast halt, plus any duplicates rejected without halting).
	Failed int

	// Skipped is the number of turns never attempted because the run halted
	// or the session was stopped.
	Skipped int

	// WasStopped reports whether the batch aborted because the session was
	// externally stopped.
	WasStopped bool
}

// TurnResult is the outcome of processing one turn.
type TurnResult struct {
	// Turn is the produced cleaned turn.
	Turn *transcript.CleanedTurn

	// Classification is the classifier verdict.
	Classification classify.Classification

	// Decision is the decision outcome, nil when the decision stage did not
	// run (bypass, skip, empty cleaned text).
	Decision *decision.Outcome
}

// Config configures an [Orchestrator].
type Config struct {
	// Store is the persistence backend. Required.
	Store store.Store

	// Cleaner is the cleaning client. Required.
	Cleaner *cleaning.Cleaner

	// Engine is the function-calling decision engine. Required.
	Engine *decision.Engine

	// Metrics overrides the default metrics instance.
	Metrics *observe.Metrics

	// SessionDefaults seed every session created through the registry.
	// The per-session ID and Store are filled in by the orchestrator.
	SessionDefaults session.Config
}

// Orchestrator is the pipeline coordinator. Safe for concurrent use: turns
// of one session are serialised on the session's processing lock, so worker
// pools may submit jobs for the same session without coordination.
type Orchestrator struct {
	store    store.Store
	cleaner  *cleaning.Cleaner
	engine   *decision.Engine
	metrics  *observe.Metrics
	defaults session.Config

	mu       sync.Mutex
	sessions map[string]*session.State

	// persistWG tracks in-flight async audit writes.
	persistWG sync.WaitGroup
}

// New validates cfg and returns an [Orchestrator] with an empty session
// registry.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("orchestrator: store is required")
	}
	if cfg.Cleaner == nil {
		return nil, fmt.Errorf("orchestrator: cleaner is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("orchestrator: engine is required")
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Orchestrator{
		store:    cfg.Store,
		cleaner:  cfg.Cleaner,
		engine:   cfg.Engine,
		metrics:  m,
		defaults: cfg.SessionDefaults,
		sessions: make(map[string]*session.State),
	}, nil
}

// Session returns the state for sessionID, creating it from the configured
// defaults on first use.
func (o *Orchestrator) Session(sessionID string) (*session.State, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if s, ok := o.sessions[sessionID]; ok {
		return s, nil
	}

	cfg := o.defaults
	cfg.ID = sessionID
	cfg.Store = o.store
	s, err := session.New(cfg)
	if err != nil {
		return nil, err
	}
	o.sessions[sessionID] = s
	o.metrics.ActiveSessions.Add(context.Background(), 1)
	return s, nil
}

// SessionDefaults returns the defaults applied to newly created sessions.
func (o *Orchestrator) SessionDefaults() session.Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.defaults
}

// SetSessionDefaults replaces the defaults for sessions created after this
// call. Existing sessions keep the configuration they were created with.
func (o *Orchestrator) SetSessionDefaults(cfg session.Config) {
	o.mu.Lock()
	o.defaults = cfg
	o.mu.Unlock()
}

// StopSession marks the session stopped. Idempotent; unknown sessions are a
// no-op. Batch processing for the session aborts at the next between-turn
// check. The session stays in the registry so the flag remains visible;
// call [Orchestrator.ReleaseSession] to retire it.
func (o *Orchestrator) StopSession(sessionID string) {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	o.mu.Unlock()
	if ok {
		s.Stop()
	}
}

// ReleaseSession stops the session and removes it from the registry,
// decrementing the active-sessions gauge. Call it once no further turns for
// the session are queued or in flight. A turn arriving for the same ID later
// rebuilds state from the store, so duplicate sequence numbers are still
// rejected.
func (o *Orchestrator) ReleaseSession(sessionID string) {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	if ok {
		delete(o.sessions, sessionID)
	}
	o.mu.Unlock()
	if ok {
		s.Stop()
		o.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

// ProcessTurn runs one raw turn through the pipeline. The returned error is
// a *CriticalError when the run must halt; any other error (duplicate turn,
// hydration failure) affects only this turn.
func (o *Orchestrator) ProcessTurn(ctx context.Context, sessionID string, raw transcript.RawTurn) (*TurnResult, error) {
	sess, err := o.Session(sessionID)
	if err != nil {
		return nil, err
	}
	sess.LockProcessing()
	defer sess.UnlockProcessing()

	if err := sess.Hydrate(ctx); err != nil {
		return nil, err
	}
	if sess.Seen(raw.Seq) {
		return nil, fmt.Errorf("orchestrator: session %s: turn %d already processed", sessionID, raw.Seq)
	}

	log := observe.Logger(ctx).With("session_id", sessionID, "turn_seq", raw.Seq)

	var timing transcript.Timing

	// Classify.
	classifyStart := time.Now()
	cls := classify.Classify(string(raw.Speaker), raw.Text)
	timing.Classify = time.Since(classifyStart)

	// Clean.
	cleanRes, err := o.cleaner.Clean(ctx, cleaning.Request{
		Turn:            raw,
		Classification:  cls,
		Window:          sess.CleanWindow(),
		Level:           sess.Level(),
		Template:        sess.Template(),
		BusinessContext: sess.BusinessContext(),
	})
	if err != nil {
		// Only a broken template reaches here; it poisons every turn of the
		// session the same way, so treat it as critical.
		return nil, &CriticalError{SessionID: sessionID, TurnSeq: raw.Seq, Err: err}
	}
	timing.Clean = cleanRes.Duration

	turn := &transcript.CleanedTurn{
		Raw:            raw,
		Text:           cleanRes.Text,
		Confidence:     cleanRes.Confidence,
		Applied:        cleanRes.Applied,
		Corrections:    cleanRes.Corrections,
		FallbackReason: cleanRes.FallbackReason,
		Exchange:       cleanRes.Exchange,
	}

	result := &TurnResult{Turn: turn, Classification: cls}

	// Decide — only for cleaned turns that actually carry content.
	var decideErr error
	if cls.Kind == classify.NeedsCleaning && turn.Text != "" {
		out, err := o.engine.Decide(ctx, decision.Input{
			Turn:    turn,
			Profile: sess.Profile(),
			History: sess.History(),
			Window:  sess.FuncWindow(),
		})
		if out != nil {
			result.Decision = out
			timing.Decide = out.Duration
			sess.AppendRecords(out.Records...)
			o.persistRecords(sessionID, sess, out)
		}
		decideErr = err
	}

	timing.Sum()
	turn.Timing = timing

	if err := sess.AppendTurn(turn); err != nil {
		return result, err
	}

	delta := countersFor(turn)
	if result.Decision != nil {
		delta.FunctionCalls = len(result.Decision.Records)
	}
	sess.AddCounters(delta)
	o.persistTurn(sessionID, turn, delta)

	o.metrics.RecordTurn(ctx, cls.Kind.String(), string(turn.Applied), timing.Total)
	o.metrics.TurnDuration.Record(ctx, timing.Total.Seconds())

	if decideErr != nil {
		log.Error("decision stage failed, halting run", "error", decideErr)
		return result, &CriticalError{SessionID: sessionID, TurnSeq: raw.Seq, Err: decideErr}
	}

	log.Debug("turn processed",
		"classification", cls.Kind.String(),
		"applied", string(turn.Applied),
		"total", timing.Total,
	)
	return result, nil
}

// ProcessBatch processes turns in order, checking the session stop flag
// between turns and halting on the first critical error. Earlier results
// remain valid either way.
func (o *Orchestrator) ProcessBatch(ctx context.Context, sessionID string, turns []transcript.RawTurn) (*BatchSummary, error) {
	summary := &BatchSummary{}
	var halted error

	sess, err := o.Session(sessionID)
	if err != nil {
		return summary, err
	}

	for i, raw := range turns {
		if sess.Stopped() {
			summary.WasStopped = true
			summary.Skipped += len(turns) - i
			break
		}

		_, err = o.ProcessTurn(ctx, sessionID, raw)
		if err == nil {
			summary.Succeeded++
			continue
		}

		summary.Failed++
		var crit *CriticalError
		if errors.As(err, &crit) {
			summary.Skipped += len(turns) - i - 1
			halted = err
			break
		}
		// Non-critical (e.g. duplicate turn): keep going.
		observe.Logger(ctx).Warn("turn failed",
			"session_id", sessionID, "turn_seq", raw.Seq, "error", err)
	}

	return summary, halted
}

// Flush waits for all in-flight async persistence writes. Used at shutdown
// and in tests.
func (o *Orchestrator) Flush() {
	o.persistWG.Wait()
}

// persistTurn fires the cleaned-turn audit write and counter update
// asynchronously. Failures are logged, never retried, and never block the
// turn's response.
func (o *Orchestrator) persistTurn(sessionID string, turn *transcript.CleanedTurn, delta store.Counters) {
	o.persistWG.Add(1)
	go func() {
		defer o.persistWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := o.store.AppendCleanedTurn(ctx, sessionID, turn); err != nil {
			observe.Logger(ctx).Warn("cleaned turn audit write failed",
				"session_id", sessionID, "turn_seq", turn.Raw.Seq, "error", err)
		}
		if err := o.store.AddCounters(ctx, sessionID, delta); err != nil {
			observe.Logger(ctx).Warn("counter update failed",
				"session_id", sessionID, "error", err)
		}
	}()
}

// persistRecords fires the function-call audit writes and profile snapshot
// asynchronously.
func (o *Orchestrator) persistRecords(sessionID string, sess *session.State, out *decision.Outcome) {
	if len(out.Records) == 0 {
		return
	}
	records := out.Records
	snapshot := sess.Profile().Clone()

	o.persistWG.Add(1)
	go func() {
		defer o.persistWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		for _, rec := range records {
			if err := o.store.AppendCallRecord(ctx, sessionID, rec); err != nil {
				observe.Logger(ctx).Warn("call record audit write failed",
					"session_id", sessionID, "function", rec.Function, "error", err)
			}
		}
		if err := o.store.SaveProfile(ctx, sessionID, snapshot); err != nil {
			observe.Logger(ctx).Warn("profile snapshot write failed",
				"session_id", sessionID, "error", err)
		}
	}()
}

// countersFor derives the aggregate counter delta for one processed turn.
func countersFor(turn *transcript.CleanedTurn) store.Counters {
	c := store.Counters{TurnsProcessed: 1}
	switch turn.Applied {
	case transcript.LevelNone:
		c.TurnsBypassed = 1
	case transcript.LevelSkip:
		c.TurnsSkipped = 1
	case transcript.LevelFallback:
		c.TurnsFallback = 1
	}
	return c
}
