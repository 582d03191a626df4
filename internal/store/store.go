// Package store defines the persistence boundary of the cleansing pipeline
// and its two interchangeable implementations: a PostgreSQL-backed store for
// durable deployments and an in-memory store for tests and single-process
// runs.
//
// The pipeline reads through the store only at session hydration; afterwards
// everything is served from session state, and writes are append-only audit
// records. Hydration failures are hard errors; audit-write failures are
// tolerated by the caller (logged, never blocking a turn).
package store

import (
	"context"

	"github.com/MrWong99/clarivox/internal/catalog"
	"github.com/MrWong99/clarivox/internal/profile"
	"github.com/MrWong99/clarivox/internal/transcript"
)

// Counters are the per-session aggregate counters maintained alongside the
// audit records. All deltas, applied atomically per update.
type Counters struct {
	TurnsProcessed int `json:"turns_processed"`
	TurnsBypassed  int `json:"turns_bypassed"`
	TurnsSkipped   int `json:"turns_skipped"`
	TurnsFallback  int `json:"turns_fallback"`
	FunctionCalls  int `json:"function_calls"`
}

// Add accumulates delta into c.
func (c *Counters) Add(delta Counters) {
	c.TurnsProcessed += delta.TurnsProcessed
	c.TurnsBypassed += delta.TurnsBypassed
	c.TurnsSkipped += delta.TurnsSkipped
	c.TurnsFallback += delta.TurnsFallback
	c.FunctionCalls += delta.FunctionCalls
}

// Session is the hydration payload for one session: everything needed to
// rebuild in-memory state after a restart, ordered oldest first.
type Session struct {
	ID           string
	CleanedTurns []transcript.CleanedTurn
	CallRecords  []catalog.CallRecord
	Profile      *profile.Profile
	Counters     Counters
}

// Store is the persistence interface consumed by the session layer.
// Implementations must be safe for concurrent use.
type Store interface {
	// LoadSession hydrates the full state for sessionID. A session that has
	// never been written returns an empty Session with a fresh profile, not
	// an error.
	LoadSession(ctx context.Context, sessionID string) (*Session, error)

	// AppendCleanedTurn appends one cleaned-turn audit record.
	AppendCleanedTurn(ctx context.Context, sessionID string, turn *transcript.CleanedTurn) error

	// AppendCallRecord appends one function-call audit record.
	AppendCallRecord(ctx context.Context, sessionID string, rec catalog.CallRecord) error

	// SaveProfile persists the current profile snapshot for sessionID,
	// replacing any previous snapshot.
	SaveProfile(ctx context.Context, sessionID string, prof *profile.Profile) error

	// AddCounters applies the given deltas to the session's aggregate
	// counters.
	AddCounters(ctx context.Context, sessionID string, delta Counters) error

	// Close releases any resources held by the store.
	Close()
}
