// Package session holds the per-conversation state of the cleansing
// pipeline: the cleaned-turn history, the rolling context windows, the
// function-call history, and the single shared customer profile.
//
// A State is owned by exactly one session. The orchestrator processes turns
// for a session strictly sequentially, but the stop flag and read accessors
// may be touched from other goroutines, so all state access is
// mutex-protected.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/clarivox/internal/catalog"
	"github.com/MrWong99/clarivox/internal/profile"
	"github.com/MrWong99/clarivox/internal/prompt"
	"github.com/MrWong99/clarivox/internal/store"
	"github.com/MrWong99/clarivox/internal/transcript"
)

const (
	// DefaultCleanWindow is the number of recent cleaned turns shown to the
	// cleaning model.
	DefaultCleanWindow = 10

	// DefaultFuncWindow is the number of recent cleaned turns shown to the
	// decision model.
	DefaultFuncWindow = 5
)

// Config configures a [State].
type Config struct {
	// ID identifies the session. Required.
	ID string

	// Store is the persistence backend used for hydration. Required.
	Store store.Store

	// Template optionally overrides the default cleaning prompt template.
	// Validated at construction so a broken template is rejected before any
	// turn is processed.
	Template string

	// BusinessContext is an optional free-form description of the business
	// scenario, substituted into the cleaning prompt.
	BusinessContext string

	// Level is the cleaning level for human turns. Defaults to full.
	Level transcript.Level

	// CleanWindow is the cleaning context window size. Defaults to 10.
	CleanWindow int

	// FuncWindow is the decision context window size. Defaults to 5.
	FuncWindow int
}

// State is the in-memory state of one session. Create with [New]; hydrate
// lazily with [State.Hydrate] before the first turn.
type State struct {
	id              string
	store           store.Store
	template        string
	businessContext string
	level           transcript.Level
	cleanWindow     int
	funcWindow      int

	// proc serialises turn processing. The orchestrator holds it across a
	// whole turn so jobs for one session cannot interleave even when they
	// land on different workers.
	proc sync.Mutex

	mu       sync.Mutex
	hydrated bool
	stopped  bool
	turns    []transcript.CleanedTurn
	seqs     map[int]bool
	records  []catalog.CallRecord
	profile  *profile.Profile
	counters store.Counters
}

// New validates cfg and returns an unhydrated [State].
func New(cfg Config) (*State, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("session: id is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("session: store is required")
	}
	if cfg.Template != "" {
		if err := prompt.Validate(cfg.Template); err != nil {
			return nil, fmt.Errorf("session %s: %w", cfg.ID, err)
		}
	}

	level := cfg.Level
	if level == "" {
		level = transcript.LevelFull
	}
	if level != transcript.LevelLight && level != transcript.LevelFull {
		return nil, fmt.Errorf("session %s: invalid cleaning level %q", cfg.ID, level)
	}

	cleanWindow := cfg.CleanWindow
	if cleanWindow <= 0 {
		cleanWindow = DefaultCleanWindow
	}
	funcWindow := cfg.FuncWindow
	if funcWindow <= 0 {
		funcWindow = DefaultFuncWindow
	}

	return &State{
		id:              cfg.ID,
		store:           cfg.Store,
		template:        cfg.Template,
		businessContext: cfg.BusinessContext,
		level:           level,
		cleanWindow:     cleanWindow,
		funcWindow:      funcWindow,
		seqs:            make(map[int]bool),
		profile:         profile.New(),
	}, nil
}

// ID returns the session identifier.
func (s *State) ID() string { return s.id }

// Template returns the session's cleaning prompt template ("" = default).
func (s *State) Template() string { return s.template }

// BusinessContext returns the session's business-context string.
func (s *State) BusinessContext() string { return s.businessContext }

// Level returns the cleaning level applied to human turns.
func (s *State) Level() transcript.Level { return s.level }

// Hydrate loads persisted state from the store on first call. Subsequent
// calls are no-ops. Hydration failure is a hard error: without the history
// the context windows and the profile would be silently wrong.
func (s *State) Hydrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hydrated {
		return nil
	}

	sess, err := s.store.LoadSession(ctx, s.id)
	if err != nil {
		return fmt.Errorf("session %s: hydrate: %w", s.id, err)
	}

	s.turns = sess.CleanedTurns
	s.records = sess.CallRecords
	s.profile = sess.Profile
	s.counters = sess.Counters
	for _, t := range s.turns {
		s.seqs[t.Raw.Seq] = true
	}
	s.hydrated = true
	return nil
}

// Seen reports whether a cleaned turn for seq already exists. Exactly one
// CleanedTurn is produced per raw turn per session.
func (s *State) Seen(seq int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seqs[seq]
}

// AppendTurn records the cleaned turn. Duplicate sequence numbers are
// rejected.
func (s *State) AppendTurn(turn *transcript.CleanedTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seqs[turn.Raw.Seq] {
		return fmt.Errorf("session %s: duplicate turn seq %d", s.id, turn.Raw.Seq)
	}
	s.seqs[turn.Raw.Seq] = true
	s.turns = append(s.turns, *turn)
	return nil
}

// AppendRecords appends function-call records to the session history.
func (s *State) AppendRecords(records ...catalog.CallRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
}

// AddCounters accumulates delta into the session's aggregate counters.
func (s *State) AddCounters(delta store.Counters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.Add(delta)
}

// Counters returns a copy of the aggregate counters.
func (s *State) Counters() store.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// Profile returns the single shared customer profile. The orchestrator
// guarantees sequential turn processing per session, so handing out the
// pointer for in-place mutation during a turn is safe.
func (s *State) Profile() *profile.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// History returns a copy of the function-call history, oldest first.
func (s *State) History() []catalog.CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]catalog.CallRecord, len(s.records))
	copy(out, s.records)
	return out
}

// CleanWindow returns the last turns that contribute context, formatted as
// "[speaker]: text" lines, oldest first, capped at the configured cleaning
// window size. Cleaned context is self-referential: only cleaned text ever
// appears here, never raw text of earlier turns.
func (s *State) CleanWindow() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window(s.cleanWindow)
}

// FuncWindow is [State.CleanWindow] capped at the decision window size.
func (s *State) FuncWindow() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window(s.funcWindow)
}

// window must be called with s.mu held.
func (s *State) window(n int) []string {
	var lines []string
	for i := len(s.turns) - 1; i >= 0 && len(lines) < n; i-- {
		t := &s.turns[i]
		if !t.ContributesContext() {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s]: %s", t.Raw.Speaker, t.Text))
	}
	// Collected newest-first; reverse to oldest-first.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines
}

// Turns returns a copy of all cleaned turns, oldest first.
func (s *State) Turns() []transcript.CleanedTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transcript.CleanedTurn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Stop marks the session stopped. Idempotent. The orchestrator checks the
// flag between turns and aborts remaining batch work without raising.
func (s *State) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

// Stopped reports whether the session has been stopped.
func (s *State) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// LockProcessing acquires the session's turn-processing lock. Turns are
// applied strictly in the order the lock is granted, so a later turn always
// sees the cleaned text of every earlier turn in its context window.
func (s *State) LockProcessing() { s.proc.Lock() }

// UnlockProcessing releases the lock taken by [State.LockProcessing].
func (s *State) UnlockProcessing() { s.proc.Unlock() }
