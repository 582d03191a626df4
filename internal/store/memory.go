package store

import (
	"context"
	"sync"

	"github.com/MrWong99/clarivox/internal/catalog"
	"github.com/MrWong99/clarivox/internal/profile"
	"github.com/MrWong99/clarivox/internal/transcript"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is a lock-protected in-memory [Store]. State is lost on
// process exit. Intended for tests and single-process deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
}

type memorySession struct {
	cleanedTurns []transcript.CleanedTurn
	callRecords  []catalog.CallRecord
	profile      *profile.Profile
	counters     Counters
}

// NewMemoryStore returns an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memorySession)}
}

func (s *MemoryStore) session(id string) *memorySession {
	ms, ok := s.sessions[id]
	if !ok {
		ms = &memorySession{profile: profile.New()}
		s.sessions[id] = ms
	}
	return ms
}

// LoadSession implements [Store]. The returned Session holds deep copies so
// later writes cannot alias hydrated state.
func (s *MemoryStore) LoadSession(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ms, ok := s.sessions[sessionID]
	if !ok {
		return &Session{ID: sessionID, Profile: profile.New(),
			CleanedTurns: []transcript.CleanedTurn{},
			CallRecords:  []catalog.CallRecord{}}, nil
	}

	out := &Session{
		ID:           sessionID,
		CleanedTurns: make([]transcript.CleanedTurn, len(ms.cleanedTurns)),
		CallRecords:  make([]catalog.CallRecord, len(ms.callRecords)),
		Profile:      ms.profile.Clone(),
		Counters:     ms.counters,
	}
	copy(out.CleanedTurns, ms.cleanedTurns)
	copy(out.CallRecords, ms.callRecords)
	return out, nil
}

// AppendCleanedTurn implements [Store].
func (s *MemoryStore) AppendCleanedTurn(ctx context.Context, sessionID string, turn *transcript.CleanedTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.session(sessionID)
	ms.cleanedTurns = append(ms.cleanedTurns, *turn)
	return nil
}

// AppendCallRecord implements [Store].
func (s *MemoryStore) AppendCallRecord(ctx context.Context, sessionID string, rec catalog.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.session(sessionID)
	ms.callRecords = append(ms.callRecords, rec)
	return nil
}

// SaveProfile implements [Store].
func (s *MemoryStore) SaveProfile(ctx context.Context, sessionID string, prof *profile.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.session(sessionID)
	ms.profile = prof.Clone()
	return nil
}

// AddCounters implements [Store].
func (s *MemoryStore) AddCounters(ctx context.Context, sessionID string, delta Counters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.session(sessionID)
	ms.counters.Add(delta)
	return nil
}

// Close implements [Store]. No-op.
func (s *MemoryStore) Close() {}
