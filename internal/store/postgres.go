package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/clarivox/internal/catalog"
	"github.com/MrWong99/clarivox/internal/profile"
	"github.com/MrWong99/clarivox/internal/transcript"
)

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id              TEXT         PRIMARY KEY,
    profile         JSONB        NOT NULL DEFAULT '{}',
    turns_processed BIGINT       NOT NULL DEFAULT 0,
    turns_bypassed  BIGINT       NOT NULL DEFAULT 0,
    turns_skipped   BIGINT       NOT NULL DEFAULT 0,
    turns_fallback  BIGINT       NOT NULL DEFAULT 0,
    function_calls  BIGINT       NOT NULL DEFAULT 0,
    updated_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlCleanedTurns = `
CREATE TABLE IF NOT EXISTS cleaned_turns (
    id              BIGSERIAL    PRIMARY KEY,
    session_id      TEXT         NOT NULL,
    seq             INT          NOT NULL,
    speaker         TEXT         NOT NULL,
    raw_text        TEXT         NOT NULL,
    text            TEXT         NOT NULL,
    confidence      TEXT         NOT NULL,
    applied         TEXT         NOT NULL,
    fallback_reason TEXT         NOT NULL DEFAULT '',
    corrections     JSONB        NOT NULL DEFAULT '[]',
    exchange        JSONB        NOT NULL DEFAULT '{}',
    timing          JSONB        NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_cleaned_turns_session
    ON cleaned_turns (session_id, seq);
`

const ddlCallRecords = `
CREATE TABLE IF NOT EXISTS call_records (
    id           BIGSERIAL    PRIMARY KEY,
    session_id   TEXT         NOT NULL,
    turn_seq     INT          NOT NULL,
    function     TEXT         NOT NULL,
    params       JSONB        NOT NULL DEFAULT '{}',
    result       TEXT         NOT NULL DEFAULT '',
    success      BOOLEAN      NOT NULL,
    error        TEXT         NOT NULL DEFAULT '',
    before_state JSONB        NOT NULL DEFAULT '{}',
    after_state  JSONB        NOT NULL DEFAULT '{}',
    changes      JSONB        NOT NULL DEFAULT '[]',
    called_at    TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_call_records_session
    ON call_records (session_id, id);
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlSessions, ddlCleanedTurns, ddlCallRecords} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

// PostgresStore is a PostgreSQL-backed [Store] holding a single
// [pgxpool.Pool]. All operations are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore establishes a connection pool to the database at dsn,
// verifies connectivity, and runs [Migrate].
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Pool exposes the underlying connection pool so other components (e.g. the
// durable queue backend) can share it.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

// LoadSession implements [Store].
func (s *PostgresStore) LoadSession(ctx context.Context, sessionID string) (*Session, error) {
	out := &Session{
		ID:           sessionID,
		Profile:      profile.New(),
		CleanedTurns: []transcript.CleanedTurn{},
		CallRecords:  []catalog.CallRecord{},
	}

	const qSession = `
		SELECT profile, turns_processed, turns_bypassed, turns_skipped, turns_fallback, function_calls
		FROM   sessions
		WHERE  id = $1`

	var profileJSON []byte
	err := s.pool.QueryRow(ctx, qSession, sessionID).Scan(
		&profileJSON,
		&out.Counters.TurnsProcessed,
		&out.Counters.TurnsBypassed,
		&out.Counters.TurnsSkipped,
		&out.Counters.TurnsFallback,
		&out.Counters.FunctionCalls,
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Never-written session: empty state is valid.
		return out, nil
	case err != nil:
		return nil, fmt.Errorf("postgres store: load session: %w", err)
	}
	if err := json.Unmarshal(profileJSON, out.Profile); err != nil {
		return nil, fmt.Errorf("postgres store: decode profile: %w", err)
	}

	turns, err := s.loadCleanedTurns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out.CleanedTurns = turns

	records, err := s.loadCallRecords(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out.CallRecords = records

	return out, nil
}

func (s *PostgresStore) loadCleanedTurns(ctx context.Context, sessionID string) ([]transcript.CleanedTurn, error) {
	const q = `
		SELECT seq, speaker, raw_text, text, confidence, applied, fallback_reason,
		       corrections, exchange, timing
		FROM   cleaned_turns
		WHERE  session_id = $1
		ORDER  BY seq`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: load cleaned turns: %w", err)
	}
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (transcript.CleanedTurn, error) {
		var (
			t           transcript.CleanedTurn
			corrections []byte
			exchange    []byte
			timing      []byte
		)
		if err := row.Scan(
			&t.Raw.Seq,
			&t.Raw.Speaker,
			&t.Raw.Text,
			&t.Text,
			&t.Confidence,
			&t.Applied,
			&t.FallbackReason,
			&corrections,
			&exchange,
			&timing,
		); err != nil {
			return transcript.CleanedTurn{}, err
		}
		if err := json.Unmarshal(corrections, &t.Corrections); err != nil {
			return transcript.CleanedTurn{}, err
		}
		if err := json.Unmarshal(exchange, &t.Exchange); err != nil {
			return transcript.CleanedTurn{}, err
		}
		if err := json.Unmarshal(timing, &t.Timing); err != nil {
			return transcript.CleanedTurn{}, err
		}
		if t.Corrections == nil {
			t.Corrections = []transcript.Correction{}
		}
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan cleaned turns: %w", err)
	}
	if turns == nil {
		turns = []transcript.CleanedTurn{}
	}
	return turns, nil
}

func (s *PostgresStore) loadCallRecords(ctx context.Context, sessionID string) ([]catalog.CallRecord, error) {
	const q = `
		SELECT turn_seq, function, params, result, success, error,
		       before_state, after_state, changes, called_at
		FROM   call_records
		WHERE  session_id = $1
		ORDER  BY id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: load call records: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.CallRecord, error) {
		var (
			r       catalog.CallRecord
			params  []byte
			before  []byte
			after   []byte
			changes []byte
			called  time.Time
		)
		if err := row.Scan(
			&r.TurnSeq,
			&r.Function,
			&params,
			&r.Result,
			&r.Success,
			&r.Error,
			&before,
			&after,
			&changes,
			&called,
		); err != nil {
			return catalog.CallRecord{}, err
		}
		r.CalledAt = called
		if err := json.Unmarshal(params, &r.Params); err != nil {
			return catalog.CallRecord{}, err
		}
		r.Before = profile.New()
		if err := json.Unmarshal(before, r.Before); err != nil {
			return catalog.CallRecord{}, err
		}
		r.After = profile.New()
		if err := json.Unmarshal(after, r.After); err != nil {
			return catalog.CallRecord{}, err
		}
		if err := json.Unmarshal(changes, &r.Changes); err != nil {
			return catalog.CallRecord{}, err
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan call records: %w", err)
	}
	if records == nil {
		records = []catalog.CallRecord{}
	}
	return records, nil
}

// AppendCleanedTurn implements [Store].
func (s *PostgresStore) AppendCleanedTurn(ctx context.Context, sessionID string, turn *transcript.CleanedTurn) error {
	corrections, err := json.Marshal(turn.Corrections)
	if err != nil {
		return fmt.Errorf("postgres store: encode corrections: %w", err)
	}
	exchange, err := json.Marshal(turn.Exchange)
	if err != nil {
		return fmt.Errorf("postgres store: encode exchange: %w", err)
	}
	timing, err := json.Marshal(turn.Timing)
	if err != nil {
		return fmt.Errorf("postgres store: encode timing: %w", err)
	}

	const q = `
		INSERT INTO cleaned_turns
		    (session_id, seq, speaker, raw_text, text, confidence, applied,
		     fallback_reason, corrections, exchange, timing)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id, seq) DO NOTHING`

	_, err = s.pool.Exec(ctx, q,
		sessionID,
		turn.Raw.Seq,
		string(turn.Raw.Speaker),
		turn.Raw.Text,
		turn.Text,
		string(turn.Confidence),
		string(turn.Applied),
		turn.FallbackReason,
		corrections,
		exchange,
		timing,
	)
	if err != nil {
		return fmt.Errorf("postgres store: append cleaned turn: %w", err)
	}
	return nil
}

// AppendCallRecord implements [Store].
func (s *PostgresStore) AppendCallRecord(ctx context.Context, sessionID string, rec catalog.CallRecord) error {
	params, err := json.Marshal(rec.Params)
	if err != nil {
		return fmt.Errorf("postgres store: encode params: %w", err)
	}
	before, err := json.Marshal(rec.Before)
	if err != nil {
		return fmt.Errorf("postgres store: encode before state: %w", err)
	}
	after, err := json.Marshal(rec.After)
	if err != nil {
		return fmt.Errorf("postgres store: encode after state: %w", err)
	}
	changes, err := json.Marshal(rec.Changes)
	if err != nil {
		return fmt.Errorf("postgres store: encode changes: %w", err)
	}

	const q = `
		INSERT INTO call_records
		    (session_id, turn_seq, function, params, result, success, error,
		     before_state, after_state, changes, called_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = s.pool.Exec(ctx, q,
		sessionID,
		rec.TurnSeq,
		rec.Function,
		params,
		rec.Result,
		rec.Success,
		rec.Error,
		before,
		after,
		changes,
		rec.CalledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: append call record: %w", err)
	}
	return nil
}

// SaveProfile implements [Store].
func (s *PostgresStore) SaveProfile(ctx context.Context, sessionID string, prof *profile.Profile) error {
	data, err := json.Marshal(prof)
	if err != nil {
		return fmt.Errorf("postgres store: encode profile: %w", err)
	}

	const q = `
		INSERT INTO sessions (id, profile, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE
		SET profile = EXCLUDED.profile, updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, sessionID, data); err != nil {
		return fmt.Errorf("postgres store: save profile: %w", err)
	}
	return nil
}

// AddCounters implements [Store].
func (s *PostgresStore) AddCounters(ctx context.Context, sessionID string, delta Counters) error {
	const q = `
		INSERT INTO sessions
		    (id, turns_processed, turns_bypassed, turns_skipped, turns_fallback, function_calls, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE SET
		    turns_processed = sessions.turns_processed + EXCLUDED.turns_processed,
		    turns_bypassed  = sessions.turns_bypassed  + EXCLUDED.turns_bypassed,
		    turns_skipped   = sessions.turns_skipped   + EXCLUDED.turns_skipped,
		    turns_fallback  = sessions.turns_fallback  + EXCLUDED.turns_fallback,
		    function_calls  = sessions.function_calls  + EXCLUDED.function_calls,
		    updated_at      = now()`

	_, err := s.pool.Exec(ctx, q, sessionID,
		delta.TurnsProcessed,
		delta.TurnsBypassed,
		delta.TurnsSkipped,
		delta.TurnsFallback,
		delta.FunctionCalls,
	)
	if err != nil {
		return fmt.Errorf("postgres store: add counters: %w", err)
	}
	return nil
}

// Close implements [Store].
func (s *PostgresStore) Close() {
	s.pool.Close()
}
