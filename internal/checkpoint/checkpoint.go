// Package checkpoint persists conversation state as immutable snapshots.
//
// Each commit writes a full copy of the thread's message sequence under a
// monotonically increasing checkpoint ID. The latest checkpoint is the
// thread's current state; older checkpoints remain as history. Nothing is
// ever updated in place.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/jfgonzales/fred/internal/log"
)

// ErrPersistence indicates conversation state could not be read or written.
// Checked with errors.Is().
var ErrPersistence = errors.New("checkpoint persistence failed")

// Thread is a conversation identified by caller-chosen ID.
// CheckpointID is zero when the thread has never been committed.
type Thread struct {
	ID           string        `json:"thread_id"`
	Messages     []*ai.Message `json:"messages"`
	CheckpointID int64         `json:"checkpoint_id"`
}

// Info describes one committed checkpoint without its message payload.
type Info struct {
	CheckpointID int64     `json:"checkpoint_id"`
	NumMessages  int       `json:"num_messages"`
	CreatedAt    time.Time `json:"created_at"`
}

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads and writes checkpoints in PostgreSQL.
// Safe for concurrent use; commits for the same thread are serialized by a
// transaction-scoped advisory lock, so concurrent writers cannot allocate
// the same checkpoint ID even across processes.
type Store struct {
	db     DB
	logger log.Logger
}

// New creates a Store.
func New(db DB, logger log.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With("component", "checkpoint"),
	}
}

// Load returns the thread's latest checkpoint.
// A thread that has never been committed yields an empty Thread with
// CheckpointID zero; that is not an error.
func (s *Store) Load(ctx context.Context, threadID string) (Thread, error) {
	thread := Thread{ID: threadID}

	var payload []byte
	err := s.db.QueryRow(ctx,
		`SELECT checkpoint_id, messages FROM checkpoints
		 WHERE thread_id = $1
		 ORDER BY checkpoint_id DESC
		 LIMIT 1`, threadID).Scan(&thread.CheckpointID, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return thread, nil
	}
	if err != nil {
		return Thread{}, fmt.Errorf("%w: loading thread %q: %v", ErrPersistence, threadID, err)
	}

	if err := json.Unmarshal(payload, &thread.Messages); err != nil {
		return Thread{}, fmt.Errorf("%w: decoding messages for thread %q checkpoint %d: %v",
			ErrPersistence, threadID, thread.CheckpointID, err)
	}
	return thread, nil
}

// Commit writes a new checkpoint containing the full message sequence and
// returns its ID. IDs are allocated under pg_advisory_xact_lock keyed on the
// thread ID, so they increase strictly within a thread.
func (s *Store) Commit(ctx context.Context, threadID string, messages []*ai.Message) (int64, error) {
	if threadID == "" {
		return 0, fmt.Errorf("%w: thread ID is empty", ErrPersistence)
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		return 0, fmt.Errorf("%w: encoding messages for thread %q: %v", ErrPersistence, threadID, err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: beginning commit for thread %q: %v", ErrPersistence, threadID, err)
	}
	// Rollback after a successful commit returns ErrTxClosed; ignore it.
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock released automatically at transaction end.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, threadID); err != nil {
		return 0, fmt.Errorf("%w: acquiring thread lock for %q: %v", ErrPersistence, threadID, err)
	}

	var latest int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(checkpoint_id), 0) FROM checkpoints WHERE thread_id = $1`,
		threadID).Scan(&latest); err != nil {
		return 0, fmt.Errorf("%w: reading latest checkpoint for thread %q: %v", ErrPersistence, threadID, err)
	}

	next := latest + 1
	if _, err := tx.Exec(ctx,
		`INSERT INTO checkpoints (thread_id, checkpoint_id, messages) VALUES ($1, $2, $3)`,
		threadID, next, payload); err != nil {
		return 0, fmt.Errorf("%w: inserting checkpoint %d for thread %q: %v", ErrPersistence, next, threadID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: committing checkpoint %d for thread %q: %v", ErrPersistence, next, threadID, err)
	}

	s.logger.Debug("committed checkpoint",
		"thread_id", threadID, "checkpoint_id", next, "num_messages", len(messages))
	return next, nil
}

// History lists the thread's checkpoints newest first, without message
// payloads.
func (s *Store) History(ctx context.Context, threadID string) ([]Info, error) {
	rows, err := s.db.Query(ctx,
		`SELECT checkpoint_id, jsonb_array_length(messages), created_at
		 FROM checkpoints
		 WHERE thread_id = $1
		 ORDER BY checkpoint_id DESC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing history for thread %q: %v", ErrPersistence, threadID, err)
	}
	defer rows.Close()

	var history []Info
	for rows.Next() {
		var (
			info      Info
			createdAt pgtype.Timestamptz
		)
		if err := rows.Scan(&info.CheckpointID, &info.NumMessages, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scanning history row for thread %q: %v", ErrPersistence, threadID, err)
		}
		if createdAt.Valid {
			info.CreatedAt = createdAt.Time
		}
		history = append(history, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading history rows for thread %q: %v", ErrPersistence, threadID, err)
	}
	return history, nil
}
