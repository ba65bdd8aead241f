package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zhouzirui/guest-roleplay/backend/internal/model/session"
)

// SQLiteStore keeps sessions in a local SQLite database, one row per session and one per turn.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serialises writers to avoid SQLITE_BUSY
}

// NewSQLite opens (or creates) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS training_sessions (
		id TEXT PRIMARY KEY,
		scenario_json TEXT NOT NULL,
		persona_json TEXT NOT NULL,
		status TEXT NOT NULL,
		last_rating INTEGER,
		last_rating_reason TEXT NOT NULL DEFAULT '',
		feedback_json TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS training_turns (
		session_id TEXT NOT NULL REFERENCES training_sessions(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		turn_json TEXT NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create stores a new session and its initial turns.
func (s *SQLiteStore) Create(ctx context.Context, st session.State) error {
	scenarioJSON, err := json.Marshal(st.Scenario)
	if err != nil {
		return fmt.Errorf("marshal scenario: %w", err)
	}
	personaJSON, err := json.Marshal(st.Persona)
	if err != nil {
		return fmt.Errorf("marshal persona: %w", err)
	}
	feedbackJSON, err := marshalFeedback(st.Feedback)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM training_sessions WHERE id = ?`, st.ID).Scan(&exists)
	if err == nil {
		return ErrExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check session: %w", err)
	}

	now := time.Now().Unix()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO training_sessions
			(id, scenario_json, persona_json, status, last_rating, last_rating_reason, feedback_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, string(scenarioJSON), string(personaJSON), string(st.Status),
		nullableInt(st.LastRating), st.LastRatingReason, feedbackJSON, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if err := insertTurns(ctx, tx, st.ID, 0, st.Conversation); err != nil {
		return err
	}
	return tx.Commit()
}

// Load reads a session with its conversation in order.
func (s *SQLiteStore) Load(ctx context.Context, id string) (session.State, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT scenario_json, persona_json, status, last_rating, last_rating_reason, feedback_json
		FROM training_sessions WHERE id = ?`, id)

	var (
		scenarioJSON, personaJSON, status, reason string
		lastRating                                sql.NullInt64
		feedbackJSON                              sql.NullString
	)
	err := row.Scan(&scenarioJSON, &personaJSON, &status, &lastRating, &reason, &feedbackJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return session.State{}, ErrNotFound
	}
	if err != nil {
		return session.State{}, fmt.Errorf("scan session row: %w", err)
	}

	st := session.State{
		ID:               id,
		Status:           session.Status(status),
		LastRatingReason: reason,
		Conversation:     []session.Turn{},
	}
	if err := json.Unmarshal([]byte(scenarioJSON), &st.Scenario); err != nil {
		return session.State{}, fmt.Errorf("decode scenario: %w", err)
	}
	if err := json.Unmarshal([]byte(personaJSON), &st.Persona); err != nil {
		return session.State{}, fmt.Errorf("decode persona: %w", err)
	}
	if lastRating.Valid {
		score := int(lastRating.Int64)
		st.LastRating = &score
	}
	if feedbackJSON.Valid {
		st.Feedback = &session.Feedback{}
		if err := json.Unmarshal([]byte(feedbackJSON.String), st.Feedback); err != nil {
			return session.State{}, fmt.Errorf("decode feedback: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT turn_json FROM training_turns WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return session.State{}, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return session.State{}, fmt.Errorf("scan turn row: %w", err)
		}
		var turn session.Turn
		if err := json.Unmarshal([]byte(raw), &turn); err != nil {
			return session.State{}, fmt.Errorf("decode turn: %w", err)
		}
		st.Conversation = append(st.Conversation, turn)
	}
	if err := rows.Err(); err != nil {
		return session.State{}, fmt.Errorf("iterate turns: %w", err)
	}
	return st, nil
}

// AppendTurns adds turns after the last stored one.
func (s *SQLiteStore) AppendTurns(ctx context.Context, id string, turns []session.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE((SELECT MAX(seq) + 1 FROM training_turns WHERE session_id = ?), 0)
		FROM training_sessions WHERE id = ?`, id, id).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read turn sequence: %w", err)
	}

	if err := insertTurns(ctx, tx, id, next, turns); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE training_sessions SET updated_at = ? WHERE id = ?`, time.Now().Unix(), id); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit()
}

// UpdateThread rewrites the session header columns.
func (s *SQLiteStore) UpdateThread(ctx context.Context, id string, thread Thread) error {
	feedbackJSON, err := marshalFeedback(thread.Feedback)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE training_sessions
		SET status = ?, last_rating = ?, last_rating_reason = ?, feedback_json = ?, updated_at = ?
		WHERE id = ?`,
		string(thread.Status), nullableInt(thread.LastRating), thread.LastRatingReason, feedbackJSON, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func insertTurns(ctx context.Context, tx *sql.Tx, id string, start int, turns []session.Turn) error {
	for i, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("marshal turn: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO training_turns (session_id, seq, turn_json) VALUES (?, ?, ?)`,
			id, start+i, string(data),
		); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}
	return nil
}

func marshalFeedback(f *session.Feedback) (sql.NullString, error) {
	if f == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal feedback: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
