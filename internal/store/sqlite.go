package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/postreview/internal/domain"
	"github.com/ashureev/postreview/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS records (
		record_id TEXT PRIMARY KEY,
		source_text TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL DEFAULT '',
		locations_json TEXT NOT NULL DEFAULT '[]',
		people_json TEXT NOT NULL DEFAULT '[]',
		organizations_json TEXT NOT NULL DEFAULT '[]',
		schemes_json TEXT NOT NULL DEFAULT '[]',
		hashtags_json TEXT NOT NULL DEFAULT '[]',
		confidence REAL NOT NULL DEFAULT 0,
		review_status TEXT NOT NULL DEFAULT 'pending',
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS record_edits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id TEXT NOT NULL REFERENCES records(record_id) ON DELETE CASCADE,
		field TEXT NOT NULL,
		old_value_json TEXT NOT NULL,
		new_value_json TEXT NOT NULL,
		edited_by TEXT NOT NULL,
		edited_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_record_edits_record ON record_edits(record_id, id);

	CREATE TABLE IF NOT EXISTS review_sessions (
		session_id TEXT PRIMARY KEY,
		stage TEXT NOT NULL,
		snapshot_json TEXT NOT NULL,
		last_activity INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_review_sessions_activity ON review_sessions(last_activity);

	CREATE TABLE IF NOT EXISTS corrections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id TEXT NOT NULL,
		field TEXT NOT NULL,
		original_json TEXT NOT NULL,
		corrected_json TEXT NOT NULL,
		reviewer TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS learned_entities (
		category TEXT NOT NULL,
		value TEXT NOT NULL,
		hits INTEGER NOT NULL DEFAULT 1,
		first_seen_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL,
		PRIMARY KEY (category, value)
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

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func marshalList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	return string(b), err
}

func unmarshalList(raw string) ([]string, error) {
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items, nil
}

// GetRecord retrieves a record and its edit history.
func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*domain.Record, error) {
	query := `
		SELECT record_id, source_text, event_type, locations_json, people_json,
		       organizations_json, schemes_json, hashtags_json, confidence,
		       review_status, updated_at
		FROM records WHERE record_id = ?`

	var rec domain.Record
	var lists [5]string
	var status string
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.Text, &rec.EventType, &lists[0], &lists[1],
		&lists[2], &lists[3], &lists[4], &rec.Confidence,
		&status, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan record row: %w", err)
	}

	targets := []*[]string{&rec.Locations, &rec.People, &rec.Organizations, &rec.Schemes, &rec.Hashtags}
	for i, raw := range lists {
		if *targets[i], err = unmarshalList(raw); err != nil {
			return nil, fmt.Errorf("decode record %s lists: %w", id, err)
		}
	}
	rec.ReviewStatus = domain.ReviewStatus(status)
	rec.UpdatedAt = time.Unix(updatedAt, 0)

	if rec.EditHistory, err = s.recordEdits(ctx, id); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) recordEdits(ctx context.Context, id string) ([]domain.EditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT field, old_value_json, new_value_json, edited_by, edited_at
		FROM record_edits WHERE record_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query record edits: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close record edit rows", "error", closeErr)
		}
	}()

	var edits []domain.EditEntry
	for rows.Next() {
		var e domain.EditEntry
		var oldJSON, newJSON string
		var editedAt int64
		if err := rows.Scan(&e.Field, &oldJSON, &newJSON, &e.EditedBy, &editedAt); err != nil {
			return nil, fmt.Errorf("scan record edit: %w", err)
		}
		if err := json.Unmarshal([]byte(oldJSON), &e.OldValue); err != nil {
			return nil, fmt.Errorf("decode old value: %w", err)
		}
		if err := json.Unmarshal([]byte(newJSON), &e.NewValue); err != nil {
			return nil, fmt.Errorf("decode new value: %w", err)
		}
		e.EditedAt = time.Unix(editedAt, 0)
		edits = append(edits, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record edits: %w", err)
	}
	return edits, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertRecord(ctx context.Context, db execer, rec *domain.Record) error {
	var lists [5]string
	for i, items := range [][]string{rec.Locations, rec.People, rec.Organizations, rec.Schemes, rec.Hashtags} {
		raw, err := marshalList(items)
		if err != nil {
			return fmt.Errorf("encode record lists: %w", err)
		}
		lists[i] = raw
	}
	status := rec.ReviewStatus
	if status == "" {
		status = domain.ReviewPending
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	query := `
	INSERT INTO records (record_id, source_text, event_type, locations_json, people_json,
		organizations_json, schemes_json, hashtags_json, confidence, review_status, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(record_id) DO UPDATE SET
		source_text = excluded.source_text,
		event_type = excluded.event_type,
		locations_json = excluded.locations_json,
		people_json = excluded.people_json,
		organizations_json = excluded.organizations_json,
		schemes_json = excluded.schemes_json,
		hashtags_json = excluded.hashtags_json,
		confidence = excluded.confidence,
		review_status = excluded.review_status,
		updated_at = excluded.updated_at`
	_, err := db.ExecContext(ctx, query,
		rec.ID, rec.Text, rec.EventType, lists[0], lists[1],
		lists[2], lists[3], lists[4], rec.Confidence, string(status), updated.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// PutRecord creates or replaces a record's fields. Edit history is left
// untouched.
func (s *SQLiteStore) PutRecord(ctx context.Context, rec *domain.Record) error {
	if rec == nil || rec.ID == "" {
		return errors.New("put record: missing id")
	}
	return shared.RetryOnConflict(ctx, "put record", s.retry, func() error {
		return upsertRecord(ctx, s.db, rec)
	})
}

// UpdateRecord writes the record's fields and appends one edit-history row
// in a single transaction.
func (s *SQLiteStore) UpdateRecord(ctx context.Context, rec *domain.Record, edit domain.EditEntry) error {
	if rec == nil || rec.ID == "" {
		return errors.New("update record: missing id")
	}
	oldJSON, err := json.Marshal(edit.OldValue)
	if err != nil {
		return fmt.Errorf("encode old value: %w", err)
	}
	newJSON, err := json.Marshal(edit.NewValue)
	if err != nil {
		return fmt.Errorf("encode new value: %w", err)
	}
	editedAt := edit.EditedAt
	if editedAt.IsZero() {
		editedAt = time.Now()
	}

	return shared.RetryOnConflict(ctx, "update record", s.retry, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := upsertRecord(ctx, tx, rec); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO record_edits (record_id, field, old_value_json, new_value_json, edited_by, edited_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rec.ID, edit.Field, string(oldJSON), string(newJSON), edit.EditedBy, editedAt.Unix(),
		); err != nil {
			return fmt.Errorf("insert record edit: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit record update: %w", err)
		}
		return nil
	})
}

// SaveSession creates or replaces a session snapshot.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *domain.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	query := `
		INSERT INTO review_sessions (session_id, stage, snapshot_json, last_activity, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			stage = excluded.stage,
			snapshot_json = excluded.snapshot_json,
			last_activity = excluded.last_activity`

	return shared.RetryOnConflict(ctx, "save session", s.retry, func() error {
		_, err := s.db.ExecContext(ctx, query,
			sess.ID, string(sess.Stage), string(raw), sess.LastActivity.Unix(), sess.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
		return nil
	})
}

// LoadSession retrieves a session snapshot.
func (s *SQLiteStore) LoadSession(ctx context.Context, id string) (*domain.Session, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot_json FROM review_sessions WHERE session_id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

// DeleteIdleSessions removes snapshots last active before the cutoff.
func (s *SQLiteStore) DeleteIdleSessions(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := shared.RetryOnConflict(ctx, "delete idle sessions", s.retry, func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM review_sessions WHERE last_activity < ?`, before.Unix())
		if err != nil {
			return fmt.Errorf("delete idle sessions: %w", err)
		}
		n, err = result.RowsAffected()
		return err
	})
	return n, err
}

// Learn records a correction and the values it introduced. The field name
// is the learned category.
func (s *SQLiteStore) Learn(ctx context.Context, c domain.Correction) ([]string, error) {
	origJSON, err := json.Marshal(c.Original)
	if err != nil {
		return nil, fmt.Errorf("encode original: %w", err)
	}
	corrJSON, err := json.Marshal(c.Corrected)
	if err != nil {
		return nil, fmt.Errorf("encode correction: %w", err)
	}

	var added []string
	for _, v := range c.Corrected.Strings() {
		v = strings.TrimSpace(v)
		if v != "" && !c.Original.Contains(v) && !slices.Contains(added, v) {
			added = append(added, v)
		}
	}

	var learned []string
	now := time.Now().Unix()
	err = shared.RetryOnConflict(ctx, "learn correction", s.retry, func() error {
		learned = learned[:0]
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO corrections (record_id, field, original_json, corrected_json, reviewer, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.RecordID, c.Field, string(origJSON), string(corrJSON), c.Reviewer, now,
		); err != nil {
			return fmt.Errorf("insert correction: %w", err)
		}

		fresh := false
		for _, v := range added {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO learned_entities (category, value, hits, first_seen_at, last_seen_at)
				VALUES (?, ?, 1, ?, ?)
				ON CONFLICT(category, value) DO NOTHING`, c.Field, v, now, now)
			if err != nil {
				return fmt.Errorf("insert learned entity: %w", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				fresh = true
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE learned_entities SET hits = hits + 1, last_seen_at = ?
				WHERE category = ? AND value = ?`, now, c.Field, v); err != nil {
				return fmt.Errorf("bump learned entity: %w", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit correction: %w", err)
		}
		if fresh {
			learned = append(learned, c.Field)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return learned, nil
}

// LearnedValues lists learned values for a category, most frequent first.
func (s *SQLiteStore) LearnedValues(ctx context.Context, category string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT value FROM learned_entities WHERE category = ?
		ORDER BY hits DESC, value`, category)
	if err != nil {
		return nil, fmt.Errorf("query learned entities: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close learned entity rows", "error", closeErr)
		}
	}()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan learned entity: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate learned entities: %w", err)
	}
	return values, nil
}
