// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides SQLite-backed conversation persistence.
package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	_ "modernc.org/sqlite"

	"github.com/jeranaias/ollamadesk/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when a conversation doesn't exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = errors.New("conversation not found")

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	model      TEXT NOT NULL DEFAULT '',
	parent_id  TEXT NOT NULL DEFAULT '',
	pinned     INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	seq             INTEGER NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL DEFAULT '',
	thinking        TEXT NOT NULL DEFAULT '',
	image_ref       TEXT NOT NULL DEFAULT '',
	interrupted     INTEGER NOT NULL DEFAULT 0,
	token_count     INTEGER NOT NULL DEFAULT 0,
	ttft_ns         INTEGER NOT NULL DEFAULT 0,
	duration_ns     INTEGER NOT NULL DEFAULT 0,
	tokens_per_sec  REAL NOT NULL DEFAULT 0,
	created_at      TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, seq);
`

// =============================================================================
// STORE
// =============================================================================

// Store persists conversations and turns in a single SQLite database file.
// All methods are safe for concurrent use; SQLite serializes writers.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "create data directory")
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// CONVERSATION CRUD
// =============================================================================

// CreateConversation persists a new conversation row. Its turns, if any, are
// written in the same transaction (used by import).
func (s *Store) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	if err := insertConversation(ctx, tx, conv); err != nil {
		return err
	}
	for i, turn := range conv.Turns {
		if err := insertTurn(ctx, tx, conv.ID, i, turn); err != nil {
			return err
		}
	}

	return errors.Wrap(tx.Commit(), "commit")
}

// LoadConversation retrieves a conversation with all its turns in order.
func (s *Store) LoadConversation(ctx context.Context, id string) (*model.Conversation, error) {
	conv := &model.Conversation{}
	var pinned int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, model, parent_id, pinned, created_at, updated_at
		 FROM conversations WHERE id = ?`, id).
		Scan(&conv.ID, &conv.Title, &conv.Model, &conv.ParentID, &pinned, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load conversation")
	}
	conv.Pinned = pinned != 0

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, thinking, image_ref, interrupted,
		        token_count, ttft_ns, duration_ns, tokens_per_sec, created_at
		 FROM turns WHERE conversation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, errors.Wrap(err, "load turns")
	}
	defer rows.Close()

	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		conv.Turns = append(conv.Turns, turn)
	}
	return conv, errors.Wrap(rows.Err(), "iterate turns")
}

// DeleteConversation removes a conversation and its turns.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "delete conversation")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// SetTitle renames a conversation.
func (s *Store) SetTitle(ctx context.Context, id, title string) error {
	return s.updateField(ctx, id, `UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`, title)
}

// SetModel records the model a conversation uses for new turns.
func (s *Store) SetModel(ctx context.Context, id, modelID string) error {
	return s.updateField(ctx, id, `UPDATE conversations SET model = ?, updated_at = ? WHERE id = ?`, modelID)
}

// SetPinned pins or unpins a conversation in listings.
func (s *Store) SetPinned(ctx context.Context, id string, pinned bool) error {
	v := 0
	if pinned {
		v = 1
	}
	return s.updateField(ctx, id, `UPDATE conversations SET pinned = ?, updated_at = ? WHERE id = ?`, v)
}

func (s *Store) updateField(ctx context.Context, id, query string, value interface{}) error {
	res, err := s.db.ExecContext(ctx, query, value, time.Now(), id)
	if err != nil {
		return errors.Wrap(err, "update conversation")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// =============================================================================
// TURN OPERATIONS
// =============================================================================

// AppendTurn adds a turn to the end of a conversation and bumps its
// updated_at timestamp.
func (s *Store) AppendTurn(ctx context.Context, conversationID string, turn *model.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	seq, err := nextSeq(ctx, tx, conversationID)
	if err != nil {
		return err
	}
	if err := insertTurn(ctx, tx, conversationID, seq, turn); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		time.Now(), conversationID); err != nil {
		return errors.Wrap(err, "touch conversation")
	}

	return errors.Wrap(tx.Commit(), "commit")
}

// nextSeq returns the append position for a conversation, verifying it exists.
func nextSeq(ctx context.Context, tx *sql.Tx, conversationID string) (int, error) {
	var exists int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE id = ?`, conversationID).Scan(&exists)
	if err != nil {
		return 0, errors.Wrap(err, "check conversation")
	}
	if exists == 0 {
		return 0, ErrConversationNotFound
	}

	var seq int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq)+1, 0) FROM turns WHERE conversation_id = ?`,
		conversationID).Scan(&seq)
	return seq, errors.Wrap(err, "next sequence")
}

// =============================================================================
// FORK
// =============================================================================

// ForkConversation creates an independent conversation containing copies of
// the source's turns up to and including uptoIndex. The copied turns get
// fresh IDs so later edits to either branch never touch the other. An index
// past the end copies the whole conversation.
func (s *Store) ForkConversation(ctx context.Context, sourceID string, uptoIndex int) (*model.Conversation, error) {
	source, err := s.LoadConversation(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	fork := source.Fork(uptoIndex)
	if err := s.CreateConversation(ctx, fork); err != nil {
		return nil, err
	}
	return fork, nil
}

// =============================================================================
// LISTING AND SEARCH
// =============================================================================

// Summary is one row of a conversation listing.
type Summary struct {
	ID        string
	Title     string
	Model     string
	ParentID  string
	Pinned    bool
	TurnCount int
	UpdatedAt time.Time
}

// ListConversations returns summaries of all conversations, pinned first,
// most recently updated first within each group.
func (s *Store) ListConversations(ctx context.Context) ([]Summary, error) {
	return s.querySummaries(ctx,
		`SELECT c.id, c.title, c.model, c.parent_id, c.pinned, c.updated_at,
		        (SELECT COUNT(*) FROM turns t WHERE t.conversation_id = c.id)
		 FROM conversations c
		 ORDER BY c.pinned DESC, c.updated_at DESC`)
}

// SearchConversations returns summaries whose title or any turn content
// contains the query, case-insensitively.
func (s *Store) SearchConversations(ctx context.Context, query string) ([]Summary, error) {
	if query == "" {
		return s.ListConversations(ctx)
	}
	pattern := "%" + query + "%"
	return s.querySummaries(ctx,
		`SELECT DISTINCT c.id, c.title, c.model, c.parent_id, c.pinned, c.updated_at,
		        (SELECT COUNT(*) FROM turns t WHERE t.conversation_id = c.id)
		 FROM conversations c
		 LEFT JOIN turns t ON t.conversation_id = c.id
		 WHERE c.title LIKE ? COLLATE NOCASE OR t.content LIKE ? COLLATE NOCASE
		 ORDER BY c.pinned DESC, c.updated_at DESC`,
		pattern, pattern)
}

func (s *Store) querySummaries(ctx context.Context, query string, args ...interface{}) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list conversations")
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var pinned int
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Model, &sum.ParentID,
			&pinned, &sum.UpdatedAt, &sum.TurnCount); err != nil {
			return nil, errors.Wrap(err, "scan summary")
		}
		sum.Pinned = pinned != 0
		out = append(out, sum)
	}
	return out, errors.Wrap(rows.Err(), "iterate summaries")
}

// =============================================================================
// ROW HELPERS
// =============================================================================

func insertConversation(ctx context.Context, tx *sql.Tx, conv *model.Conversation) error {
	pinned := 0
	if conv.Pinned {
		pinned = 1
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, title, model, parent_id, pinned, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.Title, conv.Model, conv.ParentID, pinned, conv.CreatedAt, conv.UpdatedAt)
	return errors.Wrap(err, "insert conversation")
}

func insertTurn(ctx context.Context, tx *sql.Tx, conversationID string, seq int, turn *model.Turn) error {
	interrupted := 0
	if turn.Interrupted {
		interrupted = 1
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO turns (id, conversation_id, seq, role, content, thinking, image_ref,
		                    interrupted, token_count, ttft_ns, duration_ns, tokens_per_sec, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, conversationID, seq, string(turn.Role), turn.Content, turn.Thinking,
		turn.ImageRef, interrupted, turn.TokenCount, int64(turn.TTFT),
		int64(turn.TotalDuration), turn.TokensPerSec, turn.CreatedAt)
	return errors.Wrap(err, "insert turn")
}

func scanTurn(rows *sql.Rows) (*model.Turn, error) {
	turn := &model.Turn{}
	var role string
	var interrupted int
	var ttft, duration int64
	if err := rows.Scan(&turn.ID, &role, &turn.Content, &turn.Thinking,
		&turn.ImageRef, &interrupted, &turn.TokenCount, &ttft, &duration,
		&turn.TokensPerSec, &turn.CreatedAt); err != nil {
		return nil, errors.Wrap(err, "scan turn")
	}
	turn.Role = model.Role(role)
	turn.Interrupted = interrupted != 0
	turn.TTFT = time.Duration(ttft)
	turn.TotalDuration = time.Duration(duration)
	return turn, nil
}
