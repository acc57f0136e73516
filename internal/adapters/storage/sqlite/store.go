// Package sqlite is the durable ConversationRepository for single-node
// deployments. Messages and retrieval summaries live in child tables keyed by
// insert order; current-flag flips run inside one transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hjwen/counsel-agent/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	title      TEXT NOT NULL,
	is_current INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id);

CREATE TABLE IF NOT EXISTS messages (
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	seq             INTEGER NOT NULL,
	payload         TEXT NOT NULL,
	PRIMARY KEY (conversation_id, seq)
);

CREATE TABLE IF NOT EXISTS case_history (
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	seq             INTEGER NOT NULL,
	payload         TEXT NOT NULL,
	PRIMARY KEY (conversation_id, seq)
);
`

type Store struct {
	db *sql.DB
}

var _ domain.ConversationRepository = (*Store)(nil)

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening conversation store: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing conversation schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, conv *domain.Conversation) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if conv.IsCurrent {
			if _, err := tx.ExecContext(ctx,
				`UPDATE conversations SET is_current = 0 WHERE session_id = ?`, conv.SessionID); err != nil {
				return fmt.Errorf("demoting current conversation: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (id, session_id, title, is_current, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			conv.ID, conv.SessionID, conv.Title, boolInt(conv.IsCurrent),
			formatTime(conv.CreatedAt), formatTime(conv.UpdatedAt))
		if err != nil {
			return fmt.Errorf("inserting conversation: %w", err)
		}
		if err := appendMessages(ctx, tx, conv.ID, 0, conv.Messages); err != nil {
			return err
		}
		return appendCases(ctx, tx, conv.ID, 0, conv.CaseHistory)
	})
}

func (s *Store) Get(ctx context.Context, sessionID domain.SessionID, id domain.ConversationID) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, title, is_current, created_at, updated_at
		 FROM conversations WHERE session_id = ? AND id = ?`, sessionID, id)
	return s.scanConversation(ctx, row)
}

func (s *Store) GetCurrent(ctx context.Context, sessionID domain.SessionID) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, title, is_current, created_at, updated_at
		 FROM conversations WHERE session_id = ? AND is_current = 1`, sessionID)
	return s.scanConversation(ctx, row)
}

func (s *Store) List(ctx context.Context, sessionID domain.SessionID) ([]*domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM conversations WHERE session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var ids []domain.ConversationID
	for rows.Next() {
		var id domain.ConversationID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}

	out := make([]*domain.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.Get(ctx, sessionID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, nil
}

func (s *Store) SetCurrent(ctx context.Context, sessionID domain.SessionID, id domain.ConversationID) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE conversations SET is_current = 1 WHERE session_id = ? AND id = ?`, sessionID, id)
		if err != nil {
			return fmt.Errorf("promoting conversation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET is_current = 0 WHERE session_id = ? AND id != ?`, sessionID, id); err != nil {
			return fmt.Errorf("demoting siblings: %w", err)
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, sessionID domain.SessionID, id domain.ConversationID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE session_id = ? AND id = ?`, sessionID, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) Append(ctx context.Context, sessionID domain.SessionID, id domain.ConversationID, msgs []domain.Message, cases []domain.CaseSummary, at time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE session_id = ? AND id = ?`,
			formatTime(at), sessionID, id)
		if err != nil {
			return fmt.Errorf("stamping conversation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrNotFound
		}

		msgSeq, err := nextSeq(ctx, tx, "messages", id)
		if err != nil {
			return err
		}
		if err := appendMessages(ctx, tx, id, msgSeq, msgs); err != nil {
			return err
		}

		caseSeq, err := nextSeq(ctx, tx, "case_history", id)
		if err != nil {
			return err
		}
		if err := appendCases(ctx, tx, id, caseSeq, cases); err != nil {
			return err
		}

		// Evict the oldest summaries past the retention bound.
		_, err = tx.ExecContext(ctx,
			`DELETE FROM case_history WHERE conversation_id = ? AND seq <= (
				SELECT MAX(seq) FROM case_history WHERE conversation_id = ?
			) - ?`, id, id, domain.MaxCaseHistory)
		if err != nil {
			return fmt.Errorf("trimming case history: %w", err)
		}
		return nil
	})
}

func (s *Store) Rename(ctx context.Context, sessionID domain.SessionID, id domain.ConversationID, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ? WHERE session_id = ? AND id = ?`, title, sessionID, id)
	if err != nil {
		return fmt.Errorf("renaming conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) scanConversation(ctx context.Context, row *sql.Row) (*domain.Conversation, error) {
	var (
		conv               domain.Conversation
		current            int
		createdAt, updated string
	)
	err := row.Scan(&conv.ID, &conv.SessionID, &conv.Title, &current, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}
	conv.IsCurrent = current != 0
	if conv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if conv.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}

	if conv.Messages, err = loadJSONRows[domain.Message](ctx, s.db, "messages", conv.ID); err != nil {
		return nil, err
	}
	if conv.CaseHistory, err = loadJSONRows[domain.CaseSummary](ctx, s.db, "case_history", conv.ID); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func appendMessages(ctx context.Context, tx *sql.Tx, id domain.ConversationID, seq int, msgs []domain.Message) error {
	for i, m := range msgs {
		payload, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encoding message: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, seq, payload) VALUES (?, ?, ?)`,
			id, seq+i, string(payload)); err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
	}
	return nil
}

func appendCases(ctx context.Context, tx *sql.Tx, id domain.ConversationID, seq int, cases []domain.CaseSummary) error {
	for i, c := range cases {
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encoding case summary: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO case_history (conversation_id, seq, payload) VALUES (?, ?, ?)`,
			id, seq+i, string(payload)); err != nil {
			return fmt.Errorf("inserting case summary: %w", err)
		}
	}
	return nil
}

func nextSeq(ctx context.Context, tx *sql.Tx, table string, id domain.ConversationID) (int, error) {
	var seq sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM `+table+` WHERE conversation_id = ?`, id).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("reading %s sequence: %w", table, err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return int(seq.Int64) + 1, nil
}

func loadJSONRows[T any](ctx context.Context, db *sql.DB, table string, id domain.ConversationID) ([]T, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT payload FROM `+table+` WHERE conversation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", table, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", table, err)
		}
		var item T
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", table, err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored timestamp %q: %w", s, err)
	}
	return t, nil
}
