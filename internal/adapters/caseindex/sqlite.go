// Package caseindex stores the precedent corpus in SQLite, one row per case
// with its embedding serialized as JSON. Similarity ranking runs in-process
// over the candidate vectors.
package caseindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/hjwen/counsel-agent/internal/adapters/embedding"
	"github.com/hjwen/counsel-agent/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS cases (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	fact                TEXT NOT NULL,
	articles            TEXT NOT NULL,
	accusations         TEXT NOT NULL,
	fine                INTEGER NOT NULL,
	imprisonment_months INTEGER NOT NULL,
	criminals           TEXT NOT NULL,
	embedding           TEXT NOT NULL
);
`

type SQLiteIndex struct {
	db *sql.DB
}

var _ domain.CaseIndex = (*SQLiteIndex)(nil)

// Open opens (and if needed initializes) a case index database.
func Open(path string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening case index: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing case index schema: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// Insert adds one case with its embedding.
func (s *SQLiteIndex) Insert(ctx context.Context, rec domain.CaseRecord, vector []float32) error {
	articles, err := json.Marshal(rec.Articles)
	if err != nil {
		return fmt.Errorf("encoding articles: %w", err)
	}
	accusations, err := json.Marshal(rec.Accusations)
	if err != nil {
		return fmt.Errorf("encoding accusations: %w", err)
	}
	criminals, err := json.Marshal(rec.Criminals)
	if err != nil {
		return fmt.Errorf("encoding criminals: %w", err)
	}
	emb, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("encoding embedding: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cases (fact, articles, accusations, fine, imprisonment_months, criminals, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Fact, string(articles), string(accusations), rec.Fine, rec.ImprisonmentMonths, string(criminals), string(emb),
	)
	if err != nil {
		return fmt.Errorf("inserting case: %w", err)
	}
	return nil
}

// Query ranks every stored case against the query vector and returns the top
// limit, best first. Rows whose embedding dimension mismatches are skipped.
func (s *SQLiteIndex) Query(ctx context.Context, vector []float32, limit int) ([]domain.ScoredCase, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT fact, articles, accusations, fine, imprisonment_months, criminals, embedding FROM cases`)
	if err != nil {
		return nil, fmt.Errorf("querying cases: %w", err)
	}
	defer rows.Close()

	var scored []domain.ScoredCase
	for rows.Next() {
		var rec domain.CaseRecord
		var articles, accusations, criminals, emb string
		if err := rows.Scan(&rec.Fact, &articles, &accusations, &rec.Fine, &rec.ImprisonmentMonths, &criminals, &emb); err != nil {
			return nil, fmt.Errorf("scanning case row: %w", err)
		}

		var caseVec []float32
		if err := json.Unmarshal([]byte(emb), &caseVec); err != nil {
			continue
		}
		score, err := embedding.Cosine(vector, caseVec)
		if err != nil {
			continue
		}

		_ = json.Unmarshal([]byte(articles), &rec.Articles)
		_ = json.Unmarshal([]byte(accusations), &rec.Accusations)
		_ = json.Unmarshal([]byte(criminals), &rec.Criminals)

		scored = append(scored, domain.ScoredCase{CaseRecord: rec, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating case rows: %w", err)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cases`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting cases: %w", err)
	}
	return n, nil
}
