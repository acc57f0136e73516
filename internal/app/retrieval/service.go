package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hjwen/counsel-agent/internal/domain"
	"github.com/hjwen/counsel-agent/internal/observability"
)

const (
	maxFactRunes  = 200
	maxQueryRunes = 100
	// RelevantHistory returns at most this many stored summaries.
	maxHistoryHits = 3
)

// sentencingKeywords is the fixed duration/penalty vocabulary the history
// heuristic matches against. The rule is literal keyword containment, not
// semantic relevance.
var sentencingKeywords = []string{
	"有期徒刑",
	"无期徒刑",
	"拘役",
	"管制",
	"缓刑",
	"死刑",
	"罚金",
	"判处",
	"个月",
	"刑期",
}

// Service wraps the embedding call and the nearest-neighbor index. It is a
// stateless singleton, safe for concurrent queries. Construction fails when
// either backend is unavailable; callers must check Ready and degrade to an
// empty case list instead of failing the turn.
type Service struct {
	embedder domain.Embedder
	index    domain.CaseIndex
	now      func() time.Time
	ready    bool
}

func NewService(ctx context.Context, embedder domain.Embedder, index domain.CaseIndex) (*Service, error) {
	if embedder == nil || index == nil {
		return nil, domain.ErrRetrievalUnavailable
	}
	n, err := index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("probing case index: %w", err)
	}
	observability.Logger().Info("retrieval service ready",
		"embedder", embedder.Name(),
		"indexed_cases", n,
	)
	return &Service{
		embedder: embedder,
		index:    index,
		now:      time.Now,
		ready:    true,
	}, nil
}

// Ready reports whether the backends were initialized. A nil service (failed
// construction) is simply not ready.
func (s *Service) Ready() bool {
	return s != nil && s.ready
}

// Search embeds the query and ranks index candidates. The index is asked for
// 2k candidates to tolerate the min-score post-filter; at most k survive,
// highest similarity first.
func (s *Service) Search(ctx context.Context, query string, k int, minScore float64) ([]domain.ScoredCase, error) {
	if !s.Ready() {
		return nil, domain.ErrRetrievalUnavailable
	}
	if k <= 0 {
		return nil, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	candidates, err := s.index.Query(ctx, vec, 2*k)
	if err != nil {
		return nil, fmt.Errorf("querying case index: %w", err)
	}

	results := make([]domain.ScoredCase, 0, k)
	for _, c := range candidates {
		if c.Score < minScore {
			continue
		}
		results = append(results, c)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}

	observability.LoggerFromContext(ctx).Info("case search completed",
		"candidates", len(candidates),
		"returned", len(results),
		"min_score", minScore,
	)
	return results, nil
}

// Summarize simplifies search results into the bounded form kept in a
// conversation's retrieval history.
func (s *Service) Summarize(cases []domain.ScoredCase, query string) []domain.CaseSummary {
	if len(cases) == 0 {
		return nil
	}
	at := s.now()
	out := make([]domain.CaseSummary, 0, len(cases))
	for _, c := range cases {
		out = append(out, domain.CaseSummary{
			Fact:               truncateWithEllipsis(c.Fact, maxFactRunes),
			Accusations:        c.Accusations,
			Articles:           c.Articles,
			ImprisonmentMonths: c.ImprisonmentMonths,
			Fine:               c.Fine,
			CapturedAt:         at,
			Query:              firstRunes(query, maxQueryRunes),
		})
	}
	return out
}

// RelevantHistory filters the conversation's stored retrieval history: an
// entry survives when its fact or charge text contains at least one
// sentencing keyword AND its originating query differs from the current
// query's first 100 runes (duplicate suppression).
func (s *Service) RelevantHistory(conv *domain.Conversation, currentQuery string) []domain.CaseSummary {
	if conv == nil || len(conv.CaseHistory) == 0 {
		return nil
	}
	currentKey := firstRunes(currentQuery, maxQueryRunes)

	var hits []domain.CaseSummary
	for _, entry := range conv.CaseHistory {
		if entry.Query == currentKey {
			continue
		}
		text := entry.Fact + strings.Join(entry.Accusations, " ")
		if !containsAny(text, sentencingKeywords) {
			continue
		}
		hits = append(hits, entry)
		if len(hits) == maxHistoryHits {
			break
		}
	}
	return hits
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func firstRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func truncateWithEllipsis(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
