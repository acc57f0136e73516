package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hjwen/counsel-agent/internal/domain"
)

type recordingSink struct {
	frames []Frame
	fail   bool
}

func (s *recordingSink) Send(f Frame) error {
	if s.fail {
		return errors.New("client gone")
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *recordingSink) events() []string {
	out := make([]string, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.Event
	}
	return out
}

func scriptedStream(model string, tokens []string, streamErr error) *domain.ChatStream {
	tokCh := make(chan string, len(tokens))
	for _, t := range tokens {
		tokCh <- t
	}
	close(tokCh)

	errCh := make(chan error, 1)
	if streamErr != nil {
		errCh <- streamErr
	}
	close(errCh)

	return &domain.ChatStream{Model: model, Tokens: tokCh, Err: errCh}
}

func TestRunDirectiveFlow(t *testing.T) {
	sink := &recordingSink{}
	stream := scriptedStream("deepseek-chat", []string{"answer", " [RAG_QUERY:", " x]"}, nil)

	var persistedClean string
	var persistedExtra []domain.CaseSummary
	var searchedQuery string

	err := Run(context.Background(), stream, sink, Hooks{
		RetrievalReady: func() bool { return true },
		Search: func(_ context.Context, q string) ([]domain.CaseSummary, error) {
			searchedQuery = q
			return []domain.CaseSummary{{Fact: "precedent"}}, nil
		},
		Persist: func(_ context.Context, clean string, extra []domain.CaseSummary) error {
			persistedClean = clean
			persistedExtra = extra
			return nil
		},
	})
	require.NoError(t, err)

	require.Equal(t, []string{
		EventModelInfo,
		EventChunk, EventChunk, EventChunk,
		EventRagQueryFound,
		EventRagResultsFound,
		EventEndOfStream,
	}, sink.events())

	require.Equal(t, "x", searchedQuery)
	require.Equal(t, "answer", persistedClean, "persisted text has the tag stripped")
	require.Len(t, persistedExtra, 1)

	last := sink.frames[len(sink.frames)-1].Data.(struct {
		FullResponse string `json:"full_response"`
	})
	require.Equal(t, "answer [RAG_QUERY: x]", last.FullResponse, "terminal frame echoes the raw accumulator")
}

func TestRunPlainAnswer(t *testing.T) {
	sink := &recordingSink{}
	stream := scriptedStream("glm-4", []string{"你好"}, nil)

	persisted := false
	err := Run(context.Background(), stream, sink, Hooks{
		RetrievalReady: func() bool { return true },
		Search: func(context.Context, string) ([]domain.CaseSummary, error) {
			t.Fatal("no directive, no secondary search")
			return nil, nil
		},
		Persist: func(_ context.Context, clean string, extra []domain.CaseSummary) error {
			persisted = true
			require.Equal(t, "你好", clean)
			require.Empty(t, extra)
			return nil
		},
	})
	require.NoError(t, err)
	require.True(t, persisted)
	require.Equal(t, []string{EventModelInfo, EventChunk, EventEndOfStream}, sink.events())
}

func TestRunRetrievalNotReady(t *testing.T) {
	sink := &recordingSink{}
	stream := scriptedStream("m", []string{"a [RAG_QUERY: q]"}, nil)

	err := Run(context.Background(), stream, sink, Hooks{
		RetrievalReady: func() bool { return false },
		Search: func(context.Context, string) ([]domain.CaseSummary, error) {
			t.Fatal("search must not run when retrieval is down")
			return nil, nil
		},
		Persist: func(_ context.Context, clean string, _ []domain.CaseSummary) error {
			require.Equal(t, "a", clean, "tag is still stripped from the persisted text")
			return nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, []string{EventModelInfo, EventChunk, EventEndOfStream}, sink.events())
}

func TestRunSecondarySearchEmpty(t *testing.T) {
	sink := &recordingSink{}
	stream := scriptedStream("m", []string{"a [RAG_QUERY: q]"}, nil)

	err := Run(context.Background(), stream, sink, Hooks{
		RetrievalReady: func() bool { return true },
		Search: func(context.Context, string) ([]domain.CaseSummary, error) {
			return nil, nil
		},
		Persist: func(context.Context, string, []domain.CaseSummary) error { return nil },
	})
	require.NoError(t, err)
	// rag_query_detected fires, rag_results_found does not.
	require.Equal(t, []string{EventModelInfo, EventChunk, EventRagQueryFound, EventEndOfStream}, sink.events())
}

func TestRunUpstreamErrorSuppressesPersistence(t *testing.T) {
	sink := &recordingSink{}
	stream := scriptedStream("m", []string{"partial"}, errors.New("connection reset"))

	err := Run(context.Background(), stream, sink, Hooks{
		RetrievalReady: func() bool { return true },
		Persist: func(context.Context, string, []domain.CaseSummary) error {
			t.Fatal("errored stream must not persist")
			return nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, []string{EventModelInfo, EventChunk, EventError}, sink.events())
}

func TestRunEmptyAccumulator(t *testing.T) {
	sink := &recordingSink{}
	stream := scriptedStream("m", nil, nil)

	err := Run(context.Background(), stream, sink, Hooks{
		RetrievalReady: func() bool { return true },
		Persist: func(context.Context, string, []domain.CaseSummary) error {
			t.Fatal("nothing to persist")
			return nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, []string{EventModelInfo, EventEndOfStream}, sink.events())
}
