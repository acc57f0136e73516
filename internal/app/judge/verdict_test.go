package judge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hjwen/counsel-agent/internal/domain"
)

func TestParseVerdict(t *testing.T) {
	reasoning, best, err := ParseVerdict(`{"reasoning": "A cites the statute", "best_answer": "A"}`)
	require.NoError(t, err)
	require.Equal(t, "A cites the statute", reasoning)
	require.Equal(t, "A", best)
}

func TestParseVerdictFencedJSON(t *testing.T) {
	raw := "```json\n{\"reasoning\": \"理由\", \"best_answer\": \"答案\"}\n```"
	reasoning, best, err := ParseVerdict(raw)
	require.NoError(t, err)
	require.Equal(t, "理由", reasoning)
	require.Equal(t, "答案", best)
}

func TestParseVerdictBareFence(t *testing.T) {
	raw := "```\n{\"reasoning\": \"r\", \"best_answer\": \"b\"}\n```"
	_, best, err := ParseVerdict(raw)
	require.NoError(t, err)
	require.Equal(t, "b", best)
}

func TestParseVerdictInvalidJSON(t *testing.T) {
	raw := "I think A is best."
	_, _, err := ParseVerdict(raw)

	var parseErr *domain.VerdictParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, raw, parseErr.Raw, "raw arbiter text is preserved for the caller")
}

func TestParseVerdictMissingField(t *testing.T) {
	_, _, err := ParseVerdict(`{"reasoning": "r"}`)

	var parseErr *domain.VerdictParseError
	require.ErrorAs(t, err, &parseErr)
	require.Contains(t, parseErr.Err.Error(), "best_answer")
}

func TestParseVerdictEmptyFieldsAccepted(t *testing.T) {
	// Present-but-empty is a valid verdict, unlike absent.
	reasoning, best, err := ParseVerdict(`{"reasoning": "", "best_answer": ""}`)
	require.NoError(t, err)
	require.Empty(t, reasoning)
	require.Empty(t, best)
}

func TestVerdictParseErrorUnwraps(t *testing.T) {
	inner := errors.New("boom")
	err := &domain.VerdictParseError{Raw: "x", Err: inner}
	require.ErrorIs(t, err, inner)
}
