package relay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDirective(t *testing.T) {
	clean, query := ParseDirective("Here is my answer. [RAG_QUERY: 盗窃 数额较大]")
	require.Equal(t, "Here is my answer.", clean)
	require.Equal(t, "盗窃 数额较大", query)
}

func TestParseDirectiveAbsent(t *testing.T) {
	clean, query := ParseDirective("plain answer")
	require.Equal(t, "plain answer", clean)
	require.Empty(t, query)
}

func TestParseDirectiveMidText(t *testing.T) {
	clean, query := ParseDirective("前半段 [RAG_QUERY: 抢劫] 后半段")
	require.Equal(t, "前半段  后半段", clean)
	require.Equal(t, "抢劫", query)
}

func TestParseDirectiveFirstMatchOnly(t *testing.T) {
	clean, query := ParseDirective("a [RAG_QUERY: one] b [RAG_QUERY: two]")
	require.Equal(t, "one", query)
	require.Equal(t, "a  b [RAG_QUERY: two]", clean, "later tags stay in the clean text")
}

func TestParseDirectiveCaseSensitiveTag(t *testing.T) {
	clean, query := ParseDirective("x [rag_query: nope]")
	require.Equal(t, "x [rag_query: nope]", clean)
	require.Empty(t, query)
}

func TestParseDirectiveUnclosedTag(t *testing.T) {
	clean, query := ParseDirective("x [RAG_QUERY: dangling")
	require.Equal(t, "x [RAG_QUERY: dangling", clean)
	require.Empty(t, query)
}

func TestParseDirectiveEmptyPayload(t *testing.T) {
	_, query := ParseDirective("x [RAG_QUERY: ]")
	require.Empty(t, query)
}
