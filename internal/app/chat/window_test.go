package chat

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hjwen/counsel-agent/internal/domain"
)

func history(n int) []domain.Message {
	msgs := make([]domain.Message, n)
	for i := range msgs {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		msgs[i] = domain.Message{Content: fmt.Sprintf("m%d", i+1), Role: role}
	}
	return msgs
}

func TestWindowShortHistoryUnchanged(t *testing.T) {
	h := history(8)
	got := Window(h, 5)
	require.Equal(t, h, got)
	require.Len(t, got, 8)
}

func TestWindowExactBoundUnchanged(t *testing.T) {
	h := history(10)
	require.Equal(t, h, Window(h, 5))
}

func TestWindowKeepsLastMessagesInOrder(t *testing.T) {
	h := history(30)
	got := Window(h, 5)

	require.Len(t, got, 10)
	require.Equal(t, "m21", got[0].Content)
	require.Equal(t, "m30", got[9].Content)

	// The full history is untouched.
	require.Len(t, h, 30)
	require.Equal(t, "m1", h[0].Content)
}

func TestWindowZeroTurns(t *testing.T) {
	require.Empty(t, Window(history(6), 0))
}
