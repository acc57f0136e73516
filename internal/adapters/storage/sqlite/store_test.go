package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hjwen/counsel-agent/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "conversations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newConv(session domain.SessionID, id domain.ConversationID, current bool, at time.Time) *domain.Conversation {
	return &domain.Conversation{
		ID:        id,
		SessionID: session,
		Title:     domain.DefaultConversationTitle,
		IsCurrent: current,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestCreateDemotesPreviousCurrent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, newConv("s1", "c1", true, t0)))
	require.NoError(t, store.Create(ctx, newConv("s1", "c2", true, t0.Add(time.Minute))))

	list, err := store.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 2)

	currents := 0
	for _, c := range list {
		if c.IsCurrent {
			currents++
			require.Equal(t, domain.ConversationID("c2"), c.ID)
		}
	}
	require.Equal(t, 1, currents)
}

func TestGetRoundTripsMessagesAndHistory(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, newConv("s1", "c1", true, t0)))

	msgs := []domain.Message{
		{ID: "m1", Role: domain.RoleUser, Content: "咨询问题", CreatedAt: t0, Attachments: []domain.Attachment{
			{Filename: "evidence.png", Kind: domain.AttachmentImage, Text: "借条"},
		}},
		{ID: "m2", Role: domain.RoleAssistant, Content: "回答", CreatedAt: t0, Judge: &domain.JudgeData{
			ModelUsed: "gpt-4o",
			Reasoning: "best",
			Answers:   map[string]string{"deepseek": "a"},
		}},
	}
	cases := []domain.CaseSummary{{Fact: "盗窃案情", Accusations: []string{"盗窃罪"}, Query: "盗窃", CapturedAt: t0}}
	require.NoError(t, store.Append(ctx, "s1", "c1", msgs, cases, t0.Add(time.Minute)))

	got, err := store.Get(ctx, "s1", "c1")
	require.NoError(t, err)
	require.Equal(t, msgs, got.Messages)
	require.Equal(t, cases, got.CaseHistory)
	require.True(t, got.UpdatedAt.Equal(t0.Add(time.Minute)))
}

func TestGetScopedToSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC()

	require.NoError(t, store.Create(ctx, newConv("s1", "c1", true, t0)))

	_, err := store.Get(ctx, "s2", "c1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetCurrentFlipsExactlyOne(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, newConv("s1", "c1", true, t0)))
	require.NoError(t, store.Create(ctx, newConv("s1", "c2", true, t0.Add(time.Minute))))

	require.NoError(t, store.SetCurrent(ctx, "s1", "c1"))

	c1, err := store.Get(ctx, "s1", "c1")
	require.NoError(t, err)
	require.True(t, c1.IsCurrent)
	// Switching is navigation: the target keeps its old UpdatedAt.
	require.True(t, c1.UpdatedAt.Equal(t0))

	c2, err := store.Get(ctx, "s1", "c2")
	require.NoError(t, err)
	require.False(t, c2.IsCurrent)

	require.ErrorIs(t, store.SetCurrent(ctx, "s1", "missing"), domain.ErrNotFound)
}

func TestDeleteRemovesChildren(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC()

	require.NoError(t, store.Create(ctx, newConv("s1", "c1", true, t0)))
	require.NoError(t, store.Append(ctx, "s1", "c1",
		[]domain.Message{{ID: "m1", Role: domain.RoleUser, Content: "q", CreatedAt: t0}},
		[]domain.CaseSummary{{Fact: "f", CapturedAt: t0}}, t0))

	require.NoError(t, store.Delete(ctx, "s1", "c1"))
	_, err := store.Get(ctx, "s1", "c1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.ErrorIs(t, store.Delete(ctx, "s1", "c1"), domain.ErrNotFound)
}

func TestAppendTrimsCaseHistory(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, newConv("s1", "c1", true, t0)))

	for i := 0; i < domain.MaxCaseHistory+1; i++ {
		summary := domain.CaseSummary{Fact: fmt.Sprintf("case %d", i+1), CapturedAt: t0}
		require.NoError(t, store.Append(ctx, "s1", "c1", nil, []domain.CaseSummary{summary}, t0.Add(time.Duration(i)*time.Second)))
	}

	got, err := store.Get(ctx, "s1", "c1")
	require.NoError(t, err)
	require.Len(t, got.CaseHistory, domain.MaxCaseHistory)
	require.Equal(t, "case 2", got.CaseHistory[0].Fact)
	require.Equal(t, fmt.Sprintf("case %d", domain.MaxCaseHistory+1), got.CaseHistory[domain.MaxCaseHistory-1].Fact)
}

func TestRename(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC()

	require.NoError(t, store.Create(ctx, newConv("s1", "c1", true, t0)))
	require.NoError(t, store.Rename(ctx, "s1", "c1", "盗窃罪咨询"))

	got, err := store.Get(ctx, "s1", "c1")
	require.NoError(t, err)
	require.Equal(t, "盗窃罪咨询", got.Title)

	require.ErrorIs(t, store.Rename(ctx, "s1", "missing", "t"), domain.ErrNotFound)
}
