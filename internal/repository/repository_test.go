package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailagent-go/internal/model"
	"mailagent-go/internal/repository"
	"mailagent-go/internal/repository/repotest"
)

func strPtr(s string) *string { return &s }

func newMessage(id string, date time.Time) *model.Message {
	return &model.Message{
		ID:       id,
		ThreadID: "thread-" + id,
		FromAddr: "Alice <alice@example.com>",
		Subject:  "Subject " + id,
		BodyText: "Body of " + id,
		Date:     date,
		Labels:   []string{"INBOX", "UNREAD"},
	}
}

func TestCreateAndGetMessage(t *testing.T) {
	ctx := context.Background()
	repo := repotest.New(t)

	msg := newMessage("m1", time.Now())
	require.NoError(t, repo.CreateMessage(ctx, msg))

	got, err := repo.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Subject m1", got.Subject)
	assert.Equal(t, model.StatusUnread, got.Status)
	assert.Equal(t, []string{"INBOX", "UNREAD"}, got.Labels)
	assert.False(t, got.Enriched())

	_, err = repo.GetMessage(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCreateDuplicateMessage(t *testing.T) {
	ctx := context.Background()
	repo := repotest.New(t)

	require.NoError(t, repo.CreateMessage(ctx, newMessage("dup", time.Now())))
	err := repo.CreateMessage(ctx, newMessage("dup", time.Now()))
	assert.ErrorIs(t, err, repository.ErrDuplicateKey)

	exists, err := repo.MessageExists(ctx, "dup")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestListMessagesFiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	repo := repotest.New(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		msg := newMessage(id, base.Add(time.Duration(i)*time.Hour))
		if id == "b" {
			msg.Importance = strPtr(model.ImportanceHigh)
			msg.Status = model.StatusRead
		}
		require.NoError(t, repo.CreateMessage(ctx, msg))
	}

	all, err := repo.ListMessages(ctx, model.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	high, err := repo.ListMessages(ctx, model.MessageFilter{Importance: model.ImportanceHigh})
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Equal(t, "b", high[0].ID)

	unread, err := repo.ListMessages(ctx, model.MessageFilter{Status: model.StatusUnread, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "a", unread[0].ID)
}

func TestUpdateAndDeleteMessage(t *testing.T) {
	ctx := context.Background()
	repo := repotest.New(t)
	require.NoError(t, repo.CreateMessage(ctx, newMessage("m1", time.Now())))

	updated, err := repo.UpdateMessage(ctx, "m1", model.MessageUpdate{
		Importance: strPtr(model.ImportanceLow),
		Category:   strPtr(model.CategoryNewsletter),
		Status:     strPtr(model.StatusRead),
		Labels:     []string{"INBOX"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.ImportanceLow, *updated.Importance)
	assert.Equal(t, model.CategoryNewsletter, *updated.Category)
	assert.Equal(t, model.StatusRead, updated.Status)
	assert.Equal(t, []string{"INBOX"}, updated.Labels)
	assert.True(t, updated.Enriched())

	_, err = repo.UpdateMessage(ctx, "missing", model.MessageUpdate{Status: strPtr(model.StatusRead)})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = repo.SaveDraft(ctx, "m1", 1, "hello", model.ToneFormal)
	require.NoError(t, err)

	deleted, err := repo.DeleteMessage(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, deleted)

	drafts, err := repo.ListDrafts(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, drafts)

	deleted, err = repo.DeleteMessage(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDraftLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := repotest.New(t)

	saved, err := repo.SaveDrafts(ctx, []model.ReplyDraft{
		{MessageID: "m1", VariantNumber: 1, Content: "formal", Tone: model.ToneFormal},
		{MessageID: "m1", VariantNumber: 2, Content: "casual", Tone: model.ToneCasual},
		{MessageID: "m1", VariantNumber: 3, Content: "neutral", Tone: model.ToneNeutral},
	})
	require.NoError(t, err)
	require.Len(t, saved, 3)
	assert.NotZero(t, saved[0].ID)

	ok, err := repo.MarkDraftSent(ctx, saved[1].ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkDraftSent(ctx, 9999)
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err := repo.DeleteUnsentDrafts(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	drafts, err := repo.ListDrafts(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.True(t, drafts[0].Sent)
	assert.NotNil(t, drafts[0].SentAt)
}

func TestPreferencesLastWriteWins(t *testing.T) {
	ctx := context.Background()
	repo := repotest.New(t)

	v, err := repo.GetPreference(ctx, "signature", "none")
	require.NoError(t, err)
	assert.Equal(t, "none", v)

	require.NoError(t, repo.SetPreference(ctx, "signature", "Best"))
	require.NoError(t, repo.SetPreference(ctx, "signature", "Cheers"))

	v, err = repo.GetPreference(ctx, "signature", "none")
	require.NoError(t, err)
	assert.Equal(t, "Cheers", v)
}

func TestSyncAuditsAndStats(t *testing.T) {
	ctx := context.Background()
	repo := repotest.New(t)

	require.NoError(t, repo.AppendSyncAudit(ctx, &model.SyncAudit{EmailsFetched: 5, EmailsProcessed: 4, Errors: []string{"boom"}, DurationSeconds: 1.5}))
	require.NoError(t, repo.AppendSyncAudit(ctx, &model.SyncAudit{EmailsFetched: 1}))

	audits, err := repo.ListSyncAudits(ctx, 10)
	require.NoError(t, err)
	require.Len(t, audits, 2)

	byFetched := map[int]model.SyncAudit{}
	for _, a := range audits {
		byFetched[a.EmailsFetched] = a
	}
	assert.Equal(t, []string{"boom"}, byFetched[5].Errors)
	assert.Equal(t, []string{}, byFetched[1].Errors)

	a := newMessage("a", time.Now())
	a.Importance = strPtr(model.ImportanceHigh)
	a.Category = strPtr(model.CategoryUrgent)
	b := newMessage("b", time.Now())
	b.Status = model.StatusRead
	b.Category = strPtr(model.CategoryUrgent)
	require.NoError(t, repo.CreateMessage(ctx, a))
	require.NoError(t, repo.CreateMessage(ctx, b))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Unread)
	assert.Equal(t, int64(1), stats.HighImportance)
	assert.Equal(t, int64(2), stats.Categories[model.CategoryUrgent])
	assert.NoError(t, repo.Ping(ctx))
}
