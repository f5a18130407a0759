package reply

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mailagent-go/internal/extract"
	"mailagent-go/internal/llm"
	"mailagent-go/internal/metrics"
	"mailagent-go/internal/model"
	"mailagent-go/internal/repository"
	"mailagent-go/internal/repository/repotest"
)

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, prompt, systemPrompt string, temperature float64, maxTokens int) (string, error) {
	args := m.Called(ctx, prompt, systemPrompt, temperature, maxTokens)
	return args.String(0), args.Error(1)
}

const threeVariants = "```json\n{\"variant1\": \"Dear Bob, noted.\", \"variant2\": \"Hey Bob!\", \"variant3\": \"Hi Bob, thanks.\"}\n```"

func setup(t *testing.T) (*Manager, *mockCompleter, *repository.Repository) {
	t.Helper()
	repo := repotest.New(t)
	require.NoError(t, repo.CreateMessage(context.Background(), &model.Message{
		ID:       "m1",
		FromAddr: "Bob <bob@example.com>",
		ToAddr:   "me@example.com",
		Subject:  "Lunch?",
		BodyText: "Are you free for lunch on Friday?",
		Date:     time.Now(),
	}))
	c := &mockCompleter{}
	return NewManager(c, repo, 1500, metrics.NewMetrics(prometheus.NewRegistry())), c, repo
}

func TestGetOrGenerateIsIdempotent(t *testing.T) {
	mgr, c, _ := setup(t)
	c.On("Complete", mock.Anything, mock.Anything, generatePrompt, 0.7, 1500).Return(threeVariants, nil).Once()

	first, err := mgr.GetOrGenerate(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, first, 3)
	for i, d := range first {
		assert.Equal(t, i+1, d.VariantNumber)
		assert.Equal(t, model.Tones[i], d.Tone)
		assert.False(t, d.Sent)
	}
	assert.Equal(t, "Dear Bob, noted.", first[0].Content)
	assert.Equal(t, "Hey Bob!", first[1].Content)

	second, err := mgr.GetOrGenerate(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, ids(first), ids(second))
	c.AssertNumberOfCalls(t, "Complete", 1)
}

func TestGetOrGenerateFillsMissingVariants(t *testing.T) {
	mgr, c, _ := setup(t)
	c.On("Complete", mock.Anything, mock.Anything, generatePrompt, mock.Anything, mock.Anything).
		Return(`Here you go: {"variant2": "Sure, Friday works!"}`, nil)

	drafts, err := mgr.GetOrGenerate(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, drafts, 3)
	assert.Equal(t, Placeholder, drafts[0].Content)
	assert.Equal(t, "Sure, Friday works!", drafts[1].Content)
	assert.Equal(t, Placeholder, drafts[2].Content)
}

func TestGetOrGenerateUnknownMessage(t *testing.T) {
	mgr, c, _ := setup(t)

	_, err := mgr.GetOrGenerate(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrMessageNotFound)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	c.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetOrGeneratePropagatesFailures(t *testing.T) {
	tests := []struct {
		name   string
		out    string
		err    error
		target error
	}{
		{"transport", "", &llm.TransportError{Attempts: 3}, llm.ErrTransport},
		{"malformed", "I cannot answer in JSON", nil, extract.ErrInvalidOutput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, c, repo := setup(t)
			c.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(tt.out, tt.err)

			_, err := mgr.GetOrGenerate(context.Background(), "m1")
			assert.ErrorIs(t, err, tt.target)

			drafts, err := repo.ListDrafts(context.Background(), "m1")
			require.NoError(t, err)
			assert.Empty(t, drafts)
		})
	}
}

func TestConcurrentCallersGenerateOnce(t *testing.T) {
	mgr, c, _ := setup(t)
	var calls int32
	c.On("Complete", mock.Anything, mock.Anything, generatePrompt, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			atomic.AddInt32(&calls, 1)
			time.Sleep(20 * time.Millisecond)
		}).
		Return(threeVariants, nil)

	var wg sync.WaitGroup
	results := make([][]model.ReplyDraft, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			drafts, err := mgr.GetOrGenerate(context.Background(), "m1")
			assert.NoError(t, err)
			results[i] = drafts
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, drafts := range results {
		assert.Len(t, drafts, 3)
	}
	assert.Zero(t, mgr.locks.size())
}

func TestInvalidateAndRegenerate(t *testing.T) {
	mgr, c, _ := setup(t)
	c.On("Complete", mock.Anything, mock.Anything, generatePrompt, mock.Anything, mock.Anything).Return(threeVariants, nil)
	ctx := context.Background()

	first, err := mgr.GetOrGenerate(ctx, "m1")
	require.NoError(t, err)

	ok, err := mgr.MarkSent(ctx, first[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)

	regenerated, err := mgr.Regenerate(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, regenerated, 3)
	assert.NotContains(t, ids(regenerated), first[1].ID)

	removed, err := mgr.Invalidate(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	_, err = mgr.Regenerate(ctx, "missing")
	assert.ErrorIs(t, err, ErrMessageNotFound)
	c.AssertNumberOfCalls(t, "Complete", 2)
}

func TestGenerationPromptTruncatesBody(t *testing.T) {
	prompt := generationPrompt(EmailContext{Subject: "s", BodyText: strings.Repeat("b", 2500)})
	assert.Contains(t, prompt, strings.Repeat("b", 2000)+"...")
	assert.NotContains(t, prompt, strings.Repeat("b", 2001))
	assert.Contains(t, prompt, "From: Unknown")

	prompt = generationPrompt(EmailContext{Snippet: "preview only"})
	assert.Contains(t, prompt, "preview only")
	assert.Contains(t, prompt, "(no subject)")
}

func TestImprove(t *testing.T) {
	mgr, c, _ := setup(t)
	email := EmailContext{From: "bob@example.com", Subject: "Lunch?", BodyText: strings.Repeat("z", 3000)}

	c.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "make it shorter") && !strings.Contains(p, strings.Repeat("z", 1001))
	}), improvePrompt, 0.7, 1000).Return("  Friday works.  ", nil).Once()
	assert.Equal(t, "Friday works.", mgr.Improve(context.Background(), email, "Yes, Friday works for me!", "make it shorter"))

	c.On("Complete", mock.Anything, mock.Anything, improvePrompt, mock.Anything, mock.Anything).Return("", errors.New("endpoint down"))
	assert.Equal(t, "original draft", mgr.Improve(context.Background(), email, "original draft", "anything"))
}

func ids(drafts []model.ReplyDraft) []uint {
	out := make([]uint, len(drafts))
	for i, d := range drafts {
		out[i] = d.ID
	}
	return out
}
