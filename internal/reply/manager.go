// Package reply generates, caches and refines tone-variant reply drafts.
package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"mailagent-go/internal/extract"
	"mailagent-go/internal/llm"
	"mailagent-go/internal/metrics"
	"mailagent-go/internal/model"
	"mailagent-go/internal/repository"
)

// Placeholder replaces a variant the model left out.
const Placeholder = "Thank you for your email. I will review and get back to you shortly."

const (
	generateTemperature = 0.7
	improveTemperature  = 0.7
	improveMaxTokens    = 1000

	generateBodyLimit = 2000
	improveBodyLimit  = 1000
)

// ErrMessageNotFound is returned when drafts are requested for an unknown message.
var ErrMessageNotFound = errors.New("message not found")

// Completer is the subset of the inference gateway used here.
type Completer interface {
	Complete(ctx context.Context, prompt, systemPrompt string, temperature float64, maxTokens int) (string, error)
}

// DraftStore is the persistence used by the Manager.
type DraftStore interface {
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	ListDrafts(ctx context.Context, messageID string) ([]model.ReplyDraft, error)
	SaveDrafts(ctx context.Context, drafts []model.ReplyDraft) ([]model.ReplyDraft, error)
	DeleteUnsentDrafts(ctx context.Context, messageID string) (int64, error)
	MarkDraftSent(ctx context.Context, draftID uint) (bool, error)
}

// EmailContext is the part of a message a reply prompt is built from.
type EmailContext struct {
	From     string
	To       string
	Subject  string
	BodyText string
	Snippet  string
}

// ContextFor builds an EmailContext from a stored message.
func ContextFor(msg *model.Message) EmailContext {
	return EmailContext{
		From:     msg.FromAddr,
		To:       msg.ToAddr,
		Subject:  msg.Subject,
		BodyText: msg.BodyText,
		Snippet:  msg.Snippet,
	}
}

// Variant is one generated reply.
type Variant struct {
	Number  int
	Tone    string
	Content string
}

// Manager produces reply drafts at most once per message.
type Manager struct {
	llm       Completer
	store     DraftStore
	maxTokens int
	locks     *keyedLock
	metrics   *metrics.Metrics
}

// NewManager creates a Manager. maxTokens bounds the generation call.
func NewManager(completer Completer, store DraftStore, maxTokens int, m *metrics.Metrics) *Manager {
	if maxTokens <= 0 {
		maxTokens = 1500
	}
	return &Manager{
		llm:       completer,
		store:     store,
		maxTokens: maxTokens,
		locks:     newKeyedLock(),
		metrics:   m,
	}
}

// GetOrGenerate returns the stored drafts for messageID, generating and
// persisting a batch only when none exist. Concurrent callers for the same
// message share one generation.
func (m *Manager) GetOrGenerate(ctx context.Context, messageID string) ([]model.ReplyDraft, error) {
	drafts, err := m.store.ListDrafts(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if len(drafts) > 0 {
		return drafts, nil
	}

	err = m.locks.With(messageID, func() error {
		drafts, err = m.store.ListDrafts(ctx, messageID)
		if err != nil || len(drafts) > 0 {
			return err
		}
		drafts, err = m.generateAndSave(ctx, messageID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return drafts, nil
}

// Invalidate deletes the unsent drafts of a message and reports how many were removed.
func (m *Manager) Invalidate(ctx context.Context, messageID string) (int64, error) {
	var removed int64
	err := m.locks.With(messageID, func() error {
		var err error
		removed, err = m.store.DeleteUnsentDrafts(ctx, messageID)
		return err
	})
	return removed, err
}

// Regenerate replaces the unsent drafts of a message with a fresh batch.
func (m *Manager) Regenerate(ctx context.Context, messageID string) ([]model.ReplyDraft, error) {
	var drafts []model.ReplyDraft
	err := m.locks.With(messageID, func() error {
		if _, err := m.store.GetMessage(ctx, messageID); err != nil {
			return notFound(err)
		}
		if _, err := m.store.DeleteUnsentDrafts(ctx, messageID); err != nil {
			return err
		}
		var err error
		drafts, err = m.generateAndSave(ctx, messageID)
		return err
	})
	return drafts, err
}

// MarkSent flags a draft as sent.
func (m *Manager) MarkSent(ctx context.Context, draftID uint) (bool, error) {
	return m.store.MarkDraftSent(ctx, draftID)
}

func (m *Manager) generateAndSave(ctx context.Context, messageID string) ([]model.ReplyDraft, error) {
	msg, err := m.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, notFound(err)
	}

	variants, err := m.Generate(ctx, ContextFor(msg))
	if err != nil {
		logrus.Errorf("Error generating replies for message %s: %v", messageID, err)
		return nil, err
	}

	drafts := make([]model.ReplyDraft, 0, len(variants))
	for _, v := range variants {
		drafts = append(drafts, model.ReplyDraft{
			MessageID:     messageID,
			VariantNumber: v.Number,
			Content:       v.Content,
			Tone:          v.Tone,
		})
	}

	saved, err := m.store.SaveDrafts(ctx, drafts)
	if err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.DraftsGenerated.Add(float64(len(saved)))
	}
	logrus.Infof("Generated %d reply drafts for message %s", len(saved), messageID)
	return saved, nil
}

// Generate asks the model for one reply per tone. Variant numbers and tones
// follow model.Tones order; a variant missing from the answer gets Placeholder.
func (m *Manager) Generate(ctx context.Context, email EmailContext) ([]Variant, error) {
	out, err := m.llm.Complete(ctx, generationPrompt(email), generatePrompt, generateTemperature, m.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to generate replies: %w", err)
	}

	keys := make([]string, len(model.Tones))
	for i := range model.Tones {
		keys[i] = fmt.Sprintf("variant%d", i+1)
	}

	fields, err := extract.Fields(out, keys, Placeholder)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated replies: %w", err)
	}

	variants := make([]Variant, len(keys))
	for i, key := range keys {
		variants[i] = Variant{
			Number:  i + 1,
			Tone:    model.ToneForVariant(i + 1),
			Content: strings.TrimSpace(fields[key]),
		}
	}
	return variants, nil
}

// Improve revises draft according to feedback. On any failure the draft is
// returned unchanged.
func (m *Manager) Improve(ctx context.Context, email EmailContext, draft, feedback string) string {
	prompt := fmt.Sprintf("Original email:\nFrom: %s\nSubject: %s\n\n%s\n\nCurrent draft reply:\n%s\n\nUser feedback:\n%s\n\nPlease improve the draft according to the feedback.",
		orDefault(email.From, "Unknown"),
		orDefault(email.Subject, "(no subject)"),
		llm.TruncateChars(email.BodyText, improveBodyLimit),
		draft,
		feedback,
	)

	out, err := m.llm.Complete(ctx, prompt, improvePrompt, improveTemperature, improveMaxTokens)
	if err != nil {
		logrus.Errorf("Error improving reply: %v", err)
		return draft
	}
	improved := strings.TrimSpace(out)
	if improved == "" {
		return draft
	}
	return improved
}

func generationPrompt(email EmailContext) string {
	body := email.BodyText
	if body == "" {
		body = email.Snippet
	}
	if truncated := llm.TruncateChars(body, generateBodyLimit); truncated != body {
		body = truncated + "..."
	}
	return fmt.Sprintf("From: %s\nSubject: %s\nTo: %s\n\nEmail body:\n%s",
		orDefault(email.From, "Unknown"),
		orDefault(email.Subject, "(no subject)"),
		orDefault(email.To, "Unknown"),
		body,
	)
}

func notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrMessageNotFound, err)
	}
	return err
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
