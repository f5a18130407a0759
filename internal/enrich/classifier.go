// Package enrich derives importance, category and summary for a message.
package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"mailagent-go/internal/extract"
	"mailagent-go/internal/llm"
	"mailagent-go/internal/metrics"
	"mailagent-go/internal/model"
)

const (
	DefaultImportance = model.ImportanceMedium
	DefaultCategory   = model.CategoryProfessional

	// token budgets for the message body
	classifyBodyTokens = 5000
	summaryBodyTokens  = 8000

	classifyTemperature = 0.3
	summaryTemperature  = 0.5
	summaryMaxTokens    = 200
)

// Completer is the subset of the inference gateway used here.
type Completer interface {
	Complete(ctx context.Context, prompt, systemPrompt string, temperature float64, maxTokens int) (string, error)
}

// Result is the enrichment triple. Summary is nil when there was nothing to
// summarize or the summary call failed.
type Result struct {
	Importance string  `json:"importance"`
	Category   string  `json:"category"`
	Summary    *string `json:"ai_summary,omitempty"`
}

// Classifier runs the three enrichment facets against the inference gateway.
type Classifier struct {
	llm               Completer
	maxTokensClassify int
	metrics           *metrics.Metrics
}

// NewClassifier creates a Classifier. maxTokensClassify bounds the label calls.
func NewClassifier(completer Completer, maxTokensClassify int, m *metrics.Metrics) *Classifier {
	if maxTokensClassify <= 0 {
		maxTokensClassify = 50
	}
	return &Classifier{llm: completer, maxTokensClassify: maxTokensClassify, metrics: m}
}

// Enrich derives all three facets concurrently. It never fails: every facet
// falls back to its default independently.
func (c *Classifier) Enrich(ctx context.Context, msg *model.Message) Result {
	res := Result{Importance: DefaultImportance, Category: DefaultCategory}

	var wg conc.WaitGroup
	wg.Go(func() { res.Importance = c.ClassifyImportance(ctx, msg) })
	wg.Go(func() { res.Category = c.ClassifyCategory(ctx, msg) })
	wg.Go(func() { res.Summary = c.Summarize(ctx, msg) })

	if recovered := wg.WaitAndRecover(); recovered != nil {
		logrus.Errorf("Enrichment of message %s panicked: %v", msg.ID, recovered.Value)
	}
	return res
}

// EnrichBatch enriches messages one after another.
func (c *Classifier) EnrichBatch(ctx context.Context, msgs []*model.Message) []Result {
	results := make([]Result, 0, len(msgs))
	for _, msg := range msgs {
		results = append(results, c.Enrich(ctx, msg))
	}
	return results
}

// ClassifyImportance returns one of high, medium or low.
func (c *Classifier) ClassifyImportance(ctx context.Context, msg *model.Message) string {
	out, err := c.llm.Complete(ctx, classificationPrompt(msg), importancePrompt, classifyTemperature, c.maxTokensClassify)
	if err != nil {
		logrus.Errorf("Error classifying importance for message %s: %v", msg.ID, err)
		c.fallback("importance")
		return DefaultImportance
	}
	return extract.Label(out, model.ImportanceLevels, DefaultImportance)
}

// ClassifyCategory returns a member of model.Categories.
func (c *Classifier) ClassifyCategory(ctx context.Context, msg *model.Message) string {
	out, err := c.llm.Complete(ctx, classificationPrompt(msg), categoryPrompt, classifyTemperature, c.maxTokensClassify)
	if err != nil {
		logrus.Errorf("Error classifying category for message %s: %v", msg.ID, err)
		c.fallback("category")
		return DefaultCategory
	}
	return extract.Label(out, model.Categories, DefaultCategory)
}

// Summarize returns a short summary, or nil when the message has no content
// or the call fails.
func (c *Classifier) Summarize(ctx context.Context, msg *model.Message) *string {
	if !msg.HasContent() {
		return nil
	}

	out, err := c.llm.Complete(ctx, summaryRequest(msg), summaryPrompt, summaryTemperature, summaryMaxTokens)
	if err != nil {
		logrus.Errorf("Error summarizing message %s: %v", msg.ID, err)
		c.fallback("summary")
		return nil
	}

	summary := strings.TrimSpace(out)
	if summary == "" {
		return nil
	}
	return &summary
}

func (c *Classifier) fallback(facet string) {
	if c.metrics != nil {
		c.metrics.EnrichmentFallback.WithLabelValues(facet).Inc()
	}
}

func classificationPrompt(msg *model.Message) string {
	return fmt.Sprintf("From: %s\nSubject: %s\nTo: %s\n\nBody:\n%s",
		orDefault(msg.FromAddr, "Unknown"), orDefault(msg.Subject, "(no subject)"), orDefault(msg.ToAddr, "Unknown"),
		llm.TruncateForContext(body(msg), classifyBodyTokens))
}

func summaryRequest(msg *model.Message) string {
	return fmt.Sprintf("From: %s\nSubject: %s\n\nEmail content:\n%s",
		orDefault(msg.FromAddr, "Unknown"), orDefault(msg.Subject, "(no subject)"),
		llm.TruncateForContext(body(msg), summaryBodyTokens))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func body(msg *model.Message) string {
	if msg.BodyText != "" {
		return msg.BodyText
	}
	return msg.Snippet
}
