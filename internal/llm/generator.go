package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/refset/insurance-support-agent/internal/config"
	"github.com/refset/insurance-support-agent/internal/workflow"
)

const (
	// InsufficientContextText is sent instead of an answer when retrieval
	// found nothing relevant enough.
	InsufficientContextText = "Thank you for reaching out. I want to make sure I give you " +
		"accurate information regarding your query. Let me connect you " +
		"with a specialist who can help with this specific question. " +
		"A team member will be in touch shortly."

	// GenerationFailureText replaces a draft the model could not produce.
	GenerationFailureText = "I apologize for the inconvenience. I'm unable to process " +
		"your request at this time. A team member will follow up " +
		"with you shortly."

	unparsedConfidence = 0.5
)

// Generator drafts grounded responses from retrieved context
type Generator struct {
	model       Model
	temperature float32
	maxTokens   int32
	log         *zap.Logger
	now         func() time.Time
}

func NewGenerator(model Model, cfg config.GenAIConfig, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		log:         logger,
		now:         time.Now,
	}
}

// Generate drafts a reply for the ticket. It never returns a fabricated
// answer: insufficient context and permanent model failures both produce a
// fixed escalation message. The error is non-nil only if ctx is done or the
// model failed with a transient error the caller may retry.
func (g *Generator) Generate(ctx context.Context, t *workflow.Ticket, rc *workflow.RetrievalContext) (*workflow.DraftResponse, error) {
	if rc == nil || !rc.HasSufficientContext {
		return g.insufficientContext(t.ID, rc), nil
	}

	prompt, err := render(generationTemplate, generationData{
		Chunks:     rc.Chunks,
		Channel:    t.Channel,
		CustomerID: t.CustomerID,
		Query:      t.Query(),
	})
	if err != nil {
		return g.failure(t.ID, fmt.Errorf("render prompt: %w", err)), nil
	}

	raw, err := g.model.Complete(ctx, Prompt{
		System:      SystemPrompt,
		User:        prompt,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, workflow.ErrTransient) {
			g.log.Warn("generation unavailable", zap.String("ticket_id", t.ID), zap.Error(err))
			return nil, err
		}
		g.log.Error("generation failed", zap.String("ticket_id", t.ID), zap.Error(err))
		return g.failure(t.ID, err), nil
	}

	return g.parse(t.ID, raw, rc), nil
}

func (g *Generator) parse(ticketID, raw string, rc *workflow.RetrievalContext) *workflow.DraftResponse {
	draft := &workflow.DraftResponse{
		TicketID:          ticketID,
		ContextChunksUsed: len(rc.Chunks),
		IsGrounded:        true,
		GeneratedAt:       g.now().UTC(),
	}

	obj, ok := ExtractJSON(raw)
	if !ok {
		g.log.Warn("could not parse JSON from generation, using raw response", zap.String("ticket_id", ticketID))
		draft.Text = raw
		draft.Confidence = unparsedConfidence
		return draft
	}

	text, ok := stringField(obj, "draft_response", "draft_text")
	if !ok {
		text = raw
	}
	draft.Text = text
	draft.CitedSections = stringSlice(obj, "cited_sections")
	draft.Confidence = clamp01(floatField(obj, "confidence", unparsedConfidence))
	draft.RequiresEscalation = boolField(obj, "requires_escalation")
	if reason, ok := stringField(obj, "escalation_reason"); ok {
		draft.EscalationReason = reason
	}
	return draft
}

func (g *Generator) insufficientContext(ticketID string, rc *workflow.RetrievalContext) *workflow.DraftResponse {
	var maxScore float64
	if rc != nil {
		maxScore = rc.MaxSimilarityScore
	}
	return &workflow.DraftResponse{
		TicketID:           ticketID,
		Text:               InsufficientContextText,
		Confidence:         0.0,
		RequiresEscalation: true,
		EscalationReason:   fmt.Sprintf("Insufficient RAG context (max_score=%.3f)", maxScore),
		ContextChunksUsed:  0,
		IsGrounded:         true,
		GeneratedAt:        g.now().UTC(),
	}
}

func (g *Generator) failure(ticketID string, err error) *workflow.DraftResponse {
	return &workflow.DraftResponse{
		TicketID:           ticketID,
		Text:               GenerationFailureText,
		Confidence:         0.0,
		RequiresEscalation: true,
		EscalationReason:   fmt.Sprintf("Generation failure: %v", err),
		IsGrounded:         false,
		GeneratedAt:        g.now().UTC(),
	}
}
