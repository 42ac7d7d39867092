package classify

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/refset/insurance-support-agent/internal/config"
	"github.com/refset/insurance-support-agent/internal/llm"
	"github.com/refset/insurance-support-agent/internal/workflow"
)

const classificationMaxTokens = 256

// Classifier labels a customer message and applies the escalation overlay.
type Classifier struct {
	model                 llm.Model
	keywords              []string
	autoApproveConfidence float64
	log                   *zap.Logger
}

func NewClassifier(model llm.Model, cfg config.HITLConfig, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		model:                 model,
		keywords:              cfg.EscalationKeywords,
		autoApproveConfidence: cfg.AutoApproveConfidence,
		log:                   logger,
	}
}

// Classify returns the final classification of message. The model label
// is only a starting point: the keyword overlay and the human review
// decision are always applied on top of it.
func (c *Classifier) Classify(ctx context.Context, message string) (workflow.IntentClassification, error) {
	base, err := c.modelClassification(ctx, message)
	if err != nil {
		return workflow.IntentClassification{}, err
	}

	final := ApplyEscalationRules(message, base, c.keywords)
	if final.EscalationTriggered {
		c.log.Warn("escalation keywords detected",
			zap.Strings("keywords", final.EscalationKeywords),
			zap.String("intent", string(final.Intent)))
	}
	if RequiresHumanReview(final, c.autoApproveConfidence) {
		final.ForceHITL = true
	}
	return final, nil
}

func (c *Classifier) modelClassification(ctx context.Context, message string) (workflow.IntentClassification, error) {
	if strings.TrimSpace(message) == "" {
		return workflow.IntentClassification{
			Intent:    workflow.IntentGeneralInquiry,
			Reasoning: "empty message",
		}, nil
	}

	prompt, err := llm.RenderClassificationPrompt(message)
	if err != nil {
		return c.failed(err), nil
	}

	raw, err := c.model.Complete(ctx, llm.Prompt{User: prompt, Temperature: 0, MaxTokens: classificationMaxTokens})
	if err != nil {
		if ctx.Err() != nil {
			return workflow.IntentClassification{}, ctx.Err()
		}
		if errors.Is(err, workflow.ErrTransient) {
			return workflow.IntentClassification{}, err
		}
		c.log.Error("intent classification failed", zap.Error(err))
		return c.failed(err), nil
	}

	return parseClassification(raw), nil
}

func (c *Classifier) failed(err error) workflow.IntentClassification {
	return workflow.IntentClassification{
		Intent:     workflow.IntentGeneralInquiry,
		Confidence: 0,
		Reasoning:  "classification failed: " + err.Error(),
		ForceHITL:  true,
	}
}

func parseClassification(raw string) workflow.IntentClassification {
	obj, ok := llm.ExtractJSON(raw)
	if !ok {
		return workflow.IntentClassification{
			Intent:    workflow.IntentGeneralInquiry,
			Reasoning: "unparseable classifier output",
		}
	}

	label, _ := obj["intent"].(string)
	intent, known := workflow.ParseIntent(label)
	reasoning, _ := obj["reasoning"].(string)

	confidence, _ := obj["confidence"].(float64)
	if !known {
		confidence = 0
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return workflow.IntentClassification{
		Intent:     intent,
		Confidence: confidence,
		Reasoning:  reasoning,
	}
}
