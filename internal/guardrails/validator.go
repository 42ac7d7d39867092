package guardrails

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/refset/insurance-support-agent/internal/config"
	"github.com/refset/insurance-support-agent/internal/workflow"
)

// JudgeUnavailable is the violation recorded when the grounding judge
// could not produce a verdict.
const JudgeUnavailable = "Hallucination check could not be completed"

// Judge verifies that a response is supported by its context.
type Judge interface {
	CheckGrounding(ctx context.Context, response string, chunks []workflow.ContextChunk) ([]string, error)
}

// Source tells an external policy filter which side of the model a text
// came from.
type Source string

const (
	SourceInput  Source = "INPUT"
	SourceOutput Source = "OUTPUT"
)

// PolicyFilter is an external content-policy service. It returns one
// violation per intervention, or none.
type PolicyFilter interface {
	Check(ctx context.Context, text string, source Source) ([]string, error)
}

// Validator runs the input and output safety checks.
type Validator struct {
	judge              Judge
	filter             PolicyFilter
	hallucinationCheck bool
	log                *zap.Logger
}

// NewValidator builds a Validator. judge and filter may be nil, which
// disables the corresponding check.
func NewValidator(judge Judge, filter PolicyFilter, cfg config.GuardrailsConfig, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		judge:              judge,
		filter:             filter,
		hallucinationCheck: cfg.HallucinationCheck,
		log:                logger,
	}
}

// ValidateInput screens a customer message before generation.
func (v *Validator) ValidateInput(ctx context.Context, text string) workflow.GuardrailResult {
	result := workflow.NewGuardrailResult()

	lower := strings.ToLower(text)
	var found []string
	for _, kw := range toxicityKeywords {
		if strings.Contains(lower, kw) {
			found = append(found, kw)
		}
	}
	if len(found) > 0 {
		result.ToxicityDetected = true
		result.Violations = append(result.Violations, "Toxic content detected: "+strings.Join(found, ", "))
		result.Raise(workflow.SeverityMedium)
	}

	v.applyPolicyFilter(ctx, &result, text, SourceInput)
	v.report(&result, SourceInput)
	return result
}

// ValidateOutput checks a drafted response. Severity is the maximum over
// every check that fired; a payout promise is always critical.
func (v *Validator) ValidateOutput(ctx context.Context, text string, chunks []workflow.ContextChunk, runHallucinationCheck bool) workflow.GuardrailResult {
	result := workflow.NewGuardrailResult()

	if promises := payoutPromises(text); len(promises) > 0 {
		result.PayoutPromiseDetected = true
		result.Violations = append(result.Violations, promises...)
		result.Raise(workflow.SeverityCritical)
		result.Passed = false
	}

	if offTopic := offTopic(text); len(offTopic) > 0 {
		result.OffTopicDetected = true
		result.Violations = append(result.Violations, offTopic...)
		result.Raise(workflow.SeverityMedium)
	}

	if runHallucinationCheck && v.hallucinationCheck && v.judge != nil && len(chunks) > 0 {
		v.checkGrounding(ctx, &result, text, chunks)
	}

	v.applyPolicyFilter(ctx, &result, text, SourceOutput)
	v.report(&result, SourceOutput)
	return result
}

func (v *Validator) checkGrounding(ctx context.Context, result *workflow.GuardrailResult, text string, chunks []workflow.ContextChunk) {
	claims, err := v.judge.CheckGrounding(ctx, text, chunks)
	if err != nil {
		v.log.Error("hallucination check failed", zap.Error(err))
		result.JudgeDegraded = true
		result.Violations = append(result.Violations, JudgeUnavailable)
		result.Raise(workflow.SeverityLow)
		return
	}
	if len(claims) == 0 {
		return
	}
	result.HallucinationDetected = true
	for _, c := range claims {
		result.Violations = append(result.Violations, fmt.Sprintf("Hallucination — unsupported claim: '%s'", c))
	}
	result.Raise(workflow.SeverityHigh)
	result.Passed = false
}

func (v *Validator) applyPolicyFilter(ctx context.Context, result *workflow.GuardrailResult, text string, source Source) {
	if v.filter == nil {
		return
	}
	violations, err := v.filter.Check(ctx, text, source)
	if err != nil {
		v.log.Error("policy filter call failed", zap.String("source", string(source)), zap.Error(err))
		return
	}
	if len(violations) == 0 {
		return
	}
	result.Violations = append(result.Violations, violations...)
	result.Raise(workflow.SeverityHigh)
	result.Passed = false
}

func (v *Validator) report(result *workflow.GuardrailResult, source Source) {
	if len(result.Violations) == 0 {
		return
	}
	v.log.Warn("guardrail violations found",
		zap.String("source", string(source)),
		zap.Stringer("severity", result.Severity),
		zap.Bool("passed", result.Passed),
		zap.Strings("violations", result.Violations))
}

func payoutPromises(text string) []string {
	var out []string
	for _, r := range payoutRules {
		for _, m := range r.re.FindAllString(text, -1) {
			out = append(out, fmt.Sprintf("Payout promise detected: '%s'", m))
		}
	}
	return out
}

func offTopic(text string) []string {
	var out []string
	for _, r := range offTopicRules {
		if r.re.MatchString(text) {
			out = append(out, fmt.Sprintf("Off-topic content: pattern '%s'", r.source))
		}
	}
	return out
}
