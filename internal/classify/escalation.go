package classify

import (
	"strings"

	"github.com/refset/insurance-support-agent/internal/workflow"
)

// ApplyEscalationRules scans message for escalation keywords and, on any
// hit, forces the classification onto the human review path. Intents
// that are already high risk keep their label.
func ApplyEscalationRules(message string, c workflow.IntentClassification, keywords []string) workflow.IntentClassification {
	lower := strings.ToLower(message)

	var found []string
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			found = append(found, kw)
		}
	}
	if len(found) == 0 {
		return c
	}

	out := c
	out.EscalationTriggered = true
	out.EscalationKeywords = found
	if !c.Intent.IsHighRisk() {
		out.Intent = workflow.IntentComplaintMisselling
		out.Reasoning = c.Reasoning + " [ESCALATED: keywords detected — " + strings.Join(found, ", ") + "]"
	}
	return out
}

// RequiresHumanReview reports whether the classification alone routes
// the ticket to a reviewer before any draft is produced.
func RequiresHumanReview(c workflow.IntentClassification, autoApproveConfidence float64) bool {
	if c.EscalationTriggered || c.ForceHITL {
		return true
	}
	if c.Intent.IsHighRisk() {
		return true
	}
	return c.Confidence < autoApproveConfidence
}
