package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/refset/insurance-support-agent/internal/config"
	"github.com/refset/insurance-support-agent/internal/workflow"
)

var keywords = config.Default().HITL.EscalationKeywords

func TestApplyEscalationRulesOverridesIntent(t *testing.T) {
	in := workflow.IntentClassification{
		Intent:     workflow.IntentGeneralInquiry,
		Confidence: 0.95,
		Reasoning:  "asks about coverage",
	}

	out := ApplyEscalationRules("I will sue and my LAWYER is ready", in, keywords)

	assert.True(t, out.EscalationTriggered)
	assert.Equal(t, workflow.IntentComplaintMisselling, out.Intent)
	assert.Equal(t, []string{"lawyer", "sue"}, out.EscalationKeywords)
	assert.Equal(t, "asks about coverage [ESCALATED: keywords detected — lawyer, sue]", out.Reasoning)
	assert.Equal(t, 0.95, out.Confidence)
	assert.False(t, out.IsAutoEligible())
}

func TestApplyEscalationRulesKeepsClaimIssue(t *testing.T) {
	in := workflow.IntentClassification{Intent: workflow.IntentClaimIssue, Confidence: 0.8, Reasoning: "claim delay"}

	out := ApplyEscalationRules("This claim delay is fraud", in, keywords)

	assert.True(t, out.EscalationTriggered)
	assert.Equal(t, workflow.IntentClaimIssue, out.Intent)
	assert.Equal(t, []string{"fraud"}, out.EscalationKeywords)
	assert.Equal(t, "claim delay", out.Reasoning)
}

func TestApplyEscalationRulesNoMatch(t *testing.T) {
	in := workflow.IntentClassification{Intent: workflow.IntentPolicyChange, Confidence: 0.9, Reasoning: "r"}

	out := ApplyEscalationRules("Please update my address", in, keywords)

	assert.Equal(t, in, out)
}

func TestApplyEscalationRulesSubstringMatch(t *testing.T) {
	// "sue" is a substring of "issue"; matching is by substring, not word.
	in := workflow.IntentClassification{Intent: workflow.IntentGeneralInquiry, Confidence: 0.99}

	out := ApplyEscalationRules("I have an issue with the app", in, keywords)

	assert.True(t, out.EscalationTriggered)
	assert.Contains(t, out.EscalationKeywords, "sue")
}

func TestRequiresHumanReview(t *testing.T) {
	tests := []struct {
		name string
		c    workflow.IntentClassification
		want bool
	}{
		{"confident general inquiry", workflow.IntentClassification{Intent: workflow.IntentGeneralInquiry, Confidence: 0.95}, false},
		{"threshold is inclusive", workflow.IntentClassification{Intent: workflow.IntentPolicyChange, Confidence: 0.90}, false},
		{"low confidence", workflow.IntentClassification{Intent: workflow.IntentGeneralInquiry, Confidence: 0.89}, true},
		{"claim issue", workflow.IntentClassification{Intent: workflow.IntentClaimIssue, Confidence: 0.99}, true},
		{"complaint", workflow.IntentClassification{Intent: workflow.IntentComplaintMisselling, Confidence: 0.99}, true},
		{"escalated", workflow.IntentClassification{Intent: workflow.IntentGeneralInquiry, Confidence: 0.99, EscalationTriggered: true}, true},
		{"forced", workflow.IntentClassification{Intent: workflow.IntentGeneralInquiry, Confidence: 0.99, ForceHITL: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RequiresHumanReview(tt.c, 0.90))
		})
	}
}
