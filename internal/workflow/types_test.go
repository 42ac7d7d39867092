package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntentTableCoversEveryIntent(t *testing.T) {
	for _, intent := range Intents {
		_, ok := IntentTable[intent]
		assert.True(t, ok, "missing metadata for %s", intent)
	}
	assert.Len(t, IntentTable, len(Intents))
}

func TestIsAutoEligible(t *testing.T) {
	t.Run("high risk intents never auto", func(t *testing.T) {
		for _, intent := range []Intent{IntentComplaintMisselling, IntentClaimIssue} {
			for _, conf := range []float64{0, 0.5, 0.9, 0.99, 1.0} {
				c := IntentClassification{Intent: intent, Confidence: conf}
				assert.False(t, c.IsAutoEligible(), "%s at %.2f", intent, conf)
			}
		}
	})

	t.Run("escalation blocks even at high confidence", func(t *testing.T) {
		c := IntentClassification{Intent: IntentGeneralInquiry, Confidence: 0.99, EscalationTriggered: true}
		assert.False(t, c.IsAutoEligible())
	})

	t.Run("force hitl blocks", func(t *testing.T) {
		c := IntentClassification{Intent: IntentGeneralInquiry, Confidence: 0.99, ForceHITL: true}
		assert.False(t, c.IsAutoEligible())
	})

	t.Run("threshold is inclusive", func(t *testing.T) {
		assert.True(t, IntentClassification{Intent: IntentGeneralInquiry, Confidence: 0.90}.IsAutoEligible())
		assert.False(t, IntentClassification{Intent: IntentGeneralInquiry, Confidence: 0.89}.IsAutoEligible())
		assert.True(t, IntentClassification{Intent: IntentPolicyChange, Confidence: 0.95}.IsAutoEligible())
	})

	t.Run("unknown intent", func(t *testing.T) {
		c := IntentClassification{Intent: Intent("weather"), Confidence: 1}
		assert.False(t, c.IsAutoEligible())
		assert.Equal(t, "medium", c.Priority())
	})
}

func TestParseIntent(t *testing.T) {
	got, ok := ParseIntent("CLAIM_ISSUE")
	assert.True(t, ok)
	assert.Equal(t, IntentClaimIssue, got)

	got, ok = ParseIntent("something else")
	assert.False(t, ok)
	assert.Equal(t, IntentGeneralInquiry, got)
}

func TestSeverityOrderingAndRaise(t *testing.T) {
	assert.True(t, SeverityNone < SeverityLow)
	assert.True(t, SeverityHigh < SeverityCritical)

	r := NewGuardrailResult()
	r.Raise(SeverityMedium)
	r.Raise(SeverityHigh)
	r.Raise(SeverityMedium)
	assert.Equal(t, SeverityHigh, r.Severity)

	r.Raise(SeverityCritical)
	r.Raise(SeverityLow)
	assert.Equal(t, SeverityCritical, r.Severity)
}

func TestShouldBlock(t *testing.T) {
	r := NewGuardrailResult()
	assert.False(t, r.ShouldBlock())

	r.Raise(SeverityMedium)
	assert.False(t, r.ShouldBlock())

	r.Passed = false
	assert.True(t, r.ShouldBlock())

	r = NewGuardrailResult()
	r.Raise(SeverityHigh)
	assert.True(t, r.ShouldBlock())
}

func TestSeverityJSON(t *testing.T) {
	r := NewGuardrailResult()
	r.Raise(SeverityCritical)
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"severity":"critical"`)

	var back GuardrailResult
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, SeverityCritical, back.Severity)

	_, err = ParseSeverity("catastrophic")
	assert.Error(t, err)
}

func TestRestorePII(t *testing.T) {
	mapping := map[string]string{"[POLICY_NUMBER_0]": "POL-12345678"}

	restored := RestorePII("Your policy [POLICY_NUMBER_0] renews in May.", mapping)
	assert.Contains(t, restored, "POL-12345678")
	assert.NotContains(t, restored, "[POLICY_NUMBER_0]")

	assert.Equal(t, "Call [PHONE_3] later", RestorePII("Call [PHONE_3] later", mapping))

	clean := "Nothing sensitive here."
	assert.Equal(t, clean, RestorePII(clean, mapping))
	assert.Equal(t, restored, RestorePII(restored, mapping))
}

func TestFormattedContext(t *testing.T) {
	var empty *RetrievalContext
	assert.Equal(t, "[No relevant context found]", empty.FormattedContext())

	rc := &RetrievalContext{Chunks: []ContextChunk{
		{Content: "Deductible is 500.", Source: "motor.pdf", DocType: "policy"},
		{Content: "Claims within 30 days.", Source: "claims.pdf", DocType: "policy"},
	}}
	out := rc.FormattedContext()
	assert.Contains(t, out, "### Context 1 — motor.pdf (policy)\nDeductible is 500.")
	assert.Contains(t, out, "### Context 2 — claims.pdf (policy)")
}

func TestTicketQueryPrefersRedacted(t *testing.T) {
	tk := Ticket{MessageBody: "POL-12345678", RedactedBody: "[POLICY_NUMBER_0]"}
	assert.Equal(t, "[POLICY_NUMBER_0]", tk.Query())
	tk.RedactedBody = ""
	assert.Equal(t, "POL-12345678", tk.Query())
}
