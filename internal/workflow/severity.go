package workflow

import (
	"fmt"
	"strings"
)

// Severity is a totally ordered guardrail severity level
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"none", "low", "medium", "high", "critical"}

func (s Severity) String() string {
	if s < SeverityNone || s > SeverityCritical {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity is the inverse of String.
func ParseSeverity(v string) (Severity, error) {
	for i, name := range severityNames {
		if strings.EqualFold(v, name) {
			return Severity(i), nil
		}
	}
	return SeverityNone, fmt.Errorf("unknown severity %q", v)
}

// MaxSeverity returns the higher of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b > a {
		return b
	}
	return a
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	parsed, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// GuardrailResult is the outcome of all guardrail checks on one text
type GuardrailResult struct {
	Passed                bool     `json:"passed"`
	Violations            []string `json:"violations"`
	ToxicityDetected      bool     `json:"toxicity_detected"`
	HallucinationDetected bool     `json:"hallucination_detected"`
	PayoutPromiseDetected bool     `json:"payout_promise_detected"`
	OffTopicDetected      bool     `json:"off_topic_detected"`
	// JudgeDegraded is set when the grounding judge could not run.
	// It never fails the result by itself but is surfaced to reviewers.
	JudgeDegraded bool     `json:"judge_degraded"`
	Severity      Severity `json:"severity"`
}

// NewGuardrailResult returns a passing result with no violations.
func NewGuardrailResult() GuardrailResult {
	return GuardrailResult{Passed: true, Violations: []string{}}
}

// Raise lifts the severity to at least s. It never lowers it.
func (r *GuardrailResult) Raise(s Severity) {
	r.Severity = MaxSeverity(r.Severity, s)
}

// ShouldBlock reports whether the text must not be sent automatically.
func (r GuardrailResult) ShouldBlock() bool {
	return r.Severity >= SeverityHigh || !r.Passed
}
