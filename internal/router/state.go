package router

import "github.com/refset/insurance-support-agent/internal/workflow"

// State names a step of the ticket pipeline.
type State string

const (
	StateClassifyIntent      State = "ClassifyIntent"
	StateCheckEscalation     State = "CheckEscalation"
	StateImmediateHITLReview State = "ImmediateHITLReview"
	StateRetrieveContext     State = "RetrieveContext"
	StateGenerateResponse    State = "GenerateResponse"
	StateValidateResponse    State = "ValidateResponse"
	StateApprovalDecision    State = "ApprovalDecision"
	StateAutoApprove         State = "AutoApprove"
	StateHITLReview          State = "HITLReview"
	StateSendResponse        State = "SendResponse"
	StateResolved            State = "TicketResolved"

	StateClassificationFailed State = "ClassificationFailed"
	StateRetrievalFailed      State = "RetrievalFailed"
	StateGenerationFailed     State = "GenerationFailed"
	StateValidationFailed     State = "ValidationFailed"
	StateReviewEnqueueFailed  State = "ReviewEnqueueFailed"
	StateSendFailed           State = "SendFailed"
	StateHITLReviewTimeout    State = "HITLReviewTimeout"

	StateRejected  State = "ReviewRejected"
	StateEscalated State = "EscalatedToSpecialist"
)

// Failed reports whether s is a failure terminal.
func (s State) Failed() bool {
	switch s {
	case StateClassificationFailed, StateRetrievalFailed, StateGenerationFailed,
		StateValidationFailed, StateReviewEnqueueFailed, StateSendFailed, StateHITLReviewTimeout:
		return true
	}
	return false
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s.Failed() || s == StateResolved || s == StateRejected || s == StateEscalated
}

// Decide picks the approval path for a validated draft. The first
// matching rule wins; anything unexpected goes to a human.
func Decide(c workflow.IntentClassification, draft *workflow.DraftResponse, validation *workflow.GuardrailResult) State {
	if draft == nil || validation == nil {
		return StateHITLReview
	}
	if validation.ShouldBlock() {
		return StateHITLReview
	}
	if draft.RequiresEscalation {
		return StateHITLReview
	}
	if c.Intent == workflow.IntentGeneralInquiry && draft.Confidence >= workflow.AutoEligibleConfidence {
		return StateAutoApprove
	}
	return StateHITLReview
}
