package router

import (
	"errors"
	"time"

	"github.com/refset/insurance-support-agent/internal/workflow"
)

var (
	// ErrUnknownToken is returned for a callback whose token has no
	// pending review, including one that was already resumed.
	ErrUnknownToken = errors.New("unknown or already used review token")

	// ErrInvalidCallback is returned for a malformed reviewer decision.
	ErrInvalidCallback = errors.New("invalid review callback")

	// ErrNotFound is returned by stores for missing records.
	ErrNotFound = errors.New("not found")
)

// ReviewType says why a ticket is waiting for a human.
type ReviewType string

const (
	ReviewImmediateEscalation ReviewType = "immediate_escalation"
	ReviewDraft               ReviewType = "draft_review"
)

// PendingReview is the persisted continuation of a suspended ticket.
type PendingReview struct {
	Token      string                    `json:"task_token"`
	TicketID   string                    `json:"ticket_id"`
	ReviewType ReviewType                `json:"review_type"`
	Ticket     *workflow.Ticket          `json:"ticket"`
	Draft      *workflow.DraftResponse   `json:"draft,omitempty"`
	Validation *workflow.GuardrailResult `json:"validation,omitempty"`
	CreatedAt  time.Time                 `json:"created_at"`
	Deadline   time.Time                 `json:"deadline"`
}

// WorkItem is what reviewers see on the review queue. The ticket is sent
// with its redacted text only.
type WorkItem struct {
	Token      string                    `json:"task_token"`
	ReviewType ReviewType                `json:"review_type"`
	Ticket     ReviewTicket              `json:"ticket"`
	Draft      *workflow.DraftResponse   `json:"draft,omitempty"`
	Validation *workflow.GuardrailResult `json:"validation,omitempty"`
	Context    []workflow.ContextChunk   `json:"context,omitempty"`
	Deadline   time.Time                 `json:"deadline"`
}

// ReviewTicket is the PII-free view of a ticket.
type ReviewTicket struct {
	ID             string                         `json:"ticket_id"`
	Channel        workflow.Channel               `json:"channel"`
	CustomerID     string                         `json:"customer_id"`
	Subject        string                         `json:"subject,omitempty"`
	Message        string                         `json:"message_redacted"`
	Classification *workflow.IntentClassification `json:"classification,omitempty"`
	Priority       string                         `json:"priority"`
	ReopenCount    int                            `json:"reopen_count,omitempty"`
}

func reviewTicket(t *workflow.Ticket) ReviewTicket {
	return ReviewTicket{
		ID:             t.ID,
		Channel:        t.Channel,
		CustomerID:     t.CustomerID,
		Subject:        t.Subject,
		Message:        t.Query(),
		Classification: t.Classification,
		Priority:       t.Priority,
		ReopenCount:    t.ReopenCount,
	}
}

// Callback is a reviewer's decision on a pending review.
type Callback struct {
	Token      string                  `json:"task_token"`
	Decision   workflow.ReviewDecision `json:"decision"`
	EditedText string                  `json:"edited_text,omitempty"`
	ReviewerID string                  `json:"reviewer_id"`
	Notes      string                  `json:"notes,omitempty"`
	EditDiff   string                  `json:"edit_diff,omitempty"`
}

// Validate checks the parts of a callback that do not depend on the
// pending review.
func (cb Callback) Validate() error {
	if cb.Token == "" {
		return errors.Join(ErrInvalidCallback, errors.New("task_token is required"))
	}
	if !cb.Decision.Valid() {
		return errors.Join(ErrInvalidCallback, errors.New("unknown decision "+string(cb.Decision)))
	}
	if cb.Decision == workflow.DecisionEdited && cb.EditedText == "" {
		return errors.Join(ErrInvalidCallback, errors.New("edited decision requires edited_text"))
	}
	return nil
}

// Event is an audit record of a ticket state change.
type Event struct {
	TicketID   string                  `json:"ticket_id"`
	State      State                   `json:"state"`
	Status     workflow.TicketStatus   `json:"status"`
	ReviewedBy string                  `json:"reviewed_by,omitempty"`
	Decision   workflow.ReviewDecision `json:"decision,omitempty"`
	Detail     string                  `json:"detail,omitempty"`
	Timestamp  time.Time               `json:"timestamp"`

	// JudgeDegraded marks an auto-approval sent without a grounding check.
	JudgeDegraded bool `json:"judge_degraded,omitempty"`
}

// Outcome is where one router call left a ticket.
type Outcome struct {
	TicketID    string                `json:"ticket_id"`
	State       State                 `json:"state"`
	Status      workflow.TicketStatus `json:"status"`
	Token       string                `json:"task_token,omitempty"`
	MessageID   string                `json:"message_id,omitempty"`
	AlreadySent bool                  `json:"already_sent,omitempty"`
	Err         string                `json:"error,omitempty"`
}

// Suspended reports whether the ticket is waiting for a reviewer.
func (o Outcome) Suspended() bool {
	return o.State == StateImmediateHITLReview || o.State == StateHITLReview
}
