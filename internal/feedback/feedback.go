package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/refset/insurance-support-agent/internal/router"
	"github.com/refset/insurance-support-agent/internal/workflow"
)

var reopenPhrases = []string{"reopen", "re-open", "open again"}

// Phrases that indicate the customer is unsatisfied.
var negativeIndicators = []string{
	"didn't help",
	"did not help",
	"not helpful",
	"wrong answer",
	"incorrect",
	"not what i asked",
	"still have the issue",
	"still having",
	"doesn't answer",
	"does not answer",
	"try again",
	"not satisfied",
	"unsatisfied",
	"terrible",
	"useless",
	"worst",
}

// ClassifyFeedback sorts a customer follow-up into reopen, negative or
// positive. Explicit reopen requests win over negative wording.
func ClassifyFeedback(message string) workflow.FeedbackType {
	lower := strings.ToLower(message)
	for _, p := range reopenPhrases {
		if strings.Contains(lower, p) {
			return workflow.FeedbackReopen
		}
	}
	for _, p := range negativeIndicators {
		if strings.Contains(lower, p) {
			return workflow.FeedbackNegative
		}
	}
	return workflow.FeedbackPositive
}

type TicketReader interface {
	GetTicket(ctx context.Context, ticketID string) (*workflow.Ticket, error)
	LatestApproved(ctx context.Context, ticketID string) (*workflow.ApprovedResponse, error)
}

type SignalPublisher interface {
	PublishFeedback(ctx context.Context, s workflow.FeedbackSignal) error
}

// Reopener schedules a resolved ticket for another pass.
type Reopener interface {
	PublishReopen(ctx context.Context, ticketID, message string) error
}

// Result is returned to the caller of Handle.
type Result struct {
	TicketID     string                `json:"ticket_id"`
	FeedbackType workflow.FeedbackType `json:"feedback_type"`
	Status       string                `json:"status"`
}

type Handler struct {
	tickets  TicketReader
	signals  SignalPublisher
	reopener Reopener
	now      func() time.Time
	log      *zap.Logger
}

func NewHandler(tickets TicketReader, signals SignalPublisher, reopener Reopener, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		tickets:  tickets,
		signals:  signals,
		reopener: reopener,
		now:      time.Now,
		log:      logger,
	}
}

// Handle records a follow-up on ticketID. Every follow-up becomes a
// training signal; negative and reopen follow-ups also reopen the ticket.
func (h *Handler) Handle(ctx context.Context, ticketID, message string) (Result, error) {
	if ticketID == "" {
		return Result{}, fmt.Errorf("ticket_id required")
	}

	t, err := h.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return Result{}, err
	}

	var response string
	humanEdited := false
	approved, err := h.tickets.LatestApproved(ctx, ticketID)
	switch {
	case err == nil:
		response = approved.FinalText
		humanEdited = approved.ReviewedBy != workflow.AutoReviewer
	case errors.Is(err, router.ErrNotFound):
		h.log.Warn("feedback for ticket with no sent response", zap.String("ticket_id", ticketID))
	default:
		return Result{}, err
	}

	kind := ClassifyFeedback(message)
	signal := workflow.FeedbackSignal{
		TicketID:        ticketID,
		FeedbackType:    kind,
		CustomerMessage: message,
		OriginalQuery:   t.Query(),
		AIResponse:      response,
		HumanEdited:     humanEdited,
		Timestamp:       h.now().UTC(),
	}
	if err := h.signals.PublishFeedback(ctx, signal); err != nil {
		h.log.Error("failed to store training record", zap.String("ticket_id", ticketID), zap.Error(err))
	}

	if kind == workflow.FeedbackPositive {
		h.log.Info("positive feedback recorded", zap.String("ticket_id", ticketID))
		return Result{TicketID: ticketID, FeedbackType: kind, Status: "recorded"}, nil
	}

	if err := h.reopener.PublishReopen(ctx, ticketID, message); err != nil {
		return Result{}, fmt.Errorf("reopen ticket %s: %w", ticketID, err)
	}
	h.log.Info("ticket reopened by customer feedback",
		zap.String("ticket_id", ticketID),
		zap.String("feedback", string(kind)))
	return Result{TicketID: ticketID, FeedbackType: kind, Status: "reopened"}, nil
}
