package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/refset/insurance-support-agent/internal/kafka"
	"github.com/refset/insurance-support-agent/internal/pii"
	"github.com/refset/insurance-support-agent/internal/router"
	"github.com/refset/insurance-support-agent/internal/workflow"
)

// followUpMarker separates a reopened ticket's original message from the
// customer's follow-up.
const followUpMarker = "\n\n[Customer Follow-up]\n"

type TicketStore interface {
	SaveTicket(ctx context.Context, t *workflow.Ticket) error
	GetTicket(ctx context.Context, ticketID string) (*workflow.Ticket, error)
}

type TicketRouter interface {
	Start(ctx context.Context, t *workflow.Ticket) (router.Outcome, error)
	Reopen(ctx context.Context, t *workflow.Ticket) (router.Outcome, error)
}

// Handler turns inbound tickets and reopen requests into router runs.
type Handler struct {
	tickets  TicketStore
	router   TicketRouter
	redactor *pii.Redactor
	now      func() time.Time
	log      *zap.Logger
}

func NewHandler(tickets TicketStore, rt TicketRouter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		tickets:  tickets,
		router:   rt,
		redactor: pii.NewRedactor(logger.Named("pii")),
		now:      time.Now,
		log:      logger,
	}
}

// HandleTicket redacts PII from a received ticket, persists it and starts
// the router.
func (h *Handler) HandleTicket(ctx context.Context, t *workflow.Ticket) (router.Outcome, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Channel == "" {
		t.Channel = workflow.ChannelEmail
	}
	if t.ReceivedAt.IsZero() {
		t.ReceivedAt = h.now().UTC()
	}
	t.Status = workflow.StatusReceived
	h.redact(t)

	if err := h.tickets.SaveTicket(ctx, t); err != nil {
		return router.Outcome{}, fmt.Errorf("save ticket %s: %w", t.ID, err)
	}
	return h.router.Start(ctx, t)
}

// HandleReopen appends a customer follow-up to a stored ticket and runs
// it again at high priority.
func (h *Handler) HandleReopen(ctx context.Context, ticketID, message string) (router.Outcome, error) {
	t, err := h.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return router.Outcome{}, err
	}
	if message != "" {
		t.MessageBody += followUpMarker + message
	}
	h.redact(t)
	return h.router.Reopen(ctx, t)
}

func (h *Handler) redact(t *workflow.Ticket) {
	res := h.redactor.Redact(t.MessageBody, t.AttachmentText)
	t.RedactedBody = res.Text
	t.PIIMapping = res.Mapping
	h.log.Debug("ticket redacted",
		zap.String("ticket_id", t.ID),
		zap.Int("pii_count", len(res.Mapping)))
}

// TicketMessage handles one message from the inbound ticket topic.
func (h *Handler) TicketMessage(ctx context.Context, msg kafkago.Message) error {
	var t workflow.Ticket
	if err := json.Unmarshal(msg.Value, &t); err != nil {
		return fmt.Errorf("decode ticket: %w", err)
	}
	out, err := h.HandleTicket(ctx, &t)
	if err != nil {
		return err
	}
	h.log.Info("ticket processed",
		zap.String("ticket_id", out.TicketID),
		zap.String("state", string(out.State)),
		zap.Bool("awaiting_review", out.Suspended()))
	return nil
}

// ReopenMessage handles one message from the reopen topic.
func (h *Handler) ReopenMessage(ctx context.Context, msg kafkago.Message) error {
	var req kafka.ReopenRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return fmt.Errorf("decode reopen request: %w", err)
	}
	out, err := h.HandleReopen(ctx, req.TicketID, req.Message)
	if err != nil {
		return err
	}
	h.log.Info("reopened ticket processed",
		zap.String("ticket_id", out.TicketID),
		zap.String("state", string(out.State)))
	return nil
}
