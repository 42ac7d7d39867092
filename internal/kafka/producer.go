package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/refset/insurance-support-agent/internal/config"
	"github.com/refset/insurance-support-agent/internal/router"
	"github.com/refset/insurance-support-agent/internal/workflow"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ReopenRequest asks the pipeline to run a resolved ticket again with a
// customer follow-up appended.
type ReopenRequest struct {
	TicketID string `json:"ticket_id"`
	Message  string `json:"message"`
}

// Producer sends inbound tickets, review work items and decisions, audit
// events, feedback records and reopen requests to Kafka
type Producer struct {
	ticketsWriter  messageWriter
	reviewWriter   messageWriter
	callbackWriter messageWriter
	eventsWriter   messageWriter
	feedbackWriter messageWriter
	reopenWriter   messageWriter
	log            *zap.Logger
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg config.KafkaConfig, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		ticketsWriter:  newWriter(cfg.Brokers, cfg.TicketsTopic),
		reviewWriter:   newWriter(cfg.Brokers, cfg.ReviewTopic),
		callbackWriter: newWriter(cfg.Brokers, cfg.CallbackTopic),
		eventsWriter:   newWriter(cfg.Brokers, cfg.EventsTopic),
		feedbackWriter: newWriter(cfg.Brokers, cfg.FeedbackTopic),
		reopenWriter:   newWriter(cfg.Brokers, cfg.ReopenTopic),
		log:            logger,
	}
}

func (p *Producer) send(ctx context.Context, w messageWriter, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
	}

	if err := w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// PublishTicket sends a received ticket to the inbound topic.
func (p *Producer) PublishTicket(ctx context.Context, t *workflow.Ticket) error {
	return p.send(ctx, p.ticketsWriter, t.ID, t)
}

// PublishReview sends a work item to the reviewer queue, keyed by ticket
// so one ticket's reviews stay ordered.
func (p *Producer) PublishReview(ctx context.Context, item router.WorkItem) error {
	if err := p.send(ctx, p.reviewWriter, item.Ticket.ID, item); err != nil {
		return err
	}
	p.log.Info("queued ticket for review",
		zap.String("ticket_id", item.Ticket.ID),
		zap.String("review_type", string(item.ReviewType)))
	return nil
}

// PublishCallback sends a reviewer decision to the callback topic. The
// key is the review token so repeated decisions land on one partition.
func (p *Producer) PublishCallback(ctx context.Context, cb router.Callback) error {
	return p.send(ctx, p.callbackWriter, cb.Token, cb)
}

func (p *Producer) PublishEvent(ctx context.Context, e router.Event) error {
	if err := p.send(ctx, p.eventsWriter, e.TicketID, e); err != nil {
		return err
	}
	p.log.Debug("sent ticket event",
		zap.String("ticket_id", e.TicketID),
		zap.String("state", string(e.State)))
	return nil
}

func (p *Producer) PublishFeedback(ctx context.Context, s workflow.FeedbackSignal) error {
	return p.send(ctx, p.feedbackWriter, s.TicketID, s)
}

func (p *Producer) PublishReopen(ctx context.Context, ticketID, message string) error {
	return p.send(ctx, p.reopenWriter, ticketID, ReopenRequest{TicketID: ticketID, Message: message})
}

// Close closes the Kafka writers
func (p *Producer) Close() error {
	var firstErr error
	for _, w := range []messageWriter{p.ticketsWriter, p.reviewWriter, p.callbackWriter, p.eventsWriter, p.feedbackWriter, p.reopenWriter} {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
