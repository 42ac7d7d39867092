package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/refset/insurance-support-agent/internal/router"
	"github.com/refset/insurance-support-agent/internal/workflow"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func newTestProducer() (*Producer, map[string]*fakeWriter) {
	w := map[string]*fakeWriter{
		"tickets": {}, "review": {}, "callback": {}, "events": {}, "feedback": {}, "reopen": {},
	}
	return &Producer{
		ticketsWriter:  w["tickets"],
		reviewWriter:   w["review"],
		callbackWriter: w["callback"],
		eventsWriter:   w["events"],
		feedbackWriter: w["feedback"],
		reopenWriter:   w["reopen"],
		log:            zap.NewNop(),
	}, w
}

func TestProducerPublishReviewKeyedByTicket(t *testing.T) {
	p, w := newTestProducer()

	item := router.WorkItem{
		Token:      "token-a",
		ReviewType: router.ReviewDraft,
		Ticket:     router.ReviewTicket{ID: "TKT-1", Message: "my email is [EMAIL_0]"},
		Deadline:   time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.PublishReview(context.Background(), item))

	require.Len(t, w["review"].msgs, 1)
	msg := w["review"].msgs[0]
	assert.Equal(t, "TKT-1", string(msg.Key))

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, "token-a", got["task_token"])
	assert.Equal(t, "draft_review", got["review_type"])
	assert.Empty(t, w["events"].msgs)
}

func TestProducerPublishEventAndFeedback(t *testing.T) {
	p, w := newTestProducer()
	ctx := context.Background()

	require.NoError(t, p.PublishEvent(ctx, router.Event{TicketID: "TKT-2", State: router.StateResolved}))
	require.NoError(t, p.PublishFeedback(ctx, workflow.FeedbackSignal{TicketID: "TKT-2", FeedbackType: workflow.FeedbackPositive}))
	require.NoError(t, p.PublishReopen(ctx, "TKT-2", "still not fixed"))
	require.NoError(t, p.PublishCallback(ctx, router.Callback{Token: "token-a", Decision: workflow.DecisionApproved}))
	require.NoError(t, p.PublishTicket(ctx, &workflow.Ticket{ID: "TKT-3", MessageBody: "hi"}))

	assert.Len(t, w["events"].msgs, 1)
	assert.Len(t, w["feedback"].msgs, 1)
	require.Len(t, w["callback"].msgs, 1)
	assert.Equal(t, "token-a", string(w["callback"].msgs[0].Key))
	require.Len(t, w["tickets"].msgs, 1)
	assert.Equal(t, "TKT-3", string(w["tickets"].msgs[0].Key))
	require.Len(t, w["reopen"].msgs, 1)

	var req ReopenRequest
	require.NoError(t, json.Unmarshal(w["reopen"].msgs[0].Value, &req))
	assert.Equal(t, ReopenRequest{TicketID: "TKT-2", Message: "still not fixed"}, req)
}

func TestProducerWriteError(t *testing.T) {
	p, w := newTestProducer()
	w["events"].err = errors.New("broker down")

	err := p.PublishEvent(context.Background(), router.Event{TicketID: "TKT-3"})
	assert.ErrorContains(t, err, "broker down")
}

func TestProducerCloseClosesAllWriters(t *testing.T) {
	p, w := newTestProducer()
	require.NoError(t, p.Close())
	for name, fw := range w {
		assert.True(t, fw.closed, name)
	}
}

type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
	fetchErr  error
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) == 0 {
		if f.fetchErr != nil {
			return kafka.Message{}, f.fetchErr
		}
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := f.msgs[0]
	f.msgs = f.msgs[1:]
	return msg, nil
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error { return nil }

func TestNewConsumerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewConsumer(ConsumerConfig{Topic: "tickets", GroupID: "g1"}, nil)
	assert.Error(t, err)

	_, err = NewConsumer(ConsumerConfig{Brokers: []string{" ", "\t"}, Topic: "tickets", GroupID: "g1"}, nil)
	assert.Error(t, err)

	_, err = NewConsumer(ConsumerConfig{Brokers: []string{"127.0.0.1:9092"}, GroupID: "g1"}, nil)
	assert.Error(t, err)

	_, err = NewConsumer(ConsumerConfig{Brokers: []string{"127.0.0.1:9092"}, Topic: "tickets"}, nil)
	assert.Error(t, err)

	c, err := NewConsumer(ConsumerConfig{Brokers: []string{" 127.0.0.1:9092 "}, Topic: "tickets", GroupID: "g1"}, nil)
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}

func TestConsumerRunCommitsAfterHandling(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Value: []byte("a")},
		{Offset: 2, Value: []byte("bad")},
		{Offset: 3, Value: []byte("c")},
	}}
	c := &Consumer{reader: reader, topic: "tickets", log: zap.NewNop()}

	ctx, cancel := context.WithCancel(context.Background())
	var seen []string
	err := c.Run(ctx, func(ctx context.Context, msg kafka.Message) error {
		seen = append(seen, string(msg.Value))
		if len(seen) == 3 {
			defer cancel()
		}
		if string(msg.Value) == "bad" {
			return errors.New("cannot decode")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "bad", "c"}, seen)
	assert.Equal(t, []int64{1, 2, 3}, reader.committed)
}

func TestConsumerRunFetchError(t *testing.T) {
	c := &Consumer{reader: &fakeReader{fetchErr: errors.New("connection reset")}, topic: "tickets", log: zap.NewNop()}
	err := c.Run(context.Background(), func(context.Context, kafka.Message) error { return nil })
	assert.ErrorContains(t, err, "connection reset")
}

func TestConsumerNilGuards(t *testing.T) {
	var c *Consumer
	assert.NoError(t, c.Close())
	assert.Error(t, c.Run(context.Background(), nil))
}
