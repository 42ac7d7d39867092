package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/refset/insurance-support-agent/internal/classify"
	"github.com/refset/insurance-support-agent/internal/config"
	"github.com/refset/insurance-support-agent/internal/guardrails"
	"github.com/refset/insurance-support-agent/internal/llm"
	"github.com/refset/insurance-support-agent/internal/rag"
	"github.com/refset/insurance-support-agent/internal/workflow"
)

// scriptedModel answers classification prompts with classification and
// everything else with generation.
type scriptedModel struct {
	mu             sync.Mutex
	classification string
	generation     string
	genCalls       int
	classifyCalls  int
	genErrs        []error
}

func (m *scriptedModel) Complete(_ context.Context, p llm.Prompt) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.HasPrefix(p.User, "Classify the following") {
		m.classifyCalls++
		return m.classification, nil
	}
	m.genCalls++
	if len(m.genErrs) > 0 {
		err := m.genErrs[0]
		m.genErrs = m.genErrs[1:]
		return "", err
	}
	return m.generation, nil
}

type countingEmbedder struct {
	calls int
}

func (e *countingEmbedder) Dimensions() int { return 2 }

func (e *countingEmbedder) Embed(context.Context, string, string) ([]float32, error) {
	e.calls++
	return []float32{1, 0}, nil
}

type staticStore struct {
	chunks []workflow.ContextChunk
}

func (s *staticStore) Search(_ context.Context, index string, _ []float32, _ int) ([]workflow.ContextChunk, error) {
	if index != "policy-documents" {
		return nil, nil
	}
	return s.chunks, nil
}

func (s *staticStore) Index(context.Context, string, rag.Document, []float32) error { return nil }

type memTickets struct {
	mu       sync.Mutex
	tickets  map[string]*workflow.Ticket
	statuses map[string][]workflow.TicketStatus
	approved []*workflow.ApprovedResponse
}

func newMemTickets() *memTickets {
	return &memTickets{
		tickets:  make(map[string]*workflow.Ticket),
		statuses: make(map[string][]workflow.TicketStatus),
	}
}

func (m *memTickets) SaveTicket(_ context.Context, t *workflow.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tickets[t.ID] = &cp
	return nil
}

func (m *memTickets) UpdateStatus(ctx context.Context, id string, s workflow.TicketStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = append(m.statuses[id], s)
	return nil
}

func (m *memTickets) SaveApproved(_ context.Context, a *workflow.ApprovedResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approved = append(m.approved, a)
	return nil
}

func (m *memTickets) last(id string) workflow.TicketStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.statuses[id]
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

type memReviews struct {
	mu      sync.Mutex
	pending map[string]*PendingReview
}

func newMemReviews() *memReviews {
	return &memReviews{pending: make(map[string]*PendingReview)}
}

func (m *memReviews) SavePending(_ context.Context, p *PendingReview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[p.Token] = p
	return nil
}

func (m *memReviews) TakePending(_ context.Context, token string) (*PendingReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[token]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.pending, token)
	return p, nil
}

func (m *memReviews) TakeExpired(_ context.Context, now time.Time) ([]*PendingReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*PendingReview
	for token, p := range m.pending {
		if now.After(p.Deadline) {
			out = append(out, p)
			delete(m.pending, token)
		}
	}
	return out, nil
}

// cancelAfterTake cancels the caller's context as soon as reviews have
// been removed from the store.
type cancelAfterTake struct {
	*memReviews
	cancel context.CancelFunc
}

func (c cancelAfterTake) TakePending(ctx context.Context, token string) (*PendingReview, error) {
	p, err := c.memReviews.TakePending(ctx, token)
	c.cancel()
	return p, err
}

func (c cancelAfterTake) TakeExpired(ctx context.Context, now time.Time) ([]*PendingReview, error) {
	out, err := c.memReviews.TakeExpired(ctx, now)
	c.cancel()
	return out, err
}

type failingJudge struct{}

func (failingJudge) CheckGrounding(context.Context, string, []workflow.ContextChunk) ([]string, error) {
	return nil, errors.New("judge unavailable")
}

type memQueue struct {
	items []WorkItem
	err   error
}

func (q *memQueue) PublishReview(_ context.Context, item WorkItem) error {
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, item)
	return nil
}

type memEvents struct {
	mu     sync.Mutex
	events []Event
}

func (m *memEvents) PublishEvent(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memEvents) states() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]State, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.State)
	}
	return out
}

type sentMail struct {
	to, subject, body string
}

type memSender struct {
	failures []error
	attempts int
	sent     []sentMail
}

func (s *memSender) Send(_ context.Context, to, subject, body string) (string, error) {
	s.attempts++
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return "", err
	}
	s.sent = append(s.sent, sentMail{to: to, subject: subject, body: body})
	return "msg-" + to, nil
}

type memGuard struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (g *memGuard) Acquire(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.keys == nil {
		g.keys = make(map[string]bool)
	}
	if g.keys[key] {
		return false, nil
	}
	g.keys[key] = true
	return true, nil
}

var errPermanent = errors.New("mailbox does not exist")

type harness struct {
	router   *Router
	model    *scriptedModel
	embedder *countingEmbedder
	store    *staticStore
	tickets  *memTickets
	reviews  *memReviews
	queue    *memQueue
	events   *memEvents
	sender   *memSender
	guard    *memGuard
	sleeps   []time.Duration
	clock    time.Time
}

func newHarness() *harness {
	cfg := config.Default()
	h := &harness{
		model: &scriptedModel{
			classification: `{"intent": "GENERAL_INQUIRY", "confidence": 0.95, "reasoning": "coverage question"}`,
			generation:     `{"draft_response": "Your deductible for [POLICY_NUMBER_0] is 250 (Section 4.2).", "cited_sections": ["4.2"], "confidence": 0.93, "requires_escalation": false}`,
		},
		embedder: &countingEmbedder{},
		store: &staticStore{chunks: []workflow.ContextChunk{
			{Content: "The standard deductible is 250.", Source: "motor.pdf", DocType: "policy", Section: "4.2", Score: 0.92},
		}},
		tickets: newMemTickets(),
		reviews: newMemReviews(),
		queue:   &memQueue{},
		events:  &memEvents{},
		sender:  &memSender{},
		guard:   &memGuard{},
		clock:   time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}

	deps := Deps{
		Classifier: classify.NewClassifier(h.model, cfg.HITL, nil),
		Retriever:  rag.NewRetriever(h.embedder, h.store, cfg.Retrieval, nil),
		Generator:  llm.NewGenerator(h.model, cfg.GenAI, nil),
		Validator:  guardrails.NewValidator(nil, nil, cfg.Guardrails, nil),
		Tickets:    h.tickets,
		Reviews:    h.reviews,
		Queue:      h.queue,
		Events:     h.events,
		Sender:     h.sender,
		Guard:      h.guard,
	}
	h.router = New(deps, cfg.HITL, cfg.Retry, nil)
	h.router.now = func() time.Time { return h.clock }
	tokens := 0
	h.router.newToken = func() string {
		tokens++
		return "token-" + string(rune('a'+tokens-1))
	}
	h.router.retry.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

func emailTicket(body string) *workflow.Ticket {
	return &workflow.Ticket{
		ID:            "T-100",
		Channel:       workflow.ChannelEmail,
		CustomerID:    "C-9",
		CustomerEmail: "jane@example.com",
		Subject:       "Deductible",
		MessageBody:   body,
		RedactedBody:  body,
		PIIMapping:    map[string]string{"[POLICY_NUMBER_0]": "POL-12345678"},
		Status:        workflow.StatusReceived,
	}
}
