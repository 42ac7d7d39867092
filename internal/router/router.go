package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/refset/insurance-support-agent/internal/config"
	"github.com/refset/insurance-support-agent/internal/rag"
	"github.com/refset/insurance-support-agent/internal/workflow"
)

type Classifier interface {
	Classify(ctx context.Context, message string) (workflow.IntentClassification, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, opts rag.RetrieveOptions) (*workflow.RetrievalContext, error)
}

type Generator interface {
	Generate(ctx context.Context, t *workflow.Ticket, rc *workflow.RetrievalContext) (*workflow.DraftResponse, error)
}

type Validator interface {
	ValidateInput(ctx context.Context, text string) workflow.GuardrailResult
	ValidateOutput(ctx context.Context, text string, chunks []workflow.ContextChunk, runHallucinationCheck bool) workflow.GuardrailResult
}

type TicketStore interface {
	SaveTicket(ctx context.Context, t *workflow.Ticket) error
	UpdateStatus(ctx context.Context, ticketID string, status workflow.TicketStatus) error
	SaveApproved(ctx context.Context, a *workflow.ApprovedResponse) error
}

// ReviewStore persists pending reviews. TakePending and TakeExpired
// remove what they return, so each review resumes at most once. On error
// TakeExpired returns whatever it had already removed.
type ReviewStore interface {
	SavePending(ctx context.Context, p *PendingReview) error
	TakePending(ctx context.Context, token string) (*PendingReview, error)
	TakeExpired(ctx context.Context, now time.Time) ([]*PendingReview, error)
}

type ReviewQueue interface {
	PublishReview(ctx context.Context, item WorkItem) error
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, e Event) error
}

// Sender delivers a response to the customer and returns a message id.
type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) (string, error)
}

// SendGuard claims a key once. Acquire returns false if the key was
// already claimed.
type SendGuard interface {
	Acquire(ctx context.Context, key string) (bool, error)
}

// Deps are the collaborators of a Router.
type Deps struct {
	Classifier Classifier
	Retriever  Retriever
	Generator  Generator
	Validator  Validator
	Tickets    TicketStore
	Reviews    ReviewStore
	Queue      ReviewQueue
	Events     EventPublisher
	Sender     Sender
	Guard      SendGuard
}

// Router drives a ticket through classification, retrieval, generation,
// validation and approval. It never blocks on a human: review states
// persist a PendingReview and return.
type Router struct {
	Deps
	retry         Retry
	reviewTimeout time.Duration
	log           *zap.Logger
	now           func() time.Time
	newToken      func() string
}

func New(deps Deps, hitl config.HITLConfig, retry config.RetryConfig, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		Deps:          deps,
		retry:         NewRetry(retry),
		reviewTimeout: hitl.ReviewTimeout,
		log:           logger,
		now:           time.Now,
		newToken:      func() string { return uuid.NewString() },
	}
}

// Start runs a new ticket from ClassifyIntent until it is resolved,
// suspended for review or failed. The error is non-nil only when ctx is
// done; stage failures are reported through Outcome.
func (r *Router) Start(ctx context.Context, t *workflow.Ticket) (Outcome, error) {
	r.log.Info("ticket started", zap.String("ticket_id", t.ID), zap.String("channel", string(t.Channel)))
	return r.run(ctx, t, false)
}

// Reopen re-enters the pipeline at ClassifyIntent for a ticket the
// customer was unhappy with. The ticket keeps high priority throughout.
func (r *Router) Reopen(ctx context.Context, t *workflow.Ticket) (Outcome, error) {
	t.ReopenCount++
	t.Status = workflow.StatusReopened
	t.Priority = "high"
	if err := r.stage(ctx, func(ctx context.Context) error { return r.Tickets.SaveTicket(ctx, t) }); err != nil {
		return r.fail(ctx, t, StateClassificationFailed, err)
	}
	r.publish(ctx, Event{TicketID: t.ID, State: StateClassifyIntent, Status: workflow.StatusReopened, Detail: "reopen " + strconv.Itoa(t.ReopenCount)})
	r.log.Info("ticket reopened", zap.String("ticket_id", t.ID), zap.Int("reopen_count", t.ReopenCount))
	return r.run(ctx, t, true)
}

func (r *Router) run(ctx context.Context, t *workflow.Ticket, reopened bool) (Outcome, error) {
	// ClassifyIntent
	var c workflow.IntentClassification
	err := r.stage(ctx, func(ctx context.Context) error {
		if err := r.Tickets.UpdateStatus(ctx, t.ID, workflow.StatusAwaitingClassification); err != nil {
			return err
		}
		var err error
		c, err = r.Classifier.Classify(ctx, t.Query())
		return err
	})
	if err != nil {
		return r.fail(ctx, t, StateClassificationFailed, err)
	}

	t.Classification = &c
	t.Priority = c.Priority()
	if reopened {
		t.Priority = "high"
	}
	t.Status = workflow.StatusClassified
	if err := r.stage(ctx, func(ctx context.Context) error { return r.Tickets.SaveTicket(ctx, t) }); err != nil {
		return r.fail(ctx, t, StateClassificationFailed, err)
	}

	// CheckEscalation
	screen := r.Validator.ValidateInput(ctx, t.Query())
	if c.ForceHITL || screen.ShouldBlock() {
		r.log.Info("routing to immediate review",
			zap.String("ticket_id", t.ID),
			zap.String("intent", string(c.Intent)),
			zap.Bool("escalation", c.EscalationTriggered),
			zap.Bool("input_blocked", screen.ShouldBlock()))
		var validation *workflow.GuardrailResult
		if len(screen.Violations) > 0 {
			validation = &screen
		}
		return r.suspend(ctx, t, StateImmediateHITLReview, nil, validation, nil)
	}

	// RetrieveContext
	var rc *workflow.RetrievalContext
	err = r.stage(ctx, func(ctx context.Context) error {
		if err := r.Tickets.UpdateStatus(ctx, t.ID, workflow.StatusRetrievingContext); err != nil {
			return err
		}
		var err error
		rc, err = r.Retriever.Retrieve(ctx, t.Query(), rag.RetrieveOptions{})
		return err
	})
	if err != nil {
		return r.fail(ctx, t, StateRetrievalFailed, err)
	}

	// GenerateResponse
	var draft *workflow.DraftResponse
	err = r.stage(ctx, func(ctx context.Context) error {
		if err := r.Tickets.UpdateStatus(ctx, t.ID, workflow.StatusGeneratingResponse); err != nil {
			return err
		}
		var err error
		draft, err = r.Generator.Generate(ctx, t, rc)
		return err
	})
	if err != nil {
		return r.fail(ctx, t, StateGenerationFailed, err)
	}

	// ValidateResponse
	validation := r.Validator.ValidateOutput(ctx, draft.Text, rc.Chunks, true)
	if err := ctx.Err(); err != nil {
		return r.fail(ctx, t, StateValidationFailed, err)
	}

	// ApprovalDecision
	next := Decide(c, draft, &validation)
	r.log.Info("approval decision",
		zap.String("ticket_id", t.ID),
		zap.String("next", string(next)),
		zap.Float64("draft_confidence", draft.Confidence),
		zap.Stringer("severity", validation.Severity),
		zap.Bool("requires_escalation", draft.RequiresEscalation),
		zap.Bool("judge_degraded", validation.JudgeDegraded))

	if next != StateAutoApprove {
		return r.suspend(ctx, t, StateHITLReview, draft, &validation, rc.Chunks)
	}

	approved := &workflow.ApprovedResponse{
		TicketID:   t.ID,
		FinalText:  workflow.RestorePII(draft.Text, t.PIIMapping),
		ReviewedBy: workflow.AutoReviewer,
		Decision:   workflow.DecisionApproved,
		ApprovedAt: r.now().UTC(),
	}
	return r.sendResponse(ctx, t, approved, "auto-"+strconv.Itoa(t.ReopenCount), validation.JudgeDegraded)
}

// suspend parks the ticket for a reviewer and returns without waiting.
func (r *Router) suspend(ctx context.Context, t *workflow.Ticket, state State, draft *workflow.DraftResponse, validation *workflow.GuardrailResult, chunks []workflow.ContextChunk) (Outcome, error) {
	reviewType := ReviewDraft
	if state == StateImmediateHITLReview {
		reviewType = ReviewImmediateEscalation
	}

	created := r.now().UTC()
	pending := &PendingReview{
		Token:      r.newToken(),
		TicketID:   t.ID,
		ReviewType: reviewType,
		Ticket:     t,
		Draft:      draft,
		Validation: validation,
		CreatedAt:  created,
		Deadline:   created.Add(r.reviewTimeout),
	}
	item := WorkItem{
		Token:      pending.Token,
		ReviewType: reviewType,
		Ticket:     reviewTicket(t),
		Draft:      draft,
		Validation: validation,
		Context:    chunks,
		Deadline:   pending.Deadline,
	}

	err := r.stage(ctx, func(ctx context.Context) error { return r.Reviews.SavePending(ctx, pending) })
	if err == nil {
		err = r.stage(ctx, func(ctx context.Context) error { return r.Queue.PublishReview(ctx, item) })
		if err != nil {
			if _, terr := r.Reviews.TakePending(context.WithoutCancel(ctx), pending.Token); terr != nil && !errors.Is(terr, ErrNotFound) {
				r.log.Error("failed to drop unpublished review", zap.String("ticket_id", t.ID), zap.Error(terr))
			}
		}
	}
	if err == nil {
		err = r.stage(ctx, func(ctx context.Context) error {
			return r.Tickets.UpdateStatus(ctx, t.ID, workflow.StatusAwaitingReview)
		})
	}
	if err != nil {
		return r.fail(ctx, t, StateReviewEnqueueFailed, err)
	}

	t.Status = workflow.StatusAwaitingReview
	r.publish(ctx, Event{TicketID: t.ID, State: state, Status: t.Status, Detail: string(reviewType)})
	r.log.Info("ticket awaiting review",
		zap.String("ticket_id", t.ID),
		zap.String("review_type", string(reviewType)),
		zap.Time("deadline", pending.Deadline))

	return Outcome{TicketID: t.ID, State: state, Status: t.Status, Token: pending.Token}, nil
}

// Resume applies a reviewer decision to the pending review named by the
// callback token. A token resumes at most once.
func (r *Router) Resume(ctx context.Context, cb Callback) (Outcome, error) {
	if err := cb.Validate(); err != nil {
		return Outcome{}, err
	}

	var pending *PendingReview
	err := r.stage(ctx, func(ctx context.Context) error {
		var err error
		pending, err = r.Reviews.TakePending(ctx, cb.Token)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return Outcome{}, ErrUnknownToken
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("take pending review: %w", err)
	}

	if r.now().After(pending.Deadline) {
		return r.timeout(ctx, pending), nil
	}

	out, err := r.applyDecision(ctx, pending, cb)
	if err != nil && ctx.Err() != nil {
		r.restore(ctx, pending)
	}
	return out, err
}

func (r *Router) applyDecision(ctx context.Context, pending *PendingReview, cb Callback) (Outcome, error) {
	t := pending.Ticket
	reviewer := cb.ReviewerID
	if reviewer == "" {
		reviewer = "unknown"
	}
	r.log.Info("review callback",
		zap.String("ticket_id", t.ID),
		zap.String("decision", string(cb.Decision)),
		zap.String("reviewer", reviewer))

	switch cb.Decision {
	case workflow.DecisionApproved, workflow.DecisionEdited:
		text := cb.EditedText
		if text == "" && pending.Draft != nil {
			text = pending.Draft.Text
		}
		if text == "" {
			r.restore(ctx, pending)
			return Outcome{}, errors.Join(ErrInvalidCallback, errors.New("approval without draft requires edited_text"))
		}

		approved := &workflow.ApprovedResponse{
			TicketID:   t.ID,
			FinalText:  workflow.RestorePII(text, t.PIIMapping),
			ReviewedBy: reviewer,
			Decision:   cb.Decision,
			EditDiff:   cb.EditDiff,
			ApprovedAt: r.now().UTC(),
		}
		if err := r.stage(ctx, func(ctx context.Context) error {
			return r.Tickets.UpdateStatus(ctx, t.ID, workflow.StatusApproved)
		}); err != nil {
			return r.fail(ctx, t, StateSendFailed, err)
		}
		t.Status = workflow.StatusApproved
		return r.sendResponse(ctx, t, approved, pending.Token, false)

	case workflow.DecisionRejected:
		return r.closeReview(ctx, t, StateRejected, workflow.StatusFailed, reviewer, cb, "Rejected by human reviewer")

	default:
		return r.closeReview(ctx, t, StateEscalated, workflow.StatusEscalated, reviewer, cb, "Escalated to specialist team")
	}
}

func (r *Router) closeReview(ctx context.Context, t *workflow.Ticket, state State, status workflow.TicketStatus, reviewer string, cb Callback, defaultNotes string) (Outcome, error) {
	notes := cb.Notes
	if notes == "" {
		notes = defaultNotes
	}
	if err := r.stage(ctx, func(ctx context.Context) error {
		return r.Tickets.UpdateStatus(ctx, t.ID, status)
	}); err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		r.log.Error("failed to record review outcome", zap.String("ticket_id", t.ID), zap.Error(err))
	}
	t.Status = status
	r.publish(ctx, Event{TicketID: t.ID, State: state, Status: status, ReviewedBy: reviewer, Decision: cb.Decision, Detail: notes})
	return Outcome{TicketID: t.ID, State: state, Status: status}, nil
}

// ExpireStale moves every review past its deadline to HITLReviewTimeout.
// Timeouts are final and never retried. If ctx ends mid-sweep the reviews
// not yet timed out go back to the store for the next sweep.
func (r *Router) ExpireStale(ctx context.Context, now time.Time) ([]Outcome, error) {
	expired, err := r.Reviews.TakeExpired(ctx, now)
	if err != nil {
		r.restore(ctx, expired...)
		return nil, fmt.Errorf("take expired reviews: %w", err)
	}
	outcomes := make([]Outcome, 0, len(expired))
	for i, p := range expired {
		if err := ctx.Err(); err != nil {
			r.restore(ctx, expired[i:]...)
			return outcomes, err
		}
		outcomes = append(outcomes, r.timeout(ctx, p))
	}
	return outcomes, nil
}

// timeout records the terminal even when ctx is done, since the review
// has already left the store.
func (r *Router) timeout(ctx context.Context, p *PendingReview) Outcome {
	r.log.Warn("review timed out",
		zap.String("ticket_id", p.TicketID),
		zap.String("review_type", string(p.ReviewType)),
		zap.Time("deadline", p.Deadline))
	out, _ := r.fail(context.WithoutCancel(ctx), p.Ticket, StateHITLReviewTimeout,
		fmt.Errorf("no review decision by %s", p.Deadline.Format(time.RFC3339)))
	return out
}

// restore puts taken reviews back so their tokens stay usable.
func (r *Router) restore(ctx context.Context, reviews ...*PendingReview) {
	ctx = context.WithoutCancel(ctx)
	for _, p := range reviews {
		if err := r.Reviews.SavePending(ctx, p); err != nil {
			r.log.Error("failed to restore pending review", zap.String("ticket_id", p.TicketID), zap.Error(err))
			continue
		}
		r.log.Info("pending review restored", zap.String("ticket_id", p.TicketID), zap.String("token", p.Token))
	}
}

// sendResponse delivers approved text at most once per decision token.
// judgeDegraded is carried on the resolved event so operators can review
// auto-approved text whose grounding check did not run.
func (r *Router) sendResponse(ctx context.Context, t *workflow.Ticket, approved *workflow.ApprovedResponse, decisionToken string, judgeDegraded bool) (Outcome, error) {
	key := "sent:" + t.ID + ":" + decisionToken

	var first bool
	err := r.stage(ctx, func(ctx context.Context) error {
		var err error
		first, err = r.Guard.Acquire(ctx, key)
		return err
	})
	if err != nil {
		return r.fail(ctx, t, StateSendFailed, err)
	}
	if !first {
		r.log.Warn("response already sent", zap.String("ticket_id", t.ID), zap.String("key", key))
		return Outcome{TicketID: t.ID, State: StateResolved, Status: workflow.StatusResolved, AlreadySent: true}, nil
	}

	var messageID string
	if t.Channel == workflow.ChannelEmail && t.CustomerEmail != "" {
		subject := t.Subject
		if subject == "" {
			subject = "Insurance Support Response"
		}
		err := r.stage(ctx, func(ctx context.Context) error {
			var err error
			messageID, err = r.Sender.Send(ctx, t.CustomerEmail, "Re: "+subject, approved.FinalText)
			return err
		})
		if err != nil {
			return r.fail(ctx, t, StateSendFailed, err)
		}
		t.Status = workflow.StatusSent
		if err := r.Tickets.UpdateStatus(ctx, t.ID, workflow.StatusSent); err != nil {
			r.log.Error("failed to mark ticket sent", zap.String("ticket_id", t.ID), zap.Error(err))
		}
	} else {
		r.log.Info("response stored but not sent",
			zap.String("ticket_id", t.ID),
			zap.String("channel", string(t.Channel)))
	}

	err = r.stage(ctx, func(ctx context.Context) error {
		if err := r.Tickets.SaveApproved(ctx, approved); err != nil {
			return err
		}
		return r.Tickets.UpdateStatus(ctx, t.ID, workflow.StatusResolved)
	})
	if err != nil {
		return r.fail(ctx, t, StateSendFailed, err)
	}
	t.Status = workflow.StatusResolved

	r.publish(ctx, Event{
		TicketID:      t.ID,
		State:         StateResolved,
		Status:        workflow.StatusResolved,
		ReviewedBy:    approved.ReviewedBy,
		Decision:      approved.Decision,
		Detail:        messageID,
		JudgeDegraded: judgeDegraded,
	})
	r.log.Info("ticket resolved",
		zap.String("ticket_id", t.ID),
		zap.String("reviewed_by", approved.ReviewedBy),
		zap.String("message_id", messageID))

	return Outcome{TicketID: t.ID, State: StateResolved, Status: workflow.StatusResolved, MessageID: messageID}, nil
}

func (r *Router) stage(ctx context.Context, op func(context.Context) error) error {
	return r.retry.Do(ctx, op)
}

// fail moves the ticket to a failure terminal. Only ctx cancellation is
// returned as an error.
func (r *Router) fail(ctx context.Context, t *workflow.Ticket, state State, cause error) (Outcome, error) {
	if ctx.Err() != nil {
		return Outcome{}, ctx.Err()
	}
	r.log.Error("ticket failed",
		zap.String("ticket_id", t.ID),
		zap.String("state", string(state)),
		zap.Error(cause))

	t.Status = workflow.StatusFailed
	if err := r.Tickets.UpdateStatus(ctx, t.ID, workflow.StatusFailed); err != nil {
		r.log.Error("failed to mark ticket failed", zap.String("ticket_id", t.ID), zap.Error(err))
	}
	r.publish(ctx, Event{TicketID: t.ID, State: state, Status: workflow.StatusFailed, Detail: cause.Error()})
	return Outcome{TicketID: t.ID, State: state, Status: workflow.StatusFailed, Err: cause.Error()}, nil
}

func (r *Router) publish(ctx context.Context, e Event) {
	if r.Events == nil {
		return
	}
	e.Timestamp = r.now().UTC()
	if err := r.Events.PublishEvent(ctx, e); err != nil {
		r.log.Error("failed to publish event",
			zap.String("ticket_id", e.TicketID),
			zap.String("state", string(e.State)),
			zap.Error(err))
	}
}
