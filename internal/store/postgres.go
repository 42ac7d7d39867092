package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/refset/insurance-support-agent/internal/router"
	"github.com/refset/insurance-support-agent/internal/workflow"
)

// Postgres persists tickets, pending reviews and approved responses.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tickets (
		id           TEXT PRIMARY KEY,
		channel      TEXT NOT NULL,
		customer_id  TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL,
		priority     TEXT NOT NULL DEFAULT '',
		reopen_count INT NOT NULL DEFAULT 0,
		data         JSONB NOT NULL,
		received_at  TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS pending_reviews (
		token       TEXT PRIMARY KEY,
		ticket_id   TEXT NOT NULL,
		review_type TEXT NOT NULL,
		data        JSONB NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		deadline    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS pending_reviews_deadline_idx ON pending_reviews (deadline)`,
	`CREATE TABLE IF NOT EXISTS approved_responses (
		id          BIGSERIAL PRIMARY KEY,
		ticket_id   TEXT NOT NULL,
		final_text  TEXT NOT NULL,
		reviewed_by TEXT NOT NULL,
		decision    TEXT NOT NULL,
		edit_diff   TEXT NOT NULL DEFAULT '',
		approved_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS approved_responses_ticket_idx ON approved_responses (ticket_id, approved_at DESC)`,
}

// EnsureSchema creates the tables the pipeline reads and writes.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) SaveTicket(ctx context.Context, t *workflow.Ticket) error {
	if t.ID == "" {
		return fmt.Errorf("ticket ID required")
	}
	if t.ReceivedAt.IsZero() {
		t.ReceivedAt = time.Now().UTC()
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal ticket: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO tickets (id, channel, customer_id, status, priority, reopen_count, data, received_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			reopen_count = EXCLUDED.reopen_count,
			data = EXCLUDED.data,
			updated_at = now()`,
		t.ID, string(t.Channel), t.CustomerID, string(t.Status), t.Priority, t.ReopenCount, data, t.ReceivedAt)
	if err != nil {
		return fmt.Errorf("save ticket %s: %w", t.ID, err)
	}
	return nil
}

func (p *Postgres) UpdateStatus(ctx context.Context, ticketID string, status workflow.TicketStatus) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE tickets
		SET status = $2, data = jsonb_set(data, '{status}', to_jsonb($2::text)), updated_at = now()
		WHERE id = $1`,
		ticketID, string(status))
	if err != nil {
		return fmt.Errorf("update ticket %s status: %w", ticketID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ticket %s: %w", ticketID, router.ErrNotFound)
	}
	return nil
}

func (p *Postgres) GetTicket(ctx context.Context, ticketID string) (*workflow.Ticket, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT data FROM tickets WHERE id = $1`, ticketID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ticket %s: %w", ticketID, router.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket %s: %w", ticketID, err)
	}
	var t workflow.Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode ticket %s: %w", ticketID, err)
	}
	return &t, nil
}

func (p *Postgres) SaveApproved(ctx context.Context, a *workflow.ApprovedResponse) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO approved_responses (ticket_id, final_text, reviewed_by, decision, edit_diff, approved_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.TicketID, a.FinalText, a.ReviewedBy, string(a.Decision), a.EditDiff, a.ApprovedAt)
	if err != nil {
		return fmt.Errorf("save approved response for %s: %w", a.TicketID, err)
	}
	return nil
}

// LatestApproved returns the most recent response sent for a ticket.
func (p *Postgres) LatestApproved(ctx context.Context, ticketID string) (*workflow.ApprovedResponse, error) {
	var a workflow.ApprovedResponse
	var decision string
	err := p.pool.QueryRow(ctx, `
		SELECT ticket_id, final_text, reviewed_by, decision, edit_diff, approved_at
		FROM approved_responses
		WHERE ticket_id = $1
		ORDER BY approved_at DESC
		LIMIT 1`, ticketID).
		Scan(&a.TicketID, &a.FinalText, &a.ReviewedBy, &decision, &a.EditDiff, &a.ApprovedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("approved response for %s: %w", ticketID, router.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get approved response for %s: %w", ticketID, err)
	}
	a.Decision = workflow.ReviewDecision(decision)
	return &a, nil
}

func (p *Postgres) SavePending(ctx context.Context, r *router.PendingReview) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal pending review: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO pending_reviews (token, ticket_id, review_type, data, created_at, deadline)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (token) DO UPDATE SET data = EXCLUDED.data, deadline = EXCLUDED.deadline`,
		r.Token, r.TicketID, string(r.ReviewType), data, r.CreatedAt, r.Deadline)
	if err != nil {
		return fmt.Errorf("save pending review for %s: %w", r.TicketID, err)
	}
	return nil
}

// TakePending deletes and returns the review for token, so concurrent
// callbacks with the same token resume it once.
func (p *Postgres) TakePending(ctx context.Context, token string) (*router.PendingReview, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `DELETE FROM pending_reviews WHERE token = $1 RETURNING data`, token).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, router.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("take pending review: %w", err)
	}
	return decodePending(data)
}

// TakeExpired deletes and returns every review whose deadline is before
// now. A row whose payload cannot be decoded is still returned, built from
// its columns, so its ticket can be timed out.
func (p *Postgres) TakeExpired(ctx context.Context, now time.Time) ([]*router.PendingReview, error) {
	rows, err := p.pool.Query(ctx, `
		DELETE FROM pending_reviews WHERE deadline < $1
		RETURNING token, ticket_id, review_type, created_at, deadline, data`, now)
	if err != nil {
		return nil, fmt.Errorf("take expired reviews: %w", err)
	}
	defer rows.Close()

	var out []*router.PendingReview
	for rows.Next() {
		var (
			fallback   router.PendingReview
			reviewType string
			data       []byte
		)
		if err := rows.Scan(&fallback.Token, &fallback.TicketID, &reviewType, &fallback.CreatedAt, &fallback.Deadline, &data); err != nil {
			return out, fmt.Errorf("scan expired review: %w", err)
		}
		r, err := decodePending(data)
		if err != nil {
			fallback.ReviewType = router.ReviewType(reviewType)
			fallback.Ticket = &workflow.Ticket{ID: fallback.TicketID, Status: workflow.StatusAwaitingReview}
			r = &fallback
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("take expired reviews: %w", err)
	}
	return out, nil
}

// CountPending returns how many tickets are waiting for a reviewer.
func (p *Postgres) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM pending_reviews`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending reviews: %w", err)
	}
	return n, nil
}

func decodePending(data []byte) (*router.PendingReview, error) {
	var r router.PendingReview
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode pending review: %w", err)
	}
	if r.Ticket == nil {
		return nil, fmt.Errorf("pending review %s has no ticket", r.Token)
	}
	return &r, nil
}
