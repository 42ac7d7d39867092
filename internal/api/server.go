package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/refset/insurance-support-agent/internal/feedback"
	"github.com/refset/insurance-support-agent/internal/router"
	"github.com/refset/insurance-support-agent/internal/workflow"
)

const maxRequestBodyBytes = 1 << 20

type Resumer interface {
	Resume(ctx context.Context, cb router.Callback) (router.Outcome, error)
}

type FeedbackHandler interface {
	Handle(ctx context.Context, ticketID, message string) (feedback.Result, error)
}

// TicketPublisher hands a newly received ticket to the pipeline.
type TicketPublisher interface {
	PublishTicket(ctx context.Context, t *workflow.Ticket) error
}

type Server struct {
	resumer  Resumer
	feedback FeedbackHandler
	tickets  TicketPublisher
	log      *zap.Logger
}

func NewServer(resumer Resumer, fb FeedbackHandler, tickets TicketPublisher, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{resumer: resumer, feedback: fb, tickets: tickets, log: logger}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(limitRequestBody)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/reviews/callback", s.reviewCallback)
	r.Post("/tickets/{id}/feedback", s.ticketFeedback)
	r.Post("/webhook/{channel}", s.webhook)
	return r
}

func (s *Server) reviewCallback(w http.ResponseWriter, r *http.Request) {
	var cb router.Callback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	out, err := s.resumer.Resume(r.Context(), cb)
	switch {
	case errors.Is(err, router.ErrInvalidCallback):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, router.ErrUnknownToken):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.internalError(w, "resume review", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) ticketFeedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"customer_message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ticketID := chi.URLParam(r, "id")
	res, err := s.feedback.Handle(r.Context(), ticketID, req.Message)
	switch {
	case errors.Is(err, router.ErrNotFound):
		writeError(w, http.StatusNotFound, "ticket "+ticketID+" not found")
		return
	case err != nil:
		s.internalError(w, "handle feedback", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	channel := strings.ToLower(chi.URLParam(r, "channel"))

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	var (
		t   *workflow.Ticket
		err error
	)
	switch channel {
	case string(workflow.ChannelWhatsApp):
		t, err = ParseWhatsApp(body)
	case string(workflow.ChannelChatbot):
		t, err = ParseChatbot(body)
	default:
		writeError(w, http.StatusBadRequest, "Unsupported channel: "+channel)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.tickets.PublishTicket(r.Context(), t); err != nil {
		s.internalError(w, "publish ticket", err)
		return
	}
	s.log.Info("webhook ticket created",
		zap.String("ticket_id", t.ID),
		zap.String("channel", channel))
	writeJSON(w, http.StatusOK, map[string]string{
		"ticket_id": t.ID,
		"status":    string(workflow.StatusReceived),
	})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal processing error")
}

func limitRequestBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
