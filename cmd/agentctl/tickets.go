package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/refset/insurance-support-agent/internal/kafka"
	"github.com/refset/insurance-support-agent/internal/router"
	"github.com/refset/insurance-support-agent/internal/store"
	"github.com/refset/insurance-support-agent/internal/workflow"
)

var submitFlags struct {
	channel  string
	customer string
	email    string
	subject  string
	message  string
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Publish a ticket to the inbound topic",
	RunE: func(cmd *cobra.Command, args []string) error {
		if submitFlags.message == "" {
			return fmt.Errorf("--message is required")
		}
		t := &workflow.Ticket{
			ID:            uuid.NewString(),
			Channel:       workflow.Channel(submitFlags.channel),
			CustomerID:    submitFlags.customer,
			CustomerEmail: submitFlags.email,
			Subject:       submitFlags.subject,
			MessageBody:   submitFlags.message,
			Status:        workflow.StatusReceived,
			ReceivedAt:    time.Now().UTC(),
		}

		producer := kafka.NewProducer(cfg.Kafka, logger)
		defer producer.Close()
		if err := producer.PublishTicket(cmd.Context(), t); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), t.ID)
		return nil
	},
}

var cb router.Callback

var callbackCmd = &cobra.Command{
	Use:   "callback",
	Short: "Publish a reviewer decision for a pending review",
	Long: `Publishes a decision to the callback topic. The pipeline resumes the
ticket when it consumes it.

Example:
  agentctl callback --token 6f1c... --decision edited --reviewer agent-7 \
    --edited-text "Your excess for this claim is 250."`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cb.Validate(); err != nil {
			return err
		}
		producer := kafka.NewProducer(cfg.Kafka, logger)
		defer producer.Close()
		return producer.PublishCallback(cmd.Context(), cb)
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Time out every pending review past its deadline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pool, err := store.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		db := store.NewPostgres(pool)
		defer db.Close()

		producer := kafka.NewProducer(cfg.Kafka, logger)
		defer producer.Close()

		rt := router.New(router.Deps{Tickets: db, Reviews: db, Events: producer}, cfg.HITL, cfg.Retry, logger)
		outcomes, err := rt.ExpireStale(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, o := range outcomes {
			if err := enc.Encode(o); err != nil {
				return err
			}
		}
		return nil
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Print how many tickets are waiting for a reviewer",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pool, err := store.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		db := store.NewPostgres(pool)
		defer db.Close()

		n, err := db.CountPending(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	},
}

func init() {
	f := submitCmd.Flags()
	f.StringVar(&submitFlags.channel, "channel", string(workflow.ChannelEmail), "email, whatsapp or chatbot")
	f.StringVar(&submitFlags.customer, "customer", "", "customer id")
	f.StringVar(&submitFlags.email, "email", "", "customer email address")
	f.StringVar(&submitFlags.subject, "subject", "", "ticket subject")
	f.StringVar(&submitFlags.message, "message", "", "message body")

	f = callbackCmd.Flags()
	f.StringVar(&cb.Token, "token", "", "review task token")
	f.StringVar((*string)(&cb.Decision), "decision", "", "approved, edited, rejected or escalated")
	f.StringVar(&cb.EditedText, "edited-text", "", "replacement response text")
	f.StringVar(&cb.ReviewerID, "reviewer", "", "reviewer id")
	f.StringVar(&cb.Notes, "notes", "", "reviewer notes")
	f.StringVar(&cb.EditDiff, "edit-diff", "", "diff between draft and edited text")
}
