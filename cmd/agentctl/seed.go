package main

import (
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/refset/insurance-support-agent/internal/kafka"
	"github.com/refset/insurance-support-agent/internal/workflow"
)

var sampleTickets = []struct {
	CustomerID string
	Email      string
	Subject    string
	Body       string
	Channel    workflow.Channel
}{
	{
		CustomerID: "CUST-001",
		Email:      "alex.morgan@example.com",
		Subject:    "Excess on my home policy",
		Body:       "Hi, what is the excess on my home insurance policy POL-12345678 for accidental damage?",
		Channel:    workflow.ChannelEmail,
	},
	{
		CustomerID: "CUST-002",
		Email:      "sam.patel@example.com",
		Subject:    "Claim still not paid",
		Body:       "My claim CLM-00987654 for the burst pipe was submitted six weeks ago and I have heard nothing. When will it be settled?",
		Channel:    workflow.ChannelEmail,
	},
	{
		CustomerID: "CUST-003",
		Email:      "j.okafor@example.com",
		Subject:    "Policy was mis-sold",
		Body:       "I was sold cover I never needed and I am speaking to my lawyer about this. I want compensation.",
		Channel:    workflow.ChannelEmail,
	},
	{
		CustomerID: "CUST-004",
		Subject:    "Change of address",
		Body:       "I am moving house next month. How do I update the address on my car insurance?",
		Channel:    workflow.ChannelChatbot,
	},
	{
		CustomerID: "CUST-005",
		Subject:    "Adding a driver",
		Body:       "Can I add my partner as a named driver? Call me on 555-201-3344 if you need details.",
		Channel:    workflow.ChannelWhatsApp,
	},
}

var seedCount int

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Publish sample insurance tickets to the inbound topic",
	RunE: func(cmd *cobra.Command, args []string) error {
		producer := kafka.NewProducer(cfg.Kafka, logger)
		defer producer.Close()

		for i := 0; i < seedCount; i++ {
			sample := sampleTickets[rand.Intn(len(sampleTickets))]
			t := &workflow.Ticket{
				ID:            "TKT-" + strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + strconv.Itoa(i+1),
				Channel:       sample.Channel,
				CustomerID:    sample.CustomerID,
				CustomerEmail: sample.Email,
				Subject:       sample.Subject,
				MessageBody:   sample.Body,
				Status:        workflow.StatusReceived,
				ReceivedAt:    time.Now().UTC(),
			}
			if err := producer.PublishTicket(cmd.Context(), t); err != nil {
				logger.Error("failed to publish sample ticket", zap.String("ticket_id", t.ID), zap.Error(err))
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", t.ID, t.Subject, t.Channel)
		}
		return nil
	},
}

func init() {
	seedCmd.Flags().IntVarP(&seedCount, "count", "n", 5, "number of tickets to publish")
}
