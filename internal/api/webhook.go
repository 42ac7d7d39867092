package api

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/refset/insurance-support-agent/internal/workflow"
)

var (
	errNoWhatsAppMessage = errors.New("no messages found in WhatsApp webhook payload")
	errEmptyChatMessage  = errors.New("empty message in chatbot payload")
)

// ParseWhatsApp reads the first message of a Meta Cloud API webhook.
// Media messages keep a whatsapp-media:// reference in the ticket body.
func ParseWhatsApp(body map[string]any) (*workflow.Ticket, error) {
	value := obj(first(obj(first(body["entry"]))["changes"]))["value"]
	messages, _ := obj(value)["messages"].([]any)
	if len(messages) == 0 {
		return nil, errNoWhatsAppMessage
	}

	msg := obj(messages[0])
	phone := str(msg["from"], "unknown")
	text := str(obj(msg["text"])["body"], "")
	msgType := str(msg["type"], "text")

	switch msgType {
	case "image", "document", "audio", "video":
		if id := str(obj(msg[msgType])["id"], ""); id != "" {
			text = strings.TrimSpace(text + "\n[Attachment: whatsapp-media://" + id + "]")
		}
	}

	contactName := str(obj(obj(first(obj(value)["contacts"]))["profile"])["name"], "")
	from := contactName
	if from == "" {
		from = phone
	}

	return &workflow.Ticket{
		ID:          uuid.NewString(),
		Channel:     workflow.ChannelWhatsApp,
		CustomerID:  "WA-" + phone,
		Subject:     "WhatsApp from " + from,
		MessageBody: text,
		Status:      workflow.StatusReceived,
		ReceivedAt:  time.Now().UTC(),
	}, nil
}

// ParseChatbot reads a web chat payload
// {session_id, customer_id, message, email}.
func ParseChatbot(body map[string]any) (*workflow.Ticket, error) {
	message := str(body["message"], "")
	if message == "" {
		return nil, errEmptyChatMessage
	}
	customerID := str(body["customer_id"], "")
	if customerID == "" {
		customerID = "CHAT-" + uuid.NewString()[:8]
	}

	return &workflow.Ticket{
		ID:            uuid.NewString(),
		Channel:       workflow.ChannelChatbot,
		CustomerID:    customerID,
		CustomerEmail: str(body["email"], ""),
		Subject:       "Chat session " + str(body["session_id"], "unknown"),
		MessageBody:   message,
		Status:        workflow.StatusReceived,
		ReceivedAt:    time.Now().UTC(),
	}, nil
}

func obj(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func first(v any) any {
	list, _ := v.([]any)
	if len(list) == 0 {
		return nil
	}
	return list[0]
}

func str(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}
