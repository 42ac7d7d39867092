package notify

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/refset/insurance-support-agent/internal/config"
	"github.com/refset/insurance-support-agent/internal/workflow"
)

//go:embed templates/*
var templates embed.FS

var tmpl = template.Must(template.ParseFS(templates, "templates/*.html"))

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender delivers approved responses by email.
type SMTPSender struct {
	cfg      config.EmailConfig
	sendMail sendMailFunc
	now      func() time.Time
	log      *zap.Logger
}

func NewSMTPSender(cfg config.EmailConfig, logger *zap.Logger) *SMTPSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPSender{
		cfg:      cfg,
		sendMail: smtp.SendMail,
		now:      time.Now,
		log:      logger,
	}
}

// Send mails body as plain text and HTML and returns the Message-ID.
func (s *SMTPSender) Send(ctx context.Context, recipient, subject, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if recipient == "" {
		return "", fmt.Errorf("recipient required")
	}

	domain := "localhost"
	if at := strings.LastIndex(s.cfg.From, "@"); at >= 0 {
		domain = s.cfg.From[at+1:]
	}
	messageID := "<" + uuid.NewString() + "@" + domain + ">"

	msg, err := s.compose(messageID, recipient, subject, body)
	if err != nil {
		return "", err
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPHost)
	}
	addr := s.cfg.SMTPHost + ":" + strconv.Itoa(s.cfg.SMTPPort)
	if err := s.sendMail(addr, auth, s.cfg.From, []string{recipient}, msg); err != nil {
		var tpErr *textproto.Error
		if errors.As(err, &tpErr) && tpErr.Code >= 400 && tpErr.Code < 500 {
			return "", workflow.Transient(fmt.Errorf("smtp send to %s: %w", recipient, err))
		}
		return "", fmt.Errorf("smtp send to %s: %w", recipient, err)
	}

	s.log.Info("email sent",
		zap.String("message_id", messageID),
		zap.Int("body_chars", len(body)))
	return messageID, nil
}

func (s *SMTPSender) compose(messageID, recipient, subject, body string) ([]byte, error) {
	htmlBody, err := FormatHTML(body)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", recipient)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", s.now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: %s\r\n", messageID)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("X-Purpose: ai-support-response\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())

	for _, part := range []struct{ contentType, content string }{
		{"text/plain; charset=UTF-8", body},
		{"text/html; charset=UTF-8", htmlBody},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, fmt.Errorf("compose email: %w", err)
		}
		if _, err := w.Write([]byte(part.content)); err != nil {
			return nil, fmt.Errorf("compose email: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("compose email: %w", err)
	}
	return buf.Bytes(), nil
}

// FormatHTML renders a plain-text reply as a branded HTML email. Blank
// lines separate paragraphs; single newlines become line breaks.
func FormatHTML(text string) (string, error) {
	var paragraphs [][]string
	for _, p := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		paragraphs = append(paragraphs, strings.Split(p, "\n"))
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "response.html", struct{ Paragraphs [][]string }{paragraphs}); err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}

// LogSender records responses without delivering them. Used when no SMTP
// host is configured.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{log: logger}
}

func (s *LogSender) Send(ctx context.Context, recipient, subject, body string) (string, error) {
	id := "log-" + uuid.NewString()
	s.log.Info("email delivery disabled, response logged",
		zap.String("message_id", id),
		zap.String("subject", subject),
		zap.Int("body_chars", len(body)))
	return id, nil
}
