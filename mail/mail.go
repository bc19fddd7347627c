package mail

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
)

// Template names understood by the delivery backend.
const (
	TemplateEmailConfirmation = "email_confirmation"
	TemplatePasswordReset     = "password_reset"
	TemplatePasswordChanged   = "password_changed"
)

// Message is a template reference with its data.
type Message struct {
	Template string            `json:"template"`
	Data     map[string]string `json:"data,omitempty"`
}

// Sender delivers msg to one recipient.
type Sender interface {
	Send(ctx context.Context, to string, msg Message) error
}

// Templates builds messages whose links point at the frontend.
type Templates struct {
	FrontendURL string
}

func (t Templates) link(path, code string) string {
	return strings.TrimRight(t.FrontendURL, "/") + path + "?token=" + url.QueryEscape(code)
}

// EmailConfirmation carries the verification code and a link embedding it.
func (t Templates) EmailConfirmation(code string) Message {
	return Message{
		Template: TemplateEmailConfirmation,
		Data: map[string]string{
			"verification_link": t.link("/account/verify", code),
			"code":              code,
		},
	}
}

// PasswordReset carries the reset code and a link embedding it.
func (t Templates) PasswordReset(code string) Message {
	return Message{
		Template: TemplatePasswordReset,
		Data: map[string]string{
			"reset_link": t.link("/account/reset-password", code),
			"code":       code,
		},
	}
}

// PasswordChanged notifies the owner that their password was replaced.
func (t Templates) PasswordChanged(changedFor string) Message {
	return Message{
		Template: TemplatePasswordChanged,
		Data:     map[string]string{"email": changedFor},
	}
}

// LogSender records sends without delivering them.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, to string, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "mail suppressed", "to", to, "template", msg.Template)
	return nil
}

// Discard drops every message.
type Discard struct{}

func (Discard) Send(context.Context, string, Message) error { return nil }
