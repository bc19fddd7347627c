package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

type capturePublisher struct {
	subject string
	data    []byte
	err     error
}

func (c *capturePublisher) Publish(subj string, data []byte, _ ...nats.PubOpt) (*nats.PubAck, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.subject = subj
	c.data = data
	return &nats.PubAck{Stream: "MAIL", Sequence: 1}, nil
}

func TestOutboxPublishesJob(t *testing.T) {
	pub := &capturePublisher{}
	o := NewOutbox(pub, "")
	o.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	msg := Templates{FrontendURL: "https://app.example/"}.EmailConfirmation("AB12CD34")
	if err := o.Send(context.Background(), "alice@example.com", msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if pub.subject != DefaultSubject {
		t.Fatalf("unexpected subject %q", pub.subject)
	}

	var job Job
	if err := json.Unmarshal(pub.data, &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.To != "alice@example.com" || job.Template != TemplateEmailConfirmation {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.Data["code"] != "AB12CD34" || job.Data["verification_link"] != "https://app.example/account/verify?token=AB12CD34" {
		t.Fatalf("unexpected data %v", job.Data)
	}
}

func TestOutboxWrapsPublishFailure(t *testing.T) {
	o := NewOutbox(&capturePublisher{err: nats.ErrNoResponders}, "mail.test")
	err := o.Send(context.Background(), "a@example.com", Message{Template: TemplatePasswordChanged})
	if !errors.Is(err, ErrOutboxUnavailable) {
		t.Fatalf("expected ErrOutboxUnavailable, got %v", err)
	}
}

func TestResetLinkEscapesCode(t *testing.T) {
	msg := Templates{FrontendURL: "https://app.example"}.PasswordReset("ABC=DEF")
	if got := msg.Data["reset_link"]; got != "https://app.example/account/reset-password?token=ABC%3DDEF" {
		t.Fatalf("unexpected link %q", got)
	}
}

func TestLogSenderOmitsData(t *testing.T) {
	var buf bytes.Buffer
	s := LogSender{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	msg := Templates{}.PasswordReset("SECRETCODE")
	if err := s.Send(context.Background(), "a@example.com", msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if strings.Contains(buf.String(), "SECRETCODE") {
		t.Fatal("log output must not contain the code")
	}
	if !strings.Contains(buf.String(), TemplatePasswordReset) {
		t.Fatalf("expected template in log, got %s", buf.String())
	}
}
