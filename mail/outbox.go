package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the JetStream subject mail jobs are published to.
const DefaultSubject = "identity.mail"

// ErrOutboxUnavailable wraps publish failures.
var ErrOutboxUnavailable = errors.New("mail outbox unavailable")

// Job is the JSON document published per message.
type Job struct {
	To       string            `json:"to"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data,omitempty"`
	QueuedAt time.Time         `json:"queued_at"`
}

// publisher is the subset of nats.JetStreamContext the outbox uses.
type publisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATSOutbox publishes mail jobs to JetStream; a worker consumes and
// delivers them.
type NATSOutbox struct {
	conn    *nats.Conn
	js      publisher
	subject string
	now     func() time.Time
}

// DialOutbox connects to url and returns an outbox publishing on subject.
func DialOutbox(url, subject string, opts ...nats.Option) (*NATSOutbox, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}
	o := NewOutbox(js, subject)
	o.conn = nc
	return o, nil
}

// NewOutbox publishes through an existing JetStream context.
func NewOutbox(js publisher, subject string) *NATSOutbox {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSOutbox{js: js, subject: subject, now: time.Now}
}

// Send publishes one job and waits for the stream ack.
func (o *NATSOutbox) Send(ctx context.Context, to string, msg Message) error {
	if o == nil || o.js == nil {
		return errors.New("nil outbox")
	}
	data, err := json.Marshal(Job{
		To:       to,
		Template: msg.Template,
		Data:     msg.Data,
		QueuedAt: o.now().UTC(),
	})
	if err != nil {
		return err
	}
	if _, err := o.js.Publish(o.subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("%w: %v", ErrOutboxUnavailable, err)
	}
	return nil
}

// Close drains the connection opened by [DialOutbox].
func (o *NATSOutbox) Close() {
	if o == nil || o.conn == nil {
		return
	}
	if err := o.conn.Drain(); err != nil {
		o.conn.Close()
	}
}
