// Package events announces domain changes on NATS for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Subjects published by the service.
const (
	SubjectReportStatus = "gardian.report.status"
	SubjectAdminCreated = "gardian.admin.created"
	SubjectAdminUpdated = "gardian.admin.updated"
	SubjectAdminDeleted = "gardian.admin.deleted"
	SubjectAdminLogin   = "gardian.admin.login"
)

// Envelope wraps every published payload.
type Envelope struct {
	ID         string          `json:"id"`
	Subject    string          `json:"subject"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

// ReportStatusChanged is published after a status write.
type ReportStatusChanged struct {
	ReportID      string  `json:"reportId"`
	UserID        string  `json:"userId"`
	Status        string  `json:"status"`
	ResolvedImage *string `json:"resolvedImage,omitempty"`
	ActorID       string  `json:"actorId,omitempty"`
}

// AdminChanged is published for roster changes.
type AdminChanged struct {
	AdminID string `json:"adminId"`
	Email   string `json:"email,omitempty"`
	ActorID string `json:"actorId,omitempty"`
}

// AdminLoggedIn is published when a two-factor sign-in completes.
type AdminLoggedIn struct {
	AdminID    string `json:"adminId"`
	OriginalID string `json:"originalId"`
}

// Publisher announces an event. Publishing is best effort: failures are logged by the caller
// and never undo the change that caused them.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
	Close()
}

type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes JSON envelopes on a NATS connection.
type NATSPublisher struct {
	nc  conn
	now func() time.Time
}

// Connect dials url and returns a publisher on the new connection.
func Connect(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("gardian-admin"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logrus.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logrus.WithField("url", c.ConnectedUrl()).Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{nc: nc, now: time.Now}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", subject, err)
	}
	env, err := json.Marshal(Envelope{ID: uuid.NewString(), Subject: subject, OccurredAt: p.now().UTC(), Data: data})
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", subject, err)
	}
	if err := p.nc.Publish(subject, env); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.nc.Drain(); err != nil {
		logrus.WithError(err).Warn("nats drain failed")
	}
}

// Nop drops every event. Used when no NATS server is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }
func (Nop) Close()                                     {}

// Emit publishes and logs a failure instead of returning it.
func Emit(ctx context.Context, p Publisher, subject string, payload any) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, subject, payload); err != nil {
		logrus.WithError(err).WithField("subject", subject).Warn("event publish failed")
	}
}

// LoginRecorder announces completed sign-ins.
type LoginRecorder struct {
	Publisher Publisher
}

func (r LoginRecorder) LoginSucceeded(ctx context.Context, adminID, originalID string) {
	Emit(ctx, r.Publisher, SubjectAdminLogin, AdminLoggedIn{AdminID: adminID, OriginalID: originalID})
}
