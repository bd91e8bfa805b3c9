// Package events reports account lifecycle changes to operational sinks.
// Payloads carry identity and role only; passwords and hashes never leave the accounts service.
package events

import (
	"context"
	"log/slog"
	"time"
)

const (
	AccountCreated            = "account.created"
	AccountCredentialsUpdated = "account.credentials_updated"
)

type AccountEvent struct {
	Type       string    `json:"type"`
	AccountID  string    `json:"accountId"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	OccurredAt time.Time `json:"occurredAt"`
}

type Publisher interface {
	PublishAccountEvent(ctx context.Context, evt AccountEvent) error
}

// LogPublisher writes events to the structured log.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &LogPublisher{log: log}
}

func (p *LogPublisher) PublishAccountEvent(ctx context.Context, evt AccountEvent) error {
	p.log.InfoContext(ctx, evt.Type,
		"account_id", evt.AccountID,
		"email", evt.Email,
		"role", evt.Role,
	)
	return nil
}

// Multi fans one event out to several publishers and returns the first error.
type Multi []Publisher

func (m Multi) PublishAccountEvent(ctx context.Context, evt AccountEvent) error {
	var first error
	for _, p := range m {
		if err := p.PublishAccountEvent(ctx, evt); err != nil && first == nil {
			first = err
		}
	}
	return first
}
