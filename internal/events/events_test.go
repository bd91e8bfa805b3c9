package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
	closed   bool
}

func (f *fakeChannel) PublishWithDeferredConfirmWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error) {
	f.exchange = exchange
	f.key = key
	f.msg = msg
	return nil, f.err
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func sampleEvent() AccountEvent {
	return AccountEvent{
		Type:       AccountCreated,
		AccountID:  "id-1",
		Email:      "a@x.com",
		Role:       "admin",
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestRabbitPublisher_PublishesJSONWithRoutingKey(t *testing.T) {
	ch := &fakeChannel{}
	p := newRabbitPublisherWithChannel(ch, DefaultExchange)

	if err := p.PublishAccountEvent(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("PublishAccountEvent error: %v", err)
	}

	if ch.exchange != DefaultExchange || ch.key != AccountCreated {
		t.Fatalf("unexpected exchange/key: %s/%s", ch.exchange, ch.key)
	}
	if ch.msg.ContentType != "application/json" || ch.msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("unexpected publishing headers: %+v", ch.msg)
	}

	var got map[string]any
	if err := json.Unmarshal(ch.msg.Body, &got); err != nil {
		t.Fatalf("body is not json: %v", err)
	}
	if got["email"] != "a@x.com" || got["accountId"] != "id-1" {
		t.Fatalf("unexpected body: %v", got)
	}
	for k := range got {
		if strings.Contains(strings.ToLower(k), "password") || strings.Contains(strings.ToLower(k), "hash") {
			t.Fatalf("event leaks credential field %q", k)
		}
	}
}

func TestRabbitPublisher_PublishErrorAndClose(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	p := newRabbitPublisherWithChannel(ch, DefaultExchange)

	if err := p.PublishAccountEvent(context.Background(), sampleEvent()); err == nil {
		t.Fatalf("expected error")
	}

	_ = p.Close()
	if !ch.closed {
		t.Fatalf("expected channel closed")
	}
	if err := p.PublishAccountEvent(context.Background(), sampleEvent()); err == nil {
		t.Fatalf("expected error after close")
	}
}

func TestLogPublisher_AndMulti(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	failing := &RabbitPublisher{exchange: DefaultExchange}
	m := Multi{NewLogPublisher(log), failing}

	err := m.PublishAccountEvent(context.Background(), sampleEvent())
	if err == nil {
		t.Fatalf("expected error from closed publisher")
	}

	out := buf.String()
	if !strings.Contains(out, `"msg":"account.created"`) || !strings.Contains(out, `"email":"a@x.com"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}
