package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	domainassignment "github.com/alanyang/lead-mesh/internal/domain/assignment"
	portnotifier "github.com/alanyang/lead-mesh/internal/port/notifier"
)

var _ portnotifier.AssignmentNotifier = (*Publisher)(nil)

const (
	RoutingKeyAssigned    = "lead.assigned"
	RoutingKeyTransferred = "lead.transferred"

	typeAssigned    = "crm.lead.assigned.v1"
	typeTransferred = "crm.lead.transferred.v1"

	reasonTransfer = "transfer"
)

type Meta struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer,omitempty"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

// Envelope is the wire shape every message on the exchange shares.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// Publisher forwards committed assignments to a topic exchange so downstream
// services (the WhatsApp sender, reporting) can react without polling.
type Publisher struct {
	conn     *amqp.Connection
	exchange string
	producer string
}

func New(url, exchange, producer string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &Publisher{conn: conn, exchange: exchange, producer: producer}, nil
}

func (p *Publisher) NotifyAssignment(ctx context.Context, n domainassignment.Notification) error {
	key, msg, err := buildMessage(n, p.producer, time.Now().UTC())
	if err != nil {
		return err
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open amqp channel: %w", err)
	}
	defer ch.Close()

	if err := ch.PublishWithContext(ctx, p.exchange, key, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	slog.DebugContext(ctx, "published", "key", key, "exchange", p.exchange, "lead_id", n.LeadID)
	return nil
}

func (p *Publisher) Close() error {
	return p.conn.Close()
}

// buildMessage picks the routing key for n and renders the persistent JSON
// publishing. The lead id doubles as correlation id so consumers can group
// every message about one lead.
func buildMessage(n domainassignment.Notification, producer string, now time.Time) (string, amqp.Publishing, error) {
	key, typ := RoutingKeyAssigned, typeAssigned
	if n.Reason == reasonTransfer {
		key, typ = RoutingKeyTransferred, typeTransferred
	}

	env := Envelope{
		Meta: Meta{
			ID:            uuid.NewString(),
			CorrelationID: n.LeadID.String(),
			Producer:      producer,
			Time:          now,
			Type:          typ,
		},
		Data: n,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return "", amqp.Publishing{}, fmt.Errorf("marshal envelope: %w", err)
	}

	return key, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Type:          typ,
		Timestamp:     now,
		AppId:         producer,
		Body:          body,
	}, nil
}
