package events

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Publisher mirrors processed webhook events to RabbitMQ for downstream
// consumers (dashboards, analytics). Publishing is best effort and disabled
// entirely when RABBITMQ_URL is unset; it must never block or fail webhook
// ingestion.
type Publisher struct {
	channel     *amqp091.Channel
	conn        *amqp091.Connection
	enabled     bool
	queuePrefix string
}

// envelope is the published message shape.
type envelope struct {
	EventType string          `json:"event_type"`
	Account   string          `json:"account"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewPublisherFromEnv connects to RabbitMQ when RABBITMQ_URL is set. A
// connection failure disables publishing rather than failing startup.
func NewPublisherFromEnv() *Publisher {
	p := &Publisher{queuePrefix: os.Getenv("RABBITMQ_QUEUE_PREFIX")}
	if p.queuePrefix == "" {
		p.queuePrefix = "conversa_sync"
	}

	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		log.Info().Msg("RABBITMQ_URL is not set, event publishing disabled")
		return p
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		log.Error().Err(err).Msg("Could not connect to RabbitMQ, event publishing disabled")
		return p
	}
	channel, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Could not open RabbitMQ channel, event publishing disabled")
		_ = conn.Close()
		return p
	}

	p.conn = conn
	p.channel = channel
	p.enabled = true
	log.Info().Str("prefix", p.queuePrefix).Msg("RabbitMQ connection established")
	return p
}

// Publish sends the raw event payload to the event type's queue. Errors are
// logged, not propagated.
func (p *Publisher) Publish(eventType, account string, payload []byte) {
	if !p.enabled {
		return
	}

	body, err := json.Marshal(envelope{
		EventType: eventType,
		Account:   account,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Str("eventType", eventType).Msg("Could not marshal event envelope")
		return
	}

	queueName := p.queuePrefix + "_" + strings.ToLower(eventType)
	// Declare is idempotent; durable so consumers can lag.
	if _, err := p.channel.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		log.Error().Err(err).Str("queue", queueName).Msg("Could not declare RabbitMQ queue")
		return
	}

	err = p.channel.Publish("", queueName, false, false, amqp091.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		log.Error().Err(err).Str("queue", queueName).Msg("Could not publish event to RabbitMQ")
		return
	}
	log.Debug().Str("queue", queueName).Str("eventType", eventType).Msg("Published event to RabbitMQ")
}

// Close releases the RabbitMQ connection.
func (p *Publisher) Close() {
	if !p.enabled {
		return
	}
	_ = p.channel.Close()
	_ = p.conn.Close()
}
