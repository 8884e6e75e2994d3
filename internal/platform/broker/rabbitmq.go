package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrInvalidURL is returned for AMQP URLs without an amqp or amqps scheme.
var ErrInvalidURL = errors.New("platform/broker: AMQP scheme must be amqp:// or amqps://")

// Publisher sends JSON events to topic exchanges.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger

	mu       sync.Mutex
	declared map[string]bool
}

// SanitizeURL trims quotes and whitespace and enforces the AMQP scheme.
func SanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("platform/broker: parse url: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", ErrInvalidURL
	}
	return clean, nil
}

// Dial connects to the broker and opens a channel.
func Dial(rawURL string, logger *slog.Logger) (*Publisher, error) {
	clean, err := SanitizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp.DialConfig(clean, amqp.Config{Heartbeat: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("platform/broker: dial: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("platform/broker: channel: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, channel: channel, logger: logger, declared: make(map[string]bool)}, nil
}

// Publish marshals body to JSON and sends it to the durable topic exchange.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, body any) error {
	if err := p.declare(exchange); err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("platform/broker: encode: %w", err)
	}
	err = p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("platform/broker: publish %s/%s: %w", exchange, routingKey, err)
	}
	p.logger.Debug("event published", slog.String("exchange", exchange), slog.String("routing_key", routingKey))
	return nil
}

func (p *Publisher) declare(exchange string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.declared[exchange] {
		return nil
	}
	if err := p.channel.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("platform/broker: declare %s: %w", exchange, err)
	}
	p.declared[exchange] = true
	return nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
