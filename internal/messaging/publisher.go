package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/igwedaniel/sharkmon/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// Publisher interface for loose coupling
type Publisher interface {
	Publish(ctx context.Context, event *types.Event) error
	PublishFeedEvent(ctx context.Context, feedEvent *types.FeedEvent) error
	Close() error
}

// RoutingKey returns the routing key of event: "<type>.<source>"
func RoutingKey(event *types.Event) string {
	return fmt.Sprintf("%s.%s", event.Type, event.Source)
}

// NewFeedEvent wraps a feed outcome into an Event
func NewFeedEvent(feedEvent *types.FeedEvent) *types.Event {
	eventType := types.EventTypeFeedUpdated
	if feedEvent.Status == types.StatusFailed {
		eventType = types.EventTypeFeedFailed
	}
	return &types.Event{
		Type:      eventType,
		Payload:   feedEvent,
		Timestamp: time.Now(),
		Source:    string(feedEvent.Feed),
	}
}

// RabbitMQPublisher implements Publisher interface
type RabbitMQPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *logrus.Logger
}

// NewRabbitMQPublisher creates a new RabbitMQ publisher
func NewRabbitMQPublisher(url, exchange string, logger *logrus.Logger) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// Declare exchange
	err = channel.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	publisher := &RabbitMQPublisher{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		logger:   logger,
	}

	go publisher.handleConnectionErrors()

	return publisher, nil
}

func (p *RabbitMQPublisher) handleConnectionErrors() {
	notifyClose := make(chan *amqp.Error)
	p.conn.NotifyClose(notifyClose)

	for err := range notifyClose {
		if err != nil {
			p.logger.Errorf("RabbitMQ connection error: %v", err)
		}
	}
}

// Publish publishes a generic event
func (p *RabbitMQPublisher) Publish(ctx context.Context, event *types.Event) error {
	body, err := sonic.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	routingKey := RoutingKey(event)

	err = p.channel.Publish(
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
			MessageId:    fmt.Sprintf("%s-%d", event.Type, time.Now().UnixNano()),
			DeliveryMode: amqp.Transient,
		},
	)

	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"event_type":  event.Type,
		"routing_key": routingKey,
		"timestamp":   event.Timestamp,
	}).Debug("Event published successfully")

	return nil
}

// PublishFeedEvent publishes the outcome of one feed refresh
func (p *RabbitMQPublisher) PublishFeedEvent(ctx context.Context, feedEvent *types.FeedEvent) error {
	return p.Publish(ctx, NewFeedEvent(feedEvent))
}

// Close closes the publisher connection
func (p *RabbitMQPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// NoOpPublisher is used when no broker is configured
type NoOpPublisher struct{}

func (n *NoOpPublisher) Publish(ctx context.Context, event *types.Event) error {
	return nil
}

func (n *NoOpPublisher) PublishFeedEvent(ctx context.Context, feedEvent *types.FeedEvent) error {
	return nil
}

func (n *NoOpPublisher) Close() error {
	return nil
}
