package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/igwedaniel/sharkmon/internal/types"
	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

type EventEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
}

type FeedListener struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	route    string
	logger   *logrus.Logger
}

func NewFeedListener(rabbitURL, exchange, route string, logger *logrus.Logger) (*FeedListener, error) {
	conn, err := amqp091.Dial(rabbitURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return &FeedListener{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		route:    route,
		logger:   logger,
	}, nil
}

func (fl *FeedListener) Start(ctx context.Context) error {
	err := fl.channel.ExchangeDeclare(
		fl.exchange, // exchange name
		"topic",     // exchange type
		true,        // durable
		false,       // auto-deleted
		false,       // internal
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// server-named temporary queue
	queue, err := fl.channel.QueueDeclare(
		"",    // queue name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = fl.channel.QueueBind(
		queue.Name,  // queue name
		fl.route,    // routing key pattern
		fl.exchange, // exchange
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	msgs, err := fl.channel.Consume(
		queue.Name, // queue
		"",         // consumer
		true,       // auto-ack
		false,      // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	fl.logger.WithFields(logrus.Fields{
		"exchange": fl.exchange,
		"route":    fl.route,
		"queue":    queue.Name,
	}).Info("🎧 Feed listener started")

	go func() {
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					fl.logger.Warn("Delivery channel closed")
					return
				}
				fl.handleMessage(msg)
			case <-ctx.Done():
				fl.logger.Info("Context cancelled, stopping message consumption")
				return
			}
		}
	}()

	return nil
}

func (fl *FeedListener) handleMessage(msg amqp091.Delivery) {
	receivedAt := time.Now()

	env, ev, err := decodeFeedEvent(msg.Body)
	if err != nil {
		fl.logger.WithFields(logrus.Fields{
			"routing_key": msg.RoutingKey,
			"error":       err.Error(),
			"body":        string(msg.Body),
		}).Error("❌ Failed to parse feed event")
		return
	}

	fields := logrus.Fields{
		"routing_key": msg.RoutingKey,
		"feed":        string(ev.Feed),
		"status":      string(ev.Status),
		"duration":    ev.Duration,
		"delay":       receivedAt.Sub(env.Timestamp).Round(time.Millisecond).String(),
	}
	if ev.Error != "" {
		fields["error"] = ev.Error
		fl.logger.WithFields(fields).Warn("⚠️  Feed refresh failed")
		return
	}
	fl.logger.WithFields(fields).Info("📨 Feed updated")
	fmt.Println(summary(env, ev))
}

// decodeFeedEvent unpacks a feed event published by the dashboard
func decodeFeedEvent(body []byte) (*EventEnvelope, *types.FeedEvent, error) {
	var env EventEnvelope
	if err := sonic.Unmarshal(body, &env); err != nil {
		return nil, nil, fmt.Errorf("envelope: %w", err)
	}
	if !strings.HasPrefix(env.Type, "feed.") {
		return nil, nil, fmt.Errorf("unexpected event type %q", env.Type)
	}
	var ev types.FeedEvent
	if err := sonic.Unmarshal(env.Payload, &ev); err != nil {
		return nil, nil, fmt.Errorf("payload: %w", err)
	}
	return &env, &ev, nil
}

func summary(env *EventEnvelope, ev *types.FeedEvent) string {
	return fmt.Sprintf("%s  %-12s %-8s %s", env.Timestamp.Format("15:04:05.000"), ev.Feed, ev.Status, ev.Duration)
}

func (fl *FeedListener) Close() error {
	if fl.channel != nil {
		fl.channel.Close()
	}
	if fl.conn != nil {
		fl.conn.Close()
	}
	return nil
}

func main() {
	exchange := flag.String("exchange", "sharkpool.events", "exchange the dashboard publishes to")
	route := flag.String("route", "feed.#", "routing key pattern to bind")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		ForceColors:   true,
	})
	logger.SetLevel(logrus.InfoLevel)

	rabbitURL := os.Getenv("RABBITMQ_URL")
	if rabbitURL == "" {
		fmt.Fprintln(os.Stderr, "RABBITMQ_URL is not set")
		os.Exit(1)
	}

	logger.Info("🐰 Connecting to RabbitMQ...")

	listener, err := NewFeedListener(rabbitURL, *exchange, *route, logger)
	if err != nil {
		logger.Fatalf("❌ Failed to create feed listener: %v", err)
	}
	defer listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := listener.Start(ctx); err != nil {
		logger.Fatalf("❌ Failed to start feed listener: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("🛑 Received shutdown signal, stopping feed listener...")
	cancel()
	logger.Info("👋 Feed listener stopped")
}
