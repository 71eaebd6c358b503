// Package rabbitmq provides a messaging.Broker backed by a RabbitMQ server.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/fleck-go/internal/rabbitmq"
	"github.com/glimte/fleck-go/messaging"
)

// BrokerConfig holds configuration for the broker
type BrokerConfig struct {
	ConnectionOptions []rabbitmq.ConnectionOption
	Logger            *slog.Logger
}

// BrokerOption configures the broker
type BrokerOption func(*BrokerConfig)

// WithConnectionOptions sets connection options
func WithConnectionOptions(opts ...rabbitmq.ConnectionOption) BrokerOption {
	return func(cfg *BrokerConfig) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions, opts...)
	}
}

// WithLogger sets the logger used by the broker and its channels
func WithLogger(logger *slog.Logger) BrokerOption {
	return func(cfg *BrokerConfig) {
		cfg.Logger = logger
	}
}

// WithReconnect sets the initial reconnection delay and the attempt budget,
// zero meaning unlimited
func WithReconnect(delay time.Duration, maxRetries int) BrokerOption {
	return func(cfg *BrokerConfig) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions,
			rabbitmq.WithReconnectDelay(delay),
			rabbitmq.WithMaxRetries(maxRetries))
	}
}

// Broker implements messaging.Broker over one RabbitMQ connection. Every
// Channel call opens a dedicated AMQP channel.
type Broker struct {
	manager *rabbitmq.ConnectionManager
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewBroker connects to url
func NewBroker(ctx context.Context, url string, options ...BrokerOption) (*Broker, error) {
	cfg := &BrokerConfig{Logger: slog.Default()}
	for _, opt := range options {
		opt(cfg)
	}

	connOpts := append([]rabbitmq.ConnectionOption{rabbitmq.WithLogger(cfg.Logger)}, cfg.ConnectionOptions...)
	manager := rabbitmq.NewConnectionManager(url, connOpts...)
	if err := manager.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	return &Broker{
		manager: manager,
		logger:  cfg.Logger.With("component", "rabbitmq-broker"),
	}, nil
}

// Manager returns the underlying connection manager
func (b *Broker) Manager() *rabbitmq.ConnectionManager {
	return b.manager
}

// Channel opens a new channel
func (b *Broker) Channel(ctx context.Context) (messaging.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, messaging.ErrBrokerClosed
	}

	raw, err := b.manager.Channel()
	if err != nil {
		return nil, err
	}

	return &brokerChannel{Channel: rabbitmq.NewChannel(raw, b.logger), broker: b}, nil
}

// LocalAddr returns the local IP of the connection
func (b *Broker) LocalAddr() string {
	return b.manager.LocalAddr()
}

// IsConnected reports whether the connection is up
func (b *Broker) IsConnected() bool {
	return b.manager.IsConnected()
}

// Close closes the connection. Channels still open report
// messaging.ErrBrokerClosed to their close handlers.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	return b.manager.Close()
}

func (b *Broker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// brokerChannel reports a connection closed by Close as ErrBrokerClosed
type brokerChannel struct {
	*rabbitmq.Channel
	broker *Broker
}

func (c *brokerChannel) NotifyClose(handler messaging.CloseHandler) {
	c.Channel.NotifyClose(func(err error) {
		if c.broker.isClosed() {
			err = messaging.ErrBrokerClosed
		}
		handler(err)
	})
}
