package messaging

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrChannelClosed is returned by channel operations after the channel closed
	ErrChannelClosed = errors.New("fleck: channel is closed")

	// ErrBrokerClosed is returned when a channel is requested from a closed broker
	ErrBrokerClosed = errors.New("fleck: broker is closed")
)

// Exchange kinds understood by brokers.
const (
	ExchangeDirect  = "direct"
	ExchangeFanout  = "fanout"
	ExchangeTopic   = "topic"
	ExchangeHeaders = "headers"
)

// ReplyExchange is the direct exchange replies are routed through. Clients bind
// their reply queue to it using the queue name as routing key.
const ReplyExchange = "fleck"

// ExchangeTypeCode returns the one letter code used in access logs ("D" for direct)
func ExchangeTypeCode(kind string) string {
	if kind == "" {
		kind = ExchangeDirect
	}
	return strings.ToUpper(kind[:1])
}

// Broker opens channels on a broker connection
type Broker interface {
	// Channel opens a new channel owned exclusively by the caller
	Channel(ctx context.Context) (Channel, error)

	// LocalAddr returns the local IP address of the broker connection
	LocalAddr() string

	// Close closes the connection and every channel opened on it
	Close() error
}

// Channel is a single broker channel. Publish is not safe for concurrent use;
// callers serialize writes themselves.
type Channel interface {
	// DeclareExchange declares an exchange of the given kind
	DeclareExchange(ctx context.Context, name, kind string) error

	// DeclareQueue declares a queue and returns its name; an empty name asks the broker to generate one
	DeclareQueue(ctx context.Context, name string, options QueueOptions) (string, error)

	// BindQueue binds queue to exchange with routingKey
	BindQueue(ctx context.Context, queue, exchange, routingKey string) error

	// Publish sends msg to exchange
	Publish(ctx context.Context, exchange string, msg Publishing) error

	// Consume subscribes handler to queue. Deliveries of one subscription are
	// handled one at a time.
	Consume(ctx context.Context, queue string, options ConsumeOptions, handler DeliveryHandler) (Subscription, error)

	// Ack acknowledges a delivery
	Ack(tag uint64) error

	// Reject rejects a delivery, optionally requeueing it
	Reject(tag uint64, requeue bool) error

	// NotifyReturn registers handler for mandatory messages the broker could not route
	NotifyReturn(handler ReturnHandler)

	// NotifyClose registers handler to run once when the channel closes. The
	// error is nil when the owner closed the channel.
	NotifyClose(handler CloseHandler)

	// IsClosed reports whether the channel has been closed
	IsClosed() bool

	// Close closes the channel
	Close() error
}

// Subscription is an active consumer on a queue
type Subscription interface {
	// Tag returns the consumer tag
	Tag() string

	// Cancel stops the subscription; it is safe to call more than once
	Cancel() error
}

// DeliveryHandler processes one delivery
type DeliveryHandler func(delivery Delivery)

// ReturnHandler receives messages returned as unroutable
type ReturnHandler func(ret Return)

// CloseHandler is notified when a channel closes
type CloseHandler func(err error)

// QueueOptions defines options for queue declaration
type QueueOptions struct {
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Args       map[string]interface{}
}

// ConsumeOptions defines options for a subscription
type ConsumeOptions struct {
	ConsumerTag string
	AutoAck     bool
	Exclusive   bool
	Prefetch    int
}

// Publishing is a message handed to the broker
type Publishing struct {
	RoutingKey    string
	ReplyTo       string
	CorrelationID string
	Type          string
	AppID         string
	ContentType   string
	Headers       map[string]interface{}
	Priority      uint8
	Expiration    time.Duration
	Mandatory     bool
	Body          []byte
}

// Delivery is a message received from a queue
type Delivery struct {
	Tag           uint64
	ConsumerTag   string
	Exchange      string
	RoutingKey    string
	CorrelationID string
	ReplyTo       string
	Type          string
	AppID         string
	Headers       map[string]interface{}
	Redelivered   bool
	Body          []byte
}

// Return is a mandatory message the broker could not route
type Return struct {
	ReplyCode     int
	ReplyText     string
	Exchange      string
	RoutingKey    string
	CorrelationID string
	ReplyTo       string
	Body          []byte
}
