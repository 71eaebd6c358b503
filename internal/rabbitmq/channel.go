package rabbitmq

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/glimte/fleck-go/messaging"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPChannel is the subset of *amqp.Channel used by Channel
type AMQPChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Ack(tag uint64, multiple bool) error
	Reject(tag uint64, requeue bool) error
	NotifyReturn(c chan amqp.Return) chan amqp.Return
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// Channel implements messaging.Channel over one AMQP channel
type Channel struct {
	ch     AMQPChannel
	id     string
	logger *slog.Logger

	mu  sync.Mutex
	qos int
}

// NewChannel wraps ch
func NewChannel(ch AMQPChannel, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	return &Channel{
		ch:     ch,
		id:     id,
		logger: logger.With("component", "rabbitmq-channel", "channel", id),
	}
}

// DeclareExchange declares a non durable exchange. The default exchange is
// never declared.
func (c *Channel) DeclareExchange(ctx context.Context, name, kind string) error {
	if name == "" {
		return nil
	}

	if err := c.ch.ExchangeDeclare(name, kind, false, false, false, false, nil); err != nil {
		return &TopologyError{
			Component: "exchange",
			Name:      name,
			Op:        "declare",
			Err:       closedError(err),
			Timestamp: time.Now(),
		}
	}
	return nil
}

// DeclareQueue declares a queue and returns its name
func (c *Channel) DeclareQueue(ctx context.Context, name string, options messaging.QueueOptions) (string, error) {
	q, err := c.ch.QueueDeclare(name, options.Durable, options.AutoDelete, options.Exclusive, false, ToTable(options.Args))
	if err != nil {
		return "", &TopologyError{
			Component: "queue",
			Name:      name,
			Op:        "declare",
			Err:       closedError(err),
			Timestamp: time.Now(),
		}
	}
	return q.Name, nil
}

// BindQueue binds queue to exchange
func (c *Channel) BindQueue(ctx context.Context, queue, exchange, routingKey string) error {
	if err := c.ch.QueueBind(queue, routingKey, exchange, false, nil); err != nil {
		return &TopologyError{
			Component: "binding",
			Name:      queue + "->" + exchange,
			Op:        "declare",
			Err:       closedError(err),
			Timestamp: time.Now(),
		}
	}
	return nil
}

// Publish sends msg to exchange
func (c *Channel) Publish(ctx context.Context, exchange string, msg messaging.Publishing) error {
	publishing := amqp.Publishing{
		Headers:       ToTable(msg.Headers),
		ContentType:   msg.ContentType,
		CorrelationId: msg.CorrelationID,
		ReplyTo:       msg.ReplyTo,
		Type:          msg.Type,
		AppId:         msg.AppID,
		Priority:      msg.Priority,
		Timestamp:     time.Now(),
		Body:          msg.Body,
	}
	if msg.Expiration > 0 {
		publishing.Expiration = strconv.FormatInt(msg.Expiration.Milliseconds(), 10)
	}

	if err := c.ch.PublishWithContext(ctx, exchange, msg.RoutingKey, msg.Mandatory, false, publishing); err != nil {
		return &PublishError{
			Exchange:   exchange,
			RoutingKey: msg.RoutingKey,
			Mandatory:  msg.Mandatory,
			Err:        closedError(err),
			Timestamp:  time.Now(),
		}
	}
	return nil
}

// Consume subscribes handler to queue. Deliveries are handled one at a time
// on a dedicated goroutine until the subscription is cancelled or the
// channel closes.
func (c *Channel) Consume(ctx context.Context, queue string, options messaging.ConsumeOptions, handler messaging.DeliveryHandler) (messaging.Subscription, error) {
	if !options.AutoAck && options.Prefetch > 0 {
		c.mu.Lock()
		err := c.setQos(options.Prefetch)
		c.mu.Unlock()
		if err != nil {
			return nil, &ConsumerError{Queue: queue, Op: "qos", Err: closedError(err), Timestamp: time.Now()}
		}
	}

	tag := options.ConsumerTag
	if tag == "" {
		tag = "ctag-" + uuid.New().String()
	}

	deliveries, err := c.ch.Consume(queue, tag, options.AutoAck, options.Exclusive, false, false, nil)
	if err != nil {
		return nil, &ConsumerError{
			Queue:       queue,
			ConsumerTag: tag,
			Op:          "consume",
			Err:         closedError(err),
			Timestamp:   time.Now(),
		}
	}

	sub := &subscription{channel: c, queue: queue, tag: tag, done: make(chan struct{})}
	go sub.run(deliveries, handler)
	return sub, nil
}

// setQos applies the prefetch window once per value. Caller holds c.mu.
func (c *Channel) setQos(prefetch int) error {
	if c.qos == prefetch {
		return nil
	}
	if err := c.ch.Qos(prefetch, 0, false); err != nil {
		return err
	}
	c.qos = prefetch
	return nil
}

// Ack acknowledges a delivery
func (c *Channel) Ack(tag uint64) error {
	return closedError(c.ch.Ack(tag, false))
}

// Reject rejects a delivery
func (c *Channel) Reject(tag uint64, requeue bool) error {
	return closedError(c.ch.Reject(tag, requeue))
}

// NotifyReturn forwards returned messages to handler
func (c *Channel) NotifyReturn(handler messaging.ReturnHandler) {
	returns := c.ch.NotifyReturn(make(chan amqp.Return, 16))
	go func() {
		for r := range returns {
			handler(messaging.Return{
				ReplyCode:     int(r.ReplyCode),
				ReplyText:     r.ReplyText,
				Exchange:      r.Exchange,
				RoutingKey:    r.RoutingKey,
				CorrelationID: r.CorrelationId,
				ReplyTo:       r.ReplyTo,
				Body:          r.Body,
			})
		}
	}()
}

// NotifyClose runs handler once the channel closes. The broker reason is
// wrapped in a ChannelError; a close requested by the owner reports nil.
func (c *Channel) NotifyClose(handler messaging.CloseHandler) {
	closes := c.ch.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		amqpErr, ok := <-closes
		if !ok || amqpErr == nil {
			handler(nil)
			return
		}
		handler(&ChannelError{
			Op:        "close",
			ChannelID: c.id,
			Err:       closedError(amqpErr),
			Timestamp: time.Now(),
		})
	}()
}

// IsClosed reports whether the channel closed
func (c *Channel) IsClosed() bool {
	return c.ch.IsClosed()
}

// Close closes the channel
func (c *Channel) Close() error {
	if c.ch.IsClosed() {
		return nil
	}
	return closedError(c.ch.Close())
}

type subscription struct {
	channel *Channel
	queue   string
	tag     string

	once sync.Once
	done chan struct{}
}

func (s *subscription) run(deliveries <-chan amqp.Delivery, handler messaging.DeliveryHandler) {
	defer close(s.done)
	for d := range deliveries {
		handler(FromDelivery(d))
	}
	s.channel.logger.Debug("subscription ended", "queue", s.queue, "consumer_tag", s.tag)
}

// Tag returns the consumer tag
func (s *subscription) Tag() string {
	return s.tag
}

// Cancel stops the subscription
func (s *subscription) Cancel() error {
	var err error
	s.once.Do(func() {
		if s.channel.ch.IsClosed() {
			return
		}
		if cerr := s.channel.ch.Cancel(s.tag, false); cerr != nil {
			err = &ConsumerError{
				Queue:       s.queue,
				ConsumerTag: s.tag,
				Op:          "cancel",
				Err:         closedError(cerr),
				Timestamp:   time.Now(),
			}
		}
	})
	return err
}

// FromDelivery converts an AMQP delivery
func FromDelivery(d amqp.Delivery) messaging.Delivery {
	return messaging.Delivery{
		Tag:           d.DeliveryTag,
		ConsumerTag:   d.ConsumerTag,
		Exchange:      d.Exchange,
		RoutingKey:    d.RoutingKey,
		CorrelationID: d.CorrelationId,
		ReplyTo:       d.ReplyTo,
		Type:          d.Type,
		AppID:         d.AppId,
		Headers:       FromTable(d.Headers),
		Redelivered:   d.Redelivered,
		Body:          d.Body,
	}
}
