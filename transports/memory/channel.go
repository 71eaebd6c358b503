package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/glimte/fleck-go/messaging"
	"github.com/google/uuid"
)

// Channel is a channel on the in-process broker
type Channel struct {
	broker *Broker

	// guarded by broker.mu
	closed        bool
	nextTag       uint64
	unacked       map[uint64]*unacked
	subscriptions []*subscription
	returns       []messaging.ReturnHandler
	closers       []messaging.CloseHandler
}

type unacked struct {
	msg   *message
	queue *queue
	sub   *subscription
}

type subscription struct {
	channel   *Channel
	queue     *queue
	tag       string
	options   messaging.ConsumeOptions
	handler   messaging.DeliveryHandler
	inflight  int
	cancelled bool
}

// DeclareExchange declares an exchange; redeclaring with another kind fails
func (c *Channel) DeclareExchange(ctx context.Context, name, kind string) error {
	if name == "" {
		return nil
	}

	switch kind {
	case messaging.ExchangeDirect, messaging.ExchangeFanout, messaging.ExchangeTopic:
	default:
		return fmt.Errorf("memory: unsupported exchange kind %q", kind)
	}

	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		return messaging.ErrChannelClosed
	}

	if ex, ok := b.exchanges[name]; ok {
		if ex.kind != kind {
			return fmt.Errorf("memory: exchange %q already declared as %s", name, ex.kind)
		}
		return nil
	}

	b.exchanges[name] = &exchange{name: name, kind: kind}
	return nil
}

// DeclareQueue declares a queue; an empty name generates one
func (c *Channel) DeclareQueue(ctx context.Context, name string, options messaging.QueueOptions) (string, error) {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		return "", messaging.ErrChannelClosed
	}

	if name == "" {
		name = "amq.gen-" + uuid.New().String()
	}

	if q, ok := b.queues[name]; ok {
		if q.options.Exclusive && q.owner != c {
			return "", fmt.Errorf("queue %q: %w", name, ErrResourceLocked)
		}
		return name, nil
	}

	q := &queue{
		name:      name,
		options:   options,
		consumers: make(map[*subscription]struct{}),
	}
	if options.Exclusive {
		q.owner = c
	}
	b.queues[name] = q
	return name, nil
}

// BindQueue binds a queue to an exchange
func (c *Channel) BindQueue(ctx context.Context, queueName, exchangeName, routingKey string) error {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		return messaging.ErrChannelClosed
	}

	ex, ok := b.exchanges[exchangeName]
	if !ok {
		return fmt.Errorf("exchange %q: %w", exchangeName, ErrNotFound)
	}
	if _, ok := b.queues[queueName]; !ok {
		return fmt.Errorf("queue %q: %w", queueName, ErrNotFound)
	}

	for _, bind := range ex.bindings {
		if bind.queue == queueName && bind.key == routingKey {
			return nil
		}
	}
	ex.bindings = append(ex.bindings, binding{queue: queueName, key: routingKey})
	return nil
}

// Publish routes msg. Unroutable mandatory messages are handed to the
// return handlers of this channel asynchronously.
func (c *Channel) Publish(ctx context.Context, exchangeName string, msg messaging.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b := c.broker
	b.mu.Lock()

	if c.closed {
		b.mu.Unlock()
		return messaging.ErrChannelClosed
	}

	targets, err := b.route(exchangeName, msg.RoutingKey)
	if err != nil {
		b.mu.Unlock()
		return err
	}

	now := time.Now()
	for _, q := range targets {
		q.messages = append(q.messages, &message{
			exchange:   exchangeName,
			publishing: msg,
			enqueuedAt: now,
		})
	}
	if len(targets) > 0 {
		b.cond.Broadcast()
	}

	var handlers []messaging.ReturnHandler
	if len(targets) == 0 && msg.Mandatory {
		handlers = append(handlers, c.returns...)
	}
	b.mu.Unlock()

	if len(handlers) > 0 {
		ret := messaging.Return{
			ReplyCode:     ReplyCodeNoRoute,
			ReplyText:     ReplyTextNoRoute,
			Exchange:      exchangeName,
			RoutingKey:    msg.RoutingKey,
			CorrelationID: msg.CorrelationID,
			ReplyTo:       msg.ReplyTo,
			Body:          msg.Body,
		}
		go func() {
			for _, h := range handlers {
				h(ret)
			}
		}()
	} else if len(targets) == 0 {
		b.logger.Debug("Message dropped, no route", "exchange", exchangeName, "routing_key", msg.RoutingKey)
	}

	return nil
}

// Consume starts a subscription handling deliveries one at a time
func (c *Channel) Consume(ctx context.Context, queueName string, options messaging.ConsumeOptions, handler messaging.DeliveryHandler) (messaging.Subscription, error) {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		return nil, messaging.ErrChannelClosed
	}

	q, ok := b.queues[queueName]
	if !ok {
		return nil, fmt.Errorf("queue %q: %w", queueName, ErrNotFound)
	}
	if q.options.Exclusive && q.owner != c {
		return nil, fmt.Errorf("queue %q: %w", queueName, ErrResourceLocked)
	}

	if options.ConsumerTag == "" {
		options.ConsumerTag = "ctag-" + uuid.New().String()
	}

	sub := &subscription{
		channel: c,
		queue:   q,
		tag:     options.ConsumerTag,
		options: options,
		handler: handler,
	}
	q.consumers[sub] = struct{}{}
	c.subscriptions = append(c.subscriptions, sub)

	go sub.run()
	return sub, nil
}

// Ack acknowledges a delivery
func (c *Channel) Ack(tag uint64) error {
	return c.settle(tag, false, false)
}

// Reject rejects a delivery, requeueing it at the head of its queue when requested
func (c *Channel) Reject(tag uint64, requeue bool) error {
	return c.settle(tag, true, requeue)
}

func (c *Channel) settle(tag uint64, reject, requeue bool) error {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		return messaging.ErrChannelClosed
	}

	u, ok := c.unacked[tag]
	if !ok {
		return fmt.Errorf("delivery tag %d: %w", tag, ErrNotFound)
	}
	delete(c.unacked, tag)
	u.sub.inflight--

	if reject && requeue && !u.queue.deleted {
		u.msg.redelivered = true
		u.queue.messages = append([]*message{u.msg}, u.queue.messages...)
	}

	b.cond.Broadcast()
	return nil
}

// NotifyReturn registers a handler for returned messages
func (c *Channel) NotifyReturn(handler messaging.ReturnHandler) {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	c.returns = append(c.returns, handler)
}

// NotifyClose registers a handler run once the channel closes. Handlers
// registered on a closed channel never run.
func (c *Channel) NotifyClose(handler messaging.CloseHandler) {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if !c.closed {
		c.closers = append(c.closers, handler)
	}
}

// IsClosed reports whether the channel was closed
func (c *Channel) IsClosed() bool {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	return c.closed
}

// Close cancels the subscriptions of the channel, requeues its unacked
// deliveries and deletes the exclusive queues it owns
func (c *Channel) Close() error {
	c.shutdown(nil)
	return nil
}

// shutdown closes the channel and notifies close handlers with reason
func (c *Channel) shutdown(reason error) {
	b := c.broker
	b.mu.Lock()

	if c.closed {
		b.mu.Unlock()
		return
	}
	c.closed = true
	closers := c.closers
	c.closers = nil
	delete(b.channels, c)

	for _, sub := range c.subscriptions {
		sub.cancelLocked()
	}

	for tag, u := range c.unacked {
		delete(c.unacked, tag)
		if !u.queue.deleted {
			u.msg.redelivered = true
			u.queue.messages = append([]*message{u.msg}, u.queue.messages...)
		}
	}

	for _, q := range b.queues {
		if q.owner == c {
			b.deleteQueue(q)
		}
	}

	b.cond.Broadcast()
	b.mu.Unlock()

	for _, fn := range closers {
		fn(reason)
	}
}

// Tag returns the consumer tag
func (s *subscription) Tag() string {
	return s.tag
}

// Cancel stops the subscription
func (s *subscription) Cancel() error {
	b := s.channel.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	s.cancelLocked()
	return nil
}

// cancelLocked detaches the subscription. Caller holds broker.mu.
func (s *subscription) cancelLocked() {
	if s.cancelled {
		return
	}
	s.cancelled = true

	b := s.channel.broker
	delete(s.queue.consumers, s)
	if s.queue.options.AutoDelete && len(s.queue.consumers) == 0 && !s.queue.deleted {
		b.deleteQueue(s.queue)
	}
	b.cond.Broadcast()
}

func (s *subscription) run() {
	for {
		delivery, ok := s.next()
		if !ok {
			return
		}
		s.handler(delivery)
	}
}

// next blocks until a delivery is available within the prefetch window or the
// subscription is cancelled
func (s *subscription) next() (messaging.Delivery, bool) {
	b := s.channel.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		if s.cancelled || s.channel.closed {
			return messaging.Delivery{}, false
		}

		windowOpen := s.options.AutoAck || s.options.Prefetch <= 0 || s.inflight < s.options.Prefetch
		if windowOpen {
			if msg := s.queue.pop(time.Now()); msg != nil {
				return s.deliver(msg), true
			}
		}

		b.cond.Wait()
	}
}

// deliver builds the delivery for msg. Caller holds broker.mu.
func (s *subscription) deliver(msg *message) messaging.Delivery {
	c := s.channel
	c.nextTag++
	tag := c.nextTag

	if !s.options.AutoAck {
		c.unacked[tag] = &unacked{msg: msg, queue: s.queue, sub: s}
		s.inflight++
	}

	p := msg.publishing
	return messaging.Delivery{
		Tag:           tag,
		ConsumerTag:   s.tag,
		Exchange:      msg.exchange,
		RoutingKey:    p.RoutingKey,
		CorrelationID: p.CorrelationID,
		ReplyTo:       p.ReplyTo,
		Type:          p.Type,
		AppID:         p.AppID,
		Headers:       p.Headers,
		Redelivered:   msg.redelivered,
		Body:          p.Body,
	}
}

// pop removes the first live message, discarding expired ones. Caller holds broker.mu.
func (q *queue) pop(now time.Time) *message {
	for len(q.messages) > 0 {
		msg := q.messages[0]
		q.messages[0] = nil
		q.messages = q.messages[1:]
		if !msg.expired(now) {
			return msg
		}
	}
	return nil
}
