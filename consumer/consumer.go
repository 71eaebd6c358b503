package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/glimte/fleck-go/contracts"
	"github.com/glimte/fleck-go/internal/reliability"
	"github.com/glimte/fleck-go/messaging"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Consumer is one instance of a definition: it owns a broker channel, a
// subscription on the definition queue and dispatches every delivery to the
// registered actions
type Consumer struct {
	def    *Definition
	index  int
	broker messaging.Broker
	logger *slog.Logger
	tracer trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	channel      messaging.Channel
	queue        string
	subscription messaging.Subscription
	tag          string
	started      bool
	terminated   bool
	onTerminate  func(*Consumer)

	publishMu sync.Mutex
}

func newConsumer(broker messaging.Broker, def *Definition, index int) *Consumer {
	logger := def.logger.With("component", "consumer", "consumer", def.name)
	if def.config.Concurrency > 1 {
		logger = logger.With("instance", index)
	}

	tracer := def.tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/glimte/fleck-go/consumer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		def:    def,
		index:  index,
		broker: broker,
		logger: logger,
		tracer: tracer,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Index returns the position of the instance inside its group
func (c *Consumer) Index() int {
	return c.index
}

// Definition returns the definition the instance runs
func (c *Consumer) Definition() *Definition {
	return c.def
}

// Logger returns the instance logger
func (c *Consumer) Logger() *slog.Logger {
	return c.logger
}

// Queue returns the name of the queue the instance consumes from. For
// exchange bound consumers it is the generated private queue.
func (c *Consumer) Queue() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue
}

// Tag returns the consumer tag, kept across Pause and Resume
func (c *Consumer) Tag() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tag
}

// Running reports whether the instance has an active subscription
func (c *Consumer) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscription != nil
}

// Terminated reports whether Terminate was called
func (c *Consumer) Terminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}

// Start opens a channel, declares the topology and subscribes. Starting a
// running instance has no effect.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terminated {
		return ErrTerminated
	}
	if c.started {
		return nil
	}

	c.logger.Info("Launching consumer", "queue", c.def.config.Queue)
	if err := c.connect(ctx); err != nil {
		return err
	}
	c.started = true
	return nil
}

// connect creates the channel and subscription. Caller holds c.mu.
func (c *Consumer) connect(ctx context.Context) error {
	if c.channel != nil && !c.channel.IsClosed() {
		c.logger.Info("Closing the opened channel")
		_ = c.channel.Close()
	}

	c.logger.Debug("Creating a new channel")
	ch, err := c.broker.Channel(ctx)
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}

	queue, err := c.declare(ctx, ch)
	if err != nil {
		_ = ch.Close()
		return err
	}

	ch.NotifyClose(c.handleClose)
	c.channel = ch
	c.queue = queue

	return c.subscribe(ctx)
}

// declare sets up the reply exchange and the consumer queue. A consumer on
// the default exchange owns a named queue; a consumer on a named exchange
// binds a private queue using the configured queue name as routing key.
func (c *Consumer) declare(ctx context.Context, ch messaging.Channel) (string, error) {
	cfg := c.def.config

	if err := ch.DeclareExchange(ctx, messaging.ReplyExchange, messaging.ExchangeDirect); err != nil {
		return "", fmt.Errorf("failed to declare reply exchange: %w", err)
	}

	if cfg.ExchangeType == messaging.ExchangeDirect && cfg.ExchangeName == "" {
		queue, err := ch.DeclareQueue(ctx, cfg.Queue, messaging.QueueOptions{AutoDelete: false})
		if err != nil {
			return "", fmt.Errorf("failed to declare queue %s: %w", cfg.Queue, err)
		}
		return queue, nil
	}

	if err := ch.DeclareExchange(ctx, cfg.ExchangeName, cfg.ExchangeType); err != nil {
		return "", fmt.Errorf("failed to declare exchange %s: %w", cfg.ExchangeName, err)
	}

	queue, err := ch.DeclareQueue(ctx, "", messaging.QueueOptions{Exclusive: true, AutoDelete: true})
	if err != nil {
		return "", fmt.Errorf("failed to declare private queue: %w", err)
	}

	if err := ch.BindQueue(ctx, queue, cfg.ExchangeName, cfg.Queue); err != nil {
		return "", fmt.Errorf("failed to bind queue to %s: %w", cfg.ExchangeName, err)
	}
	return queue, nil
}

// subscribe consumes from the instance queue. Caller holds c.mu.
func (c *Consumer) subscribe(ctx context.Context) error {
	if c.tag == "" {
		c.tag = c.def.config.Queue + "." + ulid.Make().String()
	}

	c.logger.Debug("Consuming from queue", "queue", c.queue, "consumer_tag", c.tag)
	sub, err := c.channel.Consume(ctx, c.queue, messaging.ConsumeOptions{
		ConsumerTag: c.tag,
		Prefetch:    c.def.config.Prefetch,
	}, c.processDelivery)
	if err != nil {
		return fmt.Errorf("failed to consume from %s: %w", c.queue, err)
	}

	c.subscription = sub
	return nil
}

// Pause cancels the subscription. The channel stays open and the consumer
// tag is kept for Resume.
func (c *Consumer) Pause() error {
	c.mu.Lock()
	sub, ch := c.subscription, c.channel
	c.subscription = nil
	c.mu.Unlock()

	if sub == nil || ch == nil || ch.IsClosed() {
		return nil
	}

	if err := sub.Cancel(); err != nil {
		return fmt.Errorf("failed to cancel subscription %s: %w", sub.Tag(), err)
	}
	c.logger.Debug("Consumer paused", "consumer_tag", sub.Tag())
	return nil
}

// Resume subscribes again with the same consumer tag
func (c *Consumer) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terminated {
		return ErrTerminated
	}
	if c.subscription != nil {
		return nil
	}
	if c.channel == nil || c.channel.IsClosed() {
		return messaging.ErrChannelClosed
	}
	return c.subscribe(ctx)
}

// Terminate pauses the instance, closes its channel and notifies the group.
// It may be called from a handler; the current delivery is then requeued by
// the broker and its response dropped.
func (c *Consumer) Terminate() {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return
	}
	c.terminated = true
	c.mu.Unlock()

	c.cancel()

	if err := c.Pause(); err != nil {
		c.logger.Warn("Failed to pause consumer", "error", err)
	}

	c.mu.Lock()
	ch := c.channel
	notify := c.onTerminate
	c.mu.Unlock()

	if ch != nil && !ch.IsClosed() {
		if err := ch.Close(); err != nil {
			c.logger.Warn("Failed to close consumer channel", "error", err)
		}
		c.logger.Info("Consumer successfully terminated")
	}

	if notify != nil {
		notify(c)
	}
}

// handleClose restarts the instance when the broker closed its channel
func (c *Consumer) handleClose(err error) {
	if err == nil {
		return
	}

	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return
	}
	c.subscription = nil
	c.mu.Unlock()

	c.logger.Warn("Consumer channel closed by broker", "error", err)
	go c.restart()
}

func (c *Consumer) restart() {
	err := reliability.RetryNotify(c.ctx, c.def.restart, func() error {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.terminated {
			return reliability.Permanent(ErrTerminated)
		}
		if c.subscription != nil {
			return nil
		}

		err := c.connect(c.ctx)
		if errors.Is(err, messaging.ErrBrokerClosed) {
			return reliability.Permanent(err)
		}
		return err
	}, func(attempt int, err error, delay time.Duration) {
		c.logger.Warn("Failed to restart consumer", "attempt", attempt+1, "error", err, "retry_in", delay)
	})

	switch {
	case err == nil:
		c.logger.Info("Consumer restarted", "queue", c.Queue())
	case errors.Is(err, ErrTerminated), errors.Is(err, context.Canceled):
	default:
		c.logger.Error("Giving up consumer restart", "error", err)
		c.Terminate()
	}
}

func (c *Consumer) currentChannel() messaging.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// processDelivery runs one delivery through parse, dispatch, reply and access log
func (c *Consumer) processDelivery(delivery messaging.Delivery) {
	ctx, span := c.startSpan(delivery)
	defer span.End()

	req := newRequest(delivery, c.def.codec, c.logger)
	if !req.failed {
		req.logHeadersAndParams(c.logger)
		c.execute(ctx, req)
	}

	closed := c.sendResponse(ctx, req)
	req.processed()

	status := effectiveStatus(req, closed)
	c.logRequest(req, status)
	c.def.metrics.Dispatched(c.def.config.Queue, req.action, status, req.processedAt.Sub(req.createdAt))

	span.SetAttributes(
		attribute.String("fleck.action", req.action),
		attribute.Int("fleck.status", status),
	)
	if status >= contracts.StatusInternalServerError {
		span.SetStatus(codes.Error, contracts.StatusText(status))
	}
}

func (c *Consumer) startSpan(delivery messaging.Delivery) (context.Context, trace.Span) {
	carrier := propagation.MapCarrier{}
	for k, v := range delivery.Headers {
		if s, ok := v.(string); ok {
			carrier[k] = s
		}
	}
	ctx := otel.GetTextMapPropagator().Extract(c.ctx, carrier)

	return c.tracer.Start(ctx, "fleck.consume "+c.def.config.Queue,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("fleck.queue", c.def.config.Queue),
			attribute.String("fleck.request_id", delivery.CorrelationID),
		))
}

// execute resolves and runs the action. Handler panics and errors other
// than *Halt become 500 responses.
func (c *Consumer) execute(ctx context.Context, req *Request) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Action panicked", "id", req.id, "action", req.action, "panic", r, "stack", string(debug.Stack()))
			_ = req.response.RenderError(contracts.StatusInternalServerError,
				contracts.StatusText(contracts.StatusInternalServerError), fmt.Sprint(r))
		}
	}()

	action, ok := c.def.Lookup(req.action)
	if !ok {
		_ = req.response.RenderError(contracts.StatusNotFound, contracts.StatusText(contracts.StatusNotFound))
		req.response.Body = []contracts.Issue{{
			Type:  contracts.IssueAction,
			Name:  req.action,
			Error: contracts.ErrNotFound,
		}}
		return
	}

	params, issues := action.validate(req.params)
	if len(issues) > 0 {
		messages := []string{contracts.StatusText(contracts.StatusBadRequest)}
		for _, issue := range issues {
			messages = append(messages, issue.Message)
		}
		_ = req.response.RenderError(contracts.StatusBadRequest, messages...)
		req.response.Body = issues
		return
	}
	req.params = params

	err := action.Handler(newContext(ctx, c, req))
	if err == nil || IsHalt(err) {
		return
	}

	c.logger.Error("Action failed", "id", req.id, "action", req.action, "error", err)
	_ = req.response.RenderError(contracts.StatusInternalServerError,
		contracts.StatusText(contracts.StatusInternalServerError), err.Error())
}

// sendResponse rejects or answers the request and acknowledges the
// delivery. It reports whether the reply was dropped on a closed channel.
func (c *Consumer) sendResponse(ctx context.Context, req *Request) bool {
	ch := c.currentChannel()
	if ch == nil || ch.IsClosed() {
		c.logger.Warn("Channel already closed! The response is going to be dropped", "id", req.id)
		c.def.metrics.ReplyDropped(c.def.config.Queue)
		return true
	}

	if req.rejected || req.response.rejected {
		if err := ch.Reject(req.deliveryTag, req.requeue || req.response.requeue); err != nil {
			c.logger.Warn("Failed to reject request", "id", req.id, "error", err)
		}
		return false
	}

	c.logger.Debug("Sending response", "response", req.response.String())

	if req.replyTo != "" {
		payload := req.response.encode(c.def.codec, c.logger)

		c.publishMu.Lock()
		err := ch.Publish(ctx, messaging.ReplyExchange, messaging.Publishing{
			RoutingKey:    req.replyTo,
			CorrelationID: req.id,
			ContentType:   c.def.codec.ContentType(),
			Mandatory:     c.def.config.Mandatory,
			Body:          payload,
		})
		c.publishMu.Unlock()

		if err != nil {
			c.def.metrics.ReplyDropped(c.def.config.Queue)
			if errors.Is(err, messaging.ErrChannelClosed) {
				c.logger.Warn("Channel already closed! The response is going to be dropped", "id", req.id)
				return true
			}
			c.logger.Warn("Failed to publish response", "id", req.id, "error", err)
		}
	}

	if err := ch.Ack(req.deliveryTag); err != nil {
		c.logger.Warn("Failed to acknowledge request", "id", req.id, "error", err)
	}
	return false
}
