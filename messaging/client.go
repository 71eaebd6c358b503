package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glimte/fleck-go/codec"
	"github.com/glimte/fleck-go/contracts"
	"github.com/glimte/fleck-go/metrics"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// DefaultMultipleResponsesTimeout is the request timeout applied when a client
// collects multiple responses and no timeout was given
const DefaultMultipleResponsesTimeout = 60 * time.Second

// ErrClientTerminated is the failure reason of requests overtaken by Terminate
var ErrClientTerminated = errors.New("fleck: client is terminated")

// ClientOption configures a Client
type ClientOption func(*clientConfig)

type clientConfig struct {
	exchangeType      string
	exchangeName      string
	multipleResponses bool
	concurrency       int
	defaultTimeout    time.Duration
	timeoutSet        bool
	appID             string
	mandatory         bool
	logger            *slog.Logger
	metrics           *metrics.Collector
	codec             codec.Codec
	tracer            trace.Tracer
	limiter           *rate.Limiter
	breaker           *gobreaker.CircuitBreaker
}

// WithExchange publishes requests to the named exchange of the given kind
// instead of the default exchange
func WithExchange(kind, name string) ClientOption {
	return func(c *clientConfig) {
		c.exchangeType = kind
		c.exchangeName = name
	}
}

// WithMultipleResponses makes requests collect every reply until they are
// completed or expire. Requests default to async and to a 60s timeout.
func WithMultipleResponses(enabled bool) ClientOption {
	return func(c *clientConfig) {
		c.multipleResponses = enabled
	}
}

// WithConcurrency sets the number of reply subscription workers
func WithConcurrency(n int) ClientOption {
	return func(c *clientConfig) {
		c.concurrency = n
	}
}

// WithDefaultTimeout sets the timeout of requests that do not specify one
func WithDefaultTimeout(timeout time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.defaultTimeout = timeout
		c.timeoutSet = true
	}
}

// WithAppID sets the app id published with every request
func WithAppID(appID string) ClientOption {
	return func(c *clientConfig) {
		c.appID = appID
	}
}

// WithMandatory controls whether unroutable requests are returned by the broker
func WithMandatory(mandatory bool) ClientOption {
	return func(c *clientConfig) {
		c.mandatory = mandatory
	}
}

// WithLogger sets the client logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithMetrics records request statistics on collector
func WithMetrics(collector *metrics.Collector) ClientOption {
	return func(c *clientConfig) {
		c.metrics = collector
	}
}

// WithCodec sets the payload codec
func WithCodec(cd codec.Codec) ClientOption {
	return func(c *clientConfig) {
		c.codec = cd
	}
}

// WithTracer sets the tracer used for request spans
func WithTracer(tracer trace.Tracer) ClientOption {
	return func(c *clientConfig) {
		c.tracer = tracer
	}
}

// WithRateLimit limits the rate requests are published at
func WithRateLimit(limit rate.Limit, burst int) ClientOption {
	return func(c *clientConfig) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithCircuitBreaker guards publishing with a circuit breaker that opens after
// threshold consecutive publish failures and half-opens after reset
func WithCircuitBreaker(name string, threshold uint32, reset time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     reset,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger := c.logger
				if logger == nil {
					logger = slog.Default()
				}
				logger.Warn("Publish circuit breaker state changed",
					"breaker", name,
					"from", from.String(),
					"to", to.String())
			},
		})
	}
}

// Client issues requests to a queue and correlates the replies
type Client struct {
	broker     Broker
	queue      string
	replyQueue string
	localIP    string
	config     clientConfig

	registry *Registry
	logger   *slog.Logger
	metrics  *metrics.Collector
	codec    codec.Codec
	tracer   trace.Tracer

	replyChannel   Channel
	publishChannel Channel
	publishMu      sync.Mutex
	subscriptions  []Subscription

	terminated  atomic.Bool
	onTerminate []func()
	mu          sync.Mutex
}

// NewClient creates a client publishing to queue. It declares a private reply
// queue bound to the reply exchange and starts the reply workers.
func NewClient(ctx context.Context, broker Broker, queue string, opts ...ClientOption) (*Client, error) {
	if broker == nil {
		return nil, fmt.Errorf("broker cannot be nil")
	}

	config := clientConfig{
		exchangeType: ExchangeDirect,
		concurrency:  1,
		mandatory:    true,
	}
	for _, opt := range opts {
		opt(&config)
	}

	if config.concurrency < 1 {
		config.concurrency = 1
	}
	if !config.timeoutSet && config.multipleResponses {
		config.defaultTimeout = DefaultMultipleResponsesTimeout
	}
	if config.logger == nil {
		config.logger = slog.Default()
	}
	if config.codec == nil {
		config.codec = codec.Default
	}
	if config.tracer == nil {
		config.tracer = otel.Tracer("github.com/glimte/fleck-go/messaging")
	}

	c := &Client{
		broker:   broker,
		queue:    queue,
		localIP:  broker.LocalAddr(),
		config:   config,
		registry: NewRegistry(),
		logger:   config.logger.With("component", "client", "queue", queue),
		metrics:  config.metrics,
		codec:    config.codec,
		tracer:   config.tracer,
	}

	if err := c.setup(ctx); err != nil {
		c.closeChannels()
		return nil, err
	}

	c.logger.Debug("Client initialized", "reply_queue", c.replyQueue, "concurrency", config.concurrency)
	return c, nil
}

func (c *Client) setup(ctx context.Context) error {
	var err error

	c.replyChannel, err = c.broker.Channel(ctx)
	if err != nil {
		return fmt.Errorf("failed to open reply channel: %w", err)
	}

	c.publishChannel, err = c.broker.Channel(ctx)
	if err != nil {
		return fmt.Errorf("failed to open publish channel: %w", err)
	}

	if err := c.replyChannel.DeclareExchange(ctx, ReplyExchange, ExchangeDirect); err != nil {
		return fmt.Errorf("failed to declare reply exchange: %w", err)
	}

	if c.config.exchangeName != "" {
		if err := c.publishChannel.DeclareExchange(ctx, c.config.exchangeName, c.config.exchangeType); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", c.config.exchangeName, err)
		}
	}

	c.replyQueue, err = c.replyChannel.DeclareQueue(ctx, "", QueueOptions{Exclusive: true, AutoDelete: true})
	if err != nil {
		return fmt.Errorf("failed to declare reply queue: %w", err)
	}

	if err := c.replyChannel.BindQueue(ctx, c.replyQueue, ReplyExchange, c.replyQueue); err != nil {
		return fmt.Errorf("failed to bind reply queue: %w", err)
	}

	c.publishChannel.NotifyReturn(c.handleReturn)
	c.replyChannel.NotifyClose(c.handleClose)
	c.publishChannel.NotifyClose(c.handleClose)

	for i := 0; i < c.config.concurrency; i++ {
		sub, err := c.replyChannel.Consume(ctx, c.replyQueue, ConsumeOptions{AutoAck: true}, c.handleReply)
		if err != nil {
			return fmt.Errorf("failed to subscribe to reply queue: %w", err)
		}
		c.subscriptions = append(c.subscriptions, sub)
	}

	return nil
}

// Queue returns the default target queue
func (c *Client) Queue() string {
	return c.queue
}

// ReplyQueue returns the name of the private reply queue
func (c *Client) ReplyQueue() string {
	return c.replyQueue
}

// LocalIP returns the address sent in the ip header
func (c *Client) LocalIP() string {
	return c.localIP
}

// Pending returns the number of requests waiting for replies
func (c *Client) Pending() int {
	return c.registry.Len()
}

// Terminated reports whether Terminate was called
func (c *Client) Terminated() bool {
	return c.terminated.Load()
}

// OnTerminate registers fn to run once the client terminates
func (c *Client) OnTerminate(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTerminate = append(c.onTerminate, fn)
}

// Request sends action and returns its response. Sync requests block until the
// reply arrives, the timeout passes or ctx is cancelled; async requests return
// nil and deliver the response to the callback. A terminated client answers
// 503 right away, to the callback as well.
func (c *Client) Request(ctx context.Context, action string, opts ...RequestOption) *Response {
	cfg := c.requestConfig(opts)
	req := c.send(ctx, action, cfg)
	if cfg.async {
		return nil
	}

	select {
	case <-req.Done():
	case <-ctx.Done():
		c.abandon(req)
		<-req.Done()
	}

	return req.Response()
}

// Go sends action asynchronously and returns the in-flight request
func (c *Client) Go(ctx context.Context, action string, opts ...RequestOption) *Request {
	cfg := c.requestConfig(opts)
	cfg.async = true
	return c.send(ctx, action, cfg)
}

func (c *Client) requestConfig(opts []RequestOption) requestConfig {
	cfg := requestConfig{
		async:   c.config.multipleResponses,
		timeout: c.config.defaultTimeout,
		queue:   c.queue,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (c *Client) newRequest(action string, cfg requestConfig) *Request {
	id := uuid.New().String()
	return &Request{
		id:       id,
		queue:    cfg.queue,
		replyTo:  c.replyQueue,
		action:   action,
		version:  cfg.version,
		envelope: contracts.NewRequestEnvelope(action, cfg.version, c.localIP, cfg.headers, cfg.params),
		timeout:  cfg.timeout,
		multiple: c.config.multipleResponses,
		priority: cfg.priority,
		callback: cfg.callback,
		client:   c,
		logger:   c.logger.With("request_id", id, "action", action),
		done:     make(chan struct{}),
	}
}

func (c *Client) send(ctx context.Context, action string, cfg requestConfig) *Request {
	req := c.newRequest(action, cfg)

	if c.terminated.Load() {
		response := ServiceUnavailable(req.id)
		req.mu.Lock()
		req.response = response
		req.markCompleted()
		req.mu.Unlock()
		req.invoke(response)
		req.doneOnce.Do(func() { close(req.done) })
		return req
	}

	ctx, req.span = c.tracer.Start(ctx, "fleck.request "+action,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("fleck.queue", cfg.queue),
			attribute.String("fleck.action", action),
			attribute.String("fleck.request_id", req.id),
		))

	c.metrics.RequestSent(cfg.queue)

	if err := c.registry.Add(req); err != nil {
		c.logger.Error("Failed to register request", "request_id", req.id, "error", err)
		req.cancel(ServiceUnavailable(req.id), false)
		return req
	}

	// Terminate may have drained the registry between the check and Add
	if c.terminated.Load() {
		c.fail(req, ErrClientTerminated)
		return req
	}

	req.mu.Lock()
	req.markSent(func() { c.expire(req) })
	req.mu.Unlock()

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() { c.abandon(req) })
		req.mu.Lock()
		if req.state == RequestCompleted {
			stop()
		} else {
			req.stopCtx = stop
		}
		req.mu.Unlock()
	}

	if err := c.publish(ctx, req, cfg); err != nil {
		c.fail(req, err)
	}

	return req
}

func (c *Client) publish(ctx context.Context, req *Request, cfg requestConfig) error {
	if c.config.limiter != nil {
		if err := c.config.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	body, err := c.codec.Encode(req.envelope)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	headers := make(map[string]interface{})
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers[k] = v
	}

	expiration := cfg.expiration
	if expiration == 0 {
		expiration = cfg.timeout
	}

	msg := Publishing{
		RoutingKey:    cfg.queue,
		ReplyTo:       c.replyQueue,
		CorrelationID: req.id,
		Type:          req.action,
		AppID:         c.config.appID,
		ContentType:   c.codec.ContentType(),
		Headers:       headers,
		Priority:      cfg.priority,
		Expiration:    expiration,
		Mandatory:     c.config.mandatory,
		Body:          body,
	}

	req.logger.Debug("Sending request", "payload", string(body))

	publish := func() (interface{}, error) {
		c.publishMu.Lock()
		defer c.publishMu.Unlock()
		return nil, c.publishChannel.Publish(ctx, c.config.exchangeName, msg)
	}

	if c.config.breaker != nil {
		_, err = c.config.breaker.Execute(publish)
	} else {
		_, err = publish()
	}
	return err
}

// fail cancels a request whose publish did not happen
func (c *Client) fail(req *Request, err error) {
	if c.registry.Remove(req.id) == nil {
		return
	}
	req.logger.Warn("Request failed", "error", err)
	if req.span != nil {
		req.span.RecordError(err)
	}
	req.cancel(ServiceUnavailable(req.id), false)
}

func (c *Client) expire(req *Request) {
	if c.registry.Remove(req.id) == nil {
		return
	}

	if req.Responses() == 0 {
		req.logger.Warn("Request expired", "queue", req.queue, "timeout", req.timeout)
		c.metrics.RequestExpired(req.queue)
	}
	req.cancel(ServiceUnavailable(req.id), true)
}

func (c *Client) abandon(req *Request) {
	if c.registry.Remove(req.id) == nil {
		return
	}
	req.logger.Warn("Request canceled", "reason", "context done")
	req.cancel(ServiceUnavailable(req.id), false)
}

func (c *Client) handleReply(delivery Delivery) {
	response := ParseResponse(delivery.CorrelationID, delivery.Body, c.codec)
	c.logger.Debug("Response received", "request_id", delivery.CorrelationID, "status", response.Status)

	var req *Request
	if c.config.multipleResponses {
		req = c.registry.Get(delivery.CorrelationID)
	} else {
		req = c.registry.Remove(delivery.CorrelationID)
	}

	if req == nil {
		c.logger.Warn("Request not found", "request_id", delivery.CorrelationID)
		return
	}

	req.deliver(response)
}

func (c *Client) handleReturn(ret Return) {
	c.logger.Warn("Request returned",
		"request_id", ret.CorrelationID,
		"routing_key", ret.RoutingKey,
		"reply_code", ret.ReplyCode,
		"reply_text", ret.ReplyText)

	req := c.registry.Remove(ret.CorrelationID)
	if req == nil {
		return
	}

	c.metrics.RequestReturned(req.queue)
	req.cancel(ServiceUnavailable(req.id), false)
}

// handleClose terminates the client when the broker closes one of its
// channels, so pending requests complete with 503 instead of waiting
func (c *Client) handleClose(err error) {
	if err == nil || c.terminated.Load() {
		return
	}

	c.logger.Error("Client channel closed by broker", "error", err)
	c.Terminate()
}

// Terminate cancels the reply subscriptions, completes every pending request
// with 503 and closes the client channels. Calling it again has no effect.
func (c *Client) Terminate() {
	if !c.terminated.CompareAndSwap(false, true) {
		return
	}

	c.logger.Info("Unsubscribing from reply queue", "reply_queue", c.replyQueue)
	for _, sub := range c.subscriptions {
		if err := sub.Cancel(); err != nil {
			c.logger.Warn("Failed to cancel reply subscription", "error", err)
		}
	}

	pending := c.registry.Drain()
	c.logger.Info("Canceling pending requests", "count", len(pending))
	for _, req := range pending {
		req.cancel(ServiceUnavailable(req.id), false)
	}

	c.closeChannels()

	c.mu.Lock()
	hooks := c.onTerminate
	c.onTerminate = nil
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (c *Client) closeChannels() {
	for _, ch := range []Channel{c.replyChannel, c.publishChannel} {
		if ch == nil || ch.IsClosed() {
			continue
		}
		if err := ch.Close(); err != nil {
			c.logger.Debug("Failed to close channel", "error", err)
		}
	}
}
