// Copyright 2024 Fleck Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fleck ties brokers, clients and consumers into one application.
//
//	app, err := fleck.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer app.Terminate()
//
//	def := app.Definition("calculator", consumer.WithQueue("calc"))
//	def.Action("incr", incr, consumer.Param("num", "number", consumer.Required()))
//	if _, err := app.Register(ctx, def); err != nil {
//		return err
//	}
//
//	client, err := app.NewClient(ctx, "calc")
//	resp := client.Request(ctx, "incr", messaging.WithParam("num", 5), messaging.WithTimeout(time.Second))
package fleck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/glimte/fleck-go/codec"
	"github.com/glimte/fleck-go/config"
	"github.com/glimte/fleck-go/consumer"
	"github.com/glimte/fleck-go/hostrating"
	irabbitmq "github.com/glimte/fleck-go/internal/rabbitmq"
	"github.com/glimte/fleck-go/messaging"
	"github.com/glimte/fleck-go/metrics"
	"github.com/glimte/fleck-go/transports/rabbitmq"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// ErrTerminated is returned by App methods after Terminate
var ErrTerminated = errors.New("fleck: application terminated")

// Option configures an App
type Option func(*appConfig)

type appConfig struct {
	config  *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
	codec   codec.Codec
	tracer  trace.Tracer
}

// WithConfig sets the configuration clients and definitions default to
func WithConfig(cfg *config.Config) Option {
	return func(c *appConfig) {
		c.config = cfg
	}
}

// WithLogger sets the logger handed to every component
func WithLogger(logger *slog.Logger) Option {
	return func(c *appConfig) {
		c.logger = logger
	}
}

// WithMetrics records client and consumer statistics on collector
func WithMetrics(collector *metrics.Collector) Option {
	return func(c *appConfig) {
		c.metrics = collector
	}
}

// WithCodec sets the payload codec
func WithCodec(cd codec.Codec) Option {
	return func(c *appConfig) {
		c.codec = cd
	}
}

// WithTracer sets the tracer for request and dispatch spans
func WithTracer(tracer trace.Tracer) Option {
	return func(c *appConfig) {
		c.tracer = tracer
	}
}

// App owns a broker connection and every client and consumer group created
// through it
type App struct {
	broker  messaging.Broker
	config  *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
	codec   codec.Codec
	tracer  trace.Tracer

	mu         sync.Mutex
	clients    []*messaging.Client
	groups     []*consumer.Group
	terminated bool
}

// New creates an application on broker
func New(broker messaging.Broker, opts ...Option) *App {
	cfg := &appConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.config == nil {
		cfg.config = config.Default()
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.codec == nil {
		cfg.codec = codec.Default
	}

	return &App{
		broker:  broker,
		config:  cfg.config,
		logger:  cfg.logger,
		metrics: cfg.metrics,
		codec:   cfg.codec,
		tracer:  cfg.tracer,
	}
}

// Connect connects to the RabbitMQ server described by cfg. With several
// hosts configured the reachable host with the lowest connect latency wins.
// Without a logger option the logger is built from cfg.Log.
func Connect(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	ac := &appConfig{}
	for _, opt := range opts {
		opt(ac)
	}
	logger := ac.logger
	if logger == nil {
		var err error
		if logger, err = config.NewLogger(cfg.Log, nil); err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	url, err := brokerURL(ctx, cfg.RabbitMQ, logger)
	if err != nil {
		return nil, err
	}

	broker, err := rabbitmq.NewBroker(ctx, url,
		rabbitmq.WithLogger(logger),
		rabbitmq.WithReconnect(cfg.RabbitMQ.ReconnectDelay, cfg.RabbitMQ.MaxRetries),
		rabbitmq.WithConnectionOptions(irabbitmq.WithDialTimeout(cfg.RabbitMQ.DialTimeout)),
	)
	if err != nil {
		return nil, err
	}

	return New(broker, append([]Option{WithConfig(cfg), WithLogger(logger)}, opts...)...), nil
}

// brokerURL picks the connection URL, ranking the configured hosts when
// there is a choice
func brokerURL(ctx context.Context, rc config.RabbitMQConfig, logger *slog.Logger) (string, error) {
	if rc.URL != "" || len(rc.Hosts) < 2 {
		if rc.URL == "" && len(rc.Hosts) == 1 {
			return rc.URLFor(rc.Hosts[0]), nil
		}
		return rc.AMQPURL(), nil
	}

	ranked, err := hostrating.Best(ctx, rc.Candidates(),
		hostrating.WithTimeout(rc.DialTimeout),
		hostrating.WithLogger(logger))
	if err != nil {
		return "", fmt.Errorf("failed to select a RabbitMQ host from %v: %w", rc.Candidates(), err)
	}

	logger.Info("Selected RabbitMQ host", "host", ranked[0], "candidates", len(ranked))
	return rc.URLFor(ranked[0]), nil
}

// Broker returns the application broker
func (a *App) Broker() messaging.Broker {
	return a.broker
}

// Config returns the application configuration
func (a *App) Config() *config.Config {
	return a.config
}

// Logger returns the application logger
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// NewClient creates a client for queue, or the configured client queue when
// empty. The client section of the configuration provides the defaults; opts
// override them.
func (a *App) NewClient(ctx context.Context, queue string, opts ...messaging.ClientOption) (*messaging.Client, error) {
	a.mu.Lock()
	terminated := a.terminated
	a.mu.Unlock()
	if terminated {
		return nil, ErrTerminated
	}

	cc := a.config.Client
	if queue == "" {
		queue = cc.Queue
	}

	base := []messaging.ClientOption{
		messaging.WithLogger(a.logger),
		messaging.WithCodec(a.codec),
		messaging.WithMetrics(a.metrics),
		messaging.WithMultipleResponses(cc.MultipleResponses),
		messaging.WithMandatory(cc.Mandatory),
	}
	if cc.ExchangeName != "" {
		kind := cc.ExchangeType
		if kind == "" {
			kind = messaging.ExchangeDirect
		}
		base = append(base, messaging.WithExchange(kind, cc.ExchangeName))
	}
	if a.tracer != nil {
		base = append(base, messaging.WithTracer(a.tracer))
	}
	if cc.Concurrency > 0 {
		base = append(base, messaging.WithConcurrency(cc.Concurrency))
	}
	if cc.Timeout > 0 {
		base = append(base, messaging.WithDefaultTimeout(cc.Timeout))
	}
	appID := cc.AppID
	if appID == "" {
		appID = a.config.AppName
	}
	base = append(base, messaging.WithAppID(appID))
	if cc.RateLimit > 0 {
		base = append(base, messaging.WithRateLimit(rate.Limit(cc.RateLimit), cc.RateBurst))
	}
	if cc.BreakerThreshold > 0 {
		base = append(base, messaging.WithCircuitBreaker("fleck-client-"+queue, cc.BreakerThreshold, cc.BreakerReset))
	}

	client, err := messaging.NewClient(ctx, a.broker, queue, append(base, opts...)...)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.terminated {
		client.Terminate()
		return nil, ErrTerminated
	}
	a.clients = append(a.clients, client)
	return client, nil
}

// Definition creates a consumer definition named name. The consumer section
// of the same name, if any, provides the broker settings; opts override them.
func (a *App) Definition(name string, opts ...consumer.DefinitionOption) *consumer.Definition {
	base := []consumer.DefinitionOption{
		consumer.WithLogger(a.logger),
		consumer.WithCodec(a.codec),
		consumer.WithMetrics(a.metrics),
	}
	if a.tracer != nil {
		base = append(base, consumer.WithTracer(a.tracer))
	}

	if cc, ok := a.config.Consumer(name); ok {
		base = append(base, consumer.WithQueue(cc.Queue), consumer.WithMandatory(cc.Mandatory))
		if cc.ExchangeType != "" || cc.ExchangeName != "" {
			base = append(base, consumer.WithExchange(cc.ExchangeType, cc.ExchangeName))
		}
		if cc.Concurrency > 0 {
			base = append(base, consumer.WithConcurrency(cc.Concurrency))
		}
		if cc.Prefetch > 0 {
			base = append(base, consumer.WithPrefetch(cc.Prefetch))
		}
		if cc.Autostart != nil {
			base = append(base, consumer.WithAutostart(*cc.Autostart))
		}
	}

	return consumer.NewDefinition(name, append(base, opts...)...)
}

// Register creates the consumer group of def. Definitions with configuration
// errors are refused before any traffic.
func (a *App) Register(ctx context.Context, def *consumer.Definition) (*consumer.Group, error) {
	a.mu.Lock()
	terminated := a.terminated
	a.mu.Unlock()
	if terminated {
		return nil, ErrTerminated
	}

	group, err := consumer.NewGroup(ctx, a.broker, def)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer %s: %w", def.Name(), err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.terminated {
		group.Terminate()
		return nil, ErrTerminated
	}
	a.groups = append(a.groups, group)
	return group, nil
}

// Start starts every registered group
func (a *App) Start(ctx context.Context) error {
	var errs []error
	for _, g := range a.snapshotGroups() {
		if err := g.Start(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until every registered group terminated or ctx ends
func (a *App) Wait(ctx context.Context) error {
	for _, g := range a.snapshotGroups() {
		if err := g.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Run starts every registered group and waits for them
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	return a.Wait(ctx)
}

// Terminate terminates every client and consumer group, then closes the
// broker. It is safe to call more than once.
func (a *App) Terminate() error {
	a.mu.Lock()
	if a.terminated {
		a.mu.Unlock()
		return nil
	}
	a.terminated = true
	clients := a.clients
	groups := a.groups
	a.mu.Unlock()

	for _, c := range clients {
		c.Terminate()
	}
	for _, g := range groups {
		g.Terminate()
	}

	a.logger.Info("Application terminated", "clients", len(clients), "consumers", len(groups))

	if a.broker == nil {
		return nil
	}
	return a.broker.Close()
}

func (a *App) snapshotGroups() []*consumer.Group {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*consumer.Group(nil), a.groups...)
}
