package consumer

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/glimte/fleck-go/codec"
	"github.com/glimte/fleck-go/internal/reliability"
	"github.com/glimte/fleck-go/messaging"
	"github.com/glimte/fleck-go/metrics"
	"go.opentelemetry.io/otel/trace"
)

// DefaultPrefetch bounds unacknowledged deliveries per consumer instance
const DefaultPrefetch = 100

// Config holds the broker side settings of a consumer
type Config struct {
	Queue        string
	ExchangeType string
	ExchangeName string
	Concurrency  int
	Prefetch     int
	Mandatory    bool
	Autostart    bool
}

// DefinitionOption configures a Definition
type DefinitionOption func(*Definition)

// WithQueue sets the queue the consumer serves
func WithQueue(queue string) DefinitionOption {
	return func(d *Definition) {
		d.config.Queue = queue
	}
}

// WithExchange consumes through a private queue bound to the named exchange
// with the queue name as routing key
func WithExchange(kind, name string) DefinitionOption {
	return func(d *Definition) {
		d.config.ExchangeType = kind
		d.config.ExchangeName = name
	}
}

// WithConcurrency sets the number of consumer instances
func WithConcurrency(n int) DefinitionOption {
	return func(d *Definition) {
		d.config.Concurrency = n
	}
}

// WithPrefetch bounds unacknowledged deliveries per instance
func WithPrefetch(n int) DefinitionOption {
	return func(d *Definition) {
		d.config.Prefetch = n
	}
}

// WithMandatory publishes replies as mandatory
func WithMandatory(mandatory bool) DefinitionOption {
	return func(d *Definition) {
		d.config.Mandatory = mandatory
	}
}

// WithAutostart controls whether instances start when the group is created
func WithAutostart(autostart bool) DefinitionOption {
	return func(d *Definition) {
		d.config.Autostart = autostart
	}
}

// WithConfig replaces the whole broker configuration
func WithConfig(config Config) DefinitionOption {
	return func(d *Definition) {
		d.config = config
	}
}

// WithLogger sets the consumer logger
func WithLogger(logger *slog.Logger) DefinitionOption {
	return func(d *Definition) {
		d.logger = logger
	}
}

// WithMetrics records dispatch statistics on collector
func WithMetrics(collector *metrics.Collector) DefinitionOption {
	return func(d *Definition) {
		d.metrics = collector
	}
}

// WithCodec sets the payload codec
func WithCodec(c codec.Codec) DefinitionOption {
	return func(d *Definition) {
		d.codec = c
	}
}

// WithTracer sets the tracer used for dispatch spans
func WithTracer(tracer trace.Tracer) DefinitionOption {
	return func(d *Definition) {
		d.tracer = tracer
	}
}

// WithInitializer runs fn on every instance before it starts
func WithInitializer(fn func(*Consumer) error) DefinitionOption {
	return func(d *Definition) {
		d.initializer = fn
	}
}

// WithRestartPolicy sets the backoff used to recover closed channels
func WithRestartPolicy(policy *reliability.ExponentialBackoff) DefinitionOption {
	return func(d *Definition) {
		d.restart = policy
	}
}

// Definition is the immutable description of a consumer: its broker
// configuration and action table. It is shared read-only by every instance.
type Definition struct {
	name    string
	config  Config
	actions map[string]*Action
	order   []string

	initializer func(*Consumer) error
	restart     *reliability.ExponentialBackoff
	logger      *slog.Logger
	metrics     *metrics.Collector
	codec       codec.Codec
	tracer      trace.Tracer

	mu     sync.Mutex
	errs   []error
	sealed bool
}

// NewDefinition creates a definition named name
func NewDefinition(name string, opts ...DefinitionOption) *Definition {
	d := &Definition{
		name: name,
		config: Config{
			ExchangeType: messaging.ExchangeDirect,
			Concurrency:  1,
			Prefetch:     DefaultPrefetch,
			Autostart:    true,
		},
		actions: make(map[string]*Action),
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.config.ExchangeType == "" {
		d.config.ExchangeType = messaging.ExchangeDirect
	}
	if d.config.Concurrency < 1 {
		d.config.Concurrency = 1
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.codec == nil {
		d.codec = codec.Default
	}
	if d.restart == nil {
		d.restart = reliability.NewExponentialBackoff(500*time.Millisecond, 30*time.Second, 2.0, 10)
	}

	if d.config.Queue == "" && d.config.ExchangeName == "" {
		d.fail("configure", errors.New("queue name is required"))
	}
	if d.config.Prefetch < 0 {
		d.fail("configure", fmt.Errorf("invalid prefetch %d", d.config.Prefetch))
	}

	return d
}

// Name returns the definition name
func (d *Definition) Name() string {
	return d.name
}

// Config returns the broker configuration
func (d *Definition) Config() Config {
	return d.config
}

// Action registers handler under name
func (d *Definition) Action(name string, handler HandlerFunc, opts ...ActionOption) *Definition {
	if name == "" {
		d.fail("action", errors.New("action name cannot be empty"))
		return d
	}
	if handler == nil {
		d.fail("action "+name, errors.New("handler cannot be nil"))
		return d
	}

	b := &actionBuilder{action: &Action{Name: name, Handler: handler}}
	for _, opt := range opts {
		opt(b)
	}
	for _, err := range b.errs {
		d.fail("action "+name, err)
	}
	if len(b.errs) > 0 {
		return d
	}

	d.register(b.action)
	return d
}

// Actions registers methods of receiver as actions. Each entry is either an
// action name, mapped to the exported method with the camel cased name
// ("get_user" to GetUser), or "action=Method". Methods must have the
// signature func(*Context) error and must not shadow a Consumer or Context
// method.
func (d *Definition) Actions(receiver interface{}, entries ...string) *Definition {
	value := reflect.ValueOf(receiver)
	if !value.IsValid() {
		d.fail("actions", errors.New("receiver cannot be nil"))
		return d
	}

	for _, entry := range entries {
		action, method := entry, methodName(entry)
		if i := strings.IndexByte(entry, '='); i >= 0 {
			action, method = strings.TrimSpace(entry[:i]), strings.TrimSpace(entry[i+1:])
		}

		if isReserved(method) {
			d.fail("action "+action, fmt.Errorf("cannot use method %s as an action: %w", method, ErrReservedName))
			continue
		}

		m := value.MethodByName(method)
		if !m.IsValid() {
			d.fail("action "+action, fmt.Errorf("method %s not found on %T", method, receiver))
			continue
		}

		handler, ok := m.Interface().(func(*Context) error)
		if !ok {
			d.fail("action "+action, fmt.Errorf("method %s has signature %s, want func(*consumer.Context) error", method, m.Type()))
			continue
		}

		d.register(&Action{Name: action, Handler: handler})
	}

	return d
}

// Lookup returns the action registered under name
func (d *Definition) Lookup(name string) (*Action, bool) {
	a, ok := d.actions[name]
	return a, ok
}

// ActionNames returns registered action names in registration order
func (d *Definition) ActionNames() []string {
	return append([]string(nil), d.order...)
}

// Err returns every configuration error recorded so far
func (d *Definition) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return errors.Join(d.errs...)
}

func (d *Definition) register(a *Action) {
	d.mu.Lock()
	sealed := d.sealed
	d.mu.Unlock()
	if sealed {
		d.fail("action "+a.Name, ErrDefinitionSealed)
		return
	}

	if _, exists := d.actions[a.Name]; !exists {
		d.order = append(d.order, a.Name)
	}
	d.actions[a.Name] = a
}

// seal freezes the action table and reports recorded configuration errors
func (d *Definition) seal() error {
	d.mu.Lock()
	d.sealed = true
	d.mu.Unlock()
	return d.Err()
}

func (d *Definition) fail(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, &ConfigError{
		Definition: d.name,
		Op:         op,
		Err:        err,
		Timestamp:  time.Now(),
	})
}

var (
	consumerType = reflect.TypeOf((*Consumer)(nil))
	contextType  = reflect.TypeOf((*Context)(nil))
)

func isReserved(method string) bool {
	if _, ok := consumerType.MethodByName(method); ok {
		return true
	}
	_, ok := contextType.MethodByName(method)
	return ok
}

// methodName converts an action name to an exported method name
func methodName(action string) string {
	var b strings.Builder
	upper := true
	for _, r := range action {
		if r == '_' || r == '-' || r == '.' || r == ' ' {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
