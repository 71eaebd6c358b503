package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/glimte/fleck-go/internal/reliability"
	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrNotConnected is returned when the connection is not established
	ErrNotConnected = errors.New("not connected")
)

// ConnectionStateListener receives connection state change notifications
type ConnectionStateListener interface {
	OnConnected()
	OnDisconnected(err error)
	OnReconnecting(attempt int)
}

// DialFunc opens an AMQP connection
type DialFunc func(url string) (*amqp.Connection, error)

// ConnectionManager manages the RabbitMQ connection with automatic reconnection
type ConnectionManager struct {
	url            string
	dial           DialFunc
	conn           *amqp.Connection
	mu             sync.RWMutex
	reconnectDelay time.Duration
	maxRetries     int
	dialTimeout    time.Duration
	logger         *slog.Logger
	isConnected    bool
	done           chan struct{}
	closeOnce      sync.Once
	stateListeners []ConnectionStateListener
	listenersMu    sync.RWMutex
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithReconnectDelay sets the initial reconnection delay
func WithReconnectDelay(delay time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.reconnectDelay = delay
	}
}

// WithMaxRetries sets the maximum number of reconnection attempts, zero or
// less for unlimited
func WithMaxRetries(retries int) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.maxRetries = retries
	}
}

// WithDialTimeout bounds a single connection attempt
func WithDialTimeout(timeout time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dialTimeout = timeout
	}
}

// WithDialer replaces amqp.Dial
func WithDialer(dial DialFunc) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dial = dial
	}
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:            url,
		dial:           amqp.Dial,
		reconnectDelay: 5 * time.Second,
		maxRetries:     0,
		dialTimeout:    30 * time.Second,
		logger:         slog.Default(),
		done:           make(chan struct{}),
	}

	for _, opt := range options {
		opt(cm)
	}
	cm.logger = cm.logger.With("component", "rabbitmq-connection")

	return cm
}

// Connect establishes the initial connection
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.isConnected {
		return nil
	}

	conn, err := cm.dialContext(ctx)
	if err != nil {
		return &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(cm.url),
			Err:       err,
			Timestamp: time.Now(),
			Attempts:  1,
		}
	}

	cm.attach(conn)
	cm.logger.Info("connected to RabbitMQ", "url", SanitizeURL(cm.url))
	cm.notifyConnected()
	return nil
}

// dialContext runs the dialer bounded by ctx and the dial timeout
func (cm *ConnectionManager) dialContext(ctx context.Context) (*amqp.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, cm.dialTimeout)
	defer cancel()

	type result struct {
		conn *amqp.Connection
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		conn, err := cm.dial(cm.url)
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrConnectionTimeout
		}
		return nil, ctx.Err()
	}
}

// attach installs conn and watches it for closure. Caller holds cm.mu.
func (cm *ConnectionManager) attach(conn *amqp.Connection) {
	cm.conn = conn
	cm.isConnected = true

	notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))
	go cm.handleReconnect(notifyClose)
}

// GetConnection returns the current connection
func (cm *ConnectionManager) GetConnection() (*amqp.Connection, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.isConnected || cm.conn == nil {
		return nil, ErrConnectionNotReady
	}

	if cm.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}

	return cm.conn, nil
}

// Channel opens a channel on the current connection
func (cm *ConnectionManager) Channel() (*amqp.Channel, error) {
	conn, err := cm.GetConnection()
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, &ChannelError{
			Op:        "open",
			Err:       errors.Join(ErrChannelCreationFailed, err),
			Timestamp: time.Now(),
		}
	}
	return ch, nil
}

// LocalAddr returns the local IP address of the connection
func (cm *ConnectionManager) LocalAddr() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.conn == nil {
		return ""
	}
	if addr, ok := cm.conn.LocalAddr().(*net.TCPAddr); ok {
		return addr.IP.String()
	}
	host, _, err := net.SplitHostPort(cm.conn.LocalAddr().String())
	if err != nil {
		return ""
	}
	return host
}

// IsConnected returns the connection status
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isConnected
}

// Close stops reconnection and closes the connection
func (cm *ConnectionManager) Close() error {
	cm.closeOnce.Do(func() { close(cm.done) })

	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.isConnected = false
	if cm.conn != nil {
		err := cm.conn.Close()
		cm.conn = nil
		if errors.Is(err, amqp.ErrClosed) {
			return nil
		}
		return err
	}

	return nil
}

// handleReconnect waits for the connection to close and reconnects unless
// the manager was closed
func (cm *ConnectionManager) handleReconnect(notifyClose <-chan *amqp.Error) {
	select {
	case amqpErr, ok := <-notifyClose:
		var err error
		if ok && amqpErr != nil {
			err = amqpErr
			cm.logger.Error("connection closed", "error", err)
		}

		cm.mu.Lock()
		cm.isConnected = false
		cm.conn = nil
		cm.mu.Unlock()

		select {
		case <-cm.done:
			return
		default:
		}

		cm.notifyDisconnected(err)
		cm.reconnect()

	case <-cm.done:
	}
}

// reconnect redials with exponential backoff until it succeeds, the retry
// budget is spent or the manager is closed
func (cm *ConnectionManager) reconnect() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-cm.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	startTime := time.Now()
	policy := reliability.NewExponentialBackoff(cm.reconnectDelay, 5*time.Minute, 2.0, cm.maxRetries)

	attempts := 0
	err := reliability.RetryNotify(ctx, policy, func() error {
		attempts++
		cm.notifyReconnecting(attempts)
		cm.logger.Info("attempting to reconnect", "attempt", attempts, "maxRetries", cm.maxRetries)

		conn, err := cm.dialContext(ctx)
		if err != nil {
			return err
		}

		cm.mu.Lock()
		defer cm.mu.Unlock()
		select {
		case <-cm.done:
			_ = conn.Close()
			return reliability.Permanent(ErrConnectionClosed)
		default:
		}
		cm.attach(conn)
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		cm.logger.Error("reconnection failed", "error", err, "attempt", attempt+1, "nextRetryIn", delay)
	})

	if err == nil {
		cm.logger.Info("successfully reconnected to RabbitMQ", "attempts", attempts, "duration", time.Since(startTime))
		cm.notifyConnected()
		return
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, ErrConnectionClosed) {
		return
	}

	cm.logger.Error("max reconnection attempts reached", "attempts", attempts, "duration", time.Since(startTime))
	cm.notifyDisconnected(&ConnectionError{
		Op:        "reconnect",
		URL:       SanitizeURL(cm.url),
		Err:       errors.Join(ErrMaxRetriesExceeded, err),
		Timestamp: time.Now(),
		Attempts:  attempts,
	})
}

// AddStateListener adds a connection state listener
func (cm *ConnectionManager) AddStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()
	cm.stateListeners = append(cm.stateListeners, listener)
}

// RemoveStateListener removes a connection state listener
func (cm *ConnectionManager) RemoveStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()

	for i, l := range cm.stateListeners {
		if l == listener {
			cm.stateListeners = append(cm.stateListeners[:i], cm.stateListeners[i+1:]...)
			break
		}
	}
}

func (cm *ConnectionManager) listeners() []ConnectionStateListener {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()
	return append([]ConnectionStateListener(nil), cm.stateListeners...)
}

func (cm *ConnectionManager) notifyConnected() {
	for _, listener := range cm.listeners() {
		go listener.OnConnected()
	}
}

func (cm *ConnectionManager) notifyDisconnected(err error) {
	for _, listener := range cm.listeners() {
		go listener.OnDisconnected(err)
	}
}

func (cm *ConnectionManager) notifyReconnecting(attempt int) {
	for _, listener := range cm.listeners() {
		go listener.OnReconnecting(attempt)
	}
}
