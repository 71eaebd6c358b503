// Package hostrating ranks broker hosts by TCP connect latency.
//
// Each Rating samples one host on a fixed refresh interval and keeps the
// samples of a rolling period. Reachable hosts rank before unreachable ones;
// reachable hosts rank by average latency.
package hostrating

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"
)

// ErrNoReachableHost is returned by Best when every candidate failed
var ErrNoReachableHost = errors.New("hostrating: no reachable host")

// Defaults
const (
	DefaultRefresh = 30 * time.Second
	DefaultPeriod  = 5 * time.Minute
	DefaultTimeout = 5 * time.Second
)

// DialFunc opens a connection, net.Dialer.DialContext by default
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Option configures a Rating
type Option func(*Rating)

// WithRefresh sets the sampling interval
func WithRefresh(d time.Duration) Option {
	return func(r *Rating) {
		r.refresh = d
	}
}

// WithPeriod sets the rolling window the average is computed over
func WithPeriod(d time.Duration) Option {
	return func(r *Rating) {
		r.period = d
	}
}

// WithTimeout bounds a single connect
func WithTimeout(d time.Duration) Option {
	return func(r *Rating) {
		r.timeout = d
	}
}

// WithDialer replaces the TCP dialer
func WithDialer(dial DialFunc) Option {
	return func(r *Rating) {
		r.dial = dial
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Rating) {
		r.logger = logger
	}
}

// Rating tracks the connect latency of one host
type Rating struct {
	addr    string
	refresh time.Duration
	period  time.Duration
	timeout time.Duration
	dial    DialFunc
	logger  *slog.Logger

	mu        sync.RWMutex
	reachable bool
	history   []time.Duration
	avg       time.Duration
	updatedAt time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a rating for addr (host:port). No sample is taken until
// Refresh or Start is called.
func New(addr string, opts ...Option) *Rating {
	r := &Rating{
		addr:    addr,
		refresh: DefaultRefresh,
		period:  DefaultPeriod,
		timeout: DefaultTimeout,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.dial == nil {
		r.dial = (&net.Dialer{}).DialContext
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "host-rating", "host", addr)
	return r
}

// Addr returns the rated host:port
func (r *Rating) Addr() string {
	return r.addr
}

// Reachable reports whether the last sample succeeded
func (r *Rating) Reachable() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reachable
}

// Average returns the mean latency over the rolling window
func (r *Rating) Average() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.avg
}

// History returns the samples in the rolling window, oldest first
func (r *Rating) History() []time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.history)
}

// UpdatedAt returns the time of the last sample
func (r *Rating) UpdatedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updatedAt
}

// window is the number of samples kept
func (r *Rating) window() int {
	if r.refresh <= 0 {
		return 1
	}
	return max(1, int(r.period/r.refresh))
}

// Refresh takes one sample. A failed connect marks the host unreachable and
// keeps the previous samples.
func (r *Rating) Refresh(ctx context.Context) error {
	latency, err := r.measure(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.updatedAt = time.Now()
	if err != nil {
		r.reachable = false
		r.logger.Error("Connection error", "error", err)
		return err
	}

	r.history = append(r.history, latency)
	if excess := len(r.history) - r.window(); excess > 0 {
		r.history = r.history[excess:]
	}

	var sum time.Duration
	for _, d := range r.history {
		sum += d
	}
	r.avg = sum / time.Duration(len(r.history))
	r.reachable = true
	return nil
}

func (r *Rating) measure(ctx context.Context) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	conn, err := r.dial(ctx, "tcp", r.addr)
	if err != nil {
		return 0, err
	}
	elapsed := time.Since(start)
	_ = conn.Close()
	return elapsed, nil
}

// Start samples immediately and then on every refresh interval until ctx
// ends or Close is called
func (r *Rating) Start(ctx context.Context) {
	_ = r.Refresh(ctx)

	go func() {
		ticker := time.NewTicker(r.refresh)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = r.Refresh(ctx)
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops periodic sampling started by Start
func (r *Rating) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Compare orders a before b when it is reachable and b is not, or when both
// are reachable and a is faster on average
func Compare(a, b *Rating) int {
	ar, br := a.Reachable(), b.Reachable()
	switch {
	case ar && !br:
		return -1
	case !ar && br:
		return 1
	case !ar && !br:
		return 0
	}

	aa, ba := a.Average(), b.Average()
	switch {
	case aa < ba:
		return -1
	case aa > ba:
		return 1
	}
	return 0
}

// Rank returns the ratings sorted best first. Equal ratings keep their order.
func Rank(ratings []*Rating) []*Rating {
	ranked := slices.Clone(ratings)
	slices.SortStableFunc(ranked, Compare)
	return ranked
}

// Best samples every address once, concurrently, and returns the addresses
// ranked best first. The error is ErrNoReachableHost when none answered.
func Best(ctx context.Context, addrs []string, opts ...Option) ([]string, error) {
	ratings := make([]*Rating, len(addrs))
	var wg sync.WaitGroup
	for i, addr := range addrs {
		ratings[i] = New(addr, opts...)
		wg.Add(1)
		go func(r *Rating) {
			defer wg.Done()
			_ = r.Refresh(ctx)
		}(ratings[i])
	}
	wg.Wait()

	ranked := Rank(ratings)
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.Addr()
	}

	if len(ranked) == 0 || !ranked[0].Reachable() {
		return out, ErrNoReachableHost
	}
	return out, nil
}
