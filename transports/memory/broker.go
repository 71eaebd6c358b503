// Package memory provides an in-process broker with the routing semantics the
// runtime relies on: default, direct, fanout and topic exchanges, exclusive
// and auto-delete queues, mandatory returns, message TTL and requeue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glimte/fleck-go/messaging"
)

var (
	// ErrNotFound is returned for operations on unknown exchanges or queues
	ErrNotFound = errors.New("memory: not found")

	// ErrResourceLocked is returned when an exclusive queue belongs to another channel
	ErrResourceLocked = errors.New("memory: resource locked")
)

// Reply code and text of returned messages, as AMQP reports them
const (
	ReplyCodeNoRoute = 312
	ReplyTextNoRoute = "NO_ROUTE"
)

// Option configures a Broker
type Option func(*Broker)

// WithLogger sets the broker logger
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		b.logger = logger
	}
}

// WithLocalAddr sets the address reported by LocalAddr
func WithLocalAddr(addr string) Option {
	return func(b *Broker) {
		b.localAddr = addr
	}
}

// Broker is an in-process messaging.Broker
type Broker struct {
	mu   sync.Mutex
	cond *sync.Cond

	exchanges map[string]*exchange
	queues    map[string]*queue
	channels  map[*Channel]struct{}
	closed    bool

	localAddr string
	logger    *slog.Logger
}

type exchange struct {
	name     string
	kind     string
	bindings []binding
}

type binding struct {
	queue string
	key   string
}

type queue struct {
	name      string
	options   messaging.QueueOptions
	owner     *Channel
	messages  []*message
	consumers map[*subscription]struct{}
	deleted   bool
}

type message struct {
	exchange    string
	publishing  messaging.Publishing
	enqueuedAt  time.Time
	redelivered bool
}

func (m *message) expired(now time.Time) bool {
	return m.publishing.Expiration > 0 && now.Sub(m.enqueuedAt) >= m.publishing.Expiration
}

// New creates an empty broker
func New(opts ...Option) *Broker {
	b := &Broker{
		exchanges: make(map[string]*exchange),
		queues:    make(map[string]*queue),
		channels:  make(map[*Channel]struct{}),
		localAddr: "127.0.0.1",
	}
	b.cond = sync.NewCond(&b.mu)

	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("component", "memory-broker")

	return b
}

// Channel opens a new channel
func (b *Broker) Channel(ctx context.Context) (messaging.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, messaging.ErrBrokerClosed
	}

	ch := &Channel{
		broker:  b,
		unacked: make(map[uint64]*unacked),
	}
	b.channels[ch] = struct{}{}
	return ch, nil
}

// LocalAddr returns the configured local address
func (b *Broker) LocalAddr() string {
	return b.localAddr
}

// Close closes every channel
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	channels := make([]*Channel, 0, len(b.channels))
	for ch := range b.channels {
		channels = append(channels, ch)
	}
	b.mu.Unlock()

	for _, ch := range channels {
		ch.shutdown(messaging.ErrBrokerClosed)
	}
	return nil
}

// DropChannels closes every open channel as if the broker had closed them
// with reason, leaving the broker usable. It simulates a lost connection.
func (b *Broker) DropChannels(reason error) int {
	b.mu.Lock()
	channels := make([]*Channel, 0, len(b.channels))
	for ch := range b.channels {
		channels = append(channels, ch)
	}
	b.mu.Unlock()

	for _, ch := range channels {
		ch.shutdown(reason)
	}
	return len(channels)
}

// QueueLength returns the number of ready, unexpired messages in queue, or -1
// if the queue does not exist
func (b *Broker) QueueLength(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return -1
	}

	now := time.Now()
	n := 0
	for _, msg := range q.messages {
		if !msg.expired(now) {
			n++
		}
	}
	return n
}

// HasQueue reports whether a queue is declared
func (b *Broker) HasQueue(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.queues[name]
	return ok
}

// route returns the queues a message published to exchangeName with key
// reaches. Caller holds b.mu.
func (b *Broker) route(exchangeName, key string) ([]*queue, error) {
	if exchangeName == "" {
		if q, ok := b.queues[key]; ok {
			return []*queue{q}, nil
		}
		return nil, nil
	}

	ex, ok := b.exchanges[exchangeName]
	if !ok {
		return nil, fmt.Errorf("exchange %q: %w", exchangeName, ErrNotFound)
	}

	seen := make(map[string]struct{})
	var targets []*queue
	for _, bind := range ex.bindings {
		if _, dup := seen[bind.queue]; dup {
			continue
		}
		if !matches(ex.kind, bind.key, key) {
			continue
		}
		if q, ok := b.queues[bind.queue]; ok {
			seen[bind.queue] = struct{}{}
			targets = append(targets, q)
		}
	}
	return targets, nil
}

func matches(kind, pattern, key string) bool {
	switch kind {
	case messaging.ExchangeFanout:
		return true
	case messaging.ExchangeTopic:
		return topicMatch(strings.Split(pattern, "."), strings.Split(key, "."))
	default:
		return pattern == key
	}
}

// topicMatch matches dot separated words where "*" is exactly one word and
// "#" is zero or more words
func topicMatch(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	switch pattern[0] {
	case "#":
		for i := 0; i <= len(key); i++ {
			if topicMatch(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && topicMatch(pattern[1:], key[1:])
	default:
		return len(key) > 0 && pattern[0] == key[0] && topicMatch(pattern[1:], key[1:])
	}
}

// deleteQueue removes a queue and its bindings. Caller holds b.mu.
func (b *Broker) deleteQueue(q *queue) {
	q.deleted = true
	delete(b.queues, q.name)
	for _, ex := range b.exchanges {
		kept := ex.bindings[:0]
		for _, bind := range ex.bindings {
			if bind.queue != q.name {
				kept = append(kept, bind)
			}
		}
		ex.bindings = kept
	}
	for sub := range q.consumers {
		sub.cancelled = true
	}
	b.cond.Broadcast()
}
