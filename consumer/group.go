package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/glimte/fleck-go/messaging"
)

// Group runs the instances of a definition, one per unit of concurrency,
// each with its own channel
type Group struct {
	def       *Definition
	instances []*Consumer
	logger    *slog.Logger

	mu       sync.Mutex
	live     map[*Consumer]struct{}
	done     chan struct{}
	doneOnce sync.Once
}

// NewGroup seals def and creates its instances. The initializer runs on every
// instance; with Autostart the instances are started before returning. A
// definition carrying configuration errors is refused.
func NewGroup(ctx context.Context, broker messaging.Broker, def *Definition) (*Group, error) {
	if broker == nil {
		return nil, fmt.Errorf("broker cannot be nil")
	}
	if def == nil {
		return nil, fmt.Errorf("definition cannot be nil")
	}
	if err := def.seal(); err != nil {
		return nil, err
	}

	g := &Group{
		def:    def,
		logger: def.logger.With("component", "consumer-group", "consumer", def.name),
		live:   make(map[*Consumer]struct{}),
		done:   make(chan struct{}),
	}

	for i := 0; i < def.config.Concurrency; i++ {
		c := newConsumer(broker, def, i)
		c.onTerminate = g.onTerminate
		g.instances = append(g.instances, c)
		g.live[c] = struct{}{}
	}

	if def.initializer != nil {
		for _, c := range g.instances {
			if err := def.initializer(c); err != nil {
				g.Terminate()
				return nil, fmt.Errorf("consumer %s: initializer failed: %w", def.name, err)
			}
		}
	}

	if def.config.Autostart {
		if err := g.Start(ctx); err != nil {
			g.Terminate()
			return nil, err
		}
	}

	return g, nil
}

// Definition returns the definition the group runs
func (g *Group) Definition() *Definition {
	return g.def
}

// Consumers returns the group instances
func (g *Group) Consumers() []*Consumer {
	return append([]*Consumer(nil), g.instances...)
}

// Start starts every instance
func (g *Group) Start(ctx context.Context) error {
	var errs []error
	for _, c := range g.instances {
		if err := c.Start(ctx); err != nil && !errors.Is(err, ErrTerminated) {
			errs = append(errs, fmt.Errorf("consumer %s[%d]: %w", g.def.name, c.index, err))
		}
	}
	return errors.Join(errs...)
}

// Run starts the group and blocks until every instance terminated or ctx ends
func (g *Group) Run(ctx context.Context) error {
	if err := g.Start(ctx); err != nil {
		return err
	}
	return g.Wait(ctx)
}

// Done is closed once every instance terminated
func (g *Group) Done() <-chan struct{} {
	return g.done
}

// Wait blocks until every instance terminated or ctx ends
func (g *Group) Wait(ctx context.Context) error {
	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminate terminates every instance
func (g *Group) Terminate() {
	for _, c := range g.instances {
		c.Terminate()
	}
}

func (g *Group) onTerminate(c *Consumer) {
	g.mu.Lock()
	delete(g.live, c)
	remaining := len(g.live)
	g.mu.Unlock()

	if remaining == 0 {
		g.doneOnce.Do(func() {
			g.logger.Info("All consumer instances terminated")
			close(g.done)
		})
	}
}
