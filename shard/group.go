// Package shard fans a replay stream across a consumer group under a
// sharding policy: OFF gives every consumer its own full copy, DYNAMIC
// delivers each element to exactly one consumer, balanced by pull rate.
package shard

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	snaperrors "github.com/c360/snapstream/errors"
	"github.com/c360/snapstream/replay"
)

// Policy selects how elements are distributed across the group.
type Policy string

const (
	// PolicyOff duplicates the full stream to every consumer. Each
	// consumer owns an independent replay; no coordination happens.
	PolicyOff Policy = "OFF"

	// PolicyDynamic feeds all consumers from one replay through a shared
	// queue: each element is delivered to exactly one consumer, and order
	// is preserved per consumer only.
	PolicyDynamic Policy = "DYNAMIC"
)

// SourceFunc builds one replay orchestrator. PolicyOff calls it once per
// consumer; PolicyDynamic calls it once for the whole group.
type SourceFunc func() (*replay.Orchestrator, error)

type result struct {
	el  []byte
	err error
}

type request struct {
	reply chan result
}

// Group is a consumer group over one logical replay stream.
type Group struct {
	policy    Policy
	consumers []*Consumer
	logger    *slog.Logger

	// Dynamic-policy state. Requests form an explicit FIFO: the producer
	// serves pulls strictly in arrival order rather than leaning on
	// scheduler fairness.
	requests chan request
	done     chan struct{}
	stop     context.CancelFunc

	mu       sync.Mutex
	terminal error
	started  bool
}

// Option configures a Group.
type Option func(*Group)

// WithLogger sets the group logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Group) { g.logger = logger }
}

// New builds a consumer group of the given size under policy.
func New(policy Policy, size int, source SourceFunc, opts ...Option) (*Group, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shard: group size must be positive, got %d: %w", size, snaperrors.ErrInvalidConfig)
	}
	if source == nil {
		return nil, fmt.Errorf("shard: nil source: %w", snaperrors.ErrInvalidConfig)
	}

	g := &Group{policy: policy, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}

	switch policy {
	case PolicyOff:
		for i := 0; i < size; i++ {
			orch, err := source()
			if err != nil {
				return nil, err
			}
			g.consumers = append(g.consumers, &Consumer{group: g, index: i, own: orch})
		}

	case PolicyDynamic:
		orch, err := source()
		if err != nil {
			return nil, err
		}
		g.requests = make(chan request)
		g.done = make(chan struct{})
		for i := 0; i < size; i++ {
			g.consumers = append(g.consumers, &Consumer{group: g, index: i})
		}
		g.startProducer(orch)

	default:
		return nil, fmt.Errorf("shard: unknown policy %q: %w", policy, snaperrors.ErrInvalidConfig)
	}

	return g, nil
}

// Policy returns the group's sharding policy.
func (g *Group) Policy() Policy { return g.policy }

// Consumers returns the group's consumers in index order.
func (g *Group) Consumers() []*Consumer { return g.consumers }

// Close stops the dynamic producer. Consumers then observe the terminal
// state. For PolicyOff it is a no-op; aborting a load is simply ceasing
// to read.
func (g *Group) Close() {
	if g.stop != nil {
		g.stop()
	}
}

func (g *Group) startProducer(orch *replay.Orchestrator) {
	ctx, cancel := context.WithCancel(context.Background())
	g.stop = cancel

	go func() {
		defer close(g.done)
		for {
			select {
			case <-ctx.Done():
				g.setTerminal(ctx.Err())
				return
			case req := <-g.requests:
				if err := ctx.Err(); err != nil {
					g.setTerminal(err)
					req.reply <- result{err: err}
					return
				}
				el, err := orch.Next(ctx)
				if err != nil {
					g.setTerminal(err)
					req.reply <- result{err: err}
					return
				}
				req.reply <- result{el: el}
			}
		}
	}()
}

func (g *Group) setTerminal(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.terminal == nil {
		g.terminal = err
		if err != nil && err != io.EOF {
			g.logger.Debug("Consumer group terminated", "policy", g.policy, "error", err)
		}
	}
}

func (g *Group) terminalErr() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.terminal == nil {
		return io.EOF
	}
	return g.terminal
}

// Consumer is one member of the group.
type Consumer struct {
	group *Group
	index int
	own   *replay.Orchestrator // PolicyOff only
}

// Index returns the consumer's position in the group.
func (c *Consumer) Index() int { return c.index }

// Next returns the consumer's next element. Under PolicyOff that is the
// next element of its own full copy; under PolicyDynamic, the next
// undelivered element of the shared replay. Returns io.EOF when the
// consumer's view is exhausted.
func (c *Consumer) Next(ctx context.Context) ([]byte, error) {
	if c.own != nil {
		return c.own.Next(ctx)
	}

	req := request{reply: make(chan result, 1)}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.group.done:
		return nil, c.group.terminalErr()
	case c.group.requests <- req:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-req.reply:
		return res.el, res.err
	case <-c.group.done:
		// The producer exited after accepting our request; prefer its
		// reply if one was queued.
		select {
		case res := <-req.reply:
			return res.el, res.err
		default:
			return nil, c.group.terminalErr()
		}
	}
}
