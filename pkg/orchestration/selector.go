package orchestration

import (
	"context"
	"fmt"
	"sync"
)

const (
	SelectorAll        = "all"
	SelectorRoundRobin = "round_robin"
)

// NewSelector maps a configured selector name to its implementation. An
// empty name selects every alive client.
func NewSelector(name string) (Selector, error) {
	switch name {
	case "", SelectorAll:
		return SelectAll, nil
	case SelectorRoundRobin:
		return NewRoundRobinSelector(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSelector, name)
	}
}

// SelectorFunc adapts a plain function to the Selector interface.
type SelectorFunc func(ctx context.Context, clients []Client, n int) ([]Client, error)

func (f SelectorFunc) Select(ctx context.Context, clients []Client, n int) ([]Client, error) {
	return f(ctx, clients, n)
}

// SelectAll dispatches to every alive client regardless of n.
var SelectAll Selector = SelectorFunc(func(_ context.Context, clients []Client, _ int) ([]Client, error) {
	return aliveClients(clients), nil
})

type roundRobin struct {
	mu   sync.Mutex
	next int
}

// NewRoundRobinSelector returns a selector that rotates its starting point
// every round so that capped rounds spread work over all clients.
func NewRoundRobinSelector() Selector {
	return &roundRobin{}
}

func (r *roundRobin) Select(_ context.Context, clients []Client, n int) ([]Client, error) {
	if len(clients) == 0 {
		return nil, ErrNoClients
	}

	alive := aliveClients(clients)
	if len(alive) == 0 {
		return nil, ErrDeadClients
	}
	if n <= 0 || n >= len(alive) {
		return alive, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.next % len(alive)
	selected := make([]Client, 0, n)
	for i := range n {
		selected = append(selected, alive[(start+i)%len(alive)])
	}
	r.next = start + n

	return selected, nil
}

func aliveClients(clients []Client) []Client {
	alive := make([]Client, 0, len(clients))
	for _, c := range clients {
		if c.Alive {
			alive = append(alive, c)
		}
	}

	return alive
}
