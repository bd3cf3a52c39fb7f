package engine

import (
	"fmt"

	"github.com/talgya/unrest/internal/agents"
	"github.com/talgya/unrest/internal/entropy"
)

// Order is the activation order of agents within a tick.
type Order string

const (
	// OrderRandom reshuffles every agent each tick.
	OrderRandom Order = "random"
	// OrderFixed activates agents in creation order.
	OrderFixed Order = "fixed"
)

// ParseOrder validates an order name.
func ParseOrder(s string) (Order, error) {
	switch Order(s) {
	case OrderRandom, OrderFixed:
		return Order(s), nil
	case "":
		return OrderRandom, nil
	}
	return "", fmt.Errorf("unknown schedule order %q", s)
}

// activation returns the agents in the order they act this tick.
// The caller's slice is never reordered.
func activation(order Order, all []agents.Agent, rng entropy.Source) []agents.Agent {
	if order == OrderFixed {
		return all
	}
	out := make([]agents.Agent, len(all))
	copy(out, all)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
