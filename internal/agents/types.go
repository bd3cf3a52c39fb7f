// Package agents provides the three agent kinds of the civil-violence model
// (citizens, cops, radicalizers) and the per-tick rules each one runs.
//
// Agents never reach for global state: the grid, the random source and the
// model parameters arrive in the Env passed to every Step call.
package agents

import (
	"fmt"

	"github.com/talgya/unrest/internal/entropy"
	"github.com/talgya/unrest/internal/world"
)

// AgentID is a unique identifier for an agent.
type AgentID uint64

// Breed tags the kind of an agent for collectors and visualizers.
type Breed string

const (
	BreedCitizen     Breed = "citizen"
	BreedCop         Breed = "cop"
	BreedRadicalizer Breed = "radicalizer"
)

// Condition is a citizen's visible behavioral state.
type Condition uint8

const (
	Quiescent Condition = iota
	Active
)

var conditionNames = [...]string{"Quiescent", "Active"}

func (c Condition) String() string {
	if int(c) < len(conditionNames) {
		return conditionNames[c]
	}
	return fmt.Sprintf("Condition(%d)", c)
}

// MarshalText encodes the condition by name.
func (c Condition) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a condition name.
func (c *Condition) UnmarshalText(b []byte) error {
	parsed, err := ParseCondition(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCondition maps "Quiescent"/"Active" back to a Condition.
func ParseCondition(s string) (Condition, error) {
	for i, name := range conditionNames {
		if name == s {
			return Condition(i), nil
		}
	}
	return 0, fmt.Errorf("unknown condition %q", s)
}

// neighborhoodRadius is the radius every agent scans, regardless of its vision.
const neighborhoodRadius = 1

// Params are the model-wide parameters every step reads.
type Params struct {
	Movement           bool    `json:"movement"`
	ArrestProbConstant float64 `json:"arrest_prob_constant"`
	MaxJailTerm        int     `json:"max_jail_term"`
}

// Space is the grid contract agents consume.
// *world.Grid[Agent] satisfies it.
type Space interface {
	Neighborhood(pos world.Coord, radius int) []world.Coord
	Occupants(cells []world.Coord) []Agent
	IsEmpty(c world.Coord) bool
	Relocate(a Agent, to world.Coord) error
}

// EventKind classifies an interaction between two agents.
type EventKind string

const (
	EventArrest     EventKind = "arrest"
	EventRadicalize EventKind = "radicalize"
)

// Event records one agent acting on another during a step.
type Event struct {
	Kind     EventKind `json:"kind"`
	Actor    AgentID   `json:"actor"`
	Target   AgentID   `json:"target"`
	Sentence int       `json:"sentence,omitempty"`
}

// Env is everything a step may touch besides the agent itself.
type Env struct {
	Space  Space
	Rand   entropy.Source
	Params Params

	// Observe, when set, receives arrests and radicalizations as they happen.
	Observe func(Event)
}

func (e *Env) emit(ev Event) {
	if e.Observe != nil {
		e.Observe(ev)
	}
}

// Agent is the capability shared by every agent kind.
type Agent interface {
	world.Occupant
	ID() AgentID
	Breed() Breed
	Vision() int
	Step(env *Env) error
	Record() Record
}

// identity is the id/position/vision triple every agent kind carries.
type identity struct {
	id     AgentID
	pos    world.Coord
	vision int
}

func (b *identity) ID() AgentID          { return b.id }
func (b *identity) Pos() world.Coord     { return b.pos }
func (b *identity) SetPos(c world.Coord) { b.pos = c }
func (b *identity) Vision() int          { return b.vision }

// moveRandomly relocates a to one of the view's empty cells, when movement is on.
func moveRandomly(a Agent, env *Env, view View) error {
	if !env.Params.Movement || len(view.Empty) == 0 {
		return nil
	}
	to := entropy.Choice(env.Rand, view.Empty)
	if err := env.Space.Relocate(a, to); err != nil {
		return fmt.Errorf("%s %d: %w", a.Breed(), a.ID(), err)
	}
	return nil
}
