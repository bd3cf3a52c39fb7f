package agents

import (
	"github.com/talgya/unrest/internal/entropy"
	"github.com/talgya/unrest/internal/world"
)

// Radicalizer converts one quiescent neighbor per tick into a radical.
type Radicalizer struct {
	identity
}

// NewRadicalizer creates a radicalizer at pos.
func NewRadicalizer(id AgentID, pos world.Coord, vision int) *Radicalizer {
	return &Radicalizer{identity: identity{id: id, pos: pos, vision: vision}}
}

func (r *Radicalizer) Breed() Breed { return BreedRadicalizer }

// Step radicalizes a random quiescent neighbor, if any, then possibly moves.
// Jailed citizens are valid targets, unlike for cops.
func (r *Radicalizer) Step(env *Env) error {
	view := NewView(env.Space, r.pos)

	if targets := view.Citizens(isQuiescent); len(targets) > 0 {
		convert := entropy.Choice(env.Rand, targets)
		convert.Radicalize()
		env.emit(Event{Kind: EventRadicalize, Actor: r.id, Target: convert.id})
	}

	return moveRandomly(r, env, view)
}

func (r *Radicalizer) Record() Record {
	return Record{ID: r.id, Breed: BreedRadicalizer, X: r.pos.X, Y: r.pos.Y, Vision: r.vision}
}
