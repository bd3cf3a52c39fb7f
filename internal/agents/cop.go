package agents

import (
	"github.com/talgya/unrest/internal/entropy"
	"github.com/talgya/unrest/internal/world"
)

// Cop patrols its neighborhood and jails one free active citizen per tick.
type Cop struct {
	identity
}

// NewCop creates a cop at pos.
func NewCop(id AgentID, pos world.Coord, vision int) *Cop {
	return &Cop{identity: identity{id: id, pos: pos, vision: vision}}
}

func (c *Cop) Breed() Breed { return BreedCop }

// Step arrests a random free active neighbor, if any, then possibly moves.
// The sentence is drawn from [0, MaxJailTerm]; a zero sentence is a valid
// draw that leaves the arrestee free.
func (c *Cop) Step(env *Env) error {
	view := NewView(env.Space, c.pos)

	if suspects := view.Citizens(isFreeActive); len(suspects) > 0 {
		arrestee := entropy.Choice(env.Rand, suspects)
		sentence := entropy.UniformInt(env.Rand, 0, env.Params.MaxJailTerm)
		arrestee.Jail(sentence)
		env.emit(Event{Kind: EventArrest, Actor: c.id, Target: arrestee.id, Sentence: sentence})
	}

	return moveRandomly(c, env, view)
}

func (c *Cop) Record() Record {
	return Record{ID: c.id, Breed: BreedCop, X: c.pos.X, Y: c.pos.Y, Vision: c.vision}
}
