package agents

import "github.com/talgya/unrest/internal/world"

// View is what an agent sees around itself at the start of its step.
// It is rebuilt on every step since earlier agents may have moved this tick.
type View struct {
	Cells     []world.Coord // von Neumann neighborhood, center excluded
	Neighbors []Agent       // occupants of Cells
	Empty     []world.Coord // unoccupied subset of Cells
}

// NewView reads the neighborhood of pos from the space.
func NewView(space Space, pos world.Coord) View {
	cells := space.Neighborhood(pos, neighborhoodRadius)
	empty := make([]world.Coord, 0, len(cells))
	for _, c := range cells {
		if space.IsEmpty(c) {
			empty = append(empty, c)
		}
	}
	return View{
		Cells:     cells,
		Neighbors: space.Occupants(cells),
		Empty:     empty,
	}
}

// Cops returns the number of cops in view.
func (v View) Cops() int {
	n := 0
	for _, a := range v.Neighbors {
		if a.Breed() == BreedCop {
			n++
		}
	}
	return n
}

// Citizens returns the neighboring citizens that satisfy keep.
func (v View) Citizens(keep func(*Citizen) bool) []*Citizen {
	var out []*Citizen
	for _, a := range v.Neighbors {
		c, ok := a.(*Citizen)
		if !ok || !keep(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// isFreeActive reports an active citizen who is not in jail.
func isFreeActive(c *Citizen) bool {
	return c.condition == Active && c.jailSentence == 0
}

func isQuiescent(c *Citizen) bool {
	return c.condition == Quiescent
}
