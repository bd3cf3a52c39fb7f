// Package world provides the square grid the agents live on.
// Cells are addressed by (x, y); a grid is either bounded or toroidal and
// holds at most one occupant per cell.
package world

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfBounds is returned when a coordinate lies outside a bounded grid.
	ErrOutOfBounds = errors.New("coordinate out of bounds")
	// ErrOccupied is returned when placing onto a cell that already has an occupant.
	ErrOccupied = errors.New("cell occupied")
)

// Coord is a cell position on the grid.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// Occupant is anything that can stand on a cell and be told where it stands.
type Occupant interface {
	Pos() Coord
	SetPos(Coord)
}

// Grid is a single-occupancy 2-D grid.
type Grid[A Occupant] struct {
	Width  int  `json:"width"`
	Height int  `json:"height"`
	Torus  bool `json:"torus"`

	cells map[Coord]A
}

// NewGrid creates an empty grid. A torus grid wraps at every edge.
func NewGrid[A Occupant](width, height int, torus bool) *Grid[A] {
	return &Grid[A]{
		Width:  width,
		Height: height,
		Torus:  torus,
		cells:  make(map[Coord]A, width*height),
	}
}

// InBounds returns true if the coordinate lies inside the grid rectangle.
func (g *Grid[A]) InBounds(c Coord) bool {
	return c.X >= 0 && c.X < g.Width && c.Y >= 0 && c.Y < g.Height
}

// Wrap folds a coordinate back onto a torus grid. Bounded grids return c unchanged.
func (g *Grid[A]) Wrap(c Coord) Coord {
	if !g.Torus {
		return c
	}
	return Coord{X: mod(c.X, g.Width), Y: mod(c.Y, g.Height)}
}

// Neighborhood returns the von Neumann neighborhood of pos, excluding pos itself.
// Order is row by row (dy outer, dx inner). On a torus, wrapped duplicates are
// dropped; on a bounded grid, cells past the edge are dropped.
func (g *Grid[A]) Neighborhood(pos Coord, radius int) []Coord {
	out := make([]Coord, 0, 2*radius*(radius+1))
	seen := make(map[Coord]struct{}, cap(out))
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			if abs(dx)+abs(dy) > radius {
				continue
			}
			c := g.Wrap(Coord{X: pos.X + dx, Y: pos.Y + dy})
			if !g.InBounds(c) || c == pos {
				continue
			}
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// Occupant returns the agent at c, if any.
func (g *Grid[A]) Occupant(c Coord) (A, bool) {
	a, ok := g.cells[c]
	return a, ok
}

// Occupants returns the agents standing on the given cells, in cell order.
func (g *Grid[A]) Occupants(cells []Coord) []A {
	out := make([]A, 0, len(cells))
	for _, c := range cells {
		if a, ok := g.cells[c]; ok {
			out = append(out, a)
		}
	}
	return out
}

// IsEmpty returns true if nobody stands on c.
func (g *Grid[A]) IsEmpty(c Coord) bool {
	_, ok := g.cells[c]
	return !ok
}

// Place puts a new agent on an empty cell.
func (g *Grid[A]) Place(a A, c Coord) error {
	if !g.InBounds(c) {
		return fmt.Errorf("place at %s: %w", c, ErrOutOfBounds)
	}
	if !g.IsEmpty(c) {
		return fmt.Errorf("place at %s: %w", c, ErrOccupied)
	}
	g.cells[c] = a
	a.SetPos(c)
	return nil
}

// Relocate moves an agent already on the grid to an empty cell.
func (g *Grid[A]) Relocate(a A, to Coord) error {
	from := a.Pos()
	if from == to {
		return nil
	}
	if !g.InBounds(to) {
		return fmt.Errorf("move %s -> %s: %w", from, to, ErrOutOfBounds)
	}
	if !g.IsEmpty(to) {
		return fmt.Errorf("move %s -> %s: %w", from, to, ErrOccupied)
	}
	delete(g.cells, from)
	g.cells[to] = a
	a.SetPos(to)
	return nil
}

// Cells returns every coordinate on the grid, column by column.
func (g *Grid[A]) Cells() []Coord {
	out := make([]Coord, 0, g.Width*g.Height)
	for x := 0; x < g.Width; x++ {
		for y := 0; y < g.Height; y++ {
			out = append(out, Coord{X: x, Y: y})
		}
	}
	return out
}

// Len returns the number of occupied cells.
func (g *Grid[A]) Len() int {
	return len(g.cells)
}

// EmptyCount returns the number of free cells.
func (g *Grid[A]) EmptyCount() int {
	return g.Width*g.Height - len(g.cells)
}

// String returns a summary of the grid.
func (g *Grid[A]) String() string {
	return fmt.Sprintf("Grid(%dx%d, torus=%t, occupied=%d)", g.Width, g.Height, g.Torus, g.Len())
}

func mod(a, n int) int {
	r := a % n
	if r < 0 {
		r += n
	}
	return r
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
