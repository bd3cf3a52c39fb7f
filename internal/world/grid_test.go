package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type token struct {
	name string
	pos  Coord
}

func (t *token) Pos() Coord     { return t.pos }
func (t *token) SetPos(c Coord) { t.pos = c }

func TestNeighborhood(t *testing.T) {
	t.Run("interior cell has four neighbors in row order", func(t *testing.T) {
		g := NewGrid[*token](5, 5, false)
		got := g.Neighborhood(Coord{2, 2}, 1)
		assert.Equal(t, []Coord{{2, 1}, {1, 2}, {3, 2}, {2, 3}}, got)
	})

	t.Run("bounded corner drops off-grid cells", func(t *testing.T) {
		g := NewGrid[*token](5, 5, false)
		got := g.Neighborhood(Coord{0, 0}, 1)
		assert.Equal(t, []Coord{{1, 0}, {0, 1}}, got)
	})

	t.Run("torus corner wraps", func(t *testing.T) {
		g := NewGrid[*token](5, 5, true)
		got := g.Neighborhood(Coord{0, 0}, 1)
		assert.Equal(t, []Coord{{0, 4}, {4, 0}, {1, 0}, {0, 1}}, got)
	})

	t.Run("narrow torus removes wrapped duplicates", func(t *testing.T) {
		g := NewGrid[*token](2, 1, true)
		got := g.Neighborhood(Coord{0, 0}, 1)
		assert.Equal(t, []Coord{{1, 0}}, got)
	})

	t.Run("center is never included", func(t *testing.T) {
		g := NewGrid[*token](3, 3, true)
		for _, c := range g.Cells() {
			assert.NotContains(t, g.Neighborhood(c, 1), c)
		}
	})
}

func TestPlaceAndRelocate(t *testing.T) {
	g := NewGrid[*token](3, 3, false)
	a := &token{name: "a"}
	b := &token{name: "b"}

	require.NoError(t, g.Place(a, Coord{0, 0}))
	require.NoError(t, g.Place(b, Coord{1, 0}))
	assert.Equal(t, Coord{0, 0}, a.Pos())
	assert.Equal(t, 2, g.Len())
	assert.Equal(t, 7, g.EmptyCount())

	err := g.Place(&token{}, Coord{1, 0})
	assert.ErrorIs(t, err, ErrOccupied)

	err = g.Place(&token{}, Coord{3, 0})
	assert.ErrorIs(t, err, ErrOutOfBounds)

	err = g.Relocate(a, Coord{1, 0})
	assert.ErrorIs(t, err, ErrOccupied)
	assert.Equal(t, Coord{0, 0}, a.Pos(), "failed move leaves agent in place")

	require.NoError(t, g.Relocate(a, Coord{0, 1}))
	assert.Equal(t, Coord{0, 1}, a.Pos())
	assert.True(t, g.IsEmpty(Coord{0, 0}))
	occ, ok := g.Occupant(Coord{0, 1})
	require.True(t, ok)
	assert.Same(t, a, occ)
	assert.Equal(t, 2, g.Len())

	require.NoError(t, g.Relocate(a, Coord{0, 1}), "moving onto own cell is a no-op")
}

func TestOccupantsKeepsCellOrder(t *testing.T) {
	g := NewGrid[*token](3, 3, false)
	a := &token{name: "a"}
	b := &token{name: "b"}
	require.NoError(t, g.Place(a, Coord{2, 1}))
	require.NoError(t, g.Place(b, Coord{1, 0}))

	got := g.Occupants(g.Neighborhood(Coord{1, 1}, 1))
	require.Len(t, got, 2)
	assert.Same(t, b, got[0])
	assert.Same(t, a, got[1])
}

func TestWrap(t *testing.T) {
	torus := NewGrid[*token](4, 3, true)
	assert.Equal(t, Coord{3, 2}, torus.Wrap(Coord{-1, -1}))
	assert.Equal(t, Coord{0, 0}, torus.Wrap(Coord{4, 3}))

	bounded := NewGrid[*token](4, 3, false)
	assert.Equal(t, Coord{-1, -1}, bounded.Wrap(Coord{-1, -1}))
}

func TestNoiseField(t *testing.T) {
	f := NoiseField(20, 10, 7, 5)
	for x := 0; x < 20; x++ {
		for y := 0; y < 10; y++ {
			v := f.At(Coord{x, y})
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
	assert.Equal(t, 0.0, f.At(Coord{-1, 0}))

	again := NoiseField(20, 10, 7, 5)
	assert.Equal(t, f.At(Coord{13, 4}), again.At(Coord{13, 4}), "same seed gives same field")
}
