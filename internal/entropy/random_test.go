package entropy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUniformIntCoversClosedRange(t *testing.T) {
	src := New(1)
	seen := map[int]bool{}
	for i := 0; i < 2000; i++ {
		v := UniformInt(src, 0, 4)
		assert.GreaterOrEqual(t, v, 0)
		assert.LessOrEqual(t, v, 4)
		seen[v] = true
	}
	assert.Len(t, seen, 5, "both endpoints must be reachable")
}

func TestUniformIntDegenerateRange(t *testing.T) {
	src := New(1)
	for i := 0; i < 10; i++ {
		assert.Equal(t, 0, UniformInt(src, 0, 0))
	}
}

func TestChoiceIsSeeded(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e", "f"}
	a, b := New(99), New(99)
	for i := 0; i < 50; i++ {
		assert.Equal(t, Choice(a, items), Choice(b, items))
	}
}

func TestRandomSeedPositive(t *testing.T) {
	for i := 0; i < 20; i++ {
		assert.Positive(t, RandomSeed())
	}
}
