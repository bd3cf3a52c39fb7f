// Package entropy provides the simulation's random source.
// Every run owns one seeded generator so a seed fully determines the outcome;
// crypto/rand is only used to pick a seed when none is configured.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
)

// Source is the subset of *math/rand.Rand the simulation draws from.
type Source interface {
	Intn(n int) int
	Float64() float64
	Shuffle(n int, swap func(i, j int))
}

// New returns a deterministic generator for the given seed.
func New(seed int64) *mrand.Rand {
	return mrand.New(mrand.NewSource(seed))
}

// Choice returns an element of items chosen uniformly at random.
// items must be non-empty.
func Choice[T any](src Source, items []T) T {
	return items[src.Intn(len(items))]
}

// UniformInt returns an integer in the closed range [low, high].
func UniformInt(src Source, low, high int) int {
	if high <= low {
		return low
	}
	return low + src.Intn(high-low+1)
}

// RandomSeed draws a positive seed from crypto/rand.
func RandomSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand does not fail on supported platforms.
		return 1
	}
	seed := int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
	if seed == 0 {
		seed = 1
	}
	return seed
}
