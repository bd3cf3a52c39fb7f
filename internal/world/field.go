// Hardship fields using layered simplex noise.
// Produces spatially clustered values so deprived neighborhoods form pockets
// instead of salt-and-pepper noise.
package world

import (
	opensimplex "github.com/ojrac/opensimplex-go"
)

// Field holds one value in [0, 1] per grid cell.
type Field struct {
	Width  int
	Height int
	values []float64
}

// At returns the field value at c. Out-of-range coordinates return 0.
func (f *Field) At(c Coord) float64 {
	if c.X < 0 || c.X >= f.Width || c.Y < 0 || c.Y >= f.Height {
		return 0
	}
	return f.values[c.X*f.Height+c.Y]
}

// NoiseField samples multi-octave simplex noise over a width×height grid.
// scale is the approximate feature size in cells; values <= 0 fall back to 8.
func NoiseField(width, height int, seed int64, scale float64) *Field {
	if scale <= 0 {
		scale = 8
	}
	noise := opensimplex.NewNormalized(seed)
	f := &Field{
		Width:  width,
		Height: height,
		values: make([]float64, width*height),
	}
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			v := octaveNoise(noise, float64(x)/scale, float64(y)/scale, 4, 1.0, 0.5)
			f.values[x*height+y] = clamp01(v)
		}
	}
	return f
}

// octaveNoise layers several frequencies of normalized noise and rescales
// the sum back into [0, 1].
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxAmp := 0.0
	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxAmp += amplitude
		amplitude *= persistence
		frequency *= 2
	}
	return total / maxAmp
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
