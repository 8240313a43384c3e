// File: internal/browser/humanoid/noise.go
package humanoid

import (
	"math"
	"math/rand"
)

// PinkNoiseGenerator implements the stochastic Voss-McCartney algorithm for 1/f noise.
// Successive samples are correlated, so the pointer drifts instead of buzzing.
type PinkNoiseGenerator struct {
	rng    *rand.Rand
	values []float64 // current value of each white noise source
	p      []float64 // probability of each source being updated
	pink   float64   // running sum of sources
	scale  float64
}

// NewPinkNoiseGenerator creates a generator with n sources (12 is typical).
func NewPinkNoiseGenerator(rng *rand.Rand, n int) *PinkNoiseGenerator {
	if n <= 0 {
		n = 12
	}
	g := &PinkNoiseGenerator{
		rng:    rng,
		values: make([]float64, n),
		p:      make([]float64, n),
		scale:  1.0 / math.Sqrt(float64(n)),
	}

	total := 0.0
	for i := range g.p {
		g.p[i] = math.Pow(2, float64(-i))
		total += g.p[i]
	}
	for i := range g.p {
		g.p[i] /= total
	}

	for i := range g.values {
		g.values[i] = g.white()
		g.pink += g.values[i]
	}
	return g
}

func (g *PinkNoiseGenerator) white() float64 {
	return g.rng.Float64()*2.0 - 1.0
}

// Next returns the next sample, roughly within [-1, 1].
func (g *PinkNoiseGenerator) Next() float64 {
	r := g.rng.Float64()
	idx := len(g.p) - 1
	cumulative := 0.0
	for i, p := range g.p {
		cumulative += p
		if r < cumulative {
			idx = i
			break
		}
	}

	next := g.white()
	g.pink += next - g.values[idx]
	g.values[idx] = next
	return g.pink * g.scale
}
