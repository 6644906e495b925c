// Package entropy provides the seedable random source injected into every run.
// A zero seed is replaced with one drawn from crypto/rand so unseeded runs
// still report the seed that reproduces them.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
)

// Source is a deterministic random stream for a single run. Not safe for
// concurrent use; each run owns its own Source.
type Source struct {
	seed int64
	rng  *mrand.Rand
}

// New creates a Source. A seed of 0 picks a random seed.
func New(seed int64) *Source {
	if seed == 0 {
		seed = CryptoSeed()
	}
	return &Source{
		seed: seed,
		rng:  mrand.New(mrand.NewSource(seed)),
	}
}

// Seed returns the seed that reproduces this stream.
func (s *Source) Seed() int64 {
	return s.seed
}

// Float returns a float64 in [0, 1).
func (s *Source) Float() float64 {
	return s.rng.Float64()
}

// Intn returns an int in [0, n). Panics if n <= 0, like math/rand.
func (s *Source) Intn(n int) int {
	return s.rng.Intn(n)
}

// Int63 returns a non-negative int64, used to derive seeds for sub-generators.
func (s *Source) Int63() int64 {
	return s.rng.Int63()
}

// Bernoulli returns true with probability p.
func (s *Source) Bernoulli(p float64) bool {
	return s.rng.Float64() < p
}

// Choice draws an index with probability proportional to weights.
// Negative weights count as zero. If every weight is zero the draw is uniform.
func (s *Source) Choice(weights []float64) int {
	var total float64
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return s.rng.Intn(len(weights))
	}

	r := s.rng.Float64() * total
	last := 0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		last = i
		if r < w {
			return i
		}
		r -= w
	}
	// Float rounding can leave r marginally above the final weight.
	return last
}

// CryptoSeed returns a positive seed from crypto/rand.
func CryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// This should never happen; fall back to a fixed nonzero seed.
		return 1
	}
	seed := int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
	if seed == 0 {
		return 1
	}
	return seed
}
