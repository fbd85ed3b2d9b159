package budget

import (
	"math/rand"
	"sync"
	"time"
)

// DefaultSampleRate is the share of observations transmitted by default.
const DefaultSampleRate = 0.1

// Sampler decides whether an observation is transmitted. It only gates
// transmission; classification always happens locally.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler creates a sampler drawing from src. A nil src seeds from the clock.
func NewSampler(src rand.Source) *Sampler {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Sampler{rng: rand.New(src)}
}

// ShouldSample returns true with probability rate.
func (s *Sampler) ShouldSample(rate float64) bool {
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < rate
}

// ClampRate bounds rate to [0, 1].
func ClampRate(rate float64) float64 {
	if rate < 0 {
		return 0
	}
	if rate > 1 {
		return 1
	}
	return rate
}
