package game

import (
	"math/rand"
	"sync"
	"time"
)

// Rand is the random source a Game draws from. Injecting it keeps
// widget selection and turn lengths deterministic in tests.
type Rand interface {
	// UniformInt returns a uniformly distributed integer in
	// [low, high], both bounds inclusive.
	UniformInt(low, high int) int
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a time-seeded Rand safe for concurrent use.
func NewRand() Rand {
	return &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (l *lockedRand) UniformInt(low, high int) int {
	if high <= low {
		return low
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return low + l.r.Intn(high-low+1)
}
