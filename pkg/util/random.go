package utils

import (
	"math/rand"
	"sync"
	"time"
)

// Random is the source of every randomized protocol decision (drops, response latency, ping
// jitter). Tests pass a seeded source to make runs reproducible.
type Random interface {
	Chance(p float64) bool
	Duration(min, max time.Duration) time.Duration
}

type RandomSource struct {
	mut sync.Mutex
	gen *rand.Rand
}

func CreateRandomSource(seed int64) *RandomSource {
	return &RandomSource{
		mut: sync.Mutex{},
		gen: rand.New(rand.NewSource(seed)),
	}
}

// CreateRandomSourceFromSeed treats seed 0 as "seed from the current time".
func CreateRandomSourceFromSeed(seed int64) *RandomSource {
	if seed == 0 {
		seed = time.Now().UnixMicro()
	}
	return CreateRandomSource(seed)
}

func (g *RandomSource) Float64() float64 {
	g.mut.Lock()
	defer g.mut.Unlock()
	return g.gen.Float64()
}

// Chance reports true with probability p. p <= 0 never fires and p >= 1 always does, without
// consuming a draw.
func (g *RandomSource) Chance(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return g.Float64() < p
}

// Duration draws uniformly from [min, max). A degenerate range returns min.
func (g *RandomSource) Duration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	g.mut.Lock()
	defer g.mut.Unlock()
	return min + time.Duration(g.gen.Int63n(int64(max-min)))
}

var letters = []rune("123456789abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ")

func (g *RandomSource) GetRandomString(n int) string {
	g.mut.Lock()
	defer g.mut.Unlock()

	b := make([]rune, n)
	for i := range b {
		b[i] = letters[g.gen.Intn(len(letters))]
	}
	return string(b)
}

func Contains(needle string, haystack []string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
