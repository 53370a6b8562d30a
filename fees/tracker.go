package fees

import (
	"math/big"
	"sync"
)

// GasTracker keeps a bounded window of recent gas price samples. It is fed
// by the gas price poller and read by every fee estimate.
type GasTracker struct {
	mu      sync.RWMutex
	size    int
	samples []*big.Int
}

func NewGasTracker(size int) *GasTracker {
	if size < 4 {
		size = 4
	}
	return &GasTracker{size: size}
}

func (g *GasTracker) Add(price *big.Int) {
	if price == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.samples = append(g.samples, new(big.Int).Set(price))
	if len(g.samples) > g.size {
		g.samples = g.samples[len(g.samples)-g.size:]
	}
}

// Samples returns a copy, oldest first.
func (g *GasTracker) Samples() []*big.Int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	res := make([]*big.Int, len(g.samples))
	for i, s := range g.samples {
		res[i] = new(big.Int).Set(s)
	}
	return res
}

// Latest returns the last sample or nil.
func (g *GasTracker) Latest() *big.Int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(g.samples) == 0 {
		return nil
	}
	return new(big.Int).Set(g.samples[len(g.samples)-1])
}
