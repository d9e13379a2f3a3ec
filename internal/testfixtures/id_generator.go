package testfixtures

import (
	"fmt"
	"sync"
)

// IDGenerator produces sortable migration ids: 0001_<name>, 0002_<name>, ...
type IDGenerator struct {
	mu      sync.Mutex
	counter uint64
}

// NewIDGenerator constructs a generator starting at 1.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

// Next returns the next id for name.
func (g *IDGenerator) Next(name string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("%04d_%s", g.counter, name)
}
