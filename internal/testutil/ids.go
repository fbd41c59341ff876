package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates "<prefix>-001", "<prefix>-002", ... for tests.
//
// Thread-safety: SequentialIDs is safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. An empty prefix means "act".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "act"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%03d", g.prefix, g.n)
}
