package workerpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerator_Unique(t *testing.T) {
	gen := NewGenerator()

	seen := make(map[string]struct{})
	for i := 0; i < 10_000; i++ {
		id := gen.Next()
		_, dup := seen[id]
		require.False(t, dup, "an identifier must never be minted twice")
		seen[id] = struct{}{}
	}
}

func TestGenerator_UniqueAcrossGoroutines(t *testing.T) {
	gen := NewGenerator()

	const goroutines = 8
	const perGoroutine = 1_000

	var wg sync.WaitGroup
	results := make([][]string, goroutines)
	for g := 0; g < goroutines; g++ {
		g := g
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]string, 0, perGoroutine)
			for i := 0; i < perGoroutine; i++ {
				ids = append(ids, gen.Next())
			}
			results[g] = ids
		}()
	}
	wg.Wait()

	seen := make(map[string]struct{}, goroutines*perGoroutine)
	for _, ids := range results {
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}
	require.Len(t, seen, goroutines*perGoroutine,
		"concurrent minting must not produce collisions")
}
