package workerpool

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Generator mints the identifiers used for unit ids, correlation ids
// and listener registrations. Identifiers combine a monotonic counter,
// a nanosecond timestamp and random entropy: uniqueness is practical
// collision-freedom within one process lifetime, not a cryptographic
// guarantee.
//
// Every component that mints ids owns its own Generator, there is no
// ambient global one.
type Generator struct {
	seq atomic.Uint64
}

func NewGenerator() *Generator {
	return &Generator{}
}

// Next is safe to call from any goroutine and never returns the same
// value twice for this Generator.
func (gen *Generator) Next() string {
	return fmt.Sprintf("%d-%d-%s", gen.seq.Add(1), time.Now().UnixNano(), uuid.NewString())
}
