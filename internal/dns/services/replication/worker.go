package replication

import (
	"github.com/haukened/kdns/internal/dns/domain"
	"github.com/haukened/kdns/internal/dns/repos/recordtable"
)

// Worker is one core's end of the fanout: a bounded FIFO of mutations and
// the private table they are applied to. Only the owning core may call Drain
// or read the table.
type Worker struct {
	id    int
	queue chan *domain.Mutation
	table *recordtable.Table
}

// ID returns the registration index.
func (w *Worker) ID() int { return w.id }

// Table returns the worker's private record table.
func (w *Worker) Table() *recordtable.Table { return w.table }

// Drain applies every queued mutation in order without blocking and returns
// how many were applied.
func (w *Worker) Drain() int {
	n := 0
	for {
		select {
		case m := <-w.queue:
			w.table.Apply(m)
			n++
		default:
			return n
		}
	}
}

// Pending returns the number of queued mutations.
func (w *Worker) Pending() int { return len(w.queue) }
