package pipeline

import (
	"context"
	"log"
	"time"
)

const finishWindow = 10 * time.Second

// Finisher is the secondary acknowledgement path: completed task ids are
// accumulated for a time window and flushed in one delete. Losing a flush is
// harmless, the tasks are simply reclaimed after their lease expires.
type Finisher struct {
	store *Store
	in    <-chan int64
}

func NewFinisher(store *Store, in <-chan int64) *Finisher {
	return &Finisher{store: store, in: in}
}

func (f *Finisher) Run(ctx context.Context) {
	ticker := time.NewTicker(finishWindow)
	defer ticker.Stop()
	var pending []int64
	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := f.store.DeleteTasksDirect(ctx, pending); err != nil {
			log.Printf("Failed to close %d finished tasks: %v", len(pending), err)
			return
		}
		log.Printf("Closed %d finished tasks", len(pending))
		pending = pending[:0]
	}
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-f.in:
			pending = append(pending, id)
		case <-ticker.C:
			flush()
		}
	}
}
