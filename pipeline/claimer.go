package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/toncenter/ton-indexer/ton-event-classifier/models"
)

// Claimer leases backlog rows and partitions them into worker batches:
// every seqno task gets a singleton batch (it expands to all traces closing
// at that seqno), explicit trace tasks travel together as one batch.
type Claimer struct {
	store     *Store
	batchSize int
	out       chan<- []models.ClassifierTask
}

func NewClaimer(store *Store, batchSize int, out chan<- []models.ClassifierTask) *Claimer {
	return &Claimer{store: store, batchSize: batchSize, out: out}
}

// Run claims until ctx is done. Claim failures are logged and retried; the
// bounded output channel provides natural backpressure.
func (c *Claimer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		tasks, err := c.store.ClaimTasks(ctx, c.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Failed to claim tasks: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if len(tasks) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for _, batch := range splitTasksIntoBatches(tasks) {
			select {
			case c.out <- batch:
			case <-ctx.Done():
				return
			}
		}
	}
}

func splitTasksIntoBatches(tasks []models.ClassifierTask) [][]models.ClassifierTask {
	var batches [][]models.ClassifierTask
	var traceBatch []models.ClassifierTask
	for _, t := range tasks {
		if t.IsTraceTask() {
			traceBatch = append(traceBatch, t)
		} else {
			batches = append(batches, []models.ClassifierTask{t})
		}
	}
	if len(traceBatch) > 0 {
		batches = append(batches, traceBatch)
	}
	return batches
}
