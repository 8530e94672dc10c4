package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/toncenter/ton-indexer/ton-event-classifier/models"
)

var (
	tracesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classifier_traces_processed_total",
		Help: "Traces classified since process start.",
	})
	tracesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classifier_traces_failed_total",
		Help: "Traces that failed classification.",
	})
	tracesBroken = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classifier_traces_broken_total",
		Help: "Traces recognized but semantically broken.",
	})
	batchesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classifier_batches_failed_total",
		Help: "Batches rolled back and left for lease-expiry retry.",
	})
)

// Stats aggregates batch outcomes and periodically logs throughput.
type Stats struct {
	in <-chan models.BatchResult
}

func NewStats(in <-chan models.BatchResult) *Stats {
	return &Stats{in: in}
}

func (s *Stats) Run(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	var total, failed, broken, badBatches int64
	last := time.Now()
	var lastTotal int64
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-s.in:
			if !res.Ok {
				badBatches++
				batchesFailed.Inc()
				continue
			}
			total += int64(res.Traces)
			failed += int64(res.Failed)
			broken += int64(res.Broken)
			tracesProcessed.Add(float64(res.Traces))
			tracesFailed.Add(float64(res.Failed))
			tracesBroken.Add(float64(res.Broken))
		case <-ticker.C:
			elapsed := time.Since(last).Seconds()
			rate := float64(total-lastTotal) / elapsed
			log.Printf("Processed %d traces (%.1f/s), failed: %d, broken: %d, failed batches: %d",
				total, rate, failed, broken, badBatches)
			last = time.Now()
			lastTotal = total
		}
	}
}
