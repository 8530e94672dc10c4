package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/toncenter/ton-indexer/ton-event-classifier/blocks"
	"github.com/toncenter/ton-indexer/ton-event-classifier/driver"
	"github.com/toncenter/ton-indexer/ton-event-classifier/interfaces"
	"github.com/toncenter/ton-indexer/ton-event-classifier/models"
)

// Worker pulls task batches and processes each one as a single transactional
// unit: cleanup of superseded actions, bulk trace load, batch-shared
// interface warmup, concurrent classification, staging and task completion
// all commit or roll back together.
type Worker struct {
	id    int
	store *Store
	repo  *interfaces.RedisRepository
	env   *blocks.Env
	rules []blocks.Rule

	bigTracesThreshold int32

	in       <-chan []models.ClassifierTask
	results  chan<- models.BatchResult
	finished chan<- int64 // optional; when nil tasks are deleted inline
}

type WorkerConfig struct {
	Store              *Store
	Repo               *interfaces.RedisRepository
	Pools              *interfaces.PoolRegistry
	Rules              []blocks.Rule
	BigTracesThreshold int32
	In                 <-chan []models.ClassifierTask
	Results            chan<- models.BatchResult
	Finished           chan<- int64
}

func NewWorker(id int, cfg WorkerConfig) *Worker {
	return &Worker{
		id:                 id,
		store:              cfg.Store,
		repo:               cfg.Repo,
		env:                &blocks.Env{Repo: cfg.Repo, Pools: cfg.Pools},
		rules:              cfg.Rules,
		bigTracesThreshold: cfg.BigTracesThreshold,
		in:                 cfg.In,
		results:            cfg.Results,
		finished:           cfg.Finished,
	}
}

func (w *Worker) Run(ctx context.Context) {
	for {
		var batch []models.ClassifierTask
		select {
		case <-ctx.Done():
			return
		case batch = <-w.in:
		}
		res, err := w.processBatch(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Worker #%d failed to process batch: %v", w.id, err)
			res = models.BatchResult{}
		}
		select {
		case w.results <- res:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) processBatch(ctx context.Context, tasks []models.ClassifierTask) (models.BatchResult, error) {
	if len(tasks) == 0 {
		return models.BatchResult{Ok: true}, nil
	}
	tx, err := w.store.Begin(ctx)
	if err != nil {
		return models.BatchResult{}, fmt.Errorf("begin batch tx: %w", err)
	}
	defer tx.Rollback(ctx)

	isTraceBatch := tasks[0].IsTraceTask()
	var traceIDs []string
	var seqnos []int32
	var cleanup []string
	for _, t := range tasks {
		if t.IsTraceTask() != isTraceBatch {
			return models.BatchResult{}, fmt.Errorf("mixed task kinds in one batch")
		}
		if t.TraceID != nil {
			traceIDs = append(traceIDs, *t.TraceID)
			cleanup = append(cleanup, *t.TraceID)
		}
		if t.McSeqno != nil {
			seqnos = append(seqnos, *t.McSeqno)
			classified, err := w.store.SeqnoClassified(ctx, tx, *t.McSeqno)
			if err != nil {
				return models.BatchResult{}, err
			}
			if classified {
				ids, err := w.store.TraceIDsBySeqno(ctx, tx, *t.McSeqno)
				if err != nil {
					return models.BatchResult{}, err
				}
				cleanup = append(cleanup, ids...)
			}
		}
	}
	if err := w.store.DeleteActions(ctx, tx, cleanup); err != nil {
		return models.BatchResult{}, err
	}

	var traces []*models.Trace
	if isTraceBatch {
		traces, err = w.store.LoadTracesByIDs(ctx, tx, traceIDs)
	} else {
		traces, err = w.store.LoadTracesBySeqnos(ctx, tx, seqnos, w.bigTracesThreshold)
	}
	if err != nil {
		return models.BatchResult{}, err
	}

	if err := w.warmInterfaces(ctx, tx, traces); err != nil {
		return models.BatchResult{}, err
	}

	// Traces are independent; classify them concurrently while sharing the
	// warmed repository.
	results := make([]*driver.Result, len(traces))
	g, gctx := errgroup.WithContext(ctx)
	for i, trace := range traces {
		g.Go(func() error {
			res, err := driver.Classify(gctx, w.env, trace, w.rules)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.BatchResult{}, err
	}

	// Duplicate keys across the staged batch indicate a rule-authoring bug
	// and abort the whole transaction.
	seenActions := map[string]bool{}
	seenAccounts := map[string]bool{}
	var failed, broken int
	for i, trace := range traces {
		res := results[i]
		for _, a := range res.Actions {
			key := a.ActionID + "_" + a.TraceID
			if seenActions[key] {
				return models.BatchResult{}, fmt.Errorf("duplicate action %s", key)
			}
			seenActions[key] = true
			for _, aa := range a.ActionAccounts() {
				akey := aa.Account + "_" + aa.ActionID + "_" + aa.TraceID
				if seenAccounts[akey] {
					return models.BatchResult{}, fmt.Errorf("duplicate action account %s", akey)
				}
				seenAccounts[akey] = true
			}
		}
		if err := w.store.InsertActions(ctx, tx, res.Actions); err != nil {
			return models.BatchResult{}, err
		}
		switch res.State {
		case driver.StateBroken:
			broken++
			rec := models.ClassifierFailedTrace{TraceID: trace.TraceID, Broken: true}
			if err := w.store.InsertFailedTrace(ctx, tx, rec); err != nil {
				return models.BatchResult{}, err
			}
		case driver.StateFailed:
			failed++
			msg := "classification failed"
			if res.Err != nil {
				msg = res.Err.Error()
			}
			rec := models.ClassifierFailedTrace{TraceID: trace.TraceID, Error: &msg}
			if err := w.store.InsertFailedTrace(ctx, tx, rec); err != nil {
				return models.BatchResult{}, err
			}
		}
		if err := w.store.SetClassificationState(ctx, tx, trace.TraceID, res.State); err != nil {
			return models.BatchResult{}, err
		}
	}

	if !isTraceBatch {
		for _, seqno := range seqnos {
			if err := w.store.MarkSeqnoClassified(ctx, tx, seqno); err != nil {
				return models.BatchResult{}, err
			}
		}
	}

	taskIDs := make([]int64, 0, len(tasks))
	for _, t := range tasks {
		taskIDs = append(taskIDs, t.ID)
	}
	if w.finished == nil {
		if err := w.store.DeleteTasks(ctx, tx, taskIDs); err != nil {
			return models.BatchResult{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return models.BatchResult{}, fmt.Errorf("commit batch tx: %w", err)
	}
	if w.finished != nil {
		for _, id := range taskIDs {
			select {
			case w.finished <- id:
			case <-ctx.Done():
				return models.BatchResult{}, ctx.Err()
			}
		}
	}
	return models.BatchResult{Ok: true, Traces: len(traces), Failed: failed, Broken: broken}, nil
}

// warmInterfaces resolves every account referenced across the batch once and
// shares the result with rule evaluation through the repository.
func (w *Worker) warmInterfaces(ctx context.Context, tx pgx.Tx, traces []*models.Trace) error {
	seen := map[string]bool{}
	var accounts []string
	for _, trace := range traces {
		for _, t := range trace.Transactions {
			if !seen[t.Account] {
				seen[t.Account] = true
				accounts = append(accounts, t.Account)
			}
		}
	}
	wallets, err := w.store.GatherInterfaces(ctx, tx, accounts)
	if err != nil {
		return err
	}
	if len(wallets) == 0 {
		return nil
	}
	return w.repo.PutJettonWallets(ctx, wallets)
}
