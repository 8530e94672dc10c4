package emulated

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/toncenter/ton-indexer/ton-event-classifier/blocks"
	"github.com/toncenter/ton-indexer/ton-event-classifier/driver"
	"github.com/toncenter/ton-indexer/ton-event-classifier/interfaces"
)

// Service classifies emulated traces on demand. Task ids arrive on a pub/sub
// channel; the trace snapshot and its interface data live in a Redis hset
// named "result_<id>", and the caller is notified on a per-task channel.
type Service struct {
	client  *redis.Client
	pools   *interfaces.PoolRegistry
	rules   []blocks.Rule
	channel string
}

func NewService(client *redis.Client, pools *interfaces.PoolRegistry, rules []blocks.Rule, channel string) *Service {
	return &Service{client: client, pools: pools, rules: rules, channel: channel}
}

func (s *Service) Run(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription to %s closed", s.channel)
			}
			taskID := msg.Payload
			start := time.Now()
			n, err := s.processTask(ctx, taskID)
			if err != nil {
				log.Printf("Failed to process emulated task %s: %v", taskID, err)
				s.client.Set(ctx, "classifier_error_"+taskID, err.Error(), time.Hour)
				s.client.Publish(ctx, "classifier_result_channel_"+taskID, "error")
				continue
			}
			log.Printf("Processed emulated task %s in %s, %d actions", taskID, time.Since(start), n)
			s.client.Publish(ctx, "classifier_result_channel_"+taskID, "success")
		}
	}
}

func (s *Service) processTask(ctx context.Context, taskID string) (int, error) {
	traceMap, err := s.client.HGetAll(ctx, "result_"+taskID).Result()
	if err != nil {
		return 0, fmt.Errorf("load trace snapshot: %w", err)
	}
	if len(traceMap) == 0 {
		return 0, fmt.Errorf("no snapshot for task %s", taskID)
	}
	trace, err := DeserializeTrace(traceMap)
	if err != nil {
		return 0, err
	}

	// The snapshot carries its own interface data; no external lookups.
	env := &blocks.Env{
		Repo:  interfaces.NewEmulatedRepository(traceMap),
		Pools: s.pools,
	}
	res, err := driver.Classify(ctx, env, trace, s.rules)
	if err != nil {
		return 0, err
	}
	if res.State == driver.StateFailed && res.Err != nil {
		return 0, res.Err
	}
	// A trace rooted in an emulated transaction has no persisted trace id;
	// readers key its actions by the external hash instead.
	if len(trace.Transactions) > 0 && trace.Transactions[0].Emulated {
		for i := range res.Actions {
			res.Actions[i].TraceID = ""
			res.Actions[i].TraceExternalHash = trace.ExternalHash
		}
	}

	packed, err := msgpack.Marshal(res.Actions)
	if err != nil {
		return 0, fmt.Errorf("marshal actions: %w", err)
	}
	if err := s.client.HSet(ctx, "result_"+taskID, "actions", packed).Err(); err != nil {
		return 0, fmt.Errorf("store actions: %w", err)
	}
	return len(res.Actions), nil
}
