package emulated

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/toncenter/ton-indexer/ton-event-classifier/blocks"
	"github.com/toncenter/ton-indexer/ton-event-classifier/interfaces"
	"github.com/toncenter/ton-indexer/ton-event-classifier/models"
)

func TestServiceProcessTask(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	extHash := testHash(0x01)
	root := traceNode{
		Transaction: trTransaction{
			Hash:    testHash(0x10),
			Account: "0:AAAA",
			Lt:      100,
			Now:     10,
			InMsg: &trMessage{
				Hash:        extHash,
				Source:      ptr("0:FFFF"),
				Destination: ptr("0:AAAA"),
				Value:       ptr(uint64(5000)),
				CreatedLt:   ptr(uint64(99)),
				Opcode:      ptr(int32(-559038737)), // 0xdeadbeef, matches no rule
			},
		},
		McBlockSeqno: 500,
	}
	taskID := "task-1"
	if err := client.HSet(ctx, "result_"+taskID,
		"root_node", extHash.Base64(),
		extHash.Base64(), packNode(t, root),
	).Err(); err != nil {
		t.Fatal(err)
	}

	svc := NewService(client, interfaces.NewPoolRegistry(nil), blocks.DefaultRules(), "classifier_tasks_channel")
	n, err := svc.processTask(ctx, taskID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected one catch-all action, got %d", n)
	}

	packed, err := client.HGet(ctx, "result_"+taskID, "actions").Bytes()
	if err != nil {
		t.Fatal(err)
	}
	var actions []models.Action
	if err := msgpack.Unmarshal(packed, &actions); err != nil {
		t.Fatal(err)
	}
	if len(actions) != 1 || actions[0].Type != "unknown" {
		t.Fatalf("stored actions = %+v", actions)
	}
}

// The stored blob is read back by external consumers that address fields by
// their snake_case keys, so the exact key set is part of the contract.
func TestServiceStoredActionWireFormat(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	extHash := testHash(0x01)
	root := traceNode{
		Transaction: trTransaction{
			Hash:    testHash(0x10),
			Account: "0:AAAA",
			Lt:      100,
			Now:     10,
			InMsg: &trMessage{
				Hash:        extHash,
				Source:      ptr("0:FFFF"),
				Destination: ptr("0:AAAA"),
				Value:       ptr(uint64(5000)),
				CreatedLt:   ptr(uint64(99)),
				Opcode:      ptr(int32(-559038737)),
			},
		},
		Emulated:     true,
		McBlockSeqno: 500,
	}
	taskID := "task-wire"
	if err := client.HSet(ctx, "result_"+taskID,
		"root_node", extHash.Base64(),
		extHash.Base64(), packNode(t, root),
	).Err(); err != nil {
		t.Fatal(err)
	}

	svc := NewService(client, interfaces.NewPoolRegistry(nil), blocks.DefaultRules(), "classifier_tasks_channel")
	if _, err := svc.processTask(ctx, taskID); err != nil {
		t.Fatal(err)
	}

	packed, err := client.HGet(ctx, "result_"+taskID, "actions").Bytes()
	if err != nil {
		t.Fatal(err)
	}
	var raw []map[string]any
	if err := msgpack.Unmarshal(packed, &raw); err != nil {
		t.Fatal(err)
	}
	if len(raw) != 1 {
		t.Fatalf("expected one action, got %d", len(raw))
	}
	a := raw[0]
	for _, key := range []string{"action_id", "type", "tx_hashes", "start_lt", "end_lt", "start_utime", "end_utime", "success", "call_contract_data"} {
		if _, ok := a[key]; !ok {
			t.Fatalf("key %q missing from stored action, got keys %v", key, keysOf(a))
		}
	}
	if a["type"] != "unknown" {
		t.Fatalf("type = %v", a["type"])
	}
	// The root transaction is emulated: the action is keyed by external hash
	// and carries no trace id.
	if _, ok := a["trace_id"]; ok {
		t.Fatalf("emulated trace must not carry a trace_id, got %v", a["trace_id"])
	}
	if a["trace_external_hash"] != extHash.Base64() {
		t.Fatalf("trace_external_hash = %v, want %s", a["trace_external_hash"], extHash.Base64())
	}
}

func keysOf(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestServiceProcessTaskMissingSnapshot(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	svc := NewService(client, interfaces.NewPoolRegistry(nil), blocks.DefaultRules(), "classifier_tasks_channel")
	if _, err := svc.processTask(context.Background(), "absent"); err == nil {
		t.Fatal("expected error for absent snapshot")
	}
}
