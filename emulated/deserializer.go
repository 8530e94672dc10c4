package emulated

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/toncenter/ton-indexer/ton-event-classifier/models"
)

type hash [32]byte

func (h hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.StdEncoding.EncodeToString(h[:]))
}

func (h hash) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeBytes(h[:])
}

func (h *hash) DecodeMsgpack(dec *msgpack.Decoder) error {
	bytes, err := dec.DecodeBytes()
	if err != nil {
		return err
	}
	if len(bytes) != 32 {
		return fmt.Errorf("invalid hash length: expected 32 bytes, got %d", len(bytes))
	}
	copy(h[:], bytes)
	return nil
}

func (h hash) Base64() string {
	return base64.StdEncoding.EncodeToString(h[:])
}

type trMessage struct {
	Hash        hash    `msgpack:"hash"`
	Source      *string `msgpack:"source"`
	Destination *string `msgpack:"destination"`
	Value       *uint64 `msgpack:"value"`
	CreatedLt   *uint64 `msgpack:"created_lt"`
	Opcode      *int32  `msgpack:"opcode"`
	BodyBoc     []byte  `msgpack:"body_boc"`
}

type transactionDescr struct {
	Aborted bool `msgpack:"aborted"`
}

type trTransaction struct {
	Hash        hash             `msgpack:"hash"`
	Account     string           `msgpack:"account"`
	Lt          uint64           `msgpack:"lt"`
	Now         uint32           `msgpack:"now"`
	InMsg       *trMessage       `msgpack:"in_msg"`
	OutMsgs     []trMessage      `msgpack:"out_msgs"`
	Description transactionDescr `msgpack:"description"`
}

type traceNode struct {
	Transaction  trTransaction `msgpack:"transaction"`
	Emulated     bool          `msgpack:"emulated"`
	McBlockSeqno uint32        `msgpack:"mc_block_seqno"`
}

// DeserializeTrace rebuilds a trace from an emulation snapshot hset: the
// "root_node" field names the root transaction key, every transaction node is
// a msgpack blob keyed by its in-message hash, and children are discovered by
// following out-message hashes.
func DeserializeTrace(traceMap map[string]string) (*models.Trace, error) {
	rootNodeId, exists := traceMap["root_node"]
	if !exists {
		return nil, fmt.Errorf("root_node not found in trace snapshot")
	}

	trace := &models.Trace{
		TraceID:      rootNodeId,
		ExternalHash: rootNodeId,
		State:        "complete",
	}
	queue := []string{rootNodeId}
	seen := map[string]bool{rootNodeId: true}
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		nodeData, exists := traceMap[key]
		if !exists {
			return nil, fmt.Errorf("key %s not found in trace snapshot", key)
		}
		var node traceNode
		if err := msgpack.Unmarshal([]byte(nodeData), &node); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node %s: %w", key, err)
		}
		tx := convertTransaction(&node.Transaction)
		tx.Emulated = node.Emulated
		trace.Transactions = append(trace.Transactions, tx)
		if seqno := int32(node.McBlockSeqno); trace.McSeqnoEnd == nil || seqno > *trace.McSeqnoEnd {
			trace.McSeqnoEnd = &seqno
		}
		for _, out := range node.Transaction.OutMsgs {
			nextKey := out.Hash.Base64()
			if _, exists := traceMap[nextKey]; exists && !seen[nextKey] {
				seen[nextKey] = true
				queue = append(queue, nextKey)
			}
		}
	}
	sort.Slice(trace.Transactions, func(i, j int) bool {
		return trace.Transactions[i].Lt < trace.Transactions[j].Lt
	})
	trace.Nodes = int32(len(trace.Transactions))
	return trace, nil
}

func convertTransaction(t *trTransaction) *models.Transaction {
	out := &models.Transaction{
		Hash:    t.Hash.Base64(),
		Account: t.Account,
		Lt:      t.Lt,
		Now:     t.Now,
		Descr:   "ord",
		Aborted: t.Description.Aborted,
	}
	if t.InMsg != nil {
		out.InMsg = convertMessage(t.InMsg)
	}
	for i := range t.OutMsgs {
		out.OutMsgs = append(out.OutMsgs, convertMessage(&t.OutMsgs[i]))
	}
	return out
}

func convertMessage(m *trMessage) *models.Message {
	msg := &models.Message{
		Hash:        m.Hash.Base64(),
		Source:      m.Source,
		Destination: m.Destination,
		BodyBoc:     m.BodyBoc,
	}
	if m.Value != nil {
		msg.Value = *m.Value
	}
	if m.CreatedLt != nil {
		msg.CreatedLt = *m.CreatedLt
	}
	if m.Opcode != nil {
		op := uint32(*m.Opcode)
		msg.Opcode = &op
	}
	return msg
}
