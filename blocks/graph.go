package blocks

import (
	"errors"

	"github.com/toncenter/ton-indexer/ton-event-classifier/models"
)

var (
	// ErrEmptyTrace signals a malformed input trace with zero transactions.
	ErrEmptyTrace = errors.New("trace has no transactions")
	// ErrNoBody is returned for blocks whose message carries no body.
	ErrNoBody = errors.New("block has no message body")
)

// BuildGraph derives the initial block DAG from a loaded trace. Every message
// becomes one raw call block; a block B1 precedes B2 when B2's receiving
// transaction was caused by a message B1's transaction sent.
func BuildGraph(trace *models.Trace) (*Graph, error) {
	if len(trace.Transactions) == 0 {
		return nil, ErrEmptyTrace
	}
	g := &Graph{trace: trace, Root: None}

	byInMsg := map[string]*Block{}
	for _, tx := range trace.Transactions {
		b := g.add(&Block{
			Kind:     KindCall,
			Prev:     None,
			Msg:      tx.InMsg,
			Tx:       tx,
			MinLt:    tx.Lt,
			MaxLt:    tx.Lt,
			MinUtime: tx.Now,
			MaxUtime: tx.Now,
		})
		b.active = true
		if tx.InMsg != nil {
			if tx.InMsg.CreatedLt != 0 && tx.InMsg.CreatedLt < b.MinLt {
				b.MinLt = tx.InMsg.CreatedLt
			}
			byInMsg[tx.InMsg.Hash] = b
		}
	}

	// Second pass: causal edges. Out messages without a receiving transaction
	// (external-out events, still-pending deliveries) get dangling blocks so
	// rules can still match on them.
	for i, tx := range trace.Transactions {
		parent := g.blocks[i]
		for _, m := range tx.OutMsgs {
			child, ok := byInMsg[m.Hash]
			if !ok {
				child = g.add(&Block{
					Kind:     KindCall,
					Prev:     None,
					Msg:      m,
					MinLt:    m.CreatedLt,
					MaxLt:    m.CreatedLt,
					MinUtime: tx.Now,
					MaxUtime: tx.Now,
				})
				child.active = true
			}
			child.Prev = parent.ID
			parent.Next = append(parent.Next, child.ID)
		}
	}

	// Root: the earliest block with no causal predecessor.
	for _, b := range g.Active() {
		if b.Prev == None {
			g.Root = b.ID
			break
		}
	}
	if g.Root == None {
		g.Root = g.blocks[0].ID
	}
	return g, nil
}
