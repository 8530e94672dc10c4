package blocks

import (
	"sort"

	"github.com/toncenter/ton-indexer/ton-event-classifier/models"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// ID is a stable index of a block inside its graph arena. Adjacency and merge
// ownership are id relations, never pointers, so merging cannot create cycles
// or dangling references.
type ID int32

// None marks an absent adjacency slot.
const None ID = -1

type Kind int

const (
	KindCall Kind = iota // raw contract call: one message and its receiving transaction
	KindTonTransfer
	KindJettonTransfer
	KindJettonSwap
	KindDexDepositLiquidity
	KindDexWithdrawLiquidity
	KindUnknown
	KindLabel   // transient tag attached during one matching pass, never persisted
	KindWrapper // groups sibling blocks without implying a causal edge
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call_contract"
	case KindTonTransfer:
		return "ton_transfer"
	case KindJettonTransfer:
		return "jetton_transfer"
	case KindJettonSwap:
		return "jetton_swap"
	case KindDexDepositLiquidity:
		return "dex_deposit_liquidity"
	case KindDexWithdrawLiquidity:
		return "dex_withdraw_liquidity"
	case KindUnknown:
		return "unknown"
	case KindLabel:
		return "label"
	case KindWrapper:
		return "wrapper"
	}
	return "unknown"
}

// Block is a node of the classification DAG. Raw call blocks wrap one
// message/transaction pair; composite blocks carry a typed payload in Data.
type Block struct {
	ID   ID
	Kind Kind

	Prev ID
	Next []ID

	MinLt    uint64
	MaxLt    uint64
	MinUtime uint32
	MaxUtime uint32

	Failed bool
	Broken bool

	// raw call payload
	Msg *models.Message
	Tx  *models.Transaction

	// composite payload, typed per Kind
	Data any

	// label wrapper payload
	Label string
	Inner ID

	// pass-through wrapper payload
	Children []ID

	active bool
	calls  []ID // raw call blocks subsumed by this block, in causal order
}

// Opcode returns the leading tag of the block's message body. ok is false for
// blocks without a message or without an opcode.
func (b *Block) Opcode() (uint32, bool) {
	if b.Msg == nil || b.Msg.Opcode == nil {
		return 0, false
	}
	return *b.Msg.Opcode, true
}

// Body parses the message body boc and returns a slice positioned at its
// start (opcode included).
func (b *Block) Body() (*cell.Slice, error) {
	if b.Msg == nil || len(b.Msg.BodyBoc) == 0 {
		return nil, ErrNoBody
	}
	c, err := cell.FromBOC(b.Msg.BodyBoc)
	if err != nil {
		return nil, err
	}
	return c.BeginParse(), nil
}

// Graph is an arena of blocks derived from one trace.
type Graph struct {
	blocks []*Block
	Root   ID
	trace  *models.Trace
}

func (g *Graph) Trace() *models.Trace { return g.trace }

// Block resolves an id. Label wrappers have no id and cannot be resolved.
func (g *Graph) Block(id ID) *Block {
	if id < 0 || int(id) >= len(g.blocks) {
		return nil
	}
	return g.blocks[id]
}

// PrevBlock returns the causal predecessor of b, or nil.
func (g *Graph) PrevBlock(b *Block) *Block {
	if b.Prev == None {
		return nil
	}
	return g.Block(b.Prev)
}

// NextBlocks returns the causal successors of b in causal order.
func (g *Graph) NextBlocks(b *Block) []*Block {
	out := make([]*Block, 0, len(b.Next))
	for _, id := range b.Next {
		if nb := g.Block(id); nb != nil {
			out = append(out, nb)
		}
	}
	sortBlocks(out)
	return out
}

// Active returns the live candidate pool in causal order.
func (g *Graph) Active() []*Block {
	out := make([]*Block, 0, len(g.blocks))
	for _, b := range g.blocks {
		if b.active {
			out = append(out, b)
		}
	}
	sortBlocks(out)
	return out
}

// Calls returns the raw call blocks subsumed by b; for a raw block, b itself.
func (g *Graph) Calls(b *Block) []*Block {
	if b.Kind == KindCall {
		return []*Block{b}
	}
	out := make([]*Block, 0, len(b.calls))
	for _, id := range b.calls {
		out = append(out, g.Block(id))
	}
	return out
}

func (g *Graph) add(b *Block) *Block {
	b.ID = ID(len(g.blocks))
	g.blocks = append(g.blocks, b)
	return b
}

// NewComposite allocates a composite block. It joins the candidate pool only
// through Merge.
func (g *Graph) NewComposite(kind Kind, data any) *Block {
	return g.add(&Block{Kind: kind, Data: data, Prev: None})
}

// NewWrapper allocates a pass-through wrapper around the given blocks.
func (g *Graph) NewWrapper(children []*Block) *Block {
	w := g.add(&Block{Kind: KindWrapper, Prev: None})
	for _, c := range children {
		w.Children = append(w.Children, c.ID)
	}
	return w
}

// Merge transfers ownership of the consumed blocks to nb: consumed blocks
// leave the candidate pool, their outside adjacency is rewired to nb, and nb
// becomes active. Label wrappers are unwrapped; pass-through wrappers are
// expanded to their children.
func (g *Graph) Merge(nb *Block, consumed []*Block) {
	set := map[ID]bool{}
	var flat []*Block
	var expand func(bs []*Block)
	expand = func(bs []*Block) {
		for _, c := range bs {
			switch c.Kind {
			case KindLabel:
				if inner := g.Block(c.Inner); inner != nil {
					expand([]*Block{inner})
				}
			case KindWrapper:
				var cs []*Block
				for _, id := range c.Children {
					cs = append(cs, g.Block(id))
				}
				c.active = false
				expand(cs)
			default:
				if !set[c.ID] {
					set[c.ID] = true
					flat = append(flat, c)
				}
			}
		}
	}
	expand(consumed)
	if len(flat) == 0 {
		nb.active = true
		return
	}
	sortBlocks(flat)

	nb.MinLt, nb.MaxLt = flat[0].MinLt, 0
	nb.MinUtime, nb.MaxUtime = flat[0].MinUtime, 0
	for _, c := range flat {
		if c.MinLt < nb.MinLt {
			nb.MinLt = c.MinLt
		}
		if c.MaxLt > nb.MaxLt {
			nb.MaxLt = c.MaxLt
		}
		if c.MinUtime < nb.MinUtime {
			nb.MinUtime = c.MinUtime
		}
		if c.MaxUtime > nb.MaxUtime {
			nb.MaxUtime = c.MaxUtime
		}
		nb.calls = append(nb.calls, g.callIDs(c)...)
		c.active = false
	}

	// The composite inherits the predecessor of the causally earliest
	// consumed block whose predecessor lies outside the merged set.
	nb.Prev = None
	for _, c := range flat {
		if c.Prev != None && !set[c.Prev] {
			nb.Prev = c.Prev
			break
		}
	}
	// Outgoing edges: every consumed edge pointing outside the set.
	nextSet := map[ID]bool{}
	nb.Next = nil
	for _, c := range flat {
		for _, nid := range c.Next {
			if !set[nid] && !nextSet[nid] {
				nextSet[nid] = true
				nb.Next = append(nb.Next, nid)
			}
		}
	}
	// Rewire outside neighbors to the composite.
	if p := g.Block(nb.Prev); p != nil {
		rewired := make([]ID, 0, len(p.Next))
		added := false
		for _, nid := range p.Next {
			if set[nid] {
				if !added {
					rewired = append(rewired, nb.ID)
					added = true
				}
				continue
			}
			rewired = append(rewired, nid)
		}
		if !added {
			rewired = append(rewired, nb.ID)
		}
		p.Next = rewired
	}
	for _, nid := range nb.Next {
		if n := g.Block(nid); n != nil && set[n.Prev] {
			n.Prev = nb.ID
		}
	}
	nb.active = true
}

func (g *Graph) callIDs(b *Block) []ID {
	if b.Kind == KindCall {
		return []ID{b.ID}
	}
	return b.calls
}

func sortBlocks(bs []*Block) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].MinLt != bs[j].MinLt {
			return bs[i].MinLt < bs[j].MinLt
		}
		return bs[i].ID < bs[j].ID
	})
}
