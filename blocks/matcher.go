package blocks

import (
	"context"

	"github.com/toncenter/ton-indexer/ton-event-classifier/interfaces"
)

// Env carries the per-classification collaborators available to rule Build
// steps: the account interface repository and the immutable pool registry
// snapshot distributed at startup.
type Env struct {
	Repo  interfaces.Repository
	Pools *interfaces.PoolRegistry
}

// Matcher is a declarative structural test over the block graph. Matching is
// single-pass and depth-first from the anchor outward: first along the
// anchor's causal predecessor, then along its successors. No two expectations
// may claim the same block.
type Matcher interface {
	// TestSelf reports whether b may anchor this matcher.
	TestSelf(g *Graph, b *Block) bool
	// MatchAt explores b's neighborhood and returns every block claimed by
	// the match, b included. On failure the claimed set is left unchanged.
	MatchAt(g *Graph, b *Block, claimed map[ID]bool) ([]*Block, bool)
	// Optional expectations may be unsatisfied without failing the parent.
	Optional() bool
}

// Rule is a matcher with a rewrite step. Build must consume exactly the
// blocks handed to it (via Graph.Merge) and return their composite
// replacements; returning an empty slice declines the match.
type Rule interface {
	Matcher
	Build(ctx context.Context, env *Env, g *Graph, anchor *Block, matched []*Block) ([]*Block, error)
}

// Exp holds the declarative structural expectations shared by primitive
// matchers: an optional parent matcher and child matcher(s), each of which
// may itself carry further expectations.
type Exp struct {
	Parent   Matcher
	Child    Matcher
	Children []Matcher
	Opt      bool
}

func (e *Exp) Optional() bool { return e.Opt }

// SetChild late-binds the single child slot. Used to close recursive rule
// graphs after construction.
func (e *Exp) SetChild(m Matcher) { e.Child = m }

// matchAround resolves the expectations around an already-accepted anchor.
// When multiple neighbors could satisfy an expectation, the first in causal
// order wins.
func (e *Exp) matchAround(g *Graph, b *Block, claimed map[ID]bool) ([]*Block, bool) {
	var out []*Block
	fail := func() ([]*Block, bool) {
		unclaim(claimed, out)
		return nil, false
	}
	if e.Parent != nil {
		p := g.PrevBlock(b)
		ok := false
		if p != nil && p.active && !claimed[p.ID] && e.Parent.TestSelf(g, p) {
			if res, matched := e.Parent.MatchAt(g, p, claimed); matched {
				out = append(out, res...)
				ok = true
			}
		}
		if !ok && !e.Parent.Optional() {
			return fail()
		}
	}
	children := e.Children
	if e.Child != nil {
		children = append([]Matcher{e.Child}, e.Children...)
	}
	for _, cm := range children {
		matched := false
		for _, nb := range g.NextBlocks(b) {
			if !nb.active || claimed[nb.ID] || !cm.TestSelf(g, nb) {
				continue
			}
			if res, ok := cm.MatchAt(g, nb, claimed); ok {
				out = append(out, res...)
				matched = true
				break
			}
		}
		if !matched && !cm.Optional() {
			return fail()
		}
	}
	return out, true
}

func claim(claimed map[ID]bool, b *Block) { claimed[b.ID] = true }

func unclaim(claimed map[ID]bool, bs []*Block) {
	for _, b := range bs {
		if b.ID != None {
			delete(claimed, b.ID)
		}
	}
}

// ContractMatcher matches a raw contract-call block by the opcode of its
// message body.
type ContractMatcher struct {
	Exp
	Opcode uint32
}

func (m *ContractMatcher) TestSelf(_ *Graph, b *Block) bool {
	op, ok := b.Opcode()
	return b.Kind == KindCall && ok && op == m.Opcode
}

func (m *ContractMatcher) MatchAt(g *Graph, b *Block, claimed map[ID]bool) ([]*Block, bool) {
	if !m.TestSelf(g, b) || claimed[b.ID] {
		return nil, false
	}
	claim(claimed, b)
	sub, ok := m.matchAround(g, b, claimed)
	if !ok {
		unclaim(claimed, []*Block{b})
		return nil, false
	}
	return append([]*Block{b}, sub...), true
}

// BlockTypeMatcher matches a composite block by kind.
type BlockTypeMatcher struct {
	Exp
	Kind Kind
}

func (m *BlockTypeMatcher) TestSelf(_ *Graph, b *Block) bool {
	return b.Kind == m.Kind
}

func (m *BlockTypeMatcher) MatchAt(g *Graph, b *Block, claimed map[ID]bool) ([]*Block, bool) {
	if !m.TestSelf(g, b) || claimed[b.ID] {
		return nil, false
	}
	claim(claimed, b)
	sub, ok := m.matchAround(g, b, claimed)
	if !ok {
		unclaim(claimed, []*Block{b})
		return nil, false
	}
	return append([]*Block{b}, sub...), true
}

// OrMatcher tries alternatives in declared order; the first full structural
// success wins.
type OrMatcher struct {
	Opt          bool
	Alternatives []Matcher
}

func NewOrMatcher(alternatives ...Matcher) *OrMatcher {
	return &OrMatcher{Alternatives: alternatives}
}

func (m *OrMatcher) Optional() bool { return m.Opt }

func (m *OrMatcher) TestSelf(g *Graph, b *Block) bool {
	for _, alt := range m.Alternatives {
		if alt.TestSelf(g, b) {
			return true
		}
	}
	return false
}

func (m *OrMatcher) MatchAt(g *Graph, b *Block, claimed map[ID]bool) ([]*Block, bool) {
	for _, alt := range m.Alternatives {
		if !alt.TestSelf(g, b) {
			continue
		}
		if res, ok := alt.MatchAt(g, b, claimed); ok {
			return res, true
		}
	}
	return nil, false
}

// RecursiveMatcher is an explicit fixpoint combinator: it consumes a
// homogeneous run of Repeating matches until Exit matches, and returns all
// repeats plus the exit match together. Exit is tried first at every step, so
// a run of zero repeats is valid whenever Exit matches immediately.
type RecursiveMatcher struct {
	Opt       bool
	Repeating Matcher
	Exit      Matcher
}

func NewRecursiveMatcher(repeating, exit Matcher) *RecursiveMatcher {
	return &RecursiveMatcher{Repeating: repeating, Exit: exit}
}

func (m *RecursiveMatcher) Optional() bool { return m.Opt }

func (m *RecursiveMatcher) TestSelf(g *Graph, b *Block) bool {
	return m.Exit.TestSelf(g, b) || m.Repeating.TestSelf(g, b)
}

func (m *RecursiveMatcher) MatchAt(g *Graph, b *Block, claimed map[ID]bool) ([]*Block, bool) {
	if m.Exit.TestSelf(g, b) {
		if res, ok := m.Exit.MatchAt(g, b, claimed); ok {
			return res, true
		}
	}
	if !m.Repeating.TestSelf(g, b) {
		return nil, false
	}
	res, ok := m.Repeating.MatchAt(g, b, claimed)
	if !ok {
		return nil, false
	}
	for _, nb := range g.NextBlocks(b) {
		if !nb.active || claimed[nb.ID] {
			continue
		}
		if sub, found := m.MatchAt(g, nb, claimed); found {
			return append(res, sub...), true
		}
	}
	unclaim(claimed, res)
	return nil, false
}

// LabelMatcher tags the block its inner matcher anchors on, so Build can
// retrieve it by name instead of re-deriving structural position. The tag is
// a transient label wrapper in the matched set, never part of the graph.
type LabelMatcher struct {
	Label string
	Inner Matcher
}

// Labeled wraps a matcher with a named tag.
func Labeled(label string, inner Matcher) *LabelMatcher {
	return &LabelMatcher{Label: label, Inner: inner}
}

func (m *LabelMatcher) Optional() bool { return m.Inner.Optional() }

func (m *LabelMatcher) TestSelf(g *Graph, b *Block) bool {
	return m.Inner.TestSelf(g, b)
}

func (m *LabelMatcher) MatchAt(g *Graph, b *Block, claimed map[ID]bool) ([]*Block, bool) {
	res, ok := m.Inner.MatchAt(g, b, claimed)
	if !ok {
		return nil, false
	}
	tag := &Block{ID: None, Kind: KindLabel, Label: m.Label, Inner: b.ID, MinLt: b.MinLt, MaxLt: b.MaxLt}
	return append(res, tag), true
}

// GetLabeled resolves the first block tagged with label in a matched set.
func GetLabeled(g *Graph, label string, matched []*Block) *Block {
	for _, b := range matched {
		if b.Kind == KindLabel && b.Label == label {
			return g.Block(b.Inner)
		}
	}
	return nil
}

// GetAllLabeled resolves every block tagged with label, in causal order.
func GetAllLabeled(g *Graph, label string, matched []*Block) []*Block {
	var out []*Block
	for _, b := range matched {
		if b.Kind == KindLabel && b.Label == label {
			if inner := g.Block(b.Inner); inner != nil {
				out = append(out, inner)
			}
		}
	}
	sortBlocks(out)
	return out
}

// childSetter is satisfied by every Exp-embedding matcher.
type childSetter interface {
	SetChild(Matcher)
}

// ChildSequence nests matchers so that each one is the sole child of the
// previous, forming a strict causal pipeline. The first matcher is returned.
func ChildSequence(ms ...Matcher) Matcher {
	for i := len(ms) - 2; i >= 0; i-- {
		ms[i].(childSetter).SetChild(ms[i+1])
	}
	return ms[0]
}

// FindCalls returns the raw call blocks with the given opcode among bs,
// unwrapping label tags, in causal order.
func FindCalls(g *Graph, opcode uint32, bs []*Block) []*Block {
	var out []*Block
	seen := map[ID]bool{}
	for _, b := range bs {
		if b.Kind == KindLabel {
			b = g.Block(b.Inner)
			if b == nil {
				continue
			}
		}
		if b.Kind != KindCall || seen[b.ID] {
			continue
		}
		if op, ok := b.Opcode(); ok && op == opcode {
			seen[b.ID] = true
			out = append(out, b)
		}
	}
	sortBlocks(out)
	return out
}
