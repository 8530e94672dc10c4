package blocks

import (
	"testing"
)

func mustGraph(t *testing.T, ops []uint32) *Graph {
	t.Helper()
	g, err := BuildGraph(chainTrace(ops))
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestContractMatcherChildSequence(t *testing.T) {
	g := mustGraph(t, []uint32{0x11, 0x22, 0x33})
	root := g.Block(g.Root)

	m := ChildSequence(
		&ContractMatcher{Opcode: 0x11},
		&ContractMatcher{Opcode: 0x22},
		&ContractMatcher{Opcode: 0x33},
	)
	claimed := map[ID]bool{}
	matched, ok := m.MatchAt(g, root, claimed)
	if !ok {
		t.Fatalf("sequence should match the full chain")
	}
	if len(matched) != 3 {
		t.Fatalf("expected 3 matched blocks, got %d", len(matched))
	}
	if len(claimed) != 3 {
		t.Fatalf("all matched blocks must be claimed")
	}
}

func TestContractMatcherRollsBackClaimsOnFailure(t *testing.T) {
	g := mustGraph(t, []uint32{0x11, 0x22})
	root := g.Block(g.Root)

	m := ChildSequence(
		&ContractMatcher{Opcode: 0x11},
		&ContractMatcher{Opcode: 0x22},
		&ContractMatcher{Opcode: 0x99}, // absent
	)
	claimed := map[ID]bool{}
	if _, ok := m.MatchAt(g, root, claimed); ok {
		t.Fatalf("sequence must fail when a required child is absent")
	}
	if len(claimed) != 0 {
		t.Fatalf("failed match must leave the claimed set unchanged, got %v", claimed)
	}
}

func TestOptionalChildAbsent(t *testing.T) {
	g := mustGraph(t, []uint32{0x11})
	root := g.Block(g.Root)

	m := &ContractMatcher{Opcode: 0x11}
	m.Children = []Matcher{optionalContract(0x22)}
	claimed := map[ID]bool{}
	matched, ok := m.MatchAt(g, root, claimed)
	if !ok || len(matched) != 1 {
		t.Fatalf("optional child must not fail the parent")
	}
}

func TestOrMatcherFirstAlternativeWins(t *testing.T) {
	g := mustGraph(t, []uint32{0x22})
	root := g.Block(g.Root)

	m := NewOrMatcher(&ContractMatcher{Opcode: 0x11}, &ContractMatcher{Opcode: 0x22})
	if !m.TestSelf(g, root) {
		t.Fatalf("or must accept any alternative's anchor")
	}
	matched, ok := m.MatchAt(g, root, map[ID]bool{})
	if !ok || len(matched) != 1 || matched[0] != root {
		t.Fatalf("or must delegate to the matching alternative")
	}
}

func TestRecursiveMatcherConsumesRun(t *testing.T) {
	// Three repeating hops followed by the exit opcode.
	g := mustGraph(t, []uint32{0xaa, 0xaa, 0xaa, 0xbb})
	root := g.Block(g.Root)

	m := NewRecursiveMatcher(&ContractMatcher{Opcode: 0xaa}, &ContractMatcher{Opcode: 0xbb})
	claimed := map[ID]bool{}
	matched, ok := m.MatchAt(g, root, claimed)
	if !ok {
		t.Fatalf("recursive run should match")
	}
	if len(matched) != 4 {
		t.Fatalf("expected 3 repeats plus exit, got %d blocks", len(matched))
	}
}

func TestRecursiveMatcherZeroRepeats(t *testing.T) {
	g := mustGraph(t, []uint32{0xbb})
	root := g.Block(g.Root)

	m := NewRecursiveMatcher(&ContractMatcher{Opcode: 0xaa}, &ContractMatcher{Opcode: 0xbb})
	matched, ok := m.MatchAt(g, root, map[ID]bool{})
	if !ok || len(matched) != 1 {
		t.Fatalf("exit alone must satisfy the fixpoint")
	}
}

func TestRecursiveMatcherUnterminatedRunFails(t *testing.T) {
	g := mustGraph(t, []uint32{0xaa, 0xaa})
	root := g.Block(g.Root)

	m := NewRecursiveMatcher(&ContractMatcher{Opcode: 0xaa}, &ContractMatcher{Opcode: 0xbb})
	claimed := map[ID]bool{}
	if _, ok := m.MatchAt(g, root, claimed); ok {
		t.Fatalf("run without exit must not match")
	}
	if len(claimed) != 0 {
		t.Fatalf("failed recursive match must roll back claims")
	}
}

func TestLabeledRetrieval(t *testing.T) {
	g := mustGraph(t, []uint32{0x11, 0x22})
	root := g.Block(g.Root)

	m := &ContractMatcher{Opcode: 0x11}
	m.Child = Labeled("inner", &ContractMatcher{Opcode: 0x22})
	matched, ok := m.MatchAt(g, root, map[ID]bool{})
	if !ok {
		t.Fatal("match failed")
	}
	inner := GetLabeled(g, "inner", matched)
	if inner == nil {
		t.Fatal("labeled block not found")
	}
	if op, _ := inner.Opcode(); op != 0x22 {
		t.Fatalf("wrong labeled block, opcode %#x", op)
	}
	if GetLabeled(g, "missing", matched) != nil {
		t.Fatalf("unknown label must resolve to nil")
	}
}

func TestFindCallsUnwrapsLabels(t *testing.T) {
	g := mustGraph(t, []uint32{0x11, 0x22})
	root := g.Block(g.Root)
	m := &ContractMatcher{Opcode: 0x11}
	m.Child = Labeled("x", &ContractMatcher{Opcode: 0x22})
	matched, _ := m.MatchAt(g, root, map[ID]bool{})

	calls := FindCalls(g, 0x22, matched)
	if len(calls) != 1 {
		t.Fatalf("expected one call with opcode 0x22, got %d", len(calls))
	}
	if calls[0] == root {
		t.Fatalf("wrong call found")
	}
}
