package heuristic

import (
	"testing"

	"github.com/Antarlekhaka/code/internal/store"
)

func tok(id int64, xpos, caseFeat string) store.Token {
	analysis := map[string]any{}
	if xpos != "" {
		analysis["xpos"] = xpos
	}
	if caseFeat != "" {
		analysis["feats"] = map[string]any{"Case": caseFeat}
	}
	return store.Token{ID: id, Analysis: analysis}
}

func TestWordOrderCasePriorityThenCorpusOrderThenVerbLast(t *testing.T) {
	tokens := []store.Token{
		tok(1, "NC", "Acc"),
		tok(2, "V", ""),
		tok(3, "NC", "Nom"),
		tok(4, "NC", ""),
		tok(5, "NC", "Loc"),
	}

	got := WordOrder(DefaultWordOrderConfig(), tokens)
	want := []int64{5, 3, 1, 4, 2}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %v want %v", i, got, want)
		}
	}
}

func TestWordOrderInterjectionFirst(t *testing.T) {
	tokens := []store.Token{
		tok(1, "NC", ""),
		tok(2, "CIJ", ""),
		tok(3, "NC", "Nom"),
	}

	got := WordOrder(DefaultWordOrderConfig(), tokens)
	want := []int64{2, 3, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch: got %v want %v", got, want)
		}
	}
}

func TestWordOrderIsAPermutation(t *testing.T) {
	tokens := []store.Token{
		tok(10, "V", "Nom"),
		tok(11, "", ""),
		tok(12, "CNG", ""),
		tok(13, "NC", "Abl"),
		tok(14, "CAD", "Ins"),
	}

	got := WordOrder(DefaultWordOrderConfig(), tokens)
	if len(got) != len(tokens) {
		t.Fatalf("expected %d ids, got %d", len(tokens), len(got))
	}
	seen := map[int64]bool{}
	for _, id := range got {
		if seen[id] {
			t.Fatalf("duplicate id %d in %v", id, got)
		}
		seen[id] = true
	}
	for _, tk := range tokens {
		if !seen[tk.ID] {
			t.Fatalf("missing id %d in %v", tk.ID, got)
		}
	}
}

func TestWordOrderEmptySentence(t *testing.T) {
	if got := WordOrder(DefaultWordOrderConfig(), nil); len(got) != 0 {
		t.Fatalf("expected empty order, got %v", got)
	}
}

func TestTokenGraphProposesKarakaEdges(t *testing.T) {
	tokens := []store.Token{
		tok(1, "NC", "Nom"),
		tok(2, "NC", "Acc"),
		tok(3, "V", ""),
	}

	edges := TokenGraph(DefaultGraphConfig(), tokens)
	if len(edges) != 2 {
		t.Fatalf("expected 2 edges, got %v", edges)
	}
	if edges[0].SrcID != 1 || edges[0].DstID != 3 || edges[0].Label != "KARTA" {
		t.Fatalf("unexpected first edge: %+v", edges[0])
	}
	if edges[1].SrcID != 2 || edges[1].DstID != 3 || edges[1].Label != "KARMA" {
		t.Fatalf("unexpected second edge: %+v", edges[1])
	}
}

func TestTokenGraphNeverRelatesATokenToItself(t *testing.T) {
	cfg := GraphConfig{Rules: []Rule{{Label: "ANY"}}}
	tokens := []store.Token{tok(1, "", ""), tok(2, "", "")}

	for _, e := range TokenGraph(cfg, tokens) {
		if e.SrcID == e.DstID {
			t.Fatalf("self edge proposed: %+v", e)
		}
	}
}

func TestLookupDottedPath(t *testing.T) {
	analysis := map[string]any{
		"xpos":  "V",
		"feats": map[string]any{"Case": "Nom"},
	}
	if got := Lookup(analysis, "feats.Case"); got != "Nom" {
		t.Fatalf("feats.Case = %q", got)
	}
	if got := Lookup(analysis, "feats.Number"); got != "" {
		t.Fatalf("missing key should be empty, got %q", got)
	}
	if got := Lookup(analysis, "xpos.deeper"); got != "" {
		t.Fatalf("descending through a leaf should be empty, got %q", got)
	}
}
