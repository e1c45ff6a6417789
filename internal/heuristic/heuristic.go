// Package heuristic proposes fallback annotations for a sentence when no
// explicit ones exist. Every function is pure and deterministic; proposals
// are display-only and never written to storage.
package heuristic

import (
	"strings"

	"github.com/Antarlekhaka/code/internal/store"
)

// WordOrderConfig is the priority table for the word-order proposal.
// Tokens are bucketed by grammatical case first, then by part of speech
// into a start group and an end group; everything else keeps corpus order
// in between.
type WordOrderConfig struct {
	CaseOrder []string
	StartXPOS []string
	EndXPOS   []string
}

func DefaultWordOrderConfig() WordOrderConfig {
	return WordOrderConfig{
		CaseOrder: []string{"Loc", "Nom", "Dat", "Abl", "Ins", "Acc"},
		StartXPOS: []string{"CIJ"},
		EndXPOS:   []string{"CAD", "CX", "CNG", "V"},
	}
}

// WordOrder returns a proposed ordering of the sentence's token ids. The
// result is always a permutation of the input ids.
func WordOrder(cfg WordOrderConfig, tokens []store.Token) []int64 {
	used := make(map[int64]bool, len(tokens))

	var caseGroup []int64
	for _, c := range cfg.CaseOrder {
		for _, t := range tokens {
			if used[t.ID] {
				continue
			}
			if Lookup(t.Analysis, "feats.Case") == c {
				caseGroup = append(caseGroup, t.ID)
				used[t.ID] = true
			}
		}
	}

	var startGroup []int64
	for _, x := range cfg.StartXPOS {
		for _, t := range tokens {
			if used[t.ID] {
				continue
			}
			if Lookup(t.Analysis, "xpos") == x {
				startGroup = append(startGroup, t.ID)
				used[t.ID] = true
			}
		}
	}

	var endGroup []int64
	for _, x := range cfg.EndXPOS {
		for _, t := range tokens {
			if used[t.ID] {
				continue
			}
			if Lookup(t.Analysis, "xpos") == x {
				endGroup = append(endGroup, t.ID)
				used[t.ID] = true
			}
		}
	}

	order := make([]int64, 0, len(tokens))
	order = append(order, startGroup...)
	order = append(order, caseGroup...)
	for _, t := range tokens {
		if !used[t.ID] {
			order = append(order, t.ID)
			used[t.ID] = true
		}
	}
	order = append(order, endGroup...)
	return order
}

// Lookup resolves a dotted path into a token's analysis bag, descending
// through nested maps. Missing keys and non-string leaves yield "".
func Lookup(analysis map[string]any, path string) string {
	var cur any = analysis
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur, ok = m[part]
		if !ok {
			return ""
		}
	}
	s, _ := cur.(string)
	return s
}
