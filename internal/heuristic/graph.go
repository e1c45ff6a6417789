package heuristic

import "github.com/Antarlekhaka/code/internal/store"

// Predicate is one attribute condition: the value at Path in the token's
// analysis bag must equal Value.
type Predicate struct {
	Path  string
	Value string
}

// Rule proposes a labeled edge from any token satisfying Src to any token
// satisfying Dst within the same sentence.
type Rule struct {
	Src   []Predicate
	Dst   []Predicate
	Label string
}

type GraphConfig struct {
	Rules []Rule
}

// DefaultGraphConfig relates case-marked nominals to the sentence verb
// using karaka role labels.
func DefaultGraphConfig() GraphConfig {
	verb := []Predicate{{Path: "xpos", Value: "V"}}
	caseRule := func(c, label string) Rule {
		return Rule{
			Src:   []Predicate{{Path: "feats.Case", Value: c}},
			Dst:   verb,
			Label: label,
		}
	}
	return GraphConfig{Rules: []Rule{
		caseRule("Nom", "KARTA"),
		caseRule("Acc", "KARMA"),
		caseRule("Ins", "KARANA"),
		caseRule("Dat", "SAMPRADANA"),
		caseRule("Abl", "APADANA"),
		caseRule("Loc", "ADHIKARANA"),
	}}
}

// Edge is one proposed relation between two tokens of a sentence.
type Edge struct {
	SrcID int64
	DstID int64
	Label string
}

// TokenGraph evaluates every rule over every ordered pair of distinct
// tokens and returns the proposed edges.
func TokenGraph(cfg GraphConfig, tokens []store.Token) []Edge {
	var edges []Edge
	for _, rule := range cfg.Rules {
		for _, src := range tokens {
			if !satisfies(src, rule.Src) {
				continue
			}
			for _, dst := range tokens {
				if dst.ID == src.ID || !satisfies(dst, rule.Dst) {
					continue
				}
				edges = append(edges, Edge{SrcID: src.ID, DstID: dst.ID, Label: rule.Label})
			}
		}
	}
	return edges
}

func satisfies(t store.Token, preds []Predicate) bool {
	for _, p := range preds {
		if Lookup(t.Analysis, p.Path) != p.Value {
			return false
		}
	}
	return true
}
