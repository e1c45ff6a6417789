// Package segment partitions a contiguous token range into sentences at
// annotator boundaries. A boundary marks the LAST token of its sentence, so
// a range walked in corpus order closes one sentence at each boundary token
// and leaves any tokens after the final boundary as an unclaimed tail.
package segment

import (
	"fmt"
	"sort"

	"github.com/Antarlekhaka/code/internal/store"
)

// Sentence is one closed segment: the boundary that terminates it and the
// tokens it contains, in corpus order.
type Sentence struct {
	Boundary store.Boundary
	Tokens   []store.Token
}

// Split partitions tokens (sorted by id) at the boundary token ids. Tokens
// after the last boundary are returned as the tail: they belong to a
// sentence whose boundary has not been marked yet.
func Split(tokens []store.Token, boundaries []store.Boundary) ([]Sentence, []store.Token, error) {
	sorted := make([]store.Boundary, len(boundaries))
	copy(sorted, boundaries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TokenID < sorted[j].TokenID })

	sentences := make([]Sentence, 0, len(sorted))
	start := 0
	for _, b := range sorted {
		end := -1
		for i := start; i < len(tokens); i++ {
			if tokens[i].ID == b.TokenID {
				end = i
				break
			}
		}
		if end == -1 {
			return nil, nil, fmt.Errorf("boundary token %d not in range", b.TokenID)
		}
		sentences = append(sentences, Sentence{
			Boundary: b,
			Tokens:   tokens[start : end+1],
		})
		start = end + 1
	}
	return sentences, tokens[start:], nil
}

// TokenIDs returns the sentence's token ids in order.
func (s Sentence) TokenIDs() []int64 {
	ids := make([]int64, len(s.Tokens))
	for i, t := range s.Tokens {
		ids[i] = t.ID
	}
	return ids
}
