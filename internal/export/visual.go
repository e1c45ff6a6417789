package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/Antarlekhaka/code/internal/store"
)

// tokenText is the display form of a token: the lemma when present, the
// surface text otherwise. Placeholder underscores count as absent.
func tokenText(t store.Token) string {
	if t.Lemma != "" && t.Lemma != "_" {
		return t.Lemma
	}
	if t.Text != "" && t.Text != "_" {
		return t.Text
	}
	return ""
}

func buildVisual(st *chapterState, annotatorID int64) Visual {
	sentences := sentenceText(st)
	return Visual{
		ChapterID:   st.chapter.ID,
		ChapterName: st.chapter.Name,
		AnnotatorID: annotatorID,

		Text:                        markedText(st),
		WordOrderTable:              wordOrderTable(st, sentences),
		TextAnnotationTable:         textAnnotationTable(st),
		TokenClassificationTable:    tokenClassificationTable(st),
		TokenConnectionClusters:     connectionClusters(st),
		SentenceClassificationTable: sentenceClassificationTable(st, sentences),

		TokenGraph:    tokenGraph(st),
		SentenceGraph: sentenceGraph(st, sentences),
	}
}

// markedText renders the chapter's running text with "##" after each
// boundary token and "// <verse id>" closing each verse. Annotator-owned
// extra tokens are not part of the corpus text and are skipped.
func markedText(st *chapterState) string {
	boundaryAt := make(map[int64]bool, len(st.boundaries))
	for _, b := range st.boundaries {
		boundaryAt[b.TokenID] = true
	}

	var lines []string
	var words []string
	currentVerse := int64(0)
	currentLine := int64(0)
	flushLine := func() {
		if len(words) > 0 {
			lines = append(lines, strings.Join(words, " "))
			words = nil
		}
	}
	for _, vt := range st.verseTokens {
		if currentVerse != 0 && vt.VerseID != currentVerse {
			words = append(words, "//", fmt.Sprintf("%d", currentVerse))
			flushLine()
			lines = append(lines, "")
		} else if currentLine != 0 && vt.LineID != currentLine {
			flushLine()
		}
		currentVerse = vt.VerseID
		currentLine = vt.LineID

		if vt.AnnotatorID == nil {
			if text := vt.Text; text != "" && text != "_" {
				words = append(words, text)
			}
		}
		if boundaryAt[vt.ID] {
			words = append(words, "##")
		}
	}
	if currentVerse != 0 {
		words = append(words, "//", fmt.Sprintf("%d", currentVerse))
	}
	flushLine()
	return strings.Join(lines, "\n")
}

// sentenceText reconstructs each sentence's display string from the word
// order layer, keyed by boundary id.
func sentenceText(st *chapterState) map[int64]string {
	texts := make(map[int64]string)
	var parts []string
	currentBoundary := int64(0)
	flush := func() {
		if currentBoundary != 0 {
			texts[currentBoundary] = strings.Join(parts, " ")
		}
		parts = nil
	}
	for _, row := range st.wordOrder {
		if row.BoundaryID != currentBoundary {
			flush()
			currentBoundary = row.BoundaryID
		}
		if text := tokenText(st.tokens[row.TokenID]); text != "" {
			parts = append(parts, text)
		}
	}
	flush()

	// Sentences without an explicit word order fall back to corpus order.
	ordered := make(map[int64][]int64)
	for _, vt := range st.verseTokens {
		if b, ok := boundaryForToken(st, vt.ID); ok {
			if _, done := texts[b]; !done {
				ordered[b] = append(ordered[b], vt.ID)
			}
		}
	}
	for boundaryID, tokenIDs := range ordered {
		var words []string
		for _, id := range tokenIDs {
			if text := tokenText(st.tokens[id]); text != "" {
				words = append(words, text)
			}
		}
		texts[boundaryID] = strings.Join(words, " ")
	}
	return texts
}

// boundaryForToken finds the boundary whose sentence contains the token:
// the first boundary at or after the token id.
func boundaryForToken(st *chapterState, tokenID int64) (int64, bool) {
	for _, b := range st.boundaries {
		if b.TokenID >= tokenID {
			return b.ID, true
		}
	}
	return 0, false
}

func wordOrderTable(st *chapterState, sentences map[int64]string) string {
	rows := [][]string{
		{"#", "Verse", "Word Order"},
		{"-", "-----", "----------"},
	}
	idx := 0
	seen := make(map[int64]bool)
	for _, row := range st.wordOrder {
		if seen[row.BoundaryID] {
			continue
		}
		seen[row.BoundaryID] = true
		idx++
		boundary := st.boundaryOf[row.BoundaryID]
		rows = append(rows, []string{
			fmt.Sprintf("%d", idx),
			fmt.Sprintf("%d", boundary.VerseID),
			sentences[row.BoundaryID],
		})
	}
	return joinTable(rows)
}

func textAnnotationTable(st *chapterState) string {
	rows := [][]string{
		{"Verse", "Token", "Annotation"},
		{"-----", "-----", "----------"},
	}
	for _, row := range st.textAnnotations {
		rows = append(rows, []string{
			fmt.Sprintf("%d", st.verseOf[row.TokenID]),
			tokenText(st.tokens[row.TokenID]),
			row.Content,
		})
	}
	return joinTable(rows)
}

func tokenClassificationTable(st *chapterState) string {
	rows := [][]string{
		{"Verse", "Token", "Label", "Description"},
		{"-----", "-----", "-----", "-----------"},
	}
	for _, row := range st.tokenClassifications {
		label := st.labels[row.LabelID]
		rows = append(rows, []string{
			fmt.Sprintf("%d", st.verseOf[row.TokenID]),
			tokenText(st.tokens[row.TokenID]),
			label.Label,
			label.Description,
		})
	}
	return joinTable(rows)
}

func sentenceClassificationTable(st *chapterState, sentences map[int64]string) string {
	rows := [][]string{
		{"#", "Verse", "Sentence", "Label", "Description"},
		{"-", "-----", "--------", "-----", "-----------"},
	}
	for i, row := range st.sentenceClassifications {
		label := st.labels[row.LabelID]
		boundary := st.boundaryOf[row.BoundaryID]
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%d", boundary.VerseID),
			sentences[row.BoundaryID],
			label.Label,
			label.Description,
		})
	}
	return joinTable(rows)
}

func joinTable(rows [][]string) string {
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, strings.Join(row, "\t"))
	}
	return strings.Join(lines, "\n")
}

// nodeSet hands out one generated id per surface form, stable for the
// duration of a single export call.
type nodeSet struct {
	graph *Graph
	ids   map[string]string
}

func newNodeSet(graph *Graph) *nodeSet {
	return &nodeSet{graph: graph, ids: make(map[string]string)}
}

func (n *nodeSet) add(label string, group int) string {
	if id, ok := n.ids[label]; ok {
		return id
	}
	id := uuid.NewString()
	n.ids[label] = id
	n.graph.Nodes = append(n.graph.Nodes, Node{ID: id, Label: label, Group: group})
	return id
}

func tokenGraph(st *chapterState) Graph {
	graph := Graph{Nodes: []Node{}, Edges: []GraphEdge{}}
	nodes := newNodeSet(&graph)
	for _, row := range st.tokenGraph {
		label := st.labels[row.LabelID]
		from := nodes.add(tokenText(st.tokens[row.SrcID]), 0)
		to := nodes.add(tokenText(st.tokens[row.DstID]), 0)
		graph.Edges = append(graph.Edges, GraphEdge{
			From:  from,
			To:    to,
			Label: label.Description,
			Title: label.Label,
		})
	}
	return graph
}

func sentenceGraph(st *chapterState, sentences map[int64]string) Graph {
	graph := Graph{Nodes: []Node{}, Edges: []GraphEdge{}}
	nodes := newNodeSet(&graph)
	for _, row := range st.sentenceGraph {
		label := st.labels[row.LabelID]

		srcLabel := tokenText(st.tokens[row.SrcTokenID])
		srcGroup := 0
		if row.RelationType == store.RelationSentenceToken || row.RelationType == store.RelationSentenceSentence {
			srcLabel = fmt.Sprintf("S-%d", row.SrcBoundaryID)
			srcGroup = 1
		}
		dstLabel := tokenText(st.tokens[row.DstTokenID])
		dstGroup := 0
		if row.RelationType == store.RelationTokenSentence || row.RelationType == store.RelationSentenceSentence {
			dstLabel = fmt.Sprintf("S-%d", row.DstBoundaryID)
			dstGroup = 1
		}

		from := nodes.add(srcLabel, srcGroup)
		to := nodes.add(dstLabel, dstGroup)
		graph.Edges = append(graph.Edges, GraphEdge{
			From:  from,
			To:    to,
			Label: label.Label,
			Title: sentences[row.SrcBoundaryID],
		})
	}
	return graph
}

// connectionClusters groups connected tokens into weakly connected
// components, one comma-joined cluster per line.
func connectionClusters(st *chapterState) string {
	parent := make(map[int64]int64)
	var find func(int64) int64
	find = func(x int64) int64 {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b int64) {
		if _, ok := parent[a]; !ok {
			parent[a] = a
		}
		if _, ok := parent[b]; !ok {
			parent[b] = b
		}
		parent[find(a)] = find(b)
	}
	for _, row := range st.tokenConnections {
		union(row.SrcID, row.DstID)
	}

	members := make(map[int64][]int64)
	for id := range parent {
		root := find(id)
		members[root] = append(members[root], id)
	}
	roots := make([]int64, 0, len(members))
	for root := range members {
		roots = append(roots, root)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	var lines []string
	for _, root := range roots {
		ids := members[root]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		parts := make([]string, 0, len(ids))
		for _, id := range ids {
			token := st.tokens[id]
			parts = append(parts, strings.Join([]string{
				tokenText(token),
				fmt.Sprintf("verse-%d", st.verseOf[id]),
				fmt.Sprintf("line-%d", token.LineID),
				fmt.Sprintf("token-%s", token.InnerID),
			}, "/"))
		}
		lines = append(lines, strings.Join(parts, ", "))
	}
	return strings.Join(lines, "\n")
}

// renderPlainText concatenates the visual tables into one text artifact.
func renderPlainText(v Visual) string {
	sections := []struct {
		title string
		body  string
	}{
		{"Sentence Boundary", v.Text},
		{"Word Order", v.WordOrderTable},
		{"Token Text Annotation", v.TextAnnotationTable},
		{"Token Classification", v.TokenClassificationTable},
		{"Token Connection", v.TokenConnectionClusters},
		{"Sentence Classification", v.SentenceClassificationTable},
	}
	var b strings.Builder
	for _, s := range sections {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", s.title, s.body)
	}
	return b.String()
}
