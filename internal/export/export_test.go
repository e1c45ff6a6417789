package export

import (
	"strings"
	"testing"

	"github.com/Antarlekhaka/code/internal/store"
)

func testState() *chapterState {
	tokens := map[int64]store.Token{
		1: {ID: 1, LineID: 10, InnerID: "1", Text: "rāmaḥ", Lemma: "rāma"},
		2: {ID: 2, LineID: 10, InnerID: "2", Text: "vanam", Lemma: "vana"},
		3: {ID: 3, LineID: 10, InnerID: "3", Text: "gacchati", Lemma: "gam"},
		4: {ID: 4, LineID: 11, InnerID: "1", Text: "sītā", Lemma: "sītā"},
		5: {ID: 5, LineID: 11, InnerID: "2", Text: "api", Lemma: "api"},
	}
	st := &chapterState{
		chapter: store.Chapter{ID: 1, Name: "Test Chapter"},
		verses:  []int64{100, 101},
		tokens:  tokens,
		verseOf: map[int64]int64{1: 100, 2: 100, 3: 100, 4: 101, 5: 101},
		labels: map[int64]store.Label{
			30: {ID: 30, Label: "KARTA", Description: "agent"},
			31: {ID: 31, Label: "statement", Description: "declarative sentence"},
		},
		boundaries: []store.Boundary{
			{ID: 20, VerseID: 100, TokenID: 3},
			{ID: 21, VerseID: 101, TokenID: 5},
		},
		boundaryOf: map[int64]store.Boundary{
			20: {ID: 20, VerseID: 100, TokenID: 3},
			21: {ID: 21, VerseID: 101, TokenID: 5},
		},
	}
	for id, t := range tokens {
		st.verseTokens = append(st.verseTokens, store.VerseToken{Token: t, VerseID: st.verseOf[id]})
	}
	// map iteration order is undefined; restore corpus order
	for i := range st.verseTokens {
		for j := i + 1; j < len(st.verseTokens); j++ {
			if st.verseTokens[j].ID < st.verseTokens[i].ID {
				st.verseTokens[i], st.verseTokens[j] = st.verseTokens[j], st.verseTokens[i]
			}
		}
	}
	return st
}

func TestMarkedTextBoundariesAndVerseMarkers(t *testing.T) {
	st := testState()
	text := markedText(st)

	if !strings.Contains(text, "gacchati ## // 100") {
		t.Fatalf("expected boundary marker before verse close, got:\n%s", text)
	}
	if !strings.Contains(text, "api ## // 101") {
		t.Fatalf("expected final verse close, got:\n%s", text)
	}
	if !strings.Contains(text, "rāma") && !strings.Contains(text, "rāmaḥ") {
		t.Fatalf("running text missing tokens:\n%s", text)
	}
}

func TestMarkedTextSkipsExtraTokens(t *testing.T) {
	st := testState()
	annotator := int64(7)
	st.verseTokens = append(st.verseTokens[:1], append([]store.VerseToken{{
		Token:   store.Token{ID: 99, LineID: 10, Text: "inserted", AnnotatorID: &annotator},
		VerseID: 100,
	}}, st.verseTokens[1:]...)...)

	if strings.Contains(markedText(st), "inserted") {
		t.Fatal("annotator-owned token leaked into corpus text")
	}
}

func TestSentenceTextUsesWordOrder(t *testing.T) {
	st := testState()
	st.wordOrder = []store.WordOrderRow{
		{BoundaryID: 20, TokenID: 3, Order: 1},
		{BoundaryID: 20, TokenID: 1, Order: 2},
		{BoundaryID: 20, TokenID: 2, Order: 3},
	}
	texts := sentenceText(st)

	if texts[20] != "gam rāma vana" {
		t.Fatalf("word order not honored: %q", texts[20])
	}
	// boundary 21 has no stored order and falls back to corpus order
	if texts[21] != "sītā api" {
		t.Fatalf("corpus-order fallback wrong: %q", texts[21])
	}
}

func TestTokenGraphSharesNodePerSurfaceForm(t *testing.T) {
	st := testState()
	st.tokenGraph = []store.TokenGraphRow{
		{SrcID: 1, LabelID: 30, DstID: 3},
		{SrcID: 2, LabelID: 30, DstID: 3},
	}
	graph := tokenGraph(st)

	if len(graph.Nodes) != 3 {
		t.Fatalf("expected 3 nodes (gam shared), got %d", len(graph.Nodes))
	}
	if len(graph.Edges) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(graph.Edges))
	}
	if graph.Edges[0].To != graph.Edges[1].To {
		t.Fatal("repeated surface form should reuse the same node id")
	}
	if graph.Edges[0].Title != "KARTA" {
		t.Fatalf("edge title = %q, want label text", graph.Edges[0].Title)
	}
}

func TestSentenceGraphBoundaryEndpoints(t *testing.T) {
	st := testState()
	st.sentenceGraph = []store.SentenceGraphRow{{
		SrcBoundaryID: 20, DstBoundaryID: 21,
		SrcTokenID: 1, DstTokenID: 4,
		LabelID:      31,
		RelationType: store.RelationSentenceSentence,
	}}
	graph := sentenceGraph(st, map[int64]string{20: "first", 21: "second"})

	if len(graph.Nodes) != 2 {
		t.Fatalf("expected 2 sentence nodes, got %d", len(graph.Nodes))
	}
	for _, n := range graph.Nodes {
		if !strings.HasPrefix(n.Label, "S-") || n.Group != 1 {
			t.Fatalf("sentence endpoint rendered as token node: %+v", n)
		}
	}
}

func TestConnectionClusters(t *testing.T) {
	st := testState()
	st.tokenConnections = []store.TokenConnectionRow{
		{SrcID: 1, DstID: 2},
		{SrcID: 2, DstID: 3},
		{SrcID: 4, DstID: 5},
	}
	clusters := connectionClusters(st)

	lines := strings.Split(clusters, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 clusters, got %d:\n%s", len(lines), clusters)
	}
	if !strings.Contains(lines[0], "rāma/verse-100/line-10/token-1") {
		t.Fatalf("cluster member format wrong: %q", lines[0])
	}
	if strings.Count(lines[0], ",") != 2 {
		t.Fatalf("first cluster should have 3 members: %q", lines[0])
	}
}

func TestBuildChapterExportJoinsLabels(t *testing.T) {
	st := testState()
	st.tokenClassifications = []store.TokenClassificationRow{{TokenID: 1, LabelID: 30}}
	st.sentenceClassifications = []store.SentenceClassificationRow{{BoundaryID: 20, LabelID: 31}}

	out := buildChapterExport(st, 7)

	if out.AnnotatorID != 7 || out.ChapterID != 1 {
		t.Fatalf("identity fields wrong: %+v", out)
	}
	if len(out.Boundaries) != 2 {
		t.Fatalf("boundaries = %d, want 2", len(out.Boundaries))
	}
	if out.TokenClassifications[0].Label != "KARTA" || out.TokenClassifications[0].VerseID != 100 {
		t.Fatalf("token classification join wrong: %+v", out.TokenClassifications[0])
	}
	if out.SentenceClassifications[0].Label != "statement" || out.SentenceClassifications[0].VerseID != 100 {
		t.Fatalf("sentence classification join wrong: %+v", out.SentenceClassifications[0])
	}
}

func TestRenderHTML(t *testing.T) {
	st := testState()
	html, err := RenderHTML(buildVisual(st, 7))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(html, "Test Chapter") {
		t.Fatal("chapter name missing from rendering")
	}
	if !strings.Contains(html, "Word Order") {
		t.Fatal("task sections missing from rendering")
	}
}
