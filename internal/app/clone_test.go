package app

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/Antarlekhaka/code/internal/export"
	"github.com/Antarlekhaka/code/internal/store"
)

// seedAnnotations fills one verse with a row of every category for the
// fixture's annotator and returns the verse's boundary.
func seedAnnotations(t *testing.T, fx *fixture) store.Boundary {
	t.Helper()
	ctx := context.Background()
	verse := fx.verses[0]
	toks := fx.tokens[verse]

	if _, err := fx.svc.SubmitBoundaries(ctx, verse, fx.annotator, []int64{toks[3]}); err != nil {
		t.Fatalf("boundaries: %v", err)
	}
	b := fx.boundaries(verse)[0]

	if _, err := fx.svc.SubmitWordOrder(ctx, verse, fx.annotator, []WordOrderGroup{
		{BoundaryID: b.ID, TokenIDs: []int64{toks[1], toks[0], toks[2], toks[3]}},
	}); err != nil {
		t.Fatalf("word order: %v", err)
	}
	if _, err := fx.svc.SubmitTextAnnotations(ctx, verse, fx.annotator, []TextAnnotationInput{
		{BoundaryID: b.ID, TokenID: toks[0], Content: "gloss"},
	}); err != nil {
		t.Fatalf("text annotations: %v", err)
	}
	nounID := fx.label(store.TaskTokenClassification, "NOUN")
	if _, err := fx.svc.SubmitTokenClassifications(ctx, verse, fx.annotator, []TokenClassificationInput{
		{BoundaryID: b.ID, TokenID: toks[0], LabelID: nounID},
	}); err != nil {
		t.Fatalf("classifications: %v", err)
	}
	kartaID := fx.label(store.TaskTokenGraph, "KARTA")
	if _, err := fx.svc.SubmitTokenGraph(ctx, verse, fx.annotator, []TokenGraphInput{
		{BoundaryID: b.ID, SrcID: toks[3], LabelID: kartaID, DstID: toks[0]},
	}); err != nil {
		t.Fatalf("token graph: %v", err)
	}
	if _, err := fx.svc.SubmitTokenConnections(ctx, verse, fx.annotator, []TokenConnectionInput{
		{BoundaryID: b.ID, SrcID: toks[0], DstID: toks[2]},
	}); err != nil {
		t.Fatalf("connections: %v", err)
	}
	stmtID := fx.label(store.TaskSentenceClassification, "statement")
	if _, err := fx.svc.SubmitSentenceClassifications(ctx, verse, fx.annotator, []SentenceClassificationInput{
		{BoundaryID: b.ID, LabelID: stmtID},
	}); err != nil {
		t.Fatalf("sentence classifications: %v", err)
	}
	corefID := fx.label(store.TaskSentenceGraph, "coref")
	if _, err := fx.svc.SubmitSentenceGraph(ctx, verse, fx.annotator, []SentenceGraphInput{
		{SrcBoundaryID: b.ID, DstBoundaryID: b.ID, SrcTokenID: toks[0], DstTokenID: toks[2],
			LabelID: corefID, RelationType: store.RelationTokenToken},
	}); err != nil {
		t.Fatalf("sentence graph: %v", err)
	}
	return b
}

func TestCloneAnnotationsCopiesEveryCategory(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(6)
	src := seedAnnotations(t, fx)

	summary, err := fx.svc.CloneAnnotations(ctx, CloneRequest{
		SourceAnnotatorIDs: []int64{fx.annotator},
		TargetAnnotatorID:  fx.other,
		ChapterIDs:         []int64{fx.chapter},
	})
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	want := CloneSummary{
		Boundaries:              1,
		WordOrder:               4,
		TextAnnotations:         1,
		TokenClassifications:    1,
		TokenGraph:              1,
		TokenConnections:        1,
		SentenceClassifications: 1,
		SentenceGraph:           1,
	}
	if summary != want {
		t.Fatalf("summary = %+v, want %+v", summary, want)
	}

	boundaryTask := fx.tasks[store.TaskSentenceBoundary]
	cloned, _ := fx.f.BoundariesForChapter(ctx, boundaryTask, fx.chapter, fx.other)
	if len(cloned) != 1 {
		t.Fatalf("target boundaries = %d, want 1", len(cloned))
	}
	if cloned[0].ID == src.ID {
		t.Fatal("clone reused the source boundary row")
	}
	if cloned[0].TokenID != src.TokenID || cloned[0].VerseID != src.VerseID {
		t.Fatalf("cloned boundary = %+v, source = %+v", cloned[0], src)
	}

	// Word order follows the remapped boundary and keeps the ordering.
	srcOrder, _ := fx.f.WordOrderForBoundaries(ctx, []int64{src.ID}, fx.annotator)
	dstOrder, _ := fx.f.WordOrderForBoundaries(ctx, []int64{cloned[0].ID}, fx.other)
	if len(dstOrder) != len(srcOrder) {
		t.Fatalf("cloned word order rows = %d, want %d", len(dstOrder), len(srcOrder))
	}
	for i := range srcOrder {
		if dstOrder[i].TokenID != srcOrder[i].TokenID || dstOrder[i].Order != srcOrder[i].Order {
			t.Fatalf("order row %d = %+v, want %+v", i, dstOrder[i], srcOrder[i])
		}
	}

	edges, _ := fx.f.SentenceGraphForBoundaries(ctx, fx.tasks[store.TaskSentenceGraph],
		[]int64{cloned[0].ID}, fx.other, false)
	if len(edges) != 1 {
		t.Fatalf("cloned sentence graph edges = %d, want 1", len(edges))
	}
	if edges[0].DstBoundaryID != cloned[0].ID {
		t.Fatalf("edge destination = %d, want remapped %d", edges[0].DstBoundaryID, cloned[0].ID)
	}

	// The source annotator's rows are untouched.
	srcAfter, _ := fx.f.BoundariesForChapter(ctx, boundaryTask, fx.chapter, fx.annotator)
	if len(srcAfter) != 1 || srcAfter[0].ID != src.ID {
		t.Fatalf("source boundaries changed: %+v", srcAfter)
	}
}

func TestCloneAnnotationsValidation(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(6)
	clone := func(srcIDs []int64, dst int64, chapterIDs []int64) error {
		_, err := fx.svc.CloneAnnotations(ctx, CloneRequest{
			SourceAnnotatorIDs: srcIDs,
			TargetAnnotatorID:  dst,
			ChapterIDs:         chapterIDs,
		})
		return err
	}

	wantDomainCode(t, clone(nil, fx.other, nil), "VALIDATION_ERROR")

	wantDomainCode(t, clone([]int64{fx.annotator}, fx.annotator, []int64{fx.chapter}), "CLONE_SELF")

	wantDomainCode(t, clone([]int64{fx.annotator}, fx.other, []int64{99999}), "CHAPTER_NOT_FOUND")

	wantDomainCode(t, clone([]int64{99999}, fx.other, []int64{fx.chapter}), "USER_NOT_FOUND")

	// No source boundaries yet.
	wantDomainCode(t, clone([]int64{fx.annotator}, fx.other, []int64{fx.chapter}), "SOURCE_EMPTY")

	seedAnnotations(t, fx)
	verse := fx.verses[0]
	if _, err := fx.svc.SubmitBoundaries(ctx, verse, fx.other, []int64{fx.tokens[verse][1]}); err != nil {
		t.Fatalf("target boundaries: %v", err)
	}
	wantDomainCode(t, clone([]int64{fx.annotator}, fx.other, []int64{fx.chapter}), "TARGET_NOT_EMPTY")
}

func TestCloneAnnotationsAbortsAtomically(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(6)
	seedAnnotations(t, fx)

	fx.f.failTokenConnectionInsert = errors.New("unique violation")
	if _, err := fx.svc.CloneAnnotations(ctx, CloneRequest{
		SourceAnnotatorIDs: []int64{fx.annotator},
		TargetAnnotatorID:  fx.other,
		ChapterIDs:         []int64{fx.chapter},
	}); err == nil {
		t.Fatal("expected clone to fail")
	}
	fx.f.failTokenConnectionInsert = nil

	// Nothing of the partial clone survives the rollback.
	cloned, _ := fx.f.BoundariesForChapter(ctx,
		fx.tasks[store.TaskSentenceBoundary], fx.chapter, fx.other)
	if len(cloned) != 0 {
		t.Fatalf("target boundaries after abort = %d, want 0", len(cloned))
	}
	for id, r := range fx.f.wordOrder {
		if r.AnnotatorID == fx.other {
			t.Fatalf("word order row %d leaked to target", id)
		}
	}
}

// Several sources merge onto one target; with no chapter filter the clone
// covers every chapter.
func TestCloneAnnotationsMultipleSources(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(6, 4)
	seedAnnotations(t, fx)
	verse2 := fx.verses[1]
	if _, err := fx.svc.SubmitBoundaries(ctx, verse2, fx.other, []int64{fx.tokens[verse2][3]}); err != nil {
		t.Fatalf("second source boundaries: %v", err)
	}
	target, _ := fx.f.CreateUser(ctx, store.User{Username: "carya", Email: "carya@example.com", IsActive: true})

	summary, err := fx.svc.CloneAnnotations(ctx, CloneRequest{
		SourceAnnotatorIDs: []int64{fx.annotator, fx.other},
		TargetAnnotatorID:  target,
	})
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if summary.Boundaries != 2 {
		t.Fatalf("boundaries = %d, want 2 (one per source)", summary.Boundaries)
	}

	cloned, _ := fx.f.BoundariesForChapter(ctx,
		fx.tasks[store.TaskSentenceBoundary], fx.chapter, target)
	if len(cloned) != 2 {
		t.Fatalf("target boundaries = %d, want 2", len(cloned))
	}
}

// A task filter narrows the clone to the named tasks; boundaries are
// copied regardless because every other category hangs off them.
func TestCloneAnnotationsTaskFilter(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(6)
	seedAnnotations(t, fx)

	summary, err := fx.svc.CloneAnnotations(ctx, CloneRequest{
		SourceAnnotatorIDs: []int64{fx.annotator},
		TargetAnnotatorID:  fx.other,
		TaskIDs:            []int64{fx.tasks[store.TaskWordOrder]},
		ChapterIDs:         []int64{fx.chapter},
	})
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	want := CloneSummary{Boundaries: 1, WordOrder: 4}
	if summary != want {
		t.Fatalf("summary = %+v, want %+v", summary, want)
	}
}

// flattenIdentities blanks annotator identity and boundary row ids, which
// legitimately differ between a source and its clone.
func flattenIdentities(e export.ChapterExport) export.ChapterExport {
	e.AnnotatorID = 0
	for i := range e.Boundaries {
		e.Boundaries[i].ID = 0
	}
	for i := range e.WordOrder {
		e.WordOrder[i].BoundaryID = 0
	}
	for i := range e.SentenceClassifications {
		e.SentenceClassifications[i].BoundaryID = 0
	}
	for i := range e.SentenceGraph {
		e.SentenceGraph[i].SrcBoundaryID = 0
		e.SentenceGraph[i].DstBoundaryID = 0
	}
	return e
}

// Exporting the clone target must yield the same aggregated output as
// exporting the source, label for label, once annotator identity and row
// ids are blanked.
func TestCloneExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(6)
	seedAnnotations(t, fx)

	if _, err := fx.svc.CloneAnnotations(ctx, CloneRequest{
		SourceAnnotatorIDs: []int64{fx.annotator},
		TargetAnnotatorID:  fx.other,
		ChapterIDs:         []int64{fx.chapter},
	}); err != nil {
		t.Fatalf("clone: %v", err)
	}

	exporter := export.NewService(fx.f, nil, nil, "")
	srcOut, err := exporter.Build(ctx, fx.chapter, fx.annotator, nil)
	if err != nil {
		t.Fatalf("export source: %v", err)
	}
	dstOut, err := exporter.Build(ctx, fx.chapter, fx.other, nil)
	if err != nil {
		t.Fatalf("export target: %v", err)
	}

	if got, want := flattenIdentities(dstOut), flattenIdentities(srcOut); !reflect.DeepEqual(got, want) {
		t.Fatalf("clone export diverges from source:\n got %+v\nwant %+v", got, want)
	}
}
