package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Antarlekhaka/code/internal/store"
)

// CloneRequest selects what to clone. TaskIDs and ChapterIDs are optional
// filters; empty means every active task and every chapter. Boundaries are
// always cloned, even when TaskIDs leaves them out, because every other
// category's rows reference boundary identity.
type CloneRequest struct {
	SourceAnnotatorIDs []int64 `json:"source_annotator_ids"`
	TargetAnnotatorID  int64   `json:"target_annotator_id"`
	TaskIDs            []int64 `json:"task_ids,omitempty"`
	ChapterIDs         []int64 `json:"chapter_ids,omitempty"`
}

// CloneSummary reports how many rows each category contributed to a clone.
type CloneSummary struct {
	Boundaries              int `json:"boundaries"`
	WordOrder               int `json:"word_order"`
	TextAnnotations         int `json:"token_text_annotations"`
	TokenClassifications    int `json:"token_classifications"`
	TokenGraph              int `json:"token_graph"`
	TokenConnections        int `json:"token_connections"`
	SentenceClassifications int `json:"sentence_classifications"`
	SentenceGraph           int `json:"sentence_graph"`
}

// cloneSource holds one source annotator's rows across every requested
// chapter, read before any write happens.
type cloneSource struct {
	annotatorID     int64
	boundaries      []store.Boundary
	wordOrder       []store.WordOrderRow
	textAnnotations []store.TokenTextAnnotationRow
	classifications []store.TokenClassificationRow
	tokenGraph      []store.TokenGraphRow
	connections     []store.TokenConnectionRow
	sentenceClasses []store.SentenceClassificationRow
	sentenceGraph   []store.SentenceGraphRow
}

// CloneAnnotations copies the annotation sets of one or more source
// annotators onto a target annotator. Boundaries are copied first so every
// other category can be remapped onto the new boundary identities; the
// remap spans all of a source's chapters, so cross-chapter sentence edges
// stay consistent when both chapters are in scope. The target must not
// have boundaries in any requested chapter yet; a failure in any category
// aborts the whole clone.
func (s *Service) CloneAnnotations(ctx context.Context, req CloneRequest) (CloneSummary, error) {
	if len(req.SourceAnnotatorIDs) == 0 {
		return CloneSummary{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"At least one source annotator is required", nil)
	}
	for _, srcID := range req.SourceAnnotatorIDs {
		if srcID == req.TargetAnnotatorID {
			return CloneSummary{}, domainError(http.StatusBadRequest, "CLONE_SELF",
				"Source and target annotator are the same", nil)
		}
		if _, err := s.store.GetUser(ctx, srcID); err != nil {
			return CloneSummary{}, notFound("USER_NOT_FOUND", "Source annotator not found")
		}
	}
	if _, err := s.store.GetUser(ctx, req.TargetAnnotatorID); err != nil {
		return CloneSummary{}, notFound("USER_NOT_FOUND", "Target annotator not found")
	}

	chapterIDs, err := s.cloneChapters(ctx, req.ChapterIDs)
	if err != nil {
		return CloneSummary{}, err
	}

	boundaryTask, err := s.taskByCategory(ctx, store.TaskSentenceBoundary)
	if err != nil {
		return CloneSummary{}, err
	}

	for _, chapterID := range chapterIDs {
		existing, err := s.store.BoundariesForChapter(ctx, boundaryTask.ID, chapterID, req.TargetAnnotatorID)
		if err != nil {
			return CloneSummary{}, err
		}
		if len(existing) > 0 {
			return CloneSummary{}, domainError(http.StatusConflict, "TARGET_NOT_EMPTY",
				"Target annotator already has boundaries in this chapter",
				map[string]any{"chapter_id": chapterID})
		}
	}

	var tokenIDs []int64
	for _, chapterID := range chapterIDs {
		ids, err := s.chapterTokenIDs(ctx, chapterID)
		if err != nil {
			return CloneSummary{}, err
		}
		tokenIDs = append(tokenIDs, ids...)
	}

	tasks, err := s.cloneTasks(ctx)
	if err != nil {
		return CloneSummary{}, err
	}
	wanted := make(map[int64]bool, len(req.TaskIDs))
	for _, id := range req.TaskIDs {
		wanted[id] = true
	}
	include := func(category store.TaskCategory) (int64, bool) {
		id, ok := tasks[category]
		if !ok {
			return 0, false
		}
		if len(wanted) > 0 && !wanted[id] {
			return 0, false
		}
		return id, true
	}

	sources := make([]cloneSource, 0, len(req.SourceAnnotatorIDs))
	for _, srcID := range req.SourceAnnotatorIDs {
		cs := cloneSource{annotatorID: srcID}
		for _, chapterID := range chapterIDs {
			boundaries, err := s.store.BoundariesForChapter(ctx, boundaryTask.ID, chapterID, srcID)
			if err != nil {
				return CloneSummary{}, err
			}
			cs.boundaries = append(cs.boundaries, boundaries...)
		}
		if len(cs.boundaries) == 0 {
			return CloneSummary{}, domainError(http.StatusConflict, "SOURCE_EMPTY",
				"Source annotator has no boundaries in the requested chapters",
				map[string]any{"annotator_id": srcID})
		}
		srcIDs := boundaryIDs(cs.boundaries)

		if _, ok := include(store.TaskWordOrder); ok {
			if cs.wordOrder, err = s.store.WordOrderForBoundaries(ctx, srcIDs, srcID); err != nil {
				return CloneSummary{}, err
			}
		}
		if taskID, ok := include(store.TaskTokenTextAnnotation); ok {
			if cs.textAnnotations, err = s.store.TokenTextAnnotationsForTokens(ctx, taskID, tokenIDs, srcID, false); err != nil {
				return CloneSummary{}, err
			}
		}
		if taskID, ok := include(store.TaskTokenClassification); ok {
			if cs.classifications, err = s.store.TokenClassificationsForTokens(ctx, taskID, tokenIDs, srcID, false); err != nil {
				return CloneSummary{}, err
			}
		}
		if taskID, ok := include(store.TaskTokenGraph); ok {
			if cs.tokenGraph, err = s.store.TokenGraphForBoundaries(ctx, taskID, srcIDs, srcID, false); err != nil {
				return CloneSummary{}, err
			}
		}
		if taskID, ok := include(store.TaskTokenConnection); ok {
			if cs.connections, err = s.store.TokenConnectionsForBoundaries(ctx, taskID, srcIDs, srcID, false); err != nil {
				return CloneSummary{}, err
			}
		}
		if taskID, ok := include(store.TaskSentenceClassification); ok {
			if cs.sentenceClasses, err = s.store.SentenceClassificationsForBoundaries(ctx, taskID, srcIDs, srcID, false); err != nil {
				return CloneSummary{}, err
			}
		}
		if taskID, ok := include(store.TaskSentenceGraph); ok {
			if cs.sentenceGraph, err = s.store.SentenceGraphForBoundaries(ctx, taskID, srcIDs, srcID, false); err != nil {
				return CloneSummary{}, err
			}
		}
		sources = append(sources, cs)
	}

	var summary CloneSummary
	now := s.now().UTC()
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		for _, cs := range sources {
			if err := s.cloneOne(ctx, tx, cs, req.TargetAnnotatorID, now, &summary); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return CloneSummary{}, err
	}
	return summary, nil
}

func (s *Service) cloneOne(ctx context.Context, tx store.Tx, cs cloneSource, dstAnnotatorID int64, now time.Time, summary *CloneSummary) error {
	remap := make(map[int64]int64, len(cs.boundaries))
	for _, b := range cs.boundaries {
		newID, err := tx.InsertBoundary(ctx, store.Boundary{
			TaskID:      b.TaskID,
			VerseID:     b.VerseID,
			TokenID:     b.TokenID,
			AnnotatorID: dstAnnotatorID,
			UpdatedAt:   now,
		})
		if err != nil {
			return cloneFailed(store.TaskSentenceBoundary, err)
		}
		remap[b.ID] = newID
		summary.Boundaries++
	}

	for _, r := range cs.wordOrder {
		if _, err := tx.InsertWordOrder(ctx, store.WordOrderRow{
			TaskID:      r.TaskID,
			BoundaryID:  remap[r.BoundaryID],
			TokenID:     r.TokenID,
			Order:       r.Order,
			AnnotatorID: dstAnnotatorID,
			UpdatedAt:   now,
		}); err != nil {
			return cloneFailed(store.TaskWordOrder, err)
		}
		summary.WordOrder++
	}

	for _, r := range cs.textAnnotations {
		newBoundary, ok := remap[r.BoundaryID]
		if !ok {
			continue
		}
		if _, err := tx.InsertTokenTextAnnotation(ctx, store.TokenTextAnnotationRow{
			TaskID:      r.TaskID,
			BoundaryID:  newBoundary,
			TokenID:     r.TokenID,
			Content:     r.Content,
			AnnotatorID: dstAnnotatorID,
			UpdatedAt:   now,
		}); err != nil {
			return cloneFailed(store.TaskTokenTextAnnotation, err)
		}
		summary.TextAnnotations++
	}

	for _, r := range cs.classifications {
		newBoundary, ok := remap[r.BoundaryID]
		if !ok {
			continue
		}
		if _, err := tx.InsertTokenClassification(ctx, store.TokenClassificationRow{
			TaskID:      r.TaskID,
			BoundaryID:  newBoundary,
			TokenID:     r.TokenID,
			LabelID:     r.LabelID,
			AnnotatorID: dstAnnotatorID,
			UpdatedAt:   now,
		}); err != nil {
			return cloneFailed(store.TaskTokenClassification, err)
		}
		summary.TokenClassifications++
	}

	for _, r := range cs.tokenGraph {
		if _, err := tx.InsertTokenGraph(ctx, store.TokenGraphRow{
			TaskID:      r.TaskID,
			BoundaryID:  remap[r.BoundaryID],
			SrcID:       r.SrcID,
			LabelID:     r.LabelID,
			DstID:       r.DstID,
			AnnotatorID: dstAnnotatorID,
			UpdatedAt:   now,
		}); err != nil {
			return cloneFailed(store.TaskTokenGraph, err)
		}
		summary.TokenGraph++
	}

	for _, r := range cs.connections {
		if _, err := tx.InsertTokenConnection(ctx, store.TokenConnectionRow{
			TaskID:      r.TaskID,
			BoundaryID:  remap[r.BoundaryID],
			SrcID:       r.SrcID,
			DstID:       r.DstID,
			AnnotatorID: dstAnnotatorID,
			UpdatedAt:   now,
		}); err != nil {
			return cloneFailed(store.TaskTokenConnection, err)
		}
		summary.TokenConnections++
	}

	for _, r := range cs.sentenceClasses {
		if _, err := tx.InsertSentenceClassification(ctx, store.SentenceClassificationRow{
			TaskID:      r.TaskID,
			BoundaryID:  remap[r.BoundaryID],
			LabelID:     r.LabelID,
			AnnotatorID: dstAnnotatorID,
			UpdatedAt:   now,
		}); err != nil {
			return cloneFailed(store.TaskSentenceClassification, err)
		}
		summary.SentenceClassifications++
	}

	for _, r := range cs.sentenceGraph {
		dstBoundary, ok := remap[r.DstBoundaryID]
		if !ok {
			// The edge points outside the cloned scope; keep the
			// original target boundary.
			dstBoundary = r.DstBoundaryID
		}
		if _, err := tx.InsertSentenceGraph(ctx, store.SentenceGraphRow{
			TaskID:        r.TaskID,
			SrcBoundaryID: remap[r.SrcBoundaryID],
			DstBoundaryID: dstBoundary,
			SrcTokenID:    r.SrcTokenID,
			DstTokenID:    r.DstTokenID,
			LabelID:       r.LabelID,
			RelationType:  r.RelationType,
			AnnotatorID:   dstAnnotatorID,
			UpdatedAt:     now,
		}); err != nil {
			return cloneFailed(store.TaskSentenceGraph, err)
		}
		summary.SentenceGraph++
	}
	return nil
}

// cloneChapters resolves the chapter filter: the requested ids verified to
// exist, or every chapter of every corpus when the filter is empty.
func (s *Service) cloneChapters(ctx context.Context, requested []int64) ([]int64, error) {
	if len(requested) > 0 {
		for _, id := range requested {
			if _, err := s.store.GetChapter(ctx, id); err != nil {
				return nil, notFound("CHAPTER_NOT_FOUND", "Chapter not found")
			}
		}
		return requested, nil
	}
	corpora, err := s.store.ListCorpora(ctx)
	if err != nil {
		return nil, err
	}
	var out []int64
	for _, c := range corpora {
		chapters, err := s.store.ListChapters(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		for _, ch := range chapters {
			out = append(out, ch.ID)
		}
	}
	if len(out) == 0 {
		return nil, notFound("CHAPTER_NOT_FOUND", "No chapters to clone")
	}
	return out, nil
}

func (s *Service) chapterTokenIDs(ctx context.Context, chapterID int64) ([]int64, error) {
	verseIDs, err := s.store.ListChapterVerseIDs(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	tokens, err := s.store.ListTokensForVerses(ctx, verseIDs)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(tokens))
	for i, t := range tokens {
		ids[i] = t.ID
	}
	return ids, nil
}

func (s *Service) cloneTasks(ctx context.Context) (map[store.TaskCategory]int64, error) {
	tasks, err := s.store.ListTasks(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make(map[store.TaskCategory]int64, len(tasks))
	for _, t := range tasks {
		if _, ok := out[t.Category]; !ok {
			out[t.Category] = t.ID
		}
	}
	return out, nil
}

func cloneFailed(category store.TaskCategory, err error) error {
	return fmt.Errorf("clone %s: %w", category, err)
}
