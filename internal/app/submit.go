package app

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/Antarlekhaka/code/internal/store"
)

type WordOrderGroup struct {
	BoundaryID int64   `json:"boundary_id"`
	TokenIDs   []int64 `json:"token_ids"`
}

type TextAnnotationInput struct {
	BoundaryID int64  `json:"boundary_id"`
	TokenID    int64  `json:"token_id"`
	Content    string `json:"content"`
}

type TokenClassificationInput struct {
	BoundaryID int64 `json:"boundary_id"`
	TokenID    int64 `json:"token_id"`
	LabelID    int64 `json:"label_id"`
}

type TokenGraphInput struct {
	BoundaryID int64 `json:"boundary_id"`
	SrcID      int64 `json:"src_id"`
	LabelID    int64 `json:"label_id"`
	DstID      int64 `json:"dst_id"`
}

type TokenConnectionInput struct {
	BoundaryID int64 `json:"boundary_id"`
	SrcID      int64 `json:"src_id"`
	DstID      int64 `json:"dst_id"`
}

type SentenceClassificationInput struct {
	BoundaryID int64 `json:"boundary_id"`
	LabelID    int64 `json:"label_id"`
}

type SentenceGraphInput struct {
	SrcBoundaryID int64 `json:"src_boundary_id"`
	DstBoundaryID int64 `json:"dst_boundary_id"`
	SrcTokenID    int64 `json:"src_token_id"`
	DstTokenID    int64 `json:"dst_token_id"`
	LabelID       int64 `json:"label_id"`
	RelationType  int   `json:"relation_type"`
}

// SubmitBoundaries replaces the annotator's sentence boundaries for one
// verse. Every annotation anchored to the old boundaries is discarded, the
// submitted set is inserted fresh, and the word order of the first boundary
// after the verse is cleared, because its sentence span may have changed.
// Word order is the only downstream category repaired this way; later
// boundaries and other categories keep their anchors.
func (s *Service) SubmitBoundaries(ctx context.Context, verseID, annotatorID int64, tokenIDs []int64) (Response, error) {
	task, err := s.taskByCategory(ctx, store.TaskSentenceBoundary)
	if err != nil {
		return Response{}, err
	}
	verse, err := s.store.GetVerse(ctx, verseID)
	if err != nil {
		return Response{}, notFound("VERSE_NOT_FOUND", "Verse not found")
	}

	verseTokens, err := s.store.ListTokensForVerses(ctx, []int64{verseID})
	if err != nil {
		return Response{}, err
	}
	tokenSet := make(map[int64]bool, len(verseTokens))
	for _, t := range verseTokens {
		tokenSet[t.ID] = true
	}
	submitted := dedupeSorted(tokenIDs)
	for _, id := range submitted {
		if !tokenSet[id] {
			return Response{}, domainError(http.StatusBadRequest, "TOKEN_OUTSIDE_VERSE",
				fmt.Sprintf("Token %d does not belong to verse %d", id, verseID), nil)
		}
	}

	existing, err := s.store.BoundariesForVerse(ctx, task.ID, verseID, annotatorID)
	if err != nil {
		return Response{}, err
	}
	if sameTokenSet(existing, submitted) {
		return s.noChange(ctx, task.ID)
	}

	// The sentence ending at the first boundary after this verse absorbs
	// or loses tokens when the verse's boundaries move, so its word order
	// must be redone. Extras sit outside the monotonic id walk, so the
	// anchor is the last corpus token of the verse.
	var repair []int64
	if _, maxID := corpusTokenBounds(verseTokens); maxID > 0 {
		next, err := s.store.NextBoundary(ctx, task.ID, verse.ChapterID, maxID, annotatorID)
		if err == nil {
			repair = append(repair, next.ID)
		} else if err != store.ErrNotFound {
			return Response{}, err
		}
	}

	existingIDs := boundaryIDs(existing)
	now := s.now().UTC()
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.DeleteLayersForBoundaries(ctx, existingIDs); err != nil {
			return err
		}
		if err := tx.DeleteBoundaries(ctx, existingIDs); err != nil {
			return err
		}
		for _, tokenID := range submitted {
			if _, err := tx.InsertBoundary(ctx, store.Boundary{
				TaskID:      task.ID,
				VerseID:     verseID,
				TokenID:     tokenID,
				AnnotatorID: annotatorID,
				UpdatedAt:   now,
			}); err != nil {
				return err
			}
		}
		if err := tx.DeleteWordOrder(ctx, repair); err != nil {
			return err
		}
		return tx.AppendSubmitLog(ctx, store.SubmitLogEntry{
			VerseID:     verseID,
			AnnotatorID: annotatorID,
			TaskID:      task.ID,
			UpdatedAt:   now,
		})
	})
	if err != nil {
		return Response{}, err
	}

	return s.saved(ctx, task.ID, len(existingIDs)+len(submitted))
}

// SubmitWordOrder replaces the token ordering of the given sentences.
func (s *Service) SubmitWordOrder(ctx context.Context, verseID, annotatorID int64, groups []WordOrderGroup) (Response, error) {
	task, err := s.taskByCategory(ctx, store.TaskWordOrder)
	if err != nil {
		return Response{}, err
	}
	boundarySet, err := s.verseBoundarySet(ctx, verseID, annotatorID)
	if err != nil {
		return Response{}, err
	}

	var ids []int64
	for _, g := range groups {
		if _, ok := boundarySet[g.BoundaryID]; !ok {
			return Response{}, badBoundary(g.BoundaryID, verseID)
		}
		ids = append(ids, g.BoundaryID)
	}

	changes := 0
	now := s.now().UTC()
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.DeleteWordOrder(ctx, ids); err != nil {
			return err
		}
		for _, g := range groups {
			for i, tokenID := range g.TokenIDs {
				if _, err := tx.InsertWordOrder(ctx, store.WordOrderRow{
					TaskID:      task.ID,
					BoundaryID:  g.BoundaryID,
					TokenID:     tokenID,
					Order:       i + 1,
					AnnotatorID: annotatorID,
					UpdatedAt:   now,
				}); err != nil {
					return err
				}
				changes++
			}
		}
		return tx.AppendSubmitLog(ctx, store.SubmitLogEntry{
			VerseID:     verseID,
			AnnotatorID: annotatorID,
			TaskID:      task.ID,
			UpdatedAt:   now,
		})
	})
	if err != nil {
		return Response{}, err
	}
	return s.saved(ctx, task.ID, changes)
}

// SubmitTextAnnotations reconciles the annotator's free-text annotations
// for the verse's tokens against the submitted replacement set.
func (s *Service) SubmitTextAnnotations(ctx context.Context, verseID, annotatorID int64, entries []TextAnnotationInput) (Response, error) {
	task, err := s.taskByCategory(ctx, store.TaskTokenTextAnnotation)
	if err != nil {
		return Response{}, err
	}
	tokenSet, boundarySet, err := s.verseScope(ctx, verseID, annotatorID)
	if err != nil {
		return Response{}, err
	}
	for _, e := range entries {
		if !tokenSet[e.TokenID] {
			return Response{}, badToken(e.TokenID, verseID)
		}
		if _, ok := boundarySet[e.BoundaryID]; !ok {
			return Response{}, badBoundary(e.BoundaryID, verseID)
		}
	}

	stored, err := s.store.TokenTextAnnotationsForTokens(ctx, task.ID, setKeys(tokenSet), annotatorID, true)
	if err != nil {
		return Response{}, err
	}

	plan := planDiff(entries, stored,
		func(e TextAnnotationInput) int64 { return e.TokenID },
		func(r store.TokenTextAnnotationRow) int64 { return r.TokenID },
		func(r store.TokenTextAnnotationRow) RecordState { return rowState(r.IsDeleted) },
		func(e TextAnnotationInput, r store.TokenTextAnnotationRow) bool { return e.Content == r.Content },
	)
	if plan.changed() == 0 {
		return s.noChange(ctx, task.ID)
	}

	now := s.now().UTC()
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		for _, e := range plan.Insert {
			if _, err := tx.InsertTokenTextAnnotation(ctx, store.TokenTextAnnotationRow{
				TaskID:      task.ID,
				BoundaryID:  e.BoundaryID,
				TokenID:     e.TokenID,
				Content:     e.Content,
				AnnotatorID: annotatorID,
				UpdatedAt:   now,
			}); err != nil {
				return err
			}
		}
		for _, pair := range append(plan.Revive, plan.Update...) {
			if err := tx.UpdateTokenTextAnnotation(ctx, pair.Stored.ID, pair.Submitted.BoundaryID, pair.Submitted.Content, now); err != nil {
				return err
			}
		}
		for _, r := range plan.Delete {
			if err := tx.SoftDeleteTokenTextAnnotation(ctx, r.ID, now); err != nil {
				return err
			}
		}
		return tx.AppendSubmitLog(ctx, store.SubmitLogEntry{
			VerseID: verseID, AnnotatorID: annotatorID, TaskID: task.ID, UpdatedAt: now,
		})
	})
	if err != nil {
		return Response{}, err
	}
	return s.saved(ctx, task.ID, plan.changed())
}

// SubmitTokenClassifications reconciles one-label-per-token assignments.
func (s *Service) SubmitTokenClassifications(ctx context.Context, verseID, annotatorID int64, entries []TokenClassificationInput) (Response, error) {
	task, err := s.taskByCategory(ctx, store.TaskTokenClassification)
	if err != nil {
		return Response{}, err
	}
	tokenSet, boundarySet, err := s.verseScope(ctx, verseID, annotatorID)
	if err != nil {
		return Response{}, err
	}
	for _, e := range entries {
		if !tokenSet[e.TokenID] {
			return Response{}, badToken(e.TokenID, verseID)
		}
		if _, ok := boundarySet[e.BoundaryID]; !ok {
			return Response{}, badBoundary(e.BoundaryID, verseID)
		}
	}

	stored, err := s.store.TokenClassificationsForTokens(ctx, task.ID, setKeys(tokenSet), annotatorID, true)
	if err != nil {
		return Response{}, err
	}

	plan := planDiff(entries, stored,
		func(e TokenClassificationInput) int64 { return e.TokenID },
		func(r store.TokenClassificationRow) int64 { return r.TokenID },
		func(r store.TokenClassificationRow) RecordState { return rowState(r.IsDeleted) },
		func(e TokenClassificationInput, r store.TokenClassificationRow) bool { return e.LabelID == r.LabelID },
	)
	if plan.changed() == 0 {
		return s.noChange(ctx, task.ID)
	}

	now := s.now().UTC()
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		for _, e := range plan.Insert {
			if _, err := tx.InsertTokenClassification(ctx, store.TokenClassificationRow{
				TaskID:      task.ID,
				BoundaryID:  e.BoundaryID,
				TokenID:     e.TokenID,
				LabelID:     e.LabelID,
				AnnotatorID: annotatorID,
				UpdatedAt:   now,
			}); err != nil {
				return err
			}
		}
		for _, pair := range append(plan.Revive, plan.Update...) {
			if err := tx.UpdateTokenClassification(ctx, pair.Stored.ID, pair.Submitted.BoundaryID, pair.Submitted.LabelID, now); err != nil {
				return err
			}
		}
		for _, r := range plan.Delete {
			if err := tx.SoftDeleteTokenClassification(ctx, r.ID, now); err != nil {
				return err
			}
		}
		return tx.AppendSubmitLog(ctx, store.SubmitLogEntry{
			VerseID: verseID, AnnotatorID: annotatorID, TaskID: task.ID, UpdatedAt: now,
		})
	})
	if err != nil {
		return Response{}, err
	}
	return s.saved(ctx, task.ID, plan.changed())
}

type tripleKey struct {
	src, label, dst int64
}

// SubmitTokenGraph reconciles labelled token-to-token relations. The
// triple (source, label, destination) is the row's identity, so a stored
// active row matching a submitted triple is untouched.
func (s *Service) SubmitTokenGraph(ctx context.Context, verseID, annotatorID int64, entries []TokenGraphInput) (Response, error) {
	task, err := s.taskByCategory(ctx, store.TaskTokenGraph)
	if err != nil {
		return Response{}, err
	}
	boundarySet, err := s.verseBoundarySet(ctx, verseID, annotatorID)
	if err != nil {
		return Response{}, err
	}
	for _, e := range entries {
		if _, ok := boundarySet[e.BoundaryID]; !ok {
			return Response{}, badBoundary(e.BoundaryID, verseID)
		}
	}

	stored, err := s.store.TokenGraphForBoundaries(ctx, task.ID, setKeys64(boundarySet), annotatorID, true)
	if err != nil {
		return Response{}, err
	}

	plan := planDiff(entries, stored,
		func(e TokenGraphInput) tripleKey { return tripleKey{e.SrcID, e.LabelID, e.DstID} },
		func(r store.TokenGraphRow) tripleKey { return tripleKey{r.SrcID, r.LabelID, r.DstID} },
		func(r store.TokenGraphRow) RecordState { return rowState(r.IsDeleted) },
		func(TokenGraphInput, store.TokenGraphRow) bool { return true },
	)
	if plan.changed() == 0 {
		return s.noChange(ctx, task.ID)
	}

	now := s.now().UTC()
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		for _, e := range plan.Insert {
			if _, err := tx.InsertTokenGraph(ctx, store.TokenGraphRow{
				TaskID:      task.ID,
				BoundaryID:  e.BoundaryID,
				SrcID:       e.SrcID,
				LabelID:     e.LabelID,
				DstID:       e.DstID,
				AnnotatorID: annotatorID,
				UpdatedAt:   now,
			}); err != nil {
				return err
			}
		}
		for _, pair := range plan.Revive {
			if err := tx.UpdateTokenGraph(ctx, pair.Stored.ID, pair.Submitted.BoundaryID, now); err != nil {
				return err
			}
		}
		for _, r := range plan.Delete {
			if err := tx.SoftDeleteTokenGraph(ctx, r.ID, now); err != nil {
				return err
			}
		}
		return tx.AppendSubmitLog(ctx, store.SubmitLogEntry{
			VerseID: verseID, AnnotatorID: annotatorID, TaskID: task.ID, UpdatedAt: now,
		})
	})
	if err != nil {
		return Response{}, err
	}
	return s.saved(ctx, task.ID, plan.changed())
}

type pairKey struct {
	src, dst int64
}

// SubmitTokenConnections reconciles unlabelled token pairs.
func (s *Service) SubmitTokenConnections(ctx context.Context, verseID, annotatorID int64, entries []TokenConnectionInput) (Response, error) {
	task, err := s.taskByCategory(ctx, store.TaskTokenConnection)
	if err != nil {
		return Response{}, err
	}
	boundarySet, err := s.verseBoundarySet(ctx, verseID, annotatorID)
	if err != nil {
		return Response{}, err
	}
	for _, e := range entries {
		if _, ok := boundarySet[e.BoundaryID]; !ok {
			return Response{}, badBoundary(e.BoundaryID, verseID)
		}
	}

	stored, err := s.store.TokenConnectionsForBoundaries(ctx, task.ID, setKeys64(boundarySet), annotatorID, true)
	if err != nil {
		return Response{}, err
	}

	plan := planDiff(entries, stored,
		func(e TokenConnectionInput) pairKey { return pairKey{e.SrcID, e.DstID} },
		func(r store.TokenConnectionRow) pairKey { return pairKey{r.SrcID, r.DstID} },
		func(r store.TokenConnectionRow) RecordState { return rowState(r.IsDeleted) },
		func(TokenConnectionInput, store.TokenConnectionRow) bool { return true },
	)
	if plan.changed() == 0 {
		return s.noChange(ctx, task.ID)
	}

	now := s.now().UTC()
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		for _, e := range plan.Insert {
			if _, err := tx.InsertTokenConnection(ctx, store.TokenConnectionRow{
				TaskID:      task.ID,
				BoundaryID:  e.BoundaryID,
				SrcID:       e.SrcID,
				DstID:       e.DstID,
				AnnotatorID: annotatorID,
				UpdatedAt:   now,
			}); err != nil {
				return err
			}
		}
		for _, pair := range plan.Revive {
			if err := tx.UpdateTokenConnection(ctx, pair.Stored.ID, pair.Submitted.BoundaryID, now); err != nil {
				return err
			}
		}
		for _, r := range plan.Delete {
			if err := tx.SoftDeleteTokenConnection(ctx, r.ID, now); err != nil {
				return err
			}
		}
		return tx.AppendSubmitLog(ctx, store.SubmitLogEntry{
			VerseID: verseID, AnnotatorID: annotatorID, TaskID: task.ID, UpdatedAt: now,
		})
	})
	if err != nil {
		return Response{}, err
	}
	return s.saved(ctx, task.ID, plan.changed())
}

// SubmitSentenceClassifications reconciles one-label-per-sentence
// assignments, keyed by the sentence's boundary.
func (s *Service) SubmitSentenceClassifications(ctx context.Context, verseID, annotatorID int64, entries []SentenceClassificationInput) (Response, error) {
	task, err := s.taskByCategory(ctx, store.TaskSentenceClassification)
	if err != nil {
		return Response{}, err
	}
	boundarySet, err := s.verseBoundarySet(ctx, verseID, annotatorID)
	if err != nil {
		return Response{}, err
	}
	for _, e := range entries {
		if _, ok := boundarySet[e.BoundaryID]; !ok {
			return Response{}, badBoundary(e.BoundaryID, verseID)
		}
	}

	stored, err := s.store.SentenceClassificationsForBoundaries(ctx, task.ID, setKeys64(boundarySet), annotatorID, true)
	if err != nil {
		return Response{}, err
	}

	plan := planDiff(entries, stored,
		func(e SentenceClassificationInput) int64 { return e.BoundaryID },
		func(r store.SentenceClassificationRow) int64 { return r.BoundaryID },
		func(r store.SentenceClassificationRow) RecordState { return rowState(r.IsDeleted) },
		func(e SentenceClassificationInput, r store.SentenceClassificationRow) bool { return e.LabelID == r.LabelID },
	)
	if plan.changed() == 0 {
		return s.noChange(ctx, task.ID)
	}

	now := s.now().UTC()
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		for _, e := range plan.Insert {
			if _, err := tx.InsertSentenceClassification(ctx, store.SentenceClassificationRow{
				TaskID:      task.ID,
				BoundaryID:  e.BoundaryID,
				LabelID:     e.LabelID,
				AnnotatorID: annotatorID,
				UpdatedAt:   now,
			}); err != nil {
				return err
			}
		}
		for _, pair := range append(plan.Revive, plan.Update...) {
			if err := tx.UpdateSentenceClassification(ctx, pair.Stored.ID, pair.Submitted.LabelID, now); err != nil {
				return err
			}
		}
		for _, r := range plan.Delete {
			if err := tx.SoftDeleteSentenceClassification(ctx, r.ID, now); err != nil {
				return err
			}
		}
		return tx.AppendSubmitLog(ctx, store.SubmitLogEntry{
			VerseID: verseID, AnnotatorID: annotatorID, TaskID: task.ID, UpdatedAt: now,
		})
	})
	if err != nil {
		return Response{}, err
	}
	return s.saved(ctx, task.ID, plan.changed())
}

type relationKey struct {
	srcBoundary, dstBoundary, srcToken, dstToken int64
	relationType                                 int
}

// SubmitSentenceGraph reconciles sentence-level relations. An edge may run
// between two sentences, two tokens of different sentences, or a mixture;
// RelationType records which endpoints are tokens.
func (s *Service) SubmitSentenceGraph(ctx context.Context, verseID, annotatorID int64, entries []SentenceGraphInput) (Response, error) {
	task, err := s.taskByCategory(ctx, store.TaskSentenceGraph)
	if err != nil {
		return Response{}, err
	}
	boundarySet, err := s.verseBoundarySet(ctx, verseID, annotatorID)
	if err != nil {
		return Response{}, err
	}
	for _, e := range entries {
		if _, ok := boundarySet[e.SrcBoundaryID]; !ok {
			return Response{}, badBoundary(e.SrcBoundaryID, verseID)
		}
		if e.RelationType < store.RelationTokenToken || e.RelationType > store.RelationSentenceSentence {
			return Response{}, domainError(http.StatusBadRequest, "INVALID_RELATION_TYPE",
				fmt.Sprintf("Unknown relation type %d", e.RelationType), nil)
		}
		// Sentence endpoints are still stored through their boundary token,
		// so both token references are required for every relation type.
		if e.SrcTokenID == 0 || e.DstTokenID == 0 {
			return Response{}, domainError(http.StatusBadRequest, "TOKEN_REQUIRED",
				"Sentence relation endpoints must reference tokens", nil)
		}
	}

	stored, err := s.store.SentenceGraphForBoundaries(ctx, task.ID, setKeys64(boundarySet), annotatorID, true)
	if err != nil {
		return Response{}, err
	}

	plan := planDiff(entries, stored,
		func(e SentenceGraphInput) relationKey {
			return relationKey{e.SrcBoundaryID, e.DstBoundaryID, e.SrcTokenID, e.DstTokenID, e.RelationType}
		},
		func(r store.SentenceGraphRow) relationKey {
			return relationKey{r.SrcBoundaryID, r.DstBoundaryID, r.SrcTokenID, r.DstTokenID, r.RelationType}
		},
		func(r store.SentenceGraphRow) RecordState { return rowState(r.IsDeleted) },
		func(e SentenceGraphInput, r store.SentenceGraphRow) bool { return e.LabelID == r.LabelID },
	)
	if plan.changed() == 0 {
		return s.noChange(ctx, task.ID)
	}

	now := s.now().UTC()
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		for _, e := range plan.Insert {
			if _, err := tx.InsertSentenceGraph(ctx, store.SentenceGraphRow{
				TaskID:        task.ID,
				SrcBoundaryID: e.SrcBoundaryID,
				DstBoundaryID: e.DstBoundaryID,
				SrcTokenID:    e.SrcTokenID,
				DstTokenID:    e.DstTokenID,
				LabelID:       e.LabelID,
				RelationType:  e.RelationType,
				AnnotatorID:   annotatorID,
				UpdatedAt:     now,
			}); err != nil {
				return err
			}
		}
		for _, pair := range append(plan.Revive, plan.Update...) {
			if err := tx.UpdateSentenceGraph(ctx, pair.Stored.ID, pair.Submitted.LabelID, now); err != nil {
				return err
			}
		}
		for _, r := range plan.Delete {
			if err := tx.SoftDeleteSentenceGraph(ctx, r.ID, now); err != nil {
				return err
			}
		}
		return tx.AppendSubmitLog(ctx, store.SubmitLogEntry{
			VerseID: verseID, AnnotatorID: annotatorID, TaskID: task.ID, UpdatedAt: now,
		})
	})
	if err != nil {
		return Response{}, err
	}
	return s.saved(ctx, task.ID, plan.changed())
}

func (s *Service) noChange(ctx context.Context, taskID int64) (Response, error) {
	next, err := s.nextTaskID(ctx, taskID)
	if err != nil {
		return Response{}, err
	}
	return Response{
		Success:    true,
		Message:    "No changes",
		Style:      "warning",
		NextTaskID: next,
	}, nil
}

func (s *Service) saved(ctx context.Context, taskID int64, changes int) (Response, error) {
	next, err := s.nextTaskID(ctx, taskID)
	if err != nil {
		return Response{}, err
	}
	return Response{
		Success:    true,
		Message:    fmt.Sprintf("Saved %d change(s)", changes),
		Style:      "success",
		Changes:    changes,
		NextTaskID: next,
	}, nil
}

// verseBoundarySet returns the annotator's boundary ids within the verse.
func (s *Service) verseBoundarySet(ctx context.Context, verseID, annotatorID int64) (map[int64]store.Boundary, error) {
	task, err := s.taskByCategory(ctx, store.TaskSentenceBoundary)
	if err != nil {
		return nil, err
	}
	boundaries, err := s.store.BoundariesForVerse(ctx, task.ID, verseID, annotatorID)
	if err != nil {
		return nil, err
	}
	set := make(map[int64]store.Boundary, len(boundaries))
	for _, b := range boundaries {
		set[b.ID] = b
	}
	return set, nil
}

// verseScope returns the diff scope of token-anchored families: the ids of
// every token a sentence of this verse can contain, plus the verse's
// boundary set. Sentences can reach back into earlier verses, so the token
// scope starts after the previous boundary (or at the chapter's first
// token).
func (s *Service) verseScope(ctx context.Context, verseID, annotatorID int64) (map[int64]bool, map[int64]store.Boundary, error) {
	verse, err := s.store.GetVerse(ctx, verseID)
	if err != nil {
		return nil, nil, notFound("VERSE_NOT_FOUND", "Verse not found")
	}
	boundarySet, err := s.verseBoundarySet(ctx, verseID, annotatorID)
	if err != nil {
		return nil, nil, err
	}
	verseTokens, err := s.store.ListTokensForVerses(ctx, []int64{verseID})
	if err != nil {
		return nil, nil, err
	}

	tokenSet := make(map[int64]bool, len(verseTokens))
	for _, t := range verseTokens {
		tokenSet[t.ID] = true
	}
	minID, _ := corpusTokenBounds(verseTokens)
	if minID > 0 {
		task, err := s.taskByCategory(ctx, store.TaskSentenceBoundary)
		if err != nil {
			return nil, nil, err
		}
		start := int64(0)
		prev, err := s.store.PreviousBoundary(ctx, task.ID, verse.ChapterID, minID, annotatorID)
		switch err {
		case nil:
			start = prev.TokenID
		case store.ErrNotFound:
			first, err := s.store.FirstChapterToken(ctx, verse.ChapterID)
			if err != nil && err != store.ErrNotFound {
				return nil, nil, err
			}
			if err == nil {
				start = first.ID - 1
			}
		default:
			return nil, nil, err
		}
		if start > 0 && start < minID-1 {
			reach, err := s.store.TokensInRange(ctx, start, minID-1)
			if err != nil {
				return nil, nil, err
			}
			for _, t := range reach {
				tokenSet[t.ID] = true
			}
		}
	}
	return tokenSet, boundarySet, nil
}

func rowState(isDeleted bool) RecordState {
	if isDeleted {
		return StateDeleted
	}
	return StateActive
}

func notFound(code, message string) *DomainError {
	return domainError(http.StatusNotFound, code, message, nil)
}

func badToken(tokenID, verseID int64) *DomainError {
	return domainError(http.StatusBadRequest, "TOKEN_OUTSIDE_SCOPE",
		fmt.Sprintf("Token %d is outside the scope of verse %d", tokenID, verseID), nil)
}

func badBoundary(boundaryID, verseID int64) *DomainError {
	return domainError(http.StatusBadRequest, "BOUNDARY_OUTSIDE_VERSE",
		fmt.Sprintf("Boundary %d does not belong to the annotator in verse %d", boundaryID, verseID), nil)
}

func dedupeSorted(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sameTokenSet(existing []store.Boundary, submitted []int64) bool {
	if len(existing) != len(submitted) {
		return false
	}
	have := make(map[int64]bool, len(existing))
	for _, b := range existing {
		have[b.TokenID] = true
	}
	for _, id := range submitted {
		if !have[id] {
			return false
		}
	}
	return true
}

func boundaryIDs(boundaries []store.Boundary) []int64 {
	ids := make([]int64, len(boundaries))
	for i, b := range boundaries {
		ids[i] = b.ID
	}
	return ids
}

// corpusTokenBounds returns the smallest and largest ids among the verse's
// corpus tokens. Annotator-inserted extras carry serial ids above the
// chapter's range and never take part in the monotonic id walk.
func corpusTokenBounds(tokens []store.VerseToken) (minID, maxID int64) {
	for _, t := range tokens {
		if t.AnnotatorID != nil {
			continue
		}
		if minID == 0 || t.ID < minID {
			minID = t.ID
		}
		if t.ID > maxID {
			maxID = t.ID
		}
	}
	return minID, maxID
}

func setKeys(set map[int64]bool) []int64 {
	keys := make([]int64, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func setKeys64(set map[int64]store.Boundary) []int64 {
	keys := make([]int64, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
