package app

import (
	"context"
	"net/http"
	"time"

	"github.com/Antarlekhaka/code/internal/heuristic"
	"github.com/Antarlekhaka/code/internal/search"
	"github.com/Antarlekhaka/code/internal/segment"
	"github.com/Antarlekhaka/code/internal/store"
)

// SentenceView is one segmented sentence of a verse, with its word order
// resolved: the annotator's stored order when present, the heuristic
// proposal otherwise.
type SentenceView struct {
	BoundaryID    int64            `json:"boundary_id"`
	TokenIDs      []int64          `json:"token_ids"`
	WordOrder     []int64          `json:"word_order"`
	OrderIsStored bool             `json:"word_order_is_stored"`
	Relations     []heuristic.Edge `json:"proposed_relations,omitempty"`
}

// VerseView is everything a client needs to annotate one verse.
type VerseView struct {
	Verse       store.Verse       `json:"verse"`
	Lines       []store.Line      `json:"lines"`
	Tokens      []store.VerseToken `json:"tokens"`
	ExtraTokens []store.Token     `json:"extra_tokens"`
	Sentences   []SentenceView    `json:"sentences"`
	// Tail holds token ids after the last boundary; their sentence is
	// still open.
	Tail []int64 `json:"tail"`
}

// GetVerseView assembles the annotator's view of a verse: lines, tokens,
// segmented sentences with word order, and proposed token relations.
func (s *Service) GetVerseView(ctx context.Context, verseID, annotatorID int64) (VerseView, error) {
	verse, err := s.store.GetVerse(ctx, verseID)
	if err != nil {
		return VerseView{}, notFound("VERSE_NOT_FOUND", "Verse not found")
	}

	lines, err := s.store.ListLinesForVerses(ctx, []int64{verseID})
	if err != nil {
		return VerseView{}, err
	}
	verseTokens, err := s.store.ListTokensForVerses(ctx, []int64{verseID})
	if err != nil {
		return VerseView{}, err
	}
	extras, err := s.store.ExtraTokensForVerse(ctx, verseID)
	if err != nil {
		return VerseView{}, err
	}

	task, err := s.taskByCategory(ctx, store.TaskSentenceBoundary)
	if err != nil {
		return VerseView{}, err
	}
	boundaries, err := s.store.BoundariesForVerse(ctx, task.ID, verseID, annotatorID)
	if err != nil {
		return VerseView{}, err
	}

	view := VerseView{
		Verse:       verse,
		Lines:       lines,
		Tokens:      verseTokens,
		ExtraTokens: extras,
	}
	if len(verseTokens) == 0 {
		return view, nil
	}

	rangeTokens, err := s.segmentRange(ctx, task.ID, verse, verseTokens, annotatorID)
	if err != nil {
		return VerseView{}, err
	}

	sentences, tail, err := segment.Split(rangeTokens, boundaries)
	if err != nil {
		return VerseView{}, err
	}
	for _, t := range tail {
		view.Tail = append(view.Tail, t.ID)
	}

	stored, err := s.store.WordOrderForBoundaries(ctx, boundaryIDs(boundaries), annotatorID)
	if err != nil {
		return VerseView{}, err
	}
	orderByBoundary := make(map[int64][]int64)
	for _, row := range stored {
		orderByBoundary[row.BoundaryID] = append(orderByBoundary[row.BoundaryID], row.TokenID)
	}

	for _, sent := range sentences {
		sv := SentenceView{
			BoundaryID: sent.Boundary.ID,
			TokenIDs:   sent.TokenIDs(),
			Relations:  heuristic.TokenGraph(s.graphCfg, sent.Tokens),
		}
		if order, ok := orderByBoundary[sent.Boundary.ID]; ok {
			sv.WordOrder = order
			sv.OrderIsStored = true
		} else {
			sv.WordOrder = heuristic.WordOrder(s.wordOrderCfg, sent.Tokens)
		}
		view.Sentences = append(view.Sentences, sv)
	}
	return view, nil
}

// segmentRange walks back to the previous boundary (or the chapter start)
// and returns the contiguous token range the verse's sentences can span.
// Annotator-inserted extras sit outside the corpus id sequence and do not
// widen the range.
func (s *Service) segmentRange(ctx context.Context, taskID int64, verse store.Verse, verseTokens []store.VerseToken, annotatorID int64) ([]store.Token, error) {
	minID, maxID := corpusTokenBounds(verseTokens)
	if maxID == 0 {
		return nil, nil
	}

	start := minID - 1
	prev, err := s.store.PreviousBoundary(ctx, taskID, verse.ChapterID, minID, annotatorID)
	switch err {
	case nil:
		start = prev.TokenID
	case store.ErrNotFound:
		first, ferr := s.store.FirstChapterToken(ctx, verse.ChapterID)
		if ferr != nil && ferr != store.ErrNotFound {
			return nil, ferr
		}
		if ferr == nil && first.ID <= minID {
			start = first.ID - 1
		}
	default:
		return nil, err
	}

	return s.store.TokensInRange(ctx, start, maxID)
}

// AddTokenInput describes an annotator-inserted token.
type AddTokenInput struct {
	Text     string         `json:"text"`
	Lemma    string         `json:"lemma"`
	Analysis map[string]any `json:"analysis"`
}

// AddToken inserts an extra token into the verse, owned by the annotator.
// It sorts before the verse's original tokens by descending negative order.
func (s *Service) AddToken(ctx context.Context, verseID, annotatorID int64, in AddTokenInput) (int64, error) {
	if in.Text == "" {
		return 0, domainError(http.StatusBadRequest, "EMPTY_TOKEN", "Token text is required", nil)
	}
	verse, err := s.store.GetVerse(ctx, verseID)
	if err != nil {
		return 0, notFound("VERSE_NOT_FOUND", "Verse not found")
	}
	lemma := in.Lemma
	if lemma == "" {
		lemma = in.Text
	}
	token := store.Token{
		Text:        in.Text,
		Lemma:       lemma,
		Analysis:    in.Analysis,
		AnnotatorID: &annotatorID,
	}
	id, err := s.store.InsertToken(ctx, verseID, token)
	if err != nil {
		return 0, err
	}
	if s.indexer != nil {
		token.ID = id
		s.indexer.IndexTokens([]search.TokenRecord{tokenRecord(token, verseID, verse.ChapterID)})
	}
	return id, nil
}

// TaskProgress is one verse's latest submission time for one task.
type TaskProgress struct {
	TaskID    int64  `json:"task_id"`
	TaskShort string `json:"task_short"`
	VerseID   int64  `json:"verse_id"`
	UpdatedAt string `json:"updated_at"`
}

// ChapterProgress reports, per verse and task, when the annotator last
// submitted, from the append-only submission trail.
func (s *Service) ChapterProgress(ctx context.Context, chapterID, annotatorID int64) ([]TaskProgress, error) {
	if _, err := s.store.GetChapter(ctx, chapterID); err != nil {
		return nil, notFound("CHAPTER_NOT_FOUND", "Chapter not found")
	}
	entries, err := s.store.SubmitLogLatest(ctx, chapterID, annotatorID)
	if err != nil {
		return nil, err
	}
	out := make([]TaskProgress, 0, len(entries))
	for _, e := range entries {
		out = append(out, TaskProgress{
			TaskID:    e.TaskID,
			TaskShort: e.TaskShort,
			VerseID:   e.VerseID,
			UpdatedAt: e.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

// DeleteLabel refuses to remove a label that any active annotation still
// references.
func (s *Service) DeleteLabel(ctx context.Context, labelID int64) error {
	if _, err := s.store.GetLabel(ctx, labelID); err != nil {
		return notFound("LABEL_NOT_FOUND", "Label not found")
	}
	used, err := s.store.LabelUsageCount(ctx, labelID)
	if err != nil {
		return err
	}
	if used > 0 {
		return domainError(http.StatusConflict, "LABEL_IN_USE",
			"Label is referenced by existing annotations", map[string]any{"usage_count": used})
	}
	return s.store.SoftDeleteLabel(ctx, labelID)
}
