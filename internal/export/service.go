package export

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Antarlekhaka/code/internal/store"
)

// DataStore is the slice of the annotation store the exporter reads.
type DataStore interface {
	GetChapter(ctx context.Context, id int64) (store.Chapter, error)
	ListChapterVerseIDs(ctx context.Context, chapterID int64) ([]int64, error)
	ListLinesForVerses(ctx context.Context, verseIDs []int64) ([]store.Line, error)
	ListTokensForVerses(ctx context.Context, verseIDs []int64) ([]store.VerseToken, error)
	ExtraTokensForVerse(ctx context.Context, verseID int64) ([]store.Token, error)

	ListTasks(ctx context.Context, includeDeleted bool) ([]store.Task, error)
	ListLabels(ctx context.Context, taskID int64, includeDeleted bool) ([]store.Label, error)

	BoundariesForChapter(ctx context.Context, taskID, chapterID, annotatorID int64) ([]store.Boundary, error)
	WordOrderForBoundaries(ctx context.Context, boundaryIDs []int64, annotatorID int64) ([]store.WordOrderRow, error)
	TokenTextAnnotationsForTokens(ctx context.Context, taskID int64, tokenIDs []int64, annotatorID int64, includeDeleted bool) ([]store.TokenTextAnnotationRow, error)
	TokenClassificationsForTokens(ctx context.Context, taskID int64, tokenIDs []int64, annotatorID int64, includeDeleted bool) ([]store.TokenClassificationRow, error)
	TokenGraphForBoundaries(ctx context.Context, taskID int64, boundaryIDs []int64, annotatorID int64, includeDeleted bool) ([]store.TokenGraphRow, error)
	TokenConnectionsForBoundaries(ctx context.Context, taskID int64, boundaryIDs []int64, annotatorID int64, includeDeleted bool) ([]store.TokenConnectionRow, error)
	SentenceClassificationsForBoundaries(ctx context.Context, taskID int64, boundaryIDs []int64, annotatorID int64, includeDeleted bool) ([]store.SentenceClassificationRow, error)
	SentenceGraphForBoundaries(ctx context.Context, taskID int64, boundaryIDs []int64, annotatorID int64, includeDeleted bool) ([]store.SentenceGraphRow, error)
}

// Archiver records export artifacts in a per-chapter history.
type Archiver interface {
	Snapshot(chapterID int64, filename string, data []byte, author string) (string, error)
}

// Service builds chapter exports.
type Service struct {
	store    DataStore
	objstore *ObjectStore
	archive  Archiver
	devtools string
}

// NewService creates an exporter. objstore and archive may be nil when the
// backing stores are not configured; devtools may be empty to launch a
// local Chrome.
func NewService(dataStore DataStore, objstore *ObjectStore, archive Archiver, devtools string) *Service {
	return &Service{store: dataStore, objstore: objstore, archive: archive, devtools: devtools}
}

// chapterState is everything Build and Visualize read for one chapter and
// annotator, loaded once.
type chapterState struct {
	chapter store.Chapter
	verses  []int64
	lines   []store.Line
	tokens  map[int64]store.Token
	// verseOf maps token id to the verse its line belongs to.
	verseOf     map[int64]int64
	verseTokens []store.VerseToken

	tasks  map[store.TaskCategory]store.Task
	labels map[int64]store.Label

	boundaries []store.Boundary
	boundaryOf map[int64]store.Boundary

	wordOrder               []store.WordOrderRow
	textAnnotations         []store.TokenTextAnnotationRow
	tokenClassifications    []store.TokenClassificationRow
	tokenGraph              []store.TokenGraphRow
	tokenConnections        []store.TokenConnectionRow
	sentenceClassifications []store.SentenceClassificationRow
	sentenceGraph           []store.SentenceGraphRow
}

func (s *Service) load(ctx context.Context, chapterID, annotatorID int64, taskIDs []int64) (*chapterState, error) {
	chapter, err := s.store.GetChapter(ctx, chapterID)
	if err != nil {
		return nil, fmt.Errorf("load chapter %d: %w", chapterID, err)
	}
	verseIDs, err := s.store.ListChapterVerseIDs(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	lines, err := s.store.ListLinesForVerses(ctx, verseIDs)
	if err != nil {
		return nil, err
	}
	verseTokens, err := s.store.ListTokensForVerses(ctx, verseIDs)
	if err != nil {
		return nil, err
	}

	st := &chapterState{
		chapter:     chapter,
		verses:      verseIDs,
		lines:       lines,
		tokens:      make(map[int64]store.Token),
		verseOf:     make(map[int64]int64),
		verseTokens: verseTokens,
		tasks:       make(map[store.TaskCategory]store.Task),
		labels:      make(map[int64]store.Label),
		boundaryOf:  make(map[int64]store.Boundary),
	}
	tokenIDs := make([]int64, 0, len(verseTokens))
	for _, vt := range verseTokens {
		st.tokens[vt.ID] = vt.Token
		st.verseOf[vt.ID] = vt.VerseID
		tokenIDs = append(tokenIDs, vt.ID)
	}
	for _, verseID := range verseIDs {
		extras, err := s.store.ExtraTokensForVerse(ctx, verseID)
		if err != nil {
			return nil, err
		}
		for _, t := range extras {
			st.tokens[t.ID] = t
			st.verseOf[t.ID] = verseID
			tokenIDs = append(tokenIDs, t.ID)
		}
	}

	tasks, err := s.store.ListTasks(ctx, false)
	if err != nil {
		return nil, err
	}
	wanted := make(map[int64]bool, len(taskIDs))
	for _, id := range taskIDs {
		wanted[id] = true
	}
	for _, t := range tasks {
		if len(taskIDs) > 0 && !wanted[t.ID] && t.Category != store.TaskSentenceBoundary {
			continue
		}
		st.tasks[t.Category] = t
		labels, err := s.store.ListLabels(ctx, t.ID, false)
		if err != nil {
			return nil, err
		}
		for _, l := range labels {
			st.labels[l.ID] = l
		}
	}

	boundaryTask, ok := st.tasks[store.TaskSentenceBoundary]
	if !ok {
		return nil, fmt.Errorf("no active sentence boundary task")
	}
	st.boundaries, err = s.store.BoundariesForChapter(ctx, boundaryTask.ID, chapterID, annotatorID)
	if err != nil {
		return nil, err
	}
	boundaryIDs := make([]int64, 0, len(st.boundaries))
	for _, b := range st.boundaries {
		st.boundaryOf[b.ID] = b
		boundaryIDs = append(boundaryIDs, b.ID)
	}

	st.wordOrder, err = s.store.WordOrderForBoundaries(ctx, boundaryIDs, annotatorID)
	if err != nil {
		return nil, err
	}
	if t, ok := st.tasks[store.TaskTokenTextAnnotation]; ok {
		st.textAnnotations, err = s.store.TokenTextAnnotationsForTokens(ctx, t.ID, tokenIDs, annotatorID, false)
		if err != nil {
			return nil, err
		}
	}
	if t, ok := st.tasks[store.TaskTokenClassification]; ok {
		st.tokenClassifications, err = s.store.TokenClassificationsForTokens(ctx, t.ID, tokenIDs, annotatorID, false)
		if err != nil {
			return nil, err
		}
	}
	if t, ok := st.tasks[store.TaskTokenGraph]; ok {
		st.tokenGraph, err = s.store.TokenGraphForBoundaries(ctx, t.ID, boundaryIDs, annotatorID, false)
		if err != nil {
			return nil, err
		}
	}
	if t, ok := st.tasks[store.TaskTokenConnection]; ok {
		st.tokenConnections, err = s.store.TokenConnectionsForBoundaries(ctx, t.ID, boundaryIDs, annotatorID, false)
		if err != nil {
			return nil, err
		}
	}
	if t, ok := st.tasks[store.TaskSentenceClassification]; ok {
		st.sentenceClassifications, err = s.store.SentenceClassificationsForBoundaries(ctx, t.ID, boundaryIDs, annotatorID, false)
		if err != nil {
			return nil, err
		}
	}
	if t, ok := st.tasks[store.TaskSentenceGraph]; ok {
		st.sentenceGraph, err = s.store.SentenceGraphForBoundaries(ctx, t.ID, boundaryIDs, annotatorID, false)
		if err != nil {
			return nil, err
		}
	}
	return st, nil
}

// Build assembles the machine-oriented aggregation for one chapter and
// annotator.
func (s *Service) Build(ctx context.Context, chapterID, annotatorID int64, taskIDs []int64) (ChapterExport, error) {
	st, err := s.load(ctx, chapterID, annotatorID, taskIDs)
	if err != nil {
		return ChapterExport{}, err
	}
	return buildChapterExport(st, annotatorID), nil
}

func buildChapterExport(st *chapterState, annotatorID int64) ChapterExport {
	out := ChapterExport{
		ChapterID:   st.chapter.ID,
		ChapterName: st.chapter.Name,
		AnnotatorID: annotatorID,

		Boundaries:              []BoundaryRecord{},
		WordOrder:               []WordOrderRecord{},
		TextAnnotations:         []TextAnnotationRecord{},
		TokenClassifications:    []TokenClassificationRecord{},
		TokenGraph:              []TokenGraphRecord{},
		TokenConnections:        []TokenConnectionRecord{},
		SentenceClassifications: []SentenceClassificationRecord{},
		SentenceGraph:           []SentenceGraphRecord{},
	}

	for _, b := range st.boundaries {
		out.Boundaries = append(out.Boundaries, BoundaryRecord{ID: b.ID, VerseID: b.VerseID, TokenID: b.TokenID})
	}

	var current *WordOrderRecord
	for _, row := range st.wordOrder {
		if current == nil || current.BoundaryID != row.BoundaryID {
			out.WordOrder = append(out.WordOrder, WordOrderRecord{
				BoundaryID: row.BoundaryID,
				VerseID:    st.boundaryOf[row.BoundaryID].VerseID,
			})
			current = &out.WordOrder[len(out.WordOrder)-1]
		}
		current.TokenIDs = append(current.TokenIDs, row.TokenID)
	}

	for _, row := range st.textAnnotations {
		out.TextAnnotations = append(out.TextAnnotations, TextAnnotationRecord{
			TokenID: row.TokenID,
			VerseID: st.verseOf[row.TokenID],
			Text:    row.Content,
		})
	}
	for _, row := range st.tokenClassifications {
		label := st.labels[row.LabelID]
		out.TokenClassifications = append(out.TokenClassifications, TokenClassificationRecord{
			TokenID:     row.TokenID,
			VerseID:     st.verseOf[row.TokenID],
			Label:       label.Label,
			Description: label.Description,
		})
	}
	for _, row := range st.tokenGraph {
		label := st.labels[row.LabelID]
		out.TokenGraph = append(out.TokenGraph, TokenGraphRecord{
			SrcID:       row.SrcID,
			DstID:       row.DstID,
			Label:       label.Label,
			Description: label.Description,
		})
	}
	for _, row := range st.tokenConnections {
		out.TokenConnections = append(out.TokenConnections, TokenConnectionRecord{
			SrcID: row.SrcID,
			DstID: row.DstID,
		})
	}
	for _, row := range st.sentenceClassifications {
		label := st.labels[row.LabelID]
		out.SentenceClassifications = append(out.SentenceClassifications, SentenceClassificationRecord{
			BoundaryID:  row.BoundaryID,
			VerseID:     st.boundaryOf[row.BoundaryID].VerseID,
			Label:       label.Label,
			Description: label.Description,
		})
	}
	for _, row := range st.sentenceGraph {
		label := st.labels[row.LabelID]
		out.SentenceGraph = append(out.SentenceGraph, SentenceGraphRecord{
			SrcBoundaryID: row.SrcBoundaryID,
			DstBoundaryID: row.DstBoundaryID,
			SrcTokenID:    row.SrcTokenID,
			DstTokenID:    row.DstTokenID,
			RelationType:  row.RelationType,
			Label:         label.Label,
			Description:   label.Description,
		})
	}
	return out
}

// Visualize assembles the display-oriented aggregation.
func (s *Service) Visualize(ctx context.Context, chapterID, annotatorID int64, taskIDs []int64) (Visual, error) {
	st, err := s.load(ctx, chapterID, annotatorID, taskIDs)
	if err != nil {
		return Visual{}, err
	}
	return buildVisual(st, annotatorID), nil
}

// Export renders the aggregation in the requested format and, when object
// storage is configured, uploads the artifact as a side effect.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	name := fmt.Sprintf("chapter-%d-annotator-%d", req.ChapterID, req.AnnotatorID)

	var result *Result
	switch req.Format {
	case FormatJSON, "":
		built, err := s.Build(ctx, req.ChapterID, req.AnnotatorID, req.TaskIDs)
		if err != nil {
			return nil, err
		}
		data, err := json.MarshalIndent(built, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal export: %w", err)
		}
		result = &Result{Data: append(data, '\n'), Filename: name + ".json", MimeType: "application/json"}

	case FormatText:
		visual, err := s.Visualize(ctx, req.ChapterID, req.AnnotatorID, req.TaskIDs)
		if err != nil {
			return nil, err
		}
		result = &Result{Data: []byte(renderPlainText(visual)), Filename: name + ".txt", MimeType: "text/plain; charset=utf-8"}

	case FormatHTML:
		visual, err := s.Visualize(ctx, req.ChapterID, req.AnnotatorID, req.TaskIDs)
		if err != nil {
			return nil, err
		}
		html, err := RenderHTML(visual)
		if err != nil {
			return nil, fmt.Errorf("render html: %w", err)
		}
		result = &Result{Data: []byte(html), Filename: name + ".html", MimeType: "text/html; charset=utf-8"}

	case FormatPDF:
		visual, err := s.Visualize(ctx, req.ChapterID, req.AnnotatorID, req.TaskIDs)
		if err != nil {
			return nil, err
		}
		html, err := RenderHTML(visual)
		if err != nil {
			return nil, fmt.Errorf("render html: %w", err)
		}
		result, err = renderPDF(html, name, s.devtools)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	if s.objstore != nil {
		if err := s.objstore.Put(ctx, result.Filename, result.Data, result.MimeType); err != nil {
			return nil, fmt.Errorf("upload artifact: %w", err)
		}
	}
	if s.archive != nil {
		author := fmt.Sprintf("annotator-%d", req.AnnotatorID)
		if _, err := s.archive.Snapshot(req.ChapterID, result.Filename, result.Data, author); err != nil {
			return nil, fmt.Errorf("archive artifact: %w", err)
		}
	}
	return result, nil
}
