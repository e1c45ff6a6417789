package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/Antarlekhaka/code/internal/search"
	"github.com/Antarlekhaka/code/internal/store"
)

func (s *Service) ListCorpora(ctx context.Context) ([]store.Corpus, error) {
	return s.store.ListCorpora(ctx)
}

func (s *Service) CreateCorpus(ctx context.Context, name, scheme, description string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Corpus name is required", nil)
	}
	return s.store.CreateCorpus(ctx, store.Corpus{Name: name, Scheme: scheme, Description: description})
}

func (s *Service) ListChapters(ctx context.Context, corpusID int64) ([]store.Chapter, error) {
	return s.store.ListChapters(ctx, corpusID)
}

func (s *Service) GetChapter(ctx context.Context, id int64) (store.Chapter, error) {
	chapter, err := s.store.GetChapter(ctx, id)
	if err != nil {
		return store.Chapter{}, notFound("CHAPTER_NOT_FOUND", "Chapter not found")
	}
	return chapter, nil
}

func (s *Service) ListChapterVerseIDs(ctx context.Context, chapterID int64) ([]int64, error) {
	if _, err := s.store.GetChapter(ctx, chapterID); err != nil {
		return nil, notFound("CHAPTER_NOT_FOUND", "Chapter not found")
	}
	return s.store.ListChapterVerseIDs(ctx, chapterID)
}

func (s *Service) ListTasks(ctx context.Context, includeDeleted bool) ([]store.Task, error) {
	return s.store.ListTasks(ctx, includeDeleted)
}

// UpdateTaskInput carries the mutable task registry fields. Nil fields are
// left unchanged.
type UpdateTaskInput struct {
	Title     *string `json:"title"`
	Short     *string `json:"short"`
	Help      *string `json:"help"`
	Order     *int    `json:"order"`
	IsDeleted *bool   `json:"is_deleted"`
}

func (s *Service) UpdateTask(ctx context.Context, taskID int64, in UpdateTaskInput) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, notFound("TASK_NOT_FOUND", "Task not found")
	}
	if in.Title != nil {
		task.Title = *in.Title
	}
	if in.Short != nil {
		task.Short = *in.Short
	}
	if in.Help != nil {
		task.Help = *in.Help
	}
	if in.Order != nil {
		task.Order = *in.Order
	}
	if in.IsDeleted != nil {
		task.IsDeleted = *in.IsDeleted
	}
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return store.Task{}, err
	}
	return task, nil
}

func (s *Service) ListLabels(ctx context.Context, taskID int64) ([]store.Label, error) {
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return nil, notFound("TASK_NOT_FOUND", "Task not found")
	}
	return s.store.ListLabels(ctx, taskID, false)
}

// AddLabel creates a label in the task's vocabulary, reviving a previously
// deleted label with the same text instead of duplicating it.
func (s *Service) AddLabel(ctx context.Context, taskID int64, label, description string) (store.Label, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return store.Label{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Label text is required", nil)
	}
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return store.Label{}, notFound("TASK_NOT_FOUND", "Task not found")
	}
	id, err := s.store.AddLabel(ctx, store.Label{TaskID: taskID, Label: label, Description: description})
	if err != nil {
		return store.Label{}, err
	}
	return s.store.GetLabel(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context) ([]store.User, error) {
	return s.store.ListUsers(ctx)
}

func (s *Service) GetUser(ctx context.Context, id int64) (store.User, error) {
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		return store.User{}, notFound("USER_NOT_FOUND", "User not found")
	}
	return user, nil
}

func (s *Service) SetUserActive(ctx context.Context, userID int64, active bool) error {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return notFound("USER_NOT_FOUND", "User not found")
	}
	return s.store.SetUserActive(ctx, userID, active)
}

func (s *Service) UpdateUserSettings(ctx context.Context, userID int64, settings map[string]string) error {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return notFound("USER_NOT_FOUND", "User not found")
	}
	return s.store.UpdateUserSettings(ctx, userID, settings)
}

func (s *Service) ListRoles(ctx context.Context) ([]store.Role, error) {
	return s.store.ListRoles(ctx)
}

func (s *Service) roleByName(ctx context.Context, name string) (store.Role, error) {
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return store.Role{}, err
	}
	for _, r := range roles {
		if r.Name == name {
			return r, nil
		}
	}
	return store.Role{}, notFound("ROLE_NOT_FOUND", "Role not found")
}

func (s *Service) AssignRole(ctx context.Context, userID int64, roleName string) error {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return notFound("USER_NOT_FOUND", "User not found")
	}
	role, err := s.roleByName(ctx, roleName)
	if err != nil {
		return err
	}
	return s.store.AssignRole(ctx, userID, role.ID)
}

func (s *Service) RemoveRole(ctx context.Context, userID int64, roleName string) error {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return notFound("USER_NOT_FOUND", "User not found")
	}
	role, err := s.roleByName(ctx, roleName)
	if err != nil {
		return err
	}
	return s.store.RemoveRole(ctx, userID, role.ID)
}

// IngestChapter loads a parsed chapter into a corpus. Every verse gets an
// automatic sentence boundary at its final token, owned by the heuristic
// system account, so the chapter is annotatable before anyone touches it.
func (s *Service) IngestChapter(ctx context.Context, corpusID int64, name, description string, verses []store.ChapterVerse) (int64, error) {
	if name == "" {
		return 0, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Chapter name is required", nil)
	}
	if len(verses) == 0 {
		return 0, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Chapter has no verses", nil)
	}

	boundaryTask, err := s.taskByCategory(ctx, store.TaskSentenceBoundary)
	if err != nil {
		return 0, err
	}
	auto, err := s.store.GetUserByUsername(ctx, HeuristicUsername)
	if err != nil {
		return 0, fmt.Errorf("heuristic account missing, run bootstrap first: %w", err)
	}
	chapterID, err := s.store.AddChapter(ctx, corpusID, name, description, verses, boundaryTask.ID, auto.ID)
	if err != nil {
		return 0, err
	}
	s.indexChapterTokens(ctx, chapterID)
	return chapterID, nil
}

// indexChapterTokens feeds a chapter's stored tokens into the search index.
// Indexing failures are logged, never fatal; the chapter is already
// committed and searchable through the Postgres fallback.
func (s *Service) indexChapterTokens(ctx context.Context, chapterID int64) {
	if s.indexer == nil {
		return
	}
	verseIDs, err := s.store.ListChapterVerseIDs(ctx, chapterID)
	if err != nil {
		log.Printf("index chapter %d: list verses: %v", chapterID, err)
		return
	}
	tokens, err := s.store.ListTokensForVerses(ctx, verseIDs)
	if err != nil {
		log.Printf("index chapter %d: list tokens: %v", chapterID, err)
		return
	}
	records := make([]search.TokenRecord, 0, len(tokens))
	for _, t := range tokens {
		records = append(records, tokenRecord(t.Token, t.VerseID, chapterID))
	}
	s.indexer.IndexTokens(records)
}

func tokenRecord(t store.Token, verseID, chapterID int64) search.TokenRecord {
	xpos, _ := t.Analysis["xpos"].(string)
	return search.TokenRecord{
		ID:        t.ID,
		VerseID:   verseID,
		ChapterID: chapterID,
		Text:      t.Text,
		Lemma:     t.Lemma,
		Xpos:      xpos,
	}
}
