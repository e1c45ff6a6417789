package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/Antarlekhaka/code/internal/auth"
	"github.com/Antarlekhaka/code/internal/authpw"
	"github.com/Antarlekhaka/code/internal/config"
	"github.com/Antarlekhaka/code/internal/heuristic"
	"github.com/Antarlekhaka/code/internal/search"
	"github.com/Antarlekhaka/code/internal/store"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       int64
	Username     string
	Level        int
	JTI          string
	ExpiresAt    time.Time
}

// Response is the envelope returned by every submission operation.
type Response struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Style      string `json:"style"`
	Changes    int    `json:"changes"`
	NextTaskID int64  `json:"next_task_id,omitempty"`
}

type dataStore interface {
	Ping(ctx context.Context) error

	ListCorpora(ctx context.Context) ([]store.Corpus, error)
	CreateCorpus(ctx context.Context, c store.Corpus) (int64, error)
	GetChapter(ctx context.Context, id int64) (store.Chapter, error)
	ListChapters(ctx context.Context, corpusID int64) ([]store.Chapter, error)
	GetVerse(ctx context.Context, id int64) (store.Verse, error)
	ListChapterVerseIDs(ctx context.Context, chapterID int64) ([]int64, error)
	FirstChapterVerseID(ctx context.Context, chapterID int64) (int64, error)
	FirstChapterToken(ctx context.Context, chapterID int64) (store.Token, error)
	ListLinesForVerses(ctx context.Context, verseIDs []int64) ([]store.Line, error)
	ListTokensForVerses(ctx context.Context, verseIDs []int64) ([]store.VerseToken, error)
	TokensInRange(ctx context.Context, fromExclusive, toInclusive int64) ([]store.Token, error)
	ExtraTokensForVerse(ctx context.Context, verseID int64) ([]store.Token, error)
	InsertToken(ctx context.Context, verseID int64, t store.Token) (int64, error)
	AddChapter(ctx context.Context, corpusID int64, name, description string, verses []store.ChapterVerse, boundaryTaskID, autoAnnotatorID int64) (int64, error)

	BoundariesForVerse(ctx context.Context, taskID, verseID, annotatorID int64) ([]store.Boundary, error)
	BoundariesForChapter(ctx context.Context, taskID, chapterID, annotatorID int64) ([]store.Boundary, error)
	PreviousBoundary(ctx context.Context, taskID, chapterID, tokenID, annotatorID int64) (store.Boundary, error)
	NextBoundary(ctx context.Context, taskID, chapterID, tokenID, annotatorID int64) (store.Boundary, error)
	GetBoundary(ctx context.Context, id int64) (store.Boundary, error)

	WordOrderForBoundaries(ctx context.Context, boundaryIDs []int64, annotatorID int64) ([]store.WordOrderRow, error)
	TokenTextAnnotationsForTokens(ctx context.Context, taskID int64, tokenIDs []int64, annotatorID int64, includeDeleted bool) ([]store.TokenTextAnnotationRow, error)
	TokenClassificationsForTokens(ctx context.Context, taskID int64, tokenIDs []int64, annotatorID int64, includeDeleted bool) ([]store.TokenClassificationRow, error)
	TokenGraphForBoundaries(ctx context.Context, taskID int64, boundaryIDs []int64, annotatorID int64, includeDeleted bool) ([]store.TokenGraphRow, error)
	TokenConnectionsForBoundaries(ctx context.Context, taskID int64, boundaryIDs []int64, annotatorID int64, includeDeleted bool) ([]store.TokenConnectionRow, error)
	SentenceClassificationsForBoundaries(ctx context.Context, taskID int64, boundaryIDs []int64, annotatorID int64, includeDeleted bool) ([]store.SentenceClassificationRow, error)
	SentenceGraphForBoundaries(ctx context.Context, taskID int64, boundaryIDs []int64, annotatorID int64, includeDeleted bool) ([]store.SentenceGraphRow, error)

	ListTasks(ctx context.Context, includeDeleted bool) ([]store.Task, error)
	GetTask(ctx context.Context, id int64) (store.Task, error)
	UpdateTask(ctx context.Context, t store.Task) error
	EnsureTask(ctx context.Context, t store.Task) (int64, error)
	ListLabels(ctx context.Context, taskID int64, includeDeleted bool) ([]store.Label, error)
	GetLabel(ctx context.Context, id int64) (store.Label, error)
	AddLabel(ctx context.Context, l store.Label) (int64, error)
	LabelUsageCount(ctx context.Context, labelID int64) (int64, error)
	SoftDeleteLabel(ctx context.Context, labelID int64) error

	CreateUser(ctx context.Context, u store.User) (int64, error)
	GetUser(ctx context.Context, id int64) (store.User, error)
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	UpdateUserSettings(ctx context.Context, userID int64, settings map[string]string) error
	SetUserActive(ctx context.Context, userID int64, active bool) error
	ListRoles(ctx context.Context) ([]store.Role, error)
	EnsureRole(ctx context.Context, r store.Role) (int64, error)
	AssignRole(ctx context.Context, userID, roleID int64) error
	RemoveRole(ctx context.Context, userID, roleID int64) error

	SubmitLogLatest(ctx context.Context, chapterID, annotatorID int64) ([]store.SubmitLogSummary, error)

	InTx(ctx context.Context, fn func(tx store.Tx) error) error
}

// SessionStore holds refresh tokens. Redis in production, the Postgres
// fallback tables otherwise.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (int64, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// TokenIndexer receives freshly stored tokens for the search index.
type TokenIndexer interface {
	IndexTokens(records []search.TokenRecord)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions SessionStore
	authpw   *authpw.Service
	indexer  TokenIndexer

	wordOrderCfg heuristic.WordOrderConfig
	graphCfg     heuristic.GraphConfig

	now func() time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions SessionStore) *Service {
	return &Service{
		cfg:          cfg,
		store:        dataStore,
		sessions:     sessions,
		authpw:       authpw.NewService(dataStore),
		wordOrderCfg: heuristic.DefaultWordOrderConfig(),
		graphCfg:     heuristic.DefaultGraphConfig(),
		now:          time.Now,
	}
}

// SetTokenIndexer attaches the search index feed. Optional; without it
// token search relies on the Postgres fallback alone.
func (s *Service) SetTokenIndexer(indexer TokenIndexer) {
	s.indexer = indexer
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

// HeuristicUsername owns the boundaries written automatically at corpus
// ingestion. The account is inactive and cannot sign in.
const HeuristicUsername = "heuristic"

var taskSeeds = []store.Task{
	{Category: store.TaskSentenceBoundary, Title: "Sentence Boundary", Short: "boundary", Order: 1,
		Help: "Mark the last token of every sentence."},
	{Category: store.TaskWordOrder, Title: "Canonical Word Order", Short: "word_order", Order: 2,
		Help: "Arrange the tokens of each sentence in canonical order."},
	{Category: store.TaskTokenTextAnnotation, Title: "Token Text Annotation", Short: "text_annotation", Order: 3,
		Help: "Attach free-text annotation to individual tokens."},
	{Category: store.TaskTokenClassification, Title: "Token Classification", Short: "token_classification", Order: 4,
		Help: "Assign one label to individual tokens."},
	{Category: store.TaskTokenGraph, Title: "Token Graph", Short: "token_graph", Order: 5,
		Help: "Draw labelled relations between tokens of a sentence."},
	{Category: store.TaskTokenConnection, Title: "Token Connection", Short: "token_connection", Order: 6,
		Help: "Connect related tokens, for example coreference."},
	{Category: store.TaskSentenceClassification, Title: "Sentence Classification", Short: "sentence_classification", Order: 7,
		Help: "Assign one label to each sentence."},
	{Category: store.TaskSentenceGraph, Title: "Sentence Graph", Short: "sentence_graph", Order: 8,
		Help: "Draw labelled relations between sentences or their tokens."},
}

var roleSeeds = []store.Role{
	{Name: "guest", Description: "Read-only access", Level: 1},
	{Name: "annotator", Description: "Can annotate", Level: 2, Permissions: "annotate"},
	{Name: "curator", Description: "Can annotate and curate", Level: 3, Permissions: "annotate,curate"},
	{Name: "admin", Description: "Full access", Level: 4, Permissions: "annotate,curate,admin"},
}

// Bootstrap seeds the task registry, the role set, the heuristic system
// account, and the admin account when configured. Idempotent.
func (s *Service) Bootstrap(ctx context.Context) error {
	for _, t := range taskSeeds {
		if _, err := s.store.EnsureTask(ctx, t); err != nil {
			return fmt.Errorf("seed task %s: %w", t.Category, err)
		}
	}

	roleIDs := make(map[string]int64, len(roleSeeds))
	for _, r := range roleSeeds {
		id, err := s.store.EnsureRole(ctx, r)
		if err != nil {
			return fmt.Errorf("seed role %s: %w", r.Name, err)
		}
		roleIDs[r.Name] = id
	}

	if _, err := s.store.GetUserByUsername(ctx, HeuristicUsername); err != nil {
		if _, err := s.store.CreateUser(ctx, store.User{
			Username: HeuristicUsername,
			Email:    HeuristicUsername + "@localhost",
			IsActive: false,
		}); err != nil {
			return fmt.Errorf("seed heuristic user: %w", err)
		}
	}

	if s.cfg.AdminPassword != "" {
		if _, err := s.store.GetUserByUsername(ctx, s.cfg.AdminUsername); err != nil {
			hash, err := authpw.HashPassword(s.cfg.AdminPassword)
			if err != nil {
				return err
			}
			adminID, err := s.store.CreateUser(ctx, store.User{
				Username:     s.cfg.AdminUsername,
				Email:        s.cfg.AdminEmail,
				PasswordHash: hash,
				IsActive:     true,
			})
			if err != nil {
				return fmt.Errorf("seed admin user: %w", err)
			}
			if err := s.store.AssignRole(ctx, adminID, roleIDs["admin"]); err != nil {
				return err
			}
		}
	}
	return nil
}

// CreateSession issues an access token and a refresh token for the user.
func (s *Service) CreateSession(ctx context.Context, userID int64) (Session, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}

	jti, err := randomHex(16)
	if err != nil {
		return Session{}, err
	}
	expiresAt := s.now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.Username,
		Level: roleLevel(user),
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refreshToken, err := randomHex(32)
	if err != nil {
		return Session{}, err
	}
	refreshExpiry := s.now().Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refreshToken), user.ID, refreshExpiry); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		Username:     user.Username,
		Level:        roleLevel(user),
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// Refresh rotates the refresh token and issues a fresh access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	hash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, hash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_REFRESH", "Invalid or expired refresh token", nil)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, err
	}
	return s.CreateSession(ctx, userID)
}

func (s *Service) SignOut(ctx context.Context, refreshToken string) error {
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		Username:  claims.Name,
		Level:     claims.Level,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func roleLevel(u store.User) int {
	level := 0
	for _, r := range u.Roles {
		if r.Level > level {
			level = r.Level
		}
	}
	return level
}

// taskByCategory resolves the active task for a category.
func (s *Service) taskByCategory(ctx context.Context, category store.TaskCategory) (store.Task, error) {
	tasks, err := s.store.ListTasks(ctx, false)
	if err != nil {
		return store.Task{}, err
	}
	for _, t := range tasks {
		if t.Category == category {
			return t, nil
		}
	}
	return store.Task{}, domainError(http.StatusNotFound, "TASK_NOT_FOUND",
		fmt.Sprintf("No active task for category %s", category), nil)
}

// nextTaskID returns the id of the task following taskID in display order,
// wrapping past the end back to the first task.
func (s *Service) nextTaskID(ctx context.Context, taskID int64) (int64, error) {
	tasks, err := s.store.ListTasks(ctx, false)
	if err != nil {
		return 0, err
	}
	if len(tasks) == 0 {
		return 0, nil
	}
	for i, t := range tasks {
		if t.ID == taskID {
			return tasks[(i+1)%len(tasks)].ID, nil
		}
	}
	return tasks[0].ID, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("random: %w", err)
	}
	return hex.EncodeToString(b), nil
}
