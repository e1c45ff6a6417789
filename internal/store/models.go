package store

import "time"

// TaskCategory identifies one of the eight annotation task categories.
type TaskCategory string

const (
	TaskSentenceBoundary       TaskCategory = "sentence_boundary"
	TaskWordOrder              TaskCategory = "word_order"
	TaskTokenTextAnnotation    TaskCategory = "token_text_annotation"
	TaskTokenClassification    TaskCategory = "token_classification"
	TaskTokenGraph             TaskCategory = "token_graph"
	TaskTokenConnection        TaskCategory = "token_connection"
	TaskSentenceClassification TaskCategory = "sentence_classification"
	TaskSentenceGraph          TaskCategory = "sentence_graph"
)

// TaskCategories lists every category in canonical task order.
var TaskCategories = []TaskCategory{
	TaskSentenceBoundary,
	TaskWordOrder,
	TaskTokenTextAnnotation,
	TaskTokenClassification,
	TaskTokenGraph,
	TaskTokenConnection,
	TaskSentenceClassification,
	TaskSentenceGraph,
}

// Sentence-graph relation endpoints: an edge may attach to a token or to the
// sentence itself on either side.
const (
	RelationTokenToken       = 0
	RelationTokenSentence    = 1
	RelationSentenceToken    = 2
	RelationSentenceSentence = 3
)

type Corpus struct {
	ID          int64
	Name        string
	Scheme      string
	Description string
}

type Chapter struct {
	ID          int64
	CorpusID    int64
	Name        string
	Description string
}

type Verse struct {
	ID        int64
	ChapterID int64
}

type Line struct {
	ID      int64
	VerseID int64
	Text    string
}

// Token is one corpus token. AnnotatorID is nil for original corpus tokens
// and set for annotator-inserted extra tokens.
type Token struct {
	ID          int64
	LineID      int64
	InnerID     string
	Order       int
	Text        string
	Lemma       string
	Analysis    map[string]any
	Display     map[string]string
	AnnotatorID *int64
}

// VerseToken is a token joined with the verse its line belongs to.
type VerseToken struct {
	Token
	VerseID int64
}

type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	IsActive     bool
	Settings     map[string]string
	Roles        []Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Role struct {
	ID          int64
	Name        string
	Description string
	Level       int
	Permissions string
}

type Task struct {
	ID        int64
	Category  TaskCategory
	Title     string
	Short     string
	Help      string
	Order     int
	IsDeleted bool
}

type Label struct {
	ID          int64
	TaskID      int64
	Label       string
	Description string
	IsDeleted   bool
}

// Boundary marks token TokenID as the last token of a segment for one
// annotator. Unique per (task, token, annotator).
type Boundary struct {
	ID          int64
	TaskID      int64
	VerseID     int64
	TokenID     int64
	AnnotatorID int64
	UpdatedAt   time.Time
}

type WordOrderRow struct {
	ID          int64
	TaskID      int64
	BoundaryID  int64
	TokenID     int64
	Order       int
	AnnotatorID int64
	UpdatedAt   time.Time
}

type TokenTextAnnotationRow struct {
	ID          int64
	TaskID      int64
	BoundaryID  int64
	TokenID     int64
	Content     string
	AnnotatorID int64
	IsDeleted   bool
	UpdatedAt   time.Time
}

type TokenClassificationRow struct {
	ID          int64
	TaskID      int64
	BoundaryID  int64
	TokenID     int64
	LabelID     int64
	AnnotatorID int64
	IsDeleted   bool
	UpdatedAt   time.Time
}

type TokenGraphRow struct {
	ID          int64
	TaskID      int64
	BoundaryID  int64
	SrcID       int64
	LabelID     int64
	DstID       int64
	AnnotatorID int64
	IsDeleted   bool
	UpdatedAt   time.Time
}

type TokenConnectionRow struct {
	ID          int64
	TaskID      int64
	BoundaryID  int64
	SrcID       int64
	DstID       int64
	AnnotatorID int64
	IsDeleted   bool
	UpdatedAt   time.Time
}

type SentenceClassificationRow struct {
	ID          int64
	TaskID      int64
	BoundaryID  int64
	LabelID     int64
	AnnotatorID int64
	IsDeleted   bool
	UpdatedAt   time.Time
}

type SentenceGraphRow struct {
	ID            int64
	TaskID        int64
	SrcBoundaryID int64
	DstBoundaryID int64
	SrcTokenID    int64
	DstTokenID    int64
	LabelID       int64
	RelationType  int
	AnnotatorID   int64
	IsDeleted     bool
	UpdatedAt     time.Time
}

type SubmitLogEntry struct {
	ID          int64
	VerseID     int64
	AnnotatorID int64
	TaskID      int64
	UpdatedAt   time.Time
}

// SubmitLogSummary is the latest submission per task for one verse and
// annotator, used for progress reporting.
type SubmitLogSummary struct {
	TaskID      int64
	TaskShort   string
	VerseID     int64
	AnnotatorID int64
	UpdatedAt   time.Time
}
