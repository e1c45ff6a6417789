// Package export aggregates one annotator's chapter annotations into
// machine-readable and display-oriented artifacts.
package export

import "errors"

// Format is the export output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// Request describes one export operation.
type Request struct {
	ChapterID   int64
	AnnotatorID int64
	// TaskIDs limits the export to the named tasks. Empty means all tasks.
	TaskIDs []int64
	Format  Format
}

// Result is the rendered artifact.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates the headless Chrome runtime needed for
// PDF export is unavailable.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")

// BoundaryRecord is one sentence boundary in the machine export.
type BoundaryRecord struct {
	ID      int64 `json:"id"`
	VerseID int64 `json:"verse_id"`
	TokenID int64 `json:"token_id"`
}

// WordOrderRecord is one sentence's ordered token ids.
type WordOrderRecord struct {
	BoundaryID int64   `json:"boundary_id"`
	VerseID    int64   `json:"verse_id"`
	TokenIDs   []int64 `json:"token_ids"`
}

type TextAnnotationRecord struct {
	TokenID int64  `json:"token_id"`
	VerseID int64  `json:"verse_id"`
	Text    string `json:"text"`
}

type TokenClassificationRecord struct {
	TokenID     int64  `json:"token_id"`
	VerseID     int64  `json:"verse_id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

type TokenGraphRecord struct {
	SrcID       int64  `json:"src_id"`
	DstID       int64  `json:"dst_id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

type TokenConnectionRecord struct {
	SrcID int64 `json:"src_id"`
	DstID int64 `json:"dst_id"`
}

type SentenceClassificationRecord struct {
	BoundaryID  int64  `json:"boundary_id"`
	VerseID     int64  `json:"verse_id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

type SentenceGraphRecord struct {
	SrcBoundaryID int64  `json:"src_boundary_id"`
	DstBoundaryID int64  `json:"dst_boundary_id"`
	SrcTokenID    int64  `json:"src_token_id"`
	DstTokenID    int64  `json:"dst_token_id"`
	RelationType  int    `json:"relation_type"`
	Label         string `json:"label"`
	Description   string `json:"description"`
}

// ChapterExport is the machine-oriented aggregation for one chapter and
// annotator, each category's records joined with label text.
type ChapterExport struct {
	ChapterID   int64  `json:"chapter_id"`
	ChapterName string `json:"chapter_name"`
	AnnotatorID int64  `json:"annotator_id"`

	Boundaries              []BoundaryRecord               `json:"sentence_boundary"`
	WordOrder               []WordOrderRecord              `json:"word_order"`
	TextAnnotations         []TextAnnotationRecord         `json:"token_text_annotation"`
	TokenClassifications    []TokenClassificationRecord    `json:"token_classification"`
	TokenGraph              []TokenGraphRecord             `json:"token_graph"`
	TokenConnections        []TokenConnectionRecord        `json:"token_connection"`
	SentenceClassifications []SentenceClassificationRecord `json:"sentence_classification"`
	SentenceGraph           []SentenceGraphRecord          `json:"sentence_graph"`
}

// Node is one vertex of an exported graph. IDs are generated per export
// call and shared across repeated mentions of the same surface form.
type Node struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Group int    `json:"group"`
}

// GraphEdge is one labelled edge between generated node ids.
type GraphEdge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label"`
	Title string `json:"title,omitempty"`
}

// Graph is the node/edge list rendering of a graph-shaped category.
type Graph struct {
	Nodes []Node      `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// Visual is the display-oriented aggregation: running text with inline
// boundary markers, per-task tables, and graph node/edge lists.
type Visual struct {
	ChapterID   int64  `json:"chapter_id"`
	ChapterName string `json:"chapter_name"`
	AnnotatorID int64  `json:"annotator_id"`

	Text                        string `json:"text"`
	WordOrderTable              string `json:"word_order"`
	TextAnnotationTable         string `json:"token_text_annotation"`
	TokenClassificationTable    string `json:"token_classification"`
	TokenConnectionClusters     string `json:"token_connection"`
	SentenceClassificationTable string `json:"sentence_classification"`

	TokenGraph    Graph `json:"token_graph"`
	SentenceGraph Graph `json:"sentence_graph"`
}
