package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("not found")

func (s *PostgresStore) CreateCorpus(ctx context.Context, c Corpus) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO corpus (name, scheme, description)
		VALUES ($1, $2, $3)
		RETURNING id
	`, c.Name, c.Scheme, c.Description).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert corpus: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) ListCorpora(ctx context.Context) ([]Corpus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, scheme, description FROM corpus ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list corpora: %w", err)
	}
	defer rows.Close()

	var out []Corpus
	for rows.Next() {
		var c Corpus
		if err := rows.Scan(&c.ID, &c.Name, &c.Scheme, &c.Description); err != nil {
			return nil, fmt.Errorf("scan corpus: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetChapter(ctx context.Context, id int64) (Chapter, error) {
	var c Chapter
	err := s.db.QueryRowContext(ctx, `
		SELECT id, corpus_id, name, description FROM chapter WHERE id=$1
	`, id).Scan(&c.ID, &c.CorpusID, &c.Name, &c.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return Chapter{}, ErrNotFound
	}
	if err != nil {
		return Chapter{}, fmt.Errorf("get chapter: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListChapters(ctx context.Context, corpusID int64) ([]Chapter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, corpus_id, name, description FROM chapter WHERE corpus_id=$1 ORDER BY id
	`, corpusID)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()

	var out []Chapter
	for rows.Next() {
		var c Chapter
		if err := rows.Scan(&c.ID, &c.CorpusID, &c.Name, &c.Description); err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetVerse(ctx context.Context, id int64) (Verse, error) {
	var v Verse
	err := s.db.QueryRowContext(ctx, `SELECT id, chapter_id FROM verse WHERE id=$1`, id).
		Scan(&v.ID, &v.ChapterID)
	if errors.Is(err, sql.ErrNoRows) {
		return Verse{}, ErrNotFound
	}
	if err != nil {
		return Verse{}, fmt.Errorf("get verse: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) ListChapterVerseIDs(ctx context.Context, chapterID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM verse WHERE chapter_id=$1 ORDER BY id`, chapterID)
	if err != nil {
		return nil, fmt.Errorf("list chapter verses: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan verse id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FirstChapterVerseID(ctx context.Context, chapterID int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM verse WHERE chapter_id=$1 ORDER BY id LIMIT 1
	`, chapterID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("first chapter verse: %w", err)
	}
	return id, nil
}

// FirstChapterToken returns the first original token of a chapter, the
// anchor for the chapter's first segment.
func (s *PostgresStore) FirstChapterToken(ctx context.Context, chapterID int64) (Token, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.line_id, t.inner_id, t.ord, t.text, t.lemma, t.analysis, t.display, t.annotator_id
		FROM token t
		JOIN line l ON l.id = t.line_id
		JOIN verse v ON v.id = l.verse_id
		WHERE v.chapter_id = $1
		ORDER BY t.id
		LIMIT 1
	`, chapterID)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, ErrNotFound
	}
	if err != nil {
		return Token{}, fmt.Errorf("first chapter token: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListLinesForVerses(ctx context.Context, verseIDs []int64) ([]Line, error) {
	if len(verseIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT id, verse_id, text FROM line
		WHERE verse_id IN (%s)
		ORDER BY verse_id, id
	`, placeholders(1, len(verseIDs)))
	rows, err := s.db.QueryContext(ctx, query, int64Args(verseIDs)...)
	if err != nil {
		return nil, fmt.Errorf("list lines: %w", err)
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.VerseID, &l.Text); err != nil {
			return nil, fmt.Errorf("scan line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListTokensForVerses(ctx context.Context, verseIDs []int64) ([]VerseToken, error) {
	if len(verseIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT t.id, t.line_id, t.inner_id, t.ord, t.text, t.lemma, t.analysis, t.display, t.annotator_id, l.verse_id
		FROM token t
		JOIN line l ON l.id = t.line_id
		WHERE l.verse_id IN (%s)
		ORDER BY l.verse_id, t.line_id, t.id
	`, placeholders(1, len(verseIDs)))
	rows, err := s.db.QueryContext(ctx, query, int64Args(verseIDs)...)
	if err != nil {
		return nil, fmt.Errorf("list verse tokens: %w", err)
	}
	defer rows.Close()

	var out []VerseToken
	for rows.Next() {
		var (
			vt               VerseToken
			analysis, displ  []byte
		)
		err := rows.Scan(&vt.ID, &vt.LineID, &vt.InnerID, &vt.Order, &vt.Text, &vt.Lemma,
			&analysis, &displ, &vt.AnnotatorID, &vt.VerseID)
		if err != nil {
			return nil, fmt.Errorf("scan verse token: %w", err)
		}
		if vt.Analysis, err = unmarshalMap(analysis); err != nil {
			return nil, err
		}
		if vt.Display, err = unmarshalStringMap(displ); err != nil {
			return nil, err
		}
		out = append(out, vt)
	}
	return out, rows.Err()
}

// TokensInRange returns original-order tokens with id in (fromExclusive,
// toInclusive], the contiguous-range walk of the segmenter.
func (s *PostgresStore) TokensInRange(ctx context.Context, fromExclusive, toInclusive int64) ([]Token, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, line_id, inner_id, ord, text, lemma, analysis, display, annotator_id
		FROM token
		WHERE id > $1 AND id <= $2
		ORDER BY id
	`, fromExclusive, toInclusive)
	if err != nil {
		return nil, fmt.Errorf("tokens in range: %w", err)
	}
	defer rows.Close()
	return collectTokens(rows)
}

// ExtraTokensForVerse returns annotator-inserted tokens attached to the
// verse's lines; they sit outside the monotonic id walk.
func (s *PostgresStore) ExtraTokensForVerse(ctx context.Context, verseID int64) ([]Token, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.line_id, t.inner_id, t.ord, t.text, t.lemma, t.analysis, t.display, t.annotator_id
		FROM token t
		JOIN line l ON l.id = t.line_id
		WHERE l.verse_id = $1 AND t.annotator_id IS NOT NULL
		ORDER BY t.ord, t.id
	`, verseID)
	if err != nil {
		return nil, fmt.Errorf("extra tokens: %w", err)
	}
	defer rows.Close()
	return collectTokens(rows)
}

// InsertToken adds an annotator-inserted token to the first line of the
// verse, below every existing order value so it sorts ahead of the line.
func (s *PostgresStore) InsertToken(ctx context.Context, verseID int64, t Token) (int64, error) {
	var lineID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM line WHERE verse_id=$1 ORDER BY id LIMIT 1
	`, verseID).Scan(&lineID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("first verse line: %w", err)
	}

	var lowest sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `
		SELECT MIN(ord) FROM token WHERE line_id=$1
	`, lineID).Scan(&lowest); err != nil {
		return 0, fmt.Errorf("lowest token order: %w", err)
	}
	ord := int64(0)
	if lowest.Valid && lowest.Int64 < 0 {
		ord = lowest.Int64
	}
	ord--

	analysis, err := marshalJSON(t.Analysis)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO token (line_id, inner_id, ord, text, lemma, analysis, annotator_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, lineID, "custom", ord, t.Text, t.Lemma, analysis, t.AnnotatorID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert token: %w", err)
	}
	return id, nil
}

// ChapterLine and ChapterVerse carry parsed ingestion data into AddChapter.
type ChapterLine struct {
	Text   string
	Tokens []Token
}

type ChapterVerse struct {
	Lines []ChapterLine
}

// AddChapter ingests a parsed chapter in one transaction: verse, line and
// token rows plus one auto boundary per verse (owned by autoAnnotatorID)
// marking the verse-final token.
func (s *PostgresStore) AddChapter(
	ctx context.Context,
	corpusID int64,
	name, description string,
	verses []ChapterVerse,
	boundaryTaskID, autoAnnotatorID int64,
) (int64, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM chapter WHERE name=$1)
	`, name).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check chapter name: %w", err)
	}
	if exists {
		return 0, fmt.Errorf("chapter %q already exists", name)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin add chapter: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var chapterID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO chapter (corpus_id, name, description)
		VALUES ($1, $2, $3) RETURNING id
	`, corpusID, name, description).Scan(&chapterID)
	if err != nil {
		return 0, fmt.Errorf("insert chapter: %w", err)
	}

	now := time.Now().UTC()
	for _, verse := range verses {
		var verseID int64
		err = tx.QueryRowContext(ctx, `
			INSERT INTO verse (chapter_id) VALUES ($1) RETURNING id
		`, chapterID).Scan(&verseID)
		if err != nil {
			return 0, fmt.Errorf("insert verse: %w", err)
		}

		var lastTokenID int64
		for _, line := range verse.Lines {
			var lineID int64
			err = tx.QueryRowContext(ctx, `
				INSERT INTO line (verse_id, text) VALUES ($1, $2) RETURNING id
			`, verseID, line.Text).Scan(&lineID)
			if err != nil {
				return 0, fmt.Errorf("insert line: %w", err)
			}

			for _, t := range line.Tokens {
				analysis, err := marshalJSON(t.Analysis)
				if err != nil {
					return 0, err
				}
				display, err := marshalJSON(t.Display)
				if err != nil {
					return 0, err
				}
				err = tx.QueryRowContext(ctx, `
					INSERT INTO token (line_id, inner_id, ord, text, lemma, analysis, display)
					VALUES ($1, $2, $3, $4, $5, $6, $7)
					RETURNING id
				`, lineID, t.InnerID, t.Order, t.Text, t.Lemma, analysis, display).Scan(&lastTokenID)
				if err != nil {
					return 0, fmt.Errorf("insert token: %w", err)
				}
			}
		}

		if lastTokenID != 0 {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO boundary (task_id, verse_id, token_id, annotator_id, updated_at)
				VALUES ($1, $2, $3, $4, $5)
			`, boundaryTaskID, verseID, lastTokenID, autoAnnotatorID, now)
			if err != nil {
				return 0, fmt.Errorf("insert auto boundary: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit add chapter: %w", err)
	}
	return chapterID, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (Token, error) {
	var (
		t               Token
		analysis, displ []byte
	)
	err := row.Scan(&t.ID, &t.LineID, &t.InnerID, &t.Order, &t.Text, &t.Lemma,
		&analysis, &displ, &t.AnnotatorID)
	if err != nil {
		return Token{}, err
	}
	if t.Analysis, err = unmarshalMap(analysis); err != nil {
		return Token{}, err
	}
	if t.Display, err = unmarshalStringMap(displ); err != nil {
		return Token{}, err
	}
	return t, nil
}

func collectTokens(rows *sql.Rows) ([]Token, error) {
	var out []Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
