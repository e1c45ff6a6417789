// Package conllu parses DCS-style CoNLL-U chapter files into the verse,
// line and token structure the corpus store ingests.
package conllu

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Antarlekhaka/code/internal/store"
)

// The ten columns of a DCS CoNLL-U token line.
const fieldCount = 10

// Line is one parsed sentence block: its metadata and tokens.
type Line struct {
	ID      int64
	VerseID int64
	Text    string
	Tokens  []store.Token
}

// Parse reads CoNLL-U content and groups its sentence blocks into verses.
// Consecutive blocks sharing a sent_counter form one verse. Multiword
// ranges keep the surface form on the range token; the words it covers
// get the placeholder text "_" so the running text is not duplicated.
func Parse(r io.Reader) ([]store.ChapterVerse, error) {
	lines, err := parseLines(r)
	if err != nil {
		return nil, err
	}

	var verses []store.ChapterVerse
	lastVerse := int64(-1)
	for _, line := range lines {
		if line.VerseID != lastVerse || len(verses) == 0 {
			lastVerse = line.VerseID
			verses = append(verses, store.ChapterVerse{})
		}
		verses[len(verses)-1].Lines = append(verses[len(verses)-1].Lines, store.ChapterLine{
			Text:   line.Text,
			Tokens: line.Tokens,
		})
	}
	return verses, nil
}

func parseLines(r io.Reader) ([]Line, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		out     []Line
		current *Line
		lineNo  int

		subtoken bool
		endID    string
		index    int
	)
	flush := func() {
		if current != nil && (len(current.Tokens) > 0 || current.Text != "") {
			out = append(out, *current)
		}
		current = nil
		subtoken = false
		endID = ""
		index = 0
	}

	for scanner.Scan() {
		lineNo++
		raw := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			flush()
			continue
		}
		if current == nil {
			current = &Line{}
		}

		if strings.HasPrefix(trimmed, "#") {
			key, value, ok := splitComment(trimmed)
			if !ok {
				continue
			}
			switch key {
			case "sent_id":
				id, err := strconv.ParseInt(value, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: bad sent_id %q", lineNo, value)
				}
				current.ID = id
			case "sent_counter":
				id, err := strconv.ParseInt(value, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: bad sent_counter %q", lineNo, value)
				}
				current.VerseID = id
			case "text":
				current.Text = value
			}
			continue
		}

		fields := strings.Split(raw, "\t")
		if len(fields) < fieldCount {
			return nil, fmt.Errorf("line %d: %d fields, want %d", lineNo, len(fields), fieldCount)
		}
		index++

		id := fields[0]
		form := blankToEmpty(fields[1])
		lemma := blankToEmpty(fields[2])
		upos := blankToEmpty(fields[3])
		xpos := blankToEmpty(fields[4])
		featOrder, feats := parsePairs(fields[5])
		miscOrder, misc := parsePairs(fields[9])

		text := form
		if subtoken {
			text = "_"
		}
		token := store.Token{
			InnerID: id,
			Order:   index * 10,
			Text:    text,
			Lemma:   lemma,
			Analysis: map[string]any{
				"form":  form,
				"lemma": lemma,
				"upos":  upos,
				"xpos":  xpos,
				"feats": feats,
				"misc":  misc,
			},
			Display: map[string]string{
				"Word":     form,
				"Lemma":    lemma,
				"UPOS":     upos,
				"XPOS":     xpos,
				"Features": joinPairs(featOrder, feats),
				"Misc":     joinPairs(miscOrder, misc),
			},
		}
		current.Tokens = append(current.Tokens, token)

		if id == endID {
			subtoken = false
			endID = ""
		}
		if _, to, ok := splitRange(id); ok {
			subtoken = true
			endID = to
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read conllu: %w", err)
	}
	flush()
	return out, nil
}

func splitComment(line string) (key, value string, ok bool) {
	body := strings.TrimSpace(strings.TrimPrefix(line, "#"))
	idx := strings.Index(body, "=")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(body[:idx]), strings.TrimSpace(body[idx+1:]), true
}

func splitRange(id string) (from, to string, ok bool) {
	idx := strings.Index(id, "-")
	if idx <= 0 || idx == len(id)-1 {
		return "", "", false
	}
	return id[:idx], id[idx+1:], true
}

func blankToEmpty(field string) string {
	if field == "_" {
		return ""
	}
	return field
}

// parsePairs decodes a "Key=Value|Key=Value" column, keeping file order
// for display purposes.
func parsePairs(field string) ([]string, map[string]string) {
	if field == "" || field == "_" {
		return nil, map[string]string{}
	}
	parts := strings.Split(field, "|")
	order := make([]string, 0, len(parts))
	pairs := make(map[string]string, len(parts))
	for _, part := range parts {
		idx := strings.Index(part, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(part[:idx])
		pairs[key] = strings.TrimSpace(part[idx+1:])
		order = append(order, key)
	}
	return order, pairs
}

func joinPairs(order []string, pairs map[string]string) string {
	items := make([]string, 0, len(order))
	for _, key := range order {
		items = append(items, fmt.Sprintf("%s=%s", key, pairs[key]))
	}
	return strings.Join(items, "<br>")
}
