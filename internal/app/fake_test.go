package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Antarlekhaka/code/internal/store"
)

// fakeStore is an in-memory dataStore with its own Tx implementation.
// InTx snapshots the mutable annotation state before running fn and
// restores it on error, mirroring the rollback the real store performs.
type fakeStore struct {
	nextID int64

	corpora  []store.Corpus
	chapters map[int64]store.Chapter
	verses   map[int64]store.Verse
	lines    []store.Line
	tokens   []store.VerseToken // ascending by id
	tasks    []store.Task
	labels   map[int64]store.Label
	users    map[int64]store.User
	roles    []store.Role

	boundaries map[int64]store.Boundary
	wordOrder  map[int64]store.WordOrderRow
	textAnns   map[int64]store.TokenTextAnnotationRow
	tokenClass map[int64]store.TokenClassificationRow
	tokenGraph map[int64]store.TokenGraphRow
	tokenConn  map[int64]store.TokenConnectionRow
	sentClass  map[int64]store.SentenceClassificationRow
	sentGraph  map[int64]store.SentenceGraphRow
	submitLog  []store.SubmitLogEntry

	// set by tests to force a mid-transaction failure
	failTokenConnectionInsert error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chapters:   map[int64]store.Chapter{},
		verses:     map[int64]store.Verse{},
		labels:     map[int64]store.Label{},
		users:      map[int64]store.User{},
		boundaries: map[int64]store.Boundary{},
		wordOrder:  map[int64]store.WordOrderRow{},
		textAnns:   map[int64]store.TokenTextAnnotationRow{},
		tokenClass: map[int64]store.TokenClassificationRow{},
		tokenGraph: map[int64]store.TokenGraphRow{},
		tokenConn:  map[int64]store.TokenConnectionRow{},
		sentClass:  map[int64]store.SentenceClassificationRow{},
		sentGraph:  map[int64]store.SentenceGraphRow{},
	}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) ListCorpora(ctx context.Context) ([]store.Corpus, error) {
	return append([]store.Corpus(nil), f.corpora...), nil
}

func (f *fakeStore) CreateCorpus(ctx context.Context, c store.Corpus) (int64, error) {
	c.ID = f.id()
	f.corpora = append(f.corpora, c)
	return c.ID, nil
}

func (f *fakeStore) GetChapter(ctx context.Context, id int64) (store.Chapter, error) {
	c, ok := f.chapters[id]
	if !ok {
		return store.Chapter{}, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) ListChapters(ctx context.Context, corpusID int64) ([]store.Chapter, error) {
	var out []store.Chapter
	for _, c := range f.chapters {
		if c.CorpusID == corpusID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetVerse(ctx context.Context, id int64) (store.Verse, error) {
	v, ok := f.verses[id]
	if !ok {
		return store.Verse{}, store.ErrNotFound
	}
	return v, nil
}

func (f *fakeStore) ListChapterVerseIDs(ctx context.Context, chapterID int64) ([]int64, error) {
	var out []int64
	for _, v := range f.verses {
		if v.ChapterID == chapterID {
			out = append(out, v.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (f *fakeStore) FirstChapterVerseID(ctx context.Context, chapterID int64) (int64, error) {
	ids, _ := f.ListChapterVerseIDs(ctx, chapterID)
	if len(ids) == 0 {
		return 0, store.ErrNotFound
	}
	return ids[0], nil
}

func (f *fakeStore) chapterOfVerse(verseID int64) int64 {
	return f.verses[verseID].ChapterID
}

func (f *fakeStore) FirstChapterToken(ctx context.Context, chapterID int64) (store.Token, error) {
	for _, t := range f.tokens {
		if f.chapterOfVerse(t.VerseID) == chapterID {
			return t.Token, nil
		}
	}
	return store.Token{}, store.ErrNotFound
}

func (f *fakeStore) ListLinesForVerses(ctx context.Context, verseIDs []int64) ([]store.Line, error) {
	want := int64Set(verseIDs)
	var out []store.Line
	for _, l := range f.lines {
		if want[l.VerseID] {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VerseID != out[j].VerseID {
			return out[i].VerseID < out[j].VerseID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeStore) ListTokensForVerses(ctx context.Context, verseIDs []int64) ([]store.VerseToken, error) {
	want := int64Set(verseIDs)
	var out []store.VerseToken
	for _, t := range f.tokens {
		if want[t.VerseID] {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VerseID != out[j].VerseID {
			return out[i].VerseID < out[j].VerseID
		}
		if out[i].LineID != out[j].LineID {
			return out[i].LineID < out[j].LineID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeStore) TokensInRange(ctx context.Context, fromExclusive, toInclusive int64) ([]store.Token, error) {
	var out []store.Token
	for _, t := range f.tokens {
		if t.ID > fromExclusive && t.ID <= toInclusive {
			out = append(out, t.Token)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) ExtraTokensForVerse(ctx context.Context, verseID int64) ([]store.Token, error) {
	var out []store.Token
	for _, t := range f.tokens {
		if t.VerseID == verseID && t.AnnotatorID != nil {
			out = append(out, t.Token)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeStore) InsertToken(ctx context.Context, verseID int64, t store.Token) (int64, error) {
	lines, _ := f.ListLinesForVerses(ctx, []int64{verseID})
	if len(lines) == 0 {
		return 0, store.ErrNotFound
	}
	lowest := 0
	for _, have := range f.tokens {
		if have.LineID == lines[0].ID && have.Order < lowest {
			lowest = have.Order
		}
	}
	t.ID = f.id()
	t.LineID = lines[0].ID
	t.Order = lowest - 1
	f.tokens = append(f.tokens, store.VerseToken{Token: t, VerseID: verseID})
	return t.ID, nil
}

func (f *fakeStore) AddChapter(ctx context.Context, corpusID int64, name, description string, verses []store.ChapterVerse, boundaryTaskID, autoAnnotatorID int64) (int64, error) {
	chapterID := f.id()
	f.chapters[chapterID] = store.Chapter{ID: chapterID, CorpusID: corpusID, Name: name, Description: description}
	for _, verse := range verses {
		verseID := f.id()
		f.verses[verseID] = store.Verse{ID: verseID, ChapterID: chapterID}
		var lastTokenID int64
		for _, line := range verse.Lines {
			lineID := f.id()
			f.lines = append(f.lines, store.Line{ID: lineID, VerseID: verseID, Text: line.Text})
			for _, t := range line.Tokens {
				t.ID = f.id()
				t.LineID = lineID
				f.tokens = append(f.tokens, store.VerseToken{Token: t, VerseID: verseID})
				lastTokenID = t.ID
			}
		}
		if lastTokenID != 0 {
			bid := f.id()
			f.boundaries[bid] = store.Boundary{
				ID: bid, TaskID: boundaryTaskID, VerseID: verseID,
				TokenID: lastTokenID, AnnotatorID: autoAnnotatorID,
			}
		}
	}
	return chapterID, nil
}

func (f *fakeStore) BoundariesForVerse(ctx context.Context, taskID, verseID, annotatorID int64) ([]store.Boundary, error) {
	var out []store.Boundary
	for _, b := range f.boundaries {
		if b.TaskID == taskID && b.VerseID == verseID && b.AnnotatorID == annotatorID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out, nil
}

func (f *fakeStore) BoundariesForChapter(ctx context.Context, taskID, chapterID, annotatorID int64) ([]store.Boundary, error) {
	var out []store.Boundary
	for _, b := range f.boundaries {
		if b.TaskID == taskID && b.AnnotatorID == annotatorID && f.chapterOfVerse(b.VerseID) == chapterID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out, nil
}

func (f *fakeStore) PreviousBoundary(ctx context.Context, taskID, chapterID, tokenID, annotatorID int64) (store.Boundary, error) {
	var best store.Boundary
	for _, b := range f.boundaries {
		if b.TaskID != taskID || b.AnnotatorID != annotatorID || f.chapterOfVerse(b.VerseID) != chapterID {
			continue
		}
		if b.TokenID < tokenID && b.TokenID > best.TokenID {
			best = b
		}
	}
	if best.ID == 0 {
		return store.Boundary{}, store.ErrNotFound
	}
	return best, nil
}

func (f *fakeStore) NextBoundary(ctx context.Context, taskID, chapterID, tokenID, annotatorID int64) (store.Boundary, error) {
	var best store.Boundary
	for _, b := range f.boundaries {
		if b.TaskID != taskID || b.AnnotatorID != annotatorID || f.chapterOfVerse(b.VerseID) != chapterID {
			continue
		}
		if b.TokenID > tokenID && (best.ID == 0 || b.TokenID < best.TokenID) {
			best = b
		}
	}
	if best.ID == 0 {
		return store.Boundary{}, store.ErrNotFound
	}
	return best, nil
}

func (f *fakeStore) GetBoundary(ctx context.Context, id int64) (store.Boundary, error) {
	b, ok := f.boundaries[id]
	if !ok {
		return store.Boundary{}, store.ErrNotFound
	}
	return b, nil
}

func (f *fakeStore) WordOrderForBoundaries(ctx context.Context, boundaryIDs []int64, annotatorID int64) ([]store.WordOrderRow, error) {
	want := int64Set(boundaryIDs)
	var out []store.WordOrderRow
	for _, r := range f.wordOrder {
		if r.AnnotatorID == annotatorID && want[r.BoundaryID] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BoundaryID != out[j].BoundaryID {
			return out[i].BoundaryID < out[j].BoundaryID
		}
		return out[i].Order < out[j].Order
	})
	return out, nil
}

func (f *fakeStore) TokenTextAnnotationsForTokens(ctx context.Context, taskID int64, tokenIDs []int64, annotatorID int64, includeDeleted bool) ([]store.TokenTextAnnotationRow, error) {
	want := int64Set(tokenIDs)
	var out []store.TokenTextAnnotationRow
	for _, r := range f.textAnns {
		if r.TaskID == taskID && r.AnnotatorID == annotatorID && want[r.TokenID] && (includeDeleted || !r.IsDeleted) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) TokenClassificationsForTokens(ctx context.Context, taskID int64, tokenIDs []int64, annotatorID int64, includeDeleted bool) ([]store.TokenClassificationRow, error) {
	want := int64Set(tokenIDs)
	var out []store.TokenClassificationRow
	for _, r := range f.tokenClass {
		if r.TaskID == taskID && r.AnnotatorID == annotatorID && want[r.TokenID] && (includeDeleted || !r.IsDeleted) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) TokenGraphForBoundaries(ctx context.Context, taskID int64, boundaryIDs []int64, annotatorID int64, includeDeleted bool) ([]store.TokenGraphRow, error) {
	want := int64Set(boundaryIDs)
	var out []store.TokenGraphRow
	for _, r := range f.tokenGraph {
		if r.TaskID == taskID && r.AnnotatorID == annotatorID && want[r.BoundaryID] && (includeDeleted || !r.IsDeleted) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) TokenConnectionsForBoundaries(ctx context.Context, taskID int64, boundaryIDs []int64, annotatorID int64, includeDeleted bool) ([]store.TokenConnectionRow, error) {
	want := int64Set(boundaryIDs)
	var out []store.TokenConnectionRow
	for _, r := range f.tokenConn {
		if r.TaskID == taskID && r.AnnotatorID == annotatorID && want[r.BoundaryID] && (includeDeleted || !r.IsDeleted) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) SentenceClassificationsForBoundaries(ctx context.Context, taskID int64, boundaryIDs []int64, annotatorID int64, includeDeleted bool) ([]store.SentenceClassificationRow, error) {
	want := int64Set(boundaryIDs)
	var out []store.SentenceClassificationRow
	for _, r := range f.sentClass {
		if r.TaskID == taskID && r.AnnotatorID == annotatorID && want[r.BoundaryID] && (includeDeleted || !r.IsDeleted) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) SentenceGraphForBoundaries(ctx context.Context, taskID int64, boundaryIDs []int64, annotatorID int64, includeDeleted bool) ([]store.SentenceGraphRow, error) {
	want := int64Set(boundaryIDs)
	var out []store.SentenceGraphRow
	for _, r := range f.sentGraph {
		if r.TaskID == taskID && r.AnnotatorID == annotatorID && want[r.SrcBoundaryID] && (includeDeleted || !r.IsDeleted) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) ListTasks(ctx context.Context, includeDeleted bool) ([]store.Task, error) {
	var out []store.Task
	for _, t := range f.tasks {
		if includeDeleted || !t.IsDeleted {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (f *fakeStore) GetTask(ctx context.Context, id int64) (store.Task, error) {
	for _, t := range f.tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return store.Task{}, store.ErrNotFound
}

func (f *fakeStore) UpdateTask(ctx context.Context, t store.Task) error {
	for i := range f.tasks {
		if f.tasks[i].ID == t.ID {
			f.tasks[i] = t
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeStore) EnsureTask(ctx context.Context, t store.Task) (int64, error) {
	for _, have := range f.tasks {
		if have.Category == t.Category {
			return have.ID, nil
		}
	}
	t.ID = f.id()
	f.tasks = append(f.tasks, t)
	return t.ID, nil
}

func (f *fakeStore) ListLabels(ctx context.Context, taskID int64, includeDeleted bool) ([]store.Label, error) {
	var out []store.Label
	for _, l := range f.labels {
		if l.TaskID == taskID && (includeDeleted || !l.IsDeleted) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetLabel(ctx context.Context, id int64) (store.Label, error) {
	l, ok := f.labels[id]
	if !ok {
		return store.Label{}, store.ErrNotFound
	}
	return l, nil
}

func (f *fakeStore) AddLabel(ctx context.Context, l store.Label) (int64, error) {
	for _, have := range f.labels {
		if have.TaskID == l.TaskID && have.Label == l.Label {
			have.IsDeleted = false
			f.labels[have.ID] = have
			return have.ID, nil
		}
	}
	l.ID = f.id()
	f.labels[l.ID] = l
	return l.ID, nil
}

func (f *fakeStore) LabelUsageCount(ctx context.Context, labelID int64) (int64, error) {
	var n int64
	for _, r := range f.tokenClass {
		if r.LabelID == labelID && !r.IsDeleted {
			n++
		}
	}
	for _, r := range f.tokenGraph {
		if r.LabelID == labelID && !r.IsDeleted {
			n++
		}
	}
	for _, r := range f.sentClass {
		if r.LabelID == labelID && !r.IsDeleted {
			n++
		}
	}
	for _, r := range f.sentGraph {
		if r.LabelID == labelID && !r.IsDeleted {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) SoftDeleteLabel(ctx context.Context, labelID int64) error {
	l, ok := f.labels[labelID]
	if !ok {
		return store.ErrNotFound
	}
	l.IsDeleted = true
	f.labels[labelID] = l
	return nil
}

func (f *fakeStore) CreateUser(ctx context.Context, u store.User) (int64, error) {
	for _, have := range f.users {
		if have.Username == u.Username || have.Email == u.Email {
			return 0, store.ErrDuplicateUser
		}
	}
	u.ID = f.id()
	f.users[u.ID] = u
	return u.ID, nil
}

func (f *fakeStore) GetUser(ctx context.Context, id int64) (store.User, error) {
	u, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) GetUserByUsername(ctx context.Context, username string) (store.User, error) {
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) ListUsers(ctx context.Context) ([]store.User, error) {
	var out []store.User
	for _, u := range f.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UpdateUserSettings(ctx context.Context, userID int64, settings map[string]string) error {
	u, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.Settings = settings
	f.users[userID] = u
	return nil
}

func (f *fakeStore) SetUserActive(ctx context.Context, userID int64, active bool) error {
	u, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.IsActive = active
	f.users[userID] = u
	return nil
}

func (f *fakeStore) ListRoles(ctx context.Context) ([]store.Role, error) {
	return append([]store.Role(nil), f.roles...), nil
}

func (f *fakeStore) EnsureRole(ctx context.Context, r store.Role) (int64, error) {
	for _, have := range f.roles {
		if have.Name == r.Name {
			return have.ID, nil
		}
	}
	r.ID = f.id()
	f.roles = append(f.roles, r)
	return r.ID, nil
}

func (f *fakeStore) roleByID(id int64) (store.Role, bool) {
	for _, r := range f.roles {
		if r.ID == id {
			return r, true
		}
	}
	return store.Role{}, false
}

func (f *fakeStore) AssignRole(ctx context.Context, userID, roleID int64) error {
	u, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	role, ok := f.roleByID(roleID)
	if !ok {
		return store.ErrNotFound
	}
	for _, have := range u.Roles {
		if have.ID == roleID {
			return nil
		}
	}
	u.Roles = append(u.Roles, role)
	f.users[userID] = u
	return nil
}

func (f *fakeStore) RemoveRole(ctx context.Context, userID, roleID int64) error {
	u, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	kept := u.Roles[:0]
	for _, have := range u.Roles {
		if have.ID != roleID {
			kept = append(kept, have)
		}
	}
	u.Roles = kept
	f.users[userID] = u
	return nil
}

func (f *fakeStore) SubmitLogLatest(ctx context.Context, chapterID, annotatorID int64) ([]store.SubmitLogSummary, error) {
	type key struct{ task, verse int64 }
	latest := map[key]store.SubmitLogEntry{}
	for _, e := range f.submitLog {
		if e.AnnotatorID != annotatorID || f.chapterOfVerse(e.VerseID) != chapterID {
			continue
		}
		k := key{e.TaskID, e.VerseID}
		if have, ok := latest[k]; !ok || e.UpdatedAt.After(have.UpdatedAt) {
			latest[k] = e
		}
	}
	var out []store.SubmitLogSummary
	for _, e := range latest {
		task, _ := f.GetTask(ctx, e.TaskID)
		out = append(out, store.SubmitLogSummary{
			TaskID:      e.TaskID,
			TaskShort:   task.Short,
			VerseID:     e.VerseID,
			AnnotatorID: e.AnnotatorID,
			UpdatedAt:   e.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VerseID != out[j].VerseID {
			return out[i].VerseID < out[j].VerseID
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out, nil
}

// mutable captures the state a transaction can touch.
type mutable struct {
	nextID     int64
	boundaries map[int64]store.Boundary
	wordOrder  map[int64]store.WordOrderRow
	textAnns   map[int64]store.TokenTextAnnotationRow
	tokenClass map[int64]store.TokenClassificationRow
	tokenGraph map[int64]store.TokenGraphRow
	tokenConn  map[int64]store.TokenConnectionRow
	sentClass  map[int64]store.SentenceClassificationRow
	sentGraph  map[int64]store.SentenceGraphRow
	submitLog  []store.SubmitLogEntry
}

func copyMap[V any](m map[int64]V) map[int64]V {
	out := make(map[int64]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (f *fakeStore) snapshot() mutable {
	return mutable{
		nextID:     f.nextID,
		boundaries: copyMap(f.boundaries),
		wordOrder:  copyMap(f.wordOrder),
		textAnns:   copyMap(f.textAnns),
		tokenClass: copyMap(f.tokenClass),
		tokenGraph: copyMap(f.tokenGraph),
		tokenConn:  copyMap(f.tokenConn),
		sentClass:  copyMap(f.sentClass),
		sentGraph:  copyMap(f.sentGraph),
		submitLog:  append([]store.SubmitLogEntry(nil), f.submitLog...),
	}
}

func (f *fakeStore) restore(m mutable) {
	f.nextID = m.nextID
	f.boundaries = m.boundaries
	f.wordOrder = m.wordOrder
	f.textAnns = m.textAnns
	f.tokenClass = m.tokenClass
	f.tokenGraph = m.tokenGraph
	f.tokenConn = m.tokenConn
	f.sentClass = m.sentClass
	f.sentGraph = m.sentGraph
	f.submitLog = m.submitLog
}

func (f *fakeStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	snap := f.snapshot()
	if err := fn(&fakeTx{f: f}); err != nil {
		f.restore(snap)
		return err
	}
	return nil
}

type fakeTx struct {
	f *fakeStore
}

func (t *fakeTx) InsertBoundary(ctx context.Context, b store.Boundary) (int64, error) {
	b.ID = t.f.id()
	t.f.boundaries[b.ID] = b
	return b.ID, nil
}

func (t *fakeTx) DeleteBoundaries(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		delete(t.f.boundaries, id)
	}
	return nil
}

func (t *fakeTx) DeleteLayersForBoundaries(ctx context.Context, boundaryIDs []int64) error {
	want := int64Set(boundaryIDs)
	for id, r := range t.f.wordOrder {
		if want[r.BoundaryID] {
			delete(t.f.wordOrder, id)
		}
	}
	for id, r := range t.f.textAnns {
		if want[r.BoundaryID] {
			delete(t.f.textAnns, id)
		}
	}
	for id, r := range t.f.tokenClass {
		if want[r.BoundaryID] {
			delete(t.f.tokenClass, id)
		}
	}
	for id, r := range t.f.tokenGraph {
		if want[r.BoundaryID] {
			delete(t.f.tokenGraph, id)
		}
	}
	for id, r := range t.f.tokenConn {
		if want[r.BoundaryID] {
			delete(t.f.tokenConn, id)
		}
	}
	for id, r := range t.f.sentClass {
		if want[r.BoundaryID] {
			delete(t.f.sentClass, id)
		}
	}
	for id, r := range t.f.sentGraph {
		if want[r.SrcBoundaryID] || want[r.DstBoundaryID] {
			delete(t.f.sentGraph, id)
		}
	}
	return nil
}

func (t *fakeTx) DeleteWordOrder(ctx context.Context, boundaryIDs []int64) error {
	want := int64Set(boundaryIDs)
	for id, r := range t.f.wordOrder {
		if want[r.BoundaryID] {
			delete(t.f.wordOrder, id)
		}
	}
	return nil
}

func (t *fakeTx) InsertWordOrder(ctx context.Context, r store.WordOrderRow) (int64, error) {
	r.ID = t.f.id()
	t.f.wordOrder[r.ID] = r
	return r.ID, nil
}

func (t *fakeTx) InsertTokenTextAnnotation(ctx context.Context, r store.TokenTextAnnotationRow) (int64, error) {
	r.ID = t.f.id()
	t.f.textAnns[r.ID] = r
	return r.ID, nil
}

func (t *fakeTx) UpdateTokenTextAnnotation(ctx context.Context, id, boundaryID int64, content string, now time.Time) error {
	r, ok := t.f.textAnns[id]
	if !ok {
		return store.ErrNotFound
	}
	r.BoundaryID = boundaryID
	r.Content = content
	r.IsDeleted = false
	r.UpdatedAt = now
	t.f.textAnns[id] = r
	return nil
}

func (t *fakeTx) SoftDeleteTokenTextAnnotation(ctx context.Context, id int64, now time.Time) error {
	r, ok := t.f.textAnns[id]
	if !ok {
		return store.ErrNotFound
	}
	r.IsDeleted = true
	r.UpdatedAt = now
	t.f.textAnns[id] = r
	return nil
}

func (t *fakeTx) InsertTokenClassification(ctx context.Context, r store.TokenClassificationRow) (int64, error) {
	r.ID = t.f.id()
	t.f.tokenClass[r.ID] = r
	return r.ID, nil
}

func (t *fakeTx) UpdateTokenClassification(ctx context.Context, id, boundaryID, labelID int64, now time.Time) error {
	r, ok := t.f.tokenClass[id]
	if !ok {
		return store.ErrNotFound
	}
	r.BoundaryID = boundaryID
	r.LabelID = labelID
	r.IsDeleted = false
	r.UpdatedAt = now
	t.f.tokenClass[id] = r
	return nil
}

func (t *fakeTx) SoftDeleteTokenClassification(ctx context.Context, id int64, now time.Time) error {
	r, ok := t.f.tokenClass[id]
	if !ok {
		return store.ErrNotFound
	}
	r.IsDeleted = true
	r.UpdatedAt = now
	t.f.tokenClass[id] = r
	return nil
}

func (t *fakeTx) InsertTokenGraph(ctx context.Context, r store.TokenGraphRow) (int64, error) {
	r.ID = t.f.id()
	t.f.tokenGraph[r.ID] = r
	return r.ID, nil
}

func (t *fakeTx) UpdateTokenGraph(ctx context.Context, id, boundaryID int64, now time.Time) error {
	r, ok := t.f.tokenGraph[id]
	if !ok {
		return store.ErrNotFound
	}
	r.BoundaryID = boundaryID
	r.IsDeleted = false
	r.UpdatedAt = now
	t.f.tokenGraph[id] = r
	return nil
}

func (t *fakeTx) SoftDeleteTokenGraph(ctx context.Context, id int64, now time.Time) error {
	r, ok := t.f.tokenGraph[id]
	if !ok {
		return store.ErrNotFound
	}
	r.IsDeleted = true
	r.UpdatedAt = now
	t.f.tokenGraph[id] = r
	return nil
}

func (t *fakeTx) InsertTokenConnection(ctx context.Context, r store.TokenConnectionRow) (int64, error) {
	if t.f.failTokenConnectionInsert != nil {
		return 0, t.f.failTokenConnectionInsert
	}
	r.ID = t.f.id()
	t.f.tokenConn[r.ID] = r
	return r.ID, nil
}

func (t *fakeTx) UpdateTokenConnection(ctx context.Context, id, boundaryID int64, now time.Time) error {
	r, ok := t.f.tokenConn[id]
	if !ok {
		return store.ErrNotFound
	}
	r.BoundaryID = boundaryID
	r.IsDeleted = false
	r.UpdatedAt = now
	t.f.tokenConn[id] = r
	return nil
}

func (t *fakeTx) SoftDeleteTokenConnection(ctx context.Context, id int64, now time.Time) error {
	r, ok := t.f.tokenConn[id]
	if !ok {
		return store.ErrNotFound
	}
	r.IsDeleted = true
	r.UpdatedAt = now
	t.f.tokenConn[id] = r
	return nil
}

func (t *fakeTx) InsertSentenceClassification(ctx context.Context, r store.SentenceClassificationRow) (int64, error) {
	r.ID = t.f.id()
	t.f.sentClass[r.ID] = r
	return r.ID, nil
}

func (t *fakeTx) UpdateSentenceClassification(ctx context.Context, id, labelID int64, now time.Time) error {
	r, ok := t.f.sentClass[id]
	if !ok {
		return store.ErrNotFound
	}
	r.LabelID = labelID
	r.IsDeleted = false
	r.UpdatedAt = now
	t.f.sentClass[id] = r
	return nil
}

func (t *fakeTx) SoftDeleteSentenceClassification(ctx context.Context, id int64, now time.Time) error {
	r, ok := t.f.sentClass[id]
	if !ok {
		return store.ErrNotFound
	}
	r.IsDeleted = true
	r.UpdatedAt = now
	t.f.sentClass[id] = r
	return nil
}

func (t *fakeTx) InsertSentenceGraph(ctx context.Context, r store.SentenceGraphRow) (int64, error) {
	// The token columns are NOT NULL references in the schema.
	if r.SrcTokenID == 0 || r.DstTokenID == 0 {
		return 0, fmt.Errorf("sentence graph row without token endpoints")
	}
	r.ID = t.f.id()
	t.f.sentGraph[r.ID] = r
	return r.ID, nil
}

func (t *fakeTx) UpdateSentenceGraph(ctx context.Context, id, labelID int64, now time.Time) error {
	r, ok := t.f.sentGraph[id]
	if !ok {
		return store.ErrNotFound
	}
	r.LabelID = labelID
	r.IsDeleted = false
	r.UpdatedAt = now
	t.f.sentGraph[id] = r
	return nil
}

func (t *fakeTx) SoftDeleteSentenceGraph(ctx context.Context, id int64, now time.Time) error {
	r, ok := t.f.sentGraph[id]
	if !ok {
		return store.ErrNotFound
	}
	r.IsDeleted = true
	r.UpdatedAt = now
	t.f.sentGraph[id] = r
	return nil
}

func (t *fakeTx) AppendSubmitLog(ctx context.Context, e store.SubmitLogEntry) error {
	e.ID = t.f.id()
	t.f.submitLog = append(t.f.submitLog, e)
	return nil
}

func int64Set(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// fakeSessions is an in-memory SessionStore.
type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]int64
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[string]int64{}}
}

func (s *fakeSessions) SaveRefreshSession(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[tokenHash] = userID
	return nil
}

func (s *fakeSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.sessions[tokenHash]
	if !ok {
		return 0, fmt.Errorf("refresh session not found")
	}
	return userID, nil
}

func (s *fakeSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, tokenHash)
	return nil
}
