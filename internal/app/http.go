package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Antarlekhaka/code/internal/auth"
	"github.com/Antarlekhaka/code/internal/authpw"
	"github.com/Antarlekhaka/code/internal/export"
	"github.com/Antarlekhaka/code/internal/search"
	"github.com/Antarlekhaka/code/internal/store"
)

// Role levels used for endpoint authorization.
const (
	levelGuest     = 1
	levelAnnotator = 2
	levelCurator   = 3
	levelAdmin     = 4
)

type HTTPServer struct {
	service    *Service
	search     *search.Service
	exporter   *export.Service
	corsOrigin string
}

func NewHTTPServer(service *Service, searchSvc *search.Service, exporter *export.Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, search: searchSvc, exporter: exporter, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/refresh" {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, sessionJSON(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signout" {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = decodeBody(r, &body)
		if body.RefreshToken != "" {
			_ = s.service.SignOut(r.Context(), body.RefreshToken)
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "username": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "username": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"username":      session.Username,
			"user_id":       session.UserID,
			"level":         session.Level,
		})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		query := search.Query{Text: q, Limit: 20}
		if raw := strings.TrimSpace(r.URL.Query().Get("chapter_id")); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "chapter_id must be an integer", nil)
				return
			}
			query.ChapterID = id
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			query.Limit = limit
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
			offset, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
				return
			}
			query.Offset = offset
		}
		writeJSON(w, http.StatusOK, s.search.Search(query))
		return
	}

	if r.URL.Path == "/api/corpora" {
		if r.Method == http.MethodGet {
			corpora, err := s.service.ListCorpora(r.Context())
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			payload := make([]map[string]any, 0, len(corpora))
			for _, c := range corpora {
				payload = append(payload, corpusJSON(c))
			}
			writeJSON(w, http.StatusOK, map[string]any{"corpora": payload})
			return
		}
		if r.Method == http.MethodPost {
			if !s.requireLevel(w, session, levelAdmin) {
				return
			}
			var body struct {
				Name        string `json:"name"`
				Scheme      string `json:"scheme"`
				Description string `json:"description"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			id, err := s.service.CreateCorpus(r.Context(), body.Name, body.Scheme, body.Description)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"id": id})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/tasks" {
		includeDeleted := r.URL.Query().Get("all") == "true" && session.Level >= levelAdmin
		tasks, err := s.service.ListTasks(r.Context(), includeDeleted)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := make([]map[string]any, 0, len(tasks))
		for _, t := range tasks {
			payload = append(payload, taskJSON(t))
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": payload})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/roles" {
		roles, err := s.service.ListRoles(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := make([]map[string]any, 0, len(roles))
		for _, role := range roles {
			payload = append(payload, roleJSON(role))
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": payload})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/users" {
		if !s.requireLevel(w, session, levelAdmin) {
			return
		}
		users, err := s.service.ListUsers(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := make([]map[string]any, 0, len(users))
		for _, u := range users {
			payload = append(payload, userJSON(u))
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": payload})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/clone" {
		if !s.requireLevel(w, session, levelCurator) {
			return
		}
		var body CloneRequest
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		summary, err := s.service.CloneAnnotations(r.Context(), body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": summary})
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "corpora" {
		corpusID, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		if len(parts) == 4 && parts[3] == "chapters" && r.Method == http.MethodGet {
			chapters, err := s.service.ListChapters(r.Context(), corpusID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			payload := make([]map[string]any, 0, len(chapters))
			for _, c := range chapters {
				payload = append(payload, chapterJSON(c))
			}
			writeJSON(w, http.StatusOK, map[string]any{"chapters": payload})
			return
		}
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "chapters" {
		chapterID, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		s.handleChapter(w, r, session, chapterID, parts)
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "verses" {
		verseID, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		s.handleVerse(w, r, session, verseID, parts)
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "tasks" {
		taskID, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		s.handleTask(w, r, session, taskID, parts)
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "labels" && r.Method == http.MethodDelete {
		if !s.requireLevel(w, session, levelAdmin) {
			return
		}
		labelID, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		if err := s.service.DeleteLabel(r.Context(), labelID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "users" {
		userID, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		s.handleUser(w, r, session, userID, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleChapter(w http.ResponseWriter, r *http.Request, session Session, chapterID int64, parts []string) {
	if len(parts) == 3 && r.Method == http.MethodGet {
		chapter, err := s.service.GetChapter(r.Context(), chapterID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		verseIDs, err := s.service.ListChapterVerseIDs(r.Context(), chapterID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := chapterJSON(chapter)
		payload["verse_ids"] = verseIDs
		writeJSON(w, http.StatusOK, map[string]any{"chapter": payload})
		return
	}

	if len(parts) == 4 && parts[3] == "progress" && r.Method == http.MethodGet {
		annotatorID := session.UserID
		if raw := strings.TrimSpace(r.URL.Query().Get("annotator_id")); raw != "" && session.Level >= levelCurator {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "annotator_id must be an integer", nil)
				return
			}
			annotatorID = parsed
		}
		progress, err := s.service.ChapterProgress(r.Context(), chapterID, annotatorID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"progress": progress})
		return
	}

	if len(parts) == 4 && parts[3] == "export" && r.Method == http.MethodPost {
		if !s.requireLevel(w, session, levelAnnotator) {
			return
		}
		var body struct {
			AnnotatorID int64   `json:"annotator_id"`
			TaskIDs     []int64 `json:"task_ids"`
			Format      string  `json:"format"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		annotatorID := body.AnnotatorID
		if annotatorID == 0 {
			annotatorID = session.UserID
		}
		if annotatorID != session.UserID && session.Level < levelCurator {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		result, err := s.exporter.Export(r.Context(), export.Request{
			ChapterID:   chapterID,
			AnnotatorID: annotatorID,
			TaskIDs:     body.TaskIDs,
			Format:      export.Format(body.Format),
		})
		if err != nil {
			if errors.Is(err, export.ErrPDFDependencyMissing) {
				writeError(w, http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF rendering unavailable", nil)
				return
			}
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
		w.Header().Set("Content-Type", result.MimeType)
		w.Write(result.Data)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleVerse(w http.ResponseWriter, r *http.Request, session Session, verseID int64, parts []string) {
	if len(parts) == 3 && r.Method == http.MethodGet {
		view, err := s.service.GetVerseView(r.Context(), verseID, session.UserID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, verseViewJSON(view))
		return
	}

	if len(parts) == 4 && parts[3] == "tokens" && r.Method == http.MethodPost {
		if !s.requireLevel(w, session, levelAnnotator) {
			return
		}
		var body AddTokenInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		id, err := s.service.AddToken(r.Context(), verseID, session.UserID, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": id})
		return
	}

	if len(parts) == 4 && r.Method == http.MethodPost {
		if !s.requireLevel(w, session, levelAnnotator) {
			return
		}
		s.handleSubmit(w, r, session, verseID, parts[3])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleSubmit dispatches the eight per-task submission endpoints. Every
// one replaces the annotator's state for the verse and answers with the
// shared response envelope.
func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request, session Session, verseID int64, task string) {
	ctx := r.Context()
	annotatorID := session.UserID

	var response Response
	var err error

	switch task {
	case "boundary":
		var body struct {
			TokenIDs []int64 `json:"token_ids"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		response, err = s.service.SubmitBoundaries(ctx, verseID, annotatorID, body.TokenIDs)

	case "word-order":
		var body struct {
			Groups []WordOrderGroup `json:"groups"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		response, err = s.service.SubmitWordOrder(ctx, verseID, annotatorID, body.Groups)

	case "text-annotation":
		var body struct {
			Annotations []TextAnnotationInput `json:"annotations"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		response, err = s.service.SubmitTextAnnotations(ctx, verseID, annotatorID, body.Annotations)

	case "token-classification":
		var body struct {
			Classifications []TokenClassificationInput `json:"classifications"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		response, err = s.service.SubmitTokenClassifications(ctx, verseID, annotatorID, body.Classifications)

	case "token-graph":
		var body struct {
			Edges []TokenGraphInput `json:"edges"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		response, err = s.service.SubmitTokenGraph(ctx, verseID, annotatorID, body.Edges)

	case "token-connection":
		var body struct {
			Connections []TokenConnectionInput `json:"connections"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		response, err = s.service.SubmitTokenConnections(ctx, verseID, annotatorID, body.Connections)

	case "sentence-classification":
		var body struct {
			Classifications []SentenceClassificationInput `json:"classifications"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		response, err = s.service.SubmitSentenceClassifications(ctx, verseID, annotatorID, body.Classifications)

	case "sentence-graph":
		var body struct {
			Edges []SentenceGraphInput `json:"edges"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		response, err = s.service.SubmitSentenceGraph(ctx, verseID, annotatorID, body.Edges)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleTask(w http.ResponseWriter, r *http.Request, session Session, taskID int64, parts []string) {
	if len(parts) == 3 && r.Method == http.MethodPatch {
		if !s.requireLevel(w, session, levelAdmin) {
			return
		}
		var body UpdateTaskInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		task, err := s.service.UpdateTask(r.Context(), taskID, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"task": taskJSON(task)})
		return
	}

	if len(parts) == 4 && parts[3] == "labels" {
		if r.Method == http.MethodGet {
			labels, err := s.service.ListLabels(r.Context(), taskID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			payload := make([]map[string]any, 0, len(labels))
			for _, l := range labels {
				payload = append(payload, labelJSON(l))
			}
			writeJSON(w, http.StatusOK, map[string]any{"labels": payload})
			return
		}
		if r.Method == http.MethodPost {
			if !s.requireLevel(w, session, levelCurator) {
				return
			}
			var body struct {
				Label       string `json:"label"`
				Description string `json:"description"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			label, err := s.service.AddLabel(r.Context(), taskID, body.Label, body.Description)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"label": labelJSON(label)})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleUser(w http.ResponseWriter, r *http.Request, session Session, userID int64, parts []string) {
	if len(parts) == 3 && r.Method == http.MethodGet {
		if userID != session.UserID && session.Level < levelAdmin {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		user, err := s.service.GetUser(r.Context(), userID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": userJSON(user)})
		return
	}

	if len(parts) == 3 && r.Method == http.MethodPatch {
		if !s.requireLevel(w, session, levelAdmin) {
			return
		}
		var body struct {
			IsActive *bool `json:"is_active"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.IsActive == nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "is_active is required", nil)
			return
		}
		if err := s.service.SetUserActive(r.Context(), userID, *body.IsActive); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 4 && parts[3] == "settings" && r.Method == http.MethodPut {
		if userID != session.UserID && session.Level < levelAdmin {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body map[string]string
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.UpdateUserSettings(r.Context(), userID, body); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 4 && parts[3] == "roles" {
		if !s.requireLevel(w, session, levelAdmin) {
			return
		}
		var body struct {
			Role string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		var err error
		switch r.Method {
		case http.MethodPost:
			err = s.service.AssignRole(r.Context(), userID, body.Role)
		case http.MethodDelete:
			err = s.service.RemoveRole(r.Context(), userID, body.Role)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) requireLevel(w http.ResponseWriter, session Session, level int) bool {
	if session.Level < level {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return false
	}
	return true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"success": false,
		"code":    code,
		"message": message,
		"style":   "danger",
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func parseID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "id must be a positive integer", nil)
		return 0, false
	}
	return id, true
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// Auth handlers

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	id, err := s.service.AuthPasswordService().SignUp(r.Context(), authpw.SignUpRequest{
		Username: body.Username,
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateUser) {
			writeError(w, http.StatusConflict, "USER_EXISTS", "Username already registered", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user_id": id})
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	user, err := s.service.AuthPasswordService().SignIn(r.Context(), body.Username, body.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", nil)
		return
	}

	session, err := s.service.CreateSession(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SESSION_FAILED", "Failed to create session", nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON(session))
}

// JSON views

func sessionJSON(session Session) map[string]any {
	return map[string]any{
		"access_token":  session.Token,
		"refresh_token": session.RefreshToken,
		"user_id":       session.UserID,
		"username":      session.Username,
		"level":         session.Level,
		"expires_at":    session.ExpiresAt.Unix(),
	}
}

func corpusJSON(c store.Corpus) map[string]any {
	return map[string]any{
		"id":          c.ID,
		"name":        c.Name,
		"scheme":      c.Scheme,
		"description": c.Description,
	}
}

func chapterJSON(c store.Chapter) map[string]any {
	return map[string]any{
		"id":          c.ID,
		"corpus_id":   c.CorpusID,
		"name":        c.Name,
		"description": c.Description,
	}
}

func taskJSON(t store.Task) map[string]any {
	return map[string]any{
		"id":         t.ID,
		"category":   t.Category,
		"title":      t.Title,
		"short":      t.Short,
		"help":       t.Help,
		"order":      t.Order,
		"is_deleted": t.IsDeleted,
	}
}

func labelJSON(l store.Label) map[string]any {
	return map[string]any{
		"id":          l.ID,
		"task_id":     l.TaskID,
		"label":       l.Label,
		"description": l.Description,
	}
}

func roleJSON(r store.Role) map[string]any {
	return map[string]any{
		"id":          r.ID,
		"name":        r.Name,
		"description": r.Description,
		"level":       r.Level,
		"permissions": r.Permissions,
	}
}

func userJSON(u store.User) map[string]any {
	roles := make([]map[string]any, 0, len(u.Roles))
	for _, r := range u.Roles {
		roles = append(roles, roleJSON(r))
	}
	return map[string]any{
		"id":        u.ID,
		"username":  u.Username,
		"email":     u.Email,
		"is_active": u.IsActive,
		"settings":  u.Settings,
		"roles":     roles,
	}
}

func tokenJSON(t store.Token) map[string]any {
	payload := map[string]any{
		"id":       t.ID,
		"line_id":  t.LineID,
		"inner_id": t.InnerID,
		"order":    t.Order,
		"text":     t.Text,
		"lemma":    t.Lemma,
		"analysis": t.Analysis,
	}
	if t.AnnotatorID != nil {
		payload["annotator_id"] = *t.AnnotatorID
	}
	return payload
}

func verseViewJSON(view VerseView) map[string]any {
	lines := make([]map[string]any, 0, len(view.Lines))
	for _, l := range view.Lines {
		lines = append(lines, map[string]any{"id": l.ID, "verse_id": l.VerseID, "text": l.Text})
	}
	tokens := make([]map[string]any, 0, len(view.Tokens))
	for _, t := range view.Tokens {
		payload := tokenJSON(t.Token)
		payload["verse_id"] = t.VerseID
		tokens = append(tokens, payload)
	}
	extras := make([]map[string]any, 0, len(view.ExtraTokens))
	for _, t := range view.ExtraTokens {
		extras = append(extras, tokenJSON(t))
	}
	return map[string]any{
		"verse": map[string]any{
			"id":         view.Verse.ID,
			"chapter_id": view.Verse.ChapterID,
		},
		"lines":        lines,
		"tokens":       tokens,
		"extra_tokens": extras,
		"sentences":    view.Sentences,
		"tail":         view.Tail,
	}
}
