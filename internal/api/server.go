// Package api exposes the HTTP trigger and admin surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/forja/internal/assemble"
	"github.com/kalambet/forja/internal/batch"
	"github.com/kalambet/forja/internal/pipeline"
	"github.com/kalambet/forja/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// PipelineRunner runs generation stages for a single user.
type PipelineRunner interface {
	GenerateBrief(ctx context.Context, userID string) (string, error)
	ProcessUser(ctx context.Context, userID string) (pipeline.Outcome, error)
	ProcessRemaining(ctx context.Context, userID, challengeID string) (pipeline.Outcome, error)
}

// BatchRunner fans the pipeline out over a set of users.
type BatchRunner interface {
	Run(ctx context.Context, userIDs []string) (batch.Summary, error)
}

type AppDeps struct {
	Store     *storage.Store
	Assembler *assemble.Assembler
	Runner    PipelineRunner
	Batch     BatchRunner
	Token     string

	// Background runs fn detached from the request lifecycle. When nil,
	// fn runs on a new goroutine with a fresh context.
	Background func(fn func(ctx context.Context))
}

func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Background == nil {
		deps.Background = func(fn func(ctx context.Context)) {
			go fn(context.Background())
		}
	}

	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/trigger-daily", handleTriggerDaily(deps))
		r.Post("/record-webhook", handleRecordWebhook(deps))

		r.Post("/users", handleCreateUser(deps))
		r.Get("/users", handleListUsers(deps))
		r.Get("/users/{id}", handleGetUser(deps))
		r.Post("/users/{id}/progress", handleAddProgress(deps))
		r.Get("/users/{id}/progress", handleListProgress(deps))
		r.Get("/users/{id}/context", handleGetContext(deps))
		r.Get("/users/{id}/challenges", handleListChallenges(deps))
		r.Get("/challenges/{id}", handleGetChallenge(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type triggerRequest struct {
	UserID string `json:"user_id"`
}

type triggerResponse struct {
	Status string `json:"status"`
	Users  int    `json:"users"`
}

// handleTriggerDaily starts generation. With a user_id it runs the full
// pipeline for that one user; without it, a batch run over every user.
// Generation happens in the background; the handler answers 202 once the
// run is underway.
func handleTriggerDaily(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		// An empty body means "run for everyone".
		var req triggerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.UserID != "" {
			if _, err := deps.Store.GetProfile(req.UserID); err != nil {
				notFoundOr500(w, err, "user not found")
				return
			}
			userID := req.UserID
			deps.Background(func(ctx context.Context) {
				deps.Runner.ProcessUser(ctx, userID)
			})
			writeJSON(w, http.StatusAccepted, triggerResponse{Status: "accepted", Users: 1})
			return
		}

		userIDs, err := deps.Store.ListUserIDs()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list users: %v", err)
			return
		}
		deps.Background(func(ctx context.Context) {
			deps.Batch.Run(ctx, userIDs)
		})
		writeJSON(w, http.StatusAccepted, triggerResponse{Status: "accepted", Users: len(userIDs)})
	}
}

type webhookRequest struct {
	UserID     string `json:"user_id"`
	DocumentID string `json:"document_id"`
	Action     string `json:"action"`
}

// handleRecordWebhook resumes stages 2-4 for a challenge whose brief was
// written by an external editor. Only "update" actions are acted on; other
// actions are acknowledged and dropped.
func handleRecordWebhook(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req webhookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" || req.DocumentID == "" || req.Action == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id, document_id and action are required")
			return
		}

		if req.Action != "update" {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}

		c, err := deps.Store.GetChallenge(req.DocumentID)
		if err != nil {
			notFoundOr500(w, err, "challenge not found")
			return
		}
		if c.UserID != req.UserID {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "challenge %s does not belong to user %s", req.DocumentID, req.UserID)
			return
		}

		userID, challengeID := req.UserID, req.DocumentID
		deps.Background(func(ctx context.Context) {
			deps.Runner.ProcessRemaining(ctx, userID, challengeID)
		})
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

type createUserRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	D1     string `json:"d1"`
	D2     string `json:"d2"`
	D3     string `json:"d3"`
	D4     string `json:"d4"`
}

func handleCreateUser(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req createUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		if req.UserID == "" {
			req.UserID = uuid.New().String()
		}

		p := storage.Profile{
			UserID: req.UserID,
			Name:   req.Name,
			D1:     req.D1,
			D2:     req.D2,
			D3:     req.D3,
			D4:     req.D4,
		}
		if err := deps.Store.UpsertProfile(p); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save profile: %v", err)
			return
		}

		saved, err := deps.Store.GetProfile(req.UserID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load profile: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}

func handleListUsers(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := deps.Store.ListUserIDs()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list users: %v", err)
			return
		}
		if ids == nil {
			ids = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"user_ids": ids})
	}
}

func handleGetUser(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Store.GetProfile(chi.URLParam(r, "id"))
		if err != nil {
			notFoundOr500(w, err, "user not found")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

type addProgressRequest struct {
	Text string `json:"text"`
}

func handleAddProgress(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		userID := chi.URLParam(r, "id")
		if _, err := deps.Store.GetProfile(userID); err != nil {
			notFoundOr500(w, err, "user not found")
			return
		}

		var req addProgressRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}

		note := storage.ProgressNote{UserID: userID, Text: req.Text}
		if err := deps.Store.AddProgressNote(note); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save progress note: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
	}
}

func handleListProgress(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")
		limit := parseIntParam(r, "limit", 5, 50)

		notes, err := deps.Store.RecentProgress(userID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list progress: %v", err)
			return
		}
		if notes == nil {
			notes = []storage.ProgressNote{}
		}
		writeJSON(w, http.StatusOK, notes)
	}
}

// handleGetContext returns the merged context the prompts would see for a
// user, for debugging prompt output without burning model calls.
func handleGetContext(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uctx, err := deps.Assembler.Assemble(chi.URLParam(r, "id"))
		if err != nil {
			notFoundOr500(w, err, "user not found")
			return
		}
		writeJSON(w, http.StatusOK, uctx)
	}
}

func handleListChallenges(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")
		limit := parseIntParam(r, "limit", 20, 100)

		challenges, err := deps.Store.ListChallenges(userID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list challenges: %v", err)
			return
		}
		if challenges == nil {
			challenges = []storage.Challenge{}
		}
		writeJSON(w, http.StatusOK, challenges)
	}
}

func handleGetChallenge(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := deps.Store.GetChallenge(chi.URLParam(r, "id"))
		if err != nil {
			notFoundOr500(w, err, "challenge not found")
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func notFoundOr500(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "%s", msg)
		return
	}
	httpError(w, http.StatusInternalServerError, "api_error", "%s: %v", msg, err)
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
