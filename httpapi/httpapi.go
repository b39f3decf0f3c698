// Package httpapi provides the HTTP API handler for GitScribe.
// It delegates all business logic to the engine.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/gitscribe/gitscribe/engine"
	"github.com/gitscribe/gitscribe/internal/credstore"
	"github.com/gitscribe/gitscribe/model"
)

// RepoLister lists repositories accessible to the configured GitHub token.
type RepoLister interface {
	AccessibleRepos(ctx context.Context) ([]model.Repo, error)
}

// AuthConfig configures the login endpoint and minted credentials.
type AuthConfig struct {
	// Subject is the subject ID stamped into credentials at login.
	Subject string
	// Password guards login. Login is disabled when empty.
	Password string
	// TTL is the lifetime of a minted credential.
	TTL time.Duration
}

// Handler provides the HTTP API for GitScribe.
type Handler struct {
	engine *engine.Engine
	creds  *credstore.Store
	repos  RepoLister
	auth   AuthConfig
	router chi.Router
}

// New creates a new HTTP API handler.
func New(eng *engine.Engine, creds *credstore.Store, repos RepoLister, auth AuthConfig) *Handler {
	h := &Handler{engine: eng, creds: creds, repos: repos, auth: auth}
	h.router = h.buildRouter()
	return h
}

// Router returns the HTTP router.
func (h *Handler) Router() chi.Router {
	return h.router
}

func (h *Handler) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Use(middleware.Timeout(120 * time.Second))
			r.Post("/logout", h.handleLogout)
			r.Post("/logout/all", h.handleLogoutAll)
			r.Post("/posts", h.handleGeneratePost)
			r.Get("/posts", h.handleListPosts)
			r.Get("/posts/{id}", h.handleGetPost)
			r.Get("/repos", h.handleListRepos)
		})

		// The streaming endpoint must not sit behind the timeout middleware.
		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Post("/posts/stream", h.handleGeneratePostStream)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

// --- Auth ---

func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := h.creds.Get(bearerToken(r)); !ok {
			writeError(w, http.StatusUnauthorized, "invalid or expired credential")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

// --- Request/Response types ---

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type generateRequest struct {
	Repository string `json:"repository"`
	// ActivityRef optionally targets one item: a PR number ("#12", "pr/12",
	// "12") or a commit SHA. Empty means the recent-activity window.
	ActivityRef string `json:"activity_ref,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Language    string `json:"language,omitempty"`
	Tone        string `json:"tone,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Handlers ---

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if h.auth.Password == "" {
		writeError(w, http.StatusForbidden, "login is disabled")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Password != h.auth.Password {
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}

	cred := model.Credential{
		Token:     uuid.New().String(),
		SubjectID: h.auth.Subject,
		ExpiresAt: time.Now().UTC().Add(h.auth.TTL),
	}
	if err := h.creds.Put(cred); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mint credential")
		log.Printf("Error minting credential: %v", err)
		return
	}

	writeJSON(w, http.StatusCreated, loginResponse{
		Token: cred.Token, ExpiresAt: cred.ExpiresAt,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.creds.Delete(bearerToken(r))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	cred, ok := h.creds.Get(bearerToken(r))
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or expired credential")
		return
	}
	n := h.creds.DeleteAllForSubject(cred.SubjectID)
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (h *Handler) handleGeneratePost(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeGenerateRequest(w, r)
	if !ok {
		return
	}

	post, err := h.engine.Generate(r.Context(), engine.Request{
		Repository: req.Repository,
		Ref:        req.ActivityRef,
		Limit:      req.Limit,
		Language:   req.Language,
		Tone:       req.Tone,
	}, nil)
	result := engine.Result(post, err)
	if err != nil {
		log.Printf("Error generating post for %s: %v", req.Repository, err)
		writeJSON(w, statusForKind(result.Failure.Kind), result)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleGeneratePostStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeGenerateRequest(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	obs := &engine.Observer{
		Stage: func(stage model.Stage) {
			writeSSE(w, "stage", string(stage))
			flusher.Flush()
		},
		Delta: func(delta string) error {
			writeSSE(w, "delta", delta)
			flusher.Flush()
			return nil
		},
	}

	post, err := h.engine.GenerateStream(r.Context(), engine.Request{
		Repository: req.Repository,
		Ref:        req.ActivityRef,
		Limit:      req.Limit,
		Language:   req.Language,
		Tone:       req.Tone,
	}, obs)
	if err != nil {
		log.Printf("Error streaming post for %s: %v", req.Repository, err)
		result := engine.Result(nil, err)
		writeSSEJSON(w, "error", result.Failure)
		flusher.Flush()
		return
	}

	writeSSEJSON(w, "done", post)
	flusher.Flush()
}

func (h *Handler) decodeGenerateRequest(w http.ResponseWriter, r *http.Request) (generateRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	req.Repository = strings.TrimSpace(req.Repository)
	if req.Repository == "" {
		writeError(w, http.StatusBadRequest, "repository is required")
		return req, false
	}
	if !isValidRepo(req.Repository) {
		writeError(w, http.StatusBadRequest, "repository must be in owner/repo format")
		return req, false
	}
	return req, true
}

func (h *Handler) handleListPosts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	posts, err := h.engine.Store().ListPosts(r.URL.Query().Get("repository"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list posts")
		log.Printf("Error listing posts: %v", err)
		return
	}
	if posts == nil {
		posts = []*model.Post{}
	}
	writeJSON(w, http.StatusOK, posts)
}

func (h *Handler) handleGetPost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	post, err := h.engine.Store().GetPost(id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get post")
		log.Printf("Error getting post %s: %v", id, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (h *Handler) handleListRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := h.repos.AccessibleRepos(r.Context())
	if err != nil {
		writeError(w, statusForKind(model.Classify(err)), "failed to list repositories")
		log.Printf("Error listing repos: %v", err)
		return
	}
	if repos == nil {
		repos = []model.Repo{}
	}
	writeJSON(w, http.StatusOK, repos)
}

// --- Helpers ---

func statusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindUnauthorized:
		return http.StatusBadGateway
	case model.KindUpstreamTransient, model.KindProviderFailure:
		return http.StatusBadGateway
	case model.KindInvalidOutputContract:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeSSE emits one event with a JSON-encoded string payload so deltas with
// newlines survive the SSE framing.
func writeSSE(w http.ResponseWriter, event, data string) {
	writeSSEJSON(w, event, data)
}

func writeSSEJSON(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("writeSSE marshal error: %v", err)
		return
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(data)); err != nil {
		log.Printf("writeSSE write error: %v", err)
	}
}

func isValidRepo(repo string) bool {
	parts := strings.Split(repo, "/")
	return len(parts) == 2 && parts[0] != "" && parts[1] != ""
}
