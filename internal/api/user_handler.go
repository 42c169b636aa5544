package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/skridlevsky/repo-activity/internal/aggregate"
)

// UserDirectory looks up accounts on GitHub
type UserDirectory interface {
	ResolveLogin(ctx context.Context, identifier string) (string, error)
	GetUser(ctx context.Context, login string) (*aggregate.User, error)
	ListRepositoryNames(ctx context.Context, login string) ([]string, error)
}

// UserHandler serves account information
type UserHandler struct {
	users UserDirectory
}

// NewUserHandler creates a new user handler
func NewUserHandler(users UserDirectory) *UserHandler {
	return &UserHandler{users: users}
}

// Get handles GET /api/users/{user}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	login, err := h.users.ResolveLogin(ctx, chi.URLParam(r, "user"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	user, err := h.users.GetUser(ctx, login)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

// ReposResponse lists a user's repositories
type ReposResponse struct {
	Login string   `json:"login"`
	Repos []string `json:"repos"`
}

// Repos handles GET /api/users/{user}/repos
func (h *UserHandler) Repos(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	login, err := h.users.ResolveLogin(ctx, chi.URLParam(r, "user"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	names, err := h.users.ListRepositoryNames(ctx, login)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}

	respondJSON(w, http.StatusOK, ReposResponse{Login: login, Repos: names})
}
