package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"

	"github.com/skridlevsky/repo-activity/internal/aggregate"
	"github.com/skridlevsky/repo-activity/internal/syncer"
)

// AggregateStore persists aggregates and the profiles of tracked users
type AggregateStore interface {
	Read(ctx context.Context, login, repo string) (*aggregate.Aggregate, error)
	Upsert(ctx context.Context, login, repo string, agg *aggregate.Aggregate) error
	Evict(ctx context.Context, login, repo string) error
	SaveUser(ctx context.Context, user *aggregate.User) error
}

// Synchronizer brings a stored aggregate up to date
type Synchronizer interface {
	Synchronize(ctx context.Context, login string, agg *aggregate.Aggregate) (*syncer.Result, error)
}

// Populator builds an aggregate from scratch
type Populator interface {
	Populate(ctx context.Context, login, name string) (*aggregate.Aggregate, error)
}

// RepoHandler serves a user's activity on one repository
type RepoHandler struct {
	users     UserDirectory
	store     AggregateStore
	syncer    Synchronizer
	populator Populator
	group     singleflight.Group
}

// NewRepoHandler creates a new repository handler
func NewRepoHandler(users UserDirectory, store AggregateStore, s Synchronizer, p Populator) *RepoHandler {
	return &RepoHandler{
		users:     users,
		store:     store,
		syncer:    s,
		populator: p,
	}
}

// detailsOutcome is shared by every request coalesced onto one build
type detailsOutcome struct {
	agg    *aggregate.Aggregate
	resync bool
}

// Details handles GET /api/users/{user}/{repo}/details
//
// A stored aggregate is synchronized and returned. A missing one is built.
// When the stored aggregate is too stale to synchronize it is evicted and the
// client is redirected to the same path, which then builds it afresh.
func (h *RepoHandler) Details(w http.ResponseWriter, r *http.Request) {
	repo := chi.URLParam(r, "repo")
	if repo == "" {
		http.Error(w, "Missing repository", http.StatusBadRequest)
		return
	}

	login, err := h.users.ResolveLogin(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	// the build outlives any single caller that joined it
	ctx := context.WithoutCancel(r.Context())
	key := strings.ToLower(login) + "/" + strings.ToLower(repo)
	v, err, shared := h.group.Do(key, func() (interface{}, error) {
		return h.details(ctx, login, repo)
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	out := v.(*detailsOutcome)
	if out.resync {
		http.Redirect(w, r, r.URL.Path, http.StatusFound)
		return
	}
	if shared {
		slog.Debug("Details request coalesced", "user", login, "repo", repo)
	}
	respondJSON(w, http.StatusOK, out.agg)
}

func (h *RepoHandler) details(ctx context.Context, login, repo string) (*detailsOutcome, error) {
	agg, err := h.store.Read(ctx, login, repo)
	if errors.Is(err, aggregate.ErrNotFound) {
		return h.build(ctx, login, repo)
	}
	if err != nil {
		return nil, err
	}

	res, err := h.syncer.Synchronize(ctx, login, agg)
	if err != nil {
		return nil, err
	}

	switch {
	case res.ResyncRequired():
		if err := h.store.Evict(ctx, login, repo); err != nil {
			return nil, fmt.Errorf("failed to evict stale aggregate: %w", err)
		}
		slog.Info("Stale aggregate evicted", "user", login, "repo", repo, "state", res.State.String(), "run_id", res.RunID)
		return &detailsOutcome{resync: true}, nil
	case res.Updated():
		if err := h.store.Upsert(ctx, login, repo, res.Aggregate); err != nil {
			slog.Error("Failed to store synchronized aggregate", "user", login, "repo", repo, "error", err)
		}
	}

	return &detailsOutcome{agg: res.Aggregate}, nil
}

func (h *RepoHandler) build(ctx context.Context, login, repo string) (*detailsOutcome, error) {
	agg, err := h.populator.Populate(ctx, login, repo)
	if err != nil {
		return nil, err
	}

	user, err := h.users.GetUser(ctx, login)
	if err != nil {
		slog.Warn("Failed to fetch user info", "user", login, "error", err)
	} else if err := h.store.SaveUser(ctx, user); err != nil {
		slog.Error("Failed to store user info", "user", login, "error", err)
	}

	if err := h.store.Upsert(ctx, login, repo, agg); err != nil {
		slog.Error("Failed to store new aggregate", "user", login, "repo", repo, "error", err)
	}

	return &detailsOutcome{agg: agg}, nil
}
