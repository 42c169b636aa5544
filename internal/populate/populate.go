package populate

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/skridlevsky/repo-activity/internal/aggregate"
	"github.com/skridlevsky/repo-activity/internal/github"
	"github.com/skridlevsky/repo-activity/internal/syncer"
)

// Provider is the part of the GitHub API a full build reads
type Provider interface {
	FindRepository(ctx context.Context, login, name string) (*aggregate.Aggregate, error)
	ListBranches(ctx context.Context, repo string) ([]string, error)
	ListAuthorCommits(ctx context.Context, repo, branch, login string, since time.Time) ([]string, error)
	FetchCommitDetail(ctx context.Context, repo, sha string) (*aggregate.Commit, error)
	ListIssues(ctx context.Context, repo string, since time.Time) ([]github.Issue, error)
	ListPullRequests(ctx context.Context, repo string, page int) ([]github.PullRequestSummary, int, error)
	ListReviews(ctx context.Context, repo string, number int) ([]github.Review, error)
	FetchPullRequestDetails(ctx context.Context, repo string, number int) (*aggregate.PullRequestDetails, error)
	FetchPullRequestCommits(ctx context.Context, repo string, number int) ([]github.CommitRef, error)
	FetchReviewComments(ctx context.Context, repo string, number int, reviewID int64) ([]github.LineComment, error)
	FetchActivityPage(ctx context.Context, login string, page, perPage int) ([]github.RawGitHubEvent, error)
}

// Config tunes a Populator
type Config struct {
	Lookback time.Duration
	Workers  int
	PageSize int
	Now      func() time.Time
}

// Populator builds aggregates from scratch
type Populator struct {
	provider Provider
	cfg      Config
}

// NewPopulator creates a new Populator
func NewPopulator(provider Provider, cfg Config) *Populator {
	d := syncer.DefaultConfig()
	if cfg.Lookback <= 0 {
		cfg.Lookback = d.Lookback
	}
	if cfg.Workers <= 0 {
		cfg.Workers = d.Workers
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = d.PageSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Populator{provider: provider, cfg: cfg}
}

// Populate builds the aggregate of login's activity on repository name.
//
// The cursor is read from the feed before anything else, so activity that
// happens while the build runs is picked up by the next synchronization.
func (p *Populator) Populate(ctx context.Context, login, name string) (*aggregate.Aggregate, error) {
	start := time.Now()

	agg, err := p.provider.FindRepository(ctx, login, name)
	if err != nil {
		return nil, err
	}

	events, err := p.provider.FetchActivityPage(ctx, login, 1, p.cfg.PageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch activity: %w", err)
	}
	agg.Snapshot = aggregate.NoCursor
	if id, ok := syncer.ScanCheckpoint(events, agg.Name); ok {
		agg.Snapshot = id
	}

	b := &build{
		provider: p.provider,
		sem:      semaphore.NewWeighted(int64(p.cfg.Workers)),
		repo:     agg.FullName,
		login:    login,
		since:    p.cfg.Now().Add(-p.cfg.Lookback),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		commits, err := b.commits(gctx)
		if err != nil {
			return fmt.Errorf("failed to build commits: %w", err)
		}
		agg.Commits = commits
		return nil
	})
	g.Go(func() error {
		issues, err := b.issues(gctx)
		if err != nil {
			return fmt.Errorf("failed to build issues: %w", err)
		}
		agg.Issues = issues
		return nil
	})
	g.Go(func() error {
		prs, err := b.pullRequests(gctx)
		if err != nil {
			return fmt.Errorf("failed to build pull requests: %w", err)
		}
		agg.PullRequests = prs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Info("Aggregate populated",
		"user", login,
		"repo", agg.FullName,
		"snapshot", agg.Snapshot,
		"commits", len(agg.Commits),
		"issues", len(agg.Issues),
		"pull_requests", len(agg.PullRequests),
		"duration", time.Since(start),
	)
	return agg, nil
}

// build is one population run. Every GitHub request it makes, from any of
// its three parts, takes a slot of the same semaphore.
type build struct {
	provider Provider
	sem      *semaphore.Weighted
	repo     string
	login    string
	since    time.Time
}

// fetch runs one provider request once a slot is free
func (b *build) fetch(ctx context.Context, fn func() error) error {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer b.sem.Release(1)
	return fn()
}

func (b *build) commitDetail(ctx context.Context, sha string) (*aggregate.Commit, error) {
	var c *aggregate.Commit
	err := b.fetch(ctx, func() error {
		var err error
		c, err = b.provider.FetchCommitDetail(ctx, b.repo, sha)
		return err
	})
	return c, err
}

// commits collects the user's commits on every branch, oldest first. A commit
// reachable from several branches is kept once, tagged with the first branch
// it was listed on.
func (b *build) commits(ctx context.Context) ([]aggregate.Commit, error) {
	var branches []string
	err := b.fetch(ctx, func() error {
		var err error
		branches, err = b.provider.ListBranches(ctx, b.repo)
		return err
	})
	if err != nil {
		return nil, err
	}

	type ref struct{ sha, branch string }
	var refs []ref
	seen := make(map[string]bool)
	for _, branch := range branches {
		var shas []string
		err := b.fetch(ctx, func() error {
			var err error
			shas, err = b.provider.ListAuthorCommits(ctx, b.repo, branch, b.login, b.since)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, sha := range shas {
			if seen[sha] {
				continue
			}
			seen[sha] = true
			refs = append(refs, ref{sha: sha, branch: branch})
		}
	}

	commits := make([]aggregate.Commit, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range refs {
		g.Go(func() error {
			c, err := b.commitDetail(gctx, r.sha)
			if err != nil {
				return err
			}
			c.Branch = r.branch
			commits[i] = *c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortStableFunc(commits, func(a, b aggregate.Commit) int {
		return a.Date.Compare(b.Date)
	})
	return commits, nil
}

func (b *build) issues(ctx context.Context) ([]aggregate.Issue, error) {
	var listed []github.Issue
	err := b.fetch(ctx, func() error {
		var err error
		listed, err = b.provider.ListIssues(ctx, b.repo, b.since)
		return err
	})
	if err != nil {
		return nil, err
	}

	issues := []aggregate.Issue{}
	for _, is := range listed {
		if is.Involves(b.login) {
			issues = append(issues, is.Record(b.login))
		}
	}
	slices.SortStableFunc(issues, func(a, b aggregate.Issue) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return issues, nil
}

// pullRequests walks the repository's pull requests newest first and stops at
// the first one created before the boundary. The result is oldest first.
func (b *build) pullRequests(ctx context.Context) ([]aggregate.PullRequest, error) {
	var candidates []github.PullRequestSummary
	page := 1
	for page != 0 {
		var (
			prs  []github.PullRequestSummary
			next int
		)
		err := b.fetch(ctx, func() error {
			var err error
			prs, next, err = b.provider.ListPullRequests(ctx, b.repo, page)
			return err
		})
		if err != nil {
			return nil, err
		}
		stop := false
		for _, pr := range prs {
			if pr.CreatedAt.Before(b.since) {
				stop = true
				break
			}
			candidates = append(candidates, pr)
		}
		if stop {
			break
		}
		page = next
	}

	slots := make([]*aggregate.PullRequest, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i, pr := range candidates {
		g.Go(func() error {
			out, err := b.pullRequest(gctx, pr)
			if err != nil {
				return fmt.Errorf("pull request #%d: %w", pr.Number, err)
			}
			slots[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := []aggregate.PullRequest{}
	for i := len(slots) - 1; i >= 0; i-- {
		if slots[i] != nil {
			out = append(out, *slots[i])
		}
	}
	return out, nil
}

// pullRequest resolves one listed pull request, or returns nil when the user
// has no part in it
func (b *build) pullRequest(ctx context.Context, pr github.PullRequestSummary) (*aggregate.PullRequest, error) {
	var reviews []github.Review
	err := b.fetch(ctx, func() error {
		var err error
		reviews, err = b.provider.ListReviews(ctx, b.repo, pr.Number)
		return err
	})
	if err != nil {
		return nil, err
	}

	var mine []github.Review
	reviewers := make([]string, 0, len(reviews))
	for _, r := range reviews {
		reviewers = append(reviewers, r.AuthorLogin)
		if strings.EqualFold(r.AuthorLogin, b.login) {
			mine = append(mine, r)
		}
	}
	if !pr.Involves(b.login, reviewers) {
		return nil, nil
	}

	out := &aggregate.PullRequest{
		Number:   pr.Number,
		Commits:  []aggregate.Commit{},
		Comments: []aggregate.ReviewComment{},
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.fetch(gctx, func() error {
			d, err := b.provider.FetchPullRequestDetails(gctx, b.repo, pr.Number)
			if err != nil {
				return err
			}
			out.Details = d
			return nil
		})
	})
	g.Go(func() error {
		var refs []github.CommitRef
		err := b.fetch(gctx, func() error {
			var err error
			refs, err = b.provider.FetchPullRequestCommits(gctx, b.repo, pr.Number)
			return err
		})
		if err != nil {
			return err
		}
		for _, ref := range refs {
			if !strings.EqualFold(ref.AuthorLogin, b.login) {
				continue
			}
			c, err := b.commitDetail(gctx, ref.SHA)
			if err != nil {
				return err
			}
			out.Commits = append(out.Commits, *c)
		}
		return nil
	})
	for _, r := range mine {
		if r.StandsAlone() {
			mu.Lock()
			out.Comments = append(out.Comments, r.Record())
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			var comments []github.LineComment
			err := b.fetch(gctx, func() error {
				var err error
				comments, err = b.provider.FetchReviewComments(gctx, b.repo, pr.Number, r.ID)
				return err
			})
			if err != nil {
				return err
			}
			mu.Lock()
			out.Comments = append(out.Comments, github.LineCommentRecords(r.State, comments, b.login)...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortStableFunc(out.Comments, func(a, b aggregate.ReviewComment) int {
		return a.Date.Compare(b.Date)
	})
	return out, nil
}
