package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/skridlevsky/repo-activity/internal/aggregate"
	"github.com/skridlevsky/repo-activity/internal/github"
)

// Provider is the remote API the engine reads from. *github.Client implements it.
type Provider interface {
	FetchActivityPage(ctx context.Context, login string, page, perPage int) ([]github.RawGitHubEvent, error)
	FetchCommitDetail(ctx context.Context, repo, sha string) (*aggregate.Commit, error)
	FetchPullRequestDetails(ctx context.Context, repo string, number int) (*aggregate.PullRequestDetails, error)
	FetchPullRequestCommits(ctx context.Context, repo string, number int) ([]github.CommitRef, error)
	FetchReviewComments(ctx context.Context, repo string, number int, reviewID int64) ([]github.LineComment, error)
	FetchPullRequestsForCommit(ctx context.Context, repo, sha string) ([]int, error)
}

// Config tunes a Syncer
type Config struct {
	// Lookback is how far back the feed is trusted. An event at or before
	// now-Lookback ends the scan.
	Lookback time.Duration
	PageSize int
	// MaxPages caps paging; 0 means page until the feed runs dry
	MaxPages     int
	Workers      int
	FetchTimeout time.Duration
	// NodeID seeds the snowflake generator for run IDs (0-1023)
	NodeID int64
	Now    func() time.Time
}

// DefaultConfig returns the settings used when none are configured
func DefaultConfig() Config {
	return Config{
		Lookback:     365 * 24 * time.Hour,
		PageSize:     100,
		MaxPages:     (github.FeedWindow + 99) / 100,
		Workers:      4,
		FetchTimeout: 20 * time.Second,
		NodeID:       1,
		Now:          time.Now,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Lookback <= 0 {
		c.Lookback = d.Lookback
	}
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.MaxPages < 0 {
		c.MaxPages = 0
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	return c
}

// call runs one provider fetch under its own deadline. A deadline hit is
// reported as a timeout ProviderError; cancellation of ctx is returned as is.
func call(ctx context.Context, timeout time.Duration, op string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(fctx)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var pe *github.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(fctx.Err(), context.DeadlineExceeded) {
		return &github.ProviderError{Op: op, Timeout: true, Err: err}
	}
	return err
}
