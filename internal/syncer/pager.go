package syncer

import (
	"context"
	"time"

	"github.com/skridlevsky/repo-activity/internal/github"
)

// pager walks the account activity feed one page at a time, newest first
type pager struct {
	provider Provider
	login    string
	size     int
	maxPages int
	timeout  time.Duration
	page     int
}

func newPager(provider Provider, login string, cfg Config) *pager {
	return &pager{
		provider: provider,
		login:    login,
		size:     cfg.PageSize,
		maxPages: cfg.MaxPages,
		timeout:  cfg.FetchTimeout,
	}
}

// Next fetches the next page. ok is false once the feed is exhausted: an
// empty page or the page cap.
func (p *pager) Next(ctx context.Context) (events []github.RawGitHubEvent, ok bool, err error) {
	if p.maxPages > 0 && p.page >= p.maxPages {
		return nil, false, nil
	}
	p.page++

	err = call(ctx, p.timeout, "list user events", func(ctx context.Context) error {
		var err error
		events, err = p.provider.FetchActivityPage(ctx, p.login, p.page, p.size)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	return events, len(events) > 0, nil
}

// Pages returns how many pages were requested so far
func (p *pager) Pages() int {
	return p.page
}
