package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/skridlevsky/repo-activity/internal/aggregate"
	"github.com/skridlevsky/repo-activity/internal/github"
)

// errMalformedPayload marks an event whose payload could not be decoded.
// Such events are skipped.
var errMalformedPayload = errors.New("malformed event payload")

// extractor turns recognized events into delta entries, issuing the follow-up
// fetches some variants need
type extractor struct {
	provider Provider
	cfg      Config
	login    string
	agg      *aggregate.Aggregate
	log      *slog.Logger
}

func (x *extractor) extract(ctx context.Context, a activity, d *Delta) error {
	switch a.kind {
	case KindIssue:
		return x.issue(a.event, d)
	case KindPullRequest:
		return x.pullRequest(ctx, a.event, d)
	case KindReview:
		return x.review(ctx, a.event, d)
	case KindPush:
		return x.push(ctx, a.event, d)
	}
	return nil
}

func decodePayload(ev github.RawGitHubEvent, v any) error {
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		return fmt.Errorf("failed to parse %s %s: %w: %v", ev.Type, ev.ID, errMalformedPayload, err)
	}
	return nil
}

func (x *extractor) issue(ev github.RawGitHubEvent, d *Delta) error {
	var payload github.IssuesEventPayload
	if err := decodePayload(ev, &payload); err != nil {
		return err
	}

	record := payload.Summary().Record(x.login)
	if payload.Action == "opened" {
		d.addIssue(record)
	} else {
		d.replaceIssue(record)
	}
	return nil
}

func (x *extractor) pullRequest(ctx context.Context, ev github.RawGitHubEvent, d *Delta) error {
	var payload github.PullRequestEventPayload
	if err := decodePayload(ev, &payload); err != nil {
		return err
	}

	details := payload.Details()
	if payload.Action != "opened" {
		d.updatePullRequest(details.Number, details, nil, nil)
		return nil
	}

	// the pull request lives in the repository the event names, which may be a fork
	repo := ev.Repo.Name
	var refs []github.CommitRef
	err := call(ctx, x.cfg.FetchTimeout, "list pull request commits", func(ctx context.Context) error {
		var err error
		refs, err = x.provider.FetchPullRequestCommits(ctx, repo, details.Number)
		return err
	})
	if err != nil {
		return err
	}

	var shas []string
	for _, ref := range refs {
		if strings.EqualFold(ref.AuthorLogin, x.login) {
			shas = append(shas, ref.SHA)
		}
	}

	commits, err := x.fetchCommits(ctx, repo, shas)
	if err != nil {
		return err
	}

	d.addPullRequest(aggregate.PullRequest{
		Number:   details.Number,
		Details:  details,
		Commits:  commits,
		Comments: []aggregate.ReviewComment{},
	})
	return nil
}

func (x *extractor) review(ctx context.Context, ev github.RawGitHubEvent, d *Delta) error {
	var payload github.PullRequestReviewEventPayload
	if err := decodePayload(ev, &payload); err != nil {
		return err
	}

	review := payload.ToReview()
	number := payload.PullRequest.Number
	repo := ev.Repo.Name

	var (
		details  *aggregate.PullRequestDetails
		comments []aggregate.ReviewComment
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.cfg.Workers)

	g.Go(func() error {
		return call(gctx, x.cfg.FetchTimeout, "get pull request", func(ctx context.Context) error {
			var err error
			details, err = x.provider.FetchPullRequestDetails(ctx, repo, number)
			return err
		})
	})

	switch {
	case review.StandsAlone():
		comments = []aggregate.ReviewComment{review.Record()}
	case review.State == aggregate.ReviewChangesRequested || review.State == aggregate.ReviewCommented:
		g.Go(func() error {
			return call(gctx, x.cfg.FetchTimeout, "list review comments", func(ctx context.Context) error {
				lines, err := x.provider.FetchReviewComments(ctx, repo, number, review.ID)
				if err != nil {
					return err
				}
				comments = github.LineCommentRecords(review.State, lines, x.login)
				return nil
			})
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	d.updatePullRequest(number, details, nil, comments)
	return nil
}

func (x *extractor) push(ctx context.Context, ev github.RawGitHubEvent, d *Delta) error {
	var payload github.PushEventPayload
	if err := decodePayload(ev, &payload); err != nil {
		return err
	}

	sha, ok := payload.LastCommit()
	if !ok {
		x.log.Debug("Push without commits skipped", "event_id", ev.ID)
		return nil
	}

	if strings.EqualFold(ev.Repo.Name, x.agg.FullName) {
		commits, err := x.fetchCommits(ctx, x.agg.FullName, []string{sha})
		if err != nil {
			return err
		}
		d.addCommit(commits[0])
		return nil
	}

	// Push into a fork: the commit belongs to an open pull request upstream
	var numbers []int
	err := call(ctx, x.cfg.FetchTimeout, "list pull requests for commit", func(ctx context.Context) error {
		var err error
		numbers, err = x.provider.FetchPullRequestsForCommit(ctx, ev.Repo.Name, sha)
		return err
	})
	if err != nil {
		return err
	}
	if len(numbers) == 0 {
		x.log.Debug("Fork push without pull request skipped", "event_id", ev.ID, "repo", ev.Repo.Name)
		return nil
	}
	number := numbers[0]

	var (
		commit  *aggregate.Commit
		details *aggregate.PullRequestDetails
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.cfg.Workers)
	g.Go(func() error {
		return call(gctx, x.cfg.FetchTimeout, "get commit", func(ctx context.Context) error {
			var err error
			commit, err = x.provider.FetchCommitDetail(ctx, ev.Repo.Name, sha)
			return err
		})
	})
	g.Go(func() error {
		return call(gctx, x.cfg.FetchTimeout, "get pull request", func(ctx context.Context) error {
			var err error
			details, err = x.provider.FetchPullRequestDetails(ctx, x.agg.FullName, number)
			return err
		})
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if !authoredBy(commit, x.login) {
		return nil
	}

	d.updatePullRequest(number, details, []aggregate.Commit{*commit}, nil)
	return nil
}

// fetchCommits resolves commits through the worker pool. The result is in
// the order of shas whatever order the fetches complete in.
func (x *extractor) fetchCommits(ctx context.Context, repo string, shas []string) ([]aggregate.Commit, error) {
	commits := make([]aggregate.Commit, len(shas))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.cfg.Workers)
	for i, sha := range shas {
		g.Go(func() error {
			return call(gctx, x.cfg.FetchTimeout, "get commit", func(ctx context.Context) error {
				c, err := x.provider.FetchCommitDetail(ctx, repo, sha)
				if err != nil {
					return err
				}
				commits[i] = *c
				return nil
			})
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return commits, nil
}

func authoredBy(c *aggregate.Commit, login string) bool {
	if c == nil {
		return false
	}
	return strings.EqualFold(c.AuthorLogin, login) || strings.EqualFold(c.Author, login)
}
