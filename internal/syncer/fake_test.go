package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/skridlevsky/repo-activity/internal/aggregate"
	"github.com/skridlevsky/repo-activity/internal/github"
)

const (
	testLogin    = "octocat"
	testRepo     = "tool"
	testFullName = "org/tool"
	testFork     = "octocat/tool"
)

var testNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// fakeProvider serves canned responses and records what it was asked
type fakeProvider struct {
	mu sync.Mutex

	pages          [][]github.RawGitHubEvent
	commits        map[string]*aggregate.Commit
	details        map[int]*aggregate.PullRequestDetails
	prCommits      map[int][]github.CommitRef
	reviewComments map[int64][]github.LineComment
	commitPRs      map[string][]int

	commitDelay map[string]time.Duration
	failCommit  string // sha whose detail fetch fails
	blockPages  bool
	onCommit    func(sha string)

	pageCalls   int
	commitCalls int
	repos       []string // repository of every pull request commit listing and commit fetch
}

func newFakeProvider(pages ...[]github.RawGitHubEvent) *fakeProvider {
	return &fakeProvider{
		pages:          pages,
		commits:        make(map[string]*aggregate.Commit),
		details:        make(map[int]*aggregate.PullRequestDetails),
		prCommits:      make(map[int][]github.CommitRef),
		reviewComments: make(map[int64][]github.LineComment),
		commitPRs:      make(map[string][]int),
		commitDelay:    make(map[string]time.Duration),
	}
}

func (f *fakeProvider) addCommit(sha, authorLogin string) {
	f.commits[sha] = &aggregate.Commit{
		SHA:         sha,
		Message:     "commit " + sha,
		Author:      authorLogin,
		AuthorLogin: authorLogin,
		Files:       []aggregate.FileChange{{Filename: sha + ".go", Additions: 1}},
	}
}

func (f *fakeProvider) FetchActivityPage(ctx context.Context, login string, page, perPage int) ([]github.RawGitHubEvent, error) {
	f.mu.Lock()
	f.pageCalls++
	block := f.blockPages
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if page-1 < len(f.pages) {
		return f.pages[page-1], nil
	}
	return nil, nil
}

func (f *fakeProvider) FetchCommitDetail(ctx context.Context, repo, sha string) (*aggregate.Commit, error) {
	f.mu.Lock()
	f.commitCalls++
	f.repos = append(f.repos, repo)
	delay := f.commitDelay[sha]
	hook := f.onCommit
	f.mu.Unlock()

	if hook != nil {
		hook(sha)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sha == f.failCommit {
		return nil, &github.ProviderError{Op: "get commit", StatusCode: 500, Err: errors.New("boom")}
	}

	c, ok := f.commits[sha]
	if !ok {
		return nil, &github.ProviderError{Op: "get commit", StatusCode: 404, Err: fmt.Errorf("no commit %s", sha)}
	}
	out := c.Clone()
	return &out, nil
}

func (f *fakeProvider) FetchPullRequestDetails(ctx context.Context, repo string, number int) (*aggregate.PullRequestDetails, error) {
	d, ok := f.details[number]
	if !ok {
		return nil, &github.ProviderError{Op: "get pull request", StatusCode: 404, Err: fmt.Errorf("no pull request %d", number)}
	}
	out := d.Clone()
	return &out, nil
}

func (f *fakeProvider) FetchPullRequestCommits(ctx context.Context, repo string, number int) ([]github.CommitRef, error) {
	f.mu.Lock()
	f.repos = append(f.repos, repo)
	f.mu.Unlock()
	return f.prCommits[number], nil
}

func (f *fakeProvider) FetchReviewComments(ctx context.Context, repo string, number int, reviewID int64) ([]github.LineComment, error) {
	return f.reviewComments[reviewID], nil
}

func (f *fakeProvider) FetchPullRequestsForCommit(ctx context.Context, repo, sha string) ([]int, error) {
	return f.commitPRs[sha], nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return testNow }
	cfg.FetchTimeout = time.Second
	return cfg
}

func newTestSyncer(p Provider, cfg Config) *Syncer {
	s, err := NewSyncer(p, cfg)
	if err != nil {
		panic(err)
	}
	return s
}

func baseAggregate(snapshot string) *aggregate.Aggregate {
	return &aggregate.Aggregate{
		ID:           1,
		Name:         testRepo,
		FullName:     testFullName,
		Topics:       []string{"cli"},
		Commits:      []aggregate.Commit{},
		Issues:       []aggregate.Issue{},
		PullRequests: []aggregate.PullRequest{},
		Snapshot:     snapshot,
	}
}

func rawPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func event(id, typ, repo string, at time.Time, payload any) github.RawGitHubEvent {
	return github.RawGitHubEvent{
		ID:        id,
		Type:      typ,
		Repo:      github.EventRepo{Name: repo},
		CreatedAt: at,
		Payload:   rawPayload(payload),
	}
}

func pushEvent(id, repo string, at time.Time, shas ...string) github.RawGitHubEvent {
	commits := make([]map[string]any, 0, len(shas))
	for _, sha := range shas {
		commits = append(commits, map[string]any{"sha": sha, "message": "m"})
	}
	return event(id, github.EventPush, repo, at, map[string]any{"ref": "refs/heads/main", "commits": commits})
}

func issueEvent(id, action string, at time.Time, number int, author string) github.RawGitHubEvent {
	return event(id, github.EventIssues, testFullName, at, map[string]any{
		"action": action,
		"issue": map[string]any{
			"number":     number,
			"title":      fmt.Sprintf("issue %d (%s)", number, id),
			"state":      "open",
			"user":       map[string]any{"login": author},
			"labels":     []map[string]any{{"name": "bug"}},
			"created_at": at,
			"updated_at": at,
		},
	})
}

func pullRequestEvent(id, action string, at time.Time, number int, title string) github.RawGitHubEvent {
	return event(id, github.EventPullRequest, testFullName, at, map[string]any{
		"action": action,
		"number": number,
		"pull_request": map[string]any{
			"number":     number,
			"title":      title,
			"state":      "open",
			"html_url":   fmt.Sprintf("https://github.com/org/tool/pull/%d", number),
			"user":       map[string]any{"login": testLogin},
			"created_at": at,
		},
	})
}

func reviewEvent(id string, at time.Time, number int, reviewID int64, state, body string) github.RawGitHubEvent {
	return event(id, github.EventPullRequestReview, testFullName, at, map[string]any{
		"action": "created",
		"review": map[string]any{
			"id":           reviewID,
			"user":         map[string]any{"login": testLogin},
			"body":         body,
			"state":        state,
			"html_url":     fmt.Sprintf("https://github.com/org/tool/pull/%d#review-%d", number, reviewID),
			"submitted_at": at,
		},
		"pull_request": map[string]any{"number": number},
	})
}

func ago(d time.Duration) time.Time {
	return testNow.Add(-d)
}

const day = 24 * time.Hour
