package populate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skridlevsky/repo-activity/internal/aggregate"
	"github.com/skridlevsky/repo-activity/internal/github"
)

const (
	testLogin    = "octocat"
	testFullName = "org/tool"
)

var testNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

func ago(d time.Duration) time.Time { return testNow.Add(-d) }

type fakeProvider struct {
	branches       map[string][]string // branch -> shas
	commits        map[string]*aggregate.Commit
	issues         []github.Issue
	prPages        [][]github.PullRequestSummary
	reviews        map[int][]github.Review
	details        map[int]*aggregate.PullRequestDetails
	prCommits      map[int][]github.CommitRef
	reviewComments map[int64][]github.LineComment
	events         []github.RawGitHubEvent

	failRepo    error
	prPageCalls int

	active atomic.Int32
	peak   atomic.Int32
}

// track records how many requests are in flight at once
func (f *fakeProvider) track() func() {
	n := f.active.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	return func() { f.active.Add(-1) }
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		branches:       make(map[string][]string),
		commits:        make(map[string]*aggregate.Commit),
		reviews:        make(map[int][]github.Review),
		details:        make(map[int]*aggregate.PullRequestDetails),
		prCommits:      make(map[int][]github.CommitRef),
		reviewComments: make(map[int64][]github.LineComment),
	}
}

func (f *fakeProvider) addCommit(sha string, at time.Time) {
	f.commits[sha] = &aggregate.Commit{SHA: sha, Date: at, AuthorLogin: testLogin, Author: testLogin}
}

func (f *fakeProvider) FindRepository(ctx context.Context, login, name string) (*aggregate.Aggregate, error) {
	if f.failRepo != nil {
		return nil, f.failRepo
	}
	return &aggregate.Aggregate{ID: 1, Name: "tool", FullName: testFullName, Topics: []string{}}, nil
}

func (f *fakeProvider) ListBranches(ctx context.Context, repo string) ([]string, error) {
	defer f.track()()
	return []string{"main", "feature"}, nil
}

func (f *fakeProvider) ListAuthorCommits(ctx context.Context, repo, branch, login string, since time.Time) ([]string, error) {
	defer f.track()()
	return f.branches[branch], nil
}

func (f *fakeProvider) FetchCommitDetail(ctx context.Context, repo, sha string) (*aggregate.Commit, error) {
	defer f.track()()
	c, ok := f.commits[sha]
	if !ok {
		return nil, &github.ProviderError{Op: "get commit", StatusCode: 404, Err: fmt.Errorf("no commit %s", sha)}
	}
	out := c.Clone()
	return &out, nil
}

func (f *fakeProvider) ListIssues(ctx context.Context, repo string, since time.Time) ([]github.Issue, error) {
	defer f.track()()
	return f.issues, nil
}

func (f *fakeProvider) ListPullRequests(ctx context.Context, repo string, page int) ([]github.PullRequestSummary, int, error) {
	f.prPageCalls++
	if page-1 >= len(f.prPages) {
		return nil, 0, nil
	}
	next := page + 1
	if page == len(f.prPages) {
		next = 0
	}
	return f.prPages[page-1], next, nil
}

func (f *fakeProvider) ListReviews(ctx context.Context, repo string, number int) ([]github.Review, error) {
	defer f.track()()
	return f.reviews[number], nil
}

func (f *fakeProvider) FetchPullRequestDetails(ctx context.Context, repo string, number int) (*aggregate.PullRequestDetails, error) {
	defer f.track()()
	d, ok := f.details[number]
	if !ok {
		d = &aggregate.PullRequestDetails{Number: number, Title: fmt.Sprintf("pr %d", number)}
	}
	out := d.Clone()
	return &out, nil
}

func (f *fakeProvider) FetchPullRequestCommits(ctx context.Context, repo string, number int) ([]github.CommitRef, error) {
	defer f.track()()
	return f.prCommits[number], nil
}

func (f *fakeProvider) FetchReviewComments(ctx context.Context, repo string, number int, reviewID int64) ([]github.LineComment, error) {
	defer f.track()()
	return f.reviewComments[reviewID], nil
}

func (f *fakeProvider) FetchActivityPage(ctx context.Context, login string, page, perPage int) ([]github.RawGitHubEvent, error) {
	return f.events, nil
}

func newTestPopulator(p Provider) *Populator {
	return NewPopulator(p, Config{
		Lookback: 90 * day,
		Workers:  2,
		Now:      func() time.Time { return testNow },
	})
}

func feedEvent(id, typ, repo string) github.RawGitHubEvent {
	return github.RawGitHubEvent{
		ID:        id,
		Type:      typ,
		Repo:      github.EventRepo{Name: repo},
		CreatedAt: testNow,
		Payload:   json.RawMessage(`{}`),
	}
}

func TestPopulate_Commits(t *testing.T) {
	p := newFakeProvider()
	p.addCommit("c1", ago(3*day))
	p.addCommit("c2", ago(2*day))
	p.addCommit("c3", ago(1*day))
	p.branches["main"] = []string{"c2", "c1"}
	p.branches["feature"] = []string{"c3", "c2"}

	agg, err := newTestPopulator(p).Populate(context.Background(), testLogin, "tool")
	if err != nil {
		t.Fatalf("Populate() error = %v", err)
	}

	if len(agg.Commits) != 3 {
		t.Fatalf("Commits = %+v, want 3 distinct commits", agg.Commits)
	}
	for i, want := range []string{"c1", "c2", "c3"} {
		if agg.Commits[i].SHA != want {
			t.Errorf("Commits[%d] = %s, want %s", i, agg.Commits[i].SHA, want)
		}
	}
	if agg.Commits[1].Branch != "main" || agg.Commits[2].Branch != "feature" {
		t.Errorf("branches = %q, %q, want main, feature", agg.Commits[1].Branch, agg.Commits[2].Branch)
	}
}

func TestPopulate_Issues(t *testing.T) {
	p := newFakeProvider()
	p.issues = []github.Issue{
		{Number: 3, Title: "assigned", AuthorLogin: "someone", Assignees: []string{"OctoCat"}, CreatedAt: ago(1 * day)},
		{Number: 2, Title: "unrelated", AuthorLogin: "someone", CreatedAt: ago(2 * day)},
		{Number: 1, Title: "opened", AuthorLogin: testLogin, CreatedAt: ago(3 * day)},
	}

	agg, err := newTestPopulator(p).Populate(context.Background(), testLogin, "tool")
	if err != nil {
		t.Fatalf("Populate() error = %v", err)
	}

	if len(agg.Issues) != 2 {
		t.Fatalf("Issues = %+v, want 2", agg.Issues)
	}
	if agg.Issues[0].Number != 1 || agg.Issues[0].Role != aggregate.RoleCreated {
		t.Errorf("Issues[0] = %+v, want #1 created", agg.Issues[0])
	}
	if agg.Issues[1].Number != 3 || agg.Issues[1].Role != aggregate.RoleAssigned {
		t.Errorf("Issues[1] = %+v, want #3 assigned", agg.Issues[1])
	}
	if agg.Issues[0].Labels == nil {
		t.Error("Labels should never be nil")
	}
}

func TestPopulate_PullRequests(t *testing.T) {
	p := newFakeProvider()
	p.prPages = [][]github.PullRequestSummary{
		{
			{Number: 9, AuthorLogin: testLogin, CreatedAt: ago(1 * day)},
			{Number: 8, AuthorLogin: "someone", CreatedAt: ago(2 * day)},
		},
		{
			{Number: 7, AuthorLogin: "someone", CreatedAt: ago(3 * day)},
			{Number: 6, AuthorLogin: testLogin, CreatedAt: ago(200 * day)},
		},
		{
			{Number: 5, AuthorLogin: testLogin, CreatedAt: ago(300 * day)},
		},
	}
	p.addCommit("p1", ago(1*day))
	p.prCommits[9] = []github.CommitRef{{SHA: "p1", AuthorLogin: testLogin}, {SHA: "x1", AuthorLogin: "someone"}}

	body := "looks good"
	p.reviews[7] = []github.Review{
		{ID: 70, AuthorLogin: testLogin, State: aggregate.ReviewCommented, SubmittedAt: ago(2 * day)},
		{ID: 71, AuthorLogin: testLogin, State: aggregate.ReviewApproved, Body: body, SubmittedAt: ago(1 * day)},
		{ID: 72, AuthorLogin: "someone", State: aggregate.ReviewApproved},
	}
	p.reviewComments[70] = []github.LineComment{
		{ID: 1, AuthorLogin: testLogin, Body: &body, URL: "c1", UpdatedAt: ago(2 * day)},
		{ID: 2, AuthorLogin: "someone", Body: &body, URL: "c2", UpdatedAt: ago(2 * day)},
	}

	agg, err := newTestPopulator(p).Populate(context.Background(), testLogin, "tool")
	if err != nil {
		t.Fatalf("Populate() error = %v", err)
	}

	if p.prPageCalls != 2 {
		t.Errorf("pull request pages fetched = %d, want 2", p.prPageCalls)
	}
	if len(agg.PullRequests) != 2 {
		t.Fatalf("PullRequests = %+v, want #7 and #9", agg.PullRequests)
	}

	reviewed := agg.PullRequests[0]
	if reviewed.Number != 7 || reviewed.Details == nil {
		t.Fatalf("PullRequests[0] = %+v, want #7 with details", reviewed)
	}
	if len(reviewed.Comments) != 2 {
		t.Fatalf("Comments = %+v, want line comment and approval", reviewed.Comments)
	}
	if reviewed.Comments[0].URL != "c1" || reviewed.Comments[0].State != aggregate.ReviewCommented {
		t.Errorf("Comments[0] = %+v, want the user's line comment", reviewed.Comments[0])
	}
	if reviewed.Comments[1].State != aggregate.ReviewApproved {
		t.Errorf("Comments[1] = %+v, want the approval", reviewed.Comments[1])
	}

	authored := agg.PullRequests[1]
	if authored.Number != 9 {
		t.Fatalf("PullRequests[1].Number = %d, want 9", authored.Number)
	}
	if len(authored.Commits) != 1 || authored.Commits[0].SHA != "p1" {
		t.Errorf("Commits = %+v, want only the user's commit", authored.Commits)
	}
}

func TestPopulate_Snapshot(t *testing.T) {
	p := newFakeProvider()
	p.events = []github.RawGitHubEvent{
		feedEvent("E9", "WatchEvent", testFullName),
		feedEvent("E8", github.EventPush, "org/other"),
		feedEvent("E7", github.EventPush, "octocat/tool"),
	}

	agg, err := newTestPopulator(p).Populate(context.Background(), testLogin, "tool")
	if err != nil {
		t.Fatalf("Populate() error = %v", err)
	}
	if agg.Snapshot != "E7" {
		t.Errorf("Snapshot = %q, want E7", agg.Snapshot)
	}

	p.events = p.events[:2]
	agg, err = newTestPopulator(p).Populate(context.Background(), testLogin, "tool")
	if err != nil {
		t.Fatalf("Populate() error = %v", err)
	}
	if agg.Snapshot != aggregate.NoCursor {
		t.Errorf("Snapshot = %q, want %q", agg.Snapshot, aggregate.NoCursor)
	}
}

func TestPopulate_SharesWorkerBudget(t *testing.T) {
	p := newFakeProvider()
	var page []github.PullRequestSummary
	for i := 0; i < 12; i++ {
		sha := fmt.Sprintf("c%d", i)
		p.addCommit(sha, ago(time.Duration(i+1)*time.Hour))
		p.branches["main"] = append(p.branches["main"], sha)

		page = append(page, github.PullRequestSummary{Number: i + 1, AuthorLogin: testLogin, CreatedAt: ago(time.Duration(i+1) * time.Hour)})
		p.prCommits[i+1] = []github.CommitRef{{SHA: sha, AuthorLogin: testLogin}}
	}
	p.prPages = [][]github.PullRequestSummary{page}

	agg, err := newTestPopulator(p).Populate(context.Background(), testLogin, "tool")
	if err != nil {
		t.Fatalf("Populate() error = %v", err)
	}
	if len(agg.Commits) != 12 || len(agg.PullRequests) != 12 {
		t.Fatalf("got %d commits and %d pull requests, want 12 each", len(agg.Commits), len(agg.PullRequests))
	}
	if peak := p.peak.Load(); peak > 2 {
		t.Errorf("%d requests in flight at once, want at most 2 workers", peak)
	}
}

func TestPopulate_Errors(t *testing.T) {
	p := newFakeProvider()
	p.failRepo = github.ErrNotFound
	if _, err := newTestPopulator(p).Populate(context.Background(), testLogin, "tool"); !errors.Is(err, github.ErrNotFound) {
		t.Errorf("Populate() error = %v, want ErrNotFound", err)
	}

	p = newFakeProvider()
	p.branches["main"] = []string{"missing"}
	_, err := newTestPopulator(p).Populate(context.Background(), testLogin, "tool")
	if !github.IsProviderError(err) {
		t.Errorf("Populate() error = %v, want a ProviderError", err)
	}
}
