package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/skridlevsky/repo-activity/internal/aggregate"
)

func TestClient_FetchCommitDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/org/tool/commits/abc123" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		fmt.Fprint(w, `{
			"sha": "abc123",
			"html_url": "https://github.com/org/tool/commit/abc123",
			"author": {"login": "octocat"},
			"commit": {
				"message": "Fix parser",
				"author": {"name": "Octo Cat", "date": "2024-05-01T09:00:00Z"},
				"committer": {"name": "GitHub", "date": "2024-05-01T10:00:00Z"}
			},
			"stats": {"additions": 3, "deletions": 1, "total": 4},
			"files": [{"filename": "parser.go", "additions": 3, "deletions": 1}]
		}`)
	}))
	defer server.Close()

	c := NewClient("test-token", WithBaseURL(server.URL))
	commit, err := c.FetchCommitDetail(context.Background(), "org/tool", "abc123")
	if err != nil {
		t.Fatalf("FetchCommitDetail() error = %v", err)
	}

	if commit.Author != "Octo Cat" || commit.AuthorLogin != "octocat" {
		t.Errorf("author = %q (%q)", commit.Author, commit.AuthorLogin)
	}
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if !commit.Date.Equal(want) {
		t.Errorf("Date = %s, want committer date %s", commit.Date, want)
	}
	if commit.Stats.Total != 4 {
		t.Errorf("Stats.Total = %d, want 4", commit.Stats.Total)
	}
	if len(commit.Files) != 1 || commit.Files[0].Filename != "parser.go" {
		t.Errorf("Files = %+v", commit.Files)
	}
}

func TestClient_FetchCommitDetail_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"message": "boom"}`)
	}))
	defer server.Close()

	c := NewClient("test-token", WithBaseURL(server.URL))
	_, err := c.FetchCommitDetail(context.Background(), "org/tool", "abc123")

	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", pe.StatusCode)
	}
}

func TestClient_RateLimitedDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", fmt.Sprint(time.Now().Add(time.Hour).Unix()))
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message": "API rate limit exceeded for user ID 1."}`)
	}))
	defer server.Close()

	c := NewClient("test-token", WithBaseURL(server.URL))
	_, err := c.FetchPullRequestDetails(context.Background(), "org/tool", 7)

	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if !pe.RateLimited {
		t.Errorf("expected RateLimited, got %v", pe)
	}
}

func TestClient_FetchPullRequestDetails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/org/tool/pulls/7" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		fmt.Fprint(w, `{
			"number": 7, "title": "Add lexer", "state": "closed", "merged": true,
			"html_url": "https://github.com/org/tool/pull/7",
			"created_at": "2024-04-01T00:00:00Z",
			"requested_reviewers": [{"login": "reviewer"}],
			"assignee": {"login": "lead"},
			"assignees": [{"login": "lead"}, {"login": "octocat"}],
			"labels": [{"name": "feature"}],
			"comments": 2, "review_comments": 5, "commits": 3,
			"additions": 120, "deletions": 4, "changed_files": 6
		}`)
	}))
	defer server.Close()

	c := NewClient("test-token", WithBaseURL(server.URL))
	d, err := c.FetchPullRequestDetails(context.Background(), "org/tool", 7)
	if err != nil {
		t.Fatalf("FetchPullRequestDetails() error = %v", err)
	}

	if d.Number != 7 || !d.Merged || d.State != "closed" {
		t.Errorf("details = %+v", d)
	}
	if d.AssignedBy == nil || *d.AssignedBy != "lead" {
		t.Errorf("AssignedBy = %v, want lead", d.AssignedBy)
	}
	if len(d.AssignedTo) != 2 || d.AssignedTo[1] != "octocat" {
		t.Errorf("AssignedTo = %v", d.AssignedTo)
	}
	if len(d.Labels) != 1 || d.Labels[0] != "feature" {
		t.Errorf("Labels = %v", d.Labels)
	}
	if d.ChangedFiles != 6 || d.ReviewComments != 5 {
		t.Errorf("counts = %+v", d)
	}
}

func TestClient_FetchPullRequestCommits_Paginates(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/org/tool/pulls/7/commits" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"sha": "c3", "author": null}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/org/tool/pulls/7/commits?page=2>; rel="next"`, server.URL))
		fmt.Fprint(w, `[{"sha": "c1", "author": {"login": "octocat"}}, {"sha": "c2", "author": {"login": "other"}}]`)
	}))
	defer server.Close()

	c := NewClient("test-token", WithBaseURL(server.URL))
	refs, err := c.FetchPullRequestCommits(context.Background(), "org/tool", 7)
	if err != nil {
		t.Fatalf("FetchPullRequestCommits() error = %v", err)
	}

	want := []CommitRef{{"c1", "octocat"}, {"c2", "other"}, {"c3", ""}}
	if len(refs) != len(want) {
		t.Fatalf("got %d refs, want %d", len(refs), len(want))
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Errorf("refs[%d] = %+v, want %+v", i, refs[i], want[i])
		}
	}
}

func TestClient_FetchReviewComments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/org/tool/pulls/7/reviews/55/comments" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		fmt.Fprint(w, `[
			{"id": 1, "user": {"login": "octocat"}, "body": "nit", "path": "lexer.go",
			 "html_url": "https://github.com/org/tool/pull/7#discussion_r1", "updated_at": "2024-04-02T00:00:00Z"},
			{"id": 2, "user": {"login": "someone"}, "body": "+1", "path": "lexer.go",
			 "html_url": "https://github.com/org/tool/pull/7#discussion_r2", "updated_at": "2024-04-02T01:00:00Z"}
		]`)
	}))
	defer server.Close()

	c := NewClient("test-token", WithBaseURL(server.URL))
	comments, err := c.FetchReviewComments(context.Background(), "org/tool", 7, 55)
	if err != nil {
		t.Fatalf("FetchReviewComments() error = %v", err)
	}

	records := LineCommentRecords(aggregate.ReviewChangesRequested, comments, "OctoCat")
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rc := records[0]
	if rc.State != aggregate.ReviewChangesRequested {
		t.Errorf("State = %q", rc.State)
	}
	if rc.File == nil || *rc.File != "lexer.go" {
		t.Errorf("File = %v, want lexer.go", rc.File)
	}
	if rc.Body == nil || *rc.Body != "nit" {
		t.Errorf("Body = %v, want nit", rc.Body)
	}
}

func TestClient_FetchPullRequestsForCommit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/fork/tool/commits/abc/pulls" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		fmt.Fprint(w, `[{"number": 7}, {"number": 9}]`)
	}))
	defer server.Close()

	c := NewClient("test-token", WithBaseURL(server.URL))
	numbers, err := c.FetchPullRequestsForCommit(context.Background(), "fork/tool", "abc")
	if err != nil {
		t.Fatalf("FetchPullRequestsForCommit() error = %v", err)
	}
	if len(numbers) != 2 || numbers[0] != 7 {
		t.Errorf("numbers = %v, want [7 9]", numbers)
	}
}

func TestClient_ListIssues_SkipsPullRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != "all" {
			t.Errorf("state = %q, want all", r.URL.Query().Get("state"))
		}
		if r.URL.Query().Get("since") == "" {
			t.Error("missing since")
		}
		fmt.Fprint(w, `[
			{"number": 1, "title": "Bug", "state": "open", "user": {"login": "octocat"}, "labels": [{"name": "bug"}],
			 "created_at": "2024-04-01T00:00:00Z", "updated_at": "2024-04-02T00:00:00Z"},
			{"number": 2, "title": "PR", "state": "open", "user": {"login": "octocat"},
			 "pull_request": {"url": "https://api.github.com/repos/org/tool/pulls/2"}},
			{"number": 3, "title": "Task", "state": "closed", "user": {"login": "lead"}, "assignees": [{"login": "octocat"}]}
		]`)
	}))
	defer server.Close()

	c := NewClient("test-token", WithBaseURL(server.URL))
	issues, err := c.ListIssues(context.Background(), "org/tool", time.Now().AddDate(-1, 0, 0))
	if err != nil {
		t.Fatalf("ListIssues() error = %v", err)
	}

	if len(issues) != 2 {
		t.Fatalf("got %d issues, want 2", len(issues))
	}
	if got := issues[0].Record("octocat").Role; got != aggregate.RoleCreated {
		t.Errorf("issue 1 role = %q, want created", got)
	}
	if !issues[1].Involves("octocat") {
		t.Error("issue 3 should involve its assignee")
	}
	if got := issues[1].Record("octocat").Role; got != aggregate.RoleAssigned {
		t.Errorf("issue 3 role = %q, want assigned", got)
	}
}

func TestReview_StandsAlone(t *testing.T) {
	tests := []struct {
		name   string
		review Review
		want   bool
	}{
		{"approval without body", Review{State: aggregate.ReviewApproved}, true},
		{"comment with body", Review{State: aggregate.ReviewCommented, Body: "looks good"}, true},
		{"changes requested without body", Review{State: aggregate.ReviewChangesRequested}, false},
		{"comment without body", Review{State: aggregate.ReviewCommented}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.review.StandsAlone(); got != tt.want {
				t.Errorf("StandsAlone() = %v, want %v", got, tt.want)
			}
		})
	}

	rc := Review{State: aggregate.ReviewApproved, URL: "u"}.Record()
	if rc.Body != nil {
		t.Errorf("approval without body must record a nil comment, got %q", *rc.Body)
	}
}
