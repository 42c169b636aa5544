package github

import (
	"context"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v60/github"

	"github.com/skridlevsky/repo-activity/internal/aggregate"
)

const perPage = 100

// CommitRef is a commit listed on a pull request
type CommitRef struct {
	SHA         string
	AuthorLogin string
}

// Review is a submitted pull request review
type Review struct {
	ID          int64
	AuthorLogin string
	State       string // approved, changes_requested, commented, dismissed
	Body        string
	URL         string
	SubmittedAt time.Time
}

// StandsAlone reports whether the review itself is the record to keep.
// Otherwise the record is made of the review's line comments.
func (r Review) StandsAlone() bool {
	return r.State == aggregate.ReviewApproved || r.Body != ""
}

// Record converts a stand-alone review
func (r Review) Record() aggregate.ReviewComment {
	rc := aggregate.ReviewComment{
		State: r.State,
		URL:   r.URL,
		Date:  r.SubmittedAt,
	}
	if r.Body != "" {
		body := r.Body
		rc.Body = &body
	}
	return rc
}

// LineComment is a review comment attached to a line of a file
type LineComment struct {
	ID          int64
	AuthorLogin string
	Body        *string
	URL         string
	Path        *string
	UpdatedAt   time.Time
}

// LineCommentRecords keeps the comments written by login, tagged with the
// state of the review they belong to
func LineCommentRecords(state string, comments []LineComment, login string) []aggregate.ReviewComment {
	var records []aggregate.ReviewComment
	for _, c := range comments {
		if !strings.EqualFold(c.AuthorLogin, login) {
			continue
		}
		records = append(records, aggregate.ReviewComment{
			State: state,
			URL:   c.URL,
			Body:  c.Body,
			Date:  c.UpdatedAt,
			File:  c.Path,
		})
	}
	return records
}

// Issue is an issue together with the accounts it involves
type Issue struct {
	Number      int
	Title       string
	State       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Labels      []string
	AuthorLogin string
	Assignees   []string
}

// Involves reports whether login opened or is assigned to the issue
func (i Issue) Involves(login string) bool {
	return strings.EqualFold(i.AuthorLogin, login) || containsFold(i.Assignees, login)
}

// Record converts the issue for the aggregate of login
func (i Issue) Record(login string) aggregate.Issue {
	role := aggregate.RoleAssigned
	if strings.EqualFold(i.AuthorLogin, login) {
		role = aggregate.RoleCreated
	}
	labels := i.Labels
	if labels == nil {
		labels = []string{}
	}
	return aggregate.Issue{
		Title:     i.Title,
		Number:    i.Number,
		CreatedAt: i.CreatedAt,
		UpdatedAt: i.UpdatedAt,
		Labels:    labels,
		State:     i.State,
		Role:      role,
	}
}

// PullRequestSummary is a listed pull request with the accounts it involves
type PullRequestSummary struct {
	Number             int
	AuthorLogin        string
	AssigneeLogin      string
	Assignees          []string
	RequestedReviewers []string
	CreatedAt          time.Time
}

// Involves reports whether login authored, is assigned to, or was asked to
// review the pull request. reviewers lists accounts that already reviewed it,
// since GitHub drops them from the requested reviewers once they do.
func (p PullRequestSummary) Involves(login string, reviewers []string) bool {
	return strings.EqualFold(p.AuthorLogin, login) ||
		strings.EqualFold(p.AssigneeLogin, login) ||
		containsFold(p.Assignees, login) ||
		containsFold(p.RequestedReviewers, login) ||
		containsFold(reviewers, login)
}

// FetchCommitDetail fetches a commit with its stats and changed files
func (c *Client) FetchCommitDetail(ctx context.Context, repo, sha string) (*aggregate.Commit, error) {
	const op = "get commit"
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	rc, _, err := c.gh.Repositories.GetCommit(ctx, owner, name, sha, nil)
	if err != nil {
		return nil, wrapError(op, err)
	}

	return commitRecord(rc), nil
}

func commitRecord(rc *gogithub.RepositoryCommit) *aggregate.Commit {
	files := make([]aggregate.FileChange, 0, len(rc.Files))
	for _, f := range rc.Files {
		files = append(files, aggregate.FileChange{
			Filename:  f.GetFilename(),
			Additions: f.GetAdditions(),
			Deletions: f.GetDeletions(),
		})
	}

	return &aggregate.Commit{
		SHA:         rc.GetSHA(),
		Message:     rc.GetCommit().GetMessage(),
		Date:        rc.GetCommit().GetCommitter().GetDate().Time,
		URL:         rc.GetHTMLURL(),
		Author:      rc.GetCommit().GetAuthor().GetName(),
		AuthorLogin: rc.GetAuthor().GetLogin(),
		Stats: aggregate.CommitStats{
			Additions: rc.GetStats().GetAdditions(),
			Deletions: rc.GetStats().GetDeletions(),
			Total:     rc.GetStats().GetTotal(),
		},
		Files: files,
	}
}

// FetchPullRequestDetails fetches the current details of a pull request
func (c *Client) FetchPullRequestDetails(ctx context.Context, repo string, number int) (*aggregate.PullRequestDetails, error) {
	const op = "get pull request"
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	pr, _, err := c.gh.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return nil, wrapError(op, err)
	}

	return pullRequestDetails(pr), nil
}

func pullRequestDetails(pr *gogithub.PullRequest) *aggregate.PullRequestDetails {
	d := &aggregate.PullRequestDetails{
		Title:              pr.GetTitle(),
		Number:             pr.GetNumber(),
		State:              pr.GetState(),
		Merged:             pr.GetMerged(),
		URL:                pr.GetHTMLURL(),
		CreatedAt:          pr.GetCreatedAt().Time,
		RequestedReviewers: logins(pr.RequestedReviewers),
		AssignedTo:         logins(pr.Assignees),
		Labels:             labelNames(pr.Labels),
		Comments:           pr.GetComments(),
		ReviewComments:     pr.GetReviewComments(),
		Commits:            pr.GetCommits(),
		Additions:          pr.GetAdditions(),
		Deletions:          pr.GetDeletions(),
		ChangedFiles:       pr.GetChangedFiles(),
	}
	if pr.Assignee != nil {
		login := pr.Assignee.GetLogin()
		d.AssignedBy = &login
	}
	return d
}

// FetchPullRequestCommits lists every commit of a pull request
func (c *Client) FetchPullRequestCommits(ctx context.Context, repo string, number int) ([]CommitRef, error) {
	const op = "list pull request commits"
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	var refs []CommitRef
	opts := &gogithub.ListOptions{PerPage: perPage}
	for {
		commits, resp, err := c.gh.PullRequests.ListCommits(ctx, owner, name, number, opts)
		if err != nil {
			return nil, wrapError(op, err)
		}

		for _, rc := range commits {
			refs = append(refs, CommitRef{SHA: rc.GetSHA(), AuthorLogin: rc.GetAuthor().GetLogin()})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return refs, nil
}

// FetchReviewComments lists the line comments of one review
func (c *Client) FetchReviewComments(ctx context.Context, repo string, number int, reviewID int64) ([]LineComment, error) {
	const op = "list review comments"
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	var out []LineComment
	opts := &gogithub.ListOptions{PerPage: perPage}
	for {
		comments, resp, err := c.gh.PullRequests.ListReviewComments(ctx, owner, name, number, reviewID, opts)
		if err != nil {
			return nil, wrapError(op, err)
		}

		for _, pc := range comments {
			out = append(out, LineComment{
				ID:          pc.GetID(),
				AuthorLogin: pc.GetUser().GetLogin(),
				Body:        pc.Body,
				URL:         pc.GetHTMLURL(),
				Path:        pc.Path,
				UpdatedAt:   pc.GetUpdatedAt().Time,
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return out, nil
}

// FetchPullRequestsForCommit lists the numbers of the pull requests a commit
// belongs to
func (c *Client) FetchPullRequestsForCommit(ctx context.Context, repo, sha string) ([]int, error) {
	const op = "list pull requests for commit"
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	prs, _, err := c.gh.PullRequests.ListPullRequestsWithCommit(ctx, owner, name, sha, nil)
	if err != nil {
		return nil, wrapError(op, err)
	}

	numbers := make([]int, 0, len(prs))
	for _, pr := range prs {
		numbers = append(numbers, pr.GetNumber())
	}
	return numbers, nil
}

// ListReviews lists the submitted reviews of a pull request
func (c *Client) ListReviews(ctx context.Context, repo string, number int) ([]Review, error) {
	const op = "list reviews"
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	var out []Review
	opts := &gogithub.ListOptions{PerPage: perPage}
	for {
		reviews, resp, err := c.gh.PullRequests.ListReviews(ctx, owner, name, number, opts)
		if err != nil {
			return nil, wrapError(op, err)
		}

		for _, r := range reviews {
			out = append(out, Review{
				ID:          r.GetID(),
				AuthorLogin: r.GetUser().GetLogin(),
				State:       strings.ToLower(r.GetState()),
				Body:        r.GetBody(),
				URL:         r.GetHTMLURL(),
				SubmittedAt: r.GetSubmittedAt().Time,
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return out, nil
}

// ListPullRequests fetches one page of a repository's pull requests, newest
// first. next is 0 on the last page.
func (c *Client) ListPullRequests(ctx context.Context, repo string, page int) (prs []PullRequestSummary, next int, err error) {
	const op = "list pull requests"
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, 0, err
	}

	opts := &gogithub.PullRequestListOptions{
		State:       "all",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: gogithub.ListOptions{PerPage: perPage, Page: page},
	}
	list, resp, err := c.gh.PullRequests.List(ctx, owner, name, opts)
	if err != nil {
		return nil, 0, wrapError(op, err)
	}

	prs = make([]PullRequestSummary, 0, len(list))
	for _, pr := range list {
		prs = append(prs, PullRequestSummary{
			Number:             pr.GetNumber(),
			AuthorLogin:        pr.GetUser().GetLogin(),
			AssigneeLogin:      pr.GetAssignee().GetLogin(),
			Assignees:          logins(pr.Assignees),
			RequestedReviewers: logins(pr.RequestedReviewers),
			CreatedAt:          pr.GetCreatedAt().Time,
		})
	}
	return prs, resp.NextPage, nil
}

// ListBranches lists the names of a repository's branches
func (c *Client) ListBranches(ctx context.Context, repo string) ([]string, error) {
	const op = "list branches"
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	var names []string
	opts := &gogithub.BranchListOptions{ListOptions: gogithub.ListOptions{PerPage: perPage}}
	for {
		branches, resp, err := c.gh.Repositories.ListBranches(ctx, owner, name, opts)
		if err != nil {
			return nil, wrapError(op, err)
		}

		for _, b := range branches {
			names = append(names, b.GetName())
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return names, nil
}

// ListAuthorCommits lists the SHAs of commits on branch authored by login
// since the given time, newest first
func (c *Client) ListAuthorCommits(ctx context.Context, repo, branch, login string, since time.Time) ([]string, error) {
	const op = "list commits"
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	var shas []string
	opts := &gogithub.CommitsListOptions{
		SHA:         branch,
		Author:      login,
		Since:       since,
		ListOptions: gogithub.ListOptions{PerPage: perPage},
	}
	for {
		commits, resp, err := c.gh.Repositories.ListCommits(ctx, owner, name, opts)
		if err != nil {
			return nil, wrapError(op, err)
		}

		for _, rc := range commits {
			shas = append(shas, rc.GetSHA())
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return shas, nil
}

// ListIssues lists a repository's issues updated since the given time.
// Pull requests, which the issues endpoint also returns, are skipped.
func (c *Client) ListIssues(ctx context.Context, repo string, since time.Time) ([]Issue, error) {
	const op = "list issues"
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	var out []Issue
	opts := &gogithub.IssueListByRepoOptions{
		State:       "all",
		Since:       since,
		ListOptions: gogithub.ListOptions{PerPage: perPage},
	}
	for {
		issues, resp, err := c.gh.Issues.ListByRepo(ctx, owner, name, opts)
		if err != nil {
			return nil, wrapError(op, err)
		}

		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			out = append(out, Issue{
				Number:      issue.GetNumber(),
				Title:       issue.GetTitle(),
				State:       issue.GetState(),
				CreatedAt:   issue.GetCreatedAt().Time,
				UpdatedAt:   issue.GetUpdatedAt().Time,
				Labels:      labelNames(issue.Labels),
				AuthorLogin: issue.GetUser().GetLogin(),
				Assignees:   logins(issue.Assignees),
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return out, nil
}

func logins(users []*gogithub.User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.GetLogin())
	}
	return out
}

func labelNames(labels []*gogithub.Label) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		out = append(out, l.GetName())
	}
	return out
}

func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
