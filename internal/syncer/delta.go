package syncer

import (
	"github.com/skridlevsky/repo-activity/internal/aggregate"
)

// PullRequestUpdate is the change to one stored pull request
type PullRequestUpdate struct {
	Details  *aggregate.PullRequestDetails
	Commits  []aggregate.Commit
	Comments []aggregate.ReviewComment
}

// Delta accumulates the changes of one synchronization run.
//
// The feed is read newest first, so every add records a change older than
// everything already held. Lists are kept oldest first by prepending each
// event's items, and a replacement only sticks if no newer one was seen.
type Delta struct {
	NewCommits      []aggregate.Commit
	NewIssues       []aggregate.Issue
	NewPullRequests []aggregate.PullRequest

	Issues       map[int]aggregate.Issue
	PullRequests map[int]*PullRequestUpdate
}

// NewDelta returns an empty delta
func NewDelta() *Delta {
	return &Delta{
		Issues:       make(map[int]aggregate.Issue),
		PullRequests: make(map[int]*PullRequestUpdate),
	}
}

// Empty reports whether the delta changes nothing
func (d *Delta) Empty() bool {
	return len(d.NewCommits) == 0 && len(d.NewIssues) == 0 && len(d.NewPullRequests) == 0 &&
		len(d.Issues) == 0 && len(d.PullRequests) == 0
}

func (d *Delta) addCommit(c aggregate.Commit) {
	d.NewCommits = prepend(d.NewCommits, c)
}

func (d *Delta) addIssue(issue aggregate.Issue) {
	d.NewIssues = prepend(d.NewIssues, issue)
}

func (d *Delta) replaceIssue(issue aggregate.Issue) {
	if _, ok := d.Issues[issue.Number]; !ok {
		d.Issues[issue.Number] = issue
	}
}

func (d *Delta) addPullRequest(pr aggregate.PullRequest) {
	d.NewPullRequests = prepend(d.NewPullRequests, pr)
}

func (d *Delta) updatePullRequest(number int, details *aggregate.PullRequestDetails, commits []aggregate.Commit, comments []aggregate.ReviewComment) {
	u, ok := d.PullRequests[number]
	if !ok {
		u = &PullRequestUpdate{}
		d.PullRequests[number] = u
	}
	if u.Details == nil {
		u.Details = details
	}
	u.Commits = prepend(u.Commits, commits...)
	u.Comments = prepend(u.Comments, comments...)
}

func prepend[T any](list []T, items ...T) []T {
	if len(items) == 0 {
		return list
	}
	out := make([]T, 0, len(items)+len(list))
	out = append(out, items...)
	return append(out, list...)
}
