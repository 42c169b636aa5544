package syncer

import (
	"strings"

	"github.com/skridlevsky/repo-activity/internal/github"
)

// Kind is the variant of a feed event as far as the aggregate is concerned
type Kind int

const (
	KindIgnored Kind = iota
	KindIssue
	KindPullRequest
	KindReview
	KindPush
)

func (k Kind) String() string {
	switch k {
	case KindIssue:
		return "issue"
	case KindPullRequest:
		return "pull_request"
	case KindReview:
		return "review"
	case KindPush:
		return "push"
	default:
		return "ignored"
	}
}

// activity is a classified feed event
type activity struct {
	kind  Kind
	event github.RawGitHubEvent
}

// classify maps an event to its variant. Events of other types, or on a
// repository whose name differs from repoName, are ignored. Only the name part
// of owner/name is compared so pushes to forks still match.
func classify(ev github.RawGitHubEvent, repoName string) activity {
	a := activity{kind: KindIgnored, event: ev}
	if !strings.EqualFold(ev.RepoShortName(), repoName) {
		return a
	}

	switch ev.Type {
	case github.EventIssues:
		a.kind = KindIssue
	case github.EventPullRequest:
		a.kind = KindPullRequest
	case github.EventPullRequestReview:
		a.kind = KindReview
	case github.EventPush:
		a.kind = KindPush
	}
	return a
}

// ScanCheckpoint returns the ID of the newest event on the page that is
// recognized for repository repoName
func ScanCheckpoint(events []github.RawGitHubEvent, repoName string) (string, bool) {
	for _, ev := range events {
		if classify(ev, repoName).kind != KindIgnored {
			return ev.ID, true
		}
	}
	return "", false
}
