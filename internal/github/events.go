package github

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/skridlevsky/repo-activity/internal/aggregate"
)

// Recognized activity event types
const (
	EventIssues            = "IssuesEvent"
	EventPullRequest       = "PullRequestEvent"
	EventPullRequestReview = "PullRequestReviewEvent"
	EventPush              = "PushEvent"
)

// RawGitHubEvent represents the raw event structure from the GitHub Events API
type RawGitHubEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Actor     EventActor      `json:"actor"`
	Repo      EventRepo       `json:"repo"`
	Payload   json.RawMessage `json:"payload"`
	Public    bool            `json:"public"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventActor represents the user who triggered the event
type EventActor struct {
	ID           int64  `json:"id"`
	Login        string `json:"login"`
	DisplayLogin string `json:"display_login"`
	AvatarURL    string `json:"avatar_url"`
}

// EventRepo represents the repository in the event
type EventRepo struct {
	ID   int64  `json:"id"`
	Name string `json:"name"` // owner/name
	URL  string `json:"url"`
}

// RepoShortName returns the name part of the event repository
func (e RawGitHubEvent) RepoShortName() string {
	if _, name, ok := strings.Cut(e.Repo.Name, "/"); ok {
		return name
	}
	return e.Repo.Name
}

type eventUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

type eventLabel struct {
	Name string `json:"name"`
}

// IssuesEventPayload for IssuesEvent
type IssuesEventPayload struct {
	Action string `json:"action"` // opened, closed, reopened, edited, assigned, labeled
	Issue  struct {
		Number    int          `json:"number"`
		Title     string       `json:"title"`
		State     string       `json:"state"`
		User      eventUser    `json:"user"`
		Assignees []eventUser  `json:"assignees"`
		Labels    []eventLabel `json:"labels"`
		CreatedAt time.Time    `json:"created_at"`
		UpdatedAt time.Time    `json:"updated_at"`
	} `json:"issue"`
}

// Summary converts the embedded issue
func (p *IssuesEventPayload) Summary() Issue {
	issue := Issue{
		Number:      p.Issue.Number,
		Title:       p.Issue.Title,
		State:       p.Issue.State,
		CreatedAt:   p.Issue.CreatedAt,
		UpdatedAt:   p.Issue.UpdatedAt,
		AuthorLogin: p.Issue.User.Login,
		Labels:      make([]string, 0, len(p.Issue.Labels)),
	}
	for _, l := range p.Issue.Labels {
		issue.Labels = append(issue.Labels, l.Name)
	}
	for _, a := range p.Issue.Assignees {
		issue.Assignees = append(issue.Assignees, a.Login)
	}
	return issue
}

// PullRequestEventPayload for PullRequestEvent
type PullRequestEventPayload struct {
	Action      string `json:"action"` // opened, closed, reopened, edited, synchronize
	Number      int    `json:"number"`
	PullRequest struct {
		Number             int          `json:"number"`
		Title              string       `json:"title"`
		State              string       `json:"state"`
		Merged             bool         `json:"merged"`
		HTMLURL            string       `json:"html_url"`
		User               eventUser    `json:"user"`
		RequestedReviewers []eventUser  `json:"requested_reviewers"`
		Assignee           *eventUser   `json:"assignee"`
		Assignees          []eventUser  `json:"assignees"`
		Labels             []eventLabel `json:"labels"`
		Comments           int          `json:"comments"`
		ReviewComments     int          `json:"review_comments"`
		Commits            int          `json:"commits"`
		Additions          int          `json:"additions"`
		Deletions          int          `json:"deletions"`
		ChangedFiles       int          `json:"changed_files"`
		CreatedAt          time.Time    `json:"created_at"`
	} `json:"pull_request"`
}

// Details converts the embedded pull request
func (p *PullRequestEventPayload) Details() *aggregate.PullRequestDetails {
	pr := p.PullRequest
	d := &aggregate.PullRequestDetails{
		Title:              pr.Title,
		Number:             pr.Number,
		State:              pr.State,
		Merged:             pr.Merged,
		URL:                pr.HTMLURL,
		CreatedAt:          pr.CreatedAt,
		RequestedReviewers: make([]string, 0, len(pr.RequestedReviewers)),
		AssignedTo:         make([]string, 0, len(pr.Assignees)),
		Labels:             make([]string, 0, len(pr.Labels)),
		Comments:           pr.Comments,
		ReviewComments:     pr.ReviewComments,
		Commits:            pr.Commits,
		Additions:          pr.Additions,
		Deletions:          pr.Deletions,
		ChangedFiles:       pr.ChangedFiles,
	}
	if d.Number == 0 {
		d.Number = p.Number
	}
	for _, u := range pr.RequestedReviewers {
		d.RequestedReviewers = append(d.RequestedReviewers, u.Login)
	}
	for _, u := range pr.Assignees {
		d.AssignedTo = append(d.AssignedTo, u.Login)
	}
	for _, l := range pr.Labels {
		d.Labels = append(d.Labels, l.Name)
	}
	if pr.Assignee != nil {
		login := pr.Assignee.Login
		d.AssignedBy = &login
	}
	return d
}

// PullRequestReviewEventPayload for PullRequestReviewEvent
type PullRequestReviewEventPayload struct {
	Action string `json:"action"` // submitted, edited, dismissed
	Review struct {
		ID          int64     `json:"id"`
		User        eventUser `json:"user"`
		Body        string    `json:"body"`
		State       string    `json:"state"` // approved, changes_requested, commented
		HTMLURL     string    `json:"html_url"`
		SubmittedAt time.Time `json:"submitted_at"`
	} `json:"review"`
	PullRequest struct {
		Number int `json:"number"`
	} `json:"pull_request"`
}

// ToReview converts the embedded review
func (p *PullRequestReviewEventPayload) ToReview() Review {
	return Review{
		ID:          p.Review.ID,
		AuthorLogin: p.Review.User.Login,
		State:       strings.ToLower(p.Review.State),
		Body:        p.Review.Body,
		URL:         p.Review.HTMLURL,
		SubmittedAt: p.Review.SubmittedAt,
	}
}

// PushEventPayload for PushEvent
type PushEventPayload struct {
	Ref     string `json:"ref"` // refs/heads/branch-name
	Before  string `json:"before"`
	Head    string `json:"head"`
	Commits []struct {
		SHA     string `json:"sha"`
		Message string `json:"message"`
		Author  struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"author"`
	} `json:"commits"`
	Size int `json:"size"`
}

// LastCommit returns the SHA of the newest pushed commit
func (p *PushEventPayload) LastCommit() (string, bool) {
	if len(p.Commits) > 0 {
		return p.Commits[len(p.Commits)-1].SHA, true
	}
	if p.Head != "" {
		return p.Head, true
	}
	return "", false
}
