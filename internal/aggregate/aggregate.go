package aggregate

import (
	"slices"
	"time"
)

// NoCursor is the snapshot value of an aggregate built while the user had no
// recognized activity on the repository. It never matches a real event ID.
const NoCursor = "-1"

// Issue roles
const (
	RoleCreated  = "created"
	RoleAssigned = "assigned"
)

// Review comment states
const (
	ReviewApproved         = "approved"
	ReviewChangesRequested = "changes_requested"
	ReviewCommented        = "commented"
)

// Aggregate is the cached summary of one user's activity on one repository
type Aggregate struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	FullName        string    `json:"full_name"`
	Description     string    `json:"description"`
	URL             string    `json:"url"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Language        string    `json:"language"`
	Owner           Owner     `json:"owner"`
	Stars           int       `json:"stars"`
	WatchersCount   int       `json:"watchers_count"`
	ForksCount      int       `json:"forks_count"`
	OpenIssuesCount int       `json:"open_issues_count"`
	DefaultBranch   string    `json:"default_branch"`
	Visibility      string    `json:"visibility"`
	Topics          []string  `json:"topics"`

	Commits      []Commit      `json:"commits"`
	Issues       []Issue       `json:"issues"`
	PullRequests []PullRequest `json:"pull_requests"`

	// Snapshot is the ID of the newest activity event already folded in
	Snapshot string `json:"snapshot"`
}

// Owner identifies the repository owner
type Owner struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
	URL   string `json:"url"`
}

// Commit is a fully resolved commit. Immutable once created.
type Commit struct {
	SHA         string       `json:"sha"`
	Message     string       `json:"message"`
	Date        time.Time    `json:"date"`
	URL         string       `json:"url"`
	Author      string       `json:"author"`
	AuthorLogin string       `json:"author_login,omitempty"`
	Stats       CommitStats  `json:"stats"`
	Files       []FileChange `json:"files"`
	Branch      string       `json:"branch,omitempty"`
}

// CommitStats holds line counts for a commit
type CommitStats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	Total     int `json:"total"`
}

// FileChange is a per-file entry of a commit
type FileChange struct {
	Filename  string `json:"filename"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// Issue is keyed by number; a later record for the same number replaces it wholesale
type Issue struct {
	Title     string    `json:"title"`
	Number    int       `json:"number"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Labels    []string  `json:"labels"`
	State     string    `json:"state"`
	Role      string    `json:"type"` // created or assigned
}

// PullRequest groups a PR's details with the user's commits and review comments.
// Commits and Comments are append-only.
type PullRequest struct {
	Number   int                 `json:"pr_number"`
	Details  *PullRequestDetails `json:"pr_details"`
	Commits  []Commit            `json:"commits"`
	Comments []ReviewComment     `json:"comments"`
}

// PullRequestDetails is replaced wholesale on update
type PullRequestDetails struct {
	Title              string    `json:"title"`
	Number             int       `json:"number"`
	State              string    `json:"state"`
	Merged             bool      `json:"merged"`
	URL                string    `json:"url"`
	CreatedAt          time.Time `json:"date"`
	RequestedReviewers []string  `json:"requested_reviewers"`
	AssignedBy         *string   `json:"assigned_by"`
	AssignedTo         []string  `json:"assigned_to"`
	Labels             []string  `json:"labels"`
	Comments           int       `json:"comments"`
	ReviewComments     int       `json:"review_comments"`
	Commits            int       `json:"commits"`
	Additions          int       `json:"additions"`
	Deletions          int       `json:"deletions"`
	ChangedFiles       int       `json:"changed_files"`
}

// ReviewComment is either a whole review (approval or review with a body)
// or a single line comment left as part of a review
type ReviewComment struct {
	State string    `json:"state"`
	URL   string    `json:"url"`
	Body  *string   `json:"comment"`
	Date  time.Time `json:"date"`
	File  *string   `json:"file,omitempty"`
}

// User is the tracked account's profile as stored next to its aggregates
type User struct {
	Login       string    `json:"login"`
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	AvatarURL   string    `json:"avatar_url"`
	URL         string    `json:"html_url"`
	Bio         string    `json:"bio"`
	Company     string    `json:"company"`
	Location    string    `json:"location"`
	PublicRepos int       `json:"public_repos"`
	Followers   int       `json:"followers"`
	Following   int       `json:"following"`
	CreatedAt   time.Time `json:"created_at"`
}

// Clone returns a deep copy so a synchronization run never mutates the
// aggregate it was handed.
func (a *Aggregate) Clone() *Aggregate {
	if a == nil {
		return nil
	}
	out := *a
	out.Topics = slices.Clone(a.Topics)
	out.Commits = cloneCommits(a.Commits)
	if a.Issues != nil {
		out.Issues = make([]Issue, len(a.Issues))
		for i, issue := range a.Issues {
			out.Issues[i] = issue.Clone()
		}
	}
	if a.PullRequests != nil {
		out.PullRequests = make([]PullRequest, len(a.PullRequests))
		for i, pr := range a.PullRequests {
			out.PullRequests[i] = pr.Clone()
		}
	}
	return &out
}

// Clone returns a deep copy of the issue
func (i Issue) Clone() Issue {
	i.Labels = slices.Clone(i.Labels)
	return i
}

// Clone returns a deep copy of the commit
func (c Commit) Clone() Commit {
	c.Files = slices.Clone(c.Files)
	return c
}

// Clone returns a deep copy of the pull request
func (p PullRequest) Clone() PullRequest {
	if p.Details != nil {
		d := p.Details.Clone()
		p.Details = &d
	}
	p.Commits = cloneCommits(p.Commits)
	p.Comments = slices.Clone(p.Comments)
	return p
}

// Clone returns a deep copy of the details
func (d PullRequestDetails) Clone() PullRequestDetails {
	d.RequestedReviewers = slices.Clone(d.RequestedReviewers)
	d.AssignedTo = slices.Clone(d.AssignedTo)
	d.Labels = slices.Clone(d.Labels)
	return d
}

func cloneCommits(commits []Commit) []Commit {
	if commits == nil {
		return nil
	}
	out := make([]Commit, len(commits))
	for i, c := range commits {
		out[i] = c.Clone()
	}
	return out
}

// FindPullRequest returns the stored pull request with the given number
func (a *Aggregate) FindPullRequest(number int) (*PullRequest, bool) {
	for i := range a.PullRequests {
		if a.PullRequests[i].Number == number {
			return &a.PullRequests[i], true
		}
	}
	return nil, false
}

// FindIssue returns the stored issue with the given number
func (a *Aggregate) FindIssue(number int) (*Issue, bool) {
	for i := range a.Issues {
		if a.Issues[i].Number == number {
			return &a.Issues[i], true
		}
	}
	return nil, false
}
