package syncer

import (
	"github.com/skridlevsky/repo-activity/internal/aggregate"
)

// Merge folds a delta into a copy of agg and moves its snapshot to cursor.
// agg is not modified. New records are appended first, so updates in the
// delta also reach records that were opened in the same run. Updates for
// numbers the aggregate does not hold are dropped. Commits and comments are
// appended without deduplication. An empty cursor keeps the current snapshot.
func Merge(agg *aggregate.Aggregate, d *Delta, cursor string) *aggregate.Aggregate {
	out := agg.Clone()

	out.Commits = append(out.Commits, d.NewCommits...)
	out.Issues = append(out.Issues, d.NewIssues...)
	out.PullRequests = append(out.PullRequests, d.NewPullRequests...)

	for i := range out.Issues {
		if issue, ok := d.Issues[out.Issues[i].Number]; ok {
			out.Issues[i] = issue.Clone()
		}
	}

	for i := range out.PullRequests {
		pr := &out.PullRequests[i]
		u, ok := d.PullRequests[pr.Number]
		if !ok {
			continue
		}
		if u.Details != nil {
			details := u.Details.Clone()
			pr.Details = &details
		}
		for _, c := range u.Commits {
			pr.Commits = append(pr.Commits, c.Clone())
		}
		pr.Comments = append(pr.Comments, u.Comments...)
	}

	if cursor != "" {
		out.Snapshot = cursor
	}
	return out
}
