package github

import (
	"context"
	"fmt"
	"strings"

	gogithub "github.com/google/go-github/v60/github"

	"github.com/skridlevsky/repo-activity/internal/aggregate"
)

// ResolveLogin turns an email-like identifier into the login of the account
// it belongs to. Anything else is taken to be a login already.
func (c *Client) ResolveLogin(ctx context.Context, identifier string) (string, error) {
	if !strings.Contains(identifier, "@") || !strings.Contains(identifier, ".") {
		return identifier, nil
	}

	const op = "search users"
	result, _, err := c.gh.Search.Users(ctx, identifier, &gogithub.SearchOptions{ListOptions: gogithub.ListOptions{PerPage: 1}})
	if err != nil {
		return "", wrapError(op, err)
	}
	if len(result.Users) == 0 {
		return "", fmt.Errorf("no account for %q: %w", identifier, ErrNotFound)
	}

	return result.Users[0].GetLogin(), nil
}

// GetUser fetches an account's public profile
func (c *Client) GetUser(ctx context.Context, login string) (*aggregate.User, error) {
	u, _, err := c.gh.Users.Get(ctx, login)
	if err != nil {
		return nil, lookupError("get user "+login, err)
	}

	return &aggregate.User{
		Login:       u.GetLogin(),
		ID:          u.GetID(),
		Name:        u.GetName(),
		AvatarURL:   u.GetAvatarURL(),
		URL:         u.GetHTMLURL(),
		Bio:         u.GetBio(),
		Company:     u.GetCompany(),
		Location:    u.GetLocation(),
		PublicRepos: u.GetPublicRepos(),
		Followers:   u.GetFollowers(),
		Following:   u.GetFollowing(),
		CreatedAt:   u.GetCreatedAt().Time,
	}, nil
}

// ListRepositoryNames lists the names of an account's public repositories
func (c *Client) ListRepositoryNames(ctx context.Context, login string) ([]string, error) {
	var names []string
	opts := &gogithub.RepositoryListByUserOptions{ListOptions: gogithub.ListOptions{PerPage: perPage}}
	for {
		repos, resp, err := c.gh.Repositories.ListByUser(ctx, login, opts)
		if err != nil {
			return nil, lookupError("list repositories of "+login, err)
		}

		for _, r := range repos {
			names = append(names, r.GetName())
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return names, nil
}

// FindRepository fetches the metadata of login's repository name. When the
// repository is a fork, activity happens upstream, so the parent is used.
// The returned aggregate carries metadata only.
func (c *Client) FindRepository(ctx context.Context, login, name string) (*aggregate.Aggregate, error) {
	repo, _, err := c.gh.Repositories.Get(ctx, login, name)
	if err != nil {
		return nil, lookupError("get repository "+login+"/"+name, err)
	}
	if repo.GetFork() && repo.Parent != nil {
		repo = repo.Parent
	}

	owner, short, err := splitRepo(repo.GetFullName())
	if err != nil {
		return nil, err
	}
	topics, _, err := c.gh.Repositories.ListAllTopics(ctx, owner, short)
	if err != nil {
		return nil, wrapError("list topics", err)
	}
	if topics == nil {
		topics = []string{}
	}

	return &aggregate.Aggregate{
		ID:              repo.GetID(),
		Name:            repo.GetName(),
		FullName:        repo.GetFullName(),
		Description:     repo.GetDescription(),
		URL:             repo.GetHTMLURL(),
		CreatedAt:       repo.GetCreatedAt().Time,
		UpdatedAt:       repo.GetUpdatedAt().Time,
		Language:        repo.GetLanguage(),
		Stars:           repo.GetStargazersCount(),
		WatchersCount:   repo.GetWatchersCount(),
		ForksCount:      repo.GetForksCount(),
		OpenIssuesCount: repo.GetOpenIssuesCount(),
		DefaultBranch:   repo.GetDefaultBranch(),
		Visibility:      repo.GetVisibility(),
		Topics:          topics,
		Owner: aggregate.Owner{
			Login: repo.GetOwner().GetLogin(),
			ID:    repo.GetOwner().GetID(),
			URL:   repo.GetOwner().GetHTMLURL(),
		},
	}, nil
}
