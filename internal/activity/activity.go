// Package activity fetches commit and pull-request activity from GitHub.
// It normalizes upstream records into model.Activity values and maps upstream
// failures onto the model error taxonomy. No retries happen at this layer;
// retry policy belongs to the caller.
package activity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	gogh "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/gitscribe/gitscribe/model"
)

// maxPerPage is GitHub's hard per-page ceiling.
const maxPerPage = 100

// NewGitHubClient builds an authenticated go-github client. baseURL overrides
// the API endpoint (GitHub Enterprise, tests) and must be left empty for
// github.com.
func NewGitHubClient(token, baseURL string) (*gogh.Client, error) {
	var gh *gogh.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		gh = gogh.NewClient(oauth2.NewClient(context.Background(), ts))
	} else {
		gh = gogh.NewClient(nil)
	}

	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing GitHub base URL: %w", err)
		}
		gh.BaseURL = u
	}

	return gh, nil
}

// Fetcher lists repository activity for the authenticated user.
type Fetcher struct {
	gh      *gogh.Client
	limiter *rate.Limiter
}

// New creates a Fetcher. limiter caps outbound GitHub calls and may be nil.
func New(gh *gogh.Client, limiter *rate.Limiter) *Fetcher {
	return &Fetcher{gh: gh, limiter: limiter}
}

func (f *Fetcher) wait(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	return f.limiter.Wait(ctx)
}

// Commits returns up to limit commits for the repository, newest first,
// with no duplicate SHA. Upstream ordering is not trusted: results are
// re-sorted locally by author date before returning.
func (f *Fetcher) Commits(ctx context.Context, repoRef string, limit int) ([]model.Activity, error) {
	owner, repo, err := SplitRepo(repoRef)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 30
	}

	opts := &gogh.CommitsListOptions{
		ListOptions: gogh.ListOptions{PerPage: min(limit, maxPerPage)},
	}

	seen := make(map[string]bool)
	var out []model.Activity
	for len(out) < limit {
		if err := f.wait(ctx); err != nil {
			return nil, err
		}
		commits, resp, err := f.gh.Repositories.ListCommits(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing commits for %s: %w", repoRef, MapError(err))
		}
		for _, c := range commits {
			sha := c.GetSHA()
			if sha == "" || seen[sha] {
				continue
			}
			seen[sha] = true
			out = append(out, FromCommit(c))
			if len(out) == limit {
				break
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// PullRequests returns up to limit pull requests for the repository in the
// given state ("open", "closed", "all"), sorted by update time descending.
func (f *Fetcher) PullRequests(ctx context.Context, repoRef, state string, limit int) ([]model.Activity, error) {
	owner, repo, err := SplitRepo(repoRef)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 30
	}
	if state == "" {
		state = "all"
	}

	opts := &gogh.PullRequestListOptions{
		State:       state,
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gogh.ListOptions{PerPage: min(limit, maxPerPage)},
	}

	var out []model.Activity
	updated := make(map[string]int64, limit)
	for len(out) < limit {
		if err := f.wait(ctx); err != nil {
			return nil, err
		}
		prs, resp, err := f.gh.PullRequests.List(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing pull requests for %s: %w", repoRef, MapError(err))
		}
		for _, pr := range prs {
			a := FromPullRequest(pr)
			out = append(out, a)
			updated[a.ID] = pr.GetUpdatedAt().Unix()
			if len(out) == limit {
				break
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	sort.SliceStable(out, func(i, j int) bool {
		return updated[out[i].ID] > updated[out[j].ID]
	})
	return out, nil
}

// AccessibleRepos issues two affiliation queries (owned, collaborator) and
// merges the results by repository ID, keeping the first occurrence.
func (f *Fetcher) AccessibleRepos(ctx context.Context) ([]model.Repo, error) {
	var out []model.Repo
	seen := make(map[int64]bool)

	for _, affiliation := range []string{"owner", "collaborator"} {
		repos, err := f.listRepos(ctx, affiliation)
		if err != nil {
			return nil, err
		}
		for _, r := range repos {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *Fetcher) listRepos(ctx context.Context, affiliation string) ([]model.Repo, error) {
	opts := &gogh.RepositoryListByAuthenticatedUserOptions{
		Affiliation: affiliation,
		Sort:        "updated",
		ListOptions: gogh.ListOptions{PerPage: maxPerPage},
	}

	var out []model.Repo
	for {
		if err := f.wait(ctx); err != nil {
			return nil, err
		}
		repos, resp, err := f.gh.Repositories.ListByAuthenticatedUser(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("listing %s repos: %w", affiliation, MapError(err))
		}
		for _, r := range repos {
			out = append(out, model.Repo{
				ID:       r.GetID(),
				FullName: r.GetFullName(),
				Private:  r.GetPrivate(),
				URL:      r.GetHTMLURL(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// --- Normalization ---

// FromCommit normalizes an upstream commit record into a commit Activity.
// The title is the first line of the commit message.
func FromCommit(c *gogh.RepositoryCommit) model.Activity {
	title := c.GetCommit().GetMessage()
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	author := c.GetAuthor().GetLogin()
	if author == "" {
		author = c.GetCommit().GetAuthor().GetName()
	}
	return model.Activity{
		Kind:      model.KindCommit,
		ID:        c.GetSHA(),
		Title:     title,
		Author:    author,
		Timestamp: c.GetCommit().GetAuthor().GetDate().Time,
		URL:       c.GetHTMLURL(),
		Commit:    &model.CommitInfo{SHA: c.GetSHA()},
	}
}

// FromPullRequest normalizes an upstream pull request into a PR Activity.
func FromPullRequest(pr *gogh.PullRequest) model.Activity {
	var mergedAt *gogh.Timestamp
	if pr.MergedAt != nil {
		mergedAt = pr.MergedAt
	}
	info := &model.PullRequestInfo{
		Number: pr.GetNumber(),
		State:  pr.GetState(),
	}
	if mergedAt != nil {
		t := mergedAt.Time
		info.MergedAt = &t
	}
	return model.Activity{
		Kind:        model.KindPullRequest,
		ID:          fmt.Sprintf("pr-%d", pr.GetNumber()),
		Title:       pr.GetTitle(),
		Author:      pr.GetUser().GetLogin(),
		Timestamp:   pr.GetCreatedAt().Time,
		URL:         pr.GetHTMLURL(),
		PullRequest: info,
	}
}

// --- Error mapping ---

// MapError converts go-github errors onto the model taxonomy.
// 404 → ErrNotFound, auth rejections → ErrUnauthorized, rate limits and
// server errors → ErrUpstreamTransient. Anything else (network failures,
// timeouts) is treated as transient.
func MapError(err error) error {
	var rateErr *gogh.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("%w: rate limited", model.ErrUpstreamTransient)
	}
	var abuseErr *gogh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return fmt.Errorf("%w: secondary rate limit", model.ErrUpstreamTransient)
	}
	var ghErr *gogh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		code := ghErr.Response.StatusCode
		switch {
		case code == 404:
			return fmt.Errorf("%w: %s", model.ErrNotFound, ghErr.Message)
		case code == 401 || code == 403:
			return fmt.Errorf("%w: %s", model.ErrUnauthorized, ghErr.Message)
		case code >= 500:
			return fmt.Errorf("%w: upstream returned %d", model.ErrUpstreamTransient, code)
		}
	}
	return fmt.Errorf("%w: %v", model.ErrUpstreamTransient, err)
}

// SplitRepo parses an "owner/repo" reference.
func SplitRepo(fullName string) (owner, repo string, err error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo format %q, expected \"owner/repo\"", fullName)
	}
	return parts[0], parts[1], nil
}
