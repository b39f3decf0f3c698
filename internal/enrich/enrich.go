// Package enrich attaches bounded supplementary text (diff, comments, readme)
// to activity items. Only the master-record fetch is fatal; every sub-fetch
// degrades to an empty field and a mark on the result, so one flaky upstream
// call never sinks the whole item.
package enrich

import (
	"context"
	"fmt"
	"log"
	"strings"

	gogh "github.com/google/go-github/v68/github"
	"golang.org/x/time/rate"

	"github.com/gitscribe/gitscribe/internal/activity"
	"github.com/gitscribe/gitscribe/model"
)

// Default caps, in characters. Commit diffs get a larger budget than PR
// diffs because a PR carries body and comments alongside.
const (
	DefaultPRDiffCap     = 16000
	DefaultCommitDiffCap = 24000
	DefaultCommentsCap   = 8000
	DefaultMaxFiles      = 20
)

// commentSeparator joins individual comment blocks.
const commentSeparator = "\n---\n"

// Enricher fetches supplementary detail for activity items from GitHub.
type Enricher struct {
	gh      *gogh.Client
	limiter *rate.Limiter

	prDiffCap     int
	commitDiffCap int
	commentsCap   int
	maxFiles      int
}

// New creates an Enricher with default caps. limiter may be nil.
func New(gh *gogh.Client, limiter *rate.Limiter) *Enricher {
	return &Enricher{
		gh:            gh,
		limiter:       limiter,
		prDiffCap:     DefaultPRDiffCap,
		commitDiffCap: DefaultCommitDiffCap,
		commentsCap:   DefaultCommentsCap,
		maxFiles:      DefaultMaxFiles,
	}
}

// WithCaps overrides the truncation caps. Used by tests; zero values keep
// the current setting.
func (e *Enricher) WithCaps(prDiff, commitDiff, comments, maxFiles int) *Enricher {
	if prDiff > 0 {
		e.prDiffCap = prDiff
	}
	if commitDiff > 0 {
		e.commitDiffCap = commitDiff
	}
	if comments > 0 {
		e.commentsCap = comments
	}
	if maxFiles > 0 {
		e.maxFiles = maxFiles
	}
	return e
}

func (e *Enricher) wait(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	return e.limiter.Wait(ctx)
}

// PullRequest enriches a single pull request. The PR record fetch itself is
// mandatory and its failure propagates; files, comments and readme are each
// best-effort.
func (e *Enricher) PullRequest(ctx context.Context, repoRef string, number int) (model.Enriched, error) {
	owner, repo, err := activity.SplitRepo(repoRef)
	if err != nil {
		return model.Enriched{}, err
	}

	if err := e.wait(ctx); err != nil {
		return model.Enriched{}, err
	}
	pr, _, err := e.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return model.Enriched{}, fmt.Errorf("fetching PR %s#%d: %w", repoRef, number, activity.MapError(err))
	}

	enriched := model.Enriched{
		Activity: activity.FromPullRequest(pr),
		Body:     pr.GetBody(),
	}

	if diff, truncated, err := e.pullRequestDiff(ctx, owner, repo, number); err != nil {
		log.Printf("enrich: PR %s#%d diff fetch failed: %v", repoRef, number, err)
		enriched.MarkDegraded(model.FieldDiff)
	} else {
		enriched.DiffText = diff
		enriched.DiffTruncated = truncated
	}

	if comments, truncated, err := e.pullRequestComments(ctx, owner, repo, number); err != nil {
		log.Printf("enrich: PR %s#%d comments fetch failed: %v", repoRef, number, err)
		enriched.MarkDegraded(model.FieldComments)
	} else {
		enriched.CommentsText = comments
		enriched.CommentsTruncated = truncated
	}

	if readme, err := e.readme(ctx, owner, repo); err != nil {
		log.Printf("enrich: %s readme fetch failed: %v", repoRef, err)
		enriched.MarkDegraded(model.FieldReadme)
	} else {
		enriched.ReadmeText = readme
	}

	return enriched, nil
}

// Commit enriches a single commit with its diff against the first parent.
func (e *Enricher) Commit(ctx context.Context, repoRef, sha string) (model.Enriched, error) {
	owner, repo, err := activity.SplitRepo(repoRef)
	if err != nil {
		return model.Enriched{}, err
	}

	if err := e.wait(ctx); err != nil {
		return model.Enriched{}, err
	}
	commit, _, err := e.gh.Repositories.GetCommit(ctx, owner, repo, sha, nil)
	if err != nil {
		return model.Enriched{}, fmt.Errorf("fetching commit %s@%s: %w", repoRef, sha, activity.MapError(err))
	}

	enriched := model.Enriched{
		Activity: activity.FromCommit(commit),
		Body:     commit.GetCommit().GetMessage(),
	}

	// The commit detail response already includes per-file patches vs the
	// first parent, so there is no separate diff sub-fetch to degrade.
	blocks := fileBlocks(commit.Files, e.maxFiles)
	enriched.DiffText, enriched.DiffTruncated = joinCapped(blocks, "\n", e.commitDiffCap)

	return enriched, nil
}

func (e *Enricher) pullRequestDiff(ctx context.Context, owner, repo string, number int) (string, bool, error) {
	if err := e.wait(ctx); err != nil {
		return "", false, err
	}
	files, _, err := e.gh.PullRequests.ListFiles(ctx, owner, repo, number, &gogh.ListOptions{
		PerPage: e.maxFiles,
	})
	if err != nil {
		return "", false, activity.MapError(err)
	}
	blocks := fileBlocks(files, e.maxFiles)
	diff, truncated := joinCapped(blocks, "\n", e.prDiffCap)
	return diff, truncated, nil
}

func (e *Enricher) pullRequestComments(ctx context.Context, owner, repo string, number int) (string, bool, error) {
	if err := e.wait(ctx); err != nil {
		return "", false, err
	}
	comments, _, err := e.gh.Issues.ListComments(ctx, owner, repo, number, &gogh.IssueListCommentsOptions{
		ListOptions: gogh.ListOptions{PerPage: 100},
	})
	if err != nil {
		return "", false, activity.MapError(err)
	}

	blocks := make([]string, 0, len(comments))
	for _, c := range comments {
		body := strings.TrimSpace(c.GetBody())
		if body == "" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("%s: %s", c.GetUser().GetLogin(), body))
	}
	text, truncated := joinCapped(blocks, commentSeparator, e.commentsCap)
	return text, truncated, nil
}

func (e *Enricher) readme(ctx context.Context, owner, repo string) (string, error) {
	if err := e.wait(ctx); err != nil {
		return "", err
	}
	readme, _, err := e.gh.Repositories.GetReadme(ctx, owner, repo, nil)
	if err != nil {
		return "", activity.MapError(err)
	}
	content, err := readme.GetContent()
	if err != nil {
		return "", fmt.Errorf("decoding readme: %w", err)
	}
	return content, nil
}

// fileBlocks renders changed-file records as "path/status/+adds/-dels/patch"
// blocks, at most maxFiles of them.
func fileBlocks(files []*gogh.CommitFile, maxFiles int) []string {
	blocks := make([]string, 0, len(files))
	for i, f := range files {
		if i == maxFiles {
			break
		}
		var b strings.Builder
		fmt.Fprintf(&b, "### %s (%s) +%d/-%d\n", f.GetFilename(), f.GetStatus(), f.GetAdditions(), f.GetDeletions())
		if patch := f.GetPatch(); patch != "" {
			b.WriteString(patch)
			b.WriteString("\n")
		}
		blocks = append(blocks, b.String())
	}
	return blocks
}

// joinCapped concatenates whole blocks while the running length stays within
// the cap; the block that crosses the cap is appended and the accumulated text
// is hard-clipped to exactly cap characters. Deterministic by construction.
func joinCapped(blocks []string, sep string, cap int) (string, bool) {
	var b strings.Builder
	truncated := false
	for i, blk := range blocks {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(blk)
		if b.Len() > cap {
			truncated = true
			break
		}
	}
	if !truncated {
		return b.String(), false
	}
	clipped, _ := model.Clip(b.String(), cap)
	return clipped, true
}
