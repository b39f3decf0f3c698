// Package model defines the core domain types shared across all GitScribe packages.
// It has zero dependencies on other GitScribe packages.
package model

import (
	"errors"
	"time"
)

// Kind tags the activity union.
type Kind string

const (
	KindCommit      Kind = "commit"
	KindPullRequest Kind = "pull_request"
)

// Activity is a single unit of repository activity: a commit or a pull request.
// Kind selects which variant field is set; consumers must switch on Kind
// exhaustively rather than probing for non-nil variants.
type Activity struct {
	Kind      Kind      `json:"kind"`
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
	URL       string    `json:"url"`

	Commit      *CommitInfo      `json:"commit,omitempty"`
	PullRequest *PullRequestInfo `json:"pull_request,omitempty"`
}

// CommitInfo holds the commit-only fields of an Activity.
type CommitInfo struct {
	SHA string `json:"sha"`
}

// PullRequestInfo holds the pull-request-only fields of an Activity.
type PullRequestInfo struct {
	Number   int        `json:"number"`
	State    string     `json:"state"`
	MergedAt *time.Time `json:"merged_at,omitempty"`
}

// Enrichment field names recorded in Enriched.Degraded.
const (
	FieldDiff     = "diff"
	FieldComments = "comments"
	FieldReadme   = "readme"
)

// Enriched is an Activity plus bounded supplementary text. Each supplementary
// field is independently empty when its sub-fetch failed; Degraded records
// which fields failed so degraded state is observable rather than inferred
// from emptiness.
type Enriched struct {
	Activity

	Body              string   `json:"body,omitempty"`
	DiffText          string   `json:"diff_text"`
	DiffTruncated     bool     `json:"diff_truncated"`
	CommentsText      string   `json:"comments_text"`
	CommentsTruncated bool     `json:"comments_truncated"`
	ReadmeText        string   `json:"readme_text,omitempty"`
	Degraded          []string `json:"degraded,omitempty"`
}

// MarkDegraded records a failed sub-fetch for the named field.
func (e *Enriched) MarkDegraded(field string) {
	e.Degraded = append(e.Degraded, field)
}

// IsDegraded reports whether the named field's sub-fetch failed.
func (e *Enriched) IsDegraded(field string) bool {
	for _, f := range e.Degraded {
		if f == field {
			return true
		}
	}
	return false
}

// GenerationRequest is the input to prompt assembly and generation.
type GenerationRequest struct {
	Repository string     `json:"repository"`
	Activity   []Enriched `json:"activity"`
	Language   string     `json:"language,omitempty"`
	Tone       string     `json:"tone,omitempty"`

	// RetrievedContext is optional context injected by the retrieval
	// augmenter. Empty when augmentation was skipped or unavailable.
	RetrievedContext string `json:"retrieved_context,omitempty"`
}

// GeneratedPost is the success payload of a generation.
type GeneratedPost struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Format  string `json:"format"` // always "markdown"
}

// GenerationFailure is the terminal failure payload of a generation.
type GenerationFailure struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// GenerationSources lists the activity a post was generated from, split by
// kind for the wire response.
type GenerationSources struct {
	Commits      []Activity `json:"commits,omitempty"`
	PullRequests []Activity `json:"pull_requests,omitempty"`
}

// GenerationResult is the tagged outcome of one generation request.
// Exactly one of Success or Failure is set; both states are final.
// Sources accompanies Success only.
type GenerationResult struct {
	Success *GeneratedPost     `json:"post,omitempty"`
	Sources *GenerationSources `json:"sources,omitempty"`
	Failure *GenerationFailure `json:"error,omitempty"`
}

// Post is a persisted article. Sources is populated for freshly generated
// posts only; the store does not persist it.
type Post struct {
	ID         string             `json:"id"`
	Repository string             `json:"repository"`
	Title      string             `json:"title"`
	Content    string             `json:"content"`
	Format     string             `json:"format"`
	Language   string             `json:"language,omitempty"`
	Tone       string             `json:"tone,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	Sources    *GenerationSources `json:"sources,omitempty"`
}

// Credential is an opaque session credential. Immutable after creation;
// it is only ever deleted, never mutated.
type Credential struct {
	Token     string    `json:"token"`
	SubjectID string    `json:"subject_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the credential has passed its expiry at the given instant.
func (c Credential) Expired(now time.Time) bool {
	return c.ExpiresAt.Before(now)
}

// Repo identifies a repository accessible to the authenticated user.
type Repo struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Private  bool   `json:"private"`
	URL      string `json:"url"`
}

// Stage tracks where a generation request is in its lifecycle.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageFetching   Stage = "fetching"
	StageEnriching  Stage = "enriching"
	StageAugmenting Stage = "augmenting"
	StagePrompting  Stage = "prompting"
	StageGenerating Stage = "generating"
	StageSucceeded  Stage = "succeeded"
	StageFailed     Stage = "failed"
)

// --- Error taxonomy ---

// ErrorKind is the wire-visible failure classification.
type ErrorKind string

const (
	KindNotFound              ErrorKind = "not_found"
	KindUnauthorized          ErrorKind = "unauthorized"
	KindUpstreamTransient     ErrorKind = "upstream_transient"
	KindProviderFailure       ErrorKind = "provider_failure"
	KindInvalidOutputContract ErrorKind = "invalid_output_contract"
	KindInternal              ErrorKind = "internal"
)

// Sentinel errors. Components wrap these with fmt.Errorf("...: %w", err)
// and callers classify with errors.Is.
var (
	ErrNotFound                = errors.New("upstream resource not found")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrUpstreamTransient       = errors.New("upstream transient failure")
	ErrProviderFailure         = errors.New("generation provider failure")
	ErrInvalidOutputContract   = errors.New("model output violates structured contract")
	ErrAugmentationUnavailable = errors.New("retrieval augmentation unavailable")
)

// Classify maps an error to its wire-visible kind.
func Classify(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrUpstreamTransient):
		return KindUpstreamTransient
	case errors.Is(err, ErrInvalidOutputContract):
		return KindInvalidOutputContract
	case errors.Is(err, ErrProviderFailure):
		return KindProviderFailure
	default:
		return KindInternal
	}
}

// Clip truncates s to exactly max bytes and reports whether truncation
// happened. Deterministic: no randomness, no rounding to rune boundaries.
// Clip is idempotent: Clip(Clip(s, n)) == Clip(s, n).
func Clip(s string, max int) (string, bool) {
	if max < 0 {
		max = 0
	}
	if len(s) <= max {
		return s, false
	}
	return s[:max], true
}

// Truncate shortens a string to maxLen runes, adding "..." if truncated.
// Used for human-facing summaries (notifications, CLI listings), not for
// enrichment capping; that is Clip's job.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
