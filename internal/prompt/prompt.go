// Package prompt assembles generation prompts from enriched activity.
// Assembly is pure and deterministic: the same request always yields the
// same prompt text, byte for byte.
package prompt

import (
	"fmt"
	"strings"

	"github.com/gitscribe/gitscribe/model"
)

// DefaultSystemPrompt is the default system prompt for post generation.
const DefaultSystemPrompt = `You are a technical writer turning repository activity into a development-log article.

You will receive:
1. A repository name
2. A list of recent activity items (commits and pull requests) with diffs and discussion
3. Optional retrieved context from related past posts

Write an engaging, technically accurate article about the work described.
Ground every claim in the provided activity; never invent changes that are
not in the diffs.

Return ONLY a JSON object (no other text, no code fences) in this exact format:

{"title": "Short descriptive title", "content": "Full article body in markdown"}

Both fields are required and must be non-empty strings.`

// emptyMarker stands in for an absent section so the prompt shape stays
// fixed regardless of input.
const emptyMarker = "(none)"

// Prompt is an assembled system/user prompt pair.
type Prompt struct {
	System string
	User   string
}

// Builder assembles prompts. The zero value is not usable; use New.
type Builder struct {
	system string

	// preprocess, when set, rewrites each activity item before rendering.
	// Rendering order and section layout are unaffected.
	preprocess func(model.Enriched) model.Enriched
}

// New creates a Builder with the default system prompt.
func New() *Builder {
	return &Builder{system: DefaultSystemPrompt}
}

// WithSystemPrompt overrides the system prompt.
func (b *Builder) WithSystemPrompt(s string) *Builder {
	if s != "" {
		b.system = s
	}
	return b
}

// WithPreprocess installs a hook that rewrites each activity item before it
// is rendered into the prompt.
func (b *Builder) WithPreprocess(fn func(model.Enriched) model.Enriched) *Builder {
	b.preprocess = fn
	return b
}

// Build assembles the prompt for a generation request.
func (b *Builder) Build(req model.GenerationRequest) Prompt {
	var u strings.Builder

	u.WriteString("## Repository\n")
	u.WriteString(orMarker(req.Repository))
	u.WriteString("\n\n## Activity\n")

	if len(req.Activity) == 0 {
		u.WriteString(emptyMarker)
		u.WriteString("\n")
	}
	for i, item := range req.Activity {
		if b.preprocess != nil {
			item = b.preprocess(item)
		}
		writeActivity(&u, i+1, item)
	}

	u.WriteString("\n## Project readme\n")
	u.WriteString(orMarker(firstReadme(req.Activity)))

	u.WriteString("\n\n## Related past posts\n")
	u.WriteString(orMarker(req.RetrievedContext))

	u.WriteString("\n\n## Writing directives\n")
	writeDirectives(&u, req)

	return Prompt{System: b.system, User: u.String()}
}

func writeActivity(u *strings.Builder, n int, item model.Enriched) {
	switch item.Kind {
	case model.KindPullRequest:
		fmt.Fprintf(u, "### %d. Pull request #%d: %s\n", n, item.PullRequest.Number, item.Title)
		fmt.Fprintf(u, "Author: %s | State: %s | %s\n", item.Author, item.PullRequest.State, item.Timestamp.UTC().Format("2006-01-02"))
	default:
		fmt.Fprintf(u, "### %d. Commit %s: %s\n", n, shortSHA(item.ID), item.Title)
		fmt.Fprintf(u, "Author: %s | %s\n", item.Author, item.Timestamp.UTC().Format("2006-01-02"))
	}

	if item.Body != "" && item.Body != item.Title {
		fmt.Fprintf(u, "\nDescription:\n%s\n", item.Body)
	}

	u.WriteString("\nDiff:\n")
	u.WriteString(orMarker(item.DiffText))
	if item.DiffTruncated {
		u.WriteString("\n[diff truncated]")
	}
	u.WriteString("\n")

	u.WriteString("\nDiscussion:\n")
	u.WriteString(orMarker(item.CommentsText))
	if item.CommentsTruncated {
		u.WriteString("\n[discussion truncated]")
	}
	u.WriteString("\n\n")
}

func writeDirectives(u *strings.Builder, req model.GenerationRequest) {
	if req.Language != "" {
		fmt.Fprintf(u, "- Write the article in language %q.\n", req.Language)
	} else {
		u.WriteString("- Write the article in English.\n")
	}
	if req.Tone != "" {
		fmt.Fprintf(u, "- Use a %s tone.\n", req.Tone)
	} else {
		u.WriteString("- Use a clear, conversational engineering tone.\n")
	}
	u.WriteString("- Use markdown formatting in the content field.\n")
}

// firstReadme returns the readme text of the first activity item that has
// one. All items in a request share a repository, so one readme suffices.
func firstReadme(items []model.Enriched) string {
	for _, item := range items {
		if item.ReadmeText != "" {
			return item.ReadmeText
		}
	}
	return ""
}

func orMarker(s string) string {
	if strings.TrimSpace(s) == "" {
		return emptyMarker
	}
	return s
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
