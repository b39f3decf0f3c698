// Package engine orchestrates the generation pipeline for GitScribe.
// It depends only on interfaces (activity source, enricher, augmenter,
// generation client, post store, notifier).
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gitscribe/gitscribe/internal/llm"
	"github.com/gitscribe/gitscribe/internal/prompt"
	"github.com/gitscribe/gitscribe/model"
)

// ActivitySource lists repository activity.
type ActivitySource interface {
	Commits(ctx context.Context, repoRef string, limit int) ([]model.Activity, error)
	PullRequests(ctx context.Context, repoRef, state string, limit int) ([]model.Activity, error)
}

// Enricher attaches bounded detail to a single activity item.
type Enricher interface {
	Commit(ctx context.Context, repoRef, sha string) (model.Enriched, error)
	PullRequest(ctx context.Context, repoRef string, number int) (model.Enriched, error)
}

// Augmenter retrieves optional context from past posts and indexes new ones.
type Augmenter interface {
	Retrieve(ctx context.Context, repository, query string) (string, error)
	IndexPost(ctx context.Context, post model.Post) error
}

// PostStore persists generated posts.
type PostStore interface {
	SavePost(post *model.Post) error
	GetPost(id string) (*model.Post, error)
	ListPosts(repository string, limit int) ([]*model.Post, error)
}

// Notifier announces a saved post. Delivery failures never fail generation.
type Notifier interface {
	PostGenerated(post *model.Post) error
}

// Config holds engine-specific configuration.
type Config struct {
	// ActivityLimit caps how many items of each kind are fetched per request.
	ActivityLimit int

	// PRState filters fetched pull requests ("open", "closed", "all").
	PRState string
}

// Request describes one generation run. Ref optionally targets a single
// activity item instead of the recent-activity window: numeric refs (with or
// without a "#" or "pr/" prefix) select a pull request, anything else is
// treated as a commit SHA.
type Request struct {
	Repository string
	Ref        string
	Limit      int
	Language   string
	Tone       string
}

// Observer receives pipeline progress. Both methods may be nil-receiver safe
// no-ops; Delta is only called on the streaming path.
type Observer struct {
	Stage func(stage model.Stage)
	Delta func(delta string) error
}

func (o *Observer) stage(s model.Stage) {
	if o != nil && o.Stage != nil {
		o.Stage(s)
	}
}

func (o *Observer) delta(d string) error {
	if o == nil || o.Delta == nil {
		return nil
	}
	return o.Delta(d)
}

// Engine runs generation requests.
type Engine struct {
	config    Config
	source    ActivitySource
	enricher  Enricher
	augmenter Augmenter // nil disables augmentation
	prompts   *prompt.Builder
	generator llm.Client
	store     PostStore
	notifier  Notifier // nil disables notifications
}

// New creates an Engine. augmenter and notifier may be nil.
func New(
	cfg Config,
	source ActivitySource,
	enricher Enricher,
	augmenter Augmenter,
	prompts *prompt.Builder,
	generator llm.Client,
	store PostStore,
	notifier Notifier,
) *Engine {
	if cfg.ActivityLimit <= 0 {
		cfg.ActivityLimit = 10
	}
	if cfg.PRState == "" {
		cfg.PRState = "all"
	}
	return &Engine{
		config:    cfg,
		source:    source,
		enricher:  enricher,
		augmenter: augmenter,
		prompts:   prompts,
		generator: generator,
		store:     store,
		notifier:  notifier,
	}
}

// Store returns the post store.
func (e *Engine) Store() PostStore { return e.store }

// Generate runs the full pipeline in batch mode and persists the result.
func (e *Engine) Generate(ctx context.Context, req Request, obs *Observer) (*model.Post, error) {
	genReq, err := e.prepare(ctx, req, obs)
	if err != nil {
		return nil, err
	}

	obs.stage(model.StageGenerating)
	p := e.prompts.Build(*genReq)
	raw, err := e.completeWithRetry(ctx, p)
	if err != nil {
		return nil, err
	}

	generated, err := llm.ParseStrict(raw)
	if err != nil {
		return nil, err
	}
	return e.finish(ctx, req, generated, genReq.Activity, obs)
}

// GenerateStream runs the pipeline with streamed generation. Text deltas are
// forwarded to the observer as they arrive; the assembled response still has
// to satisfy the structured-output contract before the post is saved.
func (e *Engine) GenerateStream(ctx context.Context, req Request, obs *Observer) (*model.Post, error) {
	genReq, err := e.prepare(ctx, req, obs)
	if err != nil {
		return nil, err
	}

	obs.stage(model.StageGenerating)
	p := e.prompts.Build(*genReq)

	assembler := llm.NewAssembler("")
	forwarded := false
	stream := func() error {
		return e.generator.Stream(ctx, p.System, p.User, func(delta string) error {
			forwarded = true
			assembler.Feed(delta)
			return obs.delta(delta)
		})
	}

	if err := stream(); err != nil {
		// Retry only while nothing has reached the consumer yet.
		if !errors.Is(err, model.ErrProviderFailure) || forwarded {
			return nil, err
		}
		log.Printf("engine: provider failure before first delta, retrying once: %v", err)
		if err := stream(); err != nil {
			return nil, err
		}
	}

	generated, err := llm.ParseStrict(assembler.String())
	if err != nil {
		return nil, err
	}
	return e.finish(ctx, req, generated, genReq.Activity, obs)
}

// prepare runs fetch, enrich and augment, producing the generation request
// for prompt assembly.
func (e *Engine) prepare(ctx context.Context, req Request, obs *Observer) (*model.GenerationRequest, error) {
	var enriched []model.Enriched
	var err error
	if ref := strings.TrimSpace(req.Ref); ref != "" {
		enriched, err = e.enrichRef(ctx, req.Repository, ref, obs)
	} else {
		enriched, err = e.enrichRecent(ctx, req, obs)
	}
	if err != nil {
		return nil, err
	}

	genReq := &model.GenerationRequest{
		Repository: req.Repository,
		Activity:   enriched,
		Language:   req.Language,
		Tone:       req.Tone,
	}

	if e.augmenter != nil {
		obs.stage(model.StageAugmenting)
		retrieved, err := e.augmenter.Retrieve(ctx, req.Repository, retrievalQuery(enriched))
		if err != nil {
			// Augmentation is best-effort; a missing context block is fine.
			log.Printf("engine: augmentation unavailable: %v", err)
		} else {
			genReq.RetrievedContext = retrieved
		}
	}

	obs.stage(model.StagePrompting)
	return genReq, nil
}

// enrichRecent fetches the recent-activity window and enriches every item.
func (e *Engine) enrichRecent(ctx context.Context, req Request, obs *Observer) ([]model.Enriched, error) {
	limit := req.Limit
	if limit <= 0 || limit > e.config.ActivityLimit {
		limit = e.config.ActivityLimit
	}

	obs.stage(model.StageFetching)
	commits, err := e.source.Commits(ctx, req.Repository, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching commits: %w", err)
	}
	prs, err := e.source.PullRequests(ctx, req.Repository, e.config.PRState, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching pull requests: %w", err)
	}
	items := append(prs, commits...)
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no activity in %s", model.ErrNotFound, req.Repository)
	}
	if len(items) > limit {
		items = items[:limit]
	}

	obs.stage(model.StageEnriching)
	enriched := make([]model.Enriched, 0, len(items))
	for _, item := range items {
		var en model.Enriched
		switch item.Kind {
		case model.KindCommit:
			en, err = e.enricher.Commit(ctx, req.Repository, item.Commit.SHA)
		case model.KindPullRequest:
			en, err = e.enricher.PullRequest(ctx, req.Repository, item.PullRequest.Number)
		default:
			return nil, fmt.Errorf("unknown activity kind %q", item.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("enriching %s: %w", item.ID, err)
		}
		enriched = append(enriched, en)
	}
	return enriched, nil
}

// enrichRef resolves a single targeted activity reference. The master record
// fetch happens inside the enricher, so the fetch stage covers it.
func (e *Engine) enrichRef(ctx context.Context, repository, ref string, obs *Observer) ([]model.Enriched, error) {
	obs.stage(model.StageFetching)
	obs.stage(model.StageEnriching)

	var en model.Enriched
	var err error
	if number, ok := parsePRRef(ref); ok {
		en, err = e.enricher.PullRequest(ctx, repository, number)
	} else {
		en, err = e.enricher.Commit(ctx, repository, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("enriching %s: %w", ref, err)
	}
	return []model.Enriched{en}, nil
}

// parsePRRef reports whether ref names a pull request and returns its number.
func parsePRRef(ref string) (int, bool) {
	ref = strings.TrimPrefix(strings.TrimPrefix(ref, "pr/"), "#")
	n, err := strconv.Atoi(ref)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// completeWithRetry invokes batch generation, retrying once on provider
// failure. Contract violations are never retried.
func (e *Engine) completeWithRetry(ctx context.Context, p prompt.Prompt) (string, error) {
	raw, err := e.generator.Complete(ctx, p.System, p.User)
	if err == nil {
		return raw, nil
	}
	if !errors.Is(err, model.ErrProviderFailure) {
		return "", err
	}
	log.Printf("engine: provider failure, retrying once: %v", err)
	return e.generator.Complete(ctx, p.System, p.User)
}

// finish persists the generated post, then indexes and announces it.
func (e *Engine) finish(ctx context.Context, req Request, generated *model.GeneratedPost, used []model.Enriched, obs *Observer) (*model.Post, error) {
	post := &model.Post{
		ID:         uuid.New().String()[:8],
		Repository: req.Repository,
		Title:      generated.Title,
		Content:    generated.Content,
		Format:     generated.Format,
		Language:   req.Language,
		Tone:       req.Tone,
		CreatedAt:  time.Now().UTC(),
		Sources:    sources(used),
	}
	if err := e.store.SavePost(post); err != nil {
		return nil, fmt.Errorf("saving post: %w", err)
	}

	if e.augmenter != nil {
		if err := e.augmenter.IndexPost(ctx, *post); err != nil {
			log.Printf("engine: indexing post %s failed: %v", post.ID, err)
		}
	}
	if e.notifier != nil {
		if err := e.notifier.PostGenerated(post); err != nil {
			log.Printf("engine: notification for post %s failed: %v", post.ID, err)
		}
	}

	obs.stage(model.StageSucceeded)
	return post, nil
}

// sources splits the activity a post was generated from by kind.
func sources(used []model.Enriched) *model.GenerationSources {
	if len(used) == 0 {
		return nil
	}
	src := &model.GenerationSources{}
	for _, item := range used {
		switch item.Kind {
		case model.KindCommit:
			src.Commits = append(src.Commits, item.Activity)
		case model.KindPullRequest:
			src.PullRequests = append(src.PullRequests, item.Activity)
		}
	}
	return src
}

// retrievalQuery summarizes the enriched activity for similarity search.
func retrievalQuery(items []model.Enriched) string {
	titles := make([]string, 0, len(items))
	for _, item := range items {
		titles = append(titles, item.Title)
	}
	return strings.Join(titles, "\n")
}

// Result converts a pipeline outcome into the wire-visible tagged result.
func Result(post *model.Post, err error) model.GenerationResult {
	if err != nil {
		return model.GenerationResult{
			Failure: &model.GenerationFailure{
				Kind:    model.Classify(err),
				Message: err.Error(),
			},
		}
	}
	return model.GenerationResult{
		Success: &model.GeneratedPost{
			Title:   post.Title,
			Content: post.Content,
			Format:  post.Format,
		},
		Sources: post.Sources,
	}
}
