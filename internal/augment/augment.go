// Package augment retrieves related past posts by vector similarity and
// formats them as optional prompt context. Augmentation is strictly
// best-effort: any failure surfaces as model.ErrAugmentationUnavailable and
// the pipeline proceeds without context.
package augment

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/gitscribe/gitscribe/model"
)

// Snippet is a retrieval result: an indexed excerpt of a past post with its
// cosine similarity to the query.
type Snippet struct {
	ID         int64
	PostID     string
	Repository string
	Title      string
	Content    string
	Score      float64
}

// Index stores post snippets and their embeddings in SQLite.
type Index struct {
	db *sql.DB
}

// NewIndex prepares the snippet table on an already open database.
func NewIndex(db *sql.DB) (*Index, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS post_snippets (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			post_id    TEXT NOT NULL,
			repository TEXT NOT NULL,
			title      TEXT NOT NULL,
			content    TEXT NOT NULL,
			embedding  BLOB NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_snippets_repository
			ON post_snippets(repository);
	`)
	if err != nil {
		return nil, fmt.Errorf("creating snippet table: %w", err)
	}
	return &Index{db: db}, nil
}

// Add inserts one snippet with its embedding.
func (ix *Index) Add(ctx context.Context, postID, repository, title, content string, emb []float32) error {
	_, err := ix.db.ExecContext(ctx,
		`INSERT INTO post_snippets (post_id, repository, title, content, embedding)
		 VALUES (?, ?, ?, ?, ?)`,
		postID, repository, title, content, float32sToBytes(emb),
	)
	if err != nil {
		return fmt.Errorf("inserting snippet: %w", err)
	}
	return nil
}

// Search returns up to topK snippets for a repository with cosine similarity
// to the query embedding at or above threshold, ordered by similarity desc.
// An empty result is valid. Brute force over all rows; post volume for a
// single repository stays small enough that this is fine.
func (ix *Index) Search(ctx context.Context, repository string, query []float32, topK int, threshold float64) ([]Snippet, error) {
	if topK <= 0 {
		topK = 3
	}

	rows, err := ix.db.QueryContext(ctx,
		`SELECT id, post_id, repository, title, content, embedding
		 FROM post_snippets WHERE repository = ?`,
		repository,
	)
	if err != nil {
		return nil, fmt.Errorf("querying snippets: %w", err)
	}
	defer rows.Close()

	var results []Snippet
	for rows.Next() {
		var s Snippet
		var blob []byte
		if err := rows.Scan(&s.ID, &s.PostID, &s.Repository, &s.Title, &s.Content, &blob); err != nil {
			return nil, err
		}
		emb := bytesToFloat32s(blob)
		if len(emb) == 0 {
			continue
		}
		s.Score = cosineSimilarity(query, emb)
		if s.Score < threshold {
			continue
		}
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DefaultMinScore filters out snippets that are barely related to the query.
const DefaultMinScore = 0.3

// Augmenter ties an embedder and a snippet index together.
type Augmenter struct {
	index    *Index
	embedder Embedder
	topK     int
	minScore float64
}

// New creates an Augmenter. topK <= 0 defaults to 3.
func New(index *Index, embedder Embedder, topK int) *Augmenter {
	if topK <= 0 {
		topK = 3
	}
	return &Augmenter{index: index, embedder: embedder, topK: topK, minScore: DefaultMinScore}
}

// WithMinScore overrides the similarity threshold.
func (a *Augmenter) WithMinScore(minScore float64) *Augmenter {
	a.minScore = minScore
	return a
}

// snippetExcerpt bounds how much of a post body gets indexed and rendered.
const snippetExcerpt = 1500

// IndexPost embeds an excerpt of a saved post and adds it to the index.
func (a *Augmenter) IndexPost(ctx context.Context, post model.Post) error {
	excerpt, _ := model.Clip(post.Content, snippetExcerpt)
	emb, err := a.embedder.Embed(ctx, post.Title+"\n\n"+excerpt)
	if err != nil {
		return fmt.Errorf("embedding post %s: %w", post.ID, err)
	}
	return a.index.Add(ctx, post.ID, post.Repository, post.Title, excerpt, emb)
}

// Retrieve embeds the query and returns formatted context from the most
// similar past posts. Empty results yield an empty string and nil error; any
// provider or storage failure is wrapped in model.ErrAugmentationUnavailable
// so callers can degrade instead of failing the request.
func (a *Augmenter) Retrieve(ctx context.Context, repository, query string) (string, error) {
	emb, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrAugmentationUnavailable, err)
	}
	snippets, err := a.index.Search(ctx, repository, emb, a.topK, a.minScore)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrAugmentationUnavailable, err)
	}
	return FormatContext(snippets), nil
}

// FormatContext renders snippets as a markdown block for prompt injection.
func FormatContext(snippets []Snippet) string {
	if len(snippets) == 0 {
		return ""
	}
	var b strings.Builder
	for i, s := range snippets {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "### %s\n%s\n", s.Title, s.Content)
	}
	return b.String()
}

// --- Vector helpers ---

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func float32sToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32s(buf []byte) []float32 {
	if len(buf)%4 != 0 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
