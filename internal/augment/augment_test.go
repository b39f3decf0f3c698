package augment

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/gitscribe/gitscribe/model"
)

type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ix, err := NewIndex(db)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	return ix
}

func TestSearchRanksByCosineSimilarity(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	if err := ix.Add(ctx, "p1", "kim/blog", "About caching", "cache post", []float32{1, 0, 0}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := ix.Add(ctx, "p2", "kim/blog", "About testing", "test post", []float32{0, 1, 0}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := ix.Add(ctx, "p3", "other/repo", "Unrelated", "other repo", []float32{1, 0, 0}); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := ix.Search(ctx, "kim/blog", []float32{0.9, 0.1, 0}, 2, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 snippets, got %d", len(got))
	}
	if got[0].PostID != "p1" {
		t.Fatalf("expected p1 ranked first, got %s", got[0].PostID)
	}
	if got[0].Score <= got[1].Score {
		t.Fatalf("scores not descending: %f <= %f", got[0].Score, got[1].Score)
	}
}

func TestSearchFiltersBelowThreshold(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	if err := ix.Add(ctx, "p1", "kim/blog", "Close match", "near", []float32{1, 0, 0}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := ix.Add(ctx, "p2", "kim/blog", "Far match", "far", []float32{0, 1, 0}); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := ix.Search(ctx, "kim/blog", []float32{1, 0, 0}, 5, 0.5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].PostID != "p1" {
		t.Fatalf("expected only p1 above threshold, got %+v", got)
	}
}

func TestRetrieveFormatsContext(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	if err := ix.Add(ctx, "p1", "kim/blog", "Sweeper deep dive", "The sweeper evicts expired entries.", []float32{1, 0, 0}); err != nil {
		t.Fatalf("add: %v", err)
	}

	a := New(ix, &fakeEmbedder{}, 3)
	got, err := a.Retrieve(ctx, "kim/blog", "sweeper work")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if !strings.Contains(got, "### Sweeper deep dive") {
		t.Fatalf("missing snippet title: %q", got)
	}
	if !strings.Contains(got, "The sweeper evicts expired entries.") {
		t.Fatalf("missing snippet body: %q", got)
	}
}

func TestRetrieveEmptyIndexYieldsEmptyContext(t *testing.T) {
	a := New(newTestIndex(t), &fakeEmbedder{}, 3)
	got, err := a.Retrieve(context.Background(), "kim/blog", "anything")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty context, got %q", got)
	}
}

func TestRetrieveWrapsProviderFailure(t *testing.T) {
	a := New(newTestIndex(t), &fakeEmbedder{err: errors.New("quota exceeded")}, 3)
	_, err := a.Retrieve(context.Background(), "kim/blog", "anything")
	if !errors.Is(err, model.ErrAugmentationUnavailable) {
		t.Fatalf("expected ErrAugmentationUnavailable, got %v", err)
	}
}

func TestIndexPostEmbedsExcerpt(t *testing.T) {
	ix := newTestIndex(t)
	emb := &fakeEmbedder{vectors: map[string][]float32{}}
	a := New(ix, emb, 3)

	post := model.Post{
		ID:         "p1",
		Repository: "kim/blog",
		Title:      "Long post",
		Content:    strings.Repeat("x", 5000),
	}
	if err := a.IndexPost(context.Background(), post); err != nil {
		t.Fatalf("index post: %v", err)
	}

	got, err := ix.Search(context.Background(), "kim/blog", []float32{1, 0, 0}, 1, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 snippet, got %d", len(got))
	}
	if len(got[0].Content) != snippetExcerpt {
		t.Fatalf("expected excerpt capped at %d, got %d", snippetExcerpt, len(got[0].Content))
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Fatalf("identical vectors: expected 1, got %f", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); math.Abs(got) > 1e-9 {
		t.Fatalf("orthogonal vectors: expected 0, got %f", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{1}); got != 0 {
		t.Fatalf("mismatched lengths: expected 0, got %f", got)
	}
}

func TestEmbeddingBlobRoundTrip(t *testing.T) {
	in := []float32{0.5, -1.25, 3}
	out := bytesToFloat32s(float32sToBytes(in))
	if len(out) != len(in) {
		t.Fatalf("length mismatch: %d != %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("value %d mismatch: %f != %f", i, in[i], out[i])
		}
	}
	if bytesToFloat32s([]byte{1, 2, 3}) != nil {
		t.Fatal("misaligned blob should yield nil")
	}
}
