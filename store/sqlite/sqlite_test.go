package sqlite

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/gitscribe/gitscribe/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := New(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestPostCRUD(t *testing.T) {
	store := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	post := &model.Post{
		ID:         "abc12345",
		Repository: "owner/repo",
		Title:      "Shipping the sweeper",
		Content:    "# Shipping the sweeper\n\nLong form content.",
		Format:     "markdown",
		Language:   "ko",
		Tone:       "casual",
		CreatedAt:  now,
	}
	if err := store.SavePost(post); err != nil {
		t.Fatalf("save post: %v", err)
	}

	got, err := store.GetPost("abc12345")
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	if got.Title != post.Title || got.Repository != post.Repository {
		t.Fatalf("unexpected post %+v", got)
	}
	if got.Language != "ko" || got.Tone != "casual" {
		t.Fatalf("language/tone not persisted: %+v", got)
	}

	if err := store.DeletePost("abc12345"); err != nil {
		t.Fatalf("delete post: %v", err)
	}
	if _, err := store.GetPost("abc12345"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestGetPostMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetPost("nope"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeletePostMissing(t *testing.T) {
	store := newTestStore(t)
	if err := store.DeletePost("nope"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListPostsNewestFirstWithFilter(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		post := &model.Post{
			ID:         fmt.Sprintf("post-%d", i),
			Repository: "owner/repo",
			Title:      fmt.Sprintf("Post %d", i),
			Content:    "body",
			Format:     "markdown",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.SavePost(post); err != nil {
			t.Fatalf("save post: %v", err)
		}
	}
	other := &model.Post{
		ID: "other", Repository: "other/repo", Title: "Other", Content: "body",
		Format: "markdown", CreatedAt: base,
	}
	if err := store.SavePost(other); err != nil {
		t.Fatalf("save post: %v", err)
	}

	posts, err := store.ListPosts("owner/repo", 0)
	if err != nil {
		t.Fatalf("list posts: %v", err)
	}
	if len(posts) != 3 {
		t.Fatalf("expected 3 posts, got %d", len(posts))
	}
	if posts[0].ID != "post-2" || posts[2].ID != "post-0" {
		t.Fatalf("not newest first: %s, %s", posts[0].ID, posts[2].ID)
	}

	limited, err := store.ListPosts("", 2)
	if err != nil {
		t.Fatalf("list posts: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected limit 2, got %d", len(limited))
	}
}

func TestSavePostFillsCreatedAt(t *testing.T) {
	store := newTestStore(t)
	post := &model.Post{ID: "p1", Repository: "owner/repo", Title: "t", Content: "c", Format: "markdown"}
	if err := store.SavePost(post); err != nil {
		t.Fatalf("save post: %v", err)
	}
	if post.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be filled")
	}
}
