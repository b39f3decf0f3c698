package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gitscribe/gitscribe/internal/activity"
	"github.com/gitscribe/gitscribe/model"
)

func newTestEnricher(t *testing.T, handler http.Handler) *Enricher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gh, err := activity.NewGitHubClient("", srv.URL+"/")
	if err != nil {
		t.Fatalf("new github client: %v", err)
	}
	return New(gh, nil)
}

func TestPullRequestEnrichment(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/owner/repo/pulls/42", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"number":42,"title":"Add caching layer","state":"closed",
			"body":"Introduces an LRU cache in front of the store.",
			"merged_at":"2026-08-10T09:00:00Z","user":{"login":"kim"},
			"created_at":"2026-08-09T09:00:00Z","html_url":"https://github.test/pr/42"}`)
	})
	mux.HandleFunc("/repos/owner/repo/pulls/42/files", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"filename":"cache/lru.go","status":"added","additions":120,"deletions":0,
			 "patch":"@@ -0,0 +1,120 @@\n+package cache"},
			{"filename":"store/store.go","status":"modified","additions":8,"deletions":3,
			 "patch":"@@ -10,3 +10,8 @@"}
		]`)
	})
	mux.HandleFunc("/repos/owner/repo/issues/42/comments", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"user":{"login":"lee"},"body":"LGTM, one nit on naming."},
			{"user":{"login":"bot"},"body":"   "},
			{"user":{"login":"kim"},"body":"Renamed in the follow-up commit."}
		]`)
	})
	mux.HandleFunc("/repos/owner/repo/readme", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"type":"file","content":"# Demo service"}`)
	})
	e := newTestEnricher(t, mux)

	got, err := e.PullRequest(context.Background(), "owner/repo", 42)
	if err != nil {
		t.Fatalf("enrich PR: %v", err)
	}
	if got.Kind != model.KindPullRequest || got.PullRequest.Number != 42 {
		t.Fatalf("unexpected activity: %+v", got.Activity)
	}
	if got.Body != "Introduces an LRU cache in front of the store." {
		t.Fatalf("unexpected body %q", got.Body)
	}
	if !strings.Contains(got.DiffText, "cache/lru.go (added) +120/-0") {
		t.Fatalf("diff missing file header: %q", got.DiffText)
	}
	if !strings.Contains(got.DiffText, "@@ -10,3 +10,8 @@") {
		t.Fatalf("diff missing patch body: %q", got.DiffText)
	}
	if got.DiffTruncated {
		t.Fatal("small diff should not be truncated")
	}
	wantComments := "lee: LGTM, one nit on naming.\n---\nkim: Renamed in the follow-up commit."
	if got.CommentsText != wantComments {
		t.Fatalf("unexpected comments:\n%q\nwant:\n%q", got.CommentsText, wantComments)
	}
	if got.ReadmeText != "# Demo service" {
		t.Fatalf("unexpected readme %q", got.ReadmeText)
	}
	if len(got.Degraded) != 0 {
		t.Fatalf("expected no degraded fields, got %v", got.Degraded)
	}
}

func TestPullRequestWithNoChangedFiles(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/owner/repo/pulls/5", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"number":5,"title":"Empty PR","state":"open","user":{"login":"kim"},
			"created_at":"2026-08-01T00:00:00Z"}`)
	})
	mux.HandleFunc("/repos/owner/repo/pulls/5/files", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("/repos/owner/repo/issues/5/comments", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("/repos/owner/repo/readme", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"type":"file","content":""}`)
	})
	e := newTestEnricher(t, mux)

	got, err := e.PullRequest(context.Background(), "owner/repo", 5)
	if err != nil {
		t.Fatalf("enrich PR: %v", err)
	}
	if got.DiffText != "" || got.DiffTruncated {
		t.Fatalf("expected empty untruncated diff, got (%q, %v)", got.DiffText, got.DiffTruncated)
	}
	if got.CommentsText != "" {
		t.Fatalf("expected empty comments, got %q", got.CommentsText)
	}
	if len(got.Degraded) != 0 {
		t.Fatalf("empty fields are not degraded fields, got %v", got.Degraded)
	}
}

func TestPullRequestDegradesOnSubFetchFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/owner/repo/pulls/8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"number":8,"title":"Flaky upstream","state":"open","user":{"login":"kim"},
			"created_at":"2026-08-01T00:00:00Z","body":"still here"}`)
	})
	mux.HandleFunc("/repos/owner/repo/pulls/8/files", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"boom"}`, http.StatusBadGateway)
	})
	mux.HandleFunc("/repos/owner/repo/issues/8/comments", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"boom"}`, http.StatusInternalServerError)
	})
	mux.HandleFunc("/repos/owner/repo/readme", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"no readme"}`, http.StatusNotFound)
	})
	e := newTestEnricher(t, mux)

	got, err := e.PullRequest(context.Background(), "owner/repo", 8)
	if err != nil {
		t.Fatalf("sub-fetch failures must not fail enrichment: %v", err)
	}
	if got.Body != "still here" {
		t.Fatalf("unexpected body %q", got.Body)
	}
	for _, f := range []string{model.FieldDiff, model.FieldComments, model.FieldReadme} {
		if !got.IsDegraded(f) {
			t.Fatalf("expected %s degraded, got %v", f, got.Degraded)
		}
	}
	if got.DiffText != "" || got.CommentsText != "" || got.ReadmeText != "" {
		t.Fatal("degraded fields must stay empty")
	}
}

func TestPullRequestFatalWhenMissing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/owner/repo/pulls/99", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})
	e := newTestEnricher(t, mux)

	_, err := e.PullRequest(context.Background(), "owner/repo", 99)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCommitEnrichment(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/owner/repo/commits/abc123", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sha":"abc123","html_url":"https://github.test/c/abc123",
			"commit":{"message":"Fix race in sweeper\n\nLonger explanation.",
				"author":{"name":"Kim","date":"2026-08-05T10:00:00Z"}},
			"author":{"login":"kim"},
			"files":[
				{"filename":"sweep.go","status":"modified","additions":4,"deletions":2,
				 "patch":"@@ -1,2 +1,4 @@"}
			]}`)
	})
	e := newTestEnricher(t, mux)

	got, err := e.Commit(context.Background(), "owner/repo", "abc123")
	if err != nil {
		t.Fatalf("enrich commit: %v", err)
	}
	if got.Kind != model.KindCommit || got.Commit.SHA != "abc123" {
		t.Fatalf("unexpected activity: %+v", got.Activity)
	}
	if got.Title != "Fix race in sweeper" {
		t.Fatalf("unexpected title %q", got.Title)
	}
	if got.Body != "Fix race in sweeper\n\nLonger explanation." {
		t.Fatalf("unexpected body %q", got.Body)
	}
	if !strings.Contains(got.DiffText, "sweep.go (modified) +4/-2") {
		t.Fatalf("diff missing file header: %q", got.DiffText)
	}
}

func TestCommitDiffCappedExactly(t *testing.T) {
	patch := strings.Repeat("+x\n", 200)
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/owner/repo/commits/big", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"sha":"big",
			"commit":{"message":"huge change","author":{"date":"2026-08-05T10:00:00Z"}},
			"files":[
				{"filename":"a.go","status":"modified","additions":200,"deletions":0,"patch":%q},
				{"filename":"b.go","status":"modified","additions":200,"deletions":0,"patch":%q}
			]}`, patch, patch)
	})
	e := newTestEnricher(t, mux).WithCaps(0, 100, 0, 0)

	got, err := e.Commit(context.Background(), "owner/repo", "big")
	if err != nil {
		t.Fatalf("enrich commit: %v", err)
	}
	if !got.DiffTruncated {
		t.Fatal("expected truncated diff")
	}
	if len(got.DiffText) != 100 {
		t.Fatalf("expected diff length exactly 100, got %d", len(got.DiffText))
	}

	// Clipping an already clipped diff changes nothing.
	again, truncated := model.Clip(got.DiffText, 100)
	if again != got.DiffText || truncated {
		t.Fatal("clipped diff must be stable under re-clipping")
	}
}

func TestJoinCappedKeepsWholeBlocksUnderCap(t *testing.T) {
	blocks := []string{"aaaa", "bbbb", "cccc"}
	got, truncated := joinCapped(blocks, "\n", 100)
	if truncated {
		t.Fatal("unexpected truncation")
	}
	if got != "aaaa\nbbbb\ncccc" {
		t.Fatalf("unexpected join %q", got)
	}
}

func TestJoinCappedStopsAtCrossingBlock(t *testing.T) {
	blocks := []string{"aaaa", "bbbb", "cccc"}
	got, truncated := joinCapped(blocks, "\n", 6)
	if !truncated {
		t.Fatal("expected truncation")
	}
	if len(got) != 6 {
		t.Fatalf("expected length 6, got %d (%q)", len(got), got)
	}
	if got != "aaaa\nb" {
		t.Fatalf("unexpected clipped join %q", got)
	}
}
