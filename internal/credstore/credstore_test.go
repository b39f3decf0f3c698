package credstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gitscribe/gitscribe/model"
)

func cred(token, subject string, ttl time.Duration) model.Credential {
	return model.Credential{
		Token:     token,
		SubjectID: subject,
		ExpiresAt: time.Now().Add(ttl),
	}
}

func TestPutGetDelete(t *testing.T) {
	s := New(time.Minute)

	if err := s.Put(cred("tok1", "kim", time.Hour)); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok := s.Get("tok1")
	if !ok || got.SubjectID != "kim" {
		t.Fatalf("expected credential for kim, got (%+v, %v)", got, ok)
	}

	s.Delete("tok1")
	if _, ok := s.Get("tok1"); ok {
		t.Fatal("deleted credential still present")
	}
	s.Delete("tok1") // absent token is a no-op
}

func TestPutRejectsDuplicateToken(t *testing.T) {
	s := New(time.Minute)
	if err := s.Put(cred("tok1", "kim", time.Hour)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(cred("tok1", "lee", time.Hour)); err == nil {
		t.Fatal("expected duplicate token rejection")
	}
}

func TestPutRejectsPastExpiry(t *testing.T) {
	s := New(time.Minute)
	if err := s.Put(cred("tok1", "kim", -time.Second)); err == nil {
		t.Fatal("expected past-expiry rejection")
	}
}

func TestGetChecksExpiryAtReadTime(t *testing.T) {
	s := New(time.Hour) // sweep will not run during the test
	if err := s.Put(cred("tok1", "kim", 50*time.Millisecond)); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Jump past expiry without waiting on the sweep.
	s.now = func() time.Time { return time.Now().Add(time.Second) }
	if _, ok := s.Get("tok1"); ok {
		t.Fatal("expired credential returned as valid before sweep ran")
	}
}

func TestDeleteAllForSubject(t *testing.T) {
	s := New(time.Minute)
	for i := 0; i < 3; i++ {
		if err := s.Put(cred(fmt.Sprintf("kim-%d", i), "kim", time.Hour)); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if err := s.Put(cred("lee-0", "lee", time.Hour)); err != nil {
		t.Fatalf("put: %v", err)
	}

	if n := s.DeleteAllForSubject("kim"); n != 3 {
		t.Fatalf("expected 3 deleted, got %d", n)
	}
	for i := 0; i < 3; i++ {
		if _, ok := s.Get(fmt.Sprintf("kim-%d", i)); ok {
			t.Fatal("kim credential survived subject wipe")
		}
	}
	if _, ok := s.Get("lee-0"); !ok {
		t.Fatal("unrelated credential was deleted")
	}
}

func TestSweepEvictsExpired(t *testing.T) {
	s := New(time.Minute)
	if err := s.Put(cred("fresh", "kim", time.Hour)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(cred("stale", "kim", 10*time.Millisecond)); err != nil {
		t.Fatalf("put: %v", err)
	}

	s.now = func() time.Time { return time.Now().Add(time.Second) }
	if n := s.Sweep(); n != 1 {
		t.Fatalf("expected 1 evicted, got %d", n)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 remaining, got %d", s.Len())
	}
}

func TestBackgroundSweepLifecycle(t *testing.T) {
	s := New(10 * time.Millisecond)
	if err := s.Put(cred("stale", "kim", 20*time.Millisecond)); err != nil {
		t.Fatalf("put: %v", err)
	}

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for s.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweep did not evict expired credential")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := New(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok := fmt.Sprintf("tok-%d", i)
			if err := s.Put(cred(tok, "kim", time.Hour)); err != nil {
				t.Errorf("put: %v", err)
			}
			s.Get(tok)
			s.DeleteAllForSubject("other")
		}(i)
	}
	wg.Wait()
	if s.Len() != 16 {
		t.Fatalf("expected 16 credentials, got %d", s.Len())
	}
}
