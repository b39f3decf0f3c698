// Package credstore holds session credentials in memory with TTL expiry.
// Credentials do not survive a restart. The store is an explicit service
// with a start/stop lifecycle so tests can run independent instances.
package credstore

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gitscribe/gitscribe/model"
)

// Store is a concurrency-safe in-memory credential store. Expired entries are
// evicted by a periodic sweep; Get additionally checks expiry at read time so
// an expired-but-unswept credential is never returned as valid.
type Store struct {
	mu    sync.RWMutex
	creds map[string]model.Credential

	sweepInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// now is swappable for expiry tests.
	now func() time.Time
}

// New creates a Store sweeping at the given interval.
func New(sweepInterval time.Duration) *Store {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	return &Store{
		creds:         make(map[string]model.Credential),
		sweepInterval: sweepInterval,
		now:           time.Now,
	}
}

// Put inserts a credential. The token must be unused and the expiry must be
// in the future.
func (s *Store) Put(cred model.Credential) error {
	if cred.Token == "" {
		return fmt.Errorf("credential token is empty")
	}
	if !cred.ExpiresAt.After(s.now()) {
		return fmt.Errorf("credential expiry is not in the future")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.creds[cred.Token]; exists {
		return fmt.Errorf("credential token already exists")
	}
	s.creds[cred.Token] = cred
	return nil
}

// Get returns the credential for a token. A token that is absent or expired
// yields ok=false.
func (s *Store) Get(token string) (model.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.creds[token]
	if !ok || cred.Expired(s.now()) {
		return model.Credential{}, false
	}
	return cred, true
}

// Delete removes a single credential. Deleting an absent token is a no-op.
func (s *Store) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, token)
}

// DeleteAllForSubject removes every credential minted for a subject. The
// scan-and-delete runs under the write lock so it cannot interleave with a
// concurrent Put.
func (s *Store) DeleteAllForSubject(subjectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for token, cred := range s.creds {
		if cred.SubjectID == subjectID {
			delete(s.creds, token)
			n++
		}
	}
	return n
}

// Len returns the number of stored credentials, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.creds)
}

// Start launches the background sweep. It returns immediately.
func (s *Store) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					log.Printf("credstore: swept %d expired credentials", n)
				}
			}
		}
	}()
}

// Stop cancels the sweep and waits for it to exit.
func (s *Store) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Sweep removes every expired credential and returns how many were evicted.
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for token, cred := range s.creds {
		if cred.Expired(now) {
			delete(s.creds, token)
			n++
		}
	}
	return n
}
