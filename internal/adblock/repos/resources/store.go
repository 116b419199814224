// Package resources holds the redirect resources that $redirect rules refer
// to, and loads them from JSON bundles and resource directories.
package resources

import (
	"fmt"
	"sync"

	"github.com/AdguardTeam/golibs/errors"
	"go.uber.org/multierr"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// ErrDuplicate is returned when a resource name or alias is already taken.
const ErrDuplicate errors.Error = "resource name already added"

// Store maps resource names and aliases to resources. It is safe for
// concurrent use.
type Store struct {
	mu     sync.RWMutex
	byName map[string]domain.Resource
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{byName: make(map[string]domain.Resource)}
}

// Add validates r and stores it under its name and aliases.
func (s *Store) Add(r domain.Resource) error {
	if err := r.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys(r) {
		if _, ok := s.byName[key]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicate, key)
		}
	}
	for _, key := range keys(r) {
		s.byName[key] = r
	}
	return nil
}

// Replace swaps the store contents for rs. Invalid and duplicate resources
// are left out; the returned error lists every one of them.
func (s *Store) Replace(rs []domain.Resource) (err error) {
	next := make(map[string]domain.Resource, len(rs))
	for _, r := range rs {
		if verr := r.Validate(); verr != nil {
			err = multierr.Append(err, verr)
			continue
		}
		dup := false
		for _, key := range keys(r) {
			if _, ok := next[key]; ok {
				err = multierr.Append(err, fmt.Errorf("%w: %q", ErrDuplicate, key))
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		for _, key := range keys(r) {
			next[key] = r
		}
	}

	s.mu.Lock()
	s.byName = next
	s.mu.Unlock()
	return err
}

// Get returns the resource registered under name or one of its aliases.
func (s *Store) Get(name string) (domain.Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byName[name]
	return r, ok
}

// DataURL returns the data URL of the named resource.
func (s *Store) DataURL(name string) (string, bool) {
	r, ok := s.Get(name)
	if !ok {
		return "", false
	}
	return r.DataURL(), true
}

// Len returns the number of registered names, aliases included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byName)
}

func keys(r domain.Resource) []string {
	out := make([]string, 0, 1+len(r.Aliases))
	out = append(out, r.Name)
	for _, a := range r.Aliases {
		if a != "" && a != r.Name {
			out = append(out, a)
		}
	}
	return out
}
