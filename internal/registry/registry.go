// Package registry resolves recipient indices to the addresses entitled to
// claim for them. Membership management itself lives outside the settlement
// core; the round only consults a Registry chosen at construction time.
package registry

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownRecipient is returned for indices with no registered owner.
var ErrUnknownRecipient = errors.New("registry: unknown recipient")

// Registry is the recipient-lookup collaborator of a funding round.
type Registry interface {
	// Owner returns the address entitled to claim for the recipient index.
	Owner(index uint64) (string, error)
	// IsValidRecipient reports whether the index names a registered
	// recipient.
	IsValidRecipient(index uint64) bool
}

// Simple is an in-memory Registry backed by a map. It is safe for concurrent
// use.
type Simple struct {
	mu     sync.RWMutex
	owners map[uint64]string
}

// NewSimple creates an empty in-memory registry.
func NewSimple() *Simple {
	return &Simple{owners: make(map[uint64]string)}
}

// SetOwner registers or replaces the owner of a recipient index.
func (r *Simple) SetOwner(index uint64, owner string) error {
	if owner == "" {
		return fmt.Errorf("registry: empty owner for recipient %d", index)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[index] = owner
	return nil
}

// Remove deregisters a recipient index.
func (r *Simple) Remove(index uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.owners, index)
}

func (r *Simple) Owner(index uint64) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[index]
	if !ok {
		return "", fmt.Errorf("%w: index %d", ErrUnknownRecipient, index)
	}
	return owner, nil
}

func (r *Simple) IsValidRecipient(index uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.owners[index]
	return ok
}
