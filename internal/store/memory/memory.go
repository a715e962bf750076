// Package memory provides an in-memory store.RemoteStore used for demo
// sessions and tests. Each bearer token maps to its own isolated account.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jun/refhub/internal/store"
)

const maxDemoItemCount = 100

// Store implements store.RemoteStore backed by process memory.
type Store struct {
	mu       sync.Mutex
	accounts map[string]*account
	seq      int
}

type account struct {
	resources map[string]record
	grants    map[string][]Grant
}

type record struct {
	resource store.Resource
	seq      int
}

// Grant is a recorded permission grant, retained so tests and the demo UI
// can inspect sharing state.
type Grant struct {
	GranteeEmail string
	Role         string
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{accounts: make(map[string]*account)}
}

func (s *Store) accountFor(token string) *account {
	a, ok := s.accounts[token]
	if !ok {
		a = &account{
			resources: make(map[string]record),
			grants:    make(map[string][]Grant),
		}
		s.accounts[token] = a
	}
	return a
}

// Find filters the account's resources by the query, newest-first.
func (s *Store) Find(ctx context.Context, token string, q store.Query) ([]store.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.accountFor(token)
	matched := []record{}
	for _, rec := range a.resources {
		if q.Name != "" && rec.resource.Name != q.Name {
			continue
		}
		if q.Kind != "" && rec.resource.Kind != q.Kind {
			continue
		}
		if q.ParentID != "" && !hasParent(rec.resource, q.ParentID) {
			continue
		}
		if q.SharedWithMe && rec.resource.Ownership != store.OwnershipSharedWithMe {
			continue
		}
		matched = append(matched, rec)
	}

	// Newest-first; the per-store sequence breaks creation-time ties.
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq > matched[j].seq })

	resources := []store.Resource{}
	for _, rec := range matched {
		resources = append(resources, rec.resource)
		if q.PageSize > 0 && int64(len(resources)) >= q.PageSize {
			break
		}
	}
	return resources, nil
}

// Create adds a resource to the token's account.
func (s *Store) Create(ctx context.Context, token string, spec store.CreateSpec) (*store.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.accountFor(token)
	if len(a.resources) >= maxDemoItemCount {
		return nil, &store.RequestError{StatusCode: 403, Body: fmt.Sprintf("item limit reached (max %d items)", maxDemoItemCount)}
	}

	switch spec.Kind {
	case store.KindFolder, store.KindFile:
	case store.KindShortcut:
		target, ok := a.resources[spec.TargetID]
		if !ok {
			return nil, &store.RequestError{StatusCode: 400, Body: fmt.Sprintf("shortcut target %q does not exist", spec.TargetID)}
		}
		if target.resource.Kind == store.KindShortcut {
			return nil, &store.RequestError{StatusCode: 400, Body: "shortcut target must not be a shortcut"}
		}
	default:
		return nil, &store.RequestError{StatusCode: 400, Body: fmt.Sprintf("unsupported resource kind %q", spec.Kind)}
	}

	s.seq++
	r := store.Resource{
		ID:        uuid.New().String(),
		Name:      spec.Name,
		Kind:      spec.Kind,
		Parents:   append([]string{}, spec.Parents...),
		TargetID:  spec.TargetID,
		Ownership: store.OwnershipOwned,
		CreatedAt: time.Now(),
		MIMEType:  spec.MIMEType,
	}
	a.resources[r.ID] = record{resource: r, seq: s.seq}

	created := r
	return &created, nil
}

// GetByID fetches a resource by id regardless of containment.
func (s *Store) GetByID(ctx context.Context, token, id string) (*store.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.accountFor(token)
	rec, ok := a.resources[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	r := rec.resource
	return &r, nil
}

// GrantPermission records a sharing grant on the resource.
func (s *Store) GrantPermission(ctx context.Context, token, id, granteeEmail, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.accountFor(token)
	if _, ok := a.resources[id]; !ok {
		return store.ErrNotFound
	}
	a.grants[id] = append(a.grants[id], Grant{GranteeEmail: granteeEmail, Role: role})
	return nil
}

// Grants returns the grants recorded for a resource.
func (s *Store) Grants(token, id string) []Grant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Grant{}, s.accountFor(token).grants[id]...)
}

// Put seeds a fully-specified resource into the token's account. It exists so
// tests and the demo login can stage shared or cross-drive resources that
// Create cannot express.
func (s *Store) Put(token string, r store.Resource) store.Resource {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.seq++
	s.accountFor(token).resources[r.ID] = record{resource: r, seq: s.seq}
	return r
}

func hasParent(r store.Resource, parentID string) bool {
	for _, p := range r.Parents {
		if p == parentID {
			return true
		}
	}
	return false
}
