// Package provision implements the idempotent "ensure resource" primitive:
// search the remote store before creating, and return the existing resource
// when one is found.
package provision

import (
	"context"
	"fmt"

	"github.com/jun/refhub/internal/store"
)

// Error reports which named resource failed to provision and at which step.
// Callers must not assume partial success.
type Error struct {
	Name string
	Step string // "search" or "create"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ensure %q: %s failed: %v", e.Name, e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Provisioner ensures uniquely-named resources exist in the remote store.
type Provisioner struct {
	store store.RemoteStore
}

// New creates a Provisioner over the given store.
func New(s store.RemoteStore) *Provisioner {
	return &Provisioner{store: s}
}

// EnsureFolder returns the newest existing folder with the given name under
// parentID (empty parentID means the account root), creating it when none
// exists.
//
// Search and create are not transactional against the remote store: two
// concurrent calls with the same name and parent can both observe an empty
// search and both create, leaving two same-named folders behind. That is an
// accepted property of the design, surfaced here rather than masked.
func (p *Provisioner) EnsureFolder(ctx context.Context, token, name, parentID string) (*store.Resource, error) {
	if name == "" {
		return nil, fmt.Errorf("folder name is required")
	}

	q := store.Query{Name: name, Kind: store.KindFolder, ParentID: parentID}
	existing, err := p.store.Find(ctx, token, q)
	if err != nil {
		return nil, &Error{Name: name, Step: "search", Err: err}
	}
	if len(existing) > 0 {
		// Newest-first ordering makes the first match the canonical one.
		r := existing[0]
		return &r, nil
	}

	spec := store.CreateSpec{Name: name, Kind: store.KindFolder}
	if parentID != "" {
		spec.Parents = []string{parentID}
	}
	created, err := p.store.Create(ctx, token, spec)
	if err != nil {
		return nil, &Error{Name: name, Step: "create", Err: err}
	}
	return created, nil
}
