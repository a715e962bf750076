// Package refindex maintains the project reference list: shortcut-style
// pointers under the workspace root aimed at folders the user picked, which
// may live in other ownership or drive contexts.
package refindex

import (
	"context"
	"fmt"

	"github.com/jun/refhub/internal/store"
)

// Context labels encoded into a reference's display name so the index is
// meaningful without a second lookup per entry.
const (
	LabelSharedDrive   = "Shared Drive"
	LabelSharedFolder  = "Shared Folder"
	LabelPersonalDrive = "Personal Drive"
)

// Entry is one element of the reference list. A shortcut points at its
// TargetID; a plain folder (legacy or manually created under the root) is its
// own target.
type Entry struct {
	Resource store.Resource `json:"resource"`
	TargetID string         `json:"targetId"`
}

// Index lists and extends the reference list under a workspace root.
type Index struct {
	store store.RemoteStore
}

// New creates an Index over the given store.
func New(s store.RemoteStore) *Index {
	return &Index{store: s}
}

// List returns the direct children of the workspace root, newest-first, with
// each entry's target resolved.
func (x *Index) List(ctx context.Context, token, rootID string) ([]Entry, error) {
	if rootID == "" {
		return nil, fmt.Errorf("workspace root id is required")
	}

	children, err := x.store.Find(ctx, token, store.Query{ParentID: rootID})
	if err != nil {
		return nil, err
	}

	entries := []Entry{}
	for _, r := range children {
		// Plain files under the root are workspace content, not references.
		if r.Kind == store.KindFile {
			continue
		}
		entries = append(entries, Entry{Resource: r, TargetID: ResolveTarget(r)})
	}
	return entries, nil
}

// Attach creates a shortcut to the target under the workspace root and
// re-reads the full list so the visible index reflects remote truth rather
// than a local patch. A shortcut is never a valid target: picking one
// attaches its underlying resource instead, so not every store backend can
// be trusted to reject the degenerate shortcut-to-shortcut create.
func (x *Index) Attach(ctx context.Context, token, rootID string, target store.Resource) (*store.Resource, []Entry, error) {
	if rootID == "" {
		return nil, nil, fmt.Errorf("workspace root id is required")
	}
	if target.ID == "" {
		return nil, nil, fmt.Errorf("target resource id is required")
	}

	if target.Kind == store.KindShortcut {
		if target.TargetID == "" {
			return nil, nil, fmt.Errorf("shortcut %q has no target to attach", target.ID)
		}
		resolved, err := x.store.GetByID(ctx, token, target.TargetID)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve shortcut target %q: %w", target.TargetID, err)
		}
		if resolved.Kind == store.KindShortcut {
			return nil, nil, fmt.Errorf("shortcut %q targets another shortcut", target.ID)
		}
		target = *resolved
	}

	spec := store.CreateSpec{
		Name:     fmt.Sprintf("%s (%s)", target.Name, ContextLabel(target)),
		Kind:     store.KindShortcut,
		Parents:  []string{rootID},
		TargetID: target.ID,
	}
	created, err := x.store.Create(ctx, token, spec)
	if err != nil {
		return nil, nil, err
	}

	entries, err := x.List(ctx, token, rootID)
	if err != nil {
		return created, nil, err
	}
	return created, entries, nil
}

// ResolveTarget returns the id a reference entry ultimately points at.
func ResolveTarget(r store.Resource) string {
	if r.Kind == store.KindShortcut {
		return r.TargetID
	}
	return r.ID
}

// ContextLabel classifies a resource's ownership and drive context. The
// picking mechanism exposes only partial metadata, so missing signals degrade
// to the personal-drive default instead of failing.
func ContextLabel(r store.Resource) string {
	if r.DriveID != "" {
		return LabelSharedDrive
	}
	if r.Ownership == store.OwnershipSharedWithMe {
		return LabelSharedFolder
	}
	return LabelPersonalDrive
}
