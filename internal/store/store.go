package store

import (
	"context"
	"time"
)

// Kind classifies a resource node in the remote store.
type Kind string

const (
	KindFolder   Kind = "folder"
	KindShortcut Kind = "shortcut"
	KindFile     Kind = "file"
)

// Ownership describes the relationship between the current account and a resource.
// Unknown is the value when the store exposed no ownership signal; callers must
// treat it as a graceful default, never an error.
type Ownership string

const (
	OwnershipUnknown      Ownership = "unknown"
	OwnershipOwned        Ownership = "owned"
	OwnershipSharedWithMe Ownership = "shared_with_me"
)

// Resource is the typed projection of one remote node. It is a read-through
// view of remote state: callers must re-query rather than cache it across
// structural decisions, since the store may be mutated out-of-band.
type Resource struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Parents   []string  `json:"parents,omitempty"`
	TargetID  string    `json:"targetId,omitempty"` // shortcut kind only
	Ownership Ownership `json:"ownership"`
	DriveID   string    `json:"driveId,omitempty"` // empty means personal drive
	CreatedAt time.Time `json:"createdAt"`
	MIMEType  string    `json:"mimeType,omitempty"`
	WebLink   string    `json:"webLink,omitempty"`
}

// Query is a conjunction of predicates for Find. Zero-valued fields are
// omitted from the filter. Trashed resources are always excluded.
type Query struct {
	Name         string // exact match
	Kind         Kind   // empty matches any kind
	ParentID     string // direct containment
	SharedWithMe bool
	PageSize     int64
}

// CreateSpec declares a resource to create.
type CreateSpec struct {
	Name        string
	Kind        Kind
	Parents     []string
	TargetID    string // required for KindShortcut
	MIMEType    string // KindFile only; store default when empty
	Description string
}

// RemoteStore is the minimal capability set the engine needs from the remote
// document store. The bearer token is supplied per call and never retained by
// implementations. Find results are ordered newest-first by creation time;
// callers rely on first-match semantics for idempotent lookups. No operation
// retries; retry policy belongs to the caller.
type RemoteStore interface {
	Find(ctx context.Context, token string, q Query) ([]Resource, error)
	Create(ctx context.Context, token string, spec CreateSpec) (*Resource, error)
	GetByID(ctx context.Context, token, id string) (*Resource, error)
	GrantPermission(ctx context.Context, token, id, granteeEmail, role string) error
}
