// Package session owns the observable authentication session: the access
// token, the user profile, the provisioned workspace root, and the project
// reference list. A long-lived orchestrator reacts to login events by driving
// provisioning and profile fetch, and cycles back to logged-out on logout.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jun/refhub/internal/identity"
	"github.com/jun/refhub/internal/ledger"
	"github.com/jun/refhub/internal/provision"
	"github.com/jun/refhub/internal/refindex"
	"github.com/jun/refhub/internal/store"
)

// AuthState is the coarse session state. Errors never replace it; they live
// in the ledger alongside whatever state the session is in.
type AuthState string

const (
	StateLoggedOut      AuthState = "logged_out"
	StateAuthenticating AuthState = "authenticating"
	StateReady          AuthState = "ready"
)

// Ledger categories, one per failure-prone operation. Retrying an operation
// replaces its note instead of stacking duplicates.
const (
	catDriveLogin = "drive login"
	catOneTap     = "one tap login"
	catProfile    = "profile fetch"
	catWorkspace  = "app folder setup"
	catReferences = "project references fetch"
	catAttach     = "project reference creation"
	catFile       = "file creation"
	catShare      = "file sharing"
	catLookup     = "file fetch"
)

// shareRole is the only grant role the demo surface issues.
const shareRole = "writer"

// ValidationError reports missing required local input. It is surfaced before
// any network call is attempted.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// ErrNoSession is returned by commands invoked without an active login.
var ErrNoSession = &ValidationError{Msg: "no active session"}

// Snapshot is the read-only session view handed to the presentation layer.
type Snapshot struct {
	AuthState           AuthState         `json:"authState"`
	IdentityKnown       bool              `json:"identityKnown"`
	ProfileLoading      bool              `json:"profileLoading"`
	ProvisioningLoading bool              `json:"provisioningLoading"`
	Profile             *identity.Profile `json:"profile,omitempty"`
	AppRootID           string            `json:"appRootId,omitempty"`
	References          []refindex.Entry  `json:"references"`
	Errors              []string          `json:"errors"`
}

// Orchestrator drives one user's session. Completion handlers from remote
// calls are guarded by an epoch counter: results belonging to an epoch that
// ended (logout or re-login) are discarded rather than leaked into the next
// session.
type Orchestrator struct {
	store    store.RemoteStore
	fetcher  identity.Fetcher
	prov     *provision.Provisioner
	index    *refindex.Index
	rootName string

	mu                  sync.Mutex
	epoch               int
	state               AuthState
	token               string
	identityKnown       bool
	profile             *identity.Profile
	profileLoading      bool
	provisioningLoading bool
	appRootID           string
	references          []refindex.Entry
	ledger              *ledger.Ledger
	inflight            sync.WaitGroup
}

// NewOrchestrator creates a logged-out orchestrator. rootName is the
// well-known name of the workspace root folder.
func NewOrchestrator(s store.RemoteStore, fetcher identity.Fetcher, rootName string) *Orchestrator {
	return &Orchestrator{
		store:    s,
		fetcher:  fetcher,
		prov:     provision.New(s),
		index:    refindex.New(s),
		rootName: rootName,
		state:    StateLoggedOut,
		ledger:   ledger.New(),
	}
}

// LoginSucceeded installs a fresh access token and launches the two
// independent post-login operations: profile fetch, and workspace
// provisioning followed by the reference listing. Neither blocks the other.
// A previous token, if any, is dropped wholesale.
func (o *Orchestrator) LoginSucceeded(ctx context.Context, token string) {
	o.mu.Lock()
	o.epoch++
	epoch := o.epoch
	o.token = token
	o.state = StateAuthenticating
	o.profile = nil
	o.appRootID = ""
	o.references = nil
	o.profileLoading = true
	o.provisioningLoading = true
	o.ledger.Clear(catDriveLogin)
	o.mu.Unlock()

	// Completions outlive the request that delivered the login event.
	ctx = context.WithoutCancel(ctx)
	o.inflight.Add(2)
	go o.fetchProfile(ctx, epoch, token)
	go o.provisionWorkspace(ctx, epoch, token)
}

// LoginFailed records a failed interactive login attempt.
func (o *Orchestrator) LoginFailed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ledger.Set(catDriveLogin, "Drive login failed")
}

// OneTapSucceeded records the passive identity credential. It carries no
// storage permission scope and never gates provisioning; it only flips the
// presentational identity flag.
func (o *Orchestrator) OneTapSucceeded(credential string) {
	profile, err := identity.ParseCredential(credential)

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.ledger.Set(catOneTap, fmt.Sprintf("One Tap login failed: %v", err))
		return
	}
	o.identityKnown = true
	if o.profile == nil {
		o.profile = profile
	}
	o.ledger.Clear(catOneTap)
}

// OneTapFailed records a failed One Tap attempt.
func (o *Orchestrator) OneTapFailed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ledger.Set(catOneTap, "One Tap login failed")
}

// Logout discards the token and identity credential, clears all derived
// state and the ledger, and returns the session to logged-out. In-flight
// completions from the ended epoch are discarded when they arrive.
func (o *Orchestrator) Logout() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.epoch++
	o.token = ""
	o.identityKnown = false
	o.profile = nil
	o.appRootID = ""
	o.references = nil
	o.profileLoading = false
	o.provisioningLoading = false
	o.state = StateLoggedOut
	o.ledger.Reset()
}

// Wait blocks until in-flight post-login operations have completed. Login
// handlers call it so the response reflects the settled session.
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

// Snapshot returns the current read-only session view.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Snapshot{
		AuthState:           o.state,
		IdentityKnown:       o.identityKnown,
		ProfileLoading:      o.profileLoading,
		ProvisioningLoading: o.provisioningLoading,
		AppRootID:           o.appRootID,
		References:          append([]refindex.Entry{}, o.references...),
		Errors:              o.ledger.Snapshot(),
	}
	if o.profile != nil {
		p := *o.profile
		s.Profile = &p
	}
	return s
}

func (o *Orchestrator) fetchProfile(ctx context.Context, epoch int, token string) {
	defer o.inflight.Done()

	profile, err := o.fetcher.FetchProfile(ctx, token)

	o.mu.Lock()
	defer o.mu.Unlock()
	if epoch != o.epoch {
		// Stale completion from an ended session.
		return
	}
	o.profileLoading = false
	if err != nil {
		o.ledger.Set(catProfile, fmt.Sprintf("Profile fetch failed: %v", err))
	} else {
		o.profile = profile
		o.ledger.Clear(catProfile)
	}
	o.recomputeStateLocked()
}

func (o *Orchestrator) provisionWorkspace(ctx context.Context, epoch int, token string) {
	defer o.inflight.Done()

	root, err := o.prov.EnsureFolder(ctx, token, o.rootName, "")
	if err != nil {
		o.mu.Lock()
		defer o.mu.Unlock()
		if epoch != o.epoch {
			return
		}
		o.provisioningLoading = false
		o.ledger.Set(catWorkspace, fmt.Sprintf("App folder setup failed: %v", err))
		o.recomputeStateLocked()
		return
	}

	o.mu.Lock()
	if epoch != o.epoch {
		o.mu.Unlock()
		return
	}
	o.appRootID = root.ID
	o.ledger.Clear(catWorkspace)
	o.mu.Unlock()

	entries, err := o.index.List(ctx, token, root.ID)

	o.mu.Lock()
	defer o.mu.Unlock()
	if epoch != o.epoch {
		return
	}
	o.provisioningLoading = false
	if err != nil {
		o.ledger.Set(catReferences, fmt.Sprintf("Project references fetch failed: %v", err))
	} else {
		o.references = entries
		o.ledger.Clear(catReferences)
	}
	o.recomputeStateLocked()
}

func (o *Orchestrator) recomputeStateLocked() {
	switch {
	case o.token == "":
		o.state = StateLoggedOut
	case o.profileLoading || o.provisioningLoading:
		o.state = StateAuthenticating
	default:
		o.state = StateReady
	}
}

// active returns the session's token, epoch, and workspace root for a
// user-triggered command.
func (o *Orchestrator) active() (token string, epoch int, rootID string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.token == "" {
		return "", 0, "", ErrNoSession
	}
	return o.token, o.epoch, o.appRootID, nil
}

// fail records the error under the category unless the session ended while
// the call was in flight.
func (o *Orchestrator) fail(epoch int, category, format string, err error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if epoch == o.epoch {
		o.ledger.Set(category, fmt.Sprintf(format, err))
	}
	return err
}

// AttachReference looks up the chosen target by id, creates a project
// reference to it under the workspace root, and refreshes the visible list.
func (o *Orchestrator) AttachReference(ctx context.Context, targetID string) (*store.Resource, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return nil, o.invalid("Please provide a folder id")
	}

	token, epoch, rootID, err := o.active()
	if err != nil {
		return nil, err
	}
	if rootID == "" {
		return nil, o.invalid("Workspace is not provisioned yet")
	}

	target, err := o.store.GetByID(ctx, token, targetID)
	if err != nil {
		return nil, o.fail(epoch, catAttach, "Project reference creation failed: %v", err)
	}

	created, entries, err := o.index.Attach(ctx, token, rootID, *target)
	if err != nil {
		return nil, o.fail(epoch, catAttach, "Project reference creation failed: %v", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if epoch == o.epoch {
		o.references = entries
		o.ledger.Clear(catAttach)
	}
	return created, nil
}

// RefreshReferences re-reads the reference list from the remote store.
func (o *Orchestrator) RefreshReferences(ctx context.Context) ([]refindex.Entry, error) {
	token, epoch, rootID, err := o.active()
	if err != nil {
		return nil, err
	}
	if rootID == "" {
		return nil, o.invalid("Workspace is not provisioned yet")
	}

	entries, err := o.index.List(ctx, token, rootID)
	if err != nil {
		return nil, o.fail(epoch, catReferences, "Project references fetch failed: %v", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if epoch == o.epoch {
		o.references = entries
		o.ledger.Clear(catReferences)
	}
	return entries, nil
}

// EnsureFolder idempotently ensures a named folder. With an empty parent the
// folder lands in the account root, matching the interactive create-folder
// surface.
func (o *Orchestrator) EnsureFolder(ctx context.Context, name, parentID string) (*store.Resource, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, o.invalid("Please provide a folder name")
	}

	token, epoch, rootID, err := o.active()
	if err != nil {
		return nil, err
	}

	category := fmt.Sprintf("folder %q setup", name)
	folder, err := o.prov.EnsureFolder(ctx, token, name, parentID)
	if err != nil {
		return nil, o.fail(epoch, category, "Folder setup failed: %v", err)
	}

	o.mu.Lock()
	if epoch == o.epoch {
		o.ledger.Clear(category)
	}
	o.mu.Unlock()

	// A folder placed directly under the workspace root shows up as a
	// legacy reference entry, so the visible index must be re-read.
	if parentID != "" && parentID == rootID {
		o.RefreshReferences(ctx)
	}
	return folder, nil
}

// CreateFile creates a typed app file under the workspace root (or the
// account root when the workspace is not provisioned).
func (o *Orchestrator) CreateFile(ctx context.Context, name string) (*store.Resource, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, o.invalid("Please provide a file name")
	}
	if !strings.Contains(name, ".") {
		name += ".refhub"
	}

	token, epoch, rootID, err := o.active()
	if err != nil {
		return nil, err
	}

	spec := store.CreateSpec{Name: name, Kind: store.KindFile}
	if rootID != "" {
		spec.Parents = []string{rootID}
	}
	created, err := o.store.Create(ctx, token, spec)
	if err != nil {
		return nil, o.fail(epoch, catFile, "File creation failed: %v", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if epoch == o.epoch {
		o.ledger.Clear(catFile)
	}
	return created, nil
}

// GetResource fetches a resource's metadata by id, including shared and
// cross-drive items the account cannot list.
func (o *Orchestrator) GetResource(ctx context.Context, id string) (*store.Resource, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, o.invalid("Please provide a file ID")
	}

	token, epoch, _, err := o.active()
	if err != nil {
		return nil, err
	}

	r, err := o.store.GetByID(ctx, token, id)
	if err != nil {
		return nil, o.fail(epoch, catLookup, "File fetch failed: %v", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if epoch == o.epoch {
		o.ledger.Clear(catLookup)
	}
	return r, nil
}

// GrantPermission shares the resource with the grantee as a writer.
func (o *Orchestrator) GrantPermission(ctx context.Context, id, granteeEmail string) error {
	id = strings.TrimSpace(id)
	granteeEmail = strings.TrimSpace(granteeEmail)
	if id == "" || granteeEmail == "" {
		return o.invalid("Please provide a file ID and an email to share with")
	}

	token, epoch, _, err := o.active()
	if err != nil {
		return err
	}

	if err := o.store.GrantPermission(ctx, token, id, granteeEmail, shareRole); err != nil {
		return o.fail(epoch, catShare, "Share failed: %v", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if epoch == o.epoch {
		o.ledger.Clear(catShare)
	}
	return nil
}

// invalid records an uncategorized validation note and returns the matching
// error. No network call is attempted.
func (o *Orchestrator) invalid(msg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ledger.SetUncategorized(msg)
	return &ValidationError{Msg: msg}
}
