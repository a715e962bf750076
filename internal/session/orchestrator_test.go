package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jun/refhub/internal/identity"
	"github.com/jun/refhub/internal/store"
	"github.com/jun/refhub/internal/store/memory"
)

const testRootName = "RefHub Workspace"

func testProfile() identity.Profile {
	return identity.Profile{
		ID:    "user-1",
		Email: "user1@example.com",
		Name:  "User One",
	}
}

func newTestOrchestrator() (*Orchestrator, *memory.Store) {
	s := memory.NewStore()
	fetcher := &identity.StaticFetcher{Profile: testProfile()}
	return NewOrchestrator(s, fetcher, testRootName), s
}

// gateFetcher blocks FetchProfile until released, to let tests interleave
// logout with an in-flight completion.
type gateFetcher struct {
	release chan struct{}
}

func (g *gateFetcher) FetchProfile(_ context.Context, _ string) (*identity.Profile, error) {
	<-g.release
	p := testProfile()
	return &p, nil
}

type failingFetcher struct{}

func (failingFetcher) FetchProfile(_ context.Context, _ string) (*identity.Profile, error) {
	return nil, errors.New("userinfo endpoint unavailable")
}

func TestLoginProvisionsWorkspace(t *testing.T) {
	o, s := newTestOrchestrator()
	ctx := context.Background()

	o.LoginSucceeded(ctx, "tok-1")
	o.Wait()

	snap := o.Snapshot()
	if snap.AuthState != StateReady {
		t.Fatalf("expected ready state, got %q (errors: %v)", snap.AuthState, snap.Errors)
	}
	if snap.Profile == nil || snap.Profile.Email != "user1@example.com" {
		t.Errorf("expected profile to be loaded, got %+v", snap.Profile)
	}
	if snap.AppRootID == "" {
		t.Error("expected workspace root to be provisioned")
	}
	if len(snap.Errors) != 0 {
		t.Errorf("expected clean ledger, got %v", snap.Errors)
	}

	roots, err := s.Find(ctx, "tok-1", store.Query{Name: testRootName, Kind: store.KindFolder})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(roots) != 1 {
		t.Fatalf("expected exactly one workspace root, got %d", len(roots))
	}
	if roots[0].ID != snap.AppRootID {
		t.Errorf("snapshot root %q does not match stored root %q", snap.AppRootID, roots[0].ID)
	}
}

func TestReLoginReusesWorkspaceRoot(t *testing.T) {
	o, s := newTestOrchestrator()
	ctx := context.Background()

	o.LoginSucceeded(ctx, "tok-1")
	o.Wait()
	first := o.Snapshot().AppRootID

	o.Logout()
	o.LoginSucceeded(ctx, "tok-1")
	o.Wait()
	second := o.Snapshot().AppRootID

	if first == "" || first != second {
		t.Errorf("expected the same root across logins, got %q then %q", first, second)
	}
	roots, _ := s.Find(ctx, "tok-1", store.Query{Name: testRootName, Kind: store.KindFolder})
	if len(roots) != 1 {
		t.Errorf("expected one root folder after re-login, got %d", len(roots))
	}
}

func TestLogoutResetsEverything(t *testing.T) {
	o, _ := newTestOrchestrator()
	ctx := context.Background()

	o.LoginSucceeded(ctx, "tok-1")
	o.Wait()
	o.OneTapFailed() // leave a ledger note behind

	o.Logout()

	snap := o.Snapshot()
	if snap.AuthState != StateLoggedOut {
		t.Errorf("expected logged_out, got %q", snap.AuthState)
	}
	if snap.Profile != nil || snap.IdentityKnown || snap.AppRootID != "" {
		t.Errorf("expected identity and workspace cleared, got %+v", snap)
	}
	if len(snap.References) != 0 || len(snap.Errors) != 0 {
		t.Errorf("expected references and errors cleared, got %+v", snap)
	}
}

func TestStaleCompletionIsDiscarded(t *testing.T) {
	s := memory.NewStore()
	fetcher := &gateFetcher{release: make(chan struct{})}
	o := NewOrchestrator(s, fetcher, testRootName)
	ctx := context.Background()

	o.LoginSucceeded(ctx, "tok-1")
	o.Logout()
	close(fetcher.release)
	o.Wait()

	snap := o.Snapshot()
	if snap.AuthState != StateLoggedOut {
		t.Errorf("expected logged_out after logout, got %q", snap.AuthState)
	}
	if snap.Profile != nil {
		t.Errorf("stale profile completion leaked into the session: %+v", snap.Profile)
	}
	if snap.AppRootID != "" || len(snap.References) != 0 {
		t.Errorf("stale provisioning completion leaked into the session: %+v", snap)
	}
}

func TestProfileFailureIsRecordedNotFatal(t *testing.T) {
	s := memory.NewStore()
	o := NewOrchestrator(s, failingFetcher{}, testRootName)
	ctx := context.Background()

	o.LoginSucceeded(ctx, "tok-1")
	o.Wait()

	snap := o.Snapshot()
	if snap.AuthState != StateReady {
		t.Errorf("expected ready despite profile failure, got %q", snap.AuthState)
	}
	if snap.AppRootID == "" {
		t.Error("expected provisioning to succeed independently of the profile fetch")
	}
	if len(snap.Errors) != 1 || !strings.Contains(snap.Errors[0], "Profile fetch failed") {
		t.Errorf("expected one profile fetch note, got %v", snap.Errors)
	}

	// Retrying replaces the note rather than stacking a duplicate.
	o.LoginSucceeded(ctx, "tok-1")
	o.Wait()
	if errs := o.Snapshot().Errors; len(errs) != 1 {
		t.Errorf("expected retried failure to keep a single note, got %v", errs)
	}
}

func TestAttachReferenceUpdatesIndex(t *testing.T) {
	o, s := newTestOrchestrator()
	ctx := context.Background()

	o.LoginSucceeded(ctx, "tok-1")
	o.Wait()

	target, err := s.Create(ctx, "tok-1", store.CreateSpec{Name: "Docs", Kind: store.KindFolder})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	created, err := o.AttachReference(ctx, target.ID)
	if err != nil {
		t.Fatalf("AttachReference failed: %v", err)
	}
	if created.Name != "Docs (Personal Drive)" {
		t.Errorf("expected context-labelled name, got %q", created.Name)
	}

	snap := o.Snapshot()
	if len(snap.References) != 1 {
		t.Fatalf("expected one reference, got %d", len(snap.References))
	}
	if snap.References[0].TargetID != target.ID {
		t.Errorf("expected reference to resolve to %q, got %q", target.ID, snap.References[0].TargetID)
	}
	if len(snap.Errors) != 0 {
		t.Errorf("expected clean ledger, got %v", snap.Errors)
	}
}

func TestAttachReferenceMissingTarget(t *testing.T) {
	o, _ := newTestOrchestrator()
	ctx := context.Background()

	o.LoginSucceeded(ctx, "tok-1")
	o.Wait()

	if _, err := o.AttachReference(ctx, "no-such-id"); err == nil {
		t.Fatal("expected error for missing target")
	}
	errs := o.Snapshot().Errors
	if len(errs) != 1 || !strings.Contains(errs[0], "Project reference creation failed") {
		t.Errorf("expected a creation failure note, got %v", errs)
	}
}

func TestValidationSkipsNetwork(t *testing.T) {
	o, _ := newTestOrchestrator()
	ctx := context.Background()

	o.LoginSucceeded(ctx, "tok-1")
	o.Wait()

	var verr *ValidationError
	if _, err := o.AttachReference(ctx, "  "); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if err := o.GrantPermission(ctx, "file-1", ""); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	errs := o.Snapshot().Errors
	if len(errs) != 2 {
		t.Fatalf("expected two uncategorized validation notes, got %v", errs)
	}
}

func TestCommandsRequireSession(t *testing.T) {
	o, _ := newTestOrchestrator()
	ctx := context.Background()

	if _, err := o.AttachReference(ctx, "some-id"); err != ErrNoSession {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
	if _, err := o.CreateFile(ctx, "notes"); err != ErrNoSession {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestOneTapIdentity(t *testing.T) {
	o, _ := newTestOrchestrator()

	claims := jwt.MapClaims{
		"sub":   "user-1",
		"email": "user1@example.com",
		"name":  "User One",
	}
	credential, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("signing credential: %v", err)
	}

	o.OneTapSucceeded(credential)
	snap := o.Snapshot()
	if !snap.IdentityKnown {
		t.Error("expected identity to be known after One Tap")
	}
	if snap.AuthState != StateLoggedOut {
		t.Errorf("One Tap must not grant a session, got state %q", snap.AuthState)
	}

	o.OneTapFailed()
	errs := o.Snapshot().Errors
	if len(errs) != 1 || !strings.Contains(errs[0], "One Tap login failed") {
		t.Errorf("expected one tap failure note, got %v", errs)
	}
}

func TestCreateFileAndShare(t *testing.T) {
	o, s := newTestOrchestrator()
	ctx := context.Background()

	o.LoginSucceeded(ctx, "tok-1")
	o.Wait()
	rootID := o.Snapshot().AppRootID

	created, err := o.CreateFile(ctx, "meeting notes")
	if err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	if created.Name != "meeting notes.refhub" {
		t.Errorf("expected default extension, got %q", created.Name)
	}
	if len(created.Parents) != 1 || created.Parents[0] != rootID {
		t.Errorf("expected file under workspace root, got parents %v", created.Parents)
	}

	if err := o.GrantPermission(ctx, created.ID, "peer@example.com"); err != nil {
		t.Fatalf("GrantPermission failed: %v", err)
	}
	grants := s.Grants("tok-1", created.ID)
	if len(grants) != 1 || grants[0].Role != "writer" {
		t.Errorf("expected one writer grant, got %+v", grants)
	}
}

func TestManagerPerUserSessions(t *testing.T) {
	m := NewManager(func() *Orchestrator {
		o, _ := newTestOrchestrator()
		return o
	})

	a := m.Get("user-a")
	if m.Get("user-a") != a {
		t.Error("expected the same orchestrator for the same user")
	}
	if m.Get("user-b") == a {
		t.Error("expected distinct orchestrators per user")
	}

	a.LoginSucceeded(context.Background(), "tok-a")
	a.Wait()
	m.Drop("user-a")
	if a.Snapshot().AuthState != StateLoggedOut {
		t.Error("expected Drop to log the session out")
	}
	if m.Get("user-a") == a {
		t.Error("expected a fresh orchestrator after Drop")
	}
}

func TestEnsureFolderUnderRootRefreshesIndex(t *testing.T) {
	o, _ := newTestOrchestrator()
	ctx := context.Background()

	o.LoginSucceeded(ctx, "tok-1")
	o.Wait()
	rootID := o.Snapshot().AppRootID

	if _, err := o.EnsureFolder(ctx, "Legacy Project", rootID); err != nil {
		t.Fatalf("EnsureFolder failed: %v", err)
	}

	snap := o.Snapshot()
	if len(snap.References) != 1 || snap.References[0].Resource.Name != "Legacy Project" {
		t.Errorf("expected the new folder to appear as a reference entry, got %+v", snap.References)
	}

	// Idempotent: ensuring again creates nothing new.
	again, err := o.EnsureFolder(ctx, "Legacy Project", rootID)
	if err != nil {
		t.Fatalf("EnsureFolder retry failed: %v", err)
	}
	if again.ID != snap.References[0].Resource.ID {
		t.Errorf("expected the existing folder to be reused, got %q vs %q", again.ID, snap.References[0].Resource.ID)
	}
}
