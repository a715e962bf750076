package googledrive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jun/refhub/internal/store"
)

const (
	folderMIME   = "application/vnd.google-apps.folder"
	shortcutMIME = "application/vnd.google-apps.shortcut"

	// Metadata subset the engine projects into store.Resource.
	resourceFields = "id, name, mimeType, createdTime, parents, ownedByMe, shared, sharingUser, driveId, shortcutDetails, webViewLink"
	listFields     = "nextPageToken, files(" + resourceFields + ")"
)

// Client implements store.RemoteStore against Google Drive v3.
// It holds no credentials; the bearer token is supplied per call.
type Client struct {
	// FileMIMEType is the MIME type used for KindFile creations when the
	// caller does not name one.
	FileMIMEType string
}

// NewClient creates a stateless Drive client.
func NewClient(fileMIMEType string) *Client {
	return &Client{FileMIMEType: fileMIMEType}
}

// service builds a Drive service bound to the given access token.
func (c *Client) service(ctx context.Context, token string) (*drive.Service, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	srv, err := drive.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %v", err)
	}
	return srv, nil
}

// Find lists resources matching the query, newest-first by creation time.
func (c *Client) Find(ctx context.Context, token string, q store.Query) ([]store.Resource, error) {
	srv, err := c.service(ctx, token)
	if err != nil {
		return nil, err
	}

	call := srv.Files.List().
		Q(buildQuery(c, q)).
		Fields(googleapi.Field(listFields)).
		OrderBy("createdTime desc").
		IncludeItemsFromAllDrives(true).
		SupportsAllDrives(true)
	if q.PageSize > 0 {
		call = call.PageSize(q.PageSize)
	}

	r, err := call.Do()
	if err != nil {
		return nil, wrapErr(err)
	}

	resources := []store.Resource{}
	for _, f := range r.Files {
		resources = append(resources, mapFile(f))
	}
	return resources, nil
}

// Create creates a folder, shortcut, or typed file.
func (c *Client) Create(ctx context.Context, token string, spec store.CreateSpec) (*store.Resource, error) {
	srv, err := c.service(ctx, token)
	if err != nil {
		return nil, err
	}

	f := &drive.File{
		Name:        spec.Name,
		Parents:     spec.Parents,
		Description: spec.Description,
	}
	switch spec.Kind {
	case store.KindFolder:
		f.MimeType = folderMIME
	case store.KindShortcut:
		f.MimeType = shortcutMIME
		f.ShortcutDetails = &drive.FileShortcutDetails{TargetId: spec.TargetID}
	case store.KindFile:
		f.MimeType = spec.MIMEType
		if f.MimeType == "" {
			f.MimeType = c.FileMIMEType
		}
	default:
		return nil, fmt.Errorf("unsupported resource kind %q", spec.Kind)
	}

	res, err := srv.Files.Create(f).
		Fields(googleapi.Field(resourceFields)).
		SupportsAllDrives(true).
		Do()
	if err != nil {
		return nil, wrapErr(err)
	}

	resource := mapFile(res)
	return &resource, nil
}

// GetByID fetches full metadata by opaque id, including resources the caller
// cannot list (shared or cross-drive items reachable only by id).
func (c *Client) GetByID(ctx context.Context, token, id string) (*store.Resource, error) {
	srv, err := c.service(ctx, token)
	if err != nil {
		return nil, err
	}

	f, err := srv.Files.Get(id).
		SupportsAllDrives(true).
		Fields(googleapi.Field(resourceFields)).
		Do()
	if err != nil {
		return nil, wrapErr(err)
	}

	resource := mapFile(f)
	return &resource, nil
}

// GrantPermission attaches a role-scoped user grant to the resource.
func (c *Client) GrantPermission(ctx context.Context, token, id, granteeEmail, role string) error {
	srv, err := c.service(ctx, token)
	if err != nil {
		return err
	}

	perm := &drive.Permission{
		Type:         "user",
		Role:         role,
		EmailAddress: granteeEmail,
	}
	if _, err := srv.Permissions.Create(id, perm).SupportsAllDrives(true).Do(); err != nil {
		return wrapErr(err)
	}
	return nil
}

// buildQuery renders the conjunctive predicate set as a Drive query string.
// Trashed resources are always excluded.
func buildQuery(c *Client, q store.Query) string {
	terms := []string{"trashed = false"}
	if q.Name != "" {
		terms = append(terms, fmt.Sprintf("name = '%s'", escapeName(q.Name)))
	}
	if mime := kindMIME(c, q.Kind); mime != "" {
		terms = append(terms, fmt.Sprintf("mimeType = '%s'", mime))
	}
	if q.ParentID != "" {
		terms = append(terms, fmt.Sprintf("'%s' in parents", escapeName(q.ParentID)))
	}
	if q.SharedWithMe {
		terms = append(terms, "sharedWithMe = true")
	}
	return strings.Join(terms, " and ")
}

func kindMIME(c *Client, k store.Kind) string {
	switch k {
	case store.KindFolder:
		return folderMIME
	case store.KindShortcut:
		return shortcutMIME
	case store.KindFile:
		return c.FileMIMEType
	}
	return ""
}

// escapeName escapes backslashes and single quotes for Drive query literals.
func escapeName(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// mapFile projects a Drive file into the typed resource the engine consumes.
// Absent metadata degrades to explicit defaults (OwnershipUnknown, empty
// DriveID) rather than leaking raw API values into business logic.
func mapFile(f *drive.File) store.Resource {
	createdAt, _ := time.Parse(time.RFC3339, f.CreatedTime)

	r := store.Resource{
		ID:        f.Id,
		Name:      f.Name,
		Kind:      kindOf(f.MimeType),
		Parents:   f.Parents,
		Ownership: ownershipOf(f),
		DriveID:   f.DriveId,
		CreatedAt: createdAt,
		MIMEType:  f.MimeType,
		WebLink:   f.WebViewLink,
	}
	if r.DriveID == "" {
		r.DriveID = f.TeamDriveId
	}
	if f.ShortcutDetails != nil {
		r.TargetID = f.ShortcutDetails.TargetId
	}
	return r
}

func kindOf(mimeType string) store.Kind {
	switch mimeType {
	case folderMIME:
		return store.KindFolder
	case shortcutMIME:
		return store.KindShortcut
	}
	return store.KindFile
}

func ownershipOf(f *drive.File) store.Ownership {
	if f.OwnedByMe {
		return store.OwnershipOwned
	}
	if f.Shared || f.SharingUser != nil {
		return store.OwnershipSharedWithMe
	}
	return store.OwnershipUnknown
}

func wrapErr(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		if gErr.Code == 404 {
			return store.ErrNotFound
		}
		body := gErr.Body
		if body == "" {
			body = gErr.Message
		}
		return &store.RequestError{StatusCode: gErr.Code, Body: body}
	}
	return err
}
