package client

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tombowditch/mystbin-go/internal/config"
)

// File is a single named file within a paste.
type File struct {
	Filename string
	Content  string

	// Populated for files fetched from the API.
	LinesOfCode    int
	CharacterCount int
	Annotation     string
	ParentID       string
}

// Paste is a server-stored collection of files.
type Paste struct {
	ID        string
	CreatedAt time.Time
	Files     []File
	// Expires is nil for pastes that never expire.
	Expires *time.Time
	// Views is nil when the API did not report a view count.
	Views *int
	// SecurityToken is only known to the client that created the paste.
	SecurityToken string

	http    *httpClient
	baseURL string
}

// URL returns the browser URL of the paste.
func (p *Paste) URL() string {
	return p.baseURL + "/" + p.ID
}

func (p *Paste) String() string {
	return p.URL()
}

// Delete deletes the paste using its security token. Pastes that were not
// created by this client have no token and cannot be deleted.
func (p *Paste) Delete(ctx context.Context) error {
	if p.SecurityToken == "" {
		return &Error{Code: ErrMissingSecurityToken, Message: "cannot delete a paste with no security token"}
	}
	if p.http == nil {
		return &Error{Code: ErrInvalidArgument, Message: "paste is not bound to a client"}
	}
	return deletePaste(ctx, p.http, p.baseURL+config.APIPrefix, p.SecurityToken)
}

type fileBody struct {
	Content  string `json:"content"`
	Filename string `json:"filename"`
}

type createPasteBody struct {
	Files    []fileBody `json:"files"`
	Password string     `json:"password,omitempty"`
	Expires  string     `json:"expires,omitempty"`
}

type createPasteResponse struct {
	ID        string  `json:"id"`
	CreatedAt string  `json:"created_at"`
	Expires   *string `json:"expires"`
	Safety    string  `json:"safety"`
}

type fileResponse struct {
	Content    string `json:"content"`
	Filename   string `json:"filename"`
	LOC        int    `json:"loc"`
	CharCount  int    `json:"charcount"`
	Annotation string `json:"annotation"`
	ParentID   string `json:"parent_id"`
}

type getPasteResponse struct {
	ID        string         `json:"id"`
	CreatedAt string         `json:"created_at"`
	Expires   *string        `json:"expires"`
	Views     *int           `json:"views"`
	Files     []fileResponse `json:"files"`
}

func (f File) body() fileBody {
	return fileBody{Content: f.Content, Filename: f.Filename}
}

func fileFromResponse(r fileResponse) File {
	return File{
		Filename:       r.Filename,
		Content:        r.Content,
		LinesOfCode:    r.LOC,
		CharacterCount: r.CharCount,
		Annotation:     r.Annotation,
		ParentID:       r.ParentID,
	}
}

func pasteFromCreate(r createPasteResponse, files []File) (*Paste, error) {
	created, err := parseTimestamp(r.CreatedAt)
	if err != nil {
		return nil, err
	}
	expires, err := parseOptionalTimestamp(r.Expires)
	if err != nil {
		return nil, err
	}
	views := 0
	return &Paste{
		ID:            r.ID,
		CreatedAt:     created,
		Files:         append([]File(nil), files...),
		Expires:       expires,
		Views:         &views,
		SecurityToken: r.Safety,
	}, nil
}

func pasteFromGet(r getPasteResponse) (*Paste, error) {
	created, err := parseTimestamp(r.CreatedAt)
	if err != nil {
		return nil, err
	}
	expires, err := parseOptionalTimestamp(r.Expires)
	if err != nil {
		return nil, err
	}
	files := make([]File, 0, len(r.Files))
	for _, f := range r.Files {
		files = append(files, fileFromResponse(f))
	}
	return &Paste{
		ID:        r.ID,
		CreatedAt: created,
		Files:     files,
		Expires:   expires,
		Views:     r.Views,
	}, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
}

// parseTimestamp accepts the ISO-8601 variants the API emits. Timestamps
// without a zone are UTC.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &Error{Code: ErrDecode, Message: fmt.Sprintf("unrecognised timestamp %q", s)}
}

func parseOptionalTimestamp(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseTimestamp(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

var pasteURLRe = regexp.MustCompile(`^(?:https?://[^/]+/)?([A-Za-z0-9]+)(?:\.[A-Za-z0-9]+)?/?$`)

// ParsePasteID extracts the paste id from a bare id or a paste URL such as
// https://mystb.in/AbcDef or https://mystb.in/AbcDef.py.
func ParsePasteID(s string) (string, error) {
	m := pasteURLRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", &Error{Code: ErrInvalidArgument, Message: fmt.Sprintf("not a paste id or URL: %q", s)}
	}
	return m[1], nil
}
