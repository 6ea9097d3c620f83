// Package client provides a Go client for the mystb.in paste service.
//
// Basic usage:
//
//	c := client.New() // uses default https://mystb.in
//	defer c.Close()
//	p, err := c.CreatePaste(ctx, []client.File{{Filename: "a.py", Content: "print(1)"}}, client.CreateOptions{})
//	p, err = c.GetPaste(ctx, p.ID, client.GetOptions{})
package client

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tombowditch/mystbin-go/internal/config"
)

const (
	// DefaultBaseURL is the default mystbin service URL.
	DefaultBaseURL = config.DefaultBaseURL

	// DefaultTimeout is the per-request timeout.
	DefaultTimeout = config.ClientTimeout
)

// Client is a mystbin API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *httpClient
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom base URL for the mystbin instance.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient makes the client borrow httpClient as its connection pool.
// A borrowed pool is never closed by Close.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.http.session = httpClient
		c.http.ownsClient = false
	}
}

// WithTimeout sets the per-attempt timeout. Non-positive values keep the
// default.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.timeout = timeout
		}
	}
}

// WithToken authenticates requests with a bearer token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.http.token = token
	}
}

// WithLogger routes the client's logs to logger. Logs are discarded by default.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) {
		c.http.logger = logger
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.http.userAgent = ua
	}
}

// New creates a new mystbin client with the given options.
func New(opts ...Option) *Client {
	silent := logrus.New()
	silent.SetOutput(io.Discard)

	c := &Client{
		baseURL: DefaultBaseURL,
		http:    newHTTPClient(nil, silent),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases idle connections of a client-owned pool.
func (c *Client) Close() error {
	c.http.close()
	return nil
}

func (c *Client) apiBase() string {
	return c.baseURL + config.APIPrefix
}

// CreateOptions configures paste creation.
type CreateOptions struct {
	// Password protects the paste, if set.
	Password string
	// Expires is when the paste expires. Zero means never.
	Expires time.Time
}

// CreatePaste uploads files as a single paste. The returned paste carries
// the security token needed to delete it.
func (c *Client) CreatePaste(ctx context.Context, files []File, opts CreateOptions) (*Paste, error) {
	if len(files) == 0 {
		return nil, &Error{Code: ErrInvalidArgument, Message: "a paste needs at least one file"}
	}

	body := createPasteBody{Password: opts.Password}
	for _, f := range files {
		body.Files = append(body.Files, f.body())
	}
	if !opts.Expires.IsZero() {
		body.Expires = formatTimestamp(opts.Expires)
	}

	route := NewRoute(c.apiBase(), http.MethodPost, "/paste", nil)
	resp, err := c.http.request(ctx, route, requestOptions{body: body})
	if err != nil {
		return nil, err
	}

	var data createPasteResponse
	if err := resp.decode(&data); err != nil {
		return nil, err
	}
	p, err := pasteFromCreate(data, files)
	if err != nil {
		return nil, err
	}
	c.bind(p)
	return p, nil
}

// GetOptions configures paste retrieval.
type GetOptions struct {
	// Password for protected pastes.
	Password string
}

// GetPaste fetches a paste. The identifier can be either a full URL
// (https://mystb.in/AbcDef) or just the ID (AbcDef).
func (c *Client) GetPaste(ctx context.Context, identifier string, opts GetOptions) (*Paste, error) {
	data, err := c.getPaste(ctx, identifier, opts)
	if err != nil {
		return nil, err
	}
	p, err := pasteFromGet(*data)
	if err != nil {
		return nil, err
	}
	c.bind(p)
	return p, nil
}

// GetPasteRaw fetches only the contents of each file of a paste.
func (c *Client) GetPasteRaw(ctx context.Context, identifier string, opts GetOptions) ([]string, error) {
	data, err := c.getPaste(ctx, identifier, opts)
	if err != nil {
		return nil, err
	}
	contents := make([]string, 0, len(data.Files))
	for _, f := range data.Files {
		contents = append(contents, f.Content)
	}
	return contents, nil
}

func (c *Client) getPaste(ctx context.Context, identifier string, opts GetOptions) (*getPasteResponse, error) {
	id, err := ParsePasteID(identifier)
	if err != nil {
		return nil, err
	}

	var query url.Values
	if opts.Password != "" {
		query = url.Values{"password": {opts.Password}}
	}

	route := NewRoute(c.apiBase(), http.MethodGet, "/paste/{paste_id}", Params{"paste_id": id})
	resp, err := c.http.request(ctx, route, requestOptions{query: query})
	if err != nil {
		return nil, err
	}

	var data getPasteResponse
	if err := resp.decode(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DeletePaste deletes a paste using the security token issued when it was created.
func (c *Client) DeletePaste(ctx context.Context, securityToken string) error {
	if securityToken == "" {
		return &Error{Code: ErrMissingSecurityToken, Message: "a security token is required to delete a paste"}
	}
	return deletePaste(ctx, c.http, c.apiBase(), securityToken)
}

func deletePaste(ctx context.Context, h *httpClient, apiBase, token string) error {
	route := NewRoute(apiBase, http.MethodGet, "/security/delete/{security_token}", Params{"security_token": token})
	_, err := h.request(ctx, route, requestOptions{})
	return err
}

// ListOptions pages through listings.
type ListOptions struct {
	Limit int
	Page  int
}

type userPastesResponse struct {
	Pastes []getPasteResponse `json:"pastes"`
}

// UserPastes lists the pastes owned by the authenticated user. Files are not
// included. It requires a token (see WithToken).
func (c *Client) UserPastes(ctx context.Context, opts ListOptions) ([]*Paste, error) {
	if c.http.token == "" {
		return nil, &Error{Code: ErrAuthenticationRequired, Message: "this method requires an API token"}
	}

	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Page > 0 {
		query.Set("page", strconv.Itoa(opts.Page))
	}

	route := NewRoute(c.apiBase(), http.MethodGet, "/pastes/@me", nil)
	resp, err := c.http.request(ctx, route, requestOptions{query: query})
	if err != nil {
		return nil, err
	}

	var data userPastesResponse
	if err := resp.decode(&data); err != nil {
		return nil, err
	}
	pastes := make([]*Paste, 0, len(data.Pastes))
	for _, item := range data.Pastes {
		p, err := pasteFromGet(item)
		if err != nil {
			return nil, err
		}
		c.bind(p)
		pastes = append(pastes, p)
	}
	return pastes, nil
}

func (c *Client) bind(p *Paste) {
	p.http = c.http
	p.baseURL = c.baseURL
}
