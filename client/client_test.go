package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombowditch/mystbin-go/internal/ratelimit"
	"github.com/tombowditch/mystbin-go/internal/server/httpserver"
	"github.com/tombowditch/mystbin-go/internal/store"
)

// countingTransport forwards to the default transport and counts requests.
type countingTransport struct {
	calls  int32
	closed int32
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	atomic.AddInt32(&c.calls, 1)
	return http.DefaultTransport.RoundTrip(req)
}

func (c *countingTransport) CloseIdleConnections() {
	atomic.AddInt32(&c.closed, 1)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func setupTestServer(t *testing.T, opts ...httpserver.Option) (*httptest.Server, *countingTransport) {
	t.Helper()
	opts = append([]httpserver.Option{httpserver.WithLogger(quietLogger())}, opts...)
	srv := httptest.NewServer(httpserver.NewHandler(store.NewMemory(), opts...))
	t.Cleanup(srv.Close)
	return srv, &countingTransport{}
}

func newTestClient(srv *httptest.Server, transport *countingTransport, opts ...Option) *Client {
	opts = append([]Option{
		WithBaseURL(srv.URL + "/"),
		WithHTTPClient(&http.Client{Transport: transport}),
	}, opts...)
	return New(opts...)
}

func TestClient_CreateAndGet(t *testing.T) {
	srv, transport := setupTestServer(t)
	c := newTestClient(srv, transport)
	ctx := context.Background()

	p, err := c.CreatePaste(ctx, []File{{Filename: "a.py", Content: "print(1)"}}, CreateOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.NotEmpty(t, p.SecurityToken)
	assert.Nil(t, p.Expires)
	require.NotNil(t, p.Views)
	assert.Equal(t, 0, *p.Views)
	assert.Equal(t, srv.URL+"/"+p.ID, p.URL())
	assert.Equal(t, p.URL(), p.String())

	got, err := c.GetPaste(ctx, p.ID, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Empty(t, got.SecurityToken, "fetched pastes carry no token")
	assert.WithinDuration(t, p.CreatedAt, got.CreatedAt, time.Millisecond)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "a.py", got.Files[0].Filename)
	assert.Equal(t, "print(1)", got.Files[0].Content)
	assert.Equal(t, 1, got.Files[0].LinesOfCode)
	assert.Equal(t, 8, got.Files[0].CharacterCount)
	assert.Equal(t, p.ID, got.Files[0].ParentID)
	require.NotNil(t, got.Views)
	assert.Equal(t, 1, *got.Views)
}

func TestClient_GetByURL(t *testing.T) {
	srv, transport := setupTestServer(t)
	c := newTestClient(srv, transport)
	ctx := context.Background()

	p, err := c.CreatePaste(ctx, []File{
		{Filename: "one.txt", Content: "first"},
		{Filename: "two.txt", Content: "second"},
	}, CreateOptions{})
	require.NoError(t, err)

	contents, err := c.GetPasteRaw(ctx, "https://mystb.in/"+p.ID, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, contents)
}

func TestClient_PasswordProtected(t *testing.T) {
	srv, transport := setupTestServer(t)
	c := newTestClient(srv, transport)
	ctx := context.Background()

	p, err := c.CreatePaste(ctx, []File{{Filename: "s.txt", Content: "secret"}}, CreateOptions{Password: "hunter2"})
	require.NoError(t, err)

	_, err = c.GetPaste(ctx, p.ID, GetOptions{})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))

	_, err = c.GetPaste(ctx, p.ID, GetOptions{Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))

	got, err := c.GetPaste(ctx, p.ID, GetOptions{Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, "secret", got.Files[0].Content)
}

func TestClient_Expires(t *testing.T) {
	srv, transport := setupTestServer(t)
	c := newTestClient(srv, transport)
	ctx := context.Background()

	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	p, err := c.CreatePaste(ctx, []File{{Filename: "e.txt", Content: "soon gone"}}, CreateOptions{Expires: expires})
	require.NoError(t, err)
	require.NotNil(t, p.Expires)
	assert.True(t, expires.Equal(*p.Expires))

	got, err := c.GetPaste(ctx, p.ID, GetOptions{})
	require.NoError(t, err)
	require.NotNil(t, got.Expires)
	assert.True(t, expires.Equal(*got.Expires))
}

func TestClient_CreateRejectedByServer(t *testing.T) {
	srv, transport := setupTestServer(t)
	c := newTestClient(srv, transport)

	_, err := c.CreatePaste(context.Background(), []File{{Filename: "x", Content: "x"}},
		CreateOptions{Expires: time.Now().Add(-time.Hour)})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrClient, apiErr.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&transport.calls), "4xx is not retried")
}

func TestClient_DeleteThenGet(t *testing.T) {
	srv, transport := setupTestServer(t)
	c := newTestClient(srv, transport)
	ctx := context.Background()

	p, err := c.CreatePaste(ctx, []File{{Filename: "d.txt", Content: "bye"}}, CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, p.Delete(ctx))

	_, err = c.GetPaste(ctx, p.ID, GetOptions{})
	assert.True(t, IsNotFound(err))

	err = c.DeletePaste(ctx, p.SecurityToken)
	assert.True(t, IsNotFound(err), "token is spent")
}

func TestClient_DeleteByToken(t *testing.T) {
	srv, transport := setupTestServer(t)
	c := newTestClient(srv, transport)
	ctx := context.Background()

	p, err := c.CreatePaste(ctx, []File{{Filename: "d.txt", Content: "bye"}}, CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, c.DeletePaste(ctx, p.SecurityToken))
	_, err = c.GetPaste(ctx, p.ID, GetOptions{})
	assert.True(t, IsNotFound(err))
}

func TestClient_DeleteWithoutToken(t *testing.T) {
	srv, transport := setupTestServer(t)
	c := newTestClient(srv, transport)
	ctx := context.Background()

	err := c.DeletePaste(ctx, "")
	assert.True(t, IsMissingSecurityToken(err))

	p, err := c.CreatePaste(ctx, []File{{Filename: "k.txt", Content: "keep"}}, CreateOptions{})
	require.NoError(t, err)
	fetched, err := c.GetPaste(ctx, p.ID, GetOptions{})
	require.NoError(t, err)

	before := atomic.LoadInt32(&transport.calls)
	err = fetched.Delete(ctx)
	assert.True(t, IsMissingSecurityToken(err))
	assert.Equal(t, before, atomic.LoadInt32(&transport.calls), "no request was sent")

	_, err = c.GetPaste(ctx, p.ID, GetOptions{})
	assert.NoError(t, err, "paste survives")
}

func TestClient_UnboundPasteDelete(t *testing.T) {
	p := &Paste{ID: "AbcDef", SecurityToken: "tok"}
	assert.True(t, IsInvalidArgument(p.Delete(context.Background())))
}

func TestClient_EmptyFiles(t *testing.T) {
	srv, transport := setupTestServer(t)
	c := newTestClient(srv, transport)

	_, err := c.CreatePaste(context.Background(), nil, CreateOptions{})
	assert.True(t, IsInvalidArgument(err))
	assert.Zero(t, atomic.LoadInt32(&transport.calls))
}

func TestClient_InvalidIdentifier(t *testing.T) {
	srv, transport := setupTestServer(t)
	c := newTestClient(srv, transport)

	_, err := c.GetPaste(context.Background(), "not a paste!", GetOptions{})
	assert.True(t, IsInvalidArgument(err))
	assert.Zero(t, atomic.LoadInt32(&transport.calls))
}

func TestClient_UserPastes(t *testing.T) {
	srv, transport := setupTestServer(t)
	ctx := context.Background()

	anon := newTestClient(srv, transport)
	_, err := anon.UserPastes(ctx, ListOptions{})
	assert.True(t, IsAuthenticationRequired(err))
	assert.Zero(t, atomic.LoadInt32(&transport.calls))

	alice := newTestClient(srv, transport, WithToken("alice"))
	bob := newTestClient(srv, transport, WithToken("bob"))

	first, err := alice.CreatePaste(ctx, []File{{Filename: "1", Content: "one"}}, CreateOptions{})
	require.NoError(t, err)
	second, err := alice.CreatePaste(ctx, []File{{Filename: "2", Content: "two"}}, CreateOptions{})
	require.NoError(t, err)
	_, err = bob.CreatePaste(ctx, []File{{Filename: "3", Content: "three"}}, CreateOptions{})
	require.NoError(t, err)
	_, err = anon.CreatePaste(ctx, []File{{Filename: "4", Content: "four"}}, CreateOptions{})
	require.NoError(t, err)

	pastes, err := alice.UserPastes(ctx, ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, pastes, 2)
	ids := []string{pastes[0].ID, pastes[1].ID}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)
	assert.Empty(t, pastes[0].Files)
}

func TestClient_UserAgentAndToken(t *testing.T) {
	var gotUA, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"pastes":[]}`))
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL), WithToken("tok"), WithUserAgent("custom/1.0"))
	defer c.Close()

	pastes, err := c.UserPastes(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, pastes)
	assert.Equal(t, "custom/1.0", gotUA)
	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestClient_HonoursServerRateLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a rate-limit window")
	}

	srv, transport := setupTestServer(t, httpserver.WithLimiter(ratelimit.NewMemory(1, time.Second)))
	c := newTestClient(srv, transport)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 2; i++ {
		_, err := c.CreatePaste(ctx, []File{{Filename: "r.txt", Content: "x"}}, CreateOptions{})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), time.Second, "second create waited for the bucket")
	assert.Equal(t, int32(2), atomic.LoadInt32(&transport.calls), "no request hit a 429")
}

func TestClient_Close(t *testing.T) {
	srv, transport := setupTestServer(t)

	borrowed := newTestClient(srv, transport)
	_, err := borrowed.CreatePaste(context.Background(), []File{{Filename: "c", Content: "c"}}, CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, borrowed.Close())
	assert.Zero(t, atomic.LoadInt32(&transport.closed), "borrowed pool is left open")

	owned := New(WithBaseURL(srv.URL))
	assert.Nil(t, owned.http.session, "pool is created lazily")
	require.NoError(t, owned.Close())

	_, err = owned.CreatePaste(context.Background(), []File{{Filename: "c", Content: "c"}}, CreateOptions{})
	require.NoError(t, err)
	assert.True(t, owned.http.ownsClient)
	assert.NoError(t, owned.Close())
}

func TestClient_NonPositiveTimeoutKeepsDefault(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		c := New(WithTimeout(d))
		assert.Equal(t, DefaultTimeout, c.http.timeout, d)
	}
	assert.Equal(t, time.Second, New(WithTimeout(time.Second)).http.timeout)

	srv, transport := setupTestServer(t)
	c := newTestClient(srv, transport, WithTimeout(0))
	_, err := c.CreatePaste(context.Background(), []File{{Filename: "t", Content: "t"}}, CreateOptions{})
	assert.NoError(t, err)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(WithBaseURL(srv.URL), WithTimeout(50*time.Millisecond), WithLogger(quietLogger()))
	defer c.Close()

	_, err := c.GetPaste(context.Background(), "AbcDef", GetOptions{})
	require.Error(t, err)
	assert.True(t, IsUnreachable(err))
	assert.True(t, strings.Contains(err.Error(), "response timed out"))
}
