package main

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombowditch/mystbin-go/client"
	"github.com/tombowditch/mystbin-go/internal/server/httpserver"
	"github.com/tombowditch/mystbin-go/internal/store"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "mystbin-go v"+client.Version+"\n"))
}

func TestCreateGetDelete(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	srv := httptest.NewServer(httpserver.NewHandler(store.NewMemory(), httpserver.WithLogger(log)))
	defer srv.Close()

	out, err := run(t, "hello from stdin", "--base-url", srv.URL, "create")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	pasteURL := lines[0]
	token := strings.TrimPrefix(lines[1], "security token: ")
	require.True(t, strings.HasPrefix(pasteURL, srv.URL+"/"))

	out, err = run(t, "", "--base-url", srv.URL, "get", "--raw", pasteURL)
	require.NoError(t, err)
	assert.Equal(t, "hello from stdin", out)

	out, err = run(t, "", "--base-url", srv.URL, "get", pasteURL)
	require.NoError(t, err)
	assert.Contains(t, out, "--- stdin.txt (1 lines)")

	_, err = run(t, "", "--base-url", srv.URL, "delete", token)
	require.NoError(t, err)

	_, err = run(t, "", "--base-url", srv.URL, "get", pasteURL)
	assert.True(t, client.IsNotFound(err))
}

func TestMineNeedsToken(t *testing.T) {
	t.Setenv("MYSTBIN_TOKEN", "")
	_, err := run(t, "", "--base-url", "http://127.0.0.1:1", "mine")
	assert.True(t, client.IsAuthenticationRequired(err))
}
