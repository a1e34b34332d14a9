package blob

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/safechat/internal/errs"
)

func TestDirStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := filepath.Join(t.TempDir(), "blobs")
	s, err := NewDirStore(dir)
	require.NoError(t, err)

	id, err := s.Put(ctx, []byte("sealed bytes"))
	require.NoError(t, err)
	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []byte("sealed bytes"), got)

	fi, err := os.Stat(filepath.Join(dir, id+".blob"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	_, err = s.Get(ctx, "6f1c1f39-5b3f-4e3a-9a63-2d8c1c2b7a10")
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = s.Get(ctx, "../../etc/passwd")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func newServer(t *testing.T, maxBytes int64) (*httptest.Server, *Client) {
	t.Helper()
	s, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	var srv *httptest.Server
	mux := http.NewServeMux()
	srv = httptest.NewServer(mux)
	mux.Handle("/", NewHandler(s, srv.URL, maxBytes, zaptest.NewLogger(t)))
	t.Cleanup(srv.Close)
	return srv, NewClient(srv.URL, srv.Client())
}

func TestHandler_UploadDownload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv, c := newServer(t, 0)

	url, err := c.Upload(ctx, []byte("payload"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, srv.URL+"/blobs/"), url)

	got, err := c.Download(ctx, url+"#k=ignored")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)

	_, err = c.Download(ctx, srv.URL+"/blobs/6f1c1f39-5b3f-4e3a-9a63-2d8c1c2b7a10")
	require.ErrorIs(t, err, errs.ErrNotFound)

	resp, err := srv.Client().Get(srv.URL + "/blobs/not-an-id")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_Rejects(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv, c := newServer(t, 8)

	_, err := c.Upload(ctx, bytes.Repeat([]byte{1}, 9))
	require.ErrorIs(t, err, errs.ErrUpload)

	_, err = c.Upload(ctx, nil)
	require.ErrorIs(t, err, errs.ErrUpload)

	resp, err := srv.Client().Get(srv.URL + "/blobs")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	dead := NewClient("http://127.0.0.1:1", nil)
	_, err = dead.Upload(ctx, []byte("x"))
	require.ErrorIs(t, err, errs.ErrUpload)
}
