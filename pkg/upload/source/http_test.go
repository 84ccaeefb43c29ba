package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rangeServer serves a fixed payload with Range support.
func rangeServer(t *testing.T, payload []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
			if r.Method == http.MethodHead {
				return
			}
			_, _ = w.Write(payload)
			return
		}

		var offset int
		_, err := fmt.Sscanf(rangeHeader, "bytes=%d-", &offset)
		require.NoError(t, err)
		if offset >= len(payload) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, len(payload)-1, len(payload)))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(payload[offset:])
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPStat(t *testing.T) {
	ctx := context.Background()

	t.Run("content disposition wins", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Disposition", `attachment; filename="report.pdf"`)
			w.Header().Set("Content-Type", "application/pdf")
			w.Header().Set("Content-Length", "3")
		}))
		defer srv.Close()

		a := NewHTTPAdapter()
		defer a.Close()
		fi, err := a.Stat(ctx, Spec{Location: srv.URL}, srv.URL+"/ignored")
		require.NoError(t, err)
		assert.Equal(t, "report.pdf", fi.Name)
		assert.Equal(t, "application/pdf", fi.MimeType)
		assert.EqualValues(t, 3, fi.Size)
	})

	t.Run("url tail fallback", func(t *testing.T) {
		srv := rangeServer(t, []byte("abc"))
		a := NewHTTPAdapter()
		defer a.Close()
		fi, err := a.Stat(ctx, Spec{}, srv.URL+"/files/data.csv")
		require.NoError(t, err)
		assert.Equal(t, "data.csv", fi.Name)
	})

	t.Run("synthesized name for bare host", func(t *testing.T) {
		srv := rangeServer(t, []byte("abc"))
		a := NewHTTPAdapter()
		defer a.Close()
		fi, err := a.Stat(ctx, Spec{}, srv.URL+"/")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(fi.Name, "download_"), fi.Name)
	})
}

func TestHTTPFetch(t *testing.T) {
	ctx := context.Background()
	payload := []byte("0123456789")
	srv := rangeServer(t, payload)

	a := NewHTTPAdapter()
	defer a.Close()

	dst := filepath.Join(t.TempDir(), "out")
	var lastDone int64
	require.NoError(t, a.Fetch(ctx, Spec{}, srv.URL+"/file", dst, func(done, _ int64) { lastDone = done }))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.EqualValues(t, len(payload), lastDone)
}

func TestHTTPResume(t *testing.T) {
	ctx := context.Background()
	payload := []byte("0123456789") // 10 bytes

	t.Run("partial content appends from offset", func(t *testing.T) {
		srv := rangeServer(t, payload)
		a := NewHTTPAdapter()
		defer a.Close()

		dst := filepath.Join(t.TempDir(), "partial")
		require.NoError(t, os.WriteFile(dst, payload[:4], 0o644))

		var lastDone, lastTotal int64
		err := a.Resume(ctx, Spec{}, srv.URL+"/file", dst, 4, func(done, total int64) {
			lastDone, lastTotal = done, total
		})
		require.NoError(t, err)

		got, err := os.ReadFile(dst)
		require.NoError(t, err)
		assert.Equal(t, payload, got, "final content matches the full resource")
		assert.EqualValues(t, 10, lastDone)
		assert.EqualValues(t, 10, lastTotal)
	})

	t.Run("416 means already complete", func(t *testing.T) {
		srv := rangeServer(t, payload)
		a := NewHTTPAdapter()
		defer a.Close()

		dst := filepath.Join(t.TempDir(), "full")
		require.NoError(t, os.WriteFile(dst, payload, 0o644))
		err := a.Resume(ctx, Spec{}, srv.URL+"/file", dst, 10, nil)
		assert.ErrorIs(t, err, ErrAlreadyComplete)
	})

	t.Run("200 restarts from scratch", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(payload) // range ignored
		}))
		defer srv.Close()
		a := NewHTTPAdapter()
		defer a.Close()

		dst := filepath.Join(t.TempDir(), "restarted")
		require.NoError(t, os.WriteFile(dst, []byte("garbage"), 0o644))
		require.NoError(t, a.Resume(ctx, Spec{}, srv.URL+"/file", dst, 4, nil))

		got, err := os.ReadFile(dst)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})
}

func TestHTTPAuth(t *testing.T) {
	ctx := context.Background()

	t.Run("bearer token sent", func(t *testing.T) {
		var got string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.Header.Get("Authorization")
		}))
		defer srv.Close()

		a := NewHTTPAdapter()
		defer a.Close()
		_, err := a.Stat(ctx, Spec{Credentials: Credentials{Token: "sekret"}}, srv.URL+"/x")
		require.NoError(t, err)
		assert.Equal(t, "Bearer sekret", got)
	})

	t.Run("custom header sent", func(t *testing.T) {
		var got string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.Header.Get("X-Api-Key")
		}))
		defer srv.Close()

		a := NewHTTPAdapter()
		defer a.Close()
		_, err := a.Stat(ctx, Spec{Credentials: Credentials{Header: "X-Api-Key", HeaderValue: "k1"}}, srv.URL+"/x")
		require.NoError(t, err)
		assert.Equal(t, "k1", got)
	})

	t.Run("401 maps to auth error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		a := NewHTTPAdapter()
		defer a.Close()
		err := a.Fetch(ctx, Spec{}, srv.URL+"/x", filepath.Join(t.TempDir(), "out"), nil)
		assert.ErrorIs(t, err, ErrAuth)
	})

	t.Run("404 maps to not found", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()

		a := NewHTTPAdapter()
		defer a.Close()
		err := a.Fetch(ctx, Spec{}, srv.URL+"/x", filepath.Join(t.TempDir(), "out"), nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&StatusError{Code: 503}))
	assert.False(t, IsTransient(&StatusError{Code: 400}))
	assert.False(t, IsTransient(fmt.Errorf("wrap: %w", ErrAuth)))
	assert.False(t, IsTransient(fmt.Errorf("wrap: %w", ErrNotFound)))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(nil))
}
