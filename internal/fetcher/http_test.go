package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pricesync-test/1.0", r.Header.Get("User-Agent"))
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{UserAgent: "pricesync-test/1.0", HostRate: 100, HostBurst: 10})
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.Status)
	assert.Equal(t, "<html>ok</html>", page.Body)
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{MaxRetries: 3, HostRate: 1000, HostBurst: 10})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	page, err := f.Fetch(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "recovered", page.Body)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_NotFoundIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{HostRate: 1000, HostBurst: 10})
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestFetch_UnreachableHost(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{MaxRetries: 1, Timeout: time.Second, HostRate: 1000, HostBurst: 10})
	_, err := f.Fetch(context.Background(), "http://127.0.0.1:1")
	require.Error(t, err)
}

func TestFetch_BodyCapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for range 1000 {
			w.Write([]byte("0123456789"))
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{MaxBodyBytes: 100, HostRate: 1000, HostBurst: 10})
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, page.Body, 100)
}
