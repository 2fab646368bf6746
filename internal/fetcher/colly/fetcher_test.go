package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
)

func TestFetchReturnsBodyAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Served-By", "fixture")
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	resp, err := f.Fetch(context.Background(), crawler.NewRequest(srv.URL+"/page"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "hello", string(resp.Body))
	require.Equal(t, "fixture", resp.Header.Get("X-Served-By"))
}

func TestFetchForwardsRequestHeaders(t *testing.T) {
	var gotUA, gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotCookie = r.Header.Get("Cookie")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	req := crawler.NewRequest(srv.URL + "/page")
	req.Header.Set("User-Agent", "ua-under-test")
	req.Header.Set("Cookie", "session=s1")

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "ua-under-test", gotUA)
	require.Equal(t, "session=s1", gotCookie)
}

func TestFetchSurfacesNon2xxAsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("upstream sad"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	resp, err := f.Fetch(context.Background(), crawler.NewRequest(srv.URL+"/page"))
	require.NoError(t, err, "status errors are responses, not fetch errors")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "upstream sad", string(resp.Body))
}

func TestFetchErrorsOnUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // listener gone, connection refused

	f := New(Config{Timeout: 2 * time.Second})
	_, err := f.Fetch(context.Background(), crawler.NewRequest(srv.URL+"/page"))
	require.Error(t, err)
}

func TestFetchHonorsCanceledContext(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	f := New(Config{Timeout: 30 * time.Second})
	_, err := f.Fetch(ctx, crawler.NewRequest(srv.URL+"/slow"))
	require.Error(t, err)
}

func TestFetchPost(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	req := crawler.NewRequest(srv.URL + "/submit")
	req.Method = http.MethodPost

	f := New(Config{Timeout: 5 * time.Second})
	resp, err := f.Fetch(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, gotMethod)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
