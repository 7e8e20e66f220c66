package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/igwedaniel/sharkmon/internal/types"
)

func newTestClient(t *testing.T, timeout time.Duration) *Client {
	t.Helper()
	c, err := New(Options{Timeout: timeout}, nil)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	return c
}

func TestNew_RejectsUnboundedTimeout(t *testing.T) {
	for _, timeout := range []time.Duration{0, -time.Second} {
		if _, err := New(Options{Timeout: timeout}, nil); err == nil {
			t.Fatalf("expected error for timeout %s", timeout)
		}
	}
}

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept=%q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`  [{"poolhashrate": 1}]  `))
	}))
	defer srv.Close()

	c := newTestClient(t, time.Second)
	body, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch err=%v", err)
	}
	if string(body) != `[{"poolhashrate": 1}]` {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestFetch_ErrorKinds(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantKind   types.ErrorKind
		wantStatus int
	}{
		{
			name:       "not found",
			handler:    func(w http.ResponseWriter, r *http.Request) { http.Error(w, "nope", http.StatusNotFound) },
			wantKind:   types.KindHTTPStatus,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "server error",
			handler:    func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			wantKind:   types.KindHTTPStatus,
			wantStatus: http.StatusBadGateway,
		},
		{
			name:     "malformed json",
			handler:  func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"poolhashrate":`)) },
			wantKind: types.KindDecode,
		},
		{
			name:     "empty body",
			handler:  func(w http.ResponseWriter, r *http.Request) {},
			wantKind: types.KindDecode,
		},
		{
			name: "html page",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				w.Write([]byte("<!DOCTYPE html><html></html>"))
			},
			wantKind: types.KindDecode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newTestClient(t, time.Second).Fetch(context.Background(), srv.URL)
			var fe *types.FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("expected *FetchError, got %v", err)
			}
			if fe.Kind != tt.wantKind {
				t.Fatalf("kind=%s want %s", fe.Kind, tt.wantKind)
			}
			if fe.StatusCode != tt.wantStatus {
				t.Fatalf("status=%d want %d", fe.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestFetch_TimeoutIsTransport(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := newTestClient(t, 50*time.Millisecond).Fetch(context.Background(), srv.URL)
	if types.KindOf(err) != types.KindTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout not honoured, took %s", elapsed)
	}
}

func TestFetch_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := newTestClient(t, time.Second).Fetch(context.Background(), addr)
	if types.KindOf(err) != types.KindTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestFetchInto(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"height": 42, "hash": "abc"}`))
	}))
	defer srv.Close()

	var out struct {
		Height int64  `json:"height"`
		Hash   string `json:"hash"`
	}
	if err := newTestClient(t, time.Second).FetchInto(context.Background(), srv.URL, &out); err != nil {
		t.Fatalf("FetchInto err=%v", err)
	}
	if out.Height != 42 || out.Hash != "abc" {
		t.Fatalf("unexpected decode %+v", out)
	}
}

func TestJoinURL(t *testing.T) {
	tests := []struct {
		base     string
		segments []string
		want     string
	}{
		{"http://host:8000/miningcore", []string{"poolstats"}, "http://host:8000/miningcore/poolstats"},
		{"http://host:8000/miningcore/", []string{"/blocks/", "9abc"}, "http://host:8000/miningcore/blocks/9abc"},
		{"https://api.example.com", []string{"miners", "top"}, "https://api.example.com/miners/top"},
	}
	for _, tt := range tests {
		got, err := JoinURL(tt.base, tt.segments...)
		if err != nil {
			t.Fatalf("JoinURL(%q) err=%v", tt.base, err)
		}
		if got != tt.want {
			t.Fatalf("JoinURL(%q, %v)=%q want %q", tt.base, tt.segments, got, tt.want)
		}
	}

	if _, err := JoinURL("not a url"); err == nil {
		t.Fatalf("expected error for base without scheme")
	}
}

func TestWithQuery(t *testing.T) {
	got := WithQuery("http://host/miners", url.Values{"limit": {"10"}, "offset": {"20"}})
	if got != "http://host/miners?limit=10&offset=20" {
		t.Fatalf("WithQuery=%q", got)
	}
}
