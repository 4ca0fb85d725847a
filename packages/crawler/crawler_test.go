package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<html><title>Home</title><body>" + strings.Repeat("a", 100) + "</body></html>"))
		case "/file.bin":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write([]byte("binary"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(Options{Timeout: time.Second, UserAgent: "test-agent", MaxBodyBytes: 32})
	ctx := context.Background()

	resp, err := c.Fetch(ctx, srv.URL+"/")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if len(resp.Body) != 32 {
		t.Errorf("body length = %d, want capped at 32", len(resp.Body))
	}

	resp, err = c.Fetch(ctx, srv.URL+"/missing")
	if err != nil {
		t.Fatalf("non-2xx must not be an error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound || resp.Body != "" {
		t.Errorf("got %d %q", resp.StatusCode, resp.Body)
	}

	resp, err = c.Fetch(ctx, srv.URL+"/file.bin")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if resp.Body != "" {
		t.Errorf("non-HTML body should be dropped, got %q", resp.Body)
	}
}

func TestFetchTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := New(Options{Timeout: time.Second})
	if _, err := c.Fetch(context.Background(), addr+"/"); err == nil {
		t.Fatal("expected transport error for closed server")
	}
}

func TestFetchHonoursCancellation(t *testing.T) {
	c := New(Options{Timeout: time.Second, Delay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Fetch(ctx, "http://127.0.0.1:1/"); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestAllowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(Options{Timeout: time.Second, RespectRobots: true, UserAgent: "test-agent"})
	ctx := context.Background()
	if !c.Allowed(ctx, srv.URL+"/public") {
		t.Error("/public should be allowed")
	}
	if c.Allowed(ctx, srv.URL+"/private/page") {
		t.Error("/private/page should be disallowed")
	}

	off := New(Options{Timeout: time.Second})
	if !off.Allowed(ctx, srv.URL+"/private/page") {
		t.Error("robots checks disabled should allow everything")
	}
}
