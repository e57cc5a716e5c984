package deployer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPollHealthSucceedsImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := pollHealth(context.Background(), srv.Client(), srv.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("pollHealth: %v", err)
	}
}

func TestPollHealthTimesOutAgainstDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	start := time.Now()
	err := pollHealth(context.Background(), srv.Client(), srv.URL, 500*time.Millisecond)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	if elapsed > 2*time.Second {
		t.Fatalf("pollHealth took %s, expected to bail out near the 500ms deadline", elapsed)
	}
}

func TestProbeRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if probe(context.Background(), srv.Client(), srv.URL) {
		t.Fatal("expected probe to reject a 500 response")
	}
}

func TestProbeAcceptsUnreachableAsFalse(t *testing.T) {
	if probe(context.Background(), http.DefaultClient, "http://127.0.0.1:1") {
		t.Fatal("expected probe against an unreachable port to return false")
	}
}
