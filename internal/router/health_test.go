package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestQuarantineMarksUnhealthyAfterThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tbl := NewTable()
	tbl.Replace(map[string]Route{
		"app.example.com": {Kind: RouteService, HealthURL: srv.URL, Healthy: true},
	})

	q := newQuarantine(tbl, time.Second, time.Second)
	for i := 0; i < consecutiveFailureThreshold; i++ {
		q.check(context.Background(), "app.example.com", mustLookup(t, tbl, "app.example.com"))
	}

	route, _ := tbl.Lookup("app.example.com")
	if route.Healthy {
		t.Fatal("expected route to be marked unhealthy after threshold consecutive failures")
	}
}

func TestQuarantineResetsOnFirstSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tbl := NewTable()
	tbl.Replace(map[string]Route{
		"app.example.com": {Kind: RouteService, HealthURL: srv.URL, Healthy: false},
	})

	q := newQuarantine(tbl, time.Second, time.Second)
	q.check(context.Background(), "app.example.com", mustLookup(t, tbl, "app.example.com"))

	route, _ := tbl.Lookup("app.example.com")
	if !route.Healthy {
		t.Fatal("expected a single success to immediately mark the route healthy")
	}
}

func mustLookup(t *testing.T, tbl *Table, host string) Route {
	t.Helper()
	route, ok := tbl.Lookup(host)
	if !ok {
		t.Fatalf("no route for %s", host)
	}
	return route
}
