package router

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// quarantine polls every service-kind route's health URL on a fixed interval,
// marking a route unhealthy after consecutiveFailureThreshold misses in a row
// and healthy again on the very next success.
type quarantine struct {
	table    *Table
	client   *http.Client
	interval time.Duration
	timeout  time.Duration
	failures sync.Map // host -> *atomic.Int32 consecutive failure count
}

const consecutiveFailureThreshold = 3

func newQuarantine(table *Table, interval, timeout time.Duration) *quarantine {
	return &quarantine{
		table:    table,
		client:   &http.Client{Timeout: timeout},
		interval: interval,
		timeout:  timeout,
	}
}

func (q *quarantine) run(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.checkAll(ctx)
		}
	}
}

func (q *quarantine) checkAll(ctx context.Context) {
	for host, route := range q.table.Snapshot() {
		if route.Kind != RouteService || route.HealthURL == "" {
			continue
		}
		go q.check(ctx, host, route)
	}
}

func (q *quarantine) check(ctx context.Context, host string, route Route) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	ok := probeOK(ctx, q.client, route.HealthURL)
	if ok {
		q.failures.Delete(host)
		q.table.SetHealth(host, true)
		return
	}

	countAny, _ := q.failures.LoadOrStore(host, new(atomic.Int32))
	count := countAny.(*atomic.Int32)
	if count.Add(1) >= consecutiveFailureThreshold {
		q.table.SetHealth(host, false)
	}
}

func probeOK(ctx context.Context, client *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
