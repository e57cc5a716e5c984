package router

import (
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// proxyCache reuses one reverse proxy per backend port instead of building a
// fresh httputil.ReverseProxy (and its transport) on every request.
type proxyCache struct {
	mu    sync.Mutex
	byKey map[int]*httputil.ReverseProxy
}

func newProxyCache() *proxyCache {
	return &proxyCache{byKey: make(map[int]*httputil.ReverseProxy)}
}

func (c *proxyCache) get(port int) *httputil.ReverseProxy {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.byKey[port]; ok {
		return p
	}
	p := newReverseProxy(port)
	c.byKey[port] = p
	return p
}

func newReverseProxy(port int) *httputil.ReverseProxy {
	target := &url.URL{Scheme: "http", Host: "127.0.0.1:" + strconv.Itoa(port)}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Transport = &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
	}
	return proxy
}

func forwardingHeaders(req *http.Request) {
	ip := clientIP(req)
	req.Header.Set("X-Real-IP", ip)
	req.Header.Set("X-Forwarded-For", ip)
	if req.TLS != nil {
		req.Header.Set("X-Forwarded-Proto", "https")
	} else {
		req.Header.Set("X-Forwarded-Proto", "http")
	}
	req.Header.Set("X-Forwarded-Host", req.Host)
}

func clientIP(req *http.Request) string {
	if xrip := req.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
