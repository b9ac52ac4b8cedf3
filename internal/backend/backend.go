// Package backend implements the concrete upstream transports a
// dnsrank.Resolver dials out through: a real miekg/dns client, a
// synthetic-latency mock, a static YAML-backed zone, and a stub that always
// refuses. None of them cache answers or do authoritative lookups; they
// exist purely to satisfy the dnsrank.Backend function contract.
package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rankdns/rankdns/internal/dnsrank"
)

// cache memoizes the dnsrank.Backend built for each server string, the same
// way the original Python implementation wraps its backend constructor in
// functools.cache. Cleared on config reload since a "file@" backend's
// parsed zone data and a real backend's resolved address shouldn't survive
// past a reload that might have changed the underlying file or DNS config.
var cache sync.Map // map[string]dnsrank.Backend

// Dial returns the dnsrank.Backend for server, building and memoizing it on
// first use. The server grammar is:
//
//   - "refuse" — always REFUSED
//   - "file@<path>" — static YAML-backed answers
//   - "mock[@r=<seconds>,v=<volatility>]" — synthetic latency
//   - "<host>[@<port>]" — a real upstream, default port 53
func Dial(server dnsrank.Server) (dnsrank.Backend, error) {
	if cached, ok := cache.Load(server); ok {
		return cached.(dnsrank.Backend), nil
	}
	built, err := build(server)
	if err != nil {
		return nil, fmt.Errorf("backend: %q: %w", server, err)
	}
	actual, _ := cache.LoadOrStore(server, built)
	return actual.(dnsrank.Backend), nil
}

// ClearCache drops every memoized backend, forcing the next Dial for each
// server to rebuild it. Call this after a config reload.
func ClearCache() {
	cache.Range(func(key, _ any) bool {
		cache.Delete(key)
		return true
	})
}

func build(server dnsrank.Server) (dnsrank.Backend, error) {
	switch {
	case strings.EqualFold(server, "refuse"):
		return refuseBackend, nil
	case strings.HasPrefix(server, "file@"):
		return newFileBackend(strings.TrimPrefix(server, "file@"))
	case server == "mock" || strings.HasPrefix(server, "mock@"):
		return newMockBackend(server)
	default:
		return newRealBackend(server)
	}
}

func refuseBackend(ctx context.Context, q dnsrank.Question, timeout time.Duration, tcp bool) (dnsrank.BackendResponse, error) {
	return dnsrank.BackendResponse{Code: dnsrank.REFUSED}, nil
}
