package dnsrank

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Backend is the transport contract a Resolver dials out through: given a
// question, a per-attempt timeout, and whether to force TCP, return a
// response. Implementations live in internal/backend; this package only
// depends on the function shape so it never imports wire-transport code.
type Backend func(ctx context.Context, q Question, timeout time.Duration, tcp bool) (BackendResponse, error)

// BackendResolver looks up (and typically memoizes) the Backend for a
// server string. internal/backend.Dial satisfies this.
type BackendResolver func(server Server) (Backend, error)

// Delayer injects synthetic latency into queries to servers whose name
// matches Pattern, used to simulate degraded upstreams.
type Delayer struct {
	Pattern *regexp.Regexp
	Delay   time.Duration
}

// Config is the immutable configuration a Resolver is built from.
type Config struct {
	Servers    []Server
	Rules      []*DomainRule
	TimeoutMax time.Duration
	TimeoutMin time.Duration
	RetriesMax int
	TCP        bool
}

// Resolver orchestrates ranked server selection, backend dispatch, and
// retry on SERVFAIL, feeding every outcome back into its State.
type Resolver struct {
	Config  Config
	State   State
	Dial    BackendResolver
	Delayers []Delayer

	// Lifetime, if set, supplies the per-(server,question) timeout in place
	// of Config.TimeoutMax; either way the result is clamped to
	// [Config.TimeoutMin, Config.TimeoutMax].
	Lifetime func(server Server, q Question) time.Duration

	rules       []*DomainRule
	servergroups map[Server][]string
}

// NewResolver builds a Resolver and its one-time derived state: sorted
// rules (most specific first) and the server-group tag map used for
// reporting.
func NewResolver(cfg Config, state State, dial BackendResolver) *Resolver {
	r := &Resolver{Config: cfg, State: state, Dial: dial}
	r.rules = SortRules(cfg.Rules)
	r.servergroups = buildServergroups(cfg.Servers, r.rules)
	for _, server := range cfg.Servers {
		state.Add(server)
	}
	for _, rule := range cfg.Rules {
		for _, server := range rule.Servers {
			state.Add(server)
		}
	}
	return r
}

// buildServergroups assigns a tag to every distinct server set (the
// default set and each rule's set), reusing a tag when two rules (or a
// rule and the default set) share the exact same servers, and then maps
// every server to the tags of every group it belongs to.
func buildServergroups(defaultServers []Server, rules []*DomainRule) map[Server][]string {
	type group struct {
		key string
		tag string
	}
	var groups []group
	tagFor := func(servers []Server, preferred string) string {
		key := serverSetKey(servers)
		for _, g := range groups {
			if g.key == key {
				return g.tag
			}
		}
		tag := preferred
		if tag == "" {
			tag = fmt.Sprintf("GRP%d", len(groups)+1)
		}
		groups = append(groups, group{key: key, tag: tag})
		return tag
	}
	tagFor(defaultServers, "DFLT")
	for _, rule := range rules {
		rule.Tag = tagFor(rule.Servers, rule.Tag)
	}
	out := make(map[Server][]string)
	add := func(servers []Server, tag string) {
		for _, server := range servers {
			out[server] = append(out[server], tag)
		}
	}
	// re-walk in the same grouping so every server sees every tag whose
	// set it belongs to, not just the first one assigned to it
	seen := map[string]bool{}
	addGroup := func(servers []Server, tag string) {
		key := serverSetKey(servers) + "\x00" + tag
		if seen[key] {
			return
		}
		seen[key] = true
		add(servers, tag)
	}
	addGroup(defaultServers, "DFLT")
	for _, rule := range rules {
		addGroup(rule.Servers, rule.Tag)
	}
	for server := range out {
		sort.Strings(out[server])
	}
	return out
}

func serverSetKey(servers []Server) string {
	sorted := make([]string, len(servers))
	copy(sorted, servers)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// Select returns the server list and group tag for q, per the resolver's
// domain rules (see routing.go).
func (r *Resolver) Select(q Question) ([]Server, string) {
	return Select(r.rules, r.Config.Servers, q.Qname)
}

// lifetime computes the bounded per-attempt timeout for server.
func (r *Resolver) lifetime(server Server, q Question) time.Duration {
	base := r.Config.TimeoutMax
	if r.Lifetime != nil {
		base = r.Lifetime(server, q)
	}
	if base > r.Config.TimeoutMax {
		base = r.Config.TimeoutMax
	}
	if base < r.Config.TimeoutMin {
		base = r.Config.TimeoutMin
	}
	return base
}

func (r *Resolver) delayFor(server Server) time.Duration {
	for _, d := range r.Delayers {
		if d.Pattern.MatchString(server) {
			return d.Delay
		}
	}
	return 0
}

// Query resolves q, trying ranked servers in turn. A SERVFAIL is retried
// against the next-ranked server until either a non-SERVFAIL response
// arrives or Config.RetriesMax retries have been spent; the loop is hard
// bounded to RetriesMax+1 total attempts so a server set that SERVFAILs
// forever cannot spin it indefinitely.
func (r *Resolver) Query(ctx context.Context, q Question) (Response, error) {
	servers, tag := r.Select(q)
	if len(servers) == 0 {
		return Response{}, fmt.Errorf("dnsrank: no servers for %q", q.Qname)
	}
	var failed []Server
	var server Server
	var rep BackendResponse
	maxAttempts := r.Config.RetriesMax + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		ranked := r.State.Ranked(servers)
		server = ranked[0]
		for _, s := range ranked {
			if !containsServer(failed, s) {
				server = s
				break
			}
		}

		delay := r.delayFor(server)
		lifetime := r.lifetime(server, q)
		if delay > lifetime {
			delay = lifetime
		}
		lifetime -= delay

		backend, err := r.Dial(server)
		if err != nil {
			return Response{}, fmt.Errorf("dnsrank: dial %q: %w", server, err)
		}

		start := time.Now().Add(-delay)
		rep, err = backend(ctx, q, lifetime, r.Config.TCP)
		if err != nil {
			return Response{}, fmt.Errorf("dnsrank: query %q: %w", server, err)
		}
		rep.Rtime += time.Since(start).Seconds()

		r.State.Observe(server, rep.Rtime, rep.Code, ranked)

		if rep.Code == SERVFAIL && len(failed) < r.Config.RetriesMax {
			if !containsServer(failed, server) {
				failed = append(failed, server)
			}
			continue
		}
		break
	}
	return Response{
		BackendResponse: rep,
		Server:          server,
		Q:               q,
		Tag:             tag,
		Failed:          failed,
	}, nil
}

func containsServer(servers []Server, server Server) bool {
	for _, s := range servers {
		if s == server {
			return true
		}
	}
	return false
}

// Servergroups returns the tags each server belongs to, for reporting.
func (r *Resolver) Servergroups() map[Server][]string {
	return r.servergroups
}
