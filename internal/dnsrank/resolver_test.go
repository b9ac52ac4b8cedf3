package dnsrank

import (
	"context"
	"regexp"
	"testing"
	"time"
)

func TestResolverDelayerReducesEffectiveLifetime(t *testing.T) {
	cfg := Config{
		Servers:    []Server{"slow.test"},
		TimeoutMax: time.Second,
		TimeoutMin: 10 * time.Millisecond,
		RetriesMax: 0,
	}
	var gotTimeout time.Duration
	r := NewResolver(cfg, NewBindState(DefaultBindParams()), dialFunc(func(ctx context.Context, q Question, timeout time.Duration, tcp bool) (BackendResponse, error) {
		gotTimeout = timeout
		return BackendResponse{Code: NOERROR}, nil
	}))
	r.Delayers = []Delayer{{Pattern: regexp.MustCompile(`^slow\.`), Delay: 200 * time.Millisecond}}
	if _, err := r.Query(context.Background(), NewQuestion("example.com.", TypeA, ClassIN, 0)); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if gotTimeout != cfg.TimeoutMax-200*time.Millisecond {
		t.Errorf("expected backend timeout reduced by delay, got %v", gotTimeout)
	}
}

func dialFunc(fn func(ctx context.Context, q Question, timeout time.Duration, tcp bool) (BackendResponse, error)) BackendResolver {
	return func(server Server) (Backend, error) {
		return Backend(fn), nil
	}
}

func TestResolverQuerySucceedsOnFirstServer(t *testing.T) {
	cfg := Config{
		Servers:    []Server{"1.1.1.1"},
		TimeoutMax: 2 * time.Second,
		TimeoutMin: 100 * time.Millisecond,
		RetriesMax: 3,
	}
	dial := dialFunc(func(ctx context.Context, q Question, timeout time.Duration, tcp bool) (BackendResponse, error) {
		return BackendResponse{Code: NOERROR, Rrset: []string{"1.2.3.4"}}, nil
	})
	r := NewResolver(cfg, NewBindState(DefaultBindParams()), dial)
	resp, err := r.Query(context.Background(), NewQuestion("example.com.", TypeA, ClassIN, 0))
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if resp.Code != NOERROR || resp.Server != "1.1.1.1" {
		t.Errorf("expected success from 1.1.1.1, got %+v", resp)
	}
	if resp.Failed != nil {
		t.Errorf("expected no failed servers, got %v", resp.Failed)
	}
}

func TestResolverQueryRetriesOnServfail(t *testing.T) {
	cfg := Config{
		Servers:    []Server{"bad", "good"},
		TimeoutMax: 2 * time.Second,
		TimeoutMin: 100 * time.Millisecond,
		RetriesMax: 3,
	}
	dial := func(server Server) (Backend, error) {
		if server == "bad" {
			return func(ctx context.Context, q Question, timeout time.Duration, tcp bool) (BackendResponse, error) {
				return BackendResponse{Code: SERVFAIL}, nil
			}, nil
		}
		return func(ctx context.Context, q Question, timeout time.Duration, tcp bool) (BackendResponse, error) {
			return BackendResponse{Code: NOERROR}, nil
		}, nil
	}
	s := NewBindState(DefaultBindParams())
	// Force "bad" to rank ahead of "good" on the very first attempt.
	s.Add("bad")
	s.Add("good")
	s.SR["good"] = 1.0
	r := NewResolver(cfg, s, dial)
	resp, err := r.Query(context.Background(), NewQuestion("example.com.", TypeA, ClassIN, 0))
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if resp.Code != NOERROR || resp.Server != "good" {
		t.Errorf("expected eventual success from good server, got %+v", resp)
	}
	if len(resp.Failed) != 1 || resp.Failed[0] != "bad" {
		t.Errorf("expected bad server recorded as failed, got %v", resp.Failed)
	}
}

func TestResolverQueryBoundedByRetriesMax(t *testing.T) {
	cfg := Config{
		Servers:    []Server{"only"},
		TimeoutMax: 2 * time.Second,
		TimeoutMin: 100 * time.Millisecond,
		RetriesMax: 2,
	}
	calls := 0
	dial := dialFunc(func(ctx context.Context, q Question, timeout time.Duration, tcp bool) (BackendResponse, error) {
		calls++
		return BackendResponse{Code: SERVFAIL}, nil
	})
	r := NewResolver(cfg, NewBindState(DefaultBindParams()), dial)
	resp, err := r.Query(context.Background(), NewQuestion("example.com.", TypeA, ClassIN, 0))
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if resp.Code != SERVFAIL {
		t.Errorf("expected exhausted SERVFAIL response, got %+v", resp)
	}
	// retries_max=2 retries means 3 total attempts, never more even though
	// every attempt SERVFAILs.
	if calls != cfg.RetriesMax+1 {
		t.Errorf("expected %d attempts, got %d", cfg.RetriesMax+1, calls)
	}
}

func TestResolverSelectUsesRules(t *testing.T) {
	rule, err := NewDomainRule("internal.example.", nil, []Server{"10.0.0.1"}, "internal")
	if err != nil {
		t.Fatalf("NewDomainRule failed: %v", err)
	}
	cfg := Config{
		Servers:    []Server{"1.1.1.1"},
		Rules:      []*DomainRule{rule},
		TimeoutMax: time.Second,
		TimeoutMin: 100 * time.Millisecond,
		RetriesMax: 1,
	}
	r := NewResolver(cfg, NewBindState(DefaultBindParams()), dialFunc(func(ctx context.Context, q Question, timeout time.Duration, tcp bool) (BackendResponse, error) {
		return BackendResponse{Code: NOERROR}, nil
	}))
	servers, tag := r.Select(NewQuestion("host.internal.example.", TypeA, ClassIN, 0))
	if tag != "internal" || len(servers) != 1 || servers[0] != "10.0.0.1" {
		t.Errorf("expected rule to apply, got servers=%v tag=%v", servers, tag)
	}
}
