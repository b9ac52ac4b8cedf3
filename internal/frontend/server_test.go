package frontend

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/rankdns/rankdns/internal/dnsrank"
	"github.com/rankdns/rankdns/internal/querylog"
)

type fakeResponseWriter struct {
	written *dns.Msg
	remote  net.Addr
}

func (f *fakeResponseWriter) LocalAddr() net.Addr          { return f.remote }
func (f *fakeResponseWriter) RemoteAddr() net.Addr         { return f.remote }
func (f *fakeResponseWriter) WriteMsg(m *dns.Msg) error    { f.written = m; return nil }
func (f *fakeResponseWriter) Write(b []byte) (int, error)  { return len(b), nil }
func (f *fakeResponseWriter) Close() error                 { return nil }
func (f *fakeResponseWriter) TsigStatus() error            { return nil }
func (f *fakeResponseWriter) TsigTimersOnly(bool)          {}
func (f *fakeResponseWriter) Hijack()                      {}

func dialFunc(rep dnsrank.BackendResponse) dnsrank.BackendResolver {
	return func(server dnsrank.Server) (dnsrank.Backend, error) {
		return func(ctx context.Context, q dnsrank.Question, timeout time.Duration, tcp bool) (dnsrank.BackendResponse, error) {
			return rep, nil
		}, nil
	}
}

func newTestResolver(rep dnsrank.BackendResponse) *dnsrank.Resolver {
	cfg := dnsrank.Config{
		Servers:    []dnsrank.Server{"10.0.0.1"},
		TimeoutMax: time.Second,
		TimeoutMin: time.Millisecond,
		RetriesMax: 1,
	}
	return dnsrank.NewResolver(cfg, dnsrank.NewBindState(dnsrank.DefaultBindParams()), dialFunc(rep))
}

func TestHandleQueryWritesAnswer(t *testing.T) {
	resolver := newTestResolver(dnsrank.BackendResponse{
		Code:  dnsrank.NOERROR,
		Rrset: []string{"example.com. 300 IN A 1.2.3.4"},
	})
	s := NewServer(Config{}, resolver, querylog.New(10), nil, slog.Default())

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	w := &fakeResponseWriter{remote: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5000}}

	s.handleQuery(w, req)

	if w.written == nil {
		t.Fatal("expected a written response")
	}
	if w.written.Rcode != dns.RcodeSuccess {
		t.Errorf("expected RcodeSuccess, got %d", w.written.Rcode)
	}
	if len(w.written.Answer) != 1 {
		t.Fatalf("expected 1 answer RR, got %d", len(w.written.Answer))
	}
	if s.log.Count() != 1 {
		t.Errorf("expected 1 query log entry, got %d", s.log.Count())
	}
}

func TestHandleQueryInvokesOnQueryHook(t *testing.T) {
	resolver := newTestResolver(dnsrank.BackendResponse{Code: dnsrank.NOERROR})
	s := NewServer(Config{}, resolver, querylog.New(10), nil, slog.Default())
	var got dnsrank.Response
	called := false
	s.SetResolver(resolver, func(rep dnsrank.Response) { called = true; got = rep })

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	w := &fakeResponseWriter{remote: &net.UDPAddr{}}
	s.handleQuery(w, req)

	if !called {
		t.Fatal("expected OnQuery to be called")
	}
	if got.Code != dnsrank.NOERROR {
		t.Errorf("unexpected response passed to OnQuery: %+v", got)
	}
}

func TestSetResolverSwapsLiveResolver(t *testing.T) {
	oldResolver := newTestResolver(dnsrank.BackendResponse{Code: dnsrank.SERVFAIL})
	newResolver := newTestResolver(dnsrank.BackendResponse{Code: dnsrank.NOERROR})
	s := NewServer(Config{}, oldResolver, querylog.New(10), nil, slog.Default())

	s.SetResolver(newResolver, nil)

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	w := &fakeResponseWriter{remote: &net.UDPAddr{}}
	s.handleQuery(w, req)

	if w.written == nil || w.written.Rcode != dns.RcodeSuccess {
		t.Fatalf("expected the swapped-in resolver's response, got %+v", w.written)
	}
}

func TestHandleQueryNoQuestionFails(t *testing.T) {
	resolver := newTestResolver(dnsrank.BackendResponse{Code: dnsrank.NOERROR})
	s := NewServer(Config{}, resolver, querylog.New(10), nil, slog.Default())

	req := new(dns.Msg)
	w := &fakeResponseWriter{remote: &net.UDPAddr{}}
	s.handleQuery(w, req)

	if w.written == nil {
		t.Fatal("expected dns.HandleFailed to still write a response")
	}
}

func TestRdtypeForUnknownFallsBackToA(t *testing.T) {
	if got := rdtypeFor(65535); got != dnsrank.TypeA {
		t.Errorf("expected fallback to A, got %v", got)
	}
}

func TestToMsgSetsRcodeFromResponse(t *testing.T) {
	query := new(dns.Msg)
	query.SetQuestion("example.com.", dns.TypeA)
	rep := dnsrank.Response{BackendResponse: dnsrank.BackendResponse{Code: dnsrank.NXDOMAIN}}
	resp := toMsg(query, rep)
	if resp.Rcode != dns.RcodeNameError {
		t.Errorf("expected RcodeNameError, got %d", resp.Rcode)
	}
}
