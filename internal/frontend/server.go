// Package frontend is the wire-facing DNS listener: it accepts UDP/TCP
// queries, translates them to and from dnsrank.Question/Response, and
// delegates all resolution to a dnsrank.Resolver. It holds no resolver
// state of its own and does no caching or authoritative lookups.
package frontend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/rankdns/rankdns/internal/dnsrank"
	"github.com/rankdns/rankdns/internal/metrics"
	"github.com/rankdns/rankdns/internal/querylog"
)

// Config controls where the frontend listens.
type Config struct {
	ListenUDP string
	ListenTCP string
}

// Server is the dual UDP/TCP DNS listener in front of a Resolver.
type Server struct {
	cfg    Config
	log    *querylog.Log
	store  *querylog.Store
	logger *slog.Logger

	// resolverMu guards resolver and onQuery, which a reload can swap out
	// from under live queries (see SetResolver).
	resolverMu sync.RWMutex
	resolver   *dnsrank.Resolver
	// onQuery, if set, is called after every query the resolver returns a
	// Response for (including SERVFAIL results; a query whose
	// Resolver.Query returns an error skips it), letting a caller drive
	// things like anomaly-phase
	// bookkeeping without the frontend depending on internal/anomaly.
	onQuery func(dnsrank.Response)

	udpServer *dns.Server
	tcpServer *dns.Server

	mu      sync.Mutex
	started bool
}

// NewServer builds a frontend in front of resolver. store may be nil if
// durable query-log persistence isn't configured.
func NewServer(cfg Config, resolver *dnsrank.Resolver, log *querylog.Log, store *querylog.Store, logger *slog.Logger) *Server {
	return &Server{cfg: cfg, resolver: resolver, log: log, store: store, logger: logger}
}

// SetResolver atomically swaps the resolver (and its onQuery hook) that
// handleQuery consults, so a config reload takes effect for the very next
// query instead of requiring a listener restart.
func (s *Server) SetResolver(resolver *dnsrank.Resolver, onQuery func(dnsrank.Response)) {
	s.resolverMu.Lock()
	defer s.resolverMu.Unlock()
	s.resolver = resolver
	s.onQuery = onQuery
}

func (s *Server) current() (*dnsrank.Resolver, func(dnsrank.Response)) {
	s.resolverMu.RLock()
	defer s.resolverMu.RUnlock()
	return s.resolver, s.onQuery
}

// Start begins listening on the configured UDP and TCP addresses.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("frontend: already started")
	}

	mux := dns.NewServeMux()
	mux.HandleFunc(".", s.handleQuery)

	s.udpServer = &dns.Server{Addr: s.cfg.ListenUDP, Net: "udp", Handler: mux}
	s.tcpServer = &dns.Server{Addr: s.cfg.ListenTCP, Net: "tcp", Handler: mux}

	go func() {
		s.logger.Info("frontend UDP listener starting", "addr", s.cfg.ListenUDP)
		if err := s.udpServer.ListenAndServe(); err != nil {
			s.logger.Error("frontend UDP listener error", "error", err)
			metrics.ListenerErrors.WithLabelValues("udp").Inc()
		}
	}()
	go func() {
		s.logger.Info("frontend TCP listener starting", "addr", s.cfg.ListenTCP)
		if err := s.tcpServer.ListenAndServe(); err != nil {
			s.logger.Error("frontend TCP listener error", "error", err)
			metrics.ListenerErrors.WithLabelValues("tcp").Inc()
		}
	}()

	s.started = true
	return nil
}

// Stop shuts down both listeners.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	if s.udpServer != nil {
		s.udpServer.ShutdownContext(ctx)
	}
	if s.tcpServer != nil {
		s.tcpServer.ShutdownContext(ctx)
	}
	s.started = false
	s.logger.Info("frontend stopped")
}

func (s *Server) handleQuery(w dns.ResponseWriter, r *dns.Msg) {
	if len(r.Question) == 0 {
		dns.HandleFailed(w, r)
		return
	}
	wireQ := r.Question[0]
	source := ""
	if w.RemoteAddr() != nil {
		source = w.RemoteAddr().String()
	}
	start := time.Now()

	q := dnsrank.NewQuestion(
		strings.ToLower(wireQ.Name),
		rdtypeFor(wireQ.Qtype),
		rdclassFor(wireQ.Qclass),
		headerFlags(r),
	)

	resolver, onQuery := s.current()

	rep, err := resolver.Query(context.Background(), q)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		s.logger.Debug("query failed", "name", q.Qname, "error", err)
		dns.HandleFailed(w, r)
		s.record(querylog.Entry{
			Timestamp: start, Qname: q.Qname, Qtype: string(q.Rdtype), Source: source,
			Code: "SERVFAIL", Latency: elapsed * 1000,
		})
		metrics.QueriesTotal.WithLabelValues(string(q.Rdtype), "SERVFAIL").Inc()
		return
	}

	resp := toMsg(r, rep)
	w.WriteMsg(resp)

	s.record(querylog.Entry{
		Timestamp: start, Qname: q.Qname, Qtype: string(q.Rdtype), Source: source,
		Server: rep.Server, Tag: rep.Tag, Code: string(rep.Code),
		Latency: elapsed * 1000, Retries: len(rep.Failed),
	})
	metrics.QueriesTotal.WithLabelValues(string(q.Rdtype), string(rep.Code)).Inc()
	metrics.QueryDuration.WithLabelValues(rep.Tag).Observe(elapsed)
	metrics.QueryRetries.WithLabelValues(rep.Tag).Observe(float64(len(rep.Failed)))

	if onQuery != nil {
		onQuery(rep)
	}
}

func (s *Server) record(entry querylog.Entry) {
	if s.log != nil {
		s.log.Add(entry)
	}
	if s.store != nil {
		if err := s.store.Append(entry); err != nil {
			s.logger.Warn("query log persist failed", "error", err)
		}
	}
}

func headerFlags(r *dns.Msg) uint16 {
	var flags uint16
	if r.RecursionDesired {
		flags |= 0x0100
	}
	if r.CheckingDisabled {
		flags |= 0x0010
	}
	return flags
}

func rdtypeFor(qtype uint16) dnsrank.RdType {
	if name, ok := dns.TypeToString[qtype]; ok {
		return dnsrank.RdType(name)
	}
	return dnsrank.TypeA
}

func rdclassFor(qclass uint16) dnsrank.RdClass {
	if name, ok := dns.ClassToString[qclass]; ok {
		return dnsrank.RdClass(name)
	}
	return dnsrank.ClassIN
}

// toMsg builds the wire reply from a resolver Response. It reconstructs the
// answer/authority/additional sections from the backend's presentation-style
// record strings rather than parsing a second wire message, since
// dnsrank.BackendResponse already carries them as plain RR text.
func toMsg(query *dns.Msg, rep dnsrank.Response) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(query)
	if rcode, ok := dns.StringToRcode[string(rep.Code)]; ok {
		resp.Rcode = rcode
	}
	resp.Answer = parseRRs(rep.Rrset)
	resp.Ns = parseRRs(rep.Auset)
	resp.Extra = parseRRs(rep.Arset)
	return resp
}

func parseRRs(lines []string) []dns.RR {
	if len(lines) == 0 {
		return nil
	}
	out := make([]dns.RR, 0, len(lines))
	for _, line := range lines {
		rr, err := dns.NewRR(line)
		if err != nil || rr == nil {
			continue
		}
		out = append(out, rr)
	}
	return out
}
