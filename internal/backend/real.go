package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/rankdns/rankdns/internal/dnsrank"
	"github.com/rankdns/rankdns/internal/metrics"
)

// newRealBackend builds a backend that exchanges queries with a live
// upstream over the wire, using miekg/dns the same way the teacher's
// forwardToUpstream does.
func newRealBackend(server string) (dnsrank.Backend, error) {
	host, port := server, "53"
	if at := strings.IndexByte(server, '@'); at >= 0 {
		host, port = server[:at], server[at+1:]
	}
	if _, err := strconv.Atoi(port); err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", port, err)
	}
	addr := host + ":" + port

	resolve := func(ctx context.Context, q dnsrank.Question, timeout time.Duration, tcp bool) (dnsrank.BackendResponse, error) {
		msg := new(dns.Msg)
		rdtype, ok := dns.StringToType[string(q.Rdtype)]
		if !ok {
			rdtype = dns.TypeA
		}
		msg.SetQuestion(dns.Fqdn(q.Qname), rdtype)
		if rdclass, ok := dns.StringToClass[string(q.Rdclass)]; ok {
			msg.Question[0].Qclass = rdclass
		}
		msg.RecursionDesired = q.Flags&0x0100 != 0

		client := &dns.Client{Timeout: timeout, Net: netFor(tcp)}
		resp, rtt, err := client.ExchangeContext(ctx, msg, addr)
		if err != nil {
			metrics.BackendQueriesTotal.WithLabelValues(server, string(dnsrank.SERVFAIL)).Inc()
			var nerr interface{ Timeout() bool }
			if errors.As(err, &nerr) && nerr.Timeout() || errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
				return dnsrank.BackendResponse{Code: dnsrank.SERVFAIL, ErName: dnsrank.ErTimeout}, nil
			}
			return dnsrank.BackendResponse{Code: dnsrank.SERVFAIL, ErName: dnsrank.ErNoNameservers}, nil
		}
		metrics.BackendRtime.WithLabelValues(server).Observe(rtt.Seconds())

		code := rcodeFor(resp.Rcode)
		metrics.BackendQueriesTotal.WithLabelValues(server, string(code)).Inc()
		return dnsrank.BackendResponse{
			ID:    resp.Id,
			Code:  code,
			Flags: headerFlags(resp),
			Rrset: rrStrings(resp.Answer),
			Arset: rrStrings(resp.Extra),
			Auset: rrStrings(resp.Ns),
		}, nil
	}
	return resolve, nil
}

func netFor(tcp bool) string {
	if tcp {
		return "tcp"
	}
	return "udp"
}

func rcodeFor(code int) dnsrank.Rcode {
	if name, ok := dns.RcodeToString[code]; ok {
		return dnsrank.Rcode(name)
	}
	return dnsrank.SERVFAIL
}

func headerFlags(m *dns.Msg) uint16 {
	var flags uint16
	if m.Response {
		flags |= 0x8000
	}
	if m.Authoritative {
		flags |= 0x0400
	}
	if m.Truncated {
		flags |= 0x0200
	}
	if m.RecursionDesired {
		flags |= 0x0100
	}
	if m.RecursionAvailable {
		flags |= 0x0080
	}
	if m.AuthenticatedData {
		flags |= 0x0020
	}
	if m.CheckingDisabled {
		flags |= 0x0010
	}
	return flags
}

func rrStrings(rrs []dns.RR) []string {
	if len(rrs) == 0 {
		return nil
	}
	out := make([]string, len(rrs))
	for i, rr := range rrs {
		out[i] = rr.String()
	}
	return out
}
