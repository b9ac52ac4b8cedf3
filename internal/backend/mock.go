package backend

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rankdns/rankdns/internal/dnsrank"
)

var sizePattern = regexp.MustCompile(`^(\d+)\.size\.example\.$`)

var (
	mockNet4 = net.IPNet{IP: net.IPv4(10, 0, 0, 0), Mask: net.CIDRMask(8, 32)}
	mockNet6 = net.IPNet{IP: net.ParseIP("fe80::"), Mask: net.CIDRMask(64, 128)}
)

// newMockBackend builds a synthetic-latency backend: each query reports an
// Rtime of r*(1+U(0,v)) seconds without sleeping, and reports a timeout
// (SERVFAIL/Timeout) if that reaches the caller's lifetime. "<n>.size.example." returns n records instead of
// one, for exercising larger responses.
func newMockBackend(server string) (dnsrank.Backend, error) {
	base := 0.005
	volatility := 0.1
	if at := strings.IndexByte(server, '@'); at >= 0 {
		for _, kv := range strings.Split(server[at+1:], ",") {
			if kv == "" {
				continue
			}
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("invalid mock option %q", kv)
			}
			val, err := strconv.ParseFloat(parts[1], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid mock option %q: %w", kv, err)
			}
			switch parts[0] {
			case "r":
				base = val
			case "v":
				volatility = val
			default:
				return nil, fmt.Errorf("unknown mock option %q", parts[0])
			}
		}
	}

	resolve := func(ctx context.Context, q dnsrank.Question, timeout time.Duration, tcp bool) (dnsrank.BackendResponse, error) {
		rtime := base * (1 + rand.Float64()*volatility)
		lifetime := timeout.Seconds()
		if rtime >= lifetime {
			return dnsrank.BackendResponse{Code: dnsrank.SERVFAIL, ErName: dnsrank.ErTimeout, Rtime: lifetime}, nil
		}

		var rrset []string
		if q.Rdclass == dnsrank.ClassIN {
			count := 1
			if m := sizePattern.FindStringSubmatch(q.Qname); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					count = n
				}
			}
			switch q.Rdtype {
			case dnsrank.TypeA:
				rrset = mockAddresses(q, mockNet4, count)
			case dnsrank.TypeAAAA:
				rrset = mockAddresses(q, mockNet6, count)
			}
		}
		return dnsrank.BackendResponse{Code: dnsrank.NOERROR, Rrset: rrset, Rtime: rtime}, nil
	}
	return resolve, nil
}

// mockAddresses returns up to count host addresses from network, formatted
// as a presentation-style resource record line.
func mockAddresses(q dnsrank.Question, network net.IPNet, count int) []string {
	var out []string
	ip := network.IP
	for i := 0; i < count; i++ {
		ip = nextIP(ip)
		if !network.Contains(ip) {
			break
		}
		out = append(out, fmt.Sprintf("%s 0 %s %s %s", q.Qname, q.Rdclass, q.Rdtype, ip))
	}
	return out
}

func nextIP(ip net.IP) net.IP {
	next := make(net.IP, len(ip))
	copy(next, ip)
	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			break
		}
	}
	return next
}
