// Package dnsrank is the adaptive upstream-selection engine for rankdns: it
// ranks a configured set of upstream DNS servers by online estimates of
// per-server response latency, and drives the query/retry loop that feeds
// observed outcomes back into those estimates.
//
// The package treats the actual wire transport as an external collaborator
// (see internal/backend) and is invoked with an already-parsed Question by
// a front-end (see internal/frontend). It does no authoritative serving,
// no DNSSEC validation, and no caching of answer data.
package dnsrank

import (
	"fmt"
	"net"
	"strings"
)

// Server is an opaque upstream identifier: an address, "host@port", a
// "mock@..." or "file@..." backend descriptor, or the literal "refuse".
// Equality is by exact string match.
type Server = string

// Rcode is a DNS response code, treated as an opaque enum by the core.
type Rcode string

const (
	NOERROR  Rcode = "NOERROR"
	FORMERR  Rcode = "FORMERR"
	SERVFAIL Rcode = "SERVFAIL"
	NXDOMAIN Rcode = "NXDOMAIN"
	NOTIMP   Rcode = "NOTIMP"
	REFUSED  Rcode = "REFUSED"
	YXDOMAIN Rcode = "YXDOMAIN"
	YXRRSET  Rcode = "YXRRSET"
	NXRRSET  Rcode = "NXRRSET"
	NOTAUTH  Rcode = "NOTAUTH"
	NOTZONE  Rcode = "NOTZONE"
)

// ErName names a specific backend error condition for logging/reporting.
type ErName string

const (
	ErNone          ErName = ""
	ErTimeout       ErName = "Timeout"
	ErNoNameservers ErName = "NoNameservers"
)

// RdType is the DNS record type requested.
type RdType string

const (
	TypeA     RdType = "A"
	TypeAAAA  RdType = "AAAA"
	TypeANY   RdType = "ANY"
	TypeCNAME RdType = "CNAME"
	TypeHTTPS RdType = "HTTPS"
	TypeLOC   RdType = "LOC"
	TypeMX    RdType = "MX"
	TypeNS    RdType = "NS"
	TypePTR   RdType = "PTR"
	TypeSOA   RdType = "SOA"
	TypeSRV   RdType = "SRV"
	TypeSVCB  RdType = "SVCB"
	TypeTXT   RdType = "TXT"
)

// RdClass is the DNS query class.
type RdClass string

const (
	ClassIN     RdClass = "IN"
	ClassCH     RdClass = "CH"
	ClassCS     RdClass = "CS"
	ClassHESIOD RdClass = "Hesiod"
	ClassNONE   RdClass = "None"
	ClassANY    RdClass = "*"
)

// Question is an immutable DNS question. qname is expected already
// lowercased and dot-trimmed by the caller (the front-end).
type Question struct {
	Qname   string
	Rdtype  RdType
	Rdclass RdClass
	Flags   uint16
}

// NewQuestion constructs a Question, applying the PTR auto-reverse rule: if
// rdtype is PTR and qname is a literal IP address (not already an
// "...arpa" name), it is rewritten to its reverse-pointer form.
func NewQuestion(qname string, rdtype RdType, rdclass RdClass, flags uint16) Question {
	if rdtype == "" {
		rdtype = TypeA
	}
	if rdclass == "" {
		rdclass = ClassIN
	}
	q := Question{Qname: qname, Rdtype: rdtype, Rdclass: rdclass, Flags: flags}
	if q.Rdtype == TypePTR && !strings.Contains(strings.ToLower(q.Qname), "arpa") {
		if ip := net.ParseIP(q.Qname); ip != nil {
			if rev, err := reversePointer(ip); err == nil {
				q.Qname = rev
			}
		}
	}
	return q
}

// reversePointer mirrors Python's ipaddress.ip_address(...).reverse_pointer,
// which yields no trailing dot.
func reversePointer(ip net.IP) (string, error) {
	if v4 := ip.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.%d.in-addr.arpa", v4[3], v4[2], v4[1], v4[0]), nil
	}
	v6 := ip.To16()
	if v6 == nil {
		return "", fmt.Errorf("dnsrank: not an IP address")
	}
	const hexDigit = "0123456789abcdef"
	var b strings.Builder
	for i := len(v6) - 1; i >= 0; i-- {
		b.WriteByte(hexDigit[v6[i]&0x0f])
		b.WriteByte('.')
		b.WriteByte(hexDigit[v6[i]>>4])
		b.WriteByte('.')
	}
	b.WriteString("ip6.arpa")
	return b.String(), nil
}

// BackendResponse is what an upstream backend transport returns for one
// query. Rtime is the backend's own reported service-time seconds; the
// query orchestrator adds its own measured wall-clock overhead on top.
type BackendResponse struct {
	ID     uint16
	Code   Rcode
	Flags  uint16
	Rrset  []string
	Arset  []string
	Auset  []string
	Rtime  float64
	ErName ErName
}

// Response is the user-visible result of Resolver.Query.
type Response struct {
	BackendResponse
	Server Server
	Q      Question
	Tag    string
	Failed []Server // servers that SERVFAILed before success/termination; nil if empty
}
