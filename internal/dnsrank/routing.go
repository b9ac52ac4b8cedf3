package dnsrank

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// DomainRule is a domain-forwarding rule: questions whose qname matches
// Domain (or one of its subdomains), but not Exclude, are forwarded to
// Servers instead of the resolver's default set.
type DomainRule struct {
	Domain  string
	Exclude []string
	Servers []Server
	Tag     string

	inclpat *regexp.Regexp
	exclpat *regexp.Regexp
}

// NewDomainRule builds a DomainRule, compiling its match patterns eagerly
// so a bad domain fails at config load rather than at query time.
func NewDomainRule(domain string, exclude []string, servers []Server, tag string) (*DomainRule, error) {
	if domain == "" {
		return nil, fmt.Errorf("dnsrank: rule domain must not be empty")
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("dnsrank: rule for %q must have at least one server", domain)
	}
	r := &DomainRule{
		Domain:  normalizeDomain(domain),
		Exclude: make([]string, len(exclude)),
		Servers: servers,
		Tag:     tag,
	}
	for i, d := range exclude {
		r.Exclude[i] = normalizeDomain(d)
	}
	var err error
	if r.inclpat, err = buildDomainPattern(r.Domain); err != nil {
		return nil, err
	}
	if r.exclpat, err = buildDomainPattern(r.Exclude...); err != nil {
		return nil, err
	}
	return r, nil
}

func normalizeDomain(d string) string {
	return strings.ToLower(strings.Trim(d, "."))
}

// buildDomainPattern compiles a case-insensitive regexp matching any of
// domains or one of their subdomains. With no domains it matches nothing.
func buildDomainPattern(domains ...string) (*regexp.Regexp, error) {
	if len(domains) == 0 {
		return regexp.MustCompile(`.^`), nil
	}
	escaped := make([]string, len(domains))
	for i, d := range domains {
		escaped[i] = regexp.QuoteMeta(d)
	}
	pat := `(?i)^(.+\.)?(` + strings.Join(escaped, "|") + `)\.?$`
	return regexp.Compile(pat)
}

// Matches reports whether qname falls under this rule's domain and isn't
// carved out by one of its exclusions.
func (r *DomainRule) Matches(qname string) bool {
	return r.inclpat.MatchString(qname) && !r.exclpat.MatchString(qname)
}

// order is the rule's sort key: more specific (longer) domains sort first.
func (r *DomainRule) order() int {
	return -len(r.Domain)
}

// SortRules orders rules by descending domain specificity (longest domain
// first), so the most specific matching rule always wins, with ties broken
// by original (configuration) order since sort.SliceStable is used.
func SortRules(rules []*DomainRule) []*DomainRule {
	out := make([]*DomainRule, len(rules))
	copy(out, rules)
	sort.SliceStable(out, func(i, j int) bool { return out[i].order() < out[j].order() })
	return out
}

// Select returns the server list and group tag that apply to q: the first
// (most specific) matching rule, or the default server set tagged "DFLT"
// if none match. rules must already be sorted (see SortRules); it is
// expected to be called with the Resolver's pre-sorted rule list.
func Select(rules []*DomainRule, defaultServers []Server, qname string) ([]Server, string) {
	for _, rule := range rules {
		if rule.Matches(qname) {
			return rule.Servers, rule.Tag
		}
	}
	return defaultServers, "DFLT"
}
