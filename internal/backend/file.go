package backend

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rankdns/rankdns/internal/dnsrank"
	"gopkg.in/yaml.v3"
)

// fileZone is the on-disk shape of one answer entry in a file@ backend's
// YAML map, keyed by "<qname> <class> <type>". Code is optional and
// defaults to NOERROR; set it to return e.g. SERVFAIL or NXDOMAIN for a
// specific question without a matching rrset.
type fileZone struct {
	Code  string   `yaml:"code"`
	Rrset []string `yaml:"rrset"`
	Arset []string `yaml:"arset"`
	Auset []string `yaml:"auset"`
}

// newFileBackend builds a backend that serves static answers out of a YAML
// file, loaded once at dial time. A question with no matching key gets a
// bare NOERROR/empty response, matching the original's "missing key means
// empty dict" behavior rather than NXDOMAIN.
func newFileBackend(path string) (dnsrank.Backend, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zone file %q: %w", path, err)
	}
	var zones map[string]fileZone
	if err := yaml.Unmarshal(raw, &zones); err != nil {
		return nil, fmt.Errorf("parse zone file %q: %w", path, err)
	}

	resolve := func(ctx context.Context, q dnsrank.Question, timeout time.Duration, tcp bool) (dnsrank.BackendResponse, error) {
		key := strings.ToLower(q.Qname) + " " + string(q.Rdclass) + " " + string(q.Rdtype)
		zone, ok := zones[key]
		if !ok {
			return dnsrank.BackendResponse{Code: dnsrank.NOERROR}, nil
		}
		code := dnsrank.NOERROR
		if zone.Code != "" {
			code = dnsrank.Rcode(strings.ToUpper(zone.Code))
		}
		return dnsrank.BackendResponse{
			Code:  code,
			Rrset: zone.Rrset,
			Arset: zone.Arset,
			Auset: zone.Auset,
		}, nil
	}
	return resolve, nil
}
