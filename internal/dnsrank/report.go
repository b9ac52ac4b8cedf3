package dnsrank

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
)

// fieldShortNames maps a State.Dump() top-level key to the short field
// name it's reported under, mirroring the original "strip the leading S"
// convention (SM -> M, SR -> R, SRM -> RM, SAR -> AR).
var fieldShortNames = map[string]string{
	"SM":  "M",
	"SR":  "R",
	"SRM": "RM",
	"SAR": "AR",
}

// Report is the synthesized, display-ready view of a Resolver's state:
// global statistics plus a per-server breakdown bucketed by server group.
type Report struct {
	Count      int64
	Mean       float64
	Servers    map[Server]map[string]any // server -> flattened field map
	Groups     map[string][]Server
	GroupOrder []string // group tags, sorted by total query count descending, UNWN last
}

// BuildReport synthesizes a Report from a ranking State and the resolver's
// server-group tag assignments (see Resolver.Servergroups). counts supplies
// each server's total observed query count, used only to order groups by
// traffic volume.
func BuildReport(state State, servergroups map[Server][]string, counts map[Server]int64) *Report {
	dump := state.Dump()
	perServer := map[Server]map[string]any{}
	for rawKey, short := range fieldShortNames {
		raw, ok := dump[rawKey]
		if !ok {
			continue
		}
		for server, info := range toMap(raw) {
			if perServer[server] == nil {
				perServer[server] = map[string]any{}
			}
			perServer[server][short] = info
		}
	}
	servers := make(map[Server]map[string]any, len(perServer))
	for server, fields := range perServer {
		flat := map[string]any{"server": server}
		dotFlatten("", fields, flat)
		servers[server] = flat
	}

	groups := map[string][]Server{}
	totals := map[string]int64{}
	var unknown []Server
	for server := range servers {
		tags := servergroups[server]
		if len(tags) == 0 {
			unknown = append(unknown, server)
			continue
		}
		for _, tag := range tags {
			groups[tag] = append(groups[tag], server)
			totals[tag] += counts[server]
		}
	}
	order := make([]string, 0, len(groups))
	for tag := range groups {
		order = append(order, tag)
	}
	sort.SliceStable(order, func(i, j int) bool { return totals[order[i]] > totals[order[j]] })
	for _, tag := range order {
		sort.Strings(groups[tag])
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		groups["UNWN"] = unknown
		order = append(order, "UNWN")
	}

	return &Report{
		Count:      toInt64(dump["count"]),
		Mean:       toFloat64(dump["mean"]),
		Servers:    servers,
		Groups:     groups,
		GroupOrder: order,
	}
}

// dotFlatten recursively joins nested map keys with '.', matching the
// original report's field-path flattening (e.g. AR.count, AR.alpha).
func dotFlatten(prefix string, v any, out map[string]any) {
	m := toMap(v)
	if m == nil {
		if prefix != "" {
			out[prefix] = v
		}
		return
	}
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		dotFlatten(key, val, out)
	}
}

// Table renders the report as a tab-aligned text table, one block per
// server group with its own repeated header, in GroupOrder.
//
// There's no table-formatting library anywhere in the dependency corpus
// this repository draws on, so this is one of the few spots that falls
// back to the standard library rather than a third-party dependency.
func (r *Report) Table() string {
	var b strings.Builder
	for _, tag := range r.GroupOrder {
		servers := r.Groups[tag]
		if len(servers) == 0 {
			continue
		}
		fmt.Fprintf(&b, "== %s ==\n", tag)
		columns := reportColumns(r.Servers, servers)
		w := tabwriter.NewWriter(&b, 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, strings.Join(columns, "\t"))
		for _, server := range servers {
			row := r.Servers[server]
			cells := make([]string, len(columns))
			for i, col := range columns {
				cells[i] = fmt.Sprintf("%v", row[col])
			}
			fmt.Fprintln(w, strings.Join(cells, "\t"))
		}
		w.Flush()
		b.WriteByte('\n')
	}
	return b.String()
}

// reportColumns collects the union of flattened field names across
// servers in a group, "server" first, the rest alphabetical.
func reportColumns(all map[Server]map[string]any, servers []Server) []string {
	seen := map[string]bool{"server": true}
	cols := []string{"server"}
	for _, server := range servers {
		keys := make([]string, 0, len(all[server]))
		for k := range all[server] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k == "server" || seen[k] {
				continue
			}
			seen[k] = true
			cols = append(cols, k)
		}
	}
	return cols
}
