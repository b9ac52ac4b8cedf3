package dnsrank

import (
	"math/rand"
	"sort"
	"sync"
)

// State is the shared contract every ranking algorithm's state satisfies:
// maintain per-server statistics, rank servers, and support snapshot
// load/dump. Add/Observe/Rank/Ranked/Load/Dump must all appear atomic to
// concurrent callers (see package doc and §5 of the design spec).
type State interface {
	// Add idempotently initializes default per-server entries.
	Add(server Server)
	// Observe updates per-server and global statistics from one query
	// outcome. candidates is the full ranked set the query was drawn from
	// (needed by algorithms that discount non-selected servers).
	Observe(server Server, rtime float64, code Rcode, candidates []Server)
	// Rank returns a pure (given current state) scalar rank for server;
	// lower ranks are preferred.
	Rank(server Server) float64
	// Ranked returns servers reordered by ascending rank, with a
	// pre-shuffle so equal ranks are broken fairly across calls.
	Ranked(servers []Server) []Server
	// Load deep-merges an externally supplied snapshot into the current
	// state: scalar fields present in data replace the current value,
	// absent ones are untouched; per-server map fields are unioned by key
	// with the snapshot's values winning. known is the set of servers that
	// must be present after the merge (re-added if the snapshot didn't
	// mention them).
	Load(data map[string]any, known []Server) error
	// Dump serializes every persistent field to a nested map suitable for
	// YAML encoding.
	Dump() map[string]any
}

// baseState is embedded (directly or transitively) by every concrete
// algorithm state. It owns the single reentrant-by-construction lock: every
// exported State method on a concrete type acquires mu once at the top and
// calls into the unexported "Locked" method chain, which recurses through
// embedded layers without taking the lock again — mirroring the spec's
// reentrant-mutex requirement without needing Go's (nonexistent) reentrant
// mutex primitive.
type baseState struct {
	mu     *sync.Mutex
	SM     map[Server]*RunningMean
	Global RunningMean
}

func newBaseState() baseState {
	return baseState{mu: &sync.Mutex{}, SM: make(map[Server]*RunningMean)}
}

func (s *baseState) addLocked(server Server) {
	if _, ok := s.SM[server]; !ok {
		s.SM[server] = &RunningMean{}
	}
}

func (s *baseState) observeLocked(server Server, rtime float64, code Rcode, candidates []Server) {
	s.SM[server].Observe(rtime)
	s.Global.Observe(rtime)
}

// rankLocked is the base fallback: a uniform random tiebreaker. Concrete
// algorithms always override this.
func (s *baseState) rankLocked(server Server) float64 {
	return rand.Float64()
}

func (s *baseState) dumpLocked() map[string]any {
	sm := make(map[string]any, len(s.SM))
	for server, rm := range s.SM {
		sm[server] = map[string]any{"count": rm.Count, "mean": rm.Mean}
	}
	return map[string]any{
		"count": s.Global.Count,
		"mean":  s.Global.Mean,
		"SM":    sm,
	}
}

func (s *baseState) loadLocked(data map[string]any, known []Server) {
	if v, ok := data["count"]; ok {
		s.Global.Count = toInt64(v)
	}
	if v, ok := data["mean"]; ok {
		s.Global.Mean = toFloat64(v)
	}
	if raw, ok := data["SM"]; ok {
		for server, entry := range toMap(raw) {
			rm := s.SM[server]
			if rm == nil {
				rm = &RunningMean{}
				s.SM[server] = rm
			}
			em := toMap(entry)
			if c, ok := em["count"]; ok {
				rm.Count = toInt64(c)
			}
			if m, ok := em["mean"]; ok {
				rm.Mean = toFloat64(m)
			}
		}
	}
	for _, server := range known {
		s.addLocked(server)
	}
}

// ranked is the shared shuffle+stable-sort implementation used by every
// concrete State's exported Ranked method. rank is the already-locked rank
// function (e.g. the outermost type's rankLocked).
func ranked(servers []Server, rank func(Server) float64) []Server {
	out := make([]Server, len(servers))
	copy(out, servers)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	sort.SliceStable(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}

func toMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	// yaml.v3 decodes mapping nodes into map[string]any when the target is
	// `any`; this branch guards against map[any]any showing up from a
	// hand-built document.
	if m, ok := v.(map[any]any); ok {
		out := make(map[string]any, len(m))
		for k, val := range m {
			if ks, ok := k.(string); ok {
				out[ks] = val
			}
		}
		return out
	}
	return nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}
