package dnsrank

// BindParams holds the tunable coefficients of the BIND server-selection
// algorithm (Deb, Srinivasan & Kuppili Pavan, 2008).
type BindParams struct {
	// A is the selected-server weighting of the prior R value; the newly
	// observed response time is weighted (1-A). Must be in (0, 1).
	A float64
	// G is the non-selected-server discount coefficient: after every
	// query, every other server's R value is multiplied by G, ensuring
	// their eventual re-selection. Must be in (0, 1).
	G float64
}

// DefaultBindParams returns the algorithm's published defaults.
func DefaultBindParams() BindParams {
	return BindParams{A: 0.7, G: 0.98}
}

// BindState implements the BIND algorithm: each server carries an R value
// that loosely tracks expected response time, but decays toward zero for
// servers that go unqueried so they are eventually retried.
type BindState struct {
	baseState
	SR     map[Server]float64
	Params BindParams
}

// NewBindState constructs an empty BindState.
func NewBindState(params BindParams) *BindState {
	return &BindState{baseState: newBaseState(), SR: make(map[Server]float64), Params: params}
}

func (s *BindState) addLocked(server Server) {
	s.baseState.addLocked(server)
	if _, ok := s.SR[server]; !ok {
		s.SR[server] = 0.0
	}
}

func (s *BindState) observeLocked(server Server, rtime float64, code Rcode, candidates []Server) {
	s.baseState.observeLocked(server, rtime, code, candidates)
	for _, si := range candidates {
		ri := s.SR[si]
		var r float64
		if si == server {
			// On the first query Ri is 0, which forces a=0 so the initial
			// R value equals the observed response time outright.
			a := 0.0
			if ri != 0 {
				a = s.Params.A
			}
			r = a*ri + (1-a)*rtime
		} else {
			r = s.Params.G * ri
		}
		s.SR[si] = r
	}
}

// rankLocked ranks by least R value.
func (s *BindState) rankLocked(server Server) float64 {
	return s.SR[server]
}

func (s *BindState) dumpLocked() map[string]any {
	data := s.baseState.dumpLocked()
	sr := make(map[string]any, len(s.SR))
	for server, v := range s.SR {
		sr[server] = v
	}
	data["SR"] = sr
	return data
}

func (s *BindState) loadLocked(data map[string]any, known []Server) {
	s.baseState.loadLocked(data, nil)
	if raw, ok := data["SR"]; ok {
		for server, v := range toMap(raw) {
			s.SR[server] = toFloat64(v)
		}
	}
	for _, server := range known {
		s.addLocked(server)
	}
}

// Add idempotently initializes this server's R value.
func (s *BindState) Add(server Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(server)
}

// Observe folds one query outcome into every candidate's R value.
func (s *BindState) Observe(server Server, rtime float64, code Rcode, candidates []Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observeLocked(server, rtime, code, candidates)
}

// Rank returns server's current R value.
func (s *BindState) Rank(server Server) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rankLocked(server)
}

// Ranked returns servers in ascending R-value order.
func (s *BindState) Ranked(servers []Server) []Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ranked(servers, s.rankLocked)
}

// Dump serializes the full state tree.
func (s *BindState) Dump() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dumpLocked()
}

// Load merges a snapshot into the current state.
func (s *BindState) Load(data map[string]any, known []Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(data, known)
	return nil
}

var _ State = (*BindState)(nil)
