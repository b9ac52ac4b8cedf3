package dnsrank

// BmodState implements the (experimental) modified BIND algorithm: it
// tracks a second, undiscounted R value (SRM) per server alongside BIND's
// SR, and after each query sets SR to the greater of the two. This raises
// the penalty for consistently slow servers instead of letting periodic
// discounting of other servers erode the gap.
type BmodState struct {
	BindState
	SRM map[Server]float64
}

// NewBmodState constructs an empty BmodState.
func NewBmodState(params BindParams) *BmodState {
	return &BmodState{BindState: *NewBindState(params), SRM: make(map[Server]float64)}
}

func (s *BmodState) addLocked(server Server) {
	s.BindState.addLocked(server)
	if _, ok := s.SRM[server]; !ok {
		s.SRM[server] = 0.0
	}
}

func (s *BmodState) observeLocked(server Server, rtime float64, code Rcode, candidates []Server) {
	s.BindState.observeLocked(server, rtime, code, candidates)
	srm := s.SRM[server]
	a := 0.0
	if srm != 0 {
		a = s.Params.A
	}
	srm = a*srm + (1-a)*rtime
	s.SRM[server] = srm
	if srm > s.SR[server] {
		s.SR[server] = srm
	}
}

func (s *BmodState) dumpLocked() map[string]any {
	data := s.BindState.dumpLocked()
	srm := make(map[string]any, len(s.SRM))
	for server, v := range s.SRM {
		srm[server] = v
	}
	data["SRM"] = srm
	return data
}

func (s *BmodState) loadLocked(data map[string]any, known []Server) {
	s.BindState.loadLocked(data, nil)
	if raw, ok := data["SRM"]; ok {
		for server, v := range toMap(raw) {
			s.SRM[server] = toFloat64(v)
		}
	}
	for _, server := range known {
		s.addLocked(server)
	}
}

// Add idempotently initializes this server's R and RM values.
func (s *BmodState) Add(server Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(server)
}

// Observe folds one query outcome into SR, SRM, and the base statistics.
func (s *BmodState) Observe(server Server, rtime float64, code Rcode, candidates []Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observeLocked(server, rtime, code, candidates)
}

// Ranked returns servers in ascending R-value order.
func (s *BmodState) Ranked(servers []Server) []Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ranked(servers, s.rankLocked)
}

// Dump serializes the full state tree, including SRM.
func (s *BmodState) Dump() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dumpLocked()
}

// Load merges a snapshot into the current state.
func (s *BmodState) Load(data map[string]any, known []Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(data, known)
	return nil
}

var _ State = (*BmodState)(nil)
