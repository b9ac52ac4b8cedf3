package dnsrank

import "math"

// AR1Params holds the AR-1 autoregression algorithm's tunables, layered on
// top of BIND's (AR-1 falls back to BIND ranking for under-sampled
// servers).
type AR1Params struct {
	BindParams
	// PCountMin is the minimum sample size before a server's AR prediction
	// is trusted over the BIND fallback.
	PCountMin int64
	// AlphaMin/AlphaMax clamp the AR volatility parameter; formula (5) of
	// the reference paper can otherwise go negative or unstably large.
	AlphaMin, AlphaMax float64
	// IdleMax is the idle-query count after which a server is ranked to
	// the front regardless of its prediction, so slow servers still get
	// periodically re-measured.
	IdleMax int64
	// DrcCountMin is the minimum sample size before the deviation-reset
	// counter is allowed to fire.
	DrcCountMin int64
	// DrcConsec is how many consecutive highly-deviant observations
	// trigger a full stats reset.
	DrcConsec int64
	// DrcStdevCo is how many standard deviations from the mean counts as
	// "significantly large" deviation.
	DrcStdevCo float64
}

// DefaultAR1Params returns the algorithm's published defaults.
func DefaultAR1Params() AR1Params {
	return AR1Params{
		BindParams:  DefaultBindParams(),
		PCountMin:   4,
		AlphaMin:    0.1,
		AlphaMax:    0.9,
		IdleMax:     100,
		DrcCountMin: 50,
		DrcConsec:   5,
		DrcStdevCo:  2,
	}
}

// ARStats holds the AR values tracked per server: the running mean/variance
// inherited from RunningVariance, plus the AR-specific prediction state.
type ARStats struct {
	RunningVariance
	P       float64 // predicted response time of the next query
	Alpha   float64 // AR volatility parameter; closer to 1 is less volatile
	Latest  float64 // most recently observed response time
	MeanXY  float64 // mean of consecutive-observation products
	MeanV2  float64 // mean of the squared response time
	Idle    int64   // queries to other servers since this one was last used
	Drc     int64   // deviation reset counter
}

// Observe folds one response time into the server's AR statistics,
// including the deviation-reset check described on p.4 of the reference
// paper: a run of drc_consec consecutive observations more than
// drc_stdev_co standard deviations from the mean restarts estimation from
// scratch, so a long-lived server whose behavior has genuinely shifted
// (e.g. day/night load) isn't stuck fitting its old regime.
func (a *ARStats) Observe(rtime float64, p AR1Params) {
	if a.Count != 0 {
		if math.Abs(rtime-a.Mean) > a.Stdev*p.DrcStdevCo {
			a.Drc++
		} else {
			a.Drc = 0
		}
		if a.Drc >= p.DrcConsec && a.Count >= p.DrcCountMin {
			a.Reset(p)
		}
	}
	a.RunningVariance.Observe(rtime)
	a.MeanV2 += (rtime*rtime - a.MeanV2) / float64(a.Count)
	if a.Count > 1 {
		a.MeanXY += (a.Latest * rtime) / float64(a.Count-1)
		// Formula (5) of the reference paper divides by E[X**2]-E[X**2],
		// which is identically zero; we interpret the denominator as
		// E[X**2]-E[X]**2, matching the original implementation's fix.
		mean2 := a.Mean * a.Mean
		a.Alpha = (a.MeanXY - mean2) / (a.MeanV2 - mean2)
		if math.IsNaN(a.Alpha) {
			// identical observations make both terms zero; the clamp's
			// lower bound applies
			a.Alpha = p.AlphaMin
		}
		a.Alpha = math.Max(p.AlphaMin, math.Min(p.AlphaMax, a.Alpha))
	}
	a.Latest = rtime
	a.Idle = 0
}

// Predict computes the AR forecast (formula 4): alpha^k * X(q-k) + (1 -
// alpha^k) * E[X], where k is the idle count plus one.
func (a *ARStats) Predict() {
	atok := math.Pow(a.Alpha, float64(a.Idle+1))
	a.P = atok*a.Latest + (1-atok)*a.Mean
}

// Reset clears all tracked statistics back to zero, except Alpha which is
// seeded at its configured minimum rather than zero (an alpha of exactly 0
// would make Predict ignore the latest observation and return the plain
// mean).
func (a *ARStats) Reset(p AR1Params) {
	*a = ARStats{Alpha: p.AlphaMin}
}

// AR1State implements the AR-1 autoregression ranking algorithm. It falls
// back to BIND's R value for servers that haven't been sampled enough to
// trust an AR prediction.
type AR1State struct {
	BindState
	SAR    map[Server]*ARStats
	Params AR1Params
}

// NewAR1State constructs an empty AR1State.
func NewAR1State(params AR1Params) *AR1State {
	return &AR1State{
		BindState: *NewBindState(params.BindParams),
		SAR:       make(map[Server]*ARStats),
		Params:    params,
	}
}

func (s *AR1State) addLocked(server Server) {
	s.BindState.addLocked(server)
	if _, ok := s.SAR[server]; !ok {
		st := &ARStats{}
		st.Reset(s.Params)
		s.SAR[server] = st
	}
}

func (s *AR1State) observeLocked(server Server, rtime float64, code Rcode, candidates []Server) {
	s.BindState.observeLocked(server, rtime, code, candidates)
	for _, si := range candidates {
		ari := s.SAR[si]
		if si == server {
			ari.Observe(rtime, s.Params)
		} else {
			ari.Idle++
		}
		if ari.Count >= s.Params.PCountMin {
			ari.Predict()
		}
	}
}

// rankLocked ranks idle-exhausted servers first (idlest first, by negated
// idle count), otherwise by AR prediction when one is available, otherwise
// falling back to the inherited BIND R value.
func (s *AR1State) rankLocked(server Server) float64 {
	ar := s.SAR[server]
	if ar.Idle > s.Params.IdleMax {
		return -float64(ar.Idle)
	}
	if ar.P != 0 {
		return ar.P
	}
	return s.BindState.rankLocked(server)
}

func (s *AR1State) dumpLocked() map[string]any {
	data := s.BindState.dumpLocked()
	sar := make(map[string]any, len(s.SAR))
	for server, ar := range s.SAR {
		sar[server] = map[string]any{
			"count":   ar.Count,
			"mean":    ar.Mean,
			"deltaM2": ar.DeltaM2,
			"P":       ar.P,
			"alpha":   ar.Alpha,
			"latest":  ar.Latest,
			"meanXY":  ar.MeanXY,
			"meanV2":  ar.MeanV2,
			"idle":    ar.Idle,
			"drc":     ar.Drc,
		}
	}
	data["SAR"] = sar
	return data
}

func (s *AR1State) loadLocked(data map[string]any, known []Server) {
	s.BindState.loadLocked(data, nil)
	if raw, ok := data["SAR"]; ok {
		for server, entry := range toMap(raw) {
			ar := s.SAR[server]
			if ar == nil {
				ar = &ARStats{}
				ar.Reset(s.Params)
				s.SAR[server] = ar
			}
			em := toMap(entry)
			if v, ok := em["count"]; ok {
				ar.Count = toInt64(v)
			}
			if v, ok := em["mean"]; ok {
				ar.Mean = toFloat64(v)
			}
			if v, ok := em["deltaM2"]; ok {
				ar.DeltaM2 = toFloat64(v)
			}
			if v, ok := em["P"]; ok {
				ar.P = toFloat64(v)
			}
			if v, ok := em["alpha"]; ok {
				ar.Alpha = toFloat64(v)
			}
			if v, ok := em["latest"]; ok {
				ar.Latest = toFloat64(v)
			}
			if v, ok := em["meanXY"]; ok {
				ar.MeanXY = toFloat64(v)
			}
			if v, ok := em["meanV2"]; ok {
				ar.MeanV2 = toFloat64(v)
			}
			if v, ok := em["idle"]; ok {
				ar.Idle = toInt64(v)
			}
			if v, ok := em["drc"]; ok {
				ar.Drc = toInt64(v)
			}
		}
	}
	for _, server := range known {
		s.addLocked(server)
	}
}

// Add idempotently initializes this server's AR statistics.
func (s *AR1State) Add(server Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(server)
}

// Observe folds one query outcome into the observed server's AR statistics
// and increments every other candidate's idle count.
func (s *AR1State) Observe(server Server, rtime float64, code Rcode, candidates []Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observeLocked(server, rtime, code, candidates)
}

// Rank returns server's current rank under the idle/AR/BIND precedence.
func (s *AR1State) Rank(server Server) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rankLocked(server)
}

// Ranked returns servers ordered by ascending rank.
func (s *AR1State) Ranked(servers []Server) []Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ranked(servers, s.rankLocked)
}

// Dump serializes the full state tree, including per-server AR statistics.
func (s *AR1State) Dump() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dumpLocked()
}

// Load merges a snapshot into the current state. AR-1 Params are never
// persisted in the snapshot; s.Params is passed into every ARStats.Observe
// call instead of being cached on each ARStats (Predict uses no params), so
// there's nothing to rebind here.
func (s *AR1State) Load(data map[string]any, known []Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(data, known)
	return nil
}

var _ State = (*AR1State)(nil)
