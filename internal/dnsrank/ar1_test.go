package dnsrank

import (
	"math"
	"testing"
)

func TestARStatsAlphaClampsToMin(t *testing.T) {
	params := DefaultAR1Params()
	ar := &ARStats{}
	ar.Reset(params)

	ar.Observe(1.0, params)
	ar.Observe(2.0, params)

	if math.Abs(ar.Alpha-params.AlphaMin) > 1e-9 {
		t.Errorf("expected alpha clamped to AlphaMin %v, got %v", params.AlphaMin, ar.Alpha)
	}
}

func TestARStatsPredict(t *testing.T) {
	params := DefaultAR1Params()
	ar := &ARStats{}
	ar.Reset(params)
	ar.Observe(1.0, params)
	ar.Observe(1.0, params)
	ar.Predict()
	// With Alpha at its minimum and idle 0, the prediction should sit
	// between Latest and Mean.
	lo, hi := math.Min(ar.Latest, ar.Mean), math.Max(ar.Latest, ar.Mean)
	if ar.P < lo-1e-9 || ar.P > hi+1e-9 {
		t.Errorf("expected prediction between latest and mean, got P=%v latest=%v mean=%v", ar.P, ar.Latest, ar.Mean)
	}
}

func TestARStatsDeviationResetCounter(t *testing.T) {
	params := AR1Params{
		BindParams:  DefaultBindParams(),
		PCountMin:   1,
		AlphaMin:    0.1,
		AlphaMax:    0.9,
		IdleMax:     100,
		DrcCountMin: 5,
		DrcConsec:   2,
		DrcStdevCo:  1,
	}
	ar := &ARStats{}
	ar.Reset(params)
	for i := 0; i < 5; i++ {
		ar.Observe(1.0, params)
	}
	if ar.Count != 5 {
		t.Fatalf("expected count 5 before deviation, got %d", ar.Count)
	}
	// Two consecutive wildly deviant observations should trigger a full
	// reset once the sample size requirement (DrcCountMin) is met.
	ar.Observe(100.0, params)
	ar.Observe(100.0, params)
	if ar.Count != 1 {
		t.Errorf("expected stats reset (count back to 1), got count=%d mean=%v", ar.Count, ar.Mean)
	}
	if math.Abs(ar.Mean-100.0) > 1e-9 {
		t.Errorf("expected mean to reflect only the post-reset observation, got %v", ar.Mean)
	}
}

func TestAR1StateIdleOverride(t *testing.T) {
	params := DefaultAR1Params()
	params.IdleMax = 3
	s := NewAR1State(params)
	s.Add("s1")
	s.Add("s2")

	s.Observe("s1", 0.01, NOERROR, []Server{"s1", "s2"})
	for i := 0; i < 4; i++ {
		s.Observe("s2", 0.01, NOERROR, []Server{"s1", "s2"})
	}

	if s.SAR["s1"].Idle <= params.IdleMax {
		t.Fatalf("expected s1's idle count to exceed IdleMax, got %d", s.SAR["s1"].Idle)
	}
	ranked := s.Ranked([]Server{"s2", "s1"})
	if ranked[0] != "s1" {
		t.Errorf("expected idle-exhausted server ranked first, got %v", ranked)
	}
}

func TestAR1StateFallsBackToBindBeforePCountMin(t *testing.T) {
	params := DefaultAR1Params()
	params.PCountMin = 1000 // never reached in this test
	s := NewAR1State(params)
	s.Add("fast")
	s.Add("slow")
	s.Observe("fast", 0.01, NOERROR, []Server{"fast", "slow"})
	s.Observe("slow", 0.90, NOERROR, []Server{"fast", "slow"})

	if s.SAR["fast"].P != 0 {
		t.Fatalf("expected no AR prediction yet, got P=%v", s.SAR["fast"].P)
	}
	if s.Rank("fast") >= s.Rank("slow") {
		t.Errorf("expected BIND-fallback ranking to prefer fast server, fast=%v slow=%v", s.Rank("fast"), s.Rank("slow"))
	}
}
