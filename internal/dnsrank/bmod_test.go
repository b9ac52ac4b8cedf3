package dnsrank

import (
	"math"
	"testing"
)

func TestBmodStateTakesMaxOfRAndRM(t *testing.T) {
	params := DefaultBindParams()
	s := NewBmodState(params)
	s.Add("a")
	s.Add("b")

	// Query "a" once, then "b" repeatedly, so SRM["a"] (undiscounted) stays
	// above SR["a"] while the G discount on unrelated queries pulls SR down;
	// querying "a" again must lift SR back up to at least SRM.
	s.Observe("a", 0.10, NOERROR, []Server{"a", "b"})
	for i := 0; i < 5; i++ {
		s.Observe("b", 0.01, NOERROR, []Server{"a", "b"})
	}
	s.Observe("a", 0.10, NOERROR, []Server{"a", "b"})
	if s.SR["a"] < s.SRM["a"]-1e-12 {
		t.Errorf("expected SR to be at least SRM after re-observing a discounted server, got SR=%v SRM=%v", s.SR["a"], s.SRM["a"])
	}
}

func TestBmodStateRankMatchesSR(t *testing.T) {
	s := NewBmodState(DefaultBindParams())
	s.Add("fast")
	s.Add("slow")
	s.Observe("fast", 0.01, NOERROR, []Server{"fast", "slow"})
	s.Observe("slow", 0.80, NOERROR, []Server{"fast", "slow"})
	if s.Rank("fast") >= s.Rank("slow") {
		t.Errorf("expected fast server to rank below slow, got fast=%v slow=%v", s.Rank("fast"), s.Rank("slow"))
	}
	if s.Rank("slow") != s.SR["slow"] {
		t.Errorf("expected rank to equal SR, got rank=%v SR=%v", s.Rank("slow"), s.SR["slow"])
	}
}

func TestBmodStateDumpIncludesSRM(t *testing.T) {
	s := NewBmodState(DefaultBindParams())
	s.Add("a")
	s.Observe("a", 0.2, NOERROR, []Server{"a"})
	dump := s.Dump()
	srm, ok := dump["SRM"].(map[string]any)
	if !ok {
		t.Fatalf("expected SRM in dump, got %#v", dump["SRM"])
	}
	if math.Abs(toFloat64(srm["a"])-s.SRM["a"]) > 1e-9 {
		t.Errorf("expected dumped SRM to match live value")
	}
}
