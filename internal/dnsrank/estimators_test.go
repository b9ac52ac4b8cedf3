package dnsrank

import (
	"math"
	"testing"
)

func TestRunningMean(t *testing.T) {
	var m RunningMean
	for _, v := range []float64{10, 20, 30} {
		m.Observe(v)
	}
	if m.Count != 3 {
		t.Fatalf("expected count 3, got %d", m.Count)
	}
	if math.Abs(m.Mean-20) > 1e-9 {
		t.Errorf("expected mean 20, got %v", m.Mean)
	}
}

func TestRunningVariance(t *testing.T) {
	var v RunningVariance
	for _, val := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		v.Observe(val)
	}
	if math.Abs(v.Mean-5) > 1e-9 {
		t.Errorf("expected mean 5, got %v", v.Mean)
	}
	// Sum of squared deviations from the mean is 32; with the (n-1)
	// sample-variance denominator used here, that's 32/7.
	wantVariance := 32.0 / 7.0
	if math.Abs(v.Variance-wantVariance) > 1e-9 {
		t.Errorf("expected variance %v, got %v", wantVariance, v.Variance)
	}
	if math.Abs(v.Stdev-math.Sqrt(wantVariance)) > 1e-9 {
		t.Errorf("expected stdev %v, got %v", math.Sqrt(wantVariance), v.Stdev)
	}
}

func TestRunningVarianceReset(t *testing.T) {
	var v RunningVariance
	v.Observe(10)
	v.Observe(20)
	v.Reset()
	if v.Count != 0 || v.Mean != 0 || v.Variance != 0 || v.Stdev != 0 {
		t.Errorf("expected zeroed state after reset, got %+v", v)
	}
}

func TestRunningRateWithinWindow(t *testing.T) {
	r := NewRunningRate(10, 0)
	r.Inc(5)
	rate := r.Val(5)
	// Half the window elapsed with no prior window, cprev is 0: rate is
	// just count/window.
	if math.Abs(rate-0.5) > 1e-9 {
		t.Errorf("expected rate 0.5, got %v", rate)
	}
}

func TestRunningRateRollsWindow(t *testing.T) {
	r := NewRunningRate(10, 0)
	r.Inc(10)
	// Past the window: it rolls, cprev becomes 10, count resets to 0.
	rate := r.Val(10)
	if math.Abs(rate-1.0) > 1e-9 {
		t.Errorf("expected rate 1.0 immediately after roll, got %v", rate)
	}
	r.Inc(5)
	rate = r.Val(15)
	if rate <= 0 {
		t.Errorf("expected positive blended rate, got %v", rate)
	}
}
