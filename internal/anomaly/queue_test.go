package anomaly

import (
	"testing"
	"time"
)

func limit(n int) *int { return &n }

func TestQueueAdvancesOnExhaustion(t *testing.T) {
	q, err := NewQueue([]AnomalyConfig{
		{Limit: limit(2), Delayers: []DelayerConfig{{Pattern: "^slow", Delay: 100 * time.Millisecond}}},
		{Limit: nil, Delayers: []DelayerConfig{{Pattern: "^.*$", Delay: 10 * time.Millisecond}}},
	})
	if err != nil {
		t.Fatalf("NewQueue failed: %v", err)
	}
	if len(q.Delayers()) != 1 || q.Delayers()[0].Delay != 100*time.Millisecond {
		t.Fatalf("expected first phase active, got %v", q.Delayers())
	}
	q.Consume(2)
	if len(q.Delayers()) != 1 || q.Delayers()[0].Delay != 10*time.Millisecond {
		t.Fatalf("expected queue to advance to second phase, got %v", q.Delayers())
	}
}

func TestQueueGoesQuietWhenExhausted(t *testing.T) {
	q, err := NewQueue([]AnomalyConfig{
		{Limit: limit(1), Delayers: []DelayerConfig{{Pattern: "^x", Delay: time.Second}}},
	})
	if err != nil {
		t.Fatalf("NewQueue failed: %v", err)
	}
	q.Consume(1)
	if q.Delayers() != nil {
		t.Errorf("expected no active delayers once the queue is drained, got %v", q.Delayers())
	}
}

func TestQueueUnlimitedPhaseNeverAdvances(t *testing.T) {
	q, err := NewQueue([]AnomalyConfig{
		{Limit: nil, Delayers: []DelayerConfig{{Pattern: "^x", Delay: time.Second}}},
		{Limit: nil, Delayers: []DelayerConfig{{Pattern: "^y", Delay: 2 * time.Second}}},
	})
	if err != nil {
		t.Fatalf("NewQueue failed: %v", err)
	}
	q.Consume(1000)
	if len(q.Delayers()) != 1 || q.Delayers()[0].Delay != time.Second {
		t.Errorf("expected the unlimited first phase to stay active, got %v", q.Delayers())
	}
}

func TestNewQueueRejectsBadPattern(t *testing.T) {
	_, err := NewQueue([]AnomalyConfig{
		{Delayers: []DelayerConfig{{Pattern: "(unterminated"}}},
	})
	if err == nil {
		t.Error("expected error for invalid regexp pattern")
	}
}

func TestEmptyQueueIsQuiet(t *testing.T) {
	q, err := NewQueue(nil)
	if err != nil {
		t.Fatalf("NewQueue failed: %v", err)
	}
	if q.Delayers() != nil {
		t.Errorf("expected empty queue to have no delayers, got %v", q.Delayers())
	}
}
