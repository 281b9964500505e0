package breaker

import (
	"testing"
	"time"

	"github.com/pulsegrid/pulsegrid/internal/config"
)

func testConfig() config.BreakerConfig {
	return config.BreakerConfig{
		ConsecutiveFailureThreshold: 3,
		ErrorRateThreshold:          0.5,
		ErrorRateWindow:             4,
		CoolOffSec:                  60,
		HalfOpenMaxProbes:           1,
	}
}

func TestBreaker_TripsOnConsecutiveFailures(t *testing.T) {
	b := New("auth", testConfig())

	for i := 0; i < 2; i++ {
		if !b.Allow() {
			t.Fatalf("call %d: expected Allow true before threshold", i)
		}
		b.Failure()
	}
	if b.State() != Closed {
		t.Fatalf("expected still Closed after 2 failures, got %s", b.State())
	}

	if !b.Allow() {
		t.Fatalf("expected Allow true on 3rd call")
	}
	b.Failure()
	if b.State() != Open {
		t.Fatalf("expected Open after 3 consecutive failures, got %s", b.State())
	}
	if b.Allow() {
		t.Fatalf("expected Allow false while Open")
	}
}

func TestBreaker_HalfOpenRecoversOnSuccess(t *testing.T) {
	cfg := testConfig()
	cfg.CoolOffSec = 0
	b := New("cache", cfg)

	for i := 0; i < 3; i++ {
		b.Allow()
		b.Failure()
	}
	if State(b.state.Load()) != Open {
		t.Fatalf("expected Open, got %s", State(b.state.Load()))
	}

	// CoolOffSec is 0 so the very next State() call promotes to HalfOpen.
	if !b.Allow() {
		t.Fatalf("expected the probe call to be admitted in HalfOpen")
	}
	b.Success()
	if b.State() != Closed {
		t.Fatalf("expected Closed after a successful probe, got %s", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cfg := testConfig()
	cfg.CoolOffSec = 0
	b := New("cache", cfg)

	for i := 0; i < 3; i++ {
		b.Allow()
		b.Failure()
	}

	if !b.Allow() {
		t.Fatalf("expected the probe call to be admitted in HalfOpen")
	}
	b.Failure()
	if State(b.state.Load()) != Open {
		t.Fatalf("expected Open again after a failed probe, got %s", State(b.state.Load()))
	}
}

func TestBreaker_ErrorRateThresholdTripsWithoutConsecutiveRun(t *testing.T) {
	cfg := testConfig()
	cfg.ConsecutiveFailureThreshold = 100 // never trips this way
	cfg.ErrorRateWindow = 4
	cfg.ErrorRateThreshold = 0.5
	b := New("auth", cfg)

	// success, fail, success, fail -> window full, 50% error rate.
	outcomes := []bool{false, true, false, true}
	for _, failed := range outcomes {
		b.Allow()
		if failed {
			b.Failure()
		} else {
			b.Success()
		}
	}
	if b.State() != Open {
		t.Fatalf("expected error-rate trip once window fills at 50%%, got %s", b.State())
	}
}

func TestBreaker_StatsReportsCounts(t *testing.T) {
	b := New("auth", testConfig())
	b.Allow()
	b.Success()
	b.Allow()
	b.Failure()

	st := b.Stats()
	if st.TotalCalls != 2 || st.FailedCalls != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestBreaker_CoolOffKeepsOpenUntilElapsed(t *testing.T) {
	cfg := testConfig()
	cfg.CoolOffSec = 3600
	b := New("auth", cfg)
	for i := 0; i < 3; i++ {
		b.Allow()
		b.Failure()
	}
	if b.State() != Open {
		t.Fatalf("expected Open, got %s", b.State())
	}
	time.Sleep(time.Millisecond)
	if b.State() != Open {
		t.Fatalf("expected still Open before cool-off elapses, got %s", b.State())
	}
}
