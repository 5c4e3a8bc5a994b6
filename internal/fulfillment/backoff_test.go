package fulfillment_test

import (
	"testing"
	"time"

	"github.com/simbridge/simbridge/internal/fulfillment"
)

func TestRetryScheduleIsCappedExponential(t *testing.T) {
	cfg := fulfillment.RetryConfig{
		MaxAttempts:  5,
		BaseInterval: time.Second,
		MaxInterval:  4 * time.Second,
	}.WithDefaults()

	schedule := cfg.NewSchedule()

	// Randomization is off, so the sequence is exact: 1s, 2s, 4s, then
	// pinned at the cap.
	for i, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second} {
		if got := schedule.NextBackOff(); got != want {
			t.Fatalf("wait %d: expected %s, got %s", i, want, got)
		}
	}
}

func TestRetryConfigDefaults(t *testing.T) {
	cfg := fulfillment.RetryConfig{}.WithDefaults()
	if cfg.MaxAttempts != 3 || cfg.BaseInterval != time.Second || cfg.MaxInterval != 30*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
