package pipeline

import (
	"testing"
	"time"

	"gallery/internal/providers/image"
)

func TestRetryPolicyDecide(t *testing.T) {
	policy := DefaultRetryPolicy()

	tests := []struct {
		name      string
		attempt   int
		kind      image.ErrorKind
		wantRetry bool
		wantDelay time.Duration
	}{
		{"first transient failure", 1, image.ErrorKindTransient, true, 2 * time.Second},
		{"second transient failure", 2, image.ErrorKindTransient, true, 4 * time.Second},
		{"budget exhausted", 3, image.ErrorKindTransient, false, 0},
		{"permanent on first attempt", 1, image.ErrorKindPermanent, false, 0},
		{"permanent on second attempt", 2, image.ErrorKindPermanent, false, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := policy.Decide(tc.attempt, tc.kind)
			if d.Retry != tc.wantRetry {
				t.Fatalf("Retry = %v, want %v", d.Retry, tc.wantRetry)
			}
			if d.Delay != tc.wantDelay {
				t.Fatalf("Delay = %v, want %v", d.Delay, tc.wantDelay)
			}
		})
	}
}

func TestRetryPolicyDelayCap(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 10, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
	d := policy.Decide(9, image.ErrorKindTransient)
	if !d.Retry {
		t.Fatal("attempt below budget should retry")
	}
	if d.Delay != 30*time.Second {
		t.Fatalf("Delay = %v, want capped 30s", d.Delay)
	}
}
