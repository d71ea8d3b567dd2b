package usecase

import (
	"testing"
	"time"
)

func TestRetryPolicyDelay(t *testing.T) {
	policy := RetryPolicy{BaseDelay: 500 * time.Millisecond, MaxDelay: 60 * time.Second}

	cases := []struct {
		name  string
		count int
		want  time.Duration
	}{
		{"first attempt", 0, 500 * time.Millisecond},
		{"second attempt", 1, time.Second},
		{"third attempt", 2, 2 * time.Second},
		{"doubles each attempt", 5, 16 * time.Second},
		{"capped at max", 10, 60 * time.Second},
		{"shift past overflow still capped", 70, 60 * time.Second},
		{"negative count treated as zero", -1, 500 * time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := policy.Delay(tc.count); got != tc.want {
				t.Fatalf("Delay(%d) = %v, want %v", tc.count, got, tc.want)
			}
		})
	}
}
