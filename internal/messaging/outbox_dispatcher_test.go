package messaging

import (
	"testing"
	"time"
)

func TestRetryDelayBackoffIsCapped(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{50, 32 * time.Second},
	}
	for _, c := range cases {
		if got := retryDelay(c.attempts); got != c.want {
			t.Errorf("retryDelay(%d) = %s, want %s", c.attempts, got, c.want)
		}
	}
}
