package retry

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// scriptedBackOff replays a fixed sequence of delays.
type scriptedBackOff struct {
	delays []time.Duration
	next   int
}

func (s *scriptedBackOff) NextBackOff() time.Duration {
	if s.next >= len(s.delays) {
		return backoff.Stop
	}
	d := s.delays[s.next]
	s.next++
	return d
}

func (s *scriptedBackOff) Reset() { s.next = 0 }

// TestFromBackOff verifies the adapter replays the policy and maps Stop to a
// zero delay.
func TestFromBackOff(t *testing.T) {
	delay := FromBackOff(&scriptedBackOff{
		delays: []time.Duration{time.Millisecond, 2 * time.Millisecond},
	})

	if got := delay(1); got != time.Millisecond {
		t.Errorf("delay(1) = %v, want 1ms", got)
	}
	if got := delay(2); got != 2*time.Millisecond {
		t.Errorf("delay(2) = %v, want 2ms", got)
	}
	if got := delay(3); got != 0 {
		t.Errorf("delay(3) = %v, want 0 after Stop", got)
	}
}

// TestFromBackOff_Exponential exercises the adapter with the library's
// exponential policy.
func TestFromBackOff_Exponential(t *testing.T) {
	delay := FromBackOff(backoff.NewExponentialBackOff())

	for i := 1; i <= 3; i++ {
		if got := delay(i); got < 0 {
			t.Errorf("delay(%d) = %v, want non-negative", i, got)
		}
	}
}
