package retry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestRunner_Success verifies a successful fetch returns immediately.
func TestRunner_Success(t *testing.T) {
	r := &Runner{Limit: 3, Delay: FixedDelay(0)}

	calls := 0
	val, err := r.Run(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return "data", nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if val != "data" {
		t.Errorf("Run() = %v, want %q", val, "data")
	}
	if calls != 1 {
		t.Errorf("fetch invoked %d times, want 1", calls)
	}
}

// TestRunner_RetryBound verifies a limit of N permits exactly N retries after
// the initial failure, with the failure count surfacing each increment.
func TestRunner_RetryBound(t *testing.T) {
	const limit = 3
	wantErr := errors.New("backend down")

	var calls int
	var counts []int
	r := &Runner{
		Limit:     limit,
		Delay:     FixedDelay(time.Millisecond),
		OnFailure: func(n int) { counts = append(counts, n) },
	}

	_, err := r.Run(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Run() error = %v, want %v", err, wantErr)
	}

	if calls != limit+1 {
		t.Errorf("fetch invoked %d times, want %d", calls, limit+1)
	}
	if len(counts) != limit+1 || counts[len(counts)-1] != limit+1 {
		t.Errorf("failure counts = %v, want 1..%d", counts, limit+1)
	}
	for i, n := range counts {
		if n != i+1 {
			t.Errorf("counts[%d] = %d, want %d", i, n, i+1)
		}
	}
}

// TestRunner_NoRetries verifies Limit 0 surfaces the first error.
func TestRunner_NoRetries(t *testing.T) {
	wantErr := errors.New("boom")
	calls := 0
	r := &Runner{Limit: 0}

	_, err := r.Run(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Run() error = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Errorf("fetch invoked %d times, want 1", calls)
	}
}

// TestRunner_DelayPerRetry verifies the delay function receives the running
// failure count for each retry it schedules.
func TestRunner_DelayPerRetry(t *testing.T) {
	var asked []int
	r := &Runner{
		Limit: 2,
		Delay: func(failures int) time.Duration {
			asked = append(asked, failures)
			return 0
		},
	}

	_, _ = r.Run(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errors.New("always fails")
	})

	if len(asked) != 2 || asked[0] != 1 || asked[1] != 2 {
		t.Errorf("delay asked with %v, want [1 2]", asked)
	}
}

// TestRunner_RetryThenSucceed verifies recovery after transient failures.
func TestRunner_RetryThenSucceed(t *testing.T) {
	calls := 0
	failures := 0
	r := &Runner{
		Limit:     3,
		Delay:     FixedDelay(time.Millisecond),
		OnFailure: func(n int) { failures = n },
	}

	val, err := r.Run(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("flaky")
		}
		return map[string]any{"id": 1}, nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if val == nil {
		t.Fatal("Run() returned nil value")
	}
	if failures != 1 {
		t.Errorf("failures = %d, want 1", failures)
	}
}

// TestRunner_Canceled verifies the marker suppresses the underlying result at
// each suspension boundary.
func TestRunner_Canceled(t *testing.T) {
	t.Run("before first attempt", func(t *testing.T) {
		r := &Runner{Limit: 3, Canceled: func() bool { return true }}
		calls := 0
		_, err := r.Run(context.Background(), func(ctx context.Context) (any, error) {
			calls++
			return "data", nil
		})
		if !errors.Is(err, ErrCanceled) {
			t.Fatalf("Run() error = %v, want ErrCanceled", err)
		}
		if calls != 0 {
			t.Errorf("fetch invoked %d times, want 0", calls)
		}
	})

	t.Run("during fetch", func(t *testing.T) {
		var canceled atomic.Bool
		r := &Runner{Limit: 3, Canceled: canceled.Load}

		_, err := r.Run(context.Background(), func(ctx context.Context) (any, error) {
			canceled.Store(true)
			return "data", nil // result must be discarded
		})
		if !errors.Is(err, ErrCanceled) {
			t.Fatalf("Run() error = %v, want ErrCanceled", err)
		}
	})

	t.Run("during delay", func(t *testing.T) {
		var canceled atomic.Bool
		ctx, cancel := context.WithCancel(context.Background())

		r := &Runner{
			Limit: 3,
			Delay: FixedDelay(time.Minute),
			OnFailure: func(int) {
				canceled.Store(true)
				cancel()
			},
			Canceled: canceled.Load,
		}

		_, err := r.Run(ctx, func(ctx context.Context) (any, error) {
			return nil, errors.New("fails once")
		})
		if !errors.Is(err, ErrCanceled) {
			t.Fatalf("Run() error = %v, want ErrCanceled", err)
		}
	})
}

// TestRunner_ContextDeadline verifies an external context cancellation is not
// reported as ErrCanceled.
func TestRunner_ContextDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{Limit: 3, Delay: FixedDelay(time.Minute)}

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(ctx, func(ctx context.Context) (any, error) {
			return nil, errors.New("fails")
		})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}

// TestRunner_VisibilityParks verifies retries are withheld while hidden and
// resume when visibility returns.
func TestRunner_VisibilityParks(t *testing.T) {
	tracker := NewTracker()
	tracker.SetVisible(false)

	var calls atomic.Int32
	r := &Runner{
		Limit:      1,
		Delay:      FixedDelay(0),
		Visibility: tracker,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Run(context.Background(), func(ctx context.Context) (any, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("first fails")
			}
			return "recovered", nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("fetch invoked %d times while hidden, want 1", n)
	}

	tracker.SetVisible(true)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not resume after visibility change")
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("fetch invoked %d times after resume, want 2", n)
	}
}

// regainOnCheck reports hidden exactly once and regains visibility in the
// same instant, closing the resume channel it published before the check.
// It models a hidden-to-visible transition landing between the runner's
// channel capture and its visibility read.
type regainOnCheck struct {
	mu       sync.Mutex
	resumed  chan struct{}
	observed bool
}

func newRegainOnCheck() *regainOnCheck {
	return &regainOnCheck{resumed: make(chan struct{})}
}

func (v *regainOnCheck) Visible() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.observed {
		return true
	}
	v.observed = true
	close(v.resumed)
	v.resumed = make(chan struct{})
	return false
}

func (v *regainOnCheck) Resumed() <-chan struct{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.resumed
}

// TestRunner_ResumeRacesVisibilityCheck verifies the runner does not park on
// a stale resume channel when visibility is regained at the exact moment it
// observes the hidden state.
func TestRunner_ResumeRacesVisibilityCheck(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var calls atomic.Int32
	r := &Runner{
		Limit:      1,
		Delay:      FixedDelay(0),
		Visibility: newRegainOnCheck(),
	}

	val, err := r.Run(ctx, func(ctx context.Context) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("first fails")
		}
		return "recovered", nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v, calls = %d", err, calls.Load())
	}
	if val != "recovered" {
		t.Errorf("Run() = %v, want %q", val, "recovered")
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("fetch invoked %d times, want 2", n)
	}
}

// TestRunner_NilFetch verifies the nil-fetch sentinel.
func TestRunner_NilFetch(t *testing.T) {
	r := &Runner{}
	if _, err := r.Run(context.Background(), nil); !errors.Is(err, ErrNilFetch) {
		t.Errorf("Run(nil) error = %v, want ErrNilFetch", err)
	}
}

// TestLimit_Allows verifies the retry window arithmetic.
func TestLimit_Allows(t *testing.T) {
	tests := []struct {
		limit    Limit
		failures int
		want     bool
	}{
		{0, 1, false},
		{3, 1, true},
		{3, 3, true},
		{3, 4, false},
		{Unlimited, 1, true},
		{Unlimited, 1000, true},
	}
	for _, tt := range tests {
		if got := tt.limit.Allows(tt.failures); got != tt.want {
			t.Errorf("Limit(%d).Allows(%d) = %v, want %v", tt.limit, tt.failures, got, tt.want)
		}
	}
}

// TestDefaultDelay verifies the exponential schedule and its cap.
func TestDefaultDelay(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := DefaultDelay(tt.failures); got != tt.want {
			t.Errorf("DefaultDelay(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

// TestTracker verifies visibility transitions release waiters exactly once.
func TestTracker(t *testing.T) {
	tr := NewTracker()
	if !tr.Visible() {
		t.Fatal("new tracker should start visible")
	}

	tr.SetVisible(false)
	ch := tr.Resumed()

	select {
	case <-ch:
		t.Fatal("resumed channel closed while hidden")
	default:
	}

	tr.SetVisible(true)
	select {
	case <-ch:
	default:
		t.Fatal("resumed channel not closed after becoming visible")
	}

	// A second show without an intervening hide is a no-op.
	ch2 := tr.Resumed()
	tr.SetVisible(true)
	select {
	case <-ch2:
		t.Fatal("resumed channel closed without a hide/show transition")
	default:
	}
}
