package scheduler

import (
	"testing"
	"time"

	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"
)

func testRequest(name string) reconcile.Request {
	return reconcile.Request{
		NamespacedName: types.NamespacedName{Name: name, Namespace: "default"},
	}
}

func TestNewRateLimiter_ExponentialPerKey(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter(DefaultConfig())
	req := testRequest("test-net")

	// The bucket has a full burst, so early delays come from the
	// exponential limiter alone.
	wantDelays := []time.Duration{
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
	}
	for i, want := range wantDelays {
		if got := limiter.When(req); got != want {
			t.Errorf("When() call %d = %v, want %v", i+1, got, want)
		}
	}

	if got := limiter.NumRequeues(req); got != len(wantDelays) {
		t.Errorf("NumRequeues() = %d, want %d", got, len(wantDelays))
	}
}

func TestNewRateLimiter_DelayCapped(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter(DefaultConfig())
	req := testRequest("test-net")

	var last time.Duration
	for i := 0; i < 12; i++ {
		last = limiter.When(req)
	}
	if last != DefaultMaxDelay {
		t.Errorf("When() after repeated failures = %v, want cap %v", last, DefaultMaxDelay)
	}
}

func TestNewRateLimiter_ForgetResetsKey(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter(DefaultConfig())
	req := testRequest("test-net")

	limiter.When(req)
	limiter.When(req)
	limiter.Forget(req)

	if got := limiter.NumRequeues(req); got != 0 {
		t.Errorf("NumRequeues() after Forget = %d, want 0", got)
	}
	if got := limiter.When(req); got != DefaultBaseDelay {
		t.Errorf("When() after Forget = %v, want %v", got, DefaultBaseDelay)
	}
}

func TestNewRateLimiter_KeysBackOffIndependently(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter(DefaultConfig())
	hot := testRequest("hot-net")
	cold := testRequest("cold-net")

	for i := 0; i < 4; i++ {
		limiter.When(hot)
	}

	// A different key starts at the base delay regardless of the hot
	// key's failure history.
	if got := limiter.When(cold); got != DefaultBaseDelay {
		t.Errorf("When(cold) = %v, want %v", got, DefaultBaseDelay)
	}
}

func TestOptions(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		cfg             Config
		wantConcurrency int
	}{
		"defaults applied to zero config": {
			cfg:             Config{},
			wantConcurrency: DefaultConcurrency,
		},
		"explicit concurrency respected": {
			cfg:             Config{MaxConcurrentReconciles: 8},
			wantConcurrency: 8,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			opts := Options(tc.cfg)
			if opts.MaxConcurrentReconciles != tc.wantConcurrency {
				t.Errorf("MaxConcurrentReconciles = %d, want %d",
					opts.MaxConcurrentReconciles, tc.wantConcurrency)
			}
			if opts.RateLimiter == nil {
				t.Error("RateLimiter should be configured")
			}
		})
	}
}
