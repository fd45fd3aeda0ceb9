package scheduler

import (
	"time"

	"golang.org/x/time/rate"
	"k8s.io/client-go/util/workqueue"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"
)

// Scheduling defaults. Failed keys back off exponentially between
// BaseDelay and MaxDelay; the token bucket bounds requeue admission
// across all keys so a hot cluster cannot starve the API server.
const (
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = time.Minute
	DefaultQPS         = 10
	DefaultBurst       = 100
	DefaultConcurrency = 4
)

// Config tunes one controller's workqueue and worker pool.
type Config struct {
	// MaxConcurrentReconciles bounds in-flight reconciles. Keys are
	// still serialized individually; this only affects distinct keys.
	MaxConcurrentReconciles int

	// BaseDelay is the first retry delay for a failing key.
	BaseDelay time.Duration

	// MaxDelay caps the per-key retry delay growth.
	MaxDelay time.Duration

	// QPS and Burst configure the overall requeue token bucket.
	QPS   int
	Burst int
}

// DefaultConfig returns the scheduling defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentReconciles: DefaultConcurrency,
		BaseDelay:               DefaultBaseDelay,
		MaxDelay:                DefaultMaxDelay,
		QPS:                     DefaultQPS,
		Burst:                   DefaultBurst,
	}
}

// withDefaults fills zero fields so a partially specified Config
// behaves like DefaultConfig for the rest.
func (c Config) withDefaults() Config {
	if c.MaxConcurrentReconciles <= 0 {
		c.MaxConcurrentReconciles = DefaultConcurrency
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.QPS <= 0 {
		c.QPS = DefaultQPS
	}
	if c.Burst <= 0 {
		c.Burst = DefaultBurst
	}
	return c
}

// NewRateLimiter builds the workqueue rate limiter: capped per-key
// exponential failure backoff combined with an overall token bucket.
// The effective delay for an item is the larger of the two.
func NewRateLimiter(cfg Config) workqueue.TypedRateLimiter[reconcile.Request] {
	cfg = cfg.withDefaults()
	return workqueue.NewTypedMaxOfRateLimiter(
		workqueue.NewTypedItemExponentialFailureRateLimiter[reconcile.Request](
			cfg.BaseDelay, cfg.MaxDelay),
		&workqueue.TypedBucketRateLimiter[reconcile.Request]{
			Limiter: rate.NewLimiter(rate.Limit(cfg.QPS), cfg.Burst),
		},
	)
}

// Options assembles the controller.Options passed to SetupWithManager.
func Options(cfg Config) controller.Options {
	cfg = cfg.withDefaults()
	return controller.Options{
		MaxConcurrentReconciles: cfg.MaxConcurrentReconciles,
		RateLimiter:             NewRateLimiter(cfg),
	}
}
