package lifecycle

import "sync/atomic"

// Lifecycle holds the draining flag shared across handlers. While draining,
// readiness reports 503 and new session creates and attaches are refused;
// live relays keep running until the drain grace period ends.
type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
