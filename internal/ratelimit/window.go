package ratelimit

import (
	"sync"
	"time"

	"github.com/amoylab/hostlink/internal/common/config"
	"github.com/amoylab/hostlink/internal/common/errorx"
)

// Window counts caller-initiated messages of one connection. It keeps the
// count of the current second and a ring with the counts of the last
// WindowSeconds completed seconds.
type Window struct {
	mu     sync.Mutex
	limits config.LimitConfig
	now    func() time.Time

	second int64
	count  int
	ring   []int
	pos    int
}

type Option func(*Window)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(w *Window) { w.now = now }
}

func NewWindow(limits config.LimitConfig, opts ...Option) *Window {
	if limits.WindowSeconds <= 0 {
		limits.WindowSeconds = 60
	}
	w := &Window{
		limits: limits,
		now:    time.Now,
		ring:   make([]int, limits.WindowSeconds),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.second = w.now().Unix()
	return w
}

// Record counts one message and reports whether the connection must be closed
func (w *Window) Record() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.advance(w.now().Unix())
	w.count++

	if w.limits.MaxPerSecond > 0 && w.count > w.limits.MaxPerSecond {
		return errorx.New(errorx.ErrRateLimitExceeded,
			"more than %d messages in one second", w.limits.MaxPerSecond)
	}
	if w.limits.AlertPerSecond > 0 && w.alertSeconds() > w.limits.AlertWindowsAllowed {
		return errorx.New(errorx.ErrRateLimitExceeded,
			"more than %d messages per second in over %d of the last %d seconds",
			w.limits.AlertPerSecond, w.limits.AlertWindowsAllowed, len(w.ring))
	}
	return nil
}

func (w *Window) advance(sec int64) {
	if sec <= w.second {
		return
	}
	w.push(w.count)
	gap := sec - w.second - 1
	if gap > int64(len(w.ring)) {
		gap = int64(len(w.ring))
	}
	for i := int64(0); i < gap; i++ {
		w.push(0)
	}
	w.second = sec
	w.count = 0
}

func (w *Window) push(n int) {
	w.ring[w.pos] = n
	w.pos = (w.pos + 1) % len(w.ring)
}

func (w *Window) alertSeconds() int {
	n := 0
	for _, c := range w.ring {
		if c > w.limits.AlertPerSecond {
			n++
		}
	}
	if w.count > w.limits.AlertPerSecond {
		n++
	}
	return n
}
