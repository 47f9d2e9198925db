package studio

import (
	"sync"
	"time"
)

// DefaultNoticeTTL is how long a notice stays visible.
const DefaultNoticeTTL = 5 * time.Second

// noticeTimer hands out notice sequence numbers and keeps at most one pending
// expiry. Scheduling a new notice stops the previous countdown.
type noticeTimer struct {
	clock Clock
	ttl   time.Duration

	mu    sync.Mutex
	seq   int64
	timer Timer
}

func newNoticeTimer(clock Clock, ttl time.Duration) *noticeTimer {
	if ttl <= 0 {
		ttl = DefaultNoticeTTL
	}
	return &noticeTimer{clock: clock, ttl: ttl}
}

// schedule restarts the countdown for a new notice and returns its sequence
// number and expiry. expire is called with that sequence number when the
// countdown elapses.
func (n *noticeTimer) schedule(expire func(seq int64)) (int64, time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.timer != nil {
		n.timer.Stop()
	}

	n.seq++
	seq := n.seq
	n.timer = n.clock.AfterFunc(n.ttl, func() { expire(seq) })
	return seq, n.clock.Now().Add(n.ttl)
}

// cancel drops the pending countdown, if any.
func (n *noticeTimer) cancel() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}
