package chatclient

import (
	"sync"
	"time"
)

// idleTimer 可重置的空闲计时器。Stop 之后永久失效。
type idleTimer struct {
	mu      sync.Mutex
	d       time.Duration
	timer   *time.Timer
	gen     uint64
	stopped bool
	fire    func()
}

func newIdleTimer(d time.Duration, fire func()) *idleTimer {
	return &idleTimer{d: d, fire: fire}
}

// Reset 重新开始计时；已停止的计时器不受影响
func (t *idleTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.d, func() { t.expire(gen) })
}

// Pause 暂停计时直到下一次 Reset。计时器已触发或已停止时返回 false。
func (t *idleTimer) Pause() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return false
	}
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
	}
	return true
}

// Stop 永久解除计时
func (t *idleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *idleTimer) expire(gen uint64) {
	t.mu.Lock()
	// 回调排队期间发生过 Reset 或 Stop
	if t.stopped || gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()

	t.fire()
}
