package clock

import (
	"context"
	"sync"
	"time"
)

// fpsWindow is the number of frames the actual rate is averaged over.
const fpsWindow = 24

// Timer paces frame display at a desired rate. It remembers how late or
// early each wakeup was and folds that error into the next sleep so the
// average rate converges on the target.
type Timer struct {
	mu sync.Mutex

	spf          time.Duration
	timingError  time.Duration
	lastFrame    time.Time
	lastFpsFrame time.Time
	fpsFrames    int
	actualFPS    float64
	sinceLast    time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewTimer creates a pacer for fps frames per second.
func NewTimer(fps float64) *Timer {
	t := &Timer{now: time.Now, sleep: sleepCtx}
	t.spf = spfOf(fps)
	t.resetLocked()
	return t
}

func spfOf(fps float64) time.Duration {
	if fps <= 0 {
		fps = 24
	}
	return time.Duration(float64(time.Second) / fps)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (t *Timer) resetLocked() {
	t.lastFrame = t.now()
	t.lastFpsFrame = t.lastFrame
	t.timingError = 0
	t.fpsFrames = 0
}

// SetFPS changes the desired rate. A new rate restarts the timing state.
func (t *Timer) SetFPS(fps float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	spf := spfOf(fps)
	if spf == t.spf {
		return
	}
	t.spf = spf
	t.resetLocked()
}

// FPS returns the desired rate.
func (t *Timer) FPS() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(time.Second) / float64(t.spf)
}

// Reset discards accumulated timing, as when playback stops.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

// AddTimingError shifts the next wakeup, e.g. by audio device latency.
func (t *Timer) AddTimingError(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timingError += d
}

// ActualFPS returns the measured display rate.
func (t *Timer) ActualFPS() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.actualFPS
}

// SinceLastFrame returns the time between the previous two frames before
// the sleep.
func (t *Timer) SinceLastFrame() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sinceLast
}

// Wait sleeps until the next frame is due. It returns ctx's error if the
// sleep was interrupted.
func (t *Timer) Wait(ctx context.Context) error {
	t.mu.Lock()
	t.sinceLast = t.now().Sub(t.lastFrame)
	toSleep := t.spf - t.sinceLast - t.timingError
	t.mu.Unlock()

	if toSleep > 0 {
		if err := t.sleep(ctx, toSleep); err != nil {
			return err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.timingError += now.Sub(t.lastFrame) - t.spf
	t.timingError = min(max(t.timingError, -2*t.spf), 2*t.spf)
	t.lastFrame = now

	if t.fpsFrames >= fpsWindow {
		if d := now.Sub(t.lastFpsFrame).Seconds(); d > 0 {
			t.actualFPS = float64(t.fpsFrames) / d
		}
		t.fpsFrames = 0
	}
	if t.fpsFrames == 0 {
		t.lastFpsFrame = now
	}
	t.fpsFrames++
	return nil
}
