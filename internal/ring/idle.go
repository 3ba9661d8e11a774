package ring

import (
	"context"
	"runtime"
	"time"
)

const (
	defaultIdleSpins = 64
	defaultIdleMin   = 50 * time.Microsecond
	defaultIdleMax   = time.Millisecond
)

// Idle is a consumer-side wait strategy: yield a few times, then sleep with
// a doubling delay capped at Max. The zero value uses sane defaults.
type Idle struct {
	Spins int
	Min   time.Duration
	Max   time.Duration

	round int
	sleep time.Duration
}

// Wait blocks for one idle round. It returns false once ctx is done.
func (i *Idle) Wait(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	spins := i.Spins
	if spins <= 0 {
		spins = defaultIdleSpins
	}
	if i.round < spins {
		i.round++
		runtime.Gosched()
		return true
	}

	minSleep, maxSleep := i.Min, i.Max
	if minSleep <= 0 {
		minSleep = defaultIdleMin
	}
	if maxSleep < minSleep {
		maxSleep = max(defaultIdleMax, minSleep)
	}
	if i.sleep < minSleep {
		i.sleep = minSleep
	}

	timer := time.NewTimer(i.sleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}

	i.sleep *= 2
	if i.sleep > maxSleep {
		i.sleep = maxSleep
	}
	return true
}

// Reset is called after useful work so the next wait starts spinning again.
func (i *Idle) Reset() {
	i.round = 0
	i.sleep = 0
}
