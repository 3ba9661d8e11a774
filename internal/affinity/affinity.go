// Package affinity binds worker goroutines to CPU cores where the OS allows it.
package affinity

import (
	"sync"

	"github.com/yanun0323/logs"
)

var warnOnce sync.Once

func noop() {}

// PinOrWarn pins the calling goroutine like Pin, but logs a single warning and
// carries on unpinned when pinning is unavailable.
func PinOrWarn(role string, cpus []int) (release func()) {
	release, err := Pin(cpus)
	if err != nil {
		warnOnce.Do(func() {
			logs.Warnf("cpu pinning unavailable for %s, continue unpinned, err: %+v", role, err)
		})
		return noop
	}
	return release
}
