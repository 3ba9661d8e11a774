//go:build linux

package affinity

import (
	"runtime"

	"github.com/yanun0323/errors"
	"golang.org/x/sys/unix"

	"marketcore/pkg/exception"
)

// maxCPUs matches CPU_SETSIZE.
const maxCPUs = 1024

// Pin locks the calling goroutine to its OS thread and restricts that thread to
// cpus. The returned release unlocks the thread. An empty cpus is a no-op.
func Pin(cpus []int) (release func(), err error) {
	if len(cpus) == 0 {
		return noop, nil
	}
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range cpus {
		if cpu < 0 || cpu >= maxCPUs {
			return noop, errors.Wrap(exception.ErrInvalidArgument, "cpu out of range").With("cpu", cpu)
		}
		set.Set(cpu)
	}

	runtime.LockOSThread()
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		runtime.UnlockOSThread()
		return noop, errors.Wrap(err, "sched_setaffinity").With("cpus", cpus)
	}
	return runtime.UnlockOSThread, nil
}

// Available lists the CPUs the process may run on.
func Available() []int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil
	}
	cpus := make([]int, 0, set.Count())
	for cpu := 0; cpu < maxCPUs; cpu++ {
		if set.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}
	return cpus
}
