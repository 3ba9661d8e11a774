//go:build !linux

package affinity

import (
	"github.com/yanun0323/errors"

	"marketcore/pkg/exception"
)

func Pin(cpus []int) (release func(), err error) {
	if len(cpus) == 0 {
		return noop, nil
	}
	return noop, errors.Wrap(exception.ErrInternal, "cpu pinning is not supported on this platform")
}

func Available() []int {
	return nil
}
