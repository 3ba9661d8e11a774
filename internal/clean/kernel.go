package clean

import (
	"math"
	"sync/atomic"

	"github.com/klauspost/cpuid/v2"
)

// IEEE-754 binary64: a value is NaN or ±Inf exactly when all exponent bits are set.
const expMask uint64 = 0x7FF0000000000000

// Kernels are portable unrolled loops; the lane count only sets the unroll width.
type finiteKernel func(dst []bool, src []float64)

type kernel struct {
	width  int
	finite finiteKernel
}

var (
	scalarKernel = &kernel{width: 1, finite: finiteScalar}
	lane4Kernel  = &kernel{width: 4, finite: finite4}
	lane8Kernel  = &kernel{width: 8, finite: finite8}

	active atomic.Pointer[kernel]
)

func init() {
	active.Store(detect())
}

func detect() *kernel {
	switch {
	case cpuid.CPU.Supports(cpuid.AVX512F):
		return lane8Kernel
	case cpuid.CPU.Supports(cpuid.AVX2), cpuid.CPU.Supports(cpuid.ASIMD):
		return lane4Kernel
	default:
		return scalarKernel
	}
}

// Width is the lane count of the kernel selected for this CPU.
func Width() int {
	return active.Load().width
}

// ForceWidth switches the kernel (1, 4 or 8 lanes) and returns a restore func.
func ForceWidth(width int) (restore func()) {
	prev := active.Load()
	switch width {
	case 8:
		active.Store(lane8Kernel)
	case 4:
		active.Store(lane4Kernel)
	default:
		active.Store(scalarKernel)
	}
	return func() { active.Store(prev) }
}

func isFinite(v float64) bool {
	return math.Float64bits(v)&expMask != expMask
}

func finiteScalar(dst []bool, src []float64) {
	for i, v := range src {
		dst[i] = isFinite(v)
	}
}

func finite4(dst []bool, src []float64) {
	n := len(src) &^ 3
	for i := 0; i < n; i += 4 {
		s := src[i : i+4 : i+4]
		d := dst[i : i+4 : i+4]
		b0 := math.Float64bits(s[0]) & expMask
		b1 := math.Float64bits(s[1]) & expMask
		b2 := math.Float64bits(s[2]) & expMask
		b3 := math.Float64bits(s[3]) & expMask
		d[0] = b0 != expMask
		d[1] = b1 != expMask
		d[2] = b2 != expMask
		d[3] = b3 != expMask
	}
	finiteScalar(dst[n:], src[n:])
}

func finite8(dst []bool, src []float64) {
	n := len(src) &^ 7
	for i := 0; i < n; i += 8 {
		s := src[i : i+8 : i+8]
		d := dst[i : i+8 : i+8]
		b0 := math.Float64bits(s[0]) & expMask
		b1 := math.Float64bits(s[1]) & expMask
		b2 := math.Float64bits(s[2]) & expMask
		b3 := math.Float64bits(s[3]) & expMask
		b4 := math.Float64bits(s[4]) & expMask
		b5 := math.Float64bits(s[5]) & expMask
		b6 := math.Float64bits(s[6]) & expMask
		b7 := math.Float64bits(s[7]) & expMask
		d[0] = b0 != expMask
		d[1] = b1 != expMask
		d[2] = b2 != expMask
		d[3] = b3 != expMask
		d[4] = b4 != expMask
		d[5] = b5 != expMask
		d[6] = b6 != expMask
		d[7] = b7 != expMask
	}
	finite4(dst[n:], src[n:])
}
