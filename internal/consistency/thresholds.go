package consistency

import (
	"time"

	"github.com/yanun0323/errors"

	"marketcore/pkg/exception"
)

// Thresholds drive the three checks.
type Thresholds struct {
	// SpreadWarningPct and SpreadCriticalPct are percentages of the lowest mid.
	SpreadWarningPct  float64
	SpreadCriticalPct float64
	// TimeSyncCritical defaults to twice TimeSyncWarning when zero.
	TimeSyncWarning  time.Duration
	TimeSyncCritical time.Duration
	// VolumeCV is the coefficient of variation above which volumes disagree;
	// twice the value is critical.
	VolumeCV float64
	// VolumeDepth is the number of levels per side summed into the depth volume.
	VolumeDepth int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		SpreadWarningPct:  0.5,
		SpreadCriticalPct: 1.0,
		TimeSyncWarning:   100 * time.Millisecond,
		VolumeCV:          0.5,
		VolumeDepth:       10,
	}
}

// timeSyncCritical resolves the critical skew.
func (t Thresholds) timeSyncCritical() time.Duration {
	if t.TimeSyncCritical > 0 {
		return t.TimeSyncCritical
	}
	return 2 * t.TimeSyncWarning
}

func (t Thresholds) Validate() error {
	switch {
	case t.SpreadWarningPct <= 0:
		return errors.Wrap(exception.ErrConfigInvalid, "spread warning must be positive").With("value", t.SpreadWarningPct)
	case t.SpreadCriticalPct < t.SpreadWarningPct:
		return errors.Wrap(exception.ErrConfigInvalid, "spread critical below warning").With("value", t.SpreadCriticalPct)
	case t.TimeSyncWarning <= 0:
		return errors.Wrap(exception.ErrConfigInvalid, "time sync warning must be positive").With("value", t.TimeSyncWarning.String())
	case t.TimeSyncCritical != 0 && t.TimeSyncCritical < t.TimeSyncWarning:
		return errors.Wrap(exception.ErrConfigInvalid, "time sync critical below warning").With("value", t.TimeSyncCritical.String())
	case t.VolumeCV <= 0:
		return errors.Wrap(exception.ErrConfigInvalid, "volume cv must be positive").With("value", t.VolumeCV)
	case t.VolumeDepth <= 0:
		return errors.Wrap(exception.ErrConfigInvalid, "volume depth must be positive").With("value", t.VolumeDepth)
	}
	return nil
}

// Bounds clamp thresholds moved by calibration or feedback.
type Bounds struct {
	MinSpreadPct, MaxSpreadPct float64
	MinTimeSync, MaxTimeSync   time.Duration
	MinVolumeCV, MaxVolumeCV   float64
}

func DefaultBounds() Bounds {
	return Bounds{
		MinSpreadPct: 0.01,
		MaxSpreadPct: 50,
		MinTimeSync:  time.Millisecond,
		MaxTimeSync:  10 * time.Second,
		MinVolumeCV:  0.01,
		MaxVolumeCV:  10,
	}
}

func (b Bounds) clamp(t Thresholds) Thresholds {
	t.SpreadWarningPct = min(max(t.SpreadWarningPct, b.MinSpreadPct), b.MaxSpreadPct)
	t.SpreadCriticalPct = min(max(t.SpreadCriticalPct, t.SpreadWarningPct), b.MaxSpreadPct)
	t.TimeSyncWarning = min(max(t.TimeSyncWarning, b.MinTimeSync), b.MaxTimeSync)
	if t.TimeSyncCritical != 0 {
		t.TimeSyncCritical = min(max(t.TimeSyncCritical, t.TimeSyncWarning), b.MaxTimeSync)
	}
	t.VolumeCV = min(max(t.VolumeCV, b.MinVolumeCV), b.MaxVolumeCV)
	return t
}
