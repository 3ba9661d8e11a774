// Package consistency cross-checks simultaneous observations of one symbol
// across exchanges.
package consistency

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketcore/internal/model"
	"marketcore/internal/model/enum"
)

// Checker runs the price-spread, time-sync and volume checks over a batch.
// Thresholds are read-mostly and may be replaced at runtime.
type Checker struct {
	mu         sync.RWMutex
	thresholds Thresholds
	bounds     Bounds
	history    *History
}

// NewChecker returns a checker; history may be nil to disable calibration.
func NewChecker(thresholds Thresholds, history *History) *Checker {
	return &Checker{
		thresholds: thresholds,
		bounds:     DefaultBounds(),
		history:    history,
	}
}

func (c *Checker) Thresholds() Thresholds {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.thresholds
}

func (c *Checker) SetThresholds(t Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thresholds = t
	return nil
}

func (c *Checker) SetBounds(b Bounds) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bounds = b
}

func (c *Checker) History() *History {
	return c.history
}

// Check evaluates every check against batch. Each check only sees the batch and
// the thresholds, so results are independent of one another.
func (c *Checker) Check(batch []MarketDataSnapshot) []model.ConsistencyResult {
	if len(batch) < 2 {
		return nil
	}
	t := c.Thresholds()
	if c.history != nil {
		c.history.Observe(batch, t.VolumeDepth)
	}

	results := make([]model.ConsistencyResult, 0, 3)
	if r, ok := CheckPriceSpread(batch, t); ok {
		results = append(results, r)
	}
	if r, ok := CheckTimeSync(batch, t); ok {
		results = append(results, r)
	}
	if r, ok := CheckVolume(batch, t); ok {
		results = append(results, r)
	}
	return results
}

func newResult(batch []MarketDataSnapshot, check enum.CheckType, severity enum.Severity) model.ConsistencyResult {
	var ts int64
	for _, s := range batch {
		ts = max(ts, s.TimestampNano)
	}
	return model.ConsistencyResult{
		ID:            uuid.NewString(),
		Symbol:        batch[0].Symbol,
		TimestampNano: ts,
		Check:         check,
		Severity:      severity,
		Values:        make(map[string]float64, len(batch)),
	}
}

func grade(value, warning, critical float64) (enum.Severity, bool) {
	switch {
	case value > critical:
		return enum.SeverityCritical, true
	case value > warning:
		return enum.SeverityWarning, true
	default:
		return 0, false
	}
}

// SpreadPct is (max mid - min mid) / min mid in percent, with the indexes of both ends.
func SpreadPct(batch []MarketDataSnapshot) (pct float64, lo, hi int) {
	for i, s := range batch {
		if s.Mid < batch[lo].Mid {
			lo = i
		}
		if s.Mid > batch[hi].Mid {
			hi = i
		}
	}
	if batch[lo].Mid <= 0 {
		return 0, lo, hi
	}
	return (batch[hi].Mid - batch[lo].Mid) / batch[lo].Mid * 100, lo, hi
}

func CheckPriceSpread(batch []MarketDataSnapshot, t Thresholds) (model.ConsistencyResult, bool) {
	if len(batch) < 2 {
		return model.ConsistencyResult{}, false
	}
	pct, lo, hi := SpreadPct(batch)
	severity, ok := grade(pct, t.SpreadWarningPct, t.SpreadCriticalPct)
	if !ok {
		return model.ConsistencyResult{}, false
	}
	r := newResult(batch, enum.CheckPriceSpread, severity)
	r.Message = fmt.Sprintf("price spread %.3f%% between %s (%.8g) and %s (%.8g)",
		pct, batch[lo].Exchange, batch[lo].Mid, batch[hi].Exchange, batch[hi].Mid)
	r.Exchanges = []model.Exchange{batch[lo].Exchange, batch[hi].Exchange}
	for _, s := range batch {
		r.Values[s.Exchange.String()] = s.Mid
	}
	r.Values["spread_pct"] = pct
	return r, true
}

// Skew is the distance between the oldest and newest timestamp, with both indexes.
func Skew(batch []MarketDataSnapshot) (skew time.Duration, oldest, newest int) {
	for i, s := range batch {
		if s.TimestampNano < batch[oldest].TimestampNano {
			oldest = i
		}
		if s.TimestampNano > batch[newest].TimestampNano {
			newest = i
		}
	}
	return time.Duration(batch[newest].TimestampNano - batch[oldest].TimestampNano), oldest, newest
}

func CheckTimeSync(batch []MarketDataSnapshot, t Thresholds) (model.ConsistencyResult, bool) {
	if len(batch) < 2 {
		return model.ConsistencyResult{}, false
	}
	skew, oldest, newest := Skew(batch)
	severity, ok := grade(float64(skew), float64(t.TimeSyncWarning), float64(t.timeSyncCritical()))
	if !ok {
		return model.ConsistencyResult{}, false
	}
	r := newResult(batch, enum.CheckTimeSync, severity)
	r.Message = fmt.Sprintf("timestamp skew %s between %s and %s", skew, batch[oldest].Exchange, batch[newest].Exchange)
	r.Exchanges = []model.Exchange{batch[oldest].Exchange, batch[newest].Exchange}
	base := batch[oldest].TimestampNano
	for _, s := range batch {
		r.Values[s.Exchange.String()] = float64(s.TimestampNano-base) / float64(time.Millisecond)
	}
	r.Values["skew_ms"] = float64(skew) / float64(time.Millisecond)
	return r, true
}

// VolumeCV is the population coefficient of variation of the depth volumes.
func VolumeCV(batch []MarketDataSnapshot) float64 {
	var mean float64
	for _, s := range batch {
		mean += s.DepthVolume
	}
	mean /= float64(len(batch))
	if mean <= 0 {
		return 0
	}
	var variance float64
	for _, s := range batch {
		d := s.DepthVolume - mean
		variance += d * d
	}
	variance /= float64(len(batch))
	return math.Sqrt(variance) / mean
}

func CheckVolume(batch []MarketDataSnapshot, t Thresholds) (model.ConsistencyResult, bool) {
	if len(batch) < 2 {
		return model.ConsistencyResult{}, false
	}
	cv := VolumeCV(batch)
	severity, ok := grade(cv, t.VolumeCV, 2*t.VolumeCV)
	if !ok {
		return model.ConsistencyResult{}, false
	}
	r := newResult(batch, enum.CheckVolumeConsistency, severity)
	r.Message = fmt.Sprintf("depth volume cv %.3f across %d exchanges", cv, len(batch))
	r.Exchanges = make([]model.Exchange, 0, len(batch))
	for _, s := range batch {
		r.Exchanges = append(r.Exchanges, s.Exchange)
		r.Values[s.Exchange.String()] = s.DepthVolume
	}
	r.Values["cv"] = cv
	return r, true
}
