package consistency

import (
	"math"
	"sync"
	"time"

	"marketcore/internal/model"
	"marketcore/internal/model/enum"
)

const (
	DefaultHistorySize = 512

	// MinCalibrationSamples is the number of batches needed before Calibrate proposes anything.
	MinCalibrationSamples = 30
	calibrationSigmas     = 3
	feedbackStep          = 0.05
)

// Observation is the per-batch statistics the checks are based on.
type Observation struct {
	TimestampNano int64
	SpreadPct     float64
	SkewMs        float64
	VolumeCV      float64
}

// History is a bounded rolling window of batch statistics plus the most recent
// snapshots of each exchange.
type History struct {
	mu        sync.Mutex
	capacity  int
	batches   []Observation
	next      int
	exchanges map[model.Exchange][]MarketDataSnapshot
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{
		capacity:  capacity,
		batches:   make([]Observation, 0, capacity),
		exchanges: make(map[model.Exchange][]MarketDataSnapshot),
	}
}

func (h *History) Observe(batch []MarketDataSnapshot, depth int) {
	if len(batch) < 2 {
		return
	}
	pct, _, _ := SpreadPct(batch)
	skew, _, _ := Skew(batch)
	o := Observation{
		TimestampNano: batch[0].TimestampNano,
		SpreadPct:     pct,
		SkewMs:        float64(skew) / float64(time.Millisecond),
		VolumeCV:      VolumeCV(batch),
	}
	for _, s := range batch {
		o.TimestampNano = max(o.TimestampNano, s.TimestampNano)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.batches) < h.capacity {
		h.batches = append(h.batches, o)
	} else {
		h.batches[h.next] = o
	}
	h.next = (h.next + 1) % h.capacity

	perExchange := max(h.capacity/8, 1)
	for _, s := range batch {
		recent := append(h.exchanges[s.Exchange], s)
		if len(recent) > perExchange {
			recent = recent[len(recent)-perExchange:]
		}
		h.exchanges[s.Exchange] = recent
	}
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.batches)
}

// Observations returns the window oldest first.
func (h *History) Observations() []Observation {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Observation, 0, len(h.batches))
	if len(h.batches) < h.capacity {
		return append(out, h.batches...)
	}
	out = append(out, h.batches[h.next:]...)
	return append(out, h.batches[:h.next]...)
}

// Recent returns the latest snapshots seen for exchange, oldest first.
func (h *History) Recent(exchange model.Exchange) []MarketDataSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]MarketDataSnapshot(nil), h.exchanges[exchange]...)
}

func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		d := v - mean
		std += d * d
	}
	return mean, math.Sqrt(std / float64(len(values)))
}

// Calibrate proposes thresholds at mean + 3 sigma of the observed statistics.
// Nothing changes until ApplyCalibration is called.
func (c *Checker) Calibrate() (Thresholds, bool) {
	current := c.Thresholds()
	if c.history == nil {
		return current, false
	}
	obs := c.history.Observations()
	if len(obs) < MinCalibrationSamples {
		return current, false
	}

	spreads := make([]float64, len(obs))
	skews := make([]float64, len(obs))
	cvs := make([]float64, len(obs))
	for i, o := range obs {
		spreads[i], skews[i], cvs[i] = o.SpreadPct, o.SkewMs, o.VolumeCV
	}

	next := current
	m, s := meanStd(spreads)
	next.SpreadWarningPct = m + calibrationSigmas*s
	next.SpreadCriticalPct = 2 * next.SpreadWarningPct
	m, s = meanStd(skews)
	next.TimeSyncWarning = time.Duration((m + calibrationSigmas*s) * float64(time.Millisecond))
	next.TimeSyncCritical = 0
	m, s = meanStd(cvs)
	next.VolumeCV = m + calibrationSigmas*s

	c.mu.RLock()
	bounds := c.bounds
	c.mu.RUnlock()
	return bounds.clamp(next), true
}

// ApplyCalibration installs the thresholds proposed by Calibrate.
func (c *Checker) ApplyCalibration() (Thresholds, bool) {
	next, ok := c.Calibrate()
	if !ok {
		return next, false
	}
	if err := c.SetThresholds(next); err != nil {
		return c.Thresholds(), false
	}
	return next, true
}

// Feedback reports whether a result of Check was a real anomaly.
type Feedback struct {
	Check   enum.CheckType
	Correct bool
}

// Feedback tightens the thresholds of a check by 5% after a confirmed result and
// loosens them by 5% after a false alarm, inside the configured bounds.
func (c *Checker) Feedback(f Feedback) Thresholds {
	factor := 1 + feedbackStep
	if f.Correct {
		factor = 1 - feedbackStep
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.thresholds
	switch f.Check {
	case enum.CheckPriceSpread:
		t.SpreadWarningPct *= factor
		t.SpreadCriticalPct *= factor
	case enum.CheckTimeSync:
		t.TimeSyncWarning = time.Duration(float64(t.TimeSyncWarning) * factor)
		if t.TimeSyncCritical != 0 {
			t.TimeSyncCritical = time.Duration(float64(t.TimeSyncCritical) * factor)
		}
	case enum.CheckVolumeConsistency:
		t.VolumeCV *= factor
	default:
		return t
	}
	c.thresholds = c.bounds.clamp(t)
	return c.thresholds
}
