// Package health tracks per-exchange stream status and exports it as Prometheus metrics.
package health

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"marketcore/internal/model"
	"marketcore/internal/model/enum"
	"marketcore/pkg/websocket"
)

const namespace = "marketcore"

// ExchangeStatus is the health view of one exchange.
type ExchangeStatus struct {
	Exchange    string
	State       websocket.State
	Attempt     int
	MaxAttempts int
	Streams     int
	Messages    uint64
	Events      uint64
	ParseErrors uint64
	Reconnects  uint64
	LastMessage time.Time
	LastError   string
	Score       float64
	Detail      string
}

// Status is the answer to a health query.
type Status struct {
	Exchanges      []ExchangeStatus
	Score          float64
	Degraded       []string
	StagingDrops   map[string]uint64
	Discarded      map[string]uint64
	ProcessLatency LatencySnapshot
}

type streamState struct {
	state       websocket.State
	attempt     int
	maxAttempts int
	err         string
}

type exchangeState struct {
	streams     map[string]streamState
	messages    uint64
	events      uint64
	parseErrors uint64
	reconnects  uint64
	lastMessage time.Time
}

// Registry aggregates stream health. All methods are safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	exchanges map[string]*exchangeState
	drops     map[string]uint64
	discarded map[string]uint64
	latency   LatencyStats

	registry      *prometheus.Registry
	messagesTotal *prometheus.CounterVec
	eventsTotal   *prometheus.CounterVec
	parseErrTotal *prometheus.CounterVec
	reconnTotal   *prometheus.CounterVec
	dropsTotal    *prometheus.CounterVec
	resultsTotal  *prometheus.CounterVec
	overflowTotal *prometheus.CounterVec
	discardTotal  *prometheus.CounterVec
	scoreGauge    *prometheus.GaugeVec
	processHist   prometheus.Histogram
}

func NewRegistry() *Registry {
	r := &Registry{
		exchanges: make(map[string]*exchangeState),
		drops:     make(map[string]uint64),
		discarded: make(map[string]uint64),
		registry:  prometheus.NewRegistry(),
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Websocket data messages received.",
		}, []string{"exchange"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Canonical events parsed from exchange messages.",
		}, []string{"exchange"}),
		parseErrTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Messages dropped because they failed to decode.",
		}, []string{"exchange"}),
		reconnTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Reconnect attempts.",
		}, []string{"exchange"}),
		dropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staging_drops_total",
			Help:      "Items discarded by a staging overflow policy.",
		}, []string{"class"}),
		resultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consistency_results_total",
			Help:      "Consistency results emitted.",
		}, []string{"check", "severity"}),
		overflowTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "book_overflow_total",
			Help:      "Price levels routed outside the bucket range.",
		}, []string{"exchange"}),
		discardTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_discarded_total",
			Help:      "Price levels and book events rejected by cleaning or sequence checks.",
		}, []string{"reason"}),
		scoreGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_score",
			Help:      "Derived health score in [0,1].",
		}, []string{"exchange"}),
		processHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_seconds",
			Help:      "Time to clean and apply one event.",
			Buckets:   prometheus.ExponentialBuckets(1e-7, 4, 10),
		}),
	}
	r.registry.MustRegister(
		r.messagesTotal,
		r.eventsTotal,
		r.parseErrTotal,
		r.reconnTotal,
		r.dropsTotal,
		r.resultsTotal,
		r.overflowTotal,
		r.discardTotal,
		r.scoreGauge,
		r.processHist,
	)
	return r
}

// Gatherer exposes the metrics registry for an HTTP handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// exchange must be called with r.mu held.
func (r *Registry) exchange(name string) *exchangeState {
	e, ok := r.exchanges[name]
	if !ok {
		e = &exchangeState{streams: make(map[string]streamState)}
		r.exchanges[name] = e
	}
	return e
}

func (r *Registry) ConnectionState(sub model.Subscription, state websocket.State, attempt, maxAttempts int, err error) {
	name := sub.Exchange.String()
	s := streamState{state: state, attempt: attempt, maxAttempts: maxAttempts}
	if err != nil {
		s.err = err.Error()
	}

	r.mu.Lock()
	e := r.exchange(name)
	e.streams[sub.String()] = s
	if state == websocket.StateReconnecting {
		e.reconnects++
	}
	r.mu.Unlock()

	if state == websocket.StateReconnecting {
		r.reconnTotal.WithLabelValues(name).Inc()
	}
}

// Forget drops a stream that was stopped on purpose. An exchange left without
// streams is no longer reported.
func (r *Registry) Forget(sub model.Subscription) {
	name := sub.Exchange.String()
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.exchanges[name]
	if !ok {
		return
	}
	delete(e.streams, sub.String())
	if len(e.streams) == 0 {
		delete(r.exchanges, name)
		r.scoreGauge.DeleteLabelValues(name)
	}
}

func (r *Registry) MessageReceived(exchange model.Exchange, events int) {
	name := exchange.String()
	r.mu.Lock()
	e := r.exchange(name)
	e.messages++
	e.events += uint64(events)
	e.lastMessage = time.Now()
	r.mu.Unlock()

	r.messagesTotal.WithLabelValues(name).Inc()
	if events > 0 {
		r.eventsTotal.WithLabelValues(name).Add(float64(events))
	}
}

func (r *Registry) ParseFailed(exchange model.Exchange) {
	name := exchange.String()
	r.mu.Lock()
	r.exchange(name).parseErrors++
	r.mu.Unlock()

	r.parseErrTotal.WithLabelValues(name).Inc()
}

// StagingDropped counts items lost to back-pressure in a staging class.
func (r *Registry) StagingDropped(class string, n uint64) {
	if n == 0 {
		return
	}
	r.mu.Lock()
	r.drops[class] += n
	r.mu.Unlock()

	r.dropsTotal.WithLabelValues(class).Add(float64(n))
}

// InputDiscarded counts input rejected before or while it reached a book.
func (r *Registry) InputDiscarded(reason string, n uint64) {
	if n == 0 {
		return
	}
	r.mu.Lock()
	r.discarded[reason] += n
	r.mu.Unlock()

	r.discardTotal.WithLabelValues(reason).Add(float64(n))
}

func (r *Registry) ResultEmitted(check enum.CheckType, severity enum.Severity) {
	r.resultsTotal.WithLabelValues(check.String(), severity.String()).Inc()
}

func (r *Registry) BookOverflow(exchange model.Exchange, n uint64) {
	if n == 0 {
		return
	}
	r.overflowTotal.WithLabelValues(exchange.String()).Add(float64(n))
}

// ObserveProcess records the time spent processing one event.
func (r *Registry) ObserveProcess(d time.Duration) {
	r.latency.Observe(d)
	r.processHist.Observe(d.Seconds())
}

// stateRank orders states from healthy to broken.
func stateRank(s websocket.State) int {
	switch s {
	case websocket.StateStreaming:
		return 0
	case websocket.StateSubscribing:
		return 1
	case websocket.StateConnecting:
		return 2
	case websocket.StateDisconnected:
		return 3
	case websocket.StateReconnecting:
		return 4
	case websocket.StateFailed:
		return 5
	default:
		return 3
	}
}

func stateFactor(s websocket.State, attempt, maxAttempts int) float64 {
	switch s {
	case websocket.StateStreaming:
		return 1
	case websocket.StateSubscribing, websocket.StateConnecting:
		return 0.5
	case websocket.StateReconnecting:
		if maxAttempts <= 0 {
			return 0.25
		}
		return 0.5 * (1 - float64(attempt)/float64(maxAttempts+1))
	default:
		return 0
	}
}

func detail(name string, s streamState, streams int) string {
	switch s.state {
	case websocket.StateReconnecting:
		if s.maxAttempts > 0 {
			return fmt.Sprintf("%s disconnected, reconnecting attempt %d/%d", name, s.attempt, s.maxAttempts)
		}
		return fmt.Sprintf("%s disconnected, reconnecting attempt %d", name, s.attempt)
	case websocket.StateFailed:
		return fmt.Sprintf("%s failed after %d attempts: %s", name, s.attempt, s.err)
	case websocket.StateStreaming:
		return fmt.Sprintf("%s streaming %d subscriptions", name, streams)
	default:
		return name + " " + s.state.String()
	}
}

// Status computes the health view. Exchanges are sorted by name.
func (r *Registry) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := Status{
		Exchanges:      make([]ExchangeStatus, 0, len(r.exchanges)),
		StagingDrops:   make(map[string]uint64, len(r.drops)),
		Discarded:      make(map[string]uint64, len(r.discarded)),
		ProcessLatency: r.latency.Snapshot(),
	}
	for class, n := range r.drops {
		out.StagingDrops[class] = n
	}
	for reason, n := range r.discarded {
		out.Discarded[reason] = n
	}

	var total float64
	for name, e := range r.exchanges {
		// late messages of a forgotten stream carry no state
		if len(e.streams) == 0 {
			continue
		}
		worst := streamState{state: websocket.StateDisconnected}
		var factor float64
		for i, s := range sortedStreams(e.streams) {
			if i == 0 || stateRank(s.state) > stateRank(worst.state) {
				worst = s
			}
			factor += stateFactor(s.state, s.attempt, s.maxAttempts)
		}
		if len(e.streams) > 0 {
			factor /= float64(len(e.streams))
		}
		if seen := e.messages + e.parseErrors; seen > 0 {
			factor *= 1 - float64(e.parseErrors)/float64(seen)
		}

		st := ExchangeStatus{
			Exchange:    name,
			State:       worst.state,
			Attempt:     worst.attempt,
			MaxAttempts: worst.maxAttempts,
			Streams:     len(e.streams),
			Messages:    e.messages,
			Events:      e.events,
			ParseErrors: e.parseErrors,
			Reconnects:  e.reconnects,
			LastMessage: e.lastMessage,
			LastError:   worst.err,
			Score:       factor,
			Detail:      detail(name, worst, len(e.streams)),
		}
		if worst.state != websocket.StateStreaming {
			out.Degraded = append(out.Degraded, st.Detail)
		}
		r.scoreGauge.WithLabelValues(name).Set(factor)
		total += factor
		out.Exchanges = append(out.Exchanges, st)
	}

	slices.SortFunc(out.Exchanges, func(a, b ExchangeStatus) int {
		return strings.Compare(a.Exchange, b.Exchange)
	})
	slices.Sort(out.Degraded)

	out.Score = 1
	if len(out.Exchanges) > 0 {
		out.Score = total / float64(len(out.Exchanges))
	}
	return out
}

func sortedStreams(streams map[string]streamState) []streamState {
	keys := make([]string, 0, len(streams))
	for k := range streams {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]streamState, 0, len(keys))
	for _, k := range keys {
		out = append(out, streams[k])
	}
	return out
}
