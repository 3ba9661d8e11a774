package collector

import (
	"context"
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketcore/internal/affinity"
	"marketcore/internal/exchange"
	"marketcore/internal/exchange/registry"
	"marketcore/internal/model"
	"marketcore/internal/model/enum"
	"marketcore/pkg/exception"
	"marketcore/pkg/websocket"
)

const defaultSnapshotTimeout = 10 * time.Second

// Sink receives parsed events. It must not block for long.
type Sink interface {
	Ingest(ctx context.Context, ev *model.Event) error
}

// Monitor observes stream health.
type Monitor interface {
	ConnectionState(sub model.Subscription, state websocket.State, attempt, maxAttempts int, err error)
	MessageReceived(exchange model.Exchange, events int)
	ParseFailed(exchange model.Exchange)
}

// Endpoint holds the connection settings of one exchange.
type Endpoint struct {
	WebSocket string
	REST      string
	// Bootstrap seeds order-book streams with a REST snapshot after subscribing.
	Bootstrap    bool
	PingInterval time.Duration
}

// Settings is the runner configuration, replaceable at runtime.
type Settings struct {
	Endpoints   map[string]Endpoint
	Backoff     websocket.Backoff
	ReadTimeout time.Duration
	NetworkCPUs []int
}

// StreamRunner connects one subscription to its exchange and forwards events to a Sink.
type StreamRunner struct {
	sink    Sink
	monitor Monitor
	client  *http.Client

	mu       sync.RWMutex
	settings Settings
}

func NewStreamRunner(sink Sink, monitor Monitor, settings Settings) *StreamRunner {
	return &StreamRunner{
		sink:     sink,
		monitor:  monitor,
		client:   &http.Client{Timeout: defaultSnapshotTimeout},
		settings: settings,
	}
}

// Update replaces the settings. Running streams keep theirs until they restart.
func (r *StreamRunner) Update(settings Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = settings
}

func (r *StreamRunner) current() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

func (r *StreamRunner) endpoint(settings Settings, name string) (Endpoint, error) {
	ep, configured := settings.Endpoints[name]
	ws, rest, ok := registry.DefaultEndpoints(name)
	if !ok {
		return Endpoint{}, errors.Wrap(exception.ErrUnsupportedExchange, "endpoint").With("exchange", name)
	}
	if !configured {
		ep.Bootstrap = registry.RequiresBootstrap(name)
	}
	if ep.WebSocket == "" {
		ep.WebSocket = ws
	}
	if ep.REST == "" {
		ep.REST = rest
	}
	return ep, nil
}

// Validate rejects subscriptions the runner could never serve.
func (r *StreamRunner) Validate(sub model.Subscription) error {
	if !sub.Symbol.IsValid() {
		return errors.Wrap(exception.ErrInvalidSymbol, "validate").With("subscription", sub.String())
	}
	if !sub.Channel.IsAvailable() {
		return errors.Wrap(exception.ErrUnsupportedChannel, "validate").With("subscription", sub.String())
	}
	_, err := r.endpoint(r.current(), sub.Exchange.String())
	return err
}

func (r *StreamRunner) Run(ctx context.Context, sub model.Subscription) error {
	settings := r.current()
	name := sub.Exchange.String()
	adapter, err := registry.New(name)
	if err != nil {
		return err
	}
	ep, err := r.endpoint(settings, name)
	if err != nil {
		return err
	}

	s := &stream{
		runner:  r,
		sub:     sub,
		subs:    []model.SubscriptionDetail{sub.Detail()},
		adapter: adapter,
		ep:      ep,
		events:  make([]*model.Event, 0, 8),
	}

	opt := websocket.Option{
		Backoff:   settings.Backoff,
		OnConnect: s.onConnect,
		OnMessage: s.onMessage,
		OnState: func(state websocket.State, attempt, maxAttempts int, err error) {
			// a cancelled stream no longer owns its health entry
			if ctx.Err() != nil {
				return
			}
			if r.monitor != nil {
				r.monitor.ConnectionState(sub, state, attempt, maxAttempts, err)
			}
			switch state {
			case websocket.StateReconnecting:
				logs.Warnf("%s reconnecting attempt %d/%d, err: %+v", sub, attempt, maxAttempts, err)
			case websocket.StateStreaming:
				logs.Infof("%s streaming", sub)
			}
		},
	}
	if pinger, ok := adapter.(exchange.Pinger); ok {
		msg, every := pinger.Ping()
		if ep.PingInterval > 0 {
			every = ep.PingInterval
		}
		opt.PingInterval = every
		opt.Ping = func() (websocket.MessageType, []byte) {
			return msg.Type, msg.Payload
		}
	}
	if len(settings.NetworkCPUs) > 0 {
		cpus := settings.NetworkCPUs
		opt.ReadInit = func() func() {
			return affinity.PinOrWarn("network worker", cpus)
		}
	}

	s.session = websocket.NewSession(websocket.NewDialer(ep.WebSocket, websocket.DialOption{ReadTimeout: settings.ReadTimeout}), opt)
	return s.session.Run(ctx)
}

// stream is the per-subscription state shared by the session callbacks.
type stream struct {
	runner  *StreamRunner
	sub     model.Subscription
	subs    []model.SubscriptionDetail
	adapter exchange.Adapter
	ep      Endpoint
	session *websocket.Session

	// events is only touched by the session reader goroutine.
	events []*model.Event
}

func (s *stream) onConnect(ctx context.Context, w websocket.Writer) error {
	msgs, err := s.adapter.BuildSubscriptionMessages(s.subs)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if !w.Send(msg.Type, msg.Payload) {
			return errors.Wrap(exception.ErrNotConnected, "send subscription").With("subscription", s.sub.String())
		}
	}

	if !s.ep.Bootstrap || s.sub.Channel != enum.ChannelOrderBook {
		return nil
	}
	ev, err := s.adapter.InitialSnapshot(ctx, s.runner.client, s.subs[0], s.ep.REST)
	if err != nil {
		// the stream still converges once the exchange pushes a full book
		logs.Warnf("%s initial snapshot, err: %+v", s.sub, err)
		return nil
	}
	if ev != nil {
		if err := s.runner.sink.Ingest(ctx, ev); err != nil {
			logs.Warnf("%s ingest initial snapshot, err: %+v", s.sub, err)
		}
	}
	return nil
}

func (s *stream) onMessage(ctx context.Context, msgType websocket.MessageType, payload []byte) error {
	recv := time.Now().UnixNano()
	monitor := s.runner.monitor
	ex := s.adapter.Exchange()

	msg, err := exchange.Decode(s.adapter, exchange.Message{Type: msgType, Payload: payload})
	if err != nil {
		if monitor != nil {
			monitor.ParseFailed(ex)
		}
		logs.Debugf("%s decode frame, err: %+v", s.sub, err)
		return nil
	}

	if s.adapter.IsHeartbeat(msg) {
		if resp, ok := s.adapter.HeartbeatResponse(msg); ok {
			if err := s.session.Send(resp.Type, resp.Payload); err != nil {
				logs.Debugf("%s heartbeat response, err: %+v", s.sub, err)
			}
		}
		return nil
	}

	s.events, err = s.adapter.ParseMessage(s.events[:0], msg, s.subs, recv)
	if err != nil {
		if stderrors.Is(err, exception.ErrWebSocketProtocol) {
			return err
		}
		if monitor != nil {
			monitor.ParseFailed(ex)
		}
		logs.Debugf("%s parse message, err: %+v", s.sub, err)
		return nil
	}
	if monitor != nil {
		monitor.MessageReceived(ex, len(s.events))
	}
	for i, ev := range s.events {
		// staging drops are counted by the sink
		_ = s.runner.sink.Ingest(ctx, ev)
		s.events[i] = nil
	}
	return nil
}
