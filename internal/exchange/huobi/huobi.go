package huobi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/yanun0323/errors"

	"marketcore/internal/exchange"
	"marketcore/internal/model"
	"marketcore/internal/model/enum"
	"marketcore/pkg/exception"
	"marketcore/pkg/scanner"
	"marketcore/pkg/websocket"
)

const (
	Name = "huobi"

	DefaultWebSocket = "wss://api.huobi.pro/ws"
	DefaultREST      = "https://api.huobi.pro"

	depthTopicSuffix = ".depth.step0"
	tradeTopicSuffix = ".trade.detail"
	topicPrefix      = "market."

	maxFrame = 4 << 20
)

var (
	keyPing = []byte(`"ping"`)
	keyCh   = []byte(`"ch"`)
)

var exchangeID = model.NewExchange(Name)

var readers sync.Pool

func market(s model.Symbol) string {
	return strings.ToLower(s.Concat())
}

// Adapter speaks the Huobi market websocket protocol; every frame is gzip compressed.
type Adapter struct{}

func New() *Adapter {
	return &Adapter{}
}

func (*Adapter) Exchange() model.Exchange {
	return exchangeID
}

// Decode inflates binary frames into text.
func (*Adapter) Decode(msg exchange.Message) (exchange.Message, error) {
	if msg.Type != websocket.MessageBinary {
		return msg, nil
	}
	out, err := gunzip(msg.Payload)
	if err != nil {
		return exchange.Message{}, errors.Wrap(exception.ErrParse, err.Error()).With("exchange", Name)
	}
	return exchange.TextMessage(out), nil
}

func gunzip(payload []byte) ([]byte, error) {
	src := bytes.NewReader(payload)
	zr, _ := readers.Get().(*gzip.Reader)
	if zr == nil {
		var err error
		if zr, err = gzip.NewReader(src); err != nil {
			return nil, err
		}
	} else if err := zr.Reset(src); err != nil {
		readers.Put(zr)
		return nil, err
	}
	defer readers.Put(zr)

	out, err := io.ReadAll(io.LimitReader(zr, maxFrame))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func topic(sub model.SubscriptionDetail) (string, error) {
	switch sub.Channel {
	case enum.ChannelOrderBook:
		return topicPrefix + market(sub.Symbol) + depthTopicSuffix, nil
	case enum.ChannelTrade:
		return topicPrefix + market(sub.Symbol) + tradeTopicSuffix, nil
	default:
		return "", errors.Wrap(exception.ErrUnsupportedChannel, "huobi topic").With("channel", sub.Channel.String())
	}
}

// BuildSubscriptionMessages sends one sub request per topic.
func (*Adapter) BuildSubscriptionMessages(subs []model.SubscriptionDetail) ([]exchange.Message, error) {
	msgs := make([]exchange.Message, 0, len(subs))
	for i, sub := range subs {
		t, err := topic(sub)
		if err != nil {
			return nil, err
		}
		dst := make([]byte, 0, 32+len(t))
		dst = append(dst, `{"sub":"`...)
		dst = append(dst, t...)
		dst = append(dst, `","id":"`...)
		dst = strconv.AppendInt(dst, int64(i+1), 10)
		dst = append(dst, `"}`...)
		msgs = append(msgs, exchange.TextMessage(dst))
	}
	return msgs, nil
}

type depthTick struct {
	Bids    [][]float64 `json:"bids"`
	Asks    [][]float64 `json:"asks"`
	Version uint64      `json:"version"`
	Ts      int64       `json:"ts"`
}

type depthPush struct {
	Ch     string    `json:"ch"`
	Status string    `json:"status"`
	Ts     int64     `json:"ts"`
	Tick   depthTick `json:"tick"`
}

type tradeData struct {
	TradeID   int64   `json:"tradeId"`
	Ts        int64   `json:"ts"`
	Amount    float64 `json:"amount"`
	Price     float64 `json:"price"`
	Direction string  `json:"direction"`
}

type tradePush struct {
	Ch   string `json:"ch"`
	Ts   int64  `json:"ts"`
	Tick struct {
		Data []tradeData `json:"data"`
	} `json:"tick"`
}

func (a *Adapter) ParseMessage(dst []*model.Event, msg exchange.Message, subs []model.SubscriptionDetail, recvTsNano int64) ([]*model.Event, error) {
	msg, err := a.Decode(msg)
	if err != nil {
		return dst, err
	}
	if msg.Type != websocket.MessageText || a.IsHeartbeat(msg) {
		return dst, nil
	}

	ch, ok := scanner.ScanStringField(msg.Payload, keyCh)
	if !ok {
		// {"id":"1","status":"ok","subbed":"..."}
		return dst, nil
	}
	name, ok := strings.CutPrefix(string(ch), topicPrefix)
	if !ok {
		return dst, nil
	}

	switch {
	case strings.HasSuffix(name, depthTopicSuffix):
		sym, ok := exchange.MatchSymbol(subs, strings.TrimSuffix(name, depthTopicSuffix), market)
		if !ok {
			return dst, nil
		}
		var p depthPush
		if err := exchange.Unmarshal(Name, msg.Payload, &p); err != nil {
			return dst, err
		}
		ev, err := depthEvent(sym, p.Tick, p.Ts, recvTsNano)
		if err != nil {
			return dst, err
		}
		return append(dst, ev), nil

	case strings.HasSuffix(name, tradeTopicSuffix):
		sym, ok := exchange.MatchSymbol(subs, strings.TrimSuffix(name, tradeTopicSuffix), market)
		if !ok {
			return dst, nil
		}
		var p tradePush
		if err := exchange.Unmarshal(Name, msg.Payload, &p); err != nil {
			return dst, err
		}
		for _, d := range p.Tick.Data {
			price, okP := model.DecimalFromFloat(d.Price, model.MaxScale/2)
			qty, okQ := model.DecimalFromFloat(d.Amount, model.MaxScale/2)
			if !okP || !okQ {
				return dst, errors.Wrap(exception.ErrParse, "trade number").With("exchange", Name)
			}
			side := enum.SideBid
			if d.Direction == "sell" {
				side = enum.SideAsk
			}
			ts := d.Ts * 1_000_000
			dst = append(dst, &model.Event{
				Kind:        enum.EventTrade,
				Exchange:    exchangeID,
				Symbol:      sym,
				EventTsNano: ts,
				RecvTsNano:  recvTsNano,
				Trade: model.Trade{
					Exchange:      exchangeID,
					Symbol:        sym,
					Price:         price,
					Quantity:      qty,
					Side:          side,
					TradeID:       strconv.FormatInt(d.TradeID, 10),
					TimestampNano: ts,
				},
			})
		}
		return dst, nil
	}
	return dst, nil
}

// step0 pushes are full refreshes of the top of book.
func depthEvent(sym model.Symbol, tick depthTick, fallbackTs, recvTsNano int64) (*model.Event, error) {
	ts := tick.Ts
	if ts == 0 {
		ts = fallbackTs
	}
	ev := &model.Event{
		Kind:        enum.EventBookSnapshot,
		Exchange:    exchangeID,
		Symbol:      sym,
		EventTsNano: ts * 1_000_000,
		RecvTsNano:  recvTsNano,
		Sequence:    tick.Version,
	}
	if err := appendFloatLevels(&ev.Bids, tick.Bids); err != nil {
		return nil, err
	}
	if err := appendFloatLevels(&ev.Asks, tick.Asks); err != nil {
		return nil, err
	}
	return ev, nil
}

func appendFloatLevels(side *model.RawSide, levels [][]float64) error {
	for _, l := range levels {
		if len(l) < 2 {
			return errors.Wrap(exception.ErrParse, "short level").With("exchange", Name)
		}
		side.Append(l[0], l[1])
	}
	return nil
}

// IsHeartbeat matches {"ping": n}, compressed or not.
func (a *Adapter) IsHeartbeat(msg exchange.Message) bool {
	msg, err := a.Decode(msg)
	if err != nil || msg.Type != websocket.MessageText {
		return false
	}
	_, ok := scanner.ScanUintField(msg.Payload, keyPing)
	return ok
}

// HeartbeatResponse echoes the ping value back as {"pong": n}.
func (a *Adapter) HeartbeatResponse(msg exchange.Message) (exchange.Message, bool) {
	msg, err := a.Decode(msg)
	if err != nil || msg.Type != websocket.MessageText {
		return exchange.Message{}, false
	}
	v, ok := scanner.ScanUintField(msg.Payload, keyPing)
	if !ok {
		return exchange.Message{}, false
	}
	dst := make([]byte, 0, 32)
	dst = append(dst, `{"pong":`...)
	dst = strconv.AppendUint(dst, v, 10)
	dst = append(dst, '}')
	return exchange.TextMessage(dst), true
}

func (*Adapter) InitialSnapshot(ctx context.Context, client *http.Client, sub model.SubscriptionDetail, restEndpoint string) (*model.Event, error) {
	if sub.Channel != enum.ChannelOrderBook {
		return nil, nil
	}
	if restEndpoint == "" {
		restEndpoint = DefaultREST
	}
	q := url.Values{}
	q.Set("symbol", market(sub.Symbol))
	q.Set("type", "step0")

	var p depthPush
	if err := exchange.FetchJSON(ctx, client, exchange.JoinURL(restEndpoint, "/market/depth?"+q.Encode()), &p); err != nil {
		return nil, err
	}
	if p.Status != "ok" {
		return nil, errors.Wrap(exception.ErrSnapshotUnavailable, "huobi status").With("status", p.Status)
	}
	ev, err := depthEvent(sub.Symbol, p.Tick, p.Ts, time.Now().UnixNano())
	if err != nil {
		return nil, err
	}
	return ev, nil
}
