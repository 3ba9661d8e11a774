package okx

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/yanun0323/errors"

	"marketcore/internal/exchange"
	"marketcore/internal/model"
	"marketcore/internal/model/enum"
	"marketcore/pkg/exception"
	"marketcore/pkg/scanner"
	"marketcore/pkg/websocket"
)

const (
	Name = "okx"

	DefaultWebSocket = "wss://ws.okx.com:8443/ws/v5/public"
	DefaultREST      = "https://www.okx.com"

	channelBooks  = "books"
	channelTrades = "trades"

	pingInterval  = 20 * time.Second
	snapshotDepth = "400"
)

var (
	keyEvent   = []byte(`"event"`)
	keyChannel = []byte(`"channel"`)

	pingPayload = []byte("ping")
	pongPayload = []byte("pong")

	eventError = []byte("error")
)

var exchangeID = model.NewExchange(Name)

func instID(s model.Symbol) string {
	return s.Join("-")
}

// Adapter speaks the OKX v5 public websocket protocol.
type Adapter struct{}

func New() *Adapter {
	return &Adapter{}
}

func (*Adapter) Exchange() model.Exchange {
	return exchangeID
}

func channelName(ch enum.Channel) (string, error) {
	switch ch {
	case enum.ChannelOrderBook:
		return channelBooks, nil
	case enum.ChannelTrade:
		return channelTrades, nil
	default:
		return "", errors.Wrap(exception.ErrUnsupportedChannel, "okx channel").With("channel", ch.String())
	}
}

func (*Adapter) BuildSubscriptionMessages(subs []model.SubscriptionDetail) ([]exchange.Message, error) {
	if len(subs) == 0 {
		return nil, nil
	}
	dst := make([]byte, 0, 32+48*len(subs))
	dst = append(dst, `{"op":"subscribe","args":[`...)
	for i, sub := range subs {
		channel, err := channelName(sub.Channel)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = append(dst, `{"channel":"`...)
		dst = append(dst, channel...)
		dst = append(dst, `","instId":"`...)
		dst = append(dst, instID(sub.Symbol)...)
		dst = append(dst, `"}`...)
	}
	dst = append(dst, `]}`...)
	return []exchange.Message{exchange.TextMessage(dst)}, nil
}

type arg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type bookData struct {
	Asks      [][]string `json:"asks"`
	Bids      [][]string `json:"bids"`
	Ts        string     `json:"ts"`
	Checksum  int64      `json:"checksum"`
	PrevSeqID int64      `json:"prevSeqId"`
	SeqID     int64      `json:"seqId"`
}

type bookPush struct {
	Arg    arg        `json:"arg"`
	Action string     `json:"action"`
	Data   []bookData `json:"data"`
}

type tradeData struct {
	InstID  string `json:"instId"`
	TradeID string `json:"tradeId"`
	Px      string `json:"px"`
	Sz      string `json:"sz"`
	Side    string `json:"side"`
	Ts      string `json:"ts"`
}

type tradePush struct {
	Arg  arg         `json:"arg"`
	Data []tradeData `json:"data"`
}

type eventPush struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
}

func (a *Adapter) ParseMessage(dst []*model.Event, msg exchange.Message, subs []model.SubscriptionDetail, recvTsNano int64) ([]*model.Event, error) {
	if msg.Type != websocket.MessageText || a.IsHeartbeat(msg) {
		return dst, nil
	}

	if event, ok := scanner.ScanStringField(msg.Payload, keyEvent); ok {
		if !scanner.Equal(event, eventError) {
			return dst, nil
		}
		var p eventPush
		if err := exchange.Unmarshal(Name, msg.Payload, &p); err != nil {
			return dst, err
		}
		return dst, errors.Wrap(exception.ErrWebSocketProtocol, p.Msg).With("code", p.Code)
	}

	channel, ok := scanner.ScanStringField(msg.Payload, keyChannel)
	if !ok {
		return dst, nil
	}
	switch string(channel) {
	case channelBooks:
		return parseBooks(dst, msg.Payload, subs, recvTsNano)
	case channelTrades:
		return parseTrades(dst, msg.Payload, subs, recvTsNano)
	}
	return dst, nil
}

func parseBooks(dst []*model.Event, payload []byte, subs []model.SubscriptionDetail, recvTsNano int64) ([]*model.Event, error) {
	var p bookPush
	if err := exchange.Unmarshal(Name, payload, &p); err != nil {
		return dst, err
	}
	sym, ok := exchange.MatchSymbol(subs, p.Arg.InstID, instID)
	if !ok {
		return dst, nil
	}
	kind := enum.EventBookDelta
	if p.Action == "snapshot" {
		kind = enum.EventBookSnapshot
	}
	for _, d := range p.Data {
		ts, err := exchange.ParseMillis(Name, d.Ts)
		if err != nil {
			return dst, err
		}
		ev := &model.Event{
			Kind:        kind,
			Exchange:    exchangeID,
			Symbol:      sym,
			EventTsNano: ts,
			RecvTsNano:  recvTsNano,
			Checksum:    d.Checksum,
		}
		if d.SeqID > 0 {
			ev.Sequence = uint64(d.SeqID)
		}
		if d.PrevSeqID > 0 {
			ev.PrevSequence = uint64(d.PrevSeqID) + 1
		}
		if err := exchange.AppendStringLevels(&ev.Bids, Name, d.Bids); err != nil {
			return dst, err
		}
		if err := exchange.AppendStringLevels(&ev.Asks, Name, d.Asks); err != nil {
			return dst, err
		}
		dst = append(dst, ev)
	}
	return dst, nil
}

func parseTrades(dst []*model.Event, payload []byte, subs []model.SubscriptionDetail, recvTsNano int64) ([]*model.Event, error) {
	var p tradePush
	if err := exchange.Unmarshal(Name, payload, &p); err != nil {
		return dst, err
	}
	sym, ok := exchange.MatchSymbol(subs, p.Arg.InstID, instID)
	if !ok {
		return dst, nil
	}
	for _, d := range p.Data {
		ts, err := exchange.ParseMillis(Name, d.Ts)
		if err != nil {
			return dst, err
		}
		price, err := model.ParseDecimal(d.Px)
		if err != nil {
			return dst, err
		}
		qty, err := model.ParseDecimal(d.Sz)
		if err != nil {
			return dst, err
		}
		side := enum.SideBid
		if d.Side == "sell" {
			side = enum.SideAsk
		}
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
				TradeID:       d.TradeID,
				TimestampNano: ts,
			},
		})
	}
	return dst, nil
}

// IsHeartbeat matches the bare text ping/pong frames.
func (*Adapter) IsHeartbeat(msg exchange.Message) bool {
	if msg.Type != websocket.MessageText {
		return false
	}
	body := scanner.TrimSpace(msg.Payload)
	return scanner.Equal(body, pingPayload) || scanner.Equal(body, pongPayload)
}

func (*Adapter) HeartbeatResponse(msg exchange.Message) (exchange.Message, bool) {
	if msg.Type != websocket.MessageText || !scanner.Equal(scanner.TrimSpace(msg.Payload), pingPayload) {
		return exchange.Message{}, false
	}
	return exchange.TextMessage(pongPayload), true
}

// Ping returns the keepalive OKX expects when the stream is quiet.
func (*Adapter) Ping() (exchange.Message, time.Duration) {
	return exchange.TextMessage(pingPayload), pingInterval
}

type restBooks struct {
	Code string     `json:"code"`
	Msg  string     `json:"msg"`
	Data []bookData `json:"data"`
}

func (*Adapter) InitialSnapshot(ctx context.Context, client *http.Client, sub model.SubscriptionDetail, restEndpoint string) (*model.Event, error) {
	if sub.Channel != enum.ChannelOrderBook {
		return nil, nil
	}
	if restEndpoint == "" {
		restEndpoint = DefaultREST
	}
	q := url.Values{}
	q.Set("instId", instID(sub.Symbol))
	q.Set("sz", snapshotDepth)

	var p restBooks
	if err := exchange.FetchJSON(ctx, client, exchange.JoinURL(restEndpoint, "/api/v5/market/books?"+q.Encode()), &p); err != nil {
		return nil, err
	}
	if p.Code != "0" || len(p.Data) == 0 {
		return nil, errors.Wrap(exception.ErrSnapshotUnavailable, p.Msg).With("code", p.Code)
	}
	d := p.Data[0]
	ts, err := exchange.ParseMillis(Name, d.Ts)
	if err != nil {
		return nil, err
	}
	ev := &model.Event{
		Kind:        enum.EventBookSnapshot,
		Exchange:    exchangeID,
		Symbol:      sub.Symbol,
		EventTsNano: ts,
		RecvTsNano:  time.Now().UnixNano(),
	}
	if err := exchange.AppendStringLevels(&ev.Bids, Name, d.Bids); err != nil {
		return nil, err
	}
	if err := exchange.AppendStringLevels(&ev.Asks, Name, d.Asks); err != nil {
		return nil, err
	}
	return ev, nil
}
