package bybit

import (
	"context"
	"net/http"
	"net/url"
	"strings"
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
	Name = "bybit"

	DefaultWebSocket = "wss://stream.bybit.com/v5/public/spot"
	DefaultREST      = "https://api.bybit.com"

	orderbookPrefix = "orderbook.50."
	tradePrefix     = "publicTrade."

	pingInterval  = 20 * time.Second
	snapshotLimit = "200"
)

var (
	keyTopic = []byte(`"topic"`)
	keyOp    = []byte(`"op"`)

	opPing = []byte("ping")
	opPong = []byte("pong")

	pingPayload = []byte(`{"op":"ping"}`)
)

var exchangeID = model.NewExchange(Name)

// Adapter speaks the Bybit v5 public spot protocol.
type Adapter struct{}

func New() *Adapter {
	return &Adapter{}
}

func (*Adapter) Exchange() model.Exchange {
	return exchangeID
}

func topic(sub model.SubscriptionDetail) (string, error) {
	switch sub.Channel {
	case enum.ChannelOrderBook:
		return orderbookPrefix + sub.Symbol.Concat(), nil
	case enum.ChannelTrade:
		return tradePrefix + sub.Symbol.Concat(), nil
	default:
		return "", errors.Wrap(exception.ErrUnsupportedChannel, "bybit topic").With("channel", sub.Channel.String())
	}
}

func (*Adapter) BuildSubscriptionMessages(subs []model.SubscriptionDetail) ([]exchange.Message, error) {
	if len(subs) == 0 {
		return nil, nil
	}
	dst := make([]byte, 0, 32+32*len(subs))
	dst = append(dst, `{"op":"subscribe","args":[`...)
	for i, sub := range subs {
		t, err := topic(sub)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = append(dst, '"')
		dst = append(dst, t...)
		dst = append(dst, '"')
	}
	dst = append(dst, `]}`...)
	return []exchange.Message{exchange.TextMessage(dst)}, nil
}

type bookData struct {
	Symbol   string     `json:"s"`
	Bids     [][]string `json:"b"`
	Asks     [][]string `json:"a"`
	UpdateID uint64     `json:"u"`
	Seq      uint64     `json:"seq"`
}

type bookPush struct {
	Topic string   `json:"topic"`
	Type  string   `json:"type"`
	Ts    int64    `json:"ts"`
	Data  bookData `json:"data"`
}

type tradeData struct {
	Time    int64  `json:"T"`
	Symbol  string `json:"s"`
	Side    string `json:"S"`
	Volume  string `json:"v"`
	Price   string `json:"p"`
	TradeID string `json:"i"`
}

type tradePush struct {
	Topic string      `json:"topic"`
	Ts    int64       `json:"ts"`
	Data  []tradeData `json:"data"`
}

func (a *Adapter) ParseMessage(dst []*model.Event, msg exchange.Message, subs []model.SubscriptionDetail, recvTsNano int64) ([]*model.Event, error) {
	if msg.Type != websocket.MessageText {
		return dst, nil
	}
	t, ok := scanner.ScanStringField(msg.Payload, keyTopic)
	if !ok {
		// op responses: subscribe acks and pongs
		return dst, nil
	}
	name := string(t)

	switch {
	case strings.HasPrefix(name, orderbookPrefix):
		sym, ok := exchange.MatchSymbol(subs, strings.TrimPrefix(name, orderbookPrefix), model.Symbol.Concat)
		if !ok {
			return dst, nil
		}
		var p bookPush
		if err := exchange.Unmarshal(Name, msg.Payload, &p); err != nil {
			return dst, err
		}
		kind := enum.EventBookDelta
		// u == 1 means the service restarted and the push is a fresh snapshot.
		if p.Type == "snapshot" || p.Data.UpdateID == 1 {
			kind = enum.EventBookSnapshot
		}
		ev := &model.Event{
			Kind:        kind,
			Exchange:    exchangeID,
			Symbol:      sym,
			EventTsNano: p.Ts * 1_000_000,
			RecvTsNano:  recvTsNano,
			Sequence:    p.Data.UpdateID,
		}
		if err := exchange.AppendStringLevels(&ev.Bids, Name, p.Data.Bids); err != nil {
			return dst, err
		}
		if err := exchange.AppendStringLevels(&ev.Asks, Name, p.Data.Asks); err != nil {
			return dst, err
		}
		return append(dst, ev), nil

	case strings.HasPrefix(name, tradePrefix):
		sym, ok := exchange.MatchSymbol(subs, strings.TrimPrefix(name, tradePrefix), model.Symbol.Concat)
		if !ok {
			return dst, nil
		}
		var p tradePush
		if err := exchange.Unmarshal(Name, msg.Payload, &p); err != nil {
			return dst, err
		}
		for _, d := range p.Data {
			price, err := model.ParseDecimal(d.Price)
			if err != nil {
				return dst, err
			}
			qty, err := model.ParseDecimal(d.Volume)
			if err != nil {
				return dst, err
			}
			side := enum.SideBid
			if d.Side == "Sell" {
				side = enum.SideAsk
			}
			ts := d.Time * 1_000_000
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
	return dst, nil
}

// IsHeartbeat matches ping requests and pong replies ({"op":"ping"} / {"op":"pong"}
// or {"ret_msg":"pong","op":"ping"}).
func (*Adapter) IsHeartbeat(msg exchange.Message) bool {
	if msg.Type != websocket.MessageText {
		return false
	}
	op, ok := scanner.ScanStringField(msg.Payload, keyOp)
	return ok && (scanner.Equal(op, opPing) || scanner.Equal(op, opPong))
}

// HeartbeatResponse returns nothing: Bybit only expects client pings.
func (*Adapter) HeartbeatResponse(exchange.Message) (exchange.Message, bool) {
	return exchange.Message{}, false
}

func (*Adapter) Ping() (exchange.Message, time.Duration) {
	return exchange.TextMessage(pingPayload), pingInterval
}

type restBook struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Symbol   string     `json:"s"`
		Bids     [][]string `json:"b"`
		Asks     [][]string `json:"a"`
		Ts       int64      `json:"ts"`
		UpdateID uint64     `json:"u"`
	} `json:"result"`
}

func (*Adapter) InitialSnapshot(ctx context.Context, client *http.Client, sub model.SubscriptionDetail, restEndpoint string) (*model.Event, error) {
	if sub.Channel != enum.ChannelOrderBook {
		return nil, nil
	}
	if restEndpoint == "" {
		restEndpoint = DefaultREST
	}
	q := url.Values{}
	q.Set("category", "spot")
	q.Set("symbol", sub.Symbol.Concat())
	q.Set("limit", snapshotLimit)

	var p restBook
	if err := exchange.FetchJSON(ctx, client, exchange.JoinURL(restEndpoint, "/v5/market/orderbook?"+q.Encode()), &p); err != nil {
		return nil, err
	}
	if p.RetCode != 0 {
		return nil, errors.Wrap(exception.ErrSnapshotUnavailable, p.RetMsg).With("code", p.RetCode)
	}
	ev := &model.Event{
		Kind:        enum.EventBookSnapshot,
		Exchange:    exchangeID,
		Symbol:      sub.Symbol,
		EventTsNano: p.Result.Ts * 1_000_000,
		RecvTsNano:  time.Now().UnixNano(),
		Sequence:    p.Result.UpdateID,
	}
	if err := exchange.AppendStringLevels(&ev.Bids, Name, p.Result.Bids); err != nil {
		return nil, err
	}
	if err := exchange.AppendStringLevels(&ev.Asks, Name, p.Result.Asks); err != nil {
		return nil, err
	}
	return ev, nil
}
