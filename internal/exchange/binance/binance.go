package binance

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
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
	Name = "binance"

	DefaultWebSocket = "wss://stream.binance.com:9443/ws"
	DefaultREST      = "https://api.binance.com"

	depthStreamSuffix = "@depth@100ms"
	tradeStreamSuffix = "@trade"
	snapshotLimit     = 1000
)

var (
	keyEvent = []byte(`"e"`)

	eventDepth = []byte("depthUpdate")
	eventTrade = []byte("trade")
)

var exchangeID = model.NewExchange(Name)

// Adapter speaks the Binance spot raw stream protocol.
type Adapter struct{}

func New() *Adapter {
	return &Adapter{}
}

func (*Adapter) Exchange() model.Exchange {
	return exchangeID
}

func streamName(sub model.SubscriptionDetail) (string, error) {
	market := strings.ToLower(sub.Symbol.Concat())
	switch sub.Channel {
	case enum.ChannelOrderBook:
		return market + depthStreamSuffix, nil
	case enum.ChannelTrade:
		return market + tradeStreamSuffix, nil
	default:
		return "", errors.Wrap(exception.ErrUnsupportedChannel, "binance stream").With("channel", sub.Channel.String())
	}
}

// BuildSubscriptionMessages sends one SUBSCRIBE carrying every stream.
func (*Adapter) BuildSubscriptionMessages(subs []model.SubscriptionDetail) ([]exchange.Message, error) {
	if len(subs) == 0 {
		return nil, nil
	}
	dst := make([]byte, 0, 64+32*len(subs))
	dst = append(dst, `{"method":"SUBSCRIBE","params":[`...)
	for i, sub := range subs {
		stream, err := streamName(sub)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = append(dst, '"')
		dst = append(dst, stream...)
		dst = append(dst, '"')
	}
	dst = append(dst, `],"id":1}`...)
	return []exchange.Message{exchange.TextMessage(dst)}, nil
}

type depthUpdate struct {
	Event     string     `json:"e"`
	EventTime int64      `json:"E"`
	Symbol    string     `json:"s"`
	FirstID   uint64     `json:"U"`
	FinalID   uint64     `json:"u"`
	Bids      [][]string `json:"b"`
	Asks      [][]string `json:"a"`
}

type trade struct {
	Event        string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	BuyerIsMaker bool   `json:"m"`
}

func (a *Adapter) ParseMessage(dst []*model.Event, msg exchange.Message, subs []model.SubscriptionDetail, recvTsNano int64) ([]*model.Event, error) {
	if msg.Type != websocket.MessageText {
		return dst, nil
	}
	// Subscription acks ({"result":null,"id":1}) carry no event type.
	event, ok := scanner.ScanStringField(msg.Payload, keyEvent)
	if !ok {
		return dst, nil
	}

	switch {
	case scanner.Equal(event, eventDepth):
		var p depthUpdate
		if err := exchange.Unmarshal(Name, msg.Payload, &p); err != nil {
			return dst, err
		}
		sym, ok := exchange.MatchSymbol(subs, p.Symbol, model.Symbol.Concat)
		if !ok {
			return dst, nil
		}
		ev := &model.Event{
			Kind:         enum.EventBookDelta,
			Exchange:     exchangeID,
			Symbol:       sym,
			EventTsNano:  p.EventTime * 1_000_000,
			RecvTsNano:   recvTsNano,
			Sequence:     p.FinalID,
			PrevSequence: p.FirstID,
		}
		if err := exchange.AppendStringLevels(&ev.Bids, Name, p.Bids); err != nil {
			return dst, err
		}
		if err := exchange.AppendStringLevels(&ev.Asks, Name, p.Asks); err != nil {
			return dst, err
		}
		return append(dst, ev), nil

	case scanner.Equal(event, eventTrade):
		var p trade
		if err := exchange.Unmarshal(Name, msg.Payload, &p); err != nil {
			return dst, err
		}
		sym, ok := exchange.MatchSymbol(subs, p.Symbol, model.Symbol.Concat)
		if !ok {
			return dst, nil
		}
		price, err := model.ParseDecimal(p.Price)
		if err != nil {
			return dst, err
		}
		qty, err := model.ParseDecimal(p.Quantity)
		if err != nil {
			return dst, err
		}
		side := enum.SideBid
		if p.BuyerIsMaker {
			side = enum.SideAsk
		}
		ts := p.TradeTime * 1_000_000
		return append(dst, &model.Event{
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
				TradeID:       strconv.FormatInt(p.TradeID, 10),
				TimestampNano: ts,
			},
		}), nil
	}
	return dst, nil
}

// IsHeartbeat reports protocol pings; Binance sends no application level keepalive.
func (*Adapter) IsHeartbeat(msg exchange.Message) bool {
	return msg.Type == websocket.MessagePing
}

func (*Adapter) HeartbeatResponse(msg exchange.Message) (exchange.Message, bool) {
	if msg.Type != websocket.MessagePing {
		return exchange.Message{}, false
	}
	return exchange.Message{Type: websocket.MessagePong, Payload: msg.Payload}, true
}

type depthSnapshot struct {
	LastUpdateID uint64     `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

func (*Adapter) InitialSnapshot(ctx context.Context, client *http.Client, sub model.SubscriptionDetail, restEndpoint string) (*model.Event, error) {
	if sub.Channel != enum.ChannelOrderBook {
		return nil, nil
	}
	if restEndpoint == "" {
		restEndpoint = DefaultREST
	}
	q := url.Values{}
	q.Set("symbol", sub.Symbol.Concat())
	q.Set("limit", strconv.Itoa(snapshotLimit))

	var p depthSnapshot
	if err := exchange.FetchJSON(ctx, client, exchange.JoinURL(restEndpoint, "/api/v3/depth?"+q.Encode()), &p); err != nil {
		return nil, err
	}
	now := time.Now().UnixNano()
	ev := &model.Event{
		Kind:        enum.EventBookSnapshot,
		Exchange:    exchangeID,
		Symbol:      sub.Symbol,
		EventTsNano: now,
		RecvTsNano:  now,
		Sequence:    p.LastUpdateID,
	}
	if err := exchange.AppendStringLevels(&ev.Bids, Name, p.Bids); err != nil {
		return nil, err
	}
	if err := exchange.AppendStringLevels(&ev.Asks, Name, p.Asks); err != nil {
		return nil, err
	}
	return ev, nil
}
