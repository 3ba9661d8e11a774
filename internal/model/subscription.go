package model

import (
	"github.com/yanun0323/errors"

	"marketcore/internal/model/enum"
	"marketcore/pkg/exception"
)

// SubscriptionDetail is what an adapter needs to build stream requests.
type SubscriptionDetail struct {
	Symbol  Symbol
	Channel enum.Channel
}

// Subscription is one collection tuple.
type Subscription struct {
	Exchange Exchange
	Symbol   Symbol
	Channel  enum.Channel
}

func NewSubscription(exchange, symbol, channel string) (Subscription, error) {
	sym, err := ParseSymbol(symbol)
	if err != nil {
		return Subscription{}, err
	}
	ch, ok := enum.ParseChannel(channel)
	if !ok {
		return Subscription{}, errors.Wrap(exception.ErrUnsupportedChannel, "parse channel").With("channel", channel)
	}
	ex := NewExchange(exchange)
	if ex.String() == "" {
		return Subscription{}, errors.Wrap(exception.ErrUnsupportedExchange, "empty exchange")
	}
	return Subscription{Exchange: ex, Symbol: sym, Channel: ch}, nil
}

func (s Subscription) Detail() SubscriptionDetail {
	return SubscriptionDetail{Symbol: s.Symbol, Channel: s.Channel}
}

func (s Subscription) String() string {
	return s.Exchange.String() + ":" + s.Symbol.String() + ":" + s.Channel.String()
}
