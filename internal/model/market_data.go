package model

import "marketcore/internal/model/enum"

// Level is one price level of a book side.
type Level struct {
	Price    Decimal
	Quantity Decimal
}

// OrderBook is the canonical book view: bids descending, asks ascending.
type OrderBook struct {
	Exchange      Exchange
	Symbol        Symbol
	Bids          []Level
	Asks          []Level
	TimestampNano int64
	RecvTsNano    int64
	Sequence      uint64
	Checksum      int64
	// Quality is in [0, 100].
	Quality float64
	// Desynced is set after a sequence gap until the next full snapshot.
	Desynced bool
}

func (ob OrderBook) BestBid() (Level, bool) {
	if len(ob.Bids) == 0 {
		return Level{}, false
	}
	return ob.Bids[0], true
}

func (ob OrderBook) BestAsk() (Level, bool) {
	if len(ob.Asks) == 0 {
		return Level{}, false
	}
	return ob.Asks[0], true
}

// Mid returns the average of the best prices, or false when a side is empty.
func (ob OrderBook) Mid() (float64, bool) {
	bid, okBid := ob.BestBid()
	ask, okAsk := ob.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return (bid.Price.Float64() + ask.Price.Float64()) / 2, true
}

// IsCrossed reports best bid >= best ask.
func (ob OrderBook) IsCrossed() bool {
	bid, okBid := ob.BestBid()
	ask, okAsk := ob.BestAsk()
	return okBid && okAsk && bid.Price.Cmp(ask.Price) >= 0
}

// DepthVolume sums the quantity of the first n levels of both sides.
func (ob OrderBook) DepthVolume(n int) float64 {
	var total float64
	for i := 0; i < len(ob.Bids) && i < n; i++ {
		total += ob.Bids[i].Quantity.Float64()
	}
	for i := 0; i < len(ob.Asks) && i < n; i++ {
		total += ob.Asks[i].Quantity.Float64()
	}
	return total
}

// Trade is a normalized public trade.
type Trade struct {
	Exchange      Exchange
	Symbol        Symbol
	Price         Decimal
	Quantity      Decimal
	Side          enum.Side
	TradeID       string
	TimestampNano int64
}

// RawSide holds levels as parallel columns so they can be cleaned in bulk.
type RawSide struct {
	Prices     []float64
	Quantities []float64
}

func (s *RawSide) Append(price, qty float64) {
	s.Prices = append(s.Prices, price)
	s.Quantities = append(s.Quantities, qty)
}

func (s RawSide) Len() int {
	return min(len(s.Prices), len(s.Quantities))
}

// Event is the adapter output consumed by the processing stage.
type Event struct {
	Kind        enum.EventKind
	Exchange    Exchange
	Symbol      Symbol
	EventTsNano int64
	RecvTsNano  int64
	// Sequence is the exchange update id, zero when the venue has none.
	Sequence uint64
	// PrevSequence is the venue's first/previous update id for gap detection.
	PrevSequence uint64
	Checksum     int64
	Bids         RawSide
	Asks         RawSide
	Trade        Trade
}

// Timestamp prefers the exchange time and falls back to the receive time.
func (e *Event) Timestamp() int64 {
	if e.EventTsNano > 0 {
		return e.EventTsNano
	}
	return e.RecvTsNano
}
