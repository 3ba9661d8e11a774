package model

import "marketcore/internal/model/enum"

// NormalizedSnapshot is the fused cross-exchange view of one symbol.
type NormalizedSnapshot struct {
	Symbol        Symbol
	TimestampNano int64
	Books         []OrderBook
	WeightedMid   float64
	BidVolume     float64
	AskVolume     float64
	// Quality is in [0, 1].
	Quality float64
}

// ConsistencyResult is one finding of the consistency checker.
type ConsistencyResult struct {
	ID            string
	Symbol        Symbol
	TimestampNano int64
	Check         enum.CheckType
	Severity      enum.Severity
	Message       string
	Exchanges     []Exchange
	Values        map[string]float64
}
