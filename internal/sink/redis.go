// Package sink forwards pipeline output to Redis.
package sink

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/errors"

	"marketcore/internal/model"
	"marketcore/pkg/exception"
)

const (
	defaultPrefix      = "marketcore"
	defaultSnapshotTTL = 10 * time.Second
)

type level struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

type bookTop struct {
	Exchange  string  `json:"exchange"`
	Timestamp int64   `json:"ts"`
	Sequence  uint64  `json:"seq"`
	BestBid   *level  `json:"best_bid,omitempty"`
	BestAsk   *level  `json:"best_ask,omitempty"`
	Quality   float64 `json:"quality"`
	Desynced  bool    `json:"desynced,omitempty"`
}

type snapshotMessage struct {
	Symbol      string    `json:"symbol"`
	Timestamp   int64     `json:"ts"`
	WeightedMid float64   `json:"weighted_mid"`
	BidVolume   float64   `json:"bid_volume"`
	AskVolume   float64   `json:"ask_volume"`
	Quality     float64   `json:"quality"`
	Books       []bookTop `json:"books"`
}

type resultMessage struct {
	ID        string             `json:"id"`
	Symbol    string             `json:"symbol"`
	Timestamp int64              `json:"ts"`
	Check     string             `json:"check"`
	Severity  string             `json:"severity"`
	Message   string             `json:"message"`
	Exchanges []string           `json:"exchanges"`
	Values    map[string]float64 `json:"values"`
}

func encodeSnapshot(snap model.NormalizedSnapshot) ([]byte, error) {
	msg := snapshotMessage{
		Symbol:      snap.Symbol.String(),
		Timestamp:   snap.TimestampNano,
		WeightedMid: snap.WeightedMid,
		BidVolume:   snap.BidVolume,
		AskVolume:   snap.AskVolume,
		Quality:     snap.Quality,
		Books:       make([]bookTop, 0, len(snap.Books)),
	}
	for _, ob := range snap.Books {
		top := bookTop{
			Exchange:  ob.Exchange.String(),
			Timestamp: ob.TimestampNano,
			Sequence:  ob.Sequence,
			Quality:   ob.Quality,
			Desynced:  ob.Desynced,
		}
		if bid, ok := ob.BestBid(); ok {
			top.BestBid = &level{Price: bid.Price.Float64(), Quantity: bid.Quantity.Float64()}
		}
		if ask, ok := ob.BestAsk(); ok {
			top.BestAsk = &level{Price: ask.Price.Float64(), Quantity: ask.Quantity.Float64()}
		}
		msg.Books = append(msg.Books, top)
	}
	return sonic.Marshal(msg)
}

func encodeResult(r model.ConsistencyResult) ([]byte, error) {
	names := make([]string, len(r.Exchanges))
	for i, ex := range r.Exchanges {
		names[i] = ex.String()
	}
	return sonic.Marshal(resultMessage{
		ID:        r.ID,
		Symbol:    r.Symbol.String(),
		Timestamp: r.TimestampNano,
		Check:     r.Check.String(),
		Severity:  r.Severity.String(),
		Message:   r.Message,
		Exchanges: names,
		Values:    r.Values,
	})
}

type Option struct {
	// Prefix namespaces channels and keys: <prefix>:snapshot:<symbol>, <prefix>:results.
	Prefix      string
	SnapshotTTL time.Duration
}

// Redis publishes snapshots and results and keeps the latest snapshot per symbol.
type Redis struct {
	client redis.Cmdable
	opt    Option
}

func NewRedis(client redis.Cmdable, opt Option) (*Redis, error) {
	if client == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "redis client")
	}
	if opt.Prefix == "" {
		opt.Prefix = defaultPrefix
	}
	if opt.SnapshotTTL <= 0 {
		opt.SnapshotTTL = defaultSnapshotTTL
	}
	return &Redis{client: client, opt: opt}, nil
}

func (r *Redis) SnapshotChannel(symbol model.Symbol) string {
	return r.opt.Prefix + ":snapshot:" + symbol.String()
}

func (r *Redis) ResultChannel() string {
	return r.opt.Prefix + ":results"
}

func (r *Redis) PublishSnapshot(ctx context.Context, snap model.NormalizedSnapshot) error {
	payload, err := encodeSnapshot(snap)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot").With("symbol", snap.Symbol.String())
	}
	key := r.SnapshotChannel(snap.Symbol)
	_, err = r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Publish(ctx, key, payload)
		p.Set(ctx, key, payload, r.opt.SnapshotTTL)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "redis publish snapshot").With("key", key)
	}
	return nil
}

// SaveResults publishes every result on the results channel.
func (r *Redis) SaveResults(ctx context.Context, results []model.ConsistencyResult) error {
	if len(results) == 0 {
		return nil
	}
	payloads := make([][]byte, 0, len(results))
	for _, res := range results {
		payload, err := encodeResult(res)
		if err != nil {
			return errors.Wrap(err, "marshal result").With("id", res.ID)
		}
		payloads = append(payloads, payload)
	}

	channel := r.ResultChannel()
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, payload := range payloads {
			p.Publish(ctx, channel, payload)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "redis publish results").With("count", len(payloads))
	}
	return nil
}
