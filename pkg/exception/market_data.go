package exception

import "github.com/yanun0323/errors"

var (
	ErrParse               = errors.New("market data: parse failed")
	ErrUnsupportedExchange = errors.New("market data: unsupported exchange")
	ErrUnsupportedChannel  = errors.New("market data: unsupported channel")
	ErrInvalidSymbol       = errors.New("market data: invalid symbol")
	ErrSnapshotUnavailable = errors.New("market data: snapshot unavailable")
)

// Staging errors
var (
	ErrStagingFull    = errors.New("staging: buffer full")
	ErrStagingTimeout = errors.New("staging: push timed out")
)
