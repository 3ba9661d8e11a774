// Package registry constructs exchange adapters by name.
package registry

import (
	"slices"
	"strings"

	"github.com/yanun0323/errors"

	"marketcore/internal/exchange"
	"marketcore/internal/exchange/binance"
	"marketcore/internal/exchange/bybit"
	"marketcore/internal/exchange/huobi"
	"marketcore/internal/exchange/okx"
	"marketcore/pkg/exception"
)

type entry struct {
	build func() exchange.Adapter
	ws    string
	rest  string
	// bootstrap marks diff-only book streams that never push a full book.
	bootstrap bool
}

var entries = map[string]entry{
	binance.Name: {func() exchange.Adapter { return binance.New() }, binance.DefaultWebSocket, binance.DefaultREST, true},
	okx.Name:     {func() exchange.Adapter { return okx.New() }, okx.DefaultWebSocket, okx.DefaultREST, false},
	huobi.Name:   {func() exchange.Adapter { return huobi.New() }, huobi.DefaultWebSocket, huobi.DefaultREST, false},
	bybit.Name:   {func() exchange.Adapter { return bybit.New() }, bybit.DefaultWebSocket, bybit.DefaultREST, false},
}

// New returns a fresh adapter for the named exchange.
func New(name string) (exchange.Adapter, error) {
	e, ok := entries[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, errors.Wrap(exception.ErrUnsupportedExchange, "new adapter").With("exchange", name)
	}
	return e.build(), nil
}

// Names lists the supported exchanges in lexical order.
func Names() []string {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultEndpoints returns the public websocket and REST endpoints of the named exchange.
func DefaultEndpoints(name string) (ws, rest string, ok bool) {
	e, ok := entries[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", "", false
	}
	return e.ws, e.rest, true
}

// RequiresBootstrap reports whether order-book streams of the named exchange
// need a REST snapshot to ever hold a full book.
func RequiresBootstrap(name string) bool {
	return entries[strings.ToLower(strings.TrimSpace(name))].bootstrap
}
