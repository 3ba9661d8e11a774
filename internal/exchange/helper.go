package exchange

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"marketcore/internal/model"
	"marketcore/pkg/exception"
)

const maxRestBody = 8 << 20

// MatchSymbol finds the subscribed symbol whose rendered form equals native, ignoring case.
func MatchSymbol(subs []model.SubscriptionDetail, native string, render func(model.Symbol) string) (model.Symbol, bool) {
	for _, sub := range subs {
		if strings.EqualFold(render(sub.Symbol), native) {
			return sub.Symbol, true
		}
	}
	return model.Symbol{}, false
}

// ParseFloat wraps strconv errors into the parse taxonomy. NaN and Inf are
// accepted here and removed by the cleaning stage.
func ParseFloat(exchange, field, s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrap(exception.ErrParse, "parse number").
			With("exchange", exchange).
			With("field", field).
			With("value", s)
	}
	return f, nil
}

// AppendStringLevels parses [price, qty, ...] string tuples into side.
func AppendStringLevels(side *model.RawSide, exchange string, levels [][]string) error {
	for _, l := range levels {
		if len(l) < 2 {
			return errors.Wrap(exception.ErrParse, "short level").With("exchange", exchange)
		}
		price, err := ParseFloat(exchange, "price", l[0])
		if err != nil {
			return err
		}
		qty, err := ParseFloat(exchange, "quantity", l[1])
		if err != nil {
			return err
		}
		side.Append(price, qty)
	}
	return nil
}

// ParseMillis parses a millisecond timestamp string into nanoseconds.
func ParseMillis(exchange, s string) (int64, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Wrap(exception.ErrParse, exchange+" timestamp").With("value", s)
	}
	return ms * 1_000_000, nil
}

// Unmarshal decodes a payload and tags failures as parse errors.
func Unmarshal(exchange string, payload []byte, v any) error {
	if err := sonic.ConfigFastest.Unmarshal(payload, v); err != nil {
		return errors.Wrap(exception.ErrParse, err.Error()).With("exchange", exchange)
	}
	return nil
}

// FetchJSON performs a GET and decodes the JSON body into v.
func FetchJSON(ctx context.Context, client *http.Client, url string, v any) error {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "new request").With("url", url)
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request").With("url", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxRestBody))
		return errors.Wrap(exception.ErrSnapshotUnavailable, "unexpected status").
			With("url", url).
			With("status", resp.StatusCode)
	}

	if err := sonic.ConfigFastest.NewDecoder(io.LimitReader(resp.Body, maxRestBody)).Decode(v); err != nil {
		return errors.Wrap(exception.ErrParse, err.Error()).With("url", url)
	}
	return nil
}

// JoinURL appends path to a REST base endpoint.
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
