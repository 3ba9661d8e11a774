package model

import (
	"strings"
	"unique"

	"github.com/yanun0323/errors"

	"marketcore/pkg/exception"
)

// Symbol is an immutable trading pair, normalized to upper case.
type Symbol struct {
	base  string
	quote string
}

func NewSymbol(base, quote string) Symbol {
	return Symbol{
		base:  strings.ToUpper(strings.TrimSpace(base)),
		quote: strings.ToUpper(strings.TrimSpace(quote)),
	}
}

// ParseSymbol accepts BASE/QUOTE, BASE-QUOTE and BASE_QUOTE.
func ParseSymbol(s string) (Symbol, error) {
	idx := strings.IndexAny(s, "/-_")
	if idx <= 0 || idx == len(s)-1 {
		return Symbol{}, errors.Wrap(exception.ErrInvalidSymbol, "missing separator").With("symbol", s)
	}
	sym := NewSymbol(s[:idx], s[idx+1:])
	if !sym.IsValid() {
		return Symbol{}, errors.Wrap(exception.ErrInvalidSymbol, "invalid characters").With("symbol", s)
	}
	return sym, nil
}

func (s Symbol) Base() string  { return s.base }
func (s Symbol) Quote() string { return s.quote }

func (s Symbol) IsZero() bool {
	return s.base == "" && s.quote == ""
}

// IsValid reports whether both legs are non-empty alphanumerics.
func (s Symbol) IsValid() bool {
	return isAlnum(s.base) && isAlnum(s.quote)
}

func (s Symbol) String() string {
	if s.IsZero() {
		return ""
	}
	return s.base + "/" + s.quote
}

// Concat is the separator-less form, BTCUSDT.
func (s Symbol) Concat() string {
	return s.base + s.quote
}

// Join renders the pair with the given separator.
func (s Symbol) Join(sep string) string {
	return s.base + sep + s.quote
}

func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}

// Exchange is an interned, lower case exchange identifier.
type Exchange struct {
	h unique.Handle[string]
}

func NewExchange(name string) Exchange {
	return Exchange{h: unique.Make(strings.ToLower(strings.TrimSpace(name)))}
}

func (e Exchange) IsZero() bool {
	return e == Exchange{}
}

func (e Exchange) String() string {
	if e.IsZero() {
		return ""
	}
	return e.h.Value()
}
