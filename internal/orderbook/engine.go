package orderbook

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"

	"marketcore/internal/model"
	"marketcore/internal/model/enum"
)

// Config describes how books of one symbol are stored. Prices are decimal
// units; a zero or inverted range selects the B-tree book.
type Config struct {
	PriceScale        int
	QuantityScale     int
	MinPrice          float64
	MaxPrice          float64
	Buckets           int
	Slots             int
	Overflow          int
	MaxDepth          int
	AnomalyFraction   float64
	LiquidityBaseline float64
	Reference         bool
}

// DefaultConfig is used when a resolver is not supplied.
func DefaultConfig() Config {
	return Config{PriceScale: 8, QuantityScale: 8, MaxDepth: 1000}
}

// UsesBuckets reports whether a BucketBook can be built for this config.
func (c Config) UsesBuckets() bool {
	return !c.Reference && c.MinPrice >= 0 && c.MaxPrice > c.MinPrice
}

func (c Config) bucketConfig() BucketConfig {
	lo, _ := model.DecimalFromFloat(c.MinPrice, c.PriceScale)
	hi, _ := model.DecimalFromFloat(c.MaxPrice, c.PriceScale)
	return BucketConfig{
		MinPrice: lo.Integer,
		MaxPrice: hi.Integer,
		Buckets:  c.Buckets,
		Slots:    c.Slots,
		Overflow: c.Overflow,
	}.normalize()
}

// desyncedQuality scales the quality of a book that missed sequences.
const desyncedQuality = 0.5

// Key identifies one book.
type Key struct {
	Exchange model.Exchange
	Symbol   model.Symbol
}

// ApplyResult summarizes what an event did to its book.
type ApplyResult struct {
	Applied int
	Skipped int
	Stale    bool
	Gap      bool
	Crossed  bool
	Released bool
}

type entry struct {
	mu       sync.RWMutex
	key      Key
	cfg      Config
	book     Book
	ts       int64
	recv     int64
	seq      uint64
	checksum int64
	updates  uint64
	desynced bool
	released bool
}

// Engine owns every book, keyed by (exchange, symbol). Apply is called from
// the processing stage; readers take a per-book read lock. A released key
// ignores events until Retain is called for it.
type Engine struct {
	mu       sync.RWMutex
	entries  map[Key]*entry
	released map[Key]struct{}
	resolve  atomic.Pointer[func(model.Symbol) Config]

	poolMu sync.Mutex
	pools  map[BucketConfig]*sync.Pool

	stale atomic.Uint64
	gaps  atomic.Uint64
}

func NewEngine(resolve func(model.Symbol) Config) *Engine {
	e := &Engine{
		entries:  make(map[Key]*entry),
		released: make(map[Key]struct{}),
		pools:    make(map[BucketConfig]*sync.Pool),
	}
	e.SetResolver(resolve)
	return e
}

// SetResolver replaces the config lookup used for books created from now on.
func (e *Engine) SetResolver(resolve func(model.Symbol) Config) {
	if resolve == nil {
		resolve = func(model.Symbol) Config { return DefaultConfig() }
	}
	e.resolve.Store(&resolve)
}

func (e *Engine) lookup(key Key) (*entry, bool) {
	e.mu.RLock()
	en, ok := e.entries[key]
	e.mu.RUnlock()
	return en, ok
}

func (e *Engine) getOrCreate(key Key) (*entry, bool) {
	if en, ok := e.lookup(key); ok {
		return en, true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if en, ok := e.entries[key]; ok {
		return en, true
	}
	if _, gone := e.released[key]; gone {
		return nil, false
	}
	cfg := (*e.resolve.Load())(key.Symbol)
	en := &entry{key: key, cfg: cfg, book: e.newBook(cfg)}
	e.entries[key] = en
	return en, true
}

func (e *Engine) newBook(cfg Config) Book {
	if !cfg.UsesBuckets() {
		return NewTreeBook()
	}
	bc := cfg.bucketConfig()
	if b, ok := e.pool(bc).Get().(*BucketBook); ok && b != nil {
		return b
	}
	return NewBucketBook(bc)
}

func (e *Engine) pool(bc BucketConfig) *sync.Pool {
	e.poolMu.Lock()
	defer e.poolMu.Unlock()
	p, ok := e.pools[bc]
	if !ok {
		p = &sync.Pool{}
		e.pools[bc] = p
	}
	return p
}

// Apply mutates the book of the event. Masks mark usable levels; nil keeps all.
// Deltas older than the last applied sequence are ignored. A delta that skips
// sequences is applied but leaves the book desynced until the next snapshot.
func (e *Engine) Apply(ev *model.Event, bidMask, askMask []bool) ApplyResult {
	var res ApplyResult
	if ev == nil || !ev.Kind.IsBook() {
		return res
	}
	en, ok := e.getOrCreate(Key{Exchange: ev.Exchange, Symbol: ev.Symbol})
	if !ok {
		res.Released = true
		return res
	}

	en.mu.Lock()
	defer en.mu.Unlock()
	if en.released {
		res.Released = true
		return res
	}

	if ev.Kind == enum.EventBookDelta && ev.Sequence != 0 && en.seq != 0 {
		if ev.Sequence <= en.seq {
			e.stale.Add(1)
			res.Stale = true
			return res
		}
		if ev.PrevSequence != 0 && ev.PrevSequence > en.seq+1 {
			e.gaps.Add(1)
			res.Gap = true
			en.desynced = true
		}
	}
	if ev.Kind == enum.EventBookSnapshot {
		en.book.Reset()
		en.desynced = false
	}

	a, s := applySide(en.book.UpdateBid, ev.Bids, bidMask, en.cfg)
	res.Applied, res.Skipped = a, s
	a, s = applySide(en.book.UpdateAsk, ev.Asks, askMask, en.cfg)
	res.Applied += a
	res.Skipped += s

	if en.cfg.AnomalyFraction > 0 {
		CleanupAnomalies(en.book, en.cfg.AnomalyFraction)
	}
	if en.cfg.MaxDepth > 0 {
		en.book.TruncateDepth(en.cfg.MaxDepth)
	}

	if ev.Sequence != 0 {
		en.seq = ev.Sequence
	}
	en.ts = ev.Timestamp()
	en.recv = ev.RecvTsNano
	en.checksum = ev.Checksum
	en.updates++
	res.Crossed = IsCrossed(en.book)
	return res
}

func applySide(update func(price, qty int64), side model.RawSide, mask []bool, cfg Config) (applied, skipped int) {
	n := side.Len()
	for i := 0; i < n; i++ {
		if mask != nil && (i >= len(mask) || !mask[i]) {
			skipped++
			continue
		}
		price, okP := model.DecimalFromFloat(side.Prices[i], cfg.PriceScale)
		qty, okQ := model.DecimalFromFloat(side.Quantities[i], cfg.QuantityScale)
		if !okP || !okQ || price.Integer <= 0 {
			skipped++
			continue
		}
		update(price.Integer, qty.Integer)
		applied++
	}
	return applied, skipped
}

// OrderBook returns a canonical copy of one book.
func (e *Engine) OrderBook(exchange model.Exchange, symbol model.Symbol) (model.OrderBook, bool) {
	en, ok := e.lookup(Key{Exchange: exchange, Symbol: symbol})
	if !ok {
		return model.OrderBook{}, false
	}
	return en.canonical(), true
}

// Books returns canonical copies of every book of symbol, ordered by exchange.
func (e *Engine) Books(symbol model.Symbol) []model.OrderBook {
	e.mu.RLock()
	matched := make([]*entry, 0, 4)
	for key, en := range e.entries {
		if key.Symbol == symbol {
			matched = append(matched, en)
		}
	}
	e.mu.RUnlock()

	books := make([]model.OrderBook, 0, len(matched))
	for _, en := range matched {
		books = append(books, en.canonical())
	}
	slices.SortFunc(books, func(a, b model.OrderBook) int {
		return cmp.Compare(a.Exchange.String(), b.Exchange.String())
	})
	return books
}

// Symbols lists every symbol with at least one book.
func (e *Engine) Symbols() []model.Symbol {
	e.mu.RLock()
	defer e.mu.RUnlock()
	seen := make(map[model.Symbol]struct{}, len(e.entries))
	out := make([]model.Symbol, 0, len(e.entries))
	for key := range e.entries {
		if _, ok := seen[key.Symbol]; ok {
			continue
		}
		seen[key.Symbol] = struct{}{}
		out = append(out, key.Symbol)
	}
	slices.SortFunc(out, func(a, b model.Symbol) int { return cmp.Compare(a.String(), b.String()) })
	return out
}

// BucketStats returns the arena counters of a bucketed book.
func (e *Engine) BucketStats(exchange model.Exchange, symbol model.Symbol) (BucketStats, bool) {
	en, ok := e.lookup(Key{Exchange: exchange, Symbol: symbol})
	if !ok {
		return BucketStats{}, false
	}
	en.mu.RLock()
	defer en.mu.RUnlock()
	b, ok := en.book.(*BucketBook)
	if !ok {
		return BucketStats{}, false
	}
	return b.Stats(), true
}

// SequenceStats returns the number of stale deltas ignored and gaps detected.
func (e *Engine) SequenceStats() (stale, gaps uint64) {
	return e.stale.Load(), e.gaps.Load()
}

// Release drops the book, recycles its storage and ignores further events for
// the key until Retain. It reports whether a book existed.
func (e *Engine) Release(exchange model.Exchange, symbol model.Symbol) bool {
	key := Key{Exchange: exchange, Symbol: symbol}
	e.mu.Lock()
	en, ok := e.entries[key]
	delete(e.entries, key)
	e.released[key] = struct{}{}
	e.mu.Unlock()
	if !ok {
		return false
	}

	en.mu.Lock()
	defer en.mu.Unlock()
	if b, ok := en.book.(*BucketBook); ok {
		b.Reset()
		e.pool(b.Config()).Put(b)
	}
	en.book = NewTreeBook()
	en.released = true
	return true
}

// Retain lets events create the book of a released key again.
func (e *Engine) Retain(exchange model.Exchange, symbol model.Symbol) {
	key := Key{Exchange: exchange, Symbol: symbol}
	e.mu.Lock()
	delete(e.released, key)
	e.mu.Unlock()
}

func (en *entry) canonical() model.OrderBook {
	en.mu.RLock()
	bids := en.book.AppendBids(nil)
	asks := en.book.AppendAsks(nil)
	ob := model.OrderBook{
		Exchange:      en.key.Exchange,
		Symbol:        en.key.Symbol,
		Bids:          toModelLevels(bids, en.cfg),
		Asks:          toModelLevels(asks, en.cfg),
		TimestampNano: en.ts,
		RecvTsNano:    en.recv,
		Sequence:      en.seq,
		Checksum:      en.checksum,
		Desynced:      en.desynced,
	}
	baseline := en.cfg.LiquidityBaseline
	en.mu.RUnlock()

	ob.Quality = Quality(ob, baseline)
	if ob.Desynced {
		ob.Quality *= desyncedQuality
	}
	return ob
}

func toModelLevels(levels []Level, cfg Config) []model.Level {
	out := make([]model.Level, len(levels))
	for i, l := range levels {
		out[i] = model.Level{
			Price:    model.NewDecimal(l.Price, cfg.PriceScale),
			Quantity: model.NewDecimal(l.Quantity, cfg.QuantityScale),
		}
	}
	return out
}
