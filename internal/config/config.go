package config

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/yanun0323/errors"

	"marketcore/internal/collector"
	"marketcore/internal/consistency"
	"marketcore/internal/exchange/registry"
	"marketcore/internal/model"
	"marketcore/internal/orderbook"
	"marketcore/internal/ring"
	"marketcore/pkg/exception"
	"marketcore/pkg/websocket"
)

// Config is the whole process configuration.
type Config struct {
	MonitorInterval time.Duration       `mapstructure:"monitor_interval" validate:"gt=0"`
	BatchWindow     time.Duration       `mapstructure:"batch_window" validate:"gt=0"`
	SnapshotMaxAge  time.Duration       `mapstructure:"snapshot_max_age" validate:"gt=0"`
	MetricsAddr     string              `mapstructure:"metrics_addr"`
	CleanBand       float64             `mapstructure:"clean_band" validate:"gte=0,lt=1"`
	Exchanges       map[string]Exchange `mapstructure:"exchanges" validate:"dive"`
	Reconnect       Reconnect           `mapstructure:"reconnect"`
	Consistency     Consistency         `mapstructure:"consistency"`
	Book            Book                `mapstructure:"book"`
	Books           []Book              `mapstructure:"books" validate:"dive"`
	Staging         Staging             `mapstructure:"staging"`
	Affinity        Affinity            `mapstructure:"affinity"`
	Subscriptions   []Subscription      `mapstructure:"subscriptions" validate:"dive"`
	Store           Store               `mapstructure:"store"`
	Redis           Redis               `mapstructure:"redis"`
	Profiling       Profiling           `mapstructure:"profiling"`
}

// Exchange overrides the built-in endpoints of one exchange.
type Exchange struct {
	WebSocket    string        `mapstructure:"ws"`
	REST         string        `mapstructure:"rest"`
	// Bootstrap seeds book streams with a REST snapshot. Unset follows the
	// exchange default, which is on for binance.
	Bootstrap    *bool         `mapstructure:"bootstrap"`
	PingInterval time.Duration `mapstructure:"ping_interval" validate:"gte=0"`
}

type Reconnect struct {
	Interval    time.Duration `mapstructure:"interval" validate:"gt=0"`
	MaxInterval time.Duration `mapstructure:"max_interval" validate:"gtefield=Interval"`
	Mode        string        `mapstructure:"mode" validate:"oneof=exponential fixed"`
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=0"`
	Jitter      float64       `mapstructure:"jitter" validate:"gte=0,lte=1"`
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
}

type Consistency struct {
	SpreadWarningPct   float64 `mapstructure:"spread_warning_pct" validate:"gt=0"`
	SpreadCriticalPct  float64 `mapstructure:"spread_critical_pct" validate:"gtefield=SpreadWarningPct"`
	TimeSyncWarningMs  int64   `mapstructure:"time_sync_warning_ms" validate:"gt=0"`
	TimeSyncCriticalMs int64   `mapstructure:"time_sync_critical_ms" validate:"gte=0"`
	VolumeCV           float64 `mapstructure:"volume_cv" validate:"gt=0"`
	VolumeDepth        int     `mapstructure:"volume_depth" validate:"gt=0"`
	HistorySize        int     `mapstructure:"history_size" validate:"gte=0"`
}

// Book configures the order book of one symbol. An empty Symbol marks the default.
type Book struct {
	Symbol            string  `mapstructure:"symbol"`
	PriceMin          float64 `mapstructure:"price_min" validate:"gte=0"`
	PriceMax          float64 `mapstructure:"price_max" validate:"gte=0"`
	Buckets           int     `mapstructure:"buckets" validate:"gte=0"`
	Slots             int     `mapstructure:"slots" validate:"gte=0,lte=64"`
	Overflow          int     `mapstructure:"overflow" validate:"gte=0"`
	PriceScale        int     `mapstructure:"price_scale" validate:"gte=0,lte=18"`
	QuantityScale     int     `mapstructure:"quantity_scale" validate:"gte=0,lte=18"`
	MaxDepth          int     `mapstructure:"max_depth" validate:"gte=0"`
	AnomalyFraction   float64 `mapstructure:"anomaly_fraction" validate:"gte=0,lte=1"`
	LiquidityBaseline float64 `mapstructure:"liquidity_baseline" validate:"gte=0"`
	Reference         bool    `mapstructure:"reference"`
}

type Staging struct {
	Updates      int           `mapstructure:"updates" validate:"gt=0"`
	Trades       int           `mapstructure:"trades" validate:"gt=0"`
	Snapshots    int           `mapstructure:"snapshots" validate:"gt=0"`
	Overflow     string        `mapstructure:"overflow" validate:"oneof=drop_newest drop_oldest block"`
	BlockTimeout time.Duration `mapstructure:"block_timeout" validate:"gte=0"`
}

type Affinity struct {
	Enabled     bool  `mapstructure:"enabled"`
	NetworkCPUs []int `mapstructure:"network_cpus" validate:"dive,gte=0"`
	ProcessCPU  int   `mapstructure:"process_cpu" validate:"gte=0"`
}

type Subscription struct {
	Exchange string `mapstructure:"exchange" validate:"required"`
	Symbol   string `mapstructure:"symbol" validate:"required"`
	Channel  string `mapstructure:"channel" validate:"required"`
}

type Store struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	Database   string `mapstructure:"database"`
	SSLMode    string `mapstructure:"sslmode"`
	ConnString string `mapstructure:"conn_string"`
}

type Redis struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db" validate:"gte=0"`
	Prefix      string        `mapstructure:"prefix"`
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl" validate:"gte=0"`
}

type Profiling struct {
	Enabled         bool   `mapstructure:"enabled"`
	ServerAddress   string `mapstructure:"server_address" validate:"required_if=Enabled true"`
	ApplicationName string `mapstructure:"application_name"`
}

var validate = validator.New()

// Validate checks field constraints and cross references between sections.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(exception.ErrConfigInvalid, err.Error())
	}

	known := registry.Names()
	for name, ex := range c.Exchanges {
		if !slices.Contains(known, normalizeName(name)) {
			return errors.Wrap(exception.ErrConfigUnknownExchange, "exchanges").With("exchange", name)
		}
		if err := checkEndpoint(ex.WebSocket, "ws", "wss"); err != nil {
			return errors.Wrap(err, name+" ws")
		}
		if err := checkEndpoint(ex.REST, "http", "https"); err != nil {
			return errors.Wrap(err, name+" rest")
		}
	}

	for _, sub := range c.Subscriptions {
		if !slices.Contains(known, normalizeName(sub.Exchange)) {
			return errors.Wrap(exception.ErrConfigUnknownExchange, "subscriptions").With("exchange", sub.Exchange)
		}
		if _, err := model.NewSubscription(sub.Exchange, sub.Symbol, sub.Channel); err != nil {
			return errors.Wrap(exception.ErrConfigInvalid, err.Error())
		}
	}

	for _, b := range append([]Book{c.Book}, c.Books...) {
		if b.PriceMax != 0 && b.PriceMax <= b.PriceMin {
			return errors.Wrap(exception.ErrConfigInvalid, "price_max must exceed price_min").With("symbol", b.Symbol)
		}
	}
	for _, b := range c.Books {
		if _, err := model.ParseSymbol(b.Symbol); err != nil {
			return errors.Wrap(exception.ErrConfigInvalid, "books symbol").With("symbol", b.Symbol)
		}
	}

	if c.BatchWindow <= time.Duration(c.Consistency.TimeSyncWarningMs)*time.Millisecond {
		return errors.Wrap(exception.ErrConfigInvalid, "batch_window must exceed time_sync_warning_ms")
	}

	return nil
}

func checkEndpoint(raw string, schemes ...string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || !slices.Contains(schemes, u.Scheme) {
		return errors.Wrap(exception.ErrConfigMissingEndpoint, "bad endpoint").With("url", raw)
	}
	return nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SubscriptionList parses the configured subscriptions.
func (c Config) SubscriptionList() ([]model.Subscription, error) {
	out := make([]model.Subscription, 0, len(c.Subscriptions))
	for _, s := range c.Subscriptions {
		sub, err := model.NewSubscription(s.Exchange, s.Symbol, s.Channel)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

// StreamSettings converts the network sections for the stream runner.
func (c Config) StreamSettings() collector.Settings {
	endpoints := make(map[string]collector.Endpoint, len(c.Exchanges))
	for name, ex := range c.Exchanges {
		name = normalizeName(name)
		bootstrap := registry.RequiresBootstrap(name)
		if ex.Bootstrap != nil {
			bootstrap = *ex.Bootstrap
		}
		endpoints[name] = collector.Endpoint{
			WebSocket:    ex.WebSocket,
			REST:         ex.REST,
			Bootstrap:    bootstrap,
			PingInterval: ex.PingInterval,
		}
	}

	var cpus []int
	if c.Affinity.Enabled {
		cpus = slices.Clone(c.Affinity.NetworkCPUs)
	}

	return collector.Settings{
		Endpoints:   endpoints,
		Backoff:     c.Reconnect.Backoff(),
		ReadTimeout: c.Reconnect.ReadTimeout,
		NetworkCPUs: cpus,
	}
}

func (r Reconnect) Backoff() websocket.Backoff {
	mode, _ := websocket.ParseBackoffMode(r.Mode)
	return websocket.Backoff{
		Mode:        mode,
		Min:         r.Interval,
		Max:         r.MaxInterval,
		Factor:      2,
		Jitter:      r.Jitter,
		MaxAttempts: r.MaxAttempts,
	}
}

func (c Consistency) Thresholds() consistency.Thresholds {
	return consistency.Thresholds{
		SpreadWarningPct:  c.SpreadWarningPct,
		SpreadCriticalPct: c.SpreadCriticalPct,
		TimeSyncWarning:   time.Duration(c.TimeSyncWarningMs) * time.Millisecond,
		TimeSyncCritical:  time.Duration(c.TimeSyncCriticalMs) * time.Millisecond,
		VolumeCV:          c.VolumeCV,
		VolumeDepth:       c.VolumeDepth,
	}
}

func (s Staging) Policy() ring.OverflowPolicy {
	p, _ := ring.ParseOverflowPolicy(s.Overflow)
	return p
}

func (b Book) engineConfig() orderbook.Config {
	return orderbook.Config{
		PriceScale:        b.PriceScale,
		QuantityScale:     b.QuantityScale,
		MinPrice:          b.PriceMin,
		MaxPrice:          b.PriceMax,
		Buckets:           b.Buckets,
		Slots:             b.Slots,
		Overflow:          b.Overflow,
		MaxDepth:          b.MaxDepth,
		AnomalyFraction:   b.AnomalyFraction,
		LiquidityBaseline: b.LiquidityBaseline,
		Reference:         b.Reference,
	}
}

// BookResolver returns the per-symbol book configuration lookup used by the engine.
// Symbols without an entry use the default book section.
func (c Config) BookResolver() func(model.Symbol) orderbook.Config {
	def := c.Book.engineConfig()
	bySymbol := make(map[model.Symbol]orderbook.Config, len(c.Books))
	for _, b := range c.Books {
		sym, err := model.ParseSymbol(b.Symbol)
		if err != nil {
			continue
		}
		bySymbol[sym] = b.engineConfig()
	}
	return func(sym model.Symbol) orderbook.Config {
		if cfg, ok := bySymbol[sym]; ok {
			return cfg
		}
		return def
	}
}
