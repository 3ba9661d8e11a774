package config

import (
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketcore/pkg/exception"
)

// EnvPrefix prefixes environment overrides, e.g. MARKETCORE_METRICS_ADDR.
const EnvPrefix = "MARKETCORE"

func setDefaults(v *viper.Viper) {
	v.SetDefault("monitor_interval", "100ms")
	v.SetDefault("batch_window", "1s")
	v.SetDefault("snapshot_max_age", "5s")
	v.SetDefault("metrics_addr", ":9100")
	v.SetDefault("clean_band", 0.2)

	v.SetDefault("reconnect.interval", "250ms")
	v.SetDefault("reconnect.max_interval", "5s")
	v.SetDefault("reconnect.mode", "exponential")
	v.SetDefault("reconnect.max_attempts", 5)
	v.SetDefault("reconnect.jitter", 0.2)
	v.SetDefault("reconnect.read_timeout", "60s")

	v.SetDefault("consistency.spread_warning_pct", 0.5)
	v.SetDefault("consistency.spread_critical_pct", 1.0)
	v.SetDefault("consistency.time_sync_warning_ms", 100)
	v.SetDefault("consistency.time_sync_critical_ms", 0)
	v.SetDefault("consistency.volume_cv", 0.5)
	v.SetDefault("consistency.volume_depth", 10)
	v.SetDefault("consistency.history_size", 512)

	v.SetDefault("book.price_scale", 8)
	v.SetDefault("book.quantity_scale", 8)
	v.SetDefault("book.max_depth", 1000)
	v.SetDefault("book.overflow", 64)
	v.SetDefault("book.anomaly_fraction", 0.5)
	v.SetDefault("book.liquidity_baseline", 1.0)

	v.SetDefault("staging.updates", 1<<16)
	v.SetDefault("staging.trades", 1<<14)
	v.SetDefault("staging.snapshots", 1<<10)
	v.SetDefault("staging.overflow", "drop_newest")
	v.SetDefault("staging.block_timeout", "10ms")

	v.SetDefault("redis.prefix", "marketcore")
	v.SetDefault("redis.snapshot_ttl", "10s")
	v.SetDefault("profiling.application_name", "marketcore.collector")
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(exception.ErrConfigInvalid, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads a yaml file (optional when path is empty) with environment overrides
// and validates the result.
func Load(path string) (Config, error) {
	v := newViper(path)
	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrap(err, "read config").With("path", path)
		}
	}
	return decode(v)
}

// Holder keeps the active configuration and applies validated reloads.
type Holder struct {
	mu  sync.RWMutex
	cfg Config

	reload   sync.Mutex
	v        *viper.Viper
	path     string
	onChange []func(prev, next Config)
}

// Open loads path and returns a Holder able to reload it.
func Open(path string) (*Holder, error) {
	v := newViper(path)
	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "read config").With("path", path)
		}
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &Holder{cfg: cfg, v: v, path: path}, nil
}

// Get returns the active configuration.
func (h *Holder) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// OnChange registers fn to run after every accepted reload.
func (h *Holder) OnChange(fn func(prev, next Config)) {
	h.reload.Lock()
	defer h.reload.Unlock()
	h.onChange = append(h.onChange, fn)
}

// Reload re-reads the file. An invalid file leaves the active config untouched.
func (h *Holder) Reload() error {
	h.reload.Lock()
	defer h.reload.Unlock()

	if h.path != "" {
		if err := h.v.ReadInConfig(); err != nil {
			return errors.Wrap(err, "read config").With("path", h.path)
		}
	}
	next, err := decode(h.v)
	if err != nil {
		return err
	}

	h.mu.Lock()
	prev := h.cfg
	h.cfg = next
	h.mu.Unlock()

	for _, fn := range h.onChange {
		fn(prev, next)
	}
	return nil
}

// Watch reloads on file changes until the process exits.
func (h *Holder) Watch() {
	if h.path == "" {
		return
	}
	h.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if err := h.Reload(); err != nil {
			logs.Warnf("config reload ignored, file: %s, err: %+v", e.Name, err)
			return
		}
		logs.Infof("config reloaded, file: %s", e.Name)
	})
	h.v.WatchConfig()
}
