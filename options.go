package preload

import (
	"errors"
	"net/http"
	"time"

	"github.com/dop251/goja"
	"github.com/joeycumines/logiface"
)

// DefaultPluginBaseURL is the prefix used to locate plugins fetched by name
// only. The plugin name is appended.
const DefaultPluginBaseURL = `https://cdn.jsdelivr.net/gh/beloader/beloader-`

// queueOptions holds configuration options for Queue creation.
type queueOptions struct {
	defaults       Defaults
	listeners      []Listeners
	parent         *Dispatcher
	logger         *logiface.Logger[logiface.Event]
	httpClient     *http.Client
	hostRates      map[time.Duration]int
	adapters       map[string]AdapterFactory
	runtime        *goja.Runtime
	plugins        []PluginSpec
	pluginBaseURL  string
	maxConcurrency int64
	cacheTTL       time.Duration
	cacheCapacity  uint64
}

// PluginSpec identifies a plugin to preload, see [WithPlugins].
type PluginSpec struct {
	// Name is required, and is both the item id and the plugin name.
	Name string `yaml:"name"`
	// URL is optional, defaulting to the plugin base URL plus the name.
	URL string `yaml:"url,omitempty"`
}

// Option configures a Queue instance.
type Option interface {
	applyQueue(*queueOptions) error
}

// queueOptionImpl implements Option.
type queueOptionImpl struct {
	applyQueueFunc func(*queueOptions) error
}

func (o *queueOptionImpl) applyQueue(opts *queueOptions) error {
	return o.applyQueueFunc(opts)
}

// WithDefaults replaces the defaults for the tri-state fields of [Config].
// See [DefaultDefaults].
func WithDefaults(defaults Defaults) Option {
	return &queueOptionImpl{func(opts *queueOptions) error {
		opts.defaults = defaults
		return nil
	}}
}

// WithAutoprocess sets whether items begin loading as soon as they are
// fetched. If disabled, see [Queue.Process] and [Item.Process].
func WithAutoprocess(enabled bool) Option {
	return &queueOptionImpl{func(opts *queueOptions) error {
		opts.defaults.Autoprocess = enabled
		return nil
	}}
}

// WithAsync sets whether resources are streamed, with progress events.
func WithAsync(enabled bool) Option {
	return &queueOptionImpl{func(opts *queueOptions) error {
		opts.defaults.Async = enabled
		return nil
	}}
}

// WithDefer sets whether items settle in insertion order by default.
func WithDefer(enabled bool) Option {
	return &queueOptionImpl{func(opts *queueOptions) error {
		opts.defaults.Defer = enabled
		return nil
	}}
}

// WithCache sets whether HTTP caching is permitted. If disabled, a unique
// token is appended to each URL.
func WithCache(enabled bool) Option {
	return &queueOptionImpl{func(opts *queueOptions) error {
		opts.defaults.Cache = enabled
		return nil
	}}
}

// WithFallbackSync sets whether a failed async fetch is retried once, in
// sync mode.
func WithFallbackSync(enabled bool) Option {
	return &queueOptionImpl{func(opts *queueOptions) error {
		opts.defaults.FallbackSync = enabled
		return nil
	}}
}

// WithListeners registers queue-level listeners. May be provided multiple
// times.
func WithListeners(listeners Listeners) Option {
	return &queueOptionImpl{func(opts *queueOptions) error {
		opts.listeners = append(opts.listeners, listeners)
		return nil
	}}
}

// WithParent sets a dispatcher that receives every event not stopped by the
// queue, e.g. to observe several queues.
func WithParent(parent *Dispatcher) Option {
	return &queueOptionImpl{func(opts *queueOptions) error {
		opts.parent = parent
		return nil
	}}
}

// WithLogger configures structured logging. Logging is disabled by default.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &queueOptionImpl{func(opts *queueOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithHTTPClient sets the client used by the built-in adapters. Defaults to
// [http.DefaultClient].
func WithHTTPClient(client *http.Client) Option {
	return &queueOptionImpl{func(opts *queueOptions) error {
		opts.httpClient = client
		return nil
	}}
}

// WithMaxConcurrency bounds the number of concurrent HTTP requests. Values
// <= 0 disable the limit (default).
func WithMaxConcurrency(n int) Option {
	return &queueOptionImpl{func(opts *queueOptions) error {
		opts.maxConcurrency = int64(n)
		return nil
	}}
}

// WithHostRates configures per-host rate limits, as a map of window to
// maximum number of requests, e.g. `{time.Second: 10}`.
func WithHostRates(rates map[time.Duration]int) Option {
	return &queueOptionImpl{func(opts *queueOptions) error {
		for window, limit := range rates {
			if window <= 0 || limit <= 0 {
				return errors.New(`preload: invalid host rate`)
			}
		}
		opts.hostRates = rates
		return nil
	}}
}

// WithResponseCache enables an in-memory cache of successful GET responses,
// for cacheable items. A capacity of 0 means unbounded.
func WithResponseCache(ttl time.Duration, capacity uint64) Option {
	return &queueOptionImpl{func(opts *queueOptions) error {
		if ttl <= 0 {
			return errors.New(`preload: response cache ttl must be positive`)
		}
		opts.cacheTTL = ttl
		opts.cacheCapacity = capacity
		return nil
	}}
}

// WithAdapter registers (or replaces) the adapter for a kind.
func WithAdapter(kind string, factory AdapterFactory) Option {
	return &queueOptionImpl{func(opts *queueOptions) error {
		if kind == `` || factory == nil {
			return errors.New(`preload: invalid adapter`)
		}
		if opts.adapters == nil {
			opts.adapters = make(map[string]AdapterFactory)
		}
		opts.adapters[kind] = factory
		return nil
	}}
}

// WithPlugins fetches the given plugins at construction, see [Queue.Ready].
func WithPlugins(plugins ...PluginSpec) Option {
	return &queueOptionImpl{func(opts *queueOptions) error {
		for _, p := range plugins {
			if p.Name == `` {
				return missingField(`plugin`, `name`)
			}
		}
		opts.plugins = append(opts.plugins, plugins...)
		return nil
	}}
}

// WithPluginBaseURL sets the prefix used for plugins without a URL.
// Defaults to [DefaultPluginBaseURL].
func WithPluginBaseURL(baseURL string) Option {
	return &queueOptionImpl{func(opts *queueOptions) error {
		opts.pluginBaseURL = baseURL
		return nil
	}}
}

// WithRuntime sets the JavaScript runtime that scripts and plugins are
// evaluated in. The runtime must not be used elsewhere, as it is only ever
// accessed from the queue's loop.
func WithRuntime(runtime *goja.Runtime) Option {
	return &queueOptionImpl{func(opts *queueOptions) error {
		opts.runtime = runtime
		return nil
	}}
}

// resolveQueueOptions applies Option instances to queueOptions.
func resolveQueueOptions(opts []Option) (*queueOptions, error) {
	cfg := &queueOptions{
		defaults:      DefaultDefaults(),
		pluginBaseURL: DefaultPluginBaseURL,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyQueue(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.httpClient == nil {
		cfg.httpClient = http.DefaultClient
	}
	if cfg.runtime == nil {
		cfg.runtime = goja.New()
	}
	return cfg, nil
}
