package preload

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

type (
	// PluginRegistry holds the named capabilities attached to a queue, see
	// [Queue.Pluginize]. Items and adapters receive it by reference.
	PluginRegistry struct {
		plugins map[string]any
		names   []string
		mu      sync.RWMutex
	}

	// PluginInitializer may be implemented by plugins, to be initialized
	// once, when registered.
	PluginInitializer interface {
		InitPlugin(ctx *PluginContext) error
	}

	// PluginContext is passed to [PluginInitializer.InitPlugin].
	PluginContext struct {
		// Queue is the queue the plugin is being attached to.
		Queue *Queue
		// Config is the configuration of the plugin item, if the plugin was
		// loaded as a resource, otherwise nil.
		Config *Config
		// Name is the registered name.
		Name string
		// Alias is an additional name the plugin is registered under, which
		// may be empty.
		Alias string
	}

	// PluginOption configures [Queue.Pluginize].
	PluginOption func(c *PluginContext)
)

// WithPluginAlias registers the plugin under an additional name.
func WithPluginAlias(alias string) PluginOption {
	return func(c *PluginContext) {
		c.Alias = alias
	}
}

// WithPluginConfig provides the configuration the plugin was loaded with.
func WithPluginConfig(cfg *Config) PluginOption {
	return func(c *PluginContext) {
		c.Config = cfg
	}
}

func newPluginRegistry() *PluginRegistry {
	return &PluginRegistry{plugins: make(map[string]any)}
}

// Get returns the named plugin.
func (x *PluginRegistry) Get(name string) (any, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	p, ok := x.plugins[name]
	return p, ok
}

// Names returns the registered names, in registration order.
func (x *PluginRegistry) Names() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return slices.Clone(x.names)
}

// Len returns the number of registered names.
func (x *PluginRegistry) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.names)
}

func (x *PluginRegistry) set(name string, plugin any) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.plugins[name]; !ok {
		x.names = append(x.names, name)
	}
	x.plugins[name] = plugin
}

func (x *PluginRegistry) delete(name string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.plugins[name]; !ok {
		return
	}
	delete(x.plugins, name)
	x.names = slices.DeleteFunc(x.names, func(v string) bool { return v == name })
}

// Pluginize attaches a named capability to the queue, running its
// initializer (see [PluginInitializer]) once, on the loop. If the
// initializer fails, the plugin is not registered.
//
// Registering a name twice replaces the previous plugin.
func (q *Queue) Pluginize(name string, plugin any, opts ...PluginOption) (err error) {
	if callErr := q.loop.call(func() { err = q.pluginize(name, plugin, opts...) }); callErr != nil {
		return callErr
	}
	return
}

func (q *Queue) pluginize(name string, plugin any, opts ...PluginOption) (err error) {
	if name == `` {
		return errors.New(`preload: plugin name must not be empty`)
	}
	if plugin == nil {
		return fmt.Errorf(`preload: unable to pluginize %s: nil plugin`, name)
	}

	c := PluginContext{Queue: q, Name: name}
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}

	q.plugins.set(name, plugin)

	if v, ok := plugin.(PluginInitializer); ok {
		if err := initPlugin(v, &c); err != nil {
			q.plugins.delete(name)
			return fmt.Errorf(`preload: unable to pluginize %s: %w`, name, err)
		}
	}

	if c.Alias != `` && c.Alias != name {
		q.plugins.set(c.Alias, plugin)
	}

	q.logger.Debug().
		Str(`plugin`, name).
		Str(`alias`, c.Alias).
		Log(`preload: plugin registered`)

	q.fire(EventPluginized, plugin)

	return nil
}

func initPlugin(v PluginInitializer, c *PluginContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = PanicError{Value: r}
		}
	}()
	return v.InitPlugin(c)
}
