package preload

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// ErrPluginUndefined indicates a plugin script did not define the global
// named after the plugin.
var ErrPluginUndefined = errors.New(`preload: plugin global not defined`)

// JSPlugin is a plugin implemented in JavaScript, loaded by the plugin kind.
// It wraps the global value named after the plugin.
type JSPlugin struct {
	queue *Queue
	value goja.Value
	name  string
}

// pluginAdapter fetches and evaluates a plugin script, then pluginizes the
// global value named after the plugin.
type pluginAdapter struct{}

func newPluginAdapter(item *Item, cfg *Config) (Adapter, error) {
	if cfg.Name == `` {
		return nil, missingField(kindPlugin, `name`)
	}
	if cfg.URL == `` {
		cfg.URL = item.Queue().options.pluginBaseURL + cfg.Name + `@latest`
		if !cfg.IsCache() {
			cfg.URL = cacheBust(cfg.URL)
		}
	}
	return pluginAdapter{}, nil
}

func (pluginAdapter) Load(ctx context.Context, item *Item) error {
	resp, err := fetchResource(ctx, item, true)
	if err != nil {
		return err
	}

	cfg := item.Config()
	q := item.Queue()

	node := newNode(item, `script`, cfg.Attributes)
	node.Attributes[`type`] = `text/javascript`
	node.Attributes[`data-plugin`] = cfg.Name
	node.Text = string(resp.Body)
	q.Document().Append(node)

	if _, err := evaluate(ctx, q, cfg.URL, node.Text); err != nil {
		return fmt.Errorf(`preload: unable to load plugin %s: %w`, cfg.Name, err)
	}

	var pluginErr error
	if err := q.Do(ctx, func() {
		value := q.runtime.GlobalObject().Get(cfg.Name)
		if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
			pluginErr = fmt.Errorf(`%w: %s`, ErrPluginUndefined, cfg.Name)
			return
		}
		plugin := &JSPlugin{queue: q, name: cfg.Name, value: value}
		pluginErr = q.pluginize(cfg.Name, plugin, WithPluginConfig(cfg))
	}); err != nil {
		return err
	}
	if pluginErr != nil {
		return pluginErr
	}

	plugin, _ := q.plugins.Get(cfg.Name)
	item.SetResponse(plugin)

	return nil
}

// Name returns the plugin name.
func (p *JSPlugin) Name() string { return p.name }

// Value returns the underlying JavaScript value, which must only be used on
// the loop.
func (p *JSPlugin) Value() goja.Value { return p.value }

// InitPlugin calls the plugin's init function, if it defines one, with an
// options object containing the name and alias.
func (p *JSPlugin) InitPlugin(c *PluginContext) error {
	rt := p.queue.runtime
	obj := p.value.ToObject(rt)
	fn, ok := goja.AssertFunction(obj.Get(`init`))
	if !ok {
		return nil
	}
	opts := rt.NewObject()
	if err := opts.Set(`name`, c.Name); err != nil {
		return err
	}
	if err := opts.Set(`alias`, c.Alias); err != nil {
		return err
	}
	if c.Config != nil {
		if err := opts.Set(`url`, c.Config.URL); err != nil {
			return err
		}
	}
	_, err := fn(obj, opts)
	return err
}

// Call invokes a method of the plugin, on the loop, returning the exported
// result.
func (p *JSPlugin) Call(ctx context.Context, method string, args ...any) (result any, err error) {
	if callErr := p.queue.Do(ctx, func() {
		defer func() {
			if r := recover(); r != nil {
				err = PanicError{Value: r}
			}
		}()
		rt := p.queue.runtime
		obj := p.value.ToObject(rt)
		fn, ok := goja.AssertFunction(obj.Get(method))
		if !ok {
			err = fmt.Errorf(`preload: plugin %s: %q is not a function`, p.name, method)
			return
		}
		values := make([]goja.Value, len(args))
		for i, arg := range args {
			values[i] = rt.ToValue(arg)
		}
		var v goja.Value
		if v, err = fn(obj, values...); err == nil && v != nil {
			result = v.Export()
		}
	}); callErr != nil {
		return nil, callErr
	}
	return
}
