package preload

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
)

// scriptAdapter fetches JavaScript source, and evaluates it in the queue's
// runtime, on the loop.
type scriptAdapter struct{}

func newScriptAdapter(_ *Item, cfg *Config) (Adapter, error) {
	if cfg.URL == `` {
		return nil, missingField(kindScript, `url`)
	}
	return scriptAdapter{}, nil
}

func (scriptAdapter) Load(ctx context.Context, item *Item) error {
	resp, err := fetchResource(ctx, item, true)
	if err != nil {
		return err
	}

	cfg := item.Config()
	node := newNode(item, `script`, cfg.Attributes)
	node.Attributes[`type`] = `text/javascript`
	if cfg.IsAsync() {
		node.Text = string(resp.Body)
	} else {
		node.Attributes[`src`] = cfg.URL
	}
	item.Queue().Document().Append(node)

	value, err := evaluate(ctx, item.Queue(), cfg.URL, string(resp.Body))
	if err != nil {
		return fmt.Errorf(`preload: evaluate %s: %w`, item, err)
	}
	if value != nil {
		item.SetResponse(value)
	}

	return nil
}

// evaluate runs source in the queue's runtime, on the loop, returning the
// exported completion value.
func evaluate(ctx context.Context, q *Queue, name, source string) (value any, err error) {
	if callErr := q.Do(ctx, func() {
		defer func() {
			if r := recover(); r != nil {
				err = PanicError{Value: r}
			}
		}()
		var result goja.Value
		if result, err = q.runtime.RunScript(name, source); err == nil && result != nil {
			value = result.Export()
		}
	}); callErr != nil {
		return nil, callErr
	}
	return
}
