package preload

import (
	"context"
)

// Adapter performs the actual loading of one item.
//
// Load is called once, on its own goroutine, and must return once loading
// has completed. Adapters report through the item, see [Item.Fire]: they
// should raise [EventLoadStart] before beginning work, and may raise
// [EventProgress] any number of times. Raising a terminal event ([EventLoad],
// [EventError], [EventAbort], [EventTimeout]) is optional, the item raises
// whichever is missing, classified from the returned error, followed by
// [EventLoadEnd].
//
// The context is canceled if the queue is shut down, or the item's
// [Config.Timeout] elapses.
type Adapter interface {
	Load(ctx context.Context, item *Item) error
}

// AdapterFactory constructs the adapter for an item, synchronously within
// [Queue.Fetch]. Errors are treated as configuration errors, and prevent the
// item from being added.
type AdapterFactory func(item *Item, cfg *Config) (Adapter, error)

// Canonical kinds.
const (
	kindFont       = `font`
	kindScript     = `script`
	kindStylesheet = `stylesheet`
	kindJSON       = `json`
	kindImage      = `image`
	kindPlugin     = `plugin`
	kindNone       = `none`
	kindCustom     = `custom`
)

var kindAliases = map[string]string{
	`font`:       kindFont,
	`webfont`:    kindFont,
	`js`:         kindScript,
	`script`:     kindScript,
	`javascript`: kindScript,
	`ecmascript`: kindScript,
	`style`:      kindStylesheet,
	`styles`:     kindStylesheet,
	`stylesheet`: kindStylesheet,
	`css`:        kindStylesheet,
	`json`:       kindJSON,
	`image`:      kindImage,
	`img`:        kindImage,
	`plugin`:     kindPlugin,
	`none`:       kindNone,
}

var builtinAdapters = map[string]AdapterFactory{
	kindFont:       newFontAdapter,
	kindScript:     newScriptAdapter,
	kindStylesheet: newStylesheetAdapter,
	kindJSON:       newJSONAdapter,
	kindImage:      newImageAdapter,
	kindPlugin:     newPluginAdapter,
	kindNone:       newNoneAdapter,
}

// CanonicalKind resolves a kind alias (e.g. "js", "css", "img") to the
// built-in kind it selects. The second return value is false for kinds that
// are not built in.
func CanonicalKind(kind string) (string, bool) {
	v, ok := kindAliases[kind]
	return v, ok
}

// adapterFor resolves and constructs the adapter for a new item.
// Precedence: [Config.Loader], then [WithAdapter] (by kind, then canonical
// kind), then the built-in adapters.
func (q *Queue) adapterFor(kind string, item *Item, cfg *Config) (Adapter, error) {
	if cfg.Loader != nil {
		return newCustomAdapter(item, cfg)
	}

	canonical, builtin := CanonicalKind(kind)

	if factory := q.options.adapters[kind]; factory != nil {
		return factory(item, cfg)
	}
	if builtin {
		if factory := q.options.adapters[canonical]; factory != nil {
			return factory(item, cfg)
		}
		return builtinAdapters[canonical](item, cfg)
	}

	return nil, &ConfigError{Kind: kind, Err: ErrUnknownKind}
}
