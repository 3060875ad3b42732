package preload

import (
	"context"
)

// customAdapter delegates to [Config.Loader].
type customAdapter struct {
	loader LoaderFunc
}

func newCustomAdapter(_ *Item, cfg *Config) (Adapter, error) {
	if cfg.Loader == nil {
		return nil, missingField(kindCustom, `loader`)
	}
	return customAdapter{loader: cfg.Loader}, nil
}

func (x customAdapter) Load(ctx context.Context, item *Item) error {
	return x.loader(ctx, item)
}

// noneAdapter completes immediately, e.g. for items used only as
// synchronization points.
type noneAdapter struct{}

func newNoneAdapter(*Item, *Config) (Adapter, error) {
	return noneAdapter{}, nil
}

func (noneAdapter) Load(context.Context, *Item) error {
	return nil
}
