package preload

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
)

// jsonAdapter fetches and decodes a JSON document. It only supports async
// mode, without fallback.
type jsonAdapter struct{}

func newJSONAdapter(_ *Item, cfg *Config) (Adapter, error) {
	if cfg.URL == `` {
		return nil, missingField(kindJSON, `url`)
	}
	if !cfg.IsAsync() {
		return nil, unsupportedMode(kindJSON, `async`)
	}
	cfg.FallbackSync = Bool(false)
	headers := maps.Clone(cfg.Headers)
	if headers == nil {
		headers = make(map[string]string, 1)
	}
	if _, ok := headers[`Accept`]; !ok {
		headers[`Accept`] = `application/json`
	}
	cfg.Headers = headers
	return jsonAdapter{}, nil
}

func (jsonAdapter) Load(ctx context.Context, item *Item) error {
	resp, err := fetchResource(ctx, item, false)
	if err != nil {
		return err
	}

	cfg := item.Config()
	if cfg.Into != nil {
		if err := json.Unmarshal(resp.Body, cfg.Into); err != nil {
			return fmt.Errorf(`preload: malformed JSON: %w`, err)
		}
		item.SetResponse(cfg.Into)
		return nil
	}

	var value any
	if err := json.Unmarshal(resp.Body, &value); err != nil {
		return fmt.Errorf(`preload: malformed JSON: %w`, err)
	}
	item.SetResponse(value)

	return nil
}
