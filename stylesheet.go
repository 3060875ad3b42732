package preload

import (
	"context"
)

// stylesheetAdapter fetches CSS. In async mode the text is inserted as a
// style node, otherwise as a link node.
type stylesheetAdapter struct{}

func newStylesheetAdapter(_ *Item, cfg *Config) (Adapter, error) {
	if cfg.URL == `` {
		return nil, missingField(kindStylesheet, `url`)
	}
	return stylesheetAdapter{}, nil
}

func (stylesheetAdapter) Load(ctx context.Context, item *Item) error {
	resp, err := fetchResource(ctx, item, true)
	if err != nil {
		return err
	}

	cfg := item.Config()
	var node *Node
	if cfg.IsAsync() {
		node = newNode(item, `style`, cfg.Attributes)
	} else {
		node = newNode(item, `link`, cfg.Attributes)
		node.Attributes[`rel`] = `stylesheet`
		node.Attributes[`href`] = cfg.URL
	}
	node.Attributes[`type`] = `text/css`
	node.Text = string(resp.Body)
	item.Queue().Document().Append(node)

	item.SetResponse(node.Text)

	return nil
}
