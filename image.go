package preload

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"net/http"
	"strings"
)

// imageAdapter fetches and decodes an image, inserting an img node.
type imageAdapter struct{}

func newImageAdapter(_ *Item, cfg *Config) (Adapter, error) {
	if cfg.URL == `` {
		return nil, missingField(kindImage, `url`)
	}
	return imageAdapter{}, nil
}

func (imageAdapter) Load(ctx context.Context, item *Item) error {
	resp, err := fetchResource(ctx, item, true)
	if err != nil {
		return err
	}

	img, format, err := image.Decode(bytes.NewReader(resp.Body))
	if err != nil {
		return fmt.Errorf(`preload: decode image: %w`, err)
	}

	cfg := item.Config()
	node := newNode(item, `img`, cfg.Attributes)
	if cfg.Base64 {
		node.Attributes[`src`] = dataURL(resp, `image/`+format)
	} else {
		node.Attributes[`src`] = cfg.URL
	}
	bounds := img.Bounds()
	node.Attributes[`width`] = fmt.Sprint(bounds.Dx())
	node.Attributes[`height`] = fmt.Sprint(bounds.Dy())
	item.Queue().Document().Append(node)

	item.SetResponse(img)

	return nil
}

func dataURL(resp *Response, fallback string) string {
	contentType := resp.Header.Get(`Content-Type`)
	if mediaType, _, err := mime.ParseMediaType(contentType); err != nil || mediaType == `` || mediaType == `application/octet-stream` {
		contentType = http.DetectContentType(resp.Body)
		if !strings.HasPrefix(contentType, `image/`) {
			contentType = fallback
		}
	}
	return `data:` + contentType + `;base64,` + base64.StdEncoding.EncodeToString(resp.Body)
}
