package preload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
)

// DefaultFontCSSURL is the stylesheet endpoint used to resolve font
// families, when [WebfontConfig.CSSURL] is unset.
const DefaultFontCSSURL = `https://fonts.googleapis.com/css2`

// ErrInvalidFont indicates a fetched font file was not a recognized format.
var ErrInvalidFont = errors.New(`preload: invalid font file`)

var cssURLPattern = regexp.MustCompile(`url\(\s*['"]?([^'")\s]+)['"]?\s*\)`)

// FontFace describes a font file loaded by the font kind.
type FontFace struct {
	URL    string
	Format string
	Size   int
}

// fontAdapter loads web fonts, resolving families through a CSS endpoint,
// and verifying each font file's signature. It only supports async mode,
// without fallback.
type fontAdapter struct{}

func newFontAdapter(_ *Item, cfg *Config) (Adapter, error) {
	if cfg.Webfont == nil || (len(cfg.Webfont.Families) == 0 && len(cfg.Webfont.URLs) == 0) {
		return nil, missingField(kindFont, `webfont`)
	}
	if !cfg.IsAsync() {
		return nil, unsupportedMode(kindFont, `async`)
	}
	cfg.FallbackSync = Bool(false)
	return fontAdapter{}, nil
}

func (fontAdapter) Load(ctx context.Context, item *Item) error {
	if err := item.Fire(EventLoadStart, nil); err != nil {
		return err
	}
	if err := item.Fire(EventFontLoading, nil); err != nil {
		return err
	}

	faces, err := loadFonts(ctx, item)
	if err != nil {
		_ = item.Fire(EventFontInactive, err)
		return err
	}

	item.SetResponse(faces)

	return item.Fire(EventFontActive, faces)
}

func loadFonts(ctx context.Context, item *Item) ([]FontFace, error) {
	cfg := item.Config()
	fetcher := item.Queue().Fetcher()

	sources := append([]string(nil), cfg.Webfont.URLs...)

	if len(cfg.Webfont.Families) != 0 {
		cssURL, err := familiesURL(cfg.Webfont)
		if err != nil {
			return nil, err
		}
		resp, err := fetcher.Do(ctx, Request{URL: cssURL, Headers: cfg.Headers, Cacheable: cfg.IsCache()})
		if err != nil {
			return nil, err
		}
		base, _ := url.Parse(cssURL)
		for _, match := range cssURLPattern.FindAllSubmatch(resp.Body, -1) {
			ref, err := url.Parse(string(match[1]))
			if err != nil {
				return nil, fmt.Errorf(`preload: font css: %w`, err)
			}
			sources = append(sources, base.ResolveReference(ref).String())
		}
		if len(sources) == len(cfg.Webfont.URLs) {
			return nil, fmt.Errorf(`preload: font css %s: no font sources`, cssURL)
		}
	}

	var (
		faces  = make([]FontFace, 0, len(sources))
		loaded int64
	)
	for _, src := range sources {
		resp, err := fetcher.Do(ctx, Request{URL: src, Headers: cfg.Headers, Cacheable: cfg.IsCache()})
		if err != nil {
			return nil, err
		}
		format, ok := fontFormat(resp.Body)
		if !ok {
			return nil, fmt.Errorf(`%w: %s`, ErrInvalidFont, src)
		}
		faces = append(faces, FontFace{URL: src, Format: format, Size: len(resp.Body)})
		loaded += int64(len(resp.Body))
		if err := item.Fire(EventProgress, ProgressData{Loaded: loaded}); err != nil {
			return nil, err
		}
	}

	return faces, nil
}

func familiesURL(w *WebfontConfig) (string, error) {
	base := w.CSSURL
	if base == `` {
		base = DefaultFontCSSURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return ``, err
	}
	query := u.Query()
	for _, family := range w.Families {
		query.Add(`family`, family)
	}
	if !query.Has(`display`) {
		query.Set(`display`, `swap`)
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// fontFormat identifies a font file by its signature.
func fontFormat(b []byte) (string, bool) {
	switch {
	case bytes.HasPrefix(b, []byte{0x00, 0x01, 0x00, 0x00}), bytes.HasPrefix(b, []byte(`true`)):
		return `truetype`, true
	case bytes.HasPrefix(b, []byte(`OTTO`)):
		return `opentype`, true
	case bytes.HasPrefix(b, []byte(`ttcf`)):
		return `collection`, true
	case bytes.HasPrefix(b, []byte(`wOFF`)):
		return `woff`, true
	case bytes.HasPrefix(b, []byte(`wOF2`)):
		return `woff2`, true
	default:
		return ``, false
	}
}
