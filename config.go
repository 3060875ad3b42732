package preload

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type (
	// Config models the per-item configuration accepted by [Queue.Fetch].
	// Tri-state fields (pointers) default to the queue's [Defaults] when nil.
	Config struct {
		// Kind selects the adapter, only used by [Queue.FetchAll], where it
		// is required unless Loader is set.
		Kind string `yaml:"type,omitempty"`

		// ID is the optional dependency-reference key of the item. Ids need
		// not be unique, a later item reusing an id shares its slot.
		ID string `yaml:"id,omitempty"`

		// URL locates the resource, for the built-in HTTP-backed kinds.
		URL string `yaml:"url,omitempty"`

		// Awaiting lists the ids that must reach the ready state before this
		// item may settle. YAML accepts a single string, or a sequence.
		Awaiting StringList `yaml:"awaiting,omitempty"`

		Defer        *bool `yaml:"defer,omitempty"`
		Autoprocess  *bool `yaml:"autoprocess,omitempty"`
		Async        *bool `yaml:"async,omitempty"`
		Cache        *bool `yaml:"cache,omitempty"`
		FallbackSync *bool `yaml:"fallbackSync,omitempty"`

		// Method is the HTTP method, defaults to GET.
		Method string `yaml:"method,omitempty"`
		// Body is sent as the request body, if non-empty.
		Body string `yaml:"body,omitempty"`
		// Headers are added to the request.
		Headers map[string]string `yaml:"headers,omitempty"`

		// Attributes are copied onto the document node, for kinds that
		// insert one.
		Attributes map[string]string `yaml:"attributes,omitempty"`

		// Base64 embeds images as a data URL.
		Base64 bool `yaml:"base64,omitempty"`

		// Webfont configures the font kind.
		Webfont *WebfontConfig `yaml:"webfont,omitempty"`

		// Name is the plugin name, required by the plugin kind.
		Name string `yaml:"name,omitempty"`

		// Timeout bounds the adapter, exceeding it fails the item with the
		// timeout state. Zero means no limit.
		Timeout time.Duration `yaml:"timeout,omitempty"`

		// Into is an optional decode target for the json kind.
		Into any `yaml:"-"`

		// On registers listeners on the item, see [Listeners].
		On Listeners `yaml:"-"`

		// Loader overrides the adapter, for any kind.
		Loader LoaderFunc `yaml:"-"`
	}

	// WebfontConfig configures the font kind.
	WebfontConfig struct {
		// Families are resolved through CSSURL, e.g. "Roboto:wght@400".
		Families []string `yaml:"families,omitempty"`
		// URLs are font files, fetched directly.
		URLs []string `yaml:"urls,omitempty"`
		// CSSURL is the stylesheet endpoint used to resolve Families.
		// Defaults to [DefaultFontCSSURL].
		CSSURL string `yaml:"cssURL,omitempty"`
	}

	// Defaults are the queue-level values for the tri-state fields of
	// [Config]. See [WithDefaults].
	Defaults struct {
		Autoprocess  bool `yaml:"autoprocess"`
		Async        bool `yaml:"async"`
		Defer        bool `yaml:"defer"`
		Cache        bool `yaml:"cache"`
		FallbackSync bool `yaml:"fallbackSync"`
	}

	// LoaderFunc is an adapter implemented as a function, see [Config.Loader].
	LoaderFunc func(ctx context.Context, item *Item) error

	// StringList is a list of strings that may be decoded from a single
	// YAML scalar.
	StringList []string

	// Resource pairs a name with its configuration, see [Resources].
	Resource struct {
		Name   string
		Config *Config
	}

	// Resources is an ordered set of named configurations, consumed by
	// [Queue.FetchAll]. It decodes from a YAML mapping, preserving order.
	Resources []Resource
)

// DefaultDefaults returns the queue defaults used unless [WithDefaults] is
// provided.
func DefaultDefaults() Defaults {
	return Defaults{
		Autoprocess:  true,
		Async:        true,
		Defer:        false,
		Cache:        true,
		FallbackSync: true,
	}
}

// Bool returns a pointer to v, for use with the tri-state fields of Config.
func Bool(v bool) *bool {
	return &v
}

// Load implements [Adapter].
func (f LoaderFunc) Load(ctx context.Context, item *Item) error {
	return f(ctx, item)
}

// UnmarshalYAML implements [yaml.Unmarshaler].
func (x *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*x = StringList{value.Value}
		return nil
	default:
		var v []string
		if err := value.Decode(&v); err != nil {
			return err
		}
		*x = v
		return nil
	}
}

// UnmarshalYAML implements [yaml.Unmarshaler], decoding a mapping of name to
// configuration, in document order.
func (x *Resources) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf(`preload: resources: line %d: expected a mapping`, value.Line)
	}
	out := make(Resources, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		var cfg Config
		if err := value.Content[i+1].Decode(&cfg); err != nil {
			return fmt.Errorf(`preload: resources: %s: %w`, value.Content[i].Value, err)
		}
		out = append(out, Resource{Name: value.Content[i].Value, Config: &cfg})
	}
	*x = out
	return nil
}

// ResourcesFromMap converts a map to Resources, sorted by name.
func ResourcesFromMap(m map[string]*Config) Resources {
	names := slices.Sorted(maps.Keys(m))
	out := make(Resources, 0, len(names))
	for _, name := range names {
		out = append(out, Resource{Name: name, Config: m[name]})
	}
	return out
}

// Clone returns a copy of the config, with the slices and maps copied.
func (c *Config) Clone() *Config {
	if c == nil {
		return new(Config)
	}
	v := *c
	v.Awaiting = slices.Clone(c.Awaiting)
	v.Headers = maps.Clone(c.Headers)
	v.Attributes = maps.Clone(c.Attributes)
	if c.Webfont != nil {
		w := *c.Webfont
		w.Families = slices.Clone(w.Families)
		w.URLs = slices.Clone(w.URLs)
		v.Webfont = &w
	}
	if c.On != nil {
		v.On = make(Listeners, len(c.On))
		for k, fns := range c.On {
			v.On[k] = slices.Clone(fns)
		}
	}
	for _, p := range [...]**bool{&v.Defer, &v.Autoprocess, &v.Async, &v.Cache, &v.FallbackSync} {
		if *p != nil {
			*p = Bool(**p)
		}
	}
	return &v
}

// IsDefer reports the effective defer setting, which is resolved against
// the queue defaults by [Queue.Fetch].
func (c *Config) IsDefer() bool { return c.Defer != nil && *c.Defer }

// IsAutoprocess reports the effective autoprocess setting.
func (c *Config) IsAutoprocess() bool { return c.Autoprocess != nil && *c.Autoprocess }

// IsAsync reports the effective async setting.
func (c *Config) IsAsync() bool { return c.Async != nil && *c.Async }

// IsCache reports the effective cache setting.
func (c *Config) IsCache() bool { return c.Cache != nil && *c.Cache }

// IsFallbackSync reports the effective fallbackSync setting.
func (c *Config) IsFallbackSync() bool { return c.FallbackSync != nil && *c.FallbackSync }

// resolve returns a copy with every tri-state set, and the cache busting
// token applied to the URL.
func (c *Config) resolve(d Defaults) *Config {
	v := c.Clone()
	define := func(p **bool, value bool) {
		if *p == nil {
			*p = Bool(value)
		}
	}
	define(&v.Autoprocess, d.Autoprocess)
	define(&v.Async, d.Async)
	define(&v.Defer, d.Defer)
	define(&v.Cache, d.Cache)
	define(&v.FallbackSync, d.FallbackSync)
	if v.URL != `` && !*v.Cache {
		v.URL = cacheBust(v.URL)
	}
	return v
}

func cacheBust(u string) string {
	if strings.IndexByte(u, '?') > 0 {
		return u + `&` + uuid.NewString()
	}
	return u + `?` + uuid.NewString()
}
