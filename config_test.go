package preload

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gopkg.in/yaml.v3"
)

func TestResources_UnmarshalYAML(t *testing.T) {
	const input = `
zeta:
  type: script
  url: https://example.com/zeta.js
  defer: true
alpha:
  type: json
  url: https://example.com/alpha.json
  awaiting: zeta
  headers:
    X-Token: abc
mid:
  type: font
  awaiting: [alpha, zeta]
  timeout: 2s
  webfont:
    families: [Roboto]
`

	var resources Resources
	if err := yaml.Unmarshal([]byte(input), &resources); err != nil {
		t.Fatal(err)
	}

	want := Resources{
		{Name: `zeta`, Config: &Config{Kind: `script`, URL: `https://example.com/zeta.js`, Defer: Bool(true)}},
		{Name: `alpha`, Config: &Config{
			Kind:     `json`,
			URL:      `https://example.com/alpha.json`,
			Awaiting: StringList{`zeta`},
			Headers:  map[string]string{`X-Token`: `abc`},
		}},
		{Name: `mid`, Config: &Config{
			Kind:     `font`,
			Awaiting: StringList{`alpha`, `zeta`},
			Timeout:  2e9,
			Webfont:  &WebfontConfig{Families: []string{`Roboto`}},
		}},
	}
	if diff := cmp.Diff(want, resources, cmpopts.IgnoreFields(Config{}, `Loader`, `On`, `Into`)); diff != `` {
		t.Errorf(`unexpected resources (-want +got):\n%s`, diff)
	}
}

func TestResources_UnmarshalYAMLErrors(t *testing.T) {
	for _, input := range []string{
		`[a, b]`,
		"a:\n  awaiting: {x: y}\n",
	} {
		var resources Resources
		if err := yaml.Unmarshal([]byte(input), &resources); err == nil {
			t.Errorf(`expected error for %q`, input)
		}
	}
}

func TestResourcesFromMap(t *testing.T) {
	resources := ResourcesFromMap(map[string]*Config{
		`b`: {URL: `b`},
		`a`: {URL: `a`},
		`c`: nil,
	})
	var names []string
	for _, r := range resources {
		names = append(names, r.Name)
	}
	if got := strings.Join(names, `,`); got != `a,b,c` {
		t.Errorf(`unexpected order: %s`, got)
	}
}

func TestConfig_Resolve(t *testing.T) {
	d := DefaultDefaults()

	cfg := &Config{URL: `https://example.com/a.js`, Async: Bool(false), Awaiting: StringList{`x`}}
	got := cfg.resolve(d)

	if got == cfg {
		t.Fatal(`expected a copy`)
	}
	if cfg.Autoprocess != nil {
		t.Error(`input must not be modified`)
	}
	if !got.IsAutoprocess() || got.IsAsync() || got.IsDefer() || !got.IsCache() || !got.IsFallbackSync() {
		t.Errorf(`unexpected resolution: %+v`, got)
	}
	if got.URL != cfg.URL {
		t.Errorf(`unexpected url: %s`, got.URL)
	}

	got.Awaiting[0] = `y`
	if cfg.Awaiting[0] != `x` {
		t.Error(`awaiting should have been copied`)
	}

	d.Cache = false
	if got := (*Config)(nil).resolve(d); got.URL != `` || got.IsCache() {
		t.Errorf(`unexpected resolution of nil: %+v`, got)
	}
}

func TestConfig_CacheBust(t *testing.T) {
	d := DefaultDefaults()
	d.Cache = false

	for _, tc := range []struct {
		url, prefix string
	}{
		{`https://example.com/a.js`, `https://example.com/a.js?`},
		{`https://example.com/a.js?v=1`, `https://example.com/a.js?v=1&`},
		{`?leading`, `?leading?`},
	} {
		a := (&Config{URL: tc.url}).resolve(d).URL
		b := (&Config{URL: tc.url}).resolve(d).URL
		if !strings.HasPrefix(a, tc.prefix) || len(a) != len(tc.prefix)+36 {
			t.Errorf(`unexpected cache busted url for %q: %s`, tc.url, a)
		}
		if a == b {
			t.Errorf(`expected unique tokens: %s`, a)
		}
	}

	if got := (&Config{URL: `u`, Cache: Bool(true)}).resolve(d).URL; got != `u` {
		t.Errorf(`expected no token when cache is enabled: %s`, got)
	}
}

func TestConfig_Clone(t *testing.T) {
	orig := &Config{
		Defer:      Bool(true),
		Headers:    map[string]string{`a`: `b`},
		Attributes: map[string]string{`c`: `d`},
		Webfont:    &WebfontConfig{Families: []string{`x`}},
		On:         Listeners{EventLoad: {func(*Event) {}}},
	}
	c := orig.Clone()
	*c.Defer = false
	c.Headers[`a`] = `z`
	c.Attributes[`c`] = `z`
	c.Webfont.Families[0] = `z`
	c.On[EventLoad] = nil

	if !*orig.Defer || orig.Headers[`a`] != `b` || orig.Attributes[`c`] != `d` || orig.Webfont.Families[0] != `x` || len(orig.On[EventLoad]) != 1 {
		t.Errorf(`clone is not deep: %+v`, orig)
	}
}

func TestDefaults_UnmarshalYAMLPartial(t *testing.T) {
	d := DefaultDefaults()
	if err := yaml.Unmarshal([]byte("defer: true\ncache: false\n"), &d); err != nil {
		t.Fatal(err)
	}
	want := Defaults{Autoprocess: true, Async: true, Defer: true, Cache: false, FallbackSync: true}
	if d != want {
		t.Errorf(`expected %+v, got %+v`, want, d)
	}
}
