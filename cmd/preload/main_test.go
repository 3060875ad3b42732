package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	preload "github.com/joeycumines/go-preload"
	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction(`github.com/joeycumines/go-catrate.(*Limiter).worker`),
		goleak.IgnoreTopFunction(`net/http.(*persistConn).readLoop`),
		goleak.IgnoreTopFunction(`net/http.(*persistConn).writeLoop`),
		goleak.IgnoreTopFunction(`internal/poll.runtime_pollWait`),
	)
}

func TestParseLevel(t *testing.T) {
	for input, want := range map[string]logiface.Level{
		`disabled`: logiface.LevelDisabled,
		`ERR`:      logiface.LevelError,
		` warn `:   logiface.LevelWarning,
		`info`:     logiface.LevelInformational,
		`debug`:    logiface.LevelDebug,
		`trace`:    logiface.LevelTrace,
	} {
		got, err := parseLevel(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}
	_, err := parseLevel(`loud`)
	assert.Error(t, err)
}

func TestDecodeManifest(t *testing.T) {
	m, err := decodeManifest(strings.NewReader(`
defaults:
  defer: true
plugins:
  - name: demo
resources:
  b:
    type: css
    url: https://example.com/b.css
  a:
    type: none
    awaiting: b
`))
	require.NoError(t, err)

	assert.Equal(t, preload.Defaults{Autoprocess: true, Async: true, Defer: true, Cache: true, FallbackSync: true}, m.Defaults)
	assert.Equal(t, []preload.PluginSpec{{Name: `demo`}}, m.Plugins)
	require.Len(t, m.Resources, 2)
	assert.Equal(t, `b`, m.Resources[0].Name)
	assert.Equal(t, `a`, m.Resources[1].Name)
	assert.Equal(t, preload.StringList{`b`}, m.Resources[1].Config.Awaiting)

	for _, input := range []string{
		``,
		`defaults: {}`,
		"resources: [a]\n",
		`unknown: 1`,
	} {
		_, err := decodeManifest(strings.NewReader(input))
		assert.Error(t, err, input)
	}
}

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), `manifest.yaml`)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case `/lib.js`:
			_, _ = w.Write([]byte(`var lib = 1;`))
		case `/site.css`:
			_, _ = w.Write([]byte(`body {}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	t.Run(`ok`, func(t *testing.T) {
		path := writeManifest(t, `
resources:
  app:
    type: none
    awaiting: lib
  lib:
    type: js
    url: `+srv.URL+`/lib.js
  site:
    type: css
    url: `+srv.URL+`/site.css
`)
		var stdout, stderr bytes.Buffer
		code := run(context.Background(), []string{`-manifest`, path, `-host-rate`, `100`, `-cache-ttl`, `1m`}, &stdout, &stderr)
		require.Equal(t, exitOK, code, stderr.String())

		lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
		require.Len(t, lines, 4, stdout.String())
		assert.Regexp(t, `^ID\s+KIND\s+STATE`, lines[0])
		assert.Regexp(t, `^app\s+none\s+loaded\|processed\|resolved\|ready`, lines[1])
		assert.Regexp(t, `^lib\s+js\s+loaded\|processed\|resolved\|ready`, lines[2])
		assert.Regexp(t, `^site\s+css\s+`, lines[3])
		assert.Contains(t, stderr.String(), `all resources processed`)
	})

	t.Run(`autoprocess disabled`, func(t *testing.T) {
		path := writeManifest(t, `
defaults:
  autoprocess: false
resources:
  a:
    type: none
`)
		var stdout, stderr bytes.Buffer
		code := run(context.Background(), []string{`-manifest`, path, `-timeout`, `5s`}, &stdout, &stderr)
		require.Equal(t, exitOK, code, stderr.String())
		assert.Regexp(t, `(?m)^a\s+none\s+loaded\|processed\|resolved\|ready`, stdout.String())
	})

	t.Run(`rejected`, func(t *testing.T) {
		path := writeManifest(t, `
resources:
  missing:
    type: js
    url: `+srv.URL+`/missing.js
`)
		var stdout, stderr bytes.Buffer
		code := run(context.Background(), []string{`-manifest`, path, `-log-level`, `err`}, &stdout, &stderr)
		assert.Equal(t, exitRejected, code)
		assert.Contains(t, stdout.String(), `unexpected status 404`)
		assert.Contains(t, stderr.String(), `resource rejected`)
	})

	t.Run(`timeout`, func(t *testing.T) {
		path := writeManifest(t, `
resources:
  never:
    type: none
    awaiting: nothing
`)
		var stdout, stderr bytes.Buffer
		code := run(context.Background(), []string{`-manifest`, path, `-timeout`, `50ms`}, &stdout, &stderr)
		assert.Equal(t, exitRejected, code)
		assert.Contains(t, stderr.String(), `resources did not settle`)
	})
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{
		{},
		{`-manifest`, `does-not-exist.yaml`},
		{`-manifest`, `x`, `-log-level`, `loud`},
		{`-manifest`, `x`, `-concurrency`, `-1`},
		{`-bogus`},
	} {
		var stdout, stderr bytes.Buffer
		assert.Equal(t, exitUsage, run(context.Background(), args, &stdout, &stderr), args)
	}

	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitOK, run(context.Background(), []string{`-h`}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), `-manifest`)
}

func TestRouter(t *testing.T) {
	q, err := preload.New()
	require.NoError(t, err)
	defer q.Close()

	item, err := q.Fetch(`none`, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = item.Promise().Wait(ctx)
	require.NoError(t, err)

	srv := httptest.NewServer(newRouter(q))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + `/progress`)
	require.NoError(t, err)
	var progress preload.QueueProgress
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&progress))
	_ = resp.Body.Close()
	assert.Equal(t, 1, progress.Items.Total)
	assert.Equal(t, 1, progress.Items.Ready)

	resp, err = srv.Client().Get(srv.URL + `/metrics`)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `preload_items{state="ready"} 1`)
}
