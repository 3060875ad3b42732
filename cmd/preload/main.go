// Command preload loads the resources described by a YAML manifest, honoring
// their ordering constraints, and reports the outcome of each.
//
// Example manifest:
//
//	defaults:
//	  async: true
//	resources:
//	  lib:
//	    type: script
//	    url: https://example.com/lib.js
//	  app:
//	    type: script
//	    url: https://example.com/app.js
//	    awaiting: lib
//
// Flags may also be set using environment variables, prefixed with PRELOAD_,
// e.g. PRELOAD_MANIFEST.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-chi/chi/v5"
	catrate "github.com/joeycumines/go-catrate"
	preload "github.com/joeycumines/go-preload"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/peterbourgon/ff/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const (
	exitOK       = 0
	exitRejected = 1
	exitUsage    = 2
)

type (
	manifest struct {
		Plugins   []preload.PluginSpec `yaml:"plugins"`
		Resources preload.Resources    `yaml:"resources"`
		Defaults  preload.Defaults     `yaml:"defaults"`
	}

	config struct {
		manifest      string
		logLevel      string
		metricsAddr   string
		pluginBaseURL string
		timeout       time.Duration
		cacheTTL      time.Duration
		concurrency   int
		hostRate      int
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		_, _ = fmt.Fprintf(stderr, "preload: %v\n", err)
		return exitUsage
	}

	level, err := parseLevel(cfg.logLevel)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "preload: %v\n", err)
		return exitUsage
	}

	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(stderr)),
		stumpy.L.WithLevel(level),
	).Logger()

	m, err := loadManifest(cfg.manifest)
	if err != nil {
		logger.Err().Err(err).Str(`manifest`, cfg.manifest).Log(`invalid manifest`)
		return exitUsage
	}

	q, err := preload.New(newQueueOptions(cfg, m, logger)...)
	if err != nil {
		logger.Err().Err(err).Log(`unable to create queue`)
		return exitUsage
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := q.Shutdown(shutdownCtx); err != nil {
			logger.Warning().Err(err).Log(`queue shutdown incomplete`)
		}
	}()

	logProgress(q, logger)

	batch, err := q.FetchAll(m.Resources)
	if err != nil {
		logger.Err().Err(err).Log(`unable to fetch resources`)
		return exitUsage
	}

	// starts anything left waiting by defaults.autoprocess=false
	if err := q.Process(); err != nil {
		logger.Err().Err(err).Log(`unable to process resources`)
		return exitUsage
	}

	waitCtx := ctx
	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	g, gCtx := errgroup.WithContext(waitCtx)
	done := make(chan struct{})

	if cfg.metricsAddr != `` {
		listener, err := net.Listen(`tcp`, cfg.metricsAddr)
		if err != nil {
			logger.Err().Err(err).Str(`addr`, cfg.metricsAddr).Log(`unable to listen`)
			return exitUsage
		}
		server := &http.Server{
			Handler:           newRouter(q),
			ReadHeaderTimeout: 5 * time.Second,
		}
		logger.Info().Str(`addr`, listener.Addr().String()).Log(`serving metrics`)
		g.Go(func() error {
			if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-done:
			case <-gCtx.Done():
			}
			return server.Close()
		})
	}

	var waitErr error
	g.Go(func() error {
		defer close(done)
		if _, err := q.Ready().Wait(gCtx); err != nil {
			logger.Warning().Err(err).Log(`plugins failed to load`)
		}
		_, waitErr = batch.Wait(gCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Err().Err(err).Log(`metrics server failed`)
	}

	writeReport(stdout, batch.Items)

	switch {
	case waitErr == nil:
		return exitOK
	case errors.Is(waitErr, context.DeadlineExceeded), errors.Is(waitErr, context.Canceled):
		logger.Err().Err(waitErr).Log(`resources did not settle`)
		return exitRejected
	default:
		logger.Err().Err(waitErr).Log(`resource rejected`)
		return exitRejected
	}
}

func parseFlags(args []string, output io.Writer) (*config, error) {
	var cfg config
	fs := flag.NewFlagSet(`preload`, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfg.manifest, `manifest`, ``, `path to the YAML manifest (required)`)
	fs.DurationVar(&cfg.timeout, `timeout`, time.Minute, `maximum time to wait for every resource to settle, 0 to disable`)
	fs.IntVar(&cfg.concurrency, `concurrency`, 8, `maximum concurrent requests, 0 to disable`)
	fs.IntVar(&cfg.hostRate, `host-rate`, 0, `maximum requests per second, per host, 0 to disable`)
	fs.StringVar(&cfg.logLevel, `log-level`, `info`, `log level, e.g. err, warning, info, debug, trace, disabled`)
	fs.StringVar(&cfg.metricsAddr, `metrics-addr`, ``, `address to serve /metrics and /progress on, while loading`)
	fs.StringVar(&cfg.pluginBaseURL, `plugin-base-url`, preload.DefaultPluginBaseURL, `prefix for plugins without a url`)
	fs.DurationVar(&cfg.cacheTTL, `cache-ttl`, 0, `enables the in-memory response cache, with the given ttl`)

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix(`PRELOAD`)); err != nil {
		return nil, err
	}
	if cfg.manifest == `` {
		return nil, errors.New(`-manifest is required`)
	}
	if cfg.concurrency < 0 || cfg.hostRate < 0 || cfg.cacheTTL < 0 {
		return nil, errors.New(`negative values are not permitted`)
	}
	return &cfg, nil
}

func parseLevel(s string) (logiface.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case `disabled`, `none`, `off`:
		return logiface.LevelDisabled, nil
	case `emerg`, `emergency`:
		return logiface.LevelEmergency, nil
	case `alert`:
		return logiface.LevelAlert, nil
	case `crit`, `critical`:
		return logiface.LevelCritical, nil
	case `err`, `error`:
		return logiface.LevelError, nil
	case `warning`, `warn`:
		return logiface.LevelWarning, nil
	case `notice`:
		return logiface.LevelNotice, nil
	case `info`, `informational`:
		return logiface.LevelInformational, nil
	case `debug`:
		return logiface.LevelDebug, nil
	case `trace`:
		return logiface.LevelTrace, nil
	default:
		return logiface.LevelDisabled, fmt.Errorf(`unknown log level %q`, s)
	}
}

func loadManifest(path string) (*manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeManifest(f)
}

func decodeManifest(r io.Reader) (*manifest, error) {
	m := manifest{Defaults: preload.DefaultDefaults()}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New(`empty manifest`)
		}
		return nil, err
	}
	if len(m.Resources) == 0 && len(m.Plugins) == 0 {
		return nil, errors.New(`no resources`)
	}
	return &m, nil
}

func newQueueOptions(cfg *config, m *manifest, logger *logiface.Logger[logiface.Event]) []preload.Option {
	opts := []preload.Option{
		preload.WithDefaults(m.Defaults),
		preload.WithLogger(logger),
		preload.WithMaxConcurrency(cfg.concurrency),
		preload.WithPluginBaseURL(cfg.pluginBaseURL),
	}
	if cfg.hostRate > 0 {
		opts = append(opts, preload.WithHostRates(map[time.Duration]int{time.Second: cfg.hostRate}))
	}
	if cfg.cacheTTL > 0 {
		opts = append(opts, preload.WithResponseCache(cfg.cacheTTL, 0))
	}
	if len(m.Plugins) != 0 {
		opts = append(opts, preload.WithPlugins(m.Plugins...))
	}
	return opts
}

// logProgress logs aggregate progress at most once per second, and each
// item settlement.
func logProgress(q *preload.Queue, logger *logiface.Logger[logiface.Event]) {
	limiter := catrate.NewLimiter(map[time.Duration]int{time.Second: 1})

	q.On(preload.EventProgress, func(e *preload.Event) {
		if _, ok := limiter.Allow(preload.EventProgress); !ok {
			return
		}
		p := q.Progress()
		logger.Info().
			Int64(`loaded`, p.Loaded).
			Int64(`total`, p.Total).
			Float64(`complete`, p.Complete).
			Float64(`rate`, p.Rate).
			Log(`progress`)
	})

	q.On(preload.EventReady, func(e *preload.Event) {
		if item := e.Item(); item != nil {
			logger.Info().Str(`item`, item.String()).Log(`ready`)
		}
	})

	q.On(preload.EventLoadEnd, func(e *preload.Event) {
		if item := e.Item(); item != nil && item.Err() != nil {
			logger.Warning().Err(item.Err()).Str(`item`, item.String()).Log(`failed`)
		}
	})

	q.On(preload.EventAfterProcess, func(e *preload.Event) {
		p := q.Progress()
		logger.Info().
			Int64(`items`, int64(p.Items.Total)).
			Int64(`ready`, int64(p.Items.Ready)).
			Int64(`failed`, int64(p.Items.Error)).
			Dur(`elapsed`, p.Elapsed).
			Log(`all resources processed`)
	})
}

func newRouter(q *preload.Queue) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(preload.NewCollector(q, ``))

	r := chi.NewRouter()
	r.Handle(`/metrics`, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get(`/progress`, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(`Content-Type`, `application/json`)
		_ = json.NewEncoder(w).Encode(q.Progress())
	})
	return r
}

func writeReport(w io.Writer, items []*preload.Item) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tKIND\tSTATE\tBYTES\tELAPSED\tERROR")
	for _, item := range items {
		p := item.Progress()
		var errText string
		if err := item.Err(); err != nil {
			errText = err.Error()
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			item.ID(),
			item.Kind(),
			item.State(),
			p.Loaded,
			p.Elapsed.Round(time.Millisecond),
			errText,
		)
	}
	_ = tw.Flush()
}
