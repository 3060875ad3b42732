package preload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/jellydator/ttlcache/v3"
	catrate "github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/tcnksm/go-httpstat"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

const (
	acceptEncoding = `br, gzip, zstd`
	chunkSize      = 32 << 10
)

type (
	// Fetcher performs the HTTP requests of the built-in adapters. It is
	// shared by every item of a queue, and applies per-host rate limits,
	// bounded concurrency, in-flight de-duplication, and response caching.
	Fetcher struct {
		client  *http.Client
		logger  *logiface.Logger[logiface.Event]
		limiter *catrate.Limiter
		sem     *semaphore.Weighted
		cache   *ttlcache.Cache[string, *Response]
		group   singleflight.Group
	}

	// Request models a single fetch.
	Request struct {
		// OnProgress is called after each chunk of the body is received. If
		// set, the body is streamed, and the request is never de-duplicated.
		OnProgress func(data ProgressData)
		// OnReadyState is called with 2 once headers are received, and 4
		// once the body is complete, if set.
		OnReadyState func(state int)
		Headers      map[string]string
		URL          string
		Method       string
		Body         string
		// Cacheable enables the response cache, and de-duplication, for GET
		// requests.
		Cacheable bool
	}

	// Response is the outcome of a fetch, with the decoded body.
	Response struct {
		Header     http.Header
		URL        string
		Body       []byte
		Timing     Timing
		StatusCode int
		// Cached indicates the response was served from the cache.
		Cached bool
	}

	// Timing is the request timing breakdown.
	Timing struct {
		DNSLookup        time.Duration
		TCPConnection    time.Duration
		TLSHandshake     time.Duration
		ServerProcessing time.Duration
		ContentTransfer  time.Duration
		Total            time.Duration
	}

	fetcherConfig struct {
		client         *http.Client
		logger         *logiface.Logger[logiface.Event]
		hostRates      map[time.Duration]int
		maxConcurrency int64
		cacheTTL       time.Duration
		cacheCapacity  uint64
	}

	countingReader struct {
		r io.Reader
		n int64
	}
)

func newFetcher(c fetcherConfig) *Fetcher {
	f := Fetcher{
		client: c.client,
		logger: c.logger,
	}
	if f.client == nil {
		f.client = http.DefaultClient
	}
	if len(c.hostRates) != 0 {
		f.limiter = catrate.NewLimiter(c.hostRates)
	}
	if c.maxConcurrency > 0 {
		f.sem = semaphore.NewWeighted(c.maxConcurrency)
	}
	if c.cacheTTL > 0 {
		opts := []ttlcache.Option[string, *Response]{
			ttlcache.WithTTL[string, *Response](c.cacheTTL),
		}
		if c.cacheCapacity > 0 {
			opts = append(opts, ttlcache.WithCapacity[string, *Response](c.cacheCapacity))
		}
		f.cache = ttlcache.New(opts...)
		go f.cache.Start()
	}
	return &f
}

// Do performs the request. Responses with a non-2xx status are returned
// alongside a [*StatusError].
func (f *Fetcher) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == `` {
		req.Method = http.MethodGet
	}

	shared := req.Cacheable && req.Method == http.MethodGet && req.Body == ``

	if shared && f.cache != nil {
		if v := f.cache.Get(req.URL); v != nil {
			resp := *v.Value()
			resp.Cached = true
			f.logger.Trace().
				Str(`url`, req.URL).
				Log(`preload: response cache hit`)
			if req.OnReadyState != nil {
				req.OnReadyState(4)
			}
			return &resp, nil
		}
	}

	if !shared || req.OnProgress != nil {
		return f.do(ctx, req, shared)
	}

	ch := f.group.DoChan(req.URL, func() (any, error) {
		return f.do(ctx, req, shared)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		resp, _ := res.Val.(*Response)
		return resp, res.Err
	}
}

func (f *Fetcher) do(ctx context.Context, req Request, cacheable bool) (*Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}

	if err := f.wait(ctx, u.Host); err != nil {
		return nil, err
	}

	if f.sem != nil {
		if err := f.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer f.sem.Release(1)
	}

	var stat httpstat.Result
	ctx = httpstat.WithHTTPStat(ctx, &stat)

	var body io.Reader
	if req.Body != `` {
		body = strings.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set(`Accept-Encoding`, acceptEncoding)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if req.OnReadyState != nil {
		req.OnReadyState(2)
	}

	wire := &countingReader{r: httpResp.Body}
	decoded, err := decodeBody(httpResp.Header.Get(`Content-Encoding`), wire)
	if err != nil {
		return nil, err
	}
	defer decoded.Close()

	var content []byte
	if req.OnProgress == nil {
		content, err = io.ReadAll(decoded)
	} else {
		content, err = readWithProgress(decoded, wire, httpResp.ContentLength, req.OnProgress)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	stat.End(now)

	resp := Response{
		URL:        req.URL,
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header.Clone(),
		Body:       content,
		Timing: Timing{
			DNSLookup:        stat.DNSLookup,
			TCPConnection:    stat.TCPConnection,
			TLSHandshake:     stat.TLSHandshake,
			ServerProcessing: stat.ServerProcessing,
			ContentTransfer:  stat.ContentTransfer(now),
			Total:            stat.Total(now),
		},
	}

	if req.OnReadyState != nil {
		req.OnReadyState(4)
	}

	f.logger.Debug().
		Str(`url`, req.URL).
		Int64(`status`, int64(resp.StatusCode)).
		Int64(`bytes`, wire.n).
		Dur(`total`, resp.Timing.Total).
		Log(`preload: fetched`)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &resp, &StatusError{URL: req.URL, StatusCode: resp.StatusCode}
	}

	if cacheable && f.cache != nil {
		f.cache.Set(req.URL, &resp, ttlcache.DefaultTTL)
	}

	return &resp, nil
}

// wait blocks until the host's rate limit permits another request.
func (f *Fetcher) wait(ctx context.Context, host string) error {
	for {
		next, ok := f.limiter.Allow(host)
		if ok {
			return nil
		}
		f.logger.Trace().
			Str(`host`, host).
			Time(`next`, next).
			Log(`preload: rate limited`)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (f *Fetcher) close() {
	if f.cache != nil {
		f.cache.Stop()
	}
}

func readWithProgress(r io.Reader, wire *countingReader, total int64, fn func(ProgressData)) ([]byte, error) {
	var (
		buf   bytes.Buffer
		chunk = make([]byte, chunkSize)
	)
	if total > 0 {
		buf.Grow(int(total))
	}
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			fn(ProgressData{
				Loaded:           wire.n,
				Total:            max(total, 0),
				LengthComputable: total >= 0,
			})
		}
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func decodeBody(encoding string, r io.Reader) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case ``, `identity`:
		return io.NopCloser(r), nil
	case `br`:
		return io.NopCloser(brotli.NewReader(r)), nil
	case `gzip`, `x-gzip`:
		return gzip.NewReader(r)
	case `zstd`:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf(`preload: unsupported content encoding %q`, encoding)
	}
}

func (x *countingReader) Read(p []byte) (int, error) {
	n, err := x.r.Read(p)
	x.n += int64(n)
	return n, err
}

// fetchResource performs the request described by the item's config,
// raising loadstart, readystatechange, and (in async mode) progress events.
// A non-2xx status in async mode is retried once in sync mode, if
// fallbackSync is enabled and the caller permits it.
func fetchResource(ctx context.Context, item *Item, allowFallback bool) (*Response, error) {
	cfg := item.Config()
	fetcher := item.Queue().Fetcher()

	if err := item.Fire(EventLoadStart, nil); err != nil {
		return nil, err
	}

	req := Request{
		URL:       cfg.URL,
		Method:    cfg.Method,
		Body:      cfg.Body,
		Headers:   cfg.Headers,
		Cacheable: cfg.IsCache(),
	}

	if !cfg.IsAsync() {
		return fetcher.Do(ctx, req)
	}

	req.OnProgress = func(data ProgressData) { _ = item.Fire(EventProgress, data) }
	req.OnReadyState = func(state int) { _ = item.Fire(EventReadyStateChange, state) }

	resp, err := fetcher.Do(ctx, req)

	var statusErr *StatusError
	if allowFallback && cfg.IsFallbackSync() && errors.As(err, &statusErr) {
		item.Logger().Info().
			Str(`item`, item.String()).
			Int64(`status`, int64(statusErr.StatusCode)).
			Log(`preload: async fetch failed, falling back to sync`)
		req.OnProgress = nil
		req.OnReadyState = nil
		req.Cacheable = false
		return fetcher.Do(ctx, req)
	}

	return resp, err
}
