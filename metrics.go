package preload

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports a queue's aggregate progress as Prometheus metrics.
// Values are read from [Queue.Progress] at collection time.
type Collector struct {
	queue    *Queue
	items    *prometheus.Desc
	loaded   *prometheus.Desc
	total    *prometheus.Desc
	rate     *prometheus.Desc
	complete *prometheus.Desc
	elapsed  *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a Collector for the queue. The namespace may be
// empty.
func NewCollector(q *Queue, namespace string) *Collector {
	name := func(v string) string {
		return prometheus.BuildFQName(namespace, `preload`, v)
	}
	return &Collector{
		queue: q,
		items: prometheus.NewDesc(
			name(`items`),
			`Number of queued items, by lifecycle state.`,
			[]string{`state`}, nil,
		),
		loaded: prometheus.NewDesc(
			name(`bytes_loaded`),
			`Bytes received across all items.`,
			nil, nil,
		),
		total: prometheus.NewDesc(
			name(`bytes_total`),
			`Expected bytes across all items, where known.`,
			nil, nil,
		),
		rate: prometheus.NewDesc(
			name(`rate_bytes_per_second`),
			`Bytes received per second since the first item started.`,
			nil, nil,
		),
		complete: prometheus.NewDesc(
			name(`complete_percent`),
			`Completion percentage of the queue.`,
			nil, nil,
		),
		elapsed: prometheus.NewDesc(
			name(`elapsed_seconds`),
			`Seconds since the first item started.`,
			nil, nil,
		),
	}
}

// Describe implements [prometheus.Collector].
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.items
	ch <- c.loaded
	ch <- c.total
	ch <- c.rate
	ch <- c.complete
	ch <- c.elapsed
}

// Collect implements [prometheus.Collector].
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	p := c.queue.Progress()

	for _, v := range [...]struct {
		state string
		n     int
	}{
		{`total`, p.Items.Total},
		{`waiting`, p.Items.Waiting},
		{`pending`, p.Items.Pending},
		{`processed`, p.Items.Processed},
		{`resolved`, p.Items.Resolved},
		{`loaded`, p.Items.Loaded},
		{`error`, p.Items.Error},
		{`abort`, p.Items.Abort},
		{`timeout`, p.Items.Timeout},
		{`ready`, p.Items.Ready},
	} {
		ch <- prometheus.MustNewConstMetric(c.items, prometheus.GaugeValue, float64(v.n), v.state)
	}

	ch <- prometheus.MustNewConstMetric(c.loaded, prometheus.GaugeValue, float64(p.Loaded))
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(p.Total))
	ch <- prometheus.MustNewConstMetric(c.rate, prometheus.GaugeValue, p.Rate)
	ch <- prometheus.MustNewConstMetric(c.complete, prometheus.GaugeValue, p.Complete)
	ch <- prometheus.MustNewConstMetric(c.elapsed, prometheus.GaugeValue, p.Elapsed.Seconds())
}
