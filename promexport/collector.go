// Package promexport exposes engine metrics to Prometheus.
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(promexport.NewCollector(engine, "myapp"))
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
// Values are read from one Metrics() snapshot per scrape, so a scrape is
// internally consistent.
package promexport

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/tiercache"
)

// Source is anything with engine metrics; *tiercache.Engine satisfies it.
type Source interface {
	Metrics() tiercache.MetricsSnapshot
}

const subsystem = "tiercache"

type Collector struct {
	src Source

	gets, hits, misses      *prometheus.Desc
	loads, loadErrors       *prometheus.Desc
	invalidations, errors   *prometheus.Desc
	warmups, warmupLoaded   *prometheus.Desc
	trackedKeys             *prometheus.Desc
	latency                 *prometheus.Desc
	queuePending, queueJobs *prometheus.Desc

	tierHits, tierMisses, tierEvictions, tierSets *prometheus.Desc
	tierEntries, tierBytes, tierCapacity          *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(src Source, namespace string) *Collector {
	d := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help,
			append([]string{"cache"}, labels...), nil)
	}
	return &Collector{
		src:           src,
		gets:          d("gets_total", "Lookups served."),
		hits:          d("hits_total", "Lookups answered by any tier."),
		misses:        d("misses_total", "Lookups that missed every tier."),
		loads:         d("loads_total", "Loader invocations after a full miss."),
		loadErrors:    d("load_errors_total", "Loader invocations that failed."),
		invalidations: d("invalidations_total", "Keys invalidated, including cascades."),
		errors:        d("errors_total", "Errors reported through the error hook."),
		warmups:       d("warmups_total", "Completed warmup runs."),
		warmupLoaded:  d("warmup_loaded_total", "Keys stored by warmup runs."),
		trackedKeys:   d("tracked_keys", "Keys in the access tracker."),
		latency:       d("get_latency_seconds", "Lookup latency over the sample window.", "quantile"),
		queuePending:  d("write_queue_pending", "Write-behind jobs waiting."),
		queueJobs:     d("write_queue_jobs_total", "Write-behind jobs by outcome.", "outcome"),

		tierHits:      d("tier_hits_total", "Hits per tier.", "tier"),
		tierMisses:    d("tier_misses_total", "Misses per tier.", "tier"),
		tierEvictions: d("tier_evictions_total", "Entries evicted per tier.", "tier"),
		tierSets:      d("tier_sets_total", "Entries written per tier.", "tier"),
		tierEntries:   d("tier_entries", "Entries resident per tier.", "tier"),
		tierBytes:     d("tier_bytes", "Encoded bytes resident per tier.", "tier"),
		tierCapacity:  d("tier_capacity_entries", "Entry capacity per tier; 0 when unbounded.", "tier"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.gets, c.hits, c.misses, c.loads, c.loadErrors, c.invalidations, c.errors,
		c.warmups, c.warmupLoaded, c.trackedKeys, c.latency, c.queuePending, c.queueJobs,
		c.tierHits, c.tierMisses, c.tierEvictions, c.tierSets, c.tierEntries, c.tierBytes, c.tierCapacity,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.src.Metrics()
	ns := m.Namespace
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), append([]string{ns}, labels...)...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, append([]string{ns}, labels...)...)
	}

	counter(c.gets, m.Gets)
	counter(c.hits, m.Hits)
	counter(c.misses, m.Misses)
	counter(c.loads, m.Loads)
	counter(c.loadErrors, m.LoadErrors)
	counter(c.invalidations, m.Invalidations)
	counter(c.errors, m.Errors)
	counter(c.warmups, m.Warmups)
	counter(c.warmupLoaded, m.WarmupLoaded)
	gauge(c.trackedKeys, float64(m.TrackedKeys))

	if m.Latency.Samples > 0 {
		gauge(c.latency, m.Latency.P50.Seconds(), "0.5")
		gauge(c.latency, m.Latency.P95.Seconds(), "0.95")
		gauge(c.latency, m.Latency.P99.Seconds(), "0.99")
		gauge(c.latency, m.Latency.Max.Seconds(), "1")
	}

	gauge(c.queuePending, float64(m.Queue.Pending))
	counter(c.queueJobs, m.Queue.Enqueued, "enqueued")
	counter(c.queueJobs, m.Queue.Applied, "applied")
	counter(c.queueJobs, m.Queue.Skipped, "skipped")
	counter(c.queueJobs, m.Queue.Failed, "failed")

	for _, tm := range m.Tiers {
		t := tm.Tier.String()
		counter(c.tierHits, tm.Hits, t)
		counter(c.tierMisses, tm.Misses, t)
		counter(c.tierEvictions, tm.Evictions, t)
		counter(c.tierSets, tm.Sets, t)
		gauge(c.tierEntries, float64(tm.Entries), t)
		gauge(c.tierBytes, float64(tm.Bytes), t)
		gauge(c.tierCapacity, float64(tm.Capacity), t)
	}
}
