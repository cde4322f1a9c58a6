// Package metrics exposes the Prometheus metrics of the Bauplan client.
// The metrics themselves are defined next to the code that records them
// (client, cache, ratelimit, pagination) to avoid circular dependencies.
//
// This package provides the catalogue, an HTTP handler for long-running
// programs, and Snapshot for short-lived ones such as the CLI.
package metrics

import (
	"net/http"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric the client registers.
const Namespace = "bauplan"

// Registry is the default Prometheus registry used by the Bauplan client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads back the metrics registered on Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves all registered metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Sample is one recorded series. Histograms report their observation count.
type Sample struct {
	Name   string
	Labels map[string]string
	Value  float64
}

// Snapshot returns every non-zero bauplan_* series, sorted by name.
func Snapshot() ([]Sample, error) {
	families, err := Gatherer.Gather()
	if err != nil {
		return nil, err
	}

	var samples []Sample
	for _, mf := range families {
		name := mf.GetName()
		if !strings.HasPrefix(name, Namespace+"_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			var value float64
			switch {
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				value = float64(m.GetHistogram().GetSampleCount())
			default:
				continue
			}
			if value == 0 {
				continue
			}

			labels := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			samples = append(samples, Sample{Name: name, Labels: labels, Value: value})
		}
	}

	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Name < samples[j].Name
	})
	return samples, nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - bauplan_requests_total{operation, status} (Counter): Requests by catalog operation and HTTP status
//   - bauplan_request_duration_seconds{operation} (Histogram): Request duration by operation
//   - bauplan_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - bauplan_retries_total{error_class} (Counter): Retry attempts by error class
//   - bauplan_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - bauplan_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Pagination Metrics (pkg/pagination):
//   - bauplan_pagination_pages_total{resource} (Counter): Pages fetched by paginators
//   - bauplan_pagination_records_total{resource} (Counter): Records yielded by paginators
//   - bauplan_pagination_errors_total{resource} (Counter): Failed page fetches
//
// Cache Metrics (pkg/cache):
//   - bauplan_cache_hits_total{layer="redis"} (Counter): Cache hits by layer
//   - bauplan_cache_misses_total (Counter): Cache misses
//   - bauplan_cache_size_bytes{layer="redis"} (Gauge): Bytes written to the cache
//   - bauplan_cache_conditional_requests_total (Counter): Revalidations sent with If-None-Match or If-Modified-Since
//   - bauplan_cache_not_modified_total (Counter): 304 Not Modified responses
//   - bauplan_cache_errors_total{operation} (Counter): Cache operation errors
//
// Rate Limit Metrics (pkg/ratelimit):
//   - bauplan_rate_limit_backoff_seconds (Gauge): Back-off most recently requested via Retry-After
//   - bauplan_rate_limit_blocks_total (Counter): Requests refused during a long back-off
//   - bauplan_rate_limit_throttles_total (Counter): Requests delayed until a short back-off expired
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(bauplan_cache_hits_total[5m])) /
//   (sum(rate(bauplan_cache_hits_total[5m])) + sum(rate(bauplan_cache_misses_total[5m])))
//
//   # Request Error Rate
//   rate(bauplan_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(bauplan_request_duration_seconds_bucket[5m]))
//
//   # Records per page
//   rate(bauplan_pagination_records_total[5m]) / rate(bauplan_pagination_pages_total[5m])
