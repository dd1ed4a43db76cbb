// Package metrics exposes pipeline counters to Prometheus:
//
//	marketdata_responses_total{type,source}
//	marketdata_items_total{type,source}
//	marketdata_cache_lookups_total{type,result}
//	marketdata_http_requests_total{route,code}
//
// plus the go_* and process_* collectors.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/nanzhong/marketdata/market"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	responses    *prometheus.CounterVec
	items        *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	requests     *prometheus.CounterVec
}

// New registers the counters on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		responses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_responses_total",
				Help: "Number of market data responses by data type and response source",
			},
			[]string{"type", "source"},
		),
		items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_items_total",
				Help: "Number of items served by data type and item source",
			},
			[]string{"type", "source"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_cache_lookups_total",
				Help: "Number of cache lookups by data type and result",
			},
			[]string{"type", "result"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_http_requests_total",
				Help: "Number of HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
	}

	m.registry.MustRegister(
		m.responses,
		m.items,
		m.cacheLookups,
		m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveResponse(dataType market.DataType, source string) {
	m.responses.WithLabelValues(string(dataType), source).Inc()
}

func (m *Metrics) ObserveItem(dataType market.DataType, source market.Source) {
	m.items.WithLabelValues(string(dataType), string(source)).Inc()
}

func (m *Metrics) ObserveCache(dataType market.DataType, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(string(dataType), result).Inc()
}

// ObserveRequest counts a finished HTTP request.
func (m *Metrics) ObserveRequest(route string, code int) {
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
