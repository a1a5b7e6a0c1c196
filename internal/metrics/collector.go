// Package metrics exposes Prometheus collectors for the controller's
// runtime: a private prometheus.Registry, one GaugeVec/CounterVec per
// concern, served over /metrics by promhttp.HandlerFor in internal/opsserver.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns every metric the controller publishes.
type Collector struct {
	registry *prometheus.Registry

	ModuleUp *prometheus.GaugeVec // {module} 1=enabled, 0=disabled

	PtzRequestsTotal  *prometheus.CounterVec // {owner, result=accepted|rejected}
	PtzOwnerGauge     *prometheus.GaugeVec   // {owner} 1 if currently holding the camera
	BusEventsTotal    *prometheus.CounterVec // {topic}
	ReporterSentTotal prometheus.Counter
	ReporterFailTotal prometheus.Counter
	AnalysisTotal     *prometheus.CounterVec // {outcome}
	EmergencyTotal    prometheus.Counter
	PipelineDuration  *prometheus.GaugeVec // {pipeline} seconds, last tick
}

// New returns a Collector registered against a fresh, private registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{registry: reg}

	c.ModuleUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sentinel_module_up",
		Help: "1 if a registered module initialized successfully, 0 if disabled",
	}, []string{"module"})
	reg.MustRegister(c.ModuleUp)

	c.PtzRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_ptz_requests_total",
		Help: "PTZ move requests submitted to the arbiter",
	}, []string{"owner", "result"})
	reg.MustRegister(c.PtzRequestsTotal)

	c.PtzOwnerGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sentinel_ptz_owner",
		Help: "1 for the module currently holding camera ownership",
	}, []string{"owner"})
	reg.MustRegister(c.PtzOwnerGauge)

	c.BusEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_bus_events_total",
		Help: "Events published on the event bus",
	}, []string{"topic"})
	reg.MustRegister(c.BusEventsTotal)

	c.ReporterSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_reporter_sent_total",
		Help: "Reporter POSTs that returned HTTP 200",
	})
	reg.MustRegister(c.ReporterSentTotal)

	c.ReporterFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_reporter_fail_total",
		Help: "Reporter POSTs that failed (transport error or non-200)",
	})
	reg.MustRegister(c.ReporterFailTotal)

	c.AnalysisTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_llm_analysis_total",
		Help: "LLM analysis pipeline ticks by outcome",
	}, []string{"outcome"})
	reg.MustRegister(c.AnalysisTotal)

	c.EmergencyTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_llm_emergency_total",
		Help: "llm.emergency events emitted",
	})
	reg.MustRegister(c.EmergencyTotal)

	c.PipelineDuration = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sentinel_pipeline_tick_seconds",
		Help: "Wall-clock duration of the most recent pipeline run",
	}, []string{"pipeline"})
	reg.MustRegister(c.PipelineDuration)

	return c
}

// Registry exposes the private registry for promhttp.HandlerFor.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// RegisterBusDropped exposes the bus's dropped-event count, read at scrape
// time, as `sentinel_bus_dropped_events`. The bus owns the count; this
// just samples it.
func (c *Collector) RegisterBusDropped(fn func() float64) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sentinel_bus_dropped_events",
		Help: "Events dropped due to worker-queue overflow since startup",
	}, fn))
}
