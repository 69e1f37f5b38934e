package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/liamcoop/textflow/internal/logger"
	"github.com/liamcoop/textflow/rules"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "textflow"

// Recorder exports engine and pipeline activity as Prometheus metrics.
// It implements rules.Observer and pipeline.Recorder.
type Recorder struct {
	registry *prometheus.Registry

	ruleOutcomes   *prometheus.CounterVec
	flowRuns       prometheus.Counter
	runDuration    prometheus.Histogram
	captureKeys    prometheus.Histogram
	requests       prometheus.Counter
	coalesced      prometheus.Counter
	pipelineRuns   *prometheus.CounterVec
	pipelineRunDur prometheus.Histogram
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New registers every metric on a fresh registry together with the Go and
// process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		ruleOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_results_total",
			Help:      "Rule evaluations by outcome.",
		}, []string{"status"}),
		flowRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_runs_total",
			Help:      "Completed flow executions.",
		}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flow_run_duration_seconds",
			Help:      "Time spent executing a flow.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		}),
		captureKeys: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flow_capture_keys",
			Help:      "Capture keys populated per run.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25},
		}),
		requests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "requests_total",
			Help:      "Processing requests received by pipelines.",
		}),
		coalesced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "coalesced_total",
			Help:      "Requests superseded before their quiet period elapsed.",
		}),
		pipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "outputs_total",
			Help:      "Outputs delivered by pipelines.",
		}, []string{"processed"}),
		pipelineRunDur: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Time from run start to output.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) ObserveRule(_ string, result rules.RuleResult) {
	r.ruleOutcomes.WithLabelValues(string(result.Status)).Inc()
	if result.Status == rules.StatusInvalidPattern || result.Status == rules.StatusMatchError {
		logger.WarnPatternFailure()
	}
}

func (r *Recorder) ObserveRun(_ string, result *rules.Result) {
	r.flowRuns.Inc()
	r.runDuration.Observe(result.Duration.Seconds())
	r.captureKeys.Observe(float64(len(result.Captures)))
}

func (r *Recorder) RecordRequest() {
	r.requests.Inc()
}

func (r *Recorder) RecordCoalesced() {
	r.coalesced.Inc()
}

func (r *Recorder) RecordRun(processed bool, d time.Duration) {
	if processed {
		r.pipelineRuns.WithLabelValues("true").Inc()
		r.pipelineRunDur.Observe(d.Seconds())
		return
	}
	r.pipelineRuns.WithLabelValues("false").Inc()
}

// ObserveHTTP records one served request. route is the matched route pattern,
// not the raw path, to keep label cardinality bounded.
func (r *Recorder) ObserveHTTP(method, route string, code int, d time.Duration) {
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
