package jobpipeline

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "jobpipeline"
)

type statsExporter struct {
	queue Queue

	runOk        atomic.Uint64
	runHalted    atomic.Uint64
	runDelegated atomic.Uint64
	runErr       atomic.Uint64
	pushOk       atomic.Uint64
	pushErr      atomic.Uint64
	dead         atomic.Uint64

	runOkDesc        *prometheus.Desc
	runHaltedDesc    *prometheus.Desc
	runDelegatedDesc *prometheus.Desc
	runErrDesc       *prometheus.Desc
	pushOkDesc       *prometheus.Desc
	pushErrDesc      *prometheus.Desc
	deadDesc         *prometheus.Desc
	queueSizeDesc    *prometheus.Desc

	pushLatencyHistogram *prometheus.HistogramVec
	pushRequestCounter   *prometheus.CounterVec
	dispatchCounter      *prometheus.CounterVec
}

func (p *Plugin) MetricsCollector() []prometheus.Collector {
	return []prometheus.Collector{p.metrics}
}

func (se *statsExporter) CountRunOk() {
	se.runOk.Add(1)
}

func (se *statsExporter) CountRunHalted() {
	se.runHalted.Add(1)
}

func (se *statsExporter) CountRunDelegated() {
	se.runDelegated.Add(1)
}

func (se *statsExporter) CountRunErr() {
	se.runErr.Add(1)
}

func (se *statsExporter) CountPushOk() {
	se.pushOk.Add(1)
}

func (se *statsExporter) CountPushErr() {
	se.pushErr.Add(1)
}

func (se *statsExporter) CountDead() {
	se.dead.Add(1)
}

func newStatsExporter(queue Queue) *statsExporter {
	return &statsExporter{
		queue: queue,

		runOkDesc:        prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "run_ok"), "Number of queued pipelines executed completely", nil, nil),
		runHaltedDesc:    prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "run_halted"), "Number of queued pipelines halted by a job", nil, nil),
		runDelegatedDesc: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "run_delegated"), "Number of queued pipelines whose failure was handled by the job", nil, nil),
		runErrDesc:       prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "run_err"), "Number of queued pipeline runs which failed", nil, nil),
		pushOkDesc:       prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "push_ok"), "Number of pipelines pushed to the queue", nil, nil),
		pushErrDesc:      prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "push_err"), "Number of pipeline pushes which failed", nil, nil),
		deadDesc:         prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "dead"), "Number of pipelines dropped after the last attempt", nil, nil),
		queueSizeDesc:    prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "queue_size"), "Number of pipelines waiting in the queue", nil, nil),

		pushLatencyHistogram: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: prometheus.BuildFQName(namespace, "", "push_latency"),
			Help: "Histogram represents latency for pushed operation",
		}, []string{"queue", "connection"}),

		pushRequestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "The total number of pipelines sent to the queue",
		}, []string{"queue", "connection"}),

		dispatchCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "The total number of dispatched events",
		}, []string{"event"}),
	}
}

func (se *statsExporter) Describe(d chan<- *prometheus.Desc) {
	// send description
	d <- se.runOkDesc
	d <- se.runHaltedDesc
	d <- se.runDelegatedDesc
	d <- se.runErrDesc
	d <- se.pushOkDesc
	d <- se.pushErrDesc
	d <- se.deadDesc
	d <- se.queueSizeDesc

	se.pushLatencyHistogram.Describe(d)
	se.pushRequestCounter.Describe(d)
	se.dispatchCounter.Describe(d)
}

func (se *statsExporter) Collect(ch chan<- prometheus.Metric) {
	// send the values to the prometheus
	ch <- prometheus.MustNewConstMetric(se.runOkDesc, prometheus.GaugeValue, float64(se.runOk.Load()))
	ch <- prometheus.MustNewConstMetric(se.runHaltedDesc, prometheus.GaugeValue, float64(se.runHalted.Load()))
	ch <- prometheus.MustNewConstMetric(se.runDelegatedDesc, prometheus.GaugeValue, float64(se.runDelegated.Load()))
	ch <- prometheus.MustNewConstMetric(se.runErrDesc, prometheus.GaugeValue, float64(se.runErr.Load()))
	ch <- prometheus.MustNewConstMetric(se.pushOkDesc, prometheus.GaugeValue, float64(se.pushOk.Load()))
	ch <- prometheus.MustNewConstMetric(se.pushErrDesc, prometheus.GaugeValue, float64(se.pushErr.Load()))
	ch <- prometheus.MustNewConstMetric(se.deadDesc, prometheus.GaugeValue, float64(se.dead.Load()))
	ch <- prometheus.MustNewConstMetric(se.queueSizeDesc, prometheus.GaugeValue, float64(se.queue.Len()))

	se.pushLatencyHistogram.Collect(ch)
	se.pushRequestCounter.Collect(ch)
	se.dispatchCounter.Collect(ch)
}
