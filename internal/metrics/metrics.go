package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "streamgate",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamgate",
		Name:      "active_sessions",
		Help:      "Number of live stream sessions.",
	})

	TranscodersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamgate",
		Name:      "transcoders_active",
		Help:      "Number of currently running transcoder subprocesses.",
	})

	TranscodersQueued = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamgate",
		Name:      "transcoders_queued",
		Help:      "Number of transcoder jobs waiting for admission.",
	})

	TranscoderStartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "transcoder_starts_total",
		Help:      "Total number of transcoder subprocesses started.",
	})

	TranscoderFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "transcoder_failures_total",
		Help:      "Total number of transcoder subprocess failures.",
	})

	SessionsReadyTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "sessions_ready_total",
		Help:      "Total number of sessions that reached Ready.",
	})

	SessionsFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "sessions_failed_total",
		Help:      "Total number of sessions that reached Failed, by error kind.",
	}, []string{"kind"})

	RetentionDeletionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "retention_deletions_total",
		Help:      "Total number of files deleted by the retention protocol.",
	})

	RetentionBytesReclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "retention_bytes_reclaimed_total",
		Help:      "Total bytes reclaimed by the retention protocol.",
	})

	DetectedMemoryMB = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamgate",
		Name:      "detected_memory_mb",
		Help:      "Memory limit detected by the resource probe in MB.",
	})

	DetectedCPUCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamgate",
		Name:      "detected_cpu_count",
		Help:      "CPU count detected by the resource probe.",
	})

	SeekRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "seek_requests_total",
		Help:      "Total number of seek requests.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveSessions,
		TranscodersActive,
		TranscodersQueued,
		TranscoderStartsTotal,
		TranscoderFailuresTotal,
		SessionsReadyTotal,
		SessionsFailedTotal,
		RetentionDeletionsTotal,
		RetentionBytesReclaimed,
		DetectedMemoryMB,
		DetectedCPUCount,
		SeekRequestsTotal,
	)
}
