package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CatalogAttempts counts catalog lookup attempts per persona. The "outcome"
// label distinguishes successes from restricted, empty, and transport
// failures, so the fallback ladder can be watched per persona over time.
var CatalogAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ytgrab_catalog_attempts_total",
	Help: "Catalog lookup attempts by persona and outcome",
}, []string{"persona", "outcome"})

// DownloadRequests counts download requests per mode ("direct", "merge",
// "options") and terminal outcome ("ok" or the error kind).
var DownloadRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ytgrab_download_requests_total",
	Help: "Download requests by mode and outcome",
}, []string{"mode", "outcome"})

// ActiveRequests tracks download requests currently in flight per mode.
// This metric is a gauge, rising and falling as requests start and finish.
var ActiveRequests = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "ytgrab_active_requests",
	Help: "Download requests currently in flight",
}, []string{"mode"})

// BytesTransferred tracks the total bytes moved through the service. The
// "direction" label distinguishes upstream fetches from downstream delivery.
// This metric is a counter and only increases.
var BytesTransferred = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ytgrab_bytes_transferred",
	Help: "Total bytes transferred",
}, []string{"direction"})

// RemuxDuration observes wall-clock seconds spent in the remux subprocess,
// labeled by outcome ("ok", "failed", "timeout").
var RemuxDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "ytgrab_remux_duration_seconds",
	Help:    "Remux subprocess duration",
	Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
}, []string{"outcome"})

// ArtifactsRetained tracks merged output files currently held in the
// retention window awaiting cleanup.
var ArtifactsRetained = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "ytgrab_artifacts_retained",
	Help: "Merged output files awaiting retention cleanup",
})
