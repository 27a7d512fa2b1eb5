// Package metrics exposes the "counters only" observability surface
// named in spec §1/§6. No HTTP exporter is started here — per the
// scope note in spec §1 ("telemetry exporters" are an external
// collaborator) — the registry is exposed for an external collector to
// scrape, not served by the core.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is a dedicated registry rather than the global default, so
// embedding applications can mount it under their own exporter without
// colliding with unrelated process metrics.
var Registry = prometheus.NewRegistry()

var (
	DownloadsStarted = counterVec("chiral_downloads_started_total", "Downloads started, by trigger.", "trigger")
	DownloadsCompleted = counter("chiral_downloads_completed_total", "Downloads that reassembled successfully.")
	DownloadsFailed = counterVec("chiral_downloads_failed_total", "Downloads that failed, by error kind.", "kind")

	ChunksTransferred = counterVec("chiral_chunks_transferred_total", "Chunks successfully transferred, by protocol.", "protocol")
	ChunkIntegrityFailures = counter("chiral_chunk_integrity_failures_total", "Chunks that failed hash verification on receipt.")

	DHTPuts = counterVec("chiral_dht_puts_total", "DHT put_record calls, by outcome.", "outcome")
	DHTGets = counterVec("chiral_dht_gets_total", "DHT get_record calls, by outcome.", "outcome")

	VerdictsPublished = counter("chiral_verdicts_published_total", "Reputation verdicts published to the DHT.")
	VerdictsRejected = counterVec("chiral_verdicts_rejected_total", "Verdicts rejected before publish, by reason.", "reason")

	PaymentNotifyAttempts = counterVec("chiral_payment_notify_attempts_total", "Payment notification send attempts, by outcome.", "outcome")
)

func counter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	Registry.MustRegister(c)
	return c
}

func counterVec(name, help string, label string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{label})
	Registry.MustRegister(c)
	return c
}
