// Package metrics exposes prometheus counters for the transcription
// pipeline, served by the local callback listener at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "notescribe"

// Metrics holds the pipeline counters. All fields are safe for concurrent use.
type Metrics struct {
	TranscriptionsCompleted prometheus.Counter
	TranscriptionsFailed    *prometheus.CounterVec
	UploadBytes             prometheus.Counter
	PollAttempts            prometheus.Counter
	BatchPending            prometheus.Gauge
	EngineInfo              *prometheus.GaugeVec
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TranscriptionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_completed_total",
			Help:      "Files transcribed successfully.",
		}),
		TranscriptionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_failed_total",
			Help:      "Transcriptions that did not produce a result, by reason.",
		}, []string{"reason"}),
		UploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes uploaded to the cloud storage endpoint.",
		}),
		PollAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_attempts_total",
			Help:      "Job status polls issued.",
		}),
		BatchPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_pending_files",
			Help:      "Files still waiting in the current batch.",
		}),
		EngineInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_info",
			Help:      "Configured transcription engine, value fixed at 1.",
		}, []string{"engine"}),
	}
	reg.MustRegister(m.TranscriptionsCompleted, m.TranscriptionsFailed, m.UploadBytes, m.PollAttempts, m.BatchPending, m.EngineInfo)
	return m
}
