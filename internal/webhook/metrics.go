package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	receivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signetry",
		Subsystem: "webhook",
		Name:      "received_total",
		Help:      "Provider webhook deliveries by processing outcome.",
	}, []string{"outcome"})

	signedDocFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signetry",
		Subsystem: "webhook",
		Name:      "signed_document_fetch_failures_total",
		Help:      "Signed document fetches that failed after a completed transition and were queued for retry.",
	})
)

const (
	outcomeApplied         = "applied"
	outcomeNoop            = "noop"
	outcomeUnknownEvent    = "unknown_event"
	outcomeUnknownEnvelope = "unknown_envelope"
	outcomeBadSignature    = "bad_signature"
	outcomeMalformed       = "malformed"
)
