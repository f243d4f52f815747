package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	channelsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "overflowgpt_channels_active",
		Help: "Open page channels",
	})

	envelopesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overflowgpt_envelopes_total",
		Help: "Envelopes received by key",
	}, []string{"key"})

	rejectedEnvelopesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "overflowgpt_envelopes_rejected_total",
		Help: "Inbound envelopes ignored because they failed validation",
	})

	reportedErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "overflowgpt_reported_errors_total",
		Help: "ERROR envelopes sent to pages",
	})
)
