package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ledgerDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "overflowgpt_ledger_dropped_total",
	Help: "Ledger writes dropped because the queue was full",
})
