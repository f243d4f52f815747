package chatgpt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// credentialFetchTotal counts session endpoint fetches by result.
var credentialFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "overflowgpt_credential_fetch_total",
	Help: "Access token fetches from the session endpoint by result",
}, []string{"result"})
