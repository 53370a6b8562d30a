package workers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gasPriceGwei = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "portal",
		Name:      "gas_price_gwei",
		Help:      "Last polled gas price per network.",
	}, []string{"chain"})

	pollErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "poll_errors_total",
		Help:      "Failed poller reads by poller.",
	}, []string{"poller"})

	pendingRedemptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "portal",
		Name:      "redemptions_pending",
		Help:      "Unfulfilled redemption requests of the connected account.",
	})
)
