package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	mutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_antinuke_mutations_total",
		Help: "Guild mutations seen by the anti-nuke engine, by action and actor classification",
	}, []string{"action", "actor"})
	punishmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_antinuke_punishments_total",
		Help: "Punishment attempts by outcome",
	}, []string{"outcome"})
	vanityReclaimsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_vanity_reclaims_total",
		Help: "Vanity drift reverts by source and result",
	}, []string{"source", "result"})
	activeSentinels = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_vanity_sentinels",
		Help: "Running vanity sentinels",
	})
	lockdownsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_lockdowns_total",
		Help: "Lock and unlock operations",
	}, []string{"op"})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(mutationsTotal, punishmentsTotal, vanityReclaimsTotal, activeSentinels, lockdownsTotal)
}

func IncMutation(action, actor string) { mutationsTotal.WithLabelValues(action, actor).Inc() }

func IncPunishment(outcome string) { punishmentsTotal.WithLabelValues(outcome).Inc() }

func IncVanityReclaim(source string, ok bool) {
	result := "failed"
	if ok {
		result = "ok"
	}
	vanityReclaimsTotal.WithLabelValues(source, result).Inc()
}

func SentinelStarted() { activeSentinels.Inc() }

func SentinelStopped() { activeSentinels.Dec() }

func IncLockdown(op string) { lockdownsTotal.WithLabelValues(op).Inc() }
