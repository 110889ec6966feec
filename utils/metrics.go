package utils

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	pollCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "omnibox",
		Name:      "poll_cycles_total",
		Help:      "Poll cycles by topic and result.",
	}, []string{"topic", "result"})

	pollDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "omnibox",
		Name:      "poll_cycle_duration_seconds",
		Help:      "Time from fetch start to broadcast end.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"topic"})

	liveSubscribers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "omnibox",
		Name:      "live_subscribers",
		Help:      "Currently registered live-update listeners.",
	}, []string{"topic"})

	prunedSubscribers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "omnibox",
		Name:      "pruned_subscribers_total",
		Help:      "Listeners removed by the registry, by reason.",
	}, []string{"topic", "reason"})

	conversationsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "omnibox",
		Name:      "conversations",
		Help:      "Conversations in the last successful snapshot.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(pollCycles, pollDuration, liveSubscribers, prunedSubscribers, conversationsGauge)
}

func pruneReason(err error) string {
	switch err {
	case ErrSubscriberBacklogged:
		return "backlog"
	case ErrSubscriberExpired:
		return "timeout"
	case ErrSubscriberClosed:
		return "closed"
	case nil:
		return "unsubscribe"
	}
	return "error"
}
