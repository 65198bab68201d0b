// Package metrics exposes dispatch outcome counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sent counts records that reached the sent status after gateway calls.
	Sent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pushgate_notifications_sent_total",
		Help: "Notifications marked sent after dispatch.",
	})
	// Suppressed counts records marked sent without delivery by preference.
	Suppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pushgate_notifications_suppressed_total",
		Help: "Notifications suppressed by recipient preference.",
	})
	// Failed counts records marked failed by a record-level error.
	Failed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pushgate_notifications_failed_total",
		Help: "Notifications marked failed during dispatch.",
	})
	// TargetFailures counts individual gateway call failures.
	TargetFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pushgate_target_failures_total",
		Help: "Per-target gateway delivery failures.",
	})
	// Orphaned counts records deleted because no target could be resolved.
	Orphaned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pushgate_notifications_orphaned_total",
		Help: "Notifications deleted because every target was unresolvable.",
	})
)
