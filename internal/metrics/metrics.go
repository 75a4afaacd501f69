package metrics

import (
	"fmt"
	"io"
	"sync/atomic"
)

var (
	LocationUpdates      atomic.Int64
	LocationFailures     atomic.Int64
	Transitions          atomic.Int64
	ViolationsRecorded   atomic.Int64
	AlertsMatched        atomic.Int64
	AlertsPublished      atomic.Int64
	AlertQueueDrops      atomic.Int64
	SubscriberDrops      atomic.Int64
	SubscriberDisconnect atomic.Int64
	ForwardDrops         atomic.Int64
	ForwardFailures      atomic.Int64
	HistoryDrops         atomic.Int64
	HistoryWriteSuccess  atomic.Int64
	HistoryWriteFailures atomic.Int64
	TrackerConnections   atomic.Int64
	Subscribers          atomic.Int64
)

// Write renders every counter in Prometheus text format
func Write(w io.Writer) {
	fmt.Fprintf(w, "geofence_location_updates_total %d\n", LocationUpdates.Load())
	fmt.Fprintf(w, "geofence_location_failures_total %d\n", LocationFailures.Load())
	fmt.Fprintf(w, "geofence_transitions_total %d\n", Transitions.Load())
	fmt.Fprintf(w, "geofence_violations_recorded_total %d\n", ViolationsRecorded.Load())
	fmt.Fprintf(w, "geofence_alerts_matched_total %d\n", AlertsMatched.Load())
	fmt.Fprintf(w, "geofence_alerts_published_total %d\n", AlertsPublished.Load())
	fmt.Fprintf(w, "geofence_alert_queue_drops_total %d\n", AlertQueueDrops.Load())
	fmt.Fprintf(w, "geofence_subscriber_drops_total %d\n", SubscriberDrops.Load())
	fmt.Fprintf(w, "geofence_subscriber_disconnects_total %d\n", SubscriberDisconnect.Load())
	fmt.Fprintf(w, "geofence_alert_forward_drops_total %d\n", ForwardDrops.Load())
	fmt.Fprintf(w, "geofence_alert_forward_failures_total %d\n", ForwardFailures.Load())
	fmt.Fprintf(w, "geofence_history_drops_total %d\n", HistoryDrops.Load())
	fmt.Fprintf(w, "geofence_history_write_success_total %d\n", HistoryWriteSuccess.Load())
	fmt.Fprintf(w, "geofence_history_write_failures_total %d\n", HistoryWriteFailures.Load())
	fmt.Fprintf(w, "geofence_tracker_connections %d\n", TrackerConnections.Load())
	fmt.Fprintf(w, "geofence_alert_subscribers %d\n", Subscribers.Load())
}
