package queue

import (
	"context"
	"log"
	"time"

	"github.com/smukkama/geofence-server/internal/domain"
	"github.com/smukkama/geofence-server/internal/metrics"
	"github.com/smukkama/geofence-server/internal/protocol"
)

// Publisher writes keyed messages. *Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// AlertForwarder copies matched alerts to the alert topic. Publish never
// blocks; alerts are dropped when the queue is full.
type AlertForwarder struct {
	publisher Publisher
	queue     chan domain.Alert
	timeout   time.Duration
}

// NewAlertForwarder creates a forwarder with a bounded queue
func NewAlertForwarder(publisher Publisher, queueSize int) *AlertForwarder {
	if queueSize < 1 {
		queueSize = 1
	}
	return &AlertForwarder{
		publisher: publisher,
		queue:     make(chan domain.Alert, queueSize),
		timeout:   5 * time.Second,
	}
}

// Publish enqueues an alert. It returns false when the alert was dropped.
func (f *AlertForwarder) Publish(alert domain.Alert) bool {
	select {
	case f.queue <- alert:
		return true
	default:
		metrics.ForwardDrops.Add(1)
		return false
	}
}

// Run writes queued alerts until ctx is done, then flushes what is left
func (f *AlertForwarder) Run(ctx context.Context) {
	for {
		select {
		case alert := <-f.queue:
			f.forward(ctx, alert)
		case <-ctx.Done():
			f.drain()
			return
		}
	}
}

func (f *AlertForwarder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	for {
		select {
		case alert := <-f.queue:
			f.forward(ctx, alert)
		default:
			return
		}
	}
}

func (f *AlertForwarder) forward(ctx context.Context, alert domain.Alert) {
	data, err := protocol.EncodeAlertNotification(protocol.NewAlertNotification(alert, time.Now()))
	if err != nil {
		metrics.ForwardFailures.Add(1)
		log.Printf("forwarder: encode event=%s err=%v", alert.EventID, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if err := f.publisher.Publish(ctx, alert.Vehicle.VehicleID, data); err != nil {
		metrics.ForwardFailures.Add(1)
		log.Printf("forwarder: publish event=%s vehicle=%s err=%v", alert.EventID, alert.Vehicle.VehicleID, err)
	}
}
