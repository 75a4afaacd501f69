package queue

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smukkama/geofence-server/internal/domain"
	"github.com/smukkama/geofence-server/internal/engine"
	"github.com/smukkama/geofence-server/internal/protocol"
)

// MessageReader fetches and commits messages. *Consumer implements it.
type MessageReader interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// LocationReporter accepts location reports. *engine.Engine implements it.
type LocationReporter interface {
	ReportLocation(ctx context.Context, report domain.LocationReport) (*engine.LocationResult, error)
}

// LocationConsumer feeds location records from Kafka into the engine. A
// message is committed once processed; a StorageError is retried instead
// so the offset never moves past an update that had no effect.
type LocationConsumer struct {
	reader     MessageReader
	reporter   LocationReporter
	retryDelay time.Duration
	maxDelay   time.Duration
}

// NewLocationConsumer creates a location consumer
func NewLocationConsumer(reader MessageReader, reporter LocationReporter) *LocationConsumer {
	return &LocationConsumer{
		reader:     reader,
		reporter:   reporter,
		retryDelay: 500 * time.Millisecond,
		maxDelay:   30 * time.Second,
	}
}

// Run consumes until ctx is done
func (lc *LocationConsumer) Run(ctx context.Context) {
	for {
		msg, err := lc.reader.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("consumer: fetch err=%v", err)
			if !sleep(ctx, lc.retryDelay) {
				return
			}
			continue
		}

		if !lc.process(ctx, msg) {
			return
		}

		if err := lc.reader.Commit(ctx, msg); err != nil {
			log.Printf("consumer: commit partition=%d offset=%d err=%v", msg.Partition, msg.Offset, err)
		}
	}
}

// process handles one message. It returns false only when ctx ended while
// a StorageError was being retried.
func (lc *LocationConsumer) process(ctx context.Context, msg kafka.Message) bool {
	rec, err := protocol.DecodeLocationRecord(msg.Value)
	if err != nil {
		log.Printf("consumer: skip undecodable partition=%d offset=%d err=%v", msg.Partition, msg.Offset, err)
		return true
	}

	delay := lc.retryDelay
	for {
		_, err := lc.reporter.ReportLocation(ctx, rec.Report())
		if err == nil {
			return true
		}

		var se *domain.StorageError
		if !errors.As(err, &se) {
			log.Printf("consumer: skip vehicle=%s offset=%d err=%v", rec.VehicleID, msg.Offset, err)
			return true
		}

		log.Printf("consumer: retry vehicle=%s offset=%d in=%s err=%v", rec.VehicleID, msg.Offset, delay, err)
		if !sleep(ctx, delay) {
			return false
		}
		delay *= 2
		if delay > lc.maxDelay {
			delay = lc.maxDelay
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
