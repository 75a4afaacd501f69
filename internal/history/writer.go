// Package history bulk-loads raw location updates into the locations table.
package history

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smukkama/geofence-server/internal/domain"
	"github.com/smukkama/geofence-server/internal/metrics"
)

// Copier is the part of *pgxpool.Pool the writer needs
type Copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

var locationColumns = []string{"vehicle_id", "latitude", "longitude", "timestamp", "received_at"}

type item struct {
	update     domain.LocationUpdate
	receivedAt time.Time
}

// Writer batches location updates and writes them with COPY
type Writer struct {
	ch         chan item
	db         Copier
	batchSize  int
	flushEvery time.Duration
	retryDelay time.Duration
}

// NewWriter creates a history writer
func NewWriter(db Copier, channelSize, batchSize int, flushEvery time.Duration) *Writer {
	if batchSize < 1 {
		batchSize = 1
	}
	if flushEvery <= 0 {
		flushEvery = 100 * time.Millisecond
	}
	return &Writer{
		ch:         make(chan item, channelSize),
		db:         db,
		batchSize:  batchSize,
		flushEvery: flushEvery,
		retryDelay: 500 * time.Millisecond,
	}
}

// Connect opens a pgx pool for the writer
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return pool, nil
}

// Offer queues an update without blocking. Updates are dropped when the
// queue is full.
func (w *Writer) Offer(update domain.LocationUpdate) bool {
	select {
	case w.ch <- item{update: update, receivedAt: time.Now().UTC()}:
		return true
	default:
		metrics.HistoryDrops.Add(1)
		return false
	}
}

// Run writes batches until ctx is done, flushing what is left on exit
func (w *Writer) Run(ctx context.Context) {
	batch := make([]item, 0, w.batchSize)
	ticker := time.NewTicker(w.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case it := <-w.ch:
			batch = append(batch, it)
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			batch = w.drain(batch)
			if len(batch) > 0 {
				w.flush(context.Background(), batch)
			}
			return
		}
	}
}

func (w *Writer) drain(batch []item) []item {
	for {
		select {
		case it := <-w.ch:
			batch = append(batch, it)
		default:
			return batch
		}
	}
}

func (w *Writer) flush(ctx context.Context, batch []item) {
	err := w.write(ctx, batch)
	if err != nil {
		log.Printf("history: write failed batch=%d, retrying: %v", len(batch), err)
		time.Sleep(w.retryDelay)
		err = w.write(ctx, batch)
		if err != nil {
			log.Printf("history: write permanently failed batch=%d: %v", len(batch), err)
			metrics.HistoryWriteFailures.Add(int64(len(batch)))
			return
		}
	}
	metrics.HistoryWriteSuccess.Add(int64(len(batch)))
}

func (w *Writer) write(ctx context.Context, batch []item) error {
	rows := make([][]any, len(batch))
	for i, it := range batch {
		rows[i] = []any{
			it.update.VehicleID,
			it.update.Point.Lat,
			it.update.Point.Lon,
			it.update.Timestamp,
			it.receivedAt,
		}
	}

	_, err := w.db.CopyFrom(ctx, pgx.Identifier{"locations"}, locationColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", len(batch), err)
	}
	return nil
}
