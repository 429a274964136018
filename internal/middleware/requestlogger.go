package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/altverseweb3/backend/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Context key under which handlers name the RPC network they served
const RPCNetworkKey = "rpc_network"

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
)

// LogSink persists a batch of request logs
type LogSink interface {
	CreateBatch(ctx context.Context, logs []*models.RequestLog) error
}

// RequestLogger queues one record per request on a bounded channel and
// batch-inserts them from a background worker. A full queue drops records
// instead of blocking the request.
type RequestLogger struct {
	sink          LogSink
	queue         chan *models.RequestLog
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger

	mu      sync.Mutex
	dropped int64

	stop chan struct{}
	done chan struct{}
}

type RequestLoggerOption func(*RequestLogger)

func WithBatch(size int, interval time.Duration) RequestLoggerOption {
	return func(r *RequestLogger) {
		if size > 0 {
			r.batchSize = size
		}
		if interval > 0 {
			r.flushInterval = interval
		}
	}
}

func NewRequestLogger(sink LogSink, bufferSize int, logger *zap.Logger, opts ...RequestLoggerOption) *RequestLogger {
	if bufferSize < 1 {
		bufferSize = 1
	}

	r := &RequestLogger{
		sink:          sink,
		queue:         make(chan *models.RequestLog, bufferSize),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		logger:        logger,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Starts the background worker
func (r *RequestLogger) Start() {
	go r.run()
}

func (r *RequestLogger) run() {
	defer close(r.done)

	batch := make([]*models.RequestLog, 0, r.batchSize)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.insert(batch)
		batch = make([]*models.RequestLog, 0, r.batchSize)
	}

	for {
		select {
		case entry := <-r.queue:
			batch = append(batch, entry)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.stop:
			// Drain what is already queued
			for {
				select {
				case entry := <-r.queue:
					batch = append(batch, entry)
					if len(batch) >= r.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (r *RequestLogger) insert(batch []*models.RequestLog) {
	ctx, cancel := context.WithTimeout(context.Background(), r.flushInterval)
	defer cancel()

	if err := r.sink.CreateBatch(ctx, batch); err != nil {
		r.logger.Error("failed to insert request logs",
			zap.Int("count", len(batch)),
			zap.Error(err),
		)
	}
}

// Queues entry without blocking, false when the queue is full
func (r *RequestLogger) Enqueue(entry *models.RequestLog) bool {
	select {
	case r.queue <- entry:
		return true
	default:
		r.mu.Lock()
		r.dropped++
		dropped := r.dropped
		r.mu.Unlock()

		r.logger.Warn("request log queue full, dropping entry", zap.Int64("dropped_total", dropped))
		return false
	}
}

func (r *RequestLogger) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Stops the worker after flushing queued records, or when ctx is done
func (r *RequestLogger) Close(ctx context.Context) error {
	close(r.stop)

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *RequestLogger) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		r.Enqueue(&models.RequestLog{
			Timestamp:      start.UTC(),
			RequestID:      c.GetString(RequestIDKey),
			Method:         c.Request.Method,
			Path:           c.Request.URL.Path,
			StatusCode:     c.Writer.Status(),
			ResponseTimeMs: int(time.Since(start).Milliseconds()),
			IPAddress:      ClientID(c),
			UserAgent:      c.Request.UserAgent(),
			Network:        c.GetString(RPCNetworkKey),
		})
	}
}
