package logging

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relayforge/interceptproxy/internal/proxyerr"
)

var pid = os.Getpid()

// TransactionRecord is created at request start, finalized exactly
// once at response end or on failure.
type TransactionRecord struct {
	ID               string
	Method           string
	URL              string
	ClientAddr       string
	RequestExcerpt   string
	ResponseExcerpt  string
	UpstreamStatus   int // 0 if no upstream response was obtained
	UpstreamLatency  time.Duration
	TotalLatency     time.Duration
	BytesIn          int64
	BytesOut         int64
	ErrorKind        proxyerr.Kind // "" if the transaction succeeded
	ErrorDetail      string
	ProcessID        int
	GoroutineID      int64 // process-wide sequence number of this record, not a true thread id
	Timestamp        time.Time
}

// NewTransaction starts a record for an accepted request. method and
// clientAddr are known immediately; everything else is filled in as the
// transaction progresses and finalized by Emit.
func NewTransaction(method, clientAddr string) *TransactionRecord {
	return &TransactionRecord{
		ID:          uuid.NewString(),
		Method:      method,
		ClientAddr:  clientAddr,
		ProcessID:   pid,
		GoroutineID: NextTaskID(),
		Timestamp:   time.Now(),
	}
}

// taskSeq is a per-process monotonic counter standing in for a thread
// id in the emitted record. It is a single shared atomic counter,
// incremented by every NewTransaction call on the request path.
var taskSeq int64

func NextTaskID() int64 {
	return atomic.AddInt64(&taskSeq, 1)
}

// Sink decouples transaction emission from the connection hot path: the
// dispatcher calls Record, which enqueues onto a buffered channel drained
// by a single background goroutine, so a slow log writer never stalls an
// in-flight request.
type Sink struct {
	logger *zap.Logger
	ch     chan *TransactionRecord
	done   chan struct{}
}

// NewSink starts the draining goroutine. Call Close on shutdown to drain
// any records still queued.
func NewSink(logger *zap.Logger, bufferSize int) *Sink {
	s := &Sink{
		logger: logger,
		ch:     make(chan *TransactionRecord, bufferSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sink) run() {
	defer close(s.done)
	for rec := range s.ch {
		emit(s.logger, rec)
	}
}

// Record enqueues rec for emission. If the buffer is full, the record is
// emitted synchronously rather than dropped, so exactly one record is
// still emitted per transaction under backpressure.
func (s *Sink) Record(rec *TransactionRecord) {
	select {
	case s.ch <- rec:
	default:
		emit(s.logger, rec)
	}
}

// Close stops accepting new records and waits for the queue to drain.
func (s *Sink) Close() {
	close(s.ch)
	<-s.done
}

// Emit writes the transaction record to the logger exactly once. Most
// callers should prefer a Sink's Record method; Emit is exported for
// tests and for the synchronous fallback path.
func Emit(logger *zap.Logger, rec *TransactionRecord) {
	emit(logger, rec)
}

func emit(logger *zap.Logger, rec *TransactionRecord) {
	fields := []zap.Field{
		zap.String("txn_id", rec.ID),
		zap.String("method", rec.Method),
		zap.String("url", rec.URL),
		zap.String("client_addr", rec.ClientAddr),
		zap.Int("upstream_status", rec.UpstreamStatus),
		zap.Duration("upstream_latency", rec.UpstreamLatency),
		zap.Duration("total_latency", rec.TotalLatency),
		zap.Int64("bytes_in", rec.BytesIn),
		zap.Int64("bytes_out", rec.BytesOut),
		zap.Int("pid", rec.ProcessID),
		zap.Int64("task_id", rec.GoroutineID),
		zap.Time("timestamp", rec.Timestamp),
	}
	if rec.RequestExcerpt != "" {
		fields = append(fields, zap.String("request_excerpt", rec.RequestExcerpt))
	}
	if rec.ResponseExcerpt != "" {
		fields = append(fields, zap.String("response_excerpt", rec.ResponseExcerpt))
	}

	if rec.ErrorKind != "" {
		fields = append(fields, zap.String("error_kind", string(rec.ErrorKind)), zap.String("error_detail", rec.ErrorDetail))
		logger.Warn("transaction failed", fields...)
		return
	}
	logger.Info("transaction complete", fields...)
}
