package rt

import (
	"errors"
	"sync"

	"github.com/fxnlabs/hwrt/internal/metrics"
	"go.uber.org/zap"
)

// Sink receives every failure of the runtime core so the surrounding
// runtime can log, retry or propagate them uniformly.
type Sink interface {
	Register(err error)
}

// MaxQueuedErrors bounds an ErrorQueue. The oldest errors are dropped first.
const MaxQueuedErrors = 1024

// ErrorQueue is the default Sink. Errors are logged when registered and kept
// until popped.
type ErrorQueue struct {
	mu     sync.Mutex
	errs   []error
	logger *zap.Logger
}

// NewErrorQueue creates an empty queue logging through logger.
func NewErrorQueue(logger *zap.Logger) *ErrorQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorQueue{logger: logger.Named("errors")}
}

// Register records err.
func (q *ErrorQueue) Register(err error) {
	if err == nil {
		return
	}
	kind := KindOf(err)
	metrics.RuntimeErrors.WithLabelValues(kind.String()).Inc()

	fields := []zap.Field{zap.String("kind", kind.String()), zap.Error(err)}
	var e *Error
	if errors.As(err, &e) {
		fields = append(fields, zap.String("source", e.Source), zap.Stringer("code", e.Code))
	}
	switch kind {
	case KindInvalidParameter, KindFeatureNotSupported:
		// Expected in normal operation, e.g. querying plain host pointers.
		q.logger.Debug("runtime error registered", fields...)
	default:
		q.logger.Error("runtime error registered", fields...)
	}

	q.mu.Lock()
	if len(q.errs) == MaxQueuedErrors {
		copy(q.errs, q.errs[1:])
		q.errs = q.errs[:len(q.errs)-1]
	}
	q.errs = append(q.errs, err)
	q.mu.Unlock()
}

// Len returns the number of queued errors.
func (q *ErrorQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.errs)
}

// Pop removes and returns all queued errors.
func (q *ErrorQueue) Pop() []error {
	q.mu.Lock()
	defer q.mu.Unlock()
	errs := q.errs
	q.errs = nil
	return errs
}

type nopSink struct{}

func (nopSink) Register(error) {}

// NopSink returns a Sink that drops every error.
func NopSink() Sink { return nopSink{} }
