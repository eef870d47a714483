package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hackgods/clinic-booking/internal/observability/metrics"
)

// Handler performs one task. Returning nil marks the task delivered.
type Handler func(ctx context.Context, task Task) error

// ErrSkip marks a task delivered without running anything further, for
// tasks whose appointment is gone or no longer eligible.
var ErrSkip = errors.New("outbox: task skipped")

// Dispatcher polls the store and invokes the handler registered for each
// task kind.
type Dispatcher struct {
	store       Store
	logger      *zap.Logger
	metrics     *metrics.Metrics
	limiter     *rate.Limiter
	batchSize   int
	maxAttempts int
	interval    time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher(store Store, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		store:       store,
		logger:      logger,
		metrics:     m,
		limiter:     rate.NewLimiter(rate.Inf, 1),
		batchSize:   25,
		maxAttempts: 5,
		interval:    2 * time.Second,
		handlers:    make(map[string]Handler),
	}
}

func (d *Dispatcher) WithBatchSize(size int) *Dispatcher {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Dispatcher) WithMaxAttempts(n int) *Dispatcher {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

// WithRate throttles handler invocations to perSecond.
func (d *Dispatcher) WithRate(perSecond float64) *Dispatcher {
	if perSecond > 0 {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return d
}

func (d *Dispatcher) Handle(kind string, h Handler) {
	d.mu.Lock()
	d.handlers[kind] = h
	d.mu.Unlock()
}

func (d *Dispatcher) handler(kind string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[kind]
	return h, ok
}

// Enqueue lets the dispatcher stand in wherever a task queue is expected.
func (d *Dispatcher) Enqueue(ctx context.Context, tasks ...Task) error {
	return d.store.Enqueue(ctx, tasks...)
}

func (d *Dispatcher) Start(ctx context.Context) {
	if d.store == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.DrainOnce(ctx)
		}
	}
}

// DrainOnce delivers one batch and returns how many tasks succeeded.
func (d *Dispatcher) DrainOnce(ctx context.Context) int {
	tasks, err := d.store.FetchPending(ctx, d.batchSize, d.maxAttempts)
	if err != nil {
		d.logger.Error("outbox fetch failed", zap.Error(err))
		return 0
	}

	delivered := 0
	for _, task := range tasks {
		if err := d.limiter.Wait(ctx); err != nil {
			return delivered
		}
		if d.deliver(ctx, task) {
			delivered++
		}
	}
	return delivered
}

func (d *Dispatcher) deliver(ctx context.Context, task Task) bool {
	log := d.logger.With(
		zap.String("task_id", task.ID.String()),
		zap.String("kind", task.Kind),
		zap.String("appointment_id", task.AppointmentID.String()),
	)

	h, ok := d.handler(task.Kind)
	if !ok {
		d.fail(ctx, log, task, fmt.Errorf("no handler for kind %q", task.Kind))
		return false
	}

	err := h(ctx, task)
	switch {
	case err == nil:
		d.metrics.SideEffect(task.Kind, "ok")
	case errors.Is(err, ErrSkip):
		d.metrics.SideEffect(task.Kind, "skipped")
		log.Debug("outbox task skipped", zap.Error(err))
	default:
		d.fail(ctx, log, task, err)
		return false
	}

	if _, err := d.store.MarkDelivered(ctx, task.ID); err != nil {
		log.Error("failed to mark outbox task delivered", zap.Error(err))
		return false
	}
	return true
}

func (d *Dispatcher) fail(ctx context.Context, log *zap.Logger, task Task, cause error) {
	d.metrics.SideEffect(task.Kind, "error")
	attempt := task.Attempts + 1
	if attempt >= d.maxAttempts {
		log.Error("outbox task exhausted its attempts", zap.Int("attempts", attempt), zap.Error(cause))
	} else {
		log.Warn("outbox task failed, will retry", zap.Int("attempts", attempt), zap.Error(cause))
	}
	if err := d.store.MarkFailed(ctx, task.ID, cause.Error()); err != nil {
		log.Error("failed to record outbox failure", zap.Error(err))
	}
}
