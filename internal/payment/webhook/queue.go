package webhook

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/rentledger/internal/config"
	obsmetrics "github.com/smallbiznis/rentledger/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/rentledger/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultWorkers    = 4
	defaultQueueSize  = 256
	defaultJobTimeout = 30 * time.Second
)

type Params struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Log        *zap.Logger
	Config     config.Config
	Reconciler paymentdomain.Reconciler
	Gateway    paymentdomain.Gateway
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Queue runs reconciliations off the request path on a fixed set of workers.
// Each delivery gets a fresh background context; the request's context is
// never carried over.
type Queue struct {
	log        *zap.Logger
	reconciler paymentdomain.Reconciler
	provider   string
	obsMetrics *obsmetrics.Metrics

	jobs       chan string
	workers    int
	jobTimeout time.Duration

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func NewQueue(p Params) paymentdomain.Queue {
	q := New(p.Log, p.Reconciler, p.Gateway.Name(), p.Config.Webhook, p.ObsMetrics)
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			q.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return q.Stop(ctx)
		},
	})
	return q
}

func New(log *zap.Logger, reconciler paymentdomain.Reconciler, provider string, cfg config.WebhookConfig, metrics *obsmetrics.Metrics) *Queue {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	return &Queue{
		log:        log.Named("payment.webhook"),
		reconciler: reconciler,
		provider:   provider,
		obsMetrics: metrics,
		jobs:       make(chan string, size),
		workers:    workers,
		jobTimeout: timeout,
	}
}

func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.run()
	}
	q.log.Info("webhook workers started", zap.Int("workers", q.workers), zap.Int("queue_size", cap(q.jobs)))
}

// Stop refuses new deliveries and waits for queued ones to drain or ctx to end.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		q.log.Warn("webhook workers did not drain before shutdown", zap.Int("pending", len(q.jobs)))
		return ctx.Err()
	}
}

// Enqueue never blocks. It reports false when the delivery was dropped.
func (q *Queue) Enqueue(paymentID string) bool {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return false
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		q.log.Warn("webhook dropped, queue stopped", zap.String("payment_id", paymentID))
		q.record("dropped")
		return false
	}

	select {
	case q.jobs <- paymentID:
		q.record("queued")
		return true
	default:
		q.log.Warn("webhook dropped, queue full",
			zap.String("payment_id", paymentID),
			zap.Int("queue_size", cap(q.jobs)),
		)
		q.record("dropped")
		return false
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	for paymentID := range q.jobs {
		q.process(paymentID)
	}
}

func (q *Queue) process(paymentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), q.jobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			q.log.Error("reconcile panicked", zap.String("payment_id", paymentID), zap.Any("panic", r))
		}
	}()

	if err := q.reconciler.Reconcile(ctx, paymentID); err != nil {
		q.log.Warn("reconcile did not complete", zap.String("payment_id", paymentID), zap.Error(err))
	}
}

func (q *Queue) record(outcome string) {
	if q.obsMetrics == nil {
		return
	}
	q.obsMetrics.RecordWebhookDelivery(context.Background(), q.provider, outcome)
}
