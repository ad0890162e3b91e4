// Package dispatch hands queued ingestion runs to their executor. The
// primary path publishes run jobs to Kafka for the worker fleet; when the
// broker is unreachable a bounded in-process pool executes the same runner
// entry point, with backpressure instead of unbounded spawning.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/marketpulse/transaction-analytics/pkg/errors"
	"github.com/marketpulse/transaction-analytics/pkg/kafka"
	"github.com/marketpulse/transaction-analytics/pkg/metrics"
	"github.com/marketpulse/transaction-analytics/pkg/resilience"
)

// publishTimeout caps one publish attempt; the fallback pool should take
// over quickly when the broker hangs rather than errors.
const publishTimeout = 5 * time.Second

// Job identifies one queued run and its staged source file.
type Job struct {
	RunID    uuid.UUID `json:"run_id"`
	FilePath string    `json:"file_path"`
}

// Dispatcher enqueues a run job for asynchronous execution.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// Processor executes one run to its terminal state. The runner implements
// it.
type Processor interface {
	Process(ctx context.Context, runID uuid.UUID, filePath string) error
}

// KafkaDispatcher publishes run jobs to the ingestion-runs topic. The
// circuit breaker trips after repeated broker failures so subsequent
// submissions fall through to the in-process pool without paying a connect
// timeout each time.
type KafkaDispatcher struct {
	producer *kafka.Producer
	breaker  *resilience.CircuitBreaker
	logger   *slog.Logger
}

// NewKafkaDispatcher creates a KafkaDispatcher around the given producer.
func NewKafkaDispatcher(producer *kafka.Producer) *KafkaDispatcher {
	return &KafkaDispatcher{
		producer: producer,
		breaker:  resilience.NewCircuitBreaker("run-dispatch", resilience.CircuitBreakerConfig{}),
		logger:   slog.Default().With("component", "kafka-dispatcher"),
	}
}

// Dispatch publishes the job, keyed by run ID for partition affinity.
// Transient broker errors are retried briefly under a publish deadline;
// persistent failure counts against the breaker.
func (d *KafkaDispatcher) Dispatch(ctx context.Context, job Job) error {
	return d.breaker.Execute(func() error {
		return resilience.Retry(ctx, "publish-run-job", resilience.RetryConfig{MaxAttempts: 2}, func() error {
			return resilience.WithTimeout(ctx, publishTimeout, "publish-run-job", func(ctx context.Context) error {
				return d.producer.Publish(ctx, kafka.Event{
					Key:   job.RunID.String(),
					Value: job,
				})
			})
		})
	})
}

// Pool is the synchronous fallback: a fixed set of workers draining a
// bounded queue. A full queue rejects the submission rather than growing.
type Pool struct {
	jobs      chan Job
	workers   int
	processor Processor
	metrics   *metrics.Metrics
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewPool creates a fallback pool with the given worker count and queue
// depth (defaults 4 and 16 when non-positive).
func NewPool(workers, depth int, processor Processor, m *metrics.Metrics) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if depth <= 0 {
		depth = 16
	}
	return &Pool{
		jobs:      make(chan Job, depth),
		workers:   workers,
		processor: processor,
		metrics:   m,
		logger:    slog.Default().With("component", "fallback-pool"),
	}
}

// Start launches the worker goroutines. They drain the queue until ctx is
// cancelled, then finish in-flight runs.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("fallback pool started", "workers", p.workers, "queue_depth", cap(p.jobs))
}

// Submit enqueues a job without blocking. A full queue returns
// ErrQueueUnavailable so the gateway can roll the submission back.
func (p *Pool) Submit(job Job) error {
	select {
	case p.jobs <- job:
		if p.metrics != nil {
			p.metrics.FallbackQueueDepth.Set(float64(len(p.jobs)))
		}
		return nil
	default:
		return apperrors.ErrQueueUnavailable
	}
}

// Close stops accepting jobs and waits for the workers to drain.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			if p.metrics != nil {
				p.metrics.FallbackQueueDepth.Set(float64(len(p.jobs)))
			}
			if err := p.processor.Process(ctx, job.RunID, job.FilePath); err != nil {
				p.logger.Error("fallback run failed", "run_id", job.RunID, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// HandleMessage adapts a Processor into a Kafka message handler for the
// worker binary. Decode failures are logged and committed; retrying a
// malformed payload cannot succeed.
func HandleMessage(proc Processor) kafka.MessageHandler {
	log := slog.Default().With("component", "run-consumer")
	return func(ctx context.Context, key, value []byte) error {
		job, err := kafka.DecodeJSON[Job](value)
		if err != nil {
			log.Error("decoding run job failed", "key", string(key), "error", err)
			return nil
		}
		if err := proc.Process(ctx, job.RunID, job.FilePath); err != nil {
			log.Error("run failed", "run_id", job.RunID, "error", err)
		}
		return nil
	}
}
