package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/marketpulse/transaction-analytics/pkg/errors"
)

type countingProcessor struct {
	mu   sync.Mutex
	jobs []Job
	done chan struct{}
	want int
}

func (p *countingProcessor) Process(_ context.Context, runID uuid.UUID, filePath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, Job{RunID: runID, FilePath: filePath})
	if len(p.jobs) == p.want {
		close(p.done)
	}
	return nil
}

func TestPoolProcessesSubmittedJobs(t *testing.T) {
	proc := &countingProcessor{done: make(chan struct{}), want: 3}
	pool := NewPool(2, 8, proc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	for i := 0; i < 3; i++ {
		if err := pool.Submit(Job{RunID: uuid.New(), FilePath: "/tmp/f.csv"}); err != nil {
			t.Fatalf("Submit() job %d: %v", i, err)
		}
	}

	select {
	case <-proc.done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs not processed within deadline")
	}
}

func TestPoolBackpressureWhenQueueFull(t *testing.T) {
	// No workers started: the queue fills and stays full.
	pool := NewPool(1, 2, &countingProcessor{done: make(chan struct{}), want: 0}, nil)

	if err := pool.Submit(Job{RunID: uuid.New()}); err != nil {
		t.Fatalf("Submit() 1: %v", err)
	}
	if err := pool.Submit(Job{RunID: uuid.New()}); err != nil {
		t.Fatalf("Submit() 2: %v", err)
	}
	err := pool.Submit(Job{RunID: uuid.New()})
	if !errors.Is(err, apperrors.ErrQueueUnavailable) {
		t.Fatalf("Submit() on full queue: error = %v, want ErrQueueUnavailable", err)
	}
}

func TestPoolCloseDrainsQueue(t *testing.T) {
	proc := &countingProcessor{done: make(chan struct{}), want: 4}
	pool := NewPool(1, 8, proc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	for i := 0; i < 4; i++ {
		if err := pool.Submit(Job{RunID: uuid.New()}); err != nil {
			t.Fatalf("Submit() job %d: %v", i, err)
		}
	}
	pool.Close()

	proc.mu.Lock()
	defer proc.mu.Unlock()
	if len(proc.jobs) != 4 {
		t.Errorf("processed jobs = %d, want 4", len(proc.jobs))
	}
}

func TestHandleMessageDecodesJob(t *testing.T) {
	proc := &countingProcessor{done: make(chan struct{}), want: 1}
	handler := HandleMessage(proc)

	job := Job{RunID: uuid.New(), FilePath: "/data/staging/run.csv"}
	payload, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshaling job: %v", err)
	}

	if err := handler(context.Background(), []byte(job.RunID.String()), payload); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if len(proc.jobs) != 1 {
		t.Fatalf("processed jobs = %d, want 1", len(proc.jobs))
	}
	if proc.jobs[0].RunID != job.RunID || proc.jobs[0].FilePath != job.FilePath {
		t.Errorf("processed job = %+v, want %+v", proc.jobs[0], job)
	}
}

func TestHandleMessageCommitsMalformedPayload(t *testing.T) {
	proc := &countingProcessor{done: make(chan struct{}), want: 1}
	handler := HandleMessage(proc)

	if err := handler(context.Background(), nil, []byte("{not json")); err != nil {
		t.Fatalf("handler error = %v, want nil for malformed payload", err)
	}
	if len(proc.jobs) != 0 {
		t.Errorf("processed jobs = %d, want 0", len(proc.jobs))
	}
}
