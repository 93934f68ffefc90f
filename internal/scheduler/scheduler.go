// Package scheduler serializes access to the one resident speech model.
// It is the only synchronization point in the core: decoding runs fully
// parallel per request, inference goes through a bounded FIFO queue and a
// fixed pool of executors.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voxserve/voxserve/internal/audio"
	"github.com/voxserve/voxserve/internal/whisper"
)

var (
	// ErrOverloaded is returned immediately when the wait queue is full;
	// callers never block behind an unbounded backlog.
	ErrOverloaded = errors.New("scheduler overloaded")
	// ErrTimeout marks an execution that exceeded the configured bound.
	// It is request-fatal, not model-fatal.
	ErrTimeout = errors.New("inference timed out")
	ErrClosed  = errors.New("scheduler closed")
)

// Inferencer is the capability the scheduler guards. *whisper.Handle
// implements it; tests substitute fakes.
type Inferencer interface {
	Infer(ctx context.Context, buf *audio.Buffer, opts whisper.DecodeOptions) (string, error)
}

type Config struct {
	// Concurrency is the ceiling C on simultaneously executing inferences.
	// Raise it above 1 only when the model handle is safe for concurrent
	// execution (e.g. multiple replicas loaded).
	Concurrency int
	// QueueDepth bounds how many admitted requests may wait beyond the
	// ceiling before submissions are rejected.
	QueueDepth int
	// ExecTimeout bounds a single execution; 0 disables the bound.
	ExecTimeout time.Duration
	Logger      *zap.Logger
}

const (
	DefaultConcurrency = 1
	DefaultQueueDepth  = 32
	DefaultExecTimeout = 5 * time.Minute
)

type outcome struct {
	text string
	err  error
}

// slot is one admission ticket: created on submit, resolved exactly once.
type slot struct {
	ctx      context.Context
	buf      *audio.Buffer
	opts     whisper.DecodeOptions
	result   chan outcome
	enqueued time.Time
}

type Scheduler struct {
	engine  Inferencer
	queue   chan *slot
	timeout time.Duration
	log     *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New starts the executor pool. Call Close to stop it.
func New(engine Inferencer, cfg Config) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Scheduler{
		engine:  engine,
		queue:   make(chan *slot, cfg.QueueDepth),
		timeout: cfg.ExecTimeout,
		log:     cfg.Logger,
		done:    make(chan struct{}),
	}

	s.wg.Add(cfg.Concurrency)
	for i := 0; i < cfg.Concurrency; i++ {
		go s.worker(i)
	}

	return s
}

// Submit enqueues one request and blocks until it resolves. Safe for
// concurrent use. Queued requests start executing in arrival order; a full
// queue fails fast with ErrOverloaded.
func (s *Scheduler) Submit(ctx context.Context, buf *audio.Buffer, opts whisper.DecodeOptions) (string, error) {
	select {
	case <-s.done:
		return "", ErrClosed
	default:
	}

	sl := &slot{
		ctx:      ctx,
		buf:      buf,
		opts:     opts,
		result:   make(chan outcome, 1),
		enqueued: time.Now(),
	}

	select {
	case s.queue <- sl:
	default:
		return "", fmt.Errorf("%w: queue depth %d exceeded", ErrOverloaded, cap(s.queue))
	}

	select {
	case out := <-sl.result:
		return out.text, out.err
	case <-ctx.Done():
		// Queued: the worker skips it at admission. Executing: the run
		// completes and its result is discarded.
		return "", ctx.Err()
	case <-s.done:
		return "", ErrClosed
	}
}

// Close stops admitting work and waits for in-flight executions to finish.
// Blocked submitters are released with ErrClosed.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case sl := <-s.queue:
			s.execute(id, sl)
		}
	}
}

func (s *Scheduler) execute(id int, sl *slot) {
	// Cancelled while waiting: drop without touching the model.
	if err := sl.ctx.Err(); err != nil {
		sl.result <- outcome{err: err}
		return
	}

	queueWait := time.Since(sl.enqueued)

	execCtx := sl.ctx
	cancel := context.CancelFunc(func() {})
	if s.timeout > 0 {
		execCtx, cancel = context.WithTimeout(sl.ctx, s.timeout)
	}
	defer cancel()

	started := time.Now()
	running := make(chan outcome, 1)
	go func() {
		text, err := s.engine.Infer(execCtx, sl.buf, sl.opts)
		running <- outcome{text: text, err: err}
	}()

	select {
	case out := <-running:
		sl.result <- out
		s.log.Debug("inference slot released",
			zap.Int("worker", id),
			zap.Duration("queue_wait", queueWait),
			zap.Duration("exec", time.Since(started)),
			zap.Bool("failed", out.err != nil))
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			sl.result <- outcome{err: fmt.Errorf("%w after %s", ErrTimeout, s.timeout)}
		} else {
			sl.result <- outcome{err: sl.ctx.Err()}
		}
		// The engine has no interruption primitive. Hold this executor
		// until the call returns so the ceiling is never exceeded, then
		// discard whatever it produced.
		out := <-running
		s.log.Warn("discarded result of abandoned inference",
			zap.Int("worker", id),
			zap.Duration("exec", time.Since(started)),
			zap.NamedError("exec_err", out.err),
			zap.NamedError("ctx_err", execCtx.Err()))
	}
}
