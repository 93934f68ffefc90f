package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voxserve/voxserve/internal/audio"
	"github.com/voxserve/voxserve/internal/whisper"
)

// fakeEngine records call interleaving without touching a real model.
type fakeEngine struct {
	delay time.Duration
	gate  chan struct{} // when set, calls block until the gate closes
	fail  error

	mu      sync.Mutex
	order   []string
	calls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (f *fakeEngine) Infer(ctx context.Context, buf *audio.Buffer, opts whisper.DecodeOptions) (string, error) {
	f.calls.Add(1)
	active := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if active <= seen || f.maxSeen.CompareAndSwap(seen, active) {
			break
		}
	}

	f.mu.Lock()
	f.order = append(f.order, opts.Language.Tag(""))
	f.mu.Unlock()

	if f.gate != nil {
		<-f.gate
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail != nil {
		return "", f.fail
	}
	return "transcript", nil
}

func testBuffer() *audio.Buffer {
	return &audio.Buffer{Samples: make([]float32, 160), SampleRate: audio.SampleRate}
}

func TestSubmitReturnsEngineResult(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	s := New(engine, Config{})
	defer s.Close()

	text, err := s.Submit(context.Background(), testBuffer(), whisper.DecodeOptions{})
	require.NoError(t, err)
	require.Equal(t, "transcript", text)
}

func TestConcurrencyCeilingHolds(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{delay: 30 * time.Millisecond}
	s := New(engine, Config{Concurrency: 2, QueueDepth: 16})
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Submit(context.Background(), testBuffer(), whisper.DecodeOptions{})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(8), engine.calls.Load())
	require.LessOrEqual(t, engine.maxSeen.Load(), int32(2))
}

func TestSingleExecutorSerializes(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{delay: 50 * time.Millisecond}
	s := New(engine, Config{Concurrency: 1, QueueDepth: 4})
	defer s.Close()

	started := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Submit(context.Background(), testBuffer(), whisper.DecodeOptions{})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.GreaterOrEqual(t, time.Since(started), 100*time.Millisecond)
	require.Equal(t, int32(1), engine.maxSeen.Load())
}

func TestQueuedRequestsStartInArrivalOrder(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	engine := &fakeEngine{gate: gate}
	s := New(engine, Config{Concurrency: 1, QueueDepth: 8})
	defer s.Close()

	var wg sync.WaitGroup
	submit := func(lang string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Submit(context.Background(), testBuffer(), whisper.DecodeOptions{
				Language: whisper.ForcedLanguage(lang),
			})
			require.NoError(t, err)
		}()
	}

	submit("aa")
	require.Eventually(t, func() bool { return engine.calls.Load() == 1 }, time.Second, time.Millisecond)

	for _, lang := range []string{"bb", "cc", "dd"} {
		submit(lang)
		time.Sleep(20 * time.Millisecond)
	}

	close(gate)
	wg.Wait()

	engine.mu.Lock()
	defer engine.mu.Unlock()
	require.Equal(t, []string{"aa", "bb", "cc", "dd"}, engine.order)
}

func TestOverloadFailsFast(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	engine := &fakeEngine{gate: gate}
	s := New(engine, Config{Concurrency: 1, QueueDepth: 2})
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ { // 1 executing + 2 queued
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Submit(context.Background(), testBuffer(), whisper.DecodeOptions{})
			require.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return engine.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond) // let the two waiters enqueue

	started := time.Now()
	_, err := s.Submit(context.Background(), testBuffer(), whisper.DecodeOptions{})
	require.ErrorIs(t, err, ErrOverloaded)
	require.Less(t, time.Since(started), 100*time.Millisecond)

	close(gate)
	wg.Wait()
}

func TestExecutionTimeout(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{delay: 150 * time.Millisecond}
	s := New(engine, Config{Concurrency: 1, QueueDepth: 4, ExecTimeout: 30 * time.Millisecond})
	defer s.Close()

	_, err := s.Submit(context.Background(), testBuffer(), whisper.DecodeOptions{})
	require.ErrorIs(t, err, ErrTimeout)

	// The scheduler stays serviceable once the abandoned call drains.
	require.Eventually(t, func() bool {
		_, err := s.Submit(context.Background(), testBuffer(), whisper.DecodeOptions{})
		return errors.Is(err, ErrTimeout)
	}, time.Second, 20*time.Millisecond)
}

func TestCancelWhileQueuedSkipsExecution(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	engine := &fakeEngine{gate: gate}
	s := New(engine, Config{Concurrency: 1, QueueDepth: 4})
	defer s.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.Submit(context.Background(), testBuffer(), whisper.DecodeOptions{})
		require.NoError(t, err)
	}()
	require.Eventually(t, func() bool { return engine.calls.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.Submit(ctx, testBuffer(), whisper.DecodeOptions{})
		require.ErrorIs(t, err, context.Canceled)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	close(gate)
	wg.Wait()

	// The cancelled request never reached the engine.
	require.Eventually(t, func() bool {
		text, err := s.Submit(context.Background(), testBuffer(), whisper.DecodeOptions{})
		return err == nil && text == "transcript"
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, int32(2), engine.calls.Load())
}

func TestEngineFailureDoesNotPoisonScheduler(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{fail: errors.New("model exploded")}
	s := New(engine, Config{Concurrency: 1, QueueDepth: 4})
	defer s.Close()

	_, err := s.Submit(context.Background(), testBuffer(), whisper.DecodeOptions{})
	require.Error(t, err)

	engine.fail = nil
	text, err := s.Submit(context.Background(), testBuffer(), whisper.DecodeOptions{})
	require.NoError(t, err)
	require.Equal(t, "transcript", text)
}

func TestSubmitAfterClose(t *testing.T) {
	t.Parallel()

	s := New(&fakeEngine{}, Config{})
	s.Close()

	_, err := s.Submit(context.Background(), testBuffer(), whisper.DecodeOptions{})
	require.ErrorIs(t, err, ErrClosed)
}
