package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	done := make(chan string, 1)
	q := NewQueue("test", func(_ context.Context, job Job) error {
		done <- job.ID
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job-1", Type: "demo"}))
	select {
	case id := <-done:
		assert.Equal(t, "job-1", id)
	case <-time.After(time.Second):
		t.Fatal("job not processed")
	}
}

func TestQueueRetriesUntilSuccess(t *testing.T) {
	var calls int32
	done := make(chan int, 1)
	q := NewQueue("retry", func(_ context.Context, job Job) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("transient")
		}
		done <- job.Attempt
		return nil
	}, QueueConfig{MaxRetries: 5, RetryDelay: 5 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job-1"}))
	select {
	case attempt := <-done:
		assert.Equal(t, 2, attempt)
	case <-time.After(time.Second):
		t.Fatal("job never succeeded")
	}
}

func TestQueueGivesUpAfterMaxRetries(t *testing.T) {
	gaveUp := make(chan Job, 1)
	q := NewQueue("fail", func(context.Context, Job) error {
		return errors.New("permanent")
	}, QueueConfig{MaxRetries: 1, RetryDelay: time.Millisecond, OnGiveUp: func(j Job, _ error) { gaveUp <- j }})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job-x"}))
	select {
	case j := <-gaveUp:
		assert.Equal(t, "job-x", j.ID)
		assert.Equal(t, 2, j.Attempt)
	case <-time.After(time.Second):
		t.Fatal("job was not abandoned")
	}
}

func TestQueueRejectsBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{ID: "a"}))
}

func TestQueueRejectsWhenFull(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue("full", func(context.Context, Job) error {
		<-block
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())
	defer func() {
		close(block)
		q.Stop()
	}()

	require.NoError(t, q.Enqueue(Job{ID: "1"}))
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue(Job{ID: "2"}))
	assert.Error(t, q.Enqueue(Job{ID: "3"}))
}

func TestQueueRejectsOnceParentContextEnds(t *testing.T) {
	var handled, gaveUp int32
	q := NewQueue("events", func(context.Context, Job) error {
		atomic.AddInt32(&handled, 1)
		return nil
	}, QueueConfig{OnGiveUp: func(Job, error) { atomic.AddInt32(&gaveUp, 1) }})
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	cancel()

	assert.Error(t, q.Enqueue(Job{ID: "late"}))
	q.Stop()
	assert.Zero(t, atomic.LoadInt32(&handled))
	assert.Zero(t, atomic.LoadInt32(&gaveUp))
	assert.Zero(t, q.Len())
}

func TestQueueStopAccountsForEveryBufferedJob(t *testing.T) {
	running := make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	var abandoned []string
	record := func(j Job, _ error) {
		mu.Lock()
		defer mu.Unlock()
		abandoned = append(abandoned, j.ID)
	}
	q := NewQueue("events", func(ctx context.Context, _ Job) error {
		once.Do(func() { close(running) })
		<-ctx.Done()
		return ctx.Err()
	}, QueueConfig{
		Workers:      1,
		BufferSize:   4,
		MaxRetries:   3,
		RetryDelay:   time.Hour,
		DrainTimeout: time.Millisecond,
		OnGiveUp:     record,
	})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job{ID: "1"}))
	<-running
	require.NoError(t, q.Enqueue(Job{ID: "2"}))
	require.NoError(t, q.Enqueue(Job{ID: "3"}))

	q.Stop()
	assert.Error(t, q.Enqueue(Job{ID: "4"}))

	mu.Lock()
	defer mu.Unlock()
	sort.Strings(abandoned)
	assert.Equal(t, []string{"1", "2", "3"}, abandoned)
	assert.Zero(t, q.Len())
}
