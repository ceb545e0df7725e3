package async_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pocketwebanalytics/internal/pkg/async"
)

func TestPoolExecute(t *testing.T) {
	pool := async.NewPool(2)
	tasks := []async.Task{
		{Name: "one", Execute: func(ctx context.Context) (any, error) { return 1, nil }},
		{Name: "two", Execute: func(ctx context.Context) (any, error) { return 2, nil }},
		{Name: "fail", Execute: func(ctx context.Context) (any, error) { return nil, errors.New("boom") }},
	}

	results := pool.Execute(context.Background(), tasks)

	require.Len(t, results, 3)
	assert.Equal(t, 1, results["one"].Data)
	assert.Equal(t, 2, results["two"].Data)
	assert.EqualError(t, results["fail"].Err, "boom")

	// pools are reusable
	again := pool.Execute(context.Background(), tasks[:1])
	assert.Equal(t, 1, again["one"].Data)
}

func TestQueue(t *testing.T) {
	t.Run("runs every submitted job before close returns", func(t *testing.T) {
		q := async.NewQueue(3, 10)
		var count atomic.Int32
		for i := 0; i < 20; i++ {
			require.NoError(t, q.Submit(func() { count.Add(1) }))
		}
		q.Close()
		assert.Equal(t, int32(20), count.Load())
	})

	t.Run("rejects jobs after close", func(t *testing.T) {
		q := async.NewQueue(1, 1)
		q.Close()
		assert.ErrorIs(t, q.Submit(func() {}), async.ErrQueueClosed)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		q := async.NewQueue(1, 0)
		var wg sync.WaitGroup
		wg.Add(1)
		require.NoError(t, q.Submit(func() { wg.Done() }))
		wg.Wait()
		q.Close()
		q.Close()
	})
}
