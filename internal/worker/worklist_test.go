package worker

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsCapacityToNumCPU(t *testing.T) {
	p := New(0)
	assert.Equal(t, runtime.NumCPU(), p.Capacity())

	p = New(-3)
	assert.Equal(t, runtime.NumCPU(), p.Capacity())

	p = New(4)
	assert.Equal(t, 4, p.Capacity())
}

func TestRunStageVisitsEveryItem(t *testing.T) {
	p := New(2)
	var (
		mu   sync.Mutex
		seen []int
	)
	err := RunStage(context.Background(), p, []int{1, 2, 3, 4}, func(_ context.Context, item int) error {
		mu.Lock()
		seen = append(seen, item)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	sort.Ints(seen)
	assert.Equal(t, []int{1, 2, 3, 4}, seen)
}

func TestRunStagePropagatesFirstError(t *testing.T) {
	p := New(2)
	boom := errors.New("boom")
	err := RunStage(context.Background(), p, []int{1, 2, 3}, func(_ context.Context, item int) error {
		if item == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestRunWorklistProcessesEachEnqueuedItemOnce(t *testing.T) {
	p := New(3)
	var count int32
	err := RunWorklist(context.Background(), p, []int{1}, func(_ context.Context, item int, enqueue func(int)) error {
		atomic.AddInt32(&count, 1)
		if item < 5 {
			enqueue(item + 1)
			enqueue(item + 1) // re-enqueuing the same item must be a no-op
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(5), count)
}

func TestRunWorklistPropagatesErrorAndStops(t *testing.T) {
	p := New(2)
	boom := errors.New("boom")
	var count int32
	err := RunWorklist(context.Background(), p, []int{1, 2, 3}, func(_ context.Context, item int, enqueue func(int)) error {
		atomic.AddInt32(&count, 1)
		if item == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}
