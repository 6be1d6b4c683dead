package device

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerRunKeepsOrder(t *testing.T) {
	m := NewManager[string](WithWorkerLimit[string](2))
	serials := []string{"c", "a", "b", "bad"}

	results := m.Run(context.Background(), serials, func(ctx context.Context, serial string) (string, error) {
		if serial == "bad" {
			return "", errors.New("offline")
		}
		return strings.ToUpper(serial), nil
	})

	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, serials[i], r.Serial)
	}
	assert.Equal(t, "C", results[0].Value)
	assert.Equal(t, "B", results[2].Value)

	failed := Failed(results)
	require.Len(t, failed, 1)
	assert.Equal(t, "bad", failed[0].Serial)
}

func TestManagerWorkerLimit(t *testing.T) {
	m := NewManager[int](WithWorkerLimit[int](3))
	var running, peak atomic.Int32

	m.Run(context.Background(), []string{"1", "2", "3", "4", "5", "6", "7", "8"}, func(ctx context.Context, serial string) (int, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return 0, nil
	})

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Positive(t, peak.Load())
}

func TestManagerCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	results := NewManager[int]().Run(ctx, []string{"a", "b"}, func(ctx context.Context, serial string) (int, error) {
		calls.Add(1)
		return 1, nil
	})
	assert.Zero(t, calls.Load())
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

func TestManagerEmpty(t *testing.T) {
	assert.Empty(t, NewManager[int](WithWorkerLimit[int](-1)).Run(context.Background(), nil, nil))
}
