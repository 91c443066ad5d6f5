package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_Do(t *testing.T) {
	t.Parallel()

	t.Run("runs the job and returns its error", func(t *testing.T) {
		t.Parallel()
		p := newPool(2, 4)
		defer p.Stop()

		var ran atomic.Bool
		err := p.Do(t.Context(), func() error {
			ran.Store(true)
			return nil
		})
		require.NoError(t, err)
		assert.True(t, ran.Load())

		wantErr := errors.New("batch failed")
		assert.ErrorIs(t, p.Do(t.Context(), func() error { return wantErr }), wantErr)
	})

	t.Run("concurrent submitters", func(t *testing.T) {
		t.Parallel()
		p := newPool(4, 8)
		defer p.Stop()

		var count atomic.Int64
		var wg sync.WaitGroup
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				require.NoError(t, p.Do(t.Context(), func() error {
					count.Add(1)
					return nil
				}))
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(50), count.Load())
	})

	t.Run("context cancellation stops the wait", func(t *testing.T) {
		t.Parallel()
		p := newPool(1, 1)
		defer p.Stop()

		release := make(chan struct{})
		go func() {
			_ = p.Do(context.Background(), func() error {
				<-release
				return nil
			})
		}()

		// Wait until the blocking job occupies the single worker.
		require.Eventually(t, func() bool {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer cancel()
			return errors.Is(p.Do(ctx, func() error { return nil }), context.DeadlineExceeded)
		}, time.Second, 10*time.Millisecond)

		close(release)
	})
}

func TestPool_Stop(t *testing.T) {
	t.Parallel()

	t.Run("rejects submissions after stop", func(t *testing.T) {
		t.Parallel()
		p := newPool(2, 4)
		p.Stop()

		err := p.Do(t.Context(), func() error { return nil })
		assert.ErrorIs(t, err, ErrPoolStopped)
	})

	t.Run("idempotent", func(t *testing.T) {
		t.Parallel()
		p := newPool(1, 1)
		p.Stop()
		p.Stop()
	})
}
