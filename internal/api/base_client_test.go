package api

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBaseClient_DefaultLimit(t *testing.T) {
	client := NewBaseClient(ClientConfig{BaseURL: "https://api.github.com"}, nil)

	assert.Equal(t, MaxConcurrentRequests, cap(client.Semaphore))
	assert.NotNil(t, client.HTTPClient)
}

func TestDoRateLimited_BoundsConcurrency(t *testing.T) {
	// Arrange
	client := NewBaseClient(ClientConfig{MaxConcurrentRequests: 2}, nil)
	var running, peak int32
	var wg sync.WaitGroup

	// Act
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = client.DoRateLimited(context.Background(), func() error {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	// Assert
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestDoRateLimited_ContextCancelled(t *testing.T) {
	client := NewBaseClient(ClientConfig{MaxConcurrentRequests: 1}, nil)
	client.Semaphore <- struct{}{} // occupy the only slot

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := client.DoRateLimited(ctx, func() error {
		called = true
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
