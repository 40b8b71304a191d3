package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func TestFailoverRateLimiter(t *testing.T) {
	primary := new(mockLimiter)
	fallback := new(mockLimiter)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverRateLimiter(primary, fallback, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("CheckRateLimit", ctx, "sess-1", 5, time.Minute).Return(true, nil).Once()

		ok, err := repo.CheckRateLimit(ctx, "sess-1", 5, time.Minute)
		assert.NoError(t, err)
		assert.True(t, ok)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("CheckRateLimit", ctx, "sess-2", 5, time.Minute).Return(false, errors.New("fail")).Once()
		fallback.On("CheckRateLimit", ctx, "sess-2", 5, time.Minute).Return(true, nil).Once()

		ok, err := repo.CheckRateLimit(ctx, "sess-2", 5, time.Minute)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("StaysOnFallbackUntilRetry", func(t *testing.T) {
		fallback.On("CheckRateLimit", ctx, "sess-3", 5, time.Minute).Return(false, nil).Once()

		ok, err := repo.CheckRateLimit(ctx, "sess-3", 5, time.Minute)
		assert.NoError(t, err)
		assert.False(t, ok)
		primary.AssertNotCalled(t, "CheckRateLimit", ctx, "sess-3", 5, time.Minute)
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		repo.isDown.Store(true)
		repo.lastCheck = time.Now().Add(-2 * time.Minute)

		primary.On("CheckRateLimit", ctx, "sess-4", 5, time.Minute).Return(true, nil).Once()

		ok, err := repo.CheckRateLimit(ctx, "sess-4", 5, time.Minute)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.False(t, repo.isDown.Load())
		primary.AssertExpectations(t)
	})
}
