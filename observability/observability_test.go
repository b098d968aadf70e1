package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLocalObserver(t *testing.T) {
	observer := NewLocalObserver()
	assert.NotNil(t, observer)
}

func TestObserverAutoInitializes(t *testing.T) {
	observer := Observer()
	assert.NotNil(t, observer)
}

func TestObserverSingleton(t *testing.T) {
	observer1 := Observer()
	observer2 := Observer()
	assert.Equal(t, observer1, observer2)
}

func TestCreateSpan(t *testing.T) {
	NewLocalObserver()
	ctx, span := Observer().CreateSpan(context.Background(), "test-span")
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
	span.End()
}

func TestWrapJobSuccess(t *testing.T) {
	NewLocalObserver()
	called := false
	err := WrapJob(context.Background(), "daily", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, called)
}

func TestWrapJobFailure(t *testing.T) {
	NewLocalObserver()
	wantErr := errors.New("boom")
	err := WrapJob(context.Background(), "daily", func(ctx context.Context) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestShutdown(t *testing.T) {
	observer := NewLocalObserver()
	err := observer.Shutdown(context.Background())
	assert.NoError(t, err)
}
