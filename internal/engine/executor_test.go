package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowd/internal/logging"
	"flowd/pkg/models"
)

// fakeHandler scripts handler behavior and records every invocation.
type fakeHandler struct {
	mu    sync.Mutex
	calls []HandlerRequest
	times []time.Time
	fn    func(ctx context.Context, req HandlerRequest) (map[string]any, error)
}

func (h *fakeHandler) Invoke(ctx context.Context, req HandlerRequest) (map[string]any, error) {
	h.mu.Lock()
	h.calls = append(h.calls, req)
	h.times = append(h.times, time.Now())
	fn := h.fn
	h.mu.Unlock()
	if fn == nil {
		return map[string]any{}, nil
	}
	return fn(ctx, req)
}

func (h *fakeHandler) invocations() []HandlerRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HandlerRequest(nil), h.calls...)
}

func (h *fakeHandler) timestamps() []time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Time(nil), h.times...)
}

func TestExecutorSingleAttemptWithoutRetryPolicy(t *testing.T) {
	handler := &fakeHandler{fn: func(ctx context.Context, req HandlerRequest) (map[string]any, error) {
		return nil, errors.New("boom")
	}}
	exec := NewExecutor(handler, time.Second, logging.NewLogger(), nil)

	_, attempts, err := exec.Execute(context.Background(), models.Step{ID: "s", Agent: "a", Action: "act"}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Len(t, handler.invocations(), 1)
}

func TestExecutorRetriesWithFixedDelay(t *testing.T) {
	handler := &fakeHandler{fn: func(ctx context.Context, req HandlerRequest) (map[string]any, error) {
		return nil, errors.New("always failing")
	}}
	exec := NewExecutor(handler, time.Second, logging.NewLogger(), nil)

	step := models.Step{
		ID: "s", Agent: "a", Action: "act",
		OnError: &models.ErrorHandling{Retry: &models.RetryPolicy{Attempts: 3, DelayMs: 30}},
	}

	_, attempts, err := exec.Execute(context.Background(), step, nil)
	require.Error(t, err)

	var handlerErr *HandlerError
	assert.ErrorAs(t, err, &handlerErr)

	// One initial invocation plus exactly the declared retries.
	assert.Equal(t, 4, attempts)
	times := handler.timestamps()
	require.Len(t, times, 4)
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), 30*time.Millisecond,
			"delay between attempts %d and %d", i-1, i)
	}
}

func TestExecutorStopsRetryingAfterSuccess(t *testing.T) {
	count := 0
	handler := &fakeHandler{fn: func(ctx context.Context, req HandlerRequest) (map[string]any, error) {
		count++
		if count < 3 {
			return nil, errors.New("transient")
		}
		return map[string]any{"done": true}, nil
	}}
	exec := NewExecutor(handler, time.Second, logging.NewLogger(), nil)

	step := models.Step{
		ID: "s", Agent: "a", Action: "act",
		OnError: &models.ErrorHandling{Retry: &models.RetryPolicy{Attempts: 5, DelayMs: 1}},
	}

	outputs, attempts, err := exec.Execute(context.Background(), step, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, map[string]any{"done": true}, outputs)
}

func TestExecutorTimesOutSlowHandler(t *testing.T) {
	handler := &fakeHandler{fn: func(ctx context.Context, req HandlerRequest) (map[string]any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return map[string]any{}, nil
		}
	}}
	exec := NewExecutor(handler, 50*time.Millisecond, logging.NewLogger(), nil)

	start := time.Now()
	_, attempts, err := exec.Execute(context.Background(), models.Step{ID: "s", Agent: "a", Action: "act"}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecutorAbortsWhenRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	handler := &fakeHandler{fn: func(ctx context.Context, req HandlerRequest) (map[string]any, error) {
		cancel()
		return nil, errors.New("failing")
	}}
	exec := NewExecutor(handler, time.Second, logging.NewLogger(), nil)

	step := models.Step{
		ID: "s", Agent: "a", Action: "act",
		OnError: &models.ErrorHandling{Retry: &models.RetryPolicy{Attempts: 5, DelayMs: 10}},
	}

	_, attempts, err := exec.Execute(ctx, step, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}
