package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chimerabot/qqgate/internal/dispatch/mocks"
	"github.com/chimerabot/qqgate/internal/queue"
)

func TestProcessNextEventEmptyQueue(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mq := mocks.NewMockEventQueue(ctrl)
	mq.EXPECT().Dequeue(gomock.Any()).Return(nil, nil)

	w := NewWorker(mq, NewRegistry(), WorkerConfig{})

	processed, err := w.processNextEvent(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestProcessNextEventSuccessCompletes(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	event := &queue.Event{
		ID:        "evt-1",
		EventType: "C2C_MESSAGE_CREATE",
		Payload:   json.RawMessage(`{"id":"m1"}`),
		Status:    queue.StatusRunning,
		Attempt:   1,
	}

	mq := mocks.NewMockEventQueue(ctrl)
	mq.EXPECT().Dequeue(gomock.Any()).Return(event, nil)
	mq.EXPECT().Complete(gomock.Any(), "evt-1", queue.StatusSucceeded, gomock.Nil()).Return(nil)

	reg := NewRegistry()
	var handled bool
	reg.Register("C2C_MESSAGE_CREATE", HandlerFunc(func(ctx context.Context, eventType string, data json.RawMessage) error {
		handled = true
		return nil
	}))

	w := NewWorker(mq, reg, WorkerConfig{})

	processed, err := w.processNextEvent(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.True(t, handled)
}

func TestProcessNextEventHandlerFailureRetries(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	event := &queue.Event{
		ID:        "evt-2",
		EventType: "GROUP_AT_MESSAGE_CREATE",
		Status:    queue.StatusRunning,
		Attempt:   2,
	}

	mq := mocks.NewMockEventQueue(ctrl)
	mq.EXPECT().Dequeue(gomock.Any()).Return(event, nil)
	// Attempt 2 doubles the base backoff once.
	mq.EXPECT().Retry(gomock.Any(), "evt-2", gomock.Any(), 10*time.Second).Return(nil)

	reg := NewRegistry()
	reg.Register("GROUP_AT_MESSAGE_CREATE", HandlerFunc(func(ctx context.Context, eventType string, data json.RawMessage) error {
		return fmt.Errorf("reply post failed")
	}))

	w := NewWorker(mq, reg, WorkerConfig{RetryBackoff: 5 * time.Second})

	processed, err := w.processNextEvent(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestProcessNextEventUnknownTypeSucceeds(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	event := &queue.Event{
		ID:        "evt-3",
		EventType: "SOME_FUTURE_EVENT",
		Status:    queue.StatusRunning,
		Attempt:   1,
	}

	mq := mocks.NewMockEventQueue(ctrl)
	mq.EXPECT().Dequeue(gomock.Any()).Return(event, nil)
	mq.EXPECT().Complete(gomock.Any(), "evt-3", queue.StatusSucceeded, gomock.Nil()).Return(nil)

	w := NewWorker(mq, NewRegistry(), WorkerConfig{})

	processed, err := w.processNextEvent(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestHandlerTimeoutEnforced(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	event := &queue.Event{
		ID:        "evt-4",
		EventType: "C2C_MESSAGE_CREATE",
		Status:    queue.StatusRunning,
		Attempt:   1,
	}

	mq := mocks.NewMockEventQueue(ctrl)
	mq.EXPECT().Retry(gomock.Any(), "evt-4", gomock.Any(), gomock.Any()).Return(nil)

	reg := NewRegistry()
	reg.Register("C2C_MESSAGE_CREATE", HandlerFunc(func(ctx context.Context, eventType string, data json.RawMessage) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	w := NewWorker(mq, reg, WorkerConfig{HandlerTimeout: 20 * time.Millisecond})

	done := make(chan struct{})
	go func() {
		w.handleEvent(context.Background(), event)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler timeout not enforced")
	}
}

func TestWorkerStartStopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mq := mocks.NewMockEventQueue(ctrl)
	mq.EXPECT().Dequeue(gomock.Any()).Return(nil, nil).AnyTimes()

	w := NewWorker(mq, NewRegistry(), WorkerConfig{PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(ctx) }()

	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}
