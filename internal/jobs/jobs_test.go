package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkTask_CapsDuration(t *testing.T) {
	task, err := NewWorkTask(time.Hour)
	require.NoError(t, err)

	var payload WorkPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))

	assert.Equal(t, TaskTypeWork, task.Type())
	assert.Equal(t, MaxWorkDuration, payload.Duration)
}

func TestWorkHandler_CompletesAfterDuration(t *testing.T) {
	task, err := NewWorkTask(10 * time.Millisecond)
	require.NoError(t, err)

	assert.NoError(t, NewWorkHandler(nil).ProcessTask(context.Background(), task))
}

func TestWorkHandler_ReturnsOnCancel(t *testing.T) {
	task, err := NewWorkTask(MaxWorkDuration)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err = NewWorkHandler(nil).ProcessTask(ctx, task)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWorkHandler_BadPayloadSkipsRetry(t *testing.T) {
	err := NewWorkHandler(nil).ProcessTask(context.Background(), asynq.NewTask(TaskTypeWork, []byte("{")))

	assert.ErrorIs(t, err, asynq.SkipRetry)
}
