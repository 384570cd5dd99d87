// Package jobs defines the background tasks the daemon enqueues and processes.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TaskTypeWork = "sequencer:work"

const QueueDefault = "default"

// MaxWorkDuration caps how long a single work task may hold a worker slot.
const MaxWorkDuration = 30 * time.Second

type WorkPayload struct {
	Duration time.Duration `json:"duration"`
}

// NewWorkTask builds a task that occupies a worker for d.
func NewWorkTask(d time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(WorkPayload{Duration: min(d, MaxWorkDuration)})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypeWork, payload, asynq.Queue(QueueDefault), asynq.MaxRetry(0)), nil
}
