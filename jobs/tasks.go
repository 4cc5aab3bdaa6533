package jobs

import (
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskIntegrationDispatch runs one persisted integration intent.
	TaskIntegrationDispatch = "integration:dispatch"
	// TaskOutboxSweep re-enqueues intents left behind by an interrupted dispatch.
	TaskOutboxSweep = "integration:outbox_sweep"
)

// IntegrationDispatchPayload identifies the intent to dispatch.
type IntegrationDispatchPayload struct {
	IntentID int64 `json:"intentId"`
}

// OutboxSweepPayload bounds a single sweep run.
type OutboxSweepPayload struct {
	Limit int `json:"limit"`
}

// NewIntegrationDispatchTask constructs an Asynq task for one intent.
func NewIntegrationDispatchTask(intentID int64) (*asynq.Task, error) {
	if intentID <= 0 {
		return nil, errors.New("jobs: intent id required")
	}
	data, err := json.Marshal(IntegrationDispatchPayload{IntentID: intentID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIntegrationDispatch, data), nil
}

// NewOutboxSweepTask constructs the periodic sweep task.
func NewOutboxSweepTask(limit int) (*asynq.Task, error) {
	data, err := json.Marshal(OutboxSweepPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOutboxSweep, data), nil
}
