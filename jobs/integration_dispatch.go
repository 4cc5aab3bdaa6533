package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/procurement/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// IntentDispatcher runs a single intent by id.
type IntentDispatcher interface {
	DispatchByID(ctx context.Context, id int64) error
}

// IntegrationDispatchJob executes integration intents off the request path.
type IntegrationDispatchJob struct {
	Dispatcher IntentDispatcher
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewIntegrationDispatchJob wires dependencies for the dispatch handler.
func NewIntegrationDispatchJob(dispatcher IntentDispatcher, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrationDispatchJob {
	return &IntegrationDispatchJob{Dispatcher: dispatcher, Logger: logger, Metrics: metrics}
}

// Handle processes TaskIntegrationDispatch tasks.
func (j *IntegrationDispatchJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Dispatcher == nil {
		return errors.New("integration dispatch: handler not configured")
	}
	tracker := j.metrics().Track(TaskIntegrationDispatch)
	var payload IntegrationDispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.IntentID <= 0 {
		j.logger().Warn("drop dispatch task with invalid payload", slog.String("payload", string(t.Payload())))
		return tracker.End(asynq.SkipRetry)
	}

	err := j.Dispatcher.DispatchByID(ctx, payload.IntentID)
	if err != nil {
		j.logger().Error("dispatch intent", slog.Int64("intent_id", payload.IntentID), slog.Any("error", err))
	}
	return tracker.End(err)
}

func (j *IntegrationDispatchJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskIntegrationDispatch))
	}
	return slog.Default().With(slog.String("job", TaskIntegrationDispatch))
}

func (j *IntegrationDispatchJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
