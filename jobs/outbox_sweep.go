package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/procurement/internal/jobs"
)

const defaultSweepLimit = 200

// StaleIntentSource lists intents that need another dispatch attempt.
type StaleIntentSource interface {
	StaleIntents(ctx context.Context, limit int) ([]int64, error)
}

// Enqueuer submits tasks to the queue.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// OutboxSweepJob finds stale intents and enqueues one dispatch task for each.
type OutboxSweepJob struct {
	Source   StaleIntentSource
	Enqueuer Enqueuer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	// UniqueFor keeps a second sweep from enqueuing an intent that is still queued.
	UniqueFor time.Duration
}

// NewOutboxSweepJob wires dependencies for the sweep handler.
func NewOutboxSweepJob(source StaleIntentSource, enqueuer Enqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *OutboxSweepJob {
	return &OutboxSweepJob{Source: source, Enqueuer: enqueuer, Logger: logger, Metrics: metrics, UniqueFor: 5 * time.Minute}
}

// Handle processes TaskOutboxSweep tasks.
func (j *OutboxSweepJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Source == nil || j.Enqueuer == nil {
		return errors.New("outbox sweep: handler not configured")
	}
	tracker := j.metrics().Track(TaskOutboxSweep)
	defer func() {
		err = tracker.End(err)
	}()

	var payload OutboxSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Limit <= 0 {
		payload.Limit = defaultSweepLimit
	}

	logger := j.logger()
	ids, err := j.Source.StaleIntents(ctx, payload.Limit)
	if err != nil {
		logger.Error("list stale intents", slog.Any("error", err))
		return err
	}
	j.metrics().SetBacklog(len(ids))

	enqueued := 0
	defer func() {
		j.metrics().AddSwept(enqueued)
		if enqueued > 0 {
			logger.Info("re-enqueued stale intents", slog.Int("count", enqueued))
		}
	}()
	for _, id := range ids {
		task, err := NewIntegrationDispatchTask(id)
		if err != nil {
			return err
		}
		_, err = j.Enqueuer.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Unique(j.uniqueFor()))
		if errors.Is(err, asynq.ErrDuplicateTask) {
			continue
		}
		if err != nil {
			logger.Error("enqueue intent dispatch", slog.Int64("intent_id", id), slog.Any("error", err))
			return err
		}
		enqueued++
	}
	return nil
}

func (j *OutboxSweepJob) uniqueFor() time.Duration {
	if j.UniqueFor > 0 {
		return j.UniqueFor
	}
	return 5 * time.Minute
}

func (j *OutboxSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskOutboxSweep))
	}
	return slog.Default().With(slog.String("job", TaskOutboxSweep))
}

func (j *OutboxSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
