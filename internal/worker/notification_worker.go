package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"beds4crew/internal/metrics"
	"beds4crew/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// TaskStore is the persistent outbox the worker drains.
type TaskStore interface {
	CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error
	GetPendingNotificationTasks(ctx context.Context, limit int) ([]models.NotificationTask, error)
	UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// Sink delivers a booking event to the outside world.
type Sink interface {
	Deliver(ctx context.Context, task models.NotificationTask) error
}

// NotificationWorker consumes notification_queue tasks and hands them to a Sink.
// Delivery is at least once: a task is completed only after the sink accepted it.
type NotificationWorker struct {
	store         TaskStore
	sink          Sink
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.NotificationTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

type Option func(*NotificationWorker)

func WithQueueSize(n int) Option {
	return func(w *NotificationWorker) {
		if n > 0 {
			w.queue = make(chan models.NotificationTask, n)
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(w *NotificationWorker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithKeyPrefix namespaces the redis queue and dead letter lists.
func WithKeyPrefix(prefix string) Option {
	return func(w *NotificationWorker) {
		w.redisQueueKey = prefix + "notifications:queue"
		w.deadLetterKey = prefix + "notifications:deadletter"
	}
}

// NewNotificationWorker builds a worker with sane defaults.
func NewNotificationWorker(store TaskStore, sink Sink, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger, opts ...Option) *NotificationWorker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	w := &NotificationWorker{
		store:         store,
		sink:          sink,
		redis:         redisClient,
		retryPolicy:   retry.withDefaults(),
		queue:         make(chan models.NotificationTask, models.WorkerQueueSize),
		redisQueueKey: "notifications:queue",
		deadLetterKey: "notifications:deadletter",
		pollInterval:  2 * time.Second,
		batchSize:     20,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enqueue persists the event to the outbox and schedules it via redis or the
// in-memory queue. It satisfies events.Enqueuer.
func (w *NotificationWorker) Enqueue(ctx context.Context, eventType string, bookingID int64, payload []byte) error {
	if eventType == "" {
		return errors.New("event type is required")
	}
	if bookingID == 0 {
		return errors.New("booking id is required")
	}

	task := models.NotificationTask{
		EventType: eventType,
		BookingID: bookingID,
		Payload:   string(payload),
		Status:    models.TaskStatusPending,
	}
	if err := w.store.CreateNotificationTask(ctx, &task); err != nil {
		return fmt.Errorf("persist notification task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, w.redisQueueKey, task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("in-memory queue full, task left to polling")
	}
	return nil
}

// Start launches the main loop; it returns when ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("notification worker started")
	defer w.logger.Info().Msg("notification worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.store.GetPendingNotificationTasks(ctx, w.batchSize)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("fetch pending notifications")
			}
			w.sleep(ctx)
			continue
		}
		if len(tasks) == 0 {
			w.sleep(ctx)
			continue
		}

		for i := range tasks {
			w.processTask(ctx, &tasks[i])
		}
	}
}

// sleep waits for the poll interval, waking early for new local tasks or shutdown.
func (w *NotificationWorker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	case t := <-w.queue:
		w.processTask(ctx, &t)
	}
}

func (w *NotificationWorker) tryLocalQueue() (models.NotificationTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.NotificationTask{}, false
	}
}

func (w *NotificationWorker) tryRedis(ctx context.Context) (models.NotificationTask, bool) {
	if w.redis == nil {
		return models.NotificationTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, redis.Nil) {
			return models.NotificationTask{}, false
		}
		w.logger.Error().Err(err).Msg("redis BRPOP error")
		return models.NotificationTask{}, false
	}
	if len(res) != 2 {
		return models.NotificationTask{}, false
	}
	var task models.NotificationTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis task")
		return models.NotificationTask{}, false
	}
	return task, true
}

func (w *NotificationWorker) processTask(ctx context.Context, task *models.NotificationTask) {
	if !json.Valid([]byte(task.Payload)) {
		w.failTask(ctx, task, errors.New("payload is not valid JSON"))
		return
	}

	if err := w.sink.Deliver(ctx, *task); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	metrics.IncNotification("delivered")
	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
	}
}

func (w *NotificationWorker) retryOrFail(ctx context.Context, task *models.NotificationTask, cause error) {
	attempt := task.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.failTask(ctx, task, cause)
		return
	}

	metrics.IncNotification("retry")
	nextTime := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Int("attempt", attempt).Time("next_retry_at", nextTime).Msg("notification delivery failed")
	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
	}
}

func (w *NotificationWorker) failTask(ctx context.Context, task *models.NotificationTask, cause error) {
	metrics.IncNotification("failed")
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("event_type", task.EventType).Msg("notification dropped")
	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
	}
	if w.redis != nil {
		if err := w.pushRedis(ctx, w.deadLetterKey, *task); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push")
		}
	}
}

func (w *NotificationWorker) pushRedis(ctx context.Context, key string, task models.NotificationTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}
