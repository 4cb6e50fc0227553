package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bobarin/storyreel/internal/logging"
)

const (
	QueueRender = "queue:render"

	// ChannelCancel carries job ids whose running render should stop.
	ChannelCancel = "render:cancel"
)

type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// Task asks a worker to render one job.
type Task struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	JobID     uuid.UUID `json:"job_id"`
	CreatedAt time.Time `json:"created_at"`
}

func New(redisURL string, logger *zap.Logger) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	logger = logging.OrNop(logger)

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client, logger: logger}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Enqueue(ctx context.Context, queueName string, task *Task) error {
	task.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	return q.client.RPush(ctx, queueName, data).Err()
}

// Dequeue blocks up to timeout. A nil task with a nil error means the queue
// stayed empty.
func (q *Queue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Task, error) {
	result, err := q.client.BLPop(ctx, timeout, queueName).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	return decodeTask([]byte(result[1]))
}

// GetQueueLength reports how many tasks wait in queueName.
func (q *Queue) GetQueueLength(ctx context.Context, queueName string) (int64, error) {
	return q.client.LLen(ctx, queueName).Result()
}

// EnqueueRender enqueues a render of jobID
func (q *Queue) EnqueueRender(ctx context.Context, jobID uuid.UUID) (*Task, error) {
	task := &Task{
		ID:    uuid.New(),
		Type:  "render",
		JobID: jobID,
	}
	if err := q.Enqueue(ctx, QueueRender, task); err != nil {
		return nil, err
	}
	return task, nil
}

// PublishCancel broadcasts a cancel request to every worker process. Only the
// process running the job acts on it.
func (q *Queue) PublishCancel(ctx context.Context, jobID uuid.UUID) error {
	if err := q.client.Publish(ctx, ChannelCancel, jobID.String()).Err(); err != nil {
		return fmt.Errorf("failed to publish cancel: %w", err)
	}
	return nil
}

// SubscribeCancel delivers cancel requests until ctx is done. The returned
// channel is closed when the subscription ends.
func (q *Queue) SubscribeCancel(ctx context.Context) (<-chan uuid.UUID, error) {
	pubsub := q.client.Subscribe(ctx, ChannelCancel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", ChannelCancel, err)
	}

	out := make(chan uuid.UUID)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				jobID, err := uuid.Parse(msg.Payload)
				if err != nil {
					q.logger.Warn("ignoring malformed cancel message", zap.String("payload", msg.Payload))
					continue
				}
				select {
				case out <- jobID:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func decodeTask(data []byte) (*Task, error) {
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	if task.JobID == uuid.Nil {
		return nil, errors.New("task has no job id")
	}
	return &task, nil
}
