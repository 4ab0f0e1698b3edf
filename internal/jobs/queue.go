package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"webmonitor/internal/model"
)

// QueueKey is the redis list workers block on.
const QueueKey = "webmonitor:jobs"

// Queue is a redis-backed push channel for job notifications. The
// database stays the source of truth; the queue only wakes workers
// faster than the poll interval would.
type Queue struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewQueue connects to redis with the given URL.
func NewQueue(redisURL string, logger *slog.Logger) (*Queue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{rdb: redis.NewClient(opt), logger: logger}, nil
}

// Ping verifies redis connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Publish pushes one job notification onto the queue.
func (q *Queue) Publish(ctx context.Context, job model.Job) error {
	msg := model.QueueMessage{
		JobID:     job.ID,
		SiteID:    job.SiteID,
		Type:      job.Type,
		Metadata:  job.Metadata,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, QueueKey, payload).Err()
}

// Consume blocks on the queue and dispatches each notification through
// the runner, sharing its concurrency bound. The lease compare-and-set
// makes consuming a job the polling dispatcher already picked up, or
// one not yet due, harmless.
func (q *Queue) Consume(ctx context.Context, runner *Runner, st Store) {
	for {
		if ctx.Err() != nil {
			return
		}

		vals, err := q.rdb.BLPop(ctx, 5*time.Second, QueueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			q.logger.Error("queue pop failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if len(vals) < 2 {
			continue
		}

		var msg model.QueueMessage
		if err := json.Unmarshal([]byte(vals[1]), &msg); err != nil {
			q.logger.Warn("discarding malformed queue message", "error", err)
			continue
		}

		job, err := st.GetJob(ctx, msg.JobID)
		if err != nil {
			q.logger.Warn("queued job not found", "job_id", msg.JobID, "error", err)
			continue
		}
		if job.Status != model.JobQueued {
			continue
		}
		runner.Dispatch(ctx, job)
	}
}
