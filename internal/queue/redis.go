package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Redis key prefixes
const (
	queuePrefix     = "queue:"
	delayedPrefix   = "delayed:"
	failedPrefix    = "failed:"
	completedPrefix = "completed:"
)

type signal struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// RedisQueue keeps jobs in postgres and wakes workers through redis lists.
// A signal for a job that is no longer pending is dropped on dequeue, so
// signalling twice is harmless.
type RedisQueue struct {
	client   *redis.Client
	db       *gorm.DB
	logger   *zap.Logger
	mu       sync.RWMutex
	handlers map[JobType]JobHandler
	now      func() time.Time
}

// NewRedisQueue creates a new queue
func NewRedisQueue(client *redis.Client, db *gorm.DB, logger *zap.Logger) *RedisQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisQueue{
		client:   client,
		db:       db,
		logger:   logger,
		handlers: make(map[JobType]JobHandler),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RegisterHandler registers a handler for a job type
func (q *RedisQueue) RegisterHandler(jobType JobType, handler JobHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = handler
}

// Handler returns the handler registered for jobType
func (q *RedisQueue) Handler(jobType JobType) (JobHandler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[jobType]
	return h, ok
}

// JobTypes lists the registered job types in a stable order
func (q *RedisQueue) JobTypes() []JobType {
	q.mu.RLock()
	defer q.mu.RUnlock()
	types := make([]JobType, 0, len(q.handlers))
	for t := range q.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Close closes the redis client
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Publish signals a job row that was written inside an already committed transaction
func (q *RedisQueue) Publish(ctx context.Context, eventType string, eventID uuid.UUID) error {
	return q.push(ctx, JobType(eventType), eventID)
}

func (q *RedisQueue) push(ctx context.Context, jobType JobType, id uuid.UUID) error {
	data, err := json.Marshal(signal{ID: id.String(), Type: string(jobType)})
	if err != nil {
		return fmt.Errorf("failed to marshal job signal: %w", err)
	}
	if err := q.client.LPush(ctx, queuePrefix+string(jobType), data).Err(); err != nil {
		return fmt.Errorf("failed to add job to queue: %w", err)
	}
	return nil
}

func (q *RedisQueue) delay(ctx context.Context, jobType JobType, id uuid.UUID, at time.Time) error {
	if err := q.client.ZAdd(ctx, delayedPrefix+string(jobType), &redis.Z{
		Score:  float64(at.Unix()),
		Member: id.String(),
	}).Err(); err != nil {
		return fmt.Errorf("failed to add job to delayed queue: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout for a signal and claims the job row.
// It returns nil when nothing claimable arrived.
func (q *RedisQueue) Dequeue(ctx context.Context, jobType JobType, timeout time.Duration) (*Job, error) {
	result, err := q.client.BRPop(ctx, timeout, queuePrefix+string(jobType)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("error popping job from queue %s: %w", jobType, err)
	}
	if len(result) < 2 {
		return nil, fmt.Errorf("invalid result from BRPOP for queue %s", jobType)
	}

	var sig signal
	if err := json.Unmarshal([]byte(result[1]), &sig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job signal: %w", err)
	}
	jobID, err := uuid.Parse(sig.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid job ID: %w", err)
	}

	claim := q.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", jobID, JobStatusPending).
		Updates(map[string]interface{}{
			"status":     JobStatusProcessing,
			"updated_at": q.now(),
		})
	if claim.Error != nil {
		return nil, fmt.Errorf("failed to claim job %s: %w", jobID, claim.Error)
	}
	if claim.RowsAffected == 0 {
		q.logger.Debug("dropping stale job signal", zap.String("job_id", jobID.String()))
		return nil, nil
	}

	var job Job
	if err := q.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		return nil, fmt.Errorf("failed to find job %s: %w", jobID, err)
	}
	return &job, nil
}

// MoveDelayedJobs pushes delayed jobs that are due onto the main queue
func (q *RedisQueue) MoveDelayedJobs(ctx context.Context, jobType JobType) (int, error) {
	delayedQueue := delayedPrefix + string(jobType)
	ids, err := q.client.ZRangeByScore(ctx, delayedQueue, &redis.ZRangeBy{
		Min: "0",
		Max: fmt.Sprintf("%d", q.now().Unix()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get delayed jobs: %w", err)
	}

	moved := 0
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			q.logger.Warn("invalid delayed job id", zap.String("job_id", raw))
			q.client.ZRem(ctx, delayedQueue, raw)
			continue
		}
		if err := q.push(ctx, jobType, id); err != nil {
			return moved, err
		}
		if err := q.client.ZRem(ctx, delayedQueue, raw).Err(); err != nil {
			q.logger.Warn("failed to remove job from delayed queue", zap.String("job_id", raw), zap.Error(err))
		}
		moved++
	}
	return moved, nil
}

// ResignalPending re-pushes due pending jobs untouched for longer than idle.
// This recovers jobs whose post-commit signal was lost.
func (q *RedisQueue) ResignalPending(ctx context.Context, idle time.Duration, limit int) (int, error) {
	now := q.now()
	var jobs []Job
	if err := q.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", JobStatusPending, now.Add(-idle)).
		Where("next_retry IS NULL OR next_retry <= ?", now).
		Order("created_at asc").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return 0, fmt.Errorf("failed to list pending jobs: %w", err)
	}

	for i, job := range jobs {
		if err := q.push(ctx, job.Type, job.ID); err != nil {
			return i, err
		}
		if err := q.db.WithContext(ctx).Model(&Job{}).Where("id = ?", job.ID).
			Update("updated_at", now).Error; err != nil {
			return i + 1, fmt.Errorf("failed to touch job %s: %w", job.ID, err)
		}
	}
	return len(jobs), nil
}

// errStalled is recorded on jobs whose worker stopped before finishing them
var errStalled = errors.New("job stalled in processing")

// ReclaimStalled sends jobs left in processing for longer than timeout back through Fail,
// so they are retried with backoff or marked failed. A worker that dies mid-job leaves
// its row in processing, where neither Dequeue nor ResignalPending would see it again.
func (q *RedisQueue) ReclaimStalled(ctx context.Context, timeout time.Duration, limit int) (int, error) {
	now := q.now()
	cutoff := now.Add(-timeout)

	var jobs []Job
	if err := q.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", JobStatusProcessing, cutoff).
		Order("updated_at asc").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return 0, fmt.Errorf("failed to list stalled jobs: %w", err)
	}

	reclaimed := 0
	for i := range jobs {
		job := &jobs[i]
		// Another instance may reclaim the same row, or the worker may finish it meanwhile.
		claim := q.db.WithContext(ctx).Model(&Job{}).
			Where("id = ? AND status = ? AND updated_at < ?", job.ID, JobStatusProcessing, cutoff).
			Update("updated_at", now)
		if claim.Error != nil {
			return reclaimed, fmt.Errorf("failed to claim stalled job %s: %w", job.ID, claim.Error)
		}
		if claim.RowsAffected == 0 {
			continue
		}

		q.logger.Warn("reclaiming stalled job",
			zap.String("job_id", job.ID.String()),
			zap.String("job_type", string(job.Type)),
			zap.Time("stalled_since", job.UpdatedAt))
		if err := q.Fail(ctx, job, errStalled); err != nil {
			return reclaimed, err
		}
		reclaimed++
	}
	return reclaimed, nil
}

// Complete marks a job as completed
func (q *RedisQueue) Complete(ctx context.Context, job *Job, result interface{}) error {
	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal job result: %w", err)
		}
	}

	if err := q.db.WithContext(ctx).Model(&Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
		"status":     JobStatusCompleted,
		"result":     resultJSON,
		"error":      "",
		"updated_at": q.now(),
	}).Error; err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	completedKey := completedPrefix + string(job.Type)
	if err := q.client.HSet(ctx, completedKey, job.ID.String(), q.now().Format(time.RFC3339)).Err(); err != nil {
		return fmt.Errorf("failed to add job to completed set: %w", err)
	}
	if err := q.client.Expire(ctx, completedKey, 24*time.Hour).Err(); err != nil {
		q.logger.Warn("failed to set TTL on completed set", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
	return nil
}

// Fail records a failed attempt, rescheduling with backoff until retries run out
func (q *RedisQueue) Fail(ctx context.Context, job *Job, cause error) error {
	retryCount := job.RetryCount + 1
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}

	if retryCount < job.MaxRetries {
		nextRetry := q.now().Add(calculateBackoff(retryCount))
		if err := q.db.WithContext(ctx).Model(&Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"retry_count": retryCount,
			"next_retry":  nextRetry,
			"error":       errMsg,
			"status":      JobStatusPending,
			"updated_at":  q.now(),
		}).Error; err != nil {
			return fmt.Errorf("failed to update job for retry: %w", err)
		}
		return q.delay(ctx, job.Type, job.ID, nextRetry)
	}

	if err := q.db.WithContext(ctx).Model(&Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
		"status":      JobStatusFailed,
		"retry_count": retryCount,
		"error":       errMsg,
		"updated_at":  q.now(),
	}).Error; err != nil {
		return fmt.Errorf("failed to update job as failed: %w", err)
	}

	if err := q.client.HSet(ctx, failedPrefix+string(job.Type), job.ID.String(), q.now().Format(time.RFC3339)).Err(); err != nil {
		return fmt.Errorf("failed to add job to failed set: %w", err)
	}
	return nil
}

// Stats gets statistics for a job type
func (q *RedisQueue) Stats(ctx context.Context, jobType JobType) (*QueueStats, error) {
	stats := &QueueStats{Queue: string(jobType)}

	waiting, err := q.client.LLen(ctx, queuePrefix+string(jobType)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get waiting count: %w", err)
	}
	stats.Waiting = int(waiting)

	delayed, err := q.client.ZCard(ctx, delayedPrefix+string(jobType)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get delayed count: %w", err)
	}
	stats.Delayed = int(delayed)

	var counts []struct {
		Status JobStatus
		Count  int
	}
	if err := q.db.WithContext(ctx).Model(&Job{}).
		Select("status, count(*) as count").
		Where("type = ?", jobType).
		Group("status").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	for _, c := range counts {
		switch c.Status {
		case JobStatusProcessing:
			stats.Processing = c.Count
		case JobStatusFailed:
			stats.Failed = c.Count
		case JobStatusCompleted:
			stats.Completed = c.Count
		}
	}
	return stats, nil
}
