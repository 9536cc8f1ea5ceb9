package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// WorkerOptions tunes a Worker
type WorkerOptions struct {
	Concurrency   int
	PollTimeout   time.Duration
	DelayedEvery  time.Duration
	ResignalEvery time.Duration
	ResignalIdle  time.Duration
	ResignalBatch int
	StatsEvery    time.Duration

	// ReclaimAfter must exceed the longest a handler can run
	ReclaimAfter time.Duration
}

// DefaultWorkerOptions returns the options used by the server
func DefaultWorkerOptions() WorkerOptions {
	return WorkerOptions{
		Concurrency:   2,
		PollTimeout:   time.Second,
		DelayedEvery:  5 * time.Second,
		ResignalEvery: time.Minute,
		ResignalIdle:  30 * time.Second,
		ResignalBatch: 100,
		ReclaimAfter:  10 * time.Minute,
		StatsEvery:    5 * time.Minute,
	}
}

type periodicTask struct {
	name  string
	every time.Duration
	fn    func(ctx context.Context) error
}

// Worker runs registered job handlers and periodic maintenance on a gocron scheduler
type Worker struct {
	queue     *RedisQueue
	opts      WorkerOptions
	logger    *zap.Logger
	scheduler *gocron.Scheduler
	tasks     []periodicTask
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

// NewWorker creates a new worker
func NewWorker(queue *RedisQueue, opts WorkerOptions, logger *zap.Logger) *Worker {
	defaults := DefaultWorkerOptions()
	if opts.Concurrency < 1 {
		opts.Concurrency = defaults.Concurrency
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaults.PollTimeout
	}
	if opts.DelayedEvery <= 0 {
		opts.DelayedEvery = defaults.DelayedEvery
	}
	if opts.ResignalEvery <= 0 {
		opts.ResignalEvery = defaults.ResignalEvery
	}
	if opts.ResignalIdle <= 0 {
		opts.ResignalIdle = defaults.ResignalIdle
	}
	if opts.ResignalBatch < 1 {
		opts.ResignalBatch = defaults.ResignalBatch
	}
	if opts.ReclaimAfter <= 0 {
		opts.ReclaimAfter = defaults.ReclaimAfter
	}
	if opts.StatsEvery <= 0 {
		opts.StatsEvery = defaults.StatsEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		opts:      opts,
		logger:    logger,
		scheduler: gocron.NewScheduler(time.UTC),
	}
}

// Schedule registers a periodic task. It must be called before Start.
func (w *Worker) Schedule(name string, every time.Duration, fn func(ctx context.Context) error) error {
	if every <= 0 {
		return fmt.Errorf("task %s: interval must be positive", name)
	}
	if fn == nil {
		return fmt.Errorf("task %s: function is required", name)
	}
	w.tasks = append(w.tasks, periodicTask{name: name, every: every, fn: fn})
	return nil
}

// Start launches the consumers and the scheduler
func (w *Worker) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	for _, jobType := range w.queue.JobTypes() {
		for i := 0; i < w.opts.Concurrency; i++ {
			w.wg.Add(1)
			go w.consume(ctx, jobType, i)
		}
	}

	if _, err := w.scheduler.Every(w.opts.DelayedEvery).SingletonMode().Do(func() {
		for _, jobType := range w.queue.JobTypes() {
			if _, err := w.queue.MoveDelayedJobs(ctx, jobType); err != nil {
				w.logger.Warn("failed to move delayed jobs", zap.String("job_type", string(jobType)), zap.Error(err))
			}
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule delayed job mover: %w", err)
	}

	if _, err := w.scheduler.Every(w.opts.ResignalEvery).SingletonMode().Do(func() {
		n, err := w.queue.ResignalPending(ctx, w.opts.ResignalIdle, w.opts.ResignalBatch)
		if err != nil {
			w.logger.Warn("failed to resignal pending jobs", zap.Error(err))
			return
		}
		if n > 0 {
			w.logger.Info("resignalled pending jobs", zap.Int("count", n))
		}

		n, err = w.queue.ReclaimStalled(ctx, w.opts.ReclaimAfter, w.opts.ResignalBatch)
		if err != nil {
			w.logger.Warn("failed to reclaim stalled jobs", zap.Error(err))
			return
		}
		if n > 0 {
			w.logger.Warn("reclaimed stalled jobs", zap.Int("count", n))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule job resignaller: %w", err)
	}

	if _, err := w.scheduler.Every(w.opts.StatsEvery).SingletonMode().WaitForSchedule().Do(func() {
		w.logStats(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule queue stats: %w", err)
	}

	for _, task := range w.tasks {
		task := task
		if _, err := w.scheduler.Every(task.every).SingletonMode().WaitForSchedule().Do(func() {
			if err := task.fn(ctx); err != nil {
				w.logger.Error("periodic task failed", zap.String("task", task.name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule task %s: %w", task.name, err)
		}
	}

	w.scheduler.StartAsync()
	w.logger.Info("queue worker started",
		zap.Int("concurrency", w.opts.Concurrency),
		zap.Int("periodic_tasks", len(w.tasks)))
	return nil
}

// Stop stops the scheduler and waits for in-flight jobs
func (w *Worker) Stop() {
	w.scheduler.Stop()
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("queue worker stopped")
}

func (w *Worker) logStats(ctx context.Context) {
	for _, jobType := range w.queue.JobTypes() {
		stats, err := w.queue.Stats(ctx, jobType)
		if err != nil {
			w.logger.Warn("failed to read queue stats", zap.String("job_type", string(jobType)), zap.Error(err))
			continue
		}
		w.logger.Info("queue stats",
			zap.String("job_type", stats.Queue),
			zap.Int("waiting", stats.Waiting),
			zap.Int("delayed", stats.Delayed),
			zap.Int("processing", stats.Processing),
			zap.Int("failed", stats.Failed),
			zap.Int("completed", stats.Completed))
	}
}

func (w *Worker) consume(ctx context.Context, jobType JobType, workerID int) {
	defer w.wg.Done()
	log := w.logger.With(zap.String("job_type", string(jobType)), zap.Int("worker", workerID))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx, jobType, w.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("error dequeueing job", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		w.run(ctx, log, job)
	}
}

func (w *Worker) run(ctx context.Context, log *zap.Logger, job *Job) {
	handler, ok := w.queue.Handler(job.Type)
	if !ok {
		if err := w.queue.Fail(ctx, job, fmt.Errorf("no handler for job type %s", job.Type)); err != nil {
			log.Error("failed to mark job as failed", zap.String("job_id", job.ID.String()), zap.Error(err))
		}
		return
	}

	result, err := handler(ctx, *job)
	if err != nil {
		log.Warn("job failed", zap.String("job_id", job.ID.String()), zap.Int("retry", job.RetryCount), zap.Error(err))
		if err := w.queue.Fail(ctx, job, err); err != nil {
			log.Error("failed to mark job as failed", zap.String("job_id", job.ID.String()), zap.Error(err))
		}
		return
	}

	if err := w.queue.Complete(ctx, job, result); err != nil {
		log.Error("failed to mark job as completed", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}
