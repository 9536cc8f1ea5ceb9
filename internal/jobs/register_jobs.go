package jobs

import (
	"time"

	"github.com/clinicref/backend/internal/queue"
)

// RegisterAllJobHandlers registers all job handlers with the queue
func RegisterAllJobHandlers(q *queue.RedisQueue, notifications *CommissionNotificationJob) {
	q.RegisterHandler(CommissionCreatedJobType, notifications.Handle)
}

// ScheduleRecurringJobs schedules all periodic jobs on the worker
func ScheduleRecurringJobs(w *queue.Worker, reconcile *CounterReconcileJob, reconcileEvery time.Duration) error {
	return w.Schedule("counter-reconcile", reconcileEvery, reconcile.Run)
}
