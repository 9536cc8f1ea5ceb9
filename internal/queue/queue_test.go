package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testPayload struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func TestNewJob(t *testing.T) {
	job, err := NewJob("test.job", testPayload{ID: "abc", Message: "hello"})
	require.NoError(t, err)

	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", job.ID.String())
	assert.Equal(t, JobType("test.job"), job.Type)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, 3, job.MaxRetries)
	assert.Nil(t, job.NextRetry)

	var decoded testPayload
	require.NoError(t, json.Unmarshal(job.Payload, &decoded))
	assert.Equal(t, "abc", decoded.ID)
	assert.Equal(t, "hello", decoded.Message)
}

func TestNewJobOptions(t *testing.T) {
	before := time.Now().UTC()
	job, err := NewJob("test.job", map[string]int{"n": 1}, WithDelay(time.Minute), WithMaxRetry(7))
	require.NoError(t, err)

	assert.Equal(t, 7, job.MaxRetries)
	require.NotNil(t, job.NextRetry)
	assert.True(t, job.NextRetry.After(before.Add(59*time.Second)))
}

func TestNewJobRejectsUnmarshalablePayload(t *testing.T) {
	_, err := NewJob("test.job", make(chan int))
	assert.Error(t, err)
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		retry int
		base  float64
	}{
		{retry: 0, base: 5},
		{retry: 1, base: 10},
		{retry: 3, base: 40},
		{retry: 20, base: 3600},
	}

	for _, tt := range tests {
		for i := 0; i < 20; i++ {
			got := calculateBackoff(tt.retry).Seconds()
			assert.GreaterOrEqual(t, got, tt.base*0.8-1, "retry %d", tt.retry)
			assert.LessOrEqual(t, got, tt.base*1.2, "retry %d", tt.retry)
		}
	}
}

func TestJobTableName(t *testing.T) {
	assert.Equal(t, "jobs", Job{}.TableName())
}

func TestRegisterHandlerSortsJobTypes(t *testing.T) {
	q := NewRedisQueue(nil, nil, nil)
	noop := func(ctx context.Context, job Job) (interface{}, error) { return nil, nil }
	q.RegisterHandler("b.job", noop)
	q.RegisterHandler("a.job", noop)

	assert.Equal(t, []JobType{"a.job", "b.job"}, q.JobTypes())
	_, ok := q.Handler("a.job")
	assert.True(t, ok)
	_, ok = q.Handler("missing")
	assert.False(t, ok)
}

func TestWorkerScheduleValidation(t *testing.T) {
	w := NewWorker(NewRedisQueue(nil, nil, nil), WorkerOptions{}, nil)

	assert.Error(t, w.Schedule("bad", 0, func(ctx context.Context) error { return nil }))
	assert.Error(t, w.Schedule("nil", time.Minute, nil))
	assert.NoError(t, w.Schedule("ok", time.Minute, func(ctx context.Context) error { return nil }))
	assert.Len(t, w.tasks, 1)
	assert.Equal(t, DefaultWorkerOptions().Concurrency, w.opts.Concurrency)
	assert.Equal(t, DefaultWorkerOptions().StatsEvery, w.opts.StatsEvery)
	assert.Equal(t, DefaultWorkerOptions().ReclaimAfter, w.opts.ReclaimAfter)
}

func TestReclaimStalledSelectsOldProcessingJobs(t *testing.T) {
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=localhost user=test dbname=test sslmode=disable"}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	var (
		query string
		vars  []interface{}
	)
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("test:capture_query", func(tx *gorm.DB) {
		query = tx.Statement.SQL.String()
		vars = tx.Statement.Vars
	}))

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	q := NewRedisQueue(nil, db, nil)
	q.now = func() time.Time { return now }

	n, err := q.ReclaimStalled(context.Background(), 10*time.Minute, 25)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Contains(t, query, `FROM "jobs" WHERE status = $1 AND updated_at < $2`)
	assert.Contains(t, query, "ORDER BY updated_at asc LIMIT 25")
	assert.Equal(t, []interface{}{JobStatusProcessing, now.Add(-10 * time.Minute)}, vars)
}
