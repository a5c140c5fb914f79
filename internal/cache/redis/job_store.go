package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/instabets/marketd/internal/domain"
)

// JobStore implements domain.JobStore on Redis, so in-flight monitor jobs
// survive process restarts.
//
// Key schema:
//
//	monitor:jobs      - hash, field jobId -> JSON LiveMonitorJob
//	monitor:deadlines - sorted set, member jobId, score deadline (unix sec)
//
// The two keys are written in one transactional pipeline and the sweep reads
// only the sorted set, so an expired-job scan never walks the full hash.
type JobStore struct {
	rdb *redis.Client
}

// NewJobStore creates a JobStore backed by the given Client.
func NewJobStore(c *Client) *JobStore {
	return &JobStore{rdb: c.Underlying()}
}

const (
	jobsKey      = "monitor:jobs"
	deadlinesKey = "monitor:deadlines"
)

// Add records a monitor job.
func (s *JobStore) Add(ctx context.Context, job domain.LiveMonitorJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("redis: marshal job %s: %w", job.JobID, err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, jobsKey, job.JobID, data)
	pipe.ZAdd(ctx, deadlinesKey, redis.Z{Score: float64(job.Deadline), Member: job.JobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: add job %s: %w", job.JobID, err)
	}
	return nil
}

// Get returns a job by its monitor-assigned id, or domain.ErrNotFound.
func (s *JobStore) Get(ctx context.Context, jobID string) (domain.LiveMonitorJob, error) {
	data, err := s.rdb.HGet(ctx, jobsKey, jobID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.LiveMonitorJob{}, domain.ErrNotFound
		}
		return domain.LiveMonitorJob{}, fmt.Errorf("redis: get job %s: %w", jobID, err)
	}

	var job domain.LiveMonitorJob
	if err := json.Unmarshal(data, &job); err != nil {
		return domain.LiveMonitorJob{}, fmt.Errorf("redis: unmarshal job %s: %w", jobID, err)
	}
	return job, nil
}

// Remove deletes a job. Removing an absent job is a no-op.
func (s *JobStore) Remove(ctx context.Context, jobID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.HDel(ctx, jobsKey, jobID)
	pipe.ZRem(ctx, deadlinesKey, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: remove job %s: %w", jobID, err)
	}
	return nil
}

// Expired returns every tracked job whose deadline is at or before now.
func (s *JobStore) Expired(ctx context.Context, now int64) ([]domain.LiveMonitorJob, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, deadlinesKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: scan deadlines: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	raw, err := s.rdb.HMGet(ctx, jobsKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load expired jobs: %w", err)
	}

	jobs := make([]domain.LiveMonitorJob, 0, len(raw))
	for i, v := range raw {
		str, ok := v.(string)
		if !ok {
			// The hash entry went away between the two reads; the sorted
			// set member is stale and Remove will clear it.
			continue
		}
		var job domain.LiveMonitorJob
		if err := json.Unmarshal([]byte(str), &job); err != nil {
			return nil, fmt.Errorf("redis: unmarshal job %s: %w", ids[i], err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Compile-time interface check.
var _ domain.JobStore = (*JobStore)(nil)
