package analyses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"habitat-backend/internal/llm"
)

const (
	redisJobPrefix    = "habitat:job:"
	redisStatusPrefix = "habitat:jobs:"
	redisTxRetries    = 5
)

// RedisStore keeps each job as a JSON document and indexes ids per status in
// sorted sets scored by update time. Transitions run as WATCH/MULTI
// transactions on the job key.
type RedisStore struct {
	Client *redis.Client
	TTL    time.Duration
	Now    func() time.Time
}

// NewRedisStore parses a redis:// URL and pings the server.
func NewRedisStore(ctx context.Context, rawURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{Client: client}, nil
}

func redisJobKey(id string) string { return redisJobPrefix + id }

func redisStatusKey(status Status) string { return redisStatusPrefix + string(status) }

func (s *RedisStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Create stores a new pending job; an existing id is rejected.
func (s *RedisStore) Create(ctx context.Context, job Job) error {
	if job.ID == "" || job.Status != StatusPending {
		return ErrInvalidInput
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	key := redisJobKey(job.ID)
	return s.Client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return ErrInvalidInput
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.TTL)
			pipe.ZAdd(ctx, redisStatusKey(job.Status), &redis.Z{Score: scoreFor(job.UpdatedAt), Member: job.ID})
			return nil
		})
		return err
	}, key)
}

// Get returns a job by ID.
func (s *RedisStore) Get(ctx context.Context, jobID string) (Job, error) {
	raw, err := s.Client.Get(ctx, redisJobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	return decodeRedisJob(raw)
}

// MarkProcessing moves a pending job to processing.
func (s *RedisStore) MarkProcessing(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, StatusProcessing, nil)
}

// Complete stores the result of a processing job.
func (s *RedisStore) Complete(ctx context.Context, jobID string, result Result, info llm.Info) error {
	return s.transition(ctx, jobID, StatusCompleted, func(job *Job) {
		r := result
		job.Result = &r
		job.SchemaVersion = result.SchemaVersion
		job.LLMInfo = &info
	})
}

// Fail stores the terminal error of a processing job.
func (s *RedisStore) Fail(ctx context.Context, jobID string, jobErr JobError, info *llm.Info) error {
	return s.transition(ctx, jobID, StatusFailed, func(job *Job) {
		e := jobErr
		job.Error = &e
		if info != nil {
			i := *info
			job.LLMInfo = &i
		}
	})
}

func (s *RedisStore) transition(ctx context.Context, jobID string, to Status, mutate func(*Job)) error {
	key := redisJobKey(jobID)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		job, err := decodeRedisJob(raw)
		if err != nil {
			return err
		}
		if !transitionAllowed(job.Status, to) {
			return &TransitionError{ID: jobID, From: job.Status, To: to}
		}
		from := job.Status
		applyTransition(&job, to, s.now())
		if mutate != nil {
			mutate(&job)
		}
		payload, err := json.Marshal(job)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, redis.KeepTTL)
			pipe.ZRem(ctx, redisStatusKey(from), jobID)
			pipe.ZAdd(ctx, redisStatusKey(to), &redis.Z{Score: scoreFor(job.UpdatedAt), Member: jobID})
			return nil
		})
		return err
	}

	for i := 0; i < redisTxRetries; i++ {
		err := s.Client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("job %s: %w", jobID, redis.TxFailedErr)
}

// ListByStatus returns jobs in status updated before cutoff, oldest first.
func (s *RedisStore) ListByStatus(ctx context.Context, status Status, updatedBefore time.Time, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.Client.ZRangeByScore(ctx, redisStatusKey(status), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(updatedBefore.UTC().UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Expired document; drop the dangling index entry.
			s.Client.ZRem(ctx, redisStatusKey(status), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if job.Status == status {
			out = append(out, job)
		}
	}
	return out, nil
}

func scoreFor(t time.Time) float64 {
	return float64(t.UTC().UnixMilli())
}

func decodeRedisJob(raw []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if job.Result != nil {
		job.Result.SchemaVersion = job.SchemaVersion
	}
	return job, nil
}
