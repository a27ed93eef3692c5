// Package redisstore stores job records and the owner index in Redis so several
// registry replicas and the worker fleet can share them.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/crawl-registry/internal/jobs"
)

const (
	defaultPrefix     = "registry:"
	defaultMaxRetries = 64
)

// JobStoreConfig controls key layout and optimistic-lock retry behavior.
type JobStoreConfig struct {
	Prefix     string
	MaxRetries int
}

// JobStore keeps one JSON document per job under "<prefix>job:<id>". Mutate
// runs WATCH/MULTI/EXEC on that single key, so writers to one job serialize
// without touching any other key.
type JobStore struct {
	client     redis.UniversalClient
	prefix     string
	maxRetries int
}

// NewJobStore wraps an existing client.
func NewJobStore(client redis.UniversalClient, cfg JobStoreConfig) *JobStore {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &JobStore{client: client, prefix: cfg.Prefix, maxRetries: cfg.MaxRetries}
}

// Create writes job only if its key is free.
func (s *JobStore) Create(ctx context.Context, job jobs.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	ok, err := s.client.SetNX(ctx, s.key(job.ID), payload, 0).Result()
	if err != nil {
		return unavailable("create job "+job.ID, err)
	}
	if !ok {
		return fmt.Errorf("create job %s: %w", job.ID, jobs.ErrAlreadyExists)
	}
	return nil
}

// Get reads and decodes the record, mapping a missing key to jobs.ErrNotFound.
func (s *JobStore) Get(ctx context.Context, id string) (jobs.Job, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return jobs.Job{}, fmt.Errorf("get job %s: %w", id, jobs.ErrNotFound)
		}
		return jobs.Job{}, unavailable("get job "+id, err)
	}
	return decodeJob(id, raw)
}

// Put overwrites the record unconditionally.
func (s *JobStore) Put(ctx context.Context, job jobs.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := s.client.Set(ctx, s.key(job.ID), payload, 0).Err(); err != nil {
		return unavailable("put job "+job.ID, err)
	}
	return nil
}

// Mutate performs an optimistic read-modify-write, retrying when another
// writer commits to the same key between WATCH and EXEC. fn may therefore run
// more than once.
func (s *JobStore) Mutate(ctx context.Context, id string, fn jobs.MutateFunc) (jobs.Job, error) {
	key := s.key(id)
	var (
		result jobs.Job
		fnErr  error
	)
	txf := func(tx *redis.Tx) error {
		fnErr = nil
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return jobs.ErrNotFound
			}
			return err
		}
		current, err := decodeJob(id, raw)
		if err != nil {
			return err
		}
		working := current.Clone()
		if err := fn(&working); err != nil {
			fnErr = err
			result = current
			return err
		}
		working.ID = id
		payload, err := json.Marshal(working)
		if err != nil {
			return fmt.Errorf("marshal job %s: %w", id, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		if err == nil {
			result = working
		}
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case fnErr != nil:
			return result, err
		case errors.Is(err, jobs.ErrNotFound):
			return jobs.Job{}, fmt.Errorf("mutate job %s: %w", id, jobs.ErrNotFound)
		case errors.Is(err, errCorrupt):
			return jobs.Job{}, err
		default:
			return jobs.Job{}, unavailable("mutate job "+id, err)
		}
	}
	return jobs.Job{}, fmt.Errorf("mutate job %s: %w: retries exhausted", id, jobs.ErrStoreUnavailable)
}

func (s *JobStore) key(id string) string {
	return s.prefix + "job:" + id
}

var errCorrupt = errors.New("corrupt job record")

func decodeJob(id string, raw []byte) (jobs.Job, error) {
	var job jobs.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return jobs.Job{}, fmt.Errorf("decode job %s: %w: %v", id, errCorrupt, err)
	}
	return job, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, jobs.ErrStoreUnavailable, err)
}
