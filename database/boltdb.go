// Package database persists scheduled send jobs between process runs.
package database

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

const jobsBucket = "jobs"

// Job is a scheduled unit of work. Payload carries the JSON-encoded send
// request the scheduler hands back to its handler.
type Job struct {
	ID       string          `json:"id"`
	Payload  json.RawMessage `json:"payload"`
	Status   string          `json:"status"` // pending, running, done, cancelled, failed
	RunAt    time.Time       `json:"run_at"`
	CronExpr string          `json:"cron_expr,omitempty"`
	Interval time.Duration   `json:"interval,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	LastRunAt time.Time `json:"last_run_at,omitempty"`
	NextRunAt time.Time `json:"next_run_at,omitempty"`
}

// JobStore is a wrapper around bbolt.DB for job persistence.
type JobStore struct {
	db *bbolt.DB
}

// Open opens the BoltDB file and initializes the jobs bucket.
func Open(path string) (*JobStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open BoltDB at %s", path)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(jobsBucket))
		return errors.Wrapf(err, "create %s bucket", jobsBucket)
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize BoltDB buckets")
	}
	return &JobStore{db: db}, nil
}

// Close closes the underlying database.
func (s *JobStore) Close() error {
	return s.db.Close()
}

// SaveJob inserts or updates a job.
func (s *JobStore) SaveJob(job *Job) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(jobsBucket))
		encoded, err := json.Marshal(job)
		if err != nil {
			return errors.Wrapf(err, "marshal job %s", job.ID)
		}
		return errors.Wrapf(b.Put([]byte(job.ID), encoded), "store job %s", job.ID)
	})
}

// LoadJobs returns every persisted job.
func (s *JobStore) LoadJobs() ([]Job, error) {
	var jobs []Job
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(jobsBucket))
		return b.ForEach(func(_, v []byte) error {
			var job Job
			if err := json.Unmarshal(v, &job); err != nil {
				return errors.Wrap(err, "unmarshal job")
			}
			jobs = append(jobs, job)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// DeleteJob removes a job by ID. Deleting an unknown ID is not an error.
func (s *JobStore) DeleteJob(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(jobsBucket))
		return errors.Wrapf(b.Delete([]byte(id)), "delete job %s", id)
	})
}
