// File: internal/cron/store.go

// Package cron persists scheduled jobs in one flat JSON file and replays
// each due job's query through the agent loop on a fixed polling cadence.
package cron

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StoredJob is one scheduled job record. LastRun and the interval are unix
// seconds; StartTime is an optional local wall-clock string in the layout
// "2006-01-02 15:04:05".
type StoredJob struct {
	JobID     string `json:"job_id"`
	Interval  int    `json:"interval"`
	Query     string `json:"query"`
	LastRun   int64  `json:"last_run"`
	StartTime string `json:"start_time,omitempty"`
	IsActive  bool   `json:"is_active"`
}

// Store is a file-backed job map shared between processes. Every mutation is
// a full load-mutate-rewrite; the rewrite goes through a temp file and an
// atomic rename so a concurrent reader never observes a torn file. There is
// no cross-process lock: two concurrent writers can still lose an update,
// an accepted limitation of the flat-file design.
type Store struct {
	path string
	mu   sync.Mutex

	now func() time.Time
}

// NewStore opens (or creates) the job file at path.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, now: time.Now}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.save(map[string]StoredJob{}); err != nil {
			return nil, fmt.Errorf("creating job store: %w", err)
		}
	}
	return s, nil
}

// Jobs returns every stored job keyed by id. An unreadable or corrupt file
// yields an empty map, never an error: a broken store means "no jobs".
func (s *Store) Jobs() map[string]StoredJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// AddJob upserts a job. An existing record with the same id is overwritten
// wholesale; LastRun is set to the add time and the job starts active.
func (s *Store) AddJob(jobID string, intervalSeconds int, query string, startTime string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := s.load()
	jobs[jobID] = StoredJob{
		JobID:     jobID,
		Interval:  intervalSeconds,
		Query:     query,
		LastRun:   s.now().Unix(),
		StartTime: startTime,
		IsActive:  true,
	}
	return s.save(jobs)
}

// RemoveJob deletes a job; removing an unknown id is a no-op.
func (s *Store) RemoveJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := s.load()
	if _, ok := jobs[jobID]; !ok {
		return nil
	}
	delete(jobs, jobID)
	return s.save(jobs)
}

// SetActive pauses or resumes a job.
func (s *Store) SetActive(jobID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := s.load()
	job, ok := jobs[jobID]
	if !ok {
		return fmt.Errorf("no job with id %q", jobID)
	}
	job.IsActive = active
	jobs[jobID] = job
	return s.save(jobs)
}

// UpdateLastRun advances a job's last-run timestamp to now. The timestamp
// only moves forward; a stale clock never rewinds it.
func (s *Store) UpdateLastRun(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := s.load()
	job, ok := jobs[jobID]
	if !ok {
		return fmt.Errorf("no job with id %q", jobID)
	}
	if ts := s.now().Unix(); ts > job.LastRun {
		job.LastRun = ts
		jobs[jobID] = job
		return s.save(jobs)
	}
	return nil
}

func (s *Store) load() map[string]StoredJob {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return map[string]StoredJob{}
	}
	var jobs map[string]StoredJob
	if err := json.Unmarshal(data, &jobs); err != nil || jobs == nil {
		return map[string]StoredJob{}
	}
	return jobs
}

func (s *Store) save(jobs map[string]StoredJob) error {
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding jobs: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".cron_jobs-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp job file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp job file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp job file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing job file: %w", err)
	}
	return nil
}
