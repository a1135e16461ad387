// Package merge implements the background consolidation job and its
// scheduler (spec §4.6). The job body is grounded on the teacher's
// pager.GC (internal/storage/pager/gc.go) pin/walk/rewrite/unpin reclaim
// pass; the periodic trigger is grounded on internal/storage/scheduler.go,
// the teacher's robfig/cron/v3-driven job runner.
package merge

import (
	"log"

	"github.com/robfig/cron/v3"
)

// Mergeable is the subset of table.Table a MergeJob needs. Kept as an
// interface here (rather than importing table directly) so merge stays a
// leaf package the way the teacher's scheduler.go is agnostic of any
// particular job's payload.
type Mergeable interface {
	Name() string
	ShouldMerge() bool
	ResetMergeCounter()
	AllBaseRIDs() []uint64
	MergeBaseRow(rid uint64) error
	FlushBufferPool()
}

// Job runs one consolidation pass over a single table.
type Job struct {
	table  Mergeable
	logger *log.Logger
}

// NewJob creates a Job for table t.
func NewJob(t Mergeable, logger *log.Logger) *Job {
	if logger == nil {
		logger = log.Default()
	}
	return &Job{table: t, logger: logger}
}

// Run performs one merge pass: every live base row is folded (rows with no
// stale columns are a no-op inside MergeBaseRow), then the buffer pool is
// asked to flush pages that eviction deferred while merge-pinned
// (spec §4.6 steps 1-6).
func (j *Job) Run() error {
	rids := j.table.AllBaseRIDs()
	var folded int
	for _, rid := range rids {
		if err := j.table.MergeBaseRow(rid); err != nil {
			j.logger.Printf("merge: table %s row %d: %v", j.table.Name(), rid, err)
			continue
		}
		folded++
	}
	j.table.FlushBufferPool()
	j.table.ResetMergeCounter()
	j.logger.Printf("merge: table %s pass complete, %d rows visited", j.table.Name(), folded)
	return nil
}

// RunIfDue runs a pass only when the table's updates-since-merge counter
// has crossed its configured threshold (spec §4.6's on-demand trigger).
func (j *Job) RunIfDue() error {
	if !j.table.ShouldMerge() {
		return nil
	}
	return j.Run()
}

// Scheduler drives periodic merge passes across a set of jobs using
// robfig/cron/v3, the same library internal/storage/scheduler.go uses for
// the teacher's catalog jobs.
type Scheduler struct {
	cron *cron.Cron
	jobs []*Job
}

// NewScheduler creates a Scheduler with no jobs.
func NewScheduler() *Scheduler {
	return &Scheduler{cron: cron.New()}
}

// Register adds a job to run on the given cron spec, checking threshold
// eligibility each tick rather than unconditionally merging. spec is a
// standard 5-field cron expression (e.g. "@every 30s" is also accepted by
// robfig/cron/v3).
func (s *Scheduler) Register(spec string, j *Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		_ = j.RunIfDue()
	})
	if err != nil {
		return err
	}
	s.jobs = append(s.jobs, j)
	return nil
}

// Start begins the scheduler's background goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }
