package cron

import (
	"context"
	"time"
)

// Job is a unit of scheduled work run by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type entry struct {
	job   Job
	every time.Duration
	next  time.Time
}

// Registry holds jobs with their individual periods. A zero period runs the
// job on every tick.
type Registry struct {
	entries []*entry
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Register(job Job, every time.Duration) {
	if job == nil {
		return
	}
	if every < 0 {
		every = 0
	}
	r.entries = append(r.entries, &entry{job: job, every: every})
}

// Jobs returns registered jobs in registration order.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, 0, len(r.entries))
	for _, e := range r.entries {
		jobs = append(jobs, e.job)
	}
	return jobs
}

// due returns the jobs whose period has elapsed at now and pushes their next
// run forward. A job that has never run is always due.
func (r *Registry) due(now time.Time) []Job {
	var jobs []Job
	for _, e := range r.entries {
		if !e.next.IsZero() && now.Before(e.next) {
			continue
		}
		jobs = append(jobs, e.job)
		e.next = now.Add(e.every)
	}
	return jobs
}
