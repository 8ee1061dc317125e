// Package queue implements the job queue: an ordered multiset of
// pending jobs supporting push, pop, remove and a non-empty check.
package queue

import (
	"container/list"
	"sync"

	"github.com/mgetgo/mwget/internal/job"
)

// Queue is a FIFO queue over Jobs. For a Metalink job with Parts, Pop
// returns the first schedulable Part (one that is neither done nor in
// use) alongside the Job; for an ordinary job it returns a nil Part.
type Queue struct {
	mu   sync.Mutex
	jobs *list.List // of *job.Job
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{jobs: list.New()}
}

// Push adds j to the back of the queue.
func (q *Queue) Push(j *job.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs.PushBack(j)
}

// Pop returns the next schedulable (Job, Part) pair in FIFO order over
// Jobs, or (nil, nil) if nothing is currently schedulable. A Job with
// Parts but no schedulable Part (all in use or done) is skipped in favor
// of the next Job, without being removed from the queue.
func (q *Queue) Pop() (*job.Job, *job.Part) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for e := q.jobs.Front(); e != nil; e = e.Next() {
		j := e.Value.(*job.Job)
		j.Lock()
		if j.Failed {
			j.Unlock()
			continue
		}
		if len(j.Parts) == 0 {
			if !j.InUse {
				j.Unlock()
				return j, nil
			}
			j.Unlock()
			continue
		}
		part := j.NextSchedulablePart()
		j.Unlock()
		if part != nil {
			return j, part
		}
	}
	return nil, nil
}

// Remove deletes j from the queue. It is a no-op if j is not present.
func (q *Queue) Remove(j *job.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for e := q.jobs.Front(); e != nil; e = e.Next() {
		if e.Value.(*job.Job) == j {
			q.jobs.Remove(e)
			return
		}
	}
}

// Any reports whether the queue holds any Jobs.
func (q *Queue) Any() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs.Len() > 0
}

// Len reports how many Jobs remain (for diagnostics and tests).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs.Len()
}
