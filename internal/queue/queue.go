// Package queue serializes automation jobs so only one flow drives the
// remote desktop at a time.
package queue

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mj1618/portal-pilot/internal/model"
)

// Job is one submitted automation request. Payload is opaque to the queue.
type Job struct {
	ID        string          `yaml:"id"        json:"id"`
	Tag       string          `yaml:"tag"       json:"tag"`
	Payload   json.RawMessage `yaml:"-"         json:"payload,omitempty"`
	Submitted time.Time       `yaml:"submitted" json:"submitted"`
}

// NewJob stamps an id and submission time.
func NewJob(tag string, payload json.RawMessage) Job {
	return Job{ID: uuid.NewString(), Tag: tag, Payload: payload, Submitted: time.Now()}
}

// Status is a consistent snapshot of the queue.
type Status struct {
	Pending       int             `yaml:"pending"        json:"pending"`
	CurrentStatus model.RunStatus `yaml:"current_status" json:"current_status"`
	Queue         []string        `yaml:"queue"          json:"queue"`
	Processing    bool            `yaml:"processing"     json:"processing"`
}

// Queue is a FIFO of pending jobs plus the "processor active" flag. Every
// operation holds the single mutex for its whole critical section.
type Queue struct {
	mu         sync.Mutex
	pending    []Job
	processing bool
	current    model.RunStatus
}

// New returns an empty, idle queue.
func New() *Queue {
	return &Queue{current: model.StatusIdle}
}

// EnqueueAndMaybeBecomeProcessor appends job and, atomically with the
// append, decides whether the caller must start processing. Exactly one
// caller is told to process until MarkProcessorFinished is called. position
// is 1-based.
func (q *Queue) EnqueueAndMaybeBecomeProcessor(job Job) (position int, shouldProcess bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, job)
	position = len(q.pending)
	if !q.processing {
		q.processing = true
		shouldProcess = true
	}
	return position, shouldProcess
}

// Dequeue pops the oldest pending job.
func (q *Queue) Dequeue() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// MarkProcessorFinished clears the processor flag so the next submission
// starts a new processor.
func (q *Queue) MarkProcessorFinished() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing = false
}

// next pops the oldest job, or, when nothing is pending, clears the
// processor flag in the same critical section. A submission racing with an
// exiting processor therefore either lands before the pop (and is processed)
// or sees processing=false (and becomes the processor).
func (q *Queue) next() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.popLocked()
	if !ok {
		q.processing = false
	}
	return job, ok
}

func (q *Queue) popLocked() (Job, bool) {
	if len(q.pending) == 0 {
		return Job{}, false
	}
	job := q.pending[0]
	q.pending[0] = Job{}
	q.pending = q.pending[1:]
	return job, true
}

// SetCurrentStatus records the status of the execution currently running.
func (q *Queue) SetCurrentStatus(s model.RunStatus) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.current = s
}

// Processing reports whether a processor is active.
func (q *Queue) Processing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// Status returns pending count, current run status and pending tags read
// under one lock.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	tags := make([]string, 0, len(q.pending))
	for _, j := range q.pending {
		tags = append(tags, j.Tag)
	}
	return Status{
		Pending:       len(q.pending),
		CurrentStatus: q.current,
		Queue:         tags,
		Processing:    q.processing,
	}
}
