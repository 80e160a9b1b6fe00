package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// DefaultDedupWindow is how long duplicate keys are remembered.
const DefaultDedupWindow = 24 * time.Hour

const memoryPollInterval = 250 * time.Millisecond

// Memory is an in-process Queue for dev mode and tests. Jobs do not survive
// a restart.
type Memory struct {
	mu          sync.Mutex
	ready       map[string][]*Job
	delayed     map[string]*delayHeap
	dedup       map[string]time.Time
	dedupWindow time.Duration
	now         func() time.Time
}

// NewMemory creates an in-process queue.
func NewMemory() *Memory {
	return &Memory{
		ready:       make(map[string][]*Job),
		delayed:     make(map[string]*delayHeap),
		dedup:       make(map[string]time.Time),
		dedupWindow: DefaultDedupWindow,
		now:         time.Now,
	}
}

// SetDedupWindow overrides the dedup window. For tests.
func (m *Memory) SetDedupWindow(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dedupWindow = d
}

func (m *Memory) Enqueue(ctx context.Context, job *Job) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	if job.DedupKey != "" {
		m.pruneDedup(now)
		if _, seen := m.dedup[job.DedupKey]; seen {
			return false, nil
		}
		m.dedup[job.DedupKey] = now.Add(m.dedupWindow)
	}

	clone := *job
	if clone.Attempt == 0 {
		clone.Attempt = 1
	}
	m.push(&clone)
	return true, nil
}

// push assumes the lock is held.
func (m *Memory) push(job *Job) {
	if !job.RunAt.IsZero() && job.RunAt.After(m.now()) {
		h, ok := m.delayed[job.Queue]
		if !ok {
			h = &delayHeap{}
			m.delayed[job.Queue] = h
		}
		heap.Push(h, job)
		return
	}
	m.ready[job.Queue] = append(m.ready[job.Queue], job)
}

func (m *Memory) pruneDedup(now time.Time) {
	for key, expiry := range m.dedup {
		if expiry.Before(now) {
			delete(m.dedup, key)
		}
	}
}

// promote moves due delayed jobs to the ready list. Lock held.
func (m *Memory) promote(queueName string) {
	h, ok := m.delayed[queueName]
	if !ok {
		return
	}
	now := m.now()
	for h.Len() > 0 && !(*h)[0].RunAt.After(now) {
		job := heap.Pop(h).(*Job)
		m.ready[queueName] = append(m.ready[queueName], job)
	}
}

func (m *Memory) Dequeue(ctx context.Context, queueName string) (*Job, error) {
	deadline := time.NewTimer(memoryPollInterval)
	defer deadline.Stop()
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()

	for {
		m.mu.Lock()
		m.promote(queueName)
		if jobs := m.ready[queueName]; len(jobs) > 0 {
			job := jobs[0]
			m.ready[queueName] = jobs[1:]
			m.mu.Unlock()
			return job, nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrEmpty
		case <-tick.C:
		}
	}
}

func (m *Memory) Ack(ctx context.Context, job *Job) error { return nil }

func (m *Memory) Nack(ctx context.Context, job *Job, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *job
	clone.Attempt++
	clone.RunAt = m.now().Add(delay)
	m.push(&clone)
	return nil
}

func (m *Memory) Depth(ctx context.Context, queueName string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promote(queueName)
	return len(m.ready[queueName]), nil
}

type delayHeap []*Job

func (h delayHeap) Len() int            { return len(h) }
func (h delayHeap) Less(i, j int) bool  { return h[i].RunAt.Before(h[j].RunAt) }
func (h delayHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *delayHeap) Push(x any)         { *h = append(*h, x.(*Job)) }
func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	*h = old[:n-1]
	return job
}
