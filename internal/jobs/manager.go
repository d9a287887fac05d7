package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/paperrag/pkg/types"
)

var (
	// ErrJobNotFound is returned for ids the manager doesn't track
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotAdmitted is returned when updating a job still waiting in the queue
	ErrJobNotAdmitted = errors.New("job is queued")
	// ErrJobVanished is returned by waiters when the job stops being tracked
	ErrJobVanished = errors.New("job vanished while waiting")
)

// Defaults
const (
	DefaultMaxConcurrentJobs = 10
	DefaultMaxActiveJobs     = 10
)

// Observer is told about every job change. Calls happen outside the
// manager's lock, possibly from several goroutines.
type Observer interface {
	JobChanged(job Job)
	JobRemoved(paperID string)
}

// Config configures a Manager
type Config struct {
	MaxConcurrentJobs int // running (non-terminal, admitted) jobs
	MaxActiveJobs     int // admitted jobs kept, terminal ones included
	Observers         []Observer
}

// Manager tracks ingestion jobs. Up to MaxConcurrentJobs run at once; the
// rest wait in a FIFO queue and are admitted as running jobs finish.
// A single mutex guards all state.
type Manager struct {
	mu  sync.Mutex
	cfg Config

	active map[string]*Job
	order  []string // admission order of active
	queue  []string
	queued map[string]*Job

	// changed is closed and replaced on every state change
	changed chan struct{}

	now func() time.Time
}

// NewManager creates a Manager
func NewManager(cfg Config) *Manager {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = DefaultMaxConcurrentJobs
	}
	if cfg.MaxActiveJobs <= 0 {
		cfg.MaxActiveJobs = DefaultMaxActiveJobs
	}
	if cfg.MaxActiveJobs < cfg.MaxConcurrentJobs {
		cfg.MaxActiveJobs = cfg.MaxConcurrentJobs
	}
	return &Manager{
		cfg:     cfg,
		active:  make(map[string]*Job),
		queued:  make(map[string]*Job),
		changed: make(chan struct{}),
		now:     time.Now,
	}
}

// AddObserver registers an observer
func (m *Manager) AddObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Observers = append(m.cfg.Observers, o)
}

// Add tracks a job for paperID. An already tracked job is returned
// unchanged with created=false. A new job is admitted as pending when a
// slot is free and queued otherwise.
func (m *Manager) Add(paperID string) (job Job, created bool) {
	var events []Job
	var removed []string
	defer func() { m.notify(events, removed) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	if j, ok := m.active[paperID]; ok {
		return *j, false
	}
	if j, ok := m.queued[paperID]; ok {
		return *j, false
	}

	j, evicted := m.addLocked(paperID)
	removed = evicted
	events = append(events, *j)
	return *j, true
}

// Restart re-admits a job that reached a terminal status, under the same
// concurrency bound as Add. An untracked id is added. A pending, running or
// queued job is returned unchanged with restarted=false.
func (m *Manager) Restart(paperID string) (job Job, restarted bool) {
	var events []Job
	var removed []string
	defer func() { m.notify(events, removed) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	if j, ok := m.queued[paperID]; ok {
		return *j, false
	}
	if j, ok := m.active[paperID]; ok {
		if !j.Status.Terminal() {
			return *j, false
		}
		m.removeActiveLocked(paperID)
	}

	j, evicted := m.addLocked(paperID)
	removed = evicted
	events = append(events, *j)
	return *j, true
}

// addLocked creates a fresh job, admitting it when a slot is free
func (m *Manager) addLocked(paperID string) (*Job, []string) {
	now := m.now()
	j := &Job{PaperID: paperID, StartTime: now, UpdatedAt: now}
	var evicted []string
	if m.runningLocked() < m.cfg.MaxConcurrentJobs {
		j.Status = StatusPending
		evicted = m.admitLocked(j)
	} else {
		j.Status = StatusQueued
		j.Step = "waiting for a free slot"
		m.queue = append(m.queue, paperID)
		m.queued[paperID] = j
	}
	m.broadcastLocked()
	return j, evicted
}

// Update applies u to an admitted job. A transition to a terminal status
// admits queued jobs into the freed slots.
func (m *Manager) Update(paperID string, u Update) (Job, error) {
	var events []Job
	var removed []string
	defer func() { m.notify(events, removed) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.active[paperID]
	if !ok {
		if _, queued := m.queued[paperID]; queued {
			return Job{}, fmt.Errorf("%w: %s", ErrJobNotAdmitted, paperID)
		}
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, paperID)
	}

	wasRunning := j.Status.Running()
	j.apply(u, m.now())
	events = append(events, *j)

	if wasRunning && !j.Status.Running() {
		admitted, evicted := m.promoteLocked()
		events = append(events, admitted...)
		removed = append(removed, evicted...)
	}
	m.broadcastLocked()
	return *j, nil
}

// Get returns a snapshot of the job
func (m *Manager) Get(paperID string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.active[paperID]; ok {
		return *j, true
	}
	if j, ok := m.queued[paperID]; ok {
		return *j, true
	}
	return Job{}, false
}

// All returns active jobs in admission order followed by the queue
func (m *Manager) All() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, 0, len(m.order)+len(m.queue))
	for _, id := range m.order {
		out = append(out, *m.active[id])
	}
	for _, id := range m.queue {
		out = append(out, *m.queued[id])
	}
	return out
}

// Clear forgets a job. Clearing a running job frees its slot.
func (m *Manager) Clear(paperID string) bool {
	var events []Job
	var removed []string
	defer func() { m.notify(events, removed) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	if j, ok := m.active[paperID]; ok {
		running := j.Status.Running()
		m.removeActiveLocked(paperID)
		removed = append(removed, paperID)
		if running {
			admitted, evicted := m.promoteLocked()
			events = append(events, admitted...)
			removed = append(removed, evicted...)
		}
		m.broadcastLocked()
		return true
	}
	if _, ok := m.queued[paperID]; ok {
		delete(m.queued, paperID)
		m.queue = removeID(m.queue, paperID)
		removed = append(removed, paperID)
		m.broadcastLocked()
		return true
	}
	return false
}

// WaitAdmitted blocks until the job leaves the queue and returns its
// snapshot. A job that disappears while waiting yields ErrJobVanished.
func (m *Manager) WaitAdmitted(ctx context.Context, paperID string) (Job, error) {
	return m.Wait(ctx, paperID, func(j Job) bool { return j.Status != StatusQueued })
}

// WaitDone blocks until the job reaches a terminal status
func (m *Manager) WaitDone(ctx context.Context, paperID string) (Job, error) {
	return m.Wait(ctx, paperID, func(j Job) bool { return j.Status.Terminal() })
}

// Wait blocks until cond holds for the job. Waiters wake on every state
// change rather than polling.
func (m *Manager) Wait(ctx context.Context, paperID string, cond func(Job) bool) (Job, error) {
	for {
		m.mu.Lock()
		j, ok := m.active[paperID]
		if !ok {
			j, ok = m.queued[paperID]
		}
		if !ok {
			m.mu.Unlock()
			return Job{}, types.NewPipelineError(types.KindConcurrency, paperID, ErrJobVanished)
		}
		snapshot := *j
		changed := m.changed
		m.mu.Unlock()

		if cond(snapshot) {
			return snapshot, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return Job{}, ctx.Err()
		}
	}
}

// Running returns the number of jobs holding a concurrency slot
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runningLocked()
}

// QueueLength returns the number of waiting jobs
func (m *Manager) QueueLength() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Manager) runningLocked() int {
	n := 0
	for _, j := range m.active {
		if j.Status.Running() {
			n++
		}
	}
	return n
}

// admitLocked inserts j into the active set, evicting the terminal entries
// with the earliest start time while the set is full. Returns the evicted
// ids.
func (m *Manager) admitLocked(j *Job) []string {
	var evicted []string
	for len(m.active) >= m.cfg.MaxActiveJobs {
		oldest := ""
		for _, id := range m.order {
			a := m.active[id]
			if !a.Status.Terminal() {
				continue
			}
			if oldest == "" || a.StartTime.Before(m.active[oldest].StartTime) {
				oldest = id
			}
		}
		if oldest == "" {
			break
		}
		m.removeActiveLocked(oldest)
		evicted = append(evicted, oldest)
	}
	m.active[j.PaperID] = j
	m.order = append(m.order, j.PaperID)
	return evicted
}

// promoteLocked admits queue heads while slots are free
func (m *Manager) promoteLocked() (admitted []Job, evicted []string) {
	for len(m.queue) > 0 && m.runningLocked() < m.cfg.MaxConcurrentJobs {
		id := m.queue[0]
		m.queue = m.queue[1:]
		j := m.queued[id]
		delete(m.queued, id)

		j.Status = StatusPending
		j.Step = ""
		j.UpdatedAt = m.now()
		evicted = append(evicted, m.admitLocked(j)...)
		admitted = append(admitted, *j)
	}
	return admitted, evicted
}

func (m *Manager) removeActiveLocked(paperID string) {
	delete(m.active, paperID)
	m.order = removeID(m.order, paperID)
}

func (m *Manager) broadcastLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *Manager) notify(events []Job, removed []string) {
	if len(events) == 0 && len(removed) == 0 {
		return
	}
	m.mu.Lock()
	observers := append([]Observer(nil), m.cfg.Observers...)
	m.mu.Unlock()

	for _, o := range observers {
		for _, id := range removed {
			o.JobRemoved(id)
		}
		for _, j := range events {
			o.JobChanged(j)
		}
	}
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
