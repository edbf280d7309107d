package worker

import (
	"container/list"
	"log/slog"
	"sync"
	"time"
)

type JobType string

const (
	Turn JobType = "turn"
	Stop JobType = "stop"
)

// Job is one unit of work handed to a pool worker.
type Job struct {
	Type JobType
	Task *turnTask
}

func (job Job) fail(err error) {
	if job.Task != nil {
		job.Task.resultCh <- workerReturn{err: err}
	}
}

func (job Job) sessionID() int64 {
	if job.Type == Turn && job.Task != nil {
		return job.Task.req.SessionID
	}
	return 0
}

type sessionQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher hands queued jobs to pool workers, rotating between sessions so
// that one busy session cannot starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job
	Manager  *Manager

	mu        sync.Mutex
	queues    map[int64]*sessionQueue
	ready     *list.List // session ids waiting for a worker, least recently served first
	positions map[int64]*list.Element

	submitMu sync.RWMutex
	stopped  bool
	quit     chan struct{}
	stopOnce sync.Once
}

func NewDispatcher(minWorkers, maxWorkers, queueSize int, manager *Manager, idleTimeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	pool := newJobChannelPool(minWorkers, maxWorkers, idleTimeout, manager)
	d := &Dispatcher{
		queues:    make(map[int64]*sessionQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
		pool:      pool,
		JobQueue:  make(chan Job, queueSize),
		Manager:   manager,
		quit:      make(chan struct{}),
	}

	for i := 0; i < minWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues job without blocking. It fails with ErrManagerClosed once Stop
// has begun and with ErrDispatcherBusy when the queue is full.
func (d *Dispatcher) Submit(job Job) error {
	d.submitMu.RLock()
	defer d.submitMu.RUnlock()
	if d.stopped {
		return ErrManagerClosed
	}
	select {
	case d.JobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

func (d *Dispatcher) run() {
	for {
		if !d.dispatchOne() {
			select {
			case job := <-d.JobQueue:
				d.enqueueJob(job)
			case <-d.quit:
				return
			}
			continue
		}
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		case <-d.quit:
			return
		default:
		}
	}
}

// Stop ends dispatching and retires the pool. Jobs that never reached a
// worker fail with ErrManagerClosed.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.submitMu.Lock()
		d.stopped = true
		d.submitMu.Unlock()
		close(d.quit)
		d.pool.close()
		for _, job := range d.drain() {
			job.fail(ErrManagerClosed)
		}
	})
}

// drain removes every job no worker has picked up yet.
func (d *Dispatcher) drain() []Job {
	d.mu.Lock()
	var dropped []Job
	for e := d.ready.Front(); e != nil; e = e.Next() {
		if q, ok := d.queues[e.Value.(int64)]; ok {
			dropped = append(dropped, q.jobs...)
		}
	}
	d.queues = make(map[int64]*sessionQueue)
	d.positions = make(map[int64]*list.Element)
	d.ready.Init()
	d.mu.Unlock()

	for {
		select {
		case job := <-d.JobQueue:
			dropped = append(dropped, job)
		default:
			return dropped
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	sessionID := job.sessionID()

	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[sessionID]
	if q == nil {
		q = &sessionQueue{}
		d.queues[sessionID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[sessionID] = d.ready.PushBack(sessionID)
}

// dispatchOne sends the next job of the front session to a worker, blocking
// until one is free. It reports false when nothing is queued.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	sessionID := elem.Value.(int64)
	q := d.queues[sessionID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, sessionID)
		delete(d.queues, sessionID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	if workerChan == nil {
		job.fail(ErrManagerClosed)
		return false
	}
	slog.Debug("dispatcher assigned job", "type", job.Type, "session_id", sessionID, "worker", d.pool.workerID(workerChan))
	workerChan <- job
	return true
}
