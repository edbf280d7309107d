package worker

import "travelbot/internal/service/assistant"

type workerReturn struct {
	result *assistant.TurnResult
	err    error
}

// Worker runs jobs received on its own channel, one at a time.
type Worker struct {
	manager    *Manager
	pool       *jobChannelPool
	jobChannel chan Job
}

func NewWorker(pool *jobChannelPool, manager *Manager) *Worker {
	return &Worker{
		manager:    manager,
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		defer w.pool.retire(w.jobChannel)
		if !w.pool.Release(w.jobChannel) {
			return
		}
		for job := range w.jobChannel {
			switch job.Type {
			case Stop:
				return
			case Turn:
				w.manager.handleTurn(job.Task)
			}
			if !w.pool.Release(w.jobChannel) {
				return
			}
		}
	}()
}
