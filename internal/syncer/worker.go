package syncer

import (
	"context"
	"errors"
	"sync"

	"cloutdash/internal/providers"
)

var ErrWorkerStopped = errors.New("background worker stopped")

// Job is one unit of background store work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

type WorkerInterface interface {
	Init()
	Stop()
	Enqueue(job Job) error
	Wait()
}

// Worker runs jobs one at a time in submission order, so dependent writes never overlap.
type Worker struct {
	logger  providers.Logger
	queue   chan Job
	opsMu   sync.Mutex
	idle    *sync.Cond
	pending int
	started bool
	stopped bool
	done    chan struct{}
}

func NewWorker(logger providers.Logger, queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = 64
	}
	w := &Worker{
		logger: logger,
		queue:  make(chan Job, queueSize),
		done:   make(chan struct{}),
	}
	w.idle = sync.NewCond(&w.opsMu)
	return w
}

func (w *Worker) Init() {
	w.opsMu.Lock()
	defer w.opsMu.Unlock()
	if w.started {
		return
	}
	w.started = true
	go w.loop()
}

func (w *Worker) loop() {
	defer close(w.done)
	for job := range w.queue {
		if err := job.Run(context.Background()); err != nil {
			w.logger.Errorf(providers.TypeSync, "Background job %s failed: %s", job.Name, err)
		} else {
			w.logger.Debugf(providers.TypeSync, "Background job %s done", job.Name)
		}
		w.opsMu.Lock()
		w.pending--
		if w.pending == 0 {
			w.idle.Broadcast()
		}
		w.opsMu.Unlock()
	}
}

// Enqueue blocks while the queue is full.
func (w *Worker) Enqueue(job Job) error {
	w.opsMu.Lock()
	if w.stopped {
		w.opsMu.Unlock()
		return ErrWorkerStopped
	}
	w.pending++
	w.opsMu.Unlock()

	w.queue <- job
	return nil
}

// Wait blocks until every enqueued job has run.
func (w *Worker) Wait() {
	w.opsMu.Lock()
	defer w.opsMu.Unlock()
	for w.pending > 0 {
		w.idle.Wait()
	}
}

// Stop drains queued jobs and stops the loop.
func (w *Worker) Stop() {
	w.opsMu.Lock()
	if w.stopped {
		w.opsMu.Unlock()
		return
	}
	w.stopped = true
	started := w.started
	w.opsMu.Unlock()

	if !started {
		return
	}
	w.Wait()
	close(w.queue)
	<-w.done
}
