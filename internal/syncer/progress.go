package syncer

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

type ProgressSnapshot struct {
	Op         string    `json:"op"`
	Done       int       `json:"done"`
	Total      int       `json:"total"`
	Running    bool      `json:"running"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// ProgressObserver is pushed snapshots of a running bulk operation.
type ProgressObserver func(ProgressSnapshot)

// Progress tracks a bulk operation. Workers bump the shared counters as each shard completes;
// observers are pushed coalesced snapshots at most once per interval, plus a final one.
type Progress struct {
	interval time.Duration
	done     *atomic.Int64
	total    *atomic.Int64
	running  *atomic.Bool

	mu        sync.Mutex
	op        string
	errMsg    string
	startedAt time.Time
	finished  time.Time
	observers map[int]ProgressObserver
	nextID    int
	dirty     chan struct{}
	stop      chan struct{}
	stopped   chan struct{}
}

func NewProgress(interval time.Duration) *Progress {
	return &Progress{
		interval:  interval,
		done:      atomic.NewInt64(0),
		total:     atomic.NewInt64(0),
		running:   atomic.NewBool(false),
		observers: make(map[int]ProgressObserver),
	}
}

// Start resets the counters for a new operation and starts pushing snapshots.
func (p *Progress) Start(op string) {
	p.mu.Lock()
	p.op = op
	p.errMsg = ""
	p.startedAt = time.Now()
	p.finished = time.Time{}
	p.done.Store(0)
	p.total.Store(0)
	p.running.Store(true)
	p.dirty = make(chan struct{}, 1)
	p.stop = make(chan struct{})
	p.stopped = make(chan struct{})
	dirty, stop, stopped := p.dirty, p.stop, p.stopped
	p.mu.Unlock()

	go p.publish(dirty, stop, stopped)
	p.signal(dirty)
}

// Update is safe to call from concurrent workers.
func (p *Progress) Update(done, total int) {
	p.total.Store(int64(total))
	for {
		cur := p.done.Load()
		if int64(done) <= cur || p.done.CompareAndSwap(cur, int64(done)) {
			break
		}
	}
	p.mu.Lock()
	dirty := p.dirty
	p.mu.Unlock()
	p.signal(dirty)
}

// Finish stops the publisher and pushes the final snapshot.
func (p *Progress) Finish(err error) {
	p.mu.Lock()
	if err != nil {
		p.errMsg = err.Error()
	}
	p.finished = time.Now()
	p.running.Store(false)
	stop, stopped := p.stop, p.stopped
	p.mu.Unlock()

	if stop != nil {
		close(stop)
		<-stopped
	}
}

func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ProgressSnapshot{
		Op:         p.op,
		Done:       int(p.done.Load()),
		Total:      int(p.total.Load()),
		Running:    p.running.Load(),
		Error:      p.errMsg,
		StartedAt:  p.startedAt,
		FinishedAt: p.finished,
	}
}

// Subscribe registers fn and immediately pushes the current snapshot to it.
func (p *Progress) Subscribe(fn ProgressObserver) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.observers[id] = fn
	p.mu.Unlock()

	fn(p.Snapshot())
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.observers, id)
	}
}

func (p *Progress) signal(dirty chan struct{}) {
	if dirty == nil {
		return
	}
	select {
	case dirty <- struct{}{}:
	default:
	}
}

func (p *Progress) publish(dirty, stop, stopped chan struct{}) {
	defer close(stopped)
	var last time.Time
	for {
		select {
		case <-stop:
			p.notify()
			return
		case <-dirty:
			if wait := p.interval - time.Since(last); p.interval > 0 && wait > 0 {
				select {
				case <-stop:
					p.notify()
					return
				case <-time.After(wait):
				}
			}
			last = time.Now()
			p.notify()
		}
	}
}

func (p *Progress) notify() {
	snap := p.Snapshot()
	p.mu.Lock()
	observers := make([]ProgressObserver, 0, len(p.observers))
	for _, o := range p.observers {
		observers = append(observers, o)
	}
	p.mu.Unlock()
	for _, o := range observers {
		o(snap)
	}
}
