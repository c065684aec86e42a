package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

type keyQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher runs jobs on a bounded worker pool. Keys are served in
// round-robin order so one busy desk cannot starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job // interface for outer jobs get in the dispatcher
	logger   *zap.Logger

	cancel   context.CancelFunc
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu        sync.Mutex
	queues    map[string]*keyQueue // job queue for each key
	ready     *list.List           // LRU queue storing keys
	positions map[string]*list.Element
}

func NewDispatcher(cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	cfg = cfg.normalized()
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		pool:      newJobChannelPool(ctx, cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, logger),
		jobQueue:  make(chan Job, cfg.QueueSize),
		logger:    logger,
		cancel:    cancel,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}

	// Warm up workers
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues job without blocking. It fails with ErrDispatcherBusy when
// the intake queue is full.
func (d *Dispatcher) Submit(job Job) error {
	if job.Run == nil {
		return errors.New("worker: job has no Run func")
	}
	select {
	case <-d.quit:
		return ErrDispatcherStopped
	default:
	}
	select {
	case d.jobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

// Cancel drops the queued jobs of key. Jobs already running are not affected.
func (d *Dispatcher) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.queues, key)
	if elem, ok := d.positions[key]; ok {
		d.ready.Remove(elem)
		delete(d.positions, key)
	}
}

// Pending returns the number of jobs of key waiting for a worker.
func (d *Dispatcher) Pending(key string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q := d.queues[key]; q != nil {
		return len(q.jobs)
	}
	return 0
}

// Workers returns the current pool size.
func (d *Dispatcher) Workers() int {
	return d.pool.size()
}

// Stop cancels the context of running jobs, waits for them to return and
// discards whatever is still queued. It is safe to call more than once.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
		d.cancel()
		d.pool.close()
		<-d.done
	})
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		// dispatch one job of the key in the front of LRU queue
		if !d.dispatchOne() {
			select {
			case job := <-d.jobQueue: // force congestion
				d.enqueueJob(job)
			case <-d.quit:
				return
			}
			continue
		}
		// if we have a new job, enqueue it and its key
		select {
		case job := <-d.jobQueue: // non-congestion
			d.enqueueJob(job)
		case <-d.quit:
			return
		default:
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Key]
	if q == nil {
		q = &keyQueue{}
		d.queues[job.Key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		// key already enqueue, skip
		return
	}
	q.enqueued = true
	d.positions[job.Key] = d.ready.PushBack(job.Key)
}

// dispatchOne waits for a worker, then hands it the next job of the first key
// in the LRU queue. The job is picked only once a worker is available, so a
// Cancel issued meanwhile still takes effect.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	empty := d.ready.Len() == 0
	d.mu.Unlock()
	if empty {
		return false
	}

	workerChan, ok := d.pool.acquire()
	if !ok {
		return false
	}

	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		d.pool.Release(workerChan)
		return false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		// key only have one job, it'll be handled, key needs to quit queue
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, key)
		delete(d.queues, key)
	} else {
		// get to the back of queue
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	d.logger.Debug("dispatch job", zap.String("key", key), zap.String("job", job.Name))
	select {
	case workerChan <- job:
		return true
	case <-d.pool.quit:
		return false
	}
}
