package worker

import (
	"time"

	"go.uber.org/zap"
)

type Worker struct {
	pool       *jobChannelPool
	jobChannel chan Job
}

func newWorker(pool *jobChannelPool) *Worker {
	return &Worker{
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		defer w.pool.wg.Done()
		for {
			w.pool.Release(w.jobChannel)
			select {
			case job := <-w.jobChannel:
				if job.stop {
					w.pool.retire(w.jobChannel)
					return
				}
				w.run(job)
			case <-w.pool.quit:
				return
			}
		}
	}()
}

func (w *Worker) run(job Job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			w.pool.logger.Error("job panicked",
				zap.String("key", job.Key),
				zap.String("job", job.Name),
				zap.Any("panic", r),
			)
		}
	}()
	job.Run(w.pool.ctx)
	w.pool.logger.Debug("job done",
		zap.String("key", job.Key),
		zap.String("job", job.Name),
		zap.Duration("elapsed", time.Since(start)),
	)
}
