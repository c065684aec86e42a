package worker

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDispatcherBusy    = errors.New("dispatcher queue is full")
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)

// Job is a unit of asynchronous work. Jobs sharing a Key are started in
// submission order; different keys take turns.
type Job struct {
	Key  string
	Name string
	Run  func(ctx context.Context)

	stop bool
}

type DispatcherConfig struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

const defaultQueueSize = 64

func (c DispatcherConfig) normalized() DispatcherConfig {
	if c.MinWorkers <= 0 {
		c.MinWorkers = 1
	}
	if c.MaxWorkers < c.MinWorkers {
		c.MaxWorkers = c.MinWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultWorkerIdle
	}
	return c
}
