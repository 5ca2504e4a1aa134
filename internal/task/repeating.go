package task

import (
	"sync"
	"time"
)

// RepeatingTask executes a function in a fixed interval asynchronously
type RepeatingTask struct {
	fn       func()
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
}

// NewRepeating creates a new repeating asynchronous task
func NewRepeating(fn func(), interval time.Duration) *RepeatingTask {
	return &RepeatingTask{
		fn:       fn,
		interval: interval,
	}
}

// Start starts the repeating task.
// If the task is already running, this is a no-op.
func (task *RepeatingTask) Start() {
	task.mu.Lock()
	defer task.mu.Unlock()
	if task.stop != nil {
		return
	}
	task.stop = make(chan struct{})

	go func(stop chan struct{}) {
		ticker := time.NewTicker(task.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				task.fn()
			case <-stop:
				return
			}
		}
	}(task.stop)
}

// Stop stops the repeating task.
// If the task is not running, this is a no-op.
// forceExec defines whether to execute the function one last time just before the task shuts down.
func (task *RepeatingTask) Stop(forceExec bool) {
	task.mu.Lock()
	defer task.mu.Unlock()
	if task.stop == nil {
		return
	}
	close(task.stop)
	task.stop = nil
	if forceExec {
		task.fn()
	}
}
