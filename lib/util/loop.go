package util

// Task is a unit of work executed by a Loop.
type Task func()

// Loop is a single-owner task queue: tasks posted from any goroutine run one
// after another on the loop's own goroutine. State that is only ever touched
// from inside tasks needs no further synchronisation.
type Loop struct {
	queue *LockFreeMPSC[Task]
	done  chan struct{}
}

// NewLoop creates a loop and starts its goroutine.
func NewLoop() *Loop {
	l := &Loop{
		queue: NewLockFreeMPSC[Task](),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for task := range l.queue.Recv() {
		(*task)()
	}
}

// Post schedules task on the loop and returns immediately.
// It returns false (and drops the task) if the loop is closed.
func (l *Loop) Post(task Task) bool {
	if task == nil {
		return false
	}
	return l.queue.Push(&task)
}

// Call runs task on the loop and waits until it has finished.
// It returns false if the loop is closed and the task did not run.
//
// Call must not be used from inside a task of the same loop, it would wait for itself.
func (l *Loop) Call(task Task) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		task()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.done:
		// the loop drains its queue before exiting, so the task either ran or never will
		select {
		case <-finished:
			return true
		default:
			return false
		}
	}
}

// Close stops accepting tasks, runs the tasks already queued and waits for the loop goroutine to exit.
func (l *Loop) Close() {
	l.queue.Close()
	<-l.done
}

// Done is closed once the loop has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
