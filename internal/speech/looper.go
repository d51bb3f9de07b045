package speech

import (
	"fmt"
	"log/slog"
	"sync"
)

// Looper runs posted tasks one at a time, in order, on a single goroutine.
// Every engine call and engine callback goes through it.
type Looper struct {
	tasks     chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	log       *slog.Logger
}

func NewLooper(backlog int, log *slog.Logger) *Looper {
	if backlog <= 0 {
		backlog = 1
	}
	l := &Looper{
		tasks: make(chan func(), backlog),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		log:   log.With(slog.String("component", "looper")),
	}
	go l.run()
	return l
}

// Post queues task and reports whether it was accepted. It blocks while the
// backlog is full, so tasks must not Post from the looper itself.
func (l *Looper) Post(task func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.tasks <- task:
		return true
	case <-l.quit:
		return false
	}
}

// Sync waits until every task posted before it has run.
func (l *Looper) Sync() {
	barrier := make(chan struct{})
	if !l.Post(func() { close(barrier) }) {
		return
	}
	select {
	case <-barrier:
	case <-l.done:
	}
}

// Close stops the looper. Queued tasks that have not started are dropped.
func (l *Looper) Close() {
	l.closeOnce.Do(func() { close(l.quit) })
	<-l.done
}

func (l *Looper) run() {
	defer close(l.done)
	for {
		select {
		case <-l.quit:
			return
		case task := <-l.tasks:
			l.exec(task)
		}
	}
}

func (l *Looper) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("looper task panicked", slog.String("panic", fmt.Sprint(r)))
		}
	}()
	task()
}
