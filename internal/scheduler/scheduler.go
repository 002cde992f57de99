// Package scheduler drives the node's periodic background tasks (elector,
// flusher, rotator, heartbeater, stale-agent), generalizing the teacher's
// utils.StartTimer ticker loop with an on-demand trigger that coalesces
// with a pending tick instead of just firing on a fixed interval.
package scheduler

import "time"

// Task runs f on every tick of interval, and also whenever Trigger is
// called; a Trigger received while f is running, or while one is already
// pending, is coalesced into the next run rather than queued.
type Task struct {
	trigger chan struct{}
	done    chan struct{}
}

// Start launches f on its own goroutine, immediately and then every
// interval or on-demand via Trigger, until Stop is called. Only one
// invocation of f runs at a time.
func Start(interval time.Duration, f func(time.Time)) *Task {
	t := &Task{
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				f(now)
			case <-t.trigger:
				f(time.Now())
			case <-t.done:
				return
			}
		}
	}()

	return t
}

// Trigger requests an out-of-band run as soon as the task is free. It
// never blocks: a trigger already pending is reused.
func (t *Task) Trigger() {
	select {
	case t.trigger <- struct{}{}:
	default:
	}
}

// Stop ends the task's goroutine. It does not wait for an in-flight run
// of f to finish.
func (t *Task) Stop() {
	close(t.done)
}
