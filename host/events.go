package host

import (
	"sync"

	"github.com/pkg/errors"
)

// EventStatus is the state of the last recording of an Event.
type EventStatus int

const (
	// EventUnknown means the event was never recorded.
	EventUnknown EventStatus = iota
	EventPending
	EventComplete
	EventError
)

// String implements fmt.Stringer.
func (s EventStatus) String() string {
	switch s {
	case EventUnknown:
		return "Unknown"
	case EventPending:
		return "Pending"
	case EventComplete:
		return "Complete"
	case EventError:
		return "Error"
	}
	return "EventStatus(?)"
}

// signal is one recording of an event: done is closed when the recording point is reached on its stream.
type signal struct {
	done chan struct{}
	err  error
}

func newSignal() *signal {
	return &signal{done: make(chan struct{})}
}

// fire marks the signal as reached. err is set if the stream failed before reaching it.
func (sig *signal) fire(err error) {
	sig.err = err
	close(sig.done)
}

func (sig *signal) wait() error {
	<-sig.done
	return sig.err
}

// Event is a host platform event: streams record it (Stream.RecordEvent) and wait for it (Stream.WaitForEvent).
//
// Each recording replaces the previous one: waiting always refers to the last recording at the time the
// wait was queued (or called, for Await). Waiting for an event never recorded returns immediately.
type Event struct {
	executor *Executor

	mu        sync.Mutex
	current   *signal
	destroyed bool
}

// NewEvent creates an event that can be used with the streams of this executor.
func (e *Executor) NewEvent() *Event {
	return &Event{executor: e}
}

// record makes sig the last recording of the event. It is called only once the recording is queued, so a
// rejected recording leaves the previous one in place.
func (ev *Event) record(sig *signal) error {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if ev.destroyed {
		return errors.New("Event is destroyed")
	}
	ev.current = sig
	return nil
}

// last returns the signal of the last recording, or nil if never recorded.
func (ev *Event) last() (*signal, error) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if ev.destroyed {
		return nil, errors.New("Event is destroyed")
	}
	return ev.current, nil
}

// Await blocks the calling goroutine until the last recording of the event is reached, and returns the error
// of the stream it was recorded on, if it failed before reaching it.
func (ev *Event) Await() error {
	if ev == nil {
		return errors.New("Event is nil")
	}
	sig, err := ev.last()
	if err != nil || sig == nil {
		return err
	}
	return sig.wait()
}

// Poll returns the status of the last recording without blocking.
func (ev *Event) Poll() EventStatus {
	sig, err := ev.last()
	if err != nil || sig == nil {
		return EventUnknown
	}
	select {
	case <-sig.done:
		if sig.err != nil {
			return EventError
		}
		return EventComplete
	default:
		return EventPending
	}
}

// Destroy the Event: it can no longer be recorded or waited for.
// Recordings already queued are still signaled. It is a no-op if already destroyed.
func (ev *Event) Destroy() error {
	if ev == nil {
		return nil
	}
	ev.mu.Lock()
	defer ev.mu.Unlock()
	ev.destroyed = true
	ev.current = nil
	return nil
}
