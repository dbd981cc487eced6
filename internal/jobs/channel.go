package jobs

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// EventChannel is the ordered, append-only event log of one job with
// multi-subscriber fan-out. Publishing never blocks on subscribers: every
// subscription owns an unbounded queue.
type EventChannel struct {
	jobID  string
	logger *slog.Logger

	mu     sync.Mutex
	events []Event
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

func newEventChannel(jobID string, logger *slog.Logger) *EventChannel {
	return &EventChannel{
		jobID:  jobID,
		logger: logger,
		subs:   make(map[uint64]*Subscription),
	}
}

// Publish appends evt to the log and delivers it to every attached subscriber.
// The channel closes itself after a terminal event.
func (c *EventChannel) Publish(evt Event) (Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.logger.Error("Publish on closed event channel", "job", c.jobID, "kind", evt.Kind)
		return Event{}, ErrChannelClosed
	}

	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.Seq = uint64(len(c.events)) + 1
	c.events = append(c.events, evt)

	for _, sub := range c.subs {
		sub.push(evt)
	}

	if evt.IsTerminal() {
		c.closeLocked()
	}

	return evt, nil
}

// Subscribe attaches a new subscriber. Replay and the switch to live delivery
// happen under one lock, so nothing is skipped or duplicated at the boundary.
// After termination only the terminal event is replayed.
func (c *EventChannel) Subscribe() *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	sub := &Subscription{
		id:      c.nextID,
		channel: c,
		notify:  make(chan struct{}, 1),
	}

	if c.closed {
		if n := len(c.events); n > 0 && c.events[n-1].IsTerminal() {
			sub.queue = []Event{c.events[n-1]}
		}
		sub.done = true
		return sub
	}

	sub.queue = make([]Event, len(c.events))
	copy(sub.queue, c.events)
	c.subs[sub.id] = sub
	return sub
}

// Close is idempotent. Attached subscribers drain what they already hold and
// then reach end of stream.
func (c *EventChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *EventChannel) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	for _, sub := range c.subs {
		sub.finish()
	}
}

// Events returns a copy of the buffered events
func (c *EventChannel) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Len returns the number of published events
func (c *EventChannel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// SubscriberCount returns the number of attached subscribers that have not
// yet drained the channel
func (c *EventChannel) SubscriberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Closed reports whether the channel accepts no more events
func (c *EventChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *EventChannel) detach(id uint64) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

// Subscription is one subscriber's view of an EventChannel
type Subscription struct {
	id      uint64
	channel *EventChannel
	notify  chan struct{}

	mu     sync.Mutex
	queue  []Event
	done   bool // no more events will be queued
	closed bool // consumer went away
}

// JobID returns the id of the job this subscription follows
func (s *Subscription) JobID() string {
	return s.channel.jobID
}

// Next blocks until the next event is available. It returns io.EOF once the
// terminal event has been yielded, and ctx.Err() if ctx ends first.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return Event{}, io.EOF
		}
		if len(s.queue) > 0 {
			evt := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			if evt.IsTerminal() {
				s.done = true
			}
			s.mu.Unlock()

			if evt.IsTerminal() {
				s.channel.detach(s.id)
			}
			return evt, nil
		}
		if s.done {
			s.mu.Unlock()
			s.channel.detach(s.id)
			return Event{}, io.EOF
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Close detaches the subscriber. Safe to call multiple times; the job is not affected.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	s.channel.detach(s.id)
	s.wake()
}

func (s *Subscription) push(evt Event) {
	s.mu.Lock()
	if s.closed || s.done {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, evt)
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) finish() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
