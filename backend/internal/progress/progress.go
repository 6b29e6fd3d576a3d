// Package progress routes delivery progress of an upload session to the
// client connection that subscribed to it.
package progress

import (
	"sync"

	"github.com/picrelay/picrelay/shared/api"
	"github.com/picrelay/picrelay/shared/domain"
	"github.com/picrelay/picrelay/shared/middleware/metrics"
)

// Sink receives a completion percentage in (0, 100].
type Sink func(percent float64)

type key struct {
	user    domain.UserId
	session domain.SessionId
}

type registration struct {
	token   uint64
	sink    Sink
	onClose func()
}

// Registry maps a user's session to at most one sink. Sessions of different
// users never share a sink even when their ids collide.
type Registry struct {
	mu    sync.Mutex
	next  uint64
	sinks map[key]registration
}

func NewRegistry() *Registry {
	return &Registry{sinks: make(map[key]registration)}
}

// Register installs sink for the user's session, replacing any previous one.
// The returned func removes this registration only; it is safe to call more than once.
func (r *Registry) Register(userID domain.UserId, sessionID domain.SessionId, sink Sink) (unregister func()) {
	return r.register(key{userID, sessionID}, sink, nil)
}

// register installs a registration. A replaced registration is closed.
func (r *Registry) register(k key, sink Sink, onClose func()) func() {
	r.mu.Lock()
	r.next++
	token := r.next
	prev, replaced := r.sinks[k]
	r.sinks[k] = registration{token: token, sink: sink, onClose: onClose}
	r.mu.Unlock()

	if replaced && prev.onClose != nil {
		prev.onClose()
	}

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.sinks[k]; ok && cur.token == token {
			delete(r.sinks, k)
		}
	}
}

func (r *Registry) Unregister(userID domain.UserId, sessionID domain.SessionId) {
	r.mu.Lock()
	delete(r.sinks, key{userID, sessionID})
	r.mu.Unlock()
}

// Finish ends the session: the registration is removed and a subscribed
// stream is closed without a complete event unless one was already sent.
func (r *Registry) Finish(userID domain.UserId, sessionID domain.SessionId) {
	k := key{userID, sessionID}
	r.mu.Lock()
	reg, ok := r.sinks[k]
	delete(r.sinks, k)
	r.mu.Unlock()
	if ok && reg.onClose != nil {
		reg.onClose()
	}
}

// Report forwards percent to the session's sink, if any.
func (r *Registry) Report(userID domain.UserId, sessionID domain.SessionId, percent float64) {
	r.mu.Lock()
	reg, ok := r.sinks[key{userID, sessionID}]
	r.mu.Unlock()
	if ok {
		reg.sink(percent)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sinks)
}

// SinkFor returns a Sink that reports to whoever is subscribed to the
// user's session at the time of each call.
func (r *Registry) SinkFor(userID domain.UserId, sessionID domain.SessionId) Sink {
	return func(percent float64) { r.Report(userID, sessionID, percent) }
}

// Subscription is one client's view of a session's progress.
type Subscription struct {
	mu         sync.Mutex
	events     chan api.ProgressUpdate
	closed     bool
	unregister func()
}

// Subscribe registers a buffered event stream for the user's session. The
// channel is closed after the complete event, on Close, or when a newer
// subscription to the same session replaces this one.
func (r *Registry) Subscribe(userID domain.UserId, sessionID domain.SessionId) *Subscription {
	s := &Subscription{events: make(chan api.ProgressUpdate, 16)}
	// holding s.mu keeps a concurrent push from closing s before unregister is set
	s.mu.Lock()
	s.unregister = r.register(key{userID, sessionID}, s.push, s.Close)
	s.mu.Unlock()
	metrics.ProgressSubscribers.Inc()
	return s
}

func (s *Subscription) Events() <-chan api.ProgressUpdate {
	return s.events
}

func (s *Subscription) push(percent float64) {
	update := api.ProgressUpdate{Type: api.ProgressEvent, Progress: percent}
	if percent >= 100 {
		update.Type = api.CompleteEvent
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- update:
	default:
		// Slow reader: drop the oldest event so the newest, and in
		// particular the complete one, always gets through.
		select {
		case <-s.events:
		default:
		}
		s.events <- update
	}
	if update.Type == api.CompleteEvent {
		s.closeLocked()
	}
}

// Close ends the subscription and removes its registration.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
	s.unregister()
	metrics.ProgressSubscribers.Dec()
}
