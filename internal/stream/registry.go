package stream

import "sync"

// Subscriber is an opaque handle to a live connection. Deliver must not
// block; it reports whether the frame was accepted (a full buffer or a
// closed connection drops the frame for that subscriber only).
type Subscriber interface {
	Deliver(data []byte) bool
}

// Mirror forwards published measurement frames to an external broker.
// Forwarding is fire-and-forget; the mirror must not block the publish path.
type Mirror interface {
	Forward(kitSerial, kind string, payload []byte)
}

// Logger defines the logging interface used by the registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry maps kit serials to their live subscriber sets.
//
// Subscribe and Unsubscribe are idempotent. UnsubscribeAll removes a
// connection from every kit it is subscribed to and is the disconnect
// cleanup path. All methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byKit  map[string]map[Subscriber]struct{}
	logger Logger
	mirror Mirror
}

// NewRegistry creates an empty subscription registry.
func NewRegistry(logger Logger) *Registry {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Registry{
		byKit:  make(map[string]map[Subscriber]struct{}),
		logger: logger,
	}
}

// SetMirror installs an optional broker mirror. Every published frame is
// forwarded to the mirror in addition to live subscribers.
func (r *Registry) SetMirror(m Mirror) {
	r.mu.Lock()
	r.mirror = m
	r.mu.Unlock()
}

// Subscribe adds a subscriber to a kit's stream. Repeated calls for the
// same pair are no-ops; the subscriber set never holds duplicates.
func (r *Registry) Subscribe(kitSerial string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.byKit[kitSerial]
	if !ok {
		set = make(map[Subscriber]struct{})
		r.byKit[kitSerial] = set
	}
	set[sub] = struct{}{}
	r.logger.Debug("stream subscribed", "kit", kitSerial, "subscribers", len(set))
}

// Unsubscribe removes a subscriber from a kit's stream. Removing an absent
// subscriber is a no-op. Empty sets are pruned.
func (r *Registry) Unsubscribe(kitSerial string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(kitSerial, sub)
}

// UnsubscribeAll removes the subscriber from every kit's stream. Called on
// disconnect; it is the guarantee that no registry entry outlives its
// connection.
func (r *Registry) UnsubscribeAll(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for serial, set := range r.byKit {
		if _, ok := set[sub]; ok {
			r.removeLocked(serial, sub)
		}
	}
}

func (r *Registry) removeLocked(kitSerial string, sub Subscriber) {
	set, ok := r.byKit[kitSerial]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(r.byKit, kitSerial)
	}
}

// Publish delivers a frame to every subscriber of the kit's stream at the
// moment of the call, and forwards it to the broker mirror if one is set.
// Delivery is best-effort per subscriber; a drop is logged and never fails
// the publish. Returns the number of subscribers that accepted the frame.
//
// The subscriber set is snapshotted under a read lock and released before
// delivery, so fan-out never holds the registry lock while touching
// connection buffers.
func (r *Registry) Publish(kitSerial, kind string, data []byte) int {
	r.mu.RLock()
	subs := make([]Subscriber, 0, len(r.byKit[kitSerial]))
	for sub := range r.byKit[kitSerial] {
		subs = append(subs, sub)
	}
	mirror := r.mirror
	r.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		if sub.Deliver(data) {
			delivered++
		} else {
			r.logger.Debug("stream delivery dropped", "kit", kitSerial)
		}
	}

	if mirror != nil {
		mirror.Forward(kitSerial, kind, data)
	}

	if delivered > 0 {
		r.logger.Debug("measurement fanned out",
			"kit", kitSerial, "kind", kind, "recipients", delivered)
	}
	return delivered
}

// SubscriberCount returns the number of live subscribers for a kit.
func (r *Registry) SubscriberCount(kitSerial string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKit[kitSerial])
}

// KitCount returns the number of kits with at least one subscriber.
func (r *Registry) KitCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKit)
}
