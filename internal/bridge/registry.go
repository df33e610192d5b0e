package bridge

import (
	"context"
	"sync"
	"time"
)

// Handle identifies one accepted endpoint connection. Handles are compared
// by pointer; two handles are equal only if they came from the same accept.
type Handle struct {
	id          uint64
	conn        Conn
	connectedAt time.Time

	// done is closed when the handle stops being authoritative, either by
	// supersession or by disconnect.
	done     chan struct{}
	doneOnce sync.Once
}

func newHandle(id uint64, conn Conn) *Handle {
	return &Handle{
		id:          id,
		conn:        conn,
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}
}

// ID returns the handle's sequence number. IDs increase with every accept.
func (h *Handle) ID() uint64 { return h.id }

// RemoteAddr returns the peer address reported by the transport.
func (h *Handle) RemoteAddr() string { return h.conn.RemoteAddr() }

// ConnectedAt returns when the connection was accepted.
func (h *Handle) ConnectedAt() time.Time { return h.connectedAt }

// Done is closed once the handle is no longer the active connection.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) invalidate() {
	h.doneOnce.Do(func() { close(h.done) })
}

// Registry holds the single authoritative endpoint connection. The last
// connection to register wins; older ones are superseded.
//
// All methods are safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	active    *Handle
	connected chan struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{connected: make(chan struct{})}
}

// Set makes h the active connection and returns the handle it replaced, if
// any. The replaced handle is invalidated.
func (r *Registry) Set(h *Handle) (previous *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous = r.active
	r.active = h
	if previous == nil {
		close(r.connected)
	} else {
		previous.invalidate()
	}
	return previous
}

// Get returns the active connection, or nil.
func (r *Registry) Get() *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// IsActive reports whether h is still the active connection.
func (r *Registry) IsActive(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return h != nil && r.active == h
}

// ClearIf empties the registry only if h is still the active connection and
// reports whether it did. A superseded handle never clears its successor.
func (r *Registry) ClearIf(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h.invalidate()
	if r.active != h {
		return false
	}
	r.active = nil
	r.connected = make(chan struct{})
	return true
}

// Connected returns a channel that is closed while a connection is active.
// The returned channel reflects the state at call time; after a disconnect,
// call Connected again to wait for the next connection.
func (r *Registry) Connected() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// WaitConnected blocks until a connection is active or ctx is done.
func (r *Registry) WaitConnected(ctx context.Context) (*Handle, error) {
	for {
		select {
		case <-r.Connected():
			if h := r.Get(); h != nil {
				return h, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
