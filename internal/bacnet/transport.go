package bacnet

import (
	"context"
	"fmt"
	"sync"
)

// Address is the network endpoint of one unit.
type Address struct {
	IP   string
	Port int
}

// String returns the endpoint in "ip:port" form.
func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.IP, a.Port)
}

// WriteOptions carry per-write transport options.
type WriteOptions struct {
	// Priority is the command priority for the write (0 = device default).
	Priority Priority
}

// Transport is the point-protocol client contract consumed by the unit
// engine. A single implementation instance is shared by every unit bound
// to the same local UDP port.
//
// Implementations must be safe for concurrent use; the engine guarantees
// at most one in-flight write per unit but polls may interleave freely.
type Transport interface {
	// ReadMultiple issues one batched present-value read for all refs.
	// The returned map contains an entry for every point the device
	// answered; missing points are simply absent, not an error.
	ReadMultiple(ctx context.Context, addr Address, refs []ObjectRef) (map[ObjectRef]float64, error)

	// Write sets the present value of one point.
	// Protocol rejections are returned as errors carrying the device's
	// "Code:<n>" convention; classify them with ErrorCode and friends.
	Write(ctx context.Context, addr Address, ref ObjectRef, value float64, opts WriteOptions) error

	// Close releases the underlying socket.
	Close() error
}

// Factory creates a Transport bound to the given local UDP port.
type Factory func(localPort int) (Transport, error)

// Manager hands out one shared Transport per local UDP port.
//
// Creation is memoized so two units configured for the same port never
// cause a duplicate socket binding. The manager is an explicit service
// object owned by the composition root and injected into the engine;
// there is no package-level state.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Manager struct {
	factory Factory

	mu      sync.Mutex
	clients map[int]Transport
	closed  bool
}

// NewManager creates a transport manager using the given factory.
func NewManager(factory Factory) *Manager {
	return &Manager{
		factory: factory,
		clients: make(map[int]Transport),
	}
}

// Transport returns the shared client for a local port, creating it on
// first use.
//
// Parameters:
//   - localPort: Local UDP port the client binds to
//
// Returns:
//   - Transport: Shared client for the port
//   - error: If the manager is closed or the factory fails
func (m *Manager) Transport(localPort int) (Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}

	if t, ok := m.clients[localPort]; ok {
		return t, nil
	}

	t, err := m.factory(localPort)
	if err != nil {
		return nil, fmt.Errorf("creating transport for port %d: %w", localPort, err)
	}

	m.clients[localPort] = t
	return t, nil
}

// Close closes every managed transport. The manager cannot be reused.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var firstErr error
	for port, t := range m.clients {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing transport for port %d: %w", port, err)
		}
		delete(m.clients, port)
	}
	return firstErr
}

// Count returns the number of live transports (for monitoring).
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}
