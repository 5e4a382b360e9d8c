package bacip

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/vent-logic-core/internal/bacnet"
)

// defaultRequestTimeout bounds a single transaction when the caller's
// context carries no earlier deadline.
const defaultRequestTimeout = 5 * time.Second

// receiveBufferSize is generous for the small APDUs this client exchanges.
const receiveBufferSize = 1500

// Logger is the minimal logging interface the client needs.
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

// reply is what the receive loop delivers to a waiting transaction.
type reply struct {
	service byte
	payload []byte
	err     error
}

// Client is a BACnet/IP client bound to one local UDP port.
//
// Thread Safety:
//   - ReadMultiple and Write are safe for concurrent use; transactions
//     are multiplexed over the shared socket by invoke id.
type Client struct {
	conn   *net.UDPConn
	logger Logger

	requestTimeout time.Duration

	mu      sync.Mutex
	pending map[byte]chan reply
	nextID  byte
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// Statistics (atomic)
	sentCount     atomic.Uint64
	receivedCount atomic.Uint64
	timeoutCount  atomic.Uint64
	droppedCount  atomic.Uint64
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRequestTimeout overrides the per-transaction timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// Dial binds a UDP socket on the given local port and starts the receive
// loop. Port 0 lets the kernel choose.
func Dial(localPort int, opts ...Option) (*Client, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: localPort})
	if err != nil {
		return nil, fmt.Errorf("binding local port %d: %w", localPort, err)
	}

	c := &Client{
		conn:           conn,
		logger:         noopLogger{},
		requestTimeout: defaultRequestTimeout,
		pending:        make(map[byte]chan reply),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.wg.Add(1)
	go c.receiveLoop()

	c.logger.Info("bacnet/ip client listening", "local_addr", conn.LocalAddr().String())
	return c, nil
}

// Factory adapts Dial to the bacnet.Factory contract.
func Factory(logger Logger, opts ...Option) bacnet.Factory {
	return func(localPort int) (bacnet.Transport, error) {
		all := append([]Option{WithLogger(logger)}, opts...)
		return Dial(localPort, all...)
	}
}

// ReadMultiple issues one ReadPropertyMultiple for the present value of
// every ref and returns the values the device answered.
//
// Points the device rejected individually (property access errors) are
// absent from the map; a device-level Error PDU fails the whole call.
func (c *Client) ReadMultiple(ctx context.Context, addr bacnet.Address, refs []bacnet.ObjectRef) (map[bacnet.ObjectRef]float64, error) {
	if len(refs) == 0 {
		return map[bacnet.ObjectRef]float64{}, nil
	}

	invokeID, ch, err := c.register()
	if err != nil {
		return nil, err
	}
	defer c.unregister(invokeID)

	frame := encodeReadPropertyMultiple(invokeID, refs)
	rep, err := c.transact(ctx, addr, frame, ch)
	if err != nil {
		return nil, err
	}
	if rep.service != serviceReadPropertyMultiple {
		return nil, fmt.Errorf("%w: ack for service 0x%02X", errMalformedFrame, rep.service)
	}

	results, err := parseReadAck(rep.payload)
	if err != nil {
		return nil, err
	}

	values := make(map[bacnet.ObjectRef]float64, len(results))
	for _, r := range results {
		if r.ok {
			values[r.ref] = r.value
		} else {
			c.logger.Debug("point rejected in read", "ref", r.ref.String(), "device", addr.String())
		}
	}
	return values, nil
}

// Write sets the present value of one point. Device rejections come back
// as errors in the "Code:<n>" text convention.
func (c *Client) Write(ctx context.Context, addr bacnet.Address, ref bacnet.ObjectRef, value float64, opts bacnet.WriteOptions) error {
	invokeID, ch, err := c.register()
	if err != nil {
		return err
	}
	defer c.unregister(invokeID)

	frame := encodeWriteProperty(invokeID, ref, value, opts.Priority)
	_, err = c.transact(ctx, addr, frame, ch)
	return err
}

// Close stops the receive loop and releases the socket. In-flight
// transactions fail with ErrClientClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		for id, ch := range c.pending {
			select {
			case ch <- reply{err: ErrClientClosed}:
			default:
			}
			delete(c.pending, id)
		}
		c.mu.Unlock()

		close(c.done)
		err = c.conn.Close()
		c.wg.Wait()

		c.logger.Info("bacnet/ip client closed",
			"sent", c.sentCount.Load(),
			"received", c.receivedCount.Load(),
			"timeouts", c.timeoutCount.Load(),
			"dropped", c.droppedCount.Load())
	})
	return err
}

// Stats returns transaction counters for monitoring.
func (c *Client) Stats() (sent, received, timeouts, dropped uint64) {
	return c.sentCount.Load(), c.receivedCount.Load(), c.timeoutCount.Load(), c.droppedCount.Load()
}

// register allocates an invoke id and its reply channel.
func (c *Client) register() (byte, chan reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, nil, ErrClientClosed
	}

	// Invoke ids are a single octet; scan from the last allocation so a
	// slow transaction does not block id reuse for long.
	for n := 0; n < 256; n++ {
		id := c.nextID
		c.nextID++
		if _, busy := c.pending[id]; !busy {
			ch := make(chan reply, 1)
			c.pending[id] = ch
			return id, ch, nil
		}
	}
	return 0, nil, ErrTooManyInFlight
}

func (c *Client) unregister(id byte) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// transact sends one framed request and waits for its reply, bounded by
// ctx and the client request timeout.
func (c *Client) transact(ctx context.Context, addr bacnet.Address, frame []byte, ch chan reply) (reply, error) {
	dst, err := net.ResolveUDPAddr("udp4", addr.String())
	if err != nil {
		return reply{}, fmt.Errorf("resolving %s: %w", addr.String(), err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	if _, err := c.conn.WriteToUDP(frame, dst); err != nil {
		return reply{}, fmt.Errorf("sending to %s: %w", addr.String(), err)
	}
	c.sentCount.Add(1)

	select {
	case rep := <-ch:
		if rep.err != nil {
			return reply{}, rep.err
		}
		return rep, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.timeoutCount.Add(1)
			return reply{}, fmt.Errorf("%w: device %s", bacnet.ErrTimeout, addr.String())
		}
		return reply{}, ctx.Err()
	case <-c.done:
		return reply{}, ErrClientClosed
	}
}

// receiveLoop reads frames off the socket and delivers them to waiting
// transactions by invoke id.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	buf := make([]byte, receiveBufferSize)
	for {
		n, src, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("socket read failed", "error", err)
			continue
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])

		if err := c.dispatch(frame); err != nil {
			c.droppedCount.Add(1)
			c.logger.Debug("dropping frame", "source", src.String(), "error", err)
		}
	}
}

// dispatch parses one received frame and routes it to its transaction.
func (c *Client) dispatch(frame []byte) error {
	apdu, err := stripNPDU(frame)
	if err != nil {
		return err
	}
	if len(apdu) < 2 {
		return fmt.Errorf("%w: short APDU", errMalformedFrame)
	}

	pduType := apdu[0] & 0xF0
	var (
		invokeID byte
		rep      reply
	)

	switch pduType {
	case pduSimpleAck:
		if len(apdu) < 3 {
			return fmt.Errorf("%w: short simple ack", errMalformedFrame)
		}
		invokeID = apdu[1]
		rep = reply{service: apdu[2]}

	case pduComplexAck:
		if len(apdu) < 3 {
			return fmt.Errorf("%w: short complex ack", errMalformedFrame)
		}
		invokeID = apdu[1]
		rep = reply{service: apdu[2], payload: apdu[3:]}

	case pduError:
		if len(apdu) < 3 {
			return fmt.Errorf("%w: short error PDU", errMalformedFrame)
		}
		invokeID = apdu[1]
		class, code, perr := parseErrorPDU(apdu[3:])
		if perr != nil {
			rep = reply{err: perr}
		} else {
			rep = reply{err: fmt.Errorf("device error Class:%d Code:%d", class, code)}
		}

	case pduReject, pduAbort:
		invokeID = apdu[1]
		reason := byte(0)
		if len(apdu) > 2 {
			reason = apdu[2]
		}
		kind := "rejected"
		if pduType == pduAbort {
			kind = "aborted"
		}
		rep = reply{err: fmt.Errorf("request %s by device (reason %d): %w", kind, reason, bacnet.ErrNoResponse)}

	default:
		// Unconfirmed broadcasts (who-is, i-am) land here; not ours.
		return fmt.Errorf("%w: unsolicited PDU type 0x%02X", errMalformedFrame, pduType)
	}

	c.mu.Lock()
	ch, ok := c.pending[invokeID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("no transaction for invoke id %d", invokeID)
	}

	c.receivedCount.Add(1)
	select {
	case ch <- rep:
	default:
	}
	return nil
}
