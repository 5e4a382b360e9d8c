package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/ipv4"
)

// Defaults for the discovery sweep.
const (
	defaultTimeout       = 5 * time.Second
	defaultBurstCount    = 10
	defaultBurstInterval = 300 * time.Millisecond
)

// Logger is the minimal logging interface discovery needs.
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

// Options configure one discovery sweep.
type Options struct {
	// InterfaceAddress pins the sweep to the interface carrying this
	// IPv4 address. Empty sweeps every eligible interface.
	InterfaceAddress string

	// Timeout bounds the whole sweep including the reply window.
	Timeout time.Duration

	// BurstCount is how many requests are sent per interface. Units
	// drop requests while busy, so a single send is unreliable.
	BurstCount int

	// BurstInterval is the gap between requests in a burst.
	BurstInterval time.Duration

	// Logger receives sweep diagnostics. Nil disables logging.
	Logger Logger
}

func (o *Options) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.BurstCount <= 0 {
		o.BurstCount = defaultBurstCount
	}
	if o.BurstInterval <= 0 {
		o.BurstInterval = defaultBurstInterval
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
}

// Discover sweeps the local network for units.
//
// One reply listener joins the reply group on every eligible interface,
// then a burst of requests goes out per interface. Replies are collected
// until the timeout; duplicates (a unit answering on several interfaces,
// or to several requests of the burst) are collapsed by normalized
// serial, last reply wins so the freshest endpoint sticks.
//
// A join or send failure on one interface is logged and skipped; the
// sweep only fails when no interface could be used at all.
func Discover(ctx context.Context, opts Options) ([]DiscoveredUnit, error) {
	opts.applyDefaults()
	log := opts.Logger

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	ifaces, err := eligibleInterfaces(opts.InterfaceAddress)
	if err != nil {
		return nil, err
	}
	if len(ifaces) == 0 {
		return nil, fmt.Errorf("no usable multicast interface found")
	}

	request, token, err := buildDiscoverRequest()
	if err != nil {
		return nil, err
	}
	log.Debug("discovery request built", "token", token, "interfaces", len(ifaces))

	// Reply listener, shared across all interfaces.
	listener, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", replyPort))
	if err != nil {
		return nil, fmt.Errorf("binding reply listener: %w", err)
	}
	defer listener.Close()

	replyConn := ipv4.NewPacketConn(listener)
	group := &net.UDPAddr{IP: net.ParseIP(replyGroup)}
	joined := 0
	for i := range ifaces {
		if err := replyConn.JoinGroup(&ifaces[i].iface, group); err != nil {
			log.Warn("joining reply group failed", "interface", ifaces[i].iface.Name, "error", err)
			continue
		}
		joined++
	}
	if joined == 0 {
		log.Warn("no reply-group membership established, relying on unicast replies")
	}

	// Collector drains replies while the bursts run.
	found := make(map[string]DiscoveredUnit)
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		collectReplies(ctx, listener, found, log)
	}()

	sendBursts(ctx, ifaces, request, opts, log)

	<-collectorDone

	units := make([]DiscoveredUnit, 0, len(found))
	for _, u := range found {
		units = append(units, u)
	}
	log.Info("discovery sweep finished", "units", len(units), "interfaces", len(ifaces))
	return units, nil
}

// netInterface pairs an interface with its first IPv4 address.
type netInterface struct {
	iface net.Interface
	ip    net.IP
}

// eligibleInterfaces lists up, non-loopback, multicast-capable interfaces
// carrying an IPv4 address, optionally pinned to one address.
func eligibleInterfaces(pinned string) ([]netInterface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("enumerating interfaces: %w", err)
	}

	var out []netInterface
	for _, iface := range all {
		if iface.Flags&net.FlagUp == 0 ||
			iface.Flags&net.FlagLoopback != 0 ||
			iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			if pinned != "" && ip4.String() != pinned {
				continue
			}
			out = append(out, netInterface{iface: iface, ip: ip4})
			break
		}
	}
	return out, nil
}

// sendBursts fires the request burst on every interface.
func sendBursts(ctx context.Context, ifaces []netInterface, request []byte, opts Options, log Logger) {
	dst := &net.UDPAddr{IP: net.ParseIP(requestGroup), Port: requestPort}

	for i := range ifaces {
		conn, err := bindSendSocket(ifaces[i].ip, log)
		if err != nil {
			log.Warn("binding send socket failed", "interface", ifaces[i].iface.Name, "error", err)
			continue
		}

		p := ipv4.NewPacketConn(conn)
		// Requests stay on the local segment and must not echo back.
		if err := p.SetMulticastTTL(1); err != nil {
			log.Debug("setting multicast TTL failed", "error", err)
		}
		if err := p.SetMulticastLoopback(false); err != nil {
			log.Debug("disabling multicast loopback failed", "error", err)
		}
		if err := p.SetMulticastInterface(&ifaces[i].iface); err != nil {
			log.Warn("pinning multicast interface failed", "interface", ifaces[i].iface.Name, "error", err)
		}

		for n := 0; n < opts.BurstCount; n++ {
			if _, err := conn.WriteTo(request, dst); err != nil {
				log.Warn("sending discovery request failed", "interface", ifaces[i].iface.Name, "error", err)
				break
			}
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-time.After(opts.BurstInterval):
			}
		}
		conn.Close()
	}
}

// bindSendSocket binds the request socket on the given interface
// address. Units expect requests sourced from the request port, so that
// is tried first; when it is already taken the bind falls back to an
// ephemeral port.
func bindSendSocket(ip net.IP, log Logger) (net.PacketConn, error) {
	conn, err := net.ListenPacket("udp4", net.JoinHostPort(ip.String(), strconv.Itoa(requestPort)))
	if err == nil {
		return conn, nil
	}
	log.Debug("request port unavailable, using ephemeral source", "error", err)
	return net.ListenPacket("udp4", net.JoinHostPort(ip.String(), "0"))
}

// collectReplies reads replies until ctx expires, deduplicating by
// normalized serial with last reply winning.
func collectReplies(ctx context.Context, listener net.PacketConn, found map[string]DiscoveredUnit, log Logger) {
	buf := make([]byte, 2048)
	for {
		if deadline, ok := ctx.Deadline(); ok {
			_ = listener.SetReadDeadline(deadline)
		}

		n, src, err := listener.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return
			}
			log.Warn("reading discovery reply failed", "error", err)
			return
		}

		var senderIP net.IP
		if udp, ok := src.(*net.UDPAddr); ok {
			senderIP = udp.IP
		}

		unit := ParseReply(buf[:n], senderIP)
		if unit == nil {
			log.Debug("ignoring ineligible discovery reply", "source", src.String(), "bytes", n)
			continue
		}

		log.Debug("unit discovered",
			"serial", unit.Serial,
			"endpoint", fmt.Sprintf("%s:%d", unit.IP, unit.Port),
			"name", unit.Name)
		found[unit.SerialNormalized] = *unit
	}
}
