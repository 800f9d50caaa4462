package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/joerg1985/jupnp/netutils"
	"github.com/joerg1985/jupnp/upnp/ssdp"
)

// MulticastReceiver listens on the SSDP group, joined on every selected
// interface, and hands decoded datagrams to the sink. It also carries
// the group send path used for NOTIFY broadcasts.
type MulticastReceiver struct {
	mu     sync.Mutex
	conn   *net.UDPConn
	pc     *ipv4.PacketConn
	group  *net.UDPAddr
	joined []netutils.BoundInterface
	sink   DatagramSink
	closed bool
}

// Init binds the group port, joins the multicast group on each
// interface and enables per-packet interface information.
func (m *MulticastReceiver) Init(group *net.UDPAddr, ifaces []netutils.BoundInterface, ttl int, sink DatagramSink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		return errors.New("multicast receiver already initialized")
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: group.Port})
	if err != nil {
		return fmt.Errorf("binding multicast socket on port %d: %w", group.Port, err)
	}
	if err := conn.SetReadBuffer(receiveBufferBytes); err != nil {
		log.Debugf("🐞 cannot grow multicast receive buffer: %v", err)
	}

	pc := ipv4.NewPacketConn(conn)
	for _, bi := range ifaces {
		iface := bi.Interface
		if err := pc.JoinGroup(&iface, &net.UDPAddr{IP: group.IP}); err != nil {
			conn.Close()
			return fmt.Errorf("joining %s on %s: %w", group.IP, iface.Name, err)
		}
		log.Infof("✅ Joined multicast group %s on %s (%s)", group.IP, iface.Name, bi.Addr)
	}

	if err := pc.SetControlMessage(ipv4.FlagInterface|ipv4.FlagDst, true); err != nil {
		log.Debugf("🐞 cannot enable packet info: %v", err)
	}
	if err := pc.SetMulticastTTL(ttl); err != nil {
		log.Debugf("🐞 cannot set multicast TTL: %v", err)
	}

	m.conn = conn
	m.pc = pc
	m.group = group
	m.joined = ifaces
	m.sink = sink
	return nil
}

// Run is the blocking receive loop; it exits cleanly on Stop. Malformed
// datagrams are skipped; loopback copies of our own announcements are
// handed to the sink like any other datagram.
func (m *MulticastReceiver) Run(maxDatagramBytes int) error {
	buf := make([]byte, maxDatagramBytes)

	for {
		n, cm, src, err := m.pc.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				log.Debugf("🐞 multicast socket closed")
				return nil
			}
			return fmt.Errorf("multicast receive: %w", err)
		}

		msg, err := ssdp.Parse(buf[:n])
		if err != nil {
			var uerr *ssdp.UnsupportedDataError
			if errors.As(err, &uerr) {
				log.Debugf("🐞 skipping multicast datagram from %s: %v", src, err)
				continue
			}
			return err
		}

		msg.Src = src.(*net.UDPAddr)
		msg.LocalAddr = m.receivingAddr(cm)
		m.sink.ReceivedDatagram(msg)
	}
}

// receivingAddr maps the packet's interface index back to the bound
// interface address, so responders know which local address to
// advertise.
func (m *MulticastReceiver) receivingAddr(cm *ipv4.ControlMessage) net.IP {
	if cm != nil {
		for _, bi := range m.joined {
			if bi.Interface.Index == cm.IfIndex {
				return bi.Addr
			}
		}
	}
	if len(m.joined) > 0 {
		return m.joined[0].Addr
	}
	return nil
}

// Broadcast sends a datagram to the group once per joined interface.
func (m *MulticastReceiver) Broadcast(msg *ssdp.Datagram) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pc == nil || m.closed {
		return errors.New("multicast receiver not running")
	}

	data := ssdp.Format(msg)
	for _, bi := range m.joined {
		iface := bi.Interface
		if err := m.pc.SetMulticastInterface(&iface); err != nil {
			log.Debugf("🐞 cannot select %s for multicast: %v", iface.Name, err)
			continue
		}
		if _, err := m.conn.WriteToUDP(data, m.group); err != nil {
			log.Debugf("🐞 failed to multicast on %s: %v", iface.Name, err)
		}
	}
	return nil
}

// Stop leaves the groups and closes the socket. Idempotent.
func (m *MulticastReceiver) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || m.closed {
		return
	}
	m.closed = true

	for _, bi := range m.joined {
		iface := bi.Interface
		if err := m.pc.LeaveGroup(&iface, &net.UDPAddr{IP: m.group.IP}); err != nil {
			log.Debugf("🐞 leaving group on %s: %v", iface.Name, err)
		}
	}
	m.conn.Close()
}
