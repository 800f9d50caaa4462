// Package transport owns the sockets: per-interface datagram I/O, the
// SSDP multicast receiver and the HTTP stream client. Sockets are owned
// exclusively by their transport instance; closing the socket is the
// normal way to stop a receive loop.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/joerg1985/jupnp/upnp/ssdp"
)

// receiveBufferBytes keeps a backlog of incoming datagrams if we are not
// fast enough.
const receiveBufferBytes = 262144

// DatagramSink consumes decoded inbound datagrams; the router implements
// it.
type DatagramSink interface {
	ReceivedDatagram(d *ssdp.Datagram)
}

// DatagramIO is one bound datagram endpoint per interface address. It
// sends unicast and multicast datagrams and receives unicast replies,
// typically search responses.
//
// The port is ephemeral unless told otherwise: some renderers stop
// answering when search responses come back from source port 1900.
//
// Init, Send and Stop are mutually exclusive; Run receives concurrently
// with Send.
type DatagramIO struct {
	mu   sync.Mutex
	conn *net.UDPConn
	pc   *ipv4.PacketConn
	sink DatagramSink

	localAddr *net.UDPAddr
	closed    bool
}

// Init binds the socket on the given address and port (0 for ephemeral)
// and configures the multicast TTL for outgoing datagrams.
func (d *DatagramIO) Init(bindAddr net.IP, bindPort int, ttl int, sink DatagramSink) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		return errors.New("datagram endpoint already initialized")
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: bindAddr, Port: bindPort})
	if err != nil {
		return fmt.Errorf("binding datagram socket on %s:%d: %w", bindAddr, bindPort, err)
	}

	if err := conn.SetReadBuffer(receiveBufferBytes); err != nil {
		log.Debugf("🐞 cannot grow receive buffer on %s: %v", bindAddr, err)
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(ttl); err != nil {
		log.Debugf("🐞 cannot set multicast TTL on %s: %v", bindAddr, err)
	}

	d.conn = conn
	d.pc = pc
	d.sink = sink
	d.localAddr = conn.LocalAddr().(*net.UDPAddr)

	log.Infof("✅ Datagram endpoint bound on %s", d.localAddr)
	return nil
}

// LocalAddr returns the bound address, including the effective port.
func (d *DatagramIO) LocalAddr() *net.UDPAddr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.localAddr
}

// Run is the blocking receive loop. It exits cleanly when Stop closes
// the socket; undecodable datagrams are logged and skipped; any other
// error aborts the loop.
func (d *DatagramIO) Run(maxDatagramBytes int) error {
	buf := make([]byte, maxDatagramBytes)

	for {
		n, src, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				log.Debugf("🐞 datagram socket on %s closed", d.localAddr)
				return nil
			}
			return fmt.Errorf("datagram receive on %s: %w", d.localAddr, err)
		}

		msg, err := ssdp.Parse(buf[:n])
		if err != nil {
			var uerr *ssdp.UnsupportedDataError
			if errors.As(err, &uerr) {
				log.Debugf("🐞 skipping datagram from %s: %v", src, err)
				continue
			}
			return err
		}

		msg.Src = src
		msg.LocalAddr = d.localAddr.IP
		d.sink.ReceivedDatagram(msg)
	}
}

// Send formats and transmits an outgoing datagram to msg.Dst.
func (d *DatagramIO) Send(msg *ssdp.Datagram) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil || d.closed {
		return errors.New("datagram endpoint not running")
	}
	if msg.Dst == nil {
		return errors.New("outgoing datagram without destination")
	}

	if _, err := d.conn.WriteToUDP(ssdp.Format(msg), msg.Dst); err != nil {
		if errors.Is(err, net.ErrClosed) {
			log.Debugf("🐞 socket closed, aborting datagram send to %s", msg.Dst)
			return nil
		}
		// Send failures are non-fatal; the caller decides whether to
		// retry on the next advertisement cycle.
		log.Debugf("🐞 failed to send datagram to %s: %v", msg.Dst, err)
	}
	return nil
}

// Stop closes the socket, waking the receive loop. Idempotent.
func (d *DatagramIO) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil && !d.closed {
		d.closed = true
		d.conn.Close()
	}
}
