// Package router multiplexes all network traffic of the stack: it owns
// the bound interfaces and their transports, dispatches inbound messages
// to the protocol engines and selects the egress socket for outbound
// ones.
package router

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/joerg1985/jupnp/netutils"
	"github.com/joerg1985/jupnp/upnp/config"
	"github.com/joerg1985/jupnp/upnp/ssdp"
	"github.com/joerg1985/jupnp/upnp/transport"
)

// DatagramProcessor is the discovery engine's inbound interface.
type DatagramProcessor interface {
	ProcessDatagram(d *ssdp.Datagram)
}

// Router brings the sockets up and down and moves messages between them
// and the engines. Enable and Disable are idempotent; the interface
// table is guarded by a read/write lock.
type Router struct {
	settings config.Settings

	mu        sync.RWMutex
	enabled   bool
	ifaces    []netutils.BoundInterface
	multicast *transport.MulticastReceiver
	unicast   map[string]*transport.DatagramIO // keyed by interface address
	httpSrv   *http.Server
	httpMux   *mux.Router

	client    *transport.StreamClient
	processor DatagramProcessor
	limiter   *responseLimiter

	wg sync.WaitGroup
}

// New builds a disabled router. The datagram processor is attached
// later, once the engines exist.
func New(settings config.Settings) *Router {
	return &Router{
		settings: settings,
		unicast:  make(map[string]*transport.DatagramIO),
		httpMux:  mux.NewRouter(),
		client:   transport.NewStreamClient(transport.DefaultStreamTimeouts),
		limiter:  newResponseLimiter(defaultResponseBurst),
	}
}

// SetDatagramProcessor attaches the discovery engine.
func (r *Router) SetDatagramProcessor(p DatagramProcessor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processor = p
}

// HTTPMux exposes the route table engines register their handlers on.
func (r *Router) HTTPMux() *mux.Router { return r.httpMux }

// StreamClient exposes the outgoing HTTP client.
func (r *Router) StreamClient() *transport.StreamClient { return r.client }

// Interfaces returns the bound interfaces while enabled.
func (r *Router) Interfaces() []netutils.BoundInterface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ifaces
}

// BaseURL returns the http root served on the given local address.
func (r *Router) BaseURL(localAddr net.IP) string {
	return fmt.Sprintf("http://%s:%d", localAddr, r.settings.StreamListenPort)
}

// Enable brings up the multicast receiver, one unicast endpoint per
// interface and the HTTP listener. Calling it again while enabled is a
// no-op.
func (r *Router) Enable() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.enabled {
		return nil
	}

	ifaces, err := netutils.SelectInterfaces(netutils.Selector{
		Include: r.settings.InterfaceInclude,
		Exclude: r.settings.InterfaceExclude,
	})
	if err != nil {
		return err
	}
	r.ifaces = ifaces

	group := &net.UDPAddr{
		IP:   net.ParseIP(r.settings.MulticastAddress),
		Port: r.settings.MulticastPort,
	}

	r.multicast = &transport.MulticastReceiver{}
	if err := r.multicast.Init(group, ifaces, r.settings.TTL, r); err != nil {
		return err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.multicast.Run(r.settings.MaxDatagramBytes); err != nil {
			log.Errorf("❌ multicast receive loop aborted: %v", err)
		}
	}()

	for _, bi := range ifaces {
		dio := &transport.DatagramIO{}
		if err := dio.Init(bi.Addr, 0, r.settings.TTL, r); err != nil {
			r.disableLocked()
			return err
		}
		r.unicast[bi.Addr.String()] = dio

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := dio.Run(r.settings.MaxDatagramBytes); err != nil {
				log.Errorf("❌ datagram receive loop aborted: %v", err)
			}
		}()
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", r.settings.StreamListenPort))
	if err != nil {
		r.disableLocked()
		return fmt.Errorf("binding stream listener: %w", err)
	}
	r.httpSrv = &http.Server{Handler: r.httpMux}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("❌ stream server error: %v", err)
		}
	}()

	r.enabled = true
	log.Infof("✅ Router enabled on %d interface(s), stream port %d",
		len(ifaces), r.settings.StreamListenPort)
	return nil
}

// Disable tears every socket down and waits for the receive loops.
// Idempotent.
func (r *Router) Disable() {
	r.mu.Lock()
	if !r.enabled {
		r.mu.Unlock()
		return
	}
	r.disableLocked()
	r.enabled = false
	r.mu.Unlock()

	r.wg.Wait()
	log.Infof("✅ Router disabled")
}

func (r *Router) disableLocked() {
	if r.multicast != nil {
		r.multicast.Stop()
		r.multicast = nil
	}
	for key, dio := range r.unicast {
		dio.Stop()
		delete(r.unicast, key)
	}
	if r.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		r.httpSrv.Shutdown(ctx)
		r.httpSrv = nil
	}
	r.ifaces = nil
}

// ReceivedDatagram is the inbound entry point for both transports. It
// drops search-response floods and forwards everything else to the
// discovery engine.
func (r *Router) ReceivedDatagram(d *ssdp.Datagram) {
	r.mu.RLock()
	processor := r.processor
	enabled := r.enabled
	r.mu.RUnlock()

	if !enabled || processor == nil {
		return
	}

	if d.Kind == ssdp.KindResponse && !r.limiter.allow() {
		log.Debugf("🐞 dropping search response from %s: rate limit", d.Src)
		return
	}

	processor.ProcessDatagram(d)
}

// SendDatagram transmits a unicast datagram through the endpoint bound
// to msg.LocalAddr, falling back to any endpoint when the address is
// not bound.
func (r *Router) SendDatagram(msg *ssdp.Datagram) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.enabled {
		return errors.New("router disabled")
	}

	if msg.LocalAddr != nil {
		if dio, ok := r.unicast[msg.LocalAddr.String()]; ok {
			return dio.Send(msg)
		}
	}
	for _, dio := range r.unicast {
		return dio.Send(msg)
	}
	return errors.New("no datagram endpoint available")
}

// Broadcast sends a datagram to the SSDP group on every interface.
func (r *Router) Broadcast(msg *ssdp.Datagram) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.enabled || r.multicast == nil {
		return errors.New("router disabled")
	}
	return r.multicast.Broadcast(msg)
}

// SendStream performs an outgoing HTTP request.
func (r *Router) SendStream(ctx context.Context, req *transport.StreamRequest) (*transport.StreamResponse, error) {
	return r.client.Do(ctx, req)
}
