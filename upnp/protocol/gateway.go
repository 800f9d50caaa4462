package protocol

import (
	"context"
	"net"

	"github.com/gorilla/mux"

	"github.com/joerg1985/jupnp/netutils"
	"github.com/joerg1985/jupnp/upnp/ssdp"
	"github.com/joerg1985/jupnp/upnp/transport"
)

// Gateway is what the engines need from the router: the bound
// interfaces, datagram egress, multicast broadcast, outgoing HTTP and
// the route table for inbound HTTP.
type Gateway interface {
	Interfaces() []netutils.BoundInterface
	BaseURL(localAddr net.IP) string
	SendDatagram(msg *ssdp.Datagram) error
	Broadcast(msg *ssdp.Datagram) error
	SendStream(ctx context.Context, req *transport.StreamRequest) (*transport.StreamResponse, error)
	HTTPMux() *mux.Router
}
