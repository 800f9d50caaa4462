package meta

import (
	"fmt"

	"github.com/joerg1985/jupnp/upnp/types"
)

// The HTTP surface of a published device is derived from stable ids, so
// any component holding a (UDN, service id) pair can compute the path
// without touching the metadata graph.

// DescriptorPath returns the device descriptor path for a UDN.
func DescriptorPath(udn types.UDN) string {
	return fmt.Sprintf("/dev/%s/desc.xml", udn)
}

// SCPDPath returns the service descriptor path.
func SCPDPath(udn types.UDN, id types.ServiceID) string {
	return fmt.Sprintf("/dev/%s/svc/%s/desc.xml", udn, id.ID)
}

// ControlPath returns the SOAP control path.
func ControlPath(udn types.UDN, id types.ServiceID) string {
	return fmt.Sprintf("/dev/%s/svc/%s/control", udn, id.ID)
}

// EventPath returns the GENA subscription path.
func EventPath(udn types.UDN, id types.ServiceID) string {
	return fmt.Sprintf("/dev/%s/svc/%s/event", udn, id.ID)
}

// CallbackPath returns the local callback path serving NOTIFYs for an
// outgoing subscription.
func CallbackPath(udn types.UDN, id types.ServiceID, sid string) string {
	return fmt.Sprintf("/dev/%s/svc/%s/event/cb/%s", udn, id.ID, sid)
}
