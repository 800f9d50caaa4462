package meta

import (
	"net"
	"net/url"
	"time"

	"github.com/joerg1985/jupnp/upnp/types"
)

// RemoteDeviceIdentity is what discovery knows about a remote device
// before (and after) its descriptors are read: who it is, where its
// descriptor lives, how long the advertisement is valid and on which
// local interface it was heard.
type RemoteDeviceIdentity struct {
	UDN           types.UDN
	MaxAgeSeconds int
	DescriptorURL *url.URL
	LocalAddr     net.IP
	DiscoveredAt  time.Time
}

// ExpiresAt returns the instant the advertisement lapses without refresh.
func (id RemoteDeviceIdentity) ExpiresAt() time.Time {
	return id.DiscoveredAt.Add(time.Duration(id.MaxAgeSeconds) * time.Second)
}

// IsExpired reports whether the advertisement has lapsed at now.
func (id RemoteDeviceIdentity) IsExpired(now time.Time) bool {
	return now.After(id.ExpiresAt())
}

// RemoteDevice pairs a remote identity with its parsed device tree.
type RemoteDevice struct {
	Identity RemoteDeviceIdentity
	Device   *Device
}
