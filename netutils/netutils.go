// Package netutils enumerates and selects the local network interfaces
// the UPnP stack binds to.
package netutils

import (
	"fmt"
	"net"
	"slices"
	"strings"
)

// GuessLocalIP returns the IPv4 address the host would use to reach the
// public internet, falling back to loopback.
func GuessLocalIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1", nil
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}

// BoundInterface pairs a usable multicast interface with its primary
// IPv4 address.
type BoundInterface struct {
	Interface net.Interface
	Addr      net.IP
}

// Selector filters interfaces by name. An empty include list admits
// every interface not excluded.
type Selector struct {
	Include []string
	Exclude []string
}

func (s Selector) admits(name string) bool {
	if slices.Contains(s.Exclude, name) {
		return false
	}
	return len(s.Include) == 0 || slices.Contains(s.Include, name)
}

// SelectInterfaces returns the up, multicast-capable interfaces with an
// IPv4 address admitted by the selector.
func SelectInterfaces(sel Selector) ([]BoundInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}

	var bound []BoundInterface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if !sel.admits(iface.Name) {
			continue
		}

		ip := FirstIPv4(iface)
		if ip == nil {
			continue
		}
		bound = append(bound, BoundInterface{Interface: iface, Addr: ip})
	}

	if len(bound) == 0 {
		return nil, fmt.Errorf("no usable multicast interface (selector include=%v exclude=%v)",
			sel.Include, sel.Exclude)
	}
	return bound, nil
}

// FirstIPv4 returns the first non-loopback IPv4 address of the
// interface, or nil.
func FirstIPv4(iface net.Interface) net.IP {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil
	}

	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}

		if ip == nil || ip.To4() == nil || ip.IsLoopback() {
			continue
		}
		return ip.To4()
	}
	return nil
}

// ListAllIPs returns a map of interface names to their associated IPv4
// addresses, for diagnostics.
func ListAllIPs() map[string][]string {
	result := make(map[string][]string)

	ifaces, err := net.Interfaces()
	if err != nil {
		result["error"] = []string{err.Error()}
		return result
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		var ips []string
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}

			if ip == nil || ip.To4() == nil || ip.IsLoopback() {
				continue
			}
			ips = append(ips, ip.String())
		}

		if len(ips) > 0 {
			result[iface.Name] = ips
		}
	}

	return result
}

// IsSameHost reports whether two IPs are equal after IPv4 normalization.
func IsSameHost(a, b net.IP) bool {
	return a != nil && b != nil && a.To4() != nil && b.To4() != nil &&
		strings.EqualFold(a.To4().String(), b.To4().String())
}
