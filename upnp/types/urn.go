package types

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// UDN is the Unique Device Name, the stable `uuid:<UUID>` identifier that
// keys device identity in the registry and in SSDP advertisements.
type UDN string

// NewUDN mints a fresh random UDN.
func NewUDN() UDN {
	return UDN("uuid:" + uuid.New().String())
}

// ParseUDN accepts both the `uuid:`-prefixed wire form and a bare UUID.
func ParseUDN(s string) (UDN, error) {
	s = strings.TrimSpace(s)
	raw := strings.TrimPrefix(s, "uuid:")
	if _, err := uuid.Parse(raw); err != nil {
		// Some devices use free-form identifiers; keep them if prefixed.
		if !strings.HasPrefix(s, "uuid:") {
			return "", fmt.Errorf("invalid UDN %q: %v", s, err)
		}
	}
	if !strings.HasPrefix(s, "uuid:") {
		s = "uuid:" + s
	}
	return UDN(s), nil
}

func (u UDN) String() string { return string(u) }

// Identifier returns the UDN without the `uuid:` prefix.
func (u UDN) Identifier() string {
	return strings.TrimPrefix(string(u), "uuid:")
}

// DeviceType is a device type URN, either
// `urn:schemas-upnp-org:device:<type>:<ver>` or a vendor domain URN.
type DeviceType struct {
	Namespace string
	Type      string
	Version   int
}

const standardNamespace = "schemas-upnp-org"

// NewDeviceType builds a standard `schemas-upnp-org` device type URN.
func NewDeviceType(t string, version int) DeviceType {
	return DeviceType{Namespace: standardNamespace, Type: t, Version: version}
}

// ParseDeviceType parses `urn:<namespace>:device:<type>:<ver>`.
func ParseDeviceType(s string) (DeviceType, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 5 || parts[0] != "urn" || parts[2] != "device" {
		return DeviceType{}, fmt.Errorf("invalid device type URN %q", s)
	}
	version, err := strconv.Atoi(parts[4])
	if err != nil || version < 1 {
		return DeviceType{}, fmt.Errorf("invalid device type version in %q", s)
	}
	return DeviceType{Namespace: parts[1], Type: parts[3], Version: version}, nil
}

func (d DeviceType) String() string {
	return fmt.Sprintf("urn:%s:device:%s:%d", d.Namespace, d.Type, d.Version)
}

// Implements reports whether d satisfies a search for `other`: the
// namespace and type match and d's version is at least other's version.
func (d DeviceType) Implements(other DeviceType) bool {
	return d.Namespace == other.Namespace && d.Type == other.Type && d.Version >= other.Version
}

// ServiceType is a service type URN,
// `urn:<namespace>:service:<type>:<ver>`.
type ServiceType struct {
	Namespace string
	Type      string
	Version   int
}

// NewServiceType builds a standard `schemas-upnp-org` service type URN.
func NewServiceType(t string, version int) ServiceType {
	return ServiceType{Namespace: standardNamespace, Type: t, Version: version}
}

// ParseServiceType parses `urn:<namespace>:service:<type>:<ver>`.
func ParseServiceType(s string) (ServiceType, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 5 || parts[0] != "urn" || parts[2] != "service" {
		return ServiceType{}, fmt.Errorf("invalid service type URN %q", s)
	}
	version, err := strconv.Atoi(parts[4])
	if err != nil || version < 1 {
		return ServiceType{}, fmt.Errorf("invalid service type version in %q", s)
	}
	return ServiceType{Namespace: parts[1], Type: parts[3], Version: version}, nil
}

func (s ServiceType) String() string {
	return fmt.Sprintf("urn:%s:service:%s:%d", s.Namespace, s.Type, s.Version)
}

// Implements reports whether s satisfies a search for `other`.
func (s ServiceType) Implements(other ServiceType) bool {
	return s.Namespace == other.Namespace && s.Type == other.Type && s.Version >= other.Version
}

// ServiceID is a service identifier URN,
// `urn:<namespace>:serviceId:<id>`.
type ServiceID struct {
	Namespace string
	ID        string
}

// NewServiceID builds a standard `upnp-org` service id URN.
func NewServiceID(id string) ServiceID {
	return ServiceID{Namespace: "upnp-org", ID: id}
}

// ParseServiceID parses `urn:<namespace>:serviceId:<id>`.
func ParseServiceID(s string) (ServiceID, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 4)
	if len(parts) != 4 || parts[0] != "urn" || parts[2] != "serviceId" {
		return ServiceID{}, fmt.Errorf("invalid service id URN %q", s)
	}
	return ServiceID{Namespace: parts[1], ID: parts[3]}, nil
}

func (s ServiceID) String() string {
	return fmt.Sprintf("urn:%s:serviceId:%s", s.Namespace, s.ID)
}
