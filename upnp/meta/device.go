package meta

import (
	"fmt"

	"github.com/joerg1985/jupnp/upnp/types"
)

// DeviceDetails carries the descriptive metadata of a device.
type DeviceDetails struct {
	FriendlyName     string
	Manufacturer     string
	ManufacturerURL  string
	ModelDescription string
	ModelName        string
	ModelNumber      string
	ModelURL         string
	SerialNumber     string
	PresentationURL  string
	UPC              string
}

// Icon describes one entry of a device's icon list.
type Icon struct {
	MimeType string
	Width    int
	Height   int
	Depth    int
	URI      string
}

// Device is one node of the UPnP device tree: a root or embedded device
// with its services and embedded children.
type Device struct {
	udn        types.UDN
	deviceType types.DeviceType
	details    DeviceDetails

	icons    []Icon
	services ServiceSet
	embedded []*Device
}

// NewDevice builds a device node. The UDN is the device's identity; pass
// types.NewUDN() for a fresh one.
func NewDevice(udn types.UDN, deviceType types.DeviceType, details DeviceDetails) *Device {
	return &Device{
		udn:        udn,
		deviceType: deviceType,
		details:    details,
	}
}

func (d *Device) Name() string                 { return string(d.udn) }
func (d *Device) UDN() types.UDN               { return d.udn }
func (d *Device) DeviceType() types.DeviceType { return d.deviceType }
func (d *Device) Details() DeviceDetails       { return d.details }
func (d *Device) Icons() []Icon                { return d.icons }

// AddIcon appends an icon to the icon list.
func (d *Device) AddIcon(icon Icon) { d.icons = append(d.icons, icon) }

// AddService inserts a service, keyed by its service id.
func (d *Device) AddService(s *Service) error {
	return d.services.Insert(s)
}

// AddEmbeddedDevice appends an embedded device node.
func (d *Device) AddEmbeddedDevice(child *Device) {
	d.embedded = append(d.embedded, child)
}

// Services returns the device's own services.
func (d *Device) Services() *ServiceSet { return &d.services }

// EmbeddedDevices returns the direct embedded children.
func (d *Device) EmbeddedDevices() []*Device { return d.embedded }

// Service looks up one of the device's own services by service id.
func (d *Device) Service(id types.ServiceID) (*Service, bool) {
	return d.services.Get(id.ID)
}

// FindService looks up a service by id anywhere in the device tree,
// returning the owning device node as well.
func (d *Device) FindService(id types.ServiceID) (*Device, *Service, bool) {
	if s, ok := d.services.Get(id.ID); ok {
		return d, s, true
	}
	for _, child := range d.embedded {
		if owner, s, ok := child.FindService(id); ok {
			return owner, s, true
		}
	}
	return nil, nil, false
}

// FindDevice looks up a device node by UDN anywhere in the tree.
func (d *Device) FindDevice(udn types.UDN) (*Device, bool) {
	if d.udn == udn {
		return d, true
	}
	for _, child := range d.embedded {
		if found, ok := child.FindDevice(udn); ok {
			return found, true
		}
	}
	return nil, false
}

// AllDevices returns this device and every embedded device, depth-first.
func (d *Device) AllDevices() []*Device {
	all := []*Device{d}
	for _, child := range d.embedded {
		all = append(all, child.AllDevices()...)
	}
	return all
}

// AllServices returns every service of the whole tree with its owning
// device node.
func (d *Device) AllServices() []ServiceRef {
	var refs []ServiceRef
	for _, dev := range d.AllDevices() {
		for s := range dev.services.All() {
			refs = append(refs, ServiceRef{Device: dev, Service: s})
		}
	}
	return refs
}

// ServiceRef pairs a service with the device node that owns it. The pair
// is how service identity travels through the stack: services themselves
// hold no device back-pointer.
type ServiceRef struct {
	Device  *Device
	Service *Service
}

// USN returns the composite advertisement id for the service.
func (r ServiceRef) USN() string {
	return fmt.Sprintf("%s::%s", r.Device.UDN(), r.Service.ServiceType())
}

// Validate checks the whole tree: UDN and type present on every node,
// every service valid.
func (d *Device) Validate() error {
	for _, dev := range d.AllDevices() {
		if dev.udn == "" {
			return fmt.Errorf("device %q has no UDN", dev.details.FriendlyName)
		}
		if dev.deviceType.Type == "" {
			return fmt.Errorf("device %s has no device type", dev.udn)
		}
		for s := range dev.services.All() {
			if err := s.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}
