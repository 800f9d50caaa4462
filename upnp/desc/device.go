// Package desc reads and writes the UPnP XML descriptors: the device
// descriptor and the service control protocol description (SCPD).
//
// Readers are tolerant of unknown elements and out-of-order children but
// strict about required fields. Writers emit stable documents: same
// element order every run, UTF-8, no BOM.
package desc

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/joerg1985/jupnp/upnp/meta"
	"github.com/joerg1985/jupnp/upnp/types"
)

const deviceNamespace = "urn:schemas-upnp-org:device-1-0"

// DescriptorError reports a malformed descriptor received from a remote
// device. The device is not admitted to the registry.
type DescriptorError struct {
	Reason string
}

func (e *DescriptorError) Error() string {
	return "invalid descriptor: " + e.Reason
}

func descErr(format string, args ...interface{}) error {
	return &DescriptorError{Reason: fmt.Sprintf(format, args...)}
}

// WriteDeviceDescriptor serializes the device tree into the device
// descriptor document.
func WriteDeviceDescriptor(d *meta.Device) (string, error) {
	root := etree.NewElement("root")
	root.CreateAttr("xmlns", deviceNamespace)

	spec := root.CreateElement("specVersion")
	spec.CreateElement("major").SetText("1")
	spec.CreateElement("minor").SetText("0")

	root.AddChild(deviceElement(d))

	return serialize(root)
}

func deviceElement(d *meta.Device) *etree.Element {
	elem := etree.NewElement("device")

	elem.CreateElement("deviceType").SetText(d.DeviceType().String())

	details := d.Details()
	elem.CreateElement("friendlyName").SetText(details.FriendlyName)
	elem.CreateElement("manufacturer").SetText(details.Manufacturer)
	setIfPresent(elem, "manufacturerURL", details.ManufacturerURL)
	setIfPresent(elem, "modelDescription", details.ModelDescription)
	elem.CreateElement("modelName").SetText(details.ModelName)
	setIfPresent(elem, "modelNumber", details.ModelNumber)
	setIfPresent(elem, "modelURL", details.ModelURL)
	setIfPresent(elem, "serialNumber", details.SerialNumber)
	elem.CreateElement("UDN").SetText(d.UDN().String())
	setIfPresent(elem, "UPC", details.UPC)

	if icons := d.Icons(); len(icons) > 0 {
		list := elem.CreateElement("iconList")
		for _, icon := range icons {
			ie := list.CreateElement("icon")
			ie.CreateElement("mimetype").SetText(icon.MimeType)
			ie.CreateElement("width").SetText(strconv.Itoa(icon.Width))
			ie.CreateElement("height").SetText(strconv.Itoa(icon.Height))
			ie.CreateElement("depth").SetText(strconv.Itoa(icon.Depth))
			ie.CreateElement("url").SetText(icon.URI)
		}
	}

	if d.Services().Len() > 0 {
		list := elem.CreateElement("serviceList")
		for s := range d.Services().All() {
			se := list.CreateElement("service")
			se.CreateElement("serviceType").SetText(s.ServiceType().String())
			se.CreateElement("serviceId").SetText(s.ServiceID().String())
			endpoints := s.Endpoints(d.UDN())
			se.CreateElement("SCPDURL").SetText(endpoints.SCPD)
			se.CreateElement("controlURL").SetText(endpoints.Control)
			se.CreateElement("eventSubURL").SetText(endpoints.EventSub)
		}
	}

	if embedded := d.EmbeddedDevices(); len(embedded) > 0 {
		list := elem.CreateElement("deviceList")
		for _, child := range embedded {
			list.AddChild(deviceElement(child))
		}
	}

	setIfPresent(elem, "presentationURL", details.PresentationURL)

	return elem
}

func setIfPresent(parent *etree.Element, tag, text string) {
	if text != "" {
		parent.CreateElement(tag).SetText(text)
	}
}

// serialize renders an element as a standalone document with the XML
// header, indentation of 2 and UTF-8 text.
func serialize(root *etree.Element) (string, error) {
	doc := etree.NewDocument()
	doc.SetRoot(root)
	doc.Indent(2)

	buf := new(bytes.Buffer)
	if _, err := doc.WriteTo(buf); err != nil {
		return "", err
	}

	return `<?xml version="1.0" encoding="utf-8"?>` + "\n" + buf.String(), nil
}

// ReadDeviceDescriptor parses a device descriptor into a device tree.
// Service entries carry their explicit endpoints; their action and state
// tables stay empty until the SCPDs are read.
func ReadDeviceDescriptor(data []byte) (*meta.Device, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, descErr("unparseable XML: %v", err)
	}

	root := doc.Root()
	if root == nil || root.Tag != "root" {
		return nil, descErr("missing <root> element")
	}

	deviceElem := root.SelectElement("device")
	if deviceElem == nil {
		return nil, descErr("missing <device> element")
	}

	return readDevice(deviceElem)
}

func readDevice(elem *etree.Element) (*meta.Device, error) {
	udnText := childText(elem, "UDN")
	if udnText == "" {
		return nil, descErr("device has no <UDN>")
	}
	udn, err := types.ParseUDN(udnText)
	if err != nil {
		return nil, descErr("%v", err)
	}

	typeText := childText(elem, "deviceType")
	if typeText == "" {
		return nil, descErr("device %s has no <deviceType>", udn)
	}
	deviceType, err := types.ParseDeviceType(typeText)
	if err != nil {
		return nil, descErr("%v", err)
	}

	details := meta.DeviceDetails{
		FriendlyName:     childText(elem, "friendlyName"),
		Manufacturer:     childText(elem, "manufacturer"),
		ManufacturerURL:  childText(elem, "manufacturerURL"),
		ModelDescription: childText(elem, "modelDescription"),
		ModelName:        childText(elem, "modelName"),
		ModelNumber:      childText(elem, "modelNumber"),
		ModelURL:         childText(elem, "modelURL"),
		SerialNumber:     childText(elem, "serialNumber"),
		PresentationURL:  childText(elem, "presentationURL"),
		UPC:              childText(elem, "UPC"),
	}

	device := meta.NewDevice(udn, deviceType, details)

	if iconList := elem.SelectElement("iconList"); iconList != nil {
		for _, ie := range iconList.SelectElements("icon") {
			device.AddIcon(meta.Icon{
				MimeType: childText(ie, "mimetype"),
				Width:    atoiOrZero(childText(ie, "width")),
				Height:   atoiOrZero(childText(ie, "height")),
				Depth:    atoiOrZero(childText(ie, "depth")),
				URI:      childText(ie, "url"),
			})
		}
	}

	if serviceList := elem.SelectElement("serviceList"); serviceList != nil {
		for _, se := range serviceList.SelectElements("service") {
			svc, err := readServiceEntry(se)
			if err != nil {
				return nil, err
			}
			if err := device.AddService(svc); err != nil {
				return nil, descErr("device %s: %v", udn, err)
			}
		}
	}

	if deviceList := elem.SelectElement("deviceList"); deviceList != nil {
		for _, de := range deviceList.SelectElements("device") {
			child, err := readDevice(de)
			if err != nil {
				return nil, err
			}
			device.AddEmbeddedDevice(child)
		}
	}

	return device, nil
}

func readServiceEntry(elem *etree.Element) (*meta.Service, error) {
	typeText := childText(elem, "serviceType")
	if typeText == "" {
		return nil, descErr("service entry has no <serviceType>")
	}
	serviceType, err := types.ParseServiceType(typeText)
	if err != nil {
		return nil, descErr("%v", err)
	}

	idText := childText(elem, "serviceId")
	if idText == "" {
		return nil, descErr("service entry has no <serviceId>")
	}
	serviceID, err := types.ParseServiceID(idText)
	if err != nil {
		return nil, descErr("%v", err)
	}

	svc := meta.NewService(serviceType, serviceID)
	svc.SetEndpoints(meta.Endpoints{
		SCPD:     childText(elem, "SCPDURL"),
		Control:  childText(elem, "controlURL"),
		EventSub: childText(elem, "eventSubURL"),
	})

	return svc, nil
}

func childText(elem *etree.Element, tag string) string {
	if child := elem.SelectElement(tag); child != nil {
		return strings.TrimSpace(child.Text())
	}
	return ""
}

func atoiOrZero(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
