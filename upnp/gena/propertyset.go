// Package gena implements the eventing data model: the property-set
// codec carried by NOTIFY messages, subscription state, and the
// LastChange accumulator used by AVTransport/RenderingControl-style
// services.
package gena

import (
	"bytes"
	"fmt"

	"github.com/beevik/etree"
)

const eventNamespace = "urn:schemas-upnp-org:event-1-0"

// Property is one evented state variable value. The value is the wire
// string; for LastChange it is itself an XML document.
type Property struct {
	Name  string
	Value string
}

// EncodePropertySet serializes properties into the NOTIFY body:
// <e:propertyset><e:property><Var>value</Var></e:property>…
func EncodePropertySet(props []Property) ([]byte, error) {
	root := etree.NewElement("e:propertyset")
	root.CreateAttr("xmlns:e", eventNamespace)

	for _, p := range props {
		prop := root.CreateElement("e:property")
		v := prop.CreateElement(p.Name)
		v.SetText(p.Value)
	}

	doc := etree.NewDocument()
	doc.SetRoot(root)

	buf := new(bytes.Buffer)
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	if _, err := doc.WriteTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodePropertySet parses a NOTIFY body into properties, in document
// order.
func DecodePropertySet(data []byte) ([]Property, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("unparseable property set: %w", err)
	}

	root := doc.Root()
	if root == nil || root.Tag != "propertyset" {
		return nil, fmt.Errorf("missing propertyset element")
	}

	var props []Property
	for _, prop := range root.ChildElements() {
		if prop.Tag != "property" {
			continue
		}
		for _, v := range prop.ChildElements() {
			props = append(props, Property{Name: v.Tag, Value: v.Text()})
		}
	}

	return props, nil
}
