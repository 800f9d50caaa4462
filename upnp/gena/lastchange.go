package gena

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/beevik/etree"

	"github.com/joerg1985/jupnp/upnp/types"
)

// Standard LastChange event namespaces.
const (
	AVTransportEventNS      = "urn:schemas-upnp-org:metadata-1-0/AVT/"
	RenderingControlEventNS = "urn:schemas-upnp-org:metadata-1-0/RCS/"
)

// LastChange accumulates per-instance state changes of a service and
// publishes them as one evented `LastChange` property. On Fire the
// accumulated delta is serialized and cleared.
//
// Access is synchronized internally. The service manager's fire path
// always takes the manager lock before this monitor; every other writer
// must keep that order.
type LastChange struct {
	namespace string

	mu     sync.Mutex
	values map[uint64]map[string]string
	order  map[uint64][]string
}

// NewLastChange builds an accumulator publishing under the given event
// namespace (AVTransportEventNS, RenderingControlEventNS or a vendor
// one).
func NewLastChange(namespace string) *LastChange {
	return &LastChange{
		namespace: namespace,
		values:    make(map[uint64]map[string]string),
		order:     make(map[uint64][]string),
	}
}

// Set records the latest value of a variable on a logical instance,
// replacing any unfired value.
func (lc *LastChange) Set(instanceID types.UnsignedIntegerFourBytes, name, value string) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	id := instanceID.Value()
	if _, ok := lc.values[id]; !ok {
		lc.values[id] = make(map[string]string)
	}
	if _, seen := lc.values[id][name]; !seen {
		lc.order[id] = append(lc.order[id], name)
	}
	lc.values[id][name] = value
}

// SetTyped formats a value through the given datatype before recording
// it.
func (lc *LastChange) SetTyped(instanceID types.UnsignedIntegerFourBytes, name string, dt types.Datatype, value interface{}) error {
	s, err := dt.Format(value)
	if err != nil {
		return fmt.Errorf("LastChange %s: %w", name, err)
	}
	lc.Set(instanceID, name, s)
	return nil
}

// HasChanges reports whether anything has accumulated since the last
// Fire.
func (lc *LastChange) HasChanges() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return len(lc.values) > 0
}

// String serializes the accumulated delta without clearing it:
// <Event xmlns="…"><InstanceID val="0"><Var val="…"/>…</InstanceID>…</Event>
func (lc *LastChange) String() string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.serializeLocked()
}

func (lc *LastChange) serializeLocked() string {
	root := etree.NewElement("Event")
	root.CreateAttr("xmlns", lc.namespace)

	ids := make([]uint64, 0, len(lc.values))
	for id := range lc.values {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		ie := root.CreateElement("InstanceID")
		ie.CreateAttr("val", fmt.Sprintf("%d", id))
		for _, name := range lc.order[id] {
			ve := ie.CreateElement(name)
			ve.CreateAttr("val", lc.values[id][name])
		}
	}

	doc := etree.NewDocument()
	doc.SetRoot(root)

	buf := new(bytes.Buffer)
	if _, err := doc.WriteTo(buf); err != nil {
		return ""
	}
	return buf.String()
}

// Fire hands the serialized delta to the publisher as the single
// `LastChange` property and clears the accumulator. Nothing happens when
// no changes accumulated.
func (lc *LastChange) Fire(publish func(Property)) {
	lc.mu.Lock()
	if len(lc.values) == 0 {
		lc.mu.Unlock()
		return
	}
	serialized := lc.serializeLocked()
	lc.values = make(map[uint64]map[string]string)
	lc.order = make(map[uint64][]string)
	lc.mu.Unlock()

	// Publish outside the monitor; the publisher re-enters subscriber
	// bookkeeping with its own locks.
	publish(Property{Name: "LastChange", Value: serialized})
}

// InstanceValue is one (instance, variable, value) triple of a decoded
// LastChange document.
type InstanceValue struct {
	InstanceID types.UnsignedIntegerFourBytes
	Name       string
	Value      string
}

// ParseLastChange decodes a serialized LastChange document back into
// its triples, in document order.
func ParseLastChange(data string) ([]InstanceValue, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(data); err != nil {
		return nil, fmt.Errorf("unparseable LastChange document: %w", err)
	}

	root := doc.Root()
	if root == nil || root.Tag != "Event" {
		return nil, fmt.Errorf("missing Event element")
	}

	var values []InstanceValue
	for _, ie := range root.ChildElements() {
		if ie.Tag != "InstanceID" {
			continue
		}
		id, err := types.ParseUnsignedIntegerFourBytes(ie.SelectAttrValue("val", ""))
		if err != nil {
			return nil, fmt.Errorf("InstanceID: %w", err)
		}
		for _, ve := range ie.ChildElements() {
			values = append(values, InstanceValue{
				InstanceID: id,
				Name:       ve.Tag,
				Value:      ve.SelectAttrValue("val", ""),
			})
		}
	}

	return values, nil
}
