package manager

import (
	"fmt"

	"github.com/joerg1985/jupnp/upnp/gena"
	"github.com/joerg1985/jupnp/upnp/meta"
	"github.com/joerg1985/jupnp/upnp/soap"
	"github.com/joerg1985/jupnp/upnp/types"
)

// LastChangeDelegator is implemented by services that aggregate their
// state into a LastChange variable instead of eventing each variable
// individually, like AVTransport and RenderingControl.
type LastChangeDelegator interface {
	// CurrentInstanceIDs enumerates the logical instances of the
	// service. An empty result means the single default instance 0.
	CurrentInstanceIDs() []types.UnsignedIntegerFourBytes

	// AppendCurrentState writes the complete current state of one
	// instance into the accumulator.
	AppendCurrentState(lc *gena.LastChange, instanceID types.UnsignedIntegerFourBytes) error
}

// LastChangeManager is a ServiceManager for LastChange-driven services.
// Live changes accumulate in the service's LastChange and are pushed to
// subscribers on FireLastChange; the initial event of a new subscription
// is built from a fresh accumulator so other subscribers see nothing.
type LastChangeManager struct {
	*ServiceManager

	delegator LastChangeDelegator
	namespace string
	lastChange *gena.LastChange
}

// NewLastChange builds a manager around a LastChange-aware service
// implementation. The namespace selects the inner event document flavor
// (gena.AVTransportEventNS, gena.RenderingControlEventNS, …).
func NewLastChange(svc *meta.Service, delegator LastChangeDelegator, namespace string) (*LastChangeManager, error) {
	if _, ok := svc.StateVariable("LastChange"); !ok {
		return nil, fmt.Errorf("service %s has no LastChange state variable", svc.Name())
	}
	return &LastChangeManager{
		ServiceManager: New(svc),
		delegator:      delegator,
		namespace:      namespace,
		lastChange:     gena.NewLastChange(namespace),
	}, nil
}

// LastChange exposes the live accumulator for the service implementation
// to record changes into.
func (m *LastChangeManager) LastChange() *gena.LastChange { return m.lastChange }

// Execute runs the invocation, then fires whatever the handler
// accumulated. Handlers must never call FireLastChange themselves: they
// run under the manager lock, which is not reentrant.
func (m *LastChangeManager) Execute(inv *soap.Invocation) *types.ActionError {
	aerr := m.ServiceManager.Execute(inv)
	m.FireLastChange()
	return aerr
}

// FireLastChange propagates everything accumulated since the last fire
// to subscribers as one LastChange property.
//
// Lock order: the manager lock first, then the accumulator's monitor
// inside Fire. Every writer that holds both must take them in this
// order.
func (m *LastChangeManager) FireLastChange() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publisher == nil {
		return
	}

	publisher := m.publisher
	m.lastChange.Fire(func(p gena.Property) {
		publisher([]gena.Property{p})
	})
}

// InitialEventProperties builds the SEQ-0 event from a fresh
// accumulator: the live one would notify every other subscriber. Each
// current logical instance reports its complete state; with no
// instances, the default instance 0 is read.
func (m *LastChangeManager) InitialEventProperties() ([]gena.Property, error) {
	lc := gena.NewLastChange(m.namespace)

	ids := m.delegator.CurrentInstanceIDs()
	if len(ids) == 0 {
		zero, _ := types.NewUnsignedIntegerFourBytes(0)
		ids = []types.UnsignedIntegerFourBytes{zero}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if err := m.delegator.AppendCurrentState(lc, id); err != nil {
			return nil, fmt.Errorf("reading instance %s state: %w", id, err)
		}
	}

	return []gena.Property{{Name: "LastChange", Value: lc.String()}}, nil
}
