// Package protocol implements the three UPnP protocol engines:
// discovery (SSDP), control (SOAP) and eventing (GENA), each with its
// device side and its control-point side.
package protocol

import (
	"fmt"
	"sync"

	"github.com/joerg1985/jupnp/upnp/gena"
	"github.com/joerg1985/jupnp/upnp/meta"
	"github.com/joerg1985/jupnp/upnp/soap"
	"github.com/joerg1985/jupnp/upnp/types"
)

// ManagedService is what the engines need from a service manager; both
// the default and the LastChange-aware manager satisfy it.
type ManagedService interface {
	Service() *meta.Service
	Execute(inv *soap.Invocation) *types.ActionError
	InitialEventProperties() ([]gena.Property, error)
}

// LocalServices maps (UDN, service id) to the manager mediating that
// service, for the control and eventing servers.
type LocalServices struct {
	mu    sync.RWMutex
	byKey map[string]ManagedService
}

// NewLocalServices builds an empty table.
func NewLocalServices() *LocalServices {
	return &LocalServices{byKey: make(map[string]ManagedService)}
}

func serviceKey(udn types.UDN, id types.ServiceID) string {
	return fmt.Sprintf("%s/%s", udn, id.ID)
}

// Register binds a manager to its device's UDN.
func (ls *LocalServices) Register(udn types.UDN, mgr ManagedService) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.byKey[serviceKey(udn, mgr.Service().ServiceID())] = mgr
}

// Unregister drops every manager bound to the UDN.
func (ls *LocalServices) Unregister(udn types.UDN) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	prefix := string(udn) + "/"
	for key := range ls.byKey {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(ls.byKey, key)
		}
	}
}

// Lookup resolves a manager by UDN and service id.
func (ls *LocalServices) Lookup(udn types.UDN, id types.ServiceID) (ManagedService, bool) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	mgr, ok := ls.byKey[serviceKey(udn, id)]
	return mgr, ok
}
