// Package registry tracks the known devices: local ones from
// registration to removal, remote ones from discovery to lease expiry or
// byebye. Listeners are notified of every change, always outside the
// registry lock.
package registry

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/joerg1985/jupnp/upnp/meta"
	"github.com/joerg1985/jupnp/upnp/types"
)

// RemovalReason tells listeners why a remote device went away.
type RemovalReason int

const (
	ReasonExpired RemovalReason = iota
	ReasonByeBye
	ReasonShutdown
)

func (r RemovalReason) String() string {
	switch r {
	case ReasonExpired:
		return "EXPIRED"
	case ReasonByeBye:
		return "BYEBYE"
	case ReasonShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// Listener receives registry changes. Nil callbacks are skipped.
type Listener struct {
	LocalDeviceAdded    func(d *meta.Device)
	LocalDeviceRemoved  func(d *meta.Device)
	RemoteDeviceAdded   func(rd *meta.RemoteDevice)
	RemoteDeviceUpdated func(rd *meta.RemoteDevice)
	RemoteDeviceRemoved func(rd *meta.RemoteDevice, reason RemovalReason)
}

// Registry holds the device tables under one coarse lock. All listener
// dispatch happens after the lock is released, so user code can call
// back into the registry freely.
type Registry struct {
	mu        sync.Mutex
	local     map[types.UDN]*meta.Device
	remote    map[types.UDN]*meta.RemoteDevice
	listeners []*Listener
	paused    bool

	stop chan struct{}
	done chan struct{}
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{
		local:  make(map[types.UDN]*meta.Device),
		remote: make(map[types.UDN]*meta.RemoteDevice),
	}
}

// AddListener subscribes to registry changes.
func (r *Registry) AddListener(l *Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) snapshotListeners() []*Listener {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Listener(nil), r.listeners...)
}

// AddLocal registers a local device tree after validating it. Fails fast
// on invalid metadata or a duplicate UDN.
func (r *Registry) AddLocal(d *meta.Device) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("registering local device: %w", err)
	}

	r.mu.Lock()
	if _, ok := r.local[d.UDN()]; ok {
		r.mu.Unlock()
		return fmt.Errorf("local device %s already registered", d.UDN())
	}
	r.local[d.UDN()] = d
	r.mu.Unlock()

	log.Infof("✅ Local device registered: %s (%s)", d.Details().FriendlyName, d.UDN())
	for _, l := range r.snapshotListeners() {
		if l.LocalDeviceAdded != nil {
			l.LocalDeviceAdded(d)
		}
	}
	return nil
}

// RemoveLocal forgets a local device tree.
func (r *Registry) RemoveLocal(udn types.UDN) (*meta.Device, bool) {
	r.mu.Lock()
	d, ok := r.local[udn]
	if ok {
		delete(r.local, udn)
	}
	r.mu.Unlock()

	if !ok {
		return nil, false
	}

	log.Infof("👋 Local device removed: %s", udn)
	for _, l := range r.snapshotListeners() {
		if l.LocalDeviceRemoved != nil {
			l.LocalDeviceRemoved(d)
		}
	}
	return d, true
}

// Local returns a registered local root device by UDN, searching
// embedded devices as well.
func (r *Registry) Local(udn types.UDN) (*meta.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.local[udn]; ok {
		return d, true
	}
	for _, root := range r.local {
		if d, ok := root.FindDevice(udn); ok {
			return d, true
		}
	}
	return nil, false
}

// LocalRoot returns the registered root owning the given UDN.
func (r *Registry) LocalRoot(udn types.UDN) (*meta.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, root := range r.local {
		if _, ok := root.FindDevice(udn); ok {
			return root, true
		}
	}
	return nil, false
}

// LocalDevices snapshots the registered local roots.
func (r *Registry) LocalDevices() []*meta.Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	devices := make([]*meta.Device, 0, len(r.local))
	for _, d := range r.local {
		devices = append(devices, d)
	}
	return devices
}

// Update refreshes the lease of a known remote device. It returns false
// when the device is unknown or its descriptor URL changed, in which
// case the caller must (re-)read the descriptors before publishing.
func (r *Registry) Update(identity meta.RemoteDeviceIdentity) bool {
	r.mu.Lock()
	rd, ok := r.remote[identity.UDN]
	if ok && sameLocation(rd.Identity, identity) {
		rd.Identity.MaxAgeSeconds = identity.MaxAgeSeconds
		rd.Identity.DiscoveredAt = identity.DiscoveredAt
		r.mu.Unlock()
		log.Debugf("🐞 Remote device %s lease refreshed until %s",
			identity.UDN, rd.Identity.ExpiresAt().Format(time.RFC3339))
		return true
	}
	r.mu.Unlock()
	return false
}

func sameLocation(a, b meta.RemoteDeviceIdentity) bool {
	return a.DescriptorURL != nil && b.DescriptorURL != nil &&
		a.DescriptorURL.String() == b.DescriptorURL.String()
}

// AddRemote publishes a freshly retrieved remote device, replacing a
// stale entry for the same UDN.
func (r *Registry) AddRemote(rd *meta.RemoteDevice) {
	r.mu.Lock()
	_, existed := r.remote[rd.Identity.UDN]
	r.remote[rd.Identity.UDN] = rd
	r.mu.Unlock()

	if existed {
		log.Infof("✅ Remote device updated: %s", rd.Identity.UDN)
		for _, l := range r.snapshotListeners() {
			if l.RemoteDeviceUpdated != nil {
				l.RemoteDeviceUpdated(rd)
			}
		}
		return
	}

	log.Infof("✅ Remote device added: %s (%s)",
		rd.Device.Details().FriendlyName, rd.Identity.UDN)
	for _, l := range r.snapshotListeners() {
		if l.RemoteDeviceAdded != nil {
			l.RemoteDeviceAdded(rd)
		}
	}
}

// Remote returns a discovered remote device by UDN.
func (r *Registry) Remote(udn types.UDN) (*meta.RemoteDevice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rd, ok := r.remote[udn]
	return rd, ok
}

// RemoteDevices snapshots the discovered devices.
func (r *Registry) RemoteDevices() []*meta.RemoteDevice {
	r.mu.Lock()
	defer r.mu.Unlock()

	devices := make([]*meta.RemoteDevice, 0, len(r.remote))
	for _, rd := range r.remote {
		devices = append(devices, rd)
	}
	return devices
}

// RemoveRemote forgets a remote device and tells listeners why.
func (r *Registry) RemoveRemote(udn types.UDN, reason RemovalReason) bool {
	r.mu.Lock()
	rd, ok := r.remote[udn]
	if ok {
		delete(r.remote, udn)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	log.Infof("👋 Remote device removed (%s): %s", reason, udn)
	for _, l := range r.snapshotListeners() {
		if l.RemoteDeviceRemoved != nil {
			l.RemoteDeviceRemoved(rd, reason)
		}
	}
	return true
}

// RemoveAllExpired drops every remote device whose advertisement lapsed.
func (r *Registry) RemoveAllExpired(now time.Time) int {
	r.mu.Lock()
	if r.paused {
		r.mu.Unlock()
		return 0
	}
	var expired []*meta.RemoteDevice
	for udn, rd := range r.remote {
		if rd.Identity.IsExpired(now) {
			expired = append(expired, rd)
			delete(r.remote, udn)
		}
	}
	r.mu.Unlock()

	for _, rd := range expired {
		log.Infof("👋 Remote device expired: %s", rd.Identity.UDN)
		for _, l := range r.snapshotListeners() {
			if l.RemoteDeviceRemoved != nil {
				l.RemoteDeviceRemoved(rd, ReasonExpired)
			}
		}
	}
	return len(expired)
}

// RemoveAllRemote drops every remote device, as on shutdown.
func (r *Registry) RemoveAllRemote(reason RemovalReason) {
	r.mu.Lock()
	devices := make([]*meta.RemoteDevice, 0, len(r.remote))
	for _, rd := range r.remote {
		devices = append(devices, rd)
	}
	r.remote = make(map[types.UDN]*meta.RemoteDevice)
	r.mu.Unlock()

	for _, rd := range devices {
		for _, l := range r.snapshotListeners() {
			if l.RemoteDeviceRemoved != nil {
				l.RemoteDeviceRemoved(rd, reason)
			}
		}
	}
}

// Services returns every service, local and remote, admitted by the
// filter. A nil filter admits all.
func (r *Registry) Services(filter func(ref meta.ServiceRef) bool) []meta.ServiceRef {
	r.mu.Lock()
	var refs []meta.ServiceRef
	for _, d := range r.local {
		refs = append(refs, d.AllServices()...)
	}
	for _, rd := range r.remote {
		refs = append(refs, rd.Device.AllServices()...)
	}
	r.mu.Unlock()

	if filter == nil {
		return refs
	}
	var admitted []meta.ServiceRef
	for _, ref := range refs {
		if filter(ref) {
			admitted = append(admitted, ref)
		}
	}
	return admitted
}

// Pause stops expiry sweeps until Resume; remote devices never expire
// while paused.
func (r *Registry) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
}

// Resume re-enables expiry sweeps.
func (r *Registry) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = false
}

// StartMaintainer runs the background expiry sweep at the given
// interval until StopMaintainer.
func (r *Registry) StartMaintainer(interval time.Duration) {
	r.mu.Lock()
	if r.stop != nil {
		r.mu.Unlock()
		return
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	stop, done := r.stop, r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.RemoveAllExpired(time.Now())
			}
		}
	}()
}

// StopMaintainer halts the sweep goroutine and waits for it.
func (r *Registry) StopMaintainer() {
	r.mu.Lock()
	stop, done := r.stop, r.done
	r.stop, r.done = nil, nil
	r.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}
