package registry

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joerg1985/jupnp/upnp/meta"
	"github.com/joerg1985/jupnp/upnp/types"
)

func localDevice(t *testing.T) *meta.Device {
	t.Helper()
	return meta.NewDevice(types.NewUDN(), types.NewDeviceType("Basic", 1), meta.DeviceDetails{
		FriendlyName: "Test",
		Manufacturer: "ACME",
		ModelName:    "T-1",
	})
}

func remoteIdentity(t *testing.T, udn types.UDN, maxAge int, location string, at time.Time) meta.RemoteDeviceIdentity {
	t.Helper()
	u, err := url.Parse(location)
	require.NoError(t, err)
	return meta.RemoteDeviceIdentity{
		UDN:           udn,
		MaxAgeSeconds: maxAge,
		DescriptorURL: u,
		DiscoveredAt:  at,
	}
}

func TestLocalLifecycle(t *testing.T) {
	r := New()

	var added, removed []*meta.Device
	r.AddListener(&Listener{
		LocalDeviceAdded:   func(d *meta.Device) { added = append(added, d) },
		LocalDeviceRemoved: func(d *meta.Device) { removed = append(removed, d) },
	})

	d := localDevice(t)
	require.NoError(t, r.AddLocal(d))
	require.Error(t, r.AddLocal(d), "duplicate UDN rejected")

	got, ok := r.Local(d.UDN())
	require.True(t, ok)
	assert.Same(t, d, got)

	_, ok = r.RemoveLocal(d.UDN())
	require.True(t, ok)
	_, ok = r.Local(d.UDN())
	assert.False(t, ok)

	assert.Len(t, added, 1)
	assert.Len(t, removed, 1)
}

func TestRemoteRefreshAdvancesExpiry(t *testing.T) {
	r := New()
	udn := types.NewUDN()
	t0 := time.Now()

	id := remoteIdentity(t, udn, 1800, "http://192.168.1.9:49152/desc.xml", t0)

	assert.False(t, r.Update(id), "unknown device needs a descriptor read first")

	dev := meta.NewDevice(udn, types.NewDeviceType("MediaServer", 1), meta.DeviceDetails{FriendlyName: "NAS"})
	var addedCount int
	r.AddListener(&Listener{
		RemoteDeviceAdded: func(*meta.RemoteDevice) { addedCount++ },
	})
	r.AddRemote(&meta.RemoteDevice{Identity: id, Device: dev})

	// Second alive a second later with the same LOCATION: no re-read,
	// just a lease refresh.
	id2 := remoteIdentity(t, udn, 1800, "http://192.168.1.9:49152/desc.xml", t0.Add(time.Second))
	assert.True(t, r.Update(id2))
	assert.Equal(t, 1, addedCount, "exactly one device-added event")

	rd, ok := r.Remote(udn)
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Second).Add(1800*time.Second), rd.Identity.ExpiresAt())

	// Changed LOCATION forces a descriptor re-read.
	id3 := remoteIdentity(t, udn, 1800, "http://192.168.1.9:49153/desc.xml", t0.Add(2*time.Second))
	assert.False(t, r.Update(id3))
}

func TestRemoteExpirySweep(t *testing.T) {
	r := New()
	udn := types.NewUDN()
	t0 := time.Now()

	var removedReason RemovalReason
	var removedCount int
	r.AddListener(&Listener{
		RemoteDeviceRemoved: func(_ *meta.RemoteDevice, reason RemovalReason) {
			removedReason = reason
			removedCount++
		},
	})

	dev := meta.NewDevice(udn, types.NewDeviceType("Basic", 1), meta.DeviceDetails{})
	r.AddRemote(&meta.RemoteDevice{
		Identity: remoteIdentity(t, udn, 2, "http://10.0.0.2/d.xml", t0),
		Device:   dev,
	})

	assert.Zero(t, r.RemoveAllExpired(t0.Add(time.Second)), "not expired yet")
	assert.Equal(t, 1, r.RemoveAllExpired(t0.Add(3*time.Second)))
	assert.Equal(t, ReasonExpired, removedReason)
	assert.Equal(t, 1, removedCount)

	_, ok := r.Remote(udn)
	assert.False(t, ok)
}

func TestPauseStopsExpiry(t *testing.T) {
	r := New()
	udn := types.NewUDN()
	t0 := time.Now()

	dev := meta.NewDevice(udn, types.NewDeviceType("Basic", 1), meta.DeviceDetails{})
	r.AddRemote(&meta.RemoteDevice{
		Identity: remoteIdentity(t, udn, 1, "http://10.0.0.2/d.xml", t0),
		Device:   dev,
	})

	r.Pause()
	assert.Zero(t, r.RemoveAllExpired(t0.Add(time.Minute)))
	_, ok := r.Remote(udn)
	assert.True(t, ok, "paused registry keeps expired devices")

	r.Resume()
	assert.Equal(t, 1, r.RemoveAllExpired(t0.Add(time.Minute)))
}

func TestByeByeRemoval(t *testing.T) {
	r := New()
	udn := types.NewUDN()

	dev := meta.NewDevice(udn, types.NewDeviceType("Basic", 1), meta.DeviceDetails{})
	r.AddRemote(&meta.RemoteDevice{
		Identity: remoteIdentity(t, udn, 1800, "http://10.0.0.2/d.xml", time.Now()),
		Device:   dev,
	})

	var reason RemovalReason
	r.AddListener(&Listener{
		RemoteDeviceRemoved: func(_ *meta.RemoteDevice, re RemovalReason) { reason = re },
	})

	assert.True(t, r.RemoveRemote(udn, ReasonByeBye))
	assert.Equal(t, ReasonByeBye, reason)
	assert.False(t, r.RemoveRemote(udn, ReasonByeBye))
}

func TestServicesFilter(t *testing.T) {
	r := New()

	d := localDevice(t)
	svc, err := meta.NewServiceBinder(
		types.NewServiceType("SwitchPower", 1),
		types.NewServiceID("SwitchPower")).
		StateVariable("Target", types.Boolean).
		Action("SetTarget", meta.InArg("NewTargetValue", "Target")).
		Bind()
	require.NoError(t, err)
	require.NoError(t, d.AddService(svc))
	require.NoError(t, r.AddLocal(d))

	all := r.Services(nil)
	require.Len(t, all, 1)

	matching := r.Services(func(ref meta.ServiceRef) bool {
		return ref.Service.ServiceType().Type == "SwitchPower"
	})
	assert.Len(t, matching, 1)

	none := r.Services(func(ref meta.ServiceRef) bool { return false })
	assert.Empty(t, none)
}

func TestListenerMayCallBackIntoRegistry(t *testing.T) {
	r := New()
	d := localDevice(t)

	r.AddListener(&Listener{
		LocalDeviceAdded: func(added *meta.Device) {
			// Dispatch happens outside the registry lock, so this must
			// not deadlock.
			_, _ = r.Local(added.UDN())
		},
	})

	require.NoError(t, r.AddLocal(d))
}
