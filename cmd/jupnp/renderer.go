package main

import (
	"sync"

	"github.com/joerg1985/jupnp/upnp/gena"
	"github.com/joerg1985/jupnp/upnp/manager"
	"github.com/joerg1985/jupnp/upnp/meta"
	"github.com/joerg1985/jupnp/upnp/protocol"
	"github.com/joerg1985/jupnp/upnp/soap"
	"github.com/joerg1985/jupnp/upnp/types"
)

// demoRenderer builds a minimal MediaRenderer: an AVTransport service
// driven by LastChange and a RenderingControl exposing volume and mute.
// It plays nothing; it exists to exercise discovery, control and
// eventing end to end.
func demoRenderer(name string) (*meta.Device, map[string]protocol.ManagedService, error) {
	dev := meta.NewDevice(types.NewUDN(), types.NewDeviceType("MediaRenderer", 1), meta.DeviceDetails{
		FriendlyName: name,
		Manufacturer: "jupnp",
		ModelName:    "jupnp demo renderer",
		ModelNumber:  "1",
	})

	state := &rendererState{transportState: "STOPPED", volume: 50}

	avt, avtMgr, err := buildAVTransport(state)
	if err != nil {
		return nil, nil, err
	}
	state.lastChange = avtMgr.LastChange()

	rcs, rcsMgr, err := buildRenderingControl(state)
	if err != nil {
		return nil, nil, err
	}

	if err := dev.AddService(avt); err != nil {
		return nil, nil, err
	}
	if err := dev.AddService(rcs); err != nil {
		return nil, nil, err
	}

	managers := map[string]protocol.ManagedService{
		"AVTransport":      avtMgr,
		"RenderingControl": rcsMgr,
	}
	return dev, managers, nil
}

// rendererState is the shared implementation behind both services.
type rendererState struct {
	mu             sync.Mutex
	transportState string
	currentURI     string
	volume         uint16
	mute           bool

	lastChange *gena.LastChange
}

func (s *rendererState) CurrentInstanceIDs() []types.UnsignedIntegerFourBytes {
	zero, _ := types.NewUnsignedIntegerFourBytes(0)
	return []types.UnsignedIntegerFourBytes{zero}
}

func (s *rendererState) AppendCurrentState(lc *gena.LastChange, id types.UnsignedIntegerFourBytes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lc.Set(id, "TransportState", s.transportState)
	lc.Set(id, "AVTransportURI", s.currentURI)
	return nil
}

func (s *rendererState) setTransportState(st string) {
	s.mu.Lock()
	s.transportState = st
	s.mu.Unlock()

	zero, _ := types.NewUnsignedIntegerFourBytes(0)
	s.lastChange.Set(zero, "TransportState", st)
}

func buildAVTransport(state *rendererState) (*meta.Service, *manager.LastChangeManager, error) {
	svc, err := meta.NewServiceBinder(
		types.NewServiceType("AVTransport", 1),
		types.NewServiceID("AVTransport")).
		StateVariable("TransportState", types.String,
			meta.WithAllowedValues("STOPPED", "PLAYING", "PAUSED_PLAYBACK", "TRANSITIONING")).
		StateVariable("AVTransportURI", types.String).
		StateVariable("LastChange", types.String,
			meta.SendEvents(200, 0),
			meta.WithAccessor(func() (interface{}, error) { return "", nil })).
		StateVariable("A_ARG_TYPE_InstanceID", types.UI4).
		Action("SetAVTransportURI",
			meta.InArg("InstanceID", ""),
			meta.InArg("CurrentURI", "AVTransportURI")).
		Action("Play", meta.InArg("InstanceID", "")).
		Action("Stop", meta.InArg("InstanceID", "")).
		Action("GetTransportInfo",
			meta.InArg("InstanceID", ""),
			meta.OutArg("CurrentTransportState", "TransportState")).
		Bind()
	if err != nil {
		return nil, nil, err
	}

	mgr, err := manager.NewLastChange(svc, state, gena.AVTransportEventNS)
	if err != nil {
		return nil, nil, err
	}

	mgr.RegisterHandler("SetAVTransportURI", func(inv *soap.Invocation) error {
		state.mu.Lock()
		state.currentURI = inv.Input["CurrentURI"].(string)
		state.mu.Unlock()
		return nil
	})
	mgr.RegisterHandler("Play", func(inv *soap.Invocation) error {
		state.setTransportState("PLAYING")
		return nil
	})
	mgr.RegisterHandler("Stop", func(inv *soap.Invocation) error {
		state.setTransportState("STOPPED")
		return nil
	})
	mgr.RegisterHandler("GetTransportInfo", func(inv *soap.Invocation) error {
		state.mu.Lock()
		inv.Output["CurrentTransportState"] = state.transportState
		state.mu.Unlock()
		return nil
	})

	return svc, mgr, nil
}

func buildRenderingControl(state *rendererState) (*meta.Service, *manager.ServiceManager, error) {
	svc, err := meta.NewServiceBinder(
		types.NewServiceType("RenderingControl", 1),
		types.NewServiceID("RenderingControl")).
		StateVariable("Volume", types.UI2,
			meta.WithRange(0, 100, 1),
			meta.WithDefault(50),
			meta.SendEvents(0, 0),
			meta.WithAccessor(func() (interface{}, error) {
				state.mu.Lock()
				defer state.mu.Unlock()
				return state.volume, nil
			})).
		StateVariable("Mute", types.Boolean,
			meta.WithDefault(false),
			meta.SendEvents(0, 0),
			meta.WithAccessor(func() (interface{}, error) {
				state.mu.Lock()
				defer state.mu.Unlock()
				return state.mute, nil
			})).
		StateVariable("A_ARG_TYPE_InstanceID", types.UI4).
		StateVariable("A_ARG_TYPE_Channel", types.String,
			meta.WithAllowedValues("Master"),
			meta.WithDefault("Master")).
		Action("GetVolume",
			meta.InArg("InstanceID", ""),
			meta.InArg("Channel", ""),
			meta.OutArg("CurrentVolume", "Volume")).
		Action("SetVolume",
			meta.InArg("InstanceID", ""),
			meta.InArg("Channel", ""),
			meta.InArg("DesiredVolume", "Volume")).
		Action("GetMute",
			meta.InArg("InstanceID", ""),
			meta.InArg("Channel", ""),
			meta.OutArg("CurrentMute", "Mute")).
		Action("SetMute",
			meta.InArg("InstanceID", ""),
			meta.InArg("Channel", ""),
			meta.InArg("DesiredMute", "Mute")).
		Bind()
	if err != nil {
		return nil, nil, err
	}

	mgr := manager.New(svc)

	mgr.RegisterHandler("GetVolume", func(inv *soap.Invocation) error {
		state.mu.Lock()
		inv.Output["CurrentVolume"] = state.volume
		state.mu.Unlock()
		return nil
	})
	mgr.RegisterHandler("SetVolume", func(inv *soap.Invocation) error {
		state.mu.Lock()
		state.volume = inv.Input["DesiredVolume"].(uint16)
		state.mu.Unlock()
		return nil
	})
	mgr.RegisterHandler("GetMute", func(inv *soap.Invocation) error {
		state.mu.Lock()
		inv.Output["CurrentMute"] = state.mute
		state.mu.Unlock()
		return nil
	})
	mgr.RegisterHandler("SetMute", func(inv *soap.Invocation) error {
		state.mu.Lock()
		state.mute = inv.Input["DesiredMute"].(bool)
		state.mu.Unlock()
		return nil
	})

	return svc, mgr, nil
}
