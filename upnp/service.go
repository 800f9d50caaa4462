package upnp

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/joerg1985/jupnp/upnp/config"
	"github.com/joerg1985/jupnp/upnp/manager"
	"github.com/joerg1985/jupnp/upnp/meta"
	"github.com/joerg1985/jupnp/upnp/protocol"
	"github.com/joerg1985/jupnp/upnp/registry"
	"github.com/joerg1985/jupnp/upnp/router"
	"github.com/joerg1985/jupnp/upnp/soap"
	"github.com/joerg1985/jupnp/upnp/types"
)

// Service is the composed UPnP stack: router, registry and the three
// protocol engines, with explicit Startup and Shutdown phases. There is
// no package-level singleton; build as many as you need.
type Service struct {
	settings config.Settings

	Router      *router.Router
	Registry    *registry.Registry
	Discovery   *protocol.Discovery
	Control     *protocol.Control
	EventServer *protocol.EventServer
	EventClient *protocol.EventClient

	services *protocol.LocalServices

	startOnce sync.Once
	stopOnce  sync.Once
}

// New composes a stack from settings.
func New(settings config.Settings) *Service {
	rt := router.New(settings)
	reg := registry.New()
	services := protocol.NewLocalServices()

	s := &Service{
		settings:    settings,
		Router:      rt,
		Registry:    reg,
		Discovery:   protocol.NewDiscovery(settings, rt, reg),
		Control:     protocol.NewControl(rt, services),
		EventServer: protocol.NewEventServer(settings, rt, services),
		EventClient: protocol.NewEventClient(settings, rt),
		services:    services,
	}
	protocol.NewDescription(rt, reg)

	rt.SetDatagramProcessor(s.Discovery)
	return s
}

// Settings returns the effective configuration.
func (s *Service) Settings() config.Settings { return s.settings }

// Startup binds the network and starts the maintenance loops. A bind
// failure leaves the stack down.
func (s *Service) Startup() error {
	var err error
	s.startOnce.Do(func() {
		if err = s.Router.Enable(); err != nil {
			return
		}
		s.Registry.StartMaintainer(time.Duration(s.settings.RegistrySweepSec) * time.Second)
		s.Discovery.Start()
		s.EventServer.Start()
		log.Infof("✅ UPnP stack started")
	})
	return err
}

// Shutdown says goodbye on the network, drops every subscription and
// device and tears the sockets down. Safe to call once.
func (s *Service) Shutdown() {
	s.stopOnce.Do(func() {
		s.Discovery.Shutdown()
		s.EventServer.Shutdown()
		s.EventClient.Shutdown()
		s.Registry.StopMaintainer()
		s.Registry.RemoveAllRemote(registry.ReasonShutdown)
		s.Router.Disable()
		log.Infof("✅ UPnP stack stopped")
	})
}

// Run starts the stack and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Startup(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Shutdown()
	return nil
}

// RegisterDevice publishes a local device tree: its services get
// managers, the event server becomes their publisher, the registry
// admits the tree and discovery announces it.
func (s *Service) RegisterDevice(dev *meta.Device, managers map[string]protocol.ManagedService) error {
	for _, ref := range dev.AllServices() {
		mgr, ok := managers[ref.Service.ServiceID().ID]
		if !ok {
			return fmt.Errorf("service %s has no manager", ref.Service.ServiceID())
		}
		s.services.Register(ref.Device.UDN(), mgr)

		// Evented writes flow from the manager into the event server.
		if aware, ok := mgr.(publisherAware); ok {
			aware.SetPublisher(s.EventServer.PublisherFor(mgr))
		}
	}

	if err := s.Registry.AddLocal(dev); err != nil {
		s.services.Unregister(dev.UDN())
		return err
	}

	s.Discovery.SendAlive(dev)
	return nil
}

// publisherAware matches both manager flavors.
type publisherAware interface {
	SetPublisher(p manager.EventPublisher)
}

// RemoveDevice says byebye, forgets the managers and removes the tree.
func (s *Service) RemoveDevice(udn types.UDN) error {
	dev, ok := s.Registry.RemoveLocal(udn)
	if !ok {
		return fmt.Errorf("no local device %s", udn)
	}
	s.Discovery.SendByeBye(dev)
	s.services.Unregister(udn)
	return nil
}

// Invoke runs an action on a discovered remote service.
func (s *Service) Invoke(ctx context.Context, rd *meta.RemoteDevice, svc *meta.Service, inv *soap.Invocation) error {
	return s.Control.Invoke(ctx, rd, svc, inv)
}
