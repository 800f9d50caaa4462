package protocol

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/joerg1985/jupnp/upnp/config"
	"github.com/joerg1985/jupnp/upnp/desc"
	"github.com/joerg1985/jupnp/upnp/meta"
	"github.com/joerg1985/jupnp/upnp/registry"
	"github.com/joerg1985/jupnp/upnp/ssdp"
	"github.com/joerg1985/jupnp/upnp/transport"
	"github.com/joerg1985/jupnp/upnp/types"
)

// byeByeRepeats is how many times a byebye burst is sent; datagrams are
// unreliable and a missed byebye keeps ghosts in control points for the
// whole max-age.
const byeByeRepeats = 3

// Discovery is the SSDP engine: it advertises local devices, answers
// searches for them, and turns remote announcements and search replies
// into registry entries with fully read descriptors.
type Discovery struct {
	settings config.Settings
	router   Gateway
	registry *registry.Registry

	mu         sync.Mutex
	inProgress map[types.UDN]bool
	stopped    bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewDiscovery wires the engine; call Start to begin advertising.
func NewDiscovery(settings config.Settings, rt Gateway, reg *registry.Registry) *Discovery {
	return &Discovery{
		settings:   settings,
		router:     rt,
		registry:   reg,
		inProgress: make(map[types.UDN]bool),
		stop:       make(chan struct{}),
	}
}

func (d *Discovery) serverHeader() string {
	return d.settings.ServerHeader(runtime.GOOS, "1.0")
}

func (d *Discovery) group() *net.UDPAddr {
	return &net.UDPAddr{
		IP:   net.ParseIP(d.settings.MulticastAddress),
		Port: d.settings.MulticastPort,
	}
}

// Start launches the periodic re-advertiser. Alive bursts repeat at half
// the advertised max-age, with a little jitter so fleets of devices
// don't synchronize; each round also sends an ssdp:all search to
// refresh the remote devices.
func (d *Discovery) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			interval := d.settings.AdvertiseInterval() +
				time.Duration(rand.Intn(5000))*time.Millisecond
			select {
			case <-d.stop:
				return
			case <-time.After(interval):
				for _, device := range d.registry.LocalDevices() {
					d.SendAlive(device)
				}
				if err := d.Search(ssdp.STAll); err != nil {
					log.Debugf("🐞 periodic search not sent: %v", err)
				}
			}
		}
	}()
}

// Shutdown says goodbye for every local device and stops the engine.
func (d *Discovery) Shutdown() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	for _, device := range d.registry.LocalDevices() {
		d.SendByeBye(device)
	}
	close(d.stop)
	d.wg.Wait()
}

// advertisement is one (NT, USN) pair announced for a device tree.
type advertisement struct {
	nt  string
	usn string
}

// advertisements enumerates the UPnP triplet set of a root device: three
// for the root, two per embedded device, one per service of each device.
func advertisements(root *meta.Device) []advertisement {
	udn := root.UDN().String()
	ads := []advertisement{
		{nt: ssdp.STRootDevice, usn: udn + "::" + ssdp.STRootDevice},
		{nt: udn, usn: udn},
		{nt: root.DeviceType().String(), usn: udn + "::" + root.DeviceType().String()},
	}

	for _, dev := range root.AllDevices() {
		if dev != root {
			devUDN := dev.UDN().String()
			ads = append(ads,
				advertisement{nt: devUDN, usn: devUDN},
				advertisement{nt: dev.DeviceType().String(), usn: devUDN + "::" + dev.DeviceType().String()},
			)
		}
		for svc := range dev.Services().All() {
			st := svc.ServiceType().String()
			ads = append(ads, advertisement{nt: st, usn: dev.UDN().String() + "::" + st})
		}
	}

	return ads
}

// SendAlive announces a local device tree on every bound interface, with
// the LOCATION of the interface the datagram leaves on.
func (d *Discovery) SendAlive(device *meta.Device) {
	for _, bi := range d.router.Interfaces() {
		location := d.router.BaseURL(bi.Addr) + meta.DescriptorPath(device.UDN())
		for _, ad := range advertisements(device) {
			msg := ssdp.NewDatagram(ssdp.KindNotify)
			msg.Dst = d.group()
			msg.LocalAddr = bi.Addr
			msg.Headers.Set(ssdp.HeaderHost, fmt.Sprintf("%s:%d", d.settings.MulticastAddress, d.settings.MulticastPort))
			msg.Headers.Set(ssdp.HeaderCacheControl, fmt.Sprintf("max-age=%d", d.settings.AdvertiseIntervalSec))
			msg.Headers.Set(ssdp.HeaderLocation, location)
			msg.Headers.Set(ssdp.HeaderNT, ad.nt)
			msg.Headers.Set(ssdp.HeaderNTS, ssdp.NTSAlive)
			msg.Headers.Set(ssdp.HeaderServer, d.serverHeader())
			msg.Headers.Set(ssdp.HeaderUSN, ad.usn)
			msg.Headers.Set(ssdp.HeaderBootID, "1")
			msg.Headers.Set(ssdp.HeaderConfigID, "1")

			if err := d.router.SendDatagram(msg); err != nil {
				log.Debugf("🐞 alive for %s not sent: %v", ad.usn, err)
			}
		}
	}
	log.Infof("📡 Alive sent for %s", device.UDN())
}

// SendByeBye announces removal of a local device tree. The burst is
// repeated; nobody acknowledges datagrams.
func (d *Discovery) SendByeBye(device *meta.Device) {
	for repeat := 0; repeat < byeByeRepeats; repeat++ {
		for _, bi := range d.router.Interfaces() {
			for _, ad := range advertisements(device) {
				msg := ssdp.NewDatagram(ssdp.KindNotify)
				msg.Dst = d.group()
				msg.LocalAddr = bi.Addr
				msg.Headers.Set(ssdp.HeaderHost, fmt.Sprintf("%s:%d", d.settings.MulticastAddress, d.settings.MulticastPort))
				msg.Headers.Set(ssdp.HeaderNT, ad.nt)
				msg.Headers.Set(ssdp.HeaderNTS, ssdp.NTSByeBye)
				msg.Headers.Set(ssdp.HeaderUSN, ad.usn)

				if err := d.router.SendDatagram(msg); err != nil {
					log.Debugf("🐞 byebye for %s not sent: %v", ad.usn, err)
				}
			}
		}
	}
	log.Infof("👋 ByeBye sent for %s", device.UDN())
}

// Search issues an active M-SEARCH for the given target (ssdp.STAll by
// default).
func (d *Discovery) Search(target string) error {
	if target == "" {
		target = ssdp.STAll
	}

	msg := ssdp.NewDatagram(ssdp.KindSearch)
	msg.Dst = d.group()
	msg.Headers.Set(ssdp.HeaderHost, fmt.Sprintf("%s:%d", d.settings.MulticastAddress, d.settings.MulticastPort))
	msg.Headers.Set(ssdp.HeaderMAN, ssdp.ManDiscover)
	msg.Headers.Set(ssdp.HeaderMX, fmt.Sprintf("%d", d.settings.SearchMX))
	msg.Headers.Set(ssdp.HeaderST, target)

	log.Infof("📡 Searching for %s", target)
	return d.router.Broadcast(msg)
}

// ProcessDatagram is the router's dispatch target for all SSDP traffic.
func (d *Discovery) ProcessDatagram(msg *ssdp.Datagram) {
	switch msg.Kind {
	case ssdp.KindSearch:
		d.processSearch(msg)
	case ssdp.KindNotify:
		d.processNotify(msg)
	case ssdp.KindResponse:
		d.processSearchResponse(msg)
	}
}

// processSearch answers an M-SEARCH for matching local devices after a
// random delay in [0, MX] seconds that spreads responder load.
func (d *Discovery) processSearch(msg *ssdp.Datagram) {
	if err := msg.ValidateSearch(); err != nil {
		log.Debugf("🐞 ignoring search from %s: %v", msg.Src, err)
		return
	}

	st := msg.Headers.Get(ssdp.HeaderST)
	mx := msg.MX(5)

	for _, device := range d.registry.LocalDevices() {
		matches := matchSearchTarget(device, st)
		if len(matches) == 0 {
			continue
		}

		device := device
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			delay := time.Duration(rand.Int63n(int64(mx) * int64(time.Second)))
			select {
			case <-d.stop:
				return
			case <-time.After(delay):
			}
			d.respond(device, matches, msg)
		}()
	}
}

// matchSearchTarget returns the advertisements a device answers for the
// search target: everything for ssdp:all, otherwise the matching subset.
func matchSearchTarget(device *meta.Device, st string) []advertisement {
	ads := advertisements(device)
	if st == ssdp.STAll {
		return ads
	}
	var matches []advertisement
	for _, ad := range ads {
		if ad.nt == st {
			matches = append(matches, ad)
		}
	}
	return matches
}

func (d *Discovery) respond(device *meta.Device, matches []advertisement, search *ssdp.Datagram) {
	location := d.router.BaseURL(search.LocalAddr) + meta.DescriptorPath(device.UDN())

	for _, ad := range matches {
		resp := ssdp.NewDatagram(ssdp.KindResponse)
		resp.Dst = search.Src
		resp.LocalAddr = search.LocalAddr
		resp.Headers.Set(ssdp.HeaderCacheControl, fmt.Sprintf("max-age=%d", d.settings.AdvertiseIntervalSec))
		resp.Headers.Set(ssdp.HeaderDate, time.Now().UTC().Format(time.RFC1123))
		resp.Headers.Set(ssdp.HeaderEXT, "")
		resp.Headers.Set(ssdp.HeaderLocation, location)
		resp.Headers.Set(ssdp.HeaderServer, d.serverHeader())
		resp.Headers.Set(ssdp.HeaderST, ad.nt)
		resp.Headers.Set(ssdp.HeaderUSN, ad.usn)

		if err := d.router.SendDatagram(resp); err != nil {
			log.Debugf("🐞 search response to %s not sent: %v", search.Src, err)
		}
	}
	log.Debugf("🐞 Answered search from %s with %d advertisement(s)", search.Src, len(matches))
}

// processNotify handles remote alive and byebye announcements.
func (d *Discovery) processNotify(msg *ssdp.Datagram) {
	udnText := msg.UDN()
	if udnText == "" {
		return
	}
	udn, err := types.ParseUDN(udnText)
	if err != nil {
		log.Debugf("🐞 ignoring notify with bad USN from %s: %v", msg.Src, err)
		return
	}

	// Our own announcements loop back through the multicast group.
	if _, ok := d.registry.Local(udn); ok {
		return
	}

	switch {
	case msg.IsByeBye():
		d.registry.RemoveRemote(udn, registry.ReasonByeBye)
	case msg.IsAlive():
		d.handleAliveOrResponse(msg, udn)
	}
}

func (d *Discovery) processSearchResponse(msg *ssdp.Datagram) {
	udnText := msg.UDN()
	if udnText == "" {
		return
	}
	udn, err := types.ParseUDN(udnText)
	if err != nil {
		return
	}
	if _, ok := d.registry.Local(udn); ok {
		return
	}
	d.handleAliveOrResponse(msg, udn)
}

// handleAliveOrResponse refreshes a known device's lease or kicks off a
// descriptor retrieval. A per-UDN guard keeps a second alive from racing
// an in-flight retrieval for the same device.
func (d *Discovery) handleAliveOrResponse(msg *ssdp.Datagram, udn types.UDN) {
	locText := msg.Headers.Get(ssdp.HeaderLocation)
	if locText == "" {
		return
	}
	location, err := url.Parse(locText)
	if err != nil {
		log.Debugf("🐞 ignoring announcement with bad LOCATION %q", locText)
		return
	}

	identity := meta.RemoteDeviceIdentity{
		UDN:           udn,
		MaxAgeSeconds: msg.MaxAge(d.settings.AdvertiseIntervalSec),
		DescriptorURL: location,
		LocalAddr:     msg.LocalAddr,
		DiscoveredAt:  time.Now(),
	}

	if d.registry.Update(identity) {
		return
	}

	d.mu.Lock()
	if d.inProgress[udn] || d.stopped {
		d.mu.Unlock()
		return
	}
	d.inProgress[udn] = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.inProgress, udn)
			d.mu.Unlock()
		}()
		d.retrieveDescriptors(identity)
	}()
}

// retrieveDescriptors reads the device descriptor and every SCPD, then
// publishes the device. Transient fetch errors are retried with
// exponential backoff; descriptor errors drop the device.
func (d *Discovery) retrieveDescriptors(identity meta.RemoteDeviceIdentity) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	device, err := d.readDeviceDescriptor(ctx, identity)
	if err != nil {
		log.Warnf("❌ Cannot read descriptor of %s at %s: %v",
			identity.UDN, identity.DescriptorURL, err)
		return
	}

	for _, dev := range device.AllDevices() {
		for svc := range dev.Services().All() {
			if err := d.readSCPD(ctx, identity, dev, svc); err != nil {
				log.Warnf("❌ Cannot read SCPD of %s on %s: %v",
					svc.ServiceID(), identity.UDN, err)
				return
			}
		}
	}

	d.registry.AddRemote(&meta.RemoteDevice{Identity: identity, Device: device})
}

func (d *Discovery) readDeviceDescriptor(ctx context.Context, identity meta.RemoteDeviceIdentity) (*meta.Device, error) {
	data, err := d.fetch(ctx, identity.DescriptorURL.String())
	if err != nil {
		return nil, err
	}
	return desc.ReadDeviceDescriptor(data)
}

// readSCPD replaces a service stub from the device descriptor with the
// fully populated service read from its SCPD.
func (d *Discovery) readSCPD(ctx context.Context, identity meta.RemoteDeviceIdentity, dev *meta.Device, svc *meta.Service) error {
	endpoints := svc.Endpoints(dev.UDN())
	scpdURL, err := resolveEndpoint(identity.DescriptorURL, endpoints.SCPD)
	if err != nil {
		return err
	}

	data, err := d.fetch(ctx, scpdURL)
	if err != nil {
		return err
	}

	full, err := desc.ReadSCPD(svc.ServiceType(), svc.ServiceID(), data)
	if err != nil {
		return err
	}

	for action := range full.Actions().All() {
		if err := svc.AddAction(action); err != nil {
			return err
		}
	}
	for sv := range full.StateVariables().All() {
		if err := svc.AddStateVariable(sv); err != nil {
			return err
		}
	}
	return nil
}

// fetch retrieves a URL with bounded exponential retry; sleepy devices
// often need a second attempt right after their announcement.
func (d *Discovery) fetch(ctx context.Context, url string) ([]byte, error) {
	var data []byte

	operation := func() error {
		resp, err := d.router.SendStream(ctx, &transport.StreamRequest{Method: "GET", URL: url})
		if err != nil {
			return err
		}
		if resp.StatusCode != 200 {
			return fmt.Errorf("GET %s: HTTP %d", url, resp.StatusCode)
		}
		data = resp.Body
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return data, nil
}

// resolveEndpoint resolves a possibly relative endpoint against the
// descriptor location.
func resolveEndpoint(base *url.URL, endpoint string) (string, error) {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	return base.ResolveReference(ref).String(), nil
}
