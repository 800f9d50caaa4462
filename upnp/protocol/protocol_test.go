package protocol

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joerg1985/jupnp/netutils"
	"github.com/joerg1985/jupnp/upnp/config"
	"github.com/joerg1985/jupnp/upnp/desc"
	"github.com/joerg1985/jupnp/upnp/gena"
	"github.com/joerg1985/jupnp/upnp/manager"
	"github.com/joerg1985/jupnp/upnp/meta"
	"github.com/joerg1985/jupnp/upnp/registry"
	"github.com/joerg1985/jupnp/upnp/soap"
	"github.com/joerg1985/jupnp/upnp/ssdp"
	"github.com/joerg1985/jupnp/upnp/transport"
	"github.com/joerg1985/jupnp/upnp/types"
)

// fakeGateway captures datagrams and serves streams from a handler, so
// engines run without sockets.
type fakeGateway struct {
	mu        sync.Mutex
	datagrams []*ssdp.Datagram
	broadcast []*ssdp.Datagram
	httpMux   *mux.Router
	client    *transport.StreamClient
	localAddr net.IP
	basePort  int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		httpMux:   mux.NewRouter(),
		client:    transport.NewStreamClient(transport.DefaultStreamTimeouts),
		localAddr: net.ParseIP("192.168.1.5").To4(),
		basePort:  4004,
	}
}

func (g *fakeGateway) Interfaces() []netutils.BoundInterface {
	return []netutils.BoundInterface{{Addr: g.localAddr}}
}

func (g *fakeGateway) BaseURL(localAddr net.IP) string {
	return "http://" + localAddr.String() + ":4004"
}

func (g *fakeGateway) SendDatagram(msg *ssdp.Datagram) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.datagrams = append(g.datagrams, msg)
	return nil
}

func (g *fakeGateway) Broadcast(msg *ssdp.Datagram) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.broadcast = append(g.broadcast, msg)
	return nil
}

func (g *fakeGateway) SendStream(ctx context.Context, req *transport.StreamRequest) (*transport.StreamResponse, error) {
	return g.client.Do(ctx, req)
}

func (g *fakeGateway) HTTPMux() *mux.Router { return g.httpMux }

func (g *fakeGateway) sentDatagrams() []*ssdp.Datagram {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*ssdp.Datagram(nil), g.datagrams...)
}

func testSettings() config.Settings {
	s := config.Defaults()
	s.MinLeaseSec = 1
	s.MaxLeaseSec = 300
	s.RenewalSlackSec = 0
	return s
}

const testUDN = "uuid:11111111-1111-1111-1111-111111111111"

func mediaRendererDevice(t *testing.T) *meta.Device {
	t.Helper()

	udn, err := types.ParseUDN(testUDN)
	require.NoError(t, err)

	dev := meta.NewDevice(udn, types.NewDeviceType("MediaRenderer", 1), meta.DeviceDetails{
		FriendlyName: "Renderer",
		Manufacturer: "ACME",
		ModelName:    "R-1",
	})

	svc, err := meta.NewServiceBinder(
		types.NewServiceType("AVTransport", 1),
		types.NewServiceID("AVTransport")).
		StateVariable("LastChange", types.String,
			meta.SendEvents(0, 0),
			meta.WithAccessor(func() (interface{}, error) { return "", nil })).
		StateVariable("A_ARG_TYPE_InstanceID", types.UI4).
		StateVariable("NumberOfTracks", types.UI4).
		Action("GetMediaInfo",
			meta.InArg("InstanceID", ""),
			meta.OutArg("NrTracks", "NumberOfTracks")).
		Bind()
	require.NoError(t, err)
	require.NoError(t, dev.AddService(svc))

	return dev
}

func TestSearchMatchRootDevice(t *testing.T) {
	gw := newFakeGateway()
	reg := registry.New()
	d := NewDiscovery(testSettings(), gw, reg)
	defer d.Shutdown()

	require.NoError(t, reg.AddLocal(mediaRendererDevice(t)))

	search := ssdp.NewDatagram(ssdp.KindSearch)
	search.Src = &net.UDPAddr{IP: net.ParseIP("192.168.1.77"), Port: 50000}
	search.LocalAddr = gw.localAddr
	search.Headers.Set(ssdp.HeaderMAN, ssdp.ManDiscover)
	search.Headers.Set(ssdp.HeaderST, ssdp.STRootDevice)
	search.Headers.Set(ssdp.HeaderMX, "2")

	d.ProcessDatagram(search)

	require.Eventually(t, func() bool {
		return len(gw.sentDatagrams()) == 1
	}, 3*time.Second, 10*time.Millisecond, "one unicast response within MX seconds")

	resp := gw.sentDatagrams()[0]
	assert.Equal(t, ssdp.KindResponse, resp.Kind)
	assert.Equal(t, search.Src, resp.Dst)
	assert.Equal(t, ssdp.STRootDevice, resp.Headers.Get(ssdp.HeaderST))
	assert.Equal(t, testUDN+"::upnp:rootdevice", resp.Headers.Get(ssdp.HeaderUSN))
	assert.Equal(t, "http://192.168.1.5:4004/dev/"+testUDN+"/desc.xml",
		resp.Headers.Get(ssdp.HeaderLocation))
}

func TestSearchNoMatchStaysQuiet(t *testing.T) {
	gw := newFakeGateway()
	reg := registry.New()
	d := NewDiscovery(testSettings(), gw, reg)
	defer d.Shutdown()

	require.NoError(t, reg.AddLocal(mediaRendererDevice(t)))

	search := ssdp.NewDatagram(ssdp.KindSearch)
	search.Src = &net.UDPAddr{IP: net.ParseIP("192.168.1.77"), Port: 50000}
	search.LocalAddr = gw.localAddr
	search.Headers.Set(ssdp.HeaderMAN, ssdp.ManDiscover)
	search.Headers.Set(ssdp.HeaderST, "urn:schemas-upnp-org:device:InternetGatewayDevice:1")
	search.Headers.Set(ssdp.HeaderMX, "1")

	d.ProcessDatagram(search)

	time.Sleep(1200 * time.Millisecond)
	assert.Empty(t, gw.sentDatagrams())
}

func TestAdvertisementTriplets(t *testing.T) {
	dev := mediaRendererDevice(t)
	ads := advertisements(dev)

	// Root triplet plus one service type.
	require.Len(t, ads, 4)
	assert.Equal(t, ssdp.STRootDevice, ads[0].nt)
	assert.Equal(t, testUDN, ads[1].nt)
	assert.Equal(t, "urn:schemas-upnp-org:device:MediaRenderer:1", ads[2].nt)
	assert.Equal(t, "urn:schemas-upnp-org:service:AVTransport:1", ads[3].nt)
	assert.Equal(t, testUDN+"::urn:schemas-upnp-org:service:AVTransport:1", ads[3].usn)
}

// remoteDeviceServer serves a descriptor and SCPD over httptest and
// counts descriptor fetches.
func remoteDeviceServer(t *testing.T, dev *meta.Device) (*httptest.Server, *int) {
	t.Helper()

	fetches := 0
	handler := http.NewServeMux()
	handler.HandleFunc("/desc.xml", func(w http.ResponseWriter, r *http.Request) {
		fetches++
		xml, err := desc.WriteDeviceDescriptor(dev)
		require.NoError(t, err)
		w.Write([]byte(xml))
	})
	for _, ref := range dev.AllServices() {
		ref := ref
		handler.HandleFunc(ref.Service.Endpoints(dev.UDN()).SCPD, func(w http.ResponseWriter, r *http.Request) {
			xml, err := desc.WriteSCPD(ref.Service)
			require.NoError(t, err)
			w.Write([]byte(xml))
		})
	}

	return httptest.NewServer(handler), &fetches
}

func TestRemoteAliveTriggersSingleRetrieval(t *testing.T) {
	dev := mediaRendererDevice(t)
	srv, fetches := remoteDeviceServer(t, dev)
	defer srv.Close()

	gw := newFakeGateway()
	reg := registry.New()
	d := NewDiscovery(testSettings(), gw, reg)
	defer d.Shutdown()

	var added int
	reg.AddListener(&registry.Listener{
		RemoteDeviceAdded: func(*meta.RemoteDevice) { added++ },
	})

	alive := func() *ssdp.Datagram {
		msg := ssdp.NewDatagram(ssdp.KindNotify)
		msg.Src = &net.UDPAddr{IP: net.ParseIP("192.168.1.9"), Port: 1900}
		msg.LocalAddr = gw.localAddr
		msg.Headers.Set(ssdp.HeaderNTS, ssdp.NTSAlive)
		msg.Headers.Set(ssdp.HeaderNT, ssdp.STRootDevice)
		msg.Headers.Set(ssdp.HeaderUSN, testUDN+"::upnp:rootdevice")
		msg.Headers.Set(ssdp.HeaderLocation, srv.URL+"/desc.xml")
		msg.Headers.Set(ssdp.HeaderCacheControl, "max-age=1800")
		return msg
	}

	d.ProcessDatagram(alive())

	require.Eventually(t, func() bool { return added == 1 }, 5*time.Second, 10*time.Millisecond)

	before, ok := reg.Remote(dev.UDN())
	require.True(t, ok)
	firstExpiry := before.Identity.ExpiresAt()

	// The service table was read from the SCPD.
	svc, ok := before.Device.Service(types.NewServiceID("AVTransport"))
	require.True(t, ok)
	_, ok = svc.Action("GetMediaInfo")
	assert.True(t, ok)

	// A second alive with the same LOCATION refreshes the lease without
	// another fetch or listener event.
	time.Sleep(20 * time.Millisecond)
	d.ProcessDatagram(alive())
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, *fetches, "identical alive must not re-fetch")
	assert.Equal(t, 1, added)

	after, ok := reg.Remote(dev.UDN())
	require.True(t, ok)
	assert.True(t, after.Identity.ExpiresAt().After(firstExpiry), "expiry advances")
}

func TestByeByeRemovesImmediately(t *testing.T) {
	gw := newFakeGateway()
	reg := registry.New()
	d := NewDiscovery(testSettings(), gw, reg)
	defer d.Shutdown()

	dev := mediaRendererDevice(t)
	u, _ := types.ParseUDN(testUDN)
	reg.AddRemote(&meta.RemoteDevice{
		Identity: meta.RemoteDeviceIdentity{UDN: u, MaxAgeSeconds: 1800, DiscoveredAt: time.Now()},
		Device:   dev,
	})

	var reason registry.RemovalReason
	reg.AddListener(&registry.Listener{
		RemoteDeviceRemoved: func(_ *meta.RemoteDevice, re registry.RemovalReason) { reason = re },
	})

	bye := ssdp.NewDatagram(ssdp.KindNotify)
	bye.Headers.Set(ssdp.HeaderNTS, ssdp.NTSByeBye)
	bye.Headers.Set(ssdp.HeaderUSN, testUDN+"::upnp:rootdevice")
	d.ProcessDatagram(bye)

	_, ok := reg.Remote(u)
	assert.False(t, ok)
	assert.Equal(t, registry.ReasonByeBye, reason)
}

func newLocalStack(t *testing.T) (*fakeGateway, *registry.Registry, *LocalServices, *manager.ServiceManager, *httptest.Server) {
	t.Helper()

	gw := newFakeGateway()
	reg := registry.New()
	services := NewLocalServices()

	dev := mediaRendererDevice(t)
	require.NoError(t, reg.AddLocal(dev))

	svc, _ := dev.Service(types.NewServiceID("AVTransport"))
	mgr := manager.New(svc)
	services.Register(dev.UDN(), mgr)

	NewControl(gw, services)
	NewDescription(gw, reg)

	srv := httptest.NewServer(gw.HTTPMux())
	t.Cleanup(srv.Close)
	return gw, reg, services, mgr, srv
}

func TestControlServerInvoke(t *testing.T) {
	_, _, _, mgr, srv := newLocalStack(t)

	require.NoError(t, mgr.RegisterHandler("GetMediaInfo", func(inv *soap.Invocation) error {
		inv.Output["NrTracks"] = uint32(7)
		return nil
	}))

	svc := mgr.Service()
	body, err := soap.EncodeRequest(svc.ServiceType(), svc, mustInvocation(t, svc, "GetMediaInfo", map[string]interface{}{"InstanceID": 0}))
	require.NoError(t, err)

	resp, respBody := postSOAP(t, srv.URL+"/dev/"+testUDN+"/svc/AVTransport/control",
		soap.SOAPAction(svc.ServiceType(), "GetMediaInfo"), body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	action, _ := svc.Action("GetMediaInfo")
	decoded := soap.NewInvocation(action)
	require.NoError(t, soap.DecodeResponse(svc, decoded, respBody))
	assert.Equal(t, uint32(7), decoded.Output["NrTracks"])
}

func TestControlServerFaultInvalidArgs(t *testing.T) {
	_, _, _, mgr, srv := newLocalStack(t)
	svc := mgr.Service()

	// InstanceID = "abc" cannot parse as ui4.
	raw := `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>
<u:GetMediaInfo xmlns:u="urn:schemas-upnp-org:service:AVTransport:1">
<InstanceID>abc</InstanceID>
</u:GetMediaInfo>
</s:Body></s:Envelope>`

	resp, respBody := postSOAP(t, srv.URL+"/dev/"+testUDN+"/svc/AVTransport/control",
		soap.SOAPAction(svc.ServiceType(), "GetMediaInfo"), []byte(raw))

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(respBody), "<errorCode>402</errorCode>")
	assert.Contains(t, string(respBody), "<errorDescription>Invalid Args</errorDescription>")
}

func TestControlClientAgainstOwnServer(t *testing.T) {
	gw, _, _, mgr, srv := newLocalStack(t)
	svc := mgr.Service()

	require.NoError(t, mgr.RegisterHandler("GetMediaInfo", func(inv *soap.Invocation) error {
		inv.Output["NrTracks"] = uint32(3)
		return nil
	}))

	rd := remoteFor(t, srv.URL, svc)
	control := NewControl(newFakeGateway(), NewLocalServices())
	_ = gw

	inv := mustInvocation(t, svc, "GetMediaInfo", map[string]interface{}{"InstanceID": 0})
	require.NoError(t, control.Invoke(context.Background(), rd, svc, inv))
	assert.Nil(t, inv.Err)
	assert.Equal(t, uint32(3), inv.Output["NrTracks"])
}

// remoteFor wraps a local service as a remote device pointing at the
// test server.
func remoteFor(t *testing.T, baseURL string, svc *meta.Service) *meta.RemoteDevice {
	t.Helper()
	u, err := types.ParseUDN(testUDN)
	require.NoError(t, err)

	descURL, err := url.Parse(baseURL + "/desc.xml")
	require.NoError(t, err)

	remoteSvc := meta.NewService(svc.ServiceType(), svc.ServiceID())
	remoteSvc.SetEndpoints(svc.Endpoints(u))
	for a := range svc.Actions().All() {
		require.NoError(t, remoteSvc.AddAction(a))
	}
	for sv := range svc.StateVariables().All() {
		require.NoError(t, remoteSvc.AddStateVariable(sv))
	}

	dev := meta.NewDevice(u, types.NewDeviceType("MediaRenderer", 1), meta.DeviceDetails{})
	require.NoError(t, dev.AddService(remoteSvc))

	return &meta.RemoteDevice{
		Identity: meta.RemoteDeviceIdentity{
			UDN:           u,
			MaxAgeSeconds: 1800,
			DescriptorURL: descURL,
			DiscoveredAt:  time.Now(),
		},
		Device: dev,
	}
}

func mustInvocation(t *testing.T, svc *meta.Service, action string, input map[string]interface{}) *soap.Invocation {
	t.Helper()
	a, ok := svc.Action(action)
	require.True(t, ok)
	inv := soap.NewInvocation(a)
	for name, value := range input {
		require.NoError(t, inv.SetInput(svc, name, value))
	}
	return inv
}

func postSOAP(t *testing.T, target, soapAction string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("SOAPACTION", soapAction)
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestDescriptionRoutes(t *testing.T) {
	_, _, _, _, srv := newLocalStack(t)

	resp, err := http.Get(srv.URL + "/dev/" + testUDN + "/desc.xml")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	parsed, err := desc.ReadDeviceDescriptor(data)
	require.NoError(t, err)
	assert.Equal(t, testUDN, parsed.UDN().String())

	resp2, err := http.Get(srv.URL + "/dev/" + testUDN + "/svc/AVTransport/desc.xml")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	resp3, err := http.Get(srv.URL + "/dev/uuid:99999999-9999-9999-9999-999999999999/desc.xml")
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

// notifySink records NOTIFYs sent to a control point callback.
type notifySink struct {
	mu       sync.Mutex
	received []notifyRecord
	srv      *httptest.Server
}

type notifyRecord struct {
	sid   string
	seq   string
	props []gena.Property
}

func newNotifySink(t *testing.T) *notifySink {
	t.Helper()
	sink := &notifySink{}
	sink.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		props, err := gena.DecodePropertySet(data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sink.mu.Lock()
		sink.received = append(sink.received, notifyRecord{
			sid:   r.Header.Get("SID"),
			seq:   r.Header.Get("SEQ"),
			props: props,
		})
		sink.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(sink.srv.Close)
	return sink
}

func (s *notifySink) records() []notifyRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notifyRecord(nil), s.received...)
}

func subscribe(t *testing.T, eventURL, callback, timeout string) *http.Response {
	t.Helper()
	req, err := http.NewRequest("SUBSCRIBE", eventURL, nil)
	require.NoError(t, err)
	if callback != "" {
		req.Header.Set("CALLBACK", "<"+callback+">")
		req.Header.Set("NT", "upnp:event")
	}
	if timeout != "" {
		req.Header.Set("TIMEOUT", timeout)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestEventServerInitialEventLastChange(t *testing.T) {
	gw := newFakeGateway()
	reg := registry.New()
	services := NewLocalServices()

	dev := mediaRendererDevice(t)
	require.NoError(t, reg.AddLocal(dev))
	svc, _ := dev.Service(types.NewServiceID("AVTransport"))

	zero, _ := types.NewUnsignedIntegerFourBytes(0)
	impl := &stoppedTransport{ids: []types.UnsignedIntegerFourBytes{zero}}
	mgr, err := manager.NewLastChange(svc, impl, gena.AVTransportEventNS)
	require.NoError(t, err)
	services.Register(dev.UDN(), mgr)

	e := NewEventServer(testSettings(), gw, services)
	e.Start()
	defer e.Shutdown()

	srv := httptest.NewServer(gw.HTTPMux())
	defer srv.Close()
	sink := newNotifySink(t)

	resp := subscribe(t, srv.URL+"/dev/"+testUDN+"/svc/AVTransport/event",
		sink.srv.URL+"/cb", "Second-300")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sid := resp.Header.Get("SID")
	assert.True(t, strings.HasPrefix(sid, "uuid:"))
	assert.Equal(t, "Second-300", resp.Header.Get("TIMEOUT"))

	require.Eventually(t, func() bool { return len(sink.records()) == 1 },
		3*time.Second, 10*time.Millisecond, "initial event arrives")

	rec := sink.records()[0]
	assert.Equal(t, "0", rec.seq, "initial event is SEQ 0")
	assert.Equal(t, sid, rec.sid)
	require.Len(t, rec.props, 1)
	assert.Equal(t, "LastChange", rec.props[0].Name)
	assert.Contains(t, rec.props[0].Value,
		`<InstanceID val="0"><TransportState val="STOPPED"/></InstanceID>`)
}

type stoppedTransport struct {
	ids []types.UnsignedIntegerFourBytes
}

func (s *stoppedTransport) CurrentInstanceIDs() []types.UnsignedIntegerFourBytes { return s.ids }

func (s *stoppedTransport) AppendCurrentState(lc *gena.LastChange, id types.UnsignedIntegerFourBytes) error {
	lc.Set(id, "TransportState", "STOPPED")
	return nil
}

func TestEventServerLeaseExpiry(t *testing.T) {
	gw := newFakeGateway()
	reg := registry.New()
	services := NewLocalServices()

	dev := mediaRendererDevice(t)
	require.NoError(t, reg.AddLocal(dev))
	svc, _ := dev.Service(types.NewServiceID("AVTransport"))
	mgr := manager.New(svc)
	services.Register(dev.UDN(), mgr)

	e := NewEventServer(testSettings(), gw, services)
	e.Start()
	defer e.Shutdown()

	srv := httptest.NewServer(gw.HTTPMux())
	defer srv.Close()
	sink := newNotifySink(t)

	// Second-1 is clamped to minLeaseSec=1; without renewal the sweep
	// drops it.
	resp := subscribe(t, srv.URL+"/dev/"+testUDN+"/svc/AVTransport/event",
		sink.srv.URL+"/cb", "Second-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Second-1", resp.Header.Get("TIMEOUT"))
	require.Len(t, e.Subscriptions(mgr), 1)

	require.Eventually(t, func() bool { return len(e.Subscriptions(mgr)) == 0 },
		4*time.Second, 50*time.Millisecond, "expired subscription is swept")
}

func TestEventServerRenewalAndUnsubscribe(t *testing.T) {
	gw := newFakeGateway()
	reg := registry.New()
	services := NewLocalServices()

	dev := mediaRendererDevice(t)
	require.NoError(t, reg.AddLocal(dev))
	svc, _ := dev.Service(types.NewServiceID("AVTransport"))
	mgr := manager.New(svc)
	services.Register(dev.UDN(), mgr)

	e := NewEventServer(testSettings(), gw, services)
	defer e.Shutdown()

	srv := httptest.NewServer(gw.HTTPMux())
	defer srv.Close()
	sink := newNotifySink(t)
	eventURL := srv.URL + "/dev/" + testUDN + "/svc/AVTransport/event"

	resp := subscribe(t, eventURL, sink.srv.URL+"/cb", "Second-100")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sid := resp.Header.Get("SID")

	// Renewal by SID.
	req, err := http.NewRequest("SUBSCRIBE", eventURL, nil)
	require.NoError(t, err)
	req.Header.Set("SID", sid)
	req.Header.Set("TIMEOUT", "Second-200")
	renewResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	renewResp.Body.Close()
	assert.Equal(t, http.StatusOK, renewResp.StatusCode)
	assert.Equal(t, "Second-200", renewResp.Header.Get("TIMEOUT"))

	// Renewal of an unknown SID fails with 412.
	req2, err := http.NewRequest("SUBSCRIBE", eventURL, nil)
	require.NoError(t, err)
	req2.Header.Set("SID", "uuid:does-not-exist")
	badResp, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	badResp.Body.Close()
	assert.Equal(t, http.StatusPreconditionFailed, badResp.StatusCode)

	// Unsubscribe removes immediately.
	req3, err := http.NewRequest("UNSUBSCRIBE", eventURL, nil)
	require.NoError(t, err)
	req3.Header.Set("SID", sid)
	unsubResp, err := http.DefaultClient.Do(req3)
	require.NoError(t, err)
	unsubResp.Body.Close()
	assert.Equal(t, http.StatusOK, unsubResp.StatusCode)
	assert.Empty(t, e.Subscriptions(mgr))
}

func TestEventServerSequenceOrder(t *testing.T) {
	gw := newFakeGateway()
	reg := registry.New()
	services := NewLocalServices()

	dev := mediaRendererDevice(t)
	require.NoError(t, reg.AddLocal(dev))
	svc, _ := dev.Service(types.NewServiceID("AVTransport"))
	mgr := manager.New(svc)
	services.Register(dev.UDN(), mgr)
	mgr.SetPublisher(nil)

	e := NewEventServer(testSettings(), gw, services)
	defer e.Shutdown()

	srv := httptest.NewServer(gw.HTTPMux())
	defer srv.Close()
	sink := newNotifySink(t)

	resp := subscribe(t, srv.URL+"/dev/"+testUDN+"/svc/AVTransport/event",
		sink.srv.URL+"/cb", "Second-100")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return len(sink.records()) == 1 },
		3*time.Second, 10*time.Millisecond)

	publish := e.PublisherFor(mgr)
	for i := 0; i < 5; i++ {
		publish([]gena.Property{{Name: "LastChange", Value: "<Event/>"}})
	}

	require.Eventually(t, func() bool { return len(sink.records()) == 6 },
		3*time.Second, 10*time.Millisecond)

	for i, rec := range sink.records() {
		assert.Equal(t, strconv.Itoa(i), rec.seq, "SEQ strictly ordered per subscription")
	}
}

func TestEventClientNotifyAndSequenceGap(t *testing.T) {
	gw := newFakeGateway()
	e := NewEventClient(testSettings(), gw)

	srv := httptest.NewServer(gw.HTTPMux())
	defer srv.Close()

	sid := "uuid:remote-sub-1"
	var mu sync.Mutex
	type delivery struct {
		seq    uint64
		gapped bool
	}
	var deliveries []delivery

	e.mu.Lock()
	e.subs[sid] = &remoteSubscription{
		sid: sid,
		onEvent: func(props []gena.Property, seq types.UnsignedIntegerFourBytes, gapped bool) {
			mu.Lock()
			deliveries = append(deliveries, delivery{seq: seq.Value(), gapped: gapped})
			mu.Unlock()
		},
	}
	e.mu.Unlock()

	notify := func(seq string) int {
		body, err := gena.EncodePropertySet([]gena.Property{{Name: "TransportState", Value: "PLAYING"}})
		require.NoError(t, err)
		req, err := http.NewRequest("NOTIFY",
			srv.URL+"/dev/"+testUDN+"/svc/AVTransport/event/cb/"+sid,
			strings.NewReader(string(body)))
		require.NoError(t, err)
		req.Header.Set("NT", "upnp:event")
		req.Header.Set("NTS", "upnp:propchange")
		req.Header.Set("SID", sid)
		req.Header.Set("SEQ", seq)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, notify("0"))
	assert.Equal(t, http.StatusOK, notify("1"))
	assert.Equal(t, http.StatusOK, notify("3")) // gap: 2 was lost

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, deliveries, 3)
	assert.False(t, deliveries[0].gapped)
	assert.False(t, deliveries[1].gapped)
	assert.True(t, deliveries[2].gapped, "missed SEQ surfaces as gapped but is still delivered")
}
