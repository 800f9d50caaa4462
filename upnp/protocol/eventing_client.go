package protocol

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/joerg1985/jupnp/upnp/config"
	"github.com/joerg1985/jupnp/upnp/gena"
	"github.com/joerg1985/jupnp/upnp/meta"
	"github.com/joerg1985/jupnp/upnp/transport"
	"github.com/joerg1985/jupnp/upnp/types"
)

// EventCallback receives decoded property changes of an outgoing
// subscription. Gapped is set when SEQ continuity was broken; the event
// is delivered anyway since GENA has no resync.
type EventCallback func(props []gena.Property, seq types.UnsignedIntegerFourBytes, gapped bool)

// EndedCallback is invoked when a subscription ends for good: failed
// renewal or an explicit End.
type EndedCallback func(sid string, err error)

// EventClient is the control-point GENA engine: it subscribes to remote
// services, serves their NOTIFYs on a local callback URL, validates
// sequence continuity and renews leases before they lapse.
type EventClient struct {
	settings config.Settings
	router   Gateway

	mu   sync.Mutex
	subs map[string]*remoteSubscription

	wg sync.WaitGroup
}

type remoteSubscription struct {
	sid      string
	eventURL string
	onEvent  EventCallback
	onEnded  EndedCallback

	expectedSeq types.UnsignedIntegerFourBytes
	sawInitial  bool

	renewTimer *time.Timer
}

// NewEventClient wires the engine and registers the callback route.
func NewEventClient(settings config.Settings, rt Gateway) *EventClient {
	e := &EventClient{
		settings: settings,
		router:   rt,
		subs:     make(map[string]*remoteSubscription),
	}

	rt.HTTPMux().
		HandleFunc("/dev/{udn}/svc/{svcid}/event/cb/{sid}", e.serveNotify).
		Methods("NOTIFY")

	return e
}

// Subscribe opens a subscription on a remote service and keeps it
// renewed until End is called or renewal fails.
func (e *EventClient) Subscribe(ctx context.Context, rd *meta.RemoteDevice, svc *meta.Service,
	onEvent EventCallback, onEnded EndedCallback) (string, error) {

	endpoints := svc.Endpoints(rd.Identity.UDN)
	eventURL, err := resolveEndpoint(rd.Identity.DescriptorURL, endpoints.EventSub)
	if err != nil {
		return "", err
	}

	callbackBase := e.router.BaseURL(rd.Identity.LocalAddr)
	placeholderSID := gena.NewSID()
	callback := callbackBase + meta.CallbackPath(rd.Identity.UDN, svc.ServiceID(), placeholderSID)

	resp, err := e.router.SendStream(ctx, &transport.StreamRequest{
		Method: "SUBSCRIBE",
		URL:    eventURL,
		Headers: map[string]string{
			"CALLBACK": fmt.Sprintf("<%s>", callback),
			"NT":       "upnp:event",
			"TIMEOUT":  gena.FormatTimeout(e.settings.MaxLeaseSec),
		},
	})
	if err != nil {
		return "", fmt.Errorf("SUBSCRIBE %s: %w", eventURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("SUBSCRIBE %s: HTTP %d", eventURL, resp.StatusCode)
	}

	sid := resp.Header("SID")
	if sid == "" {
		return "", fmt.Errorf("SUBSCRIBE %s: response without SID", eventURL)
	}
	granted, err := gena.ParseTimeout(resp.Header("TIMEOUT"), e.settings.MaxLeaseSec)
	if err != nil {
		granted = e.settings.MinLeaseSec
	}

	sub := &remoteSubscription{
		sid:      sid,
		eventURL: eventURL,
		onEvent:  onEvent,
		onEnded:  onEnded,
	}

	e.mu.Lock()
	// NOTIFYs address the placeholder path but carry the server's SID
	// header; the table is keyed by both so either resolves.
	e.subs[sid] = sub
	e.subs[placeholderSID] = sub
	e.mu.Unlock()

	e.scheduleRenewal(sub, granted)
	log.Infof("✅ Subscribed %s at %s, lease %ds", sid, eventURL, granted)
	return sid, nil
}

// scheduleRenewal arms the renewal timer at lease minus the configured
// slack.
func (e *EventClient) scheduleRenewal(sub *remoteSubscription, leaseSeconds int) {
	due := time.Duration(leaseSeconds-e.settings.RenewalSlackSec) * time.Second
	if due <= 0 {
		due = time.Duration(leaseSeconds) * time.Second / 2
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	sub.renewTimer = time.AfterFunc(due, func() { e.renew(sub) })
}

func (e *EventClient) renew(sub *remoteSubscription) {
	ctx, cancel := context.WithTimeout(context.Background(), transport.DefaultStreamTimeouts.Total)
	defer cancel()

	resp, err := e.router.SendStream(ctx, &transport.StreamRequest{
		Method: "SUBSCRIBE",
		URL:    sub.eventURL,
		Headers: map[string]string{
			"SID":     sub.sid,
			"TIMEOUT": gena.FormatTimeout(e.settings.MaxLeaseSec),
		},
	})
	if err == nil && resp.StatusCode == http.StatusOK {
		granted, terr := gena.ParseTimeout(resp.Header("TIMEOUT"), e.settings.MaxLeaseSec)
		if terr != nil {
			granted = e.settings.MinLeaseSec
		}
		e.scheduleRenewal(sub, granted)
		log.Debugf("🐞 Renewed %s for %ds", sub.sid, granted)
		return
	}

	if err == nil {
		err = fmt.Errorf("renewal of %s: HTTP %d", sub.sid, resp.StatusCode)
	}
	log.Warnf("❌ Subscription %s lost: %v", sub.sid, err)
	e.drop(sub, err)
}

// End cancels a subscription with an UNSUBSCRIBE.
func (e *EventClient) End(ctx context.Context, sid string) error {
	e.mu.Lock()
	sub, ok := e.subs[sid]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown subscription %s", sid)
	}

	_, err := e.router.SendStream(ctx, &transport.StreamRequest{
		Method:  "UNSUBSCRIBE",
		URL:     sub.eventURL,
		Headers: map[string]string{"SID": sub.sid},
	})

	e.drop(sub, nil)
	return err
}

// Shutdown forgets every subscription without notifying the remotes;
// their leases will lapse.
func (e *EventClient) Shutdown() {
	e.mu.Lock()
	subs := make(map[*remoteSubscription]bool)
	for _, sub := range e.subs {
		subs[sub] = true
	}
	e.subs = make(map[string]*remoteSubscription)
	e.mu.Unlock()

	for sub := range subs {
		if sub.renewTimer != nil {
			sub.renewTimer.Stop()
		}
	}
	e.wg.Wait()
}

func (e *EventClient) drop(sub *remoteSubscription, err error) {
	e.mu.Lock()
	for key, s := range e.subs {
		if s == sub {
			delete(e.subs, key)
		}
	}
	if sub.renewTimer != nil {
		sub.renewTimer.Stop()
	}
	e.mu.Unlock()

	if sub.onEnded != nil {
		sub.onEnded(sub.sid, err)
	}
}

// serveNotify handles one inbound NOTIFY: decode, check continuity,
// deliver.
func (e *EventClient) serveNotify(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("NT") != "upnp:event" || r.Header.Get("NTS") != "upnp:propchange" {
		http.Error(w, "not a property change", http.StatusBadRequest)
		return
	}

	sid := r.Header.Get("SID")
	pathSID := mux.Vars(r)["sid"]

	e.mu.Lock()
	sub, ok := e.subs[sid]
	if !ok {
		sub, ok = e.subs[pathSID]
	}
	e.mu.Unlock()
	if !ok {
		http.Error(w, "unknown SID", http.StatusPreconditionFailed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}
	props, err := gena.DecodePropertySet(body)
	if err != nil {
		log.Warnf("❌ Undecodable NOTIFY for %s: %v", sid, err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	seqValue, err := strconv.ParseInt(r.Header.Get("SEQ"), 10, 64)
	if err != nil {
		http.Error(w, "invalid SEQ", http.StatusBadRequest)
		return
	}
	seq, err := types.NewUnsignedIntegerFourBytes(seqValue)
	if err != nil {
		http.Error(w, "invalid SEQ", http.StatusBadRequest)
		return
	}

	gapped := e.trackSequence(sub, seq)

	w.WriteHeader(http.StatusOK)

	if sub.onEvent != nil {
		sub.onEvent(props, seq, gapped)
	}
}

// trackSequence validates continuity: initial 0, then 1, 2, … with the
// wrap skipping 0. A mismatch marks the event gapped and resyncs the
// expectation to the received key.
func (e *EventClient) trackSequence(sub *remoteSubscription, seq types.UnsignedIntegerFourBytes) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	var expected types.UnsignedIntegerFourBytes
	if sub.sawInitial {
		expected, _ = sub.expectedSeq.Increment(true)
	}

	gapped := seq.Value() != expected.Value()

	sub.sawInitial = true
	sub.expectedSeq = seq
	return gapped
}
