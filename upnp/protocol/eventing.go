package protocol

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/joerg1985/jupnp/upnp/config"
	"github.com/joerg1985/jupnp/upnp/gena"
	"github.com/joerg1985/jupnp/upnp/transport"
	"github.com/joerg1985/jupnp/upnp/types"
)

// notifyTimeouts keep event delivery short: a subscriber that cannot
// accept a NOTIFY promptly is treated as gone.
var notifyTimeouts = transport.StreamTimeouts{
	Connect: 2 * time.Second,
	Read:    2 * time.Second,
	Total:   4 * time.Second,
}

// EventServer is the device-side GENA engine: it accepts subscriptions
// on local event URLs, sends the initial SEQ-0 event, delivers moderated
// changes in SEQ order per subscription and expires stale leases.
type EventServer struct {
	settings config.Settings
	services *LocalServices
	client   *transport.StreamClient

	mu   sync.Mutex
	subs map[string]*localSubscription

	stop chan struct{}
	wg   sync.WaitGroup
}

// localSubscription adds the delivery queue to the lease state. One
// goroutine drains the queue, which keeps SEQ order per subscription
// without ever blocking the publisher.
type localSubscription struct {
	sub *gena.Subscription
	mgr ManagedService

	queue  chan notifyJob
	cancel chan struct{}

	// order serializes enqueue, so jobs reach the queue in key order.
	order sync.Mutex
}

type notifyJob struct {
	seq   types.UnsignedIntegerFourBytes
	props []gena.Property
}

// NewEventServer wires the engine and registers the event routes.
func NewEventServer(settings config.Settings, rt Gateway, services *LocalServices) *EventServer {
	e := &EventServer{
		settings: settings,
		services: services,
		client:   transport.NewStreamClient(notifyTimeouts),
		subs:     make(map[string]*localSubscription),
		stop:     make(chan struct{}),
	}

	rt.HTTPMux().
		HandleFunc("/dev/{udn}/svc/{svcid}/event", e.serveSubscribe).
		Methods("SUBSCRIBE")
	rt.HTTPMux().
		HandleFunc("/dev/{udn}/svc/{svcid}/event", e.serveUnsubscribe).
		Methods("UNSUBSCRIBE")

	return e
}

// Start launches the lease sweeper.
func (e *EventServer) Start() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-e.stop:
				return
			case <-ticker.C:
				e.removeExpired(time.Now())
			}
		}
	}()
}

// Shutdown drops every subscription and stops the sweeper.
func (e *EventServer) Shutdown() {
	close(e.stop)

	e.mu.Lock()
	for sid, ls := range e.subs {
		close(ls.cancel)
		delete(e.subs, sid)
	}
	e.mu.Unlock()

	e.wg.Wait()
}

// clampLease bounds a requested timeout to the configured window.
func (e *EventServer) clampLease(requested int) int {
	if requested < e.settings.MinLeaseSec {
		return e.settings.MinLeaseSec
	}
	if requested > e.settings.MaxLeaseSec {
		return e.settings.MaxLeaseSec
	}
	return requested
}

// serveSubscribe handles both fresh subscriptions (NT + CALLBACK) and
// renewals (SID).
func (e *EventServer) serveSubscribe(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	udn, err := types.ParseUDN(vars["udn"])
	if err != nil {
		http.NotFound(w, r)
		return
	}
	mgr, ok := e.services.Lookup(udn, types.NewServiceID(vars["svcid"]))
	if !ok {
		http.NotFound(w, r)
		return
	}

	sid := r.Header.Get("SID")
	nt := r.Header.Get("NT")
	callback := r.Header.Get("CALLBACK")

	if sid != "" {
		if nt != "" || callback != "" {
			http.Error(w, "SID and NT/CALLBACK are mutually exclusive", http.StatusBadRequest)
			return
		}
		e.renew(w, r, sid)
		return
	}

	if nt != "upnp:event" {
		http.Error(w, "NT must be upnp:event", http.StatusPreconditionFailed)
		return
	}
	callbacks, err := gena.ParseCallbacks(callback)
	if err != nil {
		http.Error(w, err.Error(), http.StatusPreconditionFailed)
		return
	}

	requested := e.settings.MaxLeaseSec
	if header := r.Header.Get("TIMEOUT"); header != "" {
		if n, err := gena.ParseTimeout(header, e.settings.MaxLeaseSec); err == nil {
			requested = n
		}
	}
	granted := e.clampLease(requested)

	sub := gena.NewSubscription(gena.NewSID(), callbacks, granted, time.Now())
	ls := &localSubscription{
		sub:    sub,
		mgr:    mgr,
		queue:  make(chan notifyJob, 64),
		cancel: make(chan struct{}),
	}

	e.mu.Lock()
	e.subs[sub.SID] = ls
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.deliverLoop(ls)
	}()

	w.Header().Set("SID", sub.SID)
	w.Header().Set("TIMEOUT", gena.FormatTimeout(granted))
	w.Header().Set("SERVER", e.settings.ServerHeader("Linux", "1.0"))
	w.WriteHeader(http.StatusOK)

	log.Infof("✅ Subscription %s on %s, lease %ds", sub.SID, mgr.Service().Name(), granted)

	// The initial event carries the current value of every evented
	// variable, SEQ 0. It is queued after the response is on the wire.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		props, err := ls.mgr.InitialEventProperties()
		if err != nil {
			log.Warnf("❌ Cannot build initial event for %s: %v", sub.SID, err)
			return
		}
		e.enqueue(ls, props)
	}()
}

func (e *EventServer) renew(w http.ResponseWriter, r *http.Request, sid string) {
	requested := e.settings.MaxLeaseSec
	if header := r.Header.Get("TIMEOUT"); header != "" {
		if n, err := gena.ParseTimeout(header, e.settings.MaxLeaseSec); err == nil {
			requested = n
		}
	}
	granted := e.clampLease(requested)

	e.mu.Lock()
	ls, ok := e.subs[sid]
	if ok {
		ls.sub.Renew(granted, time.Now())
	}
	e.mu.Unlock()

	if !ok {
		http.Error(w, "unknown SID", http.StatusPreconditionFailed)
		return
	}

	w.Header().Set("SID", sid)
	w.Header().Set("TIMEOUT", gena.FormatTimeout(granted))
	w.WriteHeader(http.StatusOK)
	log.Debugf("🐞 Subscription %s renewed for %ds", sid, granted)
}

func (e *EventServer) serveUnsubscribe(w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get("SID")
	if sid == "" {
		http.Error(w, "missing SID", http.StatusPreconditionFailed)
		return
	}

	if !e.remove(sid) {
		http.Error(w, "unknown SID", http.StatusPreconditionFailed)
		return
	}
	w.WriteHeader(http.StatusOK)
	log.Infof("👋 Subscription %s cancelled", sid)
}

func (e *EventServer) remove(sid string) bool {
	e.mu.Lock()
	ls, ok := e.subs[sid]
	if ok {
		delete(e.subs, sid)
		close(ls.cancel)
	}
	e.mu.Unlock()
	return ok
}

// removeExpired drops subscriptions whose lease lapsed without renewal.
func (e *EventServer) removeExpired(now time.Time) {
	e.mu.Lock()
	var expired []string
	for sid, ls := range e.subs {
		if ls.sub.IsExpired(now) {
			expired = append(expired, sid)
		}
	}
	e.mu.Unlock()

	for _, sid := range expired {
		if e.remove(sid) {
			log.Infof("👋 Subscription %s expired", sid)
		}
	}
}

// Subscriptions snapshots the live SIDs of a service, for diagnostics
// and tests.
func (e *EventServer) Subscriptions(mgr ManagedService) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var sids []string
	for sid, ls := range e.subs {
		if ls.mgr == mgr {
			sids = append(sids, sid)
		}
	}
	return sids
}

// PublisherFor returns the moderated-change sink for one managed
// service, to be attached to its service manager.
func (e *EventServer) PublisherFor(mgr ManagedService) func(props []gena.Property) {
	return func(props []gena.Property) {
		e.mu.Lock()
		var targets []*localSubscription
		for _, ls := range e.subs {
			if ls.mgr == mgr {
				targets = append(targets, ls)
			}
		}
		e.mu.Unlock()

		for _, ls := range targets {
			e.enqueue(ls, props)
		}
	}
}

// enqueue assigns the next SEQ and queues the job while holding the
// subscription's order lock, so jobs reach the per-subscription delivery
// goroutine in key order even with concurrent publishers.
func (e *EventServer) enqueue(ls *localSubscription, props []gena.Property) {
	ls.order.Lock()
	defer ls.order.Unlock()

	e.mu.Lock()
	seq := ls.sub.NextEventKey()
	e.mu.Unlock()

	select {
	case ls.queue <- notifyJob{seq: seq, props: props}:
	case <-ls.cancel:
	}
}

func (e *EventServer) deliverLoop(ls *localSubscription) {
	for {
		select {
		case <-ls.cancel:
			return
		case job := <-ls.queue:
			if !e.deliver(ls, job) {
				// A subscriber that refuses delivery is stale.
				e.remove(ls.sub.SID)
				return
			}
		}
	}
}

// deliver sends one NOTIFY to the first reachable callback URL.
func (e *EventServer) deliver(ls *localSubscription, job notifyJob) bool {
	body, err := gena.EncodePropertySet(job.props)
	if err != nil {
		log.Warnf("❌ Cannot encode property set for %s: %v", ls.sub.SID, err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeouts.Total)
	defer cancel()

	for _, callback := range ls.sub.Callbacks {
		resp, err := e.client.Do(ctx, &transport.StreamRequest{
			Method: "NOTIFY",
			URL:    callback.String(),
			Headers: map[string]string{
				"Content-Type": soapContentType,
				"NT":           "upnp:event",
				"NTS":          "upnp:propchange",
				"SID":          ls.sub.SID,
				"SEQ":          job.seq.String(),
			},
			Body: body,
		})
		if err != nil {
			log.Debugf("🐞 NOTIFY %s to %s failed: %v", ls.sub.SID, callback, err)
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return true
		}
		log.Debugf("🐞 NOTIFY %s to %s: HTTP %d", ls.sub.SID, callback, resp.StatusCode)
	}

	log.Infof("❌ Subscriber %s unreachable, dropping subscription", ls.sub.SID)
	return false
}

// String implements fmt.Stringer for diagnostics.
func (e *EventServer) String() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fmt.Sprintf("EventServer(%d subscriptions)", len(e.subs))
}
