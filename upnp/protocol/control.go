package protocol

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/joerg1985/jupnp/upnp/meta"
	"github.com/joerg1985/jupnp/upnp/soap"
	"github.com/joerg1985/jupnp/upnp/transport"
	"github.com/joerg1985/jupnp/upnp/types"
)

const soapContentType = `text/xml; charset="utf-8"`

// Control is the SOAP engine. The server side answers requests on local
// control URLs; the client side invokes actions on remote services.
// Different services run concurrently; within one service the manager
// lock serializes.
type Control struct {
	router   Gateway
	services *LocalServices
}

// NewControl wires the engine and registers the control route.
func NewControl(rt Gateway, services *LocalServices) *Control {
	c := &Control{router: rt, services: services}
	rt.HTTPMux().
		HandleFunc("/dev/{udn}/svc/{svcid}/control", c.serveControl).
		Methods(http.MethodPost)
	return c
}

// serveControl handles one inbound action request.
func (c *Control) serveControl(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	mgr, ok := c.lookup(vars["udn"], vars["svcid"])
	if !ok {
		http.NotFound(w, r)
		return
	}
	svc := mgr.Service()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read request", http.StatusBadRequest)
		return
	}

	actionName := ""
	if header := r.Header.Get("SOAPACTION"); header != "" {
		if _, name, err := soap.ParseSOAPAction(header); err == nil {
			actionName = name
		}
	}

	inv, aerr := soap.DecodeRequest(svc, actionName, body)
	if aerr != nil {
		c.writeFault(w, aerr)
		return
	}

	log.Debugf("📡 Invoking %s on %s", inv.Action.Name(), svc.Name())
	if log.IsLevelEnabled(log.DebugLevel) {
		log.Debugf("request body:\n%s", soap.PrettyXML(body))
	}
	if aerr := mgr.Execute(inv); aerr != nil {
		c.writeFault(w, aerr)
		return
	}

	respBody, err := soap.EncodeResponse(svc.ServiceType(), svc, inv)
	if err != nil {
		log.Errorf("❌ Cannot encode response of %s: %v", inv.Action.Name(), err)
		c.writeFault(w, types.NewActionError(types.ErrActionFailed, ""))
		return
	}

	w.Header().Set("Content-Type", soapContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(respBody)
}

func (c *Control) lookup(udnVar, svcVar string) (ManagedService, bool) {
	udn, err := types.ParseUDN(udnVar)
	if err != nil {
		return nil, false
	}
	return c.services.Lookup(udn, types.NewServiceID(svcVar))
}

// writeFault emits the 500 + SOAP fault pair for a failed invocation.
func (c *Control) writeFault(w http.ResponseWriter, aerr *types.ActionError) {
	w.Header().Set("Content-Type", soapContentType)
	w.WriteHeader(http.StatusInternalServerError)
	w.Write(soap.EncodeFault(aerr))
}

// Invoke runs an action on a remote service: build the envelope, POST it
// to the control URL, decode the response or fault into the invocation.
// Transport failures come back as the error; decoded faults land in
// inv.Err.
func (c *Control) Invoke(ctx context.Context, rd *meta.RemoteDevice, svc *meta.Service, inv *soap.Invocation) error {
	endpoints := svc.Endpoints(rd.Identity.UDN)
	controlURL, err := resolveEndpoint(rd.Identity.DescriptorURL, endpoints.Control)
	if err != nil {
		return err
	}

	body, err := soap.EncodeRequest(svc.ServiceType(), svc, inv)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", inv.Action.Name(), err)
	}

	resp, err := c.router.SendStream(ctx, &transport.StreamRequest{
		Method: http.MethodPost,
		URL:    controlURL,
		Headers: map[string]string{
			"SOAPACTION":   soap.SOAPAction(svc.ServiceType(), inv.Action.Name()),
			"Content-Type": soapContentType,
		},
		Body: body,
	})
	if err != nil {
		return fmt.Errorf("invoking %s: %w", inv.Action.Name(), err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusInternalServerError {
		return fmt.Errorf("invoking %s: HTTP %d", inv.Action.Name(), resp.StatusCode)
	}

	return soap.DecodeResponse(svc, inv, resp.Body)
}
