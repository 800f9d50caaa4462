package protocol

import (
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/joerg1985/jupnp/upnp/desc"
	"github.com/joerg1985/jupnp/upnp/registry"
	"github.com/joerg1985/jupnp/upnp/types"
)

const xmlContentType = `text/xml; charset="utf-8"`

// Description serves the device descriptors and SCPDs of every local
// device over the standard retrieval paths.
type Description struct {
	registry *registry.Registry
}

// NewDescription wires the retrieval routes.
func NewDescription(rt Gateway, reg *registry.Registry) *Description {
	d := &Description{registry: reg}

	rt.HTTPMux().
		HandleFunc("/dev/{udn}/desc.xml", d.serveDeviceDescriptor).
		Methods(http.MethodGet)
	rt.HTTPMux().
		HandleFunc("/dev/{udn}/svc/{svcid}/desc.xml", d.serveSCPD).
		Methods(http.MethodGet)

	return d
}

func (d *Description) serveDeviceDescriptor(w http.ResponseWriter, r *http.Request) {
	udn, err := types.ParseUDN(mux.Vars(r)["udn"])
	if err != nil {
		http.NotFound(w, r)
		return
	}

	device, ok := d.registry.LocalRoot(udn)
	if !ok {
		http.NotFound(w, r)
		return
	}

	xml, err := desc.WriteDeviceDescriptor(device)
	if err != nil {
		log.Errorf("❌ Cannot write descriptor of %s: %v", udn, err)
		http.Error(w, "descriptor generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", xmlContentType)
	w.Write([]byte(xml))
}

func (d *Description) serveSCPD(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	udn, err := types.ParseUDN(vars["udn"])
	if err != nil {
		http.NotFound(w, r)
		return
	}

	device, ok := d.registry.Local(udn)
	if !ok {
		http.NotFound(w, r)
		return
	}
	svc, ok := device.Service(types.NewServiceID(vars["svcid"]))
	if !ok {
		http.NotFound(w, r)
		return
	}

	xml, err := desc.WriteSCPD(svc)
	if err != nil {
		log.Errorf("❌ Cannot write SCPD of %s on %s: %v", svc.ServiceID(), udn, err)
		http.Error(w, "SCPD generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", xmlContentType)
	w.Write([]byte(xml))
}
