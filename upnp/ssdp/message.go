// Package ssdp implements the Simple Service Discovery Protocol wire
// format: CRLF-terminated HTTP-like datagrams exchanged over UDP
// multicast on 239.255.255.250:1900 and over unicast for search
// responses.
package ssdp

import (
	"net"
	"strings"
)

// Multicast group constants.
const (
	DefaultMulticastAddress = "239.255.255.250"
	DefaultMulticastPort    = 1900
)

// Kind is the typed operation of a datagram.
type Kind int

const (
	// KindNotify is a NOTIFY * HTTP/1.1 presence announcement.
	KindNotify Kind = iota
	// KindSearch is an M-SEARCH * HTTP/1.1 active search.
	KindSearch
	// KindResponse is an HTTP/1.1 200 OK search response.
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindNotify:
		return "NOTIFY"
	case KindSearch:
		return "M-SEARCH"
	case KindResponse:
		return "RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// Well-known header names. Headers compare case-insensitively; these are
// the canonical spellings emitted on the wire.
const (
	HeaderHost         = "HOST"
	HeaderCacheControl = "CACHE-CONTROL"
	HeaderLocation     = "LOCATION"
	HeaderNT           = "NT"
	HeaderNTS          = "NTS"
	HeaderST           = "ST"
	HeaderUSN          = "USN"
	HeaderServer       = "SERVER"
	HeaderMAN          = "MAN"
	HeaderMX           = "MX"
	HeaderEXT          = "EXT"
	HeaderDate         = "DATE"
	HeaderBootID       = "BOOTID.UPNP.ORG"
	HeaderConfigID     = "CONFIGID.UPNP.ORG"
)

// Notification subtypes carried by NTS.
const (
	NTSAlive  = "ssdp:alive"
	NTSByeBye = "ssdp:byebye"
	NTSUpdate = "ssdp:update"
)

// Search targets with fixed spellings.
const (
	STAll        = "ssdp:all"
	STRootDevice = "upnp:rootdevice"
	ManDiscover  = `"ssdp:discover"`
)

// Headers is a case-insensitive multi-map. Keys are stored upper-cased,
// the spelling SSDP peers conventionally emit.
type Headers map[string][]string

func canonical(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Set replaces all values of the header.
func (h Headers) Set(name, value string) {
	h[canonical(name)] = []string{value}
}

// Add appends a value to the header.
func (h Headers) Add(name, value string) {
	key := canonical(name)
	h[key] = append(h[key], value)
}

// Get returns the first value of the header, "" when absent.
func (h Headers) Get(name string) string {
	if vs := h[canonical(name)]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Has reports whether the header is present at all.
func (h Headers) Has(name string) bool {
	_, ok := h[canonical(name)]
	return ok
}

// Datagram is one SSDP message with its typed operation, headers and
// addressing. Src is set on received datagrams, Dst on outgoing ones;
// LocalAddr names the interface address the datagram was seen or should
// leave on.
type Datagram struct {
	Kind      Kind
	Headers   Headers
	Src       *net.UDPAddr
	Dst       *net.UDPAddr
	LocalAddr net.IP
}

// NewDatagram builds an empty datagram of the given kind.
func NewDatagram(kind Kind) *Datagram {
	return &Datagram{Kind: kind, Headers: make(Headers)}
}

// IsAlive reports a NOTIFY ssdp:alive announcement.
func (d *Datagram) IsAlive() bool {
	return d.Kind == KindNotify && d.Headers.Get(HeaderNTS) == NTSAlive
}

// IsByeBye reports a NOTIFY ssdp:byebye announcement.
func (d *Datagram) IsByeBye() bool {
	return d.Kind == KindNotify && d.Headers.Get(HeaderNTS) == NTSByeBye
}

// UDN extracts the `uuid:…` prefix of the USN header, "" when absent.
func (d *Datagram) UDN() string {
	usn := d.Headers.Get(HeaderUSN)
	if usn == "" {
		return ""
	}
	if idx := strings.Index(usn, "::"); idx >= 0 {
		return usn[:idx]
	}
	return usn
}
