// Package soap encodes and decodes the UPnP SOAP control envelopes:
// action requests, action responses and faults carrying UPnPError
// details.
//
// Argument values are typed through the related state variable of each
// argument, so both ends of a call see Go values, not strings.
package soap

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/joerg1985/jupnp/upnp/meta"
	"github.com/joerg1985/jupnp/upnp/types"
)

const (
	envelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	encodingNS = "http://schemas.xmlsoap.org/soap/encoding/"
	controlNS  = "urn:schemas-upnp-org:control-1-0"
)

// Invocation is one action call in flight: the action, its typed input
// and output values keyed by argument name, and the failure if the call
// did not complete.
type Invocation struct {
	Action *meta.Action
	Input  map[string]interface{}
	Output map[string]interface{}
	Err    *types.ActionError
}

// NewInvocation starts an invocation of the given action.
func NewInvocation(action *meta.Action) *Invocation {
	return &Invocation{
		Action: action,
		Input:  make(map[string]interface{}),
		Output: make(map[string]interface{}),
	}
}

// SetInput sets one input argument, cast through its related state
// variable's datatype.
func (inv *Invocation) SetInput(svc *meta.Service, name string, value interface{}) error {
	arg, ok := inv.Action.Argument(name)
	if !ok || arg.Direction() != meta.In {
		return fmt.Errorf("action %s has no input argument %s", inv.Action.Name(), name)
	}
	sv, ok := svc.StateVariable(arg.RelatedStateVariable())
	if !ok {
		return fmt.Errorf("argument %s: undeclared related state variable %s", name, arg.RelatedStateVariable())
	}
	cval, err := sv.Datatype().Cast(value)
	if err != nil {
		return fmt.Errorf("argument %s: %w", name, err)
	}
	inv.Input[name] = cval
	return nil
}

// SOAPAction returns the SOAPACTION header value for the call.
func SOAPAction(serviceType types.ServiceType, action string) string {
	return fmt.Sprintf("%q", serviceType.String()+"#"+action)
}

// ParseSOAPAction splits a SOAPACTION header into service type and action
// name.
func ParseSOAPAction(header string) (types.ServiceType, string, error) {
	header = strings.Trim(strings.TrimSpace(header), `"`)
	idx := strings.LastIndex(header, "#")
	if idx < 0 {
		return types.ServiceType{}, "", fmt.Errorf("invalid SOAPACTION header %q", header)
	}
	st, err := types.ParseServiceType(header[:idx])
	if err != nil {
		return types.ServiceType{}, "", err
	}
	return st, header[idx+1:], nil
}

// envelope captures the whole Body as raw XML: dissect the envelope
// with encoding/xml, then walk the body tokens.
type envelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    body     `xml:"Body"`
}

type body struct {
	Content []byte `xml:",innerxml"`
}

// EncodeRequest builds the request body for an invocation. Input
// arguments are emitted in declaration order.
func EncodeRequest(serviceType types.ServiceType, svc *meta.Service, inv *Invocation) ([]byte, error) {
	var inner bytes.Buffer
	fmt.Fprintf(&inner, `<u:%s xmlns:u="%s">`, inv.Action.Name(), serviceType)

	for _, arg := range inv.Action.InputArguments() {
		val, ok := inv.Input[arg.Name()]
		if !ok {
			return nil, fmt.Errorf("missing input argument %s", arg.Name())
		}
		s, err := formatArgument(svc, arg, val)
		if err != nil {
			return nil, err
		}
		writeArg(&inner, arg.Name(), s)
	}

	fmt.Fprintf(&inner, `</u:%s>`, inv.Action.Name())
	return wrapEnvelope(inner.Bytes())
}

// EncodeResponse builds the success response body for an invocation.
// Output arguments are emitted in declaration order.
func EncodeResponse(serviceType types.ServiceType, svc *meta.Service, inv *Invocation) ([]byte, error) {
	var inner bytes.Buffer
	fmt.Fprintf(&inner, `<u:%sResponse xmlns:u="%s">`, inv.Action.Name(), serviceType)

	for _, arg := range inv.Action.OutputArguments() {
		val, ok := inv.Output[arg.Name()]
		if !ok {
			return nil, fmt.Errorf("missing output argument %s", arg.Name())
		}
		s, err := formatArgument(svc, arg, val)
		if err != nil {
			return nil, err
		}
		writeArg(&inner, arg.Name(), s)
	}

	fmt.Fprintf(&inner, `</u:%sResponse>`, inv.Action.Name())
	return wrapEnvelope(inner.Bytes())
}

// EncodeFault builds the fault body for a failed invocation.
func EncodeFault(aerr *types.ActionError) []byte {
	var inner bytes.Buffer
	inner.WriteString(`<s:Fault>`)
	inner.WriteString(`<faultcode>s:Client</faultcode>`)
	inner.WriteString(`<faultstring>UPnPError</faultstring>`)
	inner.WriteString(`<detail>`)
	fmt.Fprintf(&inner, `<UPnPError xmlns="%s">`, controlNS)
	fmt.Fprintf(&inner, `<errorCode>%d</errorCode>`, aerr.Code)
	fmt.Fprintf(&inner, `<errorDescription>%s</errorDescription>`, xmlEscape(aerr.Description))
	inner.WriteString(`</UPnPError>`)
	inner.WriteString(`</detail>`)
	inner.WriteString(`</s:Fault>`)

	data, _ := wrapEnvelope(inner.Bytes())
	return data
}

func formatArgument(svc *meta.Service, arg *meta.Argument, val interface{}) (string, error) {
	sv, ok := svc.StateVariable(arg.RelatedStateVariable())
	if !ok {
		return "", fmt.Errorf("argument %s: undeclared related state variable %s",
			arg.Name(), arg.RelatedStateVariable())
	}
	s, err := sv.Datatype().Format(val)
	if err != nil {
		return "", fmt.Errorf("argument %s: %w", arg.Name(), err)
	}
	return s, nil
}

func writeArg(buf *bytes.Buffer, name, value string) {
	fmt.Fprintf(buf, "<%s>%s</%s>", name, xmlEscape(value), name)
}

func wrapEnvelope(inner []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	fmt.Fprintf(&buf, `<s:Envelope xmlns:s="%s" s:encodingStyle="%s"><s:Body>`, envelopeNS, encodingNS)
	buf.Write(inner)
	buf.WriteString(`</s:Body></s:Envelope>`)
	return buf.Bytes(), nil
}

// xmlEscape escapes text content for embedding in a hand-built document.
func xmlEscape(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// DecodeRequest parses an action request against the service's action
// table. A structurally broken envelope or unknown action yields 401, a
// missing or unparseable input argument 402.
func DecodeRequest(svc *meta.Service, actionName string, data []byte) (*Invocation, *types.ActionError) {
	name, args, err := decodeBodyElement(data)
	if err != nil {
		return nil, types.NewActionError(types.ErrInvalidAction, err.Error())
	}
	if actionName != "" && name != actionName {
		return nil, types.NewActionError(types.ErrInvalidAction,
			fmt.Sprintf("body element %s does not match SOAPACTION %s", name, actionName))
	}

	action, ok := svc.Action(name)
	if !ok {
		return nil, types.NewActionError(types.ErrInvalidAction,
			fmt.Sprintf("service has no action %s", name))
	}

	inv := NewInvocation(action)
	for _, arg := range action.InputArguments() {
		raw, ok := args[arg.Name()]
		if !ok {
			return nil, types.NewActionError(types.ErrInvalidArgs,
				fmt.Sprintf("missing argument %s", arg.Name()))
		}
		sv, ok := svc.StateVariable(arg.RelatedStateVariable())
		if !ok {
			return nil, types.NewActionError(types.ErrInvalidArgs,
				fmt.Sprintf("argument %s has no related state variable", arg.Name()))
		}
		val, err := sv.Datatype().Parse(raw)
		if err != nil {
			return nil, types.NewActionError(types.ErrInvalidArgs, "")
		}
		inv.Input[arg.Name()] = val
	}

	return inv, nil
}

// DecodeResponse parses a response or fault body into the invocation:
// outputs are filled on success, inv.Err on a decoded fault.
func DecodeResponse(svc *meta.Service, inv *Invocation, data []byte) error {
	if aerr := decodeFault(data); aerr != nil {
		inv.Err = aerr
		return nil
	}

	name, args, err := decodeBodyElement(data)
	if err != nil {
		return err
	}
	if name != inv.Action.Name()+"Response" {
		return fmt.Errorf("unexpected response element %s for action %s", name, inv.Action.Name())
	}

	for _, arg := range inv.Action.OutputArguments() {
		raw, ok := args[arg.Name()]
		if !ok {
			return fmt.Errorf("response misses output argument %s", arg.Name())
		}
		sv, ok := svc.StateVariable(arg.RelatedStateVariable())
		if !ok {
			return fmt.Errorf("argument %s has no related state variable", arg.Name())
		}
		val, err := sv.Datatype().Parse(raw)
		if err != nil {
			return fmt.Errorf("output argument %s: %w", arg.Name(), err)
		}
		inv.Output[arg.Name()] = val
	}

	return nil
}

// decodeBodyElement unwraps the envelope and returns the single body
// child's local name plus its argument elements as raw strings.
func decodeBodyElement(data []byte) (string, map[string]string, error) {
	content, err := unwrapBody(data)
	if err != nil {
		return "", nil, err
	}

	decoder := xml.NewDecoder(bytes.NewReader(content))
	var name string
	args := make(map[string]string)

	for {
		tok, err := decoder.Token()
		if err != nil {
			if err != io.EOF {
				return "", nil, fmt.Errorf("parsing body: %w", err)
			}
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if name == "" {
				name = t.Name.Local
				continue
			}
			var value string
			if err := decoder.DecodeElement(&value, &t); err != nil {
				return "", nil, fmt.Errorf("parsing argument %s: %w", t.Name.Local, err)
			}
			args[t.Name.Local] = value
		case xml.EndElement:
			if t.Name.Local == name {
				// Anything but whitespace after the action element means
				// the body has more than one child.
				if err := expectOnlyWhitespace(decoder); err != nil {
					return "", nil, err
				}
			}
		}
	}

	if name == "" {
		return "", nil, fmt.Errorf("empty SOAP body")
	}
	return name, args, nil
}

func expectOnlyWhitespace(decoder *xml.Decoder) error {
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return fmt.Errorf("unexpected content after action element")
			}
		case xml.StartElement:
			return fmt.Errorf("SOAP body has more than one child element")
		}
	}
}

func unwrapBody(data []byte) ([]byte, error) {
	var env envelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unparseable SOAP envelope: %w", err)
	}
	if env.XMLName.Space != envelopeNS {
		return nil, fmt.Errorf("unknown envelope namespace %q", env.XMLName.Space)
	}
	if len(bytes.TrimSpace(env.Body.Content)) == 0 {
		return nil, fmt.Errorf("empty SOAP body")
	}
	return env.Body.Content, nil
}

// decodeFault returns the UPnPError carried by a fault body, or nil if
// the body is not a fault.
func decodeFault(data []byte) *types.ActionError {
	content, err := unwrapBody(data)
	if err != nil {
		return nil
	}

	var fault struct {
		XMLName xml.Name `xml:"Fault"`
		Detail  struct {
			UPnPError struct {
				ErrorCode        string `xml:"errorCode"`
				ErrorDescription string `xml:"errorDescription"`
			} `xml:"UPnPError"`
		} `xml:"detail"`
	}
	if err := xml.Unmarshal(content, &fault); err != nil || fault.XMLName.Local != "Fault" {
		return nil
	}

	code, err := strconv.Atoi(strings.TrimSpace(fault.Detail.UPnPError.ErrorCode))
	if err != nil {
		code = int(types.ErrActionFailed)
	}
	return types.NewActionError(types.ErrorCode(code), fault.Detail.UPnPError.ErrorDescription)
}
