package desc

import (
	"github.com/beevik/etree"

	"github.com/joerg1985/jupnp/upnp/meta"
	"github.com/joerg1985/jupnp/upnp/types"
)

const serviceNamespace = "urn:schemas-upnp-org:service-1-0"

// WriteSCPD serializes a service's action and state tables into the
// service control protocol description document.
func WriteSCPD(s *meta.Service) (string, error) {
	root := etree.NewElement("scpd")
	root.CreateAttr("xmlns", serviceNamespace)

	spec := root.CreateElement("specVersion")
	spec.CreateElement("major").SetText("1")
	spec.CreateElement("minor").SetText("0")

	if s.Actions().Len() > 0 {
		list := root.CreateElement("actionList")
		for action := range s.Actions().All() {
			list.AddChild(actionElement(action))
		}
	}

	table := root.CreateElement("serviceStateTable")
	for sv := range s.StateVariables().All() {
		table.AddChild(stateVariableElement(sv))
	}

	return serialize(root)
}

func actionElement(a *meta.Action) *etree.Element {
	elem := etree.NewElement("action")
	elem.CreateElement("name").SetText(a.Name())

	if args := a.Arguments(); len(args) > 0 {
		list := elem.CreateElement("argumentList")
		for _, arg := range args {
			ae := list.CreateElement("argument")
			ae.CreateElement("name").SetText(arg.Name())
			ae.CreateElement("direction").SetText(arg.Direction().String())
			if arg.IsReturnValue() {
				ae.CreateElement("retval")
			}
			ae.CreateElement("relatedStateVariable").SetText(arg.RelatedStateVariable())
		}
	}

	return elem
}

func stateVariableElement(sv *meta.StateVariable) *etree.Element {
	elem := etree.NewElement("stateVariable")
	if sv.IsEvented() {
		elem.CreateAttr("sendEvents", "yes")
	} else {
		elem.CreateAttr("sendEvents", "no")
	}

	elem.CreateElement("dataType").SetText(sv.Datatype().String())

	if sv.HasDefault() {
		elem.CreateElement("defaultValue").SetText(sv.Datatype().MustFormat(sv.DefaultValue()))
	}

	if allowed := sv.AllowedValues(); len(allowed) > 0 {
		list := elem.CreateElement("allowedValueList")
		for _, v := range allowed {
			list.CreateElement("allowedValue").SetText(v)
		}
	}

	if r := sv.Range(); r != nil {
		re := elem.CreateElement("allowedValueRange")
		re.CreateElement("minimum").SetText(sv.Datatype().MustFormat(r.Minimum()))
		re.CreateElement("maximum").SetText(sv.Datatype().MustFormat(r.Maximum()))
		if r.Step() != nil {
			re.CreateElement("step").SetText(sv.Datatype().MustFormat(r.Step()))
		}
	}

	// name goes first in the document
	name := etree.NewElement("name")
	name.SetText(sv.Name())
	elem.InsertChildAt(0, name)

	return elem
}

// ReadSCPD parses a service descriptor and fills the action and state
// tables of a service with the given identity.
func ReadSCPD(serviceType types.ServiceType, serviceID types.ServiceID, data []byte) (*meta.Service, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, descErr("unparseable SCPD: %v", err)
	}

	root := doc.Root()
	if root == nil || root.Tag != "scpd" {
		return nil, descErr("missing <scpd> element")
	}

	svc := meta.NewService(serviceType, serviceID)

	if table := root.SelectElement("serviceStateTable"); table != nil {
		for _, sve := range table.SelectElements("stateVariable") {
			sv, err := readStateVariable(sve)
			if err != nil {
				return nil, err
			}
			if err := svc.AddStateVariable(sv); err != nil {
				return nil, descErr("%v", err)
			}
		}
	}

	if list := root.SelectElement("actionList"); list != nil {
		for _, ae := range list.SelectElements("action") {
			action, err := readAction(ae)
			if err != nil {
				return nil, err
			}
			if err := svc.AddAction(action); err != nil {
				return nil, descErr("%v", err)
			}
		}
	}

	return svc, nil
}

func readAction(elem *etree.Element) (*meta.Action, error) {
	name := childText(elem, "name")
	if name == "" {
		return nil, descErr("action has no <name>")
	}

	var args []*meta.Argument
	if list := elem.SelectElement("argumentList"); list != nil {
		for _, ae := range list.SelectElements("argument") {
			argName := childText(ae, "name")
			if argName == "" {
				return nil, descErr("action %s: argument has no <name>", name)
			}

			var direction meta.Direction
			switch childText(ae, "direction") {
			case "in":
				direction = meta.In
			case "out":
				direction = meta.Out
			default:
				return nil, descErr("action %s: argument %s has invalid direction %q",
					name, argName, childText(ae, "direction"))
			}

			related := childText(ae, "relatedStateVariable")
			arg := meta.NewArgument(argName, direction, related)
			if ae.SelectElement("retval") != nil {
				arg = meta.NewRetvalArgument(argName, related)
			}
			args = append(args, arg)
		}
	}

	return meta.NewAction(name, args...), nil
}

func readStateVariable(elem *etree.Element) (*meta.StateVariable, error) {
	name := childText(elem, "name")
	if name == "" {
		return nil, descErr("state variable has no <name>")
	}

	datatype := types.ParseDatatype(childText(elem, "dataType"))
	sendEvents := elem.SelectAttrValue("sendEvents", "yes") != "no"

	binder := meta.NewRemoteStateVariable(name, datatype, sendEvents)

	if def := elem.SelectElement("defaultValue"); def != nil {
		binder.SetRemoteDefault(def.Text())
	}

	if list := elem.SelectElement("allowedValueList"); list != nil {
		var allowed []string
		for _, ve := range list.SelectElements("allowedValue") {
			allowed = append(allowed, ve.Text())
		}
		binder.SetRemoteAllowedValues(allowed)
	}

	if re := elem.SelectElement("allowedValueRange"); re != nil && datatype.IsNumeric() {
		r, err := datatype.NewValueRange(
			childText(re, "minimum"),
			childText(re, "maximum"),
			stepOrNil(re))
		if err == nil {
			// Remote devices ship all kinds of broken ranges; a bad one
			// just leaves the variable unconstrained.
			binder.SetRemoteRange(r)
		}
	}

	return binder, nil
}

func stepOrNil(re *etree.Element) interface{} {
	if s := childText(re, "step"); s != "" {
		return s
	}
	return nil
}
