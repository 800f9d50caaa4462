package meta

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/joerg1985/jupnp/upnp/types"
)

// maxAllowedValueLength is the UPnP limit on allowed-value names.
const maxAllowedValueLength = 32

// BindingError reports a host-side misconfiguration of a service. It is
// fatal at registration; the message names the offending element.
type BindingError struct {
	Element string
	Reason  string
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("binding %s: %s", e.Element, e.Reason)
}

func bindErr(element, format string, args ...interface{}) error {
	return &BindingError{Element: element, Reason: fmt.Sprintf(format, args...)}
}

// ServiceBinder assembles a Service from a declarative host-language
// description. The binding rules are checked at Bind time; the first
// violation is reported as a BindingError.
type ServiceBinder struct {
	serviceType types.ServiceType
	serviceID   types.ServiceID
	variables   []*varSpec
	actions     []*actionSpec
}

type varSpec struct {
	sv       *StateVariable
	provider AllowedValueProvider
	min, max interface{}
	step     interface{}
	rawDef   interface{}
}

type actionSpec struct {
	name string
	args []*Argument
}

// NewServiceBinder starts a binding for the given service identity.
func NewServiceBinder(serviceType types.ServiceType, serviceID types.ServiceID) *ServiceBinder {
	return &ServiceBinder{serviceType: serviceType, serviceID: serviceID}
}

// VariableOption customises one bound state variable.
type VariableOption func(*varSpec)

// WithDefault sets the variable's default value; it is validated against
// the datatype and the allowed values or range at Bind time.
func WithDefault(value interface{}) VariableOption {
	return func(s *varSpec) { s.rawDef = value }
}

// WithAllowedValues restricts a string variable to an explicit list.
func WithAllowedValues(values ...string) VariableOption {
	return func(s *varSpec) { s.sv.allowedValues = values }
}

// WithAllowedValueProvider restricts a string variable through a pluggable
// provider. The provider runs once at Bind time and the produced values
// are cached so the descriptor XML stays stable.
func WithAllowedValueProvider(p AllowedValueProvider) VariableOption {
	return func(s *varSpec) { s.provider = p }
}

// WithRange restricts a numeric variable to [min, max] with an optional
// advisory step (pass nil for none).
func WithRange(min, max, step interface{}) VariableOption {
	return func(s *varSpec) { s.min, s.max, s.step = min, max, step }
}

// WithAccessor attaches the host-side reader for the variable's current
// value. Mandatory for evented variables.
func WithAccessor(a Accessor) VariableOption {
	return func(s *varSpec) { s.sv.accessor = a }
}

// SendEvents marks the variable as evented, with optional moderation.
func SendEvents(maxRateMilliseconds int, minDelta int64) VariableOption {
	return func(s *varSpec) {
		s.sv.policy = EventPolicy{
			SendEvents:          true,
			MaxRateMilliseconds: maxRateMilliseconds,
			MinDelta:            minDelta,
		}
	}
}

// StateVariable declares one state variable.
func (b *ServiceBinder) StateVariable(name string, datatype types.Datatype, opts ...VariableOption) *ServiceBinder {
	spec := &varSpec{sv: NewStateVariable(name, datatype)}
	for _, opt := range opts {
		opt(spec)
	}
	b.variables = append(b.variables, spec)
	return b
}

// InArg declares an input argument. An empty related variable defaults to
// A_ARG_TYPE_<name>.
func InArg(name, related string) *Argument {
	return NewArgument(name, In, relatedOrDefault(name, related))
}

// OutArg declares an output argument.
func OutArg(name, related string) *Argument {
	return NewArgument(name, Out, relatedOrDefault(name, related))
}

// RetvalArg declares the single return-value output argument.
func RetvalArg(name, related string) *Argument {
	return NewRetvalArgument(name, relatedOrDefault(name, related))
}

func relatedOrDefault(name, related string) string {
	if related == "" {
		return "A_ARG_TYPE_" + name
	}
	return related
}

// Action declares an action with its arguments in wire order.
func (b *ServiceBinder) Action(name string, args ...*Argument) *ServiceBinder {
	b.actions = append(b.actions, &actionSpec{name: name, args: args})
	return b
}

// Bind assembles and validates the service. The first violated binding
// rule aborts with a BindingError naming the offending element.
func (b *ServiceBinder) Bind() (*Service, error) {
	svc := NewService(b.serviceType, b.serviceID)

	for _, spec := range b.variables {
		if err := b.bindVariable(spec); err != nil {
			return nil, err
		}
		if err := svc.AddStateVariable(spec.sv); err != nil {
			return nil, bindErr(spec.sv.name, "%v", err)
		}
	}

	for _, spec := range b.actions {
		action := NewAction(spec.name, spec.args...)
		retvals := 0
		for _, arg := range spec.args {
			if _, ok := svc.StateVariable(arg.RelatedStateVariable()); !ok {
				return nil, bindErr(spec.name,
					"argument %s references undeclared state variable %s",
					arg.Name(), arg.RelatedStateVariable())
			}
			if arg.IsReturnValue() {
				retvals++
			}
		}
		if retvals > 1 {
			return nil, bindErr(spec.name, "more than one return-value argument")
		}
		if err := svc.AddAction(action); err != nil {
			return nil, bindErr(spec.name, "%v", err)
		}
	}

	return svc, nil
}

func (b *ServiceBinder) bindVariable(spec *varSpec) error {
	sv := spec.sv

	if sv.datatype == types.Unknown {
		return bindErr(sv.name, "unknown datatype")
	}

	// Allowed values: string type only, cached provider output, 32-char
	// limit on names.
	if spec.provider != nil {
		sv.allowedValues = spec.provider()
	}
	if len(sv.allowedValues) > 0 {
		if !sv.datatype.IsString() {
			return bindErr(sv.name, "allowed values require the string datatype, not %s", sv.datatype)
		}
		for _, v := range sv.allowedValues {
			if len(v) > maxAllowedValueLength {
				return bindErr(sv.name, "allowed value %q longer than %d characters", v, maxAllowedValueLength)
			}
		}
	}

	// Range: numeric only.
	if spec.min != nil || spec.max != nil {
		r, err := sv.datatype.NewValueRange(spec.min, spec.max, spec.step)
		if err != nil {
			return bindErr(sv.name, "%v", err)
		}
		sv.valueRange = r
	}

	// Default value must satisfy the constraints just installed.
	if spec.rawDef != nil {
		cval, err := sv.datatype.Cast(spec.rawDef)
		if err != nil {
			return bindErr(sv.name, "invalid default value %v: %v", spec.rawDef, err)
		}
		sv.defaultValue = cval
		if err := sv.IsValidValue(cval); err != nil {
			sv.defaultValue = nil
			return bindErr(sv.name, "default value %v: %v", cval, err)
		}
	}

	// Evented variables need an accessor for the initial GENA event.
	if sv.policy.SendEvents && sv.accessor == nil {
		return bindErr(sv.name, "evented state variable has no accessor")
	}

	// Minimum-delta moderation is only defined for integer datatypes.
	if sv.policy.MinDelta != 0 && !sv.datatype.IsInteger() {
		log.Warnf("❌ %s: eventMinimumDelta ignored for non-integer datatype %s", sv.name, sv.datatype)
		sv.policy.MinDelta = 0
	}

	return nil
}
