package meta

import (
	"fmt"
	"slices"

	"github.com/joerg1985/jupnp/upnp/types"
)

// Accessor reads the current value of a state variable from the service
// implementation. The service manager uses it to build the initial GENA
// event.
type Accessor func() (interface{}, error)

// AllowedValueProvider supplies allowed values at binding time. The
// produced list is cached so descriptor XML stays stable.
type AllowedValueProvider func() []string

// EventPolicy controls how changes of an evented variable are published.
type EventPolicy struct {
	SendEvents bool
	// MaxRateMilliseconds is the minimum gap between events for this
	// variable; zero disables rate moderation.
	MaxRateMilliseconds int
	// MinDelta suppresses integer changes smaller than the delta; zero
	// disables it. No-op for non-integer datatypes.
	MinDelta int64
}

// StateVariable describes one entry of a service state table.
type StateVariable struct {
	name          string
	datatype      types.Datatype
	defaultValue  interface{}
	allowedValues []string
	valueRange    *types.ValueRange
	policy        EventPolicy
	accessor      Accessor
}

// NewStateVariable builds an unconstrained state variable. Constraints,
// defaults and event policy are attached by the binder.
func NewStateVariable(name string, datatype types.Datatype) *StateVariable {
	return &StateVariable{
		name:     name,
		datatype: datatype,
	}
}

// NewRemoteStateVariable builds a state variable as read from a remote
// SCPD. Remote tables bypass the binder: constraints are taken as-is and
// tolerated when broken, since we only ever format values against them.
func NewRemoteStateVariable(name string, datatype types.Datatype, sendEvents bool) *StateVariable {
	sv := NewStateVariable(name, datatype)
	sv.policy.SendEvents = sendEvents
	return sv
}

// SetRemoteDefault installs a default read from a remote SCPD. Unparseable
// defaults are dropped silently.
func (sv *StateVariable) SetRemoteDefault(raw string) {
	if cval, err := sv.datatype.Cast(raw); err == nil {
		sv.defaultValue = cval
	}
}

// SetRemoteAllowedValues installs an allowed-value list read from a
// remote SCPD.
func (sv *StateVariable) SetRemoteAllowedValues(values []string) {
	sv.allowedValues = values
}

// SetRemoteRange installs a range read from a remote SCPD.
func (sv *StateVariable) SetRemoteRange(r *types.ValueRange) {
	sv.valueRange = r
}

func (sv *StateVariable) Name() string             { return sv.name }
func (sv *StateVariable) Datatype() types.Datatype { return sv.datatype }
func (sv *StateVariable) Policy() EventPolicy      { return sv.policy }

// IsEvented reports whether the variable publishes GENA events.
func (sv *StateVariable) IsEvented() bool { return sv.policy.SendEvents }

// HasDefault reports whether an explicit default value is set.
func (sv *StateVariable) HasDefault() bool { return sv.defaultValue != nil }

// DefaultValue returns the explicit default, or the datatype zero value.
func (sv *StateVariable) DefaultValue() interface{} {
	if sv.defaultValue != nil {
		return sv.defaultValue
	}
	v, _ := sv.datatype.Cast(zeroFor(sv.datatype))
	return v
}

func zeroFor(t types.Datatype) interface{} {
	switch {
	case t.IsInteger():
		return 0
	case t.IsNumeric():
		return 0.0
	case t == types.Boolean:
		return false
	default:
		return ""
	}
}

// AllowedValues returns the allowed-value list, or nil if unconstrained.
func (sv *StateVariable) AllowedValues() []string { return sv.allowedValues }

// Range returns the allowed-value range, or nil if unconstrained.
func (sv *StateVariable) Range() *types.ValueRange { return sv.valueRange }

// Accessor returns the host-side reader, or nil for pure wire variables.
func (sv *StateVariable) Accessor() Accessor { return sv.accessor }

// IsValidValue checks a value against the datatype, the allowed-value
// list and the range.
func (sv *StateVariable) IsValidValue(value interface{}) error {
	cval, err := sv.datatype.Cast(value)
	if err != nil {
		return fmt.Errorf("%s: %w", sv.name, err)
	}

	if len(sv.allowedValues) > 0 {
		s, err := sv.datatype.Format(cval)
		if err != nil {
			return fmt.Errorf("%s: %w", sv.name, err)
		}
		if !slices.Contains(sv.allowedValues, s) {
			return fmt.Errorf("%s: value %q not in allowed values %v", sv.name, s, sv.allowedValues)
		}
	}

	if sv.valueRange != nil && !sv.datatype.InRange(cval, sv.valueRange) {
		return fmt.Errorf("%s: value %v outside range [%v, %v]",
			sv.name, cval, sv.valueRange.Minimum(), sv.valueRange.Maximum())
	}

	return nil
}

// StateVariableSet holds a service's state table keyed by variable name.
type StateVariableSet = Set[*StateVariable]
