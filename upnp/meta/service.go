package meta

import (
	"fmt"

	"github.com/joerg1985/jupnp/upnp/types"
)

// Service describes one UPnP service: its type and id URNs, its action
// table and its state table. The three URL paths of the service are
// derived from the owning device's UDN and the service id (see paths.go),
// so the service itself carries no device reference.
type Service struct {
	serviceType types.ServiceType
	serviceID   types.ServiceID

	actions        ActionSet
	stateVariables StateVariableSet

	// endpoints are set for remote services, whose descriptor names
	// explicit URLs; local services derive theirs from (UDN, id).
	endpoints *Endpoints
}

// Endpoints are the three URL paths of a service. For remote services
// they may be absolute URLs resolved against the descriptor location.
type Endpoints struct {
	SCPD     string
	Control  string
	EventSub string
}

// NewService builds an empty service with the given type and id; its
// tables are filled with AddAction and AddStateVariable. Use Validate (or
// the binder, which validates as it builds) before publishing it.
func NewService(serviceType types.ServiceType, serviceID types.ServiceID) *Service {
	return &Service{
		serviceType: serviceType,
		serviceID:   serviceID,
	}
}

func (s *Service) Name() string                   { return s.serviceID.ID }
func (s *Service) ServiceType() types.ServiceType { return s.serviceType }
func (s *Service) ServiceID() types.ServiceID     { return s.serviceID }

// SetEndpoints pins explicit URL paths, as read from a remote device
// descriptor.
func (s *Service) SetEndpoints(e Endpoints) { s.endpoints = &e }

// Endpoints returns the service's URL paths: the explicit ones for a
// remote service, otherwise the paths derived from the owning device's
// UDN and the service id.
func (s *Service) Endpoints(udn types.UDN) Endpoints {
	if s.endpoints != nil {
		return *s.endpoints
	}
	return Endpoints{
		SCPD:     SCPDPath(udn, s.serviceID),
		Control:  ControlPath(udn, s.serviceID),
		EventSub: EventPath(udn, s.serviceID),
	}
}

// AddAction inserts an action into the action table.
func (s *Service) AddAction(a *Action) error {
	return s.actions.Insert(a)
}

// AddStateVariable inserts a variable into the state table.
func (s *Service) AddStateVariable(sv *StateVariable) error {
	return s.stateVariables.Insert(sv)
}

// Action looks up an action by name.
func (s *Service) Action(name string) (*Action, bool) {
	return s.actions.Get(name)
}

// StateVariable looks up a state variable by name.
func (s *Service) StateVariable(name string) (*StateVariable, bool) {
	return s.stateVariables.Get(name)
}

// Actions returns the action table.
func (s *Service) Actions() *ActionSet { return &s.actions }

// StateVariables returns the state table.
func (s *Service) StateVariables() *StateVariableSet { return &s.stateVariables }

// EventedStateVariables returns every variable with sendEvents set, in
// table order.
func (s *Service) EventedStateVariables() []*StateVariable {
	var evented []*StateVariable
	for sv := range s.stateVariables.All() {
		if sv.IsEvented() {
			evented = append(evented, sv)
		}
	}
	return evented
}

// HasEventedStateVariables reports whether the service publishes events.
func (s *Service) HasEventedStateVariables() bool {
	for sv := range s.stateVariables.All() {
		if sv.IsEvented() {
			return true
		}
	}
	return false
}

// Validate checks the service invariants: every action argument must
// reference a state variable declared by this service, and at most one
// output argument per action may be flagged as return value.
func (s *Service) Validate() error {
	for action := range s.actions.All() {
		retvals := 0
		for _, arg := range action.Arguments() {
			if _, ok := s.stateVariables.Get(arg.RelatedStateVariable()); !ok {
				return fmt.Errorf("service %s: action %s argument %s references undeclared state variable %s",
					s.serviceID.ID, action.Name(), arg.Name(), arg.RelatedStateVariable())
			}
			if arg.IsReturnValue() {
				if arg.Direction() != Out {
					return fmt.Errorf("service %s: action %s argument %s: only output arguments can be return values",
						s.serviceID.ID, action.Name(), arg.Name())
				}
				retvals++
			}
		}
		if retvals > 1 {
			return fmt.Errorf("service %s: action %s has %d return-value arguments, at most one allowed",
				s.serviceID.ID, action.Name(), retvals)
		}
	}
	return nil
}

// ServiceSet holds a device's services keyed by service id.
type ServiceSet = Set[*Service]
