// Package manager mediates all access to a local service implementation:
// action invocation, state-variable reads and writes, event moderation
// and the initial-event read for new GENA subscriptions.
//
// Everything happens under one coarse per-service lock, so invocations
// and evented writes within one service are serialized while different
// services stay independent.
package manager

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/joerg1985/jupnp/upnp/gena"
	"github.com/joerg1985/jupnp/upnp/meta"
	"github.com/joerg1985/jupnp/upnp/soap"
	"github.com/joerg1985/jupnp/upnp/types"
)

// ActionHandler executes one action. Inputs are already parsed and
// validated; the handler fills inv.Output. Returning a *types.ActionError
// selects the fault code, any other error maps to 501 Action Failed.
type ActionHandler func(inv *soap.Invocation) error

// EventPublisher receives moderated state-variable changes for delivery
// to subscribers.
type EventPublisher func(props []gena.Property)

// ServiceManager owns the runtime state of one local service.
type ServiceManager struct {
	svc *meta.Service

	mu       sync.Mutex
	values   map[string]interface{}
	handlers map[string]ActionHandler

	publisher  EventPublisher
	moderation map[string]*moderationState
}

type moderationState struct {
	lastEventAt    time.Time
	lastEventedVal interface{}
	pending        bool
	pendingTimer   *time.Timer
}

// New builds a manager for a bound service, seeding every state variable
// with its default value.
func New(svc *meta.Service) *ServiceManager {
	m := &ServiceManager{
		svc:        svc,
		values:     make(map[string]interface{}),
		handlers:   make(map[string]ActionHandler),
		moderation: make(map[string]*moderationState),
	}
	for sv := range svc.StateVariables().All() {
		m.values[sv.Name()] = sv.DefaultValue()
	}
	return m
}

// Service returns the managed service metadata.
func (m *ServiceManager) Service() *meta.Service { return m.svc }

// SetPublisher attaches the eventing engine. Must be set before any
// evented write.
func (m *ServiceManager) SetPublisher(p EventPublisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publisher = p
}

// RegisterHandler binds an action to its implementation.
func (m *ServiceManager) RegisterHandler(actionName string, h ActionHandler) error {
	if _, ok := m.svc.Action(actionName); !ok {
		return fmt.Errorf("service %s has no action %s", m.svc.Name(), actionName)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[actionName] = h
	return nil
}

// Execute runs an invocation under the service lock. Missing handlers
// fail with 602 Optional Action Not Implemented.
func (m *ServiceManager) Execute(inv *soap.Invocation) *types.ActionError {
	m.mu.Lock()
	handler, ok := m.handlers[inv.Action.Name()]
	if !ok {
		m.mu.Unlock()
		return types.NewActionError(types.ErrOptionalActionNotImplemented, "")
	}

	err := handler(inv)
	m.mu.Unlock()

	// An action may have moved evented state behind its accessors; sweep
	// and publish the differences now that the lock is free.
	m.publishAccessorChanges()

	if err == nil {
		return nil
	}
	if aerr, ok := err.(*types.ActionError); ok {
		return aerr
	}
	log.Warnf("❌ Action %s on %s failed: %v", inv.Action.Name(), m.svc.Name(), err)
	return types.NewActionError(types.ErrActionFailed, err.Error())
}

// StateVariableValue reads the current value of a variable, preferring
// its accessor when one is bound.
func (m *ServiceManager) StateVariableValue(name string) (interface{}, error) {
	sv, ok := m.svc.StateVariable(name)
	if !ok {
		return nil, fmt.Errorf("service %s has no state variable %s", m.svc.Name(), name)
	}
	if acc := sv.Accessor(); acc != nil {
		return acc()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[name], nil
}

// SetStateVariable validates and stores a new value, then publishes the
// change to subscribers if the variable is evented, honoring the
// variable's moderation policy.
func (m *ServiceManager) SetStateVariable(name string, value interface{}) error {
	sv, ok := m.svc.StateVariable(name)
	if !ok {
		return fmt.Errorf("service %s has no state variable %s", m.svc.Name(), name)
	}
	if err := sv.IsValidValue(value); err != nil {
		return err
	}
	cval, err := sv.Datatype().Cast(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.values[name] = cval

	if !sv.IsEvented() || m.publisher == nil {
		m.mu.Unlock()
		return nil
	}

	publish := m.moderate(sv, cval, time.Now())
	publisher := m.publisher
	m.mu.Unlock()

	if publish != nil {
		publisher([]gena.Property{*publish})
	}
	return nil
}

// moderate applies minimum-delta suppression and maximum-rate delay to
// an evented change. Called under the manager lock; returns the property
// to publish immediately, or nil when the change was suppressed or
// deferred. Deferred values are flushed by a timer, so moderation delays
// or coalesces but never drops the final value.
func (m *ServiceManager) moderate(sv *meta.StateVariable, cval interface{}, now time.Time) *gena.Property {
	policy := sv.Policy()
	state, ok := m.moderation[sv.Name()]
	if !ok {
		state = &moderationState{}
		m.moderation[sv.Name()] = state
	}

	// Minimum-delta: integer changes below the delta are absorbed until
	// they accumulate past it.
	if policy.MinDelta > 0 && state.lastEventedVal != nil {
		delta, err := integerDelta(sv.Datatype(), state.lastEventedVal, cval)
		if err == nil && abs64(delta) < policy.MinDelta {
			return nil
		}
	}

	// Maximum-rate: inside the quiet window, remember the newest value
	// and flush it when the window closes.
	if policy.MaxRateMilliseconds > 0 {
		window := time.Duration(policy.MaxRateMilliseconds) * time.Millisecond
		if since := now.Sub(state.lastEventAt); since < window {
			if !state.pending {
				state.pending = true
				state.pendingTimer = time.AfterFunc(window-since, func() {
					m.flushPending(sv.Name())
				})
			}
			return nil
		}
	}

	return m.markEventedLocked(sv, state, cval, now)
}

func (m *ServiceManager) markEventedLocked(sv *meta.StateVariable, state *moderationState, cval interface{}, now time.Time) *gena.Property {
	state.lastEventAt = now
	state.lastEventedVal = cval
	state.pending = false

	formatted, err := sv.Datatype().Format(cval)
	if err != nil {
		log.Warnf("❌ Cannot format evented value of %s: %v", sv.Name(), err)
		return nil
	}
	return &gena.Property{Name: sv.Name(), Value: formatted}
}

// flushPending publishes the newest value of a rate-moderated variable
// once its quiet window closed.
func (m *ServiceManager) flushPending(name string) {
	sv, ok := m.svc.StateVariable(name)
	if !ok {
		return
	}

	m.mu.Lock()
	state := m.moderation[name]
	if state == nil || !state.pending {
		m.mu.Unlock()
		return
	}
	publish := m.markEventedLocked(sv, state, m.values[name], time.Now())
	publisher := m.publisher
	m.mu.Unlock()

	if publish != nil && publisher != nil {
		publisher([]gena.Property{*publish})
	}
}

// publishAccessorChanges reconciles accessor-backed evented variables
// with their last seen values and publishes what moved.
func (m *ServiceManager) publishAccessorChanges() {
	for _, sv := range m.svc.EventedStateVariables() {
		acc := sv.Accessor()
		if acc == nil {
			continue
		}
		val, err := acc()
		if err != nil {
			continue
		}
		cval, err := sv.Datatype().Cast(val)
		if err != nil {
			continue
		}

		m.mu.Lock()
		if sv.Datatype().Equal(m.values[sv.Name()], cval) {
			m.mu.Unlock()
			continue
		}
		m.values[sv.Name()] = cval
		publisher := m.publisher
		var publish *gena.Property
		if publisher != nil {
			publish = m.moderate(sv, cval, time.Now())
		}
		m.mu.Unlock()

		if publish != nil {
			publisher([]gena.Property{*publish})
		}
	}
}

// InitialEventProperties reads the current value of every evented
// variable for the SEQ-0 event of a fresh subscription.
func (m *ServiceManager) InitialEventProperties() ([]gena.Property, error) {
	var props []gena.Property
	for _, sv := range m.svc.EventedStateVariables() {
		val, err := m.StateVariableValue(sv.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s for initial event: %w", sv.Name(), err)
		}
		formatted, err := sv.Datatype().Format(val)
		if err != nil {
			return nil, fmt.Errorf("formatting %s for initial event: %w", sv.Name(), err)
		}
		props = append(props, gena.Property{Name: sv.Name(), Value: formatted})
	}
	return props, nil
}

func integerDelta(dt types.Datatype, old, new interface{}) (int64, error) {
	if !dt.IsInteger() {
		return 0, fmt.Errorf("not an integer datatype")
	}
	oldS, err := dt.Format(old)
	if err != nil {
		return 0, err
	}
	newS, err := dt.Format(new)
	if err != nil {
		return 0, err
	}
	var oldV, newV int64
	if _, err := fmt.Sscan(oldS, &oldV); err != nil {
		return 0, err
	}
	if _, err := fmt.Sscan(newS, &newV); err != nil {
		return 0, err
	}
	return newV - oldV, nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
