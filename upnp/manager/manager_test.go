package manager

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joerg1985/jupnp/upnp/gena"
	"github.com/joerg1985/jupnp/upnp/meta"
	"github.com/joerg1985/jupnp/upnp/soap"
	"github.com/joerg1985/jupnp/upnp/types"
)

func switchPower(t *testing.T) *meta.Service {
	t.Helper()

	var status bool
	svc, err := meta.NewServiceBinder(
		types.NewServiceType("SwitchPower", 1),
		types.NewServiceID("SwitchPower")).
		StateVariable("Target", types.Boolean, meta.WithDefault(false)).
		StateVariable("Status", types.Boolean,
			meta.SendEvents(0, 0),
			meta.WithAccessor(func() (interface{}, error) { return status, nil })).
		Action("SetTarget", meta.InArg("NewTargetValue", "Target")).
		Action("GetTarget", meta.RetvalArg("RetTargetValue", "Target")).
		Bind()
	require.NoError(t, err)
	return svc
}

func TestExecuteActions(t *testing.T) {
	svc := switchPower(t)
	m := New(svc)

	require.NoError(t, m.RegisterHandler("SetTarget", func(inv *soap.Invocation) error {
		return m.setLockedForTest("Target", inv.Input["NewTargetValue"])
	}))
	require.NoError(t, m.RegisterHandler("GetTarget", func(inv *soap.Invocation) error {
		inv.Output["RetTargetValue"] = m.values["Target"]
		return nil
	}))
	require.Error(t, m.RegisterHandler("Levitate", func(*soap.Invocation) error { return nil }))

	set, _ := svc.Action("SetTarget")
	inv := soap.NewInvocation(set)
	require.NoError(t, inv.SetInput(svc, "NewTargetValue", true))
	require.Nil(t, m.Execute(inv))

	get, _ := svc.Action("GetTarget")
	out := soap.NewInvocation(get)
	require.Nil(t, m.Execute(out))
	assert.Equal(t, true, out.Output["RetTargetValue"])
}

// setLockedForTest writes a raw value while already under the manager
// lock, as action handlers do.
func (m *ServiceManager) setLockedForTest(name string, value interface{}) error {
	sv, ok := m.svc.StateVariable(name)
	if !ok {
		return errors.New("no such variable")
	}
	cval, err := sv.Datatype().Cast(value)
	if err != nil {
		return err
	}
	m.values[name] = cval
	return nil
}

func TestExecuteFailures(t *testing.T) {
	svc := switchPower(t)
	m := New(svc)

	set, _ := svc.Action("SetTarget")

	// No handler bound.
	aerr := m.Execute(soap.NewInvocation(set))
	require.NotNil(t, aerr)
	assert.Equal(t, types.ErrOptionalActionNotImplemented, aerr.Code)

	// Typed failure keeps its code.
	require.NoError(t, m.RegisterHandler("SetTarget", func(*soap.Invocation) error {
		return types.NewActionError(types.ErrorCode(701), "Transition not available")
	}))
	aerr = m.Execute(soap.NewInvocation(set))
	require.NotNil(t, aerr)
	assert.Equal(t, types.ErrorCode(701), aerr.Code)
	assert.Equal(t, "Transition not available", aerr.Description)

	// Untyped failure maps to 501.
	require.NoError(t, m.RegisterHandler("GetTarget", func(*soap.Invocation) error {
		return errors.New("boom")
	}))
	get, _ := svc.Action("GetTarget")
	aerr = m.Execute(soap.NewInvocation(get))
	require.NotNil(t, aerr)
	assert.Equal(t, types.ErrActionFailed, aerr.Code)
}

func TestEventedWritePublishes(t *testing.T) {
	svc := switchPower(t)
	m := New(svc)

	var mu sync.Mutex
	var published []gena.Property
	m.SetPublisher(func(props []gena.Property) {
		mu.Lock()
		published = append(published, props...)
		mu.Unlock()
	})

	require.NoError(t, m.SetStateVariable("Status", true))

	mu.Lock()
	require.Len(t, published, 1)
	assert.Equal(t, gena.Property{Name: "Status", Value: "1"}, published[0])
	mu.Unlock()

	// Non-evented variables stay quiet.
	require.NoError(t, m.SetStateVariable("Target", true))
	mu.Lock()
	assert.Len(t, published, 1)
	mu.Unlock()

	assert.Error(t, m.SetStateVariable("Nope", 1))
}

func moderatedService(t *testing.T, maxRateMs int, minDelta int64) *meta.Service {
	t.Helper()
	svc, err := meta.NewServiceBinder(
		types.NewServiceType("Dimming", 1),
		types.NewServiceID("Dimming")).
		StateVariable("LoadLevelStatus", types.UI1,
			meta.WithRange(0, 100, nil),
			meta.SendEvents(maxRateMs, minDelta),
			meta.WithAccessor(func() (interface{}, error) { return uint8(0), nil })).
		Bind()
	require.NoError(t, err)
	return svc
}

func TestMinimumDeltaModeration(t *testing.T) {
	m := New(moderatedService(t, 0, 10))

	var mu sync.Mutex
	var published []gena.Property
	m.SetPublisher(func(props []gena.Property) {
		mu.Lock()
		published = append(published, props...)
		mu.Unlock()
	})

	require.NoError(t, m.SetStateVariable("LoadLevelStatus", 0))
	require.NoError(t, m.SetStateVariable("LoadLevelStatus", 5))  // below delta
	require.NoError(t, m.SetStateVariable("LoadLevelStatus", 9))  // below delta
	require.NoError(t, m.SetStateVariable("LoadLevelStatus", 12)) // crosses delta

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, published, 2)
	assert.Equal(t, "0", published[0].Value)
	assert.Equal(t, "12", published[1].Value)

	// Reading the variable still succeeds after moderated writes.
	v, err := m.StateVariableValue("LoadLevelStatus")
	require.NoError(t, err)
	_ = v
}

func TestMaxRateModerationCoalesces(t *testing.T) {
	m := New(moderatedService(t, 50, 0))

	var mu sync.Mutex
	var published []gena.Property
	m.SetPublisher(func(props []gena.Property) {
		mu.Lock()
		published = append(published, props...)
		mu.Unlock()
	})

	require.NoError(t, m.SetStateVariable("LoadLevelStatus", 1)) // immediate
	require.NoError(t, m.SetStateVariable("LoadLevelStatus", 2)) // deferred
	require.NoError(t, m.SetStateVariable("LoadLevelStatus", 3)) // coalesced

	mu.Lock()
	assert.Len(t, published, 1)
	mu.Unlock()

	// The window closes and the final value flushes; nothing was lost.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(published) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "3", published[1].Value)
	mu.Unlock()
}

func TestInitialEventProperties(t *testing.T) {
	svc := switchPower(t)
	m := New(svc)

	props, err := m.InitialEventProperties()
	require.NoError(t, err)
	require.Len(t, props, 1, "one property per evented variable")
	assert.Equal(t, gena.Property{Name: "Status", Value: "0"}, props[0])
}

type fakeTransport struct {
	lc  *gena.LastChange
	ids []types.UnsignedIntegerFourBytes
}

func (f *fakeTransport) CurrentInstanceIDs() []types.UnsignedIntegerFourBytes { return f.ids }

func (f *fakeTransport) AppendCurrentState(lc *gena.LastChange, id types.UnsignedIntegerFourBytes) error {
	lc.Set(id, "TransportState", "STOPPED")
	return nil
}

func lastChangeService(t *testing.T) *meta.Service {
	t.Helper()
	svc, err := meta.NewServiceBinder(
		types.NewServiceType("AVTransport", 1),
		types.NewServiceID("AVTransport")).
		StateVariable("LastChange", types.String,
			meta.SendEvents(200, 0),
			meta.WithAccessor(func() (interface{}, error) { return "", nil })).
		Bind()
	require.NoError(t, err)
	return svc
}

func TestLastChangeInitialEvent(t *testing.T) {
	svc := lastChangeService(t)

	zero, _ := types.NewUnsignedIntegerFourBytes(0)
	impl := &fakeTransport{ids: []types.UnsignedIntegerFourBytes{zero}}

	m, err := NewLastChange(svc, impl, gena.AVTransportEventNS)
	require.NoError(t, err)
	impl.lc = m.LastChange()

	props, err := m.InitialEventProperties()
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, "LastChange", props[0].Name)
	assert.Contains(t, props[0].Value, `<InstanceID val="0"><TransportState val="STOPPED"/></InstanceID>`)

	// The live accumulator stays untouched: no other subscriber sees
	// the initial-event read.
	assert.False(t, m.LastChange().HasChanges())
}

func TestLastChangeFirePublishesOnce(t *testing.T) {
	svc := lastChangeService(t)
	impl := &fakeTransport{}
	m, err := NewLastChange(svc, impl, gena.AVTransportEventNS)
	require.NoError(t, err)

	var mu sync.Mutex
	var published []gena.Property
	m.SetPublisher(func(props []gena.Property) {
		mu.Lock()
		published = append(published, props...)
		mu.Unlock()
	})

	zero, _ := types.NewUnsignedIntegerFourBytes(0)
	m.LastChange().Set(zero, "TransportState", "PLAYING")
	m.LastChange().Set(zero, "TransportStatus", "OK")
	m.FireLastChange()

	mu.Lock()
	require.Len(t, published, 1)
	assert.True(t, strings.Contains(published[0].Value, `TransportState val="PLAYING"`))
	assert.True(t, strings.Contains(published[0].Value, `TransportStatus val="OK"`))
	mu.Unlock()

	// Nothing accumulated, nothing fired.
	m.FireLastChange()
	mu.Lock()
	assert.Len(t, published, 1)
	mu.Unlock()
}

func TestLockOrderingUnderStress(t *testing.T) {
	svc := lastChangeService(t)
	impl := &fakeTransport{}
	m, err := NewLastChange(svc, impl, gena.AVTransportEventNS)
	require.NoError(t, err)
	m.SetPublisher(func([]gena.Property) {})

	zero, _ := types.NewUnsignedIntegerFourBytes(0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				m.LastChange().Set(zero, "TransportState", "PLAYING")
				m.FireLastChange()
				_, _ = m.InitialEventProperties()
			}
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("deadlock between manager lock and LastChange monitor")
	}
}
