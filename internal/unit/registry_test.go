package unit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/vent-logic-core/internal/bacnet"
)

func nowMinus(t *testing.T, secs int) time.Time {
	t.Helper()
	return time.Now().Add(-time.Duration(secs) * time.Second)
}

// recordedWrite captures one transport write.
type recordedWrite struct {
	ref      bacnet.ObjectRef
	value    float64
	priority bacnet.Priority
}

// fakeTransport is a programmable in-memory transport.
type fakeTransport struct {
	mu         sync.Mutex
	values     map[bacnet.ObjectRef]float64
	readErr    error
	writeErr   map[bacnet.ObjectRef]error
	writes     []recordedWrite
	writeDelay time.Duration
	events     []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		values:   make(map[bacnet.ObjectRef]float64),
		writeErr: make(map[bacnet.ObjectRef]error),
	}
}

func (f *fakeTransport) ReadMultiple(_ context.Context, _ bacnet.Address, refs []bacnet.ObjectRef) (map[bacnet.ObjectRef]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make(map[bacnet.ObjectRef]float64)
	for _, ref := range refs {
		if v, ok := f.values[ref]; ok {
			out[ref] = v
		}
	}
	return out, nil
}

func (f *fakeTransport) Write(_ context.Context, _ bacnet.Address, ref bacnet.ObjectRef, value float64, opts bacnet.WriteOptions) error {
	f.mu.Lock()
	delay := f.writeDelay
	f.events = append(f.events, "start "+ref.String())
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "end "+ref.String())
	if err, ok := f.writeErr[ref]; ok {
		return err
	}
	f.writes = append(f.writes, recordedWrite{ref: ref, value: value, priority: opts.Priority})
	f.values[ref] = value
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeTransport) lastWrites(n int) []recordedWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.writes) {
		n = len(f.writes)
	}
	out := make([]recordedWrite, n)
	copy(out, f.writes[len(f.writes)-n:])
	return out
}

func (f *fakeTransport) setRead(ref bacnet.ObjectRef, v float64) {
	f.mu.Lock()
	f.values[ref] = v
	f.mu.Unlock()
}

func (f *fakeTransport) setReadErr(err error) {
	f.mu.Lock()
	f.readErr = err
	f.mu.Unlock()
}

// fakeSink records pushes and serves stored settings.
type fakeSink struct {
	mu           sync.Mutex
	stored       map[string]float64
	availability []bool
	settings     []map[string]float64
	capabilities map[string]any
	endpoints    []string
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		stored:       make(map[string]float64),
		capabilities: make(map[string]any),
	}
}

func (s *fakeSink) GetSetting(key string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.stored[key]
	return v, ok
}

func (s *fakeSink) PushCapability(name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capabilities[name] = value
	return nil
}

func (s *fakeSink) PushSettings(settings map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]float64, len(settings))
	for k, v := range settings {
		cp[k] = v
	}
	s.settings = append(s.settings, cp)
	return nil
}

func (s *fakeSink) SetAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.availability = append(s.availability, available)
}

func (s *fakeSink) SaveEndpoint(ip string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints = append(s.endpoints, fmt.Sprintf("%s:%d", ip, port))
	return nil
}

func (s *fakeSink) availabilityLog() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bool, len(s.availability))
	copy(out, s.availability)
	return out
}

func newTestRegistry(t *testing.T, ft *fakeTransport) (*Registry, *fakeSink, *unitState) {
	t.Helper()

	mgr := bacnet.NewManager(func(int) (bacnet.Transport, error) { return ft, nil })
	r, err := NewRegistry(Config{
		Transports:   mgr,
		LocalPort:    47808,
		PollInterval: time.Hour, // polls driven manually via pollOnce
		WriteTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	t.Cleanup(r.Close)

	sink := newFakeSink()
	addr := bacnet.Address{IP: "192.0.2.10", Port: 47808}
	if err := r.Register("u1", "800131000001", addr, sink); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	st, err := r.unit("u1")
	if err != nil {
		t.Fatalf("unit() error = %v", err)
	}
	waitForInitialPoll(t, st, r)
	return r, sink, st
}

// waitForInitialPoll blocks until the registration-time poll finished,
// so tests can drive subsequent polls deterministically.
func waitForInitialPoll(t *testing.T, st *unitState, r *Registry) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		polled := !st.lastPollAt.IsZero() || st.consecutiveFailures > 0
		r.mu.Unlock()
		if polled {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("initial poll never completed")
}

func TestAvailabilityFlipsExactlyOnce(t *testing.T) {
	ft := newFakeTransport()
	ft.setRead(PointOperationMode, opModeHome)
	r, sink, st := newTestRegistry(t, ft)

	// Non-timeout failures so pollOnce does not retry.
	ft.setReadErr(errors.New("connection refused"))

	// Initial poll succeeded; three manual failures flip availability.
	for n := 0; n < 3; n++ {
		r.pollOnce(st)
	}
	if got := sink.availabilityLog(); len(got) != 1 || got[0] != false {
		t.Fatalf("availability log = %v, want [false]", got)
	}

	// Further failures must not notify again.
	for n := 0; n < 3; n++ {
		r.pollOnce(st)
	}
	if got := sink.availabilityLog(); len(got) != 1 {
		t.Fatalf("availability log = %v after extra failures, want single entry", got)
	}

	// One success restores availability exactly once.
	ft.setReadErr(nil)
	r.pollOnce(st)
	if got := sink.availabilityLog(); len(got) != 2 || got[1] != true {
		t.Fatalf("availability log = %v, want [false true]", got)
	}
}

func TestWriteQueueSerializesWrites(t *testing.T) {
	ft := newFakeTransport()
	ft.setRead(PointOperationMode, opModeHome)
	r, _, _ := newTestRegistry(t, ft)

	ft.mu.Lock()
	ft.writeDelay = 50 * time.Millisecond
	ft.mu.Unlock()

	// W1 enqueued first, W2 right behind it without awaiting W1.
	var wg sync.WaitGroup
	started := make(chan struct{})
	wg.Add(2)
	go func() {
		defer wg.Done()
		close(started)
		if err := r.SetTargetTemperature(context.Background(), "u1", 21); err != nil {
			t.Errorf("W1 error = %v", err)
		}
	}()
	<-started
	time.Sleep(10 * time.Millisecond)
	go func() {
		defer wg.Done()
		if err := r.SetTargetTemperature(context.Background(), "u1", 22); err != nil {
			t.Errorf("W2 error = %v", err)
		}
	}()
	wg.Wait()

	ft.mu.Lock()
	events := append([]string(nil), ft.events...)
	ft.mu.Unlock()

	if len(events) != 4 {
		t.Fatalf("events = %v, want 4 entries", events)
	}
	// W1 must complete strictly before W2 begins.
	if events[0][:5] != "start" || events[1][:3] != "end" || events[2][:5] != "start" {
		t.Errorf("writes interleaved: %v", events)
	}
}

func TestSetTargetTemperatureClampAndRegister(t *testing.T) {
	ft := newFakeTransport()
	ft.setRead(PointOperationMode, opModeHome)
	r, _, st := newTestRegistry(t, ft)
	r.pollOnce(st)

	// Home mode writes the home register; 20.3 rounds to 20.5.
	if err := r.SetTargetTemperature(context.Background(), "u1", 20.3); err != nil {
		t.Fatalf("SetTargetTemperature() error = %v", err)
	}
	w := ft.lastWrites(1)[0]
	if w.ref != PointSetpointHome || w.value != 20.5 {
		t.Errorf("wrote %v=%v, want home setpoint 20.5", w.ref, w.value)
	}

	// Away mode writes the away register; 35 clamps to 30.
	ft.setRead(PointOperationMode, opModeAway)
	r.pollOnce(st)
	if err := r.SetTargetTemperature(context.Background(), "u1", 35); err != nil {
		t.Fatalf("SetTargetTemperature() error = %v", err)
	}
	w = ft.lastWrites(1)[0]
	if w.ref != PointSetpointAway || w.value != 30 {
		t.Errorf("wrote %v=%v, want away setpoint 30", w.ref, w.value)
	}
}

func TestSetFanProfileValidationRejectsWithoutIO(t *testing.T) {
	ft := newFakeTransport()
	r, _, _ := newTestRegistry(t, ft)

	err := r.SetFanProfile(context.Background(), "u1", FanHigh, 70, 85)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want validation error", err)
	}
	if ft.writeCount() != 0 {
		t.Errorf("validation failure issued %d writes, want 0", ft.writeCount())
	}
}

func TestSetFanProfileWritesVerifiesAndPushes(t *testing.T) {
	ft := newFakeTransport()
	r, sink, _ := newTestRegistry(t, ft)

	if err := r.SetFanProfile(context.Background(), "u1", FanHome, 60, 65); err != nil {
		t.Fatalf("SetFanProfile() error = %v", err)
	}

	writes := ft.lastWrites(2)
	for _, w := range writes {
		if w.priority != bacnet.PriorityVendorApp {
			t.Errorf("fan leg written at priority %d, want vendor-app", w.priority)
		}
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.settings) == 0 {
		t.Fatal("no settings pushed")
	}
	pushed := sink.settings[len(sink.settings)-1]
	if pushed[FanSettingKey(FanHome, LegSupply)] != 60 || pushed[FanSettingKey(FanHome, LegExtract)] != 65 {
		t.Errorf("pushed settings = %v", pushed)
	}
}

func TestWriteDenialBlocksPoint(t *testing.T) {
	ft := newFakeTransport()
	r, _, st := newTestRegistry(t, ft)

	ft.mu.Lock()
	ft.writeErr[PointFilterLimit] = fmt.Errorf("device error Class:2 Code:%d", bacnet.CodeWriteAccessDenied)
	ft.mu.Unlock()

	err := r.writePoint(context.Background(), st, PointFilterLimit, 4380, bacnet.PriorityVendorApp, false)
	if err == nil {
		t.Fatal("expected denial error")
	}

	// Second attempt is suppressed without network I/O.
	ft.mu.Lock()
	delete(ft.writeErr, PointFilterLimit)
	ft.mu.Unlock()
	err = r.writePoint(context.Background(), st, PointFilterLimit, 4380, bacnet.PriorityVendorApp, false)
	if !errors.Is(err, ErrWriteBlocked) {
		t.Fatalf("error = %v, want ErrWriteBlocked", err)
	}
	if ft.writeCount() != 0 {
		t.Errorf("blocked point reached the transport %d times", ft.writeCount())
	}
}

func TestWriteDenialNeverBlocksAllowListedPoint(t *testing.T) {
	ft := newFakeTransport()
	r, _, st := newTestRegistry(t, ft)

	ft.mu.Lock()
	ft.writeErr[PointVentilationMode] = fmt.Errorf("device error Code:%d", bacnet.CodeWriteAccessDenied)
	ft.mu.Unlock()

	if err := r.writePoint(context.Background(), st, PointVentilationMode, ventModeHome, bacnet.PriorityStandard, true); err == nil {
		t.Fatal("expected denial error")
	}

	// The point recovers: the next call goes out again.
	ft.mu.Lock()
	delete(ft.writeErr, PointVentilationMode)
	ft.mu.Unlock()
	if err := r.writePoint(context.Background(), st, PointVentilationMode, ventModeHome, bacnet.PriorityStandard, true); err != nil {
		t.Fatalf("retry after denial failed: %v", err)
	}
	if ft.writeCount() != 1 {
		t.Errorf("write count = %d, want 1", ft.writeCount())
	}
}

func TestWriteSoftAcceptRecordsPending(t *testing.T) {
	ft := newFakeTransport()
	r, _, st := newTestRegistry(t, ft)

	ft.mu.Lock()
	ft.writeErr[PointSetpointHome] = fmt.Errorf("device error Code:%d", bacnet.CodeValuePending)
	ft.mu.Unlock()

	if err := r.writePoint(context.Background(), st, PointSetpointHome, 21, bacnet.PriorityStandard, false); err != nil {
		t.Fatalf("soft accept must not error, got %v", err)
	}

	r.mu.Lock()
	marker, ok := st.pendingWriteErrors[PointSetpointHome]
	r.mu.Unlock()
	if !ok || marker.value != 21 {
		t.Fatalf("pending marker = %+v ok=%v, want value 21", marker, ok)
	}

	// A poll observing the expected value clears the marker.
	ft.mu.Lock()
	delete(ft.writeErr, PointSetpointHome)
	ft.mu.Unlock()
	ft.setRead(PointSetpointHome, 21)
	r.pollOnce(st)

	r.mu.Lock()
	_, still := st.pendingWriteErrors[PointSetpointHome]
	r.mu.Unlock()
	if still {
		t.Error("confirmed marker not cleared by poll")
	}
}

func TestSetModeFireplaceSequence(t *testing.T) {
	ft := newFakeTransport()
	ft.setRead(PointOperationMode, opModeHome)
	ft.setRead(PointComfortButton, 1)
	r, _, st := newTestRegistry(t, ft)
	r.pollOnce(st)

	if err := r.SetMode(context.Background(), "u1", ModeFireplace); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}

	// Comfort already on (skipped); runtime then trigger must be written.
	writes := ft.lastWrites(2)
	if writes[0].ref != PointFireplaceRuntime || writes[0].value != fireplaceRuntimeDefault {
		t.Errorf("first write = %+v, want runtime %d", writes[0], fireplaceRuntimeDefault)
	}
	if writes[1].ref != PointFireplaceTrigger || writes[1].value != 1 {
		t.Errorf("second write = %+v, want trigger 1", writes[1])
	}
}

func TestSetModeFireplacePrefersPersistedRuntime(t *testing.T) {
	ft := newFakeTransport()
	ft.setRead(PointFireplaceRuntime, 120)
	r, sink, st := newTestRegistry(t, ft)
	sink.mu.Lock()
	sink.stored[SettingFireplaceRuntime] = 45
	sink.mu.Unlock()
	r.pollOnce(st)

	if err := r.SetMode(context.Background(), "u1", ModeFireplace); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}

	writes := ft.lastWrites(2)
	if writes[0].ref != PointFireplaceRuntime || writes[0].value != 45 {
		t.Errorf("runtime write = %+v, want persisted value 45 over observed 120", writes[0])
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	pushed := sink.settings[len(sink.settings)-1]
	if pushed[SettingFireplaceRuntime] != 45 {
		t.Errorf("pushed settings = %v, want fireplace_runtime 45", pushed)
	}
}

func TestSetModeLeavingFireplaceClearsTrigger(t *testing.T) {
	ft := newFakeTransport()
	ft.setRead(PointOperationMode, opModeFireplace)
	ft.setRead(PointFireplaceActive, 1)
	r, _, st := newTestRegistry(t, ft)
	r.pollOnce(st)

	if err := r.SetMode(context.Background(), "u1", ModeHome); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}

	ft.mu.Lock()
	first := ft.writes[0]
	ft.mu.Unlock()
	if first.ref != PointFireplaceTrigger || first.value != 0 {
		t.Errorf("first write = %+v, want clearing fireplace trigger", first)
	}
}

func TestOperationsOnUnknownUnit(t *testing.T) {
	ft := newFakeTransport()
	r, _, _ := newTestRegistry(t, ft)

	if err := r.SetMode(context.Background(), "ghost", ModeHome); !errors.Is(err, ErrUnitNotFound) {
		t.Errorf("SetMode error = %v, want ErrUnitNotFound", err)
	}
	if _, err := r.Available("ghost"); !errors.Is(err, ErrUnitNotFound) {
		t.Errorf("Available error = %v, want ErrUnitNotFound", err)
	}
}

func TestUnregisterLastSinkRemovesUnit(t *testing.T) {
	ft := newFakeTransport()
	r, sink, _ := newTestRegistry(t, ft)

	second := newFakeSink()
	if err := r.Register("u1", "800131000001", bacnet.Address{IP: "192.0.2.10", Port: 47808}, second); err != nil {
		t.Fatalf("second Register() error = %v", err)
	}

	r.Unregister("u1", sink)
	if _, err := r.unit("u1"); err != nil {
		t.Fatalf("unit should survive while a sink remains: %v", err)
	}

	r.Unregister("u1", second)
	if _, err := r.unit("u1"); !errors.Is(err, ErrUnitNotFound) {
		t.Errorf("unit() error = %v, want ErrUnitNotFound", err)
	}
}

func TestEnqueueAfterUnitRemovedFails(t *testing.T) {
	ft := newFakeTransport()
	r, sink, st := newTestRegistry(t, ft)

	// Resolve the state first, then remove the unit: a caller racing the
	// removal must get an error back, not hang on a dead queue.
	r.Unregister("u1", sink)

	result := make(chan error, 1)
	go func() {
		result <- r.enqueue(context.Background(), st, func(context.Context) error {
			t.Error("job ran on a removed unit")
			return nil
		})
	}()

	select {
	case err := <-result:
		if !errors.Is(err, ErrUnitRemoved) {
			t.Errorf("enqueue error = %v, want ErrUnitRemoved", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue never returned after unit removal")
	}
}

func TestSetFilterIntervalValidation(t *testing.T) {
	ft := newFakeTransport()
	r, _, _ := newTestRegistry(t, ft)

	if err := r.SetFilterInterval(context.Background(), "u1", 100); !errors.Is(err, ErrValidation) {
		t.Errorf("error = %v, want validation error", err)
	}
	if ft.writeCount() != 0 {
		t.Errorf("out-of-range interval reached the transport")
	}
}

func TestSetFilterIntervalSyncsBothUnits(t *testing.T) {
	ft := newFakeTransport()
	r, sink, _ := newTestRegistry(t, ft)

	if err := r.SetFilterInterval(context.Background(), "u1", 6*hoursPerMonth); err != nil {
		t.Fatalf("SetFilterInterval() error = %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.settings) == 0 {
		t.Fatal("no settings pushed")
	}
	pushed := sink.settings[len(sink.settings)-1]
	if pushed[SettingFilterHours] != 6*hoursPerMonth || pushed[SettingFilterMonths] != 6 {
		t.Errorf("pushed settings = %v, want 4380h / 6 months", pushed)
	}
}
