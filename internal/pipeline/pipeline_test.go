package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aeroaid/dronewatch/internal/errs"
	"github.com/aeroaid/dronewatch/internal/model"
	"github.com/aeroaid/dronewatch/internal/store"
)

type patchCall struct {
	collection string
	id         string
	fields     map[string]store.Value
	mask       []string
}

type createCall struct {
	collection string
	fields     map[string]store.Value
}

type fakeDocs struct {
	mu      sync.Mutex
	patches []patchCall
	creates []createCall

	patchErr   error
	createErr  error
	patchDelay time.Duration
}

var _ Documents = (*fakeDocs)(nil)

func (f *fakeDocs) Patch(_ context.Context, _, collection, id string, fields map[string]store.Value, mask []string) error {
	f.mu.Lock()
	f.patches = append(f.patches, patchCall{collection: collection, id: id, fields: fields, mask: mask})
	err := f.patchErr
	delay := f.patchDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func (f *fakeDocs) Create(_ context.Context, _, collection string, fields map[string]store.Value) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, createCall{collection: collection, fields: fields})
	if f.createErr != nil {
		return "", f.createErr
	}
	return "findings/F1", nil
}

func (f *fakeDocs) patchCount(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.patches {
		if p.collection == collection {
			n++
		}
	}
	return n
}

func (f *fakeDocs) patchesFor(collection string) []patchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []patchCall
	for _, p := range f.patches {
		if p.collection == collection {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeDocs) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates)
}

type fakeTelemetry struct {
	mu    sync.Mutex
	pos   model.Position
	ok    bool
	delay time.Duration

	calls int
}

func (f *fakeTelemetry) Position() (model.Position, bool) {
	f.mu.Lock()
	f.calls++
	pos, ok, delay := f.pos, f.ok, f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return pos, ok
}

func (f *fakeTelemetry) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// parkedDocs holds every patch until released and reports whether the request
// context was cancelled while it waited.
type parkedDocs struct {
	started chan struct{}
	release chan struct{}
	result  chan error
}

var _ Documents = (*parkedDocs)(nil)

func (d *parkedDocs) Patch(ctx context.Context, _, _, _ string, _ map[string]store.Value, _ []string) error {
	close(d.started)
	select {
	case <-ctx.Done():
		d.result <- ctx.Err()
	case <-d.release:
		d.result <- nil
	}
	return nil
}

func (d *parkedDocs) Create(context.Context, string, string, map[string]store.Value) (string, error) {
	return "", nil
}

type fakeCamera struct {
	ready    bool
	shootErr error
	frame    []byte
	frameErr error

	shootCalls int
}

func (f *fakeCamera) Ready() bool { return f.ready }
func (f *fakeCamera) ShootPhoto(context.Context) error {
	f.shootCalls++
	return f.shootErr
}
func (f *fakeCamera) Frame(context.Context) ([]byte, error) { return f.frame, f.frameErr }

func completeSession() model.Session {
	return model.Session{
		Token: "T1", OperatorID: "U1",
		EmergencyID: "E1", AssignmentID: "A1",
	}
}

func goodTelemetry() *fakeTelemetry {
	return &fakeTelemetry{pos: model.Position{Latitude: 1.0, Longitude: 2.0}, ok: true}
}

func goodCamera() *fakeCamera {
	return &fakeCamera{ready: true, frame: []byte{0xff, 0xd8, 0xff, 0xe0}}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestNew_RefusesIncompleteSession(t *testing.T) {
	t.Parallel()

	mutations := []func(*model.Session){
		func(s *model.Session) { s.Token = "" },
		func(s *model.Session) { s.OperatorID = "" },
		func(s *model.Session) { s.EmergencyID = "" },
		func(s *model.Session) { s.AssignmentID = "" },
	}
	for i, mutate := range mutations {
		sess := completeSession()
		mutate(&sess)
		if _, err := New(sess, &fakeDocs{}, goodTelemetry(), goodCamera()); !errors.Is(err, errs.ErrIncompleteSession) {
			t.Fatalf("case %d: want ErrIncompleteSession, got %v", i, err)
		}
	}

	if _, err := New(completeSession(), &fakeDocs{}, goodTelemetry(), goodCamera()); err != nil {
		t.Fatalf("complete session must be accepted: %v", err)
	}
}

func TestStart_PushesImmediately(t *testing.T) {
	t.Parallel()
	docs := &fakeDocs{}
	p, err := New(completeSession(), docs, goodTelemetry(), goodCamera(), WithPeriod(time.Hour))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	// With an hour-long period the only push that can arrive is tick zero.
	waitFor(t, time.Second, func() bool { return docs.patchCount(assignmentsCollection) == 1 })

	got := docs.patchesFor(assignmentsCollection)[0]
	if got.id != "A1" {
		t.Fatalf("push targeted %q, want A1", got.id)
	}
	if len(got.mask) != 2 || got.mask[0] != "droneLocation" || got.mask[1] != "updatedAt" {
		t.Fatalf("mask must be exactly {droneLocation, updatedAt}, got %v", got.mask)
	}
	pt, ok := got.fields["droneLocation"].AsGeoPoint()
	if !ok || pt.Latitude != 1.0 || pt.Longitude != 2.0 {
		t.Fatalf("bad droneLocation: %#v", got.fields["droneLocation"])
	}
	if _, ok := got.fields["updatedAt"].AsTimestamp(); !ok {
		t.Fatalf("updatedAt must be a timestamp value")
	}
}

func TestPushLoop_TickCadence(t *testing.T) {
	t.Parallel()
	docs := &fakeDocs{}
	p, err := New(completeSession(), docs, goodTelemetry(), goodCamera(), WithPeriod(50*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(175 * time.Millisecond)
	p.Stop()

	// floor(175/50)+1 = 4 pushes expected; allow scheduler slack either way.
	got := docs.patchCount(assignmentsCollection)
	if got < 3 || got > 5 {
		t.Fatalf("want ~4 pushes over 175ms at 50ms period, got %d", got)
	}
}

func TestPushLoop_SlowRequestsDoNotDelayTicks(t *testing.T) {
	t.Parallel()

	// Each patch hangs far longer than the period; the tick count must match
	// the schedule regardless, since dispatch is fire-and-forget.
	docs := &fakeDocs{patchDelay: time.Second}
	p, err := New(completeSession(), docs, goodTelemetry(), goodCamera(), WithPeriod(50*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(175 * time.Millisecond)
	p.Stop()

	if got := docs.patchCount(assignmentsCollection); got < 3 {
		t.Fatalf("slow requests delayed ticks: got %d pushes", got)
	}
}

func TestPushLoop_SlowTelemetryDoesNotDelayTicks(t *testing.T) {
	t.Parallel()

	// Each position read hangs far longer than the period. The read happens off
	// the loop goroutine, so the tick schedule must be unaffected.
	docs := &fakeDocs{}
	tel := &fakeTelemetry{pos: model.Position{Latitude: 1, Longitude: 2}, ok: true, delay: time.Second}
	p, err := New(completeSession(), docs, tel, goodCamera(), WithPeriod(50*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(175 * time.Millisecond)
	p.Stop()

	if got := tel.callCount(); got < 3 {
		t.Fatalf("slow telemetry delayed ticks: got %d reads", got)
	}
}

func TestStop_DoesNotAbortInFlightPush(t *testing.T) {
	t.Parallel()

	docs := &parkedDocs{
		started: make(chan struct{}),
		release: make(chan struct{}),
		result:  make(chan error, 1),
	}
	p, err := New(completeSession(), docs, goodTelemetry(), goodCamera(), WithPeriod(time.Hour))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Stop while the tick-zero push is still held by the backend. The push must
	// keep its context and finish cleanly once the backend responds.
	<-docs.started
	p.Stop()
	close(docs.release)

	select {
	case err := <-docs.result:
		if err != nil {
			t.Fatalf("in-flight push was cancelled by Stop: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("in-flight push never completed")
	}
}

func TestPushLoop_FailuresDoNotStopLoop(t *testing.T) {
	t.Parallel()
	docs := &fakeDocs{patchErr: errors.New("backend down")}
	p, err := New(completeSession(), docs, goodTelemetry(), goodCamera(), WithPeriod(20*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	waitFor(t, time.Second, func() bool { return docs.patchCount(assignmentsCollection) >= 3 })
}

func TestPushLoop_SkipsTicksWithoutFix(t *testing.T) {
	t.Parallel()
	docs := &fakeDocs{}
	tel := &fakeTelemetry{ok: false}
	p, err := New(completeSession(), docs, tel, goodCamera(), WithPeriod(10*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	if got := docs.patchCount(assignmentsCollection); got != 0 {
		t.Fatalf("no-fix ticks must push nothing, got %d", got)
	}

	// Fix restored: pushes resume on the next tick without intervention.
	tel.mu.Lock()
	tel.pos, tel.ok = model.Position{Latitude: 3, Longitude: 4}, true
	tel.mu.Unlock()
	waitFor(t, time.Second, func() bool { return docs.patchCount(assignmentsCollection) >= 1 })
	p.Stop()
}

func TestStartStop_StateMachine(t *testing.T) {
	t.Parallel()
	docs := &fakeDocs{}
	p, err := New(completeSession(), docs, goodTelemetry(), goodCamera(), WithPeriod(10*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.State(); got != Idle {
		t.Fatalf("want Idle before start, got %v", got)
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := p.State(); got != Running {
		t.Fatalf("want Running, got %v", got)
	}
	if err := p.Start(context.Background()); err == nil {
		t.Fatalf("second Start while running must fail")
	}

	p.Stop()
	if got := p.State(); got != Stopped {
		t.Fatalf("want Stopped, got %v", got)
	}
	p.Stop() // idempotent

	// A stopped pipeline performs no pushes. Give dispatched goroutines a
	// moment to settle before sampling the count.
	time.Sleep(20 * time.Millisecond)
	before := docs.patchCount(assignmentsCollection)
	time.Sleep(50 * time.Millisecond)
	if after := docs.patchCount(assignmentsCollection); after != before {
		t.Fatalf("stopped pipeline pushed: %d -> %d", before, after)
	}

	// Restart rearms from tick zero.
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitFor(t, time.Second, func() bool { return docs.patchCount(assignmentsCollection) > before })
	p.Stop()
}

func TestReport_CreatesFindingAndTouchesEmergency(t *testing.T) {
	t.Parallel()
	docs := &fakeDocs{}
	p, err := New(completeSession(), docs, goodTelemetry(), goodCamera())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := p.Report(context.Background(), "key"); err != nil {
		t.Fatalf("Report: %v", err)
	}

	if got := docs.createCount(); got != 1 {
		t.Fatalf("want exactly one finding create, got %d", got)
	}
	docs.mu.Lock()
	created := docs.creates[0]
	docs.mu.Unlock()
	if created.collection != findingsCollection {
		t.Fatalf("finding created in %q", created.collection)
	}

	if eid, _ := created.fields["emergencyId"].AsString(); eid != "E1" {
		t.Fatalf("bad emergencyId: %v", created.fields["emergencyId"])
	}
	if op, _ := created.fields["operatorId"].AsString(); op != "U1" {
		t.Fatalf("bad operatorId: %v", created.fields["operatorId"])
	}
	if desc, _ := created.fields["description"].AsString(); desc != "key capture" {
		t.Fatalf("bad description: %q", desc)
	}
	loc, ok := created.fields["location"].AsMap()
	if !ok {
		t.Fatalf("location must be a map value")
	}
	if lat, _ := loc["latitude"].AsDouble(); lat != 1.0 {
		t.Fatalf("bad latitude: %v", loc["latitude"])
	}
	if lng, _ := loc["longitude"].AsDouble(); lng != 2.0 {
		t.Fatalf("bad longitude: %v", loc["longitude"])
	}
	img, _ := created.fields["imageData"].AsString()
	if img == "" || !strings.HasPrefix(img, "data:image/jpeg;base64,") {
		t.Fatalf("bad imageData: %q", img)
	}

	touches := docs.patchesFor(emergenciesCollection)
	if len(touches) != 1 {
		t.Fatalf("want exactly one emergency touch, got %d", len(touches))
	}
	touch := touches[0]
	if touch.id != "E1" {
		t.Fatalf("touch targeted %q, want E1", touch.id)
	}
	if len(touch.mask) != 1 || touch.mask[0] != "updatedAt" {
		t.Fatalf("touch mask must be exactly {updatedAt}, got %v", touch.mask)
	}
}

func TestReport_CameraUnavailable(t *testing.T) {
	t.Parallel()
	docs := &fakeDocs{}
	cam := goodCamera()
	cam.ready = false
	p, err := New(completeSession(), docs, goodTelemetry(), cam)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := p.Report(context.Background(), "key"); !errors.Is(err, errs.ErrCameraUnavailable) {
		t.Fatalf("want ErrCameraUnavailable, got %v", err)
	}
	if cam.shootCalls != 0 {
		t.Fatalf("unready camera must not be commanded")
	}
	if docs.createCount() != 0 {
		t.Fatalf("no finding without a camera")
	}
}

func TestReport_ShootFailureSurfaces(t *testing.T) {
	t.Parallel()
	docs := &fakeDocs{}
	cam := goodCamera()
	cam.shootErr = errors.New("storage full")
	p, err := New(completeSession(), docs, goodTelemetry(), cam)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := p.Report(context.Background(), "key"); err == nil || !strings.Contains(err.Error(), "storage full") {
		t.Fatalf("want surfaced hardware failure, got %v", err)
	}
	if docs.createCount() != 0 {
		t.Fatalf("no finding after shoot failure")
	}
}

func TestReport_FrameFailureCreatesNothing(t *testing.T) {
	t.Parallel()
	docs := &fakeDocs{}
	cam := goodCamera()
	cam.frameErr = errors.New("decoder not ready")
	p, err := New(completeSession(), docs, goodTelemetry(), cam)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := p.Report(context.Background(), "key"); !errors.Is(err, errs.ErrFrameUnavailable) {
		t.Fatalf("want ErrFrameUnavailable, got %v", err)
	}
	if docs.createCount() != 0 {
		t.Fatalf("a failed frame grab must produce zero finding creates")
	}
	if got := docs.patchCount(emergenciesCollection); got != 0 {
		t.Fatalf("no touch without a finding, got %d", got)
	}
}

func TestReport_PositionUnavailable(t *testing.T) {
	t.Parallel()
	docs := &fakeDocs{}
	p, err := New(completeSession(), docs, &fakeTelemetry{ok: false}, goodCamera())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := p.Report(context.Background(), "key"); !errors.Is(err, errs.ErrPositionUnavailable) {
		t.Fatalf("want ErrPositionUnavailable, got %v", err)
	}
	if docs.createCount() != 0 {
		t.Fatalf("no finding without a position")
	}
}

func TestReport_CreateFailureSurfacesWithoutTouch(t *testing.T) {
	t.Parallel()
	docs := &fakeDocs{createErr: errors.New("quota exceeded")}
	p, err := New(completeSession(), docs, goodTelemetry(), goodCamera())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := p.Report(context.Background(), "button"); err == nil {
		t.Fatalf("create failure must surface")
	}
	if got := docs.patchCount(emergenciesCollection); got != 0 {
		t.Fatalf("failed create must not touch the emergency, got %d", got)
	}
}

func TestReport_TouchFailureNotSurfaced(t *testing.T) {
	t.Parallel()
	docs := &fakeDocs{patchErr: errors.New("emergency gone")}
	p, err := New(completeSession(), docs, goodTelemetry(), goodCamera())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// The finding was created; a failed freshness touch is logged only.
	if err := p.Report(context.Background(), "button"); err != nil {
		t.Fatalf("touch failure must not fail the report: %v", err)
	}
	if docs.createCount() != 1 {
		t.Fatalf("finding must still be created once")
	}
}

func TestReport_EachTriggerIsIndependent(t *testing.T) {
	t.Parallel()
	docs := &fakeDocs{}
	p, err := New(completeSession(), docs, goodTelemetry(), goodCamera())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := p.Report(context.Background(), "key"); err != nil {
			t.Fatalf("Report %d: %v", i, err)
		}
	}
	if got := docs.createCount(); got != 3 {
		t.Fatalf("three triggers, want three creates, got %d", got)
	}
	if got := docs.patchCount(emergenciesCollection); got != 3 {
		t.Fatalf("three creates, want three touches, got %d", got)
	}
}
