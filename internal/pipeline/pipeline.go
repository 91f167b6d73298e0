// Package pipeline runs the session-scoped telemetry relay and report flow:
// a fixed-rate position push against the assignment record and an
// event-triggered finding append, both through the document store client.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aeroaid/dronewatch/internal/capture"
	"github.com/aeroaid/dronewatch/internal/errs"
	"github.com/aeroaid/dronewatch/internal/journal"
	"github.com/aeroaid/dronewatch/internal/model"
	"github.com/aeroaid/dronewatch/internal/store"
	"github.com/aeroaid/dronewatch/internal/telemetry"
)

const (
	assignmentsCollection = "searchAssignments"
	emergenciesCollection = "emergencies"
	findingsCollection    = "findings"

	defaultPushPeriod = 3 * time.Second
)

// positionMask is the only mask the push loop ever sends. Everything else on
// the assignment record belongs to the backend and must not be clobbered.
var positionMask = []string{"droneLocation", "updatedAt"}

// Documents is the slice of the document store client the pipeline needs.
type Documents interface {
	Create(ctx context.Context, token, collection string, fields map[string]store.Value) (string, error)
	Patch(ctx context.Context, token, collection, id string, fields map[string]store.Value, mask []string) error
}

// State is the pipeline lifecycle state.
type State int

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Pipeline relays telemetry and findings for one active session. The session
// is copied at construction and never mutated afterwards.
type Pipeline struct {
	sess   model.Session
	docs   Documents
	tel    telemetry.Provider
	cam    capture.Source
	jrnl   *journal.Journal
	logger *zap.Logger
	period time.Duration
	now    func() time.Time

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPeriod overrides the position push period.
func WithPeriod(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.period = d
		}
	}
}

// WithJournal records successfully reported findings in a local journal.
func WithJournal(j *journal.Journal) Option {
	return func(p *Pipeline) { p.jrnl = j }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New constructs a Pipeline. The session must carry the credential, operator
// id, and both assignment identifiers; anything less is refused.
func New(sess model.Session, docs Documents, tel telemetry.Provider, cam capture.Source, opts ...Option) (*Pipeline, error) {
	if !sess.Complete() {
		return nil, errs.ErrIncompleteSession
	}
	p := &Pipeline{
		sess:   sess,
		docs:   docs,
		tel:    tel,
		cam:    cam,
		logger: zap.NewNop(),
		period: defaultPushPeriod,
		now:    time.Now,
		state:  Idle,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start enters Running and begins the position push loop: one push
// immediately, then one per period at a fixed rate. Pushes are dispatched
// asynchronously and never block the next tick; individual failures are
// logged and the loop continues.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Running {
		return fmt.Errorf("pipeline already running")
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.state = Running

	p.logger.Info("position push loop starting",
		zap.String("assignment", p.sess.AssignmentID),
		zap.Duration("period", p.period),
	)
	go p.run(ctx, p.done)
	return nil
}

// Stop cancels the push timer and enters Stopped. Requests already in flight
// are not tracked and complete or fail on their own. A later Start rearms the
// loop from tick zero.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.state != Running {
		p.mu.Unlock()
		return
	}
	p.state = Stopped
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
	p.logger.Info("position push loop stopped")
}

func (p *Pipeline) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	p.pushPosition(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pushPosition(ctx)
		}
	}
}

// pushPosition performs one tick: read the current position and dispatch a
// field-masked update of the assignment record. A missing fix skips the tick
// silently; it self-heals on the next one. The whole step runs off the loop
// goroutine so neither a slow telemetry read nor a hung request can delay the
// next tick, and the request context is detached from the loop's cancellation:
// Stop halts the timer only, leaving in-flight work to complete or fail on
// its own.
func (p *Pipeline) pushPosition(ctx context.Context) {
	reqCtx := context.WithoutCancel(ctx)
	go func() {
		pos, ok := p.tel.Position()
		if !ok {
			return
		}
		fields := map[string]store.Value{
			"droneLocation": store.GeoPoint(pos.Latitude, pos.Longitude),
			"updatedAt":     store.Timestamp(p.now()),
		}
		err := p.docs.Patch(reqCtx, p.sess.Token, assignmentsCollection, p.sess.AssignmentID, fields, positionMask)
		if err != nil {
			p.logger.Warn("position push failed", zap.Error(err))
		}
	}()
}

// Report runs one capture-and-report flow for a trigger ("button", "key").
// Near-simultaneous triggers are independent requests; there is no dedup.
// The finding is created with a server-assigned id, so a failed create left
// nothing behind and the operator may simply trigger again.
func (p *Pipeline) Report(ctx context.Context, trigger string) error {
	if p.cam == nil || !p.cam.Ready() {
		return errs.ErrCameraUnavailable
	}
	if err := p.cam.ShootPhoto(ctx); err != nil {
		return fmt.Errorf("shoot photo: %w", err)
	}
	frame, err := p.cam.Frame(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrFrameUnavailable, err)
	}

	// Position is read independently from the push loop; momentary divergence
	// between the two reads is acceptable.
	pos, ok := p.tel.Position()
	if !ok {
		return errs.ErrPositionUnavailable
	}

	finding := model.Finding{
		EmergencyID: p.sess.EmergencyID,
		OperatorID:  p.sess.OperatorID,
		Description: trigger + " capture",
		Latitude:    pos.Latitude,
		Longitude:   pos.Longitude,
		ImageData:   capture.DataURI(frame),
		Timestamp:   p.now(),
	}

	docName, err := p.docs.Create(ctx, p.sess.Token, findingsCollection, findingFields(finding))
	if err != nil {
		return fmt.Errorf("creating finding: %w", err)
	}
	p.logger.Info("finding reported",
		zap.String("doc", docName),
		zap.String("trigger", trigger),
		zap.Float64("lat", pos.Latitude),
		zap.Float64("lng", pos.Longitude),
	)

	if p.jrnl != nil {
		err := p.jrnl.Record(ctx, journal.Entry{
			EmergencyID:  finding.EmergencyID,
			AssignmentID: p.sess.AssignmentID,
			DocName:      docName,
			Latitude:     finding.Latitude,
			Longitude:    finding.Longitude,
			Trigger:      trigger,
		})
		if err != nil {
			p.logger.Warn("journaling finding", zap.Error(err))
		}
	}

	// Best-effort freshness touch on the parent emergency. Failure is logged,
	// never surfaced, and does not roll back the finding.
	p.touchEmergency(ctx)
	return nil
}

func (p *Pipeline) touchEmergency(ctx context.Context) {
	fields := map[string]store.Value{"updatedAt": store.Timestamp(p.now())}
	err := p.docs.Patch(ctx, p.sess.Token, emergenciesCollection, p.sess.EmergencyID, fields, []string{"updatedAt"})
	if err != nil {
		p.logger.Warn("emergency timestamp touch failed", zap.Error(err))
	}
}

func findingFields(f model.Finding) map[string]store.Value {
	fields := map[string]store.Value{
		"emergencyId": store.String(f.EmergencyID),
		"operatorId":  store.String(f.OperatorID),
		"description": store.String(f.Description),
		"location": store.Map(map[string]store.Value{
			"latitude":  store.Double(f.Latitude),
			"longitude": store.Double(f.Longitude),
		}),
		"timestamp": store.Timestamp(f.Timestamp),
	}
	if f.ImageData != "" {
		fields["imageData"] = store.String(f.ImageData)
	}
	return fields
}
