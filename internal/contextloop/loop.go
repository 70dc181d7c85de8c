package contextloop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tenantguard/backend/internal/events"
	"github.com/tenantguard/backend/internal/intensity"
	"github.com/tenantguard/backend/internal/metrics"
)

// Config tunes the loop. Zero fields fall back to defaults.
type Config struct {
	Mailbox          int           // per-user mailbox capacity, default 1000
	IdleTTL          time.Duration // GC contexts idle longer than this, default 24h
	DeadlineWindow   time.Duration // approaching-deadline horizon, default 7d
	DeadlineDebounce time.Duration // min gap between re-emits per deadline, default 24h
	DrainDeadline    time.Duration // shutdown drain budget, default 30s
	SpikeDelta       float64       // aggregate jump that counts as a spike, default 20
	RollingWindow    int           // intensity tracker window, default 100
	EventHistory     int           // per-context event ring, default 500
}

func (c Config) withDefaults() Config {
	if c.Mailbox <= 0 {
		c.Mailbox = 1000
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 24 * time.Hour
	}
	if c.DeadlineWindow <= 0 {
		c.DeadlineWindow = 7 * 24 * time.Hour
	}
	if c.DeadlineDebounce <= 0 {
		c.DeadlineDebounce = 24 * time.Hour
	}
	if c.DrainDeadline <= 0 {
		c.DrainDeadline = 30 * time.Second
	}
	if c.SpikeDelta <= 0 {
		c.SpikeDelta = 20
	}
	if c.RollingWindow <= 0 {
		c.RollingWindow = 100
	}
	if c.EventHistory <= 0 {
		c.EventHistory = 500
	}
	return c
}

// work is one unit in a user mailbox: an event to reduce, or a bare deadline
// sweep.
type work struct {
	evt   *events.Event
	sweep bool
}

// userState bundles everything the per-user worker owns. The context pointer
// is swapped under mu so readers always see a complete state.
type userState struct {
	mu      sync.RWMutex
	ctx     *UserContext
	ring    *events.Ring[*events.Event]
	mailbox chan work
	done    chan struct{}

	// worker-only, no locking needed
	lastDeadlineEmit map[string]time.Time
	lastAggregate    float64
}

// Loop owns every UserContext. It consumes the full event stream through a
// single bus subscription and routes events to per-user workers.
type Loop struct {
	bus     *events.Bus
	tracker *intensity.Tracker
	cfg     Config
	now     func() time.Time

	mu    sync.RWMutex
	users map[string]*userState

	sub      *events.Subscription
	cron     *cron.Cron
	workers  sync.WaitGroup
	shutdown bool
}

func NewLoop(bus *events.Bus, cfg Config) *Loop {
	cfg = cfg.withDefaults()
	return &Loop{
		bus:     bus,
		tracker: intensity.NewTracker(cfg.RollingWindow),
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		users:   make(map[string]*userState),
	}
}

// Start subscribes to the bus and schedules the deadline sweeper and idle
// GC.
func (l *Loop) Start() {
	l.sub = l.bus.Subscribe(events.TypeAny, func(ctx context.Context, evt *events.Event) error {
		l.route(evt)
		return nil
	})

	l.cron = cron.New()
	l.cron.AddFunc("@every 1h", l.SweepDeadlines)
	l.cron.AddFunc("@every 10m", l.gcIdle)
	l.cron.Start()
	slog.Info("context loop started", "mailbox", l.cfg.Mailbox, "idle_ttl", l.cfg.IdleTTL)
}

// route hands the event to the owning user's mailbox. Broadcast events and
// types without a reducer do not touch user state.
func (l *Loop) route(evt *events.Event) {
	if evt.UserID == "" {
		return
	}
	if _, ok := reducers[evt.Type]; !ok {
		return
	}
	s := l.state(evt.UserID)
	if s == nil {
		return
	}
	// Mailboxes are closed under the write lock (shutdown, idle GC), so the
	// send stays under the read lock with a liveness check.
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.shutdown || l.users[evt.UserID] != s {
		return
	}
	select {
	case s.mailbox <- work{evt: evt}:
	default:
		metrics.EventsDropped.WithLabelValues("mailbox").Inc()
		slog.Warn("user mailbox full, dropping event", "user_id", evt.UserID, "type", evt.Type)
	}
}

// state returns the user's state, spawning the worker on first contact.
// Returns nil after shutdown has begun.
func (l *Loop) state(userID string) *userState {
	l.mu.RLock()
	s, ok := l.users[userID]
	shutdown := l.shutdown
	l.mu.RUnlock()
	if ok {
		return s
	}
	if shutdown {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shutdown {
		return nil
	}
	if s, ok = l.users[userID]; ok {
		return s
	}
	s = &userState{
		ctx:              newUserContext(userID),
		ring:             events.NewRing[*events.Event](l.cfg.EventHistory),
		mailbox:          make(chan work, l.cfg.Mailbox),
		done:             make(chan struct{}),
		lastDeadlineEmit: make(map[string]time.Time),
	}
	l.users[userID] = s
	metrics.ActiveContexts.Inc()
	l.workers.Add(1)
	go l.run(s)
	return s
}

// run is the single writer for one user.
func (l *Loop) run(s *userState) {
	defer l.workers.Done()
	defer close(s.done)
	for w := range s.mailbox {
		if w.sweep {
			l.checkDeadlines(s, l.now())
			continue
		}
		l.apply(s, w.evt)
	}
}

// apply folds one event and runs the post-event pipeline. A failing reducer
// leaves the context untouched.
func (l *Loop) apply(s *userState, evt *events.Event) {
	now := l.now()

	s.mu.RLock()
	working := s.ctx.clone()
	s.mu.RUnlock()

	if err := l.reduce(working, evt); err != nil {
		metrics.ReducerFailures.Inc()
		slog.Warn("reducer failed, context unchanged", "user_id", working.UserID, "type", evt.Type, "error", err)
		return
	}

	working.LastActivity = now

	// Aggregate intensity over the new issue and deadline sets.
	previous := s.lastAggregate
	working.IntensityScore = intensity.Aggregate(intensity.AggregateInput{
		Issues:       working.ActiveIssues,
		Deadlines:    working.Deadlines,
		RightsAtRisk: len(working.RightsAtRisk),
		Phase:        working.Phase,
		Now:          now,
	})
	l.tracker.Record(working.UserID, working.IntensityScore, now)
	s.lastAggregate = working.IntensityScore

	oldPhase := working.Phase
	working.Phase = nextPhase(working, evt.Type)

	oldNeeds := working.PredictedNeeds
	working.PredictedNeeds = predictNeeds(working, now)

	// The ring stores the event annotated with its per-event intensity.
	score := intensity.Score(eventKey(evt), intensity.Input{
		ActiveIssues: len(working.ActiveIssues),
		RightsAtRisk: len(working.RightsAtRisk),
		Phase:        working.Phase,
		Now:          now,
	})
	s.mu.Lock()
	s.ring.Append(evt.WithIntensity(score))
	s.ctx = working
	s.mu.Unlock()

	if working.Phase != oldPhase {
		l.bus.Emit(events.EventPhaseChanged, working.UserID, "contextloop", events.PhasePayload{
			From: oldPhase,
			To:   working.Phase,
		})
	}
	if working.IntensityScore-previous >= l.cfg.SpikeDelta && previous > 0 {
		l.bus.Emit(events.EventIntensitySpike, working.UserID, "contextloop", events.SpikePayload{
			Previous: previous,
			Current:  working.IntensityScore,
		})
	}
	if len(working.PredictedNeeds) > 0 && !sameNeeds(oldNeeds, working.PredictedNeeds) {
		l.bus.Emit(events.EventPredictionMade, working.UserID, "contextloop", events.PredictionPayload{
			Needs: working.PredictedNeeds,
		})
	}
	l.checkDeadlines(s, now)
}

func (l *Loop) reduce(c *UserContext, evt *events.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reducer panic: %v", r)
		}
	}()
	return reducers[evt.Type](c, evt)
}

// checkDeadlines emits deadline_approaching for deadlines inside the window,
// at most once per debounce interval each, and deadline_passed exactly once
// when a deadline slips behind now. Worker-only.
func (l *Loop) checkDeadlines(s *userState, now time.Time) {
	s.mu.RLock()
	deadlines := append([]events.Deadline(nil), s.ctx.Deadlines...)
	userID := s.ctx.UserID
	s.mu.RUnlock()

	for _, d := range deadlines {
		if d.Date.Before(now) {
			if _, ok := s.lastDeadlineEmit["passed:"+d.ID]; !ok {
				s.lastDeadlineEmit["passed:"+d.ID] = now
				l.bus.Emit(events.EventDeadlinePassed, userID, "contextloop", events.DeadlinePayload{
					Deadline:      d,
					DaysRemaining: -int(now.Sub(d.Date).Hours() / 24),
				})
			}
			continue
		}
		if d.Date.Sub(now) > l.cfg.DeadlineWindow {
			continue
		}
		if last, ok := s.lastDeadlineEmit[d.ID]; ok && now.Sub(last) < l.cfg.DeadlineDebounce {
			continue
		}
		s.lastDeadlineEmit[d.ID] = now
		days := int(d.Date.Sub(now).Hours() / 24)
		l.bus.Emit(events.EventDeadlineApproaching, userID, "contextloop", events.DeadlinePayload{
			Deadline:      d,
			DaysRemaining: days,
		})
	}
}

// SweepDeadlines enqueues a deadline check for every live user. Runs hourly
// under cron; exported so tests and operators can force a pass.
func (l *Loop) SweepDeadlines() {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.shutdown {
		return
	}
	for _, s := range l.users {
		select {
		case s.mailbox <- work{sweep: true}:
		default:
		}
	}
}

// gcIdle drops contexts idle beyond the TTL. Their worker exits; state is
// rebuilt from scratch on the next event.
func (l *Loop) gcIdle() {
	cutoff := l.now().Add(-l.cfg.IdleTTL)

	l.mu.Lock()
	for id, s := range l.users {
		s.mu.RLock()
		idle := s.ctx.LastActivity.Before(cutoff) && !s.ctx.LastActivity.IsZero()
		s.mu.RUnlock()
		if idle {
			delete(l.users, id)
			close(s.mailbox)
			metrics.ActiveContexts.Dec()
			slog.Info("user context expired", "user_id", id)
		}
	}
	l.mu.Unlock()
}

// sameNeeds compares predicted-need lists; predictNeeds returns them in a
// stable order so positional comparison suffices.
func sameNeeds(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// eventKey maps an event to its intensity base-table key.
func eventKey(evt *events.Event) string {
	switch p := evt.Payload.(type) {
	case events.DocumentPayload:
		if p.DocType != "" {
			return p.DocType
		}
	case events.AnalysisPayload:
		if p.DocType != "" {
			return p.DocType
		}
	case events.IssuePayload:
		return p.Issue.Type
	case events.DeadlinePayload:
		return p.Deadline.Type
	}
	return "unknown"
}

// StateView is the read-only snapshot handed to API consumers.
type StateView struct {
	Context            *UserContext     `json:"context"`
	Intensity          intensity.Report `json:"intensity"`
	RecentEvents       []*events.Event  `json:"recent_events"`
	RecommendedActions []Action         `json:"recommended_actions"`
}

// GetContext returns a snapshot copy of the user's context, creating the
// context on first touch.
func (l *Loop) GetContext(userID string) *UserContext {
	s := l.state(userID)
	if s == nil {
		return newUserContext(userID)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx.clone()
}

// GetIntensityReport returns the user's current aggregate, severity and
// trend.
func (l *Loop) GetIntensityReport(userID string) intensity.Report {
	return l.tracker.Report(userID)
}

// GetState assembles the full read-only view.
func (l *Loop) GetState(userID string) StateView {
	s := l.state(userID)
	if s == nil {
		return StateView{Context: newUserContext(userID)}
	}
	s.mu.RLock()
	ctx := s.ctx.clone()
	recent := s.ring.Recent(50)
	s.mu.RUnlock()

	return StateView{
		Context:            ctx,
		Intensity:          l.tracker.Report(userID),
		RecentEvents:       recent,
		RecommendedActions: recommendActions(ctx),
	}
}

// EmitEvent publishes on the bus on behalf of a caller.
func (l *Loop) EmitEvent(t events.Type, userID, source string, payload events.Payload) (*events.Event, error) {
	return l.bus.Publish(t, userID, source, payload)
}

// Shutdown stops intake and drains mailboxes up to the drain deadline, then
// drops whatever is left.
func (l *Loop) Shutdown(ctx context.Context) error {
	if l.cron != nil {
		l.cron.Stop()
	}
	if l.sub != nil {
		l.sub.Cancel()
	}

	l.mu.Lock()
	l.shutdown = true
	for _, s := range l.users {
		close(s.mailbox)
	}
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.workers.Wait()
		close(done)
	}()

	deadline := l.cfg.DrainDeadline
	if d, ok := ctx.Deadline(); ok {
		if until := time.Until(d); until < deadline {
			deadline = until
		}
	}
	select {
	case <-done:
		return nil
	case <-time.After(deadline):
		slog.Warn("context loop drain deadline exceeded, dropping remaining events")
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
