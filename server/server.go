package server

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"subbrawl/game"
)

// snapshotInterval is how often each subscribed user receives a full
// private snapshot of their own units.
const snapshotInterval = 1.0

// maxTickDT caps the simulation step after a stall so physics never
// integrates a huge jump.
const maxTickDT = 0.25

// Server owns the world, the tick loop, persistence and the event fabric.
type Server struct {
	cfg     *game.Config
	gs      *game.GameState
	store   *Store
	hub     *eventHub
	metrics *metrics

	// Active sonar echoes in flight, resolved when their ETA passes.
	echoMu        sync.Mutex
	pendingEchoes []pendingEcho

	// Per-IP limiters for the credential endpoints.
	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	perfMu sync.Mutex
	perf   PerfStats

	lastSnapshot map[int64]float64
	lastTick     float64

	done chan struct{}
}

// NewServer loads the persisted world and prepares the tick loop.
func NewServer(cfg *game.Config, store *Store) (*Server, error) {
	gs := game.NewGameState(cfg)
	fetchStart := time.Now()
	if err := store.LoadWorld(gs); err != nil {
		return nil, err
	}
	hub := newEventHub()
	s := &Server{
		cfg:          cfg,
		gs:           gs,
		store:        store,
		hub:          hub,
		metrics:      newMetrics(hub),
		limiters:     make(map[string]*rate.Limiter),
		lastSnapshot: make(map[int64]float64),
		done:         make(chan struct{}),
	}
	s.perf.DBFetchMS = float64(time.Since(fetchStart).Microseconds()) / 1000
	if err := s.ensureAdmin(); err != nil {
		return nil, err
	}
	return s, nil
}

// Run drives the world at the configured tick rate until ctx is done.
func (s *Server) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.TickInterval() * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(s.done)

	s.lastTick = unixNow()
	log.Printf("[ENGINE] Tick loop running at %.0f Hz", s.cfg.TickHz)
	for {
		select {
		case <-ctx.Done():
			log.Println("[ENGINE] Tick loop stopping")
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// Done is closed once the tick loop has exited.
func (s *Server) Done() <-chan struct{} { return s.done }

func (s *Server) tick() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ENGINE] Panic in tick: %v", r)
		}
	}()

	now := unixNow()
	dt := now - s.lastTick
	s.lastTick = now
	if dt <= 0 {
		return
	}
	if dt > maxTickDT {
		dt = maxTickDT
	}

	tickStart := time.Now()
	s.gs.Mu.Lock()

	living := make([]*game.Submarine, 0, len(s.gs.Subs))
	for _, sub := range s.gs.Subs {
		if sub.Health > 0 {
			living = append(living, sub)
		}
	}
	s.gs.Weather.Maintain(living, now)

	physicsStart := time.Now()
	for _, sub := range living {
		game.AccrueScore(sub, dt)
		game.UpdateSubmarine(sub, s.gs.Weather, s.cfg, dt, now)
	}
	for _, tp := range s.gs.Torps {
		game.UpdateTorpedo(tp, s.cfg, dt, now)
		tp.UpdatedAt = now
	}
	physicsMS := float64(time.Since(physicsStart).Microseconds()) / 1000

	s.processRefueling(dt, now)
	s.processWireLinks(now)
	s.processExplosions(now)
	s.schedulePassiveContacts(now)
	s.resolvePendingEchoes(now)
	s.processDeaths(now)
	s.expireFuelers(now)

	commitStart := time.Now()
	if err := s.store.CommitTick(s.gs); err != nil {
		log.Printf("[DB] Tick commit failed: %v", err)
	}
	commitMS := float64(time.Since(commitStart).Microseconds()) / 1000

	subs, torps, fuelers := len(s.gs.Subs), len(s.gs.Torps), len(s.gs.Fuelers)
	s.fanoutSnapshots(now)
	s.gs.Mu.Unlock()

	tickMS := float64(time.Since(tickStart).Microseconds()) / 1000
	s.metrics.tickDuration.Observe(tickMS / 1000)
	s.metrics.physicsDuration.Observe(physicsMS / 1000)
	s.metrics.commitDuration.Observe(commitMS / 1000)
	s.metrics.subsGauge.Set(float64(subs))
	s.metrics.torpsGauge.Set(float64(torps))
	s.metrics.fuelersGauge.Set(float64(fuelers))

	s.perfMu.Lock()
	s.perf.TickMS = tickMS
	s.perf.PhysicsMS = physicsMS
	s.perf.DBCommitMS = commitMS
	s.perf.QueueDepth = s.hub.QueueDepth()
	s.perf.Subs = subs
	s.perf.Torps = torps
	s.perf.Fuelers = fuelers
	s.perf.Streams = len(s.hub.SubscriberUsers())
	s.perfMu.Unlock()
}

// processDeaths removes destroyed submarines and shifts the owner's death
// timestamps, which drive the respawn cooldown window.
func (s *Server) processDeaths(now float64) {
	for id, sub := range s.gs.Subs {
		if sub.Health > 0 {
			continue
		}
		if u := s.gs.Users[sub.OwnerID]; u != nil {
			u.PrevDeathTS = u.LastDeathTS
			u.LastDeathTS = now
		}
		delete(s.gs.Subs, id)
		log.Printf("[ENGINE] Submarine %.8s destroyed (owner %d)", id, sub.OwnerID)
	}
}

// SnapshotEvent is the periodic private view of a user's own units, plus
// every fueler in the world: fuelers are surfaced and public, and a boat
// may refuel from any of them.
type SnapshotEvent struct {
	Time    float64          `json:"time"`
	Subs    []game.Submarine `json:"subs"`
	Torps   []game.Torpedo   `json:"torpedoes"`
	Fuelers []game.Fueler    `json:"fuelers"`
}

// fanoutSnapshots publishes a snapshot to every subscribed user at most
// once per snapshotInterval. Value copies are taken under the world lock
// so stream goroutines can marshal them safely.
func (s *Server) fanoutSnapshots(now float64) {
	for _, uid := range s.hub.SubscriberUsers() {
		if now-s.lastSnapshot[uid] < snapshotInterval {
			continue
		}
		s.lastSnapshot[uid] = now
		s.hub.Publish(uid, Event{Name: "snapshot", Data: s.buildSnapshot(uid, now)})
	}
}

// buildSnapshot assembles a user's snapshot; the caller holds the world
// lock (read or write).
func (s *Server) buildSnapshot(userID int64, now float64) SnapshotEvent {
	ev := SnapshotEvent{
		Time:    now,
		Subs:    []game.Submarine{},
		Torps:   []game.Torpedo{},
		Fuelers: []game.Fueler{},
	}
	for _, sub := range s.gs.Subs {
		if sub.OwnerID == userID {
			ev.Subs = append(ev.Subs, *sub)
		}
	}
	for _, tp := range s.gs.Torps {
		if tp.OwnerID == userID {
			ev.Torps = append(ev.Torps, *tp)
		}
	}
	for _, f := range s.gs.Fuelers {
		ev.Fuelers = append(ev.Fuelers, *f)
	}
	return ev
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
