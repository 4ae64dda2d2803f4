package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subbrawl/game"
)

func refuelingPair(t *testing.T, srv *Server) (*game.Submarine, *game.Fueler) {
	t.Helper()
	alice, _ := newTestUser(t, srv, "alice")
	sub := addSub(srv, "s1", alice.ID, 0, 0, 10)
	sub.IsSnorkeling = true
	sub.Fuel = 100

	f := &game.Fueler{
		ID: "f1", OwnerID: alice.ID, X: 10, Y: 0, Depth: 0,
		Fuel: 500, MaxFuel: 500, SpawnedAt: 0,
	}
	srv.gs.Mu.Lock()
	srv.gs.Fuelers[f.ID] = f
	sub.RefuelActive = true
	sub.RefuelFuelerID = f.ID
	srv.gs.Mu.Unlock()
	return sub, f
}

func TestRefuelTransferAfterHookup(t *testing.T) {
	srv := newTestServer(t)
	sub, f := refuelingPair(t, srv)

	srv.gs.Mu.Lock()
	defer srv.gs.Mu.Unlock()

	// Still rigging: no fuel moves.
	sub.RefuelTimer = 60
	srv.processRefueling(1, 1000)
	assert.Equal(t, 100.0, sub.Fuel)

	// Past the hookup delay the transfer runs at the configured rate.
	sub.RefuelTimer = refuelHookupDelayS
	srv.processRefueling(1, 1001)
	rate := srv.cfg.Sub.Battery.RefuelRatePerS
	assert.InDelta(t, 100+rate, sub.Fuel, 1e-9)
	assert.InDelta(t, 500-rate, f.Fuel, 1e-9)
	assert.True(t, sub.RefuelActive)

	// The first transfer starts the fueler's departure countdown.
	require.NotNil(t, f.EmptySince)
	assert.Equal(t, 1001.0, *f.EmptySince)
}

func TestRefuelCancelConditions(t *testing.T) {
	tests := []struct {
		name   string
		breakf func(sub *game.Submarine, f *game.Fueler)
		status string
	}{
		{"snorkel dropped", func(sub *game.Submarine, f *game.Fueler) {
			sub.IsSnorkeling = false
		}, "snorkel_lost"},
		{"dove too deep", func(sub *game.Submarine, f *game.Fueler) {
			sub.Depth = 30
		}, "too_deep"},
		{"drifted away", func(sub *game.Submarine, f *game.Fueler) {
			f.X = 500
		}, "out_of_position"},
		{"fueler dry", func(sub *game.Submarine, f *game.Fueler) {
			f.Fuel = 0
		}, "fueler_empty"},
		{"tanks full", func(sub *game.Submarine, f *game.Fueler) {
			sub.Fuel = 1000
		}, "complete"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			sub, f := refuelingPair(t, srv)
			owner := sub.OwnerID
			q := srv.hub.Subscribe(owner)
			defer srv.hub.Unsubscribe(q)

			srv.gs.Mu.Lock()
			tt.breakf(sub, f)
			srv.processRefueling(0.1, 1000)
			srv.gs.Mu.Unlock()

			assert.False(t, sub.RefuelActive)
			assert.Equal(t, 0.0, sub.RefuelTimer)
			evs := eventsNamed(drain(q), "refuel")
			require.Len(t, evs, 1)
			assert.Equal(t, tt.status, evs[0].Data.(RefuelEvent).Status)
		})
	}
}

func TestRefuelTransferCapsAtCapacity(t *testing.T) {
	srv := newTestServer(t)
	sub, f := refuelingPair(t, srv)

	srv.gs.Mu.Lock()
	defer srv.gs.Mu.Unlock()
	sub.Fuel = srv.cfg.Sub.Battery.MaxFuelCapacity - 1
	sub.RefuelTimer = refuelHookupDelayS
	srv.processRefueling(1, 1000)
	assert.Equal(t, srv.cfg.Sub.Battery.MaxFuelCapacity, sub.Fuel)
	assert.InDelta(t, 499, f.Fuel, 1e-9)
}

func TestFuelerEmptyStampAndExpiry(t *testing.T) {
	srv := newTestServer(t)
	sub, f := refuelingPair(t, srv)
	owner := sub.OwnerID

	srv.gs.Mu.Lock()
	f.Fuel = 10
	sub.RefuelTimer = refuelHookupDelayS
	// One big step drains the fueler dry.
	srv.processRefueling(1, 2000)
	srv.gs.Mu.Unlock()

	require.NotNil(t, f.EmptySince)
	assert.Equal(t, 2000.0, *f.EmptySince)

	q := srv.hub.Subscribe(owner)
	defer srv.hub.Unsubscribe(q)

	srv.gs.Mu.Lock()
	srv.expireFuelers(2000 + fuelerEmptyGraceS + 1)
	srv.gs.Mu.Unlock()

	srv.gs.Mu.RLock()
	_, exists := srv.gs.Fuelers["f1"]
	srv.gs.Mu.RUnlock()
	assert.False(t, exists)
	evs := eventsNamed(drain(q), "refuel")
	require.Len(t, evs, 1)
	assert.Equal(t, "fueler_departed", evs[0].Data.(RefuelEvent).Status)
}

func TestFuelerLifetimeExpiry(t *testing.T) {
	srv := newTestServer(t)
	alice, _ := newTestUser(t, srv, "alice")
	f := &game.Fueler{ID: "f1", OwnerID: alice.ID, Fuel: 500, MaxFuel: 500, SpawnedAt: 0}
	srv.gs.Mu.Lock()
	srv.gs.Fuelers[f.ID] = f
	srv.expireFuelers(fuelerLifetimeS + 1)
	srv.gs.Mu.Unlock()

	srv.gs.Mu.RLock()
	defer srv.gs.Mu.RUnlock()
	assert.Empty(t, srv.gs.Fuelers)
}

func TestSpawnFuelerAvoidsSurfaceClouds(t *testing.T) {
	srv := newTestServer(t)
	clearWeather(srv)
	alice, _ := newTestUser(t, srv, "alice")
	sub := addSub(srv, "s1", alice.ID, 0, 0, 10)

	srv.gs.Mu.Lock()
	f := srv.spawnFuelerNearSub(sub, 100)
	srv.gs.Mu.Unlock()

	dist := game.Distance(sub.X, sub.Y, f.X, f.Y)
	assert.GreaterOrEqual(t, dist, fuelerMinSpawnRangeM)
	assert.LessOrEqual(t, dist, fuelerMaxSpawnRangeM)
	assert.Equal(t, 0.0, f.Depth)
	assert.Equal(t, srv.cfg.Sub.Battery.MaxFuelCapacity*0.5, f.Fuel)
}
