package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subbrawl/game"
)

func addTorp(s *Server, id string, owner int64, parent string, x, y, depth float64) *game.Torpedo {
	tp := &game.Torpedo{
		ID: id, OwnerID: owner, ParentSubID: parent,
		X: x, Y: y, Depth: depth,
		Speed: 10, TargetSpeed: 10, Battery: 100,
		ControlMode: game.ControlModeWire, WireLength: 3000,
	}
	s.gs.Mu.Lock()
	s.gs.Torps[id] = tp
	s.gs.Mu.Unlock()
	return tp
}

func TestWireCutOnRange(t *testing.T) {
	srv := newTestServer(t)
	alice, _ := newTestUser(t, srv, "alice")
	addSub(srv, "s1", alice.ID, 0, 0, 100)
	tp := addTorp(srv, "t1", alice.ID, "s1", 3500, 0, 100)

	q := srv.hub.Subscribe(alice.ID)
	defer srv.hub.Unsubscribe(q)

	srv.gs.Mu.Lock()
	srv.processWireLinks(100)
	srv.gs.Mu.Unlock()

	assert.Equal(t, game.ControlModeFree, tp.ControlMode)
	cuts := eventsNamed(drain(q), "wire_cut")
	require.Len(t, cuts, 1)
	assert.Equal(t, "range_exceeded", cuts[0].Data.(WireCutEvent).Reason)
}

func TestWireCutOnParentLoss(t *testing.T) {
	srv := newTestServer(t)
	alice, _ := newTestUser(t, srv, "alice")
	tp := addTorp(srv, "t1", alice.ID, "gone", 100, 0, 100)

	q := srv.hub.Subscribe(alice.ID)
	defer srv.hub.Unsubscribe(q)

	srv.gs.Mu.Lock()
	srv.processWireLinks(100)
	srv.gs.Mu.Unlock()

	assert.Equal(t, game.ControlModeFree, tp.ControlMode)
	cuts := eventsNamed(drain(q), "wire_cut")
	require.Len(t, cuts, 1)
	assert.Equal(t, "parent_lost", cuts[0].Data.(WireCutEvent).Reason)
}

func TestWireHoldsInsideRange(t *testing.T) {
	srv := newTestServer(t)
	alice, _ := newTestUser(t, srv, "alice")
	addSub(srv, "s1", alice.ID, 0, 0, 100)
	tp := addTorp(srv, "t1", alice.ID, "s1", 2000, 0, 100)

	srv.gs.Mu.Lock()
	srv.processWireLinks(100)
	srv.gs.Mu.Unlock()
	assert.Equal(t, game.ControlModeWire, tp.ControlMode)
}

func TestWireRangeIsHorizontal(t *testing.T) {
	srv := newTestServer(t)
	alice, _ := newTestUser(t, srv, "alice")
	addSub(srv, "s1", alice.ID, 0, 0, 100)
	// Directly under the parent, far deeper than the wire is long.
	tp := addTorp(srv, "t1", alice.ID, "s1", 0, 0, 700)
	tp.WireLength = 500

	srv.gs.Mu.Lock()
	srv.processWireLinks(100)
	srv.gs.Mu.Unlock()
	assert.Equal(t, game.ControlModeWire, tp.ControlMode,
		"depth separation must not part the wire")
}

func TestBatteryDeadDetonation(t *testing.T) {
	srv := newTestServer(t)
	alice, _ := newTestUser(t, srv, "alice")
	bob, _ := newTestUser(t, srv, "bob")
	victim := addSub(srv, "v1", bob.ID, 50, 0, 100)
	tp := addTorp(srv, "t1", alice.ID, "s1", 0, 0, 100)
	tp.BatteryDead = true

	q := srv.hub.Subscribe(bob.ID)
	defer srv.hub.Unsubscribe(q)

	srv.gs.Mu.Lock()
	srv.processExplosions(100)
	srv.gs.Mu.Unlock()

	srv.gs.Mu.RLock()
	_, exists := srv.gs.Torps["t1"]
	srv.gs.Mu.RUnlock()
	assert.False(t, exists)
	assert.Equal(t, 0.0, victim.Health, "50m is inside the lethal band")

	booms := eventsNamed(drain(q), "explosion")
	require.Len(t, booms, 1)
	ev := booms[0].Data.(ExplosionEvent)
	assert.Equal(t, "t1", ev.TorpedoID)
	assert.Equal(t, 100.0, ev.Damage)
	assert.InDelta(t, 50, ev.Distance, 1e-9)
}

func TestRangeExpiryFizzlesWithoutBlast(t *testing.T) {
	srv := newTestServer(t)
	alice, _ := newTestUser(t, srv, "alice")
	bob, _ := newTestUser(t, srv, "bob")
	victim := addSub(srv, "v1", bob.ID, 10, 0, 100)
	tp := addTorp(srv, "t1", alice.ID, "s1", 0, 0, 100)
	tp.Expired = true

	q := srv.hub.Subscribe(bob.ID)
	defer srv.hub.Unsubscribe(q)

	srv.gs.Mu.Lock()
	srv.processExplosions(100)
	srv.gs.Mu.Unlock()

	srv.gs.Mu.RLock()
	_, exists := srv.gs.Torps["t1"]
	srv.gs.Mu.RUnlock()
	assert.False(t, exists)
	assert.Equal(t, 100.0, victim.Health, "an expired fish sinks, it does not detonate")
	assert.Empty(t, eventsNamed(drain(q), "explosion"))
}

func TestDeathShiftsCooldownTimestamps(t *testing.T) {
	srv := newTestServer(t)
	alice, _ := newTestUser(t, srv, "alice")
	sub := addSub(srv, "s1", alice.ID, 0, 0, 100)
	sub.Health = 0
	srv.gs.Mu.Lock()
	alice.LastDeathTS = 500
	srv.processDeaths(1000)
	srv.gs.Mu.Unlock()

	assert.Equal(t, 500.0, alice.PrevDeathTS)
	assert.Equal(t, 1000.0, alice.LastDeathTS)
	srv.gs.Mu.RLock()
	_, exists := srv.gs.Subs["s1"]
	srv.gs.Mu.RUnlock()
	assert.False(t, exists)
}
