package server

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subbrawl/game"
)

func TestStoreWorldRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.db")
	st, err := OpenStore(path)
	require.NoError(t, err)
	defer st.Close()

	uid, err := st.CreateUser("alice", "hash", true)
	require.NoError(t, err)
	require.NoError(t, st.CreateAPIKey("deadbeef", uid))

	cfg := game.DefaultConfig()
	gs := game.NewGameState(cfg)
	gs.Users[uid] = &game.User{
		ID: uid, Username: "alice", PwHash: "hash", IsAdmin: true,
		LastDeathTS: 1234, PrevDeathTS: 1000,
	}
	gs.ApiKeys["deadbeef"] = uid

	sub := &game.Submarine{
		ID: "sub-1", OwnerID: uid, X: 10, Y: -20, Depth: 150,
		Heading: 1.5, Pitch: -0.1, RudderAngle: 0.2, RudderCmd: 0.5,
		Planes: -0.3, Throttle: 0.7,
		TargetDepth: game.Float64Ptr(120),
		Speed:       8, Battery: 55, Fuel: 800,
		RefuelActive: true, RefuelFuelerID: "f-1", RefuelTimer: 42,
		IsSnorkeling: true, BlowActive: true, BlowCharge: 0.5, BlowEnd: 99,
		Health: 75, PassiveDir: 0.4, CreatedAt: 100, ScannerNoiseUntil: 200,
		PingCooldownUntil: 300, TorpedoAmmo: 2, Score: 77.5, Kills: 3,
	}
	gs.Subs[sub.ID] = sub

	tp := &game.Torpedo{
		ID: "torp-1", OwnerID: uid, ParentSubID: "sub-1",
		X: 100, Y: 200, Depth: 80,
		TargetHeading: game.Float64Ptr(0.5),
		Heading:       0.4, Speed: 12, TargetSpeed: 14,
		CreatedAt: 150, UpdatedAt: 160,
		ControlMode: game.ControlModeWire, WireLength: 2500,
		PassiveSonarActive: true, PassiveSonarBearing: 0.3,
		LastSonarContact: 155, ActiveSonarEnabled: true, LastActivePing: 158,
		Battery: 90, StartX: 10, StartY: -8, HasStart: true,
	}
	gs.Torps[tp.ID] = tp

	gs.Fuelers["f-1"] = &game.Fueler{
		ID: "f-1", OwnerID: uid, X: 15, Y: -25, Depth: 0,
		Fuel: 300, MaxFuel: 500, SpawnedAt: 90,
		EmptySince: game.Float64Ptr(95),
	}

	require.NoError(t, st.CommitTick(gs))

	loaded := game.NewGameState(cfg)
	require.NoError(t, st.LoadWorld(loaded))

	u := loaded.Users[uid]
	require.NotNil(t, u)
	assert.Equal(t, "alice", u.Username)
	assert.True(t, u.IsAdmin)
	assert.Equal(t, 1234.0, u.LastDeathTS)
	assert.Equal(t, 1000.0, u.PrevDeathTS)
	assert.Equal(t, uid, loaded.ApiKeys["deadbeef"])
	assert.Equal(t, uid+1, loaded.NextUserID)

	ls := loaded.Subs["sub-1"]
	require.NotNil(t, ls)
	assert.Equal(t, sub.OwnerID, ls.OwnerID)
	assert.Equal(t, sub.X, ls.X)
	assert.Equal(t, sub.Depth, ls.Depth)
	require.NotNil(t, ls.TargetDepth)
	assert.Equal(t, 120.0, *ls.TargetDepth)
	assert.Nil(t, ls.TargetHeading)
	assert.True(t, ls.RefuelActive)
	assert.Equal(t, "f-1", ls.RefuelFuelerID)
	assert.True(t, ls.IsSnorkeling)
	assert.Equal(t, sub.Score, ls.Score)
	assert.Equal(t, sub.Kills, ls.Kills)

	lt := loaded.Torps["torp-1"]
	require.NotNil(t, lt)
	assert.Equal(t, "sub-1", lt.ParentSubID)
	require.NotNil(t, lt.TargetHeading)
	assert.Equal(t, 0.5, *lt.TargetHeading)
	assert.Nil(t, lt.TargetDepth)
	assert.Equal(t, game.ControlModeWire, lt.ControlMode)
	assert.True(t, lt.PassiveSonarActive)
	assert.True(t, lt.HasStart)
	assert.Equal(t, 10.0, lt.StartX)

	lf := loaded.Fuelers["f-1"]
	require.NotNil(t, lf)
	assert.Equal(t, 300.0, lf.Fuel)
	require.NotNil(t, lf.EmptySince)
	assert.Equal(t, 95.0, *lf.EmptySince)
}

func TestCommitTickRewritesVolatileTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.db")
	st, err := OpenStore(path)
	require.NoError(t, err)
	defer st.Close()

	cfg := game.DefaultConfig()
	gs := game.NewGameState(cfg)
	gs.Subs["s1"] = &game.Submarine{ID: "s1", OwnerID: 1, Health: 100}
	require.NoError(t, st.CommitTick(gs))

	// The next commit reflects the deletion.
	delete(gs.Subs, "s1")
	require.NoError(t, st.CommitTick(gs))

	loaded := game.NewGameState(cfg)
	require.NoError(t, st.LoadWorld(loaded))
	assert.Empty(t, loaded.Subs)
}
