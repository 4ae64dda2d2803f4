package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subbrawl/game"
)

// doJSON runs one request against the API and decodes the JSON response.
func doJSON(t *testing.T, h http.Handler, method, path, key string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func TestSignupLoginFlow(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	code, body := doJSON(t, h, "POST", "/signup", "",
		map[string]string{"username": "carol", "password": "longenough"})
	require.Equal(t, http.StatusCreated, code)
	key := body["api_key"].(string)
	assert.Len(t, key, 40)

	code, _ = doJSON(t, h, "GET", "/state", key, nil)
	assert.Equal(t, http.StatusOK, code)

	code, body = doJSON(t, h, "POST", "/login", "",
		map[string]string{"username": "carol", "password": "longenough"})
	require.Equal(t, http.StatusOK, code)
	assert.NotEqual(t, key, body["api_key"].(string))

	code, _ = doJSON(t, h, "POST", "/login", "",
		map[string]string{"username": "carol", "password": "wrongwrong"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = doJSON(t, h, "GET", "/state", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestSignupValidation(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	code, _ := doJSON(t, h, "POST", "/signup", "",
		map[string]string{"username": "x", "password": "longenough"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = doJSON(t, h, "POST", "/signup", "",
		map[string]string{"username": "carol", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRegisterSubSlotLimit(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	_, key := newTestUser(t, srv, "alice")

	for i := 0; i < srv.cfg.Sub.MaxPerUser; i++ {
		code, body := doJSON(t, h, "POST", "/register_sub", key, nil)
		require.Equal(t, http.StatusCreated, code)
		sub := body["sub"].(map[string]interface{})
		depth := sub["depth"].(float64)
		assert.GreaterOrEqual(t, depth, 80.0)
		assert.LessOrEqual(t, depth, 180.0)
		assert.Equal(t, float64(srv.cfg.Torpedo.MagazineSize), sub["torpedo_ammo"])
		// Fresh boats make steerage way instead of sinking in place.
		assert.Equal(t, 0.2, sub["throttle"])
	}

	code, _ := doJSON(t, h, "POST", "/register_sub", key, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRegisterSubDeathCooldown(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	alice, key := newTestUser(t, srv, "alice")

	// One boat in the water and one recent death: the lost slot stays
	// locked while any boat survives.
	addSub(srv, "s1", alice.ID, 0, 0, 100)
	srv.gs.Mu.Lock()
	alice.LastDeathTS = unixNow() - 10
	srv.gs.Mu.Unlock()

	code, body := doJSON(t, h, "POST", "/register_sub", key, nil)
	require.Equal(t, http.StatusBadRequest, code)
	assert.Greater(t, body["cooldown_remaining_s"].(float64), 0.0)

	// With every boat gone the cooldown no longer applies.
	srv.gs.Mu.Lock()
	delete(srv.gs.Subs, "s1")
	srv.gs.Mu.Unlock()
	code, _ = doJSON(t, h, "POST", "/register_sub", key, nil)
	assert.Equal(t, http.StatusCreated, code)
}

func TestControlClampsInputs(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	alice, key := newTestUser(t, srv, "alice")
	sub := addSub(srv, "s1", alice.ID, 0, 0, 100)

	code, _ := doJSON(t, h, "POST", "/control/s1", key, map[string]interface{}{
		"throttle": 2.0, "planes": -3.0, "rudder_cmd": 0.5, "target_depth": 150.0,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, sub.Throttle)
	assert.Equal(t, -1.0, sub.Planes)
	assert.Equal(t, 0.5, sub.RudderCmd)
	require.NotNil(t, sub.TargetDepth)
	assert.Equal(t, 150.0, *sub.TargetDepth)

	// Nudges stack on the current command and clamp at full deflection.
	code, _ = doJSON(t, h, "POST", "/control/s1", key,
		map[string]interface{}{"rudder_nudge": 0.3})
	require.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 0.8, sub.RudderCmd, 1e-9)
	code, _ = doJSON(t, h, "POST", "/control/s1", key,
		map[string]interface{}{"rudder_nudge": 0.7})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, sub.RudderCmd)
}

func TestControlOwnershipAndExistence(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	alice, _ := newTestUser(t, srv, "alice")
	_, bobKey := newTestUser(t, srv, "bob")
	addSub(srv, "s1", alice.ID, 0, 0, 100)

	code, _ := doJSON(t, h, "POST", "/control/s1", bobKey,
		map[string]interface{}{"throttle": 1.0})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = doJSON(t, h, "POST", "/control/nope", bobKey,
		map[string]interface{}{"throttle": 1.0})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSnorkelDepthGate(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	alice, key := newTestUser(t, srv, "alice")
	sub := addSub(srv, "s1", alice.ID, 0, 0, 100)

	code, _ := doJSON(t, h, "POST", "/snorkel/s1", key,
		map[string]interface{}{"on": true})
	assert.Equal(t, http.StatusBadRequest, code)

	srv.gs.Mu.Lock()
	sub.Depth = 10
	srv.gs.Mu.Unlock()
	code, body := doJSON(t, h, "POST", "/snorkel/s1", key, nil) // bare toggle
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["is_snorkeling"])
}

func TestSnorkelOffAllowedWhileRefueling(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	alice, key := newTestUser(t, srv, "alice")
	sub := addSub(srv, "s1", alice.ID, 0, 0, 10)
	srv.gs.Mu.Lock()
	sub.IsSnorkeling = true
	sub.RefuelActive = true
	srv.gs.Mu.Unlock()

	// The command goes through; the refuel stage cancels the hookup on
	// the next tick.
	code, body := doJSON(t, h, "POST", "/snorkel/s1", key,
		map[string]interface{}{"on": false})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["is_snorkeling"])
	assert.False(t, sub.IsSnorkeling)
}

func TestEmergencyBlow(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	alice, key := newTestUser(t, srv, "alice")
	sub := addSub(srv, "s1", alice.ID, 0, 0, 300)

	code, body := doJSON(t, h, "POST", "/emergency_blow/s1", key, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["blow_active"])

	// Second request while running is rejected.
	code, _ = doJSON(t, h, "POST", "/emergency_blow/s1", key, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	srv.gs.Mu.Lock()
	sub.BlowActive = false
	sub.BlowCharge = 0
	srv.gs.Mu.Unlock()
	code, _ = doJSON(t, h, "POST", "/emergency_blow/s1", key, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSetSubHeadingCompass(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	alice, key := newTestUser(t, srv, "alice")
	sub := addSub(srv, "s1", alice.ID, 0, 0, 100)

	code, body := doJSON(t, h, "POST", "/set_sub_heading/s1", key,
		map[string]interface{}{"heading_deg": 90.0})
	require.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 90, body["target_heading_deg"].(float64), 1e-6)
	require.NotNil(t, sub.TargetHeading)
	// Compass 90 is due east, world heading 0.
	assert.InDelta(t, 0, *sub.TargetHeading, 1e-9)
}

func TestLaunchTorpedoAndReload(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	alice, key := newTestUser(t, srv, "alice")
	sub := addSub(srv, "s1", alice.ID, 0, 0, 100)
	sub.Heading = 0

	for i := 0; i < srv.cfg.Torpedo.MagazineSize; i++ {
		code, body := doJSON(t, h, "POST", "/launch_torpedo/s1", key,
			map[string]interface{}{"heading_deg": 90.0, "range_m": 3000.0})
		require.Equal(t, http.StatusCreated, code)
		torp := body["torpedo"].(map[string]interface{})
		assert.Equal(t, "wire", torp["mode"])
		assert.Equal(t, 3000.0, torp["range"])
		// Spawns off the bow, not inside the hull.
		assert.InDelta(t, game.NoseOffset, torp["x"].(float64), 1e-9)
	}
	assert.Equal(t, 0, sub.TorpedoAmmo)

	code, _ := doJSON(t, h, "POST", "/launch_torpedo/s1", key, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	// A short-fused shot keeps its requested range; only the top end is
	// clamped.
	srv.gs.Mu.Lock()
	sub.TorpedoAmmo = 2
	srv.gs.Mu.Unlock()
	code, body := doJSON(t, h, "POST", "/launch_torpedo/s1", key,
		map[string]interface{}{"range_m": 50.0})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, 50.0, body["torpedo"].(map[string]interface{})["range"])
	code, body = doJSON(t, h, "POST", "/launch_torpedo/s1", key,
		map[string]interface{}{"range_m": srv.cfg.Torpedo.MaxRange + 1000})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, srv.cfg.Torpedo.MaxRange,
		body["torpedo"].(map[string]interface{})["range"])

	// Reload costs battery per round.
	srv.gs.Mu.Lock()
	sub.Battery = 100
	srv.gs.Mu.Unlock()
	code, body = doJSON(t, h, "POST", "/reload_torpedoes/s1", key,
		map[string]interface{}{"count": 2})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2.0, body["reloaded"].(float64))
	assert.Equal(t, 80.0, body["battery"].(float64))

	srv.gs.Mu.Lock()
	sub.Battery = 5
	srv.gs.Mu.Unlock()
	code, _ = doJSON(t, h, "POST", "/reload_torpedoes/s1", key,
		map[string]interface{}{"count": 2})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestWireOnlyGuidance(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	alice, key := newTestUser(t, srv, "alice")

	tp := &game.Torpedo{
		ID: "t1", OwnerID: alice.ID, X: 0, Y: 0, Depth: 100,
		Battery: 100, ControlMode: game.ControlModeFree,
	}
	srv.gs.Mu.Lock()
	srv.gs.Torps[tp.ID] = tp
	srv.gs.Mu.Unlock()

	for _, path := range []string{
		"/set_torp_heading/t1",
		"/set_torp_target_heading/t1",
		"/torp_passive_sonar_toggle/t1",
	} {
		code, _ := doJSON(t, h, "POST", path, key,
			map[string]interface{}{"heading_deg": 45.0})
		assert.Equal(t, http.StatusBadRequest, code, path)
	}

	// The onboard pinger keeps working without the wire.
	code, body := doJSON(t, h, "POST", "/torp_ping_toggle/t1", key, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["active_sonar_enabled"])
}

func TestDetonateOwnershipGate(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	alice, aliceKey := newTestUser(t, srv, "alice")
	_, bobKey := newTestUser(t, srv, "bob")

	tp := &game.Torpedo{
		ID: "t1", OwnerID: alice.ID, X: 0, Y: 0, Depth: 100,
		Battery: 100, ControlMode: game.ControlModeWire,
	}
	srv.gs.Mu.Lock()
	srv.gs.Torps[tp.ID] = tp
	srv.gs.Mu.Unlock()

	code, _ := doJSON(t, h, "POST", "/detonate/t1", bobKey, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, body := doJSON(t, h, "POST", "/detonate/t1", aliceKey, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["detonated"])

	srv.gs.Mu.RLock()
	_, exists := srv.gs.Torps["t1"]
	srv.gs.Mu.RUnlock()
	assert.False(t, exists)
}

func TestCallFuelerAndStartRefuel(t *testing.T) {
	srv := newTestServer(t)
	clearWeather(srv)
	h := srv.Handler()
	alice, key := newTestUser(t, srv, "alice")
	sub := addSub(srv, "s1", alice.ID, 0, 0, 10)
	sub.IsSnorkeling = true
	sub.Fuel = 100

	code, _ := doJSON(t, h, "POST", "/start_refuel/s1", key, nil)
	assert.Equal(t, http.StatusBadRequest, code, "no fueler on station yet")

	code, _ = doJSON(t, h, "POST", "/call_fueler/s1", key, nil)
	require.Equal(t, http.StatusCreated, code)

	code, _ = doJSON(t, h, "POST", "/call_fueler/s1", key, nil)
	assert.Equal(t, http.StatusBadRequest, code, "one fueler per user")

	// The fueler arrives kilometers out; hookup needs the boat alongside.
	code, _ = doJSON(t, h, "POST", "/start_refuel/s1", key, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	srv.gs.Mu.Lock()
	f := srv.gs.UserFueler(alice.ID)
	f.X, f.Y = sub.X+10, sub.Y
	srv.gs.Mu.Unlock()

	code, body := doJSON(t, h, "POST", "/start_refuel/s1", key, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["refuel_active"])
	assert.True(t, sub.RefuelActive)
	assert.Equal(t, f.ID, sub.RefuelFuelerID)
	assert.True(t, sub.IsSnorkeling, "hookup raises the snorkel")
	require.NotNil(t, sub.TargetDepth)
	assert.Equal(t, srv.cfg.Sub.SnorkelDepth, *sub.TargetDepth)
}

func TestPublicEndpoints(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	code, body := doJSON(t, h, "GET", "/public", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["objectives"].([]interface{}), 2)

	code, body = doJSON(t, h, "GET", "/rules", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotNil(t, body["world"])

	code, body = doJSON(t, h, "GET", "/leaderboard", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotNil(t, body)

	code, _ = doJSON(t, h, "GET", "/perf", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestAdminStateGate(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	_, key := newTestUser(t, srv, "alice")

	code, _ := doJSON(t, h, "GET", "/admin/state", key, nil)
	assert.Equal(t, http.StatusForbidden, code)

	srv.gs.Mu.Lock()
	for _, u := range srv.gs.Users {
		u.IsAdmin = true
	}
	srv.gs.Mu.Unlock()
	code, body := doJSON(t, h, "GET", "/admin/state", key, nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotNil(t, body["subs"])
}

func TestWeatherScanChargesBatteryAndMakesNoise(t *testing.T) {
	srv := newTestServer(t)
	clearWeather(srv)
	h := srv.Handler()
	alice, key := newTestUser(t, srv, "alice")
	sub := addSub(srv, "s1", alice.ID, 7000, 0, 100)

	srv.gs.Mu.Lock()
	srv.gs.Weather.Clouds = []*game.WeatherCloud{
		{X: 7300, Y: 0, Radius: 100, MinDepth: 50, MaxDepth: 200, AttenuationDB: 8},
	}
	srv.gs.Mu.Unlock()

	code, body := doJSON(t, h, "POST", "/weather_scan/s1", key, nil)
	require.Equal(t, http.StatusOK, code)
	sectors := body["sectors"].([]interface{})
	require.Len(t, sectors, 1)
	sec := sectors[0].(map[string]interface{})
	// Edge of the cloud is 200m out, bearing east (compass 90).
	assert.InDelta(t, 200, sec["range_m"].(float64), 150)
	assert.Equal(t, 80.0-srv.cfg.World.Weather.Scanner.BatteryCost, sub.Battery)
	assert.Greater(t, sub.ScannerNoiseUntil, unixNow())
}
