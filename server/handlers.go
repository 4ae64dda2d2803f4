package server

import (
	"encoding/json"
	"io"
	"math"
	"math/rand"
	"net/http"

	"github.com/google/uuid"

	"subbrawl/game"
)

// Handler builds the API routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /signup", s.handleSignup)
	mux.HandleFunc("POST /login", s.handleLogin)

	mux.HandleFunc("GET /public", s.handlePublic)
	mux.HandleFunc("GET /rules", s.handleRules)
	mux.HandleFunc("GET /leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /perf", s.handlePerf)

	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("POST /register_sub", s.handleRegisterSub)

	mux.HandleFunc("POST /control/{sub_id}", s.subHandler(s.handleControl))
	mux.HandleFunc("POST /snorkel/{sub_id}", s.subHandler(s.handleSnorkel))
	mux.HandleFunc("POST /emergency_blow/{sub_id}", s.subHandler(s.handleEmergencyBlow))
	mux.HandleFunc("POST /set_sub_heading/{sub_id}", s.subHandler(s.handleSetSubHeading))
	mux.HandleFunc("POST /turn_sub/{sub_id}", s.subHandler(s.handleTurnSub))
	mux.HandleFunc("POST /set_passive_array/{sub_id}", s.subHandler(s.handleSetPassiveArray))
	mux.HandleFunc("POST /ping/{sub_id}", s.subHandler(s.handlePing))
	mux.HandleFunc("POST /weather_scan/{sub_id}", s.subHandler(s.handleWeatherScan))
	mux.HandleFunc("POST /launch_torpedo/{sub_id}", s.subHandler(s.handleLaunchTorpedo))
	mux.HandleFunc("POST /reload_torpedoes/{sub_id}", s.subHandler(s.handleReloadTorpedoes))
	mux.HandleFunc("POST /call_fueler/{sub_id}", s.subHandler(s.handleCallFueler))
	mux.HandleFunc("POST /start_refuel/{sub_id}", s.subHandler(s.handleStartRefuel))

	mux.HandleFunc("POST /set_torp_speed/{torp_id}", s.torpHandler(s.handleSetTorpSpeed))
	mux.HandleFunc("POST /set_torp_depth/{torp_id}", s.torpHandler(s.handleSetTorpDepth))
	mux.HandleFunc("POST /set_torp_heading/{torp_id}", s.torpHandler(s.handleSetTorpHeading))
	mux.HandleFunc("POST /set_torp_target_heading/{torp_id}", s.torpHandler(s.handleSetTorpTargetHeading))
	mux.HandleFunc("POST /torp_passive_sonar_toggle/{torp_id}", s.torpHandler(s.handleTorpPassiveSonarToggle))
	mux.HandleFunc("POST /torp_ping/{torp_id}", s.torpHandler(s.handleTorpPing))
	mux.HandleFunc("POST /torp_ping_toggle/{torp_id}", s.torpHandler(s.handleTorpPingToggle))
	mux.HandleFunc("POST /detonate/{torp_id}", s.torpHandler(s.handleDetonate))

	mux.HandleFunc("GET /admin/state", s.handleAdminState)

	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("GET /ws", s.handleWebsocket)

	return mux
}

// decodeBody parses an optional JSON body into v; an empty body is fine.
func decodeBody(r *http.Request, v interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return badRequest("unreadable body")
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return badRequest("malformed JSON body")
	}
	return nil
}

// subHandler wraps a handler that operates on one owned, living submarine.
// It authenticates, resolves ownership and holds the world write lock for
// the duration of fn.
func (s *Server) subHandler(fn func(w http.ResponseWriter, r *http.Request, u *game.User, sub *game.Submarine) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.gs.Mu.Lock()
		defer s.gs.Mu.Unlock()
		u, err := s.userFromRequest(r)
		if err != nil {
			writeErr(w, err)
			return
		}
		sub := s.gs.Subs[r.PathValue("sub_id")]
		if sub == nil || sub.Health <= 0 {
			writeErr(w, notFound("no such submarine"))
			return
		}
		if sub.OwnerID != u.ID {
			writeErr(w, forbidden("not your submarine"))
			return
		}
		if err := fn(w, r, u, sub); err != nil {
			writeErr(w, err)
		}
	}
}

// torpHandler is the torpedo analogue of subHandler.
func (s *Server) torpHandler(fn func(w http.ResponseWriter, r *http.Request, u *game.User, tp *game.Torpedo) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.gs.Mu.Lock()
		defer s.gs.Mu.Unlock()
		u, err := s.userFromRequest(r)
		if err != nil {
			writeErr(w, err)
			return
		}
		tp := s.gs.Torps[r.PathValue("torp_id")]
		if tp == nil {
			writeErr(w, notFound("no such torpedo"))
			return
		}
		if tp.OwnerID != u.ID {
			writeErr(w, forbidden("not your torpedo"))
			return
		}
		if err := fn(w, r, u, tp); err != nil {
			writeErr(w, err)
		}
	}
}

type credentialsBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if !s.credentialLimiter(r.RemoteAddr).Allow() {
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{"error": "slow down"})
		return
	}
	var body credentialsBody
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if len(body.Username) < 3 || len(body.Password) < 8 {
		writeErr(w, badRequest("username must be 3+ chars, password 8+"))
		return
	}
	s.gs.Mu.Lock()
	defer s.gs.Mu.Unlock()
	u, key, err := s.createUser(body.Username, body.Password, false)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user_id": u.ID,
		"api_key": key,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.credentialLimiter(r.RemoteAddr).Allow() {
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{"error": "slow down"})
		return
	}
	var body credentialsBody
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	s.gs.Mu.Lock()
	defer s.gs.Mu.Unlock()
	var found *game.User
	for _, u := range s.gs.Users {
		if u.Username == body.Username {
			found = u
			break
		}
	}
	if found == nil || !checkPassword(found.PwHash, body.Password) {
		writeErr(w, unauthorized("bad credentials"))
		return
	}
	key := makeAPIKey()
	if err := s.store.CreateAPIKey(key, found.ID); err != nil {
		writeErr(w, err)
		return
	}
	s.gs.ApiKeys[key] = found.ID
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  found.ID,
		"api_key":  key,
		"is_admin": found.IsAdmin,
	})
}

func (s *Server) handlePublic(w http.ResponseWriter, r *http.Request) {
	s.gs.Mu.RLock()
	defer s.gs.Mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"time":       unixNow(),
		"ring":       s.cfg.World.Ring,
		"objectives": s.gs.Objectives,
	})
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	s.gs.Mu.RLock()
	rows := game.ComputeLeaderboard(s.gs, 50)
	s.gs.Mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": rows})
}

func (s *Server) handlePerf(w http.ResponseWriter, r *http.Request) {
	s.perfMu.Lock()
	perf := s.perf
	s.perfMu.Unlock()
	writeJSON(w, http.StatusOK, perf)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.gs.Mu.RLock()
	defer s.gs.Mu.RUnlock()
	u, err := s.userFromRequest(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	now := unixNow()
	snap := s.buildSnapshot(u.ID, now)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"time":      now,
		"subs":      snap.Subs,
		"torpedoes": snap.Torps,
		"fuelers":   snap.Fuelers,
	})
}

// availableSlots counts how many boats the user may field right now:
// every recent death inside the cooldown window locks one slot, but only
// while the user still has boats in the water.
func (s *Server) availableSlots(u *game.User, now float64) (int, float64) {
	max := s.cfg.Sub.MaxPerUser
	current := len(s.gs.SubsOfUser(u.ID))
	if current == 0 {
		return max, 0
	}
	cooldown := s.cfg.Sub.RespawnCooldownS
	locked := 0
	remaining := math.Inf(1)
	for _, ts := range []float64{u.LastDeathTS, u.PrevDeathTS} {
		if ts > 0 && now-ts < cooldown {
			locked++
			if r := cooldown - (now - ts); r < remaining {
				remaining = r
			}
		}
	}
	slots := max - locked - current
	if locked == 0 {
		remaining = 0
	}
	return slots, remaining
}

func (s *Server) handleRegisterSub(w http.ResponseWriter, r *http.Request) {
	s.gs.Mu.Lock()
	defer s.gs.Mu.Unlock()
	u, err := s.userFromRequest(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	now := unixNow()
	slots, remaining := s.availableSlots(u, now)
	if slots <= 0 {
		writeErr(w, badRequest("no submarine slots available").
			withExtra("cooldown_remaining_s", remaining))
		return
	}

	bcfg := s.cfg.Sub.Battery
	x, y := s.gs.RandomSpawnPos(s.cfg)
	sub := &game.Submarine{
		ID:          uuid.NewString(),
		OwnerID:     u.ID,
		X:           x,
		Y:           y,
		Depth:       80 + rand.Float64()*100,
		Heading:     game.WrapAngle(rand.Float64() * 2 * math.Pi),
		Throttle:    0.2,
		Battery:     bcfg.InitialMin + rand.Float64()*(bcfg.InitialMax-bcfg.InitialMin),
		Fuel:        bcfg.InitialFuel,
		BlowCharge:  1,
		Health:      100,
		TorpedoAmmo: s.cfg.Torpedo.MagazineSize,
		CreatedAt:   now,
	}
	s.gs.Subs[sub.ID] = sub
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"sub":         sub,
		"heading_deg": game.WorldToCompass(sub.Heading),
	})
}

type controlBody struct {
	Throttle    *float64 `json:"throttle"`
	Planes      *float64 `json:"planes"`
	RudderCmd   *float64 `json:"rudder_cmd"`
	RudderNudge *float64 `json:"rudder_nudge"`
	TargetDepth *float64 `json:"target_depth"`
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request, u *game.User, sub *game.Submarine) error {
	var body controlBody
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	if body.Throttle != nil {
		sub.Throttle = game.Clamp(*body.Throttle, 0, 1)
	}
	if body.Planes != nil {
		sub.Planes = game.Clamp(*body.Planes, -1, 1)
	}
	if body.RudderCmd != nil {
		sub.RudderCmd = game.Clamp(*body.RudderCmd, -1, 1)
		sub.TargetHeading = nil
	}
	if body.RudderNudge != nil {
		sub.RudderCmd = game.Clamp(sub.RudderCmd+*body.RudderNudge, -1, 1)
		sub.TargetHeading = nil
	}
	if body.TargetDepth != nil {
		sub.TargetDepth = game.Float64Ptr(math.Max(0, *body.TargetDepth))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sub": sub})
	return nil
}

type snorkelBody struct {
	On *bool `json:"on"`
}

func (s *Server) handleSnorkel(w http.ResponseWriter, r *http.Request, u *game.User, sub *game.Submarine) error {
	var body snorkelBody
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	want := !sub.IsSnorkeling
	if body.On != nil {
		want = *body.On
	}
	if want && sub.Depth > s.cfg.Sub.SnorkelDepth {
		return badRequest("too deep to raise the snorkel")
	}
	// Dropping the snorkel mid-refuel is allowed; the refuel stage
	// cancels the hookup on the next tick.
	sub.IsSnorkeling = want
	writeJSON(w, http.StatusOK, map[string]interface{}{"is_snorkeling": sub.IsSnorkeling})
	return nil
}

func (s *Server) handleEmergencyBlow(w http.ResponseWriter, r *http.Request, u *game.User, sub *game.Submarine) error {
	if sub.BlowCharge <= 0 {
		return badRequest("blow tanks empty")
	}
	if sub.BlowActive {
		return badRequest("blow already running")
	}
	now := unixNow()
	sub.BlowActive = true
	sub.BlowEnd = now + s.cfg.Sub.EmergencyBlow.DurationS
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"blow_active": true,
		"blow_end":    sub.BlowEnd,
		"blow_charge": sub.BlowCharge,
	})
	return nil
}

type headingBody struct {
	HeadingDeg *float64 `json:"heading_deg"`
}

func (s *Server) handleSetSubHeading(w http.ResponseWriter, r *http.Request, u *game.User, sub *game.Submarine) error {
	var body headingBody
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	if body.HeadingDeg == nil {
		return badRequest("heading_deg required")
	}
	sub.TargetHeading = game.Float64Ptr(game.CompassToWorld(*body.HeadingDeg))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"target_heading_deg": game.WorldToCompass(*sub.TargetHeading),
	})
	return nil
}

type rudderBody struct {
	Rudder *float64 `json:"rudder"`
}

func (s *Server) handleTurnSub(w http.ResponseWriter, r *http.Request, u *game.User, sub *game.Submarine) error {
	var body rudderBody
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	if body.Rudder == nil {
		return badRequest("rudder required")
	}
	sub.RudderCmd = game.Clamp(*body.Rudder, -1, 1)
	sub.TargetHeading = nil
	writeJSON(w, http.StatusOK, map[string]interface{}{"rudder_cmd": sub.RudderCmd})
	return nil
}

type passiveArrayBody struct {
	DirDeg *float64 `json:"dir_deg"`
}

func (s *Server) handleSetPassiveArray(w http.ResponseWriter, r *http.Request, u *game.User, sub *game.Submarine) error {
	var body passiveArrayBody
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	if body.DirDeg == nil {
		return badRequest("dir_deg required")
	}
	sub.PassiveDir = game.Deg2Rad(*body.DirDeg)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"dir_deg": *body.DirDeg,
	})
	return nil
}

type pingBody struct {
	BeamDeg          float64 `json:"beamwidth_deg"`
	RangeM           float64 `json:"max_range"`
	CenterBearingDeg float64 `json:"center_bearing_deg"`
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request, u *game.User, sub *game.Submarine) error {
	body := pingBody{BeamDeg: 20, RangeM: s.cfg.Sonar.Active.MaxRange}
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	res, err := s.scheduleActivePing(sub, body.BeamDeg, body.RangeM, body.CenterBearingDeg, unixNow())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

// weatherScanSector is one 10-degree slice of the scanner picture.
type weatherScanSector struct {
	Sector     int     `json:"sector"`
	BearingDeg float64 `json:"bearing_deg"`
	RangeM     float64 `json:"range_m"`
	MinDepth   float64 `json:"min_depth"`
	MaxDepth   float64 `json:"max_depth"`
}

func (s *Server) handleWeatherScan(w http.ResponseWriter, r *http.Request, u *game.User, sub *game.Submarine) error {
	sccfg := s.cfg.World.Weather.Scanner
	if sub.Battery < sccfg.BatteryCost {
		return errInsufficientBattery
	}
	now := unixNow()
	sub.Battery -= sccfg.BatteryCost
	// Pulsing the scanner lights the boat up on everyone's passive sonar.
	sub.ScannerNoiseUntil = math.Max(sub.ScannerNoiseUntil, now+sccfg.NoiseDurationS)

	const sectorDeg = 10.0
	best := make(map[int]weatherScanSector)
	for _, c := range s.gs.Weather.Clouds {
		centerDist := game.Distance(sub.X, sub.Y, c.X, c.Y)
		edgeDist := math.Max(0, centerDist-c.Radius)
		if edgeDist > sccfg.MaxRangeM {
			continue
		}
		// Scanner only sees bands near the boat's own depth.
		if sub.Depth < c.MinDepth-50 || sub.Depth > c.MaxDepth+50 {
			continue
		}
		brgWorld := math.Atan2(c.Y-sub.Y, c.X-sub.X)
		brgDeg := game.WorldToCompass(brgWorld) +
			(rand.Float64()*2 - 1) * sccfg.BrgSigmaDeg
		brgDeg = math.Mod(brgDeg+360, 360)
		sector := int(math.Floor(brgDeg / sectorDeg))
		rng := math.Max(0, edgeDist+(rand.Float64()*2-1)*sccfg.RngSigmaM)
		if cur, ok := best[sector]; !ok || rng < cur.RangeM {
			best[sector] = weatherScanSector{
				Sector:     sector,
				BearingDeg: float64(sector)*sectorDeg + sectorDeg/2,
				RangeM:     rng,
				MinDepth:   c.MinDepth,
				MaxDepth:   c.MaxDepth,
			}
		}
	}
	sectors := make([]weatherScanSector, 0, len(best))
	for _, sec := range best {
		sectors = append(sectors, sec)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"time":    now,
		"battery": sub.Battery,
		"sectors": sectors,
	})
	return nil
}

type launchBody struct {
	HeadingDeg *float64 `json:"heading_deg"`
	Depth      *float64 `json:"depth"`
	RangeM     *float64 `json:"range_m"`
}

func (s *Server) handleLaunchTorpedo(w http.ResponseWriter, r *http.Request, u *game.User, sub *game.Submarine) error {
	var body launchBody
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	if sub.TorpedoAmmo <= 0 {
		return badRequest("magazine empty")
	}
	tcfg := s.cfg.Torpedo

	heading := sub.Heading
	if body.HeadingDeg != nil {
		heading = game.CompassToWorld(*body.HeadingDeg)
	}
	depth := sub.Depth
	if body.Depth != nil {
		depth = math.Max(0, *body.Depth)
	}
	wire := tcfg.MaxRange / 2
	if body.RangeM != nil {
		wire = math.Min(*body.RangeM, tcfg.MaxRange)
	}

	now := unixNow()
	sub.TorpedoAmmo--
	tp := &game.Torpedo{
		ID:          uuid.NewString(),
		OwnerID:     u.ID,
		ParentSubID: sub.ID,
		X:           sub.X + math.Cos(sub.Heading)*game.NoseOffset,
		Y:           sub.Y + math.Sin(sub.Heading)*game.NoseOffset,
		Depth:       sub.Depth,
		TargetDepth: game.Float64Ptr(depth),
		Heading:     heading,
		Speed:       tcfg.Speed,
		TargetSpeed: tcfg.MinSpeed,
		CreatedAt:   now,
		UpdatedAt:   now,
		ControlMode: game.ControlModeWire,
		WireLength:  wire,
		Battery:     tcfg.Battery.Capacity,
	}
	s.gs.Torps[tp.ID] = tp
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"torpedo":      tp,
		"heading_deg":  game.WorldToCompass(tp.Heading),
		"torpedo_ammo": sub.TorpedoAmmo,
	})
	return nil
}

type reloadBody struct {
	Count *int `json:"count"`
}

func (s *Server) handleReloadTorpedoes(w http.ResponseWriter, r *http.Request, u *game.User, sub *game.Submarine) error {
	var body reloadBody
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	tcfg := s.cfg.Torpedo
	missing := tcfg.MagazineSize - sub.TorpedoAmmo
	if missing <= 0 {
		return badRequest("magazine already full")
	}
	count := missing
	if body.Count != nil {
		count = *body.Count
	}
	if count <= 0 {
		return badRequest("count must be positive")
	}
	if count > missing {
		count = missing
	}
	cost := float64(count) * tcfg.ReloadBatteryCostPerTorp
	if sub.Battery < cost {
		return errInsufficientBattery.withExtra("battery_needed", cost)
	}
	sub.Battery -= cost
	sub.TorpedoAmmo += count
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded":     count,
		"torpedo_ammo": sub.TorpedoAmmo,
		"battery":      sub.Battery,
	})
	return nil
}

func (s *Server) handleCallFueler(w http.ResponseWriter, r *http.Request, u *game.User, sub *game.Submarine) error {
	if s.gs.UserFueler(u.ID) != nil {
		return badRequest("fueler already active")
	}
	f := s.spawnFuelerNearSub(sub, unixNow())
	writeJSON(w, http.StatusCreated, map[string]interface{}{"fueler": f})
	return nil
}

// handleStartRefuel binds the boat to the nearest fueled fueler alongside
// (anyone's), forces the snorkel up and drives to snorkel depth.
func (s *Server) handleStartRefuel(w http.ResponseWriter, r *http.Request, u *game.User, sub *game.Submarine) error {
	if sub.RefuelActive {
		return badRequest("refuel already in progress")
	}
	var nearest *game.Fueler
	nearestD := math.Inf(1)
	for _, f := range s.gs.Fuelers {
		if f.Fuel <= 0 {
			continue
		}
		if d := game.Distance3D(sub.X, sub.Y, sub.Depth, f.X, f.Y, f.Depth); d < nearestD {
			nearest, nearestD = f, d
		}
	}
	if nearest == nil || nearestD > refuelMaxSeparationM {
		return badRequest("need to be within 50m of a fueler")
	}
	sub.RefuelActive = true
	sub.RefuelFuelerID = nearest.ID
	sub.RefuelTimer = 0
	sub.IsSnorkeling = true
	sub.TargetDepth = game.Float64Ptr(s.cfg.Sub.SnorkelDepth)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"refuel_active":  true,
		"hookup_delay_s": refuelHookupDelayS,
		"bound_fueler":   nearest,
	})
	return nil
}

type speedBody struct {
	Speed *float64 `json:"speed"`
}

func (s *Server) handleSetTorpSpeed(w http.ResponseWriter, r *http.Request, u *game.User, tp *game.Torpedo) error {
	var body speedBody
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	if body.Speed == nil {
		return badRequest("speed required")
	}
	tcfg := s.cfg.Torpedo
	tp.TargetSpeed = game.Clamp(*body.Speed, tcfg.MinSpeed, tcfg.MaxSpeed)
	writeJSON(w, http.StatusOK, map[string]interface{}{"target_speed": tp.TargetSpeed})
	return nil
}

type depthBody struct {
	Depth *float64 `json:"depth"`
}

func (s *Server) handleSetTorpDepth(w http.ResponseWriter, r *http.Request, u *game.User, tp *game.Torpedo) error {
	var body depthBody
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	if body.Depth == nil {
		return badRequest("depth required")
	}
	tp.TargetDepth = game.Float64Ptr(math.Max(0, *body.Depth))
	writeJSON(w, http.StatusOK, map[string]interface{}{"target_depth": *tp.TargetDepth})
	return nil
}

type torpHeadingBody struct {
	HeadingDeg *float64 `json:"heading_deg"`
	DT         *float64 `json:"dt"`
}

// handleSetTorpHeading slews the heading immediately, bounded by the turn
// rate over the supplied (or one-tick) window. Wire guidance only.
func (s *Server) handleSetTorpHeading(w http.ResponseWriter, r *http.Request, u *game.User, tp *game.Torpedo) error {
	if tp.ControlMode != game.ControlModeWire {
		return badRequest("torpedo is running free")
	}
	var body torpHeadingBody
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	if body.HeadingDeg == nil {
		return badRequest("heading_deg required")
	}
	dt := s.cfg.TickInterval()
	if body.DT != nil && *body.DT > 0 {
		dt = math.Min(*body.DT, 1)
	}
	maxStep := game.Deg2Rad(s.cfg.Torpedo.TurnRateDegS) * dt
	want := game.CompassToWorld(*body.HeadingDeg)
	delta := game.Clamp(game.WrapAngle(want-tp.Heading), -maxStep, maxStep)
	tp.Heading = game.WrapAngle(tp.Heading + delta)
	tp.TargetHeading = nil
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"heading_deg": game.WorldToCompass(tp.Heading),
	})
	return nil
}

func (s *Server) handleSetTorpTargetHeading(w http.ResponseWriter, r *http.Request, u *game.User, tp *game.Torpedo) error {
	if tp.ControlMode != game.ControlModeWire {
		return badRequest("torpedo is running free")
	}
	var body headingBody
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	if body.HeadingDeg == nil {
		return badRequest("heading_deg required")
	}
	tp.TargetHeading = game.Float64Ptr(game.CompassToWorld(*body.HeadingDeg))
	tp.PendingTurnDeg = nil
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"target_heading_deg": game.WorldToCompass(*tp.TargetHeading),
	})
	return nil
}

type toggleBody struct {
	On *bool `json:"on"`
}

func (s *Server) handleTorpPassiveSonarToggle(w http.ResponseWriter, r *http.Request, u *game.User, tp *game.Torpedo) error {
	if tp.ControlMode != game.ControlModeWire {
		return badRequest("torpedo is running free")
	}
	var body toggleBody
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	want := !tp.PassiveSonarActive
	if body.On != nil {
		want = *body.On
	}
	tp.PassiveSonarActive = want
	writeJSON(w, http.StatusOK, map[string]interface{}{"passive_sonar_active": want})
	return nil
}

type torpPingBody struct {
	RangeM float64 `json:"max_range"`
}

// handleTorpPing fires one manual seeker sweep with a fixed 30 degree
// beam. Unlike the auto-pinger, the cost is paid whether or not anything
// comes back, and the returns go straight into the HTTP response.
func (s *Server) handleTorpPing(w http.ResponseWriter, r *http.Request, u *game.User, tp *game.Torpedo) error {
	acfg := s.cfg.Torpedo.Sonar.Active
	body := torpPingBody{RangeM: 800}
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	rangeM := math.Min(body.RangeM, acfg.MaxRange)
	beamDeg := math.Min(30, acfg.MaxAngle)

	bcfg := s.cfg.Torpedo.Battery
	if tp.Battery < math.Max(bcfg.ActivePingCost, bcfg.MinForPing) {
		return errInsufficientBattery
	}

	contacts := []TorpedoPingContact{}
	halfBeam := game.Deg2Rad(beamDeg / 2)
	for _, tgt := range s.gs.Subs {
		if tgt.OwnerID == tp.OwnerID || tgt.Health <= 0 {
			continue
		}
		rng := game.Distance3D(tp.X, tp.Y, tp.Depth, tgt.X, tgt.Y, tgt.Depth)
		if rng > rangeM {
			continue
		}
		brg := math.Atan2(tgt.Y-tp.Y, tgt.X-tp.X)
		if math.Abs(game.WrapAngle(brg-tp.Heading)) > halfBeam {
			continue
		}
		contacts = append(contacts, TorpedoPingContact{
			Bearing: brg,
			Range:   rng + (rand.Float64()*2-1)*acfg.RngSigmaM,
			Depth:   tgt.Depth + (rand.Float64()*2-1)*20,
		})
	}

	tp.Battery = math.Max(0, tp.Battery-bcfg.ActivePingCost)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"contacts":          contacts,
		"battery_remaining": tp.Battery,
	})
	return nil
}

func (s *Server) handleTorpPingToggle(w http.ResponseWriter, r *http.Request, u *game.User, tp *game.Torpedo) error {
	var body toggleBody
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	want := !tp.ActiveSonarEnabled
	if body.On != nil {
		want = *body.On
	}
	tp.ActiveSonarEnabled = want
	writeJSON(w, http.StatusOK, map[string]interface{}{"active_sonar_enabled": want})
	return nil
}

func (s *Server) handleDetonate(w http.ResponseWriter, r *http.Request, u *game.User, tp *game.Torpedo) error {
	hits := s.detonateTorpedo(tp, unixNow())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"detonated": true,
		"hits":      len(hits),
	})
	return nil
}

func (s *Server) handleAdminState(w http.ResponseWriter, r *http.Request) {
	s.gs.Mu.RLock()
	defer s.gs.Mu.RUnlock()
	u, err := s.userFromRequest(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !u.IsAdmin {
		writeErr(w, forbidden("admin only"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"time":       unixNow(),
		"users":      len(s.gs.Users),
		"subs":       s.gs.Subs,
		"torpedoes":  s.gs.Torps,
		"fuelers":    s.gs.Fuelers,
		"clouds":     s.gs.Weather.Clouds,
		"objectives": s.gs.Objectives,
	})
}
