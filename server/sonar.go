package server

import (
	"math"
	"math/rand"

	"subbrawl/game"
)

// Passive falloff and classification constants. Falloff is SNR lost per
// kilometer of horizontal range; deep targets lose a further point per
// 200 m of depth. Class bounds map range to a confidence bucket.
const (
	subFalloffPerKm  = 2.0
	subSNRThreshold  = 5.0
	subClassShortM   = 1200.0
	subClassMediumM  = 3000.0
	torpFalloffPerKm = 2.5
	torpSNRThreshold = 4.0
	torpClassShortM  = 1000.0
	torpClassMediumM = 2500.0

	seekerSNRThreshold = 3.0
	seekerClassShortM  = 800.0
	seekerClassMediumM = 1500.0
	seekerBeamHalfDeg  = 105.0

	// An emergency blow carries far beyond normal detection range.
	blowContactRangeM = 8000.0
	blowSNRBonus      = 25.0

	// Audibility of someone else's active ping.
	pingAudibleThreshold = 1.0

	subPingCooldownS = 5.0
)

// pendingEcho is one active sonar return in flight. Bearing and range are
// frozen at ping time; the echo resolves when the two-way travel time
// elapses.
type pendingEcho struct {
	userID     int64
	observerID string
	eta        float64
	level      float64
	rng        float64
	bearing    float64
	tgtDepth   float64
}

// contactJitterDeg picks the bearing error sigma for a passive contact.
// Shallow targets ride above the thermal layer and cut a crisp bearing.
func contactJitterDeg(targetDepth, configured float64) float64 {
	if targetDepth < 50 {
		return 1.0
	}
	return configured
}

func rangeClass(rng, shortM, mediumM float64) string {
	switch {
	case rng < shortM:
		return "short"
	case rng < mediumM:
		return "medium"
	default:
		return "long"
	}
}

func randInterval(r [2]float64) float64 {
	return r[0] + rand.Float64()*(r[1]-r[0])
}

// weatherLoss sums the acoustic attenuation between two points: the flat
// storm loss when either end is beyond the ring, the worst cloud sitting
// on either end, and the worst cloud cut by the path between them. All of
// it is waived inside the close-hear range where direct-path sound wins.
func (s *Server) weatherLoss(dist, x1, y1, d1, x2, y2, d2 float64) float64 {
	if dist < s.cfg.World.Weather.CloudCloseHearM {
		return 0
	}
	w := s.gs.Weather
	loss := 0.0
	if w.OutsideRing(x1, y1) || w.OutsideRing(x2, y2) {
		loss += s.cfg.World.Weather.SonarAttenuationDB
	}
	loss += math.Max(w.AttenuationAt(x1, y1, d1), w.AttenuationAt(x2, y2, d2))
	loss += w.Occlusion(x1, y1, d1, x2, y2, d2)
	return loss
}

// subTargetBase is the raw noise level a submarine target puts in the
// water before propagation losses.
func (s *Server) subTargetBase(tgt *game.Submarine, now float64) float64 {
	pcfg := s.cfg.Sonar.Passive
	base := pcfg.BaseSNR + pcfg.SpeedNoiseGain*(tgt.Speed/s.cfg.Sub.MaxSpeed)
	if tgt.IsSnorkeling {
		base += pcfg.SnorkelBonus
	}
	if tgt.BlowActive {
		base += blowSNRBonus
	}
	if now < tgt.ScannerNoiseUntil {
		base += pcfg.ScannerNoiseBonusDB
	}
	return base
}

// schedulePassiveContacts runs the passive sonar picture for every
// submarine observer. Each observer reports at most one contact per pass:
// submarines are checked before torpedoes, and the report clock only
// advances when something was actually heard. Caller holds the world lock.
func (s *Server) schedulePassiveContacts(now float64) {
	pcfg := s.cfg.Sonar.Passive
	acfg := s.cfg.Sonar.Active

	for _, obs := range s.gs.Subs {
		if obs.Health <= 0 || now-obs.LastReport < randInterval(pcfg.ReportIntervalS) {
			continue
		}
		if !s.hub.HasSubscribers(obs.OwnerID) {
			continue
		}
		if s.reportSubContact(obs, acfg.MaxRange, now) {
			continue
		}
		s.reportTorpedoContact(obs, 0.8*acfg.MaxRange, now)
	}

	s.runTorpedoSeekers(now)
}

// reportSubContact emits the first audible foreign submarine, if any.
func (s *Server) reportSubContact(obs *game.Submarine, maxRange, now float64) bool {
	pcfg := s.cfg.Sonar.Passive
	for _, tgt := range s.gs.Subs {
		if tgt.ID == obs.ID || tgt.Health <= 0 {
			continue
		}
		rng := game.Distance(obs.X, obs.Y, tgt.X, tgt.Y)
		limit := maxRange
		if tgt.BlowActive {
			limit = blowContactRangeM
		}
		if rng > limit {
			continue
		}
		snr := s.subTargetBase(tgt, now) - (rng/1000)*subFalloffPerKm - tgt.Depth/200
		snr -= s.weatherLoss(rng, obs.X, obs.Y, obs.Depth, tgt.X, tgt.Y, tgt.Depth)
		if snr < subSNRThreshold {
			continue
		}

		contactType := "submarine"
		if tgt.BlowActive {
			contactType = "emergency_blow"
		}
		jitter := contactJitterDeg(tgt.Depth, pcfg.BearingJitterDeg)
		brg := math.Atan2(tgt.Y-obs.Y, tgt.X-obs.X) + rand.NormFloat64()*game.Deg2Rad(jitter)
		brg = game.WrapAngle(brg)
		s.hub.Publish(obs.OwnerID, Event{Name: "contact", Data: ContactEvent{
			Type:            "passive",
			ObserverSubID:   obs.ID,
			Bearing:         brg,
			BearingRelative: game.WrapAngle(brg - obs.Heading),
			RangeClass:      rangeClass(rng, subClassShortM, subClassMediumM),
			SNR:             snr,
			ContactType:     contactType,
			Time:            now,
		}})
		obs.LastReport = now
		return true
	}
	return false
}

// reportTorpedoContact emits the first audible foreign torpedo, if any.
// Torpedoes run hot and loud for their size but are hard to hold at range.
func (s *Server) reportTorpedoContact(obs *game.Submarine, maxRange, now float64) bool {
	pcfg := s.cfg.Sonar.Passive
	for _, tgt := range s.gs.Torps {
		if tgt.OwnerID == obs.OwnerID || tgt.BatteryDead {
			continue
		}
		rng := game.Distance(obs.X, obs.Y, tgt.X, tgt.Y)
		if rng > maxRange {
			continue
		}
		base := pcfg.BaseSNR*1.2 + pcfg.SpeedNoiseGain*(tgt.Speed/s.cfg.Torpedo.Speed)*2
		snr := base - (rng/1000)*torpFalloffPerKm - tgt.Depth/200
		snr -= s.weatherLoss(rng, obs.X, obs.Y, obs.Depth, tgt.X, tgt.Y, tgt.Depth)
		if snr < torpSNRThreshold {
			continue
		}

		jitter := contactJitterDeg(tgt.Depth, pcfg.BearingJitterDeg*1.2)
		brg := math.Atan2(tgt.Y-obs.Y, tgt.X-obs.X) + rand.NormFloat64()*game.Deg2Rad(jitter)
		brg = game.WrapAngle(brg)
		s.hub.Publish(obs.OwnerID, Event{Name: "contact", Data: ContactEvent{
			Type:            "passive",
			ObserverSubID:   obs.ID,
			Bearing:         brg,
			BearingRelative: game.WrapAngle(brg - obs.Heading),
			RangeClass:      rangeClass(rng, torpClassShortM, torpClassMediumM),
			SNR:             snr,
			ContactType:     "torpedo",
			Time:            now,
		}})
		obs.LastReport = now
		return true
	}
	return false
}

// runTorpedoSeekers handles the passive seeker reports and the automatic
// active pinger on torpedoes. Caller holds the world lock.
func (s *Server) runTorpedoSeekers(now float64) {
	tscfg := s.cfg.Torpedo.Sonar
	pcfg := s.cfg.Sonar.Passive

	for _, tp := range s.gs.Torps {
		if tp.BatteryDead || !tp.PassiveSonarActive {
			continue
		}
		if now-tp.LastSonarContact < randInterval(tscfg.Passive.ReportIntervalS) {
			continue
		}

		for _, tgt := range s.gs.Subs {
			if tgt.OwnerID == tp.OwnerID || tgt.Health <= 0 {
				continue
			}
			rng := game.Distance(tp.X, tp.Y, tgt.X, tgt.Y)
			if rng > tscfg.Passive.MaxRange {
				continue
			}
			// 210 degree forward arc; the stern baffle is deaf.
			brg := math.Atan2(tgt.Y-tp.Y, tgt.X-tp.X)
			if math.Abs(game.WrapAngle(brg-tp.Heading)) > game.Deg2Rad(seekerBeamHalfDeg) {
				continue
			}
			base := pcfg.BaseSNR + pcfg.SpeedNoiseGain*(tgt.Speed/s.cfg.Sub.MaxSpeed)
			if tgt.IsSnorkeling {
				base += pcfg.SnorkelBonus
			}
			if tgt.BlowActive {
				base += blowSNRBonus
			}
			snr := base - (rng/1000)*subFalloffPerKm - tgt.Depth/200
			snr -= s.weatherLoss(rng, tp.X, tp.Y, tp.Depth, tgt.X, tgt.Y, tgt.Depth)
			if snr < seekerSNRThreshold {
				continue
			}

			jitter := contactJitterDeg(tgt.Depth, tscfg.Passive.BearingJitterDeg)
			noisy := game.WrapAngle(brg + rand.NormFloat64()*game.Deg2Rad(jitter))
			tp.PassiveSonarBearing = noisy
			tp.LastSonarContact = now
			s.hub.Publish(tp.OwnerID, Event{Name: "torpedo_contact", Data: TorpedoContactEvent{
				Type:            "passive",
				TorpedoID:       tp.ID,
				Bearing:         noisy,
				BearingRelative: game.WrapAngle(noisy - tp.Heading),
				RangeClass:      rangeClass(rng, seekerClassShortM, seekerClassMediumM),
				SNR:             snr,
				ContactType:     "submarine",
				Time:            now,
			}})
			break
		}
	}

	for _, tp := range s.gs.Torps {
		if tp.BatteryDead || !tp.ActiveSonarEnabled {
			continue
		}
		if now-tp.LastActivePing < tscfg.Active.PingIntervalS {
			continue
		}
		s.torpedoActivePing(tp, game.Deg2Rad(15), now)
	}
}

// torpedoActivePing runs one seeker sweep with the given half-beam and
// publishes the returns as a single torpedo_ping event. Battery is charged
// only when something actually came back.
func (s *Server) torpedoActivePing(tp *game.Torpedo, halfBeamRad, now float64) (TorpedoPingEvent, bool) {
	bcfg := s.cfg.Torpedo.Battery
	acfg := s.cfg.Torpedo.Sonar.Active
	if tp.Battery < math.Max(bcfg.ActivePingCost, bcfg.MinForPing) {
		return TorpedoPingEvent{}, false
	}

	var contacts []TorpedoPingContact
	for _, tgt := range s.gs.Subs {
		if tgt.OwnerID == tp.OwnerID || tgt.Health <= 0 {
			continue
		}
		rng := game.Distance3D(tp.X, tp.Y, tp.Depth, tgt.X, tgt.Y, tgt.Depth)
		if rng > acfg.MaxRange {
			continue
		}
		brg := math.Atan2(tgt.Y-tp.Y, tgt.X-tp.X)
		if math.Abs(game.WrapAngle(brg-tp.Heading)) > halfBeamRad {
			continue
		}
		contacts = append(contacts, TorpedoPingContact{
			Bearing: brg,
			Range:   rng + (rand.Float64()*2-1)*20,
			Depth:   tgt.Depth + (rand.Float64()*2-1)*20,
		})
	}

	tp.LastActivePing = now
	if len(contacts) == 0 {
		return TorpedoPingEvent{}, false
	}
	tp.Battery = math.Max(0, tp.Battery-bcfg.ActivePingCost)
	ev := TorpedoPingEvent{TorpedoID: tp.ID, Contacts: contacts, Time: now}
	s.hub.Publish(tp.OwnerID, Event{Name: "torpedo_ping", Data: ev})
	return ev, true
}

// PingResult is the immediate response to a submarine active ping.
type PingResult struct {
	OK               bool    `json:"ok"`
	Cost             float64 `json:"battery_cost"`
	BatteryRemaining float64 `json:"battery_remaining"`
	BeamDeg          float64 `json:"beam_deg"`
	MaxRange         float64 `json:"max_range"`
	EchoCount        int     `json:"echoes_scheduled"`
}

// scheduleActivePing emits a submarine active pulse centered centerRelDeg
// off the bow: it charges the battery, schedules delayed echoes for
// targets inside the beam, and alerts every other boat that can hear the
// pulse. Caller holds the world lock.
func (s *Server) scheduleActivePing(sub *game.Submarine, beamDeg, rangeM, centerRelDeg, now float64) (PingResult, error) {
	acfg := s.cfg.Sonar.Active
	power := s.cfg.Sonar.Power

	beamDeg = math.Min(beamDeg, acfg.MaxAngle)
	rangeM = math.Min(rangeM, acfg.MaxRange)

	cost := power.BaseCost + beamDeg*power.CostPerDegree + (rangeM/100)*power.CostPer100m
	if sub.Battery < power.MinBattery || sub.Battery < cost {
		return PingResult{}, errInsufficientBattery
	}
	sub.Battery = game.Clamp(sub.Battery-cost, 0, 100)

	if now < sub.PingCooldownUntil {
		return PingResult{}, errPingCooldown
	}
	sub.PingCooldownUntil = now + subPingCooldownS

	center := game.WrapAngle(sub.Heading + game.Deg2Rad(centerRelDeg))
	halfBeam := game.Deg2Rad(beamDeg / 2)

	// Narrow beams focus the transmit power into a cleaner return.
	focusBonus := math.Max(0, (90-beamDeg)/90) * 6

	scheduled := 0
	for _, tgt := range s.gs.Subs {
		if tgt.ID == sub.ID || tgt.Health <= 0 {
			continue
		}
		rng := game.Distance3D(sub.X, sub.Y, sub.Depth, tgt.X, tgt.Y, tgt.Depth)
		if rng > rangeM {
			continue
		}
		brg := math.Atan2(tgt.Y-sub.Y, tgt.X-sub.X)
		if math.Abs(game.WrapAngle(brg-center)) > halfBeam {
			continue
		}
		level := 18 - rng/400 + focusBonus
		if tgt.IsSnorkeling {
			level += 8
		}
		level -= s.weatherLoss(rng, sub.X, sub.Y, sub.Depth, tgt.X, tgt.Y, tgt.Depth)

		s.echoMu.Lock()
		s.pendingEchoes = append(s.pendingEchoes, pendingEcho{
			userID:     sub.OwnerID,
			observerID: sub.ID,
			eta:        now + 2*rng/acfg.SoundSpeed,
			level:      level,
			rng:        rng,
			bearing:    brg,
			tgtDepth:   tgt.Depth,
		})
		s.echoMu.Unlock()
		scheduled++
	}

	// A pulse that strong is audible well beyond its own echo range.
	for _, other := range s.gs.Subs {
		if other.ID == sub.ID || other.Health <= 0 {
			continue
		}
		dist := game.Distance(sub.X, sub.Y, other.X, other.Y)
		snr := 15*(beamDeg/90) + (rangeM/1000)*3 - dist/600
		if snr <= pingAudibleThreshold {
			continue
		}
		brg := math.Atan2(sub.Y-other.Y, sub.X-other.X)
		s.hub.Publish(other.OwnerID, Event{Name: "contact", Data: ContactEvent{
			Type:            "active_ping_detected",
			ObserverSubID:   other.ID,
			Bearing:         brg,
			BearingRelative: game.WrapAngle(brg - other.Heading),
			SNR:             snr,
			Time:            now,
		}})
	}

	return PingResult{
		OK:               true,
		Cost:             cost,
		BatteryRemaining: sub.Battery,
		BeamDeg:          beamDeg,
		MaxRange:         rangeM,
		EchoCount:        scheduled,
	}, nil
}

// resolvePendingEchoes delivers echoes whose two-way travel time has
// elapsed. Bearing, range and depth errors all shrink as the return level
// rises. Caller holds the world lock.
func (s *Server) resolvePendingEchoes(now float64) {
	s.echoMu.Lock()
	var due []pendingEcho
	keep := s.pendingEchoes[:0]
	for _, pe := range s.pendingEchoes {
		if pe.eta <= now {
			due = append(due, pe)
		} else {
			keep = append(keep, pe)
		}
	}
	s.pendingEchoes = keep
	s.echoMu.Unlock()

	acfg := s.cfg.Sonar.Active
	for _, pe := range due {
		q := 1 / (1 + math.Exp(-(pe.level-10)/6))

		brgNoise := game.Deg2Rad(acfg.BrgSigmaDeg) * (1 - q)
		estBrg := game.WrapAngle(pe.bearing + (rand.Float64()*2-1)*brgNoise)
		rngNoise := math.Max(5, acfg.RngSigmaM*(1-q))
		estRng := math.Max(1, pe.rng+(rand.Float64()*2-1)*rngNoise)
		depthNoise := math.Max(15, (estRng/50)*(1-q)*25)
		estDepth := math.Max(0, pe.tgtDepth+(rand.Float64()*2-1)*depthNoise)

		obsHeading := 0.0
		if obs := s.gs.Subs[pe.observerID]; obs != nil {
			obsHeading = obs.Heading
		}
		s.hub.Publish(pe.userID, Event{Name: "echo", Data: EchoEvent{
			Type:            "active",
			ObserverSubID:   pe.observerID,
			Bearing:         estBrg,
			BearingRelative: game.WrapAngle(estBrg - obsHeading),
			Range:           estRng,
			EstimatedDepth:  estDepth,
			Quality:         q,
			Time:            now,
		}})
	}
}
