package game

import "math"

// LiftFactor converts pitch and forward speed into vertical motion.
const LiftFactor = 0.45

// minControlSpeed is the forward speed below which a submarine starts to
// lose hydrodynamic depth control and sinks.
const minControlSpeed = 2.0

// UpdateSubmarine integrates one tick of submarine motion, energy and
// damage. Order matters: servos, heading, pitch, speed, vertical dynamics,
// position, battery/fuel, snorkel, mooring, crush and weather damage.
func UpdateSubmarine(s *Submarine, w *WeatherField, cfg *Config, dt, now float64) {
	scfg := &cfg.Sub
	yawRateRad := Deg2Rad(scfg.YawRateDegS)
	pitchRate := Deg2Rad(scfg.PitchRateDegS)

	// Rudder servo. Powerless boats keep whatever angle they had.
	maxRudderRad := Deg2Rad(scfg.MaxRudderDeg)
	maxRudderStep := Deg2Rad(scfg.RudderRateDegS) * dt
	s.RudderCmd = Clamp(s.RudderCmd, -1, 1)
	if s.Battery > 0 {
		target := s.RudderCmd * maxRudderRad
		s.RudderAngle += Clamp(target-s.RudderAngle, -maxRudderStep, maxRudderStep)
		s.RudderAngle = Clamp(s.RudderAngle, -maxRudderRad, maxRudderRad)
	}

	// Heading: autopilot steering when a target heading is set, otherwise
	// manual rudder.
	if s.TargetHeading != nil {
		headingErr := WrapAngle(*s.TargetHeading - s.Heading)
		turnRate := Clamp(headingErr*0.5, -yawRateRad, yawRateRad)
		s.Heading = WrapAngle(s.Heading + turnRate*dt)
		if math.Abs(headingErr) < Deg2Rad(2) {
			s.TargetHeading = nil
		}
	} else {
		rudderFrac := 0.0
		if maxRudderRad != 0 {
			rudderFrac = s.RudderAngle / maxRudderRad
		}
		s.Heading = WrapAngle(s.Heading + yawRateRad*rudderFrac*dt)
	}

	// Planes drive pitch, also battery-gated.
	targetPitch := Clamp(s.Planes*scfg.PlanesEffect, -1, 1) * Deg2Rad(30)
	if s.Battery > 0 {
		s.Pitch += Clamp(targetPitch-s.Pitch, -pitchRate*dt, pitchRate*dt)
	}

	// Speed. Diesels on the snorkel cap performance; a dead battery or an
	// active refuel kills propulsion entirely.
	maxSpd := scfg.MaxSpeed
	if s.IsSnorkeling {
		maxSpd *= 0.75
	}
	targetSpeed := 0.0
	if s.Battery > 0 && !s.RefuelActive {
		targetSpeed = Clamp(s.Throttle, 0, 1) * maxSpd
	}
	maxChange := scfg.Acceleration * dt
	s.Speed += Clamp(targetSpeed-s.Speed, -maxChange, maxChange)

	// A fully dead battery (with no blow running) turns the boat into a
	// powerless hull: depth hold stops working and the planes neutralize.
	if s.Battery <= 0 && !s.BlowActive {
		s.TargetDepth = nil
		s.Planes = 0
	}

	// Vertical dynamics.
	vDown := scfg.NeutralBias * (1 - s.Throttle)
	if s.Speed < minControlSpeed {
		speedFactor := s.Speed / minControlSpeed
		vDown += (1 - speedFactor) * 0.8
	}

	eb := &scfg.EmergencyBlow
	if s.BlowActive && now < s.BlowEnd && s.BlowCharge > 0 {
		vDown -= eb.UpwardMPS
		s.BlowCharge = Clamp(s.BlowCharge-dt/eb.DurationS, 0, 1)
	} else {
		s.BlowActive = false
	}

	// Depth-hold autopilot engages only when the planes are near neutral.
	if s.TargetDepth != nil && math.Abs(s.Planes) < 0.05 {
		errM := *s.TargetDepth - s.Depth
		apPitch := Clamp(-errM*Deg2Rad(0.5), -Deg2Rad(30), Deg2Rad(30))
		s.Pitch += Clamp(apPitch-s.Pitch, -pitchRate*dt, pitchRate*dt)
		vDown += Clamp(errM*0.02, -1.5, 1.5)
	}

	vDown -= math.Sin(s.Pitch) * math.Max(0, s.Speed) * LiftFactor

	s.Depth = math.Max(0, s.Depth+vDown*dt)
	s.X += math.Cos(s.Heading) * s.Speed * dt
	s.Y += math.Sin(s.Heading) * s.Speed * dt

	// Battery drain with a quadratic penalty above half speed.
	bcfg := &scfg.Battery
	speedRatio := s.Speed / maxSpd
	drainMult := 1.0
	if speedRatio > 0.5 {
		excess := speedRatio - 0.5
		drainMult = 1 + (excess*2)*(excess*2)*bcfg.HighSpeedMultiplier
	}
	if s.RefuelActive {
		// Propulsion is frozen alongside the fueler.
		s.Throttle = 0
	} else {
		drain := s.Throttle * bcfg.DrainPerThrottleS * drainMult * dt
		s.Battery = Clamp(s.Battery-drain, 0, 100)
	}

	// Snorkel recharge burns diesel fuel, 1 fuel unit per battery percent.
	if s.IsSnorkeling && s.Depth <= scfg.SnorkelDepth {
		hasFuel := s.Fuel > 0
		if bcfg.RechargePerSSnorkel > 0 && hasFuel {
			potential := bcfg.RechargePerSSnorkel * dt
			headroom := 100 - s.Battery
			delta := math.Min(potential, math.Min(s.Fuel, headroom))
			if delta > 0 {
				s.Battery = Clamp(s.Battery+delta, 0, 100)
				s.Fuel = math.Max(0, s.Fuel-delta)
			}
		}
		// The blow system also recharges off the diesels.
		if hasFuel {
			s.BlowCharge = Clamp(s.BlowCharge+eb.RechargePerSSnorkel*dt, 0, 1)
		}
	}

	// Snorkel auto-off with hysteresis; refueling pins the snorkel on.
	if !s.RefuelActive && s.IsSnorkeling && s.Depth > scfg.SnorkelDepth+scfg.SnorkelOffHysteresis {
		s.IsSnorkeling = false
	}

	if s.RefuelActive {
		// Moor at snorkel depth so the hull doesn't sink mid-transfer.
		s.Depth = math.Max(0, scfg.SnorkelDepth)
	} else if s.Depth > scfg.CrushDepth {
		over := s.Depth - scfg.CrushDepth
		dps := (over / 100) * scfg.CrushDPSPer100m
		s.Health = math.Max(0, s.Health-dps*dt)
	}

	// Hazard clouds only hurt outside the ring.
	if w != nil && w.OutsideRing(s.X, s.Y) {
		if cloudDPS := w.DamageAt(s.X, s.Y, s.Depth); cloudDPS > 0 {
			s.Health = math.Max(0, s.Health-cloudDPS*dt)
		}
	}
}

// torpSpeedAccel is the torpedo speed servo slew rate in m/s^2.
const torpSpeedAccel = 5.0

// UpdateTorpedo integrates one tick of torpedo motion and energy, and
// raises the per-tick flags the weapons stage resolves. Wire severance is
// handled separately by the weapons stage.
func UpdateTorpedo(t *Torpedo, cfg *Config, dt, now float64) {
	tcfg := &cfg.Torpedo
	turnRate := Deg2Rad(tcfg.TurnRateDegS)

	target := Clamp(t.TargetSpeed, tcfg.MinSpeed, tcfg.MaxSpeed)
	maxChange := torpSpeedAccel * dt
	t.Speed += Clamp(target-t.Speed, -maxChange, maxChange)

	if !t.HasStart {
		t.StartX = t.X
		t.StartY = t.Y
		if t.CreatedAt == 0 {
			t.CreatedAt = now
		}
		t.HasStart = true
	}

	// Guidance: steer to a target heading, or burn down a one-shot turn.
	if t.TargetHeading != nil {
		da := WrapAngle(*t.TargetHeading - t.Heading)
		step := Clamp(da, -turnRate*dt, turnRate*dt)
		t.Heading = WrapAngle(t.Heading + step)
	} else if t.PendingTurnDeg != nil {
		want := Deg2Rad(*t.PendingTurnDeg)
		step := Clamp(want, -turnRate*dt, turnRate*dt)
		t.Heading = WrapAngle(t.Heading + step)
		rem := want - step
		if math.Abs(rem) > 1e-4 {
			t.PendingTurnDeg = Float64Ptr(Rad2Deg(rem))
		} else {
			t.PendingTurnDeg = nil
		}
	}

	if t.TargetDepth != nil {
		dz := *t.TargetDepth - t.Depth
		t.Depth += Clamp(dz, -tcfg.DepthRateMS*dt, tcfg.DepthRateMS*dt)
	}

	t.X += math.Cos(t.Heading) * t.Speed * dt
	t.Y += math.Sin(t.Heading) * t.Speed * dt

	// Battery burns with speed squared: sprinting shortens effective range.
	speedForDrain := math.Max(0, t.Speed)
	t.Battery = math.Max(0, t.Battery-tcfg.Battery.DrainPerMpsS*speedForDrain*speedForDrain*dt)

	if t.Battery <= 0 && !t.BatteryDead {
		// Shut everything down; the weapons stage detonates it in place.
		t.Speed = 0
		t.TargetSpeed = 0
		t.PassiveSonarActive = false
		t.ActiveSonarEnabled = false
		t.BatteryDead = true
	}

	if Distance(t.X, t.Y, t.StartX, t.StartY) > tcfg.MaxRange {
		t.Expired = true
		return
	}

	t.CheckProx = tcfg.ProximityFuzeM > 0 && now-t.CreatedAt >= tcfg.ArmingDelayS
}
