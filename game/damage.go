package game

// BlastHit records the effect of one torpedo detonation on one submarine.
type BlastHit struct {
	Sub      *Submarine
	Damage   float64
	Distance float64
	Killed   bool
}

// BlastDamage maps slant distance to hull damage using stepped bands.
// Inside 60 m the hit is lethal to a healthy boat.
func BlastDamage(dist, blastRadius float64) float64 {
	switch {
	case dist <= 60:
		return 100
	case dist <= 80:
		return 75
	case dist <= 100:
		return 50
	case dist <= blastRadius:
		return 25
	default:
		return 0
	}
}

// ExplodeTorpedo applies a detonation to every submarine in blast range and
// returns the hits. A kill credits the owner's surviving boats: +1 kill and
// +100 score on one of them. The torpedo itself is only flagged for
// deletion, never removed here.
func ExplodeTorpedo(gs *GameState, t *Torpedo, blastRadius float64) []BlastHit {
	var hits []BlastHit
	for _, s := range gs.Subs {
		if s.Health <= 0 {
			continue
		}
		dist := Distance3D(t.X, t.Y, t.Depth, s.X, s.Y, s.Depth)
		if dist > blastRadius {
			continue
		}
		dmg := BlastDamage(dist, blastRadius)
		if dmg <= 0 {
			continue
		}
		wasAlive := s.Health > 0
		s.Health = Clamp(s.Health-dmg, 0, 100)
		killed := wasAlive && s.Health <= 0
		hits = append(hits, BlastHit{Sub: s, Damage: dmg, Distance: dist, Killed: killed})
		if killed && s.OwnerID != t.OwnerID {
			creditKill(gs, t.OwnerID)
		}
	}
	t.Delete = true
	return hits
}

// creditKill awards a kill to one of the killer's surviving submarines.
func creditKill(gs *GameState, killerUserID int64) {
	for _, s := range gs.Subs {
		if s.OwnerID == killerUserID && s.Health > 0 {
			s.Kills++
			s.Score += 100
			return
		}
	}
}
