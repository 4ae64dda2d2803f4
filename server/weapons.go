package server

import (
	"log"

	"subbrawl/game"
)

// wireBreakDistanceM is how far a wire-guided torpedo may range from its
// parent before the wire parts.
func (s *Server) wireBreakDistance(t *game.Torpedo) float64 {
	return t.WireLength
}

// processWireLinks severs guidance wires whose parent is gone or out of
// reach. A severed torpedo keeps its last commands and runs free.
func (s *Server) processWireLinks(now float64) {
	for _, tp := range s.gs.Torps {
		if tp.ControlMode != game.ControlModeWire {
			continue
		}
		parent := s.gs.Subs[tp.ParentSubID]
		reason := ""
		switch {
		case parent == nil || parent.Health <= 0:
			reason = "parent_lost"
		case game.Distance(tp.X, tp.Y, parent.X, parent.Y) > s.wireBreakDistance(tp):
			reason = "range_exceeded"
		}
		if reason == "" {
			continue
		}
		tp.ControlMode = game.ControlModeFree
		s.hub.Publish(tp.OwnerID, Event{Name: "wire_cut", Data: WireCutEvent{
			Time:      now,
			TorpedoID: tp.ID,
			Reason:    reason,
		}})
		log.Printf("[WEAPONS] Torpedo %.8s wire cut (%s)", tp.ID, reason)
	}
}

// processExplosions resolves every torpedo flagged for detonation this
// tick: battery death and the proximity fuze. A torpedo that runs out its
// range budget fizzles and is removed without a blast. The blast and kill
// accounting happen in the game package; this stage handles events and
// removal.
func (s *Server) processExplosions(now float64) {
	for _, tp := range s.gs.Torps {
		if tp.Delete {
			// Already detonated by a handler this tick.
			delete(s.gs.Torps, tp.ID)
			continue
		}
		if tp.Expired {
			delete(s.gs.Torps, tp.ID)
			log.Printf("[WEAPONS] Torpedo %.8s expired at max range", tp.ID)
			continue
		}
		detonate := tp.BatteryDead
		if !detonate && tp.CheckProx {
			detonate = s.proximityTriggered(tp)
		}
		if !detonate {
			continue
		}
		s.detonateTorpedo(tp, now)
	}
}

// proximityTriggered checks the fuze against every enemy submarine, with a
// standoff guard around the parent boat. Battery-death detonations bypass
// this entirely.
func (s *Server) proximityTriggered(tp *game.Torpedo) bool {
	fuze := s.cfg.Torpedo.ProximityFuzeM
	if fuze <= 0 {
		return false
	}
	parent := s.gs.Subs[tp.ParentSubID]
	for _, sub := range s.gs.Subs {
		if sub.OwnerID == tp.OwnerID || sub.Health <= 0 {
			continue
		}
		if game.Distance3D(tp.X, tp.Y, tp.Depth, sub.X, sub.Y, sub.Depth) > fuze {
			continue
		}
		if parent != nil &&
			game.Distance3D(tp.X, tp.Y, tp.Depth, parent.X, parent.Y, parent.Depth) < game.MinSafeDistance {
			continue
		}
		return true
	}
	return false
}

// detonateTorpedo applies the blast, notifies every victim's owner and
// removes the torpedo. Caller holds the world lock.
func (s *Server) detonateTorpedo(tp *game.Torpedo, now float64) []game.BlastHit {
	blast := s.cfg.Torpedo.BlastRadius
	hits := game.ExplodeTorpedo(s.gs, tp, blast)
	for _, h := range hits {
		s.hub.Publish(h.Sub.OwnerID, Event{Name: "explosion", Data: ExplosionEvent{
			Time:        now,
			At:          [3]float64{tp.X, tp.Y, tp.Depth},
			TorpedoID:   tp.ID,
			BlastRadius: blast,
			Damage:      h.Damage,
			Distance:    h.Distance,
		}})
	}
	delete(s.gs.Torps, tp.ID)
	log.Printf("[WEAPONS] Torpedo %.8s detonated (%d hits)", tp.ID, len(hits))
	return hits
}
