package server

import (
	"log"
	"math"
	"math/rand"

	"github.com/google/uuid"

	"subbrawl/game"
)

const (
	// refuelHookupDelayS is the rigging time before fuel starts flowing.
	refuelHookupDelayS = 120.0
	// refuelMaxSeparationM is the slant distance that breaks the hose.
	refuelMaxSeparationM = 50.0

	fuelerLifetimeS   = 1200.0
	fuelerEmptyGraceS = 300.0

	fuelerMinSpawnRangeM = 1000.0
	fuelerMaxSpawnRangeM = 3000.0
)

// processRefueling advances every active refuel: hookup countdown, then
// transfer, with the whole set of cancel conditions checked first.
func (s *Server) processRefueling(dt, now float64) {
	bcfg := s.cfg.Sub.Battery
	for _, sub := range s.gs.Subs {
		if !sub.RefuelActive {
			continue
		}
		fueler := s.gs.Fuelers[sub.RefuelFuelerID]

		cancel := ""
		switch {
		case sub.Fuel >= bcfg.MaxFuelCapacity:
			cancel = "complete"
		case !sub.IsSnorkeling:
			cancel = "snorkel_lost"
		case sub.Depth > s.cfg.Sub.SnorkelDepth+0.5:
			cancel = "too_deep"
		case fueler == nil:
			cancel = "fueler_gone"
		case game.Distance3D(sub.X, sub.Y, sub.Depth, fueler.X, fueler.Y, fueler.Depth) > refuelMaxSeparationM:
			cancel = "out_of_position"
		case fueler.Fuel <= 0:
			cancel = "fueler_empty"
		}
		if cancel != "" {
			sub.RefuelActive = false
			sub.RefuelTimer = 0
			sub.RefuelFuelerID = ""
			s.hub.Publish(sub.OwnerID, Event{Name: "refuel", Data: RefuelEvent{
				Time:   now,
				SubID:  sub.ID,
				Status: cancel,
				Fuel:   sub.Fuel,
			}})
			continue
		}

		sub.RefuelTimer += dt
		if sub.RefuelTimer < refuelHookupDelayS {
			continue
		}
		transfer := math.Min(bcfg.RefuelRatePerS*dt,
			math.Min(fueler.Fuel, bcfg.MaxFuelCapacity-sub.Fuel))
		if transfer <= 0 {
			continue
		}
		sub.Fuel += transfer
		fueler.Fuel -= transfer
		// First transfer starts the fueler's departure countdown.
		if fueler.EmptySince == nil {
			fueler.EmptySince = game.Float64Ptr(now)
		}
	}
}

// spawnFuelerNearSub places a half-loaded surface fueler within calling
// range of the submarine, avoiding surface-level hazard clouds.
func (s *Server) spawnFuelerNearSub(sub *game.Submarine, now float64) *game.Fueler {
	var x, y float64
	for try := 0; try < 20; try++ {
		brg := rand.Float64() * 2 * math.Pi
		rng := fuelerMinSpawnRangeM + rand.Float64()*(fuelerMaxSpawnRangeM-fuelerMinSpawnRangeM)
		x = sub.X + math.Cos(brg)*rng
		y = sub.Y + math.Sin(brg)*rng
		if !s.gs.Weather.CloudAtSurface(x, y) {
			break
		}
	}
	f := &game.Fueler{
		ID:        uuid.NewString(),
		OwnerID:   sub.OwnerID,
		X:         x,
		Y:         y,
		Depth:     0,
		Fuel:      s.cfg.Sub.Battery.MaxFuelCapacity * 0.5,
		MaxFuel:   s.cfg.Sub.Battery.MaxFuelCapacity * 0.5,
		SpawnedAt: now,
	}
	s.gs.Fuelers[f.ID] = f
	log.Printf("[REFUEL] Fueler %.8s spawned for user %d at (%.0f, %.0f)",
		f.ID, sub.OwnerID, x, y)
	return f
}

// expireFuelers removes fuelers past their lifetime or lingering empty.
func (s *Server) expireFuelers(now float64) {
	for id, f := range s.gs.Fuelers {
		expired := now-f.SpawnedAt > fuelerLifetimeS
		if !expired && f.EmptySince != nil {
			expired = now-*f.EmptySince > fuelerEmptyGraceS
		}
		if !expired {
			continue
		}
		delete(s.gs.Fuelers, id)
		s.hub.Publish(f.OwnerID, Event{Name: "refuel", Data: RefuelEvent{
			Time:     now,
			FuelerID: f.ID,
			Status:   "fueler_departed",
		}})
		log.Printf("[REFUEL] Fueler %.8s departed (owner %d)", id, f.OwnerID)
	}
}
