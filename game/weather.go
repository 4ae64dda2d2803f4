package game

import (
	"log"
	"math"
	"math/rand"
)

// WeatherField is the set of hazard clouds outside the ring. It is
// process-memory only: regenerated at boot, mutated only by the tick loop,
// read-only to handlers.
type WeatherField struct {
	Ring    RingConfig
	Weather WeatherConfig
	Clouds  []*WeatherCloud
}

// NewWeatherField generates the boot-time cloud population in an annulus
// outside the ring, biased toward the outer edge.
func NewWeatherField(cfg *Config) *WeatherField {
	w := &WeatherField{
		Ring:    cfg.World.Ring,
		Weather: cfg.World.Weather,
	}
	ccfg := cfg.World.Weather.Clouds
	if ccfg.Count <= 0 {
		return w
	}
	for i := 0; i < ccfg.Count; i++ {
		ang := rand.Float64()*2*math.Pi - math.Pi
		// Skew the spawn radius toward max_r so the far ocean is denser.
		u := rand.Float64()
		r := ccfg.MinR + (ccfg.MaxR-ccfg.MinR)*(1-u*u)
		w.Clouds = append(w.Clouds, w.newCloud(
			w.Ring.X+math.Cos(ang)*r,
			w.Ring.Y+math.Sin(ang)*r,
			"", nil))
	}
	log.Printf("[WEATHER] Generated %d hazard clouds outside ring", len(w.Clouds))
	return w
}

func (w *WeatherField) newCloud(x, y float64, bySubID string, expiry *float64) *WeatherCloud {
	ccfg := w.Weather.Clouds
	radius := ccfg.MinRadius + rand.Float64()*(ccfg.MaxRadius-ccfg.MinRadius)
	centerDepth := ccfg.MinDepth + rand.Float64()*(ccfg.MaxDepth-ccfg.MinDepth)
	thickness := ccfg.MinThickness + rand.Float64()*(ccfg.MaxThickness-ccfg.MinThickness)
	half := thickness / 2
	dMin := math.Max(0, centerDepth-half)
	dMax := math.Max(dMin+5, centerDepth+half)
	return &WeatherCloud{
		X:              x,
		Y:              y,
		Radius:         radius,
		MinDepth:       dMin,
		MaxDepth:       dMax,
		AttenuationDB:  ccfg.AttenuationDB,
		DamageDPS:      ccfg.DamageDPS,
		SpawnedBySubID: bySubID,
		ExpiryTS:       expiry,
	}
}

// OutsideRing reports whether a point lies outside the main world ring.
func (w *WeatherField) OutsideRing(x, y float64) bool {
	return Distance(x, y, w.Ring.X, w.Ring.Y) > w.Ring.R
}

// Maintain extends and trims the field each tick: expired clouds go away,
// the field grows outward past the furthest player at constant density,
// local bands fill in around far-roaming subs, and the total count is
// capped by trimming the innermost clouds.
func (w *WeatherField) Maintain(subs []*Submarine, now float64) {
	ccfg := w.Weather.Clouds
	if ccfg.Count <= 0 || len(subs) == 0 {
		return
	}

	// TTL cleanup first.
	alive := w.Clouds[:0]
	for _, c := range w.Clouds {
		if c.ExpiryTS == nil || *c.ExpiryTS > now {
			alive = append(alive, c)
		}
	}
	w.Clouds = alive

	cx, cy, ringR := w.Ring.X, w.Ring.Y, w.Ring.R

	// Radial extension at roughly constant clouds-per-meter density.
	bandSpan := math.Max(1, ccfg.MaxR-ccfg.MinR)
	densityPerM := float64(ccfg.Count) / bandSpan

	maxPlayerR := 0.0
	for _, s := range subs {
		if r := Distance(cx, cy, s.X, s.Y); r > maxPlayerR {
			maxPlayerR = r
		}
	}
	if maxPlayerR > ringR {
		currentMaxR := ccfg.MinR
		for _, c := range w.Clouds {
			if r := Distance(cx, cy, c.X, c.Y); r > currentMaxR {
				currentMaxR = r
			}
		}
		targetR := math.Max(currentMaxR, maxPlayerR+1500)
		if targetR > currentMaxR+100 {
			spanNew := targetR - currentMaxR
			desired := int(densityPerM * spanNew)
			if desired < 1 {
				desired = 1
			}
			for i := 0; i < desired; i++ {
				ang := rand.Float64()*2*math.Pi - math.Pi
				u := rand.Float64()
				r := currentMaxR + spanNew*(1-u*u)
				w.Clouds = append(w.Clouds, w.newCloud(
					cx+math.Cos(ang)*r, cy+math.Sin(ang)*r, "", nil))
			}
			log.Printf("[WEATHER] Extended hazards to r~%.0fm (added %d clouds, total %d)",
				targetR, desired, len(w.Clouds))
		}
	}

	// Local-band spawning around subs that roam far outside the ring.
	lcfg := ccfg.LocalSpawn
	if lcfg.Enabled && lcfg.MinLocalClouds > 0 {
		for _, s := range subs {
			rs := Distance(cx, cy, s.X, s.Y)
			if rs <= ringR+lcfg.FarMarginM {
				continue
			}
			bandInner := math.Max(ringR+100, rs-lcfg.InnerOffsetM)
			bandOuter := rs + lcfg.OuterOffsetM
			localCount := 0
			for _, c := range w.Clouds {
				rc := Distance(cx, cy, c.X, c.Y)
				if rc >= bandInner && rc <= bandOuter {
					localCount++
				}
			}
			if localCount >= lcfg.MinLocalClouds {
				continue
			}
			needed := lcfg.MinLocalClouds - localCount
			expiry := now + lcfg.TTLSeconds
			for i := 0; i < needed; i++ {
				ang := rand.Float64()*2*math.Pi - math.Pi
				u := rand.Float64()
				r := bandInner + (bandOuter-bandInner)*(1-u*u)
				w.Clouds = append(w.Clouds, w.newCloud(
					cx+math.Cos(ang)*r, cy+math.Sin(ang)*r, s.ID, &expiry))
			}
			log.Printf("[WEATHER] Spawned %d local hazards around sub %.6s (r~%.0fm, total %d)",
				needed, s.ID, rs, len(w.Clouds))
		}
	}

	// Cap: drop innermost clouds beyond count*max_count_factor.
	maxTotal := int(float64(ccfg.Count) * ccfg.MaxCountFactor)
	if maxTotal > 0 && len(w.Clouds) > maxTotal {
		sortCloudsByRadial(w.Clouds, cx, cy)
		trim := len(w.Clouds) - maxTotal
		w.Clouds = w.Clouds[trim:]
		log.Printf("[WEATHER] Trimmed %d inner hazards (total %d)", trim, len(w.Clouds))
	}
}

func sortCloudsByRadial(clouds []*WeatherCloud, cx, cy float64) {
	// Insertion sort; the field holds at most a few hundred clouds.
	for i := 1; i < len(clouds); i++ {
		c := clouds[i]
		d := Distance(cx, cy, c.X, c.Y)
		j := i - 1
		for j >= 0 && Distance(cx, cy, clouds[j].X, clouds[j].Y) > d {
			clouds[j+1] = clouds[j]
			j--
		}
		clouds[j+1] = c
	}
}

// AttenuationAt returns the strongest cloud attenuation (dB) covering a
// point, or 0 when the point is clear.
func (w *WeatherField) AttenuationAt(x, y, depth float64) float64 {
	best := 0.0
	for _, c := range w.Clouds {
		if depth < c.MinDepth || depth > c.MaxDepth {
			continue
		}
		if Distance(x, y, c.X, c.Y) <= c.Radius {
			best = math.Max(best, c.AttenuationDB)
		}
	}
	return best
}

// Occlusion returns the strongest attenuation of any cloud whose cylinder
// is crossed by the XY segment between the two points and whose depth band
// overlaps their depth span.
func (w *WeatherField) Occlusion(x1, y1, d1, x2, y2, d2 float64) float64 {
	best := 0.0
	segMin := math.Min(d1, d2)
	segMax := math.Max(d1, d2)
	for _, c := range w.Clouds {
		if segMax < c.MinDepth || segMin > c.MaxDepth {
			continue
		}
		if SegmentPointDistance(c.X, c.Y, x1, y1, x2, y2) <= c.Radius {
			best = math.Max(best, c.AttenuationDB)
		}
	}
	return best
}

// DamageAt returns the worst cloud damage-per-second at a point, which is
// nonzero only outside the ring.
func (w *WeatherField) DamageAt(x, y, depth float64) float64 {
	if !w.OutsideRing(x, y) {
		return 0
	}
	dps := 0.0
	for _, c := range w.Clouds {
		if depth < c.MinDepth || depth > c.MaxDepth {
			continue
		}
		if Distance(x, y, c.X, c.Y) <= c.Radius {
			dps = math.Max(dps, c.DamageDPS)
		}
	}
	return dps
}

// CloudAtSurface reports whether the given surface point is inside any
// cloud that reaches depth 0; fueler spawning avoids those.
func (w *WeatherField) CloudAtSurface(x, y float64) bool {
	for _, c := range w.Clouds {
		if c.MinDepth > 0 {
			continue
		}
		if Distance(x, y, c.X, c.Y) <= c.Radius {
			return true
		}
	}
	return false
}
