package game

import "math"

// WrapAngle normalizes an angle into [-pi, pi).
func WrapAngle(a float64) float64 {
	for a >= math.Pi {
		a -= 2 * math.Pi
	}
	for a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Distance calculates the horizontal distance between two points.
func Distance(x1, y1, x2, y2 float64) float64 {
	dx := x2 - x1
	dy := y2 - y1
	return math.Sqrt(dx*dx + dy*dy)
}

// Distance3D calculates the slant distance between two points, with depth
// positive down.
func Distance3D(ax, ay, az, bx, by, bz float64) float64 {
	dx := ax - bx
	dy := ay - by
	dz := az - bz
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// SegmentPointDistance returns the distance from point (px,py) to the
// segment (ax,ay)-(bx,by).
func SegmentPointDistance(px, py, ax, ay, bx, by float64) float64 {
	dx := bx - ax
	dy := by - ay
	if dx == 0 && dy == 0 {
		return Distance(px, py, ax, ay)
	}
	t := ((px-ax)*dx + (py-ay)*dy) / (dx*dx + dy*dy)
	t = Clamp(t, 0, 1)
	return Distance(px, py, ax+t*dx, ay+t*dy)
}

// CompassToWorld converts client compass degrees (0=N, CW positive) to
// world radians (0=+x east, CCW positive).
func CompassToWorld(compassDeg float64) float64 {
	serverDeg := math.Mod(90-compassDeg, 360)
	if serverDeg < 0 {
		serverDeg += 360
	}
	return WrapAngle(serverDeg * math.Pi / 180)
}

// WorldToCompass is the inverse of CompassToWorld, returning [0, 360).
func WorldToCompass(worldRad float64) float64 {
	deg := math.Mod(90-worldRad*180/math.Pi, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// Deg2Rad converts degrees to radians.
func Deg2Rad(deg float64) float64 { return deg * math.Pi / 180 }

// Rad2Deg converts radians to degrees.
func Rad2Deg(rad float64) float64 { return rad * 180 / math.Pi }
