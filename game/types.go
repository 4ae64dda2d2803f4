package game

import (
	"math"
	"math/rand"
	"sync"
)

// Torpedo control modes.
const (
	ControlModeWire = "wire"
	ControlModeFree = "free"
)

// NoseOffset is how far ahead of a submarine's bow a torpedo spawns, in
// meters.
const NoseOffset = 12.0

// MinSafeDistance is the minimum distance from the parent submarine inside
// which a torpedo's proximity fuze will not trigger. Battery-dead terminal
// detonations ignore it.
const MinSafeDistance = 150.0

// User is an account. Death timestamps drive the per-slot respawn cooldown.
type User struct {
	ID          int64   `json:"id"`
	Username    string  `json:"username"`
	PwHash      string  `json:"-"`
	IsAdmin     bool    `json:"is_admin"`
	LastDeathTS float64 `json:"-"`
	PrevDeathTS float64 `json:"-"`
}

// Submarine is a player-controlled boat. All angles are world radians
// (0 = +x east, CCW positive); depth is positive down.
type Submarine struct {
	ID      string `json:"id"`
	OwnerID int64  `json:"-"`

	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Depth   float64 `json:"depth"`
	Heading float64 `json:"heading"`
	Pitch   float64 `json:"pitch"`

	RudderAngle float64 `json:"rudder_angle"` // servo position, radians
	RudderCmd   float64 `json:"rudder_cmd"`   // -1..+1
	Planes      float64 `json:"planes"`       // -1..+1
	Throttle    float64 `json:"throttle"`     // 0..1

	TargetDepth   *float64 `json:"target_depth"`
	TargetHeading *float64 `json:"target_heading"`

	Speed   float64 `json:"speed"`
	Battery float64 `json:"battery"` // percent 0..100
	Fuel    float64 `json:"fuel"`    // battery-percent equivalents

	RefuelActive   bool    `json:"refuel_active"`
	RefuelFuelerID string  `json:"-"`
	RefuelTimer    float64 `json:"refuel_timer"`

	IsSnorkeling bool `json:"is_snorkeling"`

	BlowActive bool    `json:"blow_active"`
	BlowCharge float64 `json:"blow_charge"` // 0..1
	BlowEnd    float64 `json:"-"`

	Health     float64 `json:"health"`
	PassiveDir float64 `json:"-"`

	CreatedAt         float64 `json:"-"`
	LastReport        float64 `json:"-"`
	ScannerNoiseUntil float64 `json:"-"`
	PingCooldownUntil float64 `json:"-"`

	TorpedoAmmo int     `json:"torpedo_ammo"`
	Score       float64 `json:"score"`
	Kills       int     `json:"kills"`
}

// Torpedo is a launched weapon. While in wire mode it accepts guidance
// commands; once the wire is cut it runs free.
type Torpedo struct {
	ID          string `json:"id"`
	OwnerID     int64  `json:"-"`
	ParentSubID string `json:"-"`

	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Depth float64 `json:"depth"`

	TargetDepth    *float64 `json:"target_depth"`
	Heading        float64  `json:"heading"`
	TargetHeading  *float64 `json:"target_heading"`
	PendingTurnDeg *float64 `json:"-"`

	Speed       float64 `json:"speed"`
	TargetSpeed float64 `json:"target_speed"`

	CreatedAt   float64 `json:"-"`
	UpdatedAt   float64 `json:"-"`
	ControlMode string  `json:"mode"`
	WireLength  float64 `json:"range"` // launch range budget, meters

	PassiveSonarActive  bool    `json:"passive_sonar_active"`
	PassiveSonarBearing float64 `json:"passive_sonar_bearing"`
	LastSonarContact    float64 `json:"last_sonar_contact"`
	ActiveSonarEnabled  bool    `json:"active_sonar_enabled"`
	LastActivePing      float64 `json:"-"`

	Battery float64 `json:"battery"`

	// Run bookkeeping, populated on the first physics update.
	StartX   float64 `json:"-"`
	StartY   float64 `json:"-"`
	HasStart bool    `json:"-"`

	// Per-tick resolution flags consumed by the weapons stage.
	Expired     bool `json:"-"`
	CheckProx   bool `json:"-"`
	BatteryDead bool `json:"-"`
	Delete      bool `json:"-"`
}

// Fueler is a surface vessel that refuels submarines. At most one active
// fueler per user.
type Fueler struct {
	ID         string   `json:"id"`
	OwnerID    int64    `json:"-"`
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Depth      float64  `json:"depth"`
	Fuel       float64  `json:"fuel"`
	MaxFuel    float64  `json:"max_fuel"`
	SpawnedAt  float64  `json:"-"`
	EmptySince *float64 `json:"-"`
}

// WeatherCloud is a cylindrical hazard region: it attenuates sonar and,
// outside the ring, damages hulls whose depth falls inside its band.
type WeatherCloud struct {
	X              float64  `json:"x"`
	Y              float64  `json:"y"`
	Radius         float64  `json:"radius"`
	MinDepth       float64  `json:"min_depth"`
	MaxDepth       float64  `json:"max_depth"`
	AttenuationDB  float64  `json:"attenuation_db"`
	DamageDPS      float64  `json:"damage_dps"`
	SpawnedBySubID string   `json:"-"`
	ExpiryTS       *float64 `json:"-"`
}

// Objective is a fixed scoring circle inside the ring.
type Objective struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	R  float64 `json:"r"`
}

// DefaultObjectives are the two fixed world objectives.
func DefaultObjectives() []Objective {
	return []Objective{
		{ID: "A", X: 1500, Y: -800, R: 250},
		{ID: "B", X: -1200, Y: 1300, R: 250},
	}
}

// GameState holds the entire world. All mutation happens under Mu, by the
// tick loop or by API handlers between ticks.
type GameState struct {
	Mu sync.RWMutex // made public for access from the server package

	Users   map[int64]*User
	ApiKeys map[string]int64 // key -> user id
	Subs    map[string]*Submarine
	Torps   map[string]*Torpedo
	Fuelers map[string]*Fueler

	Weather    *WeatherField
	Objectives []Objective

	NextUserID int64
}

// NewGameState creates an empty world with a generated weather field.
func NewGameState(cfg *Config) *GameState {
	return &GameState{
		Users:      make(map[int64]*User),
		ApiKeys:    make(map[string]int64),
		Subs:       make(map[string]*Submarine),
		Torps:      make(map[string]*Torpedo),
		Fuelers:    make(map[string]*Fueler),
		Weather:    NewWeatherField(cfg),
		Objectives: DefaultObjectives(),
		NextUserID: 1,
	}
}

// SubsOfUser returns the user's submarines.
func (gs *GameState) SubsOfUser(userID int64) []*Submarine {
	var out []*Submarine
	for _, s := range gs.Subs {
		if s.OwnerID == userID {
			out = append(out, s)
		}
	}
	return out
}

// TorpsOfUser returns the user's torpedoes.
func (gs *GameState) TorpsOfUser(userID int64) []*Torpedo {
	var out []*Torpedo
	for _, t := range gs.Torps {
		if t.OwnerID == userID {
			out = append(out, t)
		}
	}
	return out
}

// UserFueler returns the user's active fueler, if any.
func (gs *GameState) UserFueler(userID int64) *Fueler {
	for _, f := range gs.Fuelers {
		if f.OwnerID == userID {
			return f
		}
	}
	return nil
}

// RandomSpawnPos picks a spawn point in the spawn annulus keeping the
// configured separation from existing submarines. Falls back to the ring
// center when no clear point is found.
func (gs *GameState) RandomSpawnPos(cfg *Config) (float64, float64) {
	ring := cfg.World.Ring
	for i := 0; i < 50; i++ {
		ang := rand.Float64()*2*math.Pi - math.Pi
		r := cfg.World.SpawnMinR + rand.Float64()*(cfg.World.SpawnMaxR-cfg.World.SpawnMinR)
		x := ring.X + r*math.Cos(ang)
		y := ring.Y + r*math.Sin(ang)
		ok := true
		for _, s := range gs.Subs {
			if Distance(x, y, s.X, s.Y) < cfg.World.SafeSpawnSeparation {
				ok = false
				break
			}
		}
		if ok {
			return x, y
		}
	}
	return ring.X, ring.Y
}

// Float64Ptr returns a pointer to v; handlers use it for optional fields.
func Float64Ptr(v float64) *float64 { return &v }
