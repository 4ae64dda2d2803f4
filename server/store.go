package server

import (
	"database/sql"
	"fmt"
	"log"

	_ "modernc.org/sqlite"

	"subbrawl/game"
)

// Store persists the world in a single sqlite database. The tick loop
// rewrites the volatile tables (subs, torps, fuelers) once per tick in one
// transaction; account rows are written on signup and updated with death
// timestamps alongside the tick commit.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	pw_hash       TEXT NOT NULL,
	is_admin      INTEGER NOT NULL DEFAULT 0,
	last_death_ts REAL NOT NULL DEFAULT 0,
	prev_death_ts REAL NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS api_keys (
	key     TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL REFERENCES users(id)
);
CREATE TABLE IF NOT EXISTS subs (
	id                  TEXT PRIMARY KEY,
	owner_id            INTEGER NOT NULL,
	x                   REAL NOT NULL,
	y                   REAL NOT NULL,
	depth               REAL NOT NULL,
	heading             REAL NOT NULL,
	pitch               REAL NOT NULL,
	rudder_angle        REAL NOT NULL,
	rudder_cmd          REAL NOT NULL,
	planes              REAL NOT NULL,
	throttle            REAL NOT NULL,
	target_depth        REAL,
	target_heading      REAL,
	speed               REAL NOT NULL,
	battery             REAL NOT NULL,
	fuel                REAL NOT NULL,
	refuel_active       INTEGER NOT NULL,
	refuel_fueler_id    TEXT NOT NULL DEFAULT '',
	refuel_timer        REAL NOT NULL,
	is_snorkeling       INTEGER NOT NULL,
	blow_active         INTEGER NOT NULL,
	blow_charge         REAL NOT NULL,
	blow_end            REAL NOT NULL,
	health              REAL NOT NULL,
	passive_dir         REAL NOT NULL,
	created_at          REAL NOT NULL,
	scanner_noise_until REAL NOT NULL,
	ping_cooldown_until REAL NOT NULL,
	torpedo_ammo        INTEGER NOT NULL,
	score               REAL NOT NULL,
	kills               INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS torps (
	id                    TEXT PRIMARY KEY,
	owner_id              INTEGER NOT NULL,
	parent_sub_id         TEXT NOT NULL,
	x                     REAL NOT NULL,
	y                     REAL NOT NULL,
	depth                 REAL NOT NULL,
	target_depth          REAL,
	heading               REAL NOT NULL,
	target_heading        REAL,
	speed                 REAL NOT NULL,
	target_speed          REAL NOT NULL,
	created_at            REAL NOT NULL,
	updated_at            REAL NOT NULL,
	control_mode          TEXT NOT NULL,
	wire_length           REAL NOT NULL,
	passive_sonar_active  INTEGER NOT NULL,
	passive_sonar_bearing REAL NOT NULL,
	last_sonar_contact    REAL NOT NULL,
	active_sonar_enabled  INTEGER NOT NULL,
	last_active_ping      REAL NOT NULL,
	battery               REAL NOT NULL,
	start_x               REAL NOT NULL,
	start_y               REAL NOT NULL,
	has_start             INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS fuelers (
	id          TEXT PRIMARY KEY,
	owner_id    INTEGER NOT NULL,
	x           REAL NOT NULL,
	y           REAL NOT NULL,
	depth       REAL NOT NULL,
	fuel        REAL NOT NULL,
	max_fuel    REAL NOT NULL,
	spawned_at  REAL NOT NULL,
	empty_since REAL
);
`

// OpenStore opens (creating if needed) the world database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// sqlite allows one writer; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (st *Store) Close() error { return st.db.Close() }

// CreateUser inserts an account row and returns the assigned id.
func (st *Store) CreateUser(username, pwHash string, isAdmin bool) (int64, error) {
	res, err := st.db.Exec(
		`INSERT INTO users (username, pw_hash, is_admin) VALUES (?, ?, ?)`,
		username, pwHash, isAdmin)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return res.LastInsertId()
}

// CreateAPIKey persists a key for the user.
func (st *Store) CreateAPIKey(key string, userID int64) error {
	if _, err := st.db.Exec(
		`INSERT INTO api_keys (key, user_id) VALUES (?, ?)`, key, userID); err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// LoadWorld reads the persisted world into a fresh GameState. Weather is
// not persisted; it regenerates at boot.
func (st *Store) LoadWorld(gs *game.GameState) error {
	rows, err := st.db.Query(
		`SELECT id, username, pw_hash, is_admin, last_death_ts, prev_death_ts FROM users`)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	for rows.Next() {
		u := &game.User{}
		if err := rows.Scan(&u.ID, &u.Username, &u.PwHash, &u.IsAdmin,
			&u.LastDeathTS, &u.PrevDeathTS); err != nil {
			rows.Close()
			return fmt.Errorf("scan user: %w", err)
		}
		gs.Users[u.ID] = u
		if u.ID >= gs.NextUserID {
			gs.NextUserID = u.ID + 1
		}
	}
	rows.Close()

	rows, err = st.db.Query(`SELECT key, user_id FROM api_keys`)
	if err != nil {
		return fmt.Errorf("load api keys: %w", err)
	}
	for rows.Next() {
		var key string
		var uid int64
		if err := rows.Scan(&key, &uid); err != nil {
			rows.Close()
			return fmt.Errorf("scan api key: %w", err)
		}
		gs.ApiKeys[key] = uid
	}
	rows.Close()

	rows, err = st.db.Query(`SELECT id, owner_id, x, y, depth, heading, pitch,
		rudder_angle, rudder_cmd, planes, throttle, target_depth, target_heading,
		speed, battery, fuel, refuel_active, refuel_fueler_id, refuel_timer,
		is_snorkeling, blow_active, blow_charge, blow_end, health, passive_dir,
		created_at, scanner_noise_until, ping_cooldown_until, torpedo_ammo,
		score, kills FROM subs`)
	if err != nil {
		return fmt.Errorf("load subs: %w", err)
	}
	for rows.Next() {
		s := &game.Submarine{}
		var targetDepth, targetHeading sql.NullFloat64
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.X, &s.Y, &s.Depth, &s.Heading,
			&s.Pitch, &s.RudderAngle, &s.RudderCmd, &s.Planes, &s.Throttle,
			&targetDepth, &targetHeading, &s.Speed, &s.Battery, &s.Fuel,
			&s.RefuelActive, &s.RefuelFuelerID, &s.RefuelTimer, &s.IsSnorkeling,
			&s.BlowActive, &s.BlowCharge, &s.BlowEnd, &s.Health, &s.PassiveDir,
			&s.CreatedAt, &s.ScannerNoiseUntil, &s.PingCooldownUntil,
			&s.TorpedoAmmo, &s.Score, &s.Kills); err != nil {
			rows.Close()
			return fmt.Errorf("scan sub: %w", err)
		}
		if targetDepth.Valid {
			s.TargetDepth = game.Float64Ptr(targetDepth.Float64)
		}
		if targetHeading.Valid {
			s.TargetHeading = game.Float64Ptr(targetHeading.Float64)
		}
		gs.Subs[s.ID] = s
	}
	rows.Close()

	rows, err = st.db.Query(`SELECT id, owner_id, parent_sub_id, x, y, depth,
		target_depth, heading, target_heading, speed, target_speed, created_at,
		updated_at, control_mode, wire_length, passive_sonar_active,
		passive_sonar_bearing, last_sonar_contact, active_sonar_enabled,
		last_active_ping, battery, start_x, start_y, has_start FROM torps`)
	if err != nil {
		return fmt.Errorf("load torps: %w", err)
	}
	for rows.Next() {
		t := &game.Torpedo{}
		var targetDepth, targetHeading sql.NullFloat64
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.ParentSubID, &t.X, &t.Y,
			&t.Depth, &targetDepth, &t.Heading, &targetHeading, &t.Speed,
			&t.TargetSpeed, &t.CreatedAt, &t.UpdatedAt, &t.ControlMode,
			&t.WireLength, &t.PassiveSonarActive, &t.PassiveSonarBearing,
			&t.LastSonarContact, &t.ActiveSonarEnabled, &t.LastActivePing,
			&t.Battery, &t.StartX, &t.StartY, &t.HasStart); err != nil {
			rows.Close()
			return fmt.Errorf("scan torp: %w", err)
		}
		if targetDepth.Valid {
			t.TargetDepth = game.Float64Ptr(targetDepth.Float64)
		}
		if targetHeading.Valid {
			t.TargetHeading = game.Float64Ptr(targetHeading.Float64)
		}
		gs.Torps[t.ID] = t
	}
	rows.Close()

	rows, err = st.db.Query(
		`SELECT id, owner_id, x, y, depth, fuel, max_fuel, spawned_at, empty_since FROM fuelers`)
	if err != nil {
		return fmt.Errorf("load fuelers: %w", err)
	}
	for rows.Next() {
		f := &game.Fueler{}
		var emptySince sql.NullFloat64
		if err := rows.Scan(&f.ID, &f.OwnerID, &f.X, &f.Y, &f.Depth, &f.Fuel,
			&f.MaxFuel, &f.SpawnedAt, &emptySince); err != nil {
			rows.Close()
			return fmt.Errorf("scan fueler: %w", err)
		}
		if emptySince.Valid {
			f.EmptySince = game.Float64Ptr(emptySince.Float64)
		}
		gs.Fuelers[f.ID] = f
	}
	rows.Close()

	log.Printf("[DB] Loaded world: %d users, %d subs, %d torps, %d fuelers",
		len(gs.Users), len(gs.Subs), len(gs.Torps), len(gs.Fuelers))
	return nil
}

// CommitTick rewrites the volatile tables from the in-memory world in one
// transaction. The caller holds the world lock.
func (st *Store) CommitTick(gs *game.GameState) error {
	tx, err := st.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tick tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"subs", "torps", "fuelers"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	subStmt, err := tx.Prepare(`INSERT INTO subs VALUES
		(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare subs: %w", err)
	}
	defer subStmt.Close()
	for _, s := range gs.Subs {
		if _, err := subStmt.Exec(s.ID, s.OwnerID, s.X, s.Y, s.Depth, s.Heading,
			s.Pitch, s.RudderAngle, s.RudderCmd, s.Planes, s.Throttle,
			nullableFloat(s.TargetDepth), nullableFloat(s.TargetHeading),
			s.Speed, s.Battery, s.Fuel, s.RefuelActive, s.RefuelFuelerID,
			s.RefuelTimer, s.IsSnorkeling, s.BlowActive, s.BlowCharge, s.BlowEnd,
			s.Health, s.PassiveDir, s.CreatedAt, s.ScannerNoiseUntil,
			s.PingCooldownUntil, s.TorpedoAmmo, s.Score, s.Kills); err != nil {
			return fmt.Errorf("insert sub %s: %w", s.ID, err)
		}
	}

	torpStmt, err := tx.Prepare(`INSERT INTO torps VALUES
		(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare torps: %w", err)
	}
	defer torpStmt.Close()
	for _, t := range gs.Torps {
		if _, err := torpStmt.Exec(t.ID, t.OwnerID, t.ParentSubID, t.X, t.Y,
			t.Depth, nullableFloat(t.TargetDepth), t.Heading,
			nullableFloat(t.TargetHeading), t.Speed, t.TargetSpeed, t.CreatedAt,
			t.UpdatedAt, t.ControlMode, t.WireLength, t.PassiveSonarActive,
			t.PassiveSonarBearing, t.LastSonarContact, t.ActiveSonarEnabled,
			t.LastActivePing, t.Battery, t.StartX, t.StartY, t.HasStart); err != nil {
			return fmt.Errorf("insert torp %s: %w", t.ID, err)
		}
	}

	fuelStmt, err := tx.Prepare(`INSERT INTO fuelers VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare fuelers: %w", err)
	}
	defer fuelStmt.Close()
	for _, f := range gs.Fuelers {
		if _, err := fuelStmt.Exec(f.ID, f.OwnerID, f.X, f.Y, f.Depth, f.Fuel,
			f.MaxFuel, f.SpawnedAt, nullableFloat(f.EmptySince)); err != nil {
			return fmt.Errorf("insert fueler %s: %w", f.ID, err)
		}
	}

	userStmt, err := tx.Prepare(
		`UPDATE users SET last_death_ts = ?, prev_death_ts = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare users: %w", err)
	}
	defer userStmt.Close()
	for _, u := range gs.Users {
		if _, err := userStmt.Exec(u.LastDeathTS, u.PrevDeathTS, u.ID); err != nil {
			return fmt.Errorf("update user %d: %w", u.ID, err)
		}
	}

	return tx.Commit()
}

func nullableFloat(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
