package game

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full tuning tree for the simulation. Defaults match the
// shipped balance; a user YAML document overlays individual keys.
type Config struct {
	TickHz  float64       `yaml:"tick_hz" json:"tick_hz"`
	World   WorldConfig   `yaml:"world" json:"world"`
	Sub     SubConfig     `yaml:"sub" json:"sub"`
	Torpedo TorpedoConfig `yaml:"torpedo" json:"torpedo"`
	Sonar   SonarConfig   `yaml:"sonar" json:"sonar"`
}

type WorldConfig struct {
	Ring                RingConfig    `yaml:"ring" json:"ring"`
	SpawnMinR           float64       `yaml:"spawn_min_r" json:"spawn_min_r"`
	SpawnMaxR           float64       `yaml:"spawn_max_r" json:"spawn_max_r"`
	SafeSpawnSeparation float64       `yaml:"safe_spawn_separation" json:"safe_spawn_separation"`
	Weather             WeatherConfig `yaml:"weather" json:"weather"`
}

type RingConfig struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	R float64 `yaml:"r" json:"r"`
}

type WeatherConfig struct {
	StormDamageDPS     float64       `yaml:"storm_damage_dps" json:"storm_damage_dps"`
	SonarAttenuationDB float64       `yaml:"sonar_attenuation_db" json:"sonar_attenuation_db"`
	CloudCloseHearM    float64       `yaml:"cloud_close_hear_range_m" json:"cloud_close_hear_range_m"`
	Clouds             CloudsConfig  `yaml:"clouds" json:"clouds"`
	Scanner            ScannerConfig `yaml:"scanner" json:"scanner"`
}

type CloudsConfig struct {
	Count          int              `yaml:"count" json:"count"`
	MinR           float64          `yaml:"min_r" json:"min_r"`
	MaxR           float64          `yaml:"max_r" json:"max_r"`
	MinRadius      float64          `yaml:"min_radius" json:"min_radius"`
	MaxRadius      float64          `yaml:"max_radius" json:"max_radius"`
	MinDepth       float64          `yaml:"min_depth" json:"min_depth"`
	MaxDepth       float64          `yaml:"max_depth" json:"max_depth"`
	MinThickness   float64          `yaml:"min_thickness" json:"min_thickness"`
	MaxThickness   float64          `yaml:"max_thickness" json:"max_thickness"`
	AttenuationDB  float64          `yaml:"attenuation_db" json:"attenuation_db"`
	DamageDPS      float64          `yaml:"damage_dps" json:"damage_dps"`
	MaxCountFactor float64          `yaml:"max_count_factor" json:"max_count_factor"`
	LocalSpawn     LocalSpawnConfig `yaml:"local_spawn" json:"local_spawn"`
}

type LocalSpawnConfig struct {
	Enabled        bool    `yaml:"enabled" json:"enabled"`
	FarMarginM     float64 `yaml:"far_margin_m" json:"far_margin_m"`
	InnerOffsetM   float64 `yaml:"inner_offset_m" json:"inner_offset_m"`
	OuterOffsetM   float64 `yaml:"outer_offset_m" json:"outer_offset_m"`
	MinLocalClouds int     `yaml:"min_local_clouds" json:"min_local_clouds"`
	TTLSeconds     float64 `yaml:"ttl_s" json:"ttl_s"`
}

type ScannerConfig struct {
	MaxRangeM      float64 `yaml:"max_range_m" json:"max_range_m"`
	BatteryCost    float64 `yaml:"battery_cost" json:"battery_cost"`
	RngSigmaM      float64 `yaml:"rng_sigma_m" json:"rng_sigma_m"`
	BrgSigmaDeg    float64 `yaml:"brg_sigma_deg" json:"brg_sigma_deg"`
	NoiseDurationS float64 `yaml:"noise_duration_s" json:"noise_duration_s"`
}

type SubConfig struct {
	MaxSpeed             float64           `yaml:"max_speed" json:"max_speed"`
	Acceleration         float64           `yaml:"acceleration" json:"acceleration"`
	YawRateDegS          float64           `yaml:"yaw_rate_deg_s" json:"yaw_rate_deg_s"`
	PitchRateDegS        float64           `yaml:"pitch_rate_deg_s" json:"pitch_rate_deg_s"`
	PlanesEffect         float64           `yaml:"planes_effect" json:"planes_effect"`
	NeutralBias          float64           `yaml:"neutral_bias" json:"neutral_bias"`
	MaxRudderDeg         float64           `yaml:"max_rudder_deg" json:"max_rudder_deg"`
	RudderRateDegS       float64           `yaml:"rudder_rate_deg_s" json:"rudder_rate_deg_s"`
	SnorkelDepth         float64           `yaml:"snorkel_depth" json:"snorkel_depth"`
	SnorkelOffHysteresis float64           `yaml:"snorkel_off_hysteresis" json:"snorkel_off_hysteresis"`
	MaxPerUser           int               `yaml:"max_per_user" json:"max_per_user"`
	RespawnCooldownS     float64           `yaml:"respawn_cooldown_s" json:"respawn_cooldown_s"`
	EmergencyBlow        BlowConfig        `yaml:"emergency_blow" json:"emergency_blow"`
	Battery              SubBatteryConfig  `yaml:"battery" json:"battery"`
	CrushDepth           float64           `yaml:"crush_depth" json:"crush_depth"`
	CrushDPSPer100m      float64           `yaml:"crush_dps_per_100m" json:"crush_dps_per_100m"`
}

type BlowConfig struct {
	DurationS           float64 `yaml:"duration_s" json:"duration_s"`
	UpwardMPS           float64 `yaml:"upward_mps" json:"upward_mps"`
	RechargePerSSnorkel float64 `yaml:"recharge_per_s_at_snorkel" json:"recharge_per_s_at_snorkel"`
}

type SubBatteryConfig struct {
	InitialMin          float64 `yaml:"initial_min" json:"initial_min"`
	InitialMax          float64 `yaml:"initial_max" json:"initial_max"`
	DrainPerThrottleS   float64 `yaml:"drain_per_throttle_per_s" json:"drain_per_throttle_per_s"`
	HighSpeedMultiplier float64 `yaml:"high_speed_multiplier" json:"high_speed_multiplier"`
	RechargePerSSnorkel float64 `yaml:"recharge_per_s_snorkel" json:"recharge_per_s_snorkel"`
	MaxFuelCapacity     float64 `yaml:"max_fuel_capacity" json:"max_fuel_capacity"`
	InitialFuel         float64 `yaml:"initial_fuel" json:"initial_fuel"`
	RefuelRatePerS      float64 `yaml:"refuel_rate_per_s" json:"refuel_rate_per_s"`
}

type TorpedoConfig struct {
	Speed                    float64            `yaml:"speed" json:"speed"`
	MinSpeed                 float64            `yaml:"min_speed" json:"min_speed"`
	MaxSpeed                 float64            `yaml:"max_speed" json:"max_speed"`
	TurnRateDegS             float64            `yaml:"turn_rate_deg_s" json:"turn_rate_deg_s"`
	DepthRateMS              float64            `yaml:"depth_rate_m_s" json:"depth_rate_m_s"`
	BlastRadius              float64            `yaml:"blast_radius" json:"blast_radius"`
	MaxRange                 float64            `yaml:"max_range" json:"max_range"`
	ProximityFuzeM           float64            `yaml:"proximity_fuze_m" json:"proximity_fuze_m"`
	ArmingDelayS             float64            `yaml:"arming_delay_s" json:"arming_delay_s"`
	MagazineSize             int                `yaml:"magazine_size" json:"magazine_size"`
	ReloadBatteryCostPerTorp float64            `yaml:"reload_battery_cost_per_torp" json:"reload_battery_cost_per_torp"`
	Battery                  TorpBatteryConfig  `yaml:"battery" json:"battery"`
	Sonar                    TorpSonarConfig    `yaml:"sonar" json:"sonar"`
}

type TorpBatteryConfig struct {
	Capacity       float64 `yaml:"capacity" json:"capacity"`
	DrainPerMpsS   float64 `yaml:"drain_per_mps_per_s" json:"drain_per_mps_per_s"`
	ActivePingCost float64 `yaml:"active_ping_cost" json:"active_ping_cost"`
	MinForPing     float64 `yaml:"min_for_ping" json:"min_for_ping"`
}

type TorpSonarConfig struct {
	Passive TorpPassiveConfig `yaml:"passive" json:"passive"`
	Active  TorpActiveConfig  `yaml:"active" json:"active"`
}

type TorpPassiveConfig struct {
	MaxRange         float64    `yaml:"max_range" json:"max_range"`
	ReportIntervalS  [2]float64 `yaml:"report_interval_s" json:"report_interval_s"`
	BearingJitterDeg float64    `yaml:"bearing_jitter_deg" json:"bearing_jitter_deg"`
}

type TorpActiveConfig struct {
	MaxRange      float64 `yaml:"max_range" json:"max_range"`
	PingIntervalS float64 `yaml:"ping_interval_s" json:"ping_interval_s"`
	RngSigmaM     float64 `yaml:"rng_sigma_m" json:"rng_sigma_m"`
	MaxAngle      float64 `yaml:"max_angle" json:"max_angle"`
}

type SonarConfig struct {
	Passive PassiveSonarConfig `yaml:"passive" json:"passive"`
	Active  ActiveSonarConfig  `yaml:"active" json:"active"`
	Power   ActivePowerConfig  `yaml:"active_power" json:"active_power"`
}

type PassiveSonarConfig struct {
	BaseSNR             float64    `yaml:"base_snr" json:"base_snr"`
	SpeedNoiseGain      float64    `yaml:"speed_noise_gain" json:"speed_noise_gain"`
	SnorkelBonus        float64    `yaml:"snorkel_bonus" json:"snorkel_bonus"`
	BearingJitterDeg    float64    `yaml:"bearing_jitter_deg" json:"bearing_jitter_deg"`
	ReportIntervalS     [2]float64 `yaml:"report_interval_s" json:"report_interval_s"`
	ScannerNoiseBonusDB float64    `yaml:"scanner_noise_bonus_db" json:"scanner_noise_bonus_db"`
}

type ActiveSonarConfig struct {
	MaxRange    float64 `yaml:"max_range" json:"max_range"`
	MaxAngle    float64 `yaml:"max_angle" json:"max_angle"`
	SoundSpeed  float64 `yaml:"sound_speed" json:"sound_speed"`
	RngSigmaM   float64 `yaml:"rng_sigma_m" json:"rng_sigma_m"`
	BrgSigmaDeg float64 `yaml:"brg_sigma_deg" json:"brg_sigma_deg"`
}

type ActivePowerConfig struct {
	BaseCost       float64 `yaml:"base_cost" json:"base_cost"`
	CostPerDegree  float64 `yaml:"cost_per_degree" json:"cost_per_degree"`
	CostPer100m    float64 `yaml:"cost_per_100m_range" json:"cost_per_100m_range"`
	MinBattery     float64 `yaml:"min_battery" json:"min_battery"`
}

// DefaultConfig returns the shipped balance.
func DefaultConfig() *Config {
	return &Config{
		TickHz: 10,
		World: WorldConfig{
			Ring:                RingConfig{X: 0, Y: 0, R: 6000},
			SpawnMinR:           500,
			SpawnMaxR:           4500,
			SafeSpawnSeparation: 800,
			Weather: WeatherConfig{
				StormDamageDPS:     4,
				SonarAttenuationDB: 3,
				CloudCloseHearM:    400,
				Clouds: CloudsConfig{
					Count:          24,
					MinR:           6500,
					MaxR:           9500,
					MinRadius:      400,
					MaxRadius:      1200,
					MinDepth:       0,
					MaxDepth:       350,
					MinThickness:   60,
					MaxThickness:   200,
					AttenuationDB:  8,
					DamageDPS:      2,
					MaxCountFactor: 4,
					LocalSpawn: LocalSpawnConfig{
						Enabled:        false,
						FarMarginM:     2000,
						InnerOffsetM:   2000,
						OuterOffsetM:   6000,
						MinLocalClouds: 40,
						TTLSeconds:     900,
					},
				},
				Scanner: ScannerConfig{
					MaxRangeM:      500,
					BatteryCost:    1,
					RngSigmaM:      40,
					BrgSigmaDeg:    5,
					NoiseDurationS: 8,
				},
			},
		},
		Sub: SubConfig{
			MaxSpeed:             12,
			Acceleration:         2,
			YawRateDegS:          3,
			PitchRateDegS:        12,
			PlanesEffect:         1,
			NeutralBias:          0.008,
			MaxRudderDeg:         30,
			RudderRateDegS:       60,
			SnorkelDepth:         15,
			SnorkelOffHysteresis: 2,
			MaxPerUser:           2,
			RespawnCooldownS:     7200,
			EmergencyBlow: BlowConfig{
				DurationS:           10,
				UpwardMPS:           5,
				RechargePerSSnorkel: 0.06,
			},
			Battery: SubBatteryConfig{
				InitialMin:          40,
				InitialMax:          80,
				DrainPerThrottleS:   0.1,
				HighSpeedMultiplier: 15,
				RechargePerSSnorkel: 0.25,
				MaxFuelCapacity:     1000,
				InitialFuel:         1000,
				RefuelRatePerS:      50,
			},
			CrushDepth:      500,
			CrushDPSPer100m: 30,
		},
		Torpedo: TorpedoConfig{
			Speed:                    6,
			MinSpeed:                 8,
			MaxSpeed:                 18,
			TurnRateDegS:             5,
			DepthRateMS:              6,
			BlastRadius:              60,
			MaxRange:                 6000,
			ProximityFuzeM:           0,
			ArmingDelayS:             1,
			MagazineSize:             4,
			ReloadBatteryCostPerTorp: 10,
			Battery: TorpBatteryConfig{
				Capacity:       100,
				DrainPerMpsS:   0.0015,
				ActivePingCost: 2,
				MinForPing:     5,
			},
			Sonar: TorpSonarConfig{
				Passive: TorpPassiveConfig{
					MaxRange:         2000,
					ReportIntervalS:  [2]float64{1, 3},
					BearingJitterDeg: 8,
				},
				Active: TorpActiveConfig{
					MaxRange:      1500,
					PingIntervalS: 3,
					RngSigmaM:     40,
					MaxAngle:      60,
				},
			},
		},
		Sonar: SonarConfig{
			Passive: PassiveSonarConfig{
				BaseSNR:             8,
				SpeedNoiseGain:      0.6,
				SnorkelBonus:        15,
				BearingJitterDeg:    3,
				ReportIntervalS:     [2]float64{2, 4},
				ScannerNoiseBonusDB: 8,
			},
			Active: ActiveSonarConfig{
				MaxRange:    6000,
				MaxAngle:    210,
				SoundSpeed:  1500,
				RngSigmaM:   40,
				BrgSigmaDeg: 1.5,
			},
			Power: ActivePowerConfig{
				BaseCost:      0.5,
				CostPerDegree: 0.04,
				CostPer100m:   0.2683,
				MinBattery:    5,
			},
		},
	}
}

// LoadConfig reads a YAML document at path and overlays it onto the
// defaults. Only keys present in the file override; everything else keeps
// its default value. An empty path returns the defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// TickInterval returns the tick period in seconds.
func (c *Config) TickInterval() float64 {
	hz := c.TickHz
	if hz <= 0 {
		hz = 10
	}
	return 1.0 / hz
}
