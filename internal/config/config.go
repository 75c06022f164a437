// Package config loads the tunables a rover process can override from a
// YAML (or JSON) file, with defaults matching spec.md's fixed constants.
package config

import (
	"encoding/json"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files can spell tunables as
// "500ms" or "5s" instead of raw nanosecond integers.
type Duration time.Duration

func (d Duration) AsDuration() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// ControlPlaneCfg tunes the advertisement/liveness cadence.
type ControlPlaneCfg struct {
	PeriodicInterval Duration `yaml:"periodic_interval" json:"periodic_interval"`
	DeadInterval     Duration `yaml:"dead_interval" json:"dead_interval"`
}

// DataPlaneCfg tunes the reliable-transfer cadence.
type DataPlaneCfg struct {
	ChunkSize     int      `yaml:"chunk_size" json:"chunk_size"`
	AckTimeout    Duration `yaml:"ack_timeout" json:"ack_timeout"`
	StartupDelay  Duration `yaml:"startup_delay" json:"startup_delay"`
	RoutePollRate Duration `yaml:"route_poll_rate" json:"route_poll_rate"`
}

// LogCfg controls where process logs and metrics snapshots are written when
// the -log-file / -metrics-file flags are empty.
type LogCfg struct {
	File        string `yaml:"file" json:"file"`
	MetricsFile string `yaml:"metrics_file" json:"metrics_file"`
}

// Config is the full set of rover tunables. Every field has a zero-value
// default that Load fills in only when the file omits it, so a rover run
// with no config file at all still gets spec-compliant behavior.
type Config struct {
	ControlPlane ControlPlaneCfg `yaml:"control_plane" json:"control_plane"`
	DataPlane    DataPlaneCfg    `yaml:"data_plane" json:"data_plane"`
	Logging      LogCfg          `yaml:"logging" json:"logging"`
}

// Default returns the spec's fixed constants as a Config, used when no
// config file is supplied and as the base that Load fills gaps from.
func Default() Config {
	return Config{
		ControlPlane: ControlPlaneCfg{
			PeriodicInterval: Duration(5 * time.Second),
			DeadInterval:     Duration(7 * time.Second),
		},
		DataPlane: DataPlaneCfg{
			ChunkSize:     5000,
			AckTimeout:    Duration(1000 * time.Millisecond),
			StartupDelay:  Duration(3 * time.Second),
			RoutePollRate: Duration(5 * time.Second),
		},
	}
}

// Load reads path as YAML, falling back to JSON if that fails, and layers
// it over Default(). A missing path is not an error: Load just returns the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if yaml.Unmarshal(f, &cfg) == nil {
		return cfg, nil
	}
	if err := json.Unmarshal(f, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
