// Package config loads the server configuration: defaults, overlaid by an
// optional yaml file, overlaid by flags in main.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Patrol is the flight geometry applied to every mission command.
type Patrol struct {
	AltitudeM float64 `yaml:"altitude_m"`
	SideM     float64 `yaml:"side_m"`
	SpeedMps  float64 `yaml:"speed_mps"`
}

type Config struct {
	ListenAddress  string `yaml:"listen_address"`
	VehicleAddress string `yaml:"vehicle_address"`
	DeviceID       string `yaml:"device_id"`
	MQTTBroker     string `yaml:"mqtt_broker"`

	ConnectTimeoutS int `yaml:"connect_timeout_s"`
	HealthTimeoutS  int `yaml:"health_timeout_s"`
	HomeTimeoutS    int `yaml:"home_timeout_s"`

	Patrol Patrol `yaml:"patrol"`
}

func Default() Config {
	return Config{
		ListenAddress:   ":9999",
		VehicleAddress:  "udp://:14540",
		DeviceID:        "drone0",
		ConnectTimeoutS: 20,
		HealthTimeoutS:  45,
		HomeTimeoutS:    10,
		Patrol:          Patrol{AltitudeM: 5, SideM: 10, SpeedMps: 5},
	}
}

// Load returns the defaults overlaid with the yaml file at path. An empty
// path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parsing config %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ListenAddress == "" {
		return errors.New("listen_address must not be empty")
	}
	if c.VehicleAddress == "" {
		return errors.New("vehicle_address must not be empty")
	}
	if c.ConnectTimeoutS <= 0 || c.HealthTimeoutS <= 0 || c.HomeTimeoutS <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.Patrol.AltitudeM <= 0 {
		return errors.New("patrol.altitude_m must be positive")
	}
	if c.Patrol.SideM <= 0 {
		return errors.New("patrol.side_m must be positive")
	}
	if c.Patrol.SpeedMps <= 0 {
		return errors.New("patrol.speed_mps must be positive")
	}
	return nil
}
