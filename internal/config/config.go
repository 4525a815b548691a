// Package config loads the YAML configuration file shared by the
// gateway and node deployables (§6 "Environment").
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk shape of a deployable's configuration file.
type Config struct {
	Radio struct {
		Port     string `yaml:"port"`
		BaudRate int    `yaml:"baud_rate"`
		Simulate bool   `yaml:"simulate"`
	} `yaml:"radio"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Node struct {
		No int `yaml:"no"`
	} `yaml:"node"`

	Timing struct {
		BeaconIntervalSeconds int `yaml:"beacon_interval_seconds"`
		SendCloudMinutes      int `yaml:"send_cloud_minutes"`
		ConfigUpdateHours     int `yaml:"config_update_hours"`
		BatteryReportHour     int `yaml:"battery_report_hour"`
	} `yaml:"timing"`

	Cloud struct {
		ScriptURL string `yaml:"script_url"`
	} `yaml:"cloud"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

// DefaultConfig mirrors the reference implementation's baseline
// SPAN_* constants (§9 config.py): beacon every 60s, cloud uplink
// every 2 minutes, config pull every hour, battery report at 08:00.
func DefaultConfig() Config {
	var c Config
	c.Radio.Port = "/dev/ttyS0"
	c.Radio.BaudRate = 9600
	c.Database.Path = "/var/lib/sast/sast.db"
	c.Timing.BeaconIntervalSeconds = 60
	c.Timing.SendCloudMinutes = 2
	c.Timing.ConfigUpdateHours = 1
	c.Timing.BatteryReportHour = 8
	return c
}

// Load reads and parses the YAML file at path over DefaultConfig()'s
// baseline: keys absent from the file keep their default, keys present
// (including explicit zeros) override it.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// BeaconInterval is Timing.BeaconIntervalSeconds as a Duration.
func (c Config) BeaconInterval() time.Duration {
	return time.Duration(c.Timing.BeaconIntervalSeconds) * time.Second
}

// SendCloudInterval is Timing.SendCloudMinutes as a Duration.
func (c Config) SendCloudInterval() time.Duration {
	return time.Duration(c.Timing.SendCloudMinutes) * time.Minute
}

// ConfigUpdateInterval is Timing.ConfigUpdateHours as a Duration.
func (c Config) ConfigUpdateInterval() time.Duration {
	return time.Duration(c.Timing.ConfigUpdateHours) * time.Hour
}

// NodeNoFromHostname derives NodeNo from the trailing two characters
// of hostname (§3 Identities, §6 Environment): "0" ⇒ Gateway, "01".."99"
// ⇒ Node. A non-numeric suffix is an error — the host was not named
// per convention.
func NodeNoFromHostname(hostname string) (int, error) {
	hostname = strings.TrimSpace(hostname)
	if len(hostname) < 2 {
		return 0, fmt.Errorf("config: hostname %q too short to carry a node suffix", hostname)
	}
	suffix := hostname[len(hostname)-2:]
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, fmt.Errorf("config: hostname %q has non-numeric node suffix %q: %w", hostname, suffix, err)
	}
	if n < 0 || n > 99 {
		return 0, fmt.Errorf("config: node suffix %d out of range 0..99", n)
	}
	return n, nil
}
