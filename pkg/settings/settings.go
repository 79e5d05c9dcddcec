// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package settings loads and saves the JSON configuration of a megastat
// bridge process.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/megastat/pkg/megad"
)

// Defaults
const (
	DefaultListen         = ":8090"
	DefaultPollInterval   = 5 // seconds
	DefaultRequestTimeout = 5 // seconds
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the whole configuration file.
type Config struct {
	Listen         string   `json:"listen"`
	LogLevel       string   `json:"logLevel,omitempty"`
	PollInterval   int      `json:"pollInterval"`   // Seconds
	RequestTimeout int      `json:"requestTimeout"` // Seconds
	LongPress      int      `json:"longPress"`      // Milliseconds, 0 disables
	DoublePress    int      `json:"doublePress"`    // Milliseconds, 0 disables
	MQTT           *MQTT    `json:"mqtt,omitempty"`
	Devices        []Device `json:"devices"`
}

// MQTT configures the broker connection.
type MQTT struct {
	Broker   string `json:"broker"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
	QoS      byte   `json:"qos,omitempty"`
}

// Device is one board. Ports are indexed by position.
type Device struct {
	Name     string               `json:"name"`
	Address  string               `json:"address"`
	Password string               `json:"password"`
	Ports    []megad.PortSettings `json:"ports"`
}

// Default returns a configuration with every default applied and no
// devices.
func Default() *Config {
	return &Config{
		Listen:         DefaultListen,
		PollInterval:   DefaultPollInterval,
		RequestTimeout: DefaultRequestTimeout,
	}
}

// Load reads and validates a configuration file.
func Load(path string, log zerolog.Logger) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data, log)
}

// Parse decodes a configuration, fills missing values and validates it.
func Parse(data []byte, log zerolog.Logger) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyDefaults(log)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults(log zerolog.Logger) {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.PollInterval <= 0 {
		log.Warn().Int("pollInterval", c.PollInterval).Msgf("invalid poll interval, using default %ds", DefaultPollInterval)
		c.PollInterval = DefaultPollInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.LongPress < 0 {
		c.LongPress = 0
	}
	if c.DoublePress < 0 {
		c.DoublePress = 0
	}
	if c.MQTT != nil && c.MQTT.Broker == "" {
		log.Warn().Msg("MQTT block without broker, MQTT disabled")
		c.MQTT = nil
	}

	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Name == "" {
			d.Name = fmt.Sprintf("megad%d", i)
		}
		for idx := range d.Ports {
			p := &d.Ports[idx]
			if p.Factor == 0 || math.IsNaN(p.Factor) {
				p.Factor = 1
			}
			if megad.KindFromType(p.Type) == megad.Unconfigured && p.Type != megad.TypeUnconnected {
				log.Warn().Str("device", d.Name).Int("port", idx).Int("pty", p.Type).Msg("unknown port type, port left unconfigured")
				p.Type = megad.TypeUnconnected
			}
			for _, v := range megad.ValidatePortSettings(idx, *p) {
				log.Warn().Str("device", d.Name).Int("port", idx).Str("anomaly", v.Type.String()).Msg(v.Message)
			}
		}
	}
}

// Validate checks the invariants that cannot be defaulted.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.Address == "" {
			return fmt.Errorf("%w: device %d (%s) has no address", ErrInvalidConfig, i, d.Name)
		}
		if seen[d.Name] {
			return fmt.Errorf("%w: duplicate device name %q", ErrInvalidConfig, d.Name)
		}
		seen[d.Name] = true
		if len(d.Ports) > megad.MaxPorts {
			return fmt.Errorf("%w: device %s has %d ports, max %d", ErrInvalidConfig, d.Name, len(d.Ports), megad.MaxPorts)
		}
	}
	return nil
}

// Save writes the configuration as indented JSON.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Windows returns the adapter-wide click windows.
func (c *Config) Windows() megad.Windows {
	return megad.Windows{
		LongPress:   time.Duration(c.LongPress) * time.Millisecond,
		DoublePress: time.Duration(c.DoublePress) * time.Millisecond,
	}
}

// PollDuration returns the poll interval.
func (c *Config) PollDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// RequestDuration returns the per-request device timeout.
func (c *Config) RequestDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// Lookup finds a device by name.
func (c *Config) Lookup(name string) (*Device, bool) {
	for i := range c.Devices {
		if c.Devices[i].Name == name {
			return &c.Devices[i], true
		}
	}
	return nil, false
}

// PortConfigs resolves the device's port settings.
func (d *Device) PortConfigs(w megad.Windows) []megad.PortConfig {
	configs := make([]megad.PortConfig, 0, len(d.Ports))
	for i, p := range d.Ports {
		configs = append(configs, p.Config(i, w))
	}
	return configs
}
