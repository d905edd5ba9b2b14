package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itohio/gofbg/pkg/instrument"
)

// Channels is the number of physical interrogator channels described by the configuration.
const Channels = instrument.Channels

// Config represents the application configuration.
type Config struct {
	Interrogator InterrogatorConfig `yaml:"interrogator"`
	Switch       SwitchConfig       `yaml:"switch"`
	Channels     []ChannelConfig    `yaml:"channels"`
	Acquisition  AcquisitionConfig  `yaml:"acquisition"`
	Mock         MockConfig         `yaml:"mock"`
	Publish      PublishConfig      `yaml:"publish"`
}

// InterrogatorConfig contains the interrogator network endpoint.
type InterrogatorConfig struct {
	Address string        `yaml:"address"`
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"` // Per request read/write deadline
}

// SwitchConfig contains the optical switch endpoint and wiring.
// Either Address (TCP) or SerialPort is used; Address wins when both are set.
type SwitchConfig struct {
	Address    string `yaml:"address"`
	Port       int    `yaml:"port"`
	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`
	Module     int    `yaml:"module"`  // Switch module id sent in every command
	Channel    int    `yaml:"channel"` // Interrogator channel (1-4) wired through the switch
}

// ChannelConfig lists the sensors on one interrogator channel, in order.
type ChannelConfig struct {
	Sensors []SensorConfig `yaml:"sensors"`
}

// SensorConfig describes one logical sensor.
type SensorConfig struct {
	Serial   string `yaml:"serial"`
	Position int    `yaml:"position"` // Switch position, 0 when wired directly
}

// AcquisitionConfig contains sweep parameters.
type AcquisitionConfig struct {
	ReadingsPerPosition int           `yaml:"readings_per_position"`
	Settle              time.Duration `yaml:"settle"`   // Delay after a switch command
	Interval            time.Duration `yaml:"interval"` // Pause between consecutive sweeps
}

// MockConfig contains simulated interrogator configuration.
type MockConfig struct {
	BaseWavelength float64 `yaml:"base_wavelength"` // nm, channel 1 position 0
	ChannelSpacing float64 `yaml:"channel_spacing"` // nm between channels
	PositionStep   float64 `yaml:"position_step"`   // nm per switch position
	NoiseLevel     float64 `yaml:"noise_level"`     // nm, peak to peak
	Power          float64 `yaml:"power"`           // dBm
}

// PublishConfig contains result publishing configuration. Empty URL disables publishing.
type PublishConfig struct {
	NatsURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Interrogator: InterrogatorConfig{
			Address: "10.0.0.126",
			Port:    51971,
			Timeout: 3 * time.Second,
		},
		Switch: SwitchConfig{
			Address:  "10.0.0.127",
			Port:     3000,
			BaudRate: 115200,
			Module:   1,
			Channel:  2,
		},
		Channels: []ChannelConfig{
			{Sensors: []SensorConfig{{Serial: "S1", Position: 0}}},
			{Sensors: []SensorConfig{{Serial: "S2", Position: 1}, {Serial: "S3", Position: 2}}},
			{},
			{},
		},
		Acquisition: AcquisitionConfig{
			ReadingsPerPosition: 5,
			Settle:              1200 * time.Millisecond,
			Interval:            10 * time.Second,
		},
		Mock: MockConfig{
			BaseWavelength: 1530.0,
			ChannelSpacing: 5.0,
			PositionStep:   1.0,
			NoiseLevel:     0.002,
			Power:          -20.0,
		},
		Publish: PublishConfig{
			Subject: "fbg.sweep",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the channel wiring.
func (c *Config) Validate() error {
	if len(c.Channels) > Channels {
		return fmt.Errorf("%d channels configured, interrogator has %d", len(c.Channels), Channels)
	}
	if c.Switch.Channel < 1 || c.Switch.Channel > Channels {
		return fmt.Errorf("switch channel %d out of range 1-%d", c.Switch.Channel, Channels)
	}
	if c.Acquisition.ReadingsPerPosition < 1 {
		return fmt.Errorf("readings_per_position must be positive, got %d", c.Acquisition.ReadingsPerPosition)
	}
	return nil
}

// SensorPositions returns the switch position of every sensor, per channel.
func (c *Config) SensorPositions() [Channels][]int {
	var out [Channels][]int
	for ch, cc := range c.Channels {
		if ch >= Channels {
			break
		}
		out[ch] = make([]int, len(cc.Sensors))
		for i, s := range cc.Sensors {
			out[ch][i] = s.Position
		}
	}
	return out
}

// SensorSerials returns the serial numbers of every sensor, per channel.
func (c *Config) SensorSerials() [Channels][]string {
	var out [Channels][]string
	for ch, cc := range c.Channels {
		if ch >= Channels {
			break
		}
		out[ch] = make([]string, len(cc.Sensors))
		for i, s := range cc.Sensors {
			out[ch][i] = s.Serial
		}
	}
	return out
}

// SwitchedChannel returns the zero-based index of the switched channel.
func (c *Config) SwitchedChannel() int {
	return c.Switch.Channel - 1
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Interrogator.Address == "" {
		c.Interrogator.Address = def.Interrogator.Address
	}
	if c.Interrogator.Port == 0 {
		c.Interrogator.Port = def.Interrogator.Port
	}
	if c.Interrogator.Timeout == 0 {
		c.Interrogator.Timeout = def.Interrogator.Timeout
	}

	if c.Switch.Port == 0 {
		c.Switch.Port = def.Switch.Port
	}
	if c.Switch.BaudRate == 0 {
		c.Switch.BaudRate = def.Switch.BaudRate
	}
	if c.Switch.Channel == 0 {
		c.Switch.Channel = def.Switch.Channel
	}

	for len(c.Channels) < Channels {
		c.Channels = append(c.Channels, ChannelConfig{})
	}

	if c.Acquisition.ReadingsPerPosition == 0 {
		c.Acquisition.ReadingsPerPosition = def.Acquisition.ReadingsPerPosition
	}
	if c.Acquisition.Settle == 0 {
		c.Acquisition.Settle = def.Acquisition.Settle
	}
	if c.Acquisition.Interval == 0 {
		c.Acquisition.Interval = def.Acquisition.Interval
	}

	if c.Mock.BaseWavelength == 0 {
		c.Mock.BaseWavelength = def.Mock.BaseWavelength
	}
	if c.Mock.ChannelSpacing == 0 {
		c.Mock.ChannelSpacing = def.Mock.ChannelSpacing
	}
	if c.Mock.PositionStep == 0 {
		c.Mock.PositionStep = def.Mock.PositionStep
	}

	if c.Publish.Subject == "" {
		c.Publish.Subject = def.Publish.Subject
	}
}
