package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BusMode selects the bus driver.
type BusMode string

const (
	BusLoopback BusMode = "loopback" // single unit hears its own frames
	BusHub      BusMode = "hub"      // in-process bus shared by two units
	BusSerial   BusMode = "serial"
	BusMIDI     BusMode = "midi"
)

// BusConfig defines the link to the other unit
type BusConfig struct {
	Mode       BusMode `json:"mode" yaml:"mode"`
	SerialPort string  `json:"serialPort,omitempty" yaml:"serialPort,omitempty"`
	Baud       int     `json:"baud,omitempty" yaml:"baud,omitempty"`
	MidiIn     string  `json:"midiIn,omitempty" yaml:"midiIn,omitempty"`
	MidiOut    string  `json:"midiOut,omitempty" yaml:"midiOut,omitempty"`
	QueueDepth int     `json:"queueDepth" yaml:"queueDepth"`
	Mailboxes  int     `json:"mailboxes" yaml:"mailboxes"`
}

// AudioConfig defines the sample output
type AudioConfig struct {
	Backend       string `json:"backend" yaml:"backend"` // oto or null
	Record        string `json:"record,omitempty" yaml:"record,omitempty"`
	RecordSeconds int    `json:"recordSeconds,omitempty" yaml:"recordSeconds,omitempty"`
}

// KeysConfig selects where key presses come from
type KeysConfig struct {
	Source   string `json:"source" yaml:"source"` // virtual or midi
	MidiPort string `json:"midiPort,omitempty" yaml:"midiPort,omitempty"`
}

// KnobConfig tunes the quadrature decoder
type KnobConfig struct {
	InferSkipped bool `json:"inferSkipped,omitempty" yaml:"inferSkipped,omitempty"`
}

// Config is the main configuration structure
type Config struct {
	Octave int    `json:"octave" yaml:"octave"`
	UnitID uint32 `json:"unitID" yaml:"unitID"`

	Bus   BusConfig   `json:"bus" yaml:"bus"`
	Audio AudioConfig `json:"audio" yaml:"audio"`
	Keys  KeysConfig  `json:"keys" yaml:"keys"`
	Knob  KnobConfig  `json:"knob" yaml:"knob"`

	ScanPeriodMs     int `json:"scanPeriodMs" yaml:"scanPeriodMs"`
	SampleRate       int `json:"sampleRate" yaml:"sampleRate"`
	LockTimeoutMs    int `json:"lockTimeoutMs,omitempty" yaml:"lockTimeoutMs,omitempty"`
	SendTimeoutMs    int `json:"sendTimeoutMs,omitempty" yaml:"sendTimeoutMs,omitempty"`
	MailboxTimeoutMs int `json:"mailboxTimeoutMs,omitempty" yaml:"mailboxTimeoutMs,omitempty"`

	RemoteVoice bool   `json:"remoteVoice,omitempty" yaml:"remoteVoice,omitempty"`
	Debug       bool   `json:"debug,omitempty" yaml:"debug,omitempty"`
	LogPath     string `json:"logPath,omitempty" yaml:"logPath,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Octave: 4,
		UnitID: 0x123,
		Bus: BusConfig{
			Mode:       BusLoopback,
			Baud:       115200,
			QueueDepth: 36,
			Mailboxes:  3,
		},
		Audio: AudioConfig{
			Backend:       "oto",
			RecordSeconds: 10,
		},
		Keys: KeysConfig{
			Source: "virtual",
		},
		ScanPeriodMs: 50,
		SampleRate:   22000,
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "keyduet"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from disk, or returns defaults if not found
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), nil
	}
	cfg, err := LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// LoadFile reads path on top of the defaults. .yml and .yaml files are parsed
// as YAML, .json as JSON; anything else is tried as JSON and then YAML.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		err = yaml.Unmarshal(data, cfg)
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		if errJSON := json.Unmarshal(data, cfg); errJSON != nil {
			cfg = DefaultConfig()
			if errYaml := yaml.Unmarshal(data, cfg); errYaml != nil {
				err = fmt.Errorf("could not be parsed as .json (%v) or .yml (%v)", errJSON, errYaml)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveFile(path)
}

// SaveFile writes the config to path, as YAML when the extension says so.
func (c *Config) SaveFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate reports every field that is out of range.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Octave < 0 || c.Octave > 8 {
		bad("octave %d out of range 0-8", c.Octave)
	}
	if c.UnitID > 0x7FF {
		bad("unitID %#x is not an 11-bit identifier", c.UnitID)
	}
	switch c.Bus.Mode {
	case BusLoopback, BusHub:
	case BusSerial:
		if c.Bus.SerialPort == "" {
			bad("bus.serialPort is required in serial mode")
		}
		if c.Bus.Baud <= 0 {
			bad("bus.baud must be positive")
		}
	case BusMIDI:
		if c.Bus.MidiIn == "" || c.Bus.MidiOut == "" {
			bad("bus.midiIn and bus.midiOut are required in midi mode")
		}
	default:
		bad("unknown bus.mode %q", c.Bus.Mode)
	}
	if c.Bus.QueueDepth <= 0 {
		bad("bus.queueDepth must be positive")
	}
	if c.Bus.Mailboxes <= 0 {
		bad("bus.mailboxes must be positive")
	}
	if c.ScanPeriodMs <= 0 {
		bad("scanPeriodMs must be positive")
	}
	if c.SampleRate <= 0 {
		bad("sampleRate must be positive")
	}
	if c.LockTimeoutMs < 0 || c.SendTimeoutMs < 0 || c.MailboxTimeoutMs < 0 {
		bad("timeouts must not be negative")
	}
	switch c.Audio.Backend {
	case "oto", "null":
	default:
		bad("unknown audio.backend %q", c.Audio.Backend)
	}
	if c.Audio.Record != "" && c.Audio.RecordSeconds <= 0 {
		bad("audio.recordSeconds must be positive when recording")
	}
	switch c.Keys.Source {
	case "virtual", "midi":
	default:
		bad("unknown keys.source %q", c.Keys.Source)
	}
	return errors.Join(errs...)
}

func (c *Config) ScanPeriod() time.Duration {
	return time.Duration(c.ScanPeriodMs) * time.Millisecond
}

func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMs) * time.Millisecond
}

func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutMs) * time.Millisecond
}

func (c *Config) MailboxTimeout() time.Duration {
	return time.Duration(c.MailboxTimeoutMs) * time.Millisecond
}
