package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/radiation.report/internal/serialport"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/gmc.defaults.json"

// Defaults used when a key is absent from the file.
const (
	DefaultPort        = "/dev/serial/by-id/usb-1a86_USB2.0-Serial-if00-port0"
	DefaultTimeout     = 300 * time.Millisecond
	DefaultSettleDelay = 50 * time.Millisecond
	DefaultMaxAttempts = 8
	DefaultChunkSize   = 256
	DefaultMemSize     = 65536
	DefaultExtraPage   = 1376
	DefaultOutputPNG   = "/tmp/gmc.png"
	DefaultPortWait    = 5 * time.Second

	maxChunk = 4096
)

// Config is the tool's configuration. Every field is optional; the Get*
// methods fall back to the defaults above, so partial files are safe.
type Config struct {
	// Serial line
	Port     *string `json:"port,omitempty"`
	BaudRate *int    `json:"baud_rate,omitempty"`
	DataBits *int    `json:"data_bits,omitempty"`
	StopBits *int    `json:"stop_bits,omitempty"`
	Parity   *string `json:"parity,omitempty"`
	PortWait *string `json:"port_wait,omitempty"` // duration string like "5s"

	// Device link
	Timeout     *string `json:"timeout,omitempty"`      // duration string like "300ms"
	SettleDelay *string `json:"settle_delay,omitempty"` // duration string like "50ms"
	MaxAttempts *int    `json:"max_attempts,omitempty"`

	// Flash layout
	ChunkSize *int `json:"chunk_size,omitempty"`
	MemSize   *int `json:"mem_size,omitempty"`
	ExtraPage *int `json:"extra_page,omitempty"`

	// Decoding
	Timezone *string `json:"timezone,omitempty"` // IANA name, "Local" or "UTC"

	// Outputs
	OutputPNG  *string `json:"output_png,omitempty"`
	OutputHTML *string `json:"output_html,omitempty"`
	OutputRaw  *string `json:"output_raw,omitempty"`
	DBPath     *string `json:"db_path,omitempty"`
	Listen     *string `json:"listen,omitempty"`
}

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyConfig returns a Config with all fields unset.
func EmptyConfig() *Config {
	return &Config{}
}

// LoadConfig loads a Config from a JSON file. The file must have a .json
// extension and be under 1MB.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching parent
// directories. Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	durations := []struct {
		key string
		val *string
	}{
		{"timeout", c.Timeout},
		{"settle_delay", c.SettleDelay},
		{"port_wait", c.PortWait},
	}
	for _, d := range durations {
		if d.val == nil || *d.val == "" {
			continue
		}
		v, err := time.ParseDuration(*d.val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.key, *d.val, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", d.key, *d.val)
		}
	}

	if c.MaxAttempts != nil && *c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", *c.MaxAttempts)
	}
	if c.ChunkSize != nil && (*c.ChunkSize < 1 || *c.ChunkSize > maxChunk) {
		return fmt.Errorf("chunk_size must be between 1 and %d, got %d", maxChunk, *c.ChunkSize)
	}
	if c.MemSize != nil && (*c.MemSize < 1 || *c.MemSize > 0xFFFFFF) {
		return fmt.Errorf("mem_size must be between 1 and %d, got %d", 0xFFFFFF, *c.MemSize)
	}
	if c.ExtraPage != nil && (*c.ExtraPage < 1 || *c.ExtraPage > maxChunk) {
		return fmt.Errorf("extra_page must be between 1 and %d, got %d", maxChunk, *c.ExtraPage)
	}

	if c.Timezone != nil && *c.Timezone != "" {
		if _, err := time.LoadLocation(*c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", *c.Timezone, err)
		}
	}

	if _, err := c.GetPortOptions().Normalise(); err != nil {
		return fmt.Errorf("invalid serial options: %w", err)
	}

	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// GetPort returns the serial device path.
func (c *Config) GetPort() string { return stringOr(c.Port, DefaultPort) }

// GetPortOptions returns the serial line settings. Unset fields are left
// zero so PortOptions.Normalise applies its own defaults.
func (c *Config) GetPortOptions() serialport.PortOptions {
	return serialport.PortOptions{
		BaudRate: intOr(c.BaudRate, 0),
		DataBits: intOr(c.DataBits, 0),
		StopBits: intOr(c.StopBits, 0),
		Parity:   stringOr(c.Parity, ""),
	}
}

// GetPortWait returns the polling interval while waiting for the port.
func (c *Config) GetPortWait() time.Duration { return durationOr(c.PortWait, DefaultPortWait) }

// GetTimeout returns the per-phase deadline of a command exchange.
func (c *Config) GetTimeout() time.Duration { return durationOr(c.Timeout, DefaultTimeout) }

// GetSettleDelay returns the pause before each attempt.
func (c *Config) GetSettleDelay() time.Duration {
	return durationOr(c.SettleDelay, DefaultSettleDelay)
}

// GetMaxAttempts returns how many times a command is tried.
func (c *Config) GetMaxAttempts() int { return intOr(c.MaxAttempts, DefaultMaxAttempts) }

// GetChunkSize returns the length of each memory read.
func (c *Config) GetChunkSize() int { return intOr(c.ChunkSize, DefaultChunkSize) }

// GetMemSize returns the history buffer size.
func (c *Config) GetMemSize() int { return intOr(c.MemSize, DefaultMemSize) }

// GetExtraPage returns the length of the throwaway read.
func (c *Config) GetExtraPage() int { return intOr(c.ExtraPage, DefaultExtraPage) }

// GetLocation returns the zone the device clock runs in.
func (c *Config) GetLocation() *time.Location {
	if c.Timezone == nil || *c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(*c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// GetOutputPNG returns the plot path; empty disables the plot.
func (c *Config) GetOutputPNG() string { return stringOr(c.OutputPNG, DefaultOutputPNG) }

// GetOutputHTML returns the chart path; empty disables the chart.
func (c *Config) GetOutputHTML() string { return stringOr(c.OutputHTML, "") }

// GetOutputRaw returns the raw dump path; empty disables the dump.
func (c *Config) GetOutputRaw() string { return stringOr(c.OutputRaw, "") }

// GetDBPath returns the sqlite path; empty disables storage.
func (c *Config) GetDBPath() string { return stringOr(c.DBPath, "") }

// GetListen returns the HTTP listen address; empty disables serving.
func (c *Config) GetListen() string { return stringOr(c.Listen, "") }
