// Package config manages the persistent configuration of the spooler.
package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/alecthomas/units"
	"github.com/pkg/errors"

	"github.com/kopia/mimespool/blob"
	"github.com/kopia/mimespool/internal/atomicfile"
	"github.com/kopia/mimespool/internal/compression"
	"github.com/kopia/mimespool/internal/ospath"
	"github.com/kopia/mimespool/internal/tempstore"
)

// TempDirEnvVar overrides the spool directory of the configuration.
const TempDirEnvVar = "MIMESPOOL_TMPDIR"

const (
	defaultMemoryThreshold = 64 << 10
	defaultSweepMinAge     = 24 * time.Hour
)

// ByteSize is a number of bytes represented in JSON as a human-readable string such as "16MiB".
type ByteSize int64

// UnmarshalJSON accepts either a number of bytes or a string with a unit suffix.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*b = ByteSize(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "invalid byte size")
	}

	v, err := ParseByteSize(s)
	if err != nil {
		return err
	}

	*b = v

	return nil
}

// MarshalJSON implements json.Marshaler.
func (b ByteSize) MarshalJSON() ([]byte, error) {
	//nolint:wrapcheck
	return json.Marshal(b.String())
}

func (b ByteSize) String() string {
	return units.Base2Bytes(b).String()
}

// ParseByteSize parses strings such as "100", "64KiB" or "1GB".
func ParseByteSize(s string) (ByteSize, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ByteSize(n), nil
	}

	v, err := units.ParseStrictBytes(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid byte size %q", s)
	}

	return ByteSize(v), nil
}

// Duration is a time.Duration represented in JSON as a string such as "24h".
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "invalid duration")
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", s)
	}

	*d = Duration(v)

	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	//nolint:wrapcheck
	return json.Marshal(time.Duration(d).String())
}

// SpoolConfig configures local spooling of message bodies.
type SpoolConfig struct {
	Dir             string           `json:"dir,omitempty"`
	MinFree         ByteSize         `json:"minFree,omitempty"`
	Compression     compression.Name `json:"compression,omitempty"`
	MemoryThreshold ByteSize         `json:"memoryThreshold,omitempty"`
	SweepMinAge     Duration         `json:"sweepMinAge,omitempty"`
}

// Config is the persistent configuration.
type Config struct {
	Spool SpoolConfig `json:"spool"`

	// Offload is the blob storage that bodies are offloaded to, if any.
	Offload *blob.ConnectionInfo `json:"offload,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Spool: SpoolConfig{
			MemoryThreshold: defaultMemoryThreshold,
			SweepMinAge:     Duration(defaultSweepMinAge),
		},
	}
}

// DefaultConfigFile returns the path of the configuration file used when none is specified.
func DefaultConfigFile() string {
	return filepath.Join(ospath.ConfigDir(), "mimespool.config")
}

// Load reads the configuration from a file. A missing file yields the default configuration.
func Load(filename string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(filename) //nolint:gosec
	if os.IsNotExist(err) {
		return cfg, nil
	}

	if err != nil {
		return nil, errors.Wrap(err, "unable to open config file")
	}

	defer f.Close() //nolint:errcheck

	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "unable to parse config file %v", filename)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config file %v", filename)
	}

	return cfg, nil
}

// Save atomically writes the configuration to a file, creating its directory if needed.
func (c *Config) Save(filename string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0o700); err != nil {
		return errors.Wrap(err, "unable to create config directory")
	}

	return errors.Wrap(atomicfile.WriteJSON(filename, c), "unable to write config file")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Spool.Compression != "" {
		if _, err := compression.Get(c.Spool.Compression); err != nil {
			return errors.Wrap(err, "invalid spool compression")
		}
	}

	if c.Spool.MinFree < 0 || c.Spool.MemoryThreshold < 0 || c.Spool.SweepMinAge < 0 {
		return errors.New("spool sizes and durations must not be negative")
	}

	if c.Offload != nil && c.Offload.Type == "" {
		return errors.New("offload storage type must be set")
	}

	return nil
}

// TempStoreOptions returns the options of the spool storage. The directory can be
// overridden with the MIMESPOOL_TMPDIR environment variable.
func (c *Config) TempStoreOptions() tempstore.Options {
	opts := tempstore.Options{
		Dir:          c.Spool.Dir,
		MinFreeBytes: int64(c.Spool.MinFree),
		Compression:  c.Spool.Compression,
	}

	if d := os.Getenv(TempDirEnvVar); d != "" {
		opts.Dir = d
	}

	if opts.Dir != "" {
		opts.Dir = ospath.ResolveUserFriendlyPath(opts.Dir, false)
	}

	return opts
}

// OpenOffloadStorage connects to the configured offload storage.
func (c *Config) OpenOffloadStorage(ctx context.Context) (blob.Storage, error) {
	if c.Offload == nil {
		return nil, errors.New("offload storage is not configured")
	}

	//nolint:wrapcheck
	return blob.NewStorage(ctx, *c.Offload)
}
