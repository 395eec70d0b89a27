// Package cconfig loads agent configuration
// from defaults, an optional config file and the environment.
package cconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/credmesh/credmesh/cpoll"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix = "CREDMESH"

	DefaultName         = "agent"
	DefaultTimeout      = cpoll.DefaultTimeout
	DefaultPollInterval = cpoll.DefaultInterval
	DefaultBaseDir      = "~/.credmesh"
	DefaultLogFilePath  = "cli.log"
	DefaultLedgerPath   = "ledger.db"
	DefaultCADir        = "ca"
	DefaultPrimeBits    = 128
)

// SchemaConfig describes a schema the agent bootstraps on start.
type SchemaConfig struct {
	AttribDef string   `json:"attrib_def"    mapstructure:"attrib_def"`
	Name      string   `json:"name"          mapstructure:"name"`
	Version   string   `json:"version"       mapstructure:"version"`
	Attrs     []string `json:"attrs"         mapstructure:"attrs"`
}

// Config is the complete agent configuration.
// Values are passed explicitly to the components that need them.
type Config struct {
	Name string `json:"name" mapstructure:"name"`

	// UDP port to listen on; zero picks an ephemeral port.
	Port int `json:"port" mapstructure:"port"`

	// The address advertised to peers.
	// Defaults to the listener address.
	AdvertiseAddr string `json:"advertise_addr,omitempty" mapstructure:"advertise_addr"`

	// Wallet seed; exactly 32 bytes when set.
	// A random seed is used if empty.
	Seed string `json:"seed,omitempty" mapstructure:"seed"`

	// Eventual-consistency budget for connection checks.
	Timeout      time.Duration `json:"timeout"       mapstructure:"timeout"`
	PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval"`

	// Directory holding the agent's persistent state.
	// A leading ~ expands to the user's home directory.
	BaseDir string `json:"base_dir" mapstructure:"base_dir"`

	// Resolved against the working directory when relative.
	LogFilePath string `json:"log_file_path" mapstructure:"log_file_path"`

	// Resolved against BaseDir when relative.
	LedgerPath string `json:"ledger_path" mapstructure:"ledger_path"`
	CADir      string `json:"ca_dir"      mapstructure:"ca_dir"`

	// Bit size of the primes generated for issuer keys at bootstrap.
	PrimeBits int `json:"prime_bits" mapstructure:"prime_bits"`

	Schemas []SchemaConfig `json:"schemas,omitempty" mapstructure:"schemas"`
}

// Load builds a Config from defaults, the config file at path (if not empty),
// and CREDMESH_* environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	v := viper.NewWithOptions(
		viper.KeyDelimiter("."),
		viper.EnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")),
	)

	v.SetEnvPrefix(DefaultEnvPrefix)
	v.AllowEmptyEnv(false)
	v.AutomaticEnv()

	for key, def := range map[string]any{
		"name":           DefaultName,
		"port":           0,
		"advertise_addr": "",
		"seed":           "",
		"timeout":        DefaultTimeout,
		"poll_interval":  DefaultPollInterval,
		"base_dir":       DefaultBaseDir,
		"log_file_path":  DefaultLogFilePath,
		"ledger_path":    DefaultLedgerPath,
		"ca_dir":         DefaultCADir,
		"prime_bits":     DefaultPrimeBits,
	} {
		_ = v.BindEnv(key)
		v.SetDefault(key, def)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	decodeHooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHooks)); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting in c.
func (c Config) Validate() error {
	var err error

	if c.Name == "" {
		err = errors.Join(err, errors.New("name must not be empty"))
	}
	if c.Port < 0 || c.Port > 65535 {
		err = errors.Join(err, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Seed != "" && len(c.Seed) != 32 {
		err = errors.Join(err, fmt.Errorf("seed must be 32 bytes (got %d)", len(c.Seed)))
	}
	if c.Timeout <= 0 {
		err = errors.Join(err, fmt.Errorf("timeout must be positive (got %s)", c.Timeout))
	}
	if c.PollInterval <= 0 {
		err = errors.Join(err, fmt.Errorf("poll_interval must be positive (got %s)", c.PollInterval))
	}
	if c.PrimeBits < 64 {
		err = errors.Join(err, fmt.Errorf("prime_bits must be at least 64 (got %d)", c.PrimeBits))
	}
	for i, s := range c.Schemas {
		if s.Name == "" || s.Version == "" || len(s.Attrs) == 0 {
			err = errors.Join(err, fmt.Errorf(
				"schemas[%d] needs a name, a version and at least one attribute", i,
			))
		}
	}

	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// PollConfig returns the eventual-consistency settings for connection checks.
func (c Config) PollConfig() cpoll.Config {
	return cpoll.Config{
		Timeout:  c.Timeout,
		Interval: c.PollInterval,
	}
}

// ResolvedBaseDir returns BaseDir with a leading ~ expanded.
func (c Config) ResolvedBaseDir() (string, error) {
	if c.BaseDir == "~" || strings.HasPrefix(c.BaseDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to expand base_dir: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(c.BaseDir, "~")), nil
	}
	return c.BaseDir, nil
}

// ResolvedLogFilePath returns LogFilePath resolved against cwd.
func (c Config) ResolvedLogFilePath(cwd string) string {
	if filepath.IsAbs(c.LogFilePath) {
		return c.LogFilePath
	}
	return filepath.Join(cwd, c.LogFilePath)
}

// ResolvedLedgerPath returns LedgerPath resolved against the base directory.
func (c Config) ResolvedLedgerPath() (string, error) {
	return c.underBaseDir(c.LedgerPath)
}

// ResolvedCADir returns CADir resolved against the base directory.
func (c Config) ResolvedCADir() (string, error) {
	return c.underBaseDir(c.CADir)
}

func (c Config) underBaseDir(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	base, err := c.ResolvedBaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, p), nil
}
