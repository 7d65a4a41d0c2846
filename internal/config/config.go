package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains state directory and bind address configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	APIBind  string `toml:"api_bind"`
	// APIToken, when set, is required as a bearer token on control
	// endpoints.
	APIToken string `toml:"api_token"`
}

// Backend contains the task backend endpoints.
type Backend struct {
	RPCURL              string `toml:"rpc_url"`
	EventsURL           string `toml:"events_url"`
	RequestTimeout      int    `toml:"request_timeout"`
	ReconnectMaxBackoff int    `toml:"reconnect_max_backoff"`
}

// Liveness contains stall detection timing, in seconds.
type Liveness struct {
	TickInterval      int `toml:"tick_interval"`
	StallThreshold    int `toml:"stall_threshold"`
	StallRemovalDelay int `toml:"stall_removal_delay"`
}

// Removal contains the grace period, in seconds, a terminal task stays
// visible before it is dropped from the registry.
type Removal struct {
	SavedDelay     int `toml:"saved_delay"`
	ExtractedDelay int `toml:"extracted_delay"`
	FailedDelay    int `toml:"failed_delay"`
	CanceledDelay  int `toml:"canceled_delay"`
}

// Journal contains configuration for the transition journal.
type Journal struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
}

// Notifications contains the ntfy push settings.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	// NotifyCompleted also pushes finished downloads and extractions, not
	// only failures and stalls.
	NotifyCompleted bool `toml:"notify_completed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	// RetentionDays is how long daily log files are kept; 0 keeps them all.
	RetentionDays int `toml:"retention_days"`
}

// Config encapsulates all configuration values for courier.
type Config struct {
	Paths    Paths    `toml:"paths"`
	Backend  Backend  `toml:"backend"`
	Liveness Liveness `toml:"liveness"`
	Removal  Removal  `toml:"removal"`
	Journal  Journal  `toml:"journal"`
	Logging  Logging  `toml:"logging"`

	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/courier/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("courier.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state directory.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Paths.StateDir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", c.Paths.StateDir, err)
	}
	return nil
}

// LogDir holds the daily JSON log files.
func (c *Config) LogDir() string {
	return filepath.Join(c.Paths.StateDir, "logs")
}

// LogPath is today's JSON log file.
func (c *Config) LogPath() string {
	return c.LogPathFor(time.Now())
}

// LogPathFor is the log file written on the day of t.
func (c *Config) LogPathFor(t time.Time) string {
	return filepath.Join(c.LogDir(), "courier-"+t.Format("2006-01-02")+".log")
}

// LogRetention is how long daily log files are kept.
func (c *Config) LogRetention() time.Duration {
	return time.Duration(c.Logging.RetentionDays) * 24 * time.Hour
}

// JournalPath is the sqlite transition journal location.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.StateDir, "journal.db")
}

// LockPath is the flock guarding a single watch session per state dir.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "courier.lock")
}

// RequestTimeout bounds a single control RPC.
func (c *Config) RequestTimeout() time.Duration {
	return seconds(c.Backend.RequestTimeout)
}

// ReconnectMaxBackoff caps the event stream reconnect delay.
func (c *Config) ReconnectMaxBackoff() time.Duration {
	return seconds(c.Backend.ReconnectMaxBackoff)
}

// TickInterval is the liveness sweep period.
func (c *Config) TickInterval() time.Duration {
	return seconds(c.Liveness.TickInterval)
}

// StallThreshold is the silence after which an active task counts as stalled.
func (c *Config) StallThreshold() time.Duration {
	return seconds(c.Liveness.StallThreshold)
}

// StallRemovalDelay is the grace period for a task the monitor marked stalled.
func (c *Config) StallRemovalDelay() time.Duration {
	return seconds(c.Liveness.StallRemovalDelay)
}

// JournalRetention is how long journal rows are kept.
func (c *Config) JournalRetention() time.Duration {
	return time.Duration(c.Journal.RetentionDays) * 24 * time.Hour
}

// NotificationTimeout bounds one ntfy request.
func (c *Config) NotificationTimeout() time.Duration {
	return seconds(c.Notifications.RequestTimeout)
}

func seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// Sample returns the annotated sample configuration.
func Sample() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
