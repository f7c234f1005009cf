package config

import (
	"path/filepath"
	"slices"
	"time"

	"github.com/adrg/xdg"
	"github.com/nao1215/arbiter/internal/model"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "arbiter"

	// DefaultMode is the mode used when --mode is not given. Quiet by default.
	DefaultMode = model.ModeStealth

	// DefaultUserAgent is sent with every HTTP request unless the settings
	// file overrides it.
	DefaultUserAgent = "Mozilla/5.0 (compatible; arbiter/1.0)"

	// DefaultMaxBodySize limits how much of a response body is read.
	DefaultMaxBodySize = 5 * 1024 * 1024 // 5MB

	// DefaultTorStartupTimeout is the maximum time to wait for the embedded
	// Tor daemon to bootstrap.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultToolTimeout bounds a single external tool invocation.
	DefaultToolTimeout = 10 * time.Minute

	// DefaultOnFinish is the retain-or-purge policy applied after the report.
	DefaultOnFinish = OnFinishAsk
)

// Retain-or-purge policies.
const (
	OnFinishAsk   = "ask"
	OnFinishKeep  = "keep"
	OnFinishPurge = "purge"
)

// Report formats.
const (
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

// Config holds all configuration options for a scan.
// It is built once from CLI flags and the settings file and then passed
// read-only to every phase.
type Config struct {
	// Target is the domain to scan.
	Target string

	// Mode is the scan intensity.
	Mode model.Mode

	// Resume continues a previous scan of Target instead of starting over.
	Resume bool

	// Profile holds the concurrency and rate parameters derived from Mode.
	Profile Profile

	// DataDir is the directory holding session stores.
	// Defaults to the XDG data directory.
	DataDir string

	// OutputDir is the directory reports are written under, one
	// subdirectory per domain.
	OutputDir string

	// ReportFormats lists the report files to generate.
	ReportFormats []string

	// OnFinish decides whether data is kept or purged after the report.
	OnFinish string

	// ProxyAddress routes all HTTP traffic through a SOCKS5 proxy in
	// "host:port" format when set.
	ProxyAddress string

	// UseTor starts an embedded Tor daemon and routes HTTP traffic through it.
	// Mutually exclusive with ProxyAddress.
	UseTor bool

	// TorStartupTimeout is the maximum time to wait for the embedded Tor
	// daemon to bootstrap. Only used when UseTor is true.
	TorStartupTimeout time.Duration

	// ToolTimeout bounds each external tool invocation.
	ToolTimeout time.Duration

	// UserAgent is the User-Agent header sent with HTTP requests.
	UserAgent string

	// MaxBodySize is the maximum response body size in bytes to read.
	MaxBodySize int64

	// Verbose enables debug logging.
	Verbose bool

	// ConfigFilePath is the settings file given with --config.
	ConfigFilePath string

	// Settings holds tool paths, resolvers, and tokens from the settings file.
	Settings *Settings
}

// NewConfig creates a new Config with default values for the default mode.
func NewConfig() *Config {
	return &Config{
		Mode:              DefaultMode,
		Profile:           ProfileFor(DefaultMode),
		DataDir:           XDGSessionDir(),
		OutputDir:         DefaultOutputDir,
		ReportFormats:     []string{FormatHTML, FormatMarkdown},
		OnFinish:          DefaultOnFinish,
		TorStartupTimeout: DefaultTorStartupTimeout,
		ToolTimeout:       DefaultToolTimeout,
		UserAgent:         DefaultUserAgent,
		MaxBodySize:       DefaultMaxBodySize,
		Settings:          NewSettings(),
	}
}

// DefaultOutputDir is the report directory relative to the working directory.
const DefaultOutputDir = "output"

// SetMode changes the mode and resets the profile to match it.
func (c *Config) SetMode(mode model.Mode) {
	c.Mode = mode
	c.Profile = ProfileFor(mode)
}

// XDGDataDir returns the XDG data directory for arbiter.
// On Linux: ~/.local/share/arbiter
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGSessionDir returns the default directory for session stores.
func XDGSessionDir() string {
	return filepath.Join(XDGDataDir(), "sessions")
}

// XDGConfigDir returns the XDG config directory for arbiter.
// On Linux: ~/.config/arbiter
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks if the configuration is valid.
// It returns the first problem found as one of the sentinel errors in errors.go.
func (c *Config) Validate() error {
	if c.Target == "" {
		return ErrNoTarget
	}
	if _, err := model.NormalizeDomain(c.Target); err != nil {
		return ErrInvalidTarget
	}
	if _, err := model.ParseMode(string(c.Mode)); err != nil {
		return ErrInvalidMode
	}
	if c.Profile.Workers <= 0 || c.Profile.CrawlConcurrency <= 0 || c.Profile.PerHostConnections <= 0 {
		return ErrInvalidConcurrency
	}
	if c.Profile.TaskTimeout <= 0 || c.ToolTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Profile.RequestsPerSecond < 0 {
		return ErrInvalidRate
	}
	if c.DataDir == "" {
		return ErrNoDataDir
	}
	if !slices.Contains([]string{OnFinishAsk, OnFinishKeep, OnFinishPurge}, c.OnFinish) {
		return ErrInvalidOnFinish
	}
	for _, f := range c.ReportFormats {
		if !slices.Contains([]string{FormatHTML, FormatMarkdown, FormatJSON}, f) {
			return ErrInvalidReportFormat
		}
	}
	if c.UseTor && c.ProxyAddress != "" {
		return ErrConflictingProxy
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	return nil
}
