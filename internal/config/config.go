// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Screenshot capture modes accepted by reporting.screenshot_mode.
const (
	ScreenshotAll      = "all"
	ScreenshotPassFail = "pass_fail"
	ScreenshotFailOnly = "fail_only"
	ScreenshotNone     = "none"
)

// Result artifact formats accepted by reporting.result_format.
const (
	ResultFormatJSON = "json"
	ResultFormatXML  = "xml"
	ResultFormatNone = "none"
)

// Config holds the entire application configuration.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	RunPlan      RunPlanConfig      `mapstructure:"run_plan" yaml:"run_plan"`
	TestData     TestDataConfig     `mapstructure:"test_data" yaml:"test_data"`
	Scenario     ScenarioConfig     `mapstructure:"scenario" yaml:"scenario"`
	Browser      BrowserConfig      `mapstructure:"browser" yaml:"browser"`
	Reporting    ReportingConfig    `mapstructure:"reporting" yaml:"reporting"`
	Upload       UploadConfig       `mapstructure:"upload" yaml:"upload"`
	Database     DatabaseConfig     `mapstructure:"database" yaml:"database"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// RunPlanConfig locates the run plan and the feature files it refers to.
type RunPlanConfig struct {
	Path        string `mapstructure:"path" yaml:"path"`
	Sheet       string `mapstructure:"sheet" yaml:"sheet"`
	FeaturesDir string `mapstructure:"features_dir" yaml:"features_dir"`
}

// TestDataConfig locates the static test data used by step reference resolution.
type TestDataConfig struct {
	Path     string `mapstructure:"path" yaml:"path"`
	IDColumn string `mapstructure:"id_column" yaml:"id_column"`
}

// ScenarioConfig configures the behavior-driven scenario runner.
type ScenarioConfig struct {
	Glue   string `mapstructure:"glue" yaml:"glue"`
	Format string `mapstructure:"format" yaml:"format"`
	Strict bool   `mapstructure:"strict" yaml:"strict"`
}

// BrowserConfig holds settings for the batch browser session.
type BrowserConfig struct {
	Headless           bool           `mapstructure:"headless" yaml:"headless"`
	DisableCache       bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors    bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath           string         `mapstructure:"exec_path" yaml:"exec_path"`
	Args               []string       `mapstructure:"args" yaml:"args"`
	Viewport           map[string]int `mapstructure:"viewport" yaml:"viewport"`
	PageLoadTimeout    time.Duration  `mapstructure:"page_load_timeout" yaml:"page_load_timeout"`
	ElementWaitTimeout time.Duration  `mapstructure:"element_wait_timeout" yaml:"element_wait_timeout"`
	SettleDelay        time.Duration  `mapstructure:"settle_delay" yaml:"settle_delay"`
}

// ReportingConfig controls where and how run artifacts are written.
type ReportingConfig struct {
	BaseDir        string `mapstructure:"base_dir" yaml:"base_dir"`
	ProjectName    string `mapstructure:"project_name" yaml:"project_name"`
	ScreenshotMode string `mapstructure:"screenshot_mode" yaml:"screenshot_mode"`
	ResultFormat   string `mapstructure:"result_format" yaml:"result_format"`
	Metrics        bool   `mapstructure:"metrics" yaml:"metrics"`
}

// UploadConfig configures the external test-management upload.
type UploadConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	InitiateURL       string        `mapstructure:"initiate_url" yaml:"initiate_url"`
	TrackURL          string        `mapstructure:"track_url" yaml:"track_url"`
	FallbackUploadURL string        `mapstructure:"fallback_upload_url" yaml:"fallback_upload_url"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	Username          string        `mapstructure:"username" yaml:"username"`
	Password          string        `mapstructure:"password" yaml:"password"`
	Format            string        `mapstructure:"format" yaml:"format"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// OrchestratorConfig tunes the batch loop.
type OrchestratorConfig struct {
	GroupDelay time.Duration `mapstructure:"group_delay" yaml:"group_delay"`
}

// NewDefaultConfig creates a new configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "batchpilot")
	v.SetDefault("logger.log_file", "batchpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Run Plan --
	v.SetDefault("run_plan.path", "testdata/RunManager.xlsx")
	v.SetDefault("run_plan.sheet", "Run Manager")
	v.SetDefault("run_plan.features_dir", "features")

	// -- Test Data --
	v.SetDefault("test_data.path", "")
	v.SetDefault("test_data.id_column", "TestCaseID")

	// -- Scenario --
	v.SetDefault("scenario.glue", "web")
	v.SetDefault("scenario.format", "pretty")
	v.SetDefault("scenario.strict", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport", map[string]int{"width": 1920, "height": 1080})
	v.SetDefault("browser.page_load_timeout", "30s")
	v.SetDefault("browser.element_wait_timeout", "10s")
	v.SetDefault("browser.settle_delay", "500ms")

	// -- Reporting --
	v.SetDefault("reporting.base_dir", "reports")
	v.SetDefault("reporting.project_name", "BatchPilot")
	v.SetDefault("reporting.screenshot_mode", ScreenshotPassFail)
	v.SetDefault("reporting.result_format", ResultFormatJSON)
	v.SetDefault("reporting.metrics", true)

	// -- Upload --
	v.SetDefault("upload.enabled", false)
	v.SetDefault("upload.initiate_url", "https://karya-pmt.novactech.net/rest/qtm4j/automation/latest/importresult")
	v.SetDefault("upload.track_url", "https://karya-pmt.novactech.net/rest/qtm4j/automation/latest/importresult/track")
	v.SetDefault("upload.fallback_upload_url", "https://karya-pmt.novactech.net/rest/qtm4j/automation/latest/importresult/submitFile")
	v.SetDefault("upload.format", "cucumber")
	v.SetDefault("upload.poll_interval", "5s")
	v.SetDefault("upload.max_attempts", 24)
	v.SetDefault("upload.request_timeout", "60s")

	// -- Orchestrator --
	v.SetDefault("orchestrator.group_delay", "1s")
}

// NewConfigFromViper unmarshals, normalizes and validates a configuration from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("upload.api_key", "BATCHPILOT_UPLOAD_API_KEY")
	_ = v.BindEnv("upload.username", "BATCHPILOT_UPLOAD_USERNAME")
	_ = v.BindEnv("upload.password", "BATCHPILOT_UPLOAD_PASSWORD")
	_ = v.BindEnv("database.url", "BATCHPILOT_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the key if Unmarshal didn't pick it up
	if cfg.Upload.Enabled && cfg.Upload.APIKey == "" {
		cfg.Upload.APIKey = os.Getenv("BATCHPILOT_UPLOAD_API_KEY")
	}

	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves a leading ~ in every filesystem path setting.
func (c *Config) ExpandPaths() error {
	paths := []*string{
		&c.RunPlan.Path,
		&c.RunPlan.FeaturesDir,
		&c.TestData.Path,
		&c.Reporting.BaseDir,
		&c.Logger.LogFile,
		&c.Browser.ExecPath,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RunPlan.Path) == "" {
		return fmt.Errorf("run_plan.path is a required configuration field")
	}
	if strings.TrimSpace(c.RunPlan.Sheet) == "" {
		return fmt.Errorf("run_plan.sheet is a required configuration field")
	}
	if c.Browser.PageLoadTimeout <= 0 {
		return fmt.Errorf("browser.page_load_timeout must be positive")
	}
	if c.Browser.ElementWaitTimeout <= 0 {
		return fmt.Errorf("browser.element_wait_timeout must be positive")
	}
	if c.Browser.SettleDelay < 0 {
		return fmt.Errorf("browser.settle_delay must not be negative")
	}
	if c.Orchestrator.GroupDelay < 0 {
		return fmt.Errorf("orchestrator.group_delay must not be negative")
	}
	if err := c.Reporting.Validate(); err != nil {
		return fmt.Errorf("reporting configuration invalid: %w", err)
	}
	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("upload configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the reporting configuration.
func (r *ReportingConfig) Validate() error {
	if r.BaseDir == "" {
		return fmt.Errorf("base_dir is required")
	}
	switch strings.ToLower(r.ScreenshotMode) {
	case ScreenshotAll, ScreenshotPassFail, ScreenshotFailOnly, ScreenshotNone:
	default:
		return fmt.Errorf("screenshot_mode must be one of all, pass_fail, fail_only, none")
	}
	switch strings.ToLower(r.ResultFormat) {
	case ResultFormatJSON, ResultFormatXML, ResultFormatNone:
	default:
		return fmt.Errorf("result_format must be one of json, xml, none")
	}
	return nil
}

// Validate checks the upload configuration. A disabled upload is always valid.
func (u *UploadConfig) Validate() error {
	if !u.Enabled {
		return nil
	}
	if u.InitiateURL == "" || u.TrackURL == "" {
		return fmt.Errorf("initiate_url and track_url are required")
	}
	if strings.TrimSpace(u.FallbackUploadURL) == "" {
		return fmt.Errorf("fallback_upload_url is required")
	}
	if u.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if u.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be a positive integer")
	}
	return nil
}
