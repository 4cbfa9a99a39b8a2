// Package config holds the tunables for the emulator controller, the matcher
// and the collaborators around them.
//
// Configuration is resolved in layers: Default(), then an optional YAML file,
// then a .env file, then EMUBOT_* environment variables. The resulting Config is
// passed explicitly to every constructor; nothing reads it globally.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"gitlab.com/web-doodle/emubot/pkg/ocr"
)

// Config is the root configuration structure.
type Config struct {
	Emulator   EmulatorConfig   `yaml:"emulator"`
	ADB        ADBConfig        `yaml:"adb"`
	Matcher    MatcherConfig    `yaml:"matcher"`
	Controller ControllerConfig `yaml:"controller"`
	App        AppConfig        `yaml:"app"`
	OCR        OCRConfig        `yaml:"ocr"`
	AWS        AWSConfig        `yaml:"aws"`
	Logging    LoggingConfig    `yaml:"logging"`
	Debug      DebugConfig      `yaml:"debug"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// EmulatorConfig contains BlueStacks process, window and loading settings.
type EmulatorConfig struct {
	ProcessName   string   `yaml:"process_name" env:"EMUBOT_EMULATOR_PROCESS_NAME"`
	Executable    string   `yaml:"executable" env:"EMUBOT_EMULATOR_EXECUTABLE"`
	SearchGlobs   []string `yaml:"search_globs" env:"EMUBOT_EMULATOR_SEARCH_GLOBS"`
	SearchRoot    string   `yaml:"search_root" env:"EMUBOT_EMULATOR_SEARCH_ROOT"`
	ResolutionW   int      `yaml:"resolution_width" env:"EMUBOT_EMULATOR_RESOLUTION_WIDTH"`
	ResolutionH   int      `yaml:"resolution_height" env:"EMUBOT_EMULATOR_RESOLUTION_HEIGHT"`
	MaxRetries    int      `yaml:"default_max_retries" env:"EMUBOT_EMULATOR_MAX_RETRIES"`
	WaitTimeMS    int      `yaml:"default_wait_time_ms" env:"EMUBOT_EMULATOR_WAIT_TIME_MS"`
	TimeoutS      int      `yaml:"default_timeout_s" env:"EMUBOT_EMULATOR_TIMEOUT_S"`
	LoadTimeoutS  int      `yaml:"load_timeout_s" env:"EMUBOT_EMULATOR_LOAD_TIMEOUT_S"`
	LoadPollMS    int      `yaml:"load_poll_ms" env:"EMUBOT_EMULATOR_LOAD_POLL_MS"`
	ForceReady    bool     `yaml:"force_ready_on_timeout" env:"EMUBOT_EMULATOR_FORCE_READY"`
	ProcessWaitS  int      `yaml:"process_wait_timeout_s" env:"EMUBOT_EMULATOR_PROCESS_WAIT_S"`
	LoadingAsset  string   `yaml:"loading_screen_asset" env:"EMUBOT_EMULATOR_LOADING_ASSET"`
	LoadingConfid float64  `yaml:"loading_screen_confidence" env:"EMUBOT_EMULATOR_LOADING_CONFIDENCE"`
	LoadingText   string   `yaml:"loading_screen_text"`
	LoadingLabel  string   `yaml:"loading_screen_label"`
}

// ADBConfig contains the device bridge settings.
type ADBConfig struct {
	Binary           string `yaml:"binary" env:"EMUBOT_ADB_BINARY"`
	Host             string `yaml:"host" env:"EMUBOT_ADB_HOST"`
	Port             int    `yaml:"port" env:"EMUBOT_ADB_PORT"`
	CommandTimeoutS  int    `yaml:"command_timeout_s" env:"EMUBOT_ADB_COMMAND_TIMEOUT_S"`
	AppCheckRetries  int    `yaml:"app_check_retries" env:"EMUBOT_ADB_APP_CHECK_RETRIES"`
	AppCheckWaitMS   int    `yaml:"app_check_wait_ms" env:"EMUBOT_ADB_APP_CHECK_WAIT_MS"`
	StreamIntervalMS int    `yaml:"stream_interval_ms" env:"EMUBOT_ADB_STREAM_INTERVAL_MS"`
}

// MatcherConfig contains element lookup defaults.
type MatcherConfig struct {
	DefaultConfidence float64 `yaml:"default_confidence" env:"EMUBOT_MATCHER_CONFIDENCE"`
	MaxRetries        int     `yaml:"default_find_retries" env:"EMUBOT_MATCHER_MAX_RETRIES"`
	WaitTimeMS        int     `yaml:"wait_time_ms" env:"EMUBOT_MATCHER_WAIT_TIME_MS"`
}

// ControllerConfig contains click defaults for the orchestrator.
type ControllerConfig struct {
	DefaultClickTimes int `yaml:"default_click_times" env:"EMUBOT_CONTROLLER_CLICK_TIMES"`
	DefaultMaxTries   int `yaml:"default_max_tries" env:"EMUBOT_CONTROLLER_MAX_TRIES"`
	ClicksPerSecond   int `yaml:"clicks_per_second" env:"EMUBOT_CONTROLLER_CLICKS_PER_SECOND"`
}

// AppConfig contains app lifecycle timings.
type AppConfig struct {
	ActionTimeoutS  int `yaml:"action_timeout_s" env:"EMUBOT_APP_ACTION_TIMEOUT_S"`
	ActionWaitMS    int `yaml:"action_wait_time_ms" env:"EMUBOT_APP_ACTION_WAIT_MS"`
	ReadyMaxRetries int `yaml:"ready_max_retries" env:"EMUBOT_APP_READY_MAX_RETRIES"`
}

// OCRConfig selects and tunes the OCR engine.
type OCRConfig struct {
	Engine        string   `yaml:"engine" env:"EMUBOT_OCR_ENGINE"`
	Languages     []string `yaml:"languages" env:"EMUBOT_OCR_LANGUAGES"`
	TesseractArgs string   `yaml:"tesseract_config" env:"EMUBOT_OCR_TESSERACT_CONFIG"`
	UpscaleFactor float64  `yaml:"upscale_factor" env:"EMUBOT_OCR_UPSCALE_FACTOR"`
	InversionMean int      `yaml:"inversion_threshold_mean" env:"EMUBOT_OCR_INVERSION_MEAN"`
	MinLineConfid float64  `yaml:"min_line_confidence" env:"EMUBOT_OCR_MIN_LINE_CONFIDENCE"`
}

// AWSConfig is compatible with "github.com/caarlos0/env".
type AWSConfig struct {
	Region    string `yaml:"region" env:"AWS_REGION"`
	AccessId  string `yaml:"-" env:"AWS_ACCESS_KEY_ID"`
	AccessKey string `yaml:"-" env:"AWS_SECRET_ACCESS_KEY"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level       string `yaml:"level" env:"EMUBOT_LOG_LEVEL"`
	Development bool   `yaml:"development" env:"EMUBOT_LOG_DEV"`
}

// DebugConfig controls haystack dumps.
type DebugConfig struct {
	Enabled bool   `yaml:"enabled" env:"EMUBOT_DEBUG"`
	DumpDir string `yaml:"dump_dir" env:"EMUBOT_DEBUG_DUMP_DIR"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr" env:"EMUBOT_METRICS_ADDR"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Emulator: EmulatorConfig{
			ProcessName: "HD-Player.exe",
			SearchGlobs: []string{
				"C:/Program Files*/BlueStacks*/HD-Player.exe",
				"C:/BlueStacks*/HD-Player.exe",
			},
			SearchRoot:    "C:/",
			ResolutionW:   1920,
			ResolutionH:   1080,
			MaxRetries:    3,
			WaitTimeMS:    1000,
			TimeoutS:      30,
			LoadTimeoutS:  60,
			LoadPollMS:    1000,
			ProcessWaitS:  5,
			LoadingAsset:  "assets/bluestacks/loading.png",
			LoadingConfid: 0.7,
			LoadingText:   "Starting BlueStacks",
			LoadingLabel:  "bluestacks_loading_img",
		},
		ADB: ADBConfig{
			Binary:           "adb",
			Host:             "127.0.0.1",
			Port:             5555,
			CommandTimeoutS:  10,
			AppCheckRetries:  20,
			AppCheckWaitMS:   500,
			StreamIntervalMS: 200,
		},
		Matcher: MatcherConfig{
			DefaultConfidence: 0.9,
			MaxRetries:        3,
			WaitTimeMS:        1000,
		},
		Controller: ControllerConfig{
			DefaultClickTimes: 1,
			DefaultMaxTries:   3,
			ClicksPerSecond:   10,
		},
		App: AppConfig{
			ActionTimeoutS:  60,
			ActionWaitMS:    1000,
			ReadyMaxRetries: 10,
		},
		OCR: OCRConfig{
			Engine:        "tesseract",
			Languages:     []string{"eng"},
			TesseractArgs: "--oem 3 --psm 6",
			UpscaleFactor: 2.0,
			InversionMean: 127,
			MinLineConfid: 80,
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Debug: DebugConfig{
			DumpDir: "./tmp/emubot-debug",
		},
	}
}

// Load resolves the configuration layers. path may be empty, in which case
// only defaults and the environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// A missing .env is the normal case.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	sections := []interface{}{
		&c.Emulator, &c.ADB, &c.Matcher, &c.Controller, &c.App,
		&c.OCR, &c.AWS, &c.Logging, &c.Debug, &c.Metrics,
	}
	for _, s := range sections {
		if err := env.Parse(s); err != nil {
			return fmt.Errorf("cannot marshal environment into config: %w", err)
		}
	}
	return nil
}

// Validate rejects values the controllers cannot work with.
func (c *Config) Validate() error {
	var errs []error

	if c.Emulator.ResolutionW <= 0 || c.Emulator.ResolutionH <= 0 {
		errs = append(errs, fmt.Errorf("emulator resolution must be positive, got %dx%d",
			c.Emulator.ResolutionW, c.Emulator.ResolutionH))
	}
	if c.Emulator.ProcessName == "" {
		errs = append(errs, errors.New("emulator process_name is required"))
	}
	if c.Emulator.MaxRetries < 0 || c.Emulator.WaitTimeMS < 0 || c.Emulator.TimeoutS < 0 {
		errs = append(errs, errors.New("emulator retry, wait and timeout values must not be negative"))
	}
	if !inUnitRange(c.Emulator.LoadingConfid) {
		errs = append(errs, fmt.Errorf("emulator loading_screen_confidence must be in [0,1], got %v", c.Emulator.LoadingConfid))
	}
	if !inUnitRange(c.Matcher.DefaultConfidence) {
		errs = append(errs, fmt.Errorf("matcher default_confidence must be in [0,1], got %v", c.Matcher.DefaultConfidence))
	}
	if c.Matcher.WaitTimeMS < 0 {
		errs = append(errs, errors.New("matcher wait_time_ms must not be negative"))
	}
	if c.ADB.Port <= 0 || c.ADB.Port > 65535 {
		errs = append(errs, fmt.Errorf("adb port out of range: %d", c.ADB.Port))
	}
	if c.Controller.DefaultClickTimes < 1 {
		errs = append(errs, errors.New("controller default_click_times must be at least 1"))
	}
	switch c.OCR.Engine {
	case "tesseract", "rekognition":
	default:
		errs = append(errs, fmt.Errorf("unknown ocr engine %q", c.OCR.Engine))
	}
	if _, err := ocr.ParseArgs(c.OCR.TesseractArgs); err != nil {
		errs = append(errs, fmt.Errorf("ocr tesseract_config: %w", err))
	}
	if c.App.ReadyMaxRetries < 0 {
		errs = append(errs, errors.New("app ready_max_retries must not be negative"))
	}

	return errors.Join(errs...)
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}

// Serial is the adb device serial, host:port.
func (a ADBConfig) Serial() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// CommandTimeout bounds a single adb invocation.
func (a ADBConfig) CommandTimeout() time.Duration {
	return time.Duration(a.CommandTimeoutS) * time.Second
}

// AppCheckWait is the pause between running-app checks.
func (a ADBConfig) AppCheckWait() time.Duration {
	return time.Duration(a.AppCheckWaitMS) * time.Millisecond
}

// StreamInterval is the frame producer poll interval.
func (a ADBConfig) StreamInterval() time.Duration {
	return time.Duration(a.StreamIntervalMS) * time.Millisecond
}

// WaitTime is the pause between open() process checks.
func (e EmulatorConfig) WaitTime() time.Duration {
	return time.Duration(e.WaitTimeMS) * time.Millisecond
}

// Timeout bounds open() as a whole.
func (e EmulatorConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutS) * time.Second
}

// LoadTimeout bounds wait-for-load.
func (e EmulatorConfig) LoadTimeout() time.Duration {
	return time.Duration(e.LoadTimeoutS) * time.Second
}

// LoadPoll is the pause between loading-screen checks.
func (e EmulatorConfig) LoadPoll() time.Duration {
	return time.Duration(e.LoadPollMS) * time.Millisecond
}

// ProcessWait bounds the wait for the emulator process to exit after a kill.
func (e EmulatorConfig) ProcessWait() time.Duration {
	return time.Duration(e.ProcessWaitS) * time.Second
}

// WaitTime is the pause between element match attempts.
func (m MatcherConfig) WaitTime() time.Duration {
	return time.Duration(m.WaitTimeMS) * time.Millisecond
}

// ActionTimeout bounds app launch/stop.
func (a AppConfig) ActionTimeout() time.Duration {
	return time.Duration(a.ActionTimeoutS) * time.Second
}

// ActionWait is the pause between app readiness checks.
func (a AppConfig) ActionWait() time.Duration {
	return time.Duration(a.ActionWaitMS) * time.Millisecond
}
