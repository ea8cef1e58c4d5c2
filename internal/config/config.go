package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for papernav.
type Config struct {
	General    GeneralConfig    `json:"general" yaml:"general"`
	Backend    BackendConfig    `json:"backend" yaml:"backend"`
	Upload     UploadConfig     `json:"upload" yaml:"upload"`
	UI         UIConfig         `json:"ui" yaml:"ui"`
	Transcript TranscriptConfig `json:"transcript" yaml:"transcript"`
	Channels   ChannelsConfig   `json:"channels" yaml:"channels"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
}

// BackendConfig locates the document service.
type BackendConfig struct {
	BaseURL        string `json:"baseURL" yaml:"baseURL"`
	UploadPath     string `json:"uploadPath" yaml:"uploadPath"`
	AskPath        string `json:"askPath" yaml:"askPath"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"` // 0 = wait for the backend indefinitely
}

type UploadConfig struct {
	MaxSizeMB int `json:"maxSizeMB" yaml:"maxSizeMB"`
}

type UIConfig struct {
	Mode         string `json:"mode" yaml:"mode"` // auto | tui | plain
	Markdown     bool   `json:"markdown" yaml:"markdown"`
	GlamourStyle string `json:"glamourStyle" yaml:"glamourStyle"`
}

type TranscriptConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	DBPath  string `json:"dbPath" yaml:"dbPath"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled" yaml:"enabled"`
	Token     string         `json:"token" yaml:"token" secret:"true"`
	AllowFrom FlexStringList `json:"allowFrom" yaml:"allowFrom"`
	MaxFileMB int            `json:"maxFileMB" yaml:"maxFileMB"`
}

// FlexStringList is a []string that can unmarshal from arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

func (f *FlexStringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: expected a list", node.Line)
	}
	result := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: expected a scalar", item.Line)
		}
		result = append(result, item.Value)
	}
	*f = result
	return nil
}

// MetricsConfig configures the Prometheus endpoint served by the Telegram gateway.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Addr     string `json:"addr" yaml:"addr"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.papernav).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".papernav"
	}
	return filepath.Join(home, ".papernav")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	Normalize(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// 0600: the file may hold a bot token.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Backend.BaseURL == "" {
		errs = append(errs, "backend.baseURL is required")
	} else if !strings.HasPrefix(cfg.Backend.BaseURL, "http://") && !strings.HasPrefix(cfg.Backend.BaseURL, "https://") {
		errs = append(errs, "backend.baseURL must start with http:// or https://")
	}
	for name, p := range map[string]string{"uploadPath": cfg.Backend.UploadPath, "askPath": cfg.Backend.AskPath} {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Sprintf("backend.%s must start with /", name))
		}
	}
	if cfg.Backend.TimeoutSeconds < 0 {
		errs = append(errs, "backend.timeoutSeconds must be >= 0")
	}

	if cfg.Upload.MaxSizeMB < 1 || cfg.Upload.MaxSizeMB > 1024 {
		errs = append(errs, "upload.maxSizeMB must be between 1 and 1024")
	}

	switch cfg.UI.Mode {
	case "auto", "tui", "plain":
	default:
		errs = append(errs, "ui.mode must be one of: auto, tui, plain")
	}

	if cfg.Transcript.Enabled && cfg.Transcript.DBPath == "" {
		errs = append(errs, "transcript.dbPath is required when the transcript is enabled")
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}
	if cfg.Channels.Telegram.MaxFileMB < 1 || cfg.Channels.Telegram.MaxFileMB > 20 {
		errs = append(errs, "channels.telegram.maxFileMB must be between 1 and 20")
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Addr == "" {
			errs = append(errs, "metrics.addr is required when metrics are enabled")
		}
		if !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
			errs = append(errs, "metrics.endpoint must start with /")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Normalize expands ~/ in file paths and trims a trailing slash from the
// backend URL. Load calls it; callers running on Defaults() call it themselves.
func Normalize(cfg *Config) {
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Transcript.DBPath = ExpandPath(cfg.Transcript.DBPath)
	cfg.Backend.BaseURL = strings.TrimRight(cfg.Backend.BaseURL, "/")
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
