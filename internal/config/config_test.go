package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_BackendURL(t *testing.T) {
	cfg := Defaults()
	cfg.Backend.BaseURL = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty backend.baseURL")
	}

	cfg.Backend.BaseURL = "127.0.0.1:8000"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for backend.baseURL without scheme")
	}

	cfg.Backend.BaseURL = "https://papers.example.com"
	if err := Validate(cfg); err != nil {
		t.Fatalf("https URL should be valid: %v", err)
	}
}

func TestValidate_EndpointPaths(t *testing.T) {
	cfg := Defaults()
	cfg.Backend.AskPath = "ask/"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for askPath without leading slash")
	}
}

func TestValidate_NegativeTimeout(t *testing.T) {
	cfg := Defaults()
	cfg.Backend.TimeoutSeconds = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative timeout")
	}
}

func TestValidate_UploadSize_Boundary(t *testing.T) {
	cfg := Defaults()

	cfg.Upload.MaxSizeMB = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxSizeMB=0")
	}

	cfg.Upload.MaxSizeMB = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("maxSizeMB=1 should be valid: %v", err)
	}

	cfg.Upload.MaxSizeMB = 1024
	if err := Validate(cfg); err != nil {
		t.Fatalf("maxSizeMB=1024 should be valid: %v", err)
	}
}

func TestValidate_UIModes(t *testing.T) {
	for _, mode := range []string{"auto", "tui", "plain"} {
		cfg := Defaults()
		cfg.UI.Mode = mode
		if err := Validate(cfg); err != nil {
			t.Fatalf("mode %q should be valid: %v", mode, err)
		}
	}

	cfg := Defaults()
	cfg.UI.Mode = "gui"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown ui mode")
	}
}

func TestValidate_TelegramNeedsToken(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for telegram without token")
	}

	cfg.Channels.Telegram.Token = "123:abc"
	if err := Validate(cfg); err != nil {
		t.Fatalf("telegram with token should be valid: %v", err)
	}
}

func TestValidate_MetricsEndpoint(t *testing.T) {
	cfg := Defaults()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Endpoint = "metrics"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for metrics endpoint without leading slash")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTripYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	original := Defaults()
	original.Backend.BaseURL = "http://papers.internal:8000"
	original.UI.Markdown = false

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Backend.BaseURL != "http://papers.internal:8000" {
		t.Fatalf("expected base URL to survive, got %q", loaded.Backend.BaseURL)
	}
	if loaded.UI.Markdown {
		t.Fatal("expected ui.markdown=false after round trip")
	}
}

func TestLoadSave_RoundTripJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	original := Defaults()
	original.Upload.MaxSizeMB = 7
	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Upload.MaxSizeMB != 7 {
		t.Fatalf("expected 7, got %d", loaded.Upload.MaxSizeMB)
	}
}

func TestLoad_PartialYAMLKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "backend:\n  baseURL: http://10.0.0.5:8000/\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://10.0.0.5:8000" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.UploadPath != "/upload_pdf/" || cfg.Backend.AskPath != "/ask/" {
		t.Fatalf("expected default endpoint paths, got %q and %q", cfg.Backend.UploadPath, cfg.Backend.AskPath)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("backend: [unclosed"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("upload:\n  maxSizeMB: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for maxSizeMB=0")
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_PAPERNAV_BACKEND", "http://backend.test:8000")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "backend:\n  baseURL: ${TEST_PAPERNAV_BACKEND}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Backend.BaseURL != "http://backend.test:8000" {
		t.Fatalf("expected substituted base URL, got %q", cfg.Backend.BaseURL)
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "backend.askPath")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "/ask/" {
		t.Fatalf("expected '/ask/', got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	_, err := GetByPath(cfg, "nonexistent.path")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_ValidPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "backend.baseURL", "http://gpu-box:8000"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Backend.BaseURL != "http://gpu-box:8000" {
		t.Fatalf("expected new base URL, got %q", cfg.Backend.BaseURL)
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "transcript.enabled", "true"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if !cfg.Transcript.Enabled {
		t.Fatal("expected transcript.enabled=true")
	}
}

func TestSetByPath_IntConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "backend.timeoutSeconds", "90"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.Backend.TimeoutSeconds != 90 {
		t.Fatalf("expected 90, got %d", cfg.Backend.TimeoutSeconds)
	}
}

func TestSetByPath_NumericLookingStringStaysString(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "channels.telegram.token", "12345678"); err != nil {
		t.Fatalf("set token: %v", err)
	}
	if cfg.Channels.Telegram.Token != "12345678" {
		t.Fatalf("expected token 12345678, got %q", cfg.Channels.Telegram.Token)
	}
}

func TestSetByPath_List(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "channels.telegram.allowFrom", "111, 222,,333"); err != nil {
		t.Fatalf("set list: %v", err)
	}
	got := cfg.Channels.Telegram.AllowFrom
	if len(got) != 3 || got[0] != "111" || got[2] != "333" {
		t.Fatalf("unexpected allowFrom: %v", got)
	}
}

func TestSetByPath_Rejections(t *testing.T) {
	cases := map[string][2]string{
		"bad bool":    {"transcript.enabled", "maybe"},
		"bad int":     {"upload.maxSizeMB", "lots"},
		"unknown key": {"backend.apiKey", "x"},
		"section":     {"backend", "x"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			if err := SetByPath(cfg, tc[0], tc[1]); err == nil {
				t.Fatalf("expected error setting %s=%s", tc[0], tc[1])
			}
		})
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "123456789:ABCdefGHIjklMNOpqrSTUvwxyz"

	sanitized := Sanitize(cfg)

	if sanitized.Channels.Telegram.Token == cfg.Channels.Telegram.Token {
		t.Fatal("telegram token should be masked")
	}
	if cfg.Channels.Telegram.Token != "123456789:ABCdefGHIjklMNOpqrSTUvwxyz" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "short"
	sanitized := Sanitize(cfg)
	if sanitized.Channels.Telegram.Token != "***" {
		t.Fatalf("short secret should be '***', got %q", sanitized.Channels.Telegram.Token)
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	paths := ListPaths(Defaults())
	for _, expected := range []string{"backend.baseURL", "general.logLevel", "transcript.enabled", "channels.telegram.maxFileMB"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

func TestListPaths_SanitizedHidesToken(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "123456789:ABCdefGHIjklMNOpqrSTUvwxyz"
	cfg.Channels.Telegram.AllowFrom = FlexStringList{"42"}

	paths := ListPaths(Sanitize(cfg))
	if paths["channels.telegram.token"] != "1234****wxyz" {
		t.Fatalf("token not masked: %v", paths["channels.telegram.token"])
	}
	if _, ok := paths["channels.telegram"]; ok {
		t.Fatal("sections should not be listed as leaves")
	}

	Sanitize(cfg).Channels.Telegram.AllowFrom[0] = "changed"
	if cfg.Channels.Telegram.AllowFrom[0] != "42" {
		t.Fatal("sanitized copy shares the allow list")
	}
}

// --- FlexStringList ---

func TestFlexStringList_MixedTypes(t *testing.T) {
	var list FlexStringList
	if err := json.Unmarshal([]byte(`["hello", 123, "world", 456.0]`), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("expected 4 items, got %d", len(list))
	}
	if list[1] != "123" || list[3] != "456" {
		t.Fatalf("number conversion mismatch: %v", list)
	}
}

func TestFlexStringList_YAMLNumbers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "channels:\n  telegram:\n    allowFrom: [12345, \"67890\"]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := cfg.Channels.Telegram.AllowFrom
	if len(got) != 2 || got[0] != "12345" || got[1] != "67890" {
		t.Fatalf("unexpected allowFrom: %v", got)
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`baseURL: "${NONEXISTENT_VAR_12345:-http://localhost:8000}"`)
	expected := `baseURL: "http://localhost:8000"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("MY_PORT", "9090")
	result := ExpandEnvVars(`"${MY_PORT:-8080}"`)
	if result != `"9090"` {
		t.Fatalf("expected %q, got %q", `"9090"`, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	input := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result := ExpandEnvVars(input); result != input {
		t.Fatalf("expected %q, got %q", input, result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	if result := ExpandEnvVars(input); result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}
