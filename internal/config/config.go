package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	LocalModel = "deepseek-r1:14b"
	CloudModel = "deepseek-v3.2:cloud"

	DefaultLocalBase = "http://localhost:11434"
	DefaultCloudBase = "https://ollama.com"
	DefaultSearchURL = "https://api.duckduckgo.com/"
	DefaultBraveURL  = "https://api.search.brave.com/res/v1/web/search"

	SearchTimeBudget = 180 * time.Second
	GenerateTimeout  = 300 * time.Second
	HistoryLimit     = 10

	UseSearchDefault          = true
	UseURLFetchDefault        = false
	AutoFetchTopResultDefault = true
)

type Config struct {
	App       AppConfig
	Ollama    OllamaConfig
	OpenAI    OpenAIConfig
	Search    SearchConfig
	Debug     DebugConfig
	Retention RetentionConfig
}

type AppConfig struct {
	Port          string
	DataDir       string
	Environment   string
	LogFilePath   string
	ShowReasoning bool
}

type OllamaConfig struct {
	Host        string // OLLAMA_HOST override, empty when unset
	LocalBase   string
	CloudBase   string
	APIKey      string
	StartupWait time.Duration
	LocalModel  string
	CloudModel  string
}

// OpenAIConfig is used when LLM_BACKEND=openai.
type OpenAIConfig struct {
	Backend string
	BaseURL string
	APIKey  string
	Model   string
}

type SearchConfig struct {
	BraveAPIKey   string
	BraveEndpoint string
	GoogleAPIKey  string
	GoogleCSEID   string
	SearchURL     string
}

type DebugConfig struct {
	EnableSettings bool
	ForceModel     string // DEBUG_FORCE_MODEL
	SettingsFile   string
	SingleDelete   bool
}

type RetentionConfig struct {
	Days          int
	PurgeSchedule string
}

// Load reads .env (if present) and the process environment.
func Load() *Config {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "data")
	return &Config{
		App: AppConfig{
			Port:          getEnv("PORT", "8000"),
			DataDir:       dataDir,
			Environment:   getEnv("GO_ENV", "development"),
			LogFilePath:   getEnv("LOG_FILE_PATH", filepath.Join(dataDir, "localchat.log")),
			ShowReasoning: getEnvAsBool("SHOW_REASONING", false),
		},
		Ollama: OllamaConfig{
			Host:        strings.TrimSpace(os.Getenv("OLLAMA_HOST")),
			LocalBase:   getEnv("OLLAMA_LOCAL_BASE", DefaultLocalBase),
			CloudBase:   getEnv("OLLAMA_CLOUD_BASE", DefaultCloudBase),
			APIKey:      os.Getenv("OLLAMA_API_KEY"),
			StartupWait: time.Duration(getEnvAsInt("OLLAMA_STARTUP_WAIT", 0)) * time.Second,
			LocalModel:  getEnv("LOCAL_MODEL", LocalModel),
			CloudModel:  getEnv("CLOUD_MODEL", CloudModel),
		},
		OpenAI: OpenAIConfig{
			Backend: strings.ToLower(getEnv("LLM_BACKEND", "ollama")),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			Model:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		},
		Search: SearchConfig{
			BraveAPIKey:   os.Getenv("BRAVE_API_KEY"),
			BraveEndpoint: getEnv("BRAVE_SEARCH_ENDPOINT", DefaultBraveURL),
			GoogleAPIKey:  os.Getenv("GOOGLE_API_KEY"),
			GoogleCSEID:   os.Getenv("GOOGLE_CSE_ID"),
			SearchURL:     getEnv("SEARCH_URL", DefaultSearchURL),
		},
		Debug: DebugConfig{
			EnableSettings: getEnvAsBool("ENABLE_DEBUG_SETTINGS", false),
			ForceModel:     strings.TrimSpace(os.Getenv("DEBUG_FORCE_MODEL")),
			SettingsFile:   getEnv("DEBUG_SETTINGS_FILE", filepath.Join(dataDir, "debug_settings.json")),
			SingleDelete:   getEnvAsBool("DEBUG_SINGLE_DELETE", false),
		},
		Retention: RetentionConfig{
			Days:          getEnvAsInt("RETENTION_DAYS", 30),
			PurgeSchedule: getEnv("PURGE_SCHEDULE", "@daily"),
		},
	}
}

func (c *Config) IsProduction() bool { return c.App.Environment == "production" }

// UseOpenAI reports whether the OpenAI-compatible backend replaces Ollama.
func (c *Config) UseOpenAI() bool { return c.OpenAI.Backend == "openai" }

func (c *Config) SessionsDir() string { return filepath.Join(c.App.DataDir, "sessions") }
func (c *Config) DeletedDir() string  { return filepath.Join(c.App.DataDir, "Deleted_Data") }
func (c *Config) UploadsDir() string  { return filepath.Join(c.App.DataDir, "uploads") }
func (c *Config) IndexPath() string   { return filepath.Join(c.App.DataDir, "history.bleve") }
func (c *Config) KeysPath() string    { return filepath.Join(c.App.DataDir, "apikeys.json") }

// ========== Debug settings ==========

// DebugSettings mirrors the optional debug settings JSON file.
type DebugSettings struct {
	EnableDebugSettings bool   `json:"enable_debug_settings"`
	ForceModel          string `json:"force_model"`
}

// LoadDebugSettings reads path. A missing or malformed file yields zero settings.
func LoadDebugSettings(path string) DebugSettings {
	var s DebugSettings
	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return DebugSettings{}
	}
	s.ForceModel = strings.TrimSpace(s.ForceModel)
	return s
}

// ForcedModel returns the model override, or "" when none applies.
// DEBUG_FORCE_MODEL wins; the settings file only counts while debug settings
// are enabled by env or by the file itself.
func (c *Config) ForcedModel() string {
	if c.Debug.ForceModel != "" {
		return c.Debug.ForceModel
	}
	s := LoadDebugSettings(c.Debug.SettingsFile)
	if c.Debug.EnableSettings || s.EnableDebugSettings {
		return s.ForceModel
	}
	return ""
}

// ========== Helpers ==========

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	switch strings.ToLower(getEnv(key, "")) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}
