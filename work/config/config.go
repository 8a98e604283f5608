package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Config holds all application configuration values for the grab proxy server.
// It includes settings for the HTTP surface, persona fallback behavior, the
// acquire-mux pipeline, and transient-file retention.
type Config struct {
	BaseURL             string        `json:"baseURL"`             // Base URL for the application (used for generated download links)
	Port                int           `json:"port"`                // HTTP listen port
	TempDir             string        `json:"tempDir"`             // Directory for transient media files
	MaxFileSizeMB       int64         `json:"maxFileSizeMB"`       // Maximum merged output size in MB
	MetadataTimeout     time.Duration `json:"metadataTimeout"`     // Timeout for catalog metadata calls
	FetchTimeout        time.Duration `json:"fetchTimeout"`        // Timeout per media stream fetch
	RemuxTimeout        time.Duration `json:"remuxTimeout"`        // Timeout for the remux subprocess
	CleanupRetention    time.Duration `json:"cleanupRetention"`    // How long merged artifacts are kept after delivery
	PersonaRateLimit    int           `json:"personaRateLimit"`    // Max catalog calls per second per persona
	PersonaOrder        []string      `json:"personaOrder"`        // Preference order of persona names (empty = built-in order)
	PersonaSkip         []string      `json:"personaSkip"`         // Persona names to never use
	APIBaseURL          string        `json:"apiBaseURL"`          // Override for the catalog API base URL (testing/proxying)
	FFmpegPath          string        `json:"ffmpegPath"`          // Path to the ffmpeg binary
	WorkerThreads       int           `json:"workerThreads"`       // Number of workers in the fetch pool
	MaxConnectionsToApp int           `json:"maxConnectionsToApp"` // Maximum concurrent connections allowed to the app
	HistoryDBPath       string        `json:"historyDBPath"`       // SQLite path for download history ("" disables history)
	AdminPasswordHash   string        `json:"adminPasswordHash"`   // bcrypt hash guarding admin routes ("" disables auth)
	StreamUserAgent     string        `json:"streamUserAgent"`     // User-Agent for media stream fetches
	Debug               bool          `json:"debug"`               // Enable debug logging
	ObfuscateUrls       bool          `json:"obfuscateUrls"`       // Obfuscate signed URLs in logs
}

// ConfigFile represents the JSON file structure for marshaling/unmarshaling
// configuration. Duration fields (e.g., "60s") are parsed into time.Duration
// values.
type ConfigFile struct {
	BaseURL             string   `json:"baseURL"`
	Port                int      `json:"port"`
	TempDir             string   `json:"tempDir"`
	MaxFileSizeMB       int64    `json:"maxFileSizeMB"`
	MetadataTimeout     string   `json:"metadataTimeout"`  // Duration string (e.g., "10s")
	FetchTimeout        string   `json:"fetchTimeout"`     // Duration string (e.g., "60s")
	RemuxTimeout        string   `json:"remuxTimeout"`     // Duration string (e.g., "5m")
	CleanupRetention    string   `json:"cleanupRetention"` // Duration string (e.g., "5m")
	PersonaRateLimit    int      `json:"personaRateLimit"`
	PersonaOrder        []string `json:"personaOrder"`
	PersonaSkip         []string `json:"personaSkip"`
	APIBaseURL          string   `json:"apiBaseURL"`
	FFmpegPath          string   `json:"ffmpegPath"`
	WorkerThreads       int      `json:"workerThreads"`
	MaxConnectionsToApp int      `json:"maxConnectionsToApp"`
	HistoryDBPath       string   `json:"historyDBPath"`
	AdminPasswordHash   string   `json:"adminPasswordHash"`
	StreamUserAgent     string   `json:"streamUserAgent"`
	Debug               bool     `json:"debug"`
	ObfuscateUrls       bool     `json:"obfuscateUrls"`
}

var (
	configCache *Config      // Cached configuration instance (singleton)
	configMutex sync.RWMutex // Mutex for safe concurrent access to configCache
)

// configPath resolves the configuration file location, honoring the
// YTGRAB_CONFIG environment variable so deployments and tests can relocate it.
func configPath() string {
	if p := os.Getenv("YTGRAB_CONFIG"); p != "" {
		return p
	}
	return "/settings/config.json"
}

// LoadConfig loads the configuration from file or returns the cached instance.
//
// Process:
//   - Uses double-checked locking to avoid redundant reloads.
//   - Attempts to load from the resolved config path.
//   - Falls back to default config if file is missing or invalid.
//   - Runs validation to ensure safe defaults.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// Double-check under write lock
	if configCache != nil {
		return configCache
	}

	path := configPath()
	config, err := loadFromFile(path)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", path, err)
		log.Printf("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	// Ensure safe defaults for missing values
	validateAndSetDefaults(config)

	// Cache for future calls
	configCache = config

	if config.Debug {
		log.Printf("Configuration loaded:")
		log.Printf("  Base URL: %s", config.BaseURL)
		log.Printf("  Temp Dir: %s", config.TempDir)
		log.Printf("  Max File Size: %d MB", config.MaxFileSizeMB)
		log.Printf("  Persona Rate Limit: %d req/sec", config.PersonaRateLimit)
		log.Printf("  Obfuscate URLs: %v", config.ObfuscateUrls)
		log.Printf("  Max Connections to App: %d", config.MaxConnectionsToApp)
	}

	return config
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config,
// parsing duration strings into time.Duration.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		BaseURL:             cf.BaseURL,
		Port:                cf.Port,
		TempDir:             cf.TempDir,
		MaxFileSizeMB:       cf.MaxFileSizeMB,
		PersonaRateLimit:    cf.PersonaRateLimit,
		PersonaOrder:        cf.PersonaOrder,
		PersonaSkip:         cf.PersonaSkip,
		APIBaseURL:          cf.APIBaseURL,
		FFmpegPath:          cf.FFmpegPath,
		WorkerThreads:       cf.WorkerThreads,
		MaxConnectionsToApp: cf.MaxConnectionsToApp,
		HistoryDBPath:       cf.HistoryDBPath,
		AdminPasswordHash:   cf.AdminPasswordHash,
		StreamUserAgent:     cf.StreamUserAgent,
		Debug:               cf.Debug,
		ObfuscateUrls:       cf.ObfuscateUrls,
	}

	// Parse duration fields, tolerating absent values
	var err error
	if cf.MetadataTimeout != "" {
		if config.MetadataTimeout, err = time.ParseDuration(cf.MetadataTimeout); err != nil {
			return nil, fmt.Errorf("invalid metadataTimeout: %w", err)
		}
	}
	if cf.FetchTimeout != "" {
		if config.FetchTimeout, err = time.ParseDuration(cf.FetchTimeout); err != nil {
			return nil, fmt.Errorf("invalid fetchTimeout: %w", err)
		}
	}
	if cf.RemuxTimeout != "" {
		if config.RemuxTimeout, err = time.ParseDuration(cf.RemuxTimeout); err != nil {
			return nil, fmt.Errorf("invalid remuxTimeout: %w", err)
		}
	}
	if cf.CleanupRetention != "" {
		if config.CleanupRetention, err = time.ParseDuration(cf.CleanupRetention); err != nil {
			return nil, fmt.Errorf("invalid cleanupRetention: %w", err)
		}
	}

	return config, nil
}

// getDefaultConfig returns a baseline configuration
// with sensible defaults when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		BaseURL:             "http://localhost:8080",
		Port:                8080,
		TempDir:             filepath.Join(os.TempDir(), "ytgrab"),
		MaxFileSizeMB:       500,              // 500 MB merged output cap
		MetadataTimeout:     10 * time.Second, // catalog calls are small JSON
		FetchTimeout:        60 * time.Second, // media payloads are large
		RemuxTimeout:        5 * time.Minute,
		CleanupRetention:    5 * time.Minute, // slow clients can finish reading
		PersonaRateLimit:    2,               // 2 req/sec = 500ms spacing per persona
		FFmpegPath:          "ffmpeg",
		WorkerThreads:       8,
		MaxConnectionsToApp: 100,
		StreamUserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Debug:               false,
		ObfuscateUrls:       false,
	}
}

// validateAndSetDefaults ensures all config values are valid,
// filling in defaults for missing/invalid ones.
func validateAndSetDefaults(config *Config) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080"
	}
	if config.Port <= 0 {
		config.Port = 8080
	}
	if config.TempDir == "" {
		config.TempDir = filepath.Join(os.TempDir(), "ytgrab")
	}
	if config.MaxFileSizeMB <= 0 {
		config.MaxFileSizeMB = 500
	}
	if config.MetadataTimeout <= 0 {
		config.MetadataTimeout = 10 * time.Second
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 60 * time.Second
	}
	if config.RemuxTimeout <= 0 {
		config.RemuxTimeout = 5 * time.Minute
	}
	if config.CleanupRetention <= 0 {
		config.CleanupRetention = 5 * time.Minute
	}
	if config.PersonaRateLimit <= 0 {
		config.PersonaRateLimit = 2
	}
	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = 8
	}
	if config.MaxConnectionsToApp <= 0 {
		config.MaxConnectionsToApp = 100
	}
	if config.StreamUserAgent == "" {
		config.StreamUserAgent = getDefaultConfig().StreamUserAgent
	}
}

// MaxFileSizeBytes returns the merged output cap in bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return c.MaxFileSizeMB * 1024 * 1024
}

// CreateExampleConfig creates an example config file on disk.
func CreateExampleConfig(path string) error {
	example := ConfigFile{
		BaseURL:             "http://localhost:8080",
		Port:                8080,
		TempDir:             "/tmp/ytgrab",
		MaxFileSizeMB:       500,
		MetadataTimeout:     "10s",
		FetchTimeout:        "60s",
		RemuxTimeout:        "5m",
		CleanupRetention:    "5m",
		PersonaRateLimit:    2,
		PersonaOrder:        []string{"WEB", "ANDROID", "IOS", "WEB_EMBEDDED_PLAYER", "TVHTML5"},
		PersonaSkip:         []string{},
		FFmpegPath:          "ffmpeg",
		WorkerThreads:       8,
		MaxConnectionsToApp: 100,
		HistoryDBPath:       "/settings/history.db",
		AdminPasswordHash:   "",
		Debug:               false,
		ObfuscateUrls:       true,
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ClearConfigCache resets the configCache to nil.
// Forces a reload on the next LoadConfig() call.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}
