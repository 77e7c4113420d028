// Package config loads the service configuration from a JSON file and the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"pdf-translate-api/internal/logger"
	"pdf-translate-api/internal/types"
)

const (
	DefaultConfigFileName = "config.json"
	DefaultListenAddr     = ":11008"
	DefaultMaxConcurrent  = 2
	DefaultMaxQueued      = 16
	// DefaultRequestTimeout is in seconds.
	DefaultRequestTimeout = 1800
	DefaultMaxUploadBytes = 100 << 20
	DefaultBaseURL        = "https://api.openai.com/v1"
	DefaultModel          = "gpt-4o-mini"
	DefaultLogLevel       = "info"

	EnginePdf2zh = "pdf2zh"
	EngineNative = "native"
)

// Environment variables that override file values.
const (
	EnvListenAddr     = "PDF_TRANSLATE_ADDR"
	EnvMaxConcurrent  = "PDF_TRANSLATE_MAX_CONCURRENT"
	EnvMaxQueued      = "PDF_TRANSLATE_MAX_QUEUED"
	EnvRequestTimeout = "PDF_TRANSLATE_TIMEOUT"
	EnvMaxUpload      = "PDF_TRANSLATE_MAX_UPLOAD"
	EnvEngine         = "PDF_TRANSLATE_ENGINE"
	EnvPythonPath     = "PDF_TRANSLATE_PYTHON"
	EnvWorkDir        = "PDF_TRANSLATE_WORK_DIR"
	EnvModelPath      = "PDF_TRANSLATE_MODEL"
	EnvOnnxRuntimeLib = "ONNXRUNTIME_LIB"
	EnvOpenAIAPIKey   = "OPENAI_API_KEY"
	EnvOpenAIBaseURL  = "OPENAI_BASE_URL"
	EnvOpenAIModel    = "OPENAI_MODEL"
	EnvCachePath      = "PDF_TRANSLATE_CACHE"
	EnvFontFile       = "PDF_TRANSLATE_FONT_FILE"
	EnvFontName       = "PDF_TRANSLATE_FONT_NAME"
	EnvLogFile        = "PDF_TRANSLATE_LOG_FILE"
	EnvLogLevel       = "PDF_TRANSLATE_LOG_LEVEL"
	EnvDatabaseURL    = "DATABASE_URL"
	EnvArchiveBucket  = "PDF_TRANSLATE_ARCHIVE_BUCKET"
	EnvArchiveDir     = "PDF_TRANSLATE_ARCHIVE_DIR"
	EnvCORSOrigins    = "PDF_TRANSLATE_CORS_ORIGINS"
)

// ConfigManager manages the service configuration
type ConfigManager struct {
	configPath string
	config     *types.Config
}

// NewConfigManager creates a ConfigManager for configPath. An empty path
// resolves to ~/.config/pdf-translate-api/config.json.
func NewConfigManager(configPath string) (*ConfigManager, error) {
	if configPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, types.NewAppError(types.ErrConfig, "failed to get user home directory", err)
		}
		configPath = filepath.Join(homeDir, ".config", "pdf-translate-api", DefaultConfigFileName)
	}
	return &ConfigManager{
		configPath: configPath,
		config:     defaultConfig(),
	}, nil
}

func defaultConfig() *types.Config {
	return &types.Config{
		ListenAddr:            DefaultListenAddr,
		MaxConcurrent:         DefaultMaxConcurrent,
		MaxQueued:             DefaultMaxQueued,
		RequestTimeoutSeconds: DefaultRequestTimeout,
		MaxUploadBytes:        DefaultMaxUploadBytes,
		Engine:                EnginePdf2zh,
		OpenAIBaseURL:         DefaultBaseURL,
		OpenAIModel:           DefaultModel,
		LogLevel:              DefaultLogLevel,
	}
}

// Load reads the config file, fills defaults for empty fields, applies
// environment overrides and validates the result. A missing file is not an error.
func (m *ConfigManager) Load() error {
	data, err := os.ReadFile(m.configPath)
	switch {
	case os.IsNotExist(err):
		logger.Info("config file not found, using defaults", logger.String("path", m.configPath))
		m.config = defaultConfig()
	case err != nil:
		return types.NewAppError(types.ErrConfig, "failed to read config file", err)
	default:
		cfg := &types.Config{}
		if err := json.Unmarshal(data, cfg); err != nil {
			return types.NewAppErrorWithDetails(types.ErrConfig, "invalid config file", m.configPath, err)
		}
		m.config = cfg
		applyDefaults(m.config)
	}

	if err := applyEnv(m.config); err != nil {
		return err
	}
	if err := Validate(m.config); err != nil {
		return err
	}

	logger.Info("configuration loaded",
		logger.String("path", m.configPath),
		logger.String("engine", m.config.Engine),
		logger.Int("maxConcurrent", m.config.MaxConcurrent),
		logger.Int("apiKeyLength", len(m.config.OpenAIAPIKey)))
	return nil
}

func applyDefaults(cfg *types.Config) {
	def := defaultConfig()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.MaxQueued == 0 {
		cfg.MaxQueued = def.MaxQueued
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}
	if cfg.Engine == "" {
		cfg.Engine = def.Engine
	}
	if cfg.OpenAIBaseURL == "" {
		cfg.OpenAIBaseURL = def.OpenAIBaseURL
	}
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = def.OpenAIModel
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
}

func applyEnv(cfg *types.Config) error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return types.NewAppErrorWithDetails(types.ErrConfig, "invalid integer in "+key, v, err)
		}
		*dst = n
		return nil
	}

	setString(EnvListenAddr, &cfg.ListenAddr)
	setString(EnvEngine, &cfg.Engine)
	setString(EnvPythonPath, &cfg.PythonPath)
	setString(EnvWorkDir, &cfg.WorkDir)
	setString(EnvModelPath, &cfg.ModelPath)
	setString(EnvOnnxRuntimeLib, &cfg.OnnxRuntimeLib)
	setString(EnvOpenAIAPIKey, &cfg.OpenAIAPIKey)
	setString(EnvOpenAIBaseURL, &cfg.OpenAIBaseURL)
	setString(EnvOpenAIModel, &cfg.OpenAIModel)
	setString(EnvCachePath, &cfg.CachePath)
	setString(EnvFontFile, &cfg.FontFile)
	setString(EnvFontName, &cfg.FontName)
	setString(EnvLogFile, &cfg.LogFile)
	setString(EnvLogLevel, &cfg.LogLevel)
	setString(EnvDatabaseURL, &cfg.DatabaseURL)
	setString(EnvArchiveBucket, &cfg.ArchiveBucket)
	setString(EnvArchiveDir, &cfg.ArchiveDir)

	if err := setInt(EnvMaxConcurrent, &cfg.MaxConcurrent); err != nil {
		return err
	}
	if err := setInt(EnvMaxQueued, &cfg.MaxQueued); err != nil {
		return err
	}
	if err := setInt(EnvRequestTimeout, &cfg.RequestTimeoutSeconds); err != nil {
		return err
	}
	if v, ok := os.LookupEnv(EnvMaxUpload); ok && v != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return types.NewAppErrorWithDetails(types.ErrConfig, "invalid integer in "+EnvMaxUpload, v, err)
		}
		cfg.MaxUploadBytes = n
	}
	if v, ok := os.LookupEnv(EnvCORSOrigins); ok && v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks values that would make the service unusable.
func Validate(cfg *types.Config) error {
	if cfg.MaxConcurrent < 1 {
		return types.NewAppErrorWithDetails(types.ErrConfig, "max_concurrent must be at least 1",
			strconv.Itoa(cfg.MaxConcurrent), nil)
	}
	if cfg.MaxQueued < 0 {
		return types.NewAppErrorWithDetails(types.ErrConfig, "max_queued must not be negative",
			strconv.Itoa(cfg.MaxQueued), nil)
	}
	if cfg.RequestTimeoutSeconds < 0 {
		return types.NewAppErrorWithDetails(types.ErrConfig, "request_timeout_seconds must not be negative",
			strconv.Itoa(cfg.RequestTimeoutSeconds), nil)
	}
	if cfg.MaxUploadBytes <= 0 {
		return types.NewAppError(types.ErrConfig, "max_upload_bytes must be positive", nil)
	}
	switch cfg.Engine {
	case EnginePdf2zh, EngineNative:
	default:
		return types.NewAppErrorWithDetails(types.ErrConfig, "unknown engine", cfg.Engine, nil)
	}
	if _, err := logger.ParseLevel(cfg.LogLevel); err != nil {
		return types.NewAppError(types.ErrConfig, "invalid log_level", err)
	}
	return nil
}

// Save writes the current configuration to the config file.
func (m *ConfigManager) Save() error {
	dir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return types.NewAppError(types.ErrConfig, "failed to create config directory", err)
	}
	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return types.NewAppError(types.ErrConfig, "failed to marshal config", err)
	}
	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return types.NewAppError(types.ErrConfig, "failed to write config file", err)
	}
	logger.Info("configuration saved", logger.String("path", m.configPath))
	return nil
}

func (m *ConfigManager) GetConfig() *types.Config {
	if m.config == nil {
		return defaultConfig()
	}
	return m.config
}

func (m *ConfigManager) SetConfig(cfg *types.Config) {
	m.config = cfg
}

func (m *ConfigManager) GetConfigPath() string {
	return m.configPath
}

// RequestTimeout returns the per-request deadline, zero when disabled.
func (m *ConfigManager) RequestTimeout() time.Duration {
	return time.Duration(m.GetConfig().RequestTimeoutSeconds) * time.Second
}

// WorkDir returns the configured work directory or the OS temp dir.
func (m *ConfigManager) WorkDir() string {
	if dir := m.GetConfig().WorkDir; dir != "" {
		return dir
	}
	return os.TempDir()
}

// String renders a redacted summary for startup logs.
func (m *ConfigManager) String() string {
	cfg := m.GetConfig()
	return fmt.Sprintf("addr=%s engine=%s max_concurrent=%d max_queued=%d timeout=%ds",
		cfg.ListenAddr, cfg.Engine, cfg.MaxConcurrent, cfg.MaxQueued, cfg.RequestTimeoutSeconds)
}
