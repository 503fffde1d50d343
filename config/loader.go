package config

import (
	"log/slog"
	"os"
	"path/filepath"
)

// File locations and environment overrides.
const (
	// ProjectConfigFile is found by walking up from the working directory.
	ProjectConfigFile = "semsync.yaml"

	// UserConfigDir and UserConfigFile locate the per-user config under
	// the home directory.
	UserConfigDir  = ".config/semsync"
	UserConfigFile = "config.yaml"

	// Environment overrides, applied after every file layer.
	NATSURLEnv  = "SEMSYNC_NATS_URL"
	LLMBaseEnv  = "SEMSYNC_LLM_BASE_URL"
	LLMModelEnv = "SEMSYNC_LLM_MODEL"
	APIKeyEnv   = "SEMSYNC_LLM_API_KEY"
)

// Loader assembles configuration from layered sources. Later layers win:
// defaults, then the user config, then the project config, then
// environment variables.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load resolves the effective configuration and validates it.
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	if path := l.userConfigPath(); path != "" {
		l.mergeFile(config, path, "user")
	}
	if path := l.findProjectConfig(); path != "" {
		l.mergeFile(config, path, "project")
	} else {
		l.logger.Debug("No project config found")
	}
	l.applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// mergeFile folds one config file into config. A missing user config is
// normal; any other read failure is logged and the layer skipped.
func (l *Loader) mergeFile(config *Config, path, layer string) {
	loaded, err := LoadFromFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn("Failed to load config layer",
				slog.String("layer", layer), slog.String("path", path), slog.String("error", err.Error()))
		}
		return
	}
	l.logger.Debug("Loaded config layer", slog.String("layer", layer), slog.String("path", path))
	config.Merge(loaded)
}

// applyEnv applies the environment overrides on top of the file layers.
func (l *Loader) applyEnv(config *Config) {
	if url := os.Getenv(NATSURLEnv); url != "" {
		config.NATS.URL = url
	}
	if base := os.Getenv(LLMBaseEnv); base != "" {
		config.LLM.BaseURL = base
	}
	if model := os.Getenv(LLMModelEnv); model != "" {
		config.LLM.Model = model
	}
	if key := os.Getenv(APIKeyEnv); key != "" {
		config.LLM.APIKey = key
	}
}

// EnsureUserConfig writes a default user config when none exists yet.
func (l *Loader) EnsureUserConfig() error {
	path := l.userConfigPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	config := DefaultConfig()
	if err := config.SaveToFile(path); err != nil {
		return err
	}
	l.logger.Info("Created default user config", slog.String("path", path))
	return nil
}

func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig walks from the working directory to the filesystem
// root looking for the project config file.
func (l *Loader) findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
