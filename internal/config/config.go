// Package config handles Carlos configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/carlos/config.yaml, /etc/carlos/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "carlos", "config.yaml"))
	}

	paths = append(paths, "/etc/carlos/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Carlos configuration.
type Config struct {
	General  GeneralConfig `yaml:"general"`
	Ollama   OllamaConfig  `yaml:"ollama"`
	TTS      TTSConfig     `yaml:"tts"`
	Audio    AudioConfig   `yaml:"audio"`
	LogLevel string        `yaml:"log_level"`
}

// GeneralConfig covers assistant-wide behavior.
type GeneralConfig struct {
	// SystemPrompt is prepended to every prompt sent to the model.
	SystemPrompt string `yaml:"system_prompt"`
	// MaxHistoryTurns caps the conversation window, measured in turns
	// (one user or assistant message each). Oldest turns evict first.
	MaxHistoryTurns int `yaml:"max_history_turns"`
	// SetupDir is where the setup_completed.flag marker lives.
	// Defaults to the current directory.
	SetupDir string `yaml:"setup_dir"`
	// ArchivePath, when set, enables the SQLite conversation archive.
	ArchivePath string `yaml:"archive_path"`
}

// OllamaConfig defines the language-model service connection.
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// TimeoutSec bounds a single generation request.
	TimeoutSec int `yaml:"timeout_sec"`
	// UnloadTimeoutSec bounds each unload fallback call.
	UnloadTimeoutSec int     `yaml:"unload_timeout_sec"`
	MaxTokens        int     `yaml:"max_tokens"`
	Temperature      float64 `yaml:"temperature"`
}

// TTSConfig defines the speech-synthesis service connection.
type TTSConfig struct {
	Enabled    bool    `yaml:"enabled"`
	BaseURL    string  `yaml:"base_url"`
	Voice      string  `yaml:"voice"`
	Volume     float64 `yaml:"volume"`
	TimeoutSec int     `yaml:"timeout_sec"`
	// MaxSpeechLength truncates cleaned speech text, in characters.
	MaxSpeechLength int `yaml:"max_speech_length"`
	// InstallDir is where the TTS server software lives, for the
	// startup strategies that launch it directly.
	InstallDir string `yaml:"install_dir"`
}

// AudioConfig defines local playback settings.
type AudioConfig struct {
	// Player overrides automatic playback command discovery
	// (afplay, paplay, aplay, ffplay, mpv).
	Player string `yaml:"player"`
	// TempDir is where synthesized audio files are written before playback.
	TempDir string `yaml:"temp_dir"`
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{
		TTS: TTSConfig{Enabled: true},
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero-valued fields. Called after unmarshal so an
// explicit partial config still gets a working setup.
func (c *Config) applyDefaults() {
	if c.General.SystemPrompt == "" {
		c.General.SystemPrompt = "You are Carlos, a helpful and friendly AI assistant. " +
			"You provide clear, concise responses while maintaining a warm personality. " +
			"You are knowledgeable but humble, and always try to be helpful."
	}
	if c.General.MaxHistoryTurns <= 0 {
		c.General.MaxHistoryTurns = 40
	}
	if c.General.SetupDir == "" {
		c.General.SetupDir = "."
	}
	if c.Ollama.BaseURL == "" {
		c.Ollama.BaseURL = "http://localhost:11434"
	}
	if c.Ollama.Model == "" {
		c.Ollama.Model = "gpt-oss:20b"
	}
	if c.Ollama.TimeoutSec <= 0 {
		c.Ollama.TimeoutSec = 30
	}
	if c.Ollama.UnloadTimeoutSec <= 0 {
		c.Ollama.UnloadTimeoutSec = 10
	}
	if c.Ollama.MaxTokens <= 0 {
		c.Ollama.MaxTokens = 500
	}
	if c.Ollama.Temperature == 0 {
		c.Ollama.Temperature = 0.7
	}
	if c.TTS.BaseURL == "" {
		c.TTS.BaseURL = "http://localhost:7851"
	}
	if c.TTS.Voice == "" {
		c.TTS.Voice = "default"
	}
	if c.TTS.Volume == 0 {
		c.TTS.Volume = 0.8
	}
	if c.TTS.TimeoutSec <= 0 {
		c.TTS.TimeoutSec = 10
	}
	if c.TTS.MaxSpeechLength <= 0 {
		c.TTS.MaxSpeechLength = 1000
	}
	if c.TTS.InstallDir == "" {
		c.TTS.InstallDir = "alltalk_tts"
	}
	if c.Audio.TempDir == "" {
		c.Audio.TempDir = "temp_audio"
	}
}
