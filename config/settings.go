// Package config persists application settings as TOML under the
// application config directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const settingsFile = "settings.toml"

// Settings is the persisted application configuration.
type Settings struct {
	LLM   LLMSettings  `toml:"llm" json:"llm"`
	Paths PathSettings `toml:"paths" json:"paths"`
	UI    UISettings   `toml:"ui" json:"ui"`
}

// LLMSettings configures the local LLM server the worker talks to.
type LLMSettings struct {
	ServerURL   string  `toml:"server_url" json:"server_url"`
	ModelName   string  `toml:"model_name" json:"model_name"`
	ContextSize int     `toml:"context_size" json:"context_size"`
	Temperature float64 `toml:"temperature" json:"temperature"`
	MaxTokens   int     `toml:"max_tokens" json:"max_tokens"`
}

// PathSettings holds filesystem locations.
type PathSettings struct {
	PythonPath   string `toml:"python_path" json:"python_path"`
	ScriptsDir   string `toml:"scripts_dir" json:"scripts_dir"`
	TemplatesDir string `toml:"templates_dir" json:"templates_dir"`
	OutputDir    string `toml:"output_dir" json:"output_dir"`
}

// UISettings holds frontend preferences; the daemon only stores them.
type UISettings struct {
	Theme       string `toml:"theme" json:"theme"`
	AutoSave    bool   `toml:"auto_save" json:"auto_save"`
	ShowConsole bool   `toml:"show_console" json:"show_console"`
}

// Default returns the out-of-the-box settings.
func Default() Settings {
	return Settings{
		LLM: LLMSettings{
			ServerURL:   "http://localhost:8080",
			ModelName:   "Floppa-12B-Gemma3-Uncensored.Q4_K_S.gguf",
			ContextSize: 8192,
			Temperature: 0.1,
			MaxTokens:   4096,
		},
		Paths: PathSettings{
			PythonPath: "python3",
		},
		UI: UISettings{
			Theme:    "dark",
			AutoSave: true,
		},
	}
}

// Load reads settings from dir, returning defaults when no file exists yet.
func Load(dir string) (Settings, error) {
	path := filepath.Join(dir, settingsFile)
	s := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return s, nil
	}
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return Settings{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	return s, nil
}

// Save writes settings to dir, creating it if needed.
func Save(dir string, s Settings) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	path := filepath.Join(dir, settingsFile)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(s); err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	return nil
}
