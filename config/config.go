package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"fatgo/host"
	"fatgo/logger"
	"fatgo/runner"
)

// DefaultPath is the config file looked up in the working directory
const DefaultPath = "fat.yml"

// Config is the full program configuration
type Config struct {
	Workspace       string         `yaml:"workspace"`
	Stream          bool           `yaml:"stream"`           // stream tool output to the terminal
	VerifyArtifacts bool           `yaml:"verify_artifacts"` // stat stage inputs and outputs
	Render          bool           `yaml:"render"`           // run the optional graph rendering stage
	Commands        CommandsConfig `yaml:"commands"`
	Viewer          ViewerConfig   `yaml:"viewer"`
	Report          ReportConfig   `yaml:"report"`
	Server          ServerConfig   `yaml:"server"`
	Database        DatabaseConfig `yaml:"database"`
	Schedule        *host.Schedule `yaml:"schedule,omitempty"`
	Log             logger.Config  `yaml:"log"`
}

// CommandsConfig overrides the stage command templates
type CommandsConfig struct {
	Disassemble string `yaml:"disassemble"`
	Render      string `yaml:"render"`
	Report      string `yaml:"report"`
}

// ViewerConfig configures the control flow graph viewer
type ViewerConfig struct {
	Dir         string `yaml:"dir"`
	OpenCommand string `yaml:"open_command"` // e.g. xdg-open {{quote .Path}}
}

// ReportConfig configures how the report is opened on success
type ReportConfig struct {
	OpenCommand string `yaml:"open_command"` // e.g. code {{quote .Path}}
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Port string `yaml:"port"`
}

// DatabaseConfig configures run history
type DatabaseConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		VerifyArtifacts: true,
		Render:          true,
		Viewer:          ViewerConfig{Dir: filepath.Join("data", "viewer")},
		Server:          ServerConfig{Port: "8080"},
		Database:        DatabaseConfig{Path: filepath.Join("data", "fat.db")},
		Log:             logger.Config{Level: "info", Format: "console", Output: "stderr"},
	}
}

// Load reads .env, the YAML file at path and FAT_* environment overrides.
// A missing file is not an error when path is the default location.
func Load(path string) (*Config, error) {
	// Load .env file if it exists (ignore errors if it doesn't)
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
		// no config file, defaults apply
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Workspace = getEnv("FAT_WORKSPACE", c.Workspace)
	c.Server.Port = getEnv("FAT_PORT", getEnv("PORT", c.Server.Port))
	c.Database.Path = getEnv("FAT_DB", c.Database.Path)
	c.Log.Level = getEnv("FAT_LOG_LEVEL", c.Log.Level)
	c.Viewer.OpenCommand = getEnv("FAT_VIEWER_OPEN", c.Viewer.OpenCommand)
	c.Report.OpenCommand = getEnv("FAT_REPORT_OPEN", c.Report.OpenCommand)
}

// Validate checks command templates and the schedule
func (c *Config) Validate() error {
	commands := map[string]string{
		"disassemble": c.Commands.Disassemble,
		"render":      c.Commands.Render,
		"report":      c.Commands.Report,
	}
	for name, command := range commands {
		if command == "" {
			continue
		}
		if err := runner.ValidateCommand(command); err != nil {
			return fmt.Errorf("invalid %s command: %w", name, err)
		}
	}
	if c.Schedule != nil {
		if err := c.Schedule.Validate(); err != nil {
			return fmt.Errorf("invalid schedule: %w", err)
		}
	}
	return nil
}

// Stages builds the pipeline described by the configuration
func (c *Config) Stages() []runner.Stage {
	return runner.DefaultStages(runner.StageCommands{
		Disassemble: c.Commands.Disassemble,
		Render:      c.Commands.Render,
		Report:      c.Commands.Report,
	}, c.Render)
}

// getEnv gets environment variable or returns default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
