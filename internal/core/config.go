package core

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"github.com/jo-hoe/imagecapture/internal/backend/imaging"
	"gopkg.in/yaml.v3"
)

const appDirName = "imagecapture"

type Storage struct {
	// CacheDir backs the temp flow; the OS may clear it.
	CacheDir string `yaml:"cacheDir"`
	// FilesDir is private app storage; the folder flow writes to FilesDir/images.
	FilesDir string `yaml:"filesDir"`
}

type Database struct {
	Type             string `yaml:"type" validate:"required,oneof=sqlite"`
	ConnectionString string `yaml:"connectionString" validate:"required"`
}

type Grants struct {
	Type     string        `yaml:"type" validate:"oneof=memory redis"`
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"min=0"`
	TTL      time.Duration `yaml:"ttl"`
}

type Permission struct {
	// Mode is prompt, grant or deny.
	Mode string `yaml:"mode" validate:"oneof=prompt grant deny"`
	// Timeout is how long a prompt waits for an answer before it counts as
	// a denial.
	Timeout time.Duration `yaml:"timeout"`
}

type Capture struct {
	// Mode is browser or simulated.
	Mode           string `yaml:"mode" validate:"oneof=browser simulated"`
	SimulatedImage string `yaml:"simulatedImage"`
	Width          int    `yaml:"width" validate:"min=1"`
	Height         int    `yaml:"height" validate:"min=1"`
}

type ServiceConfig struct {
	Port            int                     `yaml:"port" validate:"min=0,max=65535"`
	LogLevel        string                  `yaml:"logLevel" validate:"oneof=debug info warn error"`
	ApplicationID   string                  `yaml:"applicationId" validate:"required"`
	Authority       string                  `yaml:"authority" validate:"required"`
	Storage         Storage                 `yaml:"storage"`
	Database        Database                `yaml:"database"`
	Grants          Grants                  `yaml:"grants"`
	Permission      Permission              `yaml:"permission"`
	Capture         Capture                 `yaml:"capture"`
	ThumbnailWidth  int                     `yaml:"thumbnailWidth" validate:"min=0"`
	EventsKeepAlive time.Duration           `yaml:"eventsKeepAlive" validate:"min=0"`
	Display         []imaging.CommandConfig `yaml:"display"`
}

// LoadConfig loads configuration from the specified YAML file. ${VAR}
// references are expanded from the environment before parsing.
func LoadConfig(configPath string) (*ServiceConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	config, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
	}
	return config, nil
}

// ParseConfig parses YAML, fills in defaults and validates the result.
func ParseConfig(data []byte) (*ServiceConfig, error) {
	var config ServiceConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// DefaultConfig is the configuration used when no file is given.
func DefaultConfig() *ServiceConfig {
	config := &ServiceConfig{}
	config.applyDefaults()
	return config
}

func (c *ServiceConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Grants.Type == "redis" && c.Grants.Address == "" {
		return fmt.Errorf("invalid configuration: grants.address is required for the redis grant store")
	}
	if c.Grants.TTL < time.Second {
		return fmt.Errorf("invalid configuration: grants.ttl must be at least 1s, got %s", c.Grants.TTL)
	}
	if c.Permission.Timeout < time.Second {
		return fmt.Errorf("invalid configuration: permission.timeout must be at least 1s, got %s", c.Permission.Timeout)
	}
	if err := validateCommands(c.Display); err != nil {
		return fmt.Errorf("invalid display configuration: %w", err)
	}
	return nil
}

func (c *ServiceConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
	if c.ApplicationID == "" {
		c.ApplicationID = "com.example.imagecapture"
	}
	if c.Authority == "" {
		c.Authority = c.ApplicationID + ".provider"
	}

	if c.Storage.CacheDir == "" {
		c.Storage.CacheDir = userDir(os.UserCacheDir, appDirName)
	}
	if c.Storage.FilesDir == "" {
		c.Storage.FilesDir = userDir(os.UserConfigDir, appDirName, "files")
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.ConnectionString == "" {
		c.Database.ConnectionString = filepath.Join(filepath.Dir(c.Storage.FilesDir), "permissions.db")
	}

	if c.Grants.Type == "" {
		c.Grants.Type = "memory"
	}
	if c.Grants.TTL == 0 {
		c.Grants.TTL = 5 * time.Minute
	}

	if c.Permission.Mode == "" {
		c.Permission.Mode = "prompt"
	}
	if c.Permission.Timeout == 0 {
		c.Permission.Timeout = 2 * time.Minute
	}
	if c.Capture.Mode == "" {
		c.Capture.Mode = "browser"
	}
	if c.Capture.Width == 0 {
		c.Capture.Width = 640
	}
	if c.Capture.Height == 0 {
		c.Capture.Height = 480
	}

	if c.ThumbnailWidth == 0 {
		c.ThumbnailWidth = 480
	}
	if c.EventsKeepAlive == 0 {
		c.EventsKeepAlive = 15 * time.Second
	}
}

// SlogLevel maps LogLevel to a slog level.
func (c *ServiceConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ImagesDir is where the folder flow stores its picture.
func (c *ServiceConfig) ImagesDir() string {
	return filepath.Join(c.Storage.FilesDir, "images")
}

func userDir(base func() (string, error), elem ...string) string {
	dir, err := base()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(append([]string{dir}, elem...)...)
}

// validateCommands ensures all command configurations have required fields
func validateCommands(commands []imaging.CommandConfig) error {
	seenNames := make(map[string]bool)

	for i, cmd := range commands {
		if cmd.Name == "" {
			return fmt.Errorf("command at index %d has empty name", i)
		}
		if seenNames[cmd.Name] {
			return fmt.Errorf("duplicate command name: %s", cmd.Name)
		}
		seenNames[cmd.Name] = true
	}

	return nil
}
