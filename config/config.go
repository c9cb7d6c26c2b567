package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the top-level application configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	DB            DBConfig            `mapstructure:"db"`
	Tracking      TrackingConfig      `mapstructure:"tracking"`
	Detector      DetectorConfig      `mapstructure:"detector"`
	MQTT          MQTTConfig          `mapstructure:"mqtt"`
	Cleanup       CleanupConfig       `mapstructure:"cleanup"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	DataDir     string `mapstructure:"data_dir"`
	SnapshotDir string `mapstructure:"snapshot_dir"`
	SnapshotURL string `mapstructure:"snapshot_url"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig holds database settings.
type DBConfig struct {
	File string `mapstructure:"file"` // SQLite database file
}

// TrackingConfig holds the session tracking engine parameters.
//
// ProximityThreshold is expressed in the detector's pixel coordinate space;
// the default corresponds to roughly one face width at the detector's
// working resolution. SessionTimeout is how long a session may go unseen
// before the expiry sweep finalizes it.
type TrackingConfig struct {
	ProximityThreshold float64       `mapstructure:"proximity_threshold"`
	SessionTimeout     time.Duration `mapstructure:"session_timeout"`
	SnapshotEnabled    bool          `mapstructure:"snapshot_enabled"`
}

// DetectorConfig holds settings for the upstream inference service.
type DetectorConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	URL            string  `mapstructure:"url"`
	APIKey         string  `mapstructure:"api_key"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MinConfidence  float64 `mapstructure:"min_confidence"`
}

// MQTTConfig holds settings for the MQTT client connection.
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	ClientID    string `mapstructure:"client_id"`
	EventTopic  string `mapstructure:"event_topic"`  // inbound camera events
	VisitTopic  string `mapstructure:"visit_topic"`  // outbound finalized visits
	PersonOnly  bool   `mapstructure:"person_only"`  // skip non-person camera events
	SnapshotURL string `mapstructure:"snapshot_url"` // camera API base URL for event snapshots
}

// CleanupConfig holds retention settings for visits and snapshots.
type CleanupConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// NotificationsConfig controls which events are pushed to dashboard clients.
type NotificationsConfig struct {
	CycleResults bool `mapstructure:"cycle_results"`
	Visits       bool `mapstructure:"visits"`
}

// Load reads configuration from file, environment variables and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Environment variables override file values
	v.AutomaticEnv()
	v.SetEnvPrefix("FACTORY_SAFETY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// Validate rejects configurations the tracking engine cannot run with.
func (c *Config) Validate() error {
	if c.Tracking.ProximityThreshold <= 0 {
		return fmt.Errorf("tracking.proximity_threshold must be positive, got %v", c.Tracking.ProximityThreshold)
	}
	if c.Tracking.SessionTimeout <= 0 {
		return fmt.Errorf("tracking.session_timeout must be positive, got %v", c.Tracking.SessionTimeout)
	}
	if c.Detector.Enabled && c.Detector.URL == "" {
		return fmt.Errorf("detector.url is required when the detector is enabled")
	}
	return nil
}

// setDefaults establishes defaults for every configuration key.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.data_dir", "/data")
	v.SetDefault("server.snapshot_dir", "/data/snapshots")
	v.SetDefault("server.snapshot_url", "/snapshots")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/data/logs/factory-safety.log")

	// DB defaults
	v.SetDefault("db.file", "/data/factory-safety.db")

	// Tracking defaults. The proximity threshold and session timeout are
	// deployment-specific tuning inputs; these values suit a 640x480
	// detector resolution and a lobby-style camera.
	v.SetDefault("tracking.proximity_threshold", 75.0)
	v.SetDefault("tracking.session_timeout", 30*time.Second)
	v.SetDefault("tracking.snapshot_enabled", true)

	// Detector defaults
	v.SetDefault("detector.enabled", false)
	v.SetDefault("detector.timeout_seconds", 30)
	v.SetDefault("detector.min_confidence", 0.5)

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "factory-safety-go")
	v.SetDefault("mqtt.event_topic", "cameras/events")
	v.SetDefault("mqtt.visit_topic", "factory-safety/visits")
	v.SetDefault("mqtt.person_only", true)

	// Cleanup defaults
	v.SetDefault("cleanup.retention_days", 30)

	// Notification defaults
	v.SetDefault("notifications.cycle_results", true)
	v.SetDefault("notifications.visits", true)
}

// ensureDirectories makes sure all required directories exist.
func ensureDirectories(cfg *Config) error {
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	if err := os.MkdirAll(cfg.Server.SnapshotDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	if cfg.Log.File != "" {
		logDir := filepath.Dir(cfg.Log.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	if cfg.DB.File != "" {
		dbDir := filepath.Dir(cfg.DB.File)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
