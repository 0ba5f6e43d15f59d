// Package conf defines the application settings and loads them from the
// configuration file and environment variables.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/plantakeoff/autocount-go/internal/errors"
)

// MainSettings contains general application settings.
type MainSettings struct {
	Name     string // instance name, used in logs
	LogLevel string // trace, debug, info, warn, error
	LogPath  string // directory for rotated service log files
}

// HTTPSettings contains the API server settings.
type HTTPSettings struct {
	Host string
	Port int
}

// SQLiteSettings contains SQLite database settings.
type SQLiteSettings struct {
	Enabled bool
	Path    string
}

// MySQLSettings contains MySQL database settings.
type MySQLSettings struct {
	Enabled  bool
	Username string
	Password string
	Database string
	Host     string
	Port     int
}

// OutputSettings selects the database backend.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// PagesSettings configures where page images are read from.
type PagesSettings struct {
	Dir      string        // directory holding <page_id>.png files
	CacheTTL time.Duration // decoded image cache lifetime
}

// VisionSettings configures the external vision-capable model used by the
// semantic matcher.
type VisionSettings struct {
	Enabled  bool
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// TakeoffSettings configures the downstream takeoff system measurements are
// written to. With no endpoint configured measurements are appended to a
// local JSON-lines file instead.
type TakeoffSettings struct {
	Endpoint string // measurement creation endpoint, empty for file sink
	APIKey   string
	Timeout  time.Duration
	Path     string // file sink path
}

// DetectionSettings holds the default parameters for similarity detection.
// Per-session values override these.
type DetectionSettings struct {
	Threshold         float64       // similarity threshold [0,1]
	ScaleTolerance    float64       // fractional, 0.2 = +-20%
	RotationTolerance float64       // degrees
	ScaleSteps        int           // scale samples across the tolerance range
	RotationSteps     int           // rotation samples across the tolerance range
	MaxCandidates     int           // raw candidate cap per run
	SuppressionIoU    float64       // NMS overlap threshold
	TemplatePadding   float64       // template crop padding fraction
	RunTimeout        time.Duration // hard limit for a single detection run
}

// Settings is the root configuration struct.
type Settings struct {
	Debug     bool
	Main      MainSettings
	HTTP      HTTPSettings
	Output    OutputSettings
	Pages     PagesSettings
	Vision    VisionSettings
	Takeoff   TakeoffSettings
	Detection DetectionSettings
}

// Load reads the configuration file and environment variables into a new
// Settings instance.
func Load() (*Settings, error) {
	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/autocount")
	viper.AddConfigPath("/etc/autocount")

	viper.SetEnvPrefix("autocount")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Defaults plus environment are a valid configuration.
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// ValidateSettings checks settings for values that cannot possibly work.
func ValidateSettings(s *Settings) error {
	if s.Detection.Threshold < 0 || s.Detection.Threshold > 1 {
		return errors.Newf("detection.threshold %f out of range [0,1]", s.Detection.Threshold).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if s.Detection.ScaleSteps < 1 || s.Detection.RotationSteps < 1 {
		return errors.Newf("detection sample counts must be at least 1").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if s.Output.SQLite.Enabled && s.Output.MySQL.Enabled {
		return errors.Newf("only one database backend may be enabled").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}
