package am

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/teranos/remit/errors"
)

var globalConfig *Config
var viperInstance *viper.Viper

// Load reads the remit configuration using Viper
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	config, err := LoadWithViper(v)
	if err != nil {
		return nil, err
	}

	globalConfig = config
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() *viper.Viper {
	return initViper()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	// Defaults, but no environment binding for an explicit file
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	return LoadWithViper(v)
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viperInstance = nil
}

// initViper initializes Viper with configuration sources and defaults
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix("REMIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindSensitiveEnvVars(v)

	SetDefaults(v)

	// Precedence: system -> user -> project -> env vars
	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// FindProjectConfig searches for am.toml by walking up the directory tree.
// Returns the path to the first config file found, or empty string if none found
func FindProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		amPath := filepath.Join(dir, "am.toml")
		if _, err := os.Stat(amPath); err == nil {
			return amPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// UserConfigPath returns ~/.remit/am.toml
func UserConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".remit", "am.toml")
}

// mergeConfigFiles merges configuration files in precedence order
// (lowest to highest): system < user < project < env vars
func mergeConfigFiles(v *viper.Viper) {
	configPaths := []string{"/etc/remit/am.toml"}
	if user := UserConfigPath(); user != "" {
		configPaths = append(configPaths, user)
	}
	if project := FindProjectConfig(); project != "" {
		configPaths = append(configPaths, project)
	}

	for _, configPath := range configPaths {
		if _, err := os.Stat(configPath); err != nil {
			continue
		}
		tempViper := viper.New()
		tempViper.SetConfigFile(configPath)
		tempViper.SetConfigType("toml")

		if err := tempViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(tempViper.AllSettings()); err != nil {
				continue
			}
		}
	}
}

// ActiveConfigPath returns the highest-precedence config file that exists,
// or the empty string when running on defaults only.
func ActiveConfigPath() string {
	if project := FindProjectConfig(); project != "" {
		return project
	}
	if user := UserConfigPath(); user != "" {
		if _, err := os.Stat(user); err == nil {
			return user
		}
	}
	if _, err := os.Stat("/etc/remit/am.toml"); err == nil {
		return "/etc/remit/am.toml"
	}
	return ""
}
