package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "pagefuse"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "PAGEFUSE"
)

// Loader reads a Config from a file, PAGEFUSE_* environment variables and
// the defaults of DefaultConfig.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance so that cobra
// flag bindings apply.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader on an isolated viper instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load searches the standard paths for pagefuse.yaml. A missing file is not
// an error.
func (l *Loader) Load() (*Config, error) {
	return l.read("")
}

// LoadWithFile reads configFile, which must exist.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configFile)
	}
	return l.read(configFile)
}

func (l *Loader) read(configFile string) (*Config, error) {
	if configFile != "" {
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		for _, p := range GetConfigSearchPaths() {
			l.v.AddConfigPath(p)
		}
	}

	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	l.v.AutomaticEnv()

	if err := applyDefaults(l.v); err != nil {
		return nil, err
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// applyDefaults registers every key of DefaultConfig as a viper default, so
// environment variables resolve even for keys absent from the file.
func applyDefaults(v *viper.Viper) error {
	raw, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("decode defaults: %w", err)
	}
	setDefaultTree(v, "", tree)
	return nil
}

func setDefaultTree(v *viper.Viper, prefix string, tree map[string]interface{}) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]interface{}); ok {
			setDefaultTree(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// GetConfigFileUsed returns the path of the config file read, if any.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// Settings returns the raw key/value tree viper resolved, including values
// that came from bound flags.
func (l *Loader) Settings() map[string]interface{} {
	return l.v.AllSettings()
}

// LogConfigInfo logs where configuration was looked for and which file won.
func (l *Loader) LogConfigInfo(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("configuration sources",
		"file", l.GetConfigFileUsed(),
		"search_paths", GetConfigSearchPaths(),
		"env_prefix", EnvPrefix)
}

// GenerateDefaultConfigFile writes DefaultConfig to filename
// (pagefuse.yaml when empty).
func GenerateDefaultConfigFile(filename string) error {
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	v := viper.New()
	if err := applyDefaults(v); err != nil {
		return err
	}
	return v.WriteConfigAs(filename)
}

// GetConfigSearchPaths returns the directories searched for pagefuse.yaml,
// in priority order.
func GetConfigSearchPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home, filepath.Join(home, ".config", "pagefuse"))
	}
	if dir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		paths = append(paths, filepath.Join(dir, "pagefuse"))
	}
	return append(paths, "/etc/pagefuse")
}
