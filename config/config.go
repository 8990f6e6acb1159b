package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix = "SCRIBE"
	fileName  = "scribe"

	BackendMic  = "mic"
	BackendTone = "tone"
	BackendWAV  = "wav"
)

type Config struct {
	ServerURL     string        `mapstructure:"server_url" yaml:"server_url"`
	CallID        string        `mapstructure:"call_id" yaml:"call_id,omitempty"`
	CustomerID    string        `mapstructure:"customer_id" yaml:"customer_id,omitempty"`
	Device        string        `mapstructure:"device" yaml:"device,omitempty"`
	RetryInterval time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	MetricsAddr   string        `mapstructure:"metrics_addr" yaml:"metrics_addr,omitempty"`
	LogPath       string        `mapstructure:"log_path" yaml:"log_path,omitempty"`
	// Backend picks the audio source: the microphone, a generated tone, or
	// a WAV file given by WAVPath.
	Backend string `mapstructure:"backend" yaml:"backend"`
	WAVPath string `mapstructure:"wav_path" yaml:"wav_path,omitempty"`
}

func Default() *Config {
	return &Config{
		ServerURL:     "http://localhost:8000",
		RetryInterval: 5 * time.Second,
		Backend:       BackendMic,
	}
}

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"server-url":     "server_url",
	"call-id":        "call_id",
	"customer-id":    "customer_id",
	"device":         "device",
	"retry-interval": "retry_interval",
	"metrics-addr":   "metrics_addr",
	"logpath":        "log_path",
	"backend":        "backend",
	"wav":            "wav_path",
}

// Load resolves the configuration from, lowest priority first: defaults,
// the config file, a .env file in the working directory, SCRIBE_*
// environment variables, then any of flags that were set. cfgFile may be
// empty to search the user config dir and the working directory. It
// returns the config and the path of the file that was read, if any.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, string, error) {
	return load(cfgFile, flags, false)
}

// LoadAllowMissing is Load for a config file that may not exist yet, as
// when it is about to be written. A missing cfgFile is treated as empty.
func LoadAllowMissing(cfgFile string, flags *pflag.FlagSet) (*Config, string, error) {
	return load(cfgFile, flags, true)
}

func load(cfgFile string, flags *pflag.FlagSet, allowMissing bool) (*Config, string, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	def := Default()
	v.SetDefault("server_url", def.ServerURL)
	v.SetDefault("call_id", "")
	v.SetDefault("customer_id", "")
	v.SetDefault("device", "")
	v.SetDefault("retry_interval", def.RetryInterval)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_path", "")
	v.SetDefault("backend", def.Backend)
	v.SetDefault("wav_path", "")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(fileName)
		v.SetConfigType("yaml")
		if dir, err := Dir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	used := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
		case allowMissing && errors.Is(err, fs.ErrNotExist):
		default:
			return nil, "", fmt.Errorf("reading config: %w", err)
		}
	} else {
		used = v.ConfigFileUsed()
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, "", err
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, "", fmt.Errorf("decoding config: %w", err)
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	return cfg, used, nil
}

// Dir is where scribe.yaml lives by default.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "scribe"), nil
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []error

	if c.ServerURL == "" {
		errs = append(errs, errors.New("server_url is required"))
	} else if u, err := url.Parse(c.ServerURL); err != nil {
		errs = append(errs, fmt.Errorf("server_url %q is not a valid URL: %w", c.ServerURL, err))
	} else {
		switch strings.ToLower(u.Scheme) {
		case "http", "https", "ws", "wss":
		default:
			errs = append(errs, fmt.Errorf("server_url scheme must be http, https, ws or wss, got %q", u.Scheme))
		}
		if u.Host == "" {
			errs = append(errs, fmt.Errorf("server_url %q has no host", c.ServerURL))
		}
	}

	if c.RetryInterval <= 0 {
		errs = append(errs, fmt.Errorf("retry_interval must be positive, got %v", c.RetryInterval))
	}

	switch c.Backend {
	case BackendMic, BackendTone:
	case BackendWAV:
		if c.WAVPath == "" {
			errs = append(errs, errors.New("backend wav needs wav_path"))
		}
	default:
		errs = append(errs, fmt.Errorf("backend %q is not valid (use mic, tone or wav)", c.Backend))
	}

	return errors.Join(errs...)
}

// Write renders the config as YAML.
func (c *Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

// Save writes the config to path, creating its directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := c.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
