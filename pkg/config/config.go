// Package config loads drumstem2midi settings from file, environment and flags
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. DRUMSTEM_MIDI_BPM
const EnvPrefix = "DRUMSTEM"

// Settings holds all configuration
type Settings struct {
	Log struct {
		Level     string `mapstructure:"level"`
		Format    string `mapstructure:"format"`
		File      string `mapstructure:"file"`
		MaxSizeMB int    `mapstructure:"maxsizemb"`
	} `mapstructure:"log"`

	Onset struct {
		HopLength int     `mapstructure:"hoplength"`
		NFFT      int     `mapstructure:"nfft"`
		NMels     int     `mapstructure:"nmels"`
		FMax      float64 `mapstructure:"fmax"`
		Delta     float64 `mapstructure:"delta"`
		Wait      int     `mapstructure:"wait"`
	} `mapstructure:"onset"`

	Features struct {
		Height     int     `mapstructure:"height"`
		Width      int     `mapstructure:"width"`
		WindowSize float64 `mapstructure:"windowsize"`
		PreOffset  float64 `mapstructure:"preoffset"`
		NMels      int     `mapstructure:"nmels"`
		FMax       float64 `mapstructure:"fmax"`
		NFFT       int     `mapstructure:"nfft"`
		HopLength  int     `mapstructure:"hoplength"`
	} `mapstructure:"features"`

	Classifier string `mapstructure:"classifier"`

	MIDI struct {
		Enabled      bool    `mapstructure:"enabled"`
		BPM          float64 `mapstructure:"bpm"` // 0 estimates tempo from onsets
		DefaultBPM   float64 `mapstructure:"defaultbpm"`
		TicksPerBeat int     `mapstructure:"ticksperbeat"`
		Velocity     int     `mapstructure:"velocity"`
		NoteLength   int     `mapstructure:"notelength"`
	} `mapstructure:"midi"`

	Server struct {
		Port      int    `mapstructure:"port"`
		UploadDir string `mapstructure:"uploaddir"`
	} `mapstructure:"server"`

	Jobs struct {
		Workers   int           `mapstructure:"workers"`
		QueueSize int           `mapstructure:"queuesize"`
		StatusTTL time.Duration `mapstructure:"statusttl"`
	} `mapstructure:"jobs"`

	Batch struct {
		Concurrency int `mapstructure:"concurrency"`
	} `mapstructure:"batch"`

	Watch struct {
		Pattern  string        `mapstructure:"pattern"`
		Debounce time.Duration `mapstructure:"debounce"`
	} `mapstructure:"watch"`
}

// New returns a viper instance with defaults and environment overrides set
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ConfigPaths returns the directories searched for drumstem2midi.yaml
func ConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "drumstem2midi"))
	}
	return paths
}

// Load reads configFile, or drumstem2midi.yaml from the default paths when
// configFile is empty, and returns validated settings. A missing default
// config file is not an error.
func Load(v *viper.Viper, configFile string) (*Settings, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("drumstem2midi")
		v.SetConfigType("yaml")
		for _, path := range ConfigPaths() {
			v.AddConfigPath(path)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Settings, error) {
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	return settings, nil
}

// Defaults returns validated settings built from the defaults alone. It
// panics if the built-in defaults do not decode or validate.
func Defaults() *Settings {
	v := viper.New()
	SetDefaults(v)
	settings, err := decode(v)
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return settings
}
